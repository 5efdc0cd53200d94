package normalize

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/chatarchive/internal/chat"
)

// ErrMalformedEvent is returned for events missing required protocol fields.
var ErrMalformedEvent = errors.New("malformed event")

// Drop reasons, used as metric labels and in Stats.
const (
	ReasonEmptyCommand  = "empty_command"
	ReasonBadTimestamp  = "bad_timestamp"
	ReasonMissingParams = "missing_params"
	ReasonUnencodable   = "unencodable"
)

// Event is one raw protocol event as delivered by the connection.
type Event struct {
	Command string
	Host    string
	Params  []string
	Sender  string
	User    string
	Tags    map[string]string

	// Received is the local receipt time on this node.
	Received chat.Millis
}

// Class is the timestamp semantics of an event.
type Class int

const (
	// ClassExact events carry a server timestamp.
	ClassExact Class = iota + 1
	// ClassImplied events are ordered by the server but carry no timestamp.
	ClassImplied
	// ClassDelayed events are known to be delivered late (presence).
	ClassDelayed
)

func (c Class) String() string {
	switch c {
	case ClassExact:
		return "exact"
	case ClassImplied:
		return "implied"
	case ClassDelayed:
		return "delayed"
	default:
		return "unknown"
	}
}

// ServerTimeTag is the tag holding the server timestamp in milliseconds.
const ServerTimeTag = "tmi-sent-ts"

// minParams is the number of params a command needs to be usable.
var minParams = map[string]int{
	"PRIVMSG":    2,
	"USERNOTICE": 1,
	"CLEARCHAT":  1,
	"CLEARMSG":   1,
	"JOIN":       1,
	"PART":       1,
}

// delayed lists the presence commands subject to late delivery.
var delayed = map[string]bool{
	"JOIN": true,
	"PART": true,
}

// MalformedError carries the drop reason for a rejected event.
type MalformedError struct {
	Reason string
	Detail string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrMalformedEvent, e.Reason, e.Detail)
}

func (e *MalformedError) Unwrap() error { return ErrMalformedEvent }

// Classify returns the timestamp class of ev and, for ClassExact, its
// server time.
func Classify(ev Event) (Class, chat.Millis, error) {
	if ev.Command == "" {
		return 0, 0, &MalformedError{Reason: ReasonEmptyCommand, Detail: "no command"}
	}
	if n := minParams[ev.Command]; len(ev.Params) < n {
		return 0, 0, &MalformedError{
			Reason: ReasonMissingParams,
			Detail: fmt.Sprintf("%s needs %d params, got %d", ev.Command, n, len(ev.Params)),
		}
	}

	if raw, ok := ev.Tags[ServerTimeTag]; ok {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, 0, &MalformedError{Reason: ReasonBadTimestamp, Detail: fmt.Sprintf("%s=%q", ServerTimeTag, raw)}
		}
		return ClassExact, ts, nil
	}

	if delayed[ev.Command] {
		return ClassDelayed, 0, nil
	}
	return ClassImplied, 0, nil
}

func (ev Event) payload() chat.Payload {
	return chat.Payload{
		Command: ev.Command,
		Host:    ev.Host,
		Params:  ev.Params,
		Sender:  ev.Sender,
		User:    ev.User,
		Tags:    ev.Tags,
	}
}
