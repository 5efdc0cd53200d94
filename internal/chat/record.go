package chat

import (
	"maps"
	"slices"
	"time"

	"github.com/roach88/chatarchive/internal/ir"
)

// Millis is a Unix timestamp or duration in milliseconds.
type Millis = int64

// Kind distinguishes the two record variants.
type Kind int

const (
	// Identified records carry an exact timestamp and a stable id.
	Identified Kind = iota + 1
	// Ranged records carry a non-empty half-open interval and no id.
	Ranged
)

func (k Kind) String() string {
	switch k {
	case Identified:
		return "identified"
	case Ranged:
		return "ranged"
	default:
		return "unknown"
	}
}

// Payload is the immutable protocol content of an event.
// Two records describe the same logical content iff their payloads encode to
// the same canonical bytes.
type Payload struct {
	Command string
	Host    string
	Params  []string
	Sender  string
	User    string
	Tags    map[string]string
}

// Receivers maps a capture node id to its local receipt time.
type Receivers map[string]Millis

// Record is one normalized protocol event.
type Record struct {
	Payload

	// Time is the exact timestamp (Identified) or the interval start (Ranged).
	Time Millis
	// Range is the interval width; zero for Identified records.
	Range Millis

	Receivers Receivers
}

// Kind reports whether the record is Identified or Ranged.
func (r Record) Kind() Kind {
	if r.Range == 0 {
		return Identified
	}
	return Ranged
}

// End returns the exclusive interval end. Equal to Time for Identified records.
func (r Record) End() Millis {
	return r.Time + r.Range
}

// ID returns the record's identity. The protocol "id" tag wins; an exact
// event without one gets an id derived from its payload and time. Ranged
// records have no id and return "".
func (r Record) ID() string {
	if r.Kind() != Identified {
		return ""
	}
	if id := r.Tags["id"]; id != "" {
		return id
	}
	return ir.RecordID(ir.MustMarshalCanonical(ir.IRObject{
		"payload": r.Payload.object(),
		"time":    ir.IRSeconds(r.Time),
	}))
}

// MinuteOf returns the UTC minute containing the ordering key ms.
func MinuteOf(ms Millis) time.Time {
	return time.UnixMilli(ms).UTC().Truncate(time.Minute)
}

// Minute returns the UTC minute whose file this record belongs in.
func (r Record) Minute() time.Time {
	return MinuteOf(r.Time)
}

// Overlaps reports whether the half-open intervals of two records intersect.
func (r Record) Overlaps(o Record) bool {
	return r.Time < o.End() && o.Time < r.End()
}

// Clone returns a deep copy so callers may mutate maps without aliasing.
func (r Record) Clone() Record {
	c := r
	c.Params = slices.Clone(r.Params)
	c.Tags = maps.Clone(r.Tags)
	c.Receivers = maps.Clone(r.Receivers)
	return c
}

// object returns the payload as an IR object, without time or receivers.
func (p Payload) object() ir.IRObject {
	return ir.IRObject{
		"command": ir.IRString(p.Command),
		"host":    ir.IRString(p.Host),
		"params":  ir.Strings(p.Params),
		"sender":  ir.IRString(p.Sender),
		"user":    ir.IRString(p.User),
		"tags":    ir.StringMap(p.Tags),
	}
}

// Key returns the canonical encoding of the payload alone. Records whose
// keys are equal carry the same immutable content.
func (p Payload) Key() string {
	return string(ir.MustMarshalCanonical(p.object()))
}

// Compatible reports whether two receiver maps agree on every shared node.
func (rv Receivers) Compatible(o Receivers) bool {
	for node, t := range rv {
		if ot, ok := o[node]; ok && ot != t {
			return false
		}
	}
	return true
}

// Union returns a new map holding every entry of both maps. Callers check
// Compatible first; on a shared key the receiver's own value is kept.
func (rv Receivers) Union(o Receivers) Receivers {
	out := make(Receivers, len(rv)+len(o))
	maps.Copy(out, o)
	maps.Copy(out, rv)
	return out
}

// Nodes returns the node ids in canonical key order.
func (rv Receivers) Nodes() []string {
	nodes := slices.Collect(maps.Keys(rv))
	slices.SortFunc(nodes, ir.CompareKeys)
	return nodes
}
