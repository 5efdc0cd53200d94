package merge

import (
	"fmt"
	"time"

	"github.com/roach88/chatarchive/internal/chat"
)

// Window is the record set of one minute plus its two neighbours. Any set
// may be empty when the neighbour has no files yet.
type Window struct {
	Prev []chat.Record
	Cur  []chat.Record
	Next []chat.Record
}

// WindowResult is a merged window partitioned back by minute. A record
// lands in the slot for the minute containing its (possibly new) ordering
// key, so it may migrate across a boundary.
type WindowResult struct {
	Prev []chat.Record
	Cur  []chat.Record
	Next []chat.Record

	Conflicts []Conflict
}

// Slot returns the records for minute m, which must be one of the
// window's three minutes around cur.
func (w WindowResult) Slot(cur, m time.Time) []chat.Record {
	switch {
	case m.Equal(cur.Add(-time.Minute)):
		return w.Prev
	case m.Equal(cur.Add(time.Minute)):
		return w.Next
	default:
		return w.Cur
	}
}

// MergeWindow merges the three minutes around minute as one set, so ranged
// records spanning either boundary can match their counterparts.
func MergeWindow(minute time.Time, w Window) (WindowResult, error) {
	minute = minute.UTC().Truncate(time.Minute)

	res, err := Collapse(w.Prev, w.Cur, w.Next)
	if err != nil {
		return WindowResult{}, err
	}

	out := WindowResult{Conflicts: res.Conflicts}
	for _, r := range res.Records {
		switch m := r.Minute(); {
		case m.Equal(minute):
			out.Cur = append(out.Cur, r)
		case m.Equal(minute.Add(-time.Minute)):
			out.Prev = append(out.Prev, r)
		case m.Equal(minute.Add(time.Minute)):
			out.Next = append(out.Next, r)
		default:
			return WindowResult{}, fmt.Errorf("record at %d falls outside window %s", r.Time, minute.Format(time.RFC3339))
		}
	}
	return out, nil
}
