package normalize

import (
	"errors"
	"log/slog"

	"github.com/roach88/chatarchive/internal/chat"
	"github.com/roach88/chatarchive/internal/metrics"
)

// Defaults for Config fields left at zero.
const (
	DefaultTimeout       chat.Millis = 30_000
	DefaultPresenceSlack chat.Millis = 45_000

	// discontinuityThreshold is how far an exact timestamp may run behind
	// the last one before it is reported.
	discontinuityThreshold chat.Millis = 10_000
)

// Config configures a Normalizer.
type Config struct {
	// NodeID identifies this capture node in every record's receiver map.
	NodeID string
	// Timeout is how long a ranged record may wait for an upper bound
	// before it is closed at base+Timeout.
	Timeout chat.Millis
	// PresenceSlack widens the lower bound of delayed-delivery events.
	PresenceSlack chat.Millis
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PresenceSlack <= 0 {
		c.PresenceSlack = DefaultPresenceSlack
	}
	return c
}

// Stats are running counters for one Normalizer.
type Stats struct {
	Identified      int64
	Ranged          int64
	TimedOut        int64
	Discontinuities int64
	Dropped         map[string]int64
}

// pending is a ranged record still waiting for its upper bound.
type pending struct {
	rec chat.Record
	// base is last_known_timestamp when the record was enqueued; the
	// timeout ceiling is measured from here so slack-widened records are
	// never closed before they were observed.
	base chat.Millis
	// enqueued is the local receipt time, compared against Tick's clock.
	enqueued chat.Millis
}

// Normalizer is the per-connection timestamp state machine.
// Not safe for concurrent use.
type Normalizer struct {
	cfg    Config
	logger *slog.Logger

	lastKnown    chat.Millis
	delayedFloor chat.Millis
	queue        []pending
	stats        Stats
}

// New creates a Normalizer for a connection that started at start.
// last_known_timestamp starts there, and no delayed-delivery lower bound is
// ever placed before it.
func New(cfg Config, start chat.Millis, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		cfg:          cfg.withDefaults(),
		logger:       logger,
		lastKnown:    start,
		delayedFloor: start,
		stats:        Stats{Dropped: make(map[string]int64)},
	}
}

// Push consumes one event in arrival order and returns the records that
// became final. Malformed events are dropped and counted; the returned
// error wraps ErrMalformedEvent and is informational only.
func (n *Normalizer) Push(ev Event) ([]chat.Record, error) {
	class, ts, err := Classify(ev)
	if err != nil {
		n.drop(err)
		return nil, err
	}

	rec := chat.Record{
		Payload:   ev.payload(),
		Receivers: chat.Receivers{n.cfg.NodeID: ev.Received},
	}

	switch class {
	case ClassExact:
		rec.Time = ts
		if err := rec.Validate(); err != nil {
			me := &MalformedError{Reason: ReasonUnencodable, Detail: err.Error()}
			n.drop(me)
			return nil, me
		}
		if ts < n.lastKnown-discontinuityThreshold {
			n.stats.Discontinuities++
			n.logger.Warn("timestamp discontinuity",
				"last_known", n.lastKnown,
				"time", ts,
				"command", ev.Command,
			)
		}
		out := n.resolve(ts)
		n.lastKnown = ts
		n.emit(rec)
		return append(out, rec), nil

	case ClassDelayed:
		start := max(n.lastKnown-n.cfg.PresenceSlack, n.delayedFloor)
		n.delayedFloor = start
		rec.Time = start
		return nil, n.enqueue(rec, ev.Received)

	default:
		rec.Time = n.lastKnown
		return nil, n.enqueue(rec, ev.Received)
	}
}

// Tick closes every pending record whose timeout expired by local time now.
// Records are released in arrival order.
func (n *Normalizer) Tick(now chat.Millis) []chat.Record {
	var out []chat.Record
	for len(n.queue) > 0 && n.queue[0].enqueued+n.cfg.Timeout <= now {
		out = append(out, n.timeout(n.queue[0]))
		n.queue = n.queue[1:]
	}
	return out
}

// Close resolves everything still pending through the timeout rule, as if
// the connection had stayed quiet. Used at end of stream.
func (n *Normalizer) Close() []chat.Record {
	out := make([]chat.Record, 0, len(n.queue))
	for _, p := range n.queue {
		out = append(out, n.timeout(p))
	}
	n.queue = nil
	return out
}

// Pending returns the number of ranged records awaiting an upper bound.
func (n *Normalizer) Pending() int {
	return len(n.queue)
}

// LastKnown returns the most recent exact timestamp observed.
func (n *Normalizer) LastKnown() chat.Millis {
	return n.lastKnown
}

// Watermark is the earliest ordering key any record not yet returned could
// still receive. Minutes ending at or before it are complete.
func (n *Normalizer) Watermark() chat.Millis {
	w := max(n.lastKnown-n.cfg.PresenceSlack, n.delayedFloor)
	w = min(w, n.lastKnown)
	for _, p := range n.queue {
		w = min(w, p.rec.Time)
	}
	return w
}

// Stats returns a copy of the running counters.
func (n *Normalizer) Stats() Stats {
	s := n.stats
	s.Dropped = make(map[string]int64, len(n.stats.Dropped))
	for k, v := range n.stats.Dropped {
		s.Dropped[k] = v
	}
	return s
}

func (n *Normalizer) enqueue(rec chat.Record, received chat.Millis) error {
	// Validate with a provisional width; the real one is set on release.
	candidate := rec
	candidate.Range = 1
	if err := candidate.Validate(); err != nil {
		me := &MalformedError{Reason: ReasonUnencodable, Detail: err.Error()}
		n.drop(me)
		return me
	}
	n.queue = append(n.queue, pending{rec: rec, base: n.lastKnown, enqueued: received})
	return nil
}

// resolve closes all pending records at exact time ts.
func (n *Normalizer) resolve(ts chat.Millis) []chat.Record {
	out := make([]chat.Record, 0, len(n.queue))
	for _, p := range n.queue {
		if ts <= p.rec.Time {
			// Server time ran backwards past this record; fall back to the
			// ceiling so the interval stays non-empty.
			out = append(out, n.timeout(p))
			continue
		}
		rec := p.rec
		rec.Range = ts - rec.Time
		n.emit(rec)
		out = append(out, rec)
	}
	n.queue = nil
	return out
}

func (n *Normalizer) timeout(p pending) chat.Record {
	rec := p.rec
	rec.Range = max(p.base, rec.Time) + n.cfg.Timeout - rec.Time
	n.stats.TimedOut++
	metrics.RangeTimeouts.Inc()
	n.emit(rec)
	return rec
}

func (n *Normalizer) emit(rec chat.Record) {
	kind := rec.Kind()
	if kind == chat.Identified {
		n.stats.Identified++
	} else {
		n.stats.Ranged++
	}
	metrics.RecordsEmitted.WithLabelValues(kind.String()).Inc()
}

func (n *Normalizer) drop(err error) {
	reason := ReasonUnencodable
	var me *MalformedError
	if errors.As(err, &me) {
		reason = me.Reason
	}
	n.stats.Dropped[reason]++
	metrics.EventsDropped.WithLabelValues(reason).Inc()
	n.logger.Debug("dropping malformed event", "reason", reason, "error", err)
}
