// Package recorder turns one connection's raw events into minute files.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/roach88/chatarchive/internal/chat"
	"github.com/roach88/chatarchive/internal/metrics"
	"github.com/roach88/chatarchive/internal/normalize"
	"github.com/roach88/chatarchive/internal/store"
)

// DefaultFlushDelay is how long after a minute ends it is flushed.
const DefaultFlushDelay = 5 * time.Second

// Config configures a Recorder.
type Config struct {
	FlushDelay time.Duration
}

// Stats are running counters for one Recorder.
type Stats struct {
	Events  int64
	Records int64
	Files   int64
}

// Recorder buffers normalized records per minute and flushes each minute
// to the store once no pending record can still land in it.
// Not safe for concurrent use, like the Normalizer it drives.
type Recorder struct {
	norm   *normalize.Normalizer
	store  *store.Store
	cfg    Config
	logger *slog.Logger

	buf   map[time.Time][]chat.Record
	stats Stats
}

// New creates a Recorder writing norm's output to st.
func New(st *store.Store, norm *normalize.Normalizer, cfg Config, logger *slog.Logger) *Recorder {
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = DefaultFlushDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		norm:   norm,
		store:  st,
		cfg:    cfg,
		logger: logger.With("channel", st.Channel()),
		buf:    make(map[time.Time][]chat.Record),
	}
}

// Handle feeds one event through the Normalizer and flushes any minute
// that became complete. Malformed events are dropped without error.
func (r *Recorder) Handle(ev normalize.Event) error {
	r.stats.Events++
	recs, err := r.norm.Push(ev)
	if err != nil && !errors.Is(err, normalize.ErrMalformedEvent) {
		return err
	}
	r.add(recs)
	return r.flush(ev.Received, false)
}

// Tick advances local time: expired pending records are closed and ready
// minutes flushed.
func (r *Recorder) Tick(now chat.Millis) error {
	r.add(r.norm.Tick(now))
	return r.flush(now, false)
}

// Close resolves everything still pending and flushes every buffered minute.
func (r *Recorder) Close() error {
	r.add(r.norm.Close())
	return r.flush(0, true)
}

// Buffered returns the number of minutes not yet flushed.
func (r *Recorder) Buffered() int {
	return len(r.buf)
}

// Stats returns a copy of the running counters.
func (r *Recorder) Stats() Stats {
	return r.stats
}

// Ingest replays a raw event log through the Recorder, using each event's
// receipt time as the local clock, and closes it at the end.
func (r *Recorder) Ingest(ctx context.Context, src io.Reader) error {
	err := normalize.ReadEvents(src, func(ev normalize.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Tick(ev.Received); err != nil {
			return err
		}
		return r.Handle(ev)
	})
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if err := r.Close(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	return nil
}

func (r *Recorder) add(recs []chat.Record) {
	for _, rec := range recs {
		m := rec.Minute()
		r.buf[m] = append(r.buf[m], rec)
		r.stats.Records++
	}
}

// flush writes every minute that ended FlushDelay before now and that the
// Normalizer can no longer add to. With all set, every minute is written.
func (r *Recorder) flush(now chat.Millis, all bool) error {
	watermark := r.norm.Watermark()
	for _, m := range slices.SortedFunc(maps.Keys(r.buf), time.Time.Compare) {
		end := m.Add(time.Minute).UnixMilli()
		if !all && (end+r.cfg.FlushDelay.Milliseconds() > now || end > watermark) {
			continue
		}
		id, err := r.store.Write(m, r.buf[m])
		if err != nil {
			return fmt.Errorf("flush %s: %w", m.Format(time.RFC3339), err)
		}
		r.stats.Files++
		metrics.MinuteFlushes.WithLabelValues(r.store.Channel()).Inc()
		r.logger.Debug("flushed minute", "minute", m.Format(time.RFC3339), "file", id.Name(), "records", len(r.buf[m]))
		delete(r.buf, m)
	}
	return nil
}
