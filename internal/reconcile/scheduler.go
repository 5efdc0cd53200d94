package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/chatarchive/internal/chat"
	"github.com/roach88/chatarchive/internal/ir"
	"github.com/roach88/chatarchive/internal/ledger"
	"github.com/roach88/chatarchive/internal/merge"
	"github.com/roach88/chatarchive/internal/metrics"
	"github.com/roach88/chatarchive/internal/store"
)

// Outcome values reported per minute.
const (
	Converged = ledger.OutcomeConverged
	Changed   = ledger.OutcomeChanged
	Error     = ledger.OutcomeError
)

// ErrNoFixpoint is returned by Converge when passes keep changing files.
var ErrNoFixpoint = errors.New("no fixpoint reached")

// Ledger persists pass bookkeeping. *ledger.Ledger implements it.
type Ledger interface {
	BeginPass(ctx context.Context, p ledger.Pass) error
	FinishPass(ctx context.Context, p ledger.Pass) error
	RecordOutcome(ctx context.Context, o ledger.MinuteOutcome) error
	SaveMinuteState(ctx context.Context, passID, channel string, minute time.Time, fileSetHash string) error
	ForgetMinute(ctx context.Context, channel string, minute time.Time) error
	MinuteStates(ctx context.Context, channel string) (map[time.Time]string, error)
}

// Config configures a Scheduler.
type Config struct {
	NodeID string
	// Interval between passes in Run.
	Interval time.Duration
	// Concurrency bounds parallel minute merges; minutes with overlapping
	// windows still serialize on their locks.
	Concurrency int
}

const (
	DefaultInterval    = 30 * time.Second
	DefaultConcurrency = 1
)

// MinuteResult is the outcome of reconciling one minute.
type MinuteResult struct {
	Minute    time.Time
	Outcome   string
	Hash      string // content hash of the minute's file after the merge
	Conflicts []merge.Conflict
	Err       error
}

// PassResult summarizes one pass.
type PassResult struct {
	ID       string
	Started  time.Time
	Finished time.Time
	Scanned  int
	Minutes  []MinuteResult
}

// Count returns how many minutes ended with outcome.
func (p PassResult) Count(outcome string) int {
	n := 0
	for _, m := range p.Minutes {
		if m.Outcome == outcome {
			n++
		}
	}
	return n
}

// Conflicts returns the number of integrity conflicts seen in the pass.
func (p PassResult) Conflicts() int {
	n := 0
	for _, m := range p.Minutes {
		n += len(m.Conflicts)
	}
	return n
}

// Scheduler reconciles one channel's store.
type Scheduler struct {
	store  *store.Store
	ledger Ledger
	cfg    Config
	logger *slog.Logger
	ids    IDGenerator
	now    func() time.Time
	locks  *minuteLocks

	mu     sync.Mutex
	seen   map[time.Time]string
	loaded bool
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithIDGenerator sets the pass id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Scheduler) { s.ids = g }
}

// WithClock sets the wall clock used for pass timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler. The ledger may be nil, in which case change
// tracking lives in memory only and a restart re-merges every minute.
func New(st *store.Store, l Ledger, cfg Config, logger *slog.Logger, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:  st,
		ledger: l,
		cfg:    cfg,
		logger: logger.With("channel", st.Channel()),
		ids:    UUIDv7Generator{},
		now:    time.Now,
		locks:  newMinuteLocks(),
		seen:   make(map[time.Time]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs a pass immediately and then one per interval until ctx is
// cancelled. Pass failures are logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting", "interval", s.cfg.Interval)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping: context cancelled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Converge runs passes until one changes nothing, up to maxPasses.
func (s *Scheduler) Converge(ctx context.Context, maxPasses int) ([]PassResult, error) {
	var passes []PassResult
	for range maxPasses {
		p, err := s.RunOnce(ctx)
		if err != nil {
			return passes, err
		}
		passes = append(passes, p)
		if p.Count(Changed) == 0 && p.Count(Error) == 0 {
			return passes, nil
		}
	}
	return passes, fmt.Errorf("%w after %d passes", ErrNoFixpoint, maxPasses)
}

// RunOnce performs a single pass. Per-minute failures are reported in the
// result; the returned error is for failures of the pass itself.
func (s *Scheduler) RunOnce(ctx context.Context) (PassResult, error) {
	pass := PassResult{ID: s.ids.Generate(), Started: s.now().UTC()}
	log := s.logger.With("pass_id", pass.ID)

	if err := s.loadSeen(ctx); err != nil {
		return pass, err
	}

	snapshot, err := s.store.Scan()
	if err != nil {
		return pass, fmt.Errorf("pass %s: %w", pass.ID, err)
	}
	current := make(map[time.Time]string, len(snapshot))
	for m, ids := range snapshot {
		current[m] = fileSetHash(ids)
	}

	s.mu.Lock()
	dirty := dirtyMinutes(snapshot, current, s.seen)
	s.mu.Unlock()
	pass.Scanned = len(snapshot)

	if s.ledger != nil {
		err := s.ledger.BeginPass(ctx, ledger.Pass{
			ID: pass.ID, Channel: s.store.Channel(), NodeID: s.cfg.NodeID, StartedAt: pass.Started,
		})
		if err != nil {
			return pass, fmt.Errorf("pass %s: %w", pass.ID, err)
		}
	}

	pass.Minutes = make([]MinuteResult, len(dirty))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, m := range dirty {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				pass.Minutes[i] = MinuteResult{Minute: m, Outcome: Error, Err: err}
				return nil
			}
			pass.Minutes[i] = s.reconcileMinute(m, log)
			return nil
		})
	}
	_ = g.Wait()

	pass.Finished = s.now().UTC()
	s.commitPass(ctx, pass, current, log)

	metrics.PassDuration.WithLabelValues(s.store.Channel()).Observe(pass.Finished.Sub(pass.Started).Seconds())
	log.Info("pass complete",
		"scanned", pass.Scanned,
		"dirty", len(dirty),
		"changed", pass.Count(Changed),
		"errors", pass.Count(Error),
		"conflicts", pass.Conflicts(),
	)
	return pass, ctx.Err()
}

// dirtyMinutes returns, ascending, the minutes with files that have more
// than one file, or whose own or a neighbour's file set changed.
func dirtyMinutes(snapshot map[time.Time][]store.FileID, current, seen map[time.Time]string) []time.Time {
	changed := func(m time.Time) bool { return current[m] != seen[m] }

	var dirty []time.Time
	for m, ids := range snapshot {
		if len(ids) > 1 || changed(m) || changed(m.Add(-time.Minute)) || changed(m.Add(time.Minute)) {
			dirty = append(dirty, m)
		}
	}
	slices.SortFunc(dirty, time.Time.Compare)
	return dirty
}

// fileSetHash identifies a minute's set of files.
func fileSetHash(ids []store.FileID) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.Name()
	}
	slices.Sort(names)
	return ir.ContentHash([]byte(strings.Join(names, "\n")))
}

// loadSeen reads the persisted file set hashes once per Scheduler.
func (s *Scheduler) loadSeen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded || s.ledger == nil {
		s.loaded = true
		return nil
	}
	states, err := s.ledger.MinuteStates(ctx, s.store.Channel())
	if err != nil {
		return fmt.Errorf("load minute states: %w", err)
	}
	s.seen = states
	s.loaded = true
	return nil
}

// commitPass records the start-of-pass snapshot as seen for every minute
// that did not fail. Files written during the pass therefore count as
// changes next time, which re-merges their neighbours until a fixpoint.
func (s *Scheduler) commitPass(ctx context.Context, pass PassResult, current map[time.Time]string, log *slog.Logger) {
	failed := make(map[time.Time]bool)
	for _, m := range pass.Minutes {
		if m.Outcome == Error {
			failed[m.Minute] = true
		}
	}

	s.mu.Lock()
	var save, forget []time.Time
	for m, h := range current {
		if failed[m] {
			continue
		}
		if s.seen[m] != h {
			save = append(save, m)
		}
		s.seen[m] = h
	}
	for m := range s.seen {
		if _, ok := current[m]; !ok {
			forget = append(forget, m)
			delete(s.seen, m)
		}
	}
	s.mu.Unlock()

	if s.ledger == nil {
		return
	}
	ledgerErr := func(op string, err error) {
		log.Warn("ledger write failed", "op", op, "error", err)
	}

	channel := s.store.Channel()
	for _, m := range pass.Minutes {
		o := ledger.MinuteOutcome{
			PassID:    pass.ID,
			Channel:   channel,
			Minute:    m.Minute,
			Outcome:   m.Outcome,
			FileHash:  m.Hash,
			Conflicts: len(m.Conflicts),
		}
		if m.Err != nil {
			o.Error = m.Err.Error()
		}
		if err := s.ledger.RecordOutcome(ctx, o); err != nil {
			ledgerErr("record_outcome", err)
		}
	}
	for _, m := range slices.SortedFunc(slices.Values(save), time.Time.Compare) {
		if err := s.ledger.SaveMinuteState(ctx, pass.ID, channel, m, current[m]); err != nil {
			ledgerErr("save_minute_state", err)
		}
	}
	for _, m := range forget {
		if err := s.ledger.ForgetMinute(ctx, channel, m); err != nil {
			ledgerErr("forget_minute", err)
		}
	}

	err := s.ledger.FinishPass(ctx, ledger.Pass{
		ID:         pass.ID,
		Channel:    channel,
		NodeID:     s.cfg.NodeID,
		StartedAt:  pass.Started,
		FinishedAt: pass.Finished,
		Scanned:    pass.Scanned,
		Converged:  pass.Count(Converged),
		Changed:    pass.Count(Changed),
		Errors:     pass.Count(Error),
		Conflicts:  pass.Conflicts(),
	})
	if err != nil {
		ledgerErr("finish_pass", err)
	}
}

// reconcileMinute merges minute with its neighbours and commits the result.
func (s *Scheduler) reconcileMinute(minute time.Time, log *slog.Logger) MinuteResult {
	res := MinuteResult{Minute: minute}
	log = log.With("minute", minute.Format(time.RFC3339))

	hash, conflicts, changed, err := s.mergeWindow(minute, log)
	res.Hash, res.Conflicts = hash, conflicts

	channel := s.store.Channel()
	for _, c := range conflicts {
		metrics.Conflicts.WithLabelValues(channel).Inc()
		log.Error("integrity conflict", "id", c.ID, "reason", c.Reason, "copies", len(c.Records))
	}

	switch {
	case err != nil:
		res.Outcome, res.Err = Error, err
		log.Info("minute merge failed", "outcome", res.Outcome, "error", err)
	case changed:
		res.Outcome = Changed
		log.Info("minute merged", "outcome", res.Outcome, "file", hash)
	default:
		res.Outcome = Converged
		log.Debug("minute converged", "outcome", res.Outcome)
	}
	metrics.MinuteOutcomes.WithLabelValues(channel, res.Outcome).Inc()
	return res
}

// slot is one minute of a window: the files read and the merged records
// that should replace them. A skipped slot could not be read; it takes no
// part in matching and its files are left alone.
type slot struct {
	minute  time.Time
	old     []store.FileID
	input   []chat.Record
	records []chat.Record
	hash    string
	skip    bool
}

func newSlot(minute time.Time, files []store.File) slot {
	sl := slot{minute: minute, old: store.IDs(files)}
	for _, f := range files {
		sl.input = append(sl.input, f.Records...)
	}
	return sl
}

func (sl slot) unchanged() bool {
	if sl.skip {
		return true
	}
	switch len(sl.old) {
	case 0:
		return len(sl.records) == 0
	case 1:
		return len(sl.records) > 0 && sl.old[0].Hash == sl.hash
	default:
		return false
	}
}

func (s *Scheduler) mergeWindow(minute time.Time, log *slog.Logger) (string, []merge.Conflict, bool, error) {
	unlock := s.locks.lockWindow(minute)
	defer unlock()

	files, err := s.store.Read(minute)
	if err != nil {
		return "", nil, false, err
	}
	prev, next := s.store.Neighbors(minute)

	slots := make([]slot, 0, 3)
	for _, n := range []store.Neighbor{prev, {Minute: minute, Files: files}, next} {
		sl := newSlot(n.Minute, n.Files)
		if n.Err != nil {
			// Unreadable neighbours count as no boundary evidence yet; the
			// neighbour's own merge reports the error.
			log.Warn("skipping unreadable neighbour", "neighbour", n.Minute.Format(time.RFC3339), "error", n.Err)
			sl.skip = true
		}
		slots = append(slots, sl)
	}

	out, err := merge.MergeWindow(minute, merge.Window{Prev: slots[0].input, Cur: slots[1].input, Next: slots[2].input})
	if err != nil {
		return "", nil, false, err
	}
	for i := range slots {
		slots[i].records = out.Slot(minute, slots[i].minute)
		if len(slots[i].records) == 0 {
			continue
		}
		if slots[i].skip {
			return "", out.Conflicts, false, fmt.Errorf("merged records belong to unreadable minute %s", slots[i].minute.Format(time.RFC3339))
		}
		if slots[i].hash, err = chat.Hash(slots[i].records); err != nil {
			return "", out.Conflicts, false, err
		}
	}

	// New files first, then remove what they supersede. Replace finds the
	// new file already present and only removes.
	changed := false
	for _, sl := range slots {
		if sl.unchanged() || len(sl.records) == 0 {
			continue
		}
		if _, err := s.store.Write(sl.minute, sl.records); err != nil {
			return "", out.Conflicts, false, err
		}
	}
	for _, sl := range slots {
		if sl.unchanged() {
			continue
		}
		changed = true
		if _, err := s.store.Replace(sl.minute, sl.records, sl.old); err != nil {
			return "", out.Conflicts, false, err
		}
	}
	return slots[1].hash, out.Conflicts, changed, nil
}

// Seen returns a copy of the file set hashes recorded by the last pass.
func (s *Scheduler) Seen() map[time.Time]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.seen)
}
