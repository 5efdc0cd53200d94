package reconcile

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chatarchive/internal/chat"
	"github.com/roach88/chatarchive/internal/ir"
	"github.com/roach88/chatarchive/internal/ledger"
	"github.com/roach88/chatarchive/internal/store"
	"github.com/roach88/chatarchive/internal/testutil"
)

var minute = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(t.TempDir(), "#chan", quietLogger())
	require.NoError(t, err)
	return s
}

func newScheduler(st *store.Store, l Ledger, opts ...Option) *Scheduler {
	return New(st, l, Config{NodeID: "node1", Concurrency: 1}, quietLogger(), opts...)
}

func event(id string, at time.Time, node string, delay time.Duration) chat.Record {
	ms := at.UnixMilli()
	return chat.Record{
		Payload: chat.Payload{
			Command: "PRIVMSG",
			Params:  []string{"#chan", "event " + id},
			Sender:  "alice",
			Tags:    map[string]string{"id": id},
		},
		Time:      ms,
		Receivers: chat.Receivers{node: ms + delay.Milliseconds()},
	}
}

func presence(start, end time.Time, node string) chat.Record {
	return chat.Record{
		Payload:   chat.Payload{Command: "JOIN", Params: []string{"#chan"}, User: "bob"},
		Time:      start.UnixMilli(),
		Range:     end.Sub(start).Milliseconds(),
		Receivers: chat.Receivers{node: end.UnixMilli() - 1},
	}
}

func write(t *testing.T, st *store.Store, m time.Time, records ...chat.Record) store.FileID {
	t.Helper()
	id, err := st.Write(m, records)
	require.NoError(t, err)
	return id
}

// deposit copies every file of src into dst, as the transport would.
func deposit(t *testing.T, dst, src *store.Store) {
	t.Helper()
	files, err := src.Scan()
	require.NoError(t, err)
	for m, ids := range files {
		for _, id := range ids {
			f, err := src.ReadFile(id)
			require.NoError(t, err)
			got := write(t, dst, m, f.Records...)
			require.Equal(t, id, got)
		}
	}
}

// writeGarbage deposits a file with a valid name but undecodable content
// and returns its path.
func writeGarbage(t *testing.T, st *store.Store, m time.Time) string {
	t.Helper()
	garbage := []byte("not json\n")
	bad := store.FileID{Minute: m, Hash: ir.ContentHash(garbage)}
	path := filepath.Join(st.Dir(), bad.Path())
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, garbage, 0o644))
	return path
}

func only(t *testing.T, st *store.Store, m time.Time) store.File {
	t.Helper()
	files, err := st.Read(m)
	require.NoError(t, err)
	require.Len(t, files, 1)
	return files[0]
}

func TestConvergenceAcrossNodes(t *testing.T) {
	node1, node2 := newStore(t), newStore(t)

	e1 := minute.Add(10 * time.Second)
	e2 := minute.Add(20 * time.Second)
	e3 := minute.Add(30 * time.Second)
	write(t, node1, minute, event("1", e1, "node1", 5*time.Millisecond), event("2", e2, "node1", 7*time.Millisecond))
	write(t, node2, minute, event("2", e2, "node2", 9*time.Millisecond), event("3", e3, "node2", 4*time.Millisecond))

	// Exchange the original captures, then each node reconciles alone.
	deposit(t, node1, node2)
	deposit(t, node2, node1)

	ctx := context.Background()
	_, err := newScheduler(node1, nil).Converge(ctx, 5)
	require.NoError(t, err)
	_, err = newScheduler(node2, nil).Converge(ctx, 5)
	require.NoError(t, err)

	f1, f2 := only(t, node1, minute), only(t, node2, minute)
	assert.Equal(t, f1.ID, f2.ID, "both nodes hold identical content")
	require.Len(t, f1.Records, 3)
	assert.Equal(t, chat.Receivers{"node1": e2.UnixMilli() + 7, "node2": e2.UnixMilli() + 9}, f1.Records[1].Receivers)
}

func TestRunOnceOnConvergedStoreIsNoop(t *testing.T) {
	st := newStore(t)
	write(t, st, minute, event("1", minute, "node1", 0))
	write(t, st, minute, event("1", minute, "node2", time.Millisecond))

	s := newScheduler(st, nil)
	ctx := context.Background()

	first, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Count(Changed))

	passes, err := s.Converge(ctx, 5)
	require.NoError(t, err)
	last := passes[len(passes)-1]
	assert.Zero(t, last.Count(Changed))

	idle, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, idle.Minutes, "nothing changed, nothing to merge")
}

func TestSingleFileMinuteIsMergedOnceThenSkipped(t *testing.T) {
	st := newStore(t)
	id := write(t, st, minute, event("1", minute, "node1", 0))

	s := newScheduler(st, nil)
	p, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, p.Minutes, 1)
	assert.Equal(t, Converged, p.Minutes[0].Outcome)
	assert.Equal(t, id.Hash, p.Minutes[0].Hash)

	p, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, p.Minutes)
}

func TestBoundaryMigration(t *testing.T) {
	st := newStore(t)
	next := minute.Add(time.Minute)

	write(t, st, minute, presence(next.Add(-2*time.Second), next.Add(3*time.Second), "node1"))
	write(t, st, next, presence(next.Add(time.Second), next.Add(5*time.Second), "node2"))

	_, err := newScheduler(st, nil).Converge(context.Background(), 5)
	require.NoError(t, err)

	files, err := st.Read(minute)
	require.NoError(t, err)
	assert.Empty(t, files, "record left minute M")

	f := only(t, st, next)
	require.Len(t, f.Records, 1)
	assert.Equal(t, next.Add(time.Second).UnixMilli(), f.Records[0].Time)
	assert.Equal(t, next.Add(3*time.Second).UnixMilli(), f.Records[0].End())
	assert.Len(t, f.Records[0].Receivers, 2)
}

func TestNeighbourChangeTriggersRemerge(t *testing.T) {
	st := newStore(t)
	next := minute.Add(time.Minute)
	write(t, st, minute, presence(next.Add(-2*time.Second), next.Add(3*time.Second), "node1"))

	s := newScheduler(st, nil)
	_, err := s.Converge(context.Background(), 5)
	require.NoError(t, err)

	// A neighbour file arrives later; minute M itself is untouched but must
	// be re-merged.
	write(t, st, next, presence(next.Add(time.Second), next.Add(5*time.Second), "node2"))

	p, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	var minutes []time.Time
	for _, m := range p.Minutes {
		minutes = append(minutes, m.Minute)
	}
	assert.Contains(t, minutes, minute)
	assert.Equal(t, 1, p.Count(Changed))
}

func TestFailedMinuteDoesNotBlockOthers(t *testing.T) {
	st := newStore(t)
	later := minute.Add(10 * time.Minute)

	writeGarbage(t, st, minute)

	write(t, st, later, event("1", later, "node1", 0))
	write(t, st, later, event("1", later, "node2", 0))

	s := newScheduler(st, nil)
	p, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, p.Minutes, 2)
	assert.Equal(t, Error, p.Minutes[0].Outcome)
	assert.Error(t, p.Minutes[0].Err)
	assert.Equal(t, Changed, p.Minutes[1].Outcome)

	// The failed minute stays dirty and is retried.
	p, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, p.Minutes)
	assert.Equal(t, minute, p.Minutes[0].Minute)
	assert.Equal(t, Error, p.Minutes[0].Outcome)

	_, err = s.Converge(context.Background(), 3)
	assert.ErrorIs(t, err, ErrNoFixpoint)
}

func TestUnreadableNeighbourDoesNotBlockMinute(t *testing.T) {
	st := newStore(t)
	bad := writeGarbage(t, st, minute)

	next := minute.Add(time.Minute)
	write(t, st, next, event("1", next.Add(5*time.Second), "node1", 0), presence(next.Add(time.Second), next.Add(10*time.Second), "node1"))
	write(t, st, next, event("1", next.Add(5*time.Second), "node2", 0), presence(next.Add(3*time.Second), next.Add(12*time.Second), "node2"))

	s := newScheduler(st, nil)
	p, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, p.Minutes, 2)
	assert.Equal(t, minute, p.Minutes[0].Minute)
	assert.Equal(t, Error, p.Minutes[0].Outcome)
	assert.Equal(t, next, p.Minutes[1].Minute)
	assert.Equal(t, Changed, p.Minutes[1].Outcome)
	assert.NoError(t, p.Minutes[1].Err)

	f := only(t, st, next)
	require.Len(t, f.Records, 2)
	for _, r := range f.Records {
		assert.Equal(t, []string{"node1", "node2"}, r.Receivers.Nodes())
	}
	joined := f.Records[0]
	if joined.Kind() != chat.Ranged {
		joined = f.Records[1]
	}
	assert.Equal(t, next.Add(3*time.Second).UnixMilli(), joined.Time)
	assert.Equal(t, next.Add(10*time.Second).UnixMilli(), joined.End())

	_, err = os.Stat(bad)
	assert.NoError(t, err, "unreadable neighbour file is left in place")

	p, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, p.Minutes, 2)
	assert.Equal(t, Error, p.Minutes[0].Outcome)
	assert.Equal(t, Converged, p.Minutes[1].Outcome)
}

func TestConflictsAreReportedAndKept(t *testing.T) {
	st := newStore(t)
	a := event("1", minute, "node1", 0)
	b := event("1", minute, "node2", 0)
	b.Params = []string{"#chan", "different"}
	write(t, st, minute, a)
	write(t, st, minute, b)

	p, err := newScheduler(st, nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.Conflicts())

	f := only(t, st, minute)
	assert.Len(t, f.Records, 2, "both divergent copies kept")
}

func TestConcurrentPassesMatchSerial(t *testing.T) {
	build := func() *store.Store {
		st := newStore(t)
		for i := range 10 {
			m := minute.Add(time.Duration(i) * time.Minute)
			at := m.Add(30 * time.Second)
			write(t, st, m, event(strconv.Itoa(i), at, "node1", 0))
			write(t, st, m, event(strconv.Itoa(i), at, "node2", 0))
			write(t, st, m, presence(m.Add(50*time.Second), m.Add(70*time.Second), "node1"))
			write(t, st, m, presence(m.Add(55*time.Second), m.Add(75*time.Second), "node3"))
		}
		return st
	}

	serial, parallel := build(), build()
	_, err := newScheduler(serial, nil).Converge(context.Background(), 10)
	require.NoError(t, err)

	ps := New(parallel, nil, Config{NodeID: "node1", Concurrency: 4}, quietLogger())
	_, err = ps.Converge(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, ps.locks.size(), "all window locks released")

	want, err := serial.Scan()
	require.NoError(t, err)
	got, err := parallel.Scan()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLedgerPersistsChangeTracking(t *testing.T) {
	st := newStore(t)
	write(t, st, minute, event("1", minute, "node1", 0))
	write(t, st, minute, event("1", minute, "node2", 0))

	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	clock := testutil.NewFakeClock(minute.Add(time.Hour))
	s := newScheduler(st, l,
		WithIDGenerator(testutil.SequentialIDs("pass", 10)),
		WithClock(clock.Now),
	)
	passes, err := s.Converge(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, passes, 2)
	assert.Equal(t, "pass-1", passes[0].ID)

	ctx := context.Background()
	recorded, err := l.ReadPass(ctx, "pass-1")
	require.NoError(t, err)
	assert.Equal(t, 1, recorded.Changed)
	assert.Equal(t, "node1", recorded.NodeID)
	assert.Equal(t, minute.Add(time.Hour), recorded.StartedAt)

	outcomes, err := l.Outcomes(ctx, "pass-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, ledger.OutcomeChanged, outcomes[0].Outcome)

	// A restarted scheduler loads the ledger and finds nothing to do.
	restarted := newScheduler(st, l, WithIDGenerator(testutil.SequentialIDs("restart", 1)))
	p, err := restarted.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, p.Minutes)
	assert.Equal(t, s.Seen(), restarted.Seen())
}

func TestRunStopsOnCancel(t *testing.T) {
	st := newStore(t)
	s := New(st, nil, Config{NodeID: "node1", Interval: time.Millisecond}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
}
