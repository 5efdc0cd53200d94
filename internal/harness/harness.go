package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/roach88/chatarchive/internal/chat"
	"github.com/roach88/chatarchive/internal/ledger"
	"github.com/roach88/chatarchive/internal/normalize"
	"github.com/roach88/chatarchive/internal/reconcile"
	"github.com/roach88/chatarchive/internal/recorder"
	"github.com/roach88/chatarchive/internal/store"
	"github.com/roach88/chatarchive/internal/testutil"
)

// clockStart is the fake wall clock for pass timestamps.
var clockStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// node is the live state of one capturing node during a run.
type node struct {
	def    Node
	store  *store.Store
	ledger *ledger.Ledger
	result NodeResult
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh temporary directory with one store and one
// ledger per node. Execution flow:
//  1. Record each node's capture through a Normalizer and Recorder
//  2. Copy every node's original minute files to every other node
//  3. Reconcile each node until a pass changes nothing
//  4. Check that all nodes hold byte-identical archives
//  5. Evaluate the scenario's assertions on the archive
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "chatarchive-harness-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	nodes := make([]*node, len(scenario.Nodes))
	for i, def := range scenario.Nodes {
		st, err := store.New(filepath.Join(dir, def.ID), scenario.Channel, logger)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", def.ID, err)
		}
		led, err := ledger.Open(filepath.Join(dir, def.ID+".db"))
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", def.ID, err)
		}
		defer led.Close()
		nodes[i] = &node{def: def, store: st, ledger: led, result: NodeResult{ID: def.ID}}
	}

	for _, n := range nodes {
		if err := record(scenario, n, logger); err != nil {
			return nil, fmt.Errorf("record %s: %w", n.def.ID, err)
		}
	}
	if err := exchange(nodes); err != nil {
		return nil, fmt.Errorf("exchange: %w", err)
	}

	result := NewResult()
	conflicts := make(map[string]bool)
	for _, n := range nodes {
		sched := reconcile.New(n.store, n.ledger, reconcile.Config{NodeID: n.def.ID}, logger,
			reconcile.WithIDGenerator(testutil.SequentialIDs(n.def.ID+"-pass", scenario.MaxPasses)),
			reconcile.WithClock(testutil.NewFakeClock(clockStart).Now),
		)
		passes, err := sched.Converge(ctx, scenario.MaxPasses)
		n.result.Passes = len(passes)
		for _, p := range passes {
			for _, m := range p.Minutes {
				for _, c := range m.Conflicts {
					conflicts[c.ID] = true
				}
			}
		}
		if err != nil {
			result.AddError(fmt.Sprintf("node %s: %v", n.def.ID, err))
		}

		if n.result.Archive, err = readArchive(n.store); err != nil {
			return nil, fmt.Errorf("read archive of %s: %w", n.def.ID, err)
		}
		result.Nodes = append(result.Nodes, n.result)
	}
	result.ConflictIDs = slices.Sorted(maps.Keys(conflicts))

	for _, n := range result.Nodes[1:] {
		if msg := diffArchives(result.Nodes[0], n); msg != "" {
			result.AddError(msg)
		}
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// record plays a node's capture through a Recorder into its store.
func record(scenario *Scenario, n *node, logger *slog.Logger) error {
	events, err := scenario.capture(n.def)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	norm := normalize.New(normalize.Config{NodeID: n.def.ID}, events[0].Received, logger)
	rec := recorder.New(n.store, norm, recorder.Config{}, logger)
	for _, ev := range events {
		if err := rec.Tick(ev.Received); err != nil {
			return err
		}
		if err := rec.Handle(ev); err != nil {
			return err
		}
	}
	if err := rec.Close(); err != nil {
		return err
	}

	for _, d := range norm.Stats().Dropped {
		n.result.Dropped += d
	}
	return nil
}

// exchange copies every node's original files to every other node, as a
// file transport would.
func exchange(nodes []*node) error {
	originals := make([][]store.File, len(nodes))
	for i, n := range nodes {
		files, err := n.store.Scan()
		if err != nil {
			return err
		}
		for _, ids := range files {
			for _, id := range ids {
				f, err := n.store.ReadFile(id)
				if err != nil {
					return err
				}
				originals[i] = append(originals[i], f)
			}
		}
	}

	for i, files := range originals {
		for j, dst := range nodes {
			if i == j {
				continue
			}
			for _, f := range files {
				id, err := dst.store.Write(f.ID.Minute, f.Records)
				if err != nil {
					return err
				}
				if id.Name() != f.ID.Name() {
					return fmt.Errorf("copy of %s landed as %s", f.ID, id)
				}
			}
		}
	}
	return nil
}

// readArchive returns every file of st in minute order.
func readArchive(st *store.Store) ([]ArchiveFile, error) {
	files, err := st.Scan()
	if err != nil {
		return nil, err
	}
	var out []ArchiveFile
	for _, m := range slices.SortedFunc(maps.Keys(files), time.Time.Compare) {
		for _, id := range files[m] {
			data, err := os.ReadFile(filepath.Join(st.Dir(), id.Path()))
			if err != nil {
				return nil, err
			}
			records, err := chat.UnmarshalFile(data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", id, err)
			}
			out = append(out, ArchiveFile{Path: id.Path(), Minute: m, Records: records, Data: data})
		}
	}
	return out, nil
}

// diffArchives describes how b's archive differs from a's, or returns "".
func diffArchives(a, b NodeResult) string {
	paths := func(files []ArchiveFile) []string {
		out := make([]string, len(files))
		for i, f := range files {
			out[i] = f.Path
		}
		return out
	}
	pa, pb := paths(a.Archive), paths(b.Archive)
	if slices.Equal(pa, pb) {
		return ""
	}
	return fmt.Sprintf("node %s did not converge with %s:\n  %s: %v\n  %s: %v", b.ID, a.ID, a.ID, pa, b.ID, pb)
}
