package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders an archive as text: each file's path on a "# " line,
// followed by its exact bytes.
func Snapshot(archive []ArchiveFile) []byte {
	var buf bytes.Buffer
	for _, f := range archive {
		fmt.Fprintf(&buf, "# %s\n", f.Path)
		buf.Write(f.Data)
	}
	return buf.Bytes()
}

// RunWithGolden executes a scenario and compares the reconciled archive
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check Pass; a snapshot mismatch fails
// the test through goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares a result's archive against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Snapshot(result.Archive()))
}
