package harness

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/chatarchive/internal/chat"
	"github.com/roach88/chatarchive/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes the archive listing to help debug the failure.
type AssertionError struct {
	Type     string        // Assertion type for categorization
	Expected string        // Human-readable expected outcome
	Actual   string        // Human-readable actual outcome
	Archive  []ArchiveFile // Archive for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nArchive:\n")
	for _, f := range e.Archive {
		fmt.Fprintf(&buf, "  %s (%d records)\n", f.Path, len(f.Records))
		for _, r := range f.Records {
			fmt.Fprintf(&buf, "    %s %s t=%s", r.Kind(), r.Command, ir.FormatSeconds(r.Time))
			if r.Range > 0 {
				fmt.Fprintf(&buf, "+%s", ir.FormatSeconds(r.Range))
			}
			fmt.Fprintf(&buf, " receivers=%v\n", r.Receivers.Nodes())
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against the result and
// returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	archive := result.Archive()
	switch a.Type {
	case AssertMinuteCount:
		return assertMinuteCount(archive, a)
	case AssertRecordCount:
		return assertRecordCount(archive, a)
	case AssertKindCount:
		return assertKindCount(archive, a)
	case AssertReceivers:
		return assertReceivers(archive, a)
	case AssertConflicts:
		return assertConflicts(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func records(archive []ArchiveFile) []chat.Record {
	var out []chat.Record
	for _, f := range archive {
		out = append(out, f.Records...)
	}
	return out
}

func assertMinuteCount(archive []ArchiveFile, a Assertion) error {
	if len(archive) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertMinuteCount,
		Expected: fmt.Sprintf("%d minute file(s)", a.Count),
		Actual:   fmt.Sprintf("%d minute file(s)", len(archive)),
		Archive:  archive,
	}
}

// assertRecordCount counts records in the whole archive, or in the files of
// one minute when the assertion names it.
func assertRecordCount(archive []ArchiveFile, a Assertion) error {
	files := archive
	where := "archive"
	if a.Minute != "" {
		m, err := time.Parse(time.RFC3339, a.Minute)
		if err != nil {
			return fmt.Errorf("record_count: minute: %w", err)
		}
		files = slices.DeleteFunc(slices.Clone(archive), func(f ArchiveFile) bool { return !f.Minute.Equal(m) })
		where = a.Minute
	}

	got := len(records(files))
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertRecordCount,
		Expected: fmt.Sprintf("%d record(s) in %s", a.Count, where),
		Actual:   fmt.Sprintf("%d record(s)", got),
		Archive:  archive,
	}
}

func assertKindCount(archive []ArchiveFile, a Assertion) error {
	got := 0
	for _, r := range records(archive) {
		if r.Kind().String() == a.Kind {
			got++
		}
	}
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertKindCount,
		Expected: fmt.Sprintf("%d %s record(s)", a.Count, a.Kind),
		Actual:   fmt.Sprintf("%d %s record(s)", got, a.Kind),
		Archive:  archive,
	}
}

// assertReceivers checks the receiver set of every record with the id.
// Conflicting copies must each match.
func assertReceivers(archive []ArchiveFile, a Assertion) error {
	want := slices.Sorted(slices.Values(a.Nodes))
	found := false
	for _, r := range records(archive) {
		if r.ID() != a.ID {
			continue
		}
		found = true
		got := slices.Sorted(slices.Values(r.Receivers.Nodes()))
		if !slices.Equal(got, want) {
			return &AssertionError{
				Type:     AssertReceivers,
				Expected: fmt.Sprintf("record %s received by %v", a.ID, want),
				Actual:   fmt.Sprintf("received by %v", got),
				Archive:  archive,
			}
		}
	}
	if !found {
		return &AssertionError{
			Type:     AssertReceivers,
			Expected: fmt.Sprintf("record %s received by %v", a.ID, want),
			Actual:   "record not found",
			Archive:  archive,
		}
	}
	return nil
}

func assertConflicts(result *Result, a Assertion) error {
	want := slices.Sorted(slices.Values(a.IDs))
	if slices.Equal(want, result.ConflictIDs) {
		return nil
	}
	return &AssertionError{
		Type:     AssertConflicts,
		Expected: fmt.Sprintf("conflicts on %v", want),
		Actual:   fmt.Sprintf("conflicts on %v", result.ConflictIDs),
		Archive:  result.Archive(),
	}
}
