package ledger

import "time"

// Outcome values, matching the merge_outcomes CHECK constraint.
const (
	OutcomeConverged = "converged"
	OutcomeChanged   = "changed"
	OutcomeError     = "error"
)

// Pass is one scheduler pass over a channel.
type Pass struct {
	ID         string
	Channel    string
	NodeID     string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running or after a crash

	Scanned   int
	Converged int
	Changed   int
	Errors    int
	Conflicts int
}

// MinuteOutcome is the result of reconciling one minute in one pass.
type MinuteOutcome struct {
	PassID    string
	Channel   string
	Minute    time.Time
	Outcome   string
	FileHash  string
	Conflicts int
	Error     string
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
