package harness

import (
	"time"

	"github.com/roach88/chatarchive/internal/chat"
)

// ArchiveFile is one minute file of a reconciled archive.
type ArchiveFile struct {
	// Path is relative to the channel directory.
	Path    string
	Minute  time.Time
	Records []chat.Record
	Data    []byte
}

// NodeResult is what one node ended up with.
type NodeResult struct {
	ID      string
	Archive []ArchiveFile
	// Passes is the number of reconciliation passes until the fixpoint.
	Passes int
	// Dropped counts the malformed events the node's normalizer discarded.
	Dropped int64
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every node converged and all assertions held.
	Pass bool

	// Nodes are in scenario order.
	Nodes []NodeResult

	// ConflictIDs lists, sorted, every record id reported as an integrity
	// conflict by any node.
	ConflictIDs []string

	// Errors contains assertion and convergence failures.
	// Empty if Pass is true.
	Errors []string
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Archive returns the first node's archive. After a successful run every
// node holds the same one.
func (r *Result) Archive() []ArchiveFile {
	if len(r.Nodes) == 0 {
		return nil
	}
	return r.Nodes[0].Archive
}
