package merge

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/chatarchive/internal/chat"
)

// Conflict reasons.
const (
	// ReasonContentMismatch: records share an id but differ in payload or time.
	ReasonContentMismatch = "content_mismatch"
	// ReasonReceiverMismatch: records share id and content but a node
	// reports different receipt times.
	ReasonReceiverMismatch = "receiver_mismatch"
)

// Conflict is an integrity error found while merging. All divergent copies
// are kept in the merged output; Records lists them in canonical order.
type Conflict struct {
	ID      string
	Reason  string
	Records []chat.Record
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s: %s (%d copies)", c.ID, c.Reason, len(c.Records))
}

// Result is a merged record set in canonical order.
type Result struct {
	Records   []chat.Record
	Conflicts []Conflict
}

// Merge combines two record sets into one canonical set.
func Merge(a, b []chat.Record) (Result, error) {
	return Collapse(a, b)
}

// Collapse merges any number of record sets, such as every file present
// for one minute. The result does not depend on the order of sets or of
// records within them.
func Collapse(sets ...[]chat.Record) (Result, error) {
	var identified, ranged []chat.Record
	for _, set := range sets {
		for _, r := range set {
			if r.Kind() == chat.Identified {
				identified = append(identified, r)
			} else {
				ranged = append(ranged, r)
			}
		}
	}

	ids, conflicts, err := mergeIdentified(identified)
	if err != nil {
		return Result{}, fmt.Errorf("merge identified: %w", err)
	}
	rs, err := mergeRanged(ranged)
	if err != nil {
		return Result{}, fmt.Errorf("merge ranged: %w", err)
	}

	out, err := chat.Sort(append(ids, rs...))
	if err != nil {
		return Result{}, fmt.Errorf("sort: %w", err)
	}
	return Result{Records: out, Conflicts: conflicts}, nil
}

// mergeIdentified unions records by id. Within an id, copies with the same
// content are folded into one record when their receivers agree.
func mergeIdentified(records []chat.Record) ([]chat.Record, []Conflict, error) {
	byID := make(map[string][]chat.Record)
	for _, r := range records {
		byID[r.ID()] = append(byID[r.ID()], r)
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var out []chat.Record
	var conflicts []Conflict
	for _, id := range ids {
		group, err := dedupe(byID[id])
		if err != nil {
			return nil, nil, err
		}

		clusters := make(map[string][]chat.Record)
		var keys []string
		for _, r := range group {
			k := contentKey(r)
			if _, ok := clusters[k]; !ok {
				keys = append(keys, k)
			}
			clusters[k] = append(clusters[k], r)
		}
		slices.Sort(keys)

		if len(keys) > 1 {
			conflicts = append(conflicts, Conflict{ID: id, Reason: ReasonContentMismatch, Records: group})
		}

		for _, k := range keys {
			cluster := clusters[k]
			folded, ok := foldReceivers(cluster)
			if !ok {
				out = append(out, cluster...)
				if len(keys) == 1 {
					conflicts = append(conflicts, Conflict{ID: id, Reason: ReasonReceiverMismatch, Records: cluster})
				}
				continue
			}
			out = append(out, folded)
		}
	}
	return out, conflicts, nil
}

// foldReceivers unions the receivers of records carrying identical content.
// It fails if any two receiver maps disagree on a shared node.
func foldReceivers(cluster []chat.Record) (chat.Record, bool) {
	for i := range cluster {
		for j := i + 1; j < len(cluster); j++ {
			if !cluster[i].Receivers.Compatible(cluster[j].Receivers) {
				return chat.Record{}, false
			}
		}
	}
	folded := cluster[0].Clone()
	for _, r := range cluster[1:] {
		folded.Receivers = folded.Receivers.Union(r.Receivers)
	}
	return folded, true
}

// contentKey identifies everything but the receivers.
func contentKey(r chat.Record) string {
	var b strings.Builder
	b.WriteString(r.Payload.Key())
	fmt.Fprintf(&b, "\x00%d\x00%d", r.Time, r.Range)
	return b.String()
}

// dedupe drops records whose canonical lines are identical and returns the
// rest ordered by line.
func dedupe(records []chat.Record) ([]chat.Record, error) {
	lines, err := encode(records)
	if err != nil {
		return nil, err
	}
	out := make([]chat.Record, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.rec)
	}
	return out, nil
}

// line is a record with its canonical encoding.
type line struct {
	rec  chat.Record
	text string
}

// encode returns the distinct records ordered by canonical line.
func encode(records []chat.Record) ([]line, error) {
	seen := make(map[string]bool, len(records))
	out := make([]line, 0, len(records))
	for _, r := range records {
		b, err := chat.MarshalLine(r)
		if err != nil {
			return nil, err
		}
		if seen[string(b)] {
			continue
		}
		seen[string(b)] = true
		out = append(out, line{rec: r, text: string(b)})
	}
	slices.SortFunc(out, func(a, b line) int { return cmp.Compare(a.text, b.text) })
	return out, nil
}
