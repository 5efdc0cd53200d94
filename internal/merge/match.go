package merge

import (
	"cmp"
	"slices"

	"github.com/roach88/chatarchive/internal/chat"
)

// pair is an eligible match between two distinct ranged records, indexed
// into a line-sorted slice with lo < hi.
type pair struct {
	lo, hi int
	start  chat.Millis
	key    string
}

// comparePairs is the content-derived total order in which matches are
// accepted: intersection start, payload key, then both canonical lines.
func comparePairs(lines []line) func(a, b pair) int {
	return func(a, b pair) int {
		if c := cmp.Compare(a.start, b.start); c != 0 {
			return c
		}
		if c := cmp.Compare(a.key, b.key); c != 0 {
			return c
		}
		if c := cmp.Compare(lines[a.lo].text, lines[b.lo].text); c != 0 {
			return c
		}
		return cmp.Compare(lines[a.hi].text, lines[b.hi].text)
	}
}

// eligible reports whether two ranged records may describe the same event.
func eligible(a, b chat.Record) bool {
	return a.Overlaps(b) && a.Receivers.Compatible(b.Receivers)
}

// intersect combines a matched pair into one record.
func intersect(a, b chat.Record) chat.Record {
	start := max(a.Time, b.Time)
	end := min(a.End(), b.End())
	out := a.Clone()
	out.Time = start
	out.Range = end - start
	out.Receivers = a.Receivers.Union(b.Receivers)
	return out
}

// mergeRanged matches ranged records until no eligible pair remains.
// Every round accepts a maximal set of disjoint pairs in comparePairs order.
func mergeRanged(records []chat.Record) ([]chat.Record, error) {
	for {
		lines, err := encode(records)
		if err != nil {
			return nil, err
		}

		keys := make([]string, len(lines))
		byKey := make(map[string][]int)
		for i, l := range lines {
			keys[i] = l.rec.Payload.Key()
			byKey[keys[i]] = append(byKey[keys[i]], i)
		}

		var pairs []pair
		for key, idx := range byKey {
			for x := 0; x < len(idx); x++ {
				for y := x + 1; y < len(idx); y++ {
					a, b := lines[idx[x]].rec, lines[idx[y]].rec
					if !eligible(a, b) {
						continue
					}
					pairs = append(pairs, pair{
						lo:    idx[x],
						hi:    idx[y],
						start: max(a.Time, b.Time),
						key:   key,
					})
				}
			}
		}

		if len(pairs) == 0 {
			out := make([]chat.Record, len(lines))
			for i, l := range lines {
				out[i] = l.rec
			}
			return out, nil
		}

		slices.SortFunc(pairs, comparePairs(lines))

		used := make([]bool, len(lines))
		next := make([]chat.Record, 0, len(lines))
		for _, p := range pairs {
			if used[p.lo] || used[p.hi] {
				continue
			}
			used[p.lo], used[p.hi] = true, true
			next = append(next, intersect(lines[p.lo].rec, lines[p.hi].rec))
		}
		for i, l := range lines {
			if !used[i] {
				next = append(next, l.rec)
			}
		}
		records = next
	}
}
