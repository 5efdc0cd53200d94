package ir

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrPrecision is returned when a seconds value carries more precision than
// the millisecond grid can represent.
var ErrPrecision = errors.New("seconds value finer than milliseconds")

// FormatSeconds renders a millisecond count as decimal seconds with at most
// three fractional digits and no trailing zeros.
//
//	FormatSeconds(1700000000500) == "1700000000.5"
//	FormatSeconds(1700000000000) == "1700000000"
//	FormatSeconds(-1500)         == "-1.5"
func FormatSeconds(ms int64) string {
	neg := ms < 0
	u := uint64(ms)
	if neg {
		u = uint64(-ms)
	}

	s := strconv.FormatUint(u/1000, 10)
	if frac := u % 1000; frac != 0 {
		s += "." + strings.TrimRight(fmt.Sprintf("%03d", frac), "0")
	}
	if neg {
		s = "-" + s
	}
	return s
}

// ParseSeconds parses the JSON number text produced by FormatSeconds back
// into milliseconds. Exponents are rejected, as is any non-zero digit past
// the third fractional place and any value outside the int64 millisecond
// range.
func ParseSeconds(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("parse seconds: empty value")
	}
	if strings.ContainsAny(s, "eE+") {
		return 0, fmt.Errorf("parse seconds %q: exponent not allowed", s)
	}

	neg := strings.HasPrefix(s, "-")
	body := strings.TrimPrefix(s, "-")
	whole, frac, hasFrac := strings.Cut(body, ".")
	if whole == "" || (hasFrac && frac == "") {
		return 0, fmt.Errorf("parse seconds %q: malformed number", s)
	}

	w, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse seconds %q: %w", s, err)
	}

	if len(frac) > 3 {
		if strings.Trim(frac[3:], "0") != "" {
			return 0, fmt.Errorf("parse seconds %q: %w", s, ErrPrecision)
		}
		frac = frac[:3]
	}
	var f int64
	if frac != "" {
		frac += strings.Repeat("0", 3-len(frac))
		u, err := strconv.ParseUint(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse seconds %q: %w", s, err)
		}
		f = int64(u)
	}

	if w > uint64((math.MaxInt64-f)/1000) {
		return 0, fmt.Errorf("parse seconds %q: %w", s, strconv.ErrRange)
	}
	ms := int64(w)*1000 + f
	if neg {
		ms = -ms
	}
	return ms, nil
}
