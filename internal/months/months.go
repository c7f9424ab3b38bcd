// Package months builds the ordered list of monthly mosaic tokens to download.
package months

import (
	"errors"
	"fmt"
	"time"
)

// MissingMosaic is the monthly mosaic absent from the upstream catalog.
const MissingMosaic = "2017_01"

// ErrInvalidRange is returned when a sequence cannot be built from the inputs.
var ErrInvalidRange = errors.New("invalid month range")

// Month is a calendar month.
type Month struct {
	Year  int
	Month time.Month
}

// Parse reads a month written as YYYY-MM or YYYY_MM.
func Parse(s string) (Month, error) {
	for _, layout := range []string{"2006-01", "2006_01"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Month{Year: t.Year(), Month: t.Month()}, nil
		}
	}

	return Month{}, fmt.Errorf("parse month %q: expected YYYY-MM", s)
}

// Token returns the mosaic token, YYYY_MM.
func (m Month) Token() string {
	return fmt.Sprintf("%04d_%02d", m.Year, int(m.Month))
}

// String returns the month as YYYY-MM.
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// AddMonths returns the month n months later.
func (m Month) AddMonths(n int) Month {
	idx := m.index() + n
	return Month{Year: idx / 12, Month: time.Month(idx%12 + 1)}
}

// Before reports whether m is earlier than o.
func (m Month) Before(o Month) bool {
	return m.index() < o.index()
}

func (m Month) index() int {
	return m.Year*12 + int(m.Month) - 1
}

// Sequence lists months from start to end inclusive every stride months.
func Sequence(start, end Month, stride int) ([]Month, error) {
	if stride < 1 {
		return nil, fmt.Errorf("%w: stride %d must be positive", ErrInvalidRange, stride)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %s is before %s", ErrInvalidRange, end, start)
	}

	seq := make([]Month, 0, (end.index()-start.index())/stride+1)
	for m := start; !end.Before(m); m = m.AddMonths(stride) {
		seq = append(seq, m)
	}

	return seq, nil
}

// Exclude drops months whose token is listed. Absent tokens are ignored.
func Exclude(seq []Month, tokens ...string) []Month {
	if len(tokens) == 0 {
		return seq
	}

	drop := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		drop[t] = true
	}

	out := make([]Month, 0, len(seq))
	for _, m := range seq {
		if drop[m.Token()] {
			continue
		}
		out = append(out, m)
	}

	return out
}

// Tokens returns the YYYY_MM token of each month.
func Tokens(seq []Month) []string {
	out := make([]string, len(seq))
	for i, m := range seq {
		out[i] = m.Token()
	}

	return out
}
