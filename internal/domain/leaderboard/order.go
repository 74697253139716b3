package leaderboard

import (
	"fmt"
	"strings"
)

// Order is the ranking direction of scores.
type Order int

const (
	HigherIsBetter Order = iota
	LowerIsBetter
)

// ParseOrder accepts "desc"/"higher" and "asc"/"lower".
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "desc", "higher", "higher_is_better":
		return HigherIsBetter, nil
	case "asc", "lower", "lower_is_better":
		return LowerIsBetter, nil
	default:
		return HigherIsBetter, fmt.Errorf("unknown score order: %q", s)
	}
}

// Better reports whether a ranks strictly ahead of b.
func (o Order) Better(a, b float64) bool {
	if o == LowerIsBetter {
		return a < b
	}
	return a > b
}

func (o Order) String() string {
	if o == LowerIsBetter {
		return "asc"
	}
	return "desc"
}
