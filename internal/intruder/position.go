package intruder

import (
	"fmt"
	"strconv"
	"strings"
)

// Position is a byte range in an attack's base request template that a
// payload substitutes into. Offsets are absolute into the template's raw
// byte slice, not into any single field.
type Position struct {
	Start int
	End   int
}

// String renders p as "start-end", the form store.Attack.Positions
// persists.
func (p Position) String() string {
	return strconv.Itoa(p.Start) + "-" + strconv.Itoa(p.End)
}

// ParsePosition parses the "start-end" form back into a Position.
func ParsePosition(s string) (Position, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return Position{}, fmt.Errorf("invalid position %q: want \"start-end\"", s)
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return Position{}, fmt.Errorf("invalid position start %q: %w", s, err)
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return Position{}, fmt.Errorf("invalid position end %q: %w", s, err)
	}
	if end < start {
		return Position{}, fmt.Errorf("invalid position %q: end before start", s)
	}
	return Position{Start: start, End: end}, nil
}

// ParsePositions parses every entry in ss, in order.
func ParsePositions(ss []string) ([]Position, error) {
	out := make([]Position, len(ss))
	for i, s := range ss {
		p, err := ParsePosition(s)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}
