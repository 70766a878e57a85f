package lp

import "fmt"

// Status is the terminal state reported by a solver.
type Status int

const (
	StatusUndetermined Status = iota
	StatusOptimal
	StatusInfeasible
	StatusUnbounded
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	default:
		return "undetermined"
	}
}

// MarshalText encodes the status as its name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "optimal":
		*s = StatusOptimal
	case "infeasible":
		*s = StatusInfeasible
	case "unbounded":
		*s = StatusUnbounded
	case "undetermined", "":
		*s = StatusUndetermined
	default:
		return fmt.Errorf("unknown status %q", string(b))
	}
	return nil
}
