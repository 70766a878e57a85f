// Package lp describes linear programs independently of the backend used to
// solve them.
package lp

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidProblem is returned when a Problem is malformed.
var ErrInvalidProblem = errors.New("invalid linear program")

// Sense selects whether the objective is maximized or minimized.
type Sense int

const (
	Maximize Sense = iota
	Minimize
)

// Op is the relation of a constraint row to its right hand side.
type Op int

const (
	LessEq Op = iota
	GreaterEq
	Equal
)

// Variable is a continuous decision variable. Infinite bounds are allowed.
type Variable struct {
	Name  string
	Lower float64
	Upper float64
}

// Constraint is a dense linear row: Coefficients·x Op RHS.
type Constraint struct {
	Name         string
	Coefficients []float64
	Op           Op
	RHS          float64
}

// Problem is a linear program in general form.
type Problem struct {
	Name        string
	Sense       Sense
	Variables   []Variable
	Objective   []float64
	Constraints []Constraint
}

// NewProblem returns an empty problem over vars. The objective is zeroed.
func NewProblem(name string, sense Sense, vars []Variable) *Problem {
	return &Problem{
		Name:      name,
		Sense:     sense,
		Variables: vars,
		Objective: make([]float64, len(vars)),
	}
}

// AddConstraint appends a row after checking its width.
func (p *Problem) AddConstraint(c Constraint) error {
	if len(c.Coefficients) != len(p.Variables) {
		return fmt.Errorf("%w: constraint %q has %d coefficients, want %d",
			ErrInvalidProblem, c.Name, len(c.Coefficients), len(p.Variables))
	}
	p.Constraints = append(p.Constraints, c)
	return nil
}

// Validate checks dimensions and bounds.
func (p *Problem) Validate() error {
	if len(p.Variables) == 0 {
		return fmt.Errorf("%w: no variables", ErrInvalidProblem)
	}
	if len(p.Objective) != len(p.Variables) {
		return fmt.Errorf("%w: objective has %d coefficients, want %d", ErrInvalidProblem, len(p.Objective), len(p.Variables))
	}
	for i, v := range p.Variables {
		if math.IsNaN(v.Lower) || math.IsNaN(v.Upper) || v.Lower > v.Upper ||
			math.IsInf(v.Lower, 1) || math.IsInf(v.Upper, -1) {
			return fmt.Errorf("%w: variable %q has bounds [%v, %v]", ErrInvalidProblem, v.Name, v.Lower, v.Upper)
		}
		if !finite(p.Objective[i]) {
			return fmt.Errorf("%w: objective coefficient of %q is %v", ErrInvalidProblem, v.Name, p.Objective[i])
		}
	}
	for _, c := range p.Constraints {
		if len(c.Coefficients) != len(p.Variables) {
			return fmt.Errorf("%w: constraint %q has %d coefficients", ErrInvalidProblem, c.Name, len(c.Coefficients))
		}
		if !finite(c.RHS) {
			return fmt.Errorf("%w: constraint %q has right hand side %v", ErrInvalidProblem, c.Name, c.RHS)
		}
		for j, a := range c.Coefficients {
			if !finite(a) {
				return fmt.Errorf("%w: constraint %q has coefficient %v for %q", ErrInvalidProblem, c.Name, a, p.Variables[j].Name)
			}
		}
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Solution is the outcome of a solve. Values is nil unless Status is
// StatusOptimal.
type Solution struct {
	Status    Status
	Values    []float64
	Objective float64
}

// Solver solves linear programs. Implementations must not retain p.
type Solver interface {
	Solve(ctx context.Context, p *Problem) (Solution, error)
}

// SolveFunc adapts a function to the Solver interface.
type SolveFunc func(ctx context.Context, p *Problem) (Solution, error)

func (f SolveFunc) Solve(ctx context.Context, p *Problem) (Solution, error) { return f(ctx, p) }
