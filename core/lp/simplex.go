package lp

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// DefaultTolerance is the zero tolerance handed to the simplex routine.
const DefaultTolerance = 1e-7

// SimplexSolver solves problems with gonum's simplex implementation.
type SimplexSolver struct {
	Tolerance float64
}

// simplex points to the routine used to solve the standard form. It can be
// overridden in tests to simulate backend failures.
var simplex = lp.Simplex

// Solve converts p to standard form and runs the simplex algorithm.
// Infeasible and unbounded problems are reported through the status.
func (s SimplexSolver) Solve(ctx context.Context, p *Problem) (Solution, error) {
	if err := p.Validate(); err != nil {
		return Solution{}, err
	}
	if err := ctx.Err(); err != nil {
		return Solution{}, err
	}
	tol := s.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}

	std, err := newStandardForm(p)
	switch {
	case errors.Is(err, lp.ErrInfeasible):
		return Solution{Status: StatusInfeasible}, nil
	case errors.Is(err, lp.ErrUnbounded):
		return Solution{Status: StatusUnbounded}, nil
	case err != nil:
		return Solution{Status: StatusUndetermined}, err
	}

	y := make([]float64, len(std.c))
	if len(std.b) > 0 {
		_, y, err = simplex(std.c, std.a, std.b, tol, nil)
		switch {
		case errors.Is(err, lp.ErrInfeasible):
			return Solution{Status: StatusInfeasible}, nil
		case errors.Is(err, lp.ErrUnbounded):
			return Solution{Status: StatusUnbounded}, nil
		case err != nil:
			return Solution{Status: StatusUndetermined}, fmt.Errorf("simplex: %w", err)
		}
	}
	x := std.values(y)
	return Solution{
		Status:    StatusOptimal,
		Values:    x,
		Objective: floats.Dot(p.Objective, x),
	}, nil
}

// column maps a structural column of the standard form back to a variable:
// x[v] gains sign·y[col].
type column struct {
	v    int
	sign float64
}

type row struct {
	coef  []float64 // over the structural columns
	slack float64   // +1 for ≤, -1 for ≥, 0 for =
	rhs   float64
}

// standardForm is min cᵀy s.t. Ay = b, y ≥ 0. Structural columns come first,
// one slack per inequality follows.
type standardForm struct {
	c      []float64
	a      *mat.Dense
	b      []float64
	cols   []column
	offset []float64
}

// newStandardForm shifts every variable by its finite bound so that it is
// non-negative, turns each finite upper bound and each inequality into a row
// with its own slack, and splits only free variables. Columns that no row
// touches are fixed at zero.
func newStandardForm(p *Problem) (*standardForm, error) {
	n := len(p.Variables)
	cost := make([]float64, n)
	copy(cost, p.Objective)
	if p.Sense == Maximize {
		floats.Scale(-1, cost)
	}

	var (
		cols   []column
		bounds []struct {
			col   int
			width float64
		}
	)
	offset := make([]float64, n)
	for i, v := range p.Variables {
		switch {
		case !math.IsInf(v.Lower, -1):
			offset[i] = v.Lower
			if !math.IsInf(v.Upper, 1) {
				bounds = append(bounds, struct {
					col   int
					width float64
				}{len(cols), v.Upper - v.Lower})
			}
			cols = append(cols, column{v: i, sign: 1})
		case !math.IsInf(v.Upper, 1):
			offset[i] = v.Upper
			cols = append(cols, column{v: i, sign: -1})
		default:
			cols = append(cols, column{v: i, sign: 1}, column{v: i, sign: -1})
		}
	}

	rows := make([]row, 0, len(bounds)+len(p.Constraints))
	for _, bd := range bounds {
		coef := make([]float64, len(cols))
		coef[bd.col] = 1
		rows = append(rows, row{coef: coef, slack: 1, rhs: bd.width})
	}
	for _, con := range p.Constraints {
		coef := make([]float64, len(cols))
		for k, c := range cols {
			coef[k] = c.sign * con.Coefficients[c.v]
		}
		r := row{coef: coef, rhs: con.RHS - floats.Dot(con.Coefficients, offset)}
		switch con.Op {
		case LessEq:
			r.slack = 1
		case GreaterEq:
			r.slack = -1
		}
		rows = append(rows, r)
	}

	// Drop untouched columns, they stay at zero unless their cost is negative.
	var active []int
	for k, c := range cols {
		used := false
		for _, r := range rows {
			if r.coef[k] != 0 {
				used = true
				break
			}
		}
		switch {
		case used:
			active = append(active, k)
		case c.sign*cost[c.v] < 0:
			return nil, lp.ErrUnbounded
		}
	}
	kept := rows[:0]
	for _, r := range rows {
		empty := r.slack == 0
		for _, k := range active {
			if r.coef[k] != 0 {
				empty = false
				break
			}
		}
		if !empty {
			kept = append(kept, r)
			continue
		}
		if r.rhs != 0 {
			return nil, lp.ErrInfeasible
		}
	}
	rows = kept

	slacks := 0
	for _, r := range rows {
		if r.slack != 0 {
			slacks++
		}
	}
	width := len(active) + slacks
	if len(rows) > width {
		return nil, fmt.Errorf("%w: %d rows for %d columns", ErrInvalidProblem, len(rows), width)
	}

	std := &standardForm{
		c:      make([]float64, width),
		b:      make([]float64, len(rows)),
		offset: offset,
	}
	std.cols = make([]column, len(active))
	for j, k := range active {
		std.cols[j] = cols[k]
		std.c[j] = cols[k].sign * cost[cols[k].v]
	}
	if len(rows) == 0 {
		return std, nil
	}
	std.a = mat.NewDense(len(rows), width, nil)
	slack := len(active)
	for i, r := range rows {
		for j, k := range active {
			std.a.Set(i, j, r.coef[k])
		}
		if r.slack != 0 {
			std.a.Set(i, slack, r.slack)
			slack++
		}
		std.b[i] = r.rhs
	}
	return std, nil
}

// values maps a standard form solution back to the original variables.
func (s *standardForm) values(y []float64) []float64 {
	x := make([]float64, len(s.offset))
	copy(x, s.offset)
	for j, c := range s.cols {
		x[c.v] += c.sign * y[j]
	}
	return x
}
