package scheduler

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/arbitrage/core/logger"
	"github.com/kilianp07/arbitrage/core/lp"
	"github.com/kilianp07/arbitrage/core/timeseries"
)

// OutputHours caps the number of hours returned by CollectOutput.
const OutputHours = 24

type stage int

const (
	stageConstructed stage = iota
	stageObjectiveSet
	stageConstraintsAdded
	stageSolved
)

func (s stage) String() string {
	switch s {
	case stageObjectiveSet:
		return "objective set"
	case stageConstraintsAdded:
		return "constraints added"
	case stageSolved:
		return "solved"
	default:
		return "constructed"
	}
}

// StorageParams describes the energy balance of the battery.
// A nil Consumption is treated as zero consumption over the whole horizon.
type StorageParams struct {
	Efficiency   float64
	MinCapacity  float64
	MaxCapacity  float64
	InitialLevel float64
	Consumption  []float64
}

// Scheduler owns the decision variables and the model of one optimization run.
// Variable i is the charge rate of hour i, variable horizon+i its discharge rate.
type Scheduler struct {
	horizon int
	vars    []lp.Variable
	solver  lp.Solver
	log     logger.Logger

	stage    stage
	problem  *lp.Problem
	solution lp.Solution
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithSolver replaces the default simplex backend.
func WithSolver(s lp.Solver) Option {
	return func(sc *Scheduler) {
		if s != nil {
			sc.solver = s
		}
	}
}

// WithLogger sets the logger used for stage tracing.
func WithLogger(l logger.Logger) Option {
	return func(sc *Scheduler) {
		if l != nil {
			sc.log = l
		}
	}
}

// New allocates horizon charge variables bounded by maxCharge and horizon
// discharge variables bounded by maxDischarge.
func New(horizon int, maxDischarge, maxCharge float64, opts ...Option) (*Scheduler, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("%w: horizon %d must be positive", ErrInvalidValue, horizon)
	}
	if maxDischarge < 0 || maxCharge < 0 || !timeseries.IsFinite(maxDischarge) || !timeseries.IsFinite(maxCharge) {
		return nil, fmt.Errorf("%w: power limits must be finite and >= 0 (charge %v, discharge %v)", ErrInvalidValue, maxCharge, maxDischarge)
	}
	s := &Scheduler{
		horizon: horizon,
		vars:    make([]lp.Variable, 2*horizon),
		solver:  lp.SimplexSolver{},
		log:     logger.Nop{},
	}
	for i := 0; i < horizon; i++ {
		s.vars[i] = lp.Variable{Name: fmt.Sprintf("charging_power_c_t_%d", i), Lower: 0, Upper: maxCharge}
		s.vars[horizon+i] = lp.Variable{Name: fmt.Sprintf("discharging_power_d_t_%d", i), Lower: 0, Upper: maxDischarge}
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Horizon returns the number of hours covered by the model.
func (s *Scheduler) Horizon() int { return s.horizon }

// Status returns the solver outcome, StatusUndetermined until Solve ran.
func (s *Scheduler) Status() lp.Status { return s.solution.Status }

// Objective returns the profit of the solved schedule over the full horizon.
func (s *Scheduler) Objective() float64 { return s.solution.Objective }

// SetObjective builds a fresh model maximizing
// Σ discharge_i·(price_i − fee) − charge_i·(price_i + fee).
// Any previous constraints and solution are discarded.
func (s *Scheduler) SetObjective(prices []float64, networkFee float64) error {
	if len(prices) != s.horizon {
		return fmt.Errorf("%w: got %d prices for a horizon of %d hours", ErrDimensionMismatch, len(prices), s.horizon)
	}
	if !timeseries.IsFinite(networkFee) {
		return fmt.Errorf("%w: network fee %v is not finite", ErrInvalidValue, networkFee)
	}
	for i, price := range prices {
		if !timeseries.IsFinite(price) {
			return fmt.Errorf("%w: price %v at hour %d is not finite", ErrInvalidValue, price, i)
		}
	}
	p := lp.NewProblem("energy_arbitrage", lp.Maximize, s.vars)
	for i, price := range prices {
		p.Objective[i] = -(price + networkFee)
		p.Objective[s.horizon+i] = price - networkFee
	}
	s.problem = p
	s.solution = lp.Solution{}
	s.stage = stageObjectiveSet
	s.log.Debugf("objective set over %d hours, network fee %v", s.horizon, networkFee)
	return nil
}

// AddStorageConstraints adds, for every hour h in [1, horizon], a lower and
// an upper bound on the cumulative energy balance of the first h hours.
// Efficiency discounts charged energy in the lower bound and discharged
// energy in the upper bound.
func (s *Scheduler) AddStorageConstraints(p StorageParams) error {
	if s.stage != stageObjectiveSet && s.stage != stageConstraintsAdded {
		return fmt.Errorf("%w: storage constraints require an objective, scheduler is %s", ErrPrecedence, s.stage)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"efficiency", p.Efficiency},
		{"min capacity", p.MinCapacity},
		{"max capacity", p.MaxCapacity},
		{"initial level", p.InitialLevel},
	} {
		if !timeseries.IsFinite(f.v) {
			return fmt.Errorf("%w: %s %v is not finite", ErrInvalidValue, f.name, f.v)
		}
	}
	if p.Efficiency <= 0 || p.Efficiency > 1 {
		return fmt.Errorf("%w: efficiency %v outside (0, 1]", ErrInvalidValue, p.Efficiency)
	}
	if p.MaxCapacity < p.MinCapacity {
		return fmt.Errorf("%w: max capacity %v below min capacity %v", ErrInvalidValue, p.MaxCapacity, p.MinCapacity)
	}
	consumed, err := s.cumulativeConsumption(p.Consumption)
	if err != nil {
		return err
	}

	n := s.horizon
	lower := make([]lp.Constraint, 0, n)
	upper := make([]lp.Constraint, 0, n)
	for h := 1; h <= n; h++ {
		lo := make([]float64, 2*n)
		hi := make([]float64, 2*n)
		for i := 0; i < h; i++ {
			lo[i] = p.Efficiency
			lo[n+i] = -1
			hi[i] = 1
			hi[n+i] = -p.Efficiency
		}
		lower = append(lower, lp.Constraint{
			Name:         fmt.Sprintf("storage_min_h%d", h),
			Coefficients: lo,
			Op:           lp.GreaterEq,
			RHS:          p.MinCapacity - p.InitialLevel + consumed[h-1],
		})
		upper = append(upper, lp.Constraint{
			Name:         fmt.Sprintf("storage_max_h%d", h),
			Coefficients: hi,
			Op:           lp.LessEq,
			RHS:          p.MaxCapacity - p.InitialLevel + consumed[h-1],
		})
	}
	for _, c := range append(lower, upper...) {
		if err := s.problem.AddConstraint(c); err != nil {
			return err
		}
	}
	s.stage = stageConstraintsAdded
	return nil
}

// cumulativeConsumption returns the prefix sums of consumption over the horizon.
func (s *Scheduler) cumulativeConsumption(consumption []float64) ([]float64, error) {
	cum := make([]float64, s.horizon)
	if consumption == nil {
		return cum, nil
	}
	if len(consumption) < s.horizon {
		return nil, fmt.Errorf("%w: got %d consumption values for a horizon of %d hours", ErrDimensionMismatch, len(consumption), s.horizon)
	}
	for i, v := range consumption[:s.horizon] {
		if !timeseries.IsFinite(v) {
			return nil, fmt.Errorf("%w: consumption %v at hour %d is not finite", ErrInvalidValue, v, i)
		}
	}
	floats.CumSum(cum, consumption[:s.horizon])
	return cum, nil
}

// Solve runs the solver on the accumulated model and records its status. The
// solver runs in its own goroutine so that ctx can bound its runtime. A non
// optimal status is returned without error; an error is only returned when ctx
// ends first or the backend fails, and the status is then StatusUndetermined.
func (s *Scheduler) Solve(ctx context.Context) (lp.Status, error) {
	if s.stage != stageConstraintsAdded {
		return lp.StatusUndetermined, fmt.Errorf("%w: solve requires storage constraints, scheduler is %s", ErrPrecedence, s.stage)
	}
	type result struct {
		sol lp.Solution
		err error
	}
	done := make(chan result, 1)
	problem := s.problem
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("solver panic: %v", r)}
			}
		}()
		sol, err := s.solver.Solve(ctx, problem)
		done <- result{sol: sol, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		res = result{err: ctx.Err()}
	case res = <-done:
	}

	s.problem = nil
	s.stage = stageSolved
	if res.err != nil {
		s.solution = lp.Solution{Status: lp.StatusUndetermined}
		return lp.StatusUndetermined, res.err
	}
	s.solution = res.sol
	s.log.Debugf("solved %d hour model: %s", s.horizon, res.sol.Status)
	return res.sol.Status, nil
}

// CollectOutput returns the charge and discharge rates of the first
// min(24, horizon) hours. It fails with ErrNotSolved unless Solve completed
// with an optimal status. Values are clamped to their bounds to drop solver
// round-off.
func (s *Scheduler) CollectOutput() (charge, discharge []float64, err error) {
	if s.stage != stageSolved {
		return nil, nil, fmt.Errorf("%w: scheduler is %s", ErrNotSolved, s.stage)
	}
	if s.solution.Status != lp.StatusOptimal {
		return nil, nil, fmt.Errorf("%w: solver status %s", ErrNotSolved, s.solution.Status)
	}
	if len(s.solution.Values) != len(s.vars) {
		return nil, nil, fmt.Errorf("%w: solver returned %d values for %d variables", ErrNotSolved, len(s.solution.Values), len(s.vars))
	}
	n := min(OutputHours, s.horizon)
	charge = make([]float64, n)
	discharge = make([]float64, n)
	for i := 0; i < n; i++ {
		charge[i] = clamp(s.solution.Values[i], s.vars[i])
		discharge[i] = clamp(s.solution.Values[s.horizon+i], s.vars[s.horizon+i])
	}
	return charge, discharge, nil
}

func clamp(v float64, b lp.Variable) float64 {
	return math.Min(math.Max(v, b.Lower), b.Upper)
}
