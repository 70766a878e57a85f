package scheduler

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/arbitrage/core/lp"
)

const eps = 1e-6

type scenario struct {
	name         string
	horizon      int
	maxCharge    float64
	maxDischarge float64
	prices       []float64
	fee          float64
	storage      StorageParams
}

func run(t *testing.T, sc scenario) (charge, discharge []float64) {
	t.Helper()
	s, err := New(sc.horizon, sc.maxDischarge, sc.maxCharge)
	require.NoError(t, err)
	require.NoError(t, s.SetObjective(sc.prices, sc.fee))
	require.NoError(t, s.AddStorageConstraints(sc.storage))
	status, err := s.Solve(context.Background())
	require.NoError(t, err)
	require.Equal(t, lp.StatusOptimal, status)
	charge, discharge, err = s.CollectOutput()
	require.NoError(t, err)
	assertFeasible(t, sc, charge, discharge)
	// Objective covers the whole horizon, the output only its first hours.
	if sc.horizon <= OutputHours {
		assert.InDelta(t, Profit(charge, discharge, sc.prices, sc.fee), s.Objective(), eps)
	} else {
		assert.GreaterOrEqual(t, s.Objective(), -eps)
	}
	return charge, discharge
}

func assertFeasible(t *testing.T, sc scenario, charge, discharge []float64) {
	t.Helper()
	want := min(OutputHours, sc.horizon)
	require.Len(t, charge, want)
	require.Len(t, discharge, want)
	for i := range charge {
		assert.GreaterOrEqual(t, charge[i], 0.0)
		assert.LessOrEqual(t, charge[i], sc.maxCharge)
		assert.GreaterOrEqual(t, discharge[i], 0.0)
		assert.LessOrEqual(t, discharge[i], sc.maxDischarge)
	}
	floor, ceiling := StorageLevels(charge, discharge, sc.storage)
	for h := range floor {
		assert.GreaterOrEqual(t, floor[h], sc.storage.MinCapacity-eps, "hour %d", h+1)
		assert.LessOrEqual(t, ceiling[h], sc.storage.MaxCapacity+eps, "hour %d", h+1)
	}
}

func baseStorage() StorageParams {
	return StorageParams{Efficiency: 1, MinCapacity: 0, MaxCapacity: 100, InitialLevel: 10}
}

func TestHighNetworkFeeMeansNoTrading(t *testing.T) {
	charge, discharge := run(t, scenario{
		horizon: 4, maxCharge: 15, maxDischarge: 15,
		prices: []float64{10, 0, 10, 0}, fee: 1000,
		storage: baseStorage(),
	})
	assert.InDeltaSlice(t, []float64{0, 0, 0, 0}, charge, eps)
	assert.InDeltaSlice(t, []float64{0, 0, 0, 0}, discharge, eps)
}

func TestAlternatingPricesChargeLowDischargeHigh(t *testing.T) {
	sc := scenario{
		horizon: 4, maxCharge: 15, maxDischarge: 15,
		prices:  []float64{10, 0, 10, 0},
		storage: baseStorage(),
	}
	charge, discharge := run(t, sc)
	// Several schedules reach the optimum (charging at a price of 10 to sell
	// at 10 is neutral, as is anything in the last hour). The reference
	// schedule charge=[0,15,0,15] discharge=[10,0,15,0] earns 250.
	assert.InDelta(t, 250, Profit(charge, discharge, sc.prices, 0), eps)
	assert.InDelta(t, 15, charge[1], eps)
	assert.InDelta(t, 25, discharge[0]+discharge[2]-charge[0]-charge[2], eps)
	ref := Profit([]float64{0, 15, 0, 15}, []float64{10, 0, 15, 0}, sc.prices, 0)
	assert.InDelta(t, ref, Profit(charge, discharge, sc.prices, 0), eps)
}

func TestConsumptionForcesCharging(t *testing.T) {
	st := baseStorage()
	st.Consumption = []float64{15, 15, 15, 15}
	charge, discharge := run(t, scenario{
		horizon: 4, maxCharge: 15, maxDischarge: 15,
		prices: []float64{0, 10, 15, 0}, fee: 0.01,
		storage: st,
	})
	assert.InDeltaSlice(t, []float64{15, 15, 5, 15}, charge, eps)
	assert.InDeltaSlice(t, []float64{0, 0, 0, 0}, discharge, eps)
}

func TestEfficiencyDiscountsChargedEnergy(t *testing.T) {
	charge, discharge := run(t, scenario{
		horizon: 2, maxCharge: 10, maxDischarge: 10,
		prices: []float64{0, 10},
		storage: StorageParams{Efficiency: 0.5, MinCapacity: 0, MaxCapacity: 100, InitialLevel: 0},
	})
	assert.InDeltaSlice(t, []float64{10, 0}, charge, eps)
	assert.InDeltaSlice(t, []float64{0, 5}, discharge, eps)
}

func TestOutputLength(t *testing.T) {
	for _, horizon := range []int{1, 5, 24, 30} {
		prices := make([]float64, horizon)
		for i := range prices {
			prices[i] = float64(i % 3)
		}
		st := baseStorage()
		st.Consumption = make([]float64, horizon+2)
		charge, discharge := run(t, scenario{
			horizon: horizon, maxCharge: 4, maxDischarge: 6,
			prices: prices, fee: 0.1, storage: st,
		})
		assert.Len(t, charge, min(24, horizon))
		assert.Len(t, discharge, min(24, horizon))
	}
}

func TestObjectiveCoversFullHorizon(t *testing.T) {
	const horizon = 30
	prices := make([]float64, horizon)
	for i := range prices {
		prices[i] = float64(i % 3)
	}
	s, err := New(horizon, 6, 4)
	require.NoError(t, err)
	require.NoError(t, s.SetObjective(prices, 0.1))
	require.NoError(t, s.AddStorageConstraints(baseStorage()))
	status, err := s.Solve(context.Background())
	require.NoError(t, err)
	require.Equal(t, lp.StatusOptimal, status)
	charge, discharge, err := s.CollectOutput()
	require.NoError(t, err)
	require.Len(t, charge, OutputHours)

	// the remaining six hours add their own profit on top of the first 24
	first := Profit(charge, discharge, prices, 0.1)
	assert.Greater(t, s.Objective(), first+eps)
}

func TestTwoDayHorizonSolvesWithinBudget(t *testing.T) {
	if testing.Short() {
		t.Skip("solves a 48 hour model")
	}
	const horizon = 48
	prices := make([]float64, horizon)
	for i := range prices {
		prices[i] = 50 + 30*math.Sin(2*math.Pi*float64(i)/24)
	}
	storage := StorageParams{Efficiency: 0.9, MinCapacity: 5, MaxCapacity: 80, InitialLevel: 20}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := New(horizon, 10, 10)
	require.NoError(t, err)
	require.NoError(t, s.SetObjective(prices, 0.5))
	require.NoError(t, s.AddStorageConstraints(storage))
	status, err := s.Solve(ctx)
	require.NoError(t, err)
	require.Equal(t, lp.StatusOptimal, status)
	assert.Greater(t, s.Objective(), 0.0)

	charge, discharge, err := s.CollectOutput()
	require.NoError(t, err)
	assertFeasible(t, scenario{horizon: horizon, maxCharge: 10, maxDischarge: 10, storage: storage}, charge, discharge)
}

func TestNewRejectsInvalidArguments(t *testing.T) {
	_, err := New(0, 1, 1)
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = New(4, -1, 1)
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = New(4, 1, -1)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestNonFiniteInputsAreRejected(t *testing.T) {
	nan, inf := math.NaN(), math.Inf(1)

	_, err := New(4, inf, 1)
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = New(4, 1, nan)
	assert.ErrorIs(t, err, ErrInvalidValue)

	s, err := New(3, 15, 15)
	require.NoError(t, err)
	assert.ErrorIs(t, s.SetObjective([]float64{1, nan, 3}, 0), ErrInvalidValue)
	assert.ErrorIs(t, s.SetObjective([]float64{1, 2, -inf}, 0), ErrInvalidValue)
	assert.ErrorIs(t, s.SetObjective([]float64{1, 2, 3}, nan), ErrInvalidValue)

	require.NoError(t, s.SetObjective([]float64{1, 2, 3}, 0))
	for name, mutate := range map[string]func(p *StorageParams){
		"efficiency":    func(p *StorageParams) { p.Efficiency = nan },
		"min capacity":  func(p *StorageParams) { p.MinCapacity = -inf },
		"max capacity":  func(p *StorageParams) { p.MaxCapacity = inf },
		"initial level": func(p *StorageParams) { p.InitialLevel = nan },
		"consumption":   func(p *StorageParams) { p.Consumption = []float64{0, nan, 0} },
	} {
		st := baseStorage()
		mutate(&st)
		assert.ErrorIs(t, s.AddStorageConstraints(st), ErrInvalidValue, name)
	}
	// nothing was added, the model is still solvable
	require.NoError(t, s.AddStorageConstraints(baseStorage()))
	status, err := s.Solve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lp.StatusOptimal, status)
}

func TestPriceLengthMismatch(t *testing.T) {
	s, err := New(4, 15, 15)
	require.NoError(t, err)
	err = s.SetObjective([]float64{1, 2, 3}, 0)
	require.ErrorIs(t, err, ErrDimensionMismatch)
	// no model was built
	assert.ErrorIs(t, s.AddStorageConstraints(baseStorage()), ErrPrecedence)
}

func TestConsumptionTooShort(t *testing.T) {
	s, err := New(4, 15, 15)
	require.NoError(t, err)
	require.NoError(t, s.SetObjective([]float64{1, 2, 3, 4}, 0))
	st := baseStorage()
	st.Consumption = []float64{1, 2}
	assert.ErrorIs(t, s.AddStorageConstraints(st), ErrDimensionMismatch)
}

func TestStorageParamValidation(t *testing.T) {
	s, err := New(2, 1, 1)
	require.NoError(t, err)
	require.NoError(t, s.SetObjective([]float64{1, 2}, 0))
	st := baseStorage()
	st.Efficiency = 0
	assert.ErrorIs(t, s.AddStorageConstraints(st), ErrInvalidValue)
	st = baseStorage()
	st.MaxCapacity = -1
	assert.ErrorIs(t, s.AddStorageConstraints(st), ErrInvalidValue)
}

func TestStagePrecedence(t *testing.T) {
	s, err := New(2, 1, 1)
	require.NoError(t, err)

	_, _, err = s.CollectOutput()
	assert.ErrorIs(t, err, ErrNotSolved)
	assert.ErrorIs(t, s.AddStorageConstraints(baseStorage()), ErrPrecedence)
	_, err = s.Solve(context.Background())
	assert.ErrorIs(t, err, ErrPrecedence)

	require.NoError(t, s.SetObjective([]float64{1, 2}, 0))
	_, err = s.Solve(context.Background())
	assert.ErrorIs(t, err, ErrPrecedence)
	_, _, err = s.CollectOutput()
	assert.ErrorIs(t, err, ErrNotSolved)

	require.NoError(t, s.AddStorageConstraints(baseStorage()))
	_, err = s.Solve(context.Background())
	require.NoError(t, err)

	// the model is consumed by Solve
	assert.ErrorIs(t, s.AddStorageConstraints(baseStorage()), ErrPrecedence)
	_, err = s.Solve(context.Background())
	assert.ErrorIs(t, err, ErrPrecedence)

	// a new objective starts a fresh run
	require.NoError(t, s.SetObjective([]float64{2, 1}, 0))
	assert.Equal(t, lp.StatusUndetermined, s.Status())
	_, _, err = s.CollectOutput()
	assert.ErrorIs(t, err, ErrNotSolved)
}

func TestInfeasibleModelFailsCollect(t *testing.T) {
	s, err := New(2, 0, 0)
	require.NoError(t, err)
	require.NoError(t, s.SetObjective([]float64{1, 1}, 0))
	st := baseStorage()
	st.Consumption = []float64{20, 20}
	require.NoError(t, s.AddStorageConstraints(st))

	status, err := s.Solve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lp.StatusInfeasible, status)
	assert.Equal(t, lp.StatusInfeasible, s.Status())
	_, _, err = s.CollectOutput()
	assert.ErrorIs(t, err, ErrNotSolved)
}

func readyScheduler(t *testing.T, solver lp.Solver) *Scheduler {
	t.Helper()
	s, err := New(2, 1, 1, WithSolver(solver))
	require.NoError(t, err)
	require.NoError(t, s.SetObjective([]float64{1, 2}, 0))
	require.NoError(t, s.AddStorageConstraints(baseStorage()))
	return s
}

func TestSolveHonorsContextDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	blocking := lp.SolveFunc(func(ctx context.Context, _ *lp.Problem) (lp.Solution, error) {
		<-release
		return lp.Solution{Status: lp.StatusOptimal}, nil
	})
	s := readyScheduler(t, blocking)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	status, err := s.Solve(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, lp.StatusUndetermined, status)
	_, _, err = s.CollectOutput()
	assert.ErrorIs(t, err, ErrNotSolved)
}

func TestSolveBackendFailure(t *testing.T) {
	boom := errors.New("boom")
	s := readyScheduler(t, lp.SolveFunc(func(context.Context, *lp.Problem) (lp.Solution, error) {
		return lp.Solution{}, boom
	}))
	status, err := s.Solve(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, lp.StatusUndetermined, status)

	s = readyScheduler(t, lp.SolveFunc(func(context.Context, *lp.Problem) (lp.Solution, error) {
		panic("bad pivot")
	}))
	_, err = s.Solve(context.Background())
	assert.ErrorContains(t, err, "bad pivot")
}

func TestCollectRejectsMissingValues(t *testing.T) {
	s := readyScheduler(t, lp.SolveFunc(func(context.Context, *lp.Problem) (lp.Solution, error) {
		return lp.Solution{Status: lp.StatusOptimal}, nil
	}))
	_, err := s.Solve(context.Background())
	require.NoError(t, err)
	_, _, err = s.CollectOutput()
	assert.ErrorIs(t, err, ErrNotSolved)
}

func TestCollectClampsRoundOff(t *testing.T) {
	s := readyScheduler(t, lp.SolveFunc(func(_ context.Context, p *lp.Problem) (lp.Solution, error) {
		return lp.Solution{Status: lp.StatusOptimal, Values: []float64{-1e-12, 1 + 1e-12, 0.5, 0}}, nil
	}))
	_, err := s.Solve(context.Background())
	require.NoError(t, err)
	charge, discharge, err := s.CollectOutput()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, charge)
	assert.Equal(t, []float64{0.5, 0}, discharge)
}

func TestStorageLevelsAsymmetricEfficiency(t *testing.T) {
	floor, ceiling := StorageLevels([]float64{10, 0}, []float64{0, 4}, StorageParams{
		Efficiency: 0.5, InitialLevel: 1, Consumption: []float64{1},
	})
	assert.InDeltaSlice(t, []float64{5, 1}, floor, eps)
	assert.InDeltaSlice(t, []float64{10, 8}, ceiling, eps)
}
