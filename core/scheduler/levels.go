package scheduler

// StorageLevels replays the cumulative balances checked by the storage
// constraints for the given schedule. floor[h-1] is the balance compared to
// the minimum capacity after hour h and ceiling[h-1] the one compared to the
// maximum capacity. They coincide when efficiency is 1. Missing consumption
// counts as zero.
func StorageLevels(charge, discharge []float64, p StorageParams) (floor, ceiling []float64) {
	n := min(len(charge), len(discharge))
	floor = make([]float64, n)
	ceiling = make([]float64, n)
	lo, hi := p.InitialLevel, p.InitialLevel
	for i := 0; i < n; i++ {
		var cons float64
		if i < len(p.Consumption) {
			cons = p.Consumption[i]
		}
		lo += p.Efficiency*charge[i] - discharge[i] - cons
		hi += charge[i] - p.Efficiency*discharge[i] - cons
		floor[i] = lo
		ceiling[i] = hi
	}
	return floor, ceiling
}

// Profit returns Σ discharge_i·(price_i − fee) − charge_i·(price_i + fee)
// over the hours covered by all three slices.
func Profit(charge, discharge, prices []float64, networkFee float64) float64 {
	n := min(len(charge), len(discharge), len(prices))
	var total float64
	for i := 0; i < n; i++ {
		total += discharge[i]*(prices[i]-networkFee) - charge[i]*(prices[i]+networkFee)
	}
	return total
}
