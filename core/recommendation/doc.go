// Package recommendation turns price and consumption series into a
// charge/discharge schedule for a battery.
//
// A Service keeps only the observations after the reference time, solves
// the arbitrage program for every remaining hour and reports the first
// OutputHours set points together with the expected profit over the
// whole horizon.
package recommendation
