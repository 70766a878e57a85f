// Package scheduler builds and solves the battery arbitrage linear program.
//
// A Scheduler goes through four ordered stages: construction, SetObjective,
// AddStorageConstraints and Solve. CollectOutput reads the first day of the
// solved schedule. A Scheduler is not safe for concurrent use; build one per
// request.
package scheduler
