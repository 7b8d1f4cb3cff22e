// Package tracing collects traces of the transactions that the bridge
// executes.
package tracing

import "github.com/sarchlab/cosim/sim"

// A Task is the trace of one transaction.
type Task struct {
	ID        string           `json:"id"`
	Kind      string           `json:"kind"`
	What      string           `json:"what"`
	Where     string           `json:"where"`
	StartTime sim.VTimeInCycle `json:"start_time"`
	EndTime   sim.VTimeInCycle `json:"end_time"`
	Detail    any              `json:"-"`
}

// TaskFilter is a function that can filter interesting tasks. If this function
// returns true, the task is considered useful.
type TaskFilter func(t Task) bool
