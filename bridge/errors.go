package bridge

import "errors"

// Protocol misuse errors. They are fatal for the node that raised them: the
// first one is latched and returned from every later call on that node.
var (
	// ErrQueueOverflow is returned when a node posts more transactions than
	// its queue can hold under the OverflowFail policy.
	ErrQueueOverflow = errors.New("transaction queue overflow")

	// ErrCheckUnderflow is returned when a deferred read-data check is issued
	// with no asynchronous read left to check.
	ErrCheckUnderflow = errors.New("deferred check without an outstanding read")

	// ErrPhaseMismatch is returned when write address and write data phases
	// are unbalanced at a point where all posted work must be complete.
	ErrPhaseMismatch = errors.New("unpaired write address/data phases")

	// ErrLaneMismatch is returned when a byte lane does not agree with the
	// address it is paired with, or a sub-word does not fit the bus word.
	ErrLaneMismatch = errors.New("byte lane does not match address")

	// ErrInvalidWidth is returned for scalar widths other than 8, 16 and 32
	// bits.
	ErrInvalidWidth = errors.New("invalid transfer width")

	// ErrNodeFinished is returned for calls made after the node signalled the
	// end of its run.
	ErrNodeFinished = errors.New("node already finished")

	// ErrAborted is returned to callers waiting on a node whose simulation
	// stopped before their transaction could execute.
	ErrAborted = errors.New("simulation aborted")
)
