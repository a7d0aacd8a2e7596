package scheduler

import "context"

// BlockCallback fires every interval blocks. A callback that misses several
// boundaries fires once when it next runs, not once per missed boundary.
type BlockCallback struct {
	LastTriggerAtBlock int
	// pending is set when an execution fails before the first success
	pending bool
	// interval is the number of blocks between triggers
	interval  int
	executeFn func(ctx context.Context, block int) error
}

type CallbackHandler interface {
	// ShouldTrigger reports whether the callback is due at block.
	ShouldTrigger(block int) bool
	// Execute runs the callback for block and records it as the last trigger on success.
	Execute(ctx context.Context, block int) error
	// Returns the name of the callback, which may be inferred from the function name
	GetName() string
}
