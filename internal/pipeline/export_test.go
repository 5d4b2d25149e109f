package pipeline

import "time"

// WithAfter overrides the wait between polling attempts in tests.
func WithAfter(after func(time.Duration) <-chan time.Time) Options {
	return func(o *options) {
		o.after = after
	}
}

// RunSteps exposes the recoverable step sequence for tests.
var RunSteps = (*Verifier).runSteps
