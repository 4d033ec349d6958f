// Package clock abstracts wall-clock time so the scheduler and dispatcher can be driven
// deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package the bot depends on.
type Clock interface {
	Now() time.Time
	// After returns a channel that receives once d has elapsed. d <= 0 delivers immediately.
	After(d time.Duration) <-chan time.Time
	// AfterFunc calls f once d has elapsed and returns a handle that can cancel the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending call created by AfterFunc.
type Timer interface {
	// Stop prevents the call from running. It reports false if the call already ran
	// or was stopped before.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
