package crawler

import (
	"context"
	"time"
)

// Driver abstracts the browser automation engine. Implementations launch
// real browser processes; tests substitute fakes. All navigation failure
// modes collapse to the Result status (TIMEOUT/FAILED/SUCCESS).
type Driver interface {
	// Launch starts a fresh browser instance. The returned Instance owns
	// the underlying process and must be Terminated by the caller.
	Launch(ctx context.Context) (Instance, error)
}

// Instance is a single running browser engine.
type Instance interface {
	// ID identifies this launch; a restarted instance has a new ID.
	ID() string
	// NewPageContext opens an isolated, single-use execution context.
	// Contexts share no cookies, cache, or storage with one another.
	NewPageContext(ctx context.Context) (PageContext, error)
	// Terminate tears down the instance and every context it holds.
	Terminate()
}

// PageContext is a sandboxed page usable for exactly one navigation.
type PageContext interface {
	// Navigate drives the page to url, capturing initial and rendered byte
	// counts and wall-clock elapsed time. Exceeding timeout yields a
	// TIMEOUT result with whatever was measured; driver errors yield
	// FAILED. Navigate never returns a Go error for task-level failures.
	Navigate(ctx context.Context, url string, timeout time.Duration) Result
	// Close destroys the context. Safe to call after any outcome.
	Close()
}

// Gate answers whether it is safe to start one more unit of work.
type Gate interface {
	Admit() bool
}

// Sink accepts results in completion order. Record must tolerate concurrent
// in-flight tasks finishing while the supervisor drains; Flush makes the
// captured set durable and must lose nothing already recorded.
type Sink interface {
	Record(Result)
	Flush() error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock Clock used outside tests.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time { return time.Now() }
