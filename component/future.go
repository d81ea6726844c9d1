package component

import "context"

// Future completes when a queued lifecycle operation has run.
type Future struct {
	done      chan struct{}
	destroyed <-chan struct{}
	ok        bool
}

func newFuture(destroyed <-chan struct{}) *Future {
	return &Future{done: make(chan struct{}), destroyed: destroyed}
}

func (f *Future) complete(ok bool) {
	f.ok = ok
	close(f.done)
}

// Done is closed once the operation has run.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the operation has run, the component is disposed, or
// ctx is done. The boolean is the operation's outcome: for Enable and
// Activate it reports whether the component ended up enabled or satisfied.
func (f *Future) Wait(ctx context.Context) (bool, error) {
	select {
	case <-f.done:
		return f.ok, nil
	default:
	}
	select {
	case <-f.done:
		return f.ok, nil
	case <-f.destroyed:
		select {
		case <-f.done:
			return f.ok, nil
		default:
			return false, nil
		}
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
