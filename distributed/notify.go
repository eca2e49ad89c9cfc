package distributed

import "context"

// notify is the "has_messages" wake primitive (spec §4.6): a single-slot
// signal that coalesces any number of Signal calls between two Wait calls
// into one wakeup.
type notify struct {
	ch chan struct{}
}

func newNotify() *notify {
	return &notify{ch: make(chan struct{}, 1)}
}

// Signal wakes a pending (or the next) Wait. Never blocks.
func (n *notify) Signal() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until Signal has been called at least once since the last
// Wait returned, or ctx is done.
func (n *notify) Wait(ctx context.Context) error {
	select {
	case <-n.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
