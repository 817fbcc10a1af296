package bridge

import "sync"

// outbox is one renderer's outbound queue. Update calls coalesce: a queued
// update that has not been written yet is replaced by a newer one, so a slow
// renderer always ends on the latest snapshot. Other calls are dropped once
// limit calls are waiting.
type outbox struct {
	limit int
	ready chan struct{}

	mu     sync.Mutex
	calls  []string
	closed bool
}

func newOutbox(limit int) *outbox {
	return &outbox{limit: limit, ready: make(chan struct{}, 1)}
}

func (o *outbox) push(c string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errSessionClosed
	}

	if callKind(c) == FuncUpdate {
		for i, q := range o.calls {
			if callKind(q) == FuncUpdate {
				o.calls[i] = c
				o.signal()
				return nil
			}
		}
	} else if len(o.calls) >= o.limit {
		return errSlowRenderer
	}
	o.calls = append(o.calls, c)
	o.signal()
	return nil
}

func (o *outbox) signal() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}

// take removes and returns everything queued, oldest first.
func (o *outbox) take() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.calls
	o.calls = nil
	return out
}

func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.calls = nil
}
