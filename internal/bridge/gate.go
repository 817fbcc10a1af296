package bridge

import "sync"

// State is the lifecycle of one renderer.
type State int

const (
	Uninitialized State = iota
	Ready
	TornDown
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case TornDown:
		return "torn_down"
	default:
		return "uninitialized"
	}
}

// SendFunc delivers one call to the renderer.
type SendFunc func(call string) error

// Gate holds outbound calls until the renderer reports ready. Only the
// latest published call is kept while waiting. Sends are serialized.
type Gate struct {
	send SendFunc

	mu         sync.Mutex
	state      State
	pending    string
	hasPending bool
}

// NewGate returns an Uninitialized gate that delivers through send.
func NewGate(send SendFunc) *Gate {
	return &Gate{send: send}
}

// Publish delivers call now if the renderer is ready, keeps it as the pending
// call if not yet ready, and drops it after teardown. sent reports whether
// the call was handed to the renderer.
func (g *Gate) Publish(call string) (sent bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case Uninitialized:
		g.pending = call
		g.hasPending = true
		return false, nil
	case Ready:
		return true, g.send(call)
	default:
		return false, nil
	}
}

// Send delivers call only if the renderer is ready. Nothing is buffered.
func (g *Gate) Send(call string) (sent bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Ready {
		return false, nil
	}
	return true, g.send(call)
}

// MarkReady transitions to Ready, sends preamble in order, then replays the
// pending call if any. Only the first call has an effect.
func (g *Gate) MarkReady(preamble ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != Uninitialized {
		return nil
	}
	g.state = Ready

	for _, c := range preamble {
		if err := g.send(c); err != nil {
			return err
		}
	}
	if g.hasPending {
		c := g.pending
		g.pending, g.hasPending = "", false
		return g.send(c)
	}
	return nil
}

// TearDown makes the gate terminal. Later calls are dropped.
func (g *Gate) TearDown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = TornDown
	g.pending, g.hasPending = "", false
}

// Accepting reports whether the renderer is ready to exchange calls.
func (g *Gate) Accepting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == Ready
}

// State returns the current lifecycle state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
