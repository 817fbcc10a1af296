package bridge

import (
	"errors"
	"reflect"
	"testing"
)

type recorder struct {
	calls []string
	err   error
}

func (r *recorder) send(c string) error {
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, c)
	return nil
}

func TestGateBuffersLatestUntilReady(t *testing.T) {
	rec := &recorder{}
	g := NewGate(rec.send)

	for _, c := range []string{"u1", "u2", "u3"} {
		sent, err := g.Publish(c)
		if sent || err != nil {
			t.Fatalf("Publish before ready: sent=%v err=%v", sent, err)
		}
	}
	if len(rec.calls) != 0 {
		t.Fatalf("nothing should be sent before ready, got %v", rec.calls)
	}

	if err := g.MarkReady("role"); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	if want := []string{"role", "u3"}; !reflect.DeepEqual(rec.calls, want) {
		t.Fatalf("got %v, want %v", rec.calls, want)
	}
}

func TestGateReadyWithoutPending(t *testing.T) {
	rec := &recorder{}
	g := NewGate(rec.send)
	_ = g.MarkReady("role")
	if want := []string{"role"}; !reflect.DeepEqual(rec.calls, want) {
		t.Fatalf("got %v, want %v", rec.calls, want)
	}
}

func TestGateMarkReadyOnce(t *testing.T) {
	rec := &recorder{}
	g := NewGate(rec.send)
	_, _ = g.Publish("u1")
	_ = g.MarkReady("role")
	_ = g.MarkReady("role")
	if len(rec.calls) != 2 {
		t.Fatalf("second MarkReady should be a no-op, got %v", rec.calls)
	}
}

func TestGatePublishWhenReady(t *testing.T) {
	rec := &recorder{}
	g := NewGate(rec.send)
	_ = g.MarkReady()
	sent, err := g.Publish("u1")
	if !sent || err != nil {
		t.Fatalf("Publish after ready: sent=%v err=%v", sent, err)
	}
}

func TestGateSendDoesNotBuffer(t *testing.T) {
	rec := &recorder{}
	g := NewGate(rec.send)
	if sent, _ := g.Send("notice"); sent {
		t.Fatal("Send before ready should not deliver")
	}
	_, _ = g.Publish("u1")
	_ = g.MarkReady()
	if want := []string{"u1"}; !reflect.DeepEqual(rec.calls, want) {
		t.Fatalf("Send must not displace the pending update: got %v", rec.calls)
	}
}

func TestGateTearDown(t *testing.T) {
	rec := &recorder{}
	g := NewGate(rec.send)
	_, _ = g.Publish("u1")
	g.TearDown()

	if g.Accepting() {
		t.Fatal("torn down gate should not accept")
	}
	_ = g.MarkReady("role")
	_, _ = g.Publish("u2")
	if len(rec.calls) != 0 {
		t.Fatalf("nothing should be sent after teardown, got %v", rec.calls)
	}
	if g.State() != TornDown {
		t.Fatalf("state: got %s", g.State())
	}
}

func TestGateAccepting(t *testing.T) {
	g := NewGate((&recorder{}).send)
	if g.Accepting() {
		t.Fatal("uninitialized gate should not accept")
	}
	_ = g.MarkReady()
	if !g.Accepting() {
		t.Fatal("ready gate should accept")
	}
}

func TestGateSendError(t *testing.T) {
	boom := errors.New("closed")
	g := NewGate((&recorder{err: boom}).send)
	_, _ = g.Publish("u1")
	if err := g.MarkReady("role"); !errors.Is(err, boom) {
		t.Fatalf("expected send error from MarkReady, got %v", err)
	}
}
