//go:build linux

package bridge

import (
	"testing"

	"github.com/midibridged/midibridged/internal/eventloop"
	"github.com/midibridged/midibridged/internal/localmidi"
	"github.com/midibridged/midibridged/internal/router"
	"github.com/midibridged/midibridged/internal/rtpclient"
)

func TestWaiterDialsOnFirstSubscription(t *testing.T) {
	loop, err := eventloop.New()
	if err != nil {
		t.Fatalf("eventloop.New: %v", err)
	}
	defer loop.Release()

	seq := localmidi.NewMemSequencer()
	r := router.New()

	w, err := NewWaiter(loop, r, seq, "studio", 0xBEEF, []rtpclient.Endpoint{{Host: "127.0.0.1", Port: 15004}}, nil)
	if err != nil {
		t.Fatalf("NewWaiter: %v", err)
	}

	seq.Subscribe(w.port, 20, "remote")

	if w.connector == nil {
		t.Fatal("expected a connector to be started on first subscription")
	}
	if _, ok := r.StatusReport().Peers[w.localID]; !ok {
		t.Fatal("expected the local worker to be registered with the router")
	}
	if _, ok := r.StatusReport().Peers[w.workerID]; !ok {
		t.Fatal("expected the network worker to be registered with the router")
	}
}

func TestWaiterIgnoresAdditionalSubscriptionsWhileActive(t *testing.T) {
	loop, err := eventloop.New()
	if err != nil {
		t.Fatalf("eventloop.New: %v", err)
	}
	defer loop.Release()

	seq := localmidi.NewMemSequencer()
	r := router.New()

	w, err := NewWaiter(loop, r, seq, "studio", 0xBEEF, []rtpclient.Endpoint{{Host: "127.0.0.1", Port: 15004}}, nil)
	if err != nil {
		t.Fatalf("NewWaiter: %v", err)
	}

	seq.Subscribe(w.port, 20, "remote-a")
	firstLocalID := w.localID
	seq.Subscribe(w.port, 21, "remote-b")

	if w.localID != firstLocalID {
		t.Fatal("expected the second subscription to reuse the existing worker")
	}
	if w.useCount != 2 {
		t.Fatalf("useCount = %d, want 2", w.useCount)
	}
}

func TestWaiterTearsDownOnLastUnsubscribe(t *testing.T) {
	loop, err := eventloop.New()
	if err != nil {
		t.Fatalf("eventloop.New: %v", err)
	}
	defer loop.Release()

	seq := localmidi.NewMemSequencer()
	r := router.New()

	w, err := NewWaiter(loop, r, seq, "studio", 0xBEEF, []rtpclient.Endpoint{{Host: "127.0.0.1", Port: 15004}}, nil)
	if err != nil {
		t.Fatalf("NewWaiter: %v", err)
	}

	seq.Subscribe(w.port, 20, "remote-a")
	seq.Subscribe(w.port, 21, "remote-b")
	seq.Unsubscribe(w.port, 20)
	if w.useCount != 1 {
		t.Fatalf("useCount = %d after one unsubscribe, want 1", w.useCount)
	}
	seq.Unsubscribe(w.port, 21)
	if w.useCount != 0 {
		t.Fatalf("useCount = %d after both unsubscribe, want 0", w.useCount)
	}
	if _, ok := r.StatusReport().Peers[w.localID]; ok {
		t.Fatal("expected the local worker to be removed once all subscribers left")
	}
}
