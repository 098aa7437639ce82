//go:build linux

package bridge

import (
	"testing"

	"github.com/midibridged/midibridged/internal/discovery"
	"github.com/midibridged/midibridged/internal/eventloop"
	"github.com/midibridged/midibridged/internal/localmidi"
	"github.com/midibridged/midibridged/internal/router"
)

func TestMultiListenerCreatesNetworkPort(t *testing.T) {
	loop, err := eventloop.New()
	if err != nil {
		t.Fatalf("eventloop.New: %v", err)
	}
	defer loop.Release()

	seq := localmidi.NewMemSequencer()
	disc := discovery.NewMemDiscoverer()
	r := router.New()

	m, err := NewMultiListener(loop, r, seq, disc, "Network", "127.0.0.1", 0xAAAA, nil)
	if err != nil {
		t.Fatalf("NewMultiListener: %v", err)
	}
	if m.port == 0 {
		t.Fatal("expected a sequencer port to be created")
	}
}

func TestMultiListenerOpensListenerOnSubscribe(t *testing.T) {
	loop, err := eventloop.New()
	if err != nil {
		t.Fatalf("eventloop.New: %v", err)
	}
	defer loop.Release()

	seq := localmidi.NewMemSequencer()
	disc := discovery.NewMemDiscoverer()
	r := router.New()

	m, err := NewMultiListener(loop, r, seq, disc, "Network", "127.0.0.1", 0xAAAA, nil)
	if err != nil {
		t.Fatalf("NewMultiListener: %v", err)
	}

	seq.Subscribe(m.port, 10, "remote-app")

	if len(m.byName) != 1 {
		t.Fatalf("byName has %d entries, want 1", len(m.byName))
	}
	entry := m.byName["remote-app"]
	if entry == nil {
		t.Fatal("expected an entry for remote-app")
	}
	defer entry.listener.Close()

	if len(disc.Announced) != 1 || disc.Announced[0].Name != "remote-app" {
		t.Errorf("Announced = %+v, want one entry for remote-app", disc.Announced)
	}

	seq.Unsubscribe(m.port, 10)
	if _, ok := m.byName["remote-app"]; ok {
		t.Fatal("expected the entry to be removed after the last unsubscribe")
	}
	if len(disc.Unannounced) != 1 {
		t.Errorf("Unannounced = %+v, want one entry", disc.Unannounced)
	}
}

func TestMultiListenerSharesListenerAcrossSubscribersWithSameName(t *testing.T) {
	loop, err := eventloop.New()
	if err != nil {
		t.Fatalf("eventloop.New: %v", err)
	}
	defer loop.Release()

	seq := localmidi.NewMemSequencer()
	disc := discovery.NewMemDiscoverer()
	r := router.New()

	m, err := NewMultiListener(loop, r, seq, disc, "Network", "127.0.0.1", 0xAAAA, nil)
	if err != nil {
		t.Fatalf("NewMultiListener: %v", err)
	}

	seq.Subscribe(m.port, 10, "remote-app")
	seq.Subscribe(m.port, 11, "remote-app")

	entry := m.byName["remote-app"]
	if entry.useCount != 2 {
		t.Fatalf("useCount = %d, want 2", entry.useCount)
	}
	defer entry.listener.Close()

	seq.Unsubscribe(m.port, 10)
	if _, ok := m.byName["remote-app"]; !ok {
		t.Fatal("expected the entry to survive while one subscriber remains")
	}

	seq.Unsubscribe(m.port, 11)
	if _, ok := m.byName["remote-app"]; ok {
		t.Fatal("expected the entry to be removed once both subscribers leave")
	}
}
