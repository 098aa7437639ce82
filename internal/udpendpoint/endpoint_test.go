//go:build linux

package udpendpoint

import (
	"context"
	"testing"
	"time"

	"github.com/midibridged/midibridged/internal/eventloop"
)

func TestSendReceiveLoopback(t *testing.T) {
	loop, err := eventloop.New()
	if err != nil {
		t.Fatalf("eventloop.New: %v", err)
	}

	a, err := Open(loop, "127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	defer a.Close()
	b, err := Open(loop, "127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}
	defer b.Close()

	received := make(chan Packet, 1)
	b.OnRead().Connect(func(p Packet) { received <- p })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- loop.Run(ctx) }()

	if err := a.Send([]byte("hello"), "127.0.0.1", b.Port()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case p := <-received:
		if string(p.Data) != "hello" {
			t.Fatalf("got %q, want %q", p.Data, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}

	cancel()
	<-runDone
	loop.Release()
}

func TestAddressCacheEviction(t *testing.T) {
	loop, err := eventloop.New()
	if err != nil {
		t.Fatalf("eventloop.New: %v", err)
	}
	defer loop.Release()

	ep, err := Open(loop, "127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ep.Close()

	for i := 0; i < maxAddressCache+5; i++ {
		if _, err := ep.resolveCached("127.0.0.1", 20000+i); err != nil {
			t.Fatalf("resolveCached: %v", err)
		}
	}
	if len(ep.cache) != maxAddressCache {
		t.Fatalf("cache size = %d, want %d", len(ep.cache), maxAddressCache)
	}
}
