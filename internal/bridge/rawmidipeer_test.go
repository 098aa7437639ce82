//go:build linux

package bridge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/midibridged/midibridged/internal/eventloop"
	"github.com/midibridged/midibridged/internal/router"
)

func TestRawMIDIPeerOpensLazilyOnFirstEdge(t *testing.T) {
	loop, err := eventloop.New()
	if err != nil {
		t.Fatalf("eventloop.New: %v", err)
	}
	defer loop.Release()

	device := filepath.Join(t.TempDir(), "midi0")
	p := NewRawMIDIPeer(loop, "raw0", device, nil)
	r := router.New()
	id := p.Attach(r)
	other := r.AddPeer(&recordingPeer{})

	if p.fd >= 0 {
		t.Fatal("expected the device to stay closed before any edge connects")
	}

	r.Connect(other, id)

	if p.fd < 0 {
		t.Fatal("expected the device to open once an edge connects")
	}
	if st := p.Status().Fields["status"]; st != "open" {
		t.Errorf("status field = %v, want open", st)
	}

	r.Disconnect(other, id)
	if p.fd >= 0 {
		t.Fatal("expected the device to close once its last edge disconnects")
	}
}

func TestRawMIDIPeerNormalizesInboundBytes(t *testing.T) {
	loop, err := eventloop.New()
	if err != nil {
		t.Fatalf("eventloop.New: %v", err)
	}
	defer loop.Release()

	device := filepath.Join(t.TempDir(), "midi0")
	p := NewRawMIDIPeer(loop, "raw0", device, nil)
	r := router.New()
	id := p.Attach(r)
	sink := &recordingPeer{}
	sinkID := r.AddPeer(sink)
	other := r.AddPeer(&recordingPeer{})
	r.Connect(other, id)
	r.Connect(id, sinkID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go loop.Run(ctx)

	writeFd, err := unix.Open(device, unix.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open device for writing: %v", err)
	}
	defer unix.Close(writeFd)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := unix.Write(writeFd, []byte{0x90, 0x40, 0x7F}); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(sink.received) == 0 {
		time.Sleep(10 * time.Millisecond)
	}

	if len(sink.received) != 1 {
		t.Fatalf("sink received %d messages, want 1", len(sink.received))
	}
}
