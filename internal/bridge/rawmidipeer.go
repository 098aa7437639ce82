// Package bridge's raw-MIDI file peer is linux-only: it opens a
// character device or named pipe directly and registers its file
// descriptor with the eventloop.
//
//go:build linux

package bridge

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/google/uuid"

	"github.com/midibridged/midibridged/internal/eventloop"
	"github.com/midibridged/midibridged/internal/router"
	"github.com/midibridged/midibridged/internal/rtpmidi"
)

// RawMIDIPeer bridges the router to a raw MIDI character device or
// named pipe (a hardware serial MIDI port, or a FIFO another process
// writes/reads raw bytes on). It mirrors the daemon's other device
// peers in opening the device lazily: the file descriptor is only
// held open while at least one router edge touches this peer, so an
// unused configuration entry costs nothing and a device that won't
// open doesn't block startup.
type RawMIDIPeer struct {
	loop   *eventloop.Loop
	name   string
	device string
	log    *slog.Logger

	r  *router.Router
	id int

	fd       int
	listener *eventloop.Listener
	norm     rtpmidi.Normalizer

	edges int
}

// NewRawMIDIPeer prepares a peer for device, identified as name in
// status reports. The device is not opened until the first router
// edge connects to or from this peer.
func NewRawMIDIPeer(loop *eventloop.Loop, name, device string, log *slog.Logger) *RawMIDIPeer {
	if log == nil {
		log = slog.Default()
	}
	return &RawMIDIPeer{loop: loop, name: name, device: device, log: log, fd: -1}
}

// Attach registers p with r.
func (p *RawMIDIPeer) Attach(r *router.Router) int {
	p.r = r
	p.id = r.AddPeer(p)
	return p.id
}

// SendMIDI implements router.Peer: bytes from another node are written
// straight to the device, unframed.
func (p *RawMIDIPeer) SendMIDI(fromID int, data []byte) error {
	if p.fd < 0 {
		return nil
	}
	if _, err := unix.Write(p.fd, data); err != nil {
		p.log.Warn("error writing raw midi device", "device", p.device, "error", err)
	}
	return nil
}

// Status implements router.Peer.
func (p *RawMIDIPeer) Status() router.Status {
	status := "closed"
	if p.fd >= 0 {
		status = "open"
	}
	return router.Status{
		Name: p.name,
		Kind: "raw-midi-file",
		Fields: map[string]any{
			"device": p.device,
			"status": status,
		},
	}
}

// PeerEvent implements router.EventAware: the device is opened on the
// first connected edge and closed on the last disconnected one.
func (p *RawMIDIPeer) PeerEvent(kind router.EventKind, otherID int) {
	switch kind {
	case router.EventConnectedPeer:
		p.edges++
		if p.edges == 1 {
			p.open()
		}
	case router.EventDisconnectedPeer:
		p.edges--
		if p.edges <= 0 {
			p.edges = 0
			p.close()
		}
	}
}

func (p *RawMIDIPeer) open() {
	p.log.Info("opening raw midi device", "device", p.device)
	fd, err := unix.Open(p.device, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err == unix.ENOENT {
		fifoPath := p.device
		p.log.Warn("raw midi device does not exist, creating a fifo", "device", fifoPath)
		mkErr := unix.Mkfifo(fifoPath, 0666)
		if mkErr == unix.EEXIST {
			// Something that isn't our fifo already occupies this path
			// (a stale socket, another instance's pipe). Fall back to a
			// sibling path so this peer can still come up instead of
			// failing outright.
			fifoPath = fmt.Sprintf("%s.%s", p.device, uuid.NewString())
			p.log.Warn("fifo path occupied, using a sibling path", "device", p.device, "fifo", fifoPath)
			mkErr = unix.Mkfifo(fifoPath, 0666)
		}
		if mkErr == nil {
			fd, err = unix.Open(fifoPath, unix.O_RDWR|unix.O_NONBLOCK, 0)
		}
	}
	if err != nil {
		p.log.Error("error opening raw midi device", "device", p.device, "error", err)
		return
	}
	p.fd = fd
	listener, lerr := p.loop.AddReader(fd, p.onReadable)
	if lerr != nil {
		p.log.Warn("error registering raw midi device with the event loop, write-only", "device", p.device, "error", lerr)
		return
	}
	p.listener = listener
}

func (p *RawMIDIPeer) close() {
	if p.fd < 0 {
		return
	}
	p.log.Info("closing raw midi device", "device", p.device)
	if p.listener != nil {
		p.listener.Stop()
		p.listener = nil
	}
	unix.Close(p.fd)
	p.fd = -1
}

func (p *RawMIDIPeer) onReadable(fd int) {
	buf := make([]byte, 256)
	n, err := unix.Read(fd, buf)
	if err != nil || n <= 0 {
		return
	}
	p.norm.Feed(buf[:n], func(msg []byte) {
		p.r.SendMIDI(p.id, msg)
	})
}
