// Package bridge's waiter adapter is linux-only: it drives an
// rtpclient.Connector, which owns udpendpoint sockets registered with
// the eventloop's epoll integration.
//
//go:build linux

package bridge

import (
	"log/slog"

	"github.com/midibridged/midibridged/internal/eventloop"
	"github.com/midibridged/midibridged/internal/localmidi"
	"github.com/midibridged/midibridged/internal/router"
	"github.com/midibridged/midibridged/internal/rtpclient"
)

// Waiter is a local sequencer port that stays idle until the first
// local application subscribes to it. At that point it dials a known
// remote RTP-MIDI endpoint via an rtpclient.Connector, wires the
// resulting session into the router alongside a worker for the local
// port, and tears both down once the last subscriber leaves. This is
// the shape used both for connect_to[] entries configured with a fixed
// host/port and for services found through discovery.
type Waiter struct {
	loop      *eventloop.Loop
	r         *router.Router
	seq       localmidi.Sequencer
	name      string
	localSSRC uint32
	endpoints []rtpclient.Endpoint
	log       *slog.Logger

	port localmidi.PortID

	useCount  int
	localID   int
	workerID  int
	connector *rtpclient.Connector
}

// NewWaiter creates the local port (named name) and prepares to dial
// endpoints on first subscription.
func NewWaiter(loop *eventloop.Loop, r *router.Router, seq localmidi.Sequencer, name string, localSSRC uint32, endpoints []rtpclient.Endpoint, log *slog.Logger) (*Waiter, error) {
	if log == nil {
		log = slog.Default()
	}
	port, err := seq.CreatePort(name)
	if err != nil {
		return nil, err
	}
	w := &Waiter{
		loop: loop, r: r, seq: seq, name: name, localSSRC: localSSRC,
		endpoints: endpoints, log: log, port: port,
	}
	seq.OnSubscribe(port, w.onSubscribe)
	seq.OnUnsubscribe(port, w.onUnsubscribe)
	return w, nil
}

func (w *Waiter) onSubscribe(remotePort int, remoteName string) {
	w.useCount++
	if w.useCount > 1 {
		return
	}

	local := NewLocalWorker(w.seq, w.port, w.name)
	w.localID = local.Attach(w.r)

	w.connector = rtpclient.New(w.loop, w.name, w.localSSRC, w.endpoints, w.log)
	if err := w.connector.Start(); err != nil {
		w.log.Warn("waiter failed to start connector", "name", w.name, "error", err)
		w.r.RemovePeer(w.localID)
		w.useCount = 0
		return
	}

	network := NewNetworkPeerWorker(w.connector.Peer(), "network-client")
	w.workerID = network.Attach(w.r, func(f func()) { w.loop.CallLater(f) })
	w.r.Connect(w.localID, w.workerID)
	w.r.Connect(w.workerID, w.localID)
}

func (w *Waiter) onUnsubscribe(remotePort int) {
	if w.useCount == 0 {
		return
	}
	w.useCount--
	if w.useCount > 0 {
		return
	}

	if w.connector != nil {
		_ = w.connector.Stop()
		w.connector = nil
	}
	w.r.RemovePeer(w.localID)
	w.r.RemovePeer(w.workerID)
}
