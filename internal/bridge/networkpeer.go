package bridge

import (
	"time"

	"github.com/midibridged/midibridged/internal/router"
	"github.com/midibridged/midibridged/internal/rtppeer"
)

// NetworkPeerWorker adapts one rtppeer.Peer session — whether owned by
// the server listener or the client connector — to the router.Peer
// contract: router-originated bytes become an RTP-MIDI send, and bytes
// the peer decodes off the wire are forwarded into the router under
// this worker's assigned id.
type NetworkPeerWorker struct {
	peer  *rtppeer.Peer
	kind  string
	start time.Time
	seq   uint16

	r  *router.Router
	id int
}

// NewNetworkPeerWorker wraps peer for router participation. kind
// distinguishes a server-accepted session ("network-server") from a
// client-initiated one ("network-client") in status reports.
func NewNetworkPeerWorker(peer *rtppeer.Peer, kind string) *NetworkPeerWorker {
	return &NetworkPeerWorker{peer: peer, kind: kind, start: time.Now()}
}

// Attach registers w with r and wires the peer's decoded MIDI events to
// flow into the router under the returned id. callLater is the
// enclosing event loop's deferred-call queue: the peer's Disconnected
// signal removes w from the router through it rather than directly,
// since the removal must never run from inside the signal emission
// that triggered it.
func (w *NetworkPeerWorker) Attach(r *router.Router, callLater func(func())) int {
	w.r = r
	w.id = r.AddPeer(w)
	w.peer.MIDIReceived.Connect(func(data []byte) {
		r.SendMIDI(w.id, data)
	})
	w.peer.Disconnected.Connect(func(rtppeer.DisconnectReason) {
		callLater(func() { r.RemovePeer(w.id) })
	})
	return w.id
}

// SendMIDI implements router.Peer: data arriving from another router
// node is sent out over this session's MIDI port.
func (w *NetworkPeerWorker) SendMIDI(fromID int, data []byte) error {
	w.seq++
	ts := uint32(time.Since(w.start).Microseconds() / 100)
	return w.peer.SendMIDI(w.seq, ts, data)
}

// Status implements router.Peer.
func (w *NetworkPeerWorker) Status() router.Status {
	return router.Status{
		Name: w.peer.RemoteName(),
		Kind: w.kind,
		Fields: map[string]any{
			"status":      w.peer.CurrentStatus().String(),
			"remote_ssrc": w.peer.RemoteSSRC(),
			"local_ssrc":  w.peer.LocalSSRC,
		},
	}
}

// PeerEvent implements router.EventAware and ignores edge changes: the
// underlying session's own lifecycle is driven by its handshake and
// disconnect, not by router edges.
func (w *NetworkPeerWorker) PeerEvent(kind router.EventKind, otherID int) {}
