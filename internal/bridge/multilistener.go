// Package bridge's multi-listener adapter is linux-only: it opens
// rtpserver.Listener sockets, which require the eventloop's epoll
// integration.
//
//go:build linux

package bridge

import (
	"log/slog"

	"github.com/midibridged/midibridged/internal/discovery"
	"github.com/midibridged/midibridged/internal/eventloop"
	"github.com/midibridged/midibridged/internal/localmidi"
	"github.com/midibridged/midibridged/internal/router"
	"github.com/midibridged/midibridged/internal/rtppeer"
	"github.com/midibridged/midibridged/internal/rtpserver"
)

// MultiListener owns a single local sequencer port ("Network" by
// convention) that any number of local applications can subscribe to.
// Each distinct subscribing connection gets its own RTP-MIDI server
// listener, announced over discovery under the subscriber's name, so
// a remote RTP-MIDI client can find its way to that specific local
// application. Multiple subscriptions sharing the same remote name
// share one listener, reference-counted; the listener and its
// discovery announcement are torn down once the last subscriber to
// that name goes away.
type MultiListener struct {
	loop *eventloop.Loop
	r    *router.Router
	seq  localmidi.Sequencer
	disc discovery.Discoverer
	host string
	ssrc uint32
	log  *slog.Logger

	port localmidi.PortID

	byName  map[string]*listenerEntry
	byRPort map[int]string
}

type listenerEntry struct {
	listener *rtpserver.Listener
	useCount int
	localID  int
	// workerIDs holds the router id of every NetworkPeerWorker created
	// for a session accepted on this listener, so they can be removed
	// alongside the listener itself.
	workerIDs []int
}

// NewMultiListener creates the shared sequencer port named portName
// (conventionally "Network") on seq and prepares to spawn per-subscriber
// RTP-MIDI listeners as they appear. host is the bind address used for
// every spawned listener; ssrc is the local synchronization source
// advertised on each one.
func NewMultiListener(loop *eventloop.Loop, r *router.Router, seq localmidi.Sequencer, disc discovery.Discoverer, portName, host string, ssrc uint32, log *slog.Logger) (*MultiListener, error) {
	if log == nil {
		log = slog.Default()
	}
	port, err := seq.CreatePort(portName)
	if err != nil {
		return nil, err
	}
	m := &MultiListener{
		loop: loop, r: r, seq: seq, disc: disc, host: host, ssrc: ssrc, log: log,
		port: port, byName: make(map[string]*listenerEntry), byRPort: make(map[int]string),
	}
	seq.OnSubscribe(port, m.onSubscribe)
	seq.OnUnsubscribe(port, m.onUnsubscribe)
	return m, nil
}

func (m *MultiListener) onSubscribe(remotePort int, remoteName string) {
	m.byRPort[remotePort] = remoteName

	if entry, ok := m.byName[remoteName]; ok {
		entry.useCount++
		m.log.Info("additional subscriber for existing network listener", "name", remoteName, "count", entry.useCount)
		return
	}

	listener, err := rtpserver.Open(m.loop, m.host, 0, remoteName, m.ssrc, m.log)
	if err != nil {
		m.log.Warn("failed to open network listener for new subscription", "name", remoteName, "error", err)
		return
	}

	local := NewLocalWorker(m.seq, m.port, remoteName)
	localID := local.Attach(m.r)

	entry := &listenerEntry{listener: listener, useCount: 1, localID: localID}
	m.byName[remoteName] = entry

	listener.OnNewPeer(func(peer *rtppeer.Peer) {
		worker := NewNetworkPeerWorker(peer, "network-server")
		workerID := worker.Attach(m.r, func(f func()) { m.loop.CallLater(f) })
		entry.workerIDs = append(entry.workerIDs, workerID)
		m.r.Connect(localID, workerID)
		m.r.Connect(workerID, localID)
	})

	if m.disc != nil {
		if err := m.disc.Announce(remoteName, listener.ControlPort()); err != nil {
			m.log.Warn("failed to announce network listener", "name", remoteName, "error", err)
		}
	}
}

func (m *MultiListener) onUnsubscribe(remotePort int) {
	name, ok := m.byRPort[remotePort]
	if !ok {
		return
	}
	delete(m.byRPort, remotePort)

	entry, ok := m.byName[name]
	if !ok {
		return
	}
	entry.useCount--
	if entry.useCount > 0 {
		return
	}
	delete(m.byName, name)

	if m.disc != nil {
		_ = m.disc.Unannounce(name, entry.listener.ControlPort())
	}
	m.r.RemovePeer(entry.localID)
	for _, id := range entry.workerIDs {
		m.r.RemovePeer(id)
	}
	_ = entry.listener.Close()
}
