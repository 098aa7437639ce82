// Package router implements the process-wide peer graph: named nodes,
// directed edges between them, and MIDI fan-out along those edges.
package router

import (
	"sort"
	"sync"
)

// Peer is anything that can sit in the router graph: it receives MIDI
// bytes originating at another node, reports a status summary, and is
// optionally notified when edges connect or disconnect so it can open
// or release underlying resources (e.g. a raw-MIDI device).
type Peer interface {
	SendMIDI(fromID int, data []byte) error
	Status() Status
}

// EventAware is implemented by peers that need connection-count
// notifications (CONNECTED_PEER / DISCONNECTED_PEER).
type EventAware interface {
	PeerEvent(kind EventKind, otherID int)
}

// EventKind distinguishes router-edge notifications.
type EventKind int

const (
	EventConnectedPeer EventKind = iota
	EventDisconnectedPeer
)

// Status is a peer's self-description, plus what the router itself
// knows about it (its edges and traffic counters).
type Status struct {
	Name        string
	Kind        string
	Fields      map[string]any
	Edges       []int
	SentCount   uint64
	RecvCount   uint64
}

type node struct {
	id    int
	peer  Peer
	edges []int
	sent  uint64
	recv  uint64
}

// Router is a shared, concurrency-safe graph of peers and directed
// edges between them, used to fan MIDI traffic from any source node
// out to every node it's connected to.
type Router struct {
	mu       sync.Mutex
	nodes    map[int]*node
	nextID   int

	onAdded   func(id int)
	onRemoved func(id int)
}

// New creates an empty router.
func New() *Router {
	return &Router{nodes: make(map[int]*node), nextID: 1}
}

// OnAdded and OnRemoved register observers for peer lifecycle events.
func (r *Router) OnAdded(f func(id int))   { r.onAdded = f }
func (r *Router) OnRemoved(f func(id int)) { r.onRemoved = f }

// AddPeer registers peer and returns its assigned id, a monotonically
// increasing counter starting at 1.
func (r *Router) AddPeer(peer Peer) int {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.nodes[id] = &node{id: id, peer: peer}
	r.mu.Unlock()

	if r.onAdded != nil {
		r.onAdded(id)
	}
	return id
}

// RemovePeer drops the node with id and prunes every edge referencing
// it. Idempotent.
func (r *Router) RemovePeer(id int) {
	r.mu.Lock()
	if _, ok := r.nodes[id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.nodes, id)
	for _, n := range r.nodes {
		n.edges = removeID(n.edges, id)
	}
	r.mu.Unlock()

	if r.onRemoved != nil {
		r.onRemoved(id)
	}
}

func removeID(ids []int, target int) []int {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// Connect appends toID to fromID's edge list unless already present,
// and notifies both peers' EventAware implementations.
func (r *Router) Connect(fromID, toID int) {
	r.mu.Lock()
	from, fromOK := r.nodes[fromID]
	_, toOK := r.nodes[toID]
	if !fromOK || !toOK {
		r.mu.Unlock()
		return
	}
	for _, id := range from.edges {
		if id == toID {
			r.mu.Unlock()
			return
		}
	}
	from.edges = append(from.edges, toID)
	to := r.nodes[toID]
	r.mu.Unlock()

	notifyEvent(from.peer, EventConnectedPeer, toID)
	notifyEvent(to.peer, EventConnectedPeer, fromID)
}

// Disconnect removes the fromID→toID edge if present.
func (r *Router) Disconnect(fromID, toID int) {
	r.mu.Lock()
	from, ok := r.nodes[fromID]
	if !ok {
		r.mu.Unlock()
		return
	}
	before := len(from.edges)
	from.edges = removeID(from.edges, toID)
	changed := len(from.edges) != before
	to := r.nodes[toID]
	r.mu.Unlock()

	if !changed {
		return
	}
	notifyEvent(from.peer, EventDisconnectedPeer, toID)
	if to != nil {
		notifyEvent(to.peer, EventDisconnectedPeer, fromID)
	}
}

func notifyEvent(p Peer, kind EventKind, otherID int) {
	if ea, ok := p.(EventAware); ok {
		ea.PeerEvent(kind, otherID)
	}
}

// SendMIDI fans data out to every edge destination of fromID, updating
// both the source's sent counter and each destination's receive
// counter.
func (r *Router) SendMIDI(fromID int, data []byte) {
	r.mu.Lock()
	from, ok := r.nodes[fromID]
	if !ok {
		r.mu.Unlock()
		return
	}
	from.sent++
	targets := make([]*node, 0, len(from.edges))
	for _, id := range from.edges {
		if n, ok := r.nodes[id]; ok {
			targets = append(targets, n)
		}
	}
	r.mu.Unlock()

	for _, n := range targets {
		r.mu.Lock()
		n.recv++
		peer := n.peer
		r.mu.Unlock()
		peer.SendMIDI(fromID, data)
	}
}

// ForEachPeer visits every registered node with match, in id order; a
// nil match visits everything.
func (r *Router) ForEachPeer(match func(id int, p Peer) bool, fn func(id int, p Peer)) {
	r.mu.Lock()
	ids := make([]int, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	type pair struct {
		id int
		p  Peer
	}
	var visiting []pair
	for _, id := range ids {
		n := r.nodes[id]
		if match == nil || match(id, n.peer) {
			visiting = append(visiting, pair{id, n.peer})
		}
	}
	r.mu.Unlock()

	for _, v := range visiting {
		fn(v.id, v.p)
	}
}

// GraphStatus is the router's full status() response.
type GraphStatus struct {
	Peers map[int]Status
}

// StatusReport returns a snapshot of every peer's own status plus the
// router's view of its edges and traffic counters.
func (r *Router) StatusReport() GraphStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := GraphStatus{Peers: make(map[int]Status, len(r.nodes))}
	for id, n := range r.nodes {
		s := n.peer.Status()
		s.Edges = append([]int(nil), n.edges...)
		s.SentCount = n.sent
		s.RecvCount = n.recv
		out.Peers[id] = s
	}
	return out
}
