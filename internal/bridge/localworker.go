package bridge

import (
	"github.com/midibridged/midibridged/internal/localmidi"
	"github.com/midibridged/midibridged/internal/router"
)

// LocalWorker adapts a single, already-created local sequencer port to
// the router: MIDI events the sequencer delivers on the port are
// forwarded into the router under this worker's assigned id, and
// bytes arriving from any other router node are written back to the
// sequencer's side of the port.
//
// Unlike the multi-listener and waiter adapters, LocalWorker does not
// itself create or tear down the port or any network session — it
// assumes the port already exists and lives for as long as the caller
// keeps it registered. This is the shape the §4.11 sketch calls the
// "local-sequencer worker": a single named port bridged straight
// through to the router, used for ports the daemon was told about
// directly (e.g. via the ALSAAnnounces list) rather than discovered through a
// subscription.
type LocalWorker struct {
	seq  localmidi.Sequencer
	port localmidi.PortID
	name string
}

// NewLocalWorker wires port (already created on seq) for router
// participation under the given display name.
func NewLocalWorker(seq localmidi.Sequencer, port localmidi.PortID, name string) *LocalWorker {
	return &LocalWorker{seq: seq, port: port, name: name}
}

// Attach registers w with r and subscribes to the sequencer port's
// inbound events.
func (w *LocalWorker) Attach(r *router.Router) int {
	id := r.AddPeer(w)
	w.seq.OnMIDIEvent(w.port, func(ev localmidi.Event) {
		r.SendMIDI(id, localmidi.EventToBytes(ev))
	})
	return id
}

// SendMIDI implements router.Peer: bytes originating elsewhere in the
// graph are written to the sequencer's side of the port.
func (w *LocalWorker) SendMIDI(fromID int, data []byte) error {
	return w.seq.Send(w.port, data)
}

// Status implements router.Peer.
func (w *LocalWorker) Status() router.Status {
	return router.Status{Name: w.name, Kind: "local-sequencer-worker"}
}
