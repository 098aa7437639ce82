// Package localmidi defines the boundary between the bridging daemon and
// the local MIDI sequencer (ALSA on Linux, CoreMIDI elsewhere). The
// sequencer itself is an external collaborator: this package only
// describes the opaque port handle, subscription signals, and the
// byte/event codec a concrete sequencer binding must provide.
package localmidi

import (
	"github.com/midibridged/midibridged/internal/rtpmidi"
)

// PortID identifies one local sequencer port.
type PortID int

// Event is one decoded local-MIDI event ready to hand to the router,
// or one received from it ready to write back to the sequencer.
type Event struct {
	Data []byte
}

// Sequencer is the opaque local-MIDI collaborator: create and remove
// ports, and be notified of subscription changes and inbound events on
// a per-port basis.
type Sequencer interface {
	// CreatePort registers a new port named name and returns its handle.
	CreatePort(name string) (PortID, error)
	// RemovePort releases a previously created port.
	RemovePort(id PortID) error
	// Send writes raw MIDI bytes to port id's sequencer-facing side.
	Send(id PortID, data []byte) error

	// OnSubscribe registers f to be called whenever a remote client
	// subscribes to port id.
	OnSubscribe(id PortID, f func(remotePort int, remoteName string))
	// OnUnsubscribe registers f to be called whenever a remote client
	// unsubscribes from port id.
	OnUnsubscribe(id PortID, f func(remotePort int))
	// OnMIDIEvent registers f to be called for every MIDI event the
	// sequencer delivers on port id.
	OnMIDIEvent(id PortID, f func(Event))
}

// BytesToEvents normalizes a raw byte stream read from the sequencer
// into discrete events, applying the same running-status and SysEx
// rules as the wire codec (§4.6 of the governing sizing table).
func BytesToEvents(n *rtpmidi.Normalizer, data []byte, callback func(Event)) {
	n.Feed(data, func(msg []byte) {
		callback(Event{Data: append([]byte(nil), msg...)})
	})
}

// EventToBytes returns the raw MIDI bytes for ev, ready to hand to the
// sequencer's Send or to wrap in an RTP-MIDI command section.
func EventToBytes(ev Event) []byte {
	return ev.Data
}
