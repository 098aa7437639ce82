// Package discovery defines the boundary between the bridging daemon and
// the mDNS advertiser/browser for the "_apple-midi._udp.local" service
// type. The mDNS library itself is an external collaborator; this
// package only describes the signals the rest of the daemon consumes
// and the announce/unannounce calls it drives.
package discovery

// Endpoint is one discovered or announced RTP-MIDI service.
type Endpoint struct {
	Name string
	Host string
	Port int
}

// Discoverer is the opaque mDNS collaborator.
type Discoverer interface {
	// OnDiscovered registers f to be called whenever a new
	// "_apple-midi._udp.local" service appears on the network.
	OnDiscovered(f func(Endpoint))
	// OnRemoved registers f to be called whenever a previously
	// discovered service disappears.
	OnRemoved(f func(Endpoint))
	// Announce advertises a locally bound listener under name/port.
	Announce(name string, port int) error
	// Unannounce withdraws a previous Announce call.
	Unannounce(name string, port int) error
}
