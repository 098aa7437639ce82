// Package rtpclient drives a single rtppeer.Peer from NOT_CONNECTED to
// CONNECTED against a list of remote endpoints, then keeps it alive
// with a periodic clock-sync probe and watchdog.
//
//go:build linux

package rtpclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/midibridged/midibridged/internal/eventloop"
	"github.com/midibridged/midibridged/internal/rtpmidi"
	"github.com/midibridged/midibridged/internal/rtppeer"
	"github.com/midibridged/midibridged/internal/udpendpoint"
)

// State is the connector's own small state machine, distinct from the
// peer's CONTROL_CONNECTED/MIDI_CONNECTED/CONNECTED states.
type State int

const (
	WaitToStart State = iota
	PrepareNextDNS
	ConnectNextIPPort
	ConnectControl
	ConnectMIDI
	AllConnected
	ErrorCantConnect
)

func (s State) String() string {
	switch s {
	case WaitToStart:
		return "WaitToStart"
	case PrepareNextDNS:
		return "PrepareNextDNS"
	case ConnectNextIPPort:
		return "ConnectNextIpPort"
	case ConnectControl:
		return "ConnectControl"
	case ConnectMIDI:
		return "ConnectMidi"
	case AllConnected:
		return "AllConnected"
	case ErrorCantConnect:
		return "ErrorCantConnect"
	default:
		return "Unknown"
	}
}

// Endpoint is one candidate host:port pair to attempt, in order.
type Endpoint struct {
	Host string
	Port int
}

const (
	perAddressDeadline = 5 * time.Second
	maxRounds          = 3
	ckKeepaliveEvery   = 10 * time.Second
	ckWatchdog         = 30 * time.Second
)

// Connector owns a control and a MIDI udpendpoint.Endpoint and drives
// a peer through the handshake against Endpoints, retrying up to
// maxRounds times before giving up.
type Connector struct {
	loop      *eventloop.Loop
	peer      *rtppeer.Peer
	endpoints []Endpoint
	name      string
	localSSRC uint32
	log       *slog.Logger

	state State
	round int
	idx   int

	control *udpendpoint.Endpoint
	midi    *udpendpoint.Endpoint

	deadlineTimer *eventloop.TimerHandle
	keepalive     *eventloop.TimerHandle
	watchdog      *eventloop.TimerHandle

	seq uint16
}

// New creates a connector for peer over loop, attempting endpoints in
// order once Start is called.
func New(loop *eventloop.Loop, name string, localSSRC uint32, endpoints []Endpoint, log *slog.Logger) *Connector {
	if log == nil {
		log = slog.Default()
	}
	return &Connector{
		loop:      loop,
		name:      name,
		localSSRC: localSSRC,
		endpoints: endpoints,
		log:       log,
		state:     WaitToStart,
	}
}

// Peer returns the connector's underlying session, valid once Start
// has created it.
func (c *Connector) Peer() *rtppeer.Peer { return c.peer }

// Start begins the connection sequence.
func (c *Connector) Start() error {
	if len(c.endpoints) == 0 {
		return fmt.Errorf("rtpclient: no endpoints configured")
	}
	c.round = 0
	c.idx = 0
	c.state = PrepareNextDNS
	return c.connectNext()
}

func (c *Connector) connectNext() error {
	if c.idx >= len(c.endpoints) {
		c.round++
		c.idx = 0
		if c.round >= maxRounds {
			c.state = ErrorCantConnect
			c.log.Warn("rtpmidi: exhausted all connection attempts", "name", c.name)
			if c.peer != nil {
				c.peer.Disconnected.Emit(rtppeer.ReasonCantConnect)
			}
			return nil
		}
	}
	ep := c.endpoints[c.idx]
	c.idx++
	c.state = ConnectNextIPPort
	return c.dial(ep)
}

func (c *Connector) dial(ep Endpoint) error {
	control, err := udpendpoint.Open(c.loop, "", 0)
	if err != nil {
		c.log.Warn("rtpmidi: failed to open control socket", "err", err)
		return c.connectNext()
	}
	midi, err := udpendpoint.Open(c.loop, "", 0)
	if err != nil {
		control.Close()
		c.log.Warn("rtpmidi: failed to open midi socket", "err", err)
		return c.connectNext()
	}
	c.control, c.midi = control, midi

	c.peer = rtppeer.New(c.name, c.localSSRC, c.sendFor(ep), c.log)
	c.peer.Disconnected.Connect(func(r rtppeer.DisconnectReason) { c.handleDisconnect(r) })
	c.peer.CKMeasured.Connect(func(time.Duration) { c.seq++ })
	c.peer.StatusChanged.Connect(func(s rtppeer.Status) { c.OnPeerStatusChanged(s) })

	control.OnRead().Connect(func(p udpendpoint.Packet) {
		if err := c.peer.HandleCommand(rtppeer.PortControl, p.Data); err != nil {
			c.log.Warn("rtpmidi: control packet error", "err", err)
		}
	})
	midi.OnRead().Connect(func(p udpendpoint.Packet) {
		if rtpmidi.IsCommandPacket(p.Data) {
			if err := c.peer.HandleCommand(rtppeer.PortMIDI, p.Data); err != nil {
				c.log.Warn("rtpmidi: midi-port command error", "err", err)
			}
			return
		}
		if err := c.peer.HandleMIDI(p.Data); err != nil {
			c.log.Warn("rtpmidi: midi packet error", "err", err)
		}
	})

	c.state = ConnectControl
	c.armDeadline(ep)
	return c.peer.InitiateInvite(rtppeer.PortControl, c.localSSRC)
}

func (c *Connector) sendFor(ep Endpoint) rtppeer.SendFunc {
	return func(port rtppeer.Port, data []byte) error {
		switch port {
		case rtppeer.PortControl:
			return c.control.Send(data, ep.Host, ep.Port)
		case rtppeer.PortMIDI:
			return c.midi.Send(data, ep.Host, ep.Port+1)
		default:
			return fmt.Errorf("rtpclient: unknown port %v", port)
		}
	}
}

func (c *Connector) armDeadline(ep Endpoint) {
	c.deadlineTimer = c.loop.AddTimer(perAddressDeadline, func() {
		if c.peer.CurrentStatus() == rtppeer.Connected {
			return
		}
		c.log.Warn("rtpmidi: connection attempt timed out", "endpoint", ep)
		c.teardownSockets()
		c.connectNext()
	})
}

func (c *Connector) clearDeadline() {
	if c.deadlineTimer != nil {
		c.deadlineTimer.Cancel()
		c.deadlineTimer = nil
	}
}

// OnPeerStatusChanged advances the connector's own state once the
// peer reaches CONTROL_CONNECTED, MIDI_CONNECTED or CONNECTED. Wired
// automatically in dial(); exported so tests can drive it directly.
func (c *Connector) OnPeerStatusChanged(s rtppeer.Status) {
	switch s {
	case rtppeer.ControlConnected:
		c.state = ConnectMIDI
		if err := c.peer.InitiateInvite(rtppeer.PortMIDI, c.localSSRC); err != nil {
			c.log.Warn("rtpmidi: midi invite failed", "err", err)
		}
	case rtppeer.Connected:
		c.clearDeadline()
		c.state = AllConnected
		c.startKeepalive()
	}
}

func (c *Connector) startKeepalive() {
	c.scheduleKeepalive()
}

func (c *Connector) scheduleKeepalive() {
	c.keepalive = c.loop.AddTimer(ckKeepaliveEvery, func() {
		if err := c.peer.SendClockProbe(rtppeer.PortMIDI); err != nil {
			c.log.Warn("rtpmidi: clock probe failed", "err", err)
		}
		c.armWatchdog()
		c.scheduleKeepalive()
	})
}

func (c *Connector) armWatchdog() {
	if c.watchdog != nil {
		c.watchdog.Cancel()
	}
	seen := c.seq
	c.watchdog = c.loop.AddTimer(ckWatchdog, func() {
		if c.seq != seen {
			return
		}
		c.peer.Disconnected.Emit(rtppeer.ReasonCKTimeout)
	})
}

func (c *Connector) handleDisconnect(reason rtppeer.DisconnectReason) {
	if c.keepalive != nil {
		c.keepalive.Cancel()
	}
	if c.watchdog != nil {
		c.watchdog.Cancel()
	}
	c.clearDeadline()
	c.teardownSockets()
}

func (c *Connector) teardownSockets() {
	if c.control != nil {
		c.control.Close()
		c.control = nil
	}
	if c.midi != nil {
		c.midi.Close()
		c.midi = nil
	}
}

// Stop tears down the connector's session and sockets immediately.
func (c *Connector) Stop() error {
	if c.peer != nil && c.peer.CurrentStatus() != rtppeer.NotConnected {
		if err := c.peer.Disconnect(); err != nil {
			return err
		}
	}
	c.teardownSockets()
	return nil
}

// State reports the connector's current internal state.
func (c *Connector) State() State { return c.state }
