// Package rtpserver implements the server side of an RTP-MIDI session:
// one shared pair of UDP sockets (control port N, MIDI port N+1)
// multiplexing any number of concurrent remote peers by initiator id
// or SSRC.
//
//go:build linux

package rtpserver

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/midibridged/midibridged/internal/eventloop"
	"github.com/midibridged/midibridged/internal/rtpmidi"
	"github.com/midibridged/midibridged/internal/rtppeer"
	"github.com/midibridged/midibridged/internal/udpendpoint"
)

// NewPeerFunc builds a peer for a remote of the given name. Listener
// does not call it: it creates accepted peers itself and reports them
// through OnNewPeer.
type NewPeerFunc func(name string) *rtppeer.Peer

// Listener owns the shared control/MIDI socket pair and demultiplexes
// datagrams to the peer they belong to.
type Listener struct {
	control *udpendpoint.Endpoint
	midi    *udpendpoint.Endpoint
	log     *slog.Logger

	localName string
	localSSRC uint32

	byInitiator map[uint32]*session
	bySSRC      map[uint32]*session

	onNewPeer func(*rtppeer.Peer)
}

type session struct {
	peer        *rtppeer.Peer
	initiatorID uint32
	remoteSSRC  uint32
	controlHost string
	controlPort int
	midiPort    int
	useCount    int
}

// Open binds the control/MIDI socket pair at host:controlPort and
// host:controlPort+1.
func Open(loop *eventloop.Loop, host string, controlPort int, localName string, localSSRC uint32, log *slog.Logger) (*Listener, error) {
	if log == nil {
		log = slog.Default()
	}
	control, err := udpendpoint.Open(loop, host, controlPort)
	if err != nil {
		return nil, fmt.Errorf("rtpserver: open control socket: %w", err)
	}
	midi, err := udpendpoint.Open(loop, host, controlPort+1)
	if err != nil {
		control.Close()
		return nil, fmt.Errorf("rtpserver: open midi socket: %w", err)
	}
	l := &Listener{
		control:     control,
		midi:        midi,
		log:         log,
		localName:   localName,
		localSSRC:   localSSRC,
		byInitiator: make(map[uint32]*session),
		bySSRC:      make(map[uint32]*session),
	}
	control.OnRead().Connect(func(p udpendpoint.Packet) { l.handleControl(p) })
	midi.OnRead().Connect(func(p udpendpoint.Packet) { l.handleMIDI(p) })
	return l, nil
}

// ControlPort and MIDIPort report the bound ports, useful when
// controlPort 0 was requested (ephemeral).
func (l *Listener) ControlPort() int { return l.control.Port() }
func (l *Listener) MIDIPort() int    { return l.midi.Port() }

// OnNewPeer is invoked once for every new remote peer accepted, after
// it has been registered in the demux tables but before the accept
// reply is sent; handlers can subscribe to the peer's signals here.
func (l *Listener) OnNewPeer(f func(*rtppeer.Peer)) { l.onNewPeer = f }

func initiatorIDOf(data []byte) (uint32, bool) {
	if len(data) < 12 {
		return 0, false
	}
	return binary.BigEndian.Uint32(data[8:12]), true
}

func ssrcOfCommand(data []byte) (uint32, bool) {
	if len(data) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint32(data[4:8]), true
}

func (l *Listener) handleControl(p udpendpoint.Packet) {
	l.dispatch(rtppeer.PortControl, p)
}

func (l *Listener) handleMIDI(p udpendpoint.Packet) {
	if rtpmidi.IsCommandPacket(p.Data) {
		l.dispatch(rtppeer.PortMIDI, p)
		return
	}
	if len(p.Data) < 12 {
		return
	}
	ssrc := uint32(p.Data[8])<<24 | uint32(p.Data[9])<<16 | uint32(p.Data[10])<<8 | uint32(p.Data[11])
	s, ok := l.bySSRC[ssrc]
	if !ok {
		l.log.Warn("rtpmidi: midi packet from unknown ssrc, dropping", "ssrc", ssrc)
		return
	}
	if err := s.peer.HandleMIDI(p.Data); err != nil {
		l.log.Warn("rtpmidi: midi packet error", "err", err)
	}
}

func (l *Listener) dispatch(port rtppeer.Port, p udpendpoint.Packet) {
	cmd, err := rtpmidi.PeekCommand(p.Data)
	if err != nil {
		l.log.Warn("rtpmidi: unrecognized command packet, dropping", "err", err)
		return
	}

	var key uint32
	var byInitiator bool
	switch cmd {
	case rtpmidi.CmdInvite, rtpmidi.CmdAccept, rtpmidi.CmdGoodbye, rtpmidi.CmdReject:
		id, ok := initiatorIDOf(p.Data)
		if !ok {
			return
		}
		key, byInitiator = id, true
	case rtpmidi.CmdClockSync, rtpmidi.CmdFeedback:
		ssrc, ok := ssrcOfCommand(p.Data)
		if !ok {
			return
		}
		key, byInitiator = ssrc, false
	}

	var s *session
	if byInitiator {
		s = l.byInitiator[key]
	} else {
		s = l.bySSRC[key]
	}

	if s == nil {
		if cmd != rtpmidi.CmdInvite {
			l.log.Warn("rtpmidi: command for unknown peer, dropping", "cmd", cmd)
			return
		}
		s = l.acceptNewPeer(key, p)
	}

	if s.controlHost == "" && p.From != nil {
		s.controlHost = p.From.IP.String()
		s.controlPort = p.From.Port
	}

	if err := s.peer.HandleCommand(port, p.Data); err != nil {
		l.log.Warn("rtpmidi: command handling error", "err", err)
		return
	}

	if s.peer.RemoteSSRC() != 0 {
		l.bySSRC[s.peer.RemoteSSRC()] = s
	}
}

func (l *Listener) acceptNewPeer(initiatorID uint32, p udpendpoint.Packet) *session {
	host := ""
	port := 0
	if p.From != nil {
		host = p.From.IP.String()
		port = p.From.Port
	}
	s := &session{initiatorID: initiatorID, controlHost: host, controlPort: port, midiPort: port + 1}
	s.peer = rtppeer.New(l.localName, l.localSSRC, l.sendFor(s), l.log)
	s.peer.InitiatorID = initiatorID
	s.peer.Disconnected.Connect(func(r rtppeer.DisconnectReason) { l.removeSession(s) })

	l.byInitiator[initiatorID] = s
	if l.onNewPeer != nil {
		l.onNewPeer(s.peer)
	}
	return s
}

func (l *Listener) sendFor(s *session) rtppeer.SendFunc {
	return func(port rtppeer.Port, data []byte) error {
		switch port {
		case rtppeer.PortControl:
			return l.control.Send(data, s.controlHost, s.controlPort)
		case rtppeer.PortMIDI:
			return l.midi.Send(data, s.controlHost, s.midiPort)
		default:
			return fmt.Errorf("rtpserver: unknown port %v", port)
		}
	}
}

// AddUse and RemoveUse implement the per-peer subscriber reference
// count: a peer is torn down only once its last local subscriber
// goes away.
func (l *Listener) AddUse(initiatorID uint32) {
	if s, ok := l.byInitiator[initiatorID]; ok {
		s.useCount++
	}
}

func (l *Listener) RemoveUse(loop *eventloop.Loop, initiatorID uint32) {
	s, ok := l.byInitiator[initiatorID]
	if !ok {
		return
	}
	s.useCount--
	if s.useCount > 0 {
		return
	}
	loop.CallLater(func() {
		s.peer.Disconnect()
	})
}

func (l *Listener) removeSession(s *session) {
	delete(l.byInitiator, s.initiatorID)
	if s.peer.RemoteSSRC() != 0 {
		delete(l.bySSRC, s.peer.RemoteSSRC())
	}
}

// Close shuts down both sockets.
func (l *Listener) Close() error {
	if err := l.control.Close(); err != nil {
		return err
	}
	return l.midi.Close()
}
