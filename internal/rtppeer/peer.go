// Package rtppeer implements the per-remote session state machine
// shared by the client connector and the server listener: handshake,
// clock sync, MIDI send/receive, and teardown.
package rtppeer

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/midibridged/midibridged/internal/iocursor"
	"github.com/midibridged/midibridged/internal/rtpmidi"
	"github.com/midibridged/midibridged/internal/signalbus"
	"github.com/midibridged/midibridged/internal/stats"
)

// Status is the connectedness of one peer session.
type Status int

const (
	NotConnected Status = iota
	ControlConnected
	MIDIConnected
	Connected
)

func (s Status) String() string {
	switch s {
	case NotConnected:
		return "NOT_CONNECTED"
	case ControlConnected:
		return "CONTROL_CONNECTED"
	case MIDIConnected:
		return "MIDI_CONNECTED"
	case Connected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// DisconnectReason explains why a peer left the CONNECTED state.
type DisconnectReason int

const (
	ReasonNone DisconnectReason = iota
	ReasonCantConnect
	ReasonPeerDisconnected
	ReasonConnectionRejected
	ReasonDisconnect
	ReasonConnectTimeout
	ReasonCKTimeout
	ReasonNetworkError
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonCantConnect:
		return "CANT_CONNECT"
	case ReasonPeerDisconnected:
		return "PEER_DISCONNECTED"
	case ReasonConnectionRejected:
		return "CONNECTION_REJECTED"
	case ReasonDisconnect:
		return "DISCONNECT"
	case ReasonConnectTimeout:
		return "CONNECT_TIMEOUT"
	case ReasonCKTimeout:
		return "CK_TIMEOUT"
	case ReasonNetworkError:
		return "NETWORK_ERROR"
	default:
		return "NONE"
	}
}

// Port identifies which of the pair of RTP-MIDI sockets a command or
// datagram belongs to.
type Port int

const (
	PortControl Port = iota
	PortMIDI
)

// Which bit of the connection is live.
const (
	bitControl = 1 << iota
	bitMIDI
)

// SendFunc hands an outbound datagram to whatever owns the underlying
// socket (the client connector or the server listener); the peer
// itself never touches a network endpoint directly.
type SendFunc func(port Port, data []byte) error

// Peer is one RTP-MIDI session, as either the inviting client or the
// accepting server side. It owns no socket; SendFunc is supplied by
// whichever component does.
type Peer struct {
	Name       string
	LocalSSRC  uint32
	InitiatorID uint32

	send SendFunc
	log  *slog.Logger

	status     Status
	bits       int
	remoteName string
	remoteSSRC uint32

	journals map[byte]*rtpmidi.ChannelJournal
	recover  rtpmidi.ChannelRecoveryState
	runningStatus byte

	sysex rtpmidi.SysExReassembler

	ckSeq   byte
	ckSent  time.Time

	dropLimiter *rate.Limiter

	recoveryCounter *stats.Counter

	StatusChanged *signalbus.Signal[Status]
	MIDIReceived  *signalbus.Signal[[]byte]
	Sent          *signalbus.Signal[SendEvent]
	CKMeasured    *signalbus.Signal[time.Duration]
	Disconnected  *signalbus.Signal[DisconnectReason]
}

// SendEvent is emitted whenever the peer hands a datagram to its
// SendFunc, primarily so a listener can log or meter outbound traffic.
type SendEvent struct {
	Port Port
	Data []byte
}

// New creates a peer that will use send to deliver outbound datagrams.
// name and localSSRC identify this end of the session; they are sent
// verbatim in invite/accept messages.
func New(name string, localSSRC uint32, send SendFunc, log *slog.Logger) *Peer {
	if log == nil {
		log = slog.Default()
	}
	return &Peer{
		Name:          name,
		LocalSSRC:     localSSRC,
		send:          send,
		log:           log,
		dropLimiter:   rate.NewLimiter(rate.Every(5*time.Second), 1),
		StatusChanged: signalbus.New[Status](),
		MIDIReceived:  signalbus.New[[]byte](),
		Sent:          signalbus.New[SendEvent](),
		CKMeasured:    signalbus.New[time.Duration](),
		Disconnected:  signalbus.New[DisconnectReason](),
	}
}

// CurrentStatus reports the peer's current connectedness.
func (p *Peer) CurrentStatus() Status { return p.status }

// RemoteName is the name the far end sent in its invite/accept, empty
// until the handshake completes.
func (p *Peer) RemoteName() string { return p.remoteName }

// RemoteSSRC is the far end's synchronization source, valid once any
// handshake message has been exchanged.
func (p *Peer) RemoteSSRC() uint32 { return p.remoteSSRC }

// SetRecoveryCounter attaches a shared counter that this peer increments
// whenever it recovers note events from an inbound recovery journal. A
// single counter shared across every peer lets the metrics collector
// report one process-wide total.
func (p *Peer) SetRecoveryCounter(c *stats.Counter) { p.recoveryCounter = c }

func (p *Peer) setStatus(s Status) {
	if p.status == s {
		return
	}
	p.status = s
	p.StatusChanged.Emit(s)
}

func (p *Peer) emitDisconnected(reason DisconnectReason) {
	p.bits = 0
	p.setStatus(NotConnected)
	p.Disconnected.Emit(reason)
}

func (p *Peer) deliver(port Port, data []byte) error {
	if err := p.send(port, data); err != nil {
		return err
	}
	p.Sent.Emit(SendEvent{Port: port, Data: data})
	return nil
}

// InitiateInvite begins the handshake as the connecting client, on
// the given port (control first, then MIDI once control succeeds).
func (p *Peer) InitiateInvite(port Port, initiatorID uint32) error {
	p.InitiatorID = initiatorID
	buf := make([]byte, 128)
	encoded, err := rtpmidi.EncodeInvite(buf, rtpmidi.CmdInvite, rtpmidi.InviteMessage{
		InitiatorID: initiatorID,
		SenderSSRC:  p.LocalSSRC,
		Name:        p.Name,
	})
	if err != nil {
		return fmt.Errorf("rtppeer: encoding invite: %w", err)
	}
	return p.deliver(port, encoded)
}

// HandleCommand processes one command packet received on port.
func (p *Peer) HandleCommand(port Port, data []byte) error {
	cmd, err := rtpmidi.PeekCommand(data)
	if err != nil {
		return err
	}
	switch cmd {
	case rtpmidi.CmdInvite:
		return p.handleInvite(port, data)
	case rtpmidi.CmdAccept:
		return p.handleAccept(port, data)
	case rtpmidi.CmdReject:
		return p.handleReject(port, data)
	case rtpmidi.CmdGoodbye:
		return p.handleGoodbye(port, data)
	case rtpmidi.CmdClockSync:
		return p.handleClockSync(port, data)
	case rtpmidi.CmdFeedback:
		return p.handleFeedback(data)
	default:
		return fmt.Errorf("rtppeer: unhandled command %v", cmd)
	}
}

func (p *Peer) handleInvite(port Port, data []byte) error {
	_, msg, err := rtpmidi.DecodeInvite(data)
	if err != nil {
		return err
	}
	p.InitiatorID = msg.InitiatorID
	p.remoteSSRC = msg.SenderSSRC
	p.remoteName = msg.Name

	buf := make([]byte, 128)
	encoded, err := rtpmidi.EncodeInvite(buf, rtpmidi.CmdAccept, rtpmidi.InviteMessage{
		InitiatorID: msg.InitiatorID,
		SenderSSRC:  p.LocalSSRC,
		Name:        p.Name,
	})
	if err != nil {
		return fmt.Errorf("rtppeer: encoding accept: %w", err)
	}
	if err := p.deliver(port, encoded); err != nil {
		return err
	}
	p.markBitConnected(port)
	return nil
}

func (p *Peer) handleAccept(port Port, data []byte) error {
	_, msg, err := rtpmidi.DecodeSimple(data)
	if err != nil {
		return err
	}
	if msg.InitiatorID != p.InitiatorID {
		p.log.Warn("rtpmidi: accept with mismatched initiator id, dropping", "got", msg.InitiatorID, "want", p.InitiatorID)
		return nil
	}
	p.remoteSSRC = msg.SenderSSRC
	p.markBitConnected(port)
	return nil
}

func (p *Peer) handleReject(port Port, data []byte) error {
	if _, _, err := rtpmidi.DecodeSimple(data); err != nil {
		return err
	}
	p.clearBit(port)
	p.Disconnected.Emit(ReasonConnectionRejected)
	return nil
}

func (p *Peer) handleGoodbye(port Port, data []byte) error {
	if _, _, err := rtpmidi.DecodeSimple(data); err != nil {
		return err
	}
	p.clearBit(port)
	if p.bits == 0 {
		p.emitDisconnected(ReasonPeerDisconnected)
	} else {
		p.setStatus(p.bitsToStatus())
	}
	return nil
}

func (p *Peer) handleClockSync(port Port, data []byte) error {
	ck, err := rtpmidi.DecodeClockSync(data)
	if err != nil {
		return err
	}
	now := uint64(time.Now().UnixMicro())
	switch ck.Count {
	case 0:
		reply := rtpmidi.ClockSync{SenderSSRC: p.LocalSSRC, Count: 1, CK1: ck.CK1, CK2: now}
		return p.sendClockSync(port, reply)
	case 1:
		reply := rtpmidi.ClockSync{SenderSSRC: p.LocalSSRC, Count: 2, CK1: ck.CK1, CK2: ck.CK2, CK3: now}
		if err := p.sendClockSync(port, reply); err != nil {
			return err
		}
		p.CKMeasured.Emit(microsToDuration(now - ck.CK1))
		return nil
	case 2:
		p.CKMeasured.Emit(microsToDuration(now - ck.CK2))
		return nil
	default:
		return fmt.Errorf("rtppeer: invalid clock sync count %d", ck.Count)
	}
}

func (p *Peer) sendClockSync(port Port, ck rtpmidi.ClockSync) error {
	buf := make([]byte, 64)
	encoded, err := rtpmidi.EncodeClockSync(buf, ck)
	if err != nil {
		return fmt.Errorf("rtppeer: encoding clock sync: %w", err)
	}
	return p.deliver(port, encoded)
}

// SendClockProbe sends an unsolicited count=0 clock sync, used by the
// client connector's keepalive timer.
func (p *Peer) SendClockProbe(port Port) error {
	p.ckSent = time.Now()
	return p.sendClockSync(port, rtpmidi.ClockSync{SenderSSRC: p.LocalSSRC, Count: 0, CK1: uint64(p.ckSent.UnixMicro())})
}

func (p *Peer) handleFeedback(data []byte) error {
	_, err := rtpmidi.DecodeFeedback(data)
	return err
}

func (p *Peer) markBitConnected(port Port) {
	switch port {
	case PortControl:
		p.bits |= bitControl
	case PortMIDI:
		p.bits |= bitMIDI
	}
	p.setStatus(p.bitsToStatus())
}

func (p *Peer) clearBit(port Port) {
	switch port {
	case PortControl:
		p.bits &^= bitControl
	case PortMIDI:
		p.bits &^= bitMIDI
	}
}

func (p *Peer) bitsToStatus() Status {
	switch p.bits {
	case bitControl:
		return ControlConnected
	case bitMIDI:
		return MIDIConnected
	case bitControl | bitMIDI:
		return Connected
	default:
		return NotConnected
	}
}

// SendMIDI wraps raw MIDI command bytes directly into a MIDI packet
// and delivers them on the MIDI port. It does not parse or re-encode
// the bytes, but does attach a recovery journal whenever any channel
// has note activity the far end hasn't been sent yet: a Chapter N
// block per dirty channel, describing everything up to (not including)
// this send, so a lost packet's note-on/off events can still be
// recovered from the next one.
func (p *Peer) SendMIDI(seq uint16, timestamp uint32, raw []byte) error {
	if p.status != Connected {
		if p.dropLimiter.Allow() {
			p.log.Warn("rtpmidi: dropping outbound MIDI, peer not connected", "peer", p.Name)
		}
		return nil
	}
	journal := p.buildJournal(seq)
	p.trackJournal(raw)

	buf := make([]byte, 12+2+len(raw)+len(journal)+4)
	w := iocursor.NewWriter(buf)
	if err := rtpmidi.EncodeMIDIHeader(w, rtpmidi.MIDIHeader{SequenceNr: seq, Timestamp: timestamp, SSRC: p.LocalSSRC}); err != nil {
		return err
	}
	if err := rtpmidi.EncodeCommandSection(w, raw, journal, false, false); err != nil {
		return err
	}
	return p.deliver(PortMIDI, w.Written())
}

// trackJournal records the effect of an outbound MIDI command (note-on
// or note-off, on whichever channel its status byte names) in that
// channel's journal, so a later send can describe it if this one is
// lost. A note-on with velocity 0 is a note-off by MIDI convention.
func (p *Peer) trackJournal(raw []byte) {
	if len(raw) < 2 || raw[0] < 0x80 || raw[0] >= 0xF0 {
		return
	}
	channel := raw[0] & 0x0F
	switch raw[0] & 0xF0 {
	case 0x90:
		if len(raw) < 3 {
			return
		}
		if raw[2] == 0 {
			p.channelJournal(channel).NoteOff(raw[1])
		} else {
			p.channelJournal(channel).NoteOn(raw[1], raw[2])
		}
	case 0x80:
		p.channelJournal(channel).NoteOff(raw[1])
	}
}

func (p *Peer) channelJournal(channel byte) *rtpmidi.ChannelJournal {
	if p.journals == nil {
		p.journals = make(map[byte]*rtpmidi.ChannelJournal)
	}
	j, ok := p.journals[channel]
	if !ok {
		j = &rtpmidi.ChannelJournal{}
		p.journals[channel] = j
	}
	return j
}

// buildJournal encodes a Chapter N entry for every channel with dirty
// journal state, anchored to checkpoint. It returns nil when no channel
// has anything to report, so the caller omits the journal entirely.
func (p *Peer) buildJournal(checkpoint uint16) []byte {
	if len(p.journals) == 0 {
		return nil
	}
	var entries []rtpmidi.ChannelEntry
	for channel := byte(0); channel < 16; channel++ {
		j, ok := p.journals[channel]
		if !ok || !j.Dirty() {
			continue
		}
		entries = append(entries, rtpmidi.ChannelEntry{Channel: channel, Notes: j.Build()})
	}
	if len(entries) == 0 {
		return nil
	}
	buf := make([]byte, 4096)
	w := iocursor.NewWriter(buf)
	if err := rtpmidi.EncodeJournal(w, checkpoint, entries); err != nil {
		p.log.Warn("rtpmidi: failed to encode outbound journal, sending without one", "error", err)
		return nil
	}
	return w.Written()
}

// HandleMIDI parses an inbound MIDI packet: the recovery journal (if
// present) first, applying any missed note events, then the command
// section payload. A payload that is a segmented-SysEx continuation
// fragment is routed through the peer's reassembler instead of the
// ordinary command-list parser, which only understands a complete
// command list and rejects a bare 0xF7 continuation byte outright.
func (p *Peer) HandleMIDI(data []byte) error {
	r := iocursor.NewReader(data)
	hdr, err := rtpmidi.DecodeMIDIHeader(r)
	if err != nil {
		return err
	}
	if hdr.SSRC != p.remoteSSRC && p.remoteSSRC != 0 {
		p.log.Warn("rtpmidi: MIDI packet from unexpected ssrc", "got", hdr.SSRC, "want", p.remoteSSRC)
	}
	section, payload, err := rtpmidi.DecodeCommandSection(r)
	if err != nil {
		return err
	}
	if section.HasJournal {
		_, entries, err := rtpmidi.DecodeJournal(r)
		if err != nil {
			return err
		}
		for _, e := range entries {
			recovered := p.recover.Apply(e.Notes)
			if p.recoveryCounter != nil && len(recovered) > 0 {
				p.recoveryCounter.Add(uint64(len(recovered)))
			}
			for _, ev := range recovered {
				p.MIDIReceived.Emit(ev.Data)
			}
		}
	}
	switch rtpmidi.ClassifySysExSegment(payload) {
	case rtpmidi.SysExStart, rtpmidi.SysExMiddle, rtpmidi.SysExFinal, rtpmidi.SysExCancel:
		complete, ok, err := p.sysex.Feed(payload)
		if err != nil {
			return err
		}
		if ok {
			p.MIDIReceived.Emit(complete)
		}
		return nil
	}

	events, rs, err := rtpmidi.ParseCommandList(payload, section.FirstHasDelta, section.FirstOmitsStatus, p.runningStatus)
	if err != nil {
		return err
	}
	p.runningStatus = rs
	for _, ev := range events {
		p.MIDIReceived.Emit(ev.Data)
	}
	return nil
}

// Disconnect tears down an active session: sends BY on whichever
// ports are connected, then resets to NOT_CONNECTED and emits
// disconnected(DISCONNECT).
func (p *Peer) Disconnect() error {
	if p.bits&bitControl != 0 {
		if err := p.sendGoodbye(PortControl); err != nil {
			return err
		}
	}
	if p.bits&bitMIDI != 0 {
		if err := p.sendGoodbye(PortMIDI); err != nil {
			return err
		}
	}
	p.emitDisconnected(ReasonDisconnect)
	return nil
}

func (p *Peer) sendGoodbye(port Port) error {
	buf := make([]byte, 64)
	encoded, err := rtpmidi.EncodeSimple(buf, rtpmidi.CmdGoodbye, rtpmidi.SimpleMessage{InitiatorID: p.InitiatorID, SenderSSRC: p.LocalSSRC})
	if err != nil {
		return fmt.Errorf("rtppeer: encoding goodbye: %w", err)
	}
	return p.deliver(port, encoded)
}

func microsToDuration(us uint64) time.Duration {
	return time.Duration(us) * time.Microsecond
}
