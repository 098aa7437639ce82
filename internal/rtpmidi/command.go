// Package rtpmidi implements the RTP-MIDI wire format: the Apple
// session-protocol command packets (invite/accept/reject/goodbye/clock
// sync/receiver feedback), the RTP-framed MIDI command list with running
// status and segmented SysEx, and the Chapter N recovery journal.
package rtpmidi

import (
	"fmt"

	"github.com/midibridged/midibridged/internal/iocursor"
)

// ProtocolVersion is the only version value accepted in a command packet.
const ProtocolVersion = 2

// Command identifies one of the six Apple session-protocol commands.
type Command byte

const (
	CmdInvite Command = iota
	CmdAccept
	CmdReject
	CmdGoodbye
	CmdClockSync
	CmdFeedback
)

func (c Command) wire() [2]byte {
	switch c {
	case CmdInvite:
		return [2]byte{'I', 'N'}
	case CmdAccept:
		return [2]byte{'O', 'K'}
	case CmdReject:
		return [2]byte{'N', 'O'}
	case CmdGoodbye:
		return [2]byte{'B', 'Y'}
	case CmdClockSync:
		return [2]byte{'C', 'K'}
	case CmdFeedback:
		return [2]byte{'R', 'S'}
	default:
		return [2]byte{0, 0}
	}
}

func (c Command) String() string {
	b := c.wire()
	return string(b[:])
}

func commandFromWire(b0, b1 byte) (Command, bool) {
	switch {
	case b0 == 'I' && b1 == 'N':
		return CmdInvite, true
	case b0 == 'O' && b1 == 'K':
		return CmdAccept, true
	case b0 == 'N' && b1 == 'O':
		return CmdReject, true
	case b0 == 'B' && b1 == 'Y':
		return CmdGoodbye, true
	case b0 == 'C' && b1 == 'K':
		return CmdClockSync, true
	case b0 == 'R' && b1 == 'S':
		return CmdFeedback, true
	default:
		return 0, false
	}
}

// IsCommandPacket reports whether data begins with the 0xFFFF command
// signature and a recognized two-letter command.
func IsCommandPacket(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if data[0] != 0xFF || data[1] != 0xFF {
		return false
	}
	_, ok := commandFromWire(data[2], data[3])
	return ok
}

// PeekCommand returns the command a command packet carries, without
// validating the rest of the packet.
func PeekCommand(data []byte) (Command, error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xFF {
		return 0, fmt.Errorf("rtpmidi: not a command packet")
	}
	cmd, ok := commandFromWire(data[2], data[3])
	if !ok {
		return 0, fmt.Errorf("rtpmidi: unknown command %q", data[2:4])
	}
	return cmd, nil
}

func writeCommandPreamble(w *iocursor.Writer, cmd Command) error {
	if err := w.U8(0xFF); err != nil {
		return err
	}
	if err := w.U8(0xFF); err != nil {
		return err
	}
	b := cmd.wire()
	if err := w.U8(b[0]); err != nil {
		return err
	}
	if err := w.U8(b[1]); err != nil {
		return err
	}
	return w.U32(ProtocolVersion)
}

func readCommandPreamble(r *iocursor.Reader) (Command, error) {
	b0, err := r.U8()
	if err != nil {
		return 0, err
	}
	b1, err := r.U8()
	if err != nil {
		return 0, err
	}
	if b0 != 0xFF || b1 != 0xFF {
		return 0, fmt.Errorf("rtpmidi: missing command signature")
	}
	c0, err := r.U8()
	if err != nil {
		return 0, err
	}
	c1, err := r.U8()
	if err != nil {
		return 0, err
	}
	cmd, ok := commandFromWire(c0, c1)
	if !ok {
		return 0, fmt.Errorf("rtpmidi: unknown command %q%q", c0, c1)
	}
	version, err := r.U32()
	if err != nil {
		return 0, err
	}
	if version != ProtocolVersion {
		return 0, fmt.Errorf("rtpmidi: unsupported protocol version %d", version)
	}
	return cmd, nil
}

// InviteMessage is the payload of IN (invite) and OK (accept) commands.
type InviteMessage struct {
	InitiatorID uint32
	SenderSSRC  uint32
	Name        string
}

// EncodeInvite writes an IN or OK command into buf and returns the
// written slice.
func EncodeInvite(buf []byte, cmd Command, m InviteMessage) ([]byte, error) {
	w := iocursor.NewWriter(buf)
	if err := writeCommandPreamble(w, cmd); err != nil {
		return nil, err
	}
	if err := w.U32(m.InitiatorID); err != nil {
		return nil, err
	}
	if err := w.U32(m.SenderSSRC); err != nil {
		return nil, err
	}
	if err := w.Put([]byte(m.Name)); err != nil {
		return nil, err
	}
	if err := w.U8(0); err != nil {
		return nil, err
	}
	return w.Written(), nil
}

// DecodeInvite parses an IN or OK command.
func DecodeInvite(data []byte) (Command, InviteMessage, error) {
	r := iocursor.NewReader(data)
	cmd, err := readCommandPreamble(r)
	if err != nil {
		return 0, InviteMessage{}, err
	}
	if cmd != CmdInvite && cmd != CmdAccept {
		return 0, InviteMessage{}, fmt.Errorf("rtpmidi: %s is not an invite/accept command", cmd)
	}
	initiatorID, err := r.U32()
	if err != nil {
		return 0, InviteMessage{}, err
	}
	ssrc, err := r.U32()
	if err != nil {
		return 0, InviteMessage{}, err
	}
	name, err := readCString(r)
	if err != nil {
		return 0, InviteMessage{}, err
	}
	return cmd, InviteMessage{InitiatorID: initiatorID, SenderSSRC: ssrc, Name: name}, nil
}

func readCString(r *iocursor.Reader) (string, error) {
	start := r.Pos()
	buf := r.Bytes()
	for i := start; i < len(buf); i++ {
		if buf[i] == 0 {
			s := string(buf[start:i])
			if err := r.Skip(i - start + 1); err != nil {
				return "", err
			}
			return s, nil
		}
	}
	return "", fmt.Errorf("rtpmidi: unterminated name string")
}

// SimpleMessage is the payload of NO (reject) and BY (goodbye) commands.
type SimpleMessage struct {
	InitiatorID uint32
	SenderSSRC  uint32
}

// EncodeSimple writes a NO or BY command.
func EncodeSimple(buf []byte, cmd Command, m SimpleMessage) ([]byte, error) {
	w := iocursor.NewWriter(buf)
	if err := writeCommandPreamble(w, cmd); err != nil {
		return nil, err
	}
	if err := w.U32(m.InitiatorID); err != nil {
		return nil, err
	}
	if err := w.U32(m.SenderSSRC); err != nil {
		return nil, err
	}
	return w.Written(), nil
}

// DecodeSimple parses a NO or BY command.
func DecodeSimple(data []byte) (Command, SimpleMessage, error) {
	r := iocursor.NewReader(data)
	cmd, err := readCommandPreamble(r)
	if err != nil {
		return 0, SimpleMessage{}, err
	}
	if cmd != CmdReject && cmd != CmdGoodbye {
		return 0, SimpleMessage{}, fmt.Errorf("rtpmidi: %s is not a reject/goodbye command", cmd)
	}
	initiatorID, err := r.U32()
	if err != nil {
		return 0, SimpleMessage{}, err
	}
	ssrc, err := r.U32()
	if err != nil {
		return 0, SimpleMessage{}, err
	}
	return cmd, SimpleMessage{InitiatorID: initiatorID, SenderSSRC: ssrc}, nil
}

// ClockSync is the payload of a CK command.
type ClockSync struct {
	SenderSSRC uint32
	Count      uint8
	CK1        uint64
	CK2        uint64
	CK3        uint64
}

// EncodeClockSync writes a CK command.
func EncodeClockSync(buf []byte, m ClockSync) ([]byte, error) {
	w := iocursor.NewWriter(buf)
	if err := writeCommandPreamble(w, CmdClockSync); err != nil {
		return nil, err
	}
	if err := w.U32(m.SenderSSRC); err != nil {
		return nil, err
	}
	if err := w.U8(m.Count); err != nil {
		return nil, err
	}
	for i := 0; i < 3; i++ {
		if err := w.U8(0); err != nil {
			return nil, err
		}
	}
	if err := w.U32(uint32(m.CK1 >> 32)); err != nil {
		return nil, err
	}
	if err := w.U32(uint32(m.CK1)); err != nil {
		return nil, err
	}
	if err := w.U32(uint32(m.CK2 >> 32)); err != nil {
		return nil, err
	}
	if err := w.U32(uint32(m.CK2)); err != nil {
		return nil, err
	}
	if err := w.U32(uint32(m.CK3 >> 32)); err != nil {
		return nil, err
	}
	if err := w.U32(uint32(m.CK3)); err != nil {
		return nil, err
	}
	return w.Written(), nil
}

// DecodeClockSync parses a CK command.
func DecodeClockSync(data []byte) (ClockSync, error) {
	r := iocursor.NewReader(data)
	cmd, err := readCommandPreamble(r)
	if err != nil {
		return ClockSync{}, err
	}
	if cmd != CmdClockSync {
		return ClockSync{}, fmt.Errorf("rtpmidi: %s is not a CK command", cmd)
	}
	ssrc, err := r.U32()
	if err != nil {
		return ClockSync{}, err
	}
	count, err := r.U8()
	if err != nil {
		return ClockSync{}, err
	}
	if err := r.Skip(3); err != nil {
		return ClockSync{}, err
	}
	ck1, err := readU64(r)
	if err != nil {
		return ClockSync{}, err
	}
	ck2, err := readU64(r)
	if err != nil {
		return ClockSync{}, err
	}
	ck3, err := readU64(r)
	if err != nil {
		return ClockSync{}, err
	}
	return ClockSync{SenderSSRC: ssrc, Count: count, CK1: ck1, CK2: ck2, CK3: ck3}, nil
}

func readU64(r *iocursor.Reader) (uint64, error) {
	hi, err := r.U32()
	if err != nil {
		return 0, err
	}
	lo, err := r.U32()
	if err != nil {
		return 0, err
	}
	return uint64(hi)<<32 | uint64(lo), nil
}

// ReceiverFeedback is the payload of an RS command.
type ReceiverFeedback struct {
	SenderSSRC uint32
	SeqNr      uint32
}

// EncodeFeedback writes an RS command.
func EncodeFeedback(buf []byte, m ReceiverFeedback) ([]byte, error) {
	w := iocursor.NewWriter(buf)
	if err := writeCommandPreamble(w, CmdFeedback); err != nil {
		return nil, err
	}
	if err := w.U32(m.SenderSSRC); err != nil {
		return nil, err
	}
	if err := w.U32(m.SeqNr); err != nil {
		return nil, err
	}
	return w.Written(), nil
}

// DecodeFeedback parses an RS command.
func DecodeFeedback(data []byte) (ReceiverFeedback, error) {
	r := iocursor.NewReader(data)
	cmd, err := readCommandPreamble(r)
	if err != nil {
		return ReceiverFeedback{}, err
	}
	if cmd != CmdFeedback {
		return ReceiverFeedback{}, fmt.Errorf("rtpmidi: %s is not an RS command", cmd)
	}
	ssrc, err := r.U32()
	if err != nil {
		return ReceiverFeedback{}, err
	}
	seq, err := r.U32()
	if err != nil {
		return ReceiverFeedback{}, err
	}
	return ReceiverFeedback{SenderSSRC: ssrc, SeqNr: seq}, nil
}
