package rtpmidi

import (
	"fmt"

	"github.com/midibridged/midibridged/internal/iocursor"
)

// payloadType is written as 0x61 (without the RTP marker bit) for
// interoperability with common Windows RTP-MIDI clients, a deliberate
// deviation from RFC 6295. Incoming packets accept the marker bit set
// or not.
const payloadType = 0x61

// MIDIHeader is the fixed RTP header of a MIDI (non-command) packet.
type MIDIHeader struct {
	SequenceNr uint16
	Timestamp  uint32
	SSRC       uint32
}

// IsMIDIPacket reports whether data begins with an RTP v2 header
// carrying the RTP-MIDI payload type.
func IsMIDIPacket(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if data[0]&0xC0 != 0x80 {
		return false
	}
	return data[1]&0x7F == payloadType
}

// EncodeMIDIHeader writes the 12-byte RTP header.
func EncodeMIDIHeader(w *iocursor.Writer, h MIDIHeader) error {
	if err := w.U8(0x80); err != nil {
		return err
	}
	if err := w.U8(payloadType); err != nil {
		return err
	}
	if err := w.U16(h.SequenceNr); err != nil {
		return err
	}
	if err := w.U32(h.Timestamp); err != nil {
		return err
	}
	return w.U32(h.SSRC)
}

// DecodeMIDIHeader parses the 12-byte RTP header.
func DecodeMIDIHeader(r *iocursor.Reader) (MIDIHeader, error) {
	b0, err := r.U8()
	if err != nil {
		return MIDIHeader{}, err
	}
	if b0&0xC0 != 0x80 {
		return MIDIHeader{}, fmt.Errorf("rtpmidi: not an RTP v2 header")
	}
	b1, err := r.U8()
	if err != nil {
		return MIDIHeader{}, err
	}
	if b1&0x7F != payloadType {
		return MIDIHeader{}, fmt.Errorf("rtpmidi: unexpected payload type 0x%02x", b1)
	}
	seq, err := r.U16()
	if err != nil {
		return MIDIHeader{}, err
	}
	ts, err := r.U32()
	if err != nil {
		return MIDIHeader{}, err
	}
	ssrc, err := r.U32()
	if err != nil {
		return MIDIHeader{}, err
	}
	return MIDIHeader{SequenceNr: seq, Timestamp: ts, SSRC: ssrc}, nil
}
