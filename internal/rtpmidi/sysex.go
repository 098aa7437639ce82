package rtpmidi

import "fmt"

// SysExSegment classifies how a command-list payload relates to a
// SysEx message split across RTP-MIDI packets, by its first and last
// byte per the continuation convention.
type SysExSegment int

const (
	// SysExNone means the payload is not a segmented-SysEx fragment and
	// should be handed to ParseCommandList as usual.
	SysExNone SysExSegment = iota
	SysExComplete
	SysExStart
	SysExMiddle
	SysExFinal
	SysExCancel
)

// ClassifySysExSegment inspects the first and last byte of a command
// section's payload to determine whether it is a whole or partial
// segmented SysEx message.
func ClassifySysExSegment(payload []byte) SysExSegment {
	if len(payload) == 0 {
		return SysExNone
	}
	first, last := payload[0], payload[len(payload)-1]
	switch {
	case first == 0xF0 && last == 0xF7:
		return SysExComplete
	case first == 0xF0 && last == 0xF0:
		return SysExStart
	case first == 0xF7 && last == 0xF0:
		return SysExMiddle
	case first == 0xF7 && last == 0xF7:
		return SysExFinal
	case first == 0xF7 && last == 0xF4:
		return SysExCancel
	default:
		return SysExNone
	}
}

// SysExReassembler concatenates a SysEx message split across multiple
// RTP-MIDI packets, one segment at a time.
type SysExReassembler struct {
	buf []byte
}

// Pending reports whether a partial SysEx is currently buffered.
func (s *SysExReassembler) Pending() bool { return len(s.buf) > 0 }

// Reset discards any partially-assembled SysEx.
func (s *SysExReassembler) Reset() { s.buf = s.buf[:0] }

// Feed processes one segment. It returns the completed SysEx (and ok
// true) once a SysExComplete or SysExFinal segment arrives; otherwise it
// buffers and returns (nil, false, nil).
func (s *SysExReassembler) Feed(payload []byte) (complete []byte, ok bool, err error) {
	switch ClassifySysExSegment(payload) {
	case SysExComplete:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, true, nil
	case SysExStart:
		// keep the leading 0xF0, drop the trailing continuation marker
		s.buf = append(s.buf[:0], payload[:len(payload)-1]...)
		return nil, false, nil
	case SysExMiddle:
		if len(s.buf) == 0 {
			return nil, false, fmt.Errorf("rtpmidi: sysex middle segment with no pending start")
		}
		// drop the leading continuation marker and trailing marker
		s.buf = append(s.buf, payload[1:len(payload)-1]...)
		return nil, false, nil
	case SysExFinal:
		if len(s.buf) == 0 {
			return nil, false, fmt.Errorf("rtpmidi: sysex final segment with no pending start")
		}
		// drop the leading continuation marker, keep the real terminator
		s.buf = append(s.buf, payload[1:]...)
		out := make([]byte, len(s.buf))
		copy(out, s.buf)
		s.buf = s.buf[:0]
		return out, true, nil
	case SysExCancel:
		s.buf = s.buf[:0]
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("rtpmidi: payload is not a sysex segment")
	}
}
