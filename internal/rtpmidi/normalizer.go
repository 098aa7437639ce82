package rtpmidi

import "bytes"

// MessageLength returns the total length (status byte included) of a
// MIDI message given its status byte, per the §4.6 sizing table used
// throughout this package. A status of 0xF0 (SysEx) is variable-length
// and reported as -1; the caller must scan for the 0xF7 terminator.
func MessageLength(status byte) (length int, ok bool) {
	return commandLength(status)
}

// Normalizer turns a raw, unframed byte stream (as read from a
// character device or a local-sequencer callback) into discrete MIDI
// messages, one per call to its sink. It tolerates the stream starting
// mid-message by discarding bytes until the next status byte, and
// carries partial messages across successive Feed calls.
type Normalizer struct {
	runningStatus byte
	pending       []byte
	inSysEx       bool
}

// Feed appends data to the normalizer's internal buffer and invokes
// sink once per complete MIDI message found. Incomplete trailing bytes
// are retained for the next call.
func (n *Normalizer) Feed(data []byte, sink func(msg []byte)) {
	n.pending = append(n.pending, data...)

	for {
		if len(n.pending) == 0 {
			return
		}

		if n.inSysEx {
			end := bytes.IndexByte(n.pending, 0xF7)
			if end < 0 {
				return
			}
			msg := append([]byte(nil), n.pending[:end+1]...)
			n.pending = n.pending[end+1:]
			n.inSysEx = false
			sink(msg)
			continue
		}

		b := n.pending[0]
		var status byte
		var dataStart int
		if b&0x80 != 0 {
			status = b
			dataStart = 1
		} else if n.runningStatus != 0 {
			status = n.runningStatus
			dataStart = 0
		} else {
			// No status byte and no running status to fall back
			// on: discard the stray data byte and keep scanning.
			n.pending = n.pending[1:]
			continue
		}

		if status == 0xF0 {
			n.inSysEx = true
			n.runningStatus = 0
			continue
		}

		length, ok := MessageLength(status)
		if !ok {
			n.pending = n.pending[1:]
			continue
		}
		total := dataStart + (length - 1)
		if len(n.pending) < total {
			return
		}
		msg := make([]byte, 0, length)
		msg = append(msg, status)
		msg = append(msg, n.pending[dataStart:total]...)
		n.pending = n.pending[total:]
		if status < 0xF0 {
			n.runningStatus = status
		} else {
			n.runningStatus = 0
		}
		sink(msg)
	}
}
