package rtpmidi

import (
	"testing"

	"github.com/midibridged/midibridged/internal/iocursor"
)

func TestMIDIHeaderRoundTrip(t *testing.T) {
	h := MIDIHeader{SequenceNr: 0x0102, Timestamp: 0x11223344, SSRC: 0xAABBCCDD}
	buf := make([]byte, 12)
	w := iocursor.NewWriter(buf)
	if err := EncodeMIDIHeader(w, h); err != nil {
		t.Fatalf("EncodeMIDIHeader: %v", err)
	}
	if w.Written()[0] != 0x80 || w.Written()[1] != 0x61 {
		t.Fatalf("unexpected send flags: % x", w.Written()[:2])
	}

	r := iocursor.NewReader(w.Written())
	got, err := DecodeMIDIHeader(r)
	if err != nil {
		t.Fatalf("DecodeMIDIHeader: %v", err)
	}
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestIsMIDIPacketAcceptsMarkerBitEitherWay(t *testing.T) {
	base := []byte{0x80, 0x61, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	if !IsMIDIPacket(base) {
		t.Fatal("expected plain 0x61 payload type to be recognized")
	}
	withMarker := append([]byte(nil), base...)
	withMarker[1] = 0xE1
	if !IsMIDIPacket(withMarker) {
		t.Fatal("expected 0xE1 (marker bit set) payload type to be recognized")
	}
}

func TestIsMIDIPacketRejectsCommandPacket(t *testing.T) {
	cmd := []byte{0xFF, 0xFF, 'I', 'N', 0, 0, 0, 2, 0, 0, 0, 0}
	if IsMIDIPacket(cmd) {
		t.Fatal("command packet must not be classified as a MIDI packet")
	}
}
