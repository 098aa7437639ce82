package rtpmidi

import (
	"bytes"
	"testing"
)

// TestSegmentedSysExReassembly feeds a SysEx message split across
// several commands and checks it reassembles correctly.
func TestSegmentedSysExReassembly(t *testing.T) {
	var r SysExReassembler
	first := []byte{0xF0, 0x01, 0x02, 0x03, 0x04, 0xF0}
	second := []byte{0xF7, 0x05, 0x06, 0x07, 0x08, 0xF7}

	if out, ok, err := r.Feed(first); err != nil || ok || out != nil {
		t.Fatalf("first segment: out=% x ok=%v err=%v", out, ok, err)
	}
	if !r.Pending() {
		t.Fatal("expected a pending sysex after the start segment")
	}
	out, ok, err := r.Feed(second)
	if err != nil {
		t.Fatalf("second segment: %v", err)
	}
	if !ok {
		t.Fatal("expected the sysex to complete on the final segment")
	}
	want := []byte{0xF0, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0xF7}
	if !bytes.Equal(out, want) {
		t.Fatalf("assembled = % x, want % x", out, want)
	}
	if r.Pending() {
		t.Fatal("reassembler should be empty after completion")
	}
}

func TestSysExCancelledByStatusByte(t *testing.T) {
	var r SysExReassembler
	first := []byte{0xF0, 0x01, 0x02, 0x03, 0x04, 0xF0}
	if _, _, err := r.Feed(first); err != nil {
		t.Fatalf("first segment: %v", err)
	}
	cancel := []byte{0xF7, 0xF4}
	out, ok, err := r.Feed(cancel)
	if err != nil {
		t.Fatalf("cancel segment: %v", err)
	}
	if ok || out != nil {
		t.Fatalf("cancel must not complete a sysex: out=% x ok=%v", out, ok)
	}
	if r.Pending() {
		t.Fatal("reassembler must be empty after a cancel")
	}
}

func TestSingleSegmentComplete(t *testing.T) {
	var r SysExReassembler
	whole := []byte{0xF0, 0x7E, 0x00, 0xF7}
	out, ok, err := r.Feed(whole)
	if err != nil || !ok {
		t.Fatalf("out=% x ok=%v err=%v", out, ok, err)
	}
	if !bytes.Equal(out, whole) {
		t.Fatalf("out = % x, want % x", out, whole)
	}
}

func TestMiddleWithoutStartErrors(t *testing.T) {
	var r SysExReassembler
	middle := []byte{0xF7, 0x01, 0xF0}
	if _, _, err := r.Feed(middle); err == nil {
		t.Fatal("expected error feeding a middle segment with no pending start")
	}
}

// TestSysExReassemblyArbitrarySplit is testable property #2: splitting a
// valid SysEx at arbitrary boundaries using the continuation convention
// must always reassemble to the original.
func TestSysExReassemblyArbitrarySplit(t *testing.T) {
	original := []byte{0xF0, 0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70, 0xF7}
	inner := original[1 : len(original)-1] // the bytes between F0 and F7

	for split := 1; split < len(inner); split++ {
		t.Run("", func(t *testing.T) {
			first := append([]byte{0xF0}, inner[:split]...)
			first = append(first, 0xF0)
			second := append([]byte{0xF7}, inner[split:]...)
			second = append(second, 0xF7)

			var r SysExReassembler
			if _, ok, err := r.Feed(first); err != nil || ok {
				t.Fatalf("start: ok=%v err=%v", ok, err)
			}
			out, ok, err := r.Feed(second)
			if err != nil || !ok {
				t.Fatalf("final: ok=%v err=%v", ok, err)
			}
			if !bytes.Equal(out, original) {
				t.Fatalf("split at %d: got % x, want % x", split, out, original)
			}
		})
	}
}
