package rtpmidi

import (
	"bytes"
	"testing"
)

func TestNormalizerSplitsFixedLengthMessages(t *testing.T) {
	var n Normalizer
	var got [][]byte
	n.Feed([]byte{0x90, 0x40, 0x7F, 0x80, 0x40, 0x00}, func(msg []byte) {
		got = append(got, append([]byte(nil), msg...))
	})
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if !bytes.Equal(got[0], []byte{0x90, 0x40, 0x7F}) || !bytes.Equal(got[1], []byte{0x80, 0x40, 0x00}) {
		t.Fatalf("got %v", got)
	}
}

func TestNormalizerAppliesRunningStatus(t *testing.T) {
	var n Normalizer
	var got [][]byte
	n.Feed([]byte{0x90, 0x40, 0x7F, 0x41, 0x7F}, func(msg []byte) {
		got = append(got, append([]byte(nil), msg...))
	})
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if !bytes.Equal(got[1], []byte{0x90, 0x41, 0x7F}) {
		t.Fatalf("second message = %v, want running-status note-on", got[1])
	}
}

func TestNormalizerHandlesSplitFeeds(t *testing.T) {
	var n Normalizer
	var got [][]byte
	sink := func(msg []byte) { got = append(got, append([]byte(nil), msg...)) }

	n.Feed([]byte{0x90, 0x40}, sink)
	if len(got) != 0 {
		t.Fatalf("expected no message until the full command arrives, got %v", got)
	}
	n.Feed([]byte{0x7F}, sink)
	if len(got) != 1 || !bytes.Equal(got[0], []byte{0x90, 0x40, 0x7F}) {
		t.Fatalf("got %v", got)
	}
}

func TestNormalizerReassemblesSysEx(t *testing.T) {
	var n Normalizer
	var got [][]byte
	sink := func(msg []byte) { got = append(got, append([]byte(nil), msg...)) }

	n.Feed([]byte{0xF0, 0x01, 0x02}, sink)
	n.Feed([]byte{0x03, 0xF7}, sink)
	if len(got) != 1 || !bytes.Equal(got[0], []byte{0xF0, 0x01, 0x02, 0x03, 0xF7}) {
		t.Fatalf("got %v", got)
	}
}

func TestNormalizerDiscardsStrayDataBytes(t *testing.T) {
	var n Normalizer
	var got [][]byte
	sink := func(msg []byte) { got = append(got, append([]byte(nil), msg...)) }

	n.Feed([]byte{0x40, 0x7F, 0x90, 0x40, 0x7F}, sink)
	if len(got) != 1 || !bytes.Equal(got[0], []byte{0x90, 0x40, 0x7F}) {
		t.Fatalf("got %v, want only the well-formed message", got)
	}
}
