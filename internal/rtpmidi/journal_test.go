package rtpmidi

import (
	"bytes"
	"testing"

	"github.com/midibridged/midibridged/internal/iocursor"
)

func TestChapterNRoundTrip(t *testing.T) {
	ch := ChapterN{
		NoteOns:   []NoteOnEntry{{Note: 0x48, Velocity: 0x7F, MustPlay: true}, {Note: 0x40, Velocity: 0x20}},
		Low:       9,
		High:      9,
		OffBitmap: []byte{0x01},
	}
	buf := make([]byte, 64)
	w := iocursor.NewWriter(buf)
	if err := EncodeChapterN(w, ch); err != nil {
		t.Fatalf("EncodeChapterN: %v", err)
	}
	r := iocursor.NewReader(w.Written())
	got, err := DecodeChapterN(r)
	if err != nil {
		t.Fatalf("DecodeChapterN: %v", err)
	}
	if len(got.NoteOns) != 2 || got.NoteOns[0] != ch.NoteOns[0] || got.NoteOns[1] != ch.NoteOns[1] {
		t.Fatalf("note-ons = %+v, want %+v", got.NoteOns, ch.NoteOns)
	}
	if got.Low != ch.Low || got.High != ch.High || !bytes.Equal(got.OffBitmap, ch.OffBitmap) {
		t.Fatalf("got %+v, want %+v", got, ch)
	}
}

func TestJournalRoundTrip(t *testing.T) {
	channels := []ChannelEntry{
		{Channel: 0, Notes: ChapterN{NoteOns: []NoteOnEntry{{Note: 60, Velocity: 100, MustPlay: true}}}},
		{Channel: 3, Notes: ChapterN{Low: 1, High: 1, OffBitmap: []byte{0x80}}},
	}
	buf := make([]byte, 256)
	w := iocursor.NewWriter(buf)
	if err := EncodeJournal(w, 0x1234, channels); err != nil {
		t.Fatalf("EncodeJournal: %v", err)
	}
	r := iocursor.NewReader(w.Written())
	checkpoint, entries, err := DecodeJournal(r)
	if err != nil {
		t.Fatalf("DecodeJournal: %v", err)
	}
	if checkpoint != 0x1234 {
		t.Fatalf("checkpoint = 0x%x, want 0x1234", checkpoint)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d channel entries, want 2", len(entries))
	}
	if entries[0].Channel != 0 || entries[1].Channel != 3 {
		t.Fatalf("unexpected channel numbers: %+v", entries)
	}
}

// TestJournalRecoveryAfterPacketLoss applies a ChapterN describing a
// note-on, then later a separate ChapterN describing the corresponding
// note-off (sequence numbers in between were never delivered), and
// checks the receiver synthesizes exactly the note-on then the
// note-off, in that order.
func TestJournalRecoveryAfterPacketLoss(t *testing.T) {
	var state ChannelRecoveryState

	onChapter := ChapterN{NoteOns: []NoteOnEntry{{Note: 0x48, Velocity: 0x7F, MustPlay: true}}}
	onEvents := state.Apply(onChapter)
	if len(onEvents) != 1 || !bytes.Equal(onEvents[0].Data, []byte{0x90, 0x48, 0x7F}) {
		t.Fatalf("note-on recovery = %+v, want a single 90 48 7F", onEvents)
	}

	offChapter := ChapterN{Low: 9, High: 9, OffBitmap: []byte{0x01}} // note 0x48 = group 9, bit 0
	offEvents := state.Apply(offChapter)
	if len(offEvents) != 1 || !bytes.Equal(offEvents[0].Data, []byte{0x80, 0x48, 0x00}) {
		t.Fatalf("note-off recovery = %+v, want a single 80 48 00", offEvents)
	}
}

// TestJournalIdempotence is testable property #4: applying the same
// ChapterN twice must not produce duplicate events the second time.
func TestJournalIdempotence(t *testing.T) {
	var state ChannelRecoveryState
	ch := ChapterN{NoteOns: []NoteOnEntry{{Note: 60, Velocity: 100, MustPlay: true}, {Note: 64, Velocity: 90, MustPlay: true}}}

	first := state.Apply(ch)
	if len(first) != 2 {
		t.Fatalf("first apply produced %d events, want 2", len(first))
	}
	second := state.Apply(ch)
	if len(second) != 0 {
		t.Fatalf("second apply of the same chapter produced %d events, want 0", len(second))
	}

	// a chapter describing the note-off is new information and must fire.
	offCh := ChapterN{Low: 60 / 8, High: 64 / 8, OffBitmap: make([]byte, 64/8-60/8+1)}
	offCh.OffBitmap[0] |= 1 << uint(60%8)
	offCh.OffBitmap[64/8-60/8] |= 1 << uint(64%8)
	offEvents := state.Apply(offCh)
	if len(offEvents) != 2 {
		t.Fatalf("off apply produced %d events, want 2: %+v", len(offEvents), offEvents)
	}

	// replaying the exact same off chapter again must be a no-op.
	replay := state.Apply(offCh)
	if len(replay) != 0 {
		t.Fatalf("replayed off chapter produced %d events, want 0", len(replay))
	}
}

func TestChannelJournalBuildAndClear(t *testing.T) {
	var cj ChannelJournal
	if cj.Dirty() {
		t.Fatal("fresh journal should not be dirty")
	}
	cj.NoteOn(60, 100)
	cj.NoteOn(61, 110)
	cj.NoteOff(61)
	if !cj.Dirty() {
		t.Fatal("expected journal to be dirty after activity")
	}

	ch := cj.Build()
	if len(ch.NoteOns) != 1 || ch.NoteOns[0].Note != 60 {
		t.Fatalf("note-ons = %+v, want only note 60 live", ch.NoteOns)
	}
	if ch.Low != 61/8 || ch.High != 61/8 {
		t.Fatalf("off range = [%d,%d], want [%d,%d]", ch.Low, ch.High, 61/8, 61/8)
	}
	if ch.OffBitmap[0]&(1<<uint(61%8)) == 0 {
		t.Fatalf("off bitmap %v missing note 61", ch.OffBitmap)
	}

	cj.Clear()
	if cj.Dirty() {
		t.Fatal("expected journal to be clean after Clear")
	}
}
