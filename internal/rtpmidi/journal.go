package rtpmidi

import (
	"fmt"

	"github.com/midibridged/midibridged/internal/iocursor"
)

// Journal header flags. Only Chapter N (notes) is ever produced by this
// implementation; Y and H are reserved for the system and enhanced-
// chapter extensions this daemon never emits, and are always read back
// as false since a sender that never sets them never needs them parsed.
const (
	journalFlagS = 0x80
	journalFlagY = 0x40
	journalFlagA = 0x20
	journalFlagH = 0x10
	journalChanMask = 0x0F
)

const (
	channelChapterNPresent = 0x08
	channelChapterChanShift = 4
)

// NoteOnEntry is one still-live note-on in a Chapter N journal.
type NoteOnEntry struct {
	Note     byte
	Velocity byte
	MustPlay bool
}

// ChapterN is the notes-recovery chapter of one channel's journal entry:
// the live note-ons, plus a bitmap of note-offs covering the byte-group
// range [Low*8, (High+1)*8 - 1].
type ChapterN struct {
	NoteOns   []NoteOnEntry
	Low       byte
	High      byte
	OffBitmap []byte
}

// EncodeChapterN writes a Chapter N block. The off bitmap is always
// written as High-Low+1 bytes (none when Low > High), taken from
// OffBitmap and zero-padded if it is shorter, which is the length
// DecodeChapterN reads.
func EncodeChapterN(w *iocursor.Writer, ch ChapterN) error {
	if len(ch.NoteOns) > 127 {
		return fmt.Errorf("rtpmidi: too many note-on entries in journal: %d", len(ch.NoteOns))
	}
	if err := w.U8(byte(len(ch.NoteOns))); err != nil {
		return err
	}
	for _, e := range ch.NoteOns {
		if err := w.U8(e.Note & 0x7F); err != nil {
			return err
		}
		v := e.Velocity & 0x7F
		if e.MustPlay {
			v |= 0x80
		}
		if err := w.U8(v); err != nil {
			return err
		}
	}
	if err := w.U8(ch.Low); err != nil {
		return err
	}
	if err := w.U8(ch.High); err != nil {
		return err
	}
	n := 0
	if ch.High >= ch.Low {
		n = int(ch.High-ch.Low) + 1
	}
	bitmap := make([]byte, n)
	copy(bitmap, ch.OffBitmap)
	return w.Put(bitmap)
}

// DecodeChapterN parses a Chapter N block.
func DecodeChapterN(r *iocursor.Reader) (ChapterN, error) {
	var ch ChapterN
	count, err := r.U8()
	if err != nil {
		return ch, err
	}
	for i := 0; i < int(count); i++ {
		note, err := r.U8()
		if err != nil {
			return ch, err
		}
		v, err := r.U8()
		if err != nil {
			return ch, err
		}
		ch.NoteOns = append(ch.NoteOns, NoteOnEntry{Note: note & 0x7F, Velocity: v & 0x7F, MustPlay: v&0x80 != 0})
	}
	low, err := r.U8()
	if err != nil {
		return ch, err
	}
	high, err := r.U8()
	if err != nil {
		return ch, err
	}
	ch.Low, ch.High = low, high
	n := 0
	if high >= low {
		n = int(high-low) + 1
	}
	bitmap, err := r.Take(n)
	if err != nil {
		return ch, err
	}
	ch.OffBitmap = append([]byte(nil), bitmap...)
	return ch, nil
}

// ChannelEntry pairs a channel number with its Chapter N journal block.
type ChannelEntry struct {
	Channel byte
	Notes   ChapterN
}

func encodeChannelChapter(w *iocursor.Writer, e ChannelEntry) error {
	body := iocursor.NewWriter(make([]byte, 512))
	if err := EncodeChapterN(body, e.Notes); err != nil {
		return err
	}
	payload := body.Written()
	flags := byte(e.Channel<<channelChapterChanShift) | channelChapterNPresent
	if err := w.U8(flags); err != nil {
		return err
	}
	if len(payload) > 0xFF {
		return fmt.Errorf("rtpmidi: channel journal entry too large: %d bytes", len(payload))
	}
	if err := w.U8(byte(len(payload))); err != nil {
		return err
	}
	return w.Put(payload)
}

func decodeChannelChapter(r *iocursor.Reader) (ChannelEntry, bool, error) {
	flags, err := r.U8()
	if err != nil {
		return ChannelEntry{}, false, err
	}
	channel := flags >> channelChapterChanShift
	length, err := r.U8()
	if err != nil {
		return ChannelEntry{}, false, err
	}
	body, err := r.Take(int(length))
	if err != nil {
		return ChannelEntry{}, false, err
	}
	if flags&channelChapterNPresent == 0 {
		// chapter present but not one we implement (P/C/M/W/T/E/A) —
		// the length prefix already let us skip its body safely.
		return ChannelEntry{}, false, nil
	}
	br := iocursor.NewReader(body)
	notes, err := DecodeChapterN(br)
	if err != nil {
		return ChannelEntry{}, false, err
	}
	return ChannelEntry{Channel: channel, Notes: notes}, true, nil
}

// EncodeJournal writes the journal header followed by each channel's
// Chapter N entry. checkpoint is the packet sequence number this
// journal is anchored to.
func EncodeJournal(w *iocursor.Writer, checkpoint uint16, channels []ChannelEntry) error {
	if len(channels) == 0 {
		return fmt.Errorf("rtpmidi: refusing to encode an empty journal")
	}
	if len(channels) > 16 {
		return fmt.Errorf("rtpmidi: too many channels in journal: %d", len(channels))
	}
	header := byte(journalFlagA) | byte(len(channels)-1)
	if err := w.U8(header); err != nil {
		return err
	}
	if err := w.U16(checkpoint); err != nil {
		return err
	}
	for _, c := range channels {
		if err := encodeChannelChapter(w, c); err != nil {
			return err
		}
	}
	return nil
}

// DecodeJournal parses a journal section. r must be positioned at the
// start of the journal and is read to the end of its buffer.
func DecodeJournal(r *iocursor.Reader) (checkpoint uint16, entries []ChannelEntry, err error) {
	header, err := r.U8()
	if err != nil {
		return 0, nil, err
	}
	checkpoint, err = r.U16()
	if err != nil {
		return 0, nil, err
	}
	if header&journalFlagA == 0 {
		return checkpoint, nil, nil
	}
	count := int(header&journalChanMask) + 1
	for i := 0; i < count; i++ {
		entry, ok, derr := decodeChannelChapter(r)
		if derr != nil {
			return checkpoint, entries, derr
		}
		if ok {
			entries = append(entries, entry)
		}
	}
	return checkpoint, entries, nil
}

// ChannelRecoveryState mirrors one channel's note on/off state as last
// observed by a receiver, so that replaying the same journal twice does
// not re-emit events for notes whose state hasn't changed.
type ChannelRecoveryState struct {
	noteOn [128]bool
}

// RecoveredEvent is one MIDI note on/off event synthesized from a
// journal that the receiver would otherwise have missed.
type RecoveredEvent struct {
	Data []byte
}

// Apply diffs ch against the channel's previously-recorded state,
// emitting a note-on or note-off event only for notes whose live/dead
// state actually changes. Applying the same ChapterN again is a no-op.
func (s *ChannelRecoveryState) Apply(ch ChapterN) []RecoveredEvent {
	var events []RecoveredEvent
	for _, e := range ch.NoteOns {
		if s.noteOn[e.Note] {
			continue
		}
		s.noteOn[e.Note] = true
		events = append(events, RecoveredEvent{Data: []byte{0x90, e.Note, e.Velocity}})
	}
	for i, b := range ch.OffBitmap {
		group := int(ch.Low) + i
		for bit := 0; bit < 8; bit++ {
			if b&(1<<uint(bit)) == 0 {
				continue
			}
			note := group*8 + bit
			if note < 0 || note > 127 {
				continue
			}
			if !s.noteOn[note] {
				continue
			}
			s.noteOn[note] = false
			events = append(events, RecoveredEvent{Data: []byte{0x80, byte(note), 0}})
		}
	}
	return events
}
