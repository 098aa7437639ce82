package rtpmidi

// ChannelJournal tracks, on the sending side, enough per-note state to
// build a Chapter N block describing everything an acknowledging peer
// might have missed: which notes are currently sustained (to repeat as
// note-ons) and which have gone off since the last checkpoint (to
// encode as the note-off bitmap).
type ChannelJournal struct {
	on  [128]bool
	vel [128]byte
	off [128]bool
}

// NoteOn records that note has sounded with the given velocity.
func (c *ChannelJournal) NoteOn(note, velocity byte) {
	c.on[note] = true
	c.vel[note] = velocity
	c.off[note] = false
}

// NoteOff records that note has been released.
func (c *ChannelJournal) NoteOff(note byte) {
	c.on[note] = false
	c.off[note] = true
}

// Dirty reports whether any note has live or recently-released state
// worth describing in a journal.
func (c *ChannelJournal) Dirty() bool {
	for i := 0; i < 128; i++ {
		if c.on[i] || c.off[i] {
			return true
		}
	}
	return false
}

// Build produces the Chapter N block describing the channel's current
// state: every sustained note-on, and an off bitmap spanning every
// 8-note group that has at least one released note.
func (c *ChannelJournal) Build() ChapterN {
	var ch ChapterN
	for i := 0; i < 128; i++ {
		if c.on[i] {
			ch.NoteOns = append(ch.NoteOns, NoteOnEntry{Note: byte(i), Velocity: c.vel[i], MustPlay: true})
		}
	}
	lowGroup, highGroup := -1, -1
	for i := 0; i < 128; i++ {
		if !c.off[i] {
			continue
		}
		g := i / 8
		if lowGroup == -1 || g < lowGroup {
			lowGroup = g
		}
		if g > highGroup {
			highGroup = g
		}
	}
	if lowGroup == -1 {
		return ch
	}
	ch.Low = byte(lowGroup)
	ch.High = byte(highGroup)
	ch.OffBitmap = make([]byte, highGroup-lowGroup+1)
	for i := 0; i < 128; i++ {
		if !c.off[i] {
			continue
		}
		g := i/8 - lowGroup
		bit := i % 8
		ch.OffBitmap[g] |= 1 << uint(bit)
	}
	return ch
}

// Clear discards all tracked note activity, e.g. once a checkpoint has
// been acknowledged and no longer needs to be repeated.
func (c *ChannelJournal) Clear() {
	for i := 0; i < 128; i++ {
		c.on[i] = false
		c.off[i] = false
	}
}
