package bridge

import (
	"testing"

	"github.com/midibridged/midibridged/internal/localmidi"
	"github.com/midibridged/midibridged/internal/router"
)

func TestLocalWorkerForwardsSequencerEventsToRouter(t *testing.T) {
	seq := localmidi.NewMemSequencer()
	port, err := seq.CreatePort("Network")
	if err != nil {
		t.Fatalf("CreatePort: %v", err)
	}
	w := NewLocalWorker(seq, port, "Network")
	r := router.New()
	id := w.Attach(r)

	sink := &recordingPeer{}
	sinkID := r.AddPeer(sink)
	r.Connect(id, sinkID)

	seq.Deliver(port, localmidi.Event{Data: []byte{0x90, 0x3C, 0x40}})

	if len(sink.received) != 1 {
		t.Fatalf("sink received %d messages, want 1", len(sink.received))
	}
}

func TestLocalWorkerSendMIDIWritesToSequencer(t *testing.T) {
	seq := localmidi.NewMemSequencer()
	port, _ := seq.CreatePort("Network")
	w := NewLocalWorker(seq, port, "Network")

	if err := w.SendMIDI(0, []byte{0x80, 0x3C, 0x00}); err != nil {
		t.Fatalf("SendMIDI: %v", err)
	}
	sent := seq.Sent(port)
	if len(sent) != 1 {
		t.Fatalf("sequencer recorded %d sends, want 1", len(sent))
	}
}

func TestLocalWorkerStatus(t *testing.T) {
	seq := localmidi.NewMemSequencer()
	port, _ := seq.CreatePort("Network")
	w := NewLocalWorker(seq, port, "Network")
	st := w.Status()
	if st.Name != "Network" || st.Kind != "local-sequencer-worker" {
		t.Errorf("Status = %+v", st)
	}
}
