package localmidi

import (
	"reflect"
	"testing"

	"github.com/midibridged/midibridged/internal/rtpmidi"
)

func TestMemSequencerSendAndSubscribe(t *testing.T) {
	seq := NewMemSequencer()
	port, err := seq.CreatePort("Network")
	if err != nil {
		t.Fatalf("CreatePort: %v", err)
	}

	var subscribed bool
	seq.OnSubscribe(port, func(remotePort int, remoteName string) {
		subscribed = true
		if remoteName != "studio" {
			t.Errorf("remoteName = %q, want studio", remoteName)
		}
	})
	seq.Subscribe(port, 7, "studio")
	if !subscribed {
		t.Fatal("expected OnSubscribe callback to fire")
	}

	if err := seq.Send(port, []byte{0x90, 0x40, 0x7F}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	sent := seq.Sent(port)
	if len(sent) != 1 || !reflect.DeepEqual(sent[0], []byte{0x90, 0x40, 0x7F}) {
		t.Fatalf("Sent = %v", sent)
	}
}

func TestMemSequencerDeliverRunsOnMIDIEvent(t *testing.T) {
	seq := NewMemSequencer()
	port, _ := seq.CreatePort("Network")

	var got Event
	seq.OnMIDIEvent(port, func(ev Event) { got = ev })
	seq.Deliver(port, Event{Data: []byte{0x80, 0x40, 0x00}})

	if !reflect.DeepEqual(got.Data, []byte{0x80, 0x40, 0x00}) {
		t.Fatalf("got = %v", got)
	}
}

func TestBytesToEventsUsesNormalizer(t *testing.T) {
	var n rtpmidi.Normalizer
	var events []Event
	BytesToEvents(&n, []byte{0x90, 0x40, 0x7F, 0x80, 0x40, 0x00}, func(ev Event) {
		events = append(events, ev)
	})
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
}

func TestRemovePortUnknownErrors(t *testing.T) {
	seq := NewMemSequencer()
	if err := seq.RemovePort(99); err == nil {
		t.Fatal("expected an error removing an unknown port")
	}
}
