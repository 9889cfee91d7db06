package eventlog

import (
	"path/filepath"
	"testing"

	"github.com/nerrad567/knx-tpuart-gateway/internal/tpuart"
)

func TestOpenCreatesSchemaAndRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if err := db.Record(KindReset, "link reset"); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if err := db.Record(KindNack, "object 3"); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	events, err := db.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Recent() returned %d events, want 2", len(events))
	}
	if events[0].Kind != KindNack {
		t.Errorf("events[0].Kind = %q, want most-recent-first KindNack", events[0].Kind)
	}
}

func TestRecentRespectsLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	for i := 0; i < 5; i++ {
		if err := db.Record(KindStateIndication, "tick"); err != nil {
			t.Fatal(err)
		}
	}

	events, err := db.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("Recent(2) returned %d events, want 2", len(events))
	}
}

func TestKindFromLinkEvent(t *testing.T) {
	cases := []struct {
		event tpuart.Event
		want  Kind
	}{
		{tpuart.EventReset, KindReset},
		{tpuart.EventReceptionError, KindReceptionError},
		{tpuart.EventStateIndication, KindStateIndication},
	}
	for _, tc := range cases {
		if got := KindFromLinkEvent(tc.event); got != tc.want {
			t.Errorf("KindFromLinkEvent(%v) = %q, want %q", tc.event, got, tc.want)
		}
	}
}

func TestKindFromAck(t *testing.T) {
	if got := KindFromAck(tpuart.AckOK); got != "" {
		t.Errorf("KindFromAck(AckOK) = %q, want empty", got)
	}
	if got := KindFromAck(tpuart.AckNack); got != KindNack {
		t.Errorf("KindFromAck(AckNack) = %q, want %q", got, KindNack)
	}
	if got := KindFromAck(tpuart.AckTimeout); got != KindAckTimeout {
		t.Errorf("KindFromAck(AckTimeout) = %q, want %q", got, KindAckTimeout)
	}
}
