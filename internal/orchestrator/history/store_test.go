package history

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func entry(at time.Time) Entry {
	return Entry{ID: uuid.New(), SessionID: uuid.New(), At: at, Tiles: 1}
}

func TestStoreAdd(t *testing.T) {
	s := NewStore(10, 10)
	e := entry(time.Now())
	s.Add(e)

	got := s.List(0)
	if len(got) != 1 || got[0].ID != e.ID {
		t.Fatalf("List = %+v", got)
	}

	select {
	case ev := <-s.Events():
		if ev.Kind != KindRecord {
			t.Errorf("kind = %q, want %q", ev.Kind, KindRecord)
		}
		if ev.Payload.(Entry).ID != e.ID {
			t.Error("payload should be the entry")
		}
	default:
		t.Error("Add should emit an event")
	}
}

func TestStoreMaxSize(t *testing.T) {
	s := NewStore(5, 0)
	base := time.Now()
	for i := 0; i < 10; i++ {
		s.Add(entry(base.Add(time.Duration(i) * time.Second)))
	}

	got := s.List(0)
	if len(got) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(got))
	}
	if !got[0].At.Equal(base.Add(9 * time.Second)) {
		t.Errorf("newest = %v, want the last added", got[0].At)
	}
}

func TestListLimit(t *testing.T) {
	s := NewStore(10, 0)
	for i := 0; i < 4; i++ {
		s.Add(entry(time.Now()))
	}
	tests := []struct{ limit, want int }{{0, 4}, {-1, 4}, {2, 2}, {9, 4}}
	for _, tt := range tests {
		if got := len(s.List(tt.limit)); got != tt.want {
			t.Errorf("List(%d) = %d entries, want %d", tt.limit, got, tt.want)
		}
	}
}

func TestSetOutcome(t *testing.T) {
	s := NewStore(10, 0)
	e := entry(time.Now())
	s.Add(e)

	if !s.SetOutcome(e.ID, "timeout") {
		t.Fatal("SetOutcome should find the entry")
	}
	if s.List(1)[0].Outcome != "timeout" {
		t.Error("outcome not recorded")
	}
	if s.SetOutcome(uuid.New(), "closed") {
		t.Error("unknown id should be ignored")
	}
}

func TestEmitNonBlocking(t *testing.T) {
	s := NewStore(10, 1)
	s.Emit(Event{Kind: KindState})
	done := make(chan struct{})
	go func() {
		s.Emit(Event{Kind: KindState})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}
}
