package directory

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewReturnsNilWhenDisabled(t *testing.T) {
	s := New(false, "localhost:6379", "", 0, "chan", "relay-1", nil, zerolog.Nop())
	if s != nil {
		t.Fatal("expected nil Sync when disabled")
	}
}

func TestNilSyncMethodsAreNoOps(t *testing.T) {
	var s *Sync

	if err := s.LoadInitial(nil); err != nil {
		t.Fatalf("LoadInitial() on nil Sync error = %v", err)
	}
	if err := s.Publish(nil, Registration{}); err != nil {
		t.Fatalf("Publish() on nil Sync error = %v", err)
	}
	s.Subscribe(nil) // must return immediately, not panic
}
