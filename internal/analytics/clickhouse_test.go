package analytics

import (
	"context"
	"testing"
	"time"
)

// The sink is disabled by leaving it nil; every entry point must be safe to
// call in that state.
func TestNilSinkIsNoop(t *testing.T) {
	var s *Sink

	s.Record(context.Background(), Event{Time: time.Now(), IP: "8.8.8.8"})

	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Errorf("EnsureSchema on nil sink: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping on nil sink: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil sink: %v", err)
	}
}
