package scheduler

import (
	"context"
	"testing"
)

func TestRegisterValidatesSchedule(t *testing.T) {
	s := New(nil)

	if err := s.Register("sweep", "@every 10m", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}
	if err := s.Register("bad", "not a schedule", func(context.Context) error { return nil }); err == nil {
		t.Fatal("invalid schedule accepted")
	}
	if s.JobCount() != 1 {
		t.Fatalf("job count = %d", s.JobCount())
	}
}

func TestRegisterSameNameReplaces(t *testing.T) {
	s := New(nil)

	s.Register("sweep", "@every 10m", func(context.Context) error { return nil })
	s.Register("sweep", "@every 1h", func(context.Context) error { return nil })
	if s.JobCount() != 1 {
		t.Fatalf("job count = %d", s.JobCount())
	}
}

func TestRemove(t *testing.T) {
	s := New(nil)

	s.Register("sweep", "@every 10m", func(context.Context) error { return nil })
	s.Remove("sweep")
	s.Remove("sweep") // idempotent
	if s.JobCount() != 0 {
		t.Fatalf("job count = %d", s.JobCount())
	}
}
