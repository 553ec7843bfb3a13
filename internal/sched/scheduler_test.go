package sched

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestAddRejectsBadSpec(t *testing.T) {
	s := New(zerolog.Nop())
	if err := s.Add("broken", "not a cron spec", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected an error for a malformed spec")
	}
}

func TestAddAcceptsStandardSpecs(t *testing.T) {
	s := New(zerolog.Nop())
	specs := []string{
		"0 22 * * *",
		"0 * * * *",
		"*/5 * * * 1-5",
		"30 16 * * 1-5",
		"0 9,13,17 * * 1-5",
	}
	for _, spec := range specs {
		if err := s.Add("job", spec, func(context.Context) error { return nil }); err != nil {
			t.Errorf("spec %q rejected: %v", spec, err)
		}
	}
}

func TestStartStop(t *testing.T) {
	s := New(zerolog.Nop())
	if err := s.Add("noop", "0 0 1 1 *", func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	s.Start()
	s.Stop()

	// The shared context must be cancelled after Stop.
	select {
	case <-s.ctx.Done():
	default:
		t.Error("scheduler context still live after Stop")
	}
}
