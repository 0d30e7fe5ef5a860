package metabolism

import (
	"context"
	"errors"
	"testing"
)

func TestNewDefaultsIntervalTo100(t *testing.T) {
	s := New(0)
	if !s.Due(100) {
		t.Fatal("expected a fresh scheduler with default interval to be due at turn 100")
	}
	if s.Due(99) {
		t.Fatal("expected a fresh scheduler not to be due before the default interval elapses")
	}
}

func TestDueGatesOnInterval(t *testing.T) {
	s := New(10)
	if s.Due(9) {
		t.Fatal("expected Due(9) to be false with interval 10")
	}
	if !s.Due(10) {
		t.Fatal("expected Due(10) to be true with interval 10")
	}
}

func TestRunUpdatesLastBackgroundTurnOnSuccess(t *testing.T) {
	s := New(10)
	called := false
	s.Register("decay", func(ctx context.Context) (int, error) {
		called = true
		return 3, nil
	})

	err := s.Run(context.Background(), "decay", 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected the registered handler to run")
	}
	if s.LastBackgroundTurn() != 42 {
		t.Fatalf("expected last background turn 42, got %d", s.LastBackgroundTurn())
	}
}

func TestRunUpdatesLastBackgroundTurnOnError(t *testing.T) {
	s := New(10)
	s.Register("decay", func(ctx context.Context) (int, error) {
		return 0, errors.New("boom")
	})

	err := s.Run(context.Background(), "decay", 7)
	if err == nil {
		t.Fatal("expected the handler's error to propagate")
	}
	if s.LastBackgroundTurn() != 7 {
		t.Fatalf("expected last background turn to advance even on error, got %d", s.LastBackgroundTurn())
	}
}

func TestRunWithNoHandlerIsANoOp(t *testing.T) {
	s := New(10)
	if err := s.Run(context.Background(), "unknown", 1); err != nil {
		t.Fatalf("expected no error for an unregistered priority, got %v", err)
	}
	if s.LastBackgroundTurn() != 0 {
		t.Fatalf("expected last background turn to stay 0 for an unregistered priority, got %d", s.LastBackgroundTurn())
	}
}
