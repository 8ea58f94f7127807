package numbering

import (
	"context"
	"errors"
	"testing"
	"time"

	"qms/turno-service/internal/models"
)

type fakeFinder struct {
	tickets []models.Ticket
	err     error
	states  []string
}

func (f *fakeFinder) FindByDay(ctx context.Context, day models.Day, states ...string) ([]models.Ticket, error) {
	f.states = states
	return f.tickets, f.err
}

func TestNextNumberEmptyDay(t *testing.T) {
	finder := &fakeFinder{}
	got, err := NewPolicy(finder).NextNumber(context.Background(), models.DayOf(time.Now()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "1" {
		t.Fatalf("expected 1, got %s", got)
	}
	if len(finder.states) != 0 {
		t.Fatalf("numbering must look at every state, filtered by %v", finder.states)
	}
}

func TestNextNumberUsesLastTicket(t *testing.T) {
	finder := &fakeFinder{tickets: []models.Ticket{
		{Number: "1", State: models.StateDone},
		{Number: "2", State: models.StateCancelled},
		{Number: "9", State: models.StateWaiting},
	}}
	got, err := NewPolicy(finder).NextNumber(context.Background(), models.DayOf(time.Now()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "10" {
		t.Fatalf("expected 10, got %s", got)
	}
}

func TestNextNumberUnparsable(t *testing.T) {
	finder := &fakeFinder{tickets: []models.Ticket{{Number: "A-7"}}}
	_, err := NewPolicy(finder).NextNumber(context.Background(), models.DayOf(time.Now()))
	var numErr *NumberingError
	if !errors.As(err, &numErr) {
		t.Fatalf("expected NumberingError, got %v", err)
	}
	if numErr.Number != "A-7" {
		t.Fatalf("expected offending number in error, got %q", numErr.Number)
	}
}

func TestNextNumberStoreError(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := NewPolicy(&fakeFinder{err: boom}).NextNumber(context.Background(), models.DayOf(time.Now()))
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error to propagate, got %v", err)
	}
}

func TestIncrement(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1", "2", true},
		{"99", "100", true},
		{" 5 ", "6", true},
		{"0", "", false},
		{"-3", "", false},
		{"", "", false},
		{"abc", "", false},
	}
	for _, tt := range cases {
		got, err := Increment(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Fatalf("Increment(%q)=(%q,%v), want (%q, ok=%v)", tt.in, got, err, tt.want, tt.ok)
		}
	}
}
