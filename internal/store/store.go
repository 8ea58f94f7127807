package store

import (
	"context"
	"time"

	"qms/turno-service/internal/models"
)

type CreateTicketInput struct {
	Number       string
	DayKey       string
	Reason       string
	Priority     string
	Room         string
	Practitioner string
	Patient      string
	RegisteredAt time.Time
	CreatedAt    time.Time
}

// TicketStore is the persistence collaborator of the queue. Implementations
// assign ticket ids and audit timestamps.
type TicketStore interface {
	// CreateTicket persists a waiting ticket. A (day, number) collision
	// returns ErrDuplicateNumber.
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, error)
	// FindByDay lists the tickets created within day, oldest first. With no
	// states every ticket of the day is returned.
	FindByDay(ctx context.Context, day models.Day, states ...string) ([]models.Ticket, error)
	// UpdateStateConditional moves the ticket to toState only while it is in
	// fromState, returning the number of rows changed.
	UpdateStateConditional(ctx context.Context, ticketID, fromState, toState string, at time.Time) (int64, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListActive(ctx context.Context) ([]models.Ticket, error)
}
