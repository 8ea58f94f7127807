// Package queue owns the ticket lifecycle: creation with day-scoped
// numbering and the waiting → in_service → done graph with cancellation.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"qms/turno-service/internal/broadcast"
	"qms/turno-service/internal/models"
	"qms/turno-service/internal/numbering"
	"qms/turno-service/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxAttempts = 3

var tracer = otel.Tracer("qms/turno-service/queue")

// MutationListener is told after every committed mutation. It must not
// fail the mutation.
type MutationListener interface {
	OnMutation(ctx context.Context)
}

// Draft is an unvalidated creation request.
type Draft struct {
	Reason       string `json:"reason"`
	Priority     string `json:"priority"`
	Room         string `json:"room"`
	Practitioner string `json:"practitioner"`
	Patient      string `json:"patient"`
}

type Options struct {
	Locker      Locker
	Listeners   []MutationListener
	Location    *time.Location
	MaxAttempts int
	Now         func() time.Time
}

type Service struct {
	store       store.TicketStore
	numbering   *numbering.Policy
	locker      Locker
	listeners   []MutationListener
	location    *time.Location
	maxAttempts int
	now         func() time.Time
}

func NewService(ticketStore store.TicketStore, options Options) *Service {
	service := &Service{
		store:       ticketStore,
		numbering:   numbering.NewPolicy(ticketStore),
		locker:      options.Locker,
		listeners:   options.Listeners,
		location:    options.Location,
		maxAttempts: options.MaxAttempts,
		now:         options.Now,
	}
	if service.locker == nil {
		service.locker = NewLocalLocker()
	}
	if service.location == nil {
		service.location = time.Local
	}
	if service.maxAttempts <= 0 {
		service.maxAttempts = defaultMaxAttempts
	}
	if service.now == nil {
		service.now = time.Now
	}
	return service
}

// CreateTicket validates draft, numbers it within today and stores it as
// waiting.
func (s *Service) CreateTicket(ctx context.Context, draft Draft) (ticket models.Ticket, err error) {
	ctx, span := tracer.Start(ctx, "queue.CreateTicket")
	defer func() { endSpan(span, err) }()

	input, err := s.validate(draft)
	if err != nil {
		return models.Ticket{}, err
	}

	now := s.now().In(s.location)
	day := models.DayOf(now)
	input.DayKey = day.Key()
	input.RegisteredAt = now
	input.CreatedAt = now
	span.SetAttributes(attribute.String("queue.day", input.DayKey))

	unlock, err := s.locker.Lock(ctx, day.Key())
	if err != nil {
		return models.Ticket{}, fmt.Errorf("lock day %s: %w", day.Key(), err)
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		number, err := s.numbering.NextNumber(ctx, day)
		if err != nil {
			return models.Ticket{}, err
		}
		input.Number = number
		ticket, err = s.store.CreateTicket(ctx, input)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrDuplicateNumber) || attempt >= s.maxAttempts {
			return models.Ticket{}, err
		}
		log.Printf("ticket number collision day=%s number=%s attempt=%d", day.Key(), number, attempt)
	}
	unlock()

	span.SetAttributes(attribute.String("ticket.id", ticket.TicketID), attribute.String("ticket.number", ticket.Number))
	s.notify(ctx)
	return ticket, nil
}

// Advance moves a ticket to the state named by token.
func (s *Service) Advance(ctx context.Context, ticketID, token string) (ticket models.Ticket, err error) {
	ctx, span := tracer.Start(ctx, "queue.Advance", trace.WithAttributes(attribute.String("ticket.id", ticketID)))
	defer func() { endSpan(span, err) }()

	target, ok := models.ParseStateToken(token)
	if !ok {
		return models.Ticket{}, store.NewValidationError("state", fmt.Sprintf("unknown state %q", token))
	}
	return s.transition(ctx, ticketID, target)
}

func (s *Service) Cancel(ctx context.Context, ticketID string) (ticket models.Ticket, err error) {
	ctx, span := tracer.Start(ctx, "queue.Cancel", trace.WithAttributes(attribute.String("ticket.id", ticketID)))
	defer func() { endSpan(span, err) }()

	return s.transition(ctx, ticketID, models.StateCancelled)
}

// ListActive returns every ticket that has not been cancelled.
func (s *Service) ListActive(ctx context.Context) ([]models.Ticket, error) {
	return s.store.ListActive(ctx)
}

func (s *Service) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return s.store.GetTicket(ctx, ticketID)
}

// Snapshot reads today's live view straight from the store.
func (s *Service) Snapshot(ctx context.Context) (models.Snapshot, error) {
	return broadcast.ReadSnapshot(ctx, s.store, models.DayOf(s.now().In(s.location)))
}

func (s *Service) transition(ctx context.Context, ticketID, target string) (models.Ticket, error) {
	if strings.TrimSpace(ticketID) == "" {
		return models.Ticket{}, store.NewValidationError("ticket_id", "is required")
	}
	current, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !store.ValidTransition(current.State, target) {
		return models.Ticket{}, fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, current.State, target)
	}

	updated, err := s.store.UpdateStateConditional(ctx, ticketID, current.State, target, s.now())
	if err != nil {
		return models.Ticket{}, err
	}
	if updated == 0 {
		// Lost a race: the ticket vanished or moved on since it was read.
		latest, err := s.store.GetTicket(ctx, ticketID)
		if err != nil {
			return models.Ticket{}, err
		}
		return models.Ticket{}, fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, latest.State, target)
	}

	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	s.notify(ctx)
	return ticket, nil
}

func (s *Service) validate(draft Draft) (store.CreateTicketInput, error) {
	fields := []struct {
		name  string
		value string
	}{
		{"reason", draft.Reason},
		{"priority", draft.Priority},
		{"room", draft.Room},
		{"practitioner", draft.Practitioner},
		{"patient", draft.Patient},
	}
	for _, field := range fields {
		if strings.TrimSpace(field.value) == "" {
			return store.CreateTicketInput{}, store.NewValidationError(field.name, "is required")
		}
	}
	priority, ok := models.NormalizePriority(draft.Priority)
	if !ok {
		return store.CreateTicketInput{}, store.NewValidationError("priority", "must be one of high, medium, low")
	}
	return store.CreateTicketInput{
		Reason:       strings.TrimSpace(draft.Reason),
		Priority:     priority,
		Room:         strings.TrimSpace(draft.Room),
		Practitioner: strings.TrimSpace(draft.Practitioner),
		Patient:      strings.TrimSpace(draft.Patient),
	}, nil
}

func (s *Service) notify(ctx context.Context) {
	for _, listener := range s.listeners {
		listener.OnMutation(ctx)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
