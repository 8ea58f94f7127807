package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qms/turno-service/internal/models"
	"qms/turno-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const ticketColumns = `ticket_id, number, reason, priority, registered_at, state, room, practitioner, patient, created_at, updated_at`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	registeredAt := input.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = createdAt
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO tickets (
			ticket_id, number, ticket_day, reason, priority, registered_at,
			state, room, practitioner, patient, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
		RETURNING `+ticketColumns,
		uuid.NewString(), input.Number, input.DayKey, input.Reason, input.Priority, registeredAt,
		models.StateWaiting, input.Room, input.Practitioner, input.Patient, createdAt)

	ticket, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, translateErr(err)
	}
	return ticket, nil
}

func (s *Store) FindByDay(ctx context.Context, day models.Day, states ...string) ([]models.Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE created_at >= $1 AND created_at < $2
	`
	args := []interface{}{day.Start, day.End}
	if len(states) > 0 {
		query += " AND state = ANY($3)"
		args = append(args, states)
	}
	query += " ORDER BY created_at ASC, length(number) ASC, number ASC"

	return s.queryTickets(ctx, query, args...)
}

func (s *Store) UpdateStateConditional(ctx context.Context, ticketID, fromState, toState string, at time.Time) (int64, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE tickets
		SET state = $1, updated_at = $2
		WHERE ticket_id = $3 AND state = $4
	`, toState, at, ticketID, fromState)
	if err != nil {
		return 0, translateErr(err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE ticket_id = $1
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, translateErr(err)
	}
	return ticket, nil
}

func (s *Store) ListActive(ctx context.Context) ([]models.Ticket, error) {
	return s.queryTickets(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE state <> $1
		ORDER BY created_at ASC
	`, models.StateCancelled)
}

func (s *Store) queryTickets(ctx context.Context, query string, args ...interface{}) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := []models.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	err := row.Scan(
		&ticket.TicketID, &ticket.Number, &ticket.Reason, &ticket.Priority, &ticket.RegisteredAt,
		&ticket.State, &ticket.Room, &ticket.Practitioner, &ticket.Patient, &ticket.CreatedAt, &ticket.UpdatedAt,
	)
	return ticket, err
}

func translateErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrTicketNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrDuplicateNumber, pgErr.ConstraintName)
	}
	return err
}
