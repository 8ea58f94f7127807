// Package sqlite is the single-node ticket store. It keeps the same
// per-day number constraint as the PostgreSQL store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"qms/turno-service/internal/models"
	"qms/turno-service/internal/store"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tickets (
	ticket_id     TEXT PRIMARY KEY,
	number        TEXT NOT NULL,
	ticket_day    TEXT NOT NULL,
	reason        TEXT NOT NULL,
	priority      TEXT NOT NULL CHECK (priority IN ('high', 'medium', 'low')),
	registered_at INTEGER NOT NULL,
	state         TEXT NOT NULL DEFAULT 'waiting' CHECK (state IN ('waiting', 'in_service', 'done', 'cancelled')),
	room          TEXT NOT NULL,
	practitioner  TEXT NOT NULL,
	patient       TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	UNIQUE (ticket_day, number)
);
CREATE INDEX IF NOT EXISTS tickets_created_at_idx ON tickets (created_at);
`

const ticketColumns = `ticket_id, number, reason, priority, registered_at, state, room, practitioner, patient, created_at, updated_at`

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
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

	ticket := models.Ticket{
		TicketID:     uuid.NewString(),
		Number:       input.Number,
		Reason:       input.Reason,
		Priority:     input.Priority,
		RegisteredAt: registeredAt.UTC(),
		State:        models.StateWaiting,
		Room:         input.Room,
		Practitioner: input.Practitioner,
		Patient:      input.Patient,
		CreatedAt:    createdAt.UTC(),
		UpdatedAt:    createdAt.UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (
			ticket_id, number, ticket_day, reason, priority, registered_at,
			state, room, practitioner, patient, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
	`, ticket.TicketID, ticket.Number, input.DayKey, ticket.Reason, ticket.Priority, ticket.RegisteredAt.UnixNano(),
		ticket.State, ticket.Room, ticket.Practitioner, ticket.Patient, ticket.CreatedAt.UnixNano(), ticket.UpdatedAt.UnixNano())
	if err != nil {
		return models.Ticket{}, translateErr(err)
	}
	return ticket, nil
}

func (s *Store) FindByDay(ctx context.Context, day models.Day, states ...string) ([]models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE created_at >= ? AND created_at < ?`
	args := []interface{}{day.Start.UnixNano(), day.End.UnixNano()}
	if len(states) > 0 {
		query += " AND state IN (" + strings.TrimSuffix(strings.Repeat("?,", len(states)), ",") + ")"
		for _, state := range states {
			args = append(args, state)
		}
	}
	query += " ORDER BY created_at ASC, length(number) ASC, number ASC"
	return s.queryTickets(ctx, query, args...)
}

func (s *Store) UpdateStateConditional(ctx context.Context, ticketID, fromState, toState string, at time.Time) (int64, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickets SET state = ?, updated_at = ?
		WHERE ticket_id = ? AND state = ?
	`, toState, at.UnixNano(), ticketID, fromState)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = ?`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, translateErr(err)
	}
	return ticket, nil
}

func (s *Store) ListActive(ctx context.Context) ([]models.Ticket, error) {
	return s.queryTickets(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE state <> ? ORDER BY created_at ASC`, models.StateCancelled)
}

func (s *Store) queryTickets(ctx context.Context, query string, args ...interface{}) ([]models.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row scanner) (models.Ticket, error) {
	var ticket models.Ticket
	var registeredAt, createdAt, updatedAt int64
	if err := row.Scan(
		&ticket.TicketID, &ticket.Number, &ticket.Reason, &ticket.Priority, &registeredAt,
		&ticket.State, &ticket.Room, &ticket.Practitioner, &ticket.Patient, &createdAt, &updatedAt,
	); err != nil {
		return models.Ticket{}, err
	}
	ticket.RegisteredAt = time.Unix(0, registeredAt).UTC()
	ticket.CreatedAt = time.Unix(0, createdAt).UTC()
	ticket.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return ticket, nil
}

func translateErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrTicketNotFound
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", store.ErrDuplicateNumber, err)
	}
	return err
}
