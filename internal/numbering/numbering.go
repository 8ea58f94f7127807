// Package numbering derives the next ticket number of a day from the
// tickets already stored for it. There is no counter table: cancelled
// tickets keep their number, like a paper ticket dispenser.
package numbering

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"qms/turno-service/internal/models"
)

const firstNumber = "1"

type DayFinder interface {
	FindByDay(ctx context.Context, day models.Day, states ...string) ([]models.Ticket, error)
}

// NumberingError is returned when the last number of the day cannot be
// parsed. Falling back to "1" would collide with an existing ticket.
type NumberingError struct {
	Number string
	Err    error
}

func (e *NumberingError) Error() string {
	return fmt.Sprintf("cannot derive next ticket number from %q: %v", e.Number, e.Err)
}

func (e *NumberingError) Unwrap() error {
	return e.Err
}

type Policy struct {
	finder DayFinder
}

func NewPolicy(finder DayFinder) *Policy {
	return &Policy{finder: finder}
}

// NextNumber returns the number the next ticket created on day should get.
// It is a plain read; callers must serialise it with the insert.
func (p *Policy) NextNumber(ctx context.Context, day models.Day) (string, error) {
	tickets, err := p.finder.FindByDay(ctx, day)
	if err != nil {
		return "", err
	}
	if len(tickets) == 0 {
		return firstNumber, nil
	}
	return Increment(tickets[len(tickets)-1].Number)
}

// Increment parses a stored ticket number and returns its successor.
func Increment(number string) (string, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(number), 10, 64)
	if err != nil {
		return "", &NumberingError{Number: number, Err: err}
	}
	if value < 1 {
		return "", &NumberingError{Number: number, Err: fmt.Errorf("ticket numbers start at %s", firstNumber)}
	}
	return strconv.FormatInt(value+1, 10), nil
}
