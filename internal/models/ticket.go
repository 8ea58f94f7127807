package models

import (
	"strings"
	"time"
)

type Ticket struct {
	TicketID     string    `json:"ticket_id"`
	Number       string    `json:"number"`
	Reason       string    `json:"reason"`
	Priority     string    `json:"priority"`
	RegisteredAt time.Time `json:"registered_at"`
	State        string    `json:"state"`
	Room         string    `json:"room"`
	Practitioner string    `json:"practitioner"`
	Patient      string    `json:"patient"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const (
	StateWaiting   = "waiting"
	StateInService = "in_service"
	StateDone      = "done"
	StateCancelled = "cancelled"
)

const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

var priorityAliases = map[string]string{
	"high":   PriorityHigh,
	"medium": PriorityMedium,
	"low":    PriorityLow,
	"alta":   PriorityHigh,
	"media":  PriorityMedium,
	"baja":   PriorityLow,
}

// Advance only ever targets these three states; cancellation has its own operation.
var advanceTokens = map[string]string{
	"waiting":     StateWaiting,
	"espera":      StateWaiting,
	"en espera":   StateWaiting,
	"in_service":  StateInService,
	"atencion":    StateInService,
	"atención":    StateInService,
	"en atencion": StateInService,
	"en atención": StateInService,
	"done":        StateDone,
	"finalizado":  StateDone,
}

// NormalizePriority maps a priority label, canonical or the legacy Spanish
// one, to its canonical token.
func NormalizePriority(raw string) (string, bool) {
	value, ok := priorityAliases[strings.ToLower(strings.TrimSpace(raw))]
	return value, ok
}

// ParseStateToken maps an external state token to the state an advance
// request targets. Unknown tokens are reported, never defaulted.
func ParseStateToken(raw string) (string, bool) {
	value, ok := advanceTokens[strings.ToLower(strings.TrimSpace(raw))]
	return value, ok
}

func IsTerminal(state string) bool {
	return state == StateDone || state == StateCancelled
}
