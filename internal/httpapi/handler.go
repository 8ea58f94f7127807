package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"qms/turno-service/internal/models"
	"qms/turno-service/internal/numbering"
	"qms/turno-service/internal/queue"
	"qms/turno-service/internal/store"

	"github.com/google/uuid"
)

// TicketService is the queue surface exposed over HTTP.
type TicketService interface {
	CreateTicket(ctx context.Context, draft queue.Draft) (models.Ticket, error)
	Advance(ctx context.Context, ticketID, token string) (models.Ticket, error)
	Cancel(ctx context.Context, ticketID string) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListActive(ctx context.Context) ([]models.Ticket, error)
	Snapshot(ctx context.Context) (models.Snapshot, error)
}

type Handler struct {
	service TicketService
	stream  http.Handler
}

type createTicketRequest struct {
	Reason       string `json:"reason"`
	Priority     string `json:"priority"`
	Room         string `json:"room"`
	Practitioner string `json:"practitioner"`
	Patient      string `json:"patient"`
}

type advanceRequest struct {
	State string `json:"state"`
}

type listResponse struct {
	Tickets []models.Ticket `json:"tickets"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type Options struct {
	// Stream serves GET /api/stream when set.
	Stream http.Handler
}

func NewHandler(service TicketService, options Options) *Handler {
	return &Handler{service: service, stream: options.Stream}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/snapshot", h.handleSnapshot)
	mux.HandleFunc("/api/tickets/", h.handleTicket)
	if h.stream != nil {
		mux.Handle("/api/stream", h.stream)
	}
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleListActive(w, r)
	case http.MethodPost:
		h.handleCreateTicket(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	var req createTicketRequest
	if !decodeRequest(w, r, requestID, &req) {
		return
	}

	ticket, err := h.service.CreateTicket(r.Context(), queue.Draft{
		Reason:       req.Reason,
		Priority:     req.Priority,
		Room:         req.Room,
		Practitioner: req.Practitioner,
		Patient:      req.Patient,
	})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) handleListActive(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.service.ListActive(r.Context())
	if err != nil {
		writeServiceError(w, requestIDFrom(r), err)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	writeJSON(w, http.StatusOK, listResponse{Tickets: tickets})
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snapshot, err := h.service.Snapshot(r.Context())
	if err != nil {
		writeServiceError(w, requestIDFrom(r), err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleTicket serves /api/tickets/{id} and /api/tickets/{id}/actions/{action}.
func (h *Handler) handleTicket(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	requestID := requestIDFrom(r)

	ticketID := parts[0]
	if ticketID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	// ids are UUIDs, so a malformed one names no ticket
	if !isValidUUID(ticketID) {
		writeError(w, requestID, http.StatusNotFound, "ticket_not_found", "ticket not found", "")
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGetTicket(w, r, requestID, ticketID)
	case len(parts) == 3 && parts[1] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		switch parts[2] {
		case "advance":
			h.handleAdvance(w, r, requestID, ticketID)
		case "cancel":
			h.handleCancel(w, r, requestID, ticketID)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, requestID, ticketID string) {
	ticket, err := h.service.GetTicket(r.Context(), ticketID)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request, requestID, ticketID string) {
	var req advanceRequest
	if !decodeRequest(w, r, requestID, &req) {
		return
	}
	if strings.TrimSpace(req.State) == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "state is required", "state")
		return
	}

	ticket, err := h.service.Advance(r.Context(), ticketID, req.State)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request, requestID, ticketID string) {
	ticket, err := h.service.Cancel(r.Context(), ticketID)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, requestID string, target interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload", "")
		return false
	}
	return true
}

func requestIDFrom(r *http.Request) string {
	if requestID := strings.TrimSpace(r.Header.Get("X-Request-ID")); requestID != "" {
		return requestID
	}
	return uuid.NewString()
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	var validationErr *store.ValidationError
	var numberingErr *numbering.NumberingError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "invalid_request", validationErr.Error()
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "ticket state does not allow this action"
	case errors.Is(err, store.ErrDuplicateNumber):
		return http.StatusConflict, "duplicate_number", "ticket number already taken, retry"
	case errors.As(err, &numberingErr):
		return http.StatusInternalServerError, "numbering_failed", "cannot assign a ticket number"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeServiceError(w http.ResponseWriter, requestID string, err error) {
	status, code, msg := mapError(err)
	field := ""
	var validationErr *store.ValidationError
	if errors.As(err, &validationErr) {
		field = validationErr.Field
	}
	if status >= http.StatusInternalServerError {
		logError(requestID, err)
	}
	writeError(w, requestID, status, code, msg, field)
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message, field string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
			Field:   field,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
