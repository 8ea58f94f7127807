package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"qms/turno-service/internal/models"
	"qms/turno-service/internal/numbering"
	"qms/turno-service/internal/queue"
	"qms/turno-service/internal/store"
)

const testTicketID = "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"

type fakeService struct {
	createFn   func(ctx context.Context, draft queue.Draft) (models.Ticket, error)
	advanceFn  func(ctx context.Context, ticketID, token string) (models.Ticket, error)
	cancelFn   func(ctx context.Context, ticketID string) (models.Ticket, error)
	getFn      func(ctx context.Context, ticketID string) (models.Ticket, error)
	listFn     func(ctx context.Context) ([]models.Ticket, error)
	snapshotFn func(ctx context.Context) (models.Snapshot, error)
}

func (f fakeService) CreateTicket(ctx context.Context, draft queue.Draft) (models.Ticket, error) {
	if f.createFn == nil {
		return models.Ticket{}, nil
	}
	return f.createFn(ctx, draft)
}

func (f fakeService) Advance(ctx context.Context, ticketID, token string) (models.Ticket, error) {
	if f.advanceFn == nil {
		return models.Ticket{}, nil
	}
	return f.advanceFn(ctx, ticketID, token)
}

func (f fakeService) Cancel(ctx context.Context, ticketID string) (models.Ticket, error) {
	if f.cancelFn == nil {
		return models.Ticket{}, nil
	}
	return f.cancelFn(ctx, ticketID)
}

func (f fakeService) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if f.getFn == nil {
		return models.Ticket{}, nil
	}
	return f.getFn(ctx, ticketID)
}

func (f fakeService) ListActive(ctx context.Context) ([]models.Ticket, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx)
}

func (f fakeService) Snapshot(ctx context.Context) (models.Snapshot, error) {
	if f.snapshotFn == nil {
		return models.Snapshot{}, nil
	}
	return f.snapshotFn(ctx)
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return body
}

func TestCreateTicketSuccess(t *testing.T) {
	createdAt := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	svc := fakeService{
		createFn: func(ctx context.Context, draft queue.Draft) (models.Ticket, error) {
			return models.Ticket{
				TicketID:  testTicketID,
				Number:    "1",
				Reason:    draft.Reason,
				Priority:  models.PriorityHigh,
				State:     models.StateWaiting,
				Patient:   draft.Patient,
				CreatedAt: createdAt,
			}, nil
		},
	}
	h := NewHandler(svc, Options{})

	body, _ := json.Marshal(map[string]string{
		"reason":       "control",
		"priority":     "Alta",
		"room":         "Consultorio 3",
		"practitioner": "Dr. Soto",
		"patient":      "Ana",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/tickets", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.Code)
	}
	var ticket models.Ticket
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ticket.Number != "1" || ticket.State != models.StateWaiting || ticket.Patient != "Ana" {
		t.Fatalf("unexpected ticket response: %+v", ticket)
	}
}

func TestCreateTicketValidationError(t *testing.T) {
	svc := fakeService{
		createFn: func(ctx context.Context, draft queue.Draft) (models.Ticket, error) {
			return models.Ticket{}, store.NewValidationError("priority", "must be one of high, medium, low")
		},
	}
	h := NewHandler(svc, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/tickets", strings.NewReader(`{"reason":"r","priority":"urgent"}`))
	req.Header.Set("X-Request-ID", "req-1")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	body := decodeError(t, resp)
	if body.RequestID != "req-1" || body.Error.Field != "priority" || body.Error.Code != "invalid_request" {
		t.Fatalf("unexpected error response: %+v", body)
	}
}

func TestCreateTicketRejectsUnknownFields(t *testing.T) {
	h := NewHandler(fakeService{}, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/tickets", strings.NewReader(`{"reason":"r","tenant":"x"}`))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if body := decodeError(t, resp); body.Error.Code != "invalid_json" {
		t.Fatalf("unexpected error code %q", body.Error.Code)
	}
}

func TestAdvanceTicketPassesToken(t *testing.T) {
	var gotID, gotToken string
	svc := fakeService{
		advanceFn: func(ctx context.Context, ticketID, token string) (models.Ticket, error) {
			gotID, gotToken = ticketID, token
			return models.Ticket{TicketID: ticketID, State: models.StateInService}, nil
		},
	}
	h := NewHandler(svc, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/tickets/"+testTicketID+"/actions/advance", strings.NewReader(`{"state":"atencion"}`))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if gotID != testTicketID || gotToken != "atencion" {
		t.Fatalf("unexpected call id=%s token=%s", gotID, gotToken)
	}
}

func TestAdvanceTicketMissingState(t *testing.T) {
	h := NewHandler(fakeService{}, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/tickets/"+testTicketID+"/actions/advance", strings.NewReader(`{}`))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if body := decodeError(t, resp); body.Error.Field != "state" {
		t.Fatalf("unexpected error field %q", body.Error.Field)
	}
}

func TestTicketActionErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", store.ErrTicketNotFound, http.StatusNotFound, "ticket_not_found"},
		{"invalid transition", fmt.Errorf("%w: done -> cancelled", store.ErrInvalidTransition), http.StatusConflict, "invalid_transition"},
		{"duplicate number", store.ErrDuplicateNumber, http.StatusConflict, "duplicate_number"},
		{"numbering", &numbering.NumberingError{Number: "A-1", Err: errors.New("bad")}, http.StatusInternalServerError, "numbering_failed"},
		{"store", errors.New("connection refused"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := fakeService{
				cancelFn: func(ctx context.Context, ticketID string) (models.Ticket, error) {
					return models.Ticket{}, tc.err
				},
			}
			h := NewHandler(svc, Options{})

			req := httptest.NewRequest(http.MethodPost, "/api/tickets/"+testTicketID+"/actions/cancel", nil)
			resp := httptest.NewRecorder()

			h.Routes().ServeHTTP(resp, req)

			if resp.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, resp.Code)
			}
			if body := decodeError(t, resp); body.Error.Code != tc.code || body.RequestID == "" {
				t.Fatalf("unexpected error response: %+v", body)
			}
		})
	}
}

func TestTicketRoutesRejectBadIDsAndPaths(t *testing.T) {
	h := NewHandler(fakeService{}, Options{})

	cases := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/api/tickets/not-a-uuid", http.StatusNotFound},
		{http.MethodPost, "/api/tickets/" + testTicketID + "/actions/recall", http.StatusNotFound},
		{http.MethodGet, "/api/tickets/" + testTicketID + "/actions/cancel", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/api/tickets/" + testTicketID, http.StatusMethodNotAllowed},
		{http.MethodPut, "/api/tickets", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		resp := httptest.NewRecorder()
		h.Routes().ServeHTTP(resp, req)
		if resp.Code != tc.status {
			t.Fatalf("%s %s: expected status %d, got %d", tc.method, tc.path, tc.status, resp.Code)
		}
	}
}

func TestListActiveTickets(t *testing.T) {
	svc := fakeService{
		listFn: func(ctx context.Context) ([]models.Ticket, error) {
			return []models.Ticket{{TicketID: testTicketID, Number: "4", State: models.StateDone}}, nil
		},
	}
	h := NewHandler(svc, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/tickets", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var body listResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Tickets) != 1 || body.Tickets[0].Number != "4" {
		t.Fatalf("unexpected tickets: %+v", body.Tickets)
	}
}

func TestSnapshotEmptyListsAreArrays(t *testing.T) {
	svc := fakeService{
		snapshotFn: func(ctx context.Context) (models.Snapshot, error) {
			return models.Snapshot{Waiting: []models.Ticket{}, InService: []models.Ticket{}}, nil
		},
	}
	h := NewHandler(svc, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/tickets/snapshot", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if got := strings.TrimSpace(resp.Body.String()); got != `{"waiting":[],"in_service":[]}` {
		t.Fatalf("unexpected snapshot body %s", got)
	}
}

func TestRateLimiterThrottlesPosts(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 1, IPBurst: 2})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := limiter.Middleware(next)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/tickets", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/tickets", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("reads should not be throttled, got %d", resp.Code)
	}
}

func TestTicketActionsOnMalformedIDAreNotFound(t *testing.T) {
	called := false
	svc := fakeService{
		advanceFn: func(ctx context.Context, ticketID, token string) (models.Ticket, error) {
			called = true
			return models.Ticket{}, nil
		},
		cancelFn: func(ctx context.Context, ticketID string) (models.Ticket, error) {
			called = true
			return models.Ticket{}, nil
		},
	}
	h := NewHandler(svc, Options{})

	for _, action := range []string{"advance", "cancel"} {
		req := httptest.NewRequest(http.MethodPost, "/api/tickets/42/actions/"+action, strings.NewReader(`{"state":"atencion"}`))
		resp := httptest.NewRecorder()

		h.Routes().ServeHTTP(resp, req)

		if resp.Code != http.StatusNotFound {
			t.Fatalf("%s: expected status 404, got %d", action, resp.Code)
		}
		if body := decodeError(t, resp); body.Error.Code != "ticket_not_found" {
			t.Fatalf("%s: unexpected error code %q", action, body.Error.Code)
		}
	}
	if called {
		t.Fatal("service should not be reached for a malformed id")
	}
}
