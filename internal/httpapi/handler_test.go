package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"qms/workshop-queue/internal/dispatcher"
	"qms/workshop-queue/internal/hub"
	"qms/workshop-queue/internal/models"
	"qms/workshop-queue/internal/store"
)

type fakeDispatcher struct {
	assignFn   func(ctx context.Context, date, orderRef, lane string) (dispatcher.QueueInfo, bool, error)
	infoFn     func(ctx context.Context, date, orderRef string) (dispatcher.QueueInfo, error)
	nextFn     func(ctx context.Context, date string) (models.Ticket, bool, error)
	startFn    func(ctx context.Context, date, orderRef string) (models.Ticket, error)
	completeFn func(ctx context.Context, date, orderRef string) (models.Ticket, error)
	cancelFn   func(ctx context.Context, date, orderRef string) (models.Ticket, error)
	snapshotFn func(ctx context.Context, date string) (models.QueueDay, error)
	summaryFn  func(ctx context.Context, date string) (dispatcher.Summary, error)
	slotsFn    func(ctx context.Context, date string, slots int) (models.QueueDay, error)
	historyFn  func(ctx context.Context, date, orderRef string) ([]store.TicketEvent, error)
}

func (f fakeDispatcher) AssignTicket(ctx context.Context, date, orderRef, lane string) (dispatcher.QueueInfo, bool, error) {
	if f.assignFn == nil {
		return dispatcher.QueueInfo{}, false, nil
	}
	return f.assignFn(ctx, date, orderRef, lane)
}

func (f fakeDispatcher) QueueInfo(ctx context.Context, date, orderRef string) (dispatcher.QueueInfo, error) {
	if f.infoFn == nil {
		return dispatcher.QueueInfo{}, nil
	}
	return f.infoFn(ctx, date, orderRef)
}

func (f fakeDispatcher) NextTicket(ctx context.Context, date string) (models.Ticket, bool, error) {
	if f.nextFn == nil {
		return models.Ticket{}, false, nil
	}
	return f.nextFn(ctx, date)
}

func (f fakeDispatcher) StartService(ctx context.Context, date, orderRef string) (models.Ticket, error) {
	if f.startFn == nil {
		return models.Ticket{}, nil
	}
	return f.startFn(ctx, date, orderRef)
}

func (f fakeDispatcher) CompleteService(ctx context.Context, date, orderRef string) (models.Ticket, error) {
	if f.completeFn == nil {
		return models.Ticket{}, nil
	}
	return f.completeFn(ctx, date, orderRef)
}

func (f fakeDispatcher) CancelService(ctx context.Context, date, orderRef string) (models.Ticket, error) {
	if f.cancelFn == nil {
		return models.Ticket{}, nil
	}
	return f.cancelFn(ctx, date, orderRef)
}

func (f fakeDispatcher) Snapshot(ctx context.Context, date string) (models.QueueDay, error) {
	if f.snapshotFn == nil {
		return models.QueueDay{}, nil
	}
	return f.snapshotFn(ctx, date)
}

func (f fakeDispatcher) Summary(ctx context.Context, date string) (dispatcher.Summary, error) {
	if f.summaryFn == nil {
		return dispatcher.Summary{}, nil
	}
	return f.summaryFn(ctx, date)
}

func (f fakeDispatcher) SetPrioritySlots(ctx context.Context, date string, slots int) (models.QueueDay, error) {
	if f.slotsFn == nil {
		return models.QueueDay{}, nil
	}
	return f.slotsFn(ctx, date, slots)
}

func (f fakeDispatcher) TicketHistory(ctx context.Context, date, orderRef string) ([]store.TicketEvent, error) {
	if f.historyFn == nil {
		return nil, nil
	}
	return f.historyFn(ctx, date, orderRef)
}

func postJSON(t *testing.T, h *Handler, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)
	return resp
}

func TestAssignTicketCreated(t *testing.T) {
	var gotDate, gotOrder, gotLane string
	d := fakeDispatcher{
		assignFn: func(ctx context.Context, date, orderRef, lane string) (dispatcher.QueueInfo, bool, error) {
			gotDate, gotOrder, gotLane = date, orderRef, lane
			return dispatcher.QueueInfo{
				Ticket:   models.Ticket{OrderRef: orderRef, Lane: lane, Number: 1, DisplayNumber: "P001", Status: models.StatusWaiting},
				Position: dispatcher.Position{NumbersAhead: 0},
			}, true, nil
		},
	}
	h := NewHandler(d, Options{})

	resp := postJSON(t, h, "/api/tickets", map[string]string{
		"date":      "2026-10-17",
		"order_ref": " SO-1 ",
		"lane":      "Priority",
	})

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.Code)
	}
	if gotDate != "2026-10-17" || gotOrder != "SO-1" || gotLane != models.LanePriority {
		t.Fatalf("unexpected arguments %q %q %q", gotDate, gotOrder, gotLane)
	}
	var body assignTicketResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Created || body.Ticket.DisplayNumber != "P001" {
		t.Fatalf("unexpected response: %+v", body)
	}
}

func TestAssignTicketReplayReturnsOK(t *testing.T) {
	d := fakeDispatcher{
		assignFn: func(ctx context.Context, date, orderRef, lane string) (dispatcher.QueueInfo, bool, error) {
			return dispatcher.QueueInfo{Ticket: models.Ticket{OrderRef: orderRef}}, false, nil
		},
	}
	h := NewHandler(d, Options{})

	resp := postJSON(t, h, "/api/tickets", map[string]string{"order_ref": "SO-1", "lane": "regular"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}

func TestAssignTicketValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload interface{}
	}{
		{"missing order", map[string]string{"lane": "regular"}},
		{"missing lane", map[string]string{"order_ref": "SO-1"}},
		{"unknown lane", map[string]string{"order_ref": "SO-1", "lane": "vip"}},
		{"unknown field", map[string]string{"order_ref": "SO-1", "lane": "regular", "tenant_id": "x"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			d := fakeDispatcher{
				assignFn: func(ctx context.Context, date, orderRef, lane string) (dispatcher.QueueInfo, bool, error) {
					called = true
					return dispatcher.QueueInfo{}, true, nil
				},
			}
			resp := postJSON(t, NewHandler(d, Options{}), "/api/tickets", tc.payload)
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", resp.Code)
			}
			if called {
				t.Fatalf("dispatcher should not be called")
			}
		})
	}
}

func TestAssignTicketMethodNotAllowed(t *testing.T) {
	h := NewHandler(fakeDispatcher{}, Options{})
	req := httptest.NewRequest(http.MethodGet, "/api/tickets", nil)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", resp.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{store.ErrCapacityExceeded, http.StatusConflict, "capacity_exceeded"},
		{store.ErrNotNextInLine, http.StatusConflict, "not_next_in_line"},
		{store.ErrAlreadyInProgress, http.StatusConflict, "already_in_progress"},
		{store.ErrNotInProgress, http.StatusConflict, "not_in_progress"},
		{store.ErrInvalidTransition, http.StatusConflict, "invalid_state"},
		{store.ErrTicketNotFound, http.StatusNotFound, "ticket_not_found"},
		{store.ErrDayNotFound, http.StatusNotFound, "day_not_found"},
		{fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidInput), http.StatusBadRequest, "invalid_request"},
		{errors.New("db down"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			d := fakeDispatcher{
				startFn: func(ctx context.Context, date, orderRef string) (models.Ticket, error) {
					return models.Ticket{}, tc.err
				},
			}
			resp := postJSON(t, NewHandler(d, Options{}), "/api/tickets/actions/start", map[string]string{
				"request_id": "req-1",
				"order_ref":  "SO-1",
			})
			if resp.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, resp.Code)
			}
			var body errorResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if body.Error.Code != tc.code || body.RequestID != "req-1" {
				t.Fatalf("unexpected error body: %+v", body)
			}
		})
	}
}

func TestTicketActionsRouting(t *testing.T) {
	var calls []string
	record := func(name string) func(ctx context.Context, date, orderRef string) (models.Ticket, error) {
		return func(ctx context.Context, date, orderRef string) (models.Ticket, error) {
			calls = append(calls, name+":"+orderRef)
			return models.Ticket{OrderRef: orderRef}, nil
		}
	}
	d := fakeDispatcher{startFn: record("start"), completeFn: record("complete"), cancelFn: record("cancel")}
	h := NewHandler(d, Options{})

	for _, action := range []string{"start", "complete", "cancel"} {
		resp := postJSON(t, h, "/api/tickets/actions/"+action, map[string]string{"order_ref": "SO-9"})
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", action, resp.Code)
		}
	}
	if len(calls) != 3 || calls[0] != "start:SO-9" || calls[1] != "complete:SO-9" || calls[2] != "cancel:SO-9" {
		t.Fatalf("unexpected calls: %v", calls)
	}

	resp := postJSON(t, h, "/api/tickets/actions/recall", map[string]string{"order_ref": "SO-9"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestNextTicket(t *testing.T) {
	d := fakeDispatcher{
		nextFn: func(ctx context.Context, date string) (models.Ticket, bool, error) {
			if date != "" {
				return models.Ticket{}, false, nil
			}
			return models.Ticket{OrderRef: "SO-P1", DisplayNumber: "P001"}, true, nil
		},
	}
	h := NewHandler(d, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/queue/next", nil)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var body nextTicketResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Found || body.Ticket == nil || body.Ticket.DisplayNumber != "P001" {
		t.Fatalf("unexpected response: %+v", body)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/queue/next?date=2026-10-18", nil)
	resp = httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)
	body = nextTicketResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Found || body.Ticket != nil {
		t.Fatalf("expected empty queue, got %+v", body)
	}
}

func TestTicketInfoRequiresOrderRef(t *testing.T) {
	h := NewHandler(fakeDispatcher{}, Options{})
	req := httptest.NewRequest(http.MethodGet, "/api/tickets/info?date=2026-10-17", nil)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestTicketInfoSuccess(t *testing.T) {
	d := fakeDispatcher{
		infoFn: func(ctx context.Context, date, orderRef string) (dispatcher.QueueInfo, error) {
			return dispatcher.QueueInfo{
				Ticket:   models.Ticket{OrderRef: orderRef},
				Position: dispatcher.Position{NumbersAhead: 2, EstimatedWaitMinutes: 30},
			}, nil
		},
	}
	h := NewHandler(d, Options{})
	req := httptest.NewRequest(http.MethodGet, "/api/tickets/info?date=2026-10-17&order_ref=SO-1", nil)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var info dispatcher.QueueInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if info.Position.NumbersAhead != 2 || info.Position.EstimatedWaitMinutes != 30 {
		t.Fatalf("unexpected position: %+v", info.Position)
	}
}

func TestTicketEventsVerified(t *testing.T) {
	created := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	change := store.TicketChange{Type: store.EventTicketAssigned, Ticket: models.Ticket{TicketID: "t-1", OrderRef: "SO-1", Status: models.StatusWaiting}}
	event, err := store.NewTicketEvent(nil, change, created)
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	d := fakeDispatcher{
		historyFn: func(ctx context.Context, date, orderRef string) ([]store.TicketEvent, error) {
			return []store.TicketEvent{event}, nil
		},
	}
	h := NewHandler(d, Options{})
	req := httptest.NewRequest(http.MethodGet, "/api/tickets/events?order_ref=SO-1", nil)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var body struct {
		Events   []store.TicketEvent `json:"events"`
		Verified bool                `json:"verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Events) != 1 || !body.Verified {
		t.Fatalf("unexpected response: %+v", body)
	}
}

func TestSnapshotDayNotFound(t *testing.T) {
	d := fakeDispatcher{
		snapshotFn: func(ctx context.Context, date string) (models.QueueDay, error) {
			return models.QueueDay{}, store.ErrDayNotFound
		},
	}
	h := NewHandler(d, Options{})
	req := httptest.NewRequest(http.MethodGet, "/api/queue/snapshot?date=2026-10-17", nil)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestSummarySuccess(t *testing.T) {
	d := fakeDispatcher{
		summaryFn: func(ctx context.Context, date string) (dispatcher.Summary, error) {
			return dispatcher.Summary{Date: date, ServingNumber: "P001", Waiting: 3}, nil
		},
	}
	h := NewHandler(d, Options{})
	req := httptest.NewRequest(http.MethodGet, "/api/queue/summary?date=2026-10-17", nil)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var summary dispatcher.Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if summary.Date != "2026-10-17" || summary.ServingNumber != "P001" || summary.Waiting != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestPrioritySlots(t *testing.T) {
	var got int
	d := fakeDispatcher{
		slotsFn: func(ctx context.Context, date string, slots int) (models.QueueDay, error) {
			got = slots
			return models.QueueDay{Date: date, MaxPrioritySlots: slots}, nil
		},
	}
	h := NewHandler(d, Options{})

	resp := postJSON(t, h, "/api/queue/priority-slots", map[string]interface{}{"date": "2026-10-17", "slots": 0})
	if resp.Code != http.StatusOK || got != 0 {
		t.Fatalf("expected status 200 with slots 0, got %d slots %d", resp.Code, got)
	}

	resp = postJSON(t, h, "/api/queue/priority-slots", map[string]interface{}{"date": "2026-10-17"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}

	resp = postJSON(t, h, "/api/queue/priority-slots", map[string]interface{}{"slots": -2})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestLoggingMiddlewareRequestID(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(requestIDHeader)
		w.WriteHeader(http.StatusTeapot)
	})
	handler := LoggingMiddleware(nil, next)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if seen == "" || resp.Header().Get(requestIDHeader) != seen {
		t.Fatalf("expected generated request id, got %q / %q", seen, resp.Header().Get(requestIDHeader))
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc")
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Header().Get(requestIDHeader) != "abc" {
		t.Fatalf("expected caller request id to be kept")
	}
}

type fakeSession struct {
	req  *http.Request
	recv chan string
	mu   sync.Mutex
	sent []string
}

func (s *fakeSession) Request() *http.Request { return s.req }

func (s *fakeSession) Recv() (string, error) {
	msg, ok := <-s.recv
	if !ok {
		return "", errors.New("closed")
	}
	return msg, nil
}

func (s *fakeSession) Send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func TestServeSessionSubscribes(t *testing.T) {
	h := hub.New(nil)
	session := &fakeSession{
		req:  httptest.NewRequest(http.MethodGet, "/realtime/websocket?date=2026-10-17", nil),
		recv: make(chan string),
	}
	done := make(chan struct{})
	go func() {
		serveSession(h, nil, session)
		close(done)
	}()

	session.recv <- `{"action":"subscribe","date":"2026-10-18"}`
	session.recv <- `ping`
	if h.Count() != 1 {
		t.Fatalf("expected one registered client, got %d", h.Count())
	}
	close(session.recv)
	<-done
	if h.Count() != 0 {
		t.Fatalf("expected client to be unregistered")
	}
}
