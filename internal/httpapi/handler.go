package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"qms/workshop-queue/internal/dispatcher"
	"qms/workshop-queue/internal/models"
	"qms/workshop-queue/internal/store"
)

// Dispatcher is the queue core as seen by the HTTP layer.
type Dispatcher interface {
	AssignTicket(ctx context.Context, date, orderRef, lane string) (dispatcher.QueueInfo, bool, error)
	QueueInfo(ctx context.Context, date, orderRef string) (dispatcher.QueueInfo, error)
	NextTicket(ctx context.Context, date string) (models.Ticket, bool, error)
	StartService(ctx context.Context, date, orderRef string) (models.Ticket, error)
	CompleteService(ctx context.Context, date, orderRef string) (models.Ticket, error)
	CancelService(ctx context.Context, date, orderRef string) (models.Ticket, error)
	Snapshot(ctx context.Context, date string) (models.QueueDay, error)
	Summary(ctx context.Context, date string) (dispatcher.Summary, error)
	SetPrioritySlots(ctx context.Context, date string, slots int) (models.QueueDay, error)
	TicketHistory(ctx context.Context, date, orderRef string) ([]store.TicketEvent, error)
}

type Handler struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

type assignTicketRequest struct {
	RequestID string `json:"request_id"`
	Date      string `json:"date"`
	OrderRef  string `json:"order_ref"`
	Lane      string `json:"lane"`
}

type ticketActionRequest struct {
	RequestID string `json:"request_id"`
	Date      string `json:"date"`
	OrderRef  string `json:"order_ref"`
}

type prioritySlotsRequest struct {
	RequestID string `json:"request_id"`
	Date      string `json:"date"`
	Slots     *int   `json:"slots"`
}

type assignTicketResponse struct {
	Created bool `json:"created"`
	dispatcher.QueueInfo
}

type nextTicketResponse struct {
	Found  bool           `json:"found"`
	Ticket *models.Ticket `json:"ticket,omitempty"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Options struct {
	Logger *slog.Logger
}

func NewHandler(d Dispatcher, options Options) *Handler {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{dispatcher: d, logger: logger}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

// Register mounts the API on an existing mux so main can add /metrics and
// the realtime endpoint next to it.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleAssignTicket)
	mux.HandleFunc("/api/tickets/info", h.handleTicketInfo)
	mux.HandleFunc("/api/tickets/events", h.handleTicketEvents)
	mux.HandleFunc("/api/tickets/actions/", h.handleTicketActions)
	mux.HandleFunc("/api/queue/next", h.handleNextTicket)
	mux.HandleFunc("/api/queue/snapshot", h.handleSnapshot)
	mux.HandleFunc("/api/queue/summary", h.handleSummary)
	mux.HandleFunc("/api/queue/priority-slots", h.handlePrioritySlots)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleAssignTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req assignTicketRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.OrderRef == "" || req.Lane == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "order_ref and lane are required")
		return
	}
	if !models.ValidLane(req.Lane) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "lane must be priority or regular")
		return
	}

	info, created, err := h.dispatcher.AssignTicket(r.Context(), req.Date, req.OrderRef, req.Lane)
	if err != nil {
		h.fail(w, req.RequestID, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, assignTicketResponse{Created: created, QueueInfo: info})
}

func (h *Handler) handleTicketInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	date, orderRef, ok := ticketQuery(w, r)
	if !ok {
		return
	}
	info, err := h.dispatcher.QueueInfo(r.Context(), date, orderRef)
	if err != nil {
		h.fail(w, requestIDFrom(r), err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) handleTicketEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	date, orderRef, ok := ticketQuery(w, r)
	if !ok {
		return
	}
	events, err := h.dispatcher.TicketHistory(r.Context(), date, orderRef)
	if err != nil {
		h.fail(w, requestIDFrom(r), err)
		return
	}
	if events == nil {
		events = []store.TicketEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":   events,
		"verified": store.VerifyTicketEvents(events),
	})
}

func (h *Handler) handleTicketActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tickets/actions/"), "/")
	var apply func(ctx context.Context, date, orderRef string) (models.Ticket, error)
	switch action {
	case store.ActionStart:
		apply = h.dispatcher.StartService
	case store.ActionComplete:
		apply = h.dispatcher.CompleteService
	case store.ActionCancel:
		apply = h.dispatcher.CancelService
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var req ticketActionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.OrderRef == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "order_ref is required")
		return
	}

	ticket, err := apply(r.Context(), req.Date, req.OrderRef)
	if err != nil {
		h.fail(w, req.RequestID, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleNextTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ticket, found, err := h.dispatcher.NextTicket(r.Context(), dateQuery(r))
	if err != nil {
		h.fail(w, requestIDFrom(r), err)
		return
	}
	resp := nextTicketResponse{Found: found}
	if found {
		resp.Ticket = &ticket
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	day, err := h.dispatcher.Snapshot(r.Context(), dateQuery(r))
	if err != nil {
		h.fail(w, requestIDFrom(r), err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	summary, err := h.dispatcher.Summary(r.Context(), dateQuery(r))
	if err != nil {
		h.fail(w, requestIDFrom(r), err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handlePrioritySlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req prioritySlotsRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.Slots == nil || *req.Slots < 0 {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "slots must be zero or greater")
		return
	}

	day, err := h.dispatcher.SetPrioritySlots(r.Context(), req.Date, *req.Slots)
	if err != nil {
		h.fail(w, req.RequestID, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

func (h *Handler) fail(w http.ResponseWriter, requestID string, err error) {
	status, code, msg := mapError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "request_id", requestID, "error", err)
	}
	writeError(w, requestID, status, code, msg)
}

func ticketQuery(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	orderRef := strings.TrimSpace(r.URL.Query().Get("order_ref"))
	if orderRef == "" {
		writeError(w, requestIDFrom(r), http.StatusBadRequest, "invalid_request", "order_ref is required")
		return "", "", false
	}
	return dateQuery(r), orderRef, true
}

// dateQuery returns the date parameter; empty means today.
func dateQuery(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("date"))
}

func requestIDFrom(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(requestIDHeader))
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFrom(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}

	switch t := target.(type) {
	case *assignTicketRequest:
		t.RequestID = fallbackRequestID(t.RequestID, r)
		t.Date = strings.TrimSpace(t.Date)
		t.OrderRef = strings.TrimSpace(t.OrderRef)
		t.Lane = strings.ToLower(strings.TrimSpace(t.Lane))
	case *ticketActionRequest:
		t.RequestID = fallbackRequestID(t.RequestID, r)
		t.Date = strings.TrimSpace(t.Date)
		t.OrderRef = strings.TrimSpace(t.OrderRef)
	case *prioritySlotsRequest:
		t.RequestID = fallbackRequestID(t.RequestID, r)
		t.Date = strings.TrimSpace(t.Date)
	default:
		writeError(w, requestIDFrom(r), http.StatusBadRequest, "invalid_request", "invalid request payload")
		return false
	}
	return true
}

func fallbackRequestID(value string, r *http.Request) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return requestIDFrom(r)
	}
	return value
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, store.ErrDayNotFound):
		return http.StatusNotFound, "day_not_found", "no queue for this date"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrCapacityExceeded):
		return http.StatusConflict, "capacity_exceeded", "priority lane is full for this date"
	case errors.Is(err, store.ErrNotNextInLine):
		return http.StatusConflict, "not_next_in_line", "ticket is not next in line"
	case errors.Is(err, store.ErrAlreadyInProgress):
		return http.StatusConflict, "already_in_progress", "another ticket is already being served"
	case errors.Is(err, store.ErrNotInProgress):
		return http.StatusConflict, "not_in_progress", "ticket is not being served"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
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
