package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"qms/workshop-queue/internal/models"
)

const (
	EventTicketAssigned  = "ticket.assigned"
	EventTicketStarted   = "ticket.started"
	EventTicketCompleted = "ticket.completed"
	EventTicketCancelled = "ticket.cancelled"
)

type TicketEvent struct {
	TicketID  string          `json:"ticket_id"`
	TicketSeq int             `json:"ticket_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

// TicketChange is one ticket transition observed between two versions of a
// QueueDay.
type TicketChange struct {
	Type   string
	Ticket models.Ticket
}

type eventPayload struct {
	TicketID       string     `json:"ticket_id"`
	Date           string     `json:"date"`
	OrderRef       string     `json:"order_ref"`
	Lane           string     `json:"lane"`
	Number         int        `json:"number"`
	DisplayNumber  string     `json:"display_number"`
	Status         string     `json:"status"`
	AssignedAt     *time.Time `json:"assigned_at"`
	StartedAt      *time.Time `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	ServiceMinutes float64    `json:"service_minutes"`
}

// DiffTickets lists the transitions that turn before into after. Tickets are
// only ever appended, so a ticket missing from before was assigned.
func DiffTickets(before, after models.QueueDay) []TicketChange {
	previous := make(map[string]string, len(before.Tickets))
	for _, ticket := range before.Tickets {
		previous[ticket.TicketID] = ticket.Status
	}

	var changes []TicketChange
	for _, ticket := range after.Tickets {
		status, existed := previous[ticket.TicketID]
		switch {
		case !existed:
			changes = append(changes, TicketChange{Type: EventTicketAssigned, Ticket: ticket})
		case status != ticket.Status:
			changes = append(changes, TicketChange{Type: eventTypeForStatus(ticket.Status), Ticket: ticket})
		}
	}
	return changes
}

func eventTypeForStatus(status string) string {
	switch status {
	case models.StatusInProgress:
		return EventTicketStarted
	case models.StatusCompleted:
		return EventTicketCompleted
	case models.StatusCancelled:
		return EventTicketCancelled
	default:
		return "ticket." + status
	}
}

// NewTicketEvent builds the next link of a ticket's hash chain. prev is nil
// for the first event of a ticket.
func NewTicketEvent(prev *TicketEvent, change TicketChange, createdAt time.Time) (TicketEvent, error) {
	ticket := change.Ticket
	assignedAt := ticket.AssignedAt
	payload, err := json.Marshal(eventPayload{
		TicketID:       ticket.TicketID,
		Date:           ticket.Date,
		OrderRef:       ticket.OrderRef,
		Lane:           ticket.Lane,
		Number:         ticket.Number,
		DisplayNumber:  ticket.DisplayNumber,
		Status:         ticket.Status,
		AssignedAt:     &assignedAt,
		StartedAt:      ticket.StartedAt,
		CompletedAt:    ticket.CompletedAt,
		ServiceMinutes: ticket.ServiceMinutes,
	})
	if err != nil {
		return TicketEvent{}, err
	}

	seq := 1
	prevHash := ""
	if prev != nil {
		seq = prev.TicketSeq + 1
		prevHash = prev.Hash
	}
	createdAt = createdAt.UTC().Truncate(time.Microsecond)
	return TicketEvent{
		TicketID:  ticket.TicketID,
		TicketSeq: seq,
		Type:      change.Type,
		Payload:   payload,
		CreatedAt: createdAt,
		PrevHash:  prevHash,
		Hash:      ComputeTicketEventHash(prevHash, ticket.TicketID, change.Type, payload, createdAt, seq),
	}, nil
}

func ComputeTicketEventHash(prevHash, ticketID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, ticketID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyTicketEvents reports whether events form an unbroken hash chain.
func VerifyTicketEvents(events []TicketEvent) bool {
	prev := ""
	for i, event := range events {
		if event.TicketSeq != i+1 || event.PrevHash != prev {
			return false
		}
		if ComputeTicketEventHash(prev, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq) != event.Hash {
			return false
		}
		prev = event.Hash
	}
	return true
}

func RehydrateTicket(events []TicketEvent) (models.Ticket, error) {
	var ticket models.Ticket
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload eventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Ticket{}, err
		}
		if payload.TicketID != "" {
			ticket.TicketID = payload.TicketID
		}
		if payload.Date != "" {
			ticket.Date = payload.Date
		}
		if payload.OrderRef != "" {
			ticket.OrderRef = payload.OrderRef
		}
		if payload.Lane != "" {
			ticket.Lane = payload.Lane
		}
		if payload.Number != 0 {
			ticket.Number = payload.Number
		}
		if payload.DisplayNumber != "" {
			ticket.DisplayNumber = payload.DisplayNumber
		}
		if payload.Status != "" {
			ticket.Status = payload.Status
		}
		if payload.AssignedAt != nil {
			ticket.AssignedAt = *payload.AssignedAt
		}
		if payload.StartedAt != nil {
			ticket.StartedAt = payload.StartedAt
		}
		if payload.CompletedAt != nil {
			ticket.CompletedAt = payload.CompletedAt
		}
		if payload.ServiceMinutes != 0 {
			ticket.ServiceMinutes = payload.ServiceMinutes
		}
	}
	return ticket, nil
}
