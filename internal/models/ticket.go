package models

import (
	"fmt"
	"time"
)

type Ticket struct {
	TicketID       string     `json:"ticket_id"`
	Date           string     `json:"date"`
	OrderRef       string     `json:"order_ref"`
	Lane           string     `json:"lane"`
	Number         int        `json:"number"`
	DisplayNumber  string     `json:"display_number"`
	Status         string     `json:"status"`
	AssignedAt     time.Time  `json:"assigned_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ServiceMinutes float64    `json:"service_minutes,omitempty"`
}

const (
	StatusWaiting    = "waiting"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

const (
	LanePriority = "priority"
	LaneRegular  = "regular"
)

func ValidLane(lane string) bool {
	return lane == LanePriority || lane == LaneRegular
}

// DisplayNumber renders the number shown on the customer's slip and the
// dashboard: P001 for bookings, 001 for walk-ins.
func DisplayNumber(lane string, number int) string {
	if lane == LanePriority {
		return fmt.Sprintf("P%03d", number)
	}
	return fmt.Sprintf("%03d", number)
}

func (t Ticket) IsPriority() bool {
	return t.Lane == LanePriority
}

func (t Ticket) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusCancelled
}

func (t Ticket) clone() Ticket {
	out := t
	if t.StartedAt != nil {
		started := *t.StartedAt
		out.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}
