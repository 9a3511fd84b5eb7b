package store

import (
	"context"

	"qms/workshop-queue/internal/models"
)

// DayStore persists QueueDay aggregates. UpdateDay is the only write path and
// is the single-writer section for one date: fn sees the current aggregate
// (seeded from seed when the date has none yet) and its changes are committed
// only when it returns nil. Calls for different dates never block each other.
type DayStore interface {
	UpdateDay(ctx context.Context, seed models.QueueDay, fn func(day *models.QueueDay) error) (models.QueueDay, error)
	GetDay(ctx context.Context, date string) (models.QueueDay, error)
	ListTicketEvents(ctx context.Context, ticketID string) ([]TicketEvent, error)
}
