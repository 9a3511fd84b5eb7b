package dispatcher

import (
	"context"
	"time"

	"qms/workshop-queue/internal/models"
	"qms/workshop-queue/internal/store"
)

type Position struct {
	NumbersAhead         int       `json:"numbers_ahead"`
	EstimatedWaitMinutes float64   `json:"estimated_wait_minutes"`
	EstimatedServiceTime time.Time `json:"estimated_service_time"`
}

// QueueInfo is what a customer is shown after assignment or on read-back.
type QueueInfo struct {
	Ticket                models.Ticket `json:"ticket"`
	Position              Position      `json:"position"`
	CurrentNumber         int           `json:"current_number"`
	CurrentLane           string        `json:"current_lane,omitempty"`
	CurrentDisplayNumber  string        `json:"current_display_number,omitempty"`
	TotalServed           int           `json:"total_served"`
	AverageServiceMinutes float64       `json:"average_service_minutes"`
}

// Summary feeds the dashboard cards.
type Summary struct {
	Date                  string     `json:"date"`
	ServingNumber         string     `json:"serving_number,omitempty"`
	NextNumber            string     `json:"next_number,omitempty"`
	Completed             int        `json:"completed"`
	Waiting               int        `json:"waiting"`
	Cancelled             int        `json:"cancelled"`
	RegularTotal          int        `json:"regular_total"`
	PriorityTotal         int        `json:"priority_total"`
	TotalTickets          int        `json:"total_tickets"`
	AverageServiceMinutes float64    `json:"average_service_minutes"`
	PrioritySlotsLeft     int        `json:"priority_slots_left"`
	QueueStartedAt        *time.Time `json:"queue_started_at,omitempty"`
}

func (d *Dispatcher) NextTicket(ctx context.Context, date string) (models.Ticket, bool, error) {
	day, err := d.day(ctx, date)
	if err != nil {
		return models.Ticket{}, false, err
	}
	ticket, ok := nextInLine(day)
	return ticket, ok, nil
}

func (d *Dispatcher) PositionAndWait(ctx context.Context, date, orderRef string) (Position, error) {
	day, ticket, err := d.ticket(ctx, date, orderRef)
	if err != nil {
		return Position{}, err
	}
	return d.position(day, ticket), nil
}

func (d *Dispatcher) QueueInfo(ctx context.Context, date, orderRef string) (QueueInfo, error) {
	day, ticket, err := d.ticket(ctx, date, orderRef)
	if err != nil {
		return QueueInfo{}, err
	}
	return d.info(day, ticket), nil
}

// Snapshot returns the whole day for dashboards that re-read after a
// refresh signal.
func (d *Dispatcher) Snapshot(ctx context.Context, date string) (models.QueueDay, error) {
	return d.day(ctx, date)
}

func (d *Dispatcher) Summary(ctx context.Context, date string) (Summary, error) {
	day, err := d.day(ctx, date)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{
		Date:                  day.Date,
		Completed:             day.CountByStatus(models.StatusCompleted),
		Waiting:               day.CountByStatus(models.StatusWaiting),
		Cancelled:             day.CountByStatus(models.StatusCancelled),
		PriorityTotal:         day.PriorityCount(),
		TotalTickets:          len(day.Tickets),
		AverageServiceMinutes: day.AverageServiceMinutes,
		PrioritySlotsLeft:     day.PrioritySlotsLeft(),
		QueueStartedAt:        day.QueueStartedAt,
	}
	summary.RegularTotal = summary.TotalTickets - summary.PriorityTotal
	if active, ok := day.InProgress(); ok {
		summary.ServingNumber = active.DisplayNumber
	}
	if next, ok := nextInLine(day); ok {
		summary.NextNumber = next.DisplayNumber
	}
	return summary, nil
}

// TicketHistory returns the ticket's audit trail, oldest first.
func (d *Dispatcher) TicketHistory(ctx context.Context, date, orderRef string) ([]store.TicketEvent, error) {
	_, ticket, err := d.ticket(ctx, date, orderRef)
	if err != nil {
		return nil, err
	}
	return d.store.ListTicketEvents(ctx, ticket.TicketID)
}

func (d *Dispatcher) day(ctx context.Context, date string) (models.QueueDay, error) {
	date, err := d.resolveDate(date)
	if err != nil {
		return models.QueueDay{}, err
	}
	return d.store.GetDay(ctx, date)
}

func (d *Dispatcher) ticket(ctx context.Context, date, orderRef string) (models.QueueDay, models.Ticket, error) {
	date, orderRef, err := d.resolve(date, orderRef)
	if err != nil {
		return models.QueueDay{}, models.Ticket{}, err
	}
	day, err := d.store.GetDay(ctx, date)
	if err != nil {
		return models.QueueDay{}, models.Ticket{}, err
	}
	ticket, ok := day.TicketByOrder(orderRef)
	if !ok {
		return models.QueueDay{}, models.Ticket{}, store.ErrTicketNotFound
	}
	return day, *ticket, nil
}

func (d *Dispatcher) position(day models.QueueDay, ticket models.Ticket) Position {
	ahead := numbersAhead(day, ticket)
	wait := float64(ahead) * day.AverageServiceMinutes
	return Position{
		NumbersAhead:         ahead,
		EstimatedWaitMinutes: wait,
		EstimatedServiceTime: d.now().UTC().Add(time.Duration(wait * float64(time.Minute))),
	}
}

func (d *Dispatcher) info(day models.QueueDay, ticket models.Ticket) QueueInfo {
	info := QueueInfo{
		Ticket:                ticket,
		Position:              d.position(day, ticket),
		CurrentNumber:         day.CurrentNumber,
		CurrentLane:           day.CurrentLane,
		TotalServed:           day.TotalServed,
		AverageServiceMinutes: day.AverageServiceMinutes,
	}
	if day.CurrentNumber > 0 {
		info.CurrentDisplayNumber = models.DisplayNumber(day.CurrentLane, day.CurrentNumber)
	}
	return info
}
