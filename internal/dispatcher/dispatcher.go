// Package dispatcher hands out same-day ticket numbers, decides serving order
// and drives the ticket state machine. Every mutation runs inside the date's
// single-writer section (store.DayStore.UpdateDay); dashboards are notified
// only after the change is committed.
package dispatcher

import (
	"context"
	"expvar"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"qms/workshop-queue/internal/models"
	"qms/workshop-queue/internal/notify"
	"qms/workshop-queue/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxPrioritySlots = 30
	DefaultServiceMinutes   = 15.0
	DefaultPublishTimeout   = 2 * time.Second
)

var (
	ticketsAssigned   = expvar.NewInt("tickets_assigned_total")
	servicesStarted   = expvar.NewInt("services_started_total")
	servicesCompleted = expvar.NewInt("services_completed_total")
	ticketsCancelled  = expvar.NewInt("tickets_cancelled_total")
	publishErrors     = expvar.NewInt("publish_errors_total")
)

var tracer = otel.Tracer("qms/workshop-queue/dispatcher")

type Dispatcher struct {
	store                 store.DayStore
	notifier              notify.Notifier
	maxPrioritySlots      int
	defaultServiceMinutes float64
	location              *time.Location
	now                   func() time.Time
	logger                *slog.Logger
	publishTimeout        time.Duration
}

// Options zero values fall back to the package defaults. Location decides
// which calendar day an empty date resolves to.
type Options struct {
	MaxPrioritySlots      int
	DefaultServiceMinutes float64
	Location              *time.Location
	Now                   func() time.Time
	Logger                *slog.Logger
	PublishTimeout        time.Duration
}

func New(st store.DayStore, notifier notify.Notifier, options Options) *Dispatcher {
	d := &Dispatcher{
		store:                 st,
		notifier:              notifier,
		maxPrioritySlots:      options.MaxPrioritySlots,
		defaultServiceMinutes: options.DefaultServiceMinutes,
		location:              options.Location,
		now:                   options.Now,
		logger:                options.Logger,
		publishTimeout:        options.PublishTimeout,
	}
	if d.notifier == nil {
		d.notifier = notify.Nop()
	}
	if d.maxPrioritySlots <= 0 {
		d.maxPrioritySlots = DefaultMaxPrioritySlots
	}
	if d.defaultServiceMinutes <= 0 {
		d.defaultServiceMinutes = DefaultServiceMinutes
	}
	if d.location == nil {
		d.location = time.Local
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.publishTimeout <= 0 {
		d.publishTimeout = DefaultPublishTimeout
	}
	return d
}

// AssignTicket gives orderRef a number on date's queue. A retried call for an
// order that already holds a ticket returns that ticket with created=false and
// changes nothing.
func (d *Dispatcher) AssignTicket(ctx context.Context, date, orderRef, lane string) (QueueInfo, bool, error) {
	ctx, span := tracer.Start(ctx, "dispatcher.AssignTicket", trace.WithAttributes(
		attribute.String("queue.order_ref", orderRef),
		attribute.String("queue.lane", lane),
	))
	var err error
	defer func() { endSpan(span, err) }()

	date, orderRef, err = d.resolve(date, orderRef)
	if err != nil {
		return QueueInfo{}, false, err
	}
	lane = strings.TrimSpace(lane)
	if !models.ValidLane(lane) {
		err = fmt.Errorf("%w: lane must be %q or %q", store.ErrInvalidInput, models.LanePriority, models.LaneRegular)
		return QueueInfo{}, false, err
	}
	span.SetAttributes(attribute.String("queue.date", date))

	now := d.now().UTC()
	created := false
	day, err := d.store.UpdateDay(ctx, d.seed(date), func(day *models.QueueDay) error {
		if _, ok := day.TicketByOrder(orderRef); ok {
			return nil
		}
		if lane == models.LanePriority && day.PriorityCount() >= day.MaxPrioritySlots {
			return store.ErrCapacityExceeded
		}
		number := nextNumber(day, lane)
		day.Tickets = append(day.Tickets, models.Ticket{
			TicketID:      uuid.NewString(),
			Date:          day.Date,
			OrderRef:      orderRef,
			Lane:          lane,
			Number:        number,
			DisplayNumber: models.DisplayNumber(lane, number),
			Status:        models.StatusWaiting,
			AssignedAt:    now,
		})
		if day.QueueStartedAt == nil {
			started := now
			day.QueueStartedAt = &started
		}
		refreshCurrent(day)
		created = true
		return nil
	})
	if err != nil {
		return QueueInfo{}, false, err
	}

	ticket, ok := day.TicketByOrder(orderRef)
	if !ok {
		err = store.ErrTicketNotFound
		return QueueInfo{}, false, err
	}
	if created {
		ticketsAssigned.Add(1)
		d.logger.Info("ticket assigned", "date", date, "order_ref", orderRef, "lane", lane, "display_number", ticket.DisplayNumber)
		d.publish(ctx, date)
	}
	return d.info(day, *ticket), created, nil
}

// StartService moves the next ticket in line into service.
func (d *Dispatcher) StartService(ctx context.Context, date, orderRef string) (models.Ticket, error) {
	return d.transition(ctx, "dispatcher.StartService", servicesStarted, date, orderRef, func(day *models.QueueDay, ticket *models.Ticket, now time.Time) error {
		if ticket.Status == models.StatusInProgress {
			return store.ErrAlreadyInProgress
		}
		if !store.ValidTransition(store.ActionStart, ticket.Status) {
			return store.ErrInvalidTransition
		}
		next, ok := nextInLine(*day)
		if !ok || next.TicketID != ticket.TicketID {
			return store.ErrNotNextInLine
		}
		if _, busy := day.InProgress(); busy {
			return store.ErrAlreadyInProgress
		}
		ticket.Status = models.StatusInProgress
		ticket.StartedAt = &now
		return nil
	})
}

// CompleteService closes the ticket in service and folds its duration into
// the day's average.
func (d *Dispatcher) CompleteService(ctx context.Context, date, orderRef string) (models.Ticket, error) {
	return d.transition(ctx, "dispatcher.CompleteService", servicesCompleted, date, orderRef, func(day *models.QueueDay, ticket *models.Ticket, now time.Time) error {
		if !store.ValidTransition(store.ActionComplete, ticket.Status) {
			return store.ErrNotInProgress
		}
		minutes := 0.0
		if ticket.StartedAt != nil {
			minutes = now.Sub(*ticket.StartedAt).Minutes()
		}
		if minutes < 0 {
			minutes = 0
		}
		ticket.Status = models.StatusCompleted
		ticket.CompletedAt = &now
		ticket.ServiceMinutes = minutes
		day.RecordCompletion(ticket.Lane, minutes)
		return nil
	})
}

// CancelService withdraws a waiting ticket. Its number is never handed out
// again.
func (d *Dispatcher) CancelService(ctx context.Context, date, orderRef string) (models.Ticket, error) {
	return d.transition(ctx, "dispatcher.CancelService", ticketsCancelled, date, orderRef, func(day *models.QueueDay, ticket *models.Ticket, now time.Time) error {
		if !store.ValidTransition(store.ActionCancel, ticket.Status) {
			return store.ErrInvalidTransition
		}
		ticket.Status = models.StatusCancelled
		return nil
	})
}

// SetPrioritySlots overrides the priority lane capacity for one date. Tickets
// already issued are kept even when the new limit is below their count.
func (d *Dispatcher) SetPrioritySlots(ctx context.Context, date string, slots int) (models.QueueDay, error) {
	ctx, span := tracer.Start(ctx, "dispatcher.SetPrioritySlots", trace.WithAttributes(attribute.Int("queue.priority_slots", slots)))
	var err error
	defer func() { endSpan(span, err) }()

	date, err = d.resolveDate(date)
	if err != nil {
		return models.QueueDay{}, err
	}
	if slots < 0 {
		err = fmt.Errorf("%w: priority slots must not be negative", store.ErrInvalidInput)
		return models.QueueDay{}, err
	}
	day, err := d.store.UpdateDay(ctx, d.seed(date), func(day *models.QueueDay) error {
		day.MaxPrioritySlots = slots
		return nil
	})
	if err != nil {
		return models.QueueDay{}, err
	}
	d.logger.Info("priority slots updated", "date", date, "slots", slots)
	d.publish(ctx, date)
	return day, nil
}

type transitionFunc func(day *models.QueueDay, ticket *models.Ticket, now time.Time) error

func (d *Dispatcher) transition(ctx context.Context, name string, counter *expvar.Int, date, orderRef string, apply transitionFunc) (models.Ticket, error) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attribute.String("queue.order_ref", orderRef)))
	var err error
	defer func() { endSpan(span, err) }()

	date, orderRef, err = d.resolve(date, orderRef)
	if err != nil {
		return models.Ticket{}, err
	}
	span.SetAttributes(attribute.String("queue.date", date))

	now := d.now().UTC()
	var ticketID string
	day, err := d.store.UpdateDay(ctx, d.seed(date), func(day *models.QueueDay) error {
		ticket, ok := day.TicketByOrder(orderRef)
		if !ok {
			return store.ErrTicketNotFound
		}
		if err := apply(day, ticket, now); err != nil {
			return err
		}
		ticketID = ticket.TicketID
		refreshCurrent(day)
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}

	ticket, ok := day.TicketByOrder(orderRef)
	if !ok {
		err = store.ErrTicketNotFound
		return models.Ticket{}, err
	}
	counter.Add(1)
	d.logger.Info("ticket transitioned", "op", name, "date", date, "order_ref", orderRef, "ticket_id", ticketID, "status", ticket.Status)
	d.publish(ctx, date)
	return *ticket, nil
}

// publish runs after the date's lock is released. Its failures never reach the
// caller.
func (d *Dispatcher) publish(ctx context.Context, date string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.publishTimeout)
	defer cancel()
	if err := d.notifier.Publish(ctx, date); err != nil {
		publishErrors.Add(1)
		d.logger.Warn("queue publish failed", "date", date, "error", err)
	}
}

func (d *Dispatcher) seed(date string) models.QueueDay {
	return models.NewQueueDay(date, d.maxPrioritySlots, d.defaultServiceMinutes)
}

func (d *Dispatcher) resolve(date, orderRef string) (string, string, error) {
	date, err := d.resolveDate(date)
	if err != nil {
		return "", "", err
	}
	orderRef = strings.TrimSpace(orderRef)
	if orderRef == "" {
		return "", "", fmt.Errorf("%w: order_ref is required", store.ErrInvalidInput)
	}
	return date, orderRef, nil
}

// resolveDate maps an empty date to today in the queue's time zone.
func (d *Dispatcher) resolveDate(date string) (string, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		return models.DateOf(d.now().In(d.location)), nil
	}
	if _, err := models.ParseDate(date); err != nil {
		return "", fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidInput)
	}
	return date, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
