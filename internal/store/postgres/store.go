package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"qms/workshop-queue/internal/models"
	"qms/workshop-queue/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

type Options struct {
	Now func() time.Time
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Store{pool: pool, now: now}
}

// UpdateDay holds the queue_days row lock for the whole transaction, so
// concurrent writers for one date queue up behind each other while other
// dates proceed.
func (s *Store) UpdateDay(ctx context.Context, seed models.QueueDay, fn func(day *models.QueueDay) error) (models.QueueDay, error) {
	date, err := dateValue(seed.Date)
	if err != nil {
		return models.QueueDay{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueDay{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
		INSERT INTO queue_days (queue_date, max_priority_slots, average_service_minutes)
		VALUES ($1, $2, $3)
		ON CONFLICT (queue_date) DO NOTHING
	`, date, seed.MaxPrioritySlots, seed.AverageServiceMinutes); err != nil {
		return models.QueueDay{}, fmt.Errorf("seed queue day: %w", err)
	}

	current, err := loadDay(ctx, tx, date, true)
	if err != nil {
		return models.QueueDay{}, err
	}

	working := current.Clone()
	if err = fn(&working); err != nil {
		return models.QueueDay{}, err
	}

	if err = saveDay(ctx, tx, date, working); err != nil {
		return models.QueueDay{}, err
	}
	if err = saveTickets(ctx, tx, date, working.Tickets); err != nil {
		return models.QueueDay{}, err
	}

	createdAt := s.now()
	for _, change := range store.DiffTickets(current, working) {
		if err = insertTicketEvent(ctx, tx, change, createdAt); err != nil {
			return models.QueueDay{}, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueDay{}, err
	}
	return working, nil
}

func (s *Store) GetDay(ctx context.Context, date string) (models.QueueDay, error) {
	value, err := dateValue(date)
	if err != nil {
		return models.QueueDay{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return models.QueueDay{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	return loadDay(ctx, tx, value, false)
}

func (s *Store) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id::text, ticket_seq, type, payload::text, created_at, prev_hash, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.TicketEvent
	for rows.Next() {
		var event store.TicketEvent
		var payload string
		if err := rows.Scan(&event.TicketID, &event.TicketSeq, &event.Type, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		event.Payload = []byte(payload)
		event.CreatedAt = event.CreatedAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func loadDay(ctx context.Context, tx pgx.Tx, date time.Time, forUpdate bool) (models.QueueDay, error) {
	query := `
		SELECT queue_date::text, last_regular_number, last_priority_number, max_priority_slots,
			current_number, current_lane, active_order_ref, queue_started_at,
			total_served, total_priority_served, total_service_minutes, average_service_minutes
		FROM queue_days
		WHERE queue_date = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var day models.QueueDay
	var startedAtNull sql.NullTime
	row := tx.QueryRow(ctx, query, date)
	if err := row.Scan(&day.Date, &day.LastRegularNumber, &day.LastPriorityNumber, &day.MaxPrioritySlots,
		&day.CurrentNumber, &day.CurrentLane, &day.ActiveOrderRef, &startedAtNull,
		&day.TotalServed, &day.TotalPriorityServed, &day.TotalServiceMinutes, &day.AverageServiceMinutes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueDay{}, store.ErrDayNotFound
		}
		return models.QueueDay{}, err
	}
	day.QueueStartedAt = nullTimePtr(startedAtNull)

	tickets, err := loadTickets(ctx, tx, date)
	if err != nil {
		return models.QueueDay{}, err
	}
	day.Tickets = tickets
	return day, nil
}

func loadTickets(ctx context.Context, tx pgx.Tx, date time.Time) ([]models.Ticket, error) {
	rows, err := tx.Query(ctx, `
		SELECT ticket_id::text, queue_date::text, order_ref, lane, number, display_number, status,
			assigned_at, started_at, completed_at, service_minutes
		FROM queue_tickets
		WHERE queue_date = $1
		ORDER BY assigned_at ASC, lane ASC, number ASC
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := []models.Ticket{}
	for rows.Next() {
		var ticket models.Ticket
		var startedAtNull sql.NullTime
		var completedAtNull sql.NullTime
		if err := rows.Scan(&ticket.TicketID, &ticket.Date, &ticket.OrderRef, &ticket.Lane, &ticket.Number, &ticket.DisplayNumber, &ticket.Status,
			&ticket.AssignedAt, &startedAtNull, &completedAtNull, &ticket.ServiceMinutes); err != nil {
			return nil, err
		}
		ticket.StartedAt = nullTimePtr(startedAtNull)
		ticket.CompletedAt = nullTimePtr(completedAtNull)
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func saveDay(ctx context.Context, tx pgx.Tx, date time.Time, day models.QueueDay) error {
	_, err := tx.Exec(ctx, `
		UPDATE queue_days
		SET last_regular_number = $1,
			last_priority_number = $2,
			max_priority_slots = $3,
			current_number = $4,
			current_lane = $5,
			active_order_ref = $6,
			queue_started_at = $7,
			total_served = $8,
			total_priority_served = $9,
			total_service_minutes = $10,
			average_service_minutes = $11,
			updated_at = now()
		WHERE queue_date = $12
	`, day.LastRegularNumber, day.LastPriorityNumber, day.MaxPrioritySlots,
		day.CurrentNumber, day.CurrentLane, day.ActiveOrderRef, day.QueueStartedAt,
		day.TotalServed, day.TotalPriorityServed, day.TotalServiceMinutes, day.AverageServiceMinutes,
		date)
	if err != nil {
		return fmt.Errorf("save queue day: %w", err)
	}
	return nil
}

// saveTickets upserts the whole ticket list in one batch. Only mutable
// columns are touched on conflict; lane and number never change.
func saveTickets(ctx context.Context, tx pgx.Tx, date time.Time, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ticket := range tickets {
		batch.Queue(`
			INSERT INTO queue_tickets (
				ticket_id, queue_date, order_ref, lane, number, display_number, status,
				assigned_at, started_at, completed_at, service_minutes
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (ticket_id) DO UPDATE
			SET status = EXCLUDED.status,
				started_at = EXCLUDED.started_at,
				completed_at = EXCLUDED.completed_at,
				service_minutes = EXCLUDED.service_minutes
		`, ticket.TicketID, date, ticket.OrderRef, ticket.Lane, ticket.Number, ticket.DisplayNumber, ticket.Status,
			ticket.AssignedAt, ticket.StartedAt, ticket.CompletedAt, ticket.ServiceMinutes)
	}

	results := tx.SendBatch(ctx, batch)
	for range tickets {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("save queue tickets: %w", err)
		}
	}
	return results.Close()
}

func insertTicketEvent(ctx context.Context, tx pgx.Tx, change store.TicketChange, createdAt time.Time) error {
	var prev *store.TicketEvent
	var last store.TicketEvent
	row := tx.QueryRow(ctx, `
		SELECT ticket_seq, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq DESC
		LIMIT 1
	`, change.Ticket.TicketID)
	err := row.Scan(&last.TicketSeq, &last.Hash)
	switch {
	case err == nil:
		prev = &last
	case !errors.Is(err, pgx.ErrNoRows):
		return err
	}

	event, err := store.NewTicketEvent(prev, change, createdAt)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO ticket_events (ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.TicketID, event.TicketSeq, event.Type, string(event.Payload), event.CreatedAt, event.PrevHash, event.Hash)
	return err
}

func dateValue(date string) (time.Time, error) {
	value, err := models.ParseDate(date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", store.ErrInvalidInput, date)
	}
	return value, nil
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}
