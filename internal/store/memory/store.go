package memory

import (
	"context"
	"sync"
	"time"

	"qms/workshop-queue/internal/models"
	"qms/workshop-queue/internal/store"
)

// Store keeps queue days in process memory. Each date has its own mutex, held
// for the duration of one UpdateDay call; mu only guards the maps themselves.
type Store struct {
	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	days   map[string]models.QueueDay
	events map[string][]store.TicketEvent
	now    func() time.Time
}

type Options struct {
	Now func() time.Time
}

func NewStore(options Options) *Store {
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		locks:  make(map[string]*sync.Mutex),
		days:   make(map[string]models.QueueDay),
		events: make(map[string][]store.TicketEvent),
		now:    now,
	}
}

func (s *Store) UpdateDay(ctx context.Context, seed models.QueueDay, fn func(day *models.QueueDay) error) (models.QueueDay, error) {
	if err := ctx.Err(); err != nil {
		return models.QueueDay{}, err
	}

	lock := s.dayLock(seed.Date)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	current, found := s.days[seed.Date]
	s.mu.Unlock()
	if !found {
		current = seed.Clone()
		if current.Tickets == nil {
			current.Tickets = []models.Ticket{}
		}
	}

	working := current.Clone()
	if err := fn(&working); err != nil {
		return models.QueueDay{}, err
	}

	changes := store.DiffTickets(current, working)
	createdAt := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	pending := make(map[string][]store.TicketEvent, len(changes))
	for _, change := range changes {
		chain, ok := pending[change.Ticket.TicketID]
		if !ok {
			chain = s.events[change.Ticket.TicketID]
		}
		var prev *store.TicketEvent
		if len(chain) > 0 {
			prev = &chain[len(chain)-1]
		}
		event, err := store.NewTicketEvent(prev, change, createdAt)
		if err != nil {
			return models.QueueDay{}, err
		}
		pending[change.Ticket.TicketID] = append(chain, event)
	}
	for ticketID, chain := range pending {
		s.events[ticketID] = chain
	}
	s.days[seed.Date] = working
	return working.Clone(), nil
}

func (s *Store) GetDay(ctx context.Context, date string) (models.QueueDay, error) {
	if err := ctx.Err(); err != nil {
		return models.QueueDay{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	day, found := s.days[date]
	if !found {
		return models.QueueDay{}, store.ErrDayNotFound
	}
	return day.Clone(), nil
}

func (s *Store) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events[ticketID]
	out := make([]store.TicketEvent, len(events))
	copy(out, events)
	return out, nil
}

func (s *Store) dayLock(date string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[date]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[date] = lock
	}
	return lock
}
