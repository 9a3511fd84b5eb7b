package models

import "time"

const DateLayout = "2006-01-02"

type QueueDay struct {
	Date                  string     `json:"date"`
	LastRegularNumber     int        `json:"last_regular_number"`
	LastPriorityNumber    int        `json:"last_priority_number"`
	MaxPrioritySlots      int        `json:"max_priority_slots"`
	CurrentNumber         int        `json:"current_number"`
	CurrentLane           string     `json:"current_lane,omitempty"`
	ActiveOrderRef        string     `json:"active_order_ref,omitempty"`
	QueueStartedAt        *time.Time `json:"queue_started_at,omitempty"`
	TotalServed           int        `json:"total_served"`
	TotalPriorityServed   int        `json:"total_priority_served"`
	TotalServiceMinutes   float64    `json:"total_service_minutes"`
	AverageServiceMinutes float64    `json:"average_service_minutes"`
	Tickets               []Ticket   `json:"tickets"`
}

func NewQueueDay(date string, maxPrioritySlots int, defaultServiceMinutes float64) QueueDay {
	return QueueDay{
		Date:                  date,
		MaxPrioritySlots:      maxPrioritySlots,
		AverageServiceMinutes: defaultServiceMinutes,
		Tickets:               []Ticket{},
	}
}

// ParseDate validates a YYYY-MM-DD queue date.
func ParseDate(value string) (time.Time, error) {
	return time.Parse(DateLayout, value)
}

func DateOf(t time.Time) string {
	return t.Format(DateLayout)
}

// Clone returns a deep copy; mutations on the copy never reach the receiver.
func (d QueueDay) Clone() QueueDay {
	out := d
	if d.QueueStartedAt != nil {
		started := *d.QueueStartedAt
		out.QueueStartedAt = &started
	}
	out.Tickets = make([]Ticket, len(d.Tickets))
	for i, ticket := range d.Tickets {
		out.Tickets[i] = ticket.clone()
	}
	return out
}

func (d *QueueDay) TicketByOrder(orderRef string) (*Ticket, bool) {
	for i := range d.Tickets {
		if d.Tickets[i].OrderRef == orderRef {
			return &d.Tickets[i], true
		}
	}
	return nil, false
}

func (d *QueueDay) InProgress() (*Ticket, bool) {
	for i := range d.Tickets {
		if d.Tickets[i].Status == StatusInProgress {
			return &d.Tickets[i], true
		}
	}
	return nil, false
}

func (d QueueDay) PriorityCount() int {
	count := 0
	for _, ticket := range d.Tickets {
		if ticket.Lane == LanePriority {
			count++
		}
	}
	return count
}

func (d QueueDay) CountByStatus(status string) int {
	count := 0
	for _, ticket := range d.Tickets {
		if ticket.Status == status {
			count++
		}
	}
	return count
}

func (d QueueDay) PrioritySlotsLeft() int {
	left := d.MaxPrioritySlots - d.PriorityCount()
	if left < 0 {
		return 0
	}
	return left
}

// RecordCompletion folds one finished service into the running lifetime mean.
func (d *QueueDay) RecordCompletion(lane string, minutes float64) {
	d.TotalServed++
	if lane == LanePriority {
		d.TotalPriorityServed++
	}
	d.TotalServiceMinutes += minutes
	d.AverageServiceMinutes = d.TotalServiceMinutes / float64(d.TotalServed)
}
