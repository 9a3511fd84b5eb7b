package dispatcher

import "qms/workshop-queue/internal/models"

// nextInLine picks the waiting ticket to serve next. The priority lane is
// always fully ahead of the regular lane; within a lane the smallest number
// wins. Arrival time across lanes plays no part.
func nextInLine(day models.QueueDay) (models.Ticket, bool) {
	var best models.Ticket
	found := false
	for _, ticket := range day.Tickets {
		if ticket.Status != models.StatusWaiting {
			continue
		}
		if !found || ahead(ticket, best) {
			best = ticket
			found = true
		}
	}
	return best, found
}

// ahead reports whether a is served before b.
func ahead(a, b models.Ticket) bool {
	if a.IsPriority() != b.IsPriority() {
		return a.IsPriority()
	}
	return a.Number < b.Number
}

// numbersAhead counts the waiting tickets served before ticket. Tickets that
// are no longer waiting have nobody ahead of them.
func numbersAhead(day models.QueueDay, ticket models.Ticket) int {
	if ticket.Status != models.StatusWaiting {
		return 0
	}
	count := 0
	for _, other := range day.Tickets {
		if other.Status != models.StatusWaiting || other.TicketID == ticket.TicketID {
			continue
		}
		if ahead(other, ticket) {
			count++
		}
	}
	return count
}

// refreshCurrent re-derives the denormalized pointer: the ticket in service,
// else the next one up, else nothing.
func refreshCurrent(day *models.QueueDay) {
	if active, ok := day.InProgress(); ok {
		day.CurrentNumber = active.Number
		day.CurrentLane = active.Lane
		day.ActiveOrderRef = active.OrderRef
		return
	}
	day.ActiveOrderRef = ""
	if next, ok := nextInLine(*day); ok {
		day.CurrentNumber = next.Number
		day.CurrentLane = next.Lane
		return
	}
	day.CurrentNumber = 0
	day.CurrentLane = ""
}

func nextNumber(day *models.QueueDay, lane string) int {
	if lane == models.LanePriority {
		day.LastPriorityNumber++
		return day.LastPriorityNumber
	}
	day.LastRegularNumber++
	return day.LastRegularNumber
}
