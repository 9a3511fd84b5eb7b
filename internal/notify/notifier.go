// Package notify announces "this date's queue changed" to dashboards.
// Publishing is best effort: callers log failures and move on.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const EventRefreshDashboard = "refresh_dashboard"

type Notifier interface {
	Publish(ctx context.Context, date string) error
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, date string) error

func (f Func) Publish(ctx context.Context, date string) error {
	return f(ctx, date)
}

// Envelope is the broadcast payload. Listeners treat it as a signal and
// re-read the queue snapshot rather than trusting its contents.
type Envelope struct {
	Type      string    `json:"type"`
	Date      string    `json:"date"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEnvelope(date string, at time.Time) Envelope {
	return Envelope{Type: EventRefreshDashboard, Date: date, Timestamp: at.UTC()}
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

type multi []Notifier

// Multi fans a publish out to every notifier; one failing target does not
// stop the others.
func Multi(notifiers ...Notifier) Notifier {
	var out multi
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (m multi) Publish(ctx context.Context, date string) error {
	var errs []error
	for _, n := range m {
		if err := n.Publish(ctx, date); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type nop struct{}

func Nop() Notifier {
	return nop{}
}

func (nop) Publish(context.Context, string) error {
	return nil
}
