package postgres

import (
	"errors"
	"testing"

	"qms/workshop-queue/internal/store"
)

func TestDateValue(t *testing.T) {
	got, err := dateValue("2026-10-17")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Year() != 2026 || got.Month() != 10 || got.Day() != 17 {
		t.Fatalf("unexpected date %v", got)
	}
	if _, err := dateValue("17/10/2026"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
