package errorutil

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestSentinelsMatchByCode(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		sentinel error
		status   int
	}{
		{name: "not found", err: NewNotFound("ticket", nil), sentinel: ErrNotFound, status: http.StatusNotFound},
		{name: "validation", err: NewValidationError("bad", nil), sentinel: ErrValidation, status: http.StatusBadRequest},
		{name: "already assigned", err: NewAlreadyAssigned("t1"), sentinel: ErrAlreadyAssigned, status: http.StatusConflict},
		{name: "slot taken", err: NewSlotTaken("c1", time.Now()), sentinel: ErrSlotTaken, status: http.StatusConflict},
		{name: "invalid transition", err: NewInvalidTransition("NEW", "CLOSED"), sentinel: ErrInvalidTransition, status: http.StatusConflict},
		{name: "forbidden", err: NewForbidden("no"), sentinel: ErrForbidden, status: http.StatusForbidden},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("service: %w", tc.err)
		if !errors.Is(wrapped, tc.sentinel) {
			t.Fatalf("%s: expected wrapped error to match its sentinel", tc.name)
		}
		if errors.Is(wrapped, ErrInternal) {
			t.Fatalf("%s: must not match a different code", tc.name)
		}
		if got := ToDomainError(wrapped).HTTPStatus; got != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.name, tc.status, got)
		}
	}
}

func TestMapError(t *testing.T) {
	if MapError(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
	if err := MapError(sql.ErrNoRows); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no rows to map to not found, got %v", err)
	}
	cause := errors.New("disk on fire")
	err := MapError(cause)
	if !errors.Is(err, ErrInternal) || !errors.Is(err, cause) {
		t.Fatalf("expected internal error wrapping the cause, got %v", err)
	}
}
