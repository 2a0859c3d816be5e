package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/campus-care/counseling-service/internal/domain"
	apperrors "github.com/campus-care/counseling-service/pkg/util/errorutil"
)

var sessionStart = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func book(t *testing.T, f *fixture, actor domain.Actor, at time.Time) (*domain.Schedule, error) {
	t.Helper()
	return f.schedules.Book(context.Background(), actor, BookingInput{
		CounselorID: counselor1.UserID,
		ScheduledAt: at,
	})
}

func TestConcurrentBookingsOfOneSlot(t *testing.T) {
	f := newFixture(t)
	bookers := []domain.Actor{student1, student2, {UserID: "student-3", Role: domain.RoleStudent}}

	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make([]error, len(bookers))
	for i, actor := range bookers {
		wg.Add(1)
		go func(i int, actor domain.Actor) {
			defer wg.Done()
			<-start
			_, results[i] = book(t, f, actor, sessionStart)
		}(i, actor)
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, apperrors.ErrSlotTaken):
		default:
			t.Fatalf("unexpected booking error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one booking, got %d", wins)
	}
}

func TestCancelledSlotCanBeRebooked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := book(t, f, student1, sessionStart)
	if err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if first.Status != domain.ScheduleStatusScheduled || first.DurationMinutes != 60 || first.MeetingType != domain.DefaultMeetingType {
		t.Fatalf("unexpected defaults: %+v", first)
	}
	if _, err := book(t, f, student2, sessionStart); !errors.Is(err, apperrors.ErrSlotTaken) {
		t.Fatalf("expected slot taken, got %v", err)
	}
	if _, err := book(t, f, student2, sessionStart.Add(time.Hour)); err != nil {
		t.Fatalf("adjacent slot should be free: %v", err)
	}

	if _, err := f.schedules.Cancel(ctx, student2, first.ID); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("strangers must not cancel, got %v", err)
	}
	cancelled, err := f.schedules.Cancel(ctx, student1, first.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.ScheduleStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	again, err := book(t, f, student2, sessionStart)
	if err != nil {
		t.Fatalf("rebooking a cancelled slot: %v", err)
	}
	if again.StudentID != student2.UserID {
		t.Fatalf("booking should belong to student-2, got %s", again.StudentID)
	}
}

func TestScheduleTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	booking, err := book(t, f, student1, sessionStart)
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	if _, err := f.schedules.Confirm(ctx, counselor1, booking.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := f.schedules.Complete(ctx, counselor1, booking.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.schedules.Cancel(ctx, student1, booking.ID); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("completed sessions cannot be cancelled, got %v", err)
	}
	if _, err := f.schedules.Cancel(ctx, admin1, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBookingRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := book(t, f, counselor2, sessionStart); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("counselors cannot book, got %v", err)
	}
	if _, err := f.schedules.Book(ctx, admin1, BookingInput{CounselorID: counselor1.UserID, ScheduledAt: sessionStart}); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("admin booking needs a student, got %v", err)
	}
	if _, err := f.schedules.Book(ctx, student1, BookingInput{CounselorID: inactiveCounselorID, ScheduledAt: sessionStart}); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("inactive counselor must be rejected, got %v", err)
	}
	if _, err := f.schedules.Book(ctx, student1, BookingInput{CounselorID: counselor1.UserID}); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("missing time must be rejected, got %v", err)
	}
	if _, err := f.schedules.Book(ctx, student1, BookingInput{CounselorID: counselor1.UserID, ScheduledAt: sessionStart, DurationMinutes: -5}); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("negative duration must be rejected, got %v", err)
	}

	other := f.newTicket(t, student2)
	_, err := f.schedules.Book(ctx, student1, BookingInput{CounselorID: counselor1.UserID, ScheduledAt: sessionStart, TicketID: &other.ID})
	if !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("booking against another student's ticket must fail, got %v", err)
	}

	onBehalf, err := f.schedules.Book(ctx, admin1, BookingInput{
		CounselorID: counselor1.UserID,
		StudentID:   student2.UserID,
		ScheduledAt: sessionStart,
		TicketID:    &other.ID,
	})
	if err != nil {
		t.Fatalf("admin booking: %v", err)
	}
	if onBehalf.StudentID != student2.UserID || onBehalf.TicketID == nil || *onBehalf.TicketID != other.ID {
		t.Fatalf("unexpected booking %+v", onBehalf)
	}
}

func TestConflictModes(t *testing.T) {
	halfPast := sessionStart.Add(30 * time.Minute)

	exact := newFixture(t)
	if _, err := book(t, exact, student1, sessionStart); err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := book(t, exact, student2, halfPast); err != nil {
		t.Fatalf("exact mode only guards identical instants: %v", err)
	}

	overlap := newFixture(t, withConflictMode(ConflictOverlap))
	if _, err := book(t, overlap, student1, sessionStart); err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := book(t, overlap, student2, halfPast); !errors.Is(err, apperrors.ErrSlotTaken) {
		t.Fatalf("overlap mode must reject intersecting sessions, got %v", err)
	}
	if _, err := book(t, overlap, student2, sessionStart.Add(-time.Hour)); err != nil {
		t.Fatalf("a session ending at the start instant does not overlap: %v", err)
	}
}

func TestListBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	future := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Minute)

	past, err := book(t, f, student1, sessionStart)
	if err != nil {
		t.Fatalf("book past: %v", err)
	}
	upcoming, err := book(t, f, student1, future)
	if err != nil {
		t.Fatalf("book future: %v", err)
	}
	if _, err := book(t, f, student2, future.Add(time.Hour)); err != nil {
		t.Fatalf("book other: %v", err)
	}

	all, err := f.schedules.ListForActor(ctx, student1, false)
	if err != nil || len(all) != 2 || all[0].ID != upcoming.ID || all[1].ID != past.ID {
		t.Fatalf("expected student's bookings latest first: %v %+v", err, all)
	}
	next, _ := f.schedules.ListForActor(ctx, student1, true)
	if len(next) != 1 || next[0].ID != upcoming.ID {
		t.Fatalf("expected only the upcoming booking, got %+v", next)
	}
	counselorView, _ := f.schedules.ListForActor(ctx, counselor1, false)
	if len(counselorView) != 3 {
		t.Fatalf("counselor should see all three bookings, got %d", len(counselorView))
	}

	if _, err := f.schedules.Get(ctx, student2, past.ID); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("strangers cannot read bookings, got %v", err)
	}
}

func TestAvailableCounselorsListsActiveCounselorRoles(t *testing.T) {
	f := newFixture(t)
	counselors, err := f.schedules.AvailableCounselors(context.Background())
	if err != nil {
		t.Fatalf("available counselors: %v", err)
	}
	ids := map[string]bool{}
	for _, user := range counselors {
		ids[user.ID] = true
	}
	if len(counselors) != 3 || !ids[counselor1.UserID] || !ids[counselor2.UserID] || !ids[peer1.UserID] {
		t.Fatalf("expected the two counselors and the peer counselor, got %+v", counselors)
	}
	if ids[inactiveCounselorID] {
		t.Fatalf("inactive counselors must not be offered")
	}
}
