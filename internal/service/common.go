package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campus-care/counseling-service/internal/events"
	"github.com/campus-care/counseling-service/internal/lock"
	apperrors "github.com/campus-care/counseling-service/pkg/util/errorutil"
)

// Lock keys for contended check-then-act sections.
const ticketNumberLockKey = "ticket-number"

func ticketLockKey(ticketID string) string {
	return "ticket:" + ticketID
}

func chatLockKey(ticketID string) string {
	return "chat:" + ticketID
}

func scheduleIDLockKey(scheduleID string) string {
	return "schedule-id:" + scheduleID
}

func slotLockKey(counselorID string, at time.Time) string {
	return fmt.Sprintf("schedule:%s:%s", counselorID, at.UTC().Format(time.RFC3339Nano))
}

func counselorLockKey(counselorID string) string {
	return "schedule:" + counselorID
}

// acquire takes key on locker. Waiting is bounded by ctx.
func acquire(ctx context.Context, locker lock.Locker, key string) (func(), error) {
	unlock, err := locker.Lock(ctx, key)
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("lock %s: %w", key, err))
	}
	return unlock, nil
}

func publishEvent(ctx context.Context, dispatcher events.Dispatcher, logger *zap.Logger, event events.Event) {
	if dispatcher == nil {
		return
	}
	if err := dispatcher.Publish(ctx, event); err != nil {
		logger.Warn("publish event failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

func strPtr(v string) *string {
	return &v
}

func timePtr(v time.Time) *time.Time {
	return &v
}
