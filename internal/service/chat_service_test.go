package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/campus-care/counseling-service/internal/domain"
	apperrors "github.com/campus-care/counseling-service/pkg/util/errorutil"
)

func TestChatRejectsNonParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.newTicket(t, student1)
	if _, err := f.tickets.Claim(ctx, counselor1, ticket.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	spy := &spyBroadcaster{}
	chat := NewChatService(ChatDependencies{
		TicketRepo:  f.store.Tickets(),
		MessageRepo: f.store.Messages(),
		UserRepo:    f.store.Users(),
		Registry:    spy,
	})

	for _, outsider := range []domain.Actor{student2, counselor2} {
		if _, err := chat.SendMessage(ctx, outsider, ticket.ID, "let me in"); !errors.Is(err, apperrors.ErrForbidden) {
			t.Fatalf("%s must be rejected, got %v", outsider.UserID, err)
		}
	}
	if spy.count() != 0 {
		t.Fatalf("rejected sends must not reach the broadcaster")
	}
	stored, _ := f.store.Messages().ListByTicket(ctx, ticket.ID, 0, 0)
	if len(stored) != 0 {
		t.Fatalf("rejected sends must not be persisted, got %d", len(stored))
	}

	if _, err := chat.SendMessage(ctx, student1, ticket.ID, "   "); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("blank message must be rejected, got %v", err)
	}
	if _, err := chat.SendMessage(ctx, student1, ticket.ID, strings.Repeat("x", 4001)); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("oversized message must be rejected, got %v", err)
	}
	if _, err := chat.SendMessage(ctx, student1, "missing", "hi"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestChatDeliversToParticipantsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.newTicket(t, student1)
	if _, err := f.tickets.Claim(ctx, counselor1, ticket.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	studentConn := connect(t, f.chatRegistry, student1.UserID)
	studentTab := connect(t, f.chatRegistry, student1.UserID)
	counselorConn := connect(t, f.chatRegistry, counselor1.UserID)
	bystander := connect(t, f.chatRegistry, counselor2.UserID)
	adminConn := connect(t, f.chatRegistry, admin1.UserID)

	msg, err := f.chat.SendMessage(ctx, student1, ticket.ID, "  hello  ")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Message != "hello" || msg.ID == "" {
		t.Fatalf("unexpected stored message %+v", msg)
	}

	for name, conn := range map[string]*captureConn{"student": studentConn, "second tab": studentTab, "counselor": counselorConn} {
		frames := conn.chatFrames(t)
		if len(frames) != 1 {
			t.Fatalf("%s expected 1 frame, got %d", name, len(frames))
		}
		frame := frames[0]
		if frame.ID != msg.ID || frame.TicketID != ticket.ID || frame.SenderID != student1.UserID || frame.Message != "hello" {
			t.Fatalf("%s got unexpected frame %+v", name, frame)
		}
		if frame.Sender.Name != "Sam Student" || frame.Sender.Role != string(domain.RoleStudent) {
			t.Fatalf("%s got unexpected sender %+v", name, frame.Sender)
		}
	}
	if n := len(bystander.chatFrames(t)); n != 0 {
		t.Fatalf("unrelated counselor received %d frames", n)
	}

	if _, err := f.chat.SendMessage(ctx, admin1, ticket.ID, "checking in"); err != nil {
		t.Fatalf("admins may post: %v", err)
	}
	if n := len(adminConn.chatFrames(t)); n != 0 {
		t.Fatalf("admins are not recipients, got %d frames", n)
	}
	if n := len(counselorConn.chatFrames(t)); n != 2 {
		t.Fatalf("counselor should see the admin message, got %d frames", n)
	}
}

func TestChatFollowsReassignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.newTicket(t, student1)
	if _, err := f.tickets.Claim(ctx, counselor1, ticket.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	stale := connect(t, f.chatRegistry, counselor1.UserID)
	current := connect(t, f.chatRegistry, counselor2.UserID)

	if _, err := f.tickets.Reassign(ctx, admin1, ticket.ID, counselor2.UserID); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if _, err := f.chat.SendMessage(ctx, student1, ticket.ID, "are you there?"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if n := len(stale.chatFrames(t)); n != 0 {
		t.Fatalf("previous counselor received %d frames", n)
	}
	if n := len(current.chatFrames(t)); n != 1 {
		t.Fatalf("new counselor expected 1 frame, got %d", n)
	}
	if _, err := f.chat.SendMessage(ctx, counselor1, ticket.ID, "still here"); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("previous counselor must not post, got %v", err)
	}
}

func TestClaimThenChatScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.newTicket(t, student1)
	studentConn := connect(t, f.chatRegistry, student1.UserID)

	var wg sync.WaitGroup
	winners := make(chan domain.Actor, 2)
	for _, actor := range []domain.Actor{counselor1, counselor2} {
		wg.Add(1)
		go func(actor domain.Actor) {
			defer wg.Done()
			if _, err := f.tickets.Claim(ctx, actor, ticket.ID); err == nil {
				winners <- actor
			}
		}(actor)
	}
	wg.Wait()
	close(winners)
	var winner domain.Actor
	count := 0
	for actor := range winners {
		winner = actor
		count++
	}
	if count != 1 {
		t.Fatalf("expected one claim winner, got %d", count)
	}

	if _, err := f.chat.SendMessage(ctx, winner, ticket.ID, "hello"); err != nil {
		t.Fatalf("winner send: %v", err)
	}
	frames := studentConn.chatFrames(t)
	if len(frames) != 1 || frames[0].TicketID != ticket.ID || frames[0].SenderID != winner.UserID || frames[0].Message != "hello" {
		t.Fatalf("student got unexpected frames %+v", frames)
	}
}

func TestChatOrderMatchesStoredOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.newTicket(t, student1)
	if _, err := f.tickets.Claim(ctx, counselor1, ticket.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	studentConn := connect(t, f.chatRegistry, student1.UserID)
	counselorConn := connect(t, f.chatRegistry, counselor1.UserID)

	const perSender = 25
	var wg sync.WaitGroup
	for _, sender := range []domain.Actor{student1, counselor1} {
		wg.Add(1)
		go func(sender domain.Actor) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if _, err := f.chat.SendMessage(ctx, sender, ticket.ID, fmt.Sprintf("%s-%d", sender.UserID, i)); err != nil {
					t.Errorf("send: %v", err)
					return
				}
			}
		}(sender)
	}
	wg.Wait()

	stored, err := f.chat.History(ctx, student1, ticket.ID, 200, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(stored) != 2*perSender {
		t.Fatalf("expected %d stored messages, got %d", 2*perSender, len(stored))
	}
	for name, conn := range map[string]*captureConn{"student": studentConn, "counselor": counselorConn} {
		frames := conn.chatFrames(t)
		if len(frames) != len(stored) {
			t.Fatalf("%s expected %d frames, got %d", name, len(stored), len(frames))
		}
		for i := range stored {
			if frames[i].ID != stored[i].ID {
				t.Fatalf("%s frame %d out of order: got %s want %s", name, i, frames[i].ID, stored[i].ID)
			}
		}
	}

	if _, err := f.chat.History(ctx, student2, ticket.ID, 0, 0); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("outsiders cannot read history, got %v", err)
	}
}
