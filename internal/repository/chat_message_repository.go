package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campus-care/counseling-service/internal/domain"
)

// ChatMessageRepository stores ticket conversations.
type ChatMessageRepository interface {
	Create(ctx context.Context, msg *domain.ChatMessage) error
	// ListByTicket returns messages in creation order.
	ListByTicket(ctx context.Context, ticketID string, limit, offset int) ([]domain.ChatMessage, error)
}

type chatMessageRepository struct {
	pool *pgxpool.Pool
}

// NewChatMessageRepository builds repository.
func NewChatMessageRepository(pool *pgxpool.Pool) ChatMessageRepository {
	return &chatMessageRepository{pool: pool}
}

func (r *chatMessageRepository) Create(ctx context.Context, msg *domain.ChatMessage) error {
	const query = `
        INSERT INTO chat_messages (ticket_id, sender_id, message, is_read)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query,
		msg.TicketID,
		msg.SenderID,
		msg.Message,
		msg.IsRead,
	).Scan(&msg.ID, &msg.CreatedAt)
	return translate(err, "chat message", msg.TicketID)
}

func (r *chatMessageRepository) ListByTicket(ctx context.Context, ticketID string, limit, offset int) ([]domain.ChatMessage, error) {
	if err := checkID("ticket", ticketID); err != nil {
		return nil, err
	}
	limit, offset = clampPage(limit, offset)
	const query = `
        SELECT id, ticket_id, sender_id, message, is_read, created_at
        FROM chat_messages WHERE ticket_id=$1 ORDER BY seq ASC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, ticketID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.TicketID,
			&msg.SenderID,
			&msg.Message,
			&msg.IsRead,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
