package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campus-care/counseling-service/internal/domain"
)

// TicketFilter narrows ticket listings. Nil fields are ignored.
type TicketFilter struct {
	RequesterID  *string
	CounselorID  *string
	// UnassignedOr keeps unbound tickets plus those bound to this counselor.
	UnassignedOr *string
	Statuses     []domain.TicketStatus
	Limit        int
	Offset       int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	ExistsByNumber(ctx context.Context, number string) (bool, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, ticket_number, requester_id, counselor_id, category, initial_message,
        status, crisis_level, priority, created_at, updated_at, assigned_at, closed_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (ticket_number, requester_id, counselor_id, category, initial_message,
            status, crisis_level, priority, assigned_at, closed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		ticket.TicketNumber,
		ticket.RequesterID,
		ticket.CounselorID,
		ticket.Category,
		ticket.InitialMessage,
		ticket.Status,
		ticket.CrisisLevel,
		ticket.Priority,
		ticket.AssignedAt,
		ticket.ClosedAt,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
	return translate(err, "ticket", ticket.TicketNumber)
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET counselor_id=$1, status=$2, crisis_level=$3, priority=$4,
            assigned_at=$5, closed_at=$6, updated_at=NOW()
        WHERE id=$7
        RETURNING updated_at`
	err := r.pool.QueryRow(ctx, query,
		ticket.CounselorID,
		ticket.Status,
		ticket.CrisisLevel,
		ticket.Priority,
		ticket.AssignedAt,
		ticket.ClosedAt,
		ticket.ID,
	).Scan(&ticket.UpdatedAt)
	return translate(err, "ticket", ticket.ID)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	if err := checkID("ticket", id); err != nil {
		return nil, err
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, translate(err, "ticket", id)
	}
	return ticket, nil
}

func (r *ticketRepository) ExistsByNumber(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tickets WHERE ticket_number=$1)`, number).Scan(&exists)
	return exists, err
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.RequesterID != nil {
		args = append(args, *filter.RequesterID)
		clauses = append(clauses, fmt.Sprintf("requester_id=$%d", len(args)))
	}
	if filter.CounselorID != nil {
		args = append(args, *filter.CounselorID)
		clauses = append(clauses, fmt.Sprintf("counselor_id=$%d", len(args)))
	}
	if filter.UnassignedOr != nil {
		args = append(args, *filter.UnassignedOr)
		clauses = append(clauses, fmt.Sprintf("(counselor_id IS NULL OR counselor_id=$%d)", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	limit, offset := clampPage(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.TicketNumber,
		&ticket.RequesterID,
		&ticket.CounselorID,
		&ticket.Category,
		&ticket.InitialMessage,
		&ticket.Status,
		&ticket.CrisisLevel,
		&ticket.Priority,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.AssignedAt,
		&ticket.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}
