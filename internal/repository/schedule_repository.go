package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campus-care/counseling-service/internal/domain"
)

// ScheduleFilter narrows booking listings. Nil fields are ignored.
type ScheduleFilter struct {
	StudentID   *string
	CounselorID *string
	From        *time.Time
	// ActiveOnly drops cancelled and completed bookings.
	ActiveOnly bool
	Descending bool
}

// ScheduleRepository stores counseling bookings.
type ScheduleRepository interface {
	Create(ctx context.Context, schedule *domain.Schedule) error
	Update(ctx context.Context, schedule *domain.Schedule) error
	GetByID(ctx context.Context, id string) (*domain.Schedule, error)
	// ListByCounselor returns the counselor's non-cancelled bookings starting in [from, to].
	ListByCounselor(ctx context.Context, counselorID string, from, to time.Time) ([]domain.Schedule, error)
	List(ctx context.Context, filter ScheduleFilter) ([]domain.Schedule, error)
}

type scheduleRepository struct {
	pool *pgxpool.Pool
}

// NewScheduleRepository builds repository.
func NewScheduleRepository(pool *pgxpool.Pool) ScheduleRepository {
	return &scheduleRepository{pool: pool}
}

const scheduleColumns = `id, student_id, counselor_id, ticket_id, scheduled_at, duration_minutes,
        meeting_type, meeting_link, notes, status, created_at, updated_at`

func (r *scheduleRepository) Create(ctx context.Context, schedule *domain.Schedule) error {
	const query = `
        INSERT INTO schedules (student_id, counselor_id, ticket_id, scheduled_at, duration_minutes,
            meeting_type, meeting_link, notes, status)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		schedule.StudentID,
		schedule.CounselorID,
		schedule.TicketID,
		schedule.ScheduledAt,
		schedule.DurationMinutes,
		schedule.MeetingType,
		schedule.MeetingLink,
		schedule.Notes,
		schedule.Status,
	).Scan(&schedule.ID, &schedule.CreatedAt, &schedule.UpdatedAt)
	return translate(err, "schedule", schedule.CounselorID)
}

func (r *scheduleRepository) Update(ctx context.Context, schedule *domain.Schedule) error {
	const query = `
        UPDATE schedules SET status=$1, meeting_link=$2, notes=$3, updated_at=NOW()
        WHERE id=$4
        RETURNING updated_at`
	err := r.pool.QueryRow(ctx, query,
		schedule.Status,
		schedule.MeetingLink,
		schedule.Notes,
		schedule.ID,
	).Scan(&schedule.UpdatedAt)
	return translate(err, "schedule", schedule.ID)
}

func (r *scheduleRepository) GetByID(ctx context.Context, id string) (*domain.Schedule, error) {
	if err := checkID("schedule", id); err != nil {
		return nil, err
	}
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id=$1`
	schedule, err := scanSchedule(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, translate(err, "schedule", id)
	}
	return schedule, nil
}

func (r *scheduleRepository) ListByCounselor(ctx context.Context, counselorID string, from, to time.Time) ([]domain.Schedule, error) {
	if err := checkID("counselor", counselorID); err != nil {
		return nil, err
	}
	query := `SELECT ` + scheduleColumns + `
        FROM schedules
        WHERE counselor_id=$1 AND status <> 'cancelled' AND scheduled_at BETWEEN $2 AND $3
        ORDER BY scheduled_at ASC`
	rows, err := r.pool.Query(ctx, query, counselorID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func (r *scheduleRepository) List(ctx context.Context, filter ScheduleFilter) ([]domain.Schedule, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.StudentID != nil {
		args = append(args, *filter.StudentID)
		clauses = append(clauses, fmt.Sprintf("student_id=$%d", len(args)))
	}
	if filter.CounselorID != nil {
		args = append(args, *filter.CounselorID)
		clauses = append(clauses, fmt.Sprintf("counselor_id=$%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, filter.From.UTC())
		clauses = append(clauses, fmt.Sprintf("scheduled_at >= $%d", len(args)))
	}
	if filter.ActiveOnly {
		clauses = append(clauses, "status IN ('scheduled','confirmed')")
	}

	order := "ASC"
	if filter.Descending {
		order = "DESC"
	}
	query := fmt.Sprintf(`SELECT %s FROM schedules WHERE %s ORDER BY scheduled_at %s`,
		scheduleColumns, strings.Join(clauses, " AND "), order)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func collectSchedules(rows pgx.Rows) ([]domain.Schedule, error) {
	var result []domain.Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *schedule)
	}
	return result, rows.Err()
}

func scanSchedule(row pgx.Row) (*domain.Schedule, error) {
	var schedule domain.Schedule
	if err := row.Scan(
		&schedule.ID,
		&schedule.StudentID,
		&schedule.CounselorID,
		&schedule.TicketID,
		&schedule.ScheduledAt,
		&schedule.DurationMinutes,
		&schedule.MeetingType,
		&schedule.MeetingLink,
		&schedule.Notes,
		&schedule.Status,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	schedule.ScheduledAt = schedule.ScheduledAt.UTC()
	return &schedule, nil
}
