package repository

import (
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/campus-care/counseling-service/pkg/util/errorutil"
)

// ErrDuplicate is returned when a write violates a uniqueness constraint
// (ticket number, counselor slot).
var ErrDuplicate = errors.New("repository: duplicate key")

const (
	uniqueViolation           = "23505"
	invalidTextRepresentation = "22P02"
)

// translate maps driver errors onto the repository's error vocabulary.
func translate(err error, resource string, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound(resource, map[string]any{"id": id})
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return ErrDuplicate
		case invalidTextRepresentation:
			return apperrors.NewNotFound(resource, map[string]any{"id": id})
		}
	}
	return err
}

// checkID rejects ids that are not UUIDs before they reach the driver. No
// row can carry such an id, so it is reported the way the memory store
// reports an unknown id.
func checkID(resource, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperrors.NewNotFound(resource, map[string]any{"id": id})
	}
	return nil
}

func clampPage(limit, offset int) (int, int) {
	switch {
	case limit <= 0:
		limit = 50
	case limit > 200:
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
