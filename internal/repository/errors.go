package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

// Repository errors.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record state changed concurrently")
)

// notFound maps pgx.ErrNoRows to ErrNotFound and leaves other errors as they are.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
