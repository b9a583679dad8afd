package repository

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/goliatone/go-repository-bun"
	socialauth "github.com/goliatone/go-socialauth"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// notFound maps a missing row to socialauth.ErrNotFound and passes anything
// else through.
func notFound(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
		return socialauth.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	// sqlite drivers report constraint failures only through the message
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
