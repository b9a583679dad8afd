package repository

import (
	"context"

	socialauth "github.com/goliatone/go-socialauth"
	"github.com/uptrace/bun"
)

// NonceRepository implements socialauth.NonceRepository using Bun.
type NonceRepository struct {
	db bun.IDB
}

var _ socialauth.NonceRepository = (*NonceRepository)(nil)

func NewNonceRepository(db bun.IDB) *NonceRepository {
	return &NonceRepository{db: db}
}

// Add inserts the nonce with ON CONFLICT DO NOTHING. A row count of one means
// this caller consumed it.
func (r *NonceRepository) Add(ctx context.Context, nonce socialauth.Nonce) (bool, error) {
	res, err := r.db.NewInsert().
		Model(&NonceModel{
			ServerURL: nonce.ServerURL,
			Timestamp: nonce.Timestamp,
			Salt:      nonce.Salt,
		}).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteOlderThan implements socialauth.NonceRepository.
func (r *NonceRepository) DeleteOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*NonceModel)(nil)).
		Where(`"timestamp" < ?`, cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
