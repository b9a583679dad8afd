package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	socialauth "github.com/goliatone/go-socialauth"
	"github.com/uptrace/bun"
)

// AssociationRepository implements socialauth.AssociationRepository using
// Bun.
type AssociationRepository struct {
	db bun.IDB
}

var _ socialauth.AssociationRepository = (*AssociationRepository)(nil)

func NewAssociationRepository(db bun.IDB) *AssociationRepository {
	return &AssociationRepository{db: db}
}

// Save upserts on (server_url, handle).
func (r *AssociationRepository) Save(ctx context.Context, assoc *socialauth.Association) error {
	_, err := r.db.NewInsert().
		Model(fromAssociation(assoc)).
		On("CONFLICT (server_url, handle) DO UPDATE").
		Set("secret = EXCLUDED.secret").
		Set("issued = EXCLUDED.issued").
		Set("lifetime = EXCLUDED.lifetime").
		Set("assoc_type = EXCLUDED.assoc_type").
		Exec(ctx)
	return err
}

func (r *AssociationRepository) Get(ctx context.Context, serverURL, handle string) (*socialauth.Association, error) {
	var model AssociationModel
	err := r.db.NewSelect().
		Model(&model).
		Where("?TableAlias.server_url = ? AND ?TableAlias.handle = ?", serverURL, handle).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return model.toAssociation()
}

// ListByServer returns the server's associations, newest first.
func (r *AssociationRepository) ListByServer(ctx context.Context, serverURL string) ([]*socialauth.Association, error) {
	var models []AssociationModel
	err := r.db.NewSelect().
		Model(&models).
		Where("?TableAlias.server_url = ?", serverURL).
		Order("issued DESC").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []*socialauth.Association{}, nil
		}
		return nil, err
	}

	out := make([]*socialauth.Association, 0, len(models))
	for i := range models {
		assoc, err := models[i].toAssociation()
		if err != nil {
			return nil, err
		}
		out = append(out, assoc)
	}
	return out, nil
}

func (r *AssociationRepository) Delete(ctx context.Context, serverURL, handle string) error {
	_, err := r.db.NewDelete().
		Model((*AssociationModel)(nil)).
		Where("server_url = ? AND handle = ?", serverURL, handle).
		Exec(ctx)
	return err
}

// DeleteExpired removes rows where issued + lifetime < now.
func (r *AssociationRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*AssociationModel)(nil)).
		Where("issued + lifetime < ?", now.Unix()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
