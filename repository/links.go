package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	socialauth "github.com/goliatone/go-socialauth"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// LinkRepository implements socialauth.LinkStore using Bun. Uniqueness of
// (provider, uid) is enforced by the table constraint.
type LinkRepository struct {
	db  bun.IDB
	now func() time.Time
}

var _ socialauth.LinkStore = (*LinkRepository)(nil)

// NewLinkRepository accepts a *bun.DB or a bun.Tx.
func NewLinkRepository(db bun.IDB) *LinkRepository {
	return &LinkRepository{db: db, now: time.Now}
}

// FindByProviderUID implements socialauth.LinkStore.
func (r *LinkRepository) FindByProviderUID(ctx context.Context, provider, uid string) (*socialauth.Link, error) {
	var model LinkModel
	err := r.db.NewSelect().
		Model(&model).
		Where("?TableAlias.provider = ? AND ?TableAlias.uid = ?", provider, uid).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return model.toLink(), nil
}

// FindByID implements socialauth.LinkStore.
func (r *LinkRepository) FindByID(ctx context.Context, id string) (*socialauth.Link, error) {
	var model LinkModel
	err := r.db.NewSelect().
		Model(&model).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return model.toLink(), nil
}

// Create inserts the link unless (provider, uid) is taken, in which case it
// returns socialauth.ErrLinkExists. The check and the insert are one
// statement.
func (r *LinkRepository) Create(ctx context.Context, link *socialauth.Link) (*socialauth.Link, error) {
	model := fromLink(link)
	if model.CreatedAt.IsZero() {
		model.CreatedAt = r.now().UTC()
	}
	if model.UpdatedAt.IsZero() {
		model.UpdatedAt = model.CreatedAt
	}

	res, err := r.db.NewInsert().
		Model(model).
		On("CONFLICT (provider, uid) DO NOTHING").
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, socialauth.ErrLinkExists
		}
		return nil, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, socialauth.ErrLinkExists
	}
	return model.toLink(), nil
}

// ListByAccount implements socialauth.LinkStore.
func (r *LinkRepository) ListByAccount(ctx context.Context, accountID string) ([]*socialauth.Link, error) {
	var models []LinkModel
	err := r.db.NewSelect().
		Model(&models).
		Where("?TableAlias.account_id = ?", accountID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []*socialauth.Link{}, nil
		}
		return nil, err
	}

	links := make([]*socialauth.Link, len(models))
	for i := range models {
		links[i] = models[i].toLink()
	}
	return links, nil
}

// CountByAccount implements socialauth.LinkStore.
func (r *LinkRepository) CountByAccount(ctx context.Context, accountID string, filter socialauth.LinkFilter) (int, error) {
	q := r.db.NewSelect().
		Model((*LinkModel)(nil)).
		Where("?TableAlias.account_id = ?", accountID)

	switch {
	case filter.ExcludeID != "":
		q = q.Where("?TableAlias.id <> ?", filter.ExcludeID)
	case filter.ExcludeProvider != "":
		q = q.Where("?TableAlias.provider <> ?", filter.ExcludeProvider)
	}

	return q.Count(ctx)
}

// UpdateExtraData implements socialauth.LinkStore.
func (r *LinkRepository) UpdateExtraData(ctx context.Context, id string, data socialauth.ExtraData) error {
	res, err := r.db.NewUpdate().
		Model((*LinkModel)(nil)).
		Set("extra_data = ?", data).
		Set("updated_at = ?", r.now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return socialauth.ErrNotFound
	}
	return nil
}

// Delete implements socialauth.LinkStore.
func (r *LinkRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().
		Model((*LinkModel)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// DeleteByAccountProvider implements socialauth.LinkStore.
func (r *LinkRepository) DeleteByAccountProvider(ctx context.Context, accountID, provider string) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*LinkModel)(nil)).
		Where("account_id = ? AND provider = ?", accountID, provider).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteUnlessLast deletes inside a transaction and rolls back when the
// account has no link left. On postgres the account's rows are locked first
// so concurrent calls for one account run in turn; sqlite serializes writers
// on its own.
func (r *LinkRepository) DeleteUnlessLast(ctx context.Context, accountID string, filter socialauth.LinkFilter) (int64, error) {
	var removed int64
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if tx.Dialect().Name() == dialect.PG {
			var ids []string
			err := tx.NewSelect().
				Model((*LinkModel)(nil)).
				Column("id").
				Where("account_id = ?", accountID).
				For("UPDATE").
				Scan(ctx, &ids)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}

		q := tx.NewDelete().
			Model((*LinkModel)(nil)).
			Where("account_id = ?", accountID)
		switch {
		case filter.ExcludeID != "":
			q = q.Where("id = ?", filter.ExcludeID)
		case filter.ExcludeProvider != "":
			q = q.Where("provider = ?", filter.ExcludeProvider)
		default:
			q = nil
		}

		if q != nil {
			res, err := q.Exec(ctx)
			if err != nil {
				return err
			}
			if removed, err = res.RowsAffected(); err != nil {
				return err
			}
		}

		left, err := NewLinkRepository(tx).CountByAccount(ctx, accountID, socialauth.LinkFilter{})
		if err != nil {
			return err
		}
		if left == 0 {
			removed = 0
			return socialauth.ErrLastLink
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
