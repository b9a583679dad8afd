package repository

import (
	"context"
	"strings"

	"github.com/goliatone/go-repository-bun"
	socialauth "github.com/goliatone/go-socialauth"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Accounts is the account lifecycle provider backed by go-repository-bun.
type Accounts interface {
	repository.Repository[*AccountModel]
	socialauth.AccountStore

	SetPasswordHash(ctx context.Context, id string, hash string) error
}

type accounts struct {
	repository.Repository[*AccountModel]
	db *bun.DB
}

var _ Accounts = (*accounts)(nil)

func NewAccountRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*AccountModel](db, repository.ModelHandlers[*AccountModel]{
		NewRecord: func() *AccountModel { return &AccountModel{} },
		GetID: func(a *AccountModel) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *AccountModel, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "username"
		},
	})

	return &accounts{
		Repository: repo,
		db:         db,
	}
}

// CreateAccount implements socialauth.AccountStore.
func (a *accounts) CreateAccount(ctx context.Context, record socialauth.NewAccount) (socialauth.Account, error) {
	hash := record.PasswordHash
	if hash == "" {
		hash = socialauth.UnusablePassword
	}

	var email *string
	if record.Email != nil {
		if trimmed := strings.TrimSpace(*record.Email); trimmed != "" {
			email = &trimmed
		}
	}

	model := &AccountModel{
		ID:           uuid.New(),
		Username:     record.Username,
		Email:        email,
		FirstName:    record.FirstName,
		LastName:     record.LastName,
		PasswordHash: hash,
		Metadata:     record.Metadata,
	}

	created, err := a.Create(ctx, model)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetAccount implements socialauth.AccountStore.
func (a *accounts) GetAccount(ctx context.Context, id string) (socialauth.Account, error) {
	account, err := a.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return account, nil
}

// SetPasswordHash replaces the stored hash, e.g. once the user sets a local
// password.
func (a *accounts) SetPasswordHash(ctx context.Context, id string, hash string) error {
	res, err := a.db.NewUpdate().
		Model((*AccountModel)(nil)).
		Set("password_hash = ?", hash).
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
