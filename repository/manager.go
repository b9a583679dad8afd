package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// Manager exposes every socialauth repository over one database.
type Manager interface {
	repository.Validator
	repository.TransactionManager
	DB() *bun.DB
	Links() *LinkRepository
	Accounts() Accounts
	Associations() *AssociationRepository
	Nonces() *NonceRepository
}

type mngr struct {
	db           *bun.DB
	links        *LinkRepository
	accounts     Accounts
	associations *AssociationRepository
	nonces       *NonceRepository
}

func NewRepositoryManager(db *bun.DB) Manager {
	return &mngr{
		db:           db,
		links:        NewLinkRepository(db),
		accounts:     NewAccountRepository(db),
		associations: NewAssociationRepository(db),
		nonces:       NewNonceRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}
	if m.links == nil {
		return errors.New("repository links should be initialized")
	}
	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}
	if m.associations == nil {
		return errors.New("repository associations should be initialized")
	}
	if m.nonces == nil {
		return errors.New("repository nonces should be initialized")
	}
	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) DB() *bun.DB {
	return m.db
}

func (m mngr) Links() *LinkRepository {
	return m.links
}

func (m mngr) Accounts() Accounts {
	return m.accounts
}

func (m mngr) Associations() *AssociationRepository {
	return m.associations
}

func (m mngr) Nonces() *NonceRepository {
	return m.nonces
}
