package memory

import (
	"context"
	"sync"

	socialauth "github.com/goliatone/go-socialauth"
	"github.com/google/uuid"
)

// Account is the in-process account record.
type Account struct {
	ID           string
	Username     string
	Email        *string
	FirstName    string
	LastName     string
	PasswordHash string
	Metadata     map[string]any
}

func (a *Account) GetID() string { return a.ID }

func (a *Account) HasUsablePassword() bool {
	return socialauth.IsUsablePasswordHash(a.PasswordHash)
}

// AccountStore keeps accounts in process.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

var _ socialauth.AccountStore = (*AccountStore)(nil)

func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: map[string]*Account{}}
}

func (s *AccountStore) CreateAccount(ctx context.Context, record socialauth.NewAccount) (socialauth.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	account := &Account{
		ID:           uuid.NewString(),
		Username:     record.Username,
		Email:        record.Email,
		FirstName:    record.FirstName,
		LastName:     record.LastName,
		PasswordHash: record.PasswordHash,
		Metadata:     record.Metadata,
	}

	s.mu.Lock()
	s.accounts[account.ID] = account
	s.mu.Unlock()

	c := *account
	return &c, nil
}

func (s *AccountStore) GetAccount(ctx context.Context, id string) (socialauth.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, socialauth.ErrNotFound
	}
	c := *account
	return &c, nil
}

// SetPasswordHash replaces the stored hash, for accounts that later set a
// local password.
func (s *AccountStore) SetPasswordHash(id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return socialauth.ErrNotFound
	}
	account.PasswordHash = hash
	return nil
}
