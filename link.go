package socialauth

import (
	"context"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

const (
	ProviderMaxLength = 32
	UIDMaxLength      = 255
)

// Link binds one local account to one (provider, uid) pair.
type Link struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Provider  string    `json:"provider"`
	UID       string    `json:"uid"`
	ExtraData ExtraData `json:"extra_data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks field bounds.
func (l *Link) Validate() error {
	if l == nil {
		return ErrInvalidRecord
	}
	err := validation.ValidateStruct(l,
		validation.Field(&l.AccountID, validation.Required),
		validation.Field(&l.Provider, validation.Required, validation.Length(1, ProviderMaxLength)),
		validation.Field(&l.UID, validation.Required, validation.Length(1, UIDMaxLength)),
	)
	if err != nil {
		return MalformedData("link", err)
	}
	return nil
}

func (l *Link) String() string {
	if l == nil {
		return "<nil link>"
	}
	return fmt.Sprintf("%s:%s (account %s)", l.Provider, l.UID, l.AccountID)
}

// LinkFilter narrows CountByAccount and selects what DeleteUnlessLast
// removes. ExcludeID takes precedence over ExcludeProvider when both are set.
type LinkFilter struct {
	ExcludeID       string
	ExcludeProvider string
}

// LinkStore is the persistence boundary for links. Backends must enforce
// uniqueness of (provider, uid) themselves.
type LinkStore interface {
	// FindByProviderUID returns ErrNotFound when no link matches.
	FindByProviderUID(ctx context.Context, provider, uid string) (*Link, error)
	FindByID(ctx context.Context, id string) (*Link, error)
	// Create returns ErrLinkExists when (provider, uid) is already bound.
	Create(ctx context.Context, link *Link) (*Link, error)
	ListByAccount(ctx context.Context, accountID string) ([]*Link, error)
	CountByAccount(ctx context.Context, accountID string, filter LinkFilter) (int, error)
	UpdateExtraData(ctx context.Context, id string, data ExtraData) error
	// Delete is idempotent.
	Delete(ctx context.Context, id string) error
	DeleteByAccountProvider(ctx context.Context, accountID, provider string) (int64, error)
	// DeleteUnlessLast removes the account's links excluded by filter only
	// if at least one other link of the account survives, and returns
	// ErrLastLink without removing anything otherwise. The check and the
	// delete must not interleave with another call for the same account.
	DeleteUnlessLast(ctx context.Context, accountID string, filter LinkFilter) (int64, error)
}
