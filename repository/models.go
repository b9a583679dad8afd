package repository

import (
	"time"

	socialauth "github.com/goliatone/go-socialauth"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LinkModel is the Bun model for identity links.
type LinkModel struct {
	bun.BaseModel `bun:"table:social_auth_links,alias:sal"`

	ID        string               `bun:"id,pk"`
	AccountID string               `bun:"account_id,notnull"`
	Provider  string               `bun:"provider,notnull"`
	UID       string               `bun:"uid,notnull"`
	ExtraData socialauth.ExtraData `bun:"extra_data,notnull,type:text"`
	CreatedAt time.Time            `bun:"created_at,notnull"`
	UpdatedAt time.Time            `bun:"updated_at,notnull"`
}

func (m *LinkModel) toLink() *socialauth.Link {
	return &socialauth.Link{
		ID:        m.ID,
		AccountID: m.AccountID,
		Provider:  m.Provider,
		UID:       m.UID,
		ExtraData: m.ExtraData,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func fromLink(l *socialauth.Link) *LinkModel {
	return &LinkModel{
		ID:        l.ID,
		AccountID: l.AccountID,
		Provider:  l.Provider,
		UID:       l.UID,
		ExtraData: l.ExtraData,
		CreatedAt: l.CreatedAt.UTC(),
		UpdatedAt: l.UpdatedAt.UTC(),
	}
}

// AccountModel is the Bun model for accounts created by handshakes. It
// satisfies socialauth.Account.
type AccountModel struct {
	bun.BaseModel `bun:"table:social_auth_accounts,alias:saa"`

	ID           uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Username     string         `bun:"username,notnull" json:"username,omitempty"`
	Email        *string        `bun:"email,nullzero" json:"email,omitempty"`
	FirstName    string         `bun:"first_name,notnull" json:"first_name,omitempty"`
	LastName     string         `bun:"last_name,notnull" json:"last_name,omitempty"`
	PasswordHash string         `bun:"password_hash,notnull" json:"-"`
	Metadata     map[string]any `bun:"metadata" json:"metadata,omitempty"`
	CreatedAt    *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt    *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

var _ socialauth.Account = (*AccountModel)(nil)

func (a *AccountModel) GetID() string {
	return a.ID.String()
}

func (a *AccountModel) HasUsablePassword() bool {
	return socialauth.IsUsablePasswordHash(a.PasswordHash)
}

// AssociationModel stores the secret base64 encoded.
type AssociationModel struct {
	bun.BaseModel `bun:"table:social_auth_associations,alias:sas"`

	ServerURL string `bun:"server_url,pk"`
	Handle    string `bun:"handle,pk"`
	Secret    string `bun:"secret,notnull"`
	Issued    int64  `bun:"issued,notnull"`
	Lifetime  int64  `bun:"lifetime,notnull"`
	AssocType string `bun:"assoc_type,notnull"`
}

func (m *AssociationModel) toAssociation() (*socialauth.Association, error) {
	secret, err := socialauth.DecodeSecret(m.Secret)
	if err != nil {
		return nil, err
	}
	return &socialauth.Association{
		ServerURL: m.ServerURL,
		Handle:    m.Handle,
		Secret:    secret,
		Issued:    m.Issued,
		Lifetime:  m.Lifetime,
		AssocType: m.AssocType,
	}, nil
}

func fromAssociation(a *socialauth.Association) *AssociationModel {
	return &AssociationModel{
		ServerURL: a.ServerURL,
		Handle:    a.Handle,
		Secret:    a.EncodedSecret(),
		Issued:    a.Issued,
		Lifetime:  a.Lifetime,
		AssocType: a.AssocType,
	}
}

// NonceModel records a consumed nonce. The primary key is the whole triple.
type NonceModel struct {
	bun.BaseModel `bun:"table:social_auth_nonces,alias:san"`

	ServerURL string `bun:"server_url,pk"`
	Timestamp int64  `bun:"timestamp,pk"`
	Salt      string `bun:"salt,pk"`
}
