package socialauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

const (
	AssocTypeHMACSHA1   = "HMAC-SHA1"
	AssocTypeHMACSHA256 = "HMAC-SHA256"

	ServerURLMaxLength = 255
	HandleMaxLength    = 255
	AssocTypeMaxLength = 64
)

// Association is a shared secret negotiated with an OpenID provider.
type Association struct {
	ServerURL string `json:"server_url"`
	Handle    string `json:"handle"`
	Secret    []byte `json:"-"`
	// Issued is in epoch seconds, Lifetime in seconds.
	Issued    int64  `json:"issued"`
	Lifetime  int64  `json:"lifetime"`
	AssocType string `json:"assoc_type"`
}

// Validate checks field bounds.
func (a *Association) Validate() error {
	if a == nil {
		return ErrInvalidRecord
	}
	err := validation.ValidateStruct(a,
		validation.Field(&a.ServerURL, validation.Required, validation.Length(1, ServerURLMaxLength)),
		validation.Field(&a.Handle, validation.Required, validation.Length(1, HandleMaxLength)),
		validation.Field(&a.Secret, validation.Required),
		validation.Field(&a.Lifetime, validation.Min(int64(0))),
		validation.Field(&a.AssocType, validation.Required, validation.Length(1, AssocTypeMaxLength)),
	)
	if err != nil {
		return MalformedData("association", err)
	}
	return nil
}

// ExpiresAt is issued + lifetime.
func (a *Association) ExpiresAt() time.Time {
	return time.Unix(a.Issued+a.Lifetime, 0)
}

// Expired reports whether now is past issued + lifetime.
func (a *Association) Expired(now time.Time) bool {
	return now.Unix() > a.Issued+a.Lifetime
}

// ExpiresIn is the remaining lifetime, zero once expired.
func (a *Association) ExpiresIn(now time.Time) time.Duration {
	left := a.Issued + a.Lifetime - now.Unix()
	if left < 0 {
		return 0
	}
	return time.Duration(left) * time.Second
}

// EncodedSecret is the base64 form the secret is stored in.
func (a *Association) EncodedSecret() string {
	return base64.StdEncoding.EncodeToString(a.Secret)
}

// DecodeSecret parses a stored base64 secret.
func DecodeSecret(encoded string) ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, MalformedData("secret", err)
	}
	return secret, nil
}

// String never includes the secret.
func (a *Association) String() string {
	if a == nil {
		return "<nil association>"
	}
	return fmt.Sprintf("%s %s (%s, issued %d, lifetime %d)", a.ServerURL, a.Handle, a.AssocType, a.Issued, a.Lifetime)
}

func (a *Association) hasher() (func() hash.Hash, error) {
	switch a.AssocType {
	case AssocTypeHMACSHA1:
		return sha1.New, nil
	case AssocTypeHMACSHA256:
		return sha256.New, nil
	default:
		return nil, MalformedData("assoc_type", fmt.Errorf("unsupported association type %q", a.AssocType))
	}
}

// Sign computes the MAC of message with the association secret.
func (a *Association) Sign(message []byte) ([]byte, error) {
	h, err := a.hasher()
	if err != nil {
		return nil, err
	}
	mac := hmac.New(h, a.Secret)
	mac.Write(message)
	return mac.Sum(nil), nil
}

// Verify checks signature against message in constant time.
func (a *Association) Verify(message, signature []byte) bool {
	expected, err := a.Sign(message)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, signature)
}

// SignFields signs the key-value form of the named fields, in order, and
// returns the base64 signature.
func (a *Association) SignFields(fields map[string]string, order []string) (string, error) {
	message, err := keyValueForm(fields, order)
	if err != nil {
		return "", err
	}
	sig, err := a.Sign(message)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyFields checks a base64 signature produced by SignFields.
func (a *Association) VerifyFields(fields map[string]string, order []string, signature string) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	message, err := keyValueForm(fields, order)
	if err != nil {
		return false
	}
	return a.Verify(message, sig)
}

func keyValueForm(fields map[string]string, order []string) ([]byte, error) {
	var b strings.Builder
	for _, key := range order {
		value, ok := fields[key]
		if !ok {
			return nil, AuthMissingParameter("", key)
		}
		if strings.ContainsAny(key, ":\n") || strings.Contains(value, "\n") {
			return nil, MalformedData(key, errors.New("invalid character in key-value form"))
		}
		b.WriteString(key)
		b.WriteByte(':')
		b.WriteString(value)
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

// AssociationRepository is the persistence boundary for associations.
type AssociationRepository interface {
	// Save upserts by (server_url, handle).
	Save(ctx context.Context, assoc *Association) error
	// Get returns ErrNotFound when no row matches.
	Get(ctx context.Context, serverURL, handle string) (*Association, error)
	ListByServer(ctx context.Context, serverURL string) ([]*Association, error)
	// Delete is idempotent.
	Delete(ctx context.Context, serverURL, handle string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
