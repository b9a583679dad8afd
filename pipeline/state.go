package pipeline

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	socialauth "github.com/goliatone/go-socialauth"
)

// DefaultStateTTL bounds how long a handshake state token is accepted.
const DefaultStateTTL = 10 * time.Minute

var errInvalidState = errors.New("invalid state token")

// State is the data carried in the OAuth state parameter.
type State struct {
	Nonce        string `json:"n"`
	Provider     string `json:"p"`
	CodeVerifier string `json:"cv,omitempty"`
	RedirectURL  string `json:"r,omitempty"`
	Action       string `json:"a"`
	LinkUserID   string `json:"lu,omitempty"`
	IssuedAt     int64  `json:"iat"`
	ExpiresAt    int64  `json:"exp"`
}

// StateManager seals State into an encrypted, signed token.
type StateManager struct {
	encryptionKey []byte
	hmacKey       []byte
	ttl           time.Duration
	clock         socialauth.Clock
}

type StateOption func(*StateManager)

func WithStateTTL(ttl time.Duration) StateOption {
	return func(sm *StateManager) {
		if ttl != 0 {
			sm.ttl = ttl
		}
	}
}

func WithStateClock(clock socialauth.Clock) StateOption {
	return func(sm *StateManager) {
		if clock != nil {
			sm.clock = clock
		}
	}
}

// NewStateManager uses AES-GCM with encryptionKey (16, 24 or 32 bytes) and
// an HMAC-SHA256 prefix over the ciphertext.
func NewStateManager(encryptionKey, hmacKey []byte, opts ...StateOption) (*StateManager, error) {
	if _, err := aes.NewCipher(encryptionKey); err != nil {
		return nil, fmt.Errorf("state encryption key: %w", err)
	}
	if len(hmacKey) == 0 {
		return nil, errors.New("state hmac key is required")
	}
	sm := &StateManager{
		encryptionKey: encryptionKey,
		hmacKey:       hmacKey,
		ttl:           DefaultStateTTL,
		clock:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}
	return sm, nil
}

// Encode fills in nonce and timestamps when unset and returns the token.
func (sm *StateManager) Encode(state *State) (string, error) {
	if state == nil {
		return "", socialauth.MalformedData("state", errInvalidState)
	}

	now := sm.clock()
	if state.IssuedAt == 0 {
		state.IssuedAt = now.Unix()
	}
	if state.ExpiresAt == 0 {
		state.ExpiresAt = now.Add(sm.ttl).Unix()
	}
	if state.Nonce == "" {
		nonce, err := randomToken(16, base64.URLEncoding)
		if err != nil {
			return "", err
		}
		state.Nonce = nonce
	}

	plaintext, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}

	gcm, err := sm.aead()
	if err != nil {
		return "", err
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(iv, iv, plaintext, nil)
	result := append(sm.sign(ciphertext), ciphertext...)

	return base64.URLEncoding.EncodeToString(result), nil
}

// Decode verifies and decrypts token. Tampered or expired tokens yield
// AuthStateForbidden for backend.
func (sm *StateManager) Decode(backend, token string) (*State, error) {
	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil || len(data) < sha256.Size {
		return nil, forbidden(backend, errInvalidState)
	}

	signature, ciphertext := data[:sha256.Size], data[sha256.Size:]
	if !hmac.Equal(signature, sm.sign(ciphertext)) {
		return nil, forbidden(backend, errInvalidState)
	}

	gcm, err := sm.aead()
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, forbidden(backend, errInvalidState)
	}

	iv, encrypted := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, iv, encrypted, nil)
	if err != nil {
		return nil, forbidden(backend, errInvalidState)
	}

	var state State
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return nil, forbidden(backend, err)
	}

	if sm.clock().Unix() > state.ExpiresAt {
		return nil, forbidden(backend, errors.New("state token expired"))
	}

	return &state, nil
}

// Verify checks the state returned by the provider against the nonce kept in
// the session. A missing request value is AuthMissingParameter, a missing
// session value AuthStateMissing, anything that does not match
// AuthStateForbidden.
func (sm *StateManager) Verify(backend, sessionNonce, token string) (*State, error) {
	if token == "" {
		return nil, socialauth.AuthMissingParameter(backend, "state")
	}
	if sessionNonce == "" {
		return nil, socialauth.AuthStateMissing(backend)
	}

	state, err := sm.Decode(backend, token)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(state.Nonce), []byte(sessionNonce)) != 1 {
		return nil, socialauth.AuthStateForbidden(backend)
	}
	if state.Provider != "" && state.Provider != backend {
		return nil, socialauth.WrongBackend(backend)
	}
	return state, nil
}

func (sm *StateManager) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(sm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func (sm *StateManager) sign(ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, sm.hmacKey)
	mac.Write(ciphertext)
	return mac.Sum(nil)
}

func forbidden(backend string, err error) error {
	return &socialauth.Outcome{Kind: socialauth.KindAuthStateForbidden, Backend: backend, Err: err}
}

func randomToken(size int, enc *base64.Encoding) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return enc.EncodeToString(b), nil
}

// NewCodeVerifier returns a PKCE code verifier.
func NewCodeVerifier() (string, error) {
	return randomToken(32, base64.RawURLEncoding)
}

// CodeChallenge is the S256 PKCE challenge for verifier.
func CodeChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}
