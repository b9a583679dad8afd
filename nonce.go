package socialauth

import (
	"context"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

const (
	SaltMaxLength = 40

	// DefaultNonceSkew is how far a nonce timestamp may drift from now.
	DefaultNonceSkew = 5 * time.Minute
)

// Nonce is a single use handshake token.
type Nonce struct {
	ServerURL string `json:"server_url"`
	Timestamp int64  `json:"timestamp"`
	Salt      string `json:"salt"`
}

// Validate checks field bounds.
func (n *Nonce) Validate() error {
	if n == nil {
		return ErrInvalidRecord
	}
	err := validation.ValidateStruct(n,
		validation.Field(&n.ServerURL, validation.Length(0, ServerURLMaxLength)),
		validation.Field(&n.Timestamp, validation.Required),
		validation.Field(&n.Salt, validation.Required, validation.Length(1, SaltMaxLength)),
	)
	if err != nil {
		return MalformedData("nonce", err)
	}
	return nil
}

// NonceRepository is the persistence boundary for nonces.
type NonceRepository interface {
	// Add inserts the nonce unless it already exists, in one indivisible
	// operation. It reports whether the nonce was inserted.
	Add(ctx context.Context, nonce Nonce) (bool, error)
	// DeleteOlderThan removes nonces with a timestamp before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff int64) (int64, error)
}

// Nonces guards a NonceRepository with a clock skew window.
type Nonces struct {
	repo     NonceRepository
	skew     time.Duration
	logger   Logger
	activity ActivitySink
	clock    Clock
	timeout  time.Duration
}

type NoncesOption func(*Nonces)

// WithNonceSkew sets the accepted drift between a nonce timestamp and now.
func WithNonceSkew(d time.Duration) NoncesOption {
	return func(n *Nonces) {
		if d > 0 {
			n.skew = d
		}
	}
}

func WithNoncesLogger(logger Logger) NoncesOption {
	return func(n *Nonces) {
		n.logger = logger
	}
}

func WithNoncesActivitySink(sink ActivitySink) NoncesOption {
	return func(n *Nonces) {
		n.activity = sink
	}
}

func WithNoncesClock(clock Clock) NoncesOption {
	return func(n *Nonces) {
		n.clock = clock
	}
}

func WithNoncesTimeout(d time.Duration) NoncesOption {
	return func(n *Nonces) {
		n.timeout = d
	}
}

func NewNonces(repo NonceRepository, opts ...NoncesOption) *Nonces {
	n := &Nonces{repo: repo, skew: DefaultNonceSkew}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	n.logger = normalizeLogger(n.logger)
	n.activity = normalizeActivitySink(n.activity)
	n.clock = normalizeClock(n.clock)
	return n
}

// Skew returns the configured window.
func (n *Nonces) Skew() time.Duration {
	return n.skew
}

// UseOnce consumes the (serverURL, timestamp, salt) triple. The first call
// returns true, every later one false. Timestamps outside the skew window are
// refused outright since their record may already have been pruned.
func (n *Nonces) UseOnce(ctx context.Context, serverURL string, timestamp int64, salt string) (bool, error) {
	nonce := Nonce{ServerURL: serverURL, Timestamp: timestamp, Salt: salt}
	if err := nonce.Validate(); err != nil {
		return false, err
	}

	now := n.clock()
	drift := time.Duration(abs(now.Unix()-timestamp)) * time.Second
	if drift > n.skew {
		recordActivity(ctx, n.activity, n.logger, ActivityEvent{
			EventType: ActivityEventNonceOutOfWindow,
			Metadata:  map[string]any{"server_url": serverURL, "drift_seconds": int64(drift / time.Second)},
		})
		return false, nil
	}

	cctx, cancel := withTimeout(ctx, n.timeout)
	defer cancel()

	accepted, err := n.repo.Add(cctx, nonce)
	if err != nil {
		return false, storeFailure(cctx, "add nonce", err)
	}
	if !accepted {
		n.logger.Info("nonce replay rejected for %s", serverURL)
		recordActivity(ctx, n.activity, n.logger, ActivityEvent{
			EventType: ActivityEventNonceReplay,
			Metadata:  map[string]any{"server_url": serverURL},
		})
	}
	return accepted, nil
}

// Prune drops nonces that fell out of the skew window.
func (n *Nonces) Prune(ctx context.Context) (int64, error) {
	cutoff := n.clock().Add(-n.skew).Unix()

	cctx, cancel := withTimeout(ctx, n.timeout)
	defer cancel()

	removed, err := n.repo.DeleteOlderThan(cctx, cutoff)
	if err != nil {
		return 0, storeFailure(cctx, "prune nonces", err)
	}
	return removed, nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// NonceTTL is how long a backend with native expiry must keep nonce: until
// its timestamp falls out of the skew window, at least one second.
func NonceTTL(nonce Nonce, skew time.Duration, now time.Time) time.Duration {
	ttl := time.Unix(nonce.Timestamp, 0).Add(skew).Sub(now)
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

// NonceKey joins the triple into one unambiguous key for key-value backends.
func NonceKey(nonce Nonce) string {
	return fmt.Sprintf("%d:%s|%d|%s", len(nonce.ServerURL), nonce.ServerURL, nonce.Timestamp, nonce.Salt)
}
