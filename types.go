package socialauth

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// Clock returns the current time. Stores and services take one so expiry can
// be tested without sleeping.
type Clock func() time.Time

// Account is the slice of a local account the core needs. Account lifecycle
// is owned elsewhere.
type Account interface {
	GetID() string
	HasUsablePassword() bool
}

// NewAccount is what the core hands to an AccountStore when a handshake
// creates a local account.
type NewAccount struct {
	Username     string
	Email        *string
	FirstName    string
	LastName     string
	PasswordHash string
	Metadata     map[string]any
}

// AccountStore is the account lifecycle provider consumed by the core.
type AccountStore interface {
	CreateAccount(ctx context.Context, account NewAccount) (Account, error)
	GetAccount(ctx context.Context, id string) (Account, error)
}

// AccountProfile holds the profile fields a provider returned.
type AccountProfile struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	// Password is optional cleartext. Without it the account gets an
	// unusable password.
	Password string
	Metadata map[string]any
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] SOCIALAUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] SOCIALAUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] SOCIALAUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger discards everything.
func NopLogger() Logger { return nopLogger{} }

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}

func normalizeClock(c Clock) Clock {
	if c == nil {
		return time.Now
	}
	return c
}

// withTimeout bounds a store call when a per-operation timeout is configured.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
