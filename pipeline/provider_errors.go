package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	socialauth "github.com/goliatone/go-socialauth"
)

// ProviderError captures normalized provider response details.
type ProviderError struct {
	Provider    string
	Operation   string
	Status      int
	Code        string
	Description string
	Err         error
	Raw         map[string]any
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}

	scope := "provider"
	if e.Provider != "" && e.Operation != "" {
		scope = fmt.Sprintf("%s %s", e.Provider, e.Operation)
	} else if e.Provider != "" {
		scope = e.Provider
	} else if e.Operation != "" {
		scope = e.Operation
	}

	if e.Description != "" {
		return fmt.Sprintf("%s failed: %s", scope, e.Description)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s failed: %s", scope, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}
	return fmt.Sprintf("%s failed", scope)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ProviderError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{}
	if e.Provider != "" {
		meta["provider"] = e.Provider
	}
	if e.Operation != "" {
		meta["operation"] = e.Operation
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Code != "" {
		meta["code"] = e.Code
	}
	if e.Description != "" {
		meta["description"] = e.Description
	}
	if len(e.Raw) > 0 {
		meta["raw"] = e.Raw
	}
	return meta
}

// OAuth and provider specific error codes, grouped by the outcome they map to.
var (
	canceledCodes = map[string]bool{
		"user_cancelled_login":     true,
		"user_cancelled_authorize": true,
		"user_denied":              true,
		"consent_required":         true,
	}
	tokenCodes = map[string]bool{
		"invalid_grant":                true,
		"invalid_token":                true,
		"expired_token":                true,
		"bad_verification_code":        true,
		"incorrect_client_credentials": true,
	}
	revokedCodes = map[string]bool{
		"token_revoked": true,
		"revoked_token": true,
	}
)

// ClassifyProviderError maps a provider failure onto an outcome for backend.
// Outcomes already in the chain pass through.
func ClassifyProviderError(backend string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := socialauth.AsOutcome(err); ok {
		return err
	}

	var perr *ProviderError
	if !errors.As(err, &perr) || perr == nil {
		if isTransport(err) {
			return &socialauth.Outcome{Kind: socialauth.KindBackendError, Backend: backend, Message: err.Error(), Err: err}
		}
		return socialauth.Classify(backend, err)
	}

	if perr.Provider != "" {
		backend = perr.Provider
	}
	code := strings.ToLower(strings.TrimSpace(perr.Code))

	var out *socialauth.Outcome
	switch {
	case code == "access_denied":
		out = socialauth.AuthFailed(backend, code)
	case canceledCodes[code]:
		out = socialauth.AuthCanceled(backend)
	case revokedCodes[code]:
		out = socialauth.AuthTokenRevoked(backend)
	case tokenCodes[code]:
		out = socialauth.AuthTokenError(backend, describe(perr))
	case code == "invalid_request" && perr.Description != "" && strings.Contains(strings.ToLower(perr.Description), "missing"):
		out = socialauth.AuthMissingParameter(backend, perr.Description)
	case code != "":
		out = socialauth.AuthFailed(backend, code)
	case perr.Status == http.StatusUnauthorized:
		out = socialauth.AuthTokenError(backend, describe(perr))
	case perr.Status >= http.StatusInternalServerError, perr.Err != nil && isTransport(perr.Err):
		out = socialauth.BackendError(backend, describe(perr))
	default:
		out = socialauth.AuthUnknownError(backend, nil)
	}
	out.Err = err
	return out
}

// CallbackError inspects the query parameters a provider redirected back
// with. It returns nil when no error parameter is present.
func CallbackError(backend string, query url.Values) error {
	code := query.Get("error")
	if code == "" {
		return nil
	}
	return ClassifyProviderError(backend, &ProviderError{
		Provider:    backend,
		Operation:   "callback",
		Code:        code,
		Description: query.Get("error_description"),
	})
}

func describe(perr *ProviderError) string {
	if perr.Description != "" {
		return perr.Description
	}
	if perr.Code != "" {
		return perr.Code
	}
	if perr.Err != nil {
		return perr.Err.Error()
	}
	if perr.Status != 0 {
		return http.StatusText(perr.Status)
	}
	return ""
}

func isTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	var urlErr *url.Error
	return errors.As(err, &netErr) || errors.As(err, &urlErr)
}
