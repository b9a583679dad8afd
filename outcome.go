package socialauth

import (
	"context"
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// Kind tags one variant of the closed set of outcomes a handshake can signal.
type Kind uint8

const (
	KindBackendError Kind = iota + 1
	KindWrongBackend
	KindAuthFailed
	KindAuthCanceled
	KindAuthUnknownError
	KindAuthTokenError
	KindAuthMissingParameter
	KindAuthStateMissing
	KindAuthStateForbidden
	KindAuthAlreadyAssociated
	KindAuthTokenRevoked
	KindNotAllowedToDisconnect
	KindStopPipeline
	KindDuplicateIdentity
	KindMalformedData
	KindProviderAlreadyLinked
	KindStoreTimeout
	KindStoreUnavailable
)

// Class groups kinds by how a driver should react to them.
type Class uint8

const (
	ClassUnknown Class = iota
	// ClassConflict routes to an "account already linked" recovery flow.
	ClassConflict
	// ClassPolicyDenied is a user visible refusal.
	ClassPolicyDenied
	// ClassProtocol ends the current handshake attempt.
	ClassProtocol
	// ClassMalformedInput is a bad request.
	ClassMalformedInput
	// ClassControlFlow is an intentional short-circuit, not a failure.
	ClassControlFlow
	// ClassInfrastructure covers store timeouts and failures. Retryable.
	ClassInfrastructure
)

// Text codes, stable identifiers drivers can key translations on.
const (
	TextCodeBackendError          = "SOCIAL_BACKEND_ERROR"
	TextCodeWrongBackend          = "SOCIAL_WRONG_BACKEND"
	TextCodeAuthFailed            = "SOCIAL_AUTH_FAILED"
	TextCodeAuthCanceled          = "SOCIAL_AUTH_CANCELED"
	TextCodeAuthUnknownError      = "SOCIAL_AUTH_UNKNOWN_ERROR"
	TextCodeAuthTokenError        = "SOCIAL_AUTH_TOKEN_ERROR"
	TextCodeAuthMissingParameter  = "SOCIAL_AUTH_MISSING_PARAMETER"
	TextCodeAuthStateMissing      = "SOCIAL_AUTH_STATE_MISSING"
	TextCodeAuthStateForbidden    = "SOCIAL_AUTH_STATE_FORBIDDEN"
	TextCodeAuthAlreadyAssociated = "SOCIAL_AUTH_ALREADY_ASSOCIATED"
	TextCodeAuthTokenRevoked      = "SOCIAL_AUTH_TOKEN_REVOKED"
	TextCodeNotAllowedDisconnect  = "SOCIAL_NOT_ALLOWED_TO_DISCONNECT"
	TextCodeStopPipeline          = "SOCIAL_STOP_PIPELINE"
	TextCodeDuplicateIdentity     = "SOCIAL_DUPLICATE_IDENTITY"
	TextCodeMalformedData         = "SOCIAL_MALFORMED_DATA"
	TextCodeProviderLinked        = "SOCIAL_PROVIDER_ALREADY_LINKED"
	TextCodeStoreTimeout          = "SOCIAL_STORE_TIMEOUT"
	TextCodeStoreUnavailable      = "SOCIAL_STORE_UNAVAILABLE"
)

type kindInfo struct {
	name     string
	class    Class
	textCode string
	category goerrors.Category
	code     int
}

var kinds = map[Kind]kindInfo{
	KindBackendError:           {"BackendError", ClassProtocol, TextCodeBackendError, goerrors.CategoryAuth, goerrors.CodeUnauthorized},
	KindWrongBackend:           {"WrongBackend", ClassMalformedInput, TextCodeWrongBackend, goerrors.CategoryBadInput, goerrors.CodeBadRequest},
	KindAuthFailed:             {"AuthFailed", ClassProtocol, TextCodeAuthFailed, goerrors.CategoryAuth, goerrors.CodeUnauthorized},
	KindAuthCanceled:           {"AuthCanceled", ClassProtocol, TextCodeAuthCanceled, goerrors.CategoryAuth, goerrors.CodeUnauthorized},
	KindAuthUnknownError:       {"AuthUnknownError", ClassProtocol, TextCodeAuthUnknownError, goerrors.CategoryAuth, goerrors.CodeUnauthorized},
	KindAuthTokenError:         {"AuthTokenError", ClassProtocol, TextCodeAuthTokenError, goerrors.CategoryAuth, goerrors.CodeUnauthorized},
	KindAuthMissingParameter:   {"AuthMissingParameter", ClassMalformedInput, TextCodeAuthMissingParameter, goerrors.CategoryBadInput, goerrors.CodeBadRequest},
	KindAuthStateMissing:       {"AuthStateMissing", ClassProtocol, TextCodeAuthStateMissing, goerrors.CategoryAuth, goerrors.CodeUnauthorized},
	KindAuthStateForbidden:     {"AuthStateForbidden", ClassProtocol, TextCodeAuthStateForbidden, goerrors.CategoryAuth, goerrors.CodeForbidden},
	KindAuthAlreadyAssociated:  {"AuthAlreadyAssociated", ClassConflict, TextCodeAuthAlreadyAssociated, goerrors.CategoryConflict, goerrors.CodeConflict},
	KindAuthTokenRevoked:       {"AuthTokenRevoked", ClassProtocol, TextCodeAuthTokenRevoked, goerrors.CategoryAuth, goerrors.CodeUnauthorized},
	KindNotAllowedToDisconnect: {"NotAllowedToDisconnect", ClassPolicyDenied, TextCodeNotAllowedDisconnect, goerrors.CategoryAuthz, goerrors.CodeForbidden},
	KindStopPipeline:           {"StopPipeline", ClassControlFlow, TextCodeStopPipeline, goerrors.CategoryOperation, 0},
	KindDuplicateIdentity:      {"DuplicateIdentity", ClassConflict, TextCodeDuplicateIdentity, goerrors.CategoryConflict, goerrors.CodeConflict},
	KindMalformedData:          {"MalformedData", ClassMalformedInput, TextCodeMalformedData, goerrors.CategoryBadInput, goerrors.CodeBadRequest},
	KindProviderAlreadyLinked:  {"ProviderAlreadyLinked", ClassConflict, TextCodeProviderLinked, goerrors.CategoryConflict, goerrors.CodeConflict},
	KindStoreTimeout:           {"StoreTimeout", ClassInfrastructure, TextCodeStoreTimeout, goerrors.CategoryOperation, goerrors.CodeInternal},
	KindStoreUnavailable:       {"StoreUnavailable", ClassInfrastructure, TextCodeStoreUnavailable, goerrors.CategoryInternal, goerrors.CodeInternal},
}

// Kinds returns every defined kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := KindBackendError; k <= KindStoreUnavailable; k++ {
		out = append(out, k)
	}
	return out
}

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Class reports the handling class of the kind.
func (k Kind) Class() Class {
	return kinds[k].class
}

// TextCode returns the stable text code of the kind.
func (k Kind) TextCode() string {
	return kinds[k].textCode
}

func (c Class) String() string {
	switch c {
	case ClassConflict:
		return "conflict"
	case ClassPolicyDenied:
		return "policy_denied"
	case ClassProtocol:
		return "protocol"
	case ClassMalformedInput:
		return "malformed_input"
	case ClassControlFlow:
		return "control_flow"
	case ClassInfrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// Outcome is a signaled handshake condition. Which fields are set depends on
// Kind; localization is left to the driver.
type Outcome struct {
	Kind Kind
	// Backend is the provider the failing step ran under.
	Backend string
	// Parameter names the missing handshake parameter.
	Parameter string
	// Reason is the provider supplied reason code for AuthFailed.
	Reason string
	// Message carries the underlying message for BackendError, AuthUnknownError,
	// AuthTokenError and store failures.
	Message string
	// Field names the offending field for MalformedData.
	Field string
	Err   error
}

func (o *Outcome) Error() string {
	if o == nil {
		return "<nil outcome>"
	}

	msg := o.Kind.String()
	switch o.Kind {
	case KindWrongBackend:
		msg = fmt.Sprintf("%s: incorrect authentication service %q", msg, o.Backend)
	case KindAuthFailed:
		if o.Reason != "" {
			msg = fmt.Sprintf("%s: %s", msg, o.Reason)
		}
	case KindAuthMissingParameter:
		msg = fmt.Sprintf("%s: missing needed parameter %s", msg, o.Parameter)
	case KindMalformedData:
		if o.Field != "" {
			msg = fmt.Sprintf("%s: %s", msg, o.Field)
		}
	}

	if o.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, o.Message)
	}
	if o.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, o.Err)
	}
	return msg
}

func (o *Outcome) Unwrap() error {
	if o == nil {
		return nil
	}
	return o.Err
}

// Is matches any outcome of the same kind, so the sentinels below work with
// errors.Is regardless of the fields carried.
func (o *Outcome) Is(target error) bool {
	t, ok := target.(*Outcome)
	if !ok || o == nil || t == nil {
		return false
	}
	return o.Kind == t.Kind
}

// Class reports the handling class of the outcome.
func (o *Outcome) Class() Class {
	if o == nil {
		return ClassUnknown
	}
	return o.Kind.Class()
}

// Fields returns the structured fields that are set, for logs and templates.
func (o *Outcome) Fields() map[string]any {
	meta := map[string]any{"kind": o.Kind.String()}
	if o.Backend != "" {
		meta["backend"] = o.Backend
	}
	if o.Parameter != "" {
		meta["parameter"] = o.Parameter
	}
	if o.Reason != "" {
		meta["reason"] = o.Reason
	}
	if o.Message != "" {
		meta["message"] = o.Message
	}
	if o.Field != "" {
		meta["field"] = o.Field
	}
	return meta
}

// Rich converts the outcome into a go-errors value carrying category, HTTP
// code, text code and metadata.
func (o *Outcome) Rich() *goerrors.Error {
	info, ok := kinds[o.Kind]
	if !ok {
		info = kinds[KindAuthUnknownError]
	}

	rich := goerrors.New(o.Error(), info.category).WithTextCode(info.textCode)
	if info.code != 0 {
		rich = rich.WithCode(info.code)
	}
	if o.Err != nil {
		rich.Source = o.Err
	}
	return rich.WithMetadata(o.Fields())
}

// Sentinels for errors.Is. Never mutate them.
var (
	ErrBackendError           = &Outcome{Kind: KindBackendError}
	ErrWrongBackend           = &Outcome{Kind: KindWrongBackend}
	ErrAuthFailed             = &Outcome{Kind: KindAuthFailed}
	ErrAuthCanceled           = &Outcome{Kind: KindAuthCanceled}
	ErrAuthUnknownError       = &Outcome{Kind: KindAuthUnknownError}
	ErrAuthTokenError         = &Outcome{Kind: KindAuthTokenError}
	ErrAuthMissingParameter   = &Outcome{Kind: KindAuthMissingParameter}
	ErrAuthStateMissing       = &Outcome{Kind: KindAuthStateMissing}
	ErrAuthStateForbidden     = &Outcome{Kind: KindAuthStateForbidden}
	ErrAuthAlreadyAssociated  = &Outcome{Kind: KindAuthAlreadyAssociated}
	ErrAuthTokenRevoked       = &Outcome{Kind: KindAuthTokenRevoked}
	ErrNotAllowedToDisconnect = &Outcome{Kind: KindNotAllowedToDisconnect}
	ErrStopPipeline           = &Outcome{Kind: KindStopPipeline}
	ErrDuplicateIdentity      = &Outcome{Kind: KindDuplicateIdentity}
	ErrMalformedData          = &Outcome{Kind: KindMalformedData}
	ErrProviderAlreadyLinked  = &Outcome{Kind: KindProviderAlreadyLinked}
	ErrStoreTimeout           = &Outcome{Kind: KindStoreTimeout}
	ErrStoreUnavailable       = &Outcome{Kind: KindStoreUnavailable}
)

// BackendError reports a transport or protocol failure talking to a provider.
func BackendError(backend, message string) *Outcome {
	return &Outcome{Kind: KindBackendError, Backend: backend, Message: message}
}

// WrongBackend reports a handshake step invoked under the wrong provider.
func WrongBackend(backend string) *Outcome {
	return &Outcome{Kind: KindWrongBackend, Backend: backend}
}

// AuthFailed reports that the provider denied or rejected the attempt.
func AuthFailed(backend, reason string) *Outcome {
	return &Outcome{Kind: KindAuthFailed, Backend: backend, Reason: reason}
}

// AuthCanceled reports that the user aborted on the consent screen.
func AuthCanceled(backend string) *Outcome {
	return &Outcome{Kind: KindAuthCanceled, Backend: backend}
}

// AuthUnknownError wraps an unclassified verification failure.
func AuthUnknownError(backend string, err error) *Outcome {
	return &Outcome{Kind: KindAuthUnknownError, Backend: backend, Err: err}
}

// AuthTokenError reports a failed token exchange or validation.
func AuthTokenError(backend, message string) *Outcome {
	return &Outcome{Kind: KindAuthTokenError, Backend: backend, Message: message}
}

// AuthMissingParameter reports an absent handshake parameter.
func AuthMissingParameter(backend, parameter string) *Outcome {
	return &Outcome{Kind: KindAuthMissingParameter, Backend: backend, Parameter: parameter}
}

// AuthStateMissing reports that no state value was kept for the handshake.
func AuthStateMissing(backend string) *Outcome {
	return &Outcome{Kind: KindAuthStateMissing, Backend: backend}
}

// AuthStateForbidden reports a state parameter that does not match.
func AuthStateForbidden(backend string) *Outcome {
	return &Outcome{Kind: KindAuthStateForbidden, Backend: backend}
}

// AuthAlreadyAssociated reports an identity bound to a different account.
func AuthAlreadyAssociated(backend string) *Outcome {
	return &Outcome{Kind: KindAuthAlreadyAssociated, Backend: backend}
}

// AuthTokenRevoked reports that the provider revoked the access grant.
func AuthTokenRevoked(backend string) *Outcome {
	return &Outcome{Kind: KindAuthTokenRevoked, Backend: backend}
}

// NotAllowedToDisconnect reports a disconnect refused by policy.
func NotAllowedToDisconnect(backend string) *Outcome {
	return &Outcome{Kind: KindNotAllowedToDisconnect, Backend: backend}
}

// StopPipeline asks the driver to stop successfully.
func StopPipeline() *Outcome {
	return &Outcome{Kind: KindStopPipeline}
}

// DuplicateIdentity reports a (provider, uid) pair owned by another account.
func DuplicateIdentity(backend string) *Outcome {
	return &Outcome{Kind: KindDuplicateIdentity, Backend: backend}
}

// MalformedData reports stored or submitted content that fails to parse.
func MalformedData(field string, err error) *Outcome {
	return &Outcome{Kind: KindMalformedData, Field: field, Err: err}
}

// ProviderAlreadyLinked reports a second link to the same provider when the
// single link policy is active.
func ProviderAlreadyLinked(backend string) *Outcome {
	return &Outcome{Kind: KindProviderAlreadyLinked, Backend: backend}
}

// AsOutcome extracts the first outcome in err's chain.
func AsOutcome(err error) (*Outcome, bool) {
	var o *Outcome
	if errors.As(err, &o) && o != nil {
		return o, true
	}
	return nil, false
}

// KindOf returns the kind of the first outcome in err's chain, zero if none.
func KindOf(err error) Kind {
	if o, ok := AsOutcome(err); ok {
		return o.Kind
	}
	return 0
}

// ClassOf returns the class of the first outcome in err's chain.
func ClassOf(err error) Class {
	if o, ok := AsOutcome(err); ok {
		return o.Class()
	}
	return ClassUnknown
}

// IsKind reports whether err carries an outcome of kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// Classify guarantees a classified error: outcomes pass through, context
// errors become StoreTimeout and anything else AuthUnknownError.
func Classify(backend string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsOutcome(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Outcome{Kind: KindStoreTimeout, Backend: backend, Err: err}
	}
	return AuthUnknownError(backend, err)
}

// storeFailure classifies an error returned by a backing store.
func storeFailure(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsOutcome(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return &Outcome{Kind: KindStoreTimeout, Message: op, Err: err}
	}
	return &Outcome{Kind: KindStoreUnavailable, Message: op, Err: err}
}
