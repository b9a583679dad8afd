package pipeline

import (
	"net/http"

	socialauth "github.com/goliatone/go-socialauth"
)

// Action is what a driver should do after a handshake step signaled.
type Action string

const (
	// ActionContinue means the pipeline ended on purpose; treat as success.
	ActionContinue Action = "continue"
	// ActionRestart sends the user back to the login page to try again.
	ActionRestart Action = "restart"
	// ActionConflict shows the "account already linked" recovery flow.
	ActionConflict Action = "conflict"
	// ActionDeny shows a refusal without restarting.
	ActionDeny Action = "deny"
	// ActionBadRequest rejects the request.
	ActionBadRequest Action = "bad_request"
	// ActionRetry is a transient failure.
	ActionRetry Action = "retry"
)

// Decision is the driver facing reading of an outcome.
type Decision struct {
	Action    Action
	Status    int
	Kind      socialauth.Kind
	TextCode  string
	Retryable bool
}

// Decide maps err onto a Decision. A nil error is ActionContinue.
func Decide(err error) Decision {
	if err == nil {
		return Decision{Action: ActionContinue, Status: http.StatusOK}
	}

	o, ok := socialauth.AsOutcome(socialauth.Classify("", err))
	if !ok {
		return Decision{Action: ActionRestart, Status: http.StatusUnauthorized}
	}

	d := Decision{Kind: o.Kind, TextCode: o.Kind.TextCode()}
	switch o.Class() {
	case socialauth.ClassControlFlow:
		d.Action, d.Status = ActionContinue, http.StatusOK
	case socialauth.ClassConflict:
		d.Action, d.Status = ActionConflict, http.StatusConflict
	case socialauth.ClassPolicyDenied:
		d.Action, d.Status = ActionDeny, http.StatusForbidden
	case socialauth.ClassMalformedInput:
		d.Action, d.Status = ActionBadRequest, http.StatusBadRequest
	case socialauth.ClassInfrastructure:
		d.Action, d.Status, d.Retryable = ActionRetry, http.StatusServiceUnavailable, true
	default:
		d.Action = ActionRestart
		d.Status = http.StatusUnauthorized
		if rich := o.Rich(); rich.Code != 0 {
			d.Status = rich.Code
		}
	}
	return d
}
