package socialauth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLinkCreated       ActivityEventType = "social.link.created"
	ActivityEventLinkUpdated       ActivityEventType = "social.link.updated"
	ActivityEventLinkRemoved       ActivityEventType = "social.link.removed"
	ActivityEventLinkConflict      ActivityEventType = "social.link.conflict"
	ActivityEventDisconnectDenied  ActivityEventType = "social.link.disconnect_denied"
	ActivityEventAccountCreated    ActivityEventType = "social.account.created"
	ActivityEventNonceReplay       ActivityEventType = "social.nonce.replay"
	ActivityEventNonceOutOfWindow  ActivityEventType = "social.nonce.out_of_window"
	ActivityEventAssociationStored ActivityEventType = "social.association.stored"
	ActivityEventAssociationPurged ActivityEventType = "social.association.purged"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	AccountID  string
	Provider   string
	LinkID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity is best effort, failures are only logged.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := sink.Record(ctx, event); err != nil {
		logger.Error("activity sink %s: %v", event.EventType, err)
	}
}
