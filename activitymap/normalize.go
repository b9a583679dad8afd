// Package activitymap flattens socialauth activity events into a transport
// agnostic record for audit logs and event buses.
package activitymap

import (
	"context"
	"strings"
	"time"

	socialauth "github.com/goliatone/go-socialauth"
)

const (
	// MetadataKeyProvider stores the provider the event ran under.
	MetadataKeyProvider = "provider"
	// MetadataKeyServerURL is read from event metadata for nonce and
	// association events.
	MetadataKeyServerURL = "server_url"
)

const (
	defaultChannel = "socialauth"
	defaultActorID = "system"
)

// Object types derived from the event type.
const (
	ObjectLink        = "link"
	ObjectAccount     = "account"
	ObjectNonce       = "nonce"
	ObjectAssociation = "association"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	actorFallback    string
	objectIDResolver func(socialauth.ActivityEvent) string
}

// Normalize converts a socialauth.ActivityEvent into the normalized shape.
func Normalize(event socialauth.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	objectType := ObjectType(event.EventType)
	return Normalized{
		ActorID:    firstNonEmpty(strings.TrimSpace(event.AccountID), options.actorFallback),
		Verb:       verb(event.EventType),
		ObjectType: objectType,
		ObjectID:   resolveObjectID(event, objectType, options.objectIDResolver),
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// Sink adapts fn into an ActivitySink that receives normalized records.
func Sink(fn func(ctx context.Context, record Normalized) error, opts ...Option) socialauth.ActivitySink {
	return socialauth.ActivitySinkFunc(func(ctx context.Context, event socialauth.ActivityEvent) error {
		return fn(ctx, Normalize(event, opts...))
	})
}

// WithDefaultChannel sets the channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithObjectIDResolver overrides object-id extraction from ActivityEvent.
func WithObjectIDResolver(resolver func(socialauth.ActivityEvent) string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the actor id used when the event has no account.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		actorFallback: defaultActorID,
	}
}

// ObjectType reads the object segment of an event type such as
// "social.link.created".
func ObjectType(eventType socialauth.ActivityEventType) string {
	parts := strings.SplitN(string(eventType), ".", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}

func verb(eventType socialauth.ActivityEventType) string {
	parts := strings.SplitN(string(eventType), ".", 3)
	if len(parts) < 3 {
		return string(eventType)
	}
	return parts[2]
}

func resolveObjectID(event socialauth.ActivityEvent, objectType string, resolver func(socialauth.ActivityEvent) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(event))
	}
	switch objectType {
	case ObjectLink:
		return strings.TrimSpace(event.LinkID)
	case ObjectAccount:
		return strings.TrimSpace(event.AccountID)
	case ObjectNonce, ObjectAssociation:
		if url, ok := event.Metadata[MetadataKeyServerURL].(string); ok {
			return strings.TrimSpace(url)
		}
	}
	return ""
}

func normalizeMetadata(event socialauth.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	if provider := strings.TrimSpace(event.Provider); provider != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[MetadataKeyProvider]; !exists {
			metadata[MetadataKeyProvider] = provider
		}
	}

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
