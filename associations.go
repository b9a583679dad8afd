package socialauth

import (
	"context"
	"time"
)

// Associations applies expiry on top of an AssociationRepository, so every
// backend treats expired rows as absent.
type Associations struct {
	repo     AssociationRepository
	logger   Logger
	activity ActivitySink
	clock    Clock
	timeout  time.Duration
}

type AssociationsOption func(*Associations)

func WithAssociationsLogger(logger Logger) AssociationsOption {
	return func(a *Associations) {
		a.logger = logger
	}
}

func WithAssociationsActivitySink(sink ActivitySink) AssociationsOption {
	return func(a *Associations) {
		a.activity = sink
	}
}

func WithAssociationsClock(clock Clock) AssociationsOption {
	return func(a *Associations) {
		a.clock = clock
	}
}

func WithAssociationsTimeout(d time.Duration) AssociationsOption {
	return func(a *Associations) {
		a.timeout = d
	}
}

func NewAssociations(repo AssociationRepository, opts ...AssociationsOption) *Associations {
	a := &Associations{repo: repo}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.logger = normalizeLogger(a.logger)
	a.activity = normalizeActivitySink(a.activity)
	a.clock = normalizeClock(a.clock)
	return a
}

// Store upserts the association. A provider rotating the handle for a server
// simply adds a row.
func (a *Associations) Store(ctx context.Context, assoc Association) error {
	if err := assoc.Validate(); err != nil {
		return err
	}

	cctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.repo.Save(cctx, &assoc); err != nil {
		return storeFailure(cctx, "save association", err)
	}

	recordActivity(ctx, a.activity, a.logger, ActivityEvent{
		EventType: ActivityEventAssociationStored,
		Metadata: map[string]any{
			"server_url": assoc.ServerURL,
			"assoc_type": assoc.AssocType,
		},
	})
	return nil
}

// Lookup returns the association for (serverURL, handle), or the most
// recently issued live one when handle is empty. Absent or expired yields
// nil, nil.
func (a *Associations) Lookup(ctx context.Context, serverURL, handle string) (*Association, error) {
	now := a.clock()

	if handle != "" {
		cctx, cancel := withTimeout(ctx, a.timeout)
		defer cancel()

		assoc, err := a.repo.Get(cctx, serverURL, handle)
		if err != nil {
			if IsNotFound(err) {
				return nil, nil
			}
			return nil, storeFailure(cctx, "get association", err)
		}
		if assoc.Expired(now) {
			a.purge(ctx, assoc)
			return nil, nil
		}
		return assoc, nil
	}

	cctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	all, err := a.repo.ListByServer(cctx, serverURL)
	if err != nil {
		return nil, storeFailure(cctx, "list associations", err)
	}

	var newest *Association
	for _, assoc := range all {
		if assoc.Expired(now) {
			a.purge(ctx, assoc)
			continue
		}
		if newest == nil || assoc.Issued > newest.Issued {
			newest = assoc
		}
	}
	return newest, nil
}

// Remove deletes the association. Removing an absent one is not an error.
func (a *Associations) Remove(ctx context.Context, serverURL, handle string) error {
	cctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.repo.Delete(cctx, serverURL, handle); err != nil {
		if IsNotFound(err) {
			return nil
		}
		return storeFailure(cctx, "delete association", err)
	}
	return nil
}

// Prune removes every expired association.
func (a *Associations) Prune(ctx context.Context) (int64, error) {
	cctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	n, err := a.repo.DeleteExpired(cctx, a.clock())
	if err != nil {
		return 0, storeFailure(cctx, "prune associations", err)
	}
	if n > 0 {
		a.logger.Debug("pruned %d expired associations", n)
	}
	return n, nil
}

// purge is opportunistic; a failure only costs storage.
func (a *Associations) purge(ctx context.Context, assoc *Association) {
	cctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.repo.Delete(cctx, assoc.ServerURL, assoc.Handle); err != nil && !IsNotFound(err) {
		a.logger.Error("purge expired association %s: %v", assoc, err)
		return
	}
	recordActivity(ctx, a.activity, a.logger, ActivityEvent{
		EventType: ActivityEventAssociationPurged,
		Metadata:  map[string]any{"server_url": assoc.ServerURL},
	})
}
