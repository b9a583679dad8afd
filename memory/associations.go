package memory

import (
	"context"
	"sort"
	"time"

	socialauth "github.com/goliatone/go-socialauth"
	"github.com/jellydator/ttlcache/v3"
)

// DefaultAssociationGrace keeps an association in the cache past its expiry so
// reads can still observe and purge it.
const DefaultAssociationGrace = time.Hour

type assocKey struct {
	serverURL string
	handle    string
}

// AssociationStore keeps associations in a ttlcache. Entries are evicted by
// the cache some time after they expire; socialauth.Associations still treats
// them as absent as soon as issued + lifetime has passed.
type AssociationStore struct {
	cache *ttlcache.Cache[assocKey, socialauth.Association]
	grace time.Duration
	clock socialauth.Clock
}

var _ socialauth.AssociationRepository = (*AssociationStore)(nil)

type AssociationStoreOption func(*AssociationStore)

func WithAssociationGrace(d time.Duration) AssociationStoreOption {
	return func(s *AssociationStore) {
		if d > 0 {
			s.grace = d
		}
	}
}

func WithAssociationStoreClock(clock socialauth.Clock) AssociationStoreOption {
	return func(s *AssociationStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewAssociationStore(opts ...AssociationStoreOption) *AssociationStore {
	s := &AssociationStore{
		grace: DefaultAssociationGrace,
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.cache = ttlcache.New[assocKey, socialauth.Association](
		ttlcache.WithDisableTouchOnHit[assocKey, socialauth.Association](),
	)
	return s
}

func (s *AssociationStore) Save(ctx context.Context, assoc *socialauth.Association) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ttl := assoc.ExpiresIn(s.clock()) + s.grace
	s.cache.Set(assocKey{assoc.ServerURL, assoc.Handle}, cloneAssociation(*assoc), ttl)
	return nil
}

func (s *AssociationStore) Get(ctx context.Context, serverURL, handle string) (*socialauth.Association, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item := s.cache.Get(assocKey{serverURL, handle})
	if item == nil {
		return nil, socialauth.ErrNotFound
	}
	assoc := cloneAssociation(item.Value())
	return &assoc, nil
}

func (s *AssociationStore) ListByServer(ctx context.Context, serverURL string) ([]*socialauth.Association, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []*socialauth.Association{}
	for key, item := range s.cache.Items() {
		if key.serverURL != serverURL {
			continue
		}
		assoc := cloneAssociation(item.Value())
		out = append(out, &assoc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Issued > out[j].Issued })
	return out, nil
}

func (s *AssociationStore) Delete(ctx context.Context, serverURL, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.cache.Delete(assocKey{serverURL, handle})
	return nil
}

func (s *AssociationStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var removed int64
	for key, item := range s.cache.Items() {
		assoc := item.Value()
		if assoc.Expired(now) {
			s.cache.Delete(key)
			removed++
		}
	}
	s.cache.DeleteExpired()
	return removed, nil
}

// Len reports how many associations the cache holds, expired ones included.
func (s *AssociationStore) Len() int {
	return s.cache.Len()
}

func cloneAssociation(a socialauth.Association) socialauth.Association {
	a.Secret = append([]byte(nil), a.Secret...)
	return a
}
