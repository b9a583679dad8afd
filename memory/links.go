package memory

import (
	"context"
	"sort"
	"sync"

	socialauth "github.com/goliatone/go-socialauth"
)

type linkKey struct {
	provider string
	uid      string
}

// LinkStore keeps links in process. Safe for concurrent use.
type LinkStore struct {
	mu     sync.RWMutex
	byID   map[string]*socialauth.Link
	byPair map[linkKey]string
}

var _ socialauth.LinkStore = (*LinkStore)(nil)

func NewLinkStore() *LinkStore {
	return &LinkStore{
		byID:   map[string]*socialauth.Link{},
		byPair: map[linkKey]string{},
	}
}

func (s *LinkStore) FindByProviderUID(ctx context.Context, provider, uid string) (*socialauth.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPair[linkKey{provider, uid}]
	if !ok {
		return nil, socialauth.ErrNotFound
	}
	return cloneLink(s.byID[id]), nil
}

func (s *LinkStore) FindByID(ctx context.Context, id string) (*socialauth.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	link, ok := s.byID[id]
	if !ok {
		return nil, socialauth.ErrNotFound
	}
	return cloneLink(link), nil
}

func (s *LinkStore) Create(ctx context.Context, link *socialauth.Link) (*socialauth.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := linkKey{link.Provider, link.UID}
	if _, taken := s.byPair[key]; taken {
		return nil, socialauth.ErrLinkExists
	}

	stored := cloneLink(link)
	s.byID[stored.ID] = stored
	s.byPair[key] = stored.ID
	return cloneLink(stored), nil
}

func (s *LinkStore) ListByAccount(ctx context.Context, accountID string) ([]*socialauth.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*socialauth.Link{}
	for _, link := range s.byID {
		if link.AccountID == accountID {
			out = append(out, cloneLink(link))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *LinkStore) CountByAccount(ctx context.Context, accountID string, filter socialauth.LinkFilter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.countLocked(accountID, filter), nil
}

func (s *LinkStore) countLocked(accountID string, filter socialauth.LinkFilter) int {
	count := 0
	for _, link := range s.byID {
		if link.AccountID == accountID && !excluded(link, filter) {
			count++
		}
	}
	return count
}

func excluded(link *socialauth.Link, filter socialauth.LinkFilter) bool {
	if filter.ExcludeID != "" {
		return link.ID == filter.ExcludeID
	}
	return filter.ExcludeProvider != "" && link.Provider == filter.ExcludeProvider
}

func (s *LinkStore) UpdateExtraData(ctx context.Context, id string, data socialauth.ExtraData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.byID[id]
	if !ok {
		return socialauth.ErrNotFound
	}
	link.ExtraData = cloneExtra(data)
	return nil
}

func (s *LinkStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteLocked(id)
	return nil
}

func (s *LinkStore) DeleteByAccountProvider(ctx context.Context, accountID, provider string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, link := range s.byID {
		if link.AccountID == accountID && link.Provider == provider {
			s.deleteLocked(id)
			removed++
		}
	}
	return removed, nil
}

// DeleteUnlessLast holds the write lock across the count and the delete.
func (s *LinkStore) DeleteUnlessLast(ctx context.Context, accountID string, filter socialauth.LinkFilter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.countLocked(accountID, filter) == 0 {
		return 0, socialauth.ErrLastLink
	}

	var removed int64
	for id, link := range s.byID {
		if link.AccountID == accountID && excluded(link, filter) {
			s.deleteLocked(id)
			removed++
		}
	}
	return removed, nil
}

func (s *LinkStore) deleteLocked(id string) {
	link, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byPair, linkKey{link.Provider, link.UID})
	delete(s.byID, id)
}

func cloneLink(l *socialauth.Link) *socialauth.Link {
	if l == nil {
		return nil
	}
	c := *l
	c.ExtraData = cloneExtra(l.ExtraData)
	return &c
}

func cloneExtra(data socialauth.ExtraData) socialauth.ExtraData {
	if data == nil {
		return nil
	}
	out := make(socialauth.ExtraData, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
