package socialauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProviderLinkPolicy decides whether an account may hold more than one link
// to the same provider. Global (provider, uid) uniqueness applies either way.
type ProviderLinkPolicy uint8

const (
	// ProviderLinksMultiple allows several uids of one provider per account.
	ProviderLinksMultiple ProviderLinkPolicy = iota
	// ProviderLinksSingle rejects a second uid for a provider the account
	// already links. The check runs in the Linker, not in the store.
	ProviderLinksSingle
)

// Linker owns creation, lookup and disconnect policy for identity links.
type Linker struct {
	links    LinkStore
	accounts AccountStore
	logger   Logger
	activity ActivitySink
	clock    Clock
	timeout  time.Duration
	policy   ProviderLinkPolicy
	newID    func() string
}

type LinkerOption func(*Linker)

func WithLinkerLogger(logger Logger) LinkerOption {
	return func(l *Linker) {
		l.logger = logger
	}
}

func WithLinkerActivitySink(sink ActivitySink) LinkerOption {
	return func(l *Linker) {
		l.activity = sink
	}
}

func WithLinkerClock(clock Clock) LinkerOption {
	return func(l *Linker) {
		l.clock = clock
	}
}

// WithLinkerTimeout bounds every store call made by the linker.
func WithLinkerTimeout(d time.Duration) LinkerOption {
	return func(l *Linker) {
		l.timeout = d
	}
}

func WithProviderLinkPolicy(policy ProviderLinkPolicy) LinkerOption {
	return func(l *Linker) {
		l.policy = policy
	}
}

// WithLinkIDGenerator overrides how new link ids are minted.
func WithLinkIDGenerator(fn func() string) LinkerOption {
	return func(l *Linker) {
		if fn != nil {
			l.newID = fn
		}
	}
}

// NewLinker wires a linker over a link store and an account store.
func NewLinker(links LinkStore, accounts AccountStore, opts ...LinkerOption) *Linker {
	l := &Linker{
		links:    links,
		accounts: accounts,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.logger = normalizeLogger(l.logger)
	l.activity = normalizeActivitySink(l.activity)
	l.clock = normalizeClock(l.clock)
	return l
}

// FindLink returns the link bound to (provider, uid), or nil when absent.
func (l *Linker) FindLink(ctx context.Context, provider string, uid any) (*Link, error) {
	cctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	link, err := l.links.FindByProviderUID(cctx, provider, CoerceUID(uid))
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, storeFailure(cctx, "find link", err)
	}
	return link, nil
}

// CreateLink binds (provider, uid) to account. If the same account already
// owns the pair the existing link is returned; another owner yields
// DuplicateIdentity.
func (l *Linker) CreateLink(ctx context.Context, account Account, uid any, provider string) (*Link, error) {
	link, _, err := l.createLink(ctx, account, uid, provider, nil)
	return link, err
}

func (l *Linker) createLink(ctx context.Context, account Account, uid any, provider string, extra ExtraData) (*Link, bool, error) {
	if account == nil {
		return nil, false, MalformedData("account", errors.New("account is required"))
	}

	now := l.clock().UTC()
	link := &Link{
		ID:        l.newID(),
		AccountID: account.GetID(),
		Provider:  provider,
		UID:       CoerceUID(uid),
		ExtraData: extra,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := link.Validate(); err != nil {
		return nil, false, err
	}

	if l.policy == ProviderLinksSingle {
		if err := l.checkSingleProvider(ctx, link); err != nil {
			return nil, false, err
		}
	}

	// A conflict whose owner disappears before we can read it is retried once.
	for attempt := 0; attempt < 2; attempt++ {
		created, err := l.insert(ctx, link)
		if err == nil {
			l.logger.Debug("linked %s to account %s", created, created.AccountID)
			recordActivity(ctx, l.activity, l.logger, ActivityEvent{
				EventType: ActivityEventLinkCreated,
				AccountID: created.AccountID,
				Provider:  created.Provider,
				LinkID:    created.ID,
			})
			return created, true, nil
		}
		if !IsLinkExists(err) {
			return nil, false, err
		}

		existing, err := l.FindLink(ctx, link.Provider, link.UID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			continue
		}
		if existing.AccountID == link.AccountID {
			return existing, false, nil
		}

		l.logger.Info("identity %s:%s already linked to another account", link.Provider, link.UID)
		recordActivity(ctx, l.activity, l.logger, ActivityEvent{
			EventType: ActivityEventLinkConflict,
			AccountID: link.AccountID,
			Provider:  link.Provider,
			LinkID:    existing.ID,
		})
		return nil, false, DuplicateIdentity(link.Provider)
	}

	return nil, false, DuplicateIdentity(link.Provider)
}

func (l *Linker) insert(ctx context.Context, link *Link) (*Link, error) {
	cctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	created, err := l.links.Create(cctx, link)
	if err != nil {
		if IsLinkExists(err) {
			return nil, err
		}
		return nil, storeFailure(cctx, "create link", err)
	}
	return created, nil
}

func (l *Linker) checkSingleProvider(ctx context.Context, link *Link) error {
	current, err := l.listByAccount(ctx, link.AccountID)
	if err != nil {
		return err
	}
	for _, existing := range current {
		if existing.Provider == link.Provider && existing.UID != link.UID {
			return ProviderAlreadyLinked(link.Provider)
		}
	}
	return nil
}

// LinksForAccount returns every link of the account, oldest first.
func (l *Linker) LinksForAccount(ctx context.Context, account Account) ([]*Link, error) {
	if account == nil {
		return nil, MalformedData("account", errors.New("account is required"))
	}
	return l.listByAccount(ctx, account.GetID())
}

func (l *Linker) listByAccount(ctx context.Context, accountID string) ([]*Link, error) {
	cctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	links, err := l.links.ListByAccount(cctx, accountID)
	if err != nil {
		return nil, storeFailure(cctx, "list links", err)
	}
	return links, nil
}

// CreateAccount creates a local account from provider profile fields. A blank
// email is stored as no email and, unless a password is given, the account
// gets an unusable password.
func (l *Linker) CreateAccount(ctx context.Context, profile AccountProfile) (Account, error) {
	if l.accounts == nil {
		return nil, &Outcome{Kind: KindStoreUnavailable, Message: "no account store configured"}
	}

	record := NewAccount{
		Username:     profile.Username,
		FirstName:    profile.FirstName,
		LastName:     profile.LastName,
		PasswordHash: UnusablePassword,
		Metadata:     profile.Metadata,
	}
	if email := strings.TrimSpace(profile.Email); email != "" {
		record.Email = &email
	}
	if profile.Password != "" {
		hash, err := HashPassword(profile.Password)
		if err != nil {
			return nil, MalformedData("password", err)
		}
		record.PasswordHash = hash
	}

	cctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	account, err := l.accounts.CreateAccount(cctx, record)
	if err != nil {
		return nil, storeFailure(cctx, "create account", err)
	}

	recordActivity(ctx, l.activity, l.logger, ActivityEvent{
		EventType: ActivityEventAccountCreated,
		AccountID: account.GetID(),
	})
	return account, nil
}

// GetAccount loads an account through the account store, or nil when it does
// not exist.
func (l *Linker) GetAccount(ctx context.Context, id string) (Account, error) {
	if l.accounts == nil {
		return nil, &Outcome{Kind: KindStoreUnavailable, Message: "no account store configured"}
	}

	cctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	account, err := l.accounts.GetAccount(cctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, storeFailure(cctx, "get account", err)
	}
	return account, nil
}

// MayDisconnect reports whether the account keeps a way to log in after
// losing the target link: a usable password, or another link. With
// excludeLinkID only that link is discounted, otherwise every link to
// provider is.
func (l *Linker) MayDisconnect(ctx context.Context, account Account, provider, excludeLinkID string) (bool, error) {
	if account == nil {
		return false, MalformedData("account", errors.New("account is required"))
	}
	if account.HasUsablePassword() {
		return true, nil
	}

	cctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	remaining, err := l.links.CountByAccount(cctx, account.GetID(), disconnectFilter(provider, excludeLinkID))
	if err != nil {
		return false, storeFailure(cctx, "count links", err)
	}
	return remaining > 0, nil
}

func disconnectFilter(provider, linkID string) LinkFilter {
	if linkID != "" {
		return LinkFilter{ExcludeID: linkID}
	}
	return LinkFilter{ExcludeProvider: provider}
}

// Disconnect removes a link under the MayDisconnect policy. With linkID only
// that link is removed, otherwise every link of the account to provider.
// Without a usable password the store checks for a remaining link and
// deletes in one step, so concurrent disconnects cannot strip the last one.
func (l *Linker) Disconnect(ctx context.Context, account Account, provider, linkID string) error {
	if account == nil {
		return MalformedData("account", errors.New("account is required"))
	}

	cctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	if linkID != "" {
		link, err := l.links.FindByID(cctx, linkID)
		if err != nil {
			if IsNotFound(err) {
				return nil
			}
			return storeFailure(cctx, "find link", err)
		}
		if link.AccountID != account.GetID() {
			return NotAllowedToDisconnect(provider)
		}
		if link.Provider != provider {
			return WrongBackend(provider)
		}
	}

	var removed int64
	var err error
	switch {
	case account.HasUsablePassword() && linkID != "":
		if err = l.links.Delete(cctx, linkID); err == nil {
			removed = 1
		}
	case account.HasUsablePassword():
		removed, err = l.links.DeleteByAccountProvider(cctx, account.GetID(), provider)
	default:
		removed, err = l.links.DeleteUnlessLast(cctx, account.GetID(), disconnectFilter(provider, linkID))
	}

	if IsLastLink(err) {
		recordActivity(ctx, l.activity, l.logger, ActivityEvent{
			EventType: ActivityEventDisconnectDenied,
			AccountID: account.GetID(),
			Provider:  provider,
			LinkID:    linkID,
		})
		return NotAllowedToDisconnect(provider)
	}
	if err != nil {
		return storeFailure(cctx, "delete links", err)
	}

	if removed > 0 {
		recordActivity(ctx, l.activity, l.logger, ActivityEvent{
			EventType: ActivityEventLinkRemoved,
			AccountID: account.GetID(),
			Provider:  provider,
			LinkID:    linkID,
			Metadata:  map[string]any{"removed": removed},
		})
	}
	return nil
}

// Associate finds or creates the link for (provider, uid) on account and
// replaces its extra data. A link owned by another account yields
// AuthAlreadyAssociated. The bool is true when a link was created.
func (l *Linker) Associate(ctx context.Context, account Account, provider string, uid any, extra ExtraData) (*Link, bool, error) {
	if account == nil {
		return nil, false, MalformedData("account", errors.New("account is required"))
	}

	existing, err := l.FindLink(ctx, provider, uid)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		link, created, err := l.createLink(ctx, account, uid, provider, extra)
		if err != nil {
			if IsKind(err, KindDuplicateIdentity) {
				return nil, false, &Outcome{Kind: KindAuthAlreadyAssociated, Backend: provider, Err: err}
			}
			return nil, false, err
		}
		if created {
			return link, true, nil
		}
		existing = link
	}

	if existing.AccountID != account.GetID() {
		recordActivity(ctx, l.activity, l.logger, ActivityEvent{
			EventType: ActivityEventLinkConflict,
			AccountID: account.GetID(),
			Provider:  provider,
			LinkID:    existing.ID,
		})
		return nil, false, AuthAlreadyAssociated(provider)
	}

	if extra != nil {
		if err := l.UpdateExtraData(ctx, existing, extra); err != nil {
			return nil, false, err
		}
	}
	return existing, false, nil
}

// UpdateExtraData replaces the extra data of link.
func (l *Linker) UpdateExtraData(ctx context.Context, link *Link, data ExtraData) error {
	if link == nil {
		return MalformedData("link", errors.New("link is required"))
	}

	cctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	// A missing link will not reappear on retry, so it is a bad request
	// rather than a store failure. IsNotFound still sees through it.
	if err := l.links.UpdateExtraData(cctx, link.ID, data); err != nil {
		if IsNotFound(err) {
			return MalformedData("link", err)
		}
		return storeFailure(cctx, "update extra data", err)
	}

	link.ExtraData = data
	link.UpdatedAt = l.clock().UTC()
	recordActivity(ctx, l.activity, l.logger, ActivityEvent{
		EventType: ActivityEventLinkUpdated,
		AccountID: link.AccountID,
		Provider:  link.Provider,
		LinkID:    link.ID,
	})
	return nil
}
