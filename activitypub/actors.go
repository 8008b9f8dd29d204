package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/metrics"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrGone is returned when the remote answered 410 for an actor.
	ErrGone        = errors.New("actor gone")
	ErrNotResolved = errors.New("handle not resolved")
)

const acceptJrd = "application/jrd+json, application/json"

type ResolverConfig struct {
	FetchTimeout   time.Duration
	ProfileTimeout time.Duration
	CacheTTL       time.Duration
}

type cachedProfile struct {
	profile   *domain.RemoteProfile
	withCount bool
	expires   time.Time
}

// Resolver turns handles and actor ids into remote profiles.
type Resolver struct {
	fetcher *Fetcher
	conf    ResolverConfig
	log     *log.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	cache map[string]cachedProfile
	swept time.Time
	now   func() time.Time
}

func NewResolver(fetcher *Fetcher, conf ResolverConfig, logger *log.Logger, m *metrics.Metrics) *Resolver {
	return &Resolver{
		fetcher: fetcher,
		conf:    conf,
		log:     logger,
		metrics: m,
		cache:   make(map[string]cachedProfile),
		now:     time.Now,
	}
}

type resolveOptions struct {
	counts bool
	fresh  bool
}

type ResolveOption func(*resolveOptions)

// WithCollectionCounts also fetches followers, following and outbox sizes.
func WithCollectionCounts() ResolveOption {
	return func(o *resolveOptions) { o.counts = true }
}

// WithoutCache fetches the document even when a cached copy is still valid.
// The fetched profile replaces the cached one.
func WithoutCache() ResolveOption {
	return func(o *resolveOptions) { o.fresh = true }
}

// ResolveHandle looks up "user@domain" (an optional leading @ is ignored)
// with WebFinger and returns the actor id.
func (r *Resolver) ResolveHandle(ctx context.Context, handle string) (string, error) {
	username, host, ok := strings.Cut(strings.TrimPrefix(handle, "@"), "@")
	if !ok || username == "" || host == "" {
		return "", fmt.Errorf("%w: bad handle %q", ErrNotResolved, handle)
	}

	resource := "acct:" + username + "@" + host
	target := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s", host, url.QueryEscape(resource))

	res := r.fetcher.Get(ctx, target, acceptJrd, r.conf.FetchTimeout)
	r.metrics.ObserveFetch("webfinger", res.Outcome.String())
	if !res.Success() {
		r.log.Debug("WebFinger failed", "handle", handle, "outcome", res.Outcome, "status", res.StatusCode, "err", res.Err)
		return "", fmt.Errorf("%w: %s", ErrNotResolved, handle)
	}

	var jrd struct {
		Links []struct {
			Rel  string `json:"rel"`
			Type string `json:"type"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := json.Unmarshal(res.Body, &jrd); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNotResolved, handle, err)
	}

	var fallback string
	for _, link := range jrd.Links {
		if link.Rel != "self" || link.Href == "" {
			continue
		}
		if link.Type == ContentTypeActivity || strings.HasPrefix(link.Type, "application/ld+json") {
			return link.Href, nil
		}
		if fallback == "" {
			fallback = link.Href
		}
	}
	if fallback == "" {
		return "", fmt.Errorf("%w: %s has no self link", ErrNotResolved, handle)
	}
	return fallback, nil
}

// ResolveProfile fetches and normalizes the actor document at id. A timeout
// or a non-200 answer yields a nil profile and a nil error; 410 yields
// ErrGone.
func (r *Resolver) ResolveProfile(ctx context.Context, id string, opts ...ResolveOption) (*domain.RemoteProfile, error) {
	var o resolveOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !o.fresh {
		if profile := r.cached(id, o.counts); profile != nil {
			return profile, nil
		}
	}

	res := r.fetcher.Get(ctx, id, acceptActivity, r.conf.ProfileTimeout)
	r.metrics.ObserveFetch("profile", res.Outcome.String())
	switch {
	case res.Outcome != FetchOK:
		r.log.Debug("Profile fetch failed", "id", id, "outcome", res.Outcome, "err", res.Err)
		return nil, nil
	case res.StatusCode == http.StatusGone:
		r.forget(id)
		return nil, ErrGone
	case res.StatusCode != http.StatusOK:
		r.log.Debug("Profile fetch refused", "id", id, "status", res.StatusCode)
		return nil, nil
	}

	doc, err := DecodeDocument(res.Body)
	if err != nil {
		r.log.Debug("Profile is not a document", "id", id, "err", err)
		return nil, nil
	}
	profile := profileFromDocument(doc)
	if profile == nil {
		return nil, nil
	}

	if o.counts {
		r.fetchCounts(ctx, profile)
	}

	r.remember(id, cachedProfile{profile: profile, withCount: o.counts})

	copied := *profile
	return &copied, nil
}

func (r *Resolver) cached(id string, counts bool) *domain.RemoteProfile {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[id]
	if !ok || r.now().After(entry.expires) || (counts && !entry.withCount) {
		return nil
	}
	copied := *entry.profile
	return &copied
}

// remember caches entry and, at most once per TTL, drops expired entries.
func (r *Resolver) remember(id string, entry cachedProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if now.Sub(r.swept) >= r.conf.CacheTTL {
		for key, cached := range r.cache {
			if now.After(cached.expires) {
				delete(r.cache, key)
			}
		}
		r.swept = now
	}
	entry.expires = now.Add(r.conf.CacheTTL)
	r.cache[id] = entry
}

func (r *Resolver) forget(id string) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
}

func (r *Resolver) fetchCounts(ctx context.Context, profile *domain.RemoteProfile) {
	var g errgroup.Group
	g.Go(func() error {
		profile.FollowersCount = r.collectionSize(ctx, profile.FollowersUrl)
		return nil
	})
	g.Go(func() error {
		profile.FollowingCount = r.collectionSize(ctx, profile.FollowingUrl)
		return nil
	})
	g.Go(func() error {
		profile.StatusesCount = r.collectionSize(ctx, profile.Outbox)
		return nil
	})
	_ = g.Wait()
}

// collectionSize degrades to 0 on any failure.
func (r *Resolver) collectionSize(ctx context.Context, collection string) int {
	if collection == "" {
		return 0
	}
	res := r.fetcher.Get(ctx, collection, acceptActivity, r.conf.FetchTimeout)
	r.metrics.ObserveFetch("collection", res.Outcome.String())
	if !res.Success() {
		return 0
	}
	doc, err := DecodeDocument(res.Body)
	if err != nil {
		return 0
	}
	return doc.Int("totalItems")
}

// profileFromDocument also accepts a bare key document, which some servers
// return when the key id is dereferenced.
func profileFromDocument(doc Document) *domain.RemoteProfile {
	if pem := doc.String("publicKeyPem"); pem != "" && doc.String("owner") != "" {
		owner := doc.String("owner")
		return &domain.RemoteProfile{Id: owner, Domain: domain.DomainOf(owner), PublicKey: pem}
	}

	id := doc.String("id")
	if id == "" || doc.String("inbox") == "" {
		return nil
	}

	profile := &domain.RemoteProfile{
		Id:           id,
		Username:     doc.String("preferredUsername"),
		Domain:       domain.DomainOf(id),
		Name:         doc.String("name"),
		Summary:      doc.String("summary"),
		Url:          doc.Id("url"),
		Inbox:        doc.String("inbox"),
		Outbox:       doc.String("outbox"),
		FollowersUrl: doc.Id("followers"),
		FollowingUrl: doc.Id("following"),
		CreatedAt:    doc.Time("published"),
	}
	if icon, ok := doc.Object("icon"); ok {
		profile.IconUrl = icon.Id("url")
	} else {
		profile.IconUrl = doc.String("icon")
	}
	if endpoints, ok := doc.Object("endpoints"); ok {
		profile.SharedInbox = endpoints.String("sharedInbox")
	}
	if key, ok := doc.Object("publicKey"); ok {
		profile.PublicKey = key.String("publicKeyPem")
	}
	return profile
}
