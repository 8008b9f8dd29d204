package activitypub

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
)

type ProfileResolver interface {
	ResolveProfile(ctx context.Context, id string, opts ...ResolveOption) (*domain.RemoteProfile, error)
}

// StoreKeyResolver finds the public key behind a keyId: local actors first,
// then the remote profile, then the instance actor of the key's host when
// the profile is gone.
type StoreKeyResolver struct {
	store    storage.Storage
	profiles ProfileResolver
	log      *log.Logger
}

func NewKeyResolver(store storage.Storage, profiles ProfileResolver, logger *log.Logger) *StoreKeyResolver {
	return &StoreKeyResolver{store: store, profiles: profiles, log: logger}
}

// ResolveKey returns "" when no key could be found.
func (k *StoreKeyResolver) ResolveKey(ctx context.Context, keyId string) string {
	return k.resolve(ctx, keyId)
}

// RefreshKey is ResolveKey past the profile cache, for keys that may have
// been rotated.
func (k *StoreKeyResolver) RefreshKey(ctx context.Context, keyId string) string {
	return k.resolve(ctx, keyId, WithoutCache())
}

func (k *StoreKeyResolver) resolve(ctx context.Context, keyId string, opts ...ResolveOption) string {
	actorId, _, _ := strings.Cut(keyId, "#")
	if actorId == "" {
		return ""
	}

	actor, err := k.store.GetActorFromID(ctx, actorId)
	if err == nil {
		return actor.PublicKey
	}
	if !errors.Is(err, storage.ErrNotFound) {
		k.log.Error("Key lookup failed", "keyId", keyId, "err", err)
		return ""
	}

	profile, err := k.profiles.ResolveProfile(ctx, actorId, opts...)
	if errors.Is(err, ErrGone) {
		fallback := instanceActor(actorId)
		if fallback == "" || fallback == actorId {
			return ""
		}
		k.log.Debug("Key owner gone, trying instance actor", "keyId", keyId, "fallback", fallback)
		profile, err = k.profiles.ResolveProfile(ctx, fallback, opts...)
	}
	if err != nil || profile == nil {
		return ""
	}
	return profile.PublicKey
}

// instanceActor is the <scheme>://<host>/actor convention.
func instanceActor(id string) string {
	u, err := url.Parse(id)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/actor"
}
