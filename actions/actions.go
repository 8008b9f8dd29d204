// Package actions implements what a local account does: posting, following
// and reacting. Every action updates storage first and federates after.
package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubengine/activitypub"
	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/media"
	"github.com/deemkeen/pubengine/storage"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type Resolver interface {
	ResolveHandle(ctx context.Context, handle string) (string, error)
	ResolveProfile(ctx context.Context, id string, opts ...activitypub.ResolveOption) (*domain.RemoteProfile, error)
}

type Sender interface {
	Send(ctx context.Context, actor *domain.Actor, inbox string, activity map[string]any) error
}

type Broadcaster interface {
	Broadcast(ctx context.Context, actor *domain.Actor, inboxes []string, activity map[string]any) (int, error)
}

type Config struct {
	Domain  string
	KeyBits int
}

type Actions struct {
	conf        Config
	store       storage.Storage
	resolver    Resolver
	sender      Sender
	broadcaster Broadcaster
	timelines   activitypub.FanOut
	media       *media.Store
	log         *log.Logger
}

type Deps struct {
	Store       storage.Storage
	Resolver    Resolver
	Sender      Sender
	Broadcaster Broadcaster
	Timelines   activitypub.FanOut
	Media       *media.Store
	Logger      *log.Logger
}

func New(conf Config, d Deps) *Actions {
	return &Actions{
		conf:        conf,
		store:       d.Store,
		resolver:    d.Resolver,
		sender:      d.Sender,
		broadcaster: d.Broadcaster,
		timelines:   d.Timelines,
		media:       d.Media,
		log:         d.Logger,
	}
}

// remoteInbox returns the delivery inbox of actorId, or "" for local actors.
func (a *Actions) remoteInbox(ctx context.Context, actorId string) (string, error) {
	if _, err := a.store.GetActorFromID(ctx, actorId); err == nil {
		return "", nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	profile, err := a.resolver.ResolveProfile(ctx, actorId)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", actorId, err)
	}
	if profile == nil {
		return "", fmt.Errorf("resolve %s: %w", actorId, activitypub.ErrNotResolved)
	}
	return profile.DeliveryInbox(), nil
}

// send delivers activity to a single remote actor and does nothing for
// local ones.
func (a *Actions) send(ctx context.Context, actor *domain.Actor, to string, activity map[string]any) error {
	inbox, err := a.remoteInbox(ctx, to)
	if err != nil || inbox == "" {
		return err
	}
	return a.sender.Send(ctx, actor, inbox, activity)
}

// broadcast sends activity to the followers of actor and to extra remote
// actors. Failures are logged by the broadcaster.
func (a *Actions) broadcast(ctx context.Context, actor *domain.Actor, activity map[string]any, extra ...string) {
	followers, err := a.store.GetFollowersInbox(ctx, actor.Id)
	if err != nil {
		a.log.Error("Failed to load follower inboxes", "actor", actor.Id, "err", err)
		return
	}
	// local followers were served by the fan-out already
	var inboxes []string
	for _, inbox := range followers {
		if domain.DomainOf(inbox) != a.conf.Domain {
			inboxes = append(inboxes, inbox)
		}
	}
	for _, id := range extra {
		if id == "" {
			continue
		}
		inbox, err := a.remoteInbox(ctx, id)
		if err != nil {
			a.log.Warn("Skipping unresolvable recipient", "actor", id, "err", err)
			continue
		}
		if inbox != "" {
			inboxes = append(inboxes, inbox)
		}
	}
	if len(inboxes) == 0 {
		return
	}
	if _, err := a.broadcaster.Broadcast(ctx, actor, inboxes, activity); err != nil {
		a.log.Error("Broadcast failed", "activity", activity["id"], "err", err)
	}
}

func (a *Actions) ownStatus(ctx context.Context, actor *domain.Actor, statusId string) (*domain.Status, error) {
	status, err := a.store.GetStatus(ctx, statusId)
	if err != nil {
		return nil, err
	}
	if status.ActorId != actor.Id {
		return nil, fmt.Errorf("status %s: %w", statusId, storage.ErrNotFound)
	}
	return status, nil
}
