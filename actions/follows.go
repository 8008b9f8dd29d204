package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deemkeen/pubengine/activitypub"
	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
	"github.com/google/uuid"
)

// Follow resolves target, a handle or an actor id, and follows it. Local
// targets are followed immediately, remote ones get a follow request.
func (a *Actions) Follow(ctx context.Context, actor *domain.Actor, target string) (*domain.Follow, error) {
	targetId := target
	if !strings.HasPrefix(target, "https://") && !strings.HasPrefix(target, "http://") {
		id, err := a.resolver.ResolveHandle(ctx, target)
		if err != nil {
			return nil, err
		}
		targetId = id
	}
	if targetId == actor.Id {
		return nil, fmt.Errorf("%w: cannot follow yourself", ErrInvalidInput)
	}

	if existing, err := a.store.GetAcceptedOrRequestedFollow(ctx, actor.Id, targetId); err == nil {
		return existing, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	params := storage.CreateFollowParams{
		ActorId:       actor.Id,
		TargetActorId: targetId,
		Status:        domain.FollowRequested,
		Uri:           activitypub.NewFollowUri(actor),
		Inbox:         actor.Inbox(),
		SharedInbox:   actor.SharedInbox(),
	}

	if _, err := a.store.GetActorFromID(ctx, targetId); err == nil {
		params.Status = domain.FollowAccepted
		return a.store.CreateFollow(ctx, params)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	profile, err := a.resolver.ResolveProfile(ctx, targetId)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("%s: %w", targetId, activitypub.ErrNotResolved)
	}

	follow, err := a.store.CreateFollow(ctx, params)
	if err != nil {
		return nil, err
	}
	if err := a.sender.Send(ctx, actor, profile.Inbox, activitypub.FollowEnvelope(actor, follow.Uri, targetId)); err != nil {
		_ = a.store.UpdateFollowStatus(ctx, follow.Id, domain.FollowRejected)
		return nil, fmt.Errorf("send follow: %w", err)
	}

	a.log.Info("Follow requested", "actor", actor.Id, "target", targetId)
	return follow, nil
}

// Unfollow ends the active follow from actor to targetId and clears what
// it brought onto actor's timelines.
func (a *Actions) Unfollow(ctx context.Context, actor *domain.Actor, targetId string) error {
	follow, err := a.store.GetAcceptedOrRequestedFollow(ctx, actor.Id, targetId)
	if err != nil {
		return err
	}
	if err := a.store.UpdateFollowStatus(ctx, follow.Id, domain.FollowUndo); err != nil {
		return err
	}
	if err := a.store.DeleteTimelineStatusesByAuthor(ctx, actor.Id, targetId); err != nil {
		a.log.Error("Failed to clean timeline", "actor", actor.Id, "author", targetId, "err", err)
	}
	if err := a.send(ctx, actor, targetId, activitypub.UndoFollowEnvelope(actor, follow)); err != nil {
		a.log.Warn("Failed to deliver undo follow", "target", targetId, "err", err)
	}
	return nil
}

// AcceptFollow approves a pending request addressed to actor.
func (a *Actions) AcceptFollow(ctx context.Context, actor *domain.Actor, followId uuid.UUID) error {
	follow, err := a.incomingFollow(ctx, actor, followId)
	if err != nil {
		return err
	}
	if follow.Status != domain.FollowRequested {
		return nil
	}
	if err := a.store.UpdateFollowStatus(ctx, follow.Id, domain.FollowAccepted); err != nil {
		return err
	}
	follow.Status = domain.FollowAccepted
	return a.send(ctx, actor, follow.ActorId, activitypub.AcceptEnvelope(actor, follow))
}

// AnswerFollow accepts the Follow activity followUri sent by followerId to
// the local actor targetId, used when follows are accepted automatically.
// The edge is looked up by the pair, so a Follow re-sent under a new id is
// answered too, and an already accepted edge gets its Accept again.
func (a *Actions) AnswerFollow(ctx context.Context, followerId, targetId, followUri string) error {
	actor, err := a.store.GetActorFromID(ctx, targetId)
	if err != nil {
		return err
	}
	follow, err := a.store.GetAcceptedOrRequestedFollow(ctx, followerId, targetId)
	if err != nil {
		return err
	}
	if follow.Status == domain.FollowRequested {
		if err := a.store.UpdateFollowStatus(ctx, follow.Id, domain.FollowAccepted); err != nil {
			return err
		}
		follow.Status = domain.FollowAccepted
	}

	answered := *follow
	if followUri != "" {
		answered.Uri = followUri
	}
	return a.send(ctx, actor, follow.ActorId, activitypub.AcceptEnvelope(actor, &answered))
}

// RejectFollow refuses a request or removes an existing follower.
func (a *Actions) RejectFollow(ctx context.Context, actor *domain.Actor, followId uuid.UUID) error {
	follow, err := a.incomingFollow(ctx, actor, followId)
	if err != nil {
		return err
	}
	if !follow.Status.IsActive() {
		return nil
	}
	if err := a.store.UpdateFollowStatus(ctx, follow.Id, domain.FollowRejected); err != nil {
		return err
	}
	if err := a.store.DeleteTimelineStatusesByAuthor(ctx, follow.ActorId, actor.Id); err != nil {
		a.log.Error("Failed to clean timeline", "actor", follow.ActorId, "err", err)
	}
	return a.send(ctx, actor, follow.ActorId, activitypub.RejectEnvelope(actor, follow))
}

func (a *Actions) incomingFollow(ctx context.Context, actor *domain.Actor, followId uuid.UUID) (*domain.Follow, error) {
	follow, err := a.store.GetFollowFromID(ctx, followId)
	if err != nil {
		return nil, err
	}
	if follow.TargetActorId != actor.Id {
		return nil, fmt.Errorf("follow %s: %w", followId, storage.ErrNotFound)
	}
	return follow, nil
}
