package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/pubengine/activitypub"
	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
	"github.com/google/uuid"
)

func (a *Actions) Like(ctx context.Context, actor *domain.Actor, statusId string) error {
	status, err := a.store.GetStatus(ctx, statusId)
	if err != nil {
		return err
	}
	liked, err := a.store.IsActorLikedStatus(ctx, actor.Id, status.Id)
	if err != nil || liked {
		return err
	}
	if err := a.store.CreateLike(ctx, actor.Id, status.Id); err != nil {
		return err
	}
	return a.send(ctx, actor, status.ActorId, activitypub.LikeEnvelope(actor, status))
}

func (a *Actions) UndoLike(ctx context.Context, actor *domain.Actor, statusId string) error {
	status, err := a.store.GetStatus(ctx, statusId)
	if err != nil {
		return err
	}
	liked, err := a.store.IsActorLikedStatus(ctx, actor.Id, status.Id)
	if err != nil || !liked {
		return err
	}
	if err := a.store.DeleteLike(ctx, actor.Id, status.Id); err != nil {
		return err
	}
	return a.send(ctx, actor, status.ActorId, activitypub.UndoLikeEnvelope(actor, status))
}

// Announce boosts statusId. Boosting a boost boosts its original, boosting
// twice returns the first announce.
func (a *Actions) Announce(ctx context.Context, actor *domain.Actor, statusId string) (*domain.Status, error) {
	original, err := a.store.GetStatus(ctx, statusId)
	if err != nil {
		return nil, err
	}
	if original.IsAnnounce() {
		if original, err = a.store.GetStatus(ctx, original.OriginalStatusId); err != nil {
			return nil, err
		}
	}
	if original.Visibility == domain.VisibilityPrivate || original.Visibility == domain.VisibilityDirect {
		return nil, fmt.Errorf("%w: only public statuses can be boosted", ErrInvalidInput)
	}

	if existing, err := a.store.GetAnnounce(ctx, actor.Id, original.Id); err == nil {
		return existing, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	postId := uuid.New().String()
	announce := &domain.Status{
		Id:               actor.StatusId(postId),
		Url:              actor.StatusUrl(postId),
		ActorId:          actor.Id,
		Type:             domain.StatusAnnounce,
		OriginalStatusId: original.Id,
		Visibility:       domain.VisibilityPublic,
		To:               []string{domain.ActivityStreamsPublic},
		Cc:               []string{actor.Followers(), original.ActorId},
		CreatedAt:        time.Now().UTC(),
	}
	if _, err := a.store.CreateStatus(ctx, announce); err != nil {
		return nil, fmt.Errorf("store announce: %w", err)
	}
	if err := a.timelines.FanOut(ctx, announce); err != nil {
		a.log.Error("Fan-out failed", "status", announce.Id, "err", err)
	}

	a.broadcast(ctx, actor, activitypub.AnnounceEnvelope(actor, announce), original.ActorId)
	return announce, nil
}

// UndoAnnounce removes actor's boost of statusId.
func (a *Actions) UndoAnnounce(ctx context.Context, actor *domain.Actor, statusId string) error {
	announce, err := a.store.GetAnnounce(ctx, actor.Id, statusId)
	if err != nil {
		return err
	}
	return a.DeleteStatus(ctx, actor, announce.Id)
}

func (a *Actions) originalAuthor(ctx context.Context, announce *domain.Status) string {
	original, err := a.store.GetStatus(ctx, announce.OriginalStatusId)
	if err != nil {
		return ""
	}
	return original.ActorId
}
