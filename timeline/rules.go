package timeline

import (
	"context"
	"errors"

	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
)

// Rule decides whether a status belongs on one timeline of a local actor.
type Rule interface {
	Timeline() domain.Timeline
	Include(ctx context.Context, actor *domain.Actor, status *domain.Status) (bool, error)
}

// MainTimelineRule shows an actor their own statuses, what people they
// follow post and boost, and what is addressed to them.
type MainTimelineRule struct {
	store storage.Storage
}

func NewMainTimelineRule(store storage.Storage) *MainTimelineRule {
	return &MainTimelineRule{store: store}
}

func (r *MainTimelineRule) Timeline() domain.Timeline {
	return domain.TimelineMain
}

func (r *MainTimelineRule) Include(ctx context.Context, actor *domain.Actor, status *domain.Status) (bool, error) {
	if status.ActorId == actor.Id {
		return true, nil
	}

	switch {
	case status.IsAnnounce():
		return r.includeAnnounce(ctx, actor, status)
	case status.Visibility == domain.VisibilityDirect:
		return status.IsAddressedTo(actor.Id), nil
	case status.Reply != "":
		return r.includeReply(ctx, actor, status)
	}

	if status.IsAddressedTo(actor.Id) {
		return true, nil
	}
	return r.store.IsCurrentActorFollowing(ctx, actor.Id, status.ActorId)
}

// includeAnnounce skips boosts of the actor's own statuses and of statuses
// already on their timeline.
func (r *MainTimelineRule) includeAnnounce(ctx context.Context, actor *domain.Actor, status *domain.Status) (bool, error) {
	following, err := r.store.IsCurrentActorFollowing(ctx, actor.Id, status.ActorId)
	if err != nil || !following {
		return false, err
	}

	original, err := r.store.GetStatus(ctx, status.OriginalStatusId)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if original.ActorId == actor.Id {
		return false, nil
	}

	seen, err := r.store.HasTimelineStatus(ctx, actor.Id, original.Id, domain.TimelineMain)
	if err != nil {
		return false, err
	}
	return !seen, nil
}

// includeReply shows replies to the actor, and otherwise only replies
// between two people the actor follows.
func (r *MainTimelineRule) includeReply(ctx context.Context, actor *domain.Actor, status *domain.Status) (bool, error) {
	replied, err := r.store.GetStatus(ctx, status.Reply)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		replied = nil
	case err != nil:
		return false, err
	}
	if replied != nil && replied.ActorId == actor.Id {
		return true, nil
	}

	following, err := r.store.IsCurrentActorFollowing(ctx, actor.Id, status.ActorId)
	if err != nil || !following {
		return false, err
	}
	if replied == nil || replied.ActorId == status.ActorId {
		return true, nil
	}
	return r.store.IsCurrentActorFollowing(ctx, actor.Id, replied.ActorId)
}

// NoAnnounceTimelineRule is the main timeline without boosts.
type NoAnnounceTimelineRule struct {
	main *MainTimelineRule
}

func NewNoAnnounceTimelineRule(store storage.Storage) *NoAnnounceTimelineRule {
	return &NoAnnounceTimelineRule{main: NewMainTimelineRule(store)}
}

func (r *NoAnnounceTimelineRule) Timeline() domain.Timeline {
	return domain.TimelineNoAnnounce
}

func (r *NoAnnounceTimelineRule) Include(ctx context.Context, actor *domain.Actor, status *domain.Status) (bool, error) {
	if status.IsAnnounce() {
		return false, nil
	}
	return r.main.Include(ctx, actor, status)
}
