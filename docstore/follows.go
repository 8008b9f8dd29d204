package docstore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
	"github.com/google/uuid"
)

func (s *Store) activeFollowLocked(actorId, targetActorId string) (domain.Follow, bool) {
	for _, follow := range s.follows {
		if follow.ActorId == actorId && follow.TargetActorId == targetActorId && follow.Status.IsActive() {
			return follow, true
		}
	}
	return domain.Follow{}, false
}

func (s *Store) CreateFollow(_ context.Context, params storage.CreateFollowParams) (*domain.Follow, error) {
	if !params.Status.Valid() {
		return nil, fmt.Errorf("create follow: invalid status %q", params.Status)
	}
	now := millis(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.activeFollowLocked(params.ActorId, params.TargetActorId); ok {
		return &existing, nil
	}

	follow := domain.Follow{
		Id:            uuid.New(),
		ActorId:       params.ActorId,
		TargetActorId: params.TargetActorId,
		Status:        params.Status,
		Uri:           params.Uri,
		Inbox:         params.Inbox,
		SharedInbox:   params.SharedInbox,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.follows[follow.Id] = follow
	s.dirty = true
	return &follow, nil
}

func (s *Store) GetFollowFromID(_ context.Context, id uuid.UUID) (*domain.Follow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	follow, ok := s.follows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &follow, nil
}

func (s *Store) GetFollowFromURI(_ context.Context, uri string) (*domain.Follow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest domain.Follow
		found  bool
	)
	for _, follow := range s.follows {
		if follow.Uri == uri && (!found || follow.CreatedAt.After(latest.CreatedAt)) {
			latest, found = follow, true
		}
	}
	if !found {
		return nil, storage.ErrNotFound
	}
	return &latest, nil
}

func (s *Store) GetAcceptedOrRequestedFollow(_ context.Context, actorId, targetActorId string) (*domain.Follow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	follow, ok := s.activeFollowLocked(actorId, targetActorId)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &follow, nil
}

func (s *Store) UpdateFollowStatus(_ context.Context, id uuid.UUID, status domain.FollowStatus) error {
	if !status.Valid() {
		return fmt.Errorf("update follow: invalid status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	follow, ok := s.follows[id]
	if !ok {
		return fmt.Errorf("follow %s: %w", id, storage.ErrNotFound)
	}
	if status.IsActive() {
		if other, ok := s.activeFollowLocked(follow.ActorId, follow.TargetActorId); ok && other.Id != id {
			return fmt.Errorf("follow %s: %w", id, storage.ErrConflict)
		}
	}
	follow.Status = status
	follow.UpdatedAt = millis(time.Now())
	s.follows[id] = follow
	s.dirty = true
	return nil
}

func (s *Store) filterFollows(match func(domain.Follow) bool) []domain.Follow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var follows []domain.Follow
	for _, follow := range s.follows {
		if match(follow) {
			follows = append(follows, follow)
		}
	}
	slices.SortFunc(follows, func(a, b domain.Follow) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return follows
}

func (s *Store) GetFollowers(_ context.Context, targetActorId string, status domain.FollowStatus) ([]domain.Follow, error) {
	return s.filterFollows(func(f domain.Follow) bool {
		return f.TargetActorId == targetActorId && f.Status == status
	}), nil
}

func (s *Store) GetFollowing(_ context.Context, actorId string, status domain.FollowStatus) ([]domain.Follow, error) {
	return s.filterFollows(func(f domain.Follow) bool {
		return f.ActorId == actorId && f.Status == status
	}), nil
}

func (s *Store) GetFollowersCount(ctx context.Context, targetActorId string) (int, error) {
	followers, err := s.GetFollowers(ctx, targetActorId, domain.FollowAccepted)
	return len(followers), err
}

func (s *Store) GetFollowingCount(ctx context.Context, actorId string) (int, error) {
	following, err := s.GetFollowing(ctx, actorId, domain.FollowAccepted)
	return len(following), err
}

func (s *Store) IsCurrentActorFollowing(_ context.Context, actorId, targetActorId string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	follow, ok := s.activeFollowLocked(actorId, targetActorId)
	return ok && follow.Status == domain.FollowAccepted, nil
}

func (s *Store) GetFollowersInbox(ctx context.Context, targetActorId string) ([]string, error) {
	followers, err := s.GetFollowers(ctx, targetActorId, domain.FollowAccepted)
	if err != nil {
		return nil, err
	}
	var inboxes []string
	for _, follow := range followers {
		if inbox := follow.DeliveryInbox(); inbox != "" {
			inboxes = append(inboxes, inbox)
		}
	}
	slices.Sort(inboxes)
	return slices.Compact(inboxes), nil
}

func (s *Store) GetLocalFollowersForActorID(ctx context.Context, targetActorId string) ([]domain.Actor, error) {
	followers, err := s.GetFollowers(ctx, targetActorId, domain.FollowAccepted)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var actors []domain.Actor
	for _, follow := range followers {
		if actor, ok := s.actors[follow.ActorId]; ok {
			actors = append(actors, actor)
		}
	}
	sortActors(actors)
	return actors, nil
}

func (s *Store) GetLocalActorsFromFollowerURL(ctx context.Context, followerUrl string) ([]domain.Actor, error) {
	owner, ok := domain.FollowersOwner(followerUrl)
	if !ok {
		return nil, nil
	}
	return s.GetLocalFollowersForActorID(ctx, owner)
}
