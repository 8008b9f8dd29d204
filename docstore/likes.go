package docstore

import (
	"context"
	"time"

	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
	"github.com/google/uuid"
)

func (s *Store) CreateLike(_ context.Context, actorId, statusId string) error {
	key := likeKey{actorId, statusId}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.likes[key]; !exists {
		s.likes[key] = millis(time.Now())
		s.dirty = true
	}
	return nil
}

func (s *Store) DeleteLike(_ context.Context, actorId, statusId string) error {
	key := likeKey{actorId, statusId}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.likes[key]; exists {
		delete(s.likes, key)
		s.dirty = true
	}
	return nil
}

func (s *Store) GetLikeCount(_ context.Context, statusId string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for key := range s.likes {
		if key.statusId == statusId {
			count++
		}
	}
	return count, nil
}

func (s *Store) IsActorLikedStatus(_ context.Context, actorId, statusId string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.likes[likeKey{actorId, statusId}]
	return ok, nil
}

func cloneMedia(m domain.Media) domain.Media {
	if m.Thumbnail != nil {
		thumb := *m.Thumbnail
		m.Thumbnail = &thumb
	}
	return m
}

func (s *Store) CreateMedia(_ context.Context, media *domain.Media) error {
	stored := cloneMedia(*media)
	stored.CreatedAt = millis(stored.CreatedAt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.medias[stored.Id]; exists {
		return storage.ErrConflict
	}
	s.medias[stored.Id] = stored
	s.dirty = true
	return nil
}

func (s *Store) GetMedia(_ context.Context, id uuid.UUID) (*domain.Media, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	media, ok := s.medias[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	media = cloneMedia(media)
	return &media, nil
}
