package docstore

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
)

func cloneStatus(st domain.Status) domain.Status {
	st.To = slices.Clone(st.To)
	st.Cc = slices.Clone(st.Cc)
	st.Choices = slices.Clone(st.Choices)
	st.MediaIds = slices.Clone(st.MediaIds)
	st.Attachments = slices.Clone(st.Attachments)
	return st
}

// newestFirst orders by created_at then id, both descending.
func newestFirst(a, b domain.Status) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(b.Id, a.Id)
}

func (s *Store) CreateStatus(_ context.Context, status *domain.Status) (bool, error) {
	stored := cloneStatus(*status)
	stored.CreatedAt = millis(stored.CreatedAt)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.statuses[stored.Id]; exists {
		return false, nil
	}
	s.statuses[stored.Id] = stored
	s.dirty = true
	return true, nil
}

func (s *Store) GetStatus(_ context.Context, id string) (*domain.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	status = cloneStatus(status)
	return &status, nil
}

func (s *Store) GetStatuses(_ context.Context, actorId string, limit, offset int) ([]domain.Status, error) {
	s.mu.RLock()
	var statuses []domain.Status
	for _, status := range s.statuses {
		if status.ActorId == actorId {
			statuses = append(statuses, cloneStatus(status))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(statuses, newestFirst)
	return page(statuses, storage.PageSize(limit), max(offset, 0)), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	return items[:min(limit, len(items))]
}

func (s *Store) CountStatus(_ context.Context, actorId string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, status := range s.statuses {
		if status.ActorId == actorId {
			count++
		}
	}
	return count, nil
}

func (s *Store) GetAnnounce(_ context.Context, actorId, originalStatusId string) (*domain.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found []domain.Status
	for _, status := range s.statuses {
		if status.IsAnnounce() && status.ActorId == actorId && status.OriginalStatusId == originalStatusId {
			found = append(found, status)
		}
	}
	if len(found) == 0 {
		return nil, storage.ErrNotFound
	}
	first := cloneStatus(slices.MinFunc(found, func(a, b domain.Status) int { return cmp.Compare(a.Id, b.Id) }))
	return &first, nil
}

// DeleteStatus also removes announces of the status.
func (s *Store) DeleteStatus(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := map[string]bool{id: true}
	for _, status := range s.statuses {
		if status.OriginalStatusId == id {
			removed[status.Id] = true
		}
	}
	for key := range s.timelines {
		if removed[key.statusId] {
			delete(s.timelines, key)
		}
	}
	for key := range s.likes {
		if key.statusId == id {
			delete(s.likes, key)
		}
	}
	for statusId := range removed {
		if _, ok := s.statuses[statusId]; ok {
			delete(s.statuses, statusId)
			s.dirty = true
		}
	}
	return nil
}
