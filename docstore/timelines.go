package docstore

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
)

func (s *Store) CreateTimelineStatus(_ context.Context, entry domain.TimelineEntry) error {
	key := timelineKey{entry.ActorId, entry.StatusId, entry.Timeline}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.timelines[key]; exists {
		return nil
	}
	s.timelines[key] = millis(entry.CreatedAt)
	s.dirty = true
	return nil
}

func (s *Store) HasTimelineStatus(_ context.Context, actorId, statusId string, timeline domain.Timeline) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.timelines[timelineKey{actorId, statusId, timeline}]
	return ok, nil
}

type timelineItem struct {
	entry  timelineKey
	status domain.Status
	at     int64
}

func (s *Store) GetTimeline(_ context.Context, query storage.TimelineQuery) ([]domain.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cursor *timelineItem
	if query.StartAfterStatusId != "" {
		at, ok := s.timelines[timelineKey{query.ActorId, query.StartAfterStatusId, query.Timeline}]
		if !ok {
			return nil, nil
		}
		cursor = &timelineItem{at: storage.ToMillis(at), entry: timelineKey{statusId: query.StartAfterStatusId}}
	}

	var items []timelineItem
	for key, at := range s.timelines {
		if key.actorId != query.ActorId || key.timeline != query.Timeline {
			continue
		}
		status, ok := s.statuses[key.statusId]
		if !ok {
			continue
		}
		item := timelineItem{entry: key, status: status, at: storage.ToMillis(at)}
		if cursor != nil && !olderThan(item, *cursor) {
			continue
		}
		items = append(items, item)
	}

	slices.SortFunc(items, func(a, b timelineItem) int {
		if c := cmp.Compare(b.at, a.at); c != 0 {
			return c
		}
		return strings.Compare(b.entry.statusId, a.entry.statusId)
	})

	items = page(items, storage.PageSize(query.Limit), 0)
	statuses := make([]domain.Status, 0, len(items))
	for _, item := range items {
		statuses = append(statuses, cloneStatus(item.status))
	}
	return statuses, nil
}

func olderThan(item, cursor timelineItem) bool {
	return item.at < cursor.at || (item.at == cursor.at && item.entry.statusId < cursor.entry.statusId)
}

func (s *Store) DeleteTimelineStatusesByAuthor(_ context.Context, actorId, authorId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.timelines {
		if key.actorId != actorId {
			continue
		}
		if status, ok := s.statuses[key.statusId]; ok && status.ActorId == authorId {
			delete(s.timelines, key)
			s.dirty = true
		}
	}
	return nil
}
