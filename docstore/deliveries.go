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

func (s *Store) EnqueueDelivery(_ context.Context, job domain.DeliveryJob) error {
	job.NextRetryAt = millis(job.NextRetryAt)
	job.CreatedAt = millis(job.CreatedAt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.deliveries[job.Id]; exists {
		return fmt.Errorf("delivery %s: %w", job.Id, storage.ErrConflict)
	}
	s.deliveries[job.Id] = job
	s.dirty = true
	return nil
}

func (s *Store) GetPendingDeliveries(_ context.Context, now time.Time, limit int) ([]domain.DeliveryJob, error) {
	s.mu.RLock()
	var jobs []domain.DeliveryJob
	for _, job := range s.deliveries {
		if !job.NextRetryAt.After(now) {
			jobs = append(jobs, job)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(jobs, func(a, b domain.DeliveryJob) int {
		if c := a.NextRetryAt.Compare(b.NextRetryAt); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return page(jobs, storage.PageSize(limit), 0), nil
}

func (s *Store) UpdateDeliveryAttempt(_ context.Context, id uuid.UUID, attempts int, nextRetry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.deliveries[id]
	if !ok {
		return fmt.Errorf("delivery %s: %w", id, storage.ErrNotFound)
	}
	job.Attempts = attempts
	job.NextRetryAt = millis(nextRetry)
	s.deliveries[id] = job
	s.dirty = true
	return nil
}

func (s *Store) DeleteDelivery(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[id]; ok {
		delete(s.deliveries, id)
		s.dirty = true
	}
	return nil
}
