package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
	"github.com/google/uuid"
)

const (
	sqlInsertDelivery = `INSERT INTO deliveries(id, actor_id, inbox, activity_json, attempts, next_retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectPendingDeliveries = `SELECT id, actor_id, inbox, activity_json, attempts, next_retry_at, created_at
		FROM deliveries WHERE next_retry_at <= ? ORDER BY next_retry_at, created_at LIMIT ?`
	sqlUpdateDeliveryAttempt = `UPDATE deliveries SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery        = `DELETE FROM deliveries WHERE id = ?`
)

func (db *DB) EnqueueDelivery(ctx context.Context, job domain.DeliveryJob) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertDelivery,
			job.Id.String(), job.ActorId, job.Inbox, job.ActivityJSON, job.Attempts,
			storage.ToMillis(job.NextRetryAt), storage.ToMillis(job.CreatedAt))
		return err
	})
}

func (db *DB) GetPendingDeliveries(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryJob, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectPendingDeliveries, storage.ToMillis(now), storage.PageSize(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.DeliveryJob
	for rows.Next() {
		var (
			job                  domain.DeliveryJob
			id                   string
			nextRetry, createdAt int64
		)
		if err := rows.Scan(&id, &job.ActorId, &job.Inbox, &job.ActivityJSON, &job.Attempts, &nextRetry, &createdAt); err != nil {
			return nil, err
		}
		job.Id, _ = uuid.Parse(id)
		job.NextRetryAt = storage.FromMillis(nextRetry)
		job.CreatedAt = storage.FromMillis(createdAt)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (db *DB) UpdateDeliveryAttempt(ctx context.Context, id uuid.UUID, attempts int, nextRetry time.Time) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlUpdateDeliveryAttempt, attempts, storage.ToMillis(nextRetry), id.String())
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("delivery %s: %w", id, storage.ErrNotFound)
		}
		return nil
	})
}

func (db *DB) DeleteDelivery(ctx context.Context, id uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlDeleteDelivery, id.String())
		return err
	})
}
