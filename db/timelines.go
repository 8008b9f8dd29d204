package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
)

const (
	sqlInsertTimeline = `INSERT INTO timelines(actor_id, status_id, timeline, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING`
	sqlCountTimeline  = `SELECT COUNT(*) FROM timelines WHERE actor_id = ? AND status_id = ? AND timeline = ?`
	sqlSelectCursor   = `SELECT created_at FROM timelines WHERE actor_id = ? AND timeline = ? AND status_id = ?`
	sqlSelectTimeline = `SELECT ` + statusColumns + ` FROM timelines
		INNER JOIN statuses ON statuses.id = timelines.status_id
		WHERE timelines.actor_id = ? AND timelines.timeline = ?
		ORDER BY timelines.created_at DESC, timelines.status_id DESC LIMIT ?`
	sqlSelectTimelineAfter = `SELECT ` + statusColumns + ` FROM timelines
		INNER JOIN statuses ON statuses.id = timelines.status_id
		WHERE timelines.actor_id = ? AND timelines.timeline = ?
		AND (timelines.created_at < ? OR (timelines.created_at = ? AND timelines.status_id < ?))
		ORDER BY timelines.created_at DESC, timelines.status_id DESC LIMIT ?`
	sqlDeleteTimelineByAuthor = `DELETE FROM timelines WHERE actor_id = ?
		AND status_id IN (SELECT id FROM statuses WHERE actor_id = ?)`
)

func (db *DB) CreateTimelineStatus(ctx context.Context, entry domain.TimelineEntry) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertTimeline,
			entry.ActorId, entry.StatusId, string(entry.Timeline), storage.ToMillis(entry.CreatedAt))
		return err
	})
}

func (db *DB) HasTimelineStatus(ctx context.Context, actorId, statusId string, timeline domain.Timeline) (bool, error) {
	count, err := db.count(ctx, sqlCountTimeline, actorId, statusId, string(timeline))
	return count > 0, err
}

func (db *DB) GetTimeline(ctx context.Context, query storage.TimelineQuery) ([]domain.Status, error) {
	limit := storage.PageSize(query.Limit)
	if query.StartAfterStatusId == "" {
		return db.queryStatuses(ctx, sqlSelectTimeline, query.ActorId, string(query.Timeline), limit)
	}

	var cursor int64
	err := db.db.QueryRowContext(ctx, sqlSelectCursor, query.ActorId, string(query.Timeline), query.StartAfterStatusId).
		Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return db.queryStatuses(ctx, sqlSelectTimelineAfter,
		query.ActorId, string(query.Timeline), cursor, cursor, query.StartAfterStatusId, limit)
}

func (db *DB) DeleteTimelineStatusesByAuthor(ctx context.Context, actorId, authorId string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlDeleteTimelineByAuthor, actorId, authorId)
		return err
	})
}
