package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
)

const (
	statusColumns = `statuses.id, statuses.url, statuses.actor_id, statuses.type, statuses.text, statuses.summary,
		statuses.sensitive, statuses.language, statuses.visibility, statuses.recipients_to, statuses.recipients_cc,
		statuses.reply, statuses.conversation, statuses.original_status_id, statuses.choices, statuses.media_ids,
		statuses.attachments, statuses.created_at`

	sqlInsertStatus = `INSERT INTO statuses(id, url, actor_id, type, text, summary, sensitive, language, visibility,
		recipients_to, recipients_cc, reply, conversation, original_status_id, choices, media_ids, attachments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	sqlSelectStatusById = `SELECT ` + statusColumns + ` FROM statuses WHERE statuses.id = ?`
	sqlSelectStatuses   = `SELECT ` + statusColumns + ` FROM statuses WHERE statuses.actor_id = ?
		ORDER BY statuses.created_at DESC, statuses.id DESC LIMIT ? OFFSET ?`
	sqlSelectAnnounce = `SELECT ` + statusColumns + ` FROM statuses
		WHERE statuses.actor_id = ? AND statuses.original_status_id = ? AND statuses.type = 'Announce'`
	sqlCountStatuses = `SELECT COUNT(*) FROM statuses WHERE actor_id = ?`

	sqlDeleteStatusTimelines = `DELETE FROM timelines WHERE status_id = ?
		OR status_id IN (SELECT id FROM statuses WHERE original_status_id = ?)`
	sqlDeleteStatusLikes = `DELETE FROM likes WHERE status_id = ?`
	sqlDeleteStatus      = `DELETE FROM statuses WHERE id = ? OR original_status_id = ?`
)

func (db *DB) CreateStatus(ctx context.Context, status *domain.Status) (bool, error) {
	to, cc, choices, mediaIds, attachments, err := encodeStatusLists(status)
	if err != nil {
		return false, err
	}

	var created bool
	err = db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertStatus,
			status.Id, status.Url, status.ActorId, string(status.Type), status.Text, status.Summary,
			status.Sensitive, status.Language, string(status.Visibility), to, cc, status.Reply,
			status.Conversation, status.OriginalStatusId, choices, mediaIds, attachments,
			storage.ToMillis(status.CreatedAt))
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		created = affected > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("create status %s: %w", status.Id, err)
	}
	return created, nil
}

func (db *DB) GetStatus(ctx context.Context, id string) (*domain.Status, error) {
	return scanStatus(db.db.QueryRowContext(ctx, sqlSelectStatusById, id))
}

func (db *DB) GetStatuses(ctx context.Context, actorId string, limit, offset int) ([]domain.Status, error) {
	return db.queryStatuses(ctx, sqlSelectStatuses, actorId, storage.PageSize(limit), max(offset, 0))
}

func (db *DB) CountStatus(ctx context.Context, actorId string) (int, error) {
	var count int
	err := db.db.QueryRowContext(ctx, sqlCountStatuses, actorId).Scan(&count)
	return count, err
}

func (db *DB) GetAnnounce(ctx context.Context, actorId, originalStatusId string) (*domain.Status, error) {
	return scanStatus(db.db.QueryRowContext(ctx, sqlSelectAnnounce, actorId, originalStatusId))
}

// DeleteStatus also removes announces of the status.
func (db *DB) DeleteStatus(ctx context.Context, id string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlDeleteStatusTimelines, id, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, sqlDeleteStatusLikes, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, sqlDeleteStatus, id, id)
		return err
	})
}

func (db *DB) queryStatuses(ctx context.Context, query string, args ...any) ([]domain.Status, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []domain.Status
	for rows.Next() {
		status, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, *status)
	}
	return statuses, rows.Err()
}

func encodeStatusLists(s *domain.Status) (to, cc, choices, mediaIds, attachments string, err error) {
	encode := func(v any) string {
		if err != nil {
			return ""
		}
		var b []byte
		b, err = json.Marshal(v)
		return string(b)
	}
	to = encode(s.To)
	cc = encode(s.Cc)
	choices = encode(s.Choices)
	mediaIds = encode(s.MediaIds)
	attachments = encode(s.Attachments)
	return
}

func scanStatus(row scanner) (*domain.Status, error) {
	var (
		status                                 domain.Status
		statusType, visibility                 string
		to, cc, choices, mediaIds, attachments string
		createdAt                              int64
	)
	err := row.Scan(&status.Id, &status.Url, &status.ActorId, &statusType, &status.Text, &status.Summary,
		&status.Sensitive, &status.Language, &visibility, &to, &cc, &status.Reply, &status.Conversation,
		&status.OriginalStatusId, &choices, &mediaIds, &attachments, &createdAt)
	if err != nil {
		return nil, notFound(err)
	}
	status.Type = domain.StatusType(statusType)
	status.Visibility = domain.Visibility(visibility)
	status.CreatedAt = storage.FromMillis(createdAt)

	for _, field := range []struct {
		raw  string
		dest any
	}{
		{to, &status.To},
		{cc, &status.Cc},
		{choices, &status.Choices},
		{mediaIds, &status.MediaIds},
		{attachments, &status.Attachments},
	} {
		if err := json.Unmarshal([]byte(field.raw), field.dest); err != nil {
			return nil, fmt.Errorf("decode status %s: %w", status.Id, err)
		}
	}
	return &status, nil
}
