package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
	"github.com/google/uuid"
)

const (
	sqlInsertLike      = `INSERT INTO likes(actor_id, status_id, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`
	sqlDeleteLike      = `DELETE FROM likes WHERE actor_id = ? AND status_id = ?`
	sqlCountLikes      = `SELECT COUNT(*) FROM likes WHERE status_id = ?`
	sqlCountActorLikes = `SELECT COUNT(*) FROM likes WHERE actor_id = ? AND status_id = ?`

	sqlInsertMedia = `INSERT INTO medias(id, actor_id, original_path, original_bytes, original_mime, original_width,
		original_height, thumbnail_path, thumbnail_bytes, thumbnail_mime, thumbnail_width, thumbnail_height,
		description, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectMedia = `SELECT id, actor_id, original_path, original_bytes, original_mime, original_width,
		original_height, thumbnail_path, thumbnail_bytes, thumbnail_mime, thumbnail_width, thumbnail_height,
		description, created_at FROM medias WHERE id = ?`
)

func (db *DB) CreateLike(ctx context.Context, actorId, statusId string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertLike, actorId, statusId, storage.ToMillis(time.Now()))
		return err
	})
}

func (db *DB) DeleteLike(ctx context.Context, actorId, statusId string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlDeleteLike, actorId, statusId)
		return err
	})
}

func (db *DB) GetLikeCount(ctx context.Context, statusId string) (int, error) {
	return db.count(ctx, sqlCountLikes, statusId)
}

func (db *DB) IsActorLikedStatus(ctx context.Context, actorId, statusId string) (bool, error) {
	count, err := db.count(ctx, sqlCountActorLikes, actorId, statusId)
	return count > 0, err
}

func (db *DB) CreateMedia(ctx context.Context, media *domain.Media) error {
	var (
		thumbPath, thumbMime                sql.NullString
		thumbBytes, thumbWidth, thumbHeight sql.NullInt64
	)
	if t := media.Thumbnail; t != nil {
		thumbPath = sql.NullString{String: t.Path, Valid: true}
		thumbMime = sql.NullString{String: t.MimeType, Valid: true}
		thumbBytes = sql.NullInt64{Int64: t.Bytes, Valid: true}
		thumbWidth = sql.NullInt64{Int64: int64(t.Width), Valid: true}
		thumbHeight = sql.NullInt64{Int64: int64(t.Height), Valid: true}
	}

	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertMedia,
			media.Id.String(), media.ActorId, media.Original.Path, media.Original.Bytes, media.Original.MimeType,
			media.Original.Width, media.Original.Height, thumbPath, thumbBytes, thumbMime, thumbWidth, thumbHeight,
			media.Description, storage.ToMillis(media.CreatedAt))
		return err
	})
}

func (db *DB) GetMedia(ctx context.Context, id uuid.UUID) (*domain.Media, error) {
	var (
		media                               domain.Media
		mediaId                             string
		thumbPath, thumbMime                sql.NullString
		thumbBytes, thumbWidth, thumbHeight sql.NullInt64
		createdAt                           int64
	)
	err := db.db.QueryRowContext(ctx, sqlSelectMedia, id.String()).Scan(
		&mediaId, &media.ActorId, &media.Original.Path, &media.Original.Bytes, &media.Original.MimeType,
		&media.Original.Width, &media.Original.Height, &thumbPath, &thumbBytes, &thumbMime, &thumbWidth,
		&thumbHeight, &media.Description, &createdAt)
	if err != nil {
		return nil, notFound(err)
	}
	media.Id, _ = uuid.Parse(mediaId)
	media.CreatedAt = storage.FromMillis(createdAt)
	if thumbPath.Valid {
		media.Thumbnail = &domain.MediaFile{
			Path:     thumbPath.String,
			Bytes:    thumbBytes.Int64,
			MimeType: thumbMime.String,
			Width:    int(thumbWidth.Int64),
			Height:   int(thumbHeight.Int64),
		}
	}
	return &media, nil
}
