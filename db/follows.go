package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
	"github.com/google/uuid"
)

const (
	followColumns = `id, actor_id, target_actor_id, status, uri, inbox, shared_inbox, created_at, updated_at`

	sqlInsertFollow = `INSERT INTO follows(` + followColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectFollowById     = `SELECT ` + followColumns + ` FROM follows WHERE id = ?`
	sqlSelectFollowByUri    = `SELECT ` + followColumns + ` FROM follows WHERE uri = ? ORDER BY created_at DESC LIMIT 1`
	sqlSelectActiveFollow   = `SELECT ` + followColumns + ` FROM follows WHERE actor_id = ? AND target_actor_id = ? AND status IN ('Requested', 'Accepted')`
	sqlSelectFollowers      = `SELECT ` + followColumns + ` FROM follows WHERE target_actor_id = ? AND status = ? ORDER BY created_at`
	sqlSelectFollowing      = `SELECT ` + followColumns + ` FROM follows WHERE actor_id = ? AND status = ? ORDER BY created_at`
	sqlUpdateFollowStatus   = `UPDATE follows SET status = ?, updated_at = ? WHERE id = ?`
	sqlCountFollowers       = `SELECT COUNT(*) FROM follows WHERE target_actor_id = ? AND status = 'Accepted'`
	sqlCountFollowing       = `SELECT COUNT(*) FROM follows WHERE actor_id = ? AND status = 'Accepted'`
	sqlCountAcceptedFollow  = `SELECT COUNT(*) FROM follows WHERE actor_id = ? AND target_actor_id = ? AND status = 'Accepted'`
	sqlSelectFollowersInbox = `SELECT DISTINCT CASE WHEN shared_inbox != '' THEN shared_inbox ELSE inbox END AS delivery
		FROM follows WHERE target_actor_id = ? AND status = 'Accepted' AND (shared_inbox != '' OR inbox != '')
		ORDER BY delivery`
	sqlSelectLocalFollowers = `SELECT ` + actorColumns + ` FROM follows
		INNER JOIN actors ON actors.id = follows.actor_id
		WHERE follows.target_actor_id = ? AND follows.status = 'Accepted'
		ORDER BY actors.username`
)

func (db *DB) CreateFollow(ctx context.Context, params storage.CreateFollowParams) (*domain.Follow, error) {
	now := time.Now().UTC()
	follow := &domain.Follow{
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
	if !follow.Status.Valid() {
		return nil, fmt.Errorf("create follow: invalid status %q", follow.Status)
	}

	var existing *domain.Follow
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		existing = nil
		found, err := scanFollow(tx.QueryRowContext(ctx, sqlSelectActiveFollow, params.ActorId, params.TargetActorId))
		if err == nil {
			existing = found
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		_, err = tx.ExecContext(ctx, sqlInsertFollow,
			follow.Id.String(), follow.ActorId, follow.TargetActorId, string(follow.Status), follow.Uri,
			follow.Inbox, follow.SharedInbox, storage.ToMillis(now), storage.ToMillis(now))
		return err
	})
	if isConstraint(err) {
		// lost a race against a concurrent insert of the same edge
		return db.GetAcceptedOrRequestedFollow(ctx, params.ActorId, params.TargetActorId)
	}
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return follow, nil
}

func (db *DB) GetFollowFromID(ctx context.Context, id uuid.UUID) (*domain.Follow, error) {
	return scanFollow(db.db.QueryRowContext(ctx, sqlSelectFollowById, id.String()))
}

func (db *DB) GetFollowFromURI(ctx context.Context, uri string) (*domain.Follow, error) {
	return scanFollow(db.db.QueryRowContext(ctx, sqlSelectFollowByUri, uri))
}

func (db *DB) GetAcceptedOrRequestedFollow(ctx context.Context, actorId, targetActorId string) (*domain.Follow, error) {
	return scanFollow(db.db.QueryRowContext(ctx, sqlSelectActiveFollow, actorId, targetActorId))
}

func (db *DB) UpdateFollowStatus(ctx context.Context, id uuid.UUID, status domain.FollowStatus) error {
	if !status.Valid() {
		return fmt.Errorf("update follow: invalid status %q", status)
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlUpdateFollowStatus, string(status), storage.ToMillis(time.Now()), id.String())
		if isConstraint(err) {
			return fmt.Errorf("follow %s: %w", id, storage.ErrConflict)
		}
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("follow %s: %w", id, storage.ErrNotFound)
		}
		return nil
	})
}

func (db *DB) GetFollowers(ctx context.Context, targetActorId string, status domain.FollowStatus) ([]domain.Follow, error) {
	return db.queryFollows(ctx, sqlSelectFollowers, targetActorId, string(status))
}

func (db *DB) GetFollowing(ctx context.Context, actorId string, status domain.FollowStatus) ([]domain.Follow, error) {
	return db.queryFollows(ctx, sqlSelectFollowing, actorId, string(status))
}

func (db *DB) GetFollowersCount(ctx context.Context, targetActorId string) (int, error) {
	return db.count(ctx, sqlCountFollowers, targetActorId)
}

func (db *DB) GetFollowingCount(ctx context.Context, actorId string) (int, error) {
	return db.count(ctx, sqlCountFollowing, actorId)
}

func (db *DB) IsCurrentActorFollowing(ctx context.Context, actorId, targetActorId string) (bool, error) {
	count, err := db.count(ctx, sqlCountAcceptedFollow, actorId, targetActorId)
	return count > 0, err
}

func (db *DB) GetFollowersInbox(ctx context.Context, targetActorId string) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectFollowersInbox, targetActorId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inboxes []string
	for rows.Next() {
		var inbox string
		if err := rows.Scan(&inbox); err != nil {
			return nil, err
		}
		inboxes = append(inboxes, inbox)
	}
	return inboxes, rows.Err()
}

func (db *DB) GetLocalFollowersForActorID(ctx context.Context, targetActorId string) ([]domain.Actor, error) {
	return db.queryActors(ctx, sqlSelectLocalFollowers, targetActorId)
}

func (db *DB) GetLocalActorsFromFollowerURL(ctx context.Context, followerUrl string) ([]domain.Actor, error) {
	owner, ok := domain.FollowersOwner(followerUrl)
	if !ok {
		return nil, nil
	}
	return db.GetLocalFollowersForActorID(ctx, owner)
}

func (db *DB) queryFollows(ctx context.Context, query string, args ...any) ([]domain.Follow, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var follows []domain.Follow
	for rows.Next() {
		follow, err := scanFollow(rows)
		if err != nil {
			return nil, err
		}
		follows = append(follows, *follow)
	}
	return follows, rows.Err()
}

func (db *DB) count(ctx context.Context, query string, args ...any) (int, error) {
	var count int
	err := db.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

func scanFollow(row scanner) (*domain.Follow, error) {
	var (
		follow               domain.Follow
		id, status           string
		createdAt, updatedAt int64
	)
	err := row.Scan(&id, &follow.ActorId, &follow.TargetActorId, &status, &follow.Uri, &follow.Inbox,
		&follow.SharedInbox, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	follow.Id, _ = uuid.Parse(id)
	follow.Status = domain.FollowStatus(status)
	follow.CreatedAt = storage.FromMillis(createdAt)
	follow.UpdatedAt = storage.FromMillis(updatedAt)
	return &follow, nil
}
