// Package storage defines the persistence contract shared by the relational
// (db) and document (docstore) backends.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/deemkeen/pubengine/domain"
	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

const DefaultPageSize = 30

type CreateAccountParams struct {
	Email        string
	PasswordHash string
	Username     string
	Domain       string
	Name         string
	Summary      string
	IconUrl      string
	PublicKey    string
	PrivateKey   string
}

type CreateFollowParams struct {
	ActorId       string
	TargetActorId string
	Status        domain.FollowStatus
	Uri           string
	Inbox         string
	SharedInbox   string
}

type TimelineQuery struct {
	ActorId            string
	Timeline           domain.Timeline
	StartAfterStatusId string
	Limit              int
}

// Storage is safe for concurrent use. Uniqueness of account email, actor
// username and status id is enforced here, not by callers.
type Storage interface {
	// CreateAccount inserts the account and its actor atomically. A taken
	// email or username yields ErrConflict and leaves no rows behind.
	CreateAccount(ctx context.Context, params CreateAccountParams) (*domain.Account, *domain.Actor, error)
	IsAccountExists(ctx context.Context, email string) (bool, error)
	IsUsernameExists(ctx context.Context, username, domain string) (bool, error)
	GetAccountFromEmail(ctx context.Context, email string) (*domain.Account, error)
	GetActorFromID(ctx context.Context, id string) (*domain.Actor, error)
	GetActorFromUsername(ctx context.Context, username, domain string) (*domain.Actor, error)
	GetActorFromEmail(ctx context.Context, email string) (*domain.Actor, error)
	GetLocalActors(ctx context.Context) ([]domain.Actor, error)

	// CreateStatus reports whether a row was written. A known id is left
	// untouched and reported as false with a nil error.
	CreateStatus(ctx context.Context, status *domain.Status) (bool, error)
	GetStatus(ctx context.Context, id string) (*domain.Status, error)
	// GetStatuses lists an actor's statuses, newest first.
	GetStatuses(ctx context.Context, actorId string, limit, offset int) ([]domain.Status, error)
	CountStatus(ctx context.Context, actorId string) (int, error)
	GetAnnounce(ctx context.Context, actorId, originalStatusId string) (*domain.Status, error)
	// DeleteStatus removes the status with its likes and timeline entries.
	// Deleting an unknown id is not an error.
	DeleteStatus(ctx context.Context, id string) error

	// CreateFollow returns the existing active edge for the pair instead of
	// adding a second one.
	CreateFollow(ctx context.Context, params CreateFollowParams) (*domain.Follow, error)
	GetFollowFromID(ctx context.Context, id uuid.UUID) (*domain.Follow, error)
	GetFollowFromURI(ctx context.Context, uri string) (*domain.Follow, error)
	GetAcceptedOrRequestedFollow(ctx context.Context, actorId, targetActorId string) (*domain.Follow, error)
	UpdateFollowStatus(ctx context.Context, id uuid.UUID, status domain.FollowStatus) error
	GetFollowers(ctx context.Context, targetActorId string, status domain.FollowStatus) ([]domain.Follow, error)
	GetFollowing(ctx context.Context, actorId string, status domain.FollowStatus) ([]domain.Follow, error)
	GetFollowersCount(ctx context.Context, targetActorId string) (int, error)
	GetFollowingCount(ctx context.Context, actorId string) (int, error)
	IsCurrentActorFollowing(ctx context.Context, actorId, targetActorId string) (bool, error)
	// GetFollowersInbox lists the distinct delivery inboxes of the accepted
	// followers of targetActorId, shared inboxes preferred.
	GetFollowersInbox(ctx context.Context, targetActorId string) ([]string, error)
	// GetLocalFollowersForActorID lists local actors with an accepted follow
	// to targetActorId.
	GetLocalFollowersForActorID(ctx context.Context, targetActorId string) ([]domain.Actor, error)
	GetLocalActorsFromFollowerURL(ctx context.Context, followerUrl string) ([]domain.Actor, error)

	CreateLike(ctx context.Context, actorId, statusId string) error
	DeleteLike(ctx context.Context, actorId, statusId string) error
	GetLikeCount(ctx context.Context, statusId string) (int, error)
	IsActorLikedStatus(ctx context.Context, actorId, statusId string) (bool, error)

	CreateMedia(ctx context.Context, media *domain.Media) error
	GetMedia(ctx context.Context, id uuid.UUID) (*domain.Media, error)

	// CreateTimelineStatus is idempotent per (actor, status, timeline).
	CreateTimelineStatus(ctx context.Context, entry domain.TimelineEntry) error
	HasTimelineStatus(ctx context.Context, actorId, statusId string, timeline domain.Timeline) (bool, error)
	// GetTimeline pages newest first. StartAfterStatusId is exclusive.
	GetTimeline(ctx context.Context, query TimelineQuery) ([]domain.Status, error)
	DeleteTimelineStatusesByAuthor(ctx context.Context, actorId, authorId string) error

	EnqueueDelivery(ctx context.Context, job domain.DeliveryJob) error
	GetPendingDeliveries(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryJob, error)
	UpdateDeliveryAttempt(ctx context.Context, id uuid.UUID, attempts int, nextRetry time.Time) error
	DeleteDelivery(ctx context.Context, id uuid.UUID) error

	Close() error
}

// PageSize normalizes a requested page size.
func PageSize(limit int) int {
	if limit <= 0 || limit > 100 {
		return DefaultPageSize
	}
	return limit
}

// ToMillis is the timestamp precision both backends persist.
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
