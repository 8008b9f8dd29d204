package docstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
	"github.com/deemkeen/pubengine/storage/storagetest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestStorageConformanceInMemory(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		s, err := Open("", testLogger())
		require.NoError(t, err)
		return s
	})
}

func TestStorageConformanceOnDisk(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		s, err := OpenWithInterval(filepath.Join(t.TempDir(), "store.cbor.zst"), testLogger(), 10*time.Millisecond)
		require.NoError(t, err)
		return s
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "store.cbor.zst")

	s, err := OpenWithInterval(path, testLogger(), time.Hour)
	require.NoError(t, err)

	_, actor, err := s.CreateAccount(ctx, storage.CreateAccountParams{
		Email: "alice@mail.test", PasswordHash: "hash", Username: "alice", Domain: "example.com",
		PublicKey: "pub", PrivateKey: "priv",
	})
	require.NoError(t, err)

	status := &domain.Status{
		Id: actor.StatusId("1"), ActorId: actor.Id, Type: domain.StatusNote, Text: "<p>hi</p>",
		Visibility: domain.VisibilityPublic, To: []string{domain.ActivityStreamsPublic}, Cc: []string{actor.Followers()},
		Attachments: []domain.Attachment{{Url: "https://example.com/media/a.png", MediaType: "image/png", Width: 2, Height: 3}},
		CreatedAt:   time.UnixMilli(1_700_000_000_123),
	}
	_, err = s.CreateStatus(ctx, status)
	require.NoError(t, err)

	follow, err := s.CreateFollow(ctx, storage.CreateFollowParams{
		ActorId: "https://remote.social/users/bob", TargetActorId: actor.Id, Status: domain.FollowAccepted,
		Uri: "https://remote.social/follows/1", Inbox: "https://remote.social/users/bob/inbox",
	})
	require.NoError(t, err)
	require.NoError(t, s.CreateLike(ctx, follow.ActorId, status.Id))
	require.NoError(t, s.CreateTimelineStatus(ctx, domain.TimelineEntry{
		ActorId: actor.Id, StatusId: status.Id, Timeline: domain.TimelineMain, CreatedAt: status.CreatedAt,
	}))
	media := &domain.Media{
		Id: uuid.New(), ActorId: actor.Id,
		Original:  domain.MediaFile{Path: "a.png", Bytes: 10, MimeType: "image/png", Width: 2, Height: 3},
		CreatedAt: time.UnixMilli(1_700_000_000_000),
	}
	require.NoError(t, s.CreateMedia(ctx, media))
	job := domain.DeliveryJob{
		Id: uuid.New(), ActorId: actor.Id, Inbox: "https://remote.social/inbox", ActivityJSON: `{}`,
		NextRetryAt: time.UnixMilli(1_700_000_000_000), CreatedAt: time.UnixMilli(1_700_000_000_000),
	}
	require.NoError(t, s.EnqueueDelivery(ctx, job))

	require.NoError(t, s.Close())
	_, err = os.Stat(path)
	require.NoError(t, err)

	reopened, err := OpenWithInterval(path, testLogger(), time.Hour)
	require.NoError(t, err)
	defer reopened.Close()

	stored, err := reopened.GetActorFromEmail(ctx, "alice@mail.test")
	require.NoError(t, err)
	assert.Equal(t, *actor, *stored)

	storedStatus, err := reopened.GetStatus(ctx, status.Id)
	require.NoError(t, err)
	assert.Equal(t, status.To, storedStatus.To)
	assert.Equal(t, status.Attachments, storedStatus.Attachments)
	assert.Equal(t, status.CreatedAt.UnixMilli(), storedStatus.CreatedAt.UnixMilli())

	following, err := reopened.IsCurrentActorFollowing(ctx, follow.ActorId, actor.Id)
	require.NoError(t, err)
	assert.True(t, following)

	liked, err := reopened.IsActorLikedStatus(ctx, follow.ActorId, status.Id)
	require.NoError(t, err)
	assert.True(t, liked)

	timeline, err := reopened.GetTimeline(ctx, storage.TimelineQuery{ActorId: actor.Id, Timeline: domain.TimelineMain})
	require.NoError(t, err)
	require.Len(t, timeline, 1)

	storedMedia, err := reopened.GetMedia(ctx, media.Id)
	require.NoError(t, err)
	assert.Nil(t, storedMedia.Thumbnail)

	pending, err := reopened.GetPendingDeliveries(ctx, time.UnixMilli(1_700_000_000_000), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, job.Id, pending[0].Id)
}

func TestFlushSkipsCleanStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.cbor.zst")
	s, err := OpenWithInterval(path, testLogger(), time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.Flush())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestOpenRejectsCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.cbor.zst")
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0o644))

	_, err := Open(path, testLogger())
	assert.Error(t, err)
}

func TestReturnedStatusesAreCopies(t *testing.T) {
	ctx := context.Background()
	s, err := Open("", testLogger())
	require.NoError(t, err)
	defer s.Close()

	status := &domain.Status{
		Id: "https://remote.social/users/bob/statuses/1", ActorId: "https://remote.social/users/bob",
		Type: domain.StatusNote, Visibility: domain.VisibilityPublic, To: []string{domain.ActivityStreamsPublic},
	}
	_, err = s.CreateStatus(ctx, status)
	require.NoError(t, err)
	status.To[0] = "mutated"

	stored, err := s.GetStatus(ctx, status.Id)
	require.NoError(t, err)
	stored.To[0] = "mutated again"

	again, err := s.GetStatus(ctx, status.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.ActivityStreamsPublic}, again.To)
}
