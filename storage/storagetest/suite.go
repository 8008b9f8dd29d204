// Package storagetest is the conformance suite every storage.Storage
// backend must pass.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDomain = "example.com"

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) storage.Storage

func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"CreateAccount", testCreateAccount},
		{"CreateAccountConflicts", testCreateAccountConflicts},
		{"ActorLookups", testActorLookups},
		{"CreateStatusIdempotent", testCreateStatusIdempotent},
		{"CreateStatusConcurrent", testCreateStatusConcurrent},
		{"StatusRoundTrip", testStatusRoundTrip},
		{"GetStatusesPaging", testGetStatusesPaging},
		{"DeleteStatus", testDeleteStatus},
		{"Announce", testAnnounce},
		{"FollowStateMachine", testFollowStateMachine},
		{"FollowLookups", testFollowLookups},
		{"FollowersInbox", testFollowersInbox},
		{"LocalFollowers", testLocalFollowers},
		{"Likes", testLikes},
		{"Media", testMedia},
		{"Timeline", testTimeline},
		{"TimelinePaging", testTimelinePaging},
		{"TimelineDeleteByAuthor", testTimelineDeleteByAuthor},
		{"Deliveries", testDeliveries},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func createActor(t *testing.T, s storage.Storage, username string) *domain.Actor {
	t.Helper()
	_, actor, err := s.CreateAccount(context.Background(), storage.CreateAccountParams{
		Email:        username + "@mail.test",
		PasswordHash: "hash",
		Username:     username,
		Domain:       testDomain,
		Name:         username,
		PublicKey:    "public-" + username,
		PrivateKey:   "private-" + username,
	})
	require.NoError(t, err)
	return actor
}

func newStatus(actor string, postId string, createdAt time.Time) *domain.Status {
	id := fmt.Sprintf("%s/statuses/%s", actor, postId)
	return &domain.Status{
		Id:         id,
		Url:        id,
		ActorId:    actor,
		Type:       domain.StatusNote,
		Text:       "<p>" + postId + "</p>",
		Visibility: domain.VisibilityPublic,
		To:         []string{domain.ActivityStreamsPublic},
		Cc:         []string{actor + "/followers"},
		CreatedAt:  createdAt,
	}
}

func testCreateAccount(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	account, actor, err := s.CreateAccount(ctx, storage.CreateAccountParams{
		Email:        "alice@mail.test",
		PasswordHash: "hash",
		Username:     "alice",
		Domain:       testDomain,
		Name:         "Alice",
		PublicKey:    "pub",
		PrivateKey:   "priv",
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, account.Id)
	assert.Equal(t, "alice@mail.test", account.Email)
	assert.Equal(t, "https://example.com/users/alice", actor.Id)
	assert.Equal(t, account.Id, actor.AccountId)
	assert.True(t, actor.IsLocal())

	exists, err := s.IsAccountExists(ctx, "alice@mail.test")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.IsUsernameExists(ctx, "alice", testDomain)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.IsUsernameExists(ctx, "alice", "other.test")
	require.NoError(t, err)
	assert.False(t, exists)

	stored, err := s.GetAccountFromEmail(ctx, "alice@mail.test")
	require.NoError(t, err)
	assert.Equal(t, account.Id, stored.Id)
	assert.Equal(t, "hash", stored.PasswordHash)
}

func testCreateAccountConflicts(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	createActor(t, s, "alice")

	_, _, err := s.CreateAccount(ctx, storage.CreateAccountParams{
		Email: "alice@mail.test", Username: "alice2", Domain: testDomain,
	})
	assert.ErrorIs(t, err, storage.ErrConflict)

	_, _, err = s.CreateAccount(ctx, storage.CreateAccountParams{
		Email: "other@mail.test", Username: "alice", Domain: testDomain,
	})
	assert.ErrorIs(t, err, storage.ErrConflict)

	// the failed attempts must not leave an account behind
	exists, err := s.IsAccountExists(ctx, "other@mail.test")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = s.IsUsernameExists(ctx, "alice2", testDomain)
	require.NoError(t, err)
	assert.False(t, exists)
}

func testActorLookups(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice := createActor(t, s, "alice")
	createActor(t, s, "bob")

	byId, err := s.GetActorFromID(ctx, alice.Id)
	require.NoError(t, err)
	assert.Equal(t, "alice", byId.Username)
	assert.Equal(t, "public-alice", byId.PublicKey)
	assert.Equal(t, "private-alice", byId.PrivateKey)

	byName, err := s.GetActorFromUsername(ctx, "alice", testDomain)
	require.NoError(t, err)
	assert.Equal(t, alice.Id, byName.Id)

	byEmail, err := s.GetActorFromEmail(ctx, "alice@mail.test")
	require.NoError(t, err)
	assert.Equal(t, alice.Id, byEmail.Id)

	_, err = s.GetActorFromID(ctx, "https://remote.social/users/nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetActorFromUsername(ctx, "nobody", testDomain)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetActorFromEmail(ctx, "nobody@mail.test")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetAccountFromEmail(ctx, "nobody@mail.test")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	actors, err := s.GetLocalActors(ctx)
	require.NoError(t, err)
	require.Len(t, actors, 2)
	assert.Equal(t, "alice", actors[0].Username)
	assert.Equal(t, "bob", actors[1].Username)
}

func testCreateStatusIdempotent(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice := createActor(t, s, "alice")
	status := newStatus(alice.Id, "1", time.UnixMilli(1_700_000_000_000))

	created, err := s.CreateStatus(ctx, status)
	require.NoError(t, err)
	assert.True(t, created)

	again := *status
	again.Text = "<p>changed</p>"
	created, err = s.CreateStatus(ctx, &again)
	require.NoError(t, err)
	assert.False(t, created)

	stored, err := s.GetStatus(ctx, status.Id)
	require.NoError(t, err)
	assert.Equal(t, "<p>1</p>", stored.Text)

	count, err := s.CountStatus(ctx, alice.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func testCreateStatusConcurrent(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	status := newStatus("https://remote.social/users/bob", "race", time.UnixMilli(1_700_000_000_000))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			copied := *status
			ok, err := s.CreateStatus(ctx, &copied)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	count, err := s.CountStatus(ctx, status.ActorId)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func testStatusRoundTrip(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	createdAt := time.UnixMilli(1_700_000_123_456)
	status := &domain.Status{
		Id:           "https://remote.social/users/bob/statuses/9",
		Url:          "https://remote.social/@bob/9",
		ActorId:      "https://remote.social/users/bob",
		Type:         domain.StatusQuestion,
		Text:         "<p>Pick one</p>",
		Summary:      "poll",
		Sensitive:    true,
		Language:     "en",
		Visibility:   domain.VisibilityUnlisted,
		To:           []string{"https://remote.social/users/bob/followers"},
		Cc:           []string{domain.ActivityStreamsPublic, "https://example.com/users/alice"},
		Reply:        "https://example.com/users/alice/statuses/1",
		Conversation: "tag:remote.social,2024-01-01:objectId=1:objectType=Conversation",
		Choices:      []domain.PollChoice{{Title: "yes", Votes: 3}, {Title: "no", Votes: 1}},
		MediaIds:     []string{"m1"},
		Attachments: []domain.Attachment{{
			Url: "https://remote.social/media/1.png", MediaType: "image/png", Name: "cat", Width: 10, Height: 20,
		}},
		CreatedAt: createdAt,
	}

	_, err := s.CreateStatus(ctx, status)
	require.NoError(t, err)

	stored, err := s.GetStatus(ctx, status.Id)
	require.NoError(t, err)
	assert.Equal(t, status.Url, stored.Url)
	assert.Equal(t, status.ActorId, stored.ActorId)
	assert.Equal(t, status.Type, stored.Type)
	assert.Equal(t, status.Summary, stored.Summary)
	assert.True(t, stored.Sensitive)
	assert.Equal(t, status.Language, stored.Language)
	assert.Equal(t, status.Visibility, stored.Visibility)
	assert.Equal(t, status.To, stored.To)
	assert.Equal(t, status.Cc, stored.Cc)
	assert.Equal(t, status.Reply, stored.Reply)
	assert.Equal(t, status.Conversation, stored.Conversation)
	assert.Equal(t, status.Choices, stored.Choices)
	assert.Equal(t, status.MediaIds, stored.MediaIds)
	assert.Equal(t, status.Attachments, stored.Attachments)
	assert.Equal(t, createdAt.UnixMilli(), stored.CreatedAt.UnixMilli())

	_, err = s.GetStatus(ctx, "https://remote.social/users/bob/statuses/404")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testGetStatusesPaging(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice := createActor(t, s, "alice")
	base := time.UnixMilli(1_700_000_000_000)
	for i := range 5 {
		_, err := s.CreateStatus(ctx, newStatus(alice.Id, fmt.Sprint(i), base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	first, err := s.GetStatuses(ctx, alice.Id, 2, 0)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, alice.StatusId("4"), first[0].Id)
	assert.Equal(t, alice.StatusId("3"), first[1].Id)

	last, err := s.GetStatuses(ctx, alice.Id, 2, 4)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, alice.StatusId("0"), last[0].Id)
}

func testDeleteStatus(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice := createActor(t, s, "alice")
	bob := createActor(t, s, "bob")
	status := newStatus(alice.Id, "1", time.UnixMilli(1_700_000_000_000))
	_, err := s.CreateStatus(ctx, status)
	require.NoError(t, err)
	require.NoError(t, s.CreateLike(ctx, bob.Id, status.Id))
	require.NoError(t, s.CreateTimelineStatus(ctx, domain.TimelineEntry{
		ActorId: bob.Id, StatusId: status.Id, Timeline: domain.TimelineMain, CreatedAt: status.CreatedAt,
	}))

	require.NoError(t, s.DeleteStatus(ctx, status.Id))

	_, err = s.GetStatus(ctx, status.Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	likes, err := s.GetLikeCount(ctx, status.Id)
	require.NoError(t, err)
	assert.Zero(t, likes)

	timeline, err := s.GetTimeline(ctx, storage.TimelineQuery{ActorId: bob.Id, Timeline: domain.TimelineMain})
	require.NoError(t, err)
	assert.Empty(t, timeline)

	assert.NoError(t, s.DeleteStatus(ctx, status.Id))
}

func testAnnounce(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice := createActor(t, s, "alice")
	original := newStatus("https://remote.social/users/bob", "1", time.UnixMilli(1_700_000_000_000))
	_, err := s.CreateStatus(ctx, original)
	require.NoError(t, err)

	announce := &domain.Status{
		Id:               alice.StatusId("boost") + "/activity",
		ActorId:          alice.Id,
		Type:             domain.StatusAnnounce,
		OriginalStatusId: original.Id,
		To:               []string{domain.ActivityStreamsPublic},
		Cc:               []string{original.ActorId, alice.Followers()},
		Visibility:       domain.VisibilityPublic,
		CreatedAt:        time.UnixMilli(1_700_000_060_000),
	}
	_, err = s.CreateStatus(ctx, announce)
	require.NoError(t, err)

	found, err := s.GetAnnounce(ctx, alice.Id, original.Id)
	require.NoError(t, err)
	assert.Equal(t, announce.Id, found.Id)
	assert.True(t, found.IsAnnounce())

	_, err = s.GetAnnounce(ctx, "https://remote.social/users/bob", original.Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testFollowStateMachine(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice := createActor(t, s, "alice")
	bob := "https://remote.social/users/bob"

	_, err := s.GetAcceptedOrRequestedFollow(ctx, bob, alice.Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	follow, err := s.CreateFollow(ctx, storage.CreateFollowParams{
		ActorId: bob, TargetActorId: alice.Id, Status: domain.FollowRequested,
		Uri: "https://remote.social/follows/1", Inbox: bob + "/inbox",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.FollowRequested, follow.Status)

	dup, err := s.CreateFollow(ctx, storage.CreateFollowParams{
		ActorId: bob, TargetActorId: alice.Id, Status: domain.FollowRequested,
		Uri: "https://remote.social/follows/2", Inbox: bob + "/inbox",
	})
	require.NoError(t, err)
	assert.Equal(t, follow.Id, dup.Id)

	require.NoError(t, s.UpdateFollowStatus(ctx, follow.Id, domain.FollowAccepted))
	active, err := s.GetAcceptedOrRequestedFollow(ctx, bob, alice.Id)
	require.NoError(t, err)
	assert.Equal(t, domain.FollowAccepted, active.Status)

	following, err := s.IsCurrentActorFollowing(ctx, bob, alice.Id)
	require.NoError(t, err)
	assert.True(t, following)

	count, err := s.GetFollowersCount(ctx, alice.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, s.UpdateFollowStatus(ctx, follow.Id, domain.FollowUndo))
	_, err = s.GetAcceptedOrRequestedFollow(ctx, bob, alice.Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// undone edges stay for audit and are not reused
	old, err := s.GetFollowFromID(ctx, follow.Id)
	require.NoError(t, err)
	assert.Equal(t, domain.FollowUndo, old.Status)

	again, err := s.CreateFollow(ctx, storage.CreateFollowParams{
		ActorId: bob, TargetActorId: alice.Id, Status: domain.FollowRequested,
		Uri: "https://remote.social/follows/3", Inbox: bob + "/inbox",
	})
	require.NoError(t, err)
	assert.NotEqual(t, follow.Id, again.Id)

	err = s.UpdateFollowStatus(ctx, uuid.New(), domain.FollowAccepted)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testFollowLookups(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice := createActor(t, s, "alice")
	bob := "https://remote.social/users/bob"

	follow, err := s.CreateFollow(ctx, storage.CreateFollowParams{
		ActorId: alice.Id, TargetActorId: bob, Status: domain.FollowRequested,
		Uri: "https://example.com/follow-1", Inbox: alice.Inbox(), SharedInbox: alice.SharedInbox(),
	})
	require.NoError(t, err)

	byUri, err := s.GetFollowFromURI(ctx, "https://example.com/follow-1")
	require.NoError(t, err)
	assert.Equal(t, follow.Id, byUri.Id)
	assert.Equal(t, alice.SharedInbox(), byUri.SharedInbox)

	_, err = s.GetFollowFromURI(ctx, "https://example.com/unknown")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetFollowFromID(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	pending, err := s.GetFollowing(ctx, alice.Id, domain.FollowRequested)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	requests, err := s.GetFollowers(ctx, bob, domain.FollowRequested)
	require.NoError(t, err)
	require.Len(t, requests, 1)

	count, err := s.GetFollowingCount(ctx, alice.Id)
	require.NoError(t, err)
	assert.Zero(t, count, "requested follows are not counted")

	require.NoError(t, s.UpdateFollowStatus(ctx, follow.Id, domain.FollowAccepted))
	count, err = s.GetFollowingCount(ctx, alice.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func testFollowersInbox(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice := createActor(t, s, "alice")

	followers := []storage.CreateFollowParams{
		{ActorId: "https://remote.social/users/bob", Inbox: "https://remote.social/users/bob/inbox", SharedInbox: "https://remote.social/inbox"},
		{ActorId: "https://remote.social/users/carol", Inbox: "https://remote.social/users/carol/inbox", SharedInbox: "https://remote.social/inbox"},
		{ActorId: "https://tiny.social/users/dan", Inbox: "https://tiny.social/users/dan/inbox"},
		{ActorId: "https://other.social/users/erin", Inbox: "https://other.social/users/erin/inbox"},
	}
	for i, params := range followers {
		params.TargetActorId = alice.Id
		params.Uri = fmt.Sprintf("https://follows.test/%d", i)
		params.Status = domain.FollowAccepted
		_, err := s.CreateFollow(ctx, params)
		require.NoError(t, err)
	}
	pending := followers[3]
	existing, err := s.GetAcceptedOrRequestedFollow(ctx, pending.ActorId, alice.Id)
	require.NoError(t, err)
	require.NoError(t, s.UpdateFollowStatus(ctx, existing.Id, domain.FollowRequested))

	inboxes, err := s.GetFollowersInbox(ctx, alice.Id)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"https://remote.social/inbox", "https://tiny.social/users/dan/inbox"}, inboxes)
}

func testLocalFollowers(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice := createActor(t, s, "alice")
	bob := createActor(t, s, "bob")
	carol := createActor(t, s, "carol")
	remote := "https://remote.social/users/zed"

	for _, follower := range []*domain.Actor{bob, carol} {
		_, err := s.CreateFollow(ctx, storage.CreateFollowParams{
			ActorId: follower.Id, TargetActorId: remote, Status: domain.FollowAccepted,
			Uri: follower.Id + "/follow", Inbox: follower.Inbox(),
		})
		require.NoError(t, err)
	}
	_, err := s.CreateFollow(ctx, storage.CreateFollowParams{
		ActorId: alice.Id, TargetActorId: remote, Status: domain.FollowRequested,
		Uri: alice.Id + "/follow", Inbox: alice.Inbox(),
	})
	require.NoError(t, err)
	_, err = s.CreateFollow(ctx, storage.CreateFollowParams{
		ActorId: "https://remote.social/users/yan", TargetActorId: remote, Status: domain.FollowAccepted,
		Uri: "https://remote.social/follow/yan", Inbox: "https://remote.social/users/yan/inbox",
	})
	require.NoError(t, err)

	locals, err := s.GetLocalFollowersForActorID(ctx, remote)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{bob.Id, carol.Id}, actorIds(locals))

	fromUrl, err := s.GetLocalActorsFromFollowerURL(ctx, remote+"/followers")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{bob.Id, carol.Id}, actorIds(fromUrl))

	none, err := s.GetLocalActorsFromFollowerURL(ctx, remote)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func actorIds(actors []domain.Actor) []string {
	ids := make([]string, 0, len(actors))
	for _, a := range actors {
		ids = append(ids, a.Id)
	}
	return ids
}

func testLikes(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice := createActor(t, s, "alice")
	statusId := "https://remote.social/users/bob/statuses/1"

	require.NoError(t, s.CreateLike(ctx, alice.Id, statusId))
	require.NoError(t, s.CreateLike(ctx, alice.Id, statusId))

	count, err := s.GetLikeCount(ctx, statusId)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	liked, err := s.IsActorLikedStatus(ctx, alice.Id, statusId)
	require.NoError(t, err)
	assert.True(t, liked)

	require.NoError(t, s.DeleteLike(ctx, alice.Id, statusId))
	require.NoError(t, s.DeleteLike(ctx, alice.Id, statusId))

	liked, err = s.IsActorLikedStatus(ctx, alice.Id, statusId)
	require.NoError(t, err)
	assert.False(t, liked)
}

func testMedia(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice := createActor(t, s, "alice")

	media := &domain.Media{
		Id:      uuid.New(),
		ActorId: alice.Id,
		Original: domain.MediaFile{
			Path: "ab/cd.png", Bytes: 1234, MimeType: "image/png", Width: 640, Height: 480,
		},
		Thumbnail: &domain.MediaFile{
			Path: "ab/cd-thumb.png", Bytes: 99, MimeType: "image/png", Width: 64, Height: 48,
		},
		Description: "a cat",
		CreatedAt:   time.UnixMilli(1_700_000_000_000),
	}
	require.NoError(t, s.CreateMedia(ctx, media))

	stored, err := s.GetMedia(ctx, media.Id)
	require.NoError(t, err)
	assert.Equal(t, media.Original, stored.Original)
	require.NotNil(t, stored.Thumbnail)
	assert.Equal(t, *media.Thumbnail, *stored.Thumbnail)
	assert.Equal(t, "a cat", stored.Description)

	plain := &domain.Media{
		Id:       uuid.New(),
		ActorId:  alice.Id,
		Original: domain.MediaFile{Path: "ef.jpg", Bytes: 1, MimeType: "image/jpeg", Width: 1, Height: 1},
	}
	require.NoError(t, s.CreateMedia(ctx, plain))
	stored, err = s.GetMedia(ctx, plain.Id)
	require.NoError(t, err)
	assert.Nil(t, stored.Thumbnail)

	_, err = s.GetMedia(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testTimeline(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice := createActor(t, s, "alice")
	status := newStatus("https://remote.social/users/bob", "1", time.UnixMilli(1_700_000_000_000))
	_, err := s.CreateStatus(ctx, status)
	require.NoError(t, err)

	entry := domain.TimelineEntry{
		ActorId: alice.Id, StatusId: status.Id, Timeline: domain.TimelineMain, CreatedAt: status.CreatedAt,
	}
	require.NoError(t, s.CreateTimelineStatus(ctx, entry))
	require.NoError(t, s.CreateTimelineStatus(ctx, entry))

	statuses, err := s.GetTimeline(ctx, storage.TimelineQuery{ActorId: alice.Id, Timeline: domain.TimelineMain})
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, status.Id, statuses[0].Id)

	has, err := s.HasTimelineStatus(ctx, alice.Id, status.Id, domain.TimelineMain)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.HasTimelineStatus(ctx, alice.Id, status.Id, domain.TimelineNoAnnounce)
	require.NoError(t, err)
	assert.False(t, has)
}

func testTimelinePaging(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice := createActor(t, s, "alice")
	base := time.UnixMilli(1_700_000_000_000)

	var ids []string
	for i := range 5 {
		status := newStatus("https://remote.social/users/bob", fmt.Sprint(i), base.Add(time.Duration(i)*time.Second))
		_, err := s.CreateStatus(ctx, status)
		require.NoError(t, err)
		require.NoError(t, s.CreateTimelineStatus(ctx, domain.TimelineEntry{
			ActorId: alice.Id, StatusId: status.Id, Timeline: domain.TimelineMain, CreatedAt: status.CreatedAt,
		}))
		ids = append(ids, status.Id)
	}

	page, err := s.GetTimeline(ctx, storage.TimelineQuery{ActorId: alice.Id, Timeline: domain.TimelineMain, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[4], page[0].Id)
	assert.Equal(t, ids[3], page[1].Id)

	page, err = s.GetTimeline(ctx, storage.TimelineQuery{
		ActorId: alice.Id, Timeline: domain.TimelineMain, Limit: 2, StartAfterStatusId: page[1].Id,
	})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].Id)
	assert.Equal(t, ids[1], page[1].Id)

	page, err = s.GetTimeline(ctx, storage.TimelineQuery{
		ActorId: alice.Id, Timeline: domain.TimelineMain, StartAfterStatusId: ids[0],
	})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func testTimelineDeleteByAuthor(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice := createActor(t, s, "alice")
	bobStatus := newStatus("https://remote.social/users/bob", "1", time.UnixMilli(1_700_000_000_000))
	carolStatus := newStatus("https://remote.social/users/carol", "1", time.UnixMilli(1_700_000_001_000))

	for _, status := range []*domain.Status{bobStatus, carolStatus} {
		_, err := s.CreateStatus(ctx, status)
		require.NoError(t, err)
		for _, timeline := range []domain.Timeline{domain.TimelineMain, domain.TimelineNoAnnounce} {
			require.NoError(t, s.CreateTimelineStatus(ctx, domain.TimelineEntry{
				ActorId: alice.Id, StatusId: status.Id, Timeline: timeline, CreatedAt: status.CreatedAt,
			}))
		}
	}

	require.NoError(t, s.DeleteTimelineStatusesByAuthor(ctx, alice.Id, bobStatus.ActorId))

	for _, timeline := range []domain.Timeline{domain.TimelineMain, domain.TimelineNoAnnounce} {
		statuses, err := s.GetTimeline(ctx, storage.TimelineQuery{ActorId: alice.Id, Timeline: timeline})
		require.NoError(t, err)
		require.Len(t, statuses, 1)
		assert.Equal(t, carolStatus.Id, statuses[0].Id)
	}
}

func testDeliveries(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice := createActor(t, s, "alice")
	now := time.UnixMilli(1_700_000_000_000)

	due := domain.DeliveryJob{
		Id: uuid.New(), ActorId: alice.Id, Inbox: "https://remote.social/inbox",
		ActivityJSON: `{"type":"Create"}`, NextRetryAt: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour),
	}
	later := domain.DeliveryJob{
		Id: uuid.New(), ActorId: alice.Id, Inbox: "https://other.social/inbox",
		ActivityJSON: `{"type":"Like"}`, NextRetryAt: now.Add(time.Hour), CreatedAt: now,
	}
	require.NoError(t, s.EnqueueDelivery(ctx, due))
	require.NoError(t, s.EnqueueDelivery(ctx, later))

	pending, err := s.GetPendingDeliveries(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, due.Id, pending[0].Id)
	assert.Equal(t, due.ActivityJSON, pending[0].ActivityJSON)

	require.NoError(t, s.UpdateDeliveryAttempt(ctx, due.Id, 1, now.Add(5*time.Minute)))
	pending, err = s.GetPendingDeliveries(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	pending, err = s.GetPendingDeliveries(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].Attempts)

	require.NoError(t, s.DeleteDelivery(ctx, due.Id))
	pending, err = s.GetPendingDeliveries(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, later.Id, pending[0].Id)
}
