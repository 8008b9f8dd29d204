package activitypub

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/deemkeen/pubengine/docstore"
	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/metrics"
	"github.com/deemkeen/pubengine/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	localDomain = "l.test"
	bobId       = "https://r.test/users/bob"
)

type staticKeys map[string]string

func (k staticKeys) ResolveKey(_ context.Context, keyId string) string {
	return k[keyId]
}

type staticProfiles struct {
	profiles map[string]*domain.RemoteProfile
	gone     map[string]bool
}

func (p *staticProfiles) ResolveProfile(_ context.Context, id string, _ ...ResolveOption) (*domain.RemoteProfile, error) {
	if p.gone[id] {
		return nil, ErrGone
	}
	return p.profiles[id], nil
}

type recordingFanOut struct {
	mu       sync.Mutex
	statuses []string
}

func (f *recordingFanOut) FanOut(_ context.Context, status *domain.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status.Id)
	return nil
}

type inboxFixture struct {
	store   storage.Storage
	proc    *Processor
	fanOut  *recordingFanOut
	metrics *metrics.Metrics
	alice   *domain.Actor
	bob     *domain.Actor
}

func newInboxFixture(t *testing.T) *inboxFixture {
	t.Helper()
	store, err := docstore.OpenWithInterval("", testLogger(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, alice, err := store.CreateAccount(context.Background(), storage.CreateAccountParams{
		Email:     "alice@mail.test",
		Username:  "alice",
		Domain:    localDomain,
		PublicKey: "ALICE",
	})
	require.NoError(t, err)

	bob := testActor(t, "r.test", "bob")
	profiles := &staticProfiles{profiles: map[string]*domain.RemoteProfile{
		bobId: {Id: bobId, Username: "bob", Domain: "r.test", Inbox: bobId + "/inbox", SharedInbox: "https://r.test/inbox"},
	}}

	f := &inboxFixture{store: store, fanOut: &recordingFanOut{}, metrics: metrics.New(), alice: alice, bob: bob}
	f.proc = NewProcessor(ProcessorConfig{
		Store:     store,
		Keys:      staticKeys{bob.KeyId(): bob.PublicKey},
		Profiles:  profiles,
		Timelines: f.fanOut,
		Logger:    testLogger(),
		Metrics:   f.metrics,
	})
	return f
}

// post signs activity as bob and hands it to the processor.
func (f *inboxFixture) post(t *testing.T, activity map[string]any) Result {
	t.Helper()
	body, err := json.Marshal(activity)
	require.NoError(t, err)
	headers, err := Sign(f.bob, http.MethodPost, "https://"+localDomain+"/inbox", body)
	require.NoError(t, err)

	result, _ := f.proc.Process(context.Background(), InboundRequest{
		Method: http.MethodPost,
		Path:   "/inbox",
		Header: headers,
		Body:   body,
	})
	return result
}

func (f *inboxFixture) aliceStatus(t *testing.T, postId string) *domain.Status {
	t.Helper()
	status := &domain.Status{
		Id:      f.alice.StatusId(postId),
		ActorId: f.alice.Id,
		Type:    domain.StatusNote,
		Text:    "<p>hi</p>",
		To:      []string{domain.ActivityStreamsPublic},
	}
	_, err := f.store.CreateStatus(context.Background(), status)
	require.NoError(t, err)
	return status
}

func noteFrom(author, id string) map[string]any {
	return map[string]any{
		"id":           id,
		"type":         "Note",
		"attributedTo": author,
		"content":      "<p>hello</p>",
		"to":           []string{domain.ActivityStreamsPublic},
		"cc":           []string{author + "/followers"},
		"published":    "2024-03-01T10:00:00Z",
	}
}

func TestResultStatusCodes(t *testing.T) {
	assert.Equal(t, http.StatusAccepted, ResultAccepted.StatusCode())
	assert.Equal(t, http.StatusNotFound, ResultNotFound.StatusCode())
	assert.Equal(t, http.StatusBadRequest, ResultBadRequest.StatusCode())
	assert.Equal(t, http.StatusBadRequest, ResultUnauthorized.StatusCode())
	assert.Equal(t, http.StatusInternalServerError, ResultFailed.StatusCode())
	assert.Equal(t, "not_found", ResultNotFound.String())
}

func TestProcessRejectsUnauthenticated(t *testing.T) {
	f := newInboxFixture(t)
	body := []byte(`{"id":"https://r.test/f/1","type":"Follow","actor":"https://r.test/users/bob","object":"https://l.test/users/alice"}`)

	result, activity := f.proc.Process(context.Background(), InboundRequest{
		Method: http.MethodPost,
		Path:   "/inbox",
		Header: http.Header{"Host": {localDomain}},
		Body:   body,
	})
	assert.Equal(t, ResultUnauthorized, result)
	assert.Nil(t, activity)

	headers, err := Sign(f.bob, http.MethodPost, "https://"+localDomain+"/inbox", body)
	require.NoError(t, err)
	result, _ = f.proc.Process(context.Background(), InboundRequest{
		Method: http.MethodPost,
		Path:   "/inbox",
		Header: headers,
		Body:   []byte(`{"id":"https://r.test/f/2","type":"Follow","actor":"https://r.test/users/bob","object":"https://l.test/users/alice"}`),
	})
	assert.Equal(t, ResultUnauthorized, result)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.InboxActivities.WithLabelValues("unknown", "unauthorized")))
}

func TestProcessRejectsForeignActor(t *testing.T) {
	f := newInboxFixture(t)

	result := f.post(t, map[string]any{
		"id":     "https://evil.test/f/1",
		"type":   "Follow",
		"actor":  "https://evil.test/users/mallory",
		"object": f.alice.Id,
	})
	assert.Equal(t, ResultUnauthorized, result)
}

func TestProcessUnsupportedAndMalformed(t *testing.T) {
	f := newInboxFixture(t)

	assert.Equal(t, ResultNotFound, f.post(t, map[string]any{
		"id": "https://r.test/u/1", "type": "Update", "actor": bobId, "object": bobId,
	}))
	assert.Equal(t, ResultBadRequest, f.post(t, map[string]any{
		"id": "https://r.test/f/1", "type": "Follow", "actor": bobId,
	}))
}

func TestProcessFollow(t *testing.T) {
	f := newInboxFixture(t)
	ctx := context.Background()

	result := f.post(t, map[string]any{
		"id": "https://r.test/f/1", "type": "Follow", "actor": bobId, "object": f.alice.Id,
	})
	require.Equal(t, ResultAccepted, result)

	follow, err := f.store.GetFollowFromURI(ctx, "https://r.test/f/1")
	require.NoError(t, err)
	assert.Equal(t, domain.FollowRequested, follow.Status)
	assert.Equal(t, f.alice.Id, follow.TargetActorId)
	assert.Equal(t, "https://r.test/inbox", follow.DeliveryInbox())

	// delivered twice, still one edge
	assert.Equal(t, ResultAccepted, f.post(t, map[string]any{
		"id": "https://r.test/f/1", "type": "Follow", "actor": bobId, "object": f.alice.Id,
	}))
	requested, err := f.store.GetFollowers(ctx, f.alice.Id, domain.FollowRequested)
	require.NoError(t, err)
	require.Len(t, requested, 1)
	assert.Equal(t, follow.Id, requested[0].Id)

	assert.Equal(t, ResultNotFound, f.post(t, map[string]any{
		"id": "https://r.test/f/2", "type": "Follow", "actor": bobId, "object": "https://l.test/users/nobody",
	}))

	// undo by reference only
	require.NoError(t, f.store.UpdateFollowStatus(ctx, follow.Id, domain.FollowAccepted))
	assert.Equal(t, ResultAccepted, f.post(t, map[string]any{
		"id": "https://r.test/f/1/undo", "type": "Undo", "actor": bobId, "object": "https://r.test/f/1",
	}))
	follow, err = f.store.GetFollowFromID(ctx, follow.Id)
	require.NoError(t, err)
	assert.Equal(t, domain.FollowUndo, follow.Status)

	// no active edge left to undo
	undo := map[string]any{
		"id": "https://r.test/f/1/undo-again", "type": "Undo", "actor": bobId,
		"object": map[string]any{"id": "https://r.test/f/1", "type": "Follow", "actor": bobId, "object": f.alice.Id},
	}
	assert.Equal(t, ResultNotFound, f.post(t, undo))
	follow, err = f.store.GetFollowFromID(ctx, follow.Id)
	require.NoError(t, err)
	assert.Equal(t, domain.FollowUndo, follow.Status)
	count, err := f.store.GetFollowersCount(ctx, f.alice.Id)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestProcessUndoWithoutFollow(t *testing.T) {
	f := newInboxFixture(t)

	assert.Equal(t, ResultNotFound, f.post(t, map[string]any{
		"id": "https://r.test/f/9/undo", "type": "Undo", "actor": bobId,
		"object": map[string]any{"id": "https://r.test/f/9", "type": "Follow", "actor": bobId, "object": f.alice.Id},
	}))
	assert.Equal(t, ResultNotFound, f.post(t, map[string]any{
		"id": "https://r.test/f/9/undo", "type": "Undo", "actor": bobId, "object": "https://r.test/f/9",
	}))

	following, err := f.store.GetFollowing(context.Background(), bobId, domain.FollowUndo)
	require.NoError(t, err)
	assert.Empty(t, following)
}

func TestProcessAcceptAndReject(t *testing.T) {
	f := newInboxFixture(t)
	ctx := context.Background()

	follow, err := f.store.CreateFollow(ctx, storage.CreateFollowParams{
		ActorId:       f.alice.Id,
		TargetActorId: bobId,
		Status:        domain.FollowRequested,
		Uri:           "https://l.test/follow-1",
		Inbox:         bobId + "/inbox",
	})
	require.NoError(t, err)

	result := f.post(t, map[string]any{
		"id": bobId + "#accepts/followers", "type": "Accept", "actor": bobId,
		"object": map[string]any{"id": follow.Uri, "type": "Follow", "actor": f.alice.Id, "object": bobId},
	})
	require.Equal(t, ResultAccepted, result)

	follow, err = f.store.GetFollowFromID(ctx, follow.Id)
	require.NoError(t, err)
	assert.Equal(t, domain.FollowAccepted, follow.Status)

	// an Accept naming an unknown uri falls back to the embedded pair
	assert.Equal(t, ResultAccepted, f.post(t, map[string]any{
		"id": bobId + "#rejects/followers", "type": "Reject", "actor": bobId,
		"object": map[string]any{"id": "https://l.test/unknown", "type": "Follow", "actor": f.alice.Id, "object": bobId},
	}))
	follow, err = f.store.GetFollowFromID(ctx, follow.Id)
	require.NoError(t, err)
	assert.Equal(t, domain.FollowRejected, follow.Status)
}

func TestProcessAcceptAndRejectUnknownFollow(t *testing.T) {
	f := newInboxFixture(t)
	ctx := context.Background()

	follow, err := f.store.CreateFollow(ctx, storage.CreateFollowParams{
		ActorId:       f.alice.Id,
		TargetActorId: bobId,
		Status:        domain.FollowRequested,
		Uri:           "https://l.test/follow-1",
	})
	require.NoError(t, err)

	for _, kind := range []string{"Accept", "Reject"} {
		assert.Equal(t, ResultNotFound, f.post(t, map[string]any{
			"id": bobId + "#" + kind, "type": kind, "actor": bobId, "object": "https://l.test/no-such-follow",
		}), kind)
	}

	follow, err = f.store.GetFollowFromID(ctx, follow.Id)
	require.NoError(t, err)
	assert.Equal(t, domain.FollowRequested, follow.Status)
}

func TestProcessAcceptByThirdParty(t *testing.T) {
	f := newInboxFixture(t)

	_, err := f.store.CreateFollow(context.Background(), storage.CreateFollowParams{
		ActorId:       f.alice.Id,
		TargetActorId: "https://r.test/users/carol",
		Status:        domain.FollowRequested,
		Uri:           "https://l.test/follow-2",
	})
	require.NoError(t, err)

	assert.Equal(t, ResultNotFound, f.post(t, map[string]any{
		"id": bobId + "#accepts/followers", "type": "Accept", "actor": bobId, "object": "https://l.test/follow-2",
	}))
}

func TestProcessCreate(t *testing.T) {
	f := newInboxFixture(t)
	ctx := context.Background()
	create := map[string]any{
		"id": bobId + "/statuses/1/activity", "type": "Create", "actor": bobId,
		"object": noteFrom(bobId, bobId+"/statuses/1"),
	}

	require.Equal(t, ResultAccepted, f.post(t, create))
	require.Equal(t, ResultAccepted, f.post(t, create))
	assert.Equal(t, []string{bobId + "/statuses/1"}, f.fanOut.statuses, "redelivery must not fan out twice")

	status, err := f.store.GetStatus(ctx, bobId+"/statuses/1")
	require.NoError(t, err)
	assert.Equal(t, domain.VisibilityPublic, status.Visibility)
	assert.Equal(t, "<p>hello</p>", status.Text)
	assert.Equal(t, 2024, status.CreatedAt.Year())

	forged := map[string]any{
		"id": bobId + "/statuses/2/activity", "type": "Create", "actor": bobId,
		"object": noteFrom("https://r.test/users/carol", "https://r.test/users/carol/statuses/2"),
	}
	assert.Equal(t, ResultBadRequest, f.post(t, forged))
}

func TestProcessCreateQuestion(t *testing.T) {
	f := newInboxFixture(t)
	question := noteFrom(bobId, bobId+"/statuses/q")
	question["type"] = "Question"
	question["contentMap"] = map[string]any{"de": "<p>Frage</p>"}
	question["oneOf"] = []any{
		map[string]any{"type": "Note", "name": "yes", "replies": map[string]any{"type": "Collection", "totalItems": 4}},
		map[string]any{"type": "Note", "name": "no"},
	}

	require.Equal(t, ResultAccepted, f.post(t, map[string]any{
		"id": bobId + "/statuses/q/activity", "type": "Create", "actor": bobId, "object": question,
	}))

	status, err := f.store.GetStatus(context.Background(), bobId+"/statuses/q")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQuestion, status.Type)
	assert.Equal(t, "de", status.Language)
	assert.Equal(t, []domain.PollChoice{{Title: "yes", Votes: 4}, {Title: "no"}}, status.Choices)
}

func TestProcessLike(t *testing.T) {
	f := newInboxFixture(t)
	ctx := context.Background()
	status := f.aliceStatus(t, "1")

	// unknown statuses are acknowledged without a like
	assert.Equal(t, ResultAccepted, f.post(t, map[string]any{
		"id": bobId + "#likes/x", "type": "Like", "actor": bobId, "object": f.alice.StatusId("missing"),
	}))
	count, err := f.store.GetLikeCount(ctx, f.alice.StatusId("missing"))
	require.NoError(t, err)
	assert.Zero(t, count)

	like := map[string]any{"id": bobId + "#likes/1", "type": "Like", "actor": bobId, "object": status.Id}
	require.Equal(t, ResultAccepted, f.post(t, like))
	require.Equal(t, ResultAccepted, f.post(t, like))
	count, err = f.store.GetLikeCount(ctx, status.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.Equal(t, ResultAccepted, f.post(t, map[string]any{
		"id": bobId + "#likes/1/undo", "type": "Undo", "actor": bobId, "object": like,
	}))
	count, err = f.store.GetLikeCount(ctx, status.Id)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestProcessDelete(t *testing.T) {
	f := newInboxFixture(t)
	ctx := context.Background()
	status := f.aliceStatus(t, "1")

	assert.Equal(t, ResultUnauthorized, f.post(t, map[string]any{
		"id": bobId + "#delete", "type": "Delete", "actor": bobId, "object": status.Id,
	}))
	_, err := f.store.GetStatus(ctx, status.Id)
	require.NoError(t, err)

	_, err = f.store.CreateStatus(ctx, &domain.Status{Id: bobId + "/statuses/9", ActorId: bobId, Type: domain.StatusNote})
	require.NoError(t, err)
	assert.Equal(t, ResultAccepted, f.post(t, map[string]any{
		"id": bobId + "/statuses/9#delete", "type": "Delete", "actor": bobId,
		"object": map[string]any{"id": bobId + "/statuses/9", "type": "Tombstone"},
	}))
	_, err = f.store.GetStatus(ctx, bobId+"/statuses/9")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Equal(t, ResultAccepted, f.post(t, map[string]any{
		"id": bobId + "/statuses/10#delete", "type": "Delete", "actor": bobId, "object": bobId + "/statuses/10",
	}))
}

func TestProcessAnnounce(t *testing.T) {
	f := newInboxFixture(t)
	ctx := context.Background()
	local := f.aliceStatus(t, "1")

	announce := map[string]any{
		"id": bobId + "/statuses/b1/activity", "type": "Announce", "actor": bobId, "object": local.Id,
		"to": []string{domain.ActivityStreamsPublic},
	}
	require.Equal(t, ResultAccepted, f.post(t, announce))

	stored, err := f.store.GetAnnounce(ctx, bobId, local.Id)
	require.NoError(t, err)
	assert.True(t, stored.IsAnnounce())

	// an embedded copy from the announcer's own host is trusted without a fetcher
	require.Equal(t, ResultAccepted, f.post(t, map[string]any{
		"id": bobId + "/statuses/b2/activity", "type": "Announce", "actor": bobId,
		"object": noteFrom("https://r.test/users/carol", "https://r.test/users/carol/statuses/5"),
	}))
	_, err = f.store.GetStatus(ctx, "https://r.test/users/carol/statuses/5")
	require.NoError(t, err)

	// a copy from another host is not
	assert.Equal(t, ResultNotFound, f.post(t, map[string]any{
		"id": bobId + "/statuses/b3/activity", "type": "Announce", "actor": bobId,
		"object": noteFrom("https://other.test/users/dave", "https://other.test/users/dave/statuses/1"),
	}))

	require.Equal(t, ResultAccepted, f.post(t, map[string]any{
		"id": bobId + "/statuses/b1/undo", "type": "Undo", "actor": bobId, "object": announce,
	}))
	_, err = f.store.GetAnnounce(ctx, bobId, local.Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// rotatingKeys hands out a stale key until it is asked to refresh.
type rotatingKeys struct {
	stale, fresh string
	refreshed    int
}

func (k *rotatingKeys) ResolveKey(_ context.Context, _ string) string {
	return k.stale
}

func (k *rotatingKeys) RefreshKey(_ context.Context, _ string) string {
	k.refreshed++
	return k.fresh
}

func TestProcessRefreshesRotatedKey(t *testing.T) {
	f := newInboxFixture(t)
	rotated, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	stale := publicKeyToPEM(t, &rotated.PublicKey)
	keys := &rotatingKeys{stale: stale, fresh: f.bob.PublicKey}
	f.proc.keys = keys

	follow := map[string]any{"id": "https://r.test/f/1", "type": "Follow", "actor": bobId, "object": f.alice.Id}
	assert.Equal(t, ResultAccepted, f.post(t, follow))
	assert.Equal(t, 1, keys.refreshed)

	// a refresh that yields the same key is not retried
	keys.fresh = stale
	assert.Equal(t, ResultUnauthorized, f.post(t, follow))
	assert.Equal(t, 2, keys.refreshed)
}

func TestStoreKeyResolver(t *testing.T) {
	f := newInboxFixture(t)
	profiles := &staticProfiles{
		profiles: map[string]*domain.RemoteProfile{
			bobId:                     {Id: bobId, PublicKey: "BOB"},
			"https://gone.test/actor": {Id: "https://gone.test/actor", PublicKey: "INSTANCE"},
		},
		gone: map[string]bool{"https://gone.test/users/zed": true},
	}
	keys := NewKeyResolver(f.store, profiles, testLogger())
	ctx := context.Background()

	assert.Equal(t, "ALICE", keys.ResolveKey(ctx, f.alice.KeyId()))
	assert.Equal(t, "BOB", keys.ResolveKey(ctx, bobId+"#main-key"))
	assert.Equal(t, "INSTANCE", keys.ResolveKey(ctx, "https://gone.test/users/zed#main-key"))
	assert.Empty(t, keys.ResolveKey(ctx, "https://nowhere.test/users/x#main-key"))
	assert.Empty(t, keys.ResolveKey(ctx, ""))

	assert.Equal(t, "ALICE", keys.RefreshKey(ctx, f.alice.KeyId()))
	assert.Equal(t, "BOB", keys.RefreshKey(ctx, bobId+"#main-key"))
}
