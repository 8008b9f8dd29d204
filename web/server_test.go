package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubengine/actions"
	"github.com/deemkeen/pubengine/activitypub"
	"github.com/deemkeen/pubengine/docstore"
	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/media"
	"github.com/deemkeen/pubengine/metrics"
	"github.com/deemkeen/pubengine/storage"
	"github.com/deemkeen/pubengine/timeline"
	"github.com/deemkeen/pubengine/util"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	bobId       = "https://r.test/users/bob"
	alicePass   = "correct horse"
	aliceEmail  = "alice@mail.test"
	localDomain = "l.test"
)

// fakeResolver knows bob, with his public key so requests he signs verify.
type fakeResolver struct{ bob *domain.Actor }

func (fakeResolver) ResolveHandle(_ context.Context, handle string) (string, error) {
	if strings.TrimPrefix(handle, "@") == "bob@r.test" {
		return bobId, nil
	}
	return "", activitypub.ErrNotResolved
}

func (r fakeResolver) ResolveProfile(_ context.Context, id string, _ ...activitypub.ResolveOption) (*domain.RemoteProfile, error) {
	if id != bobId {
		return nil, nil
	}
	return &domain.RemoteProfile{Id: bobId, Username: "bob", Domain: "r.test", Inbox: bobId + "/inbox", PublicKey: r.bob.PublicKey}, nil
}

type outbound struct {
	mu         sync.Mutex
	types      []string
	activities []map[string]any
}

func (o *outbound) Send(_ context.Context, _ *domain.Actor, _ string, activity map[string]any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.types = append(o.types, activity["type"].(string))
	o.activities = append(o.activities, activity)
	return nil
}

func (o *outbound) Broadcast(ctx context.Context, actor *domain.Actor, inboxes []string, activity map[string]any) (int, error) {
	for _, inbox := range inboxes {
		_ = o.Send(ctx, actor, inbox, activity)
	}
	return 0, nil
}

func (o *outbound) sent() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.types...)
}

type serverFixture struct {
	store   storage.Storage
	handler http.Handler
	out     *outbound
	metrics *metrics.Metrics
	alice   *domain.Actor
	bob     *domain.Actor
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := log.New(io.Discard)

	store, err := docstore.OpenWithInterval("", logger, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	conf := &util.AppConfig{}
	conf.Conf.Domain = localDomain
	conf.Conf.Federation.AutoAcceptFollows = true

	keys, err := util.GeneratePemKeypair(1024)
	require.NoError(t, err)
	bob := &domain.Actor{Id: bobId, Username: "bob", Domain: "r.test", PublicKey: keys.Public, PrivateKey: keys.Private}

	resolver := fakeResolver{bob: bob}
	m := metrics.New()
	out := &outbound{}
	fanOut := timeline.New(store, logger, m)
	mediaStore := media.NewStore(t.TempDir(), "https://"+localDomain, 1<<20, store, logger)
	acts := actions.New(actions.Config{Domain: localDomain, KeyBits: 1024}, actions.Deps{
		Store:       store,
		Resolver:    resolver,
		Sender:      out,
		Broadcaster: out,
		Timelines:   fanOut,
		Media:       mediaStore,
		Logger:      logger,
	})
	processor := activitypub.NewProcessor(activitypub.ProcessorConfig{
		Store:        store,
		Keys:         activitypub.NewKeyResolver(store, resolver, logger),
		Profiles:     resolver,
		Fetcher:      activitypub.NewFetcher(http.DefaultClient, "pubengine-test"),
		Timelines:    fanOut,
		FetchTimeout: time.Second,
		Logger:       logger,
		Metrics:      m,
	})

	alice, err := acts.SetupAccount(context.Background(), actions.SetupParams{Email: aliceEmail, Username: "alice", Password: alicePass})
	require.NoError(t, err)

	server := NewServer(conf, Deps{
		Store:     store,
		Processor: processor,
		Actions:   acts,
		Media:     mediaStore,
		Metrics:   m,
		Logger:    logger,
	})
	return &serverFixture{store: store, handler: server.Handler(), out: out, metrics: m, alice: alice, bob: bob}
}

func (f *serverFixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func (f *serverFixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, httptest.NewRequest(http.MethodGet, target, nil))
}

func (f *serverFixture) api(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(aliceEmail, alicePass)
	return f.do(t, req)
}

// postSigned delivers activity from bob to path on l.test.
func (f *serverFixture) postSigned(t *testing.T, path string, activity map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(activity)
	require.NoError(t, err)
	headers, err := activitypub.Sign(f.bob, http.MethodPost, "https://"+localDomain+path, body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "https://"+localDomain+path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header[k] = v
	}
	req.Header.Del("Host")
	return f.do(t, req)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc), w.Body.String())
	return doc
}

func TestWebfingerRoute(t *testing.T) {
	f := newServerFixture(t)

	w := f.get(t, "/.well-known/webfinger?resource=acct:alice@l.test")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/jrd+json")

	var jrd webfingerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jrd))
	assert.Equal(t, "acct:alice@l.test", jrd.Subject)
	require.Len(t, jrd.Links, 1)
	assert.Equal(t, "self", jrd.Links[0].Rel)
	assert.Equal(t, activitypub.ContentTypeActivity, jrd.Links[0].Type)
	assert.Equal(t, f.alice.Id, jrd.Links[0].Href)

	for _, resource := range []string{"", "acct:nobody@l.test", "acct:alice@elsewhere.test", "mailto:alice@l.test"} {
		w := f.get(t, "/.well-known/webfinger?resource="+url.QueryEscape(resource))
		assert.Equal(t, http.StatusNotFound, w.Code, resource)
		assert.JSONEq(t, `{"detail":"Not Found"}`, w.Body.String())
	}
}

func TestActorRoute(t *testing.T) {
	f := newServerFixture(t)

	w := f.get(t, "/users/alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, activityContentType, w.Header().Get("Content-Type"))

	doc := decode(t, w)
	assert.Equal(t, f.alice.Id, doc["id"])
	assert.Equal(t, "Person", doc["type"])
	assert.Equal(t, "alice", doc["preferredUsername"])
	assert.Equal(t, f.alice.Inbox(), doc["inbox"])
	assert.Equal(t, f.alice.Outbox(), doc["outbox"])
	assert.Equal(t, f.alice.Followers(), doc["followers"])
	assert.Equal(t, f.alice.Following(), doc["following"])
	assert.Equal(t, false, doc["manuallyApprovesFollowers"])
	assert.Equal(t, map[string]any{"sharedInbox": "https://l.test/inbox"}, doc["endpoints"])

	key := doc["publicKey"].(map[string]any)
	assert.Equal(t, f.alice.KeyId(), key["id"])
	assert.Equal(t, f.alice.PublicKey, key["publicKeyPem"])

	assert.Equal(t, http.StatusNotFound, f.get(t, "/users/nobody").Code)
}

func followFromBob(target string) map[string]any {
	return followFromBobWithId("https://r.test/follows/1", target)
}

func followFromBobWithId(id, target string) map[string]any {
	return map[string]any{
		"@context": activitypub.ActivityStreamsContext,
		"id":       id,
		"type":     "Follow",
		"actor":    bobId,
		"object":   target,
	}
}

func TestInboxAutoAcceptsFollow(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	w := f.postSigned(t, "/users/alice/inbox", followFromBob(f.alice.Id))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	follow, err := f.store.GetFollowFromURI(ctx, "https://r.test/follows/1")
	require.NoError(t, err)
	assert.Equal(t, domain.FollowAccepted, follow.Status)
	assert.Equal(t, []string{"Accept"}, f.out.sent())

	// redelivery keeps one edge and is answered again
	w = f.postSigned(t, "/inbox", followFromBob(f.alice.Id))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"Accept", "Accept"}, f.out.sent())

	doc := decode(t, f.get(t, "/users/alice/followers"))
	assert.Equal(t, "OrderedCollection", doc["type"])
	assert.EqualValues(t, 1, doc["totalItems"])
	assert.Equal(t, f.alice.Followers()+"?page=1", doc["first"])

	page := decode(t, f.get(t, "/users/alice/followers?page=1"))
	assert.Equal(t, "OrderedCollectionPage", page["type"])
	assert.Equal(t, []any{bobId}, page["orderedItems"])
	assert.NotContains(t, page, "next")

	metricsBody := f.get(t, "/metrics").Body.String()
	assert.Contains(t, metricsBody, `pubengine_inbox_activities_total{result="accepted",type="Follow"} 2`)
}

func TestInboxAnswersFollowResentUnderNewId(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	for _, id := range []string{"https://r.test/follows/1", "https://r.test/follows/2"} {
		w := f.postSigned(t, "/users/alice/inbox", followFromBobWithId(id, f.alice.Id))
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	}

	require.Equal(t, []string{"Accept", "Accept"}, f.out.sent())
	for i, want := range []string{"https://r.test/follows/1", "https://r.test/follows/2"} {
		object := f.out.activities[i]["object"].(map[string]any)
		assert.Equal(t, want, object["id"])
		assert.Equal(t, bobId, object["actor"])
	}

	count, err := f.store.GetFollowersCount(ctx, f.alice.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInboxRejections(t *testing.T) {
	f := newServerFixture(t)

	// unsigned
	req := httptest.NewRequest(http.MethodPost, "/inbox", strings.NewReader(`{"type":"Follow"}`))
	assert.Equal(t, http.StatusBadRequest, f.do(t, req).Code)

	// unknown local user
	w := f.postSigned(t, "/users/nobody/inbox", followFromBob(f.alice.Id))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// follow of an unknown actor
	w = f.postSigned(t, "/inbox", followFromBob("https://l.test/users/nobody"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// body too large
	req = httptest.NewRequest(http.MethodPost, "/inbox", strings.NewReader(strings.Repeat("x", maxActivityBytes+1)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, f.do(t, req).Code)

	assert.Empty(t, f.out.sent())
}

func TestLocalAPIStatuses(t *testing.T) {
	f := newServerFixture(t)

	w := f.api(t, http.MethodPost, "/api/v1/statuses", statusRequest{Status: "Hello"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	note := decode(t, w)
	statusId := note["id"].(string)
	assert.Equal(t, "<p>Hello</p>", note["content"])
	assert.True(t, strings.HasPrefix(statusId, f.alice.Id+"/statuses/"))

	w = f.api(t, http.MethodGet, "/api/v1/timelines/main", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var statuses []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, statusId, statuses[0]["id"])

	w = f.api(t, http.MethodGet, "/api/v1/timelines/main?startAfterStatusId="+url.QueryEscape(statusId), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	assert.Equal(t, http.StatusNotFound, f.api(t, http.MethodGet, "/api/v1/timelines/home", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.api(t, http.MethodPost, "/api/v1/statuses", statusRequest{}).Code)

	// public endpoints see the note
	postId := strings.TrimPrefix(statusId, f.alice.Id+"/statuses/")
	w = f.get(t, "/users/alice/statuses/"+postId)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, statusId, decode(t, w)["id"])
	assert.Equal(t, http.StatusNotFound, f.get(t, "/users/alice/statuses/missing").Code)

	outbox := decode(t, f.get(t, "/users/alice/outbox"))
	assert.EqualValues(t, 1, outbox["totalItems"])
	page := decode(t, f.get(t, "/users/alice/outbox?page=1"))
	items := page["orderedItems"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "Create", items[0].(map[string]any)["type"])

	w = f.get(t, "/users/alice/feed")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/rss+xml")
	assert.Contains(t, w.Body.String(), "<rss")
	assert.Contains(t, w.Body.String(), statusId)

	assert.Equal(t, http.StatusNoContent, f.api(t, http.MethodDelete, "/api/v1/statuses/"+postId, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.api(t, http.MethodDelete, "/api/v1/statuses/"+postId, nil).Code)
}

func TestLocalAPIRequiresCredentials(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/timelines/main", nil)
	w := f.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/timelines/main", nil)
	req.SetBasicAuth(aliceEmail, "wrong password")
	assert.Equal(t, http.StatusUnauthorized, f.do(t, req).Code)
}

func TestLocalAPIReactionsOnRemoteStatus(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	remote := &domain.Status{
		Id:         bobId + "/statuses/1",
		ActorId:    bobId,
		Type:       domain.StatusNote,
		Text:       "<p>hi</p>",
		Visibility: domain.VisibilityPublic,
		To:         []string{domain.ActivityStreamsPublic},
		CreatedAt:  time.Now().UTC(),
	}
	_, err := f.store.CreateStatus(ctx, remote)
	require.NoError(t, err)
	escaped := url.PathEscape(remote.Id)

	w := f.api(t, http.MethodPost, "/api/v1/statuses/"+escaped+"/like", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	liked, err := f.store.IsActorLikedStatus(ctx, f.alice.Id, remote.Id)
	require.NoError(t, err)
	assert.True(t, liked)

	w = f.api(t, http.MethodPost, "/api/v1/statuses/"+escaped+"/reblog", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Announce", decode(t, w)["type"])

	assert.Equal(t, http.StatusNoContent, f.api(t, http.MethodPost, "/api/v1/statuses/"+escaped+"/unreblog", nil).Code)
	assert.Equal(t, http.StatusOK, f.api(t, http.MethodPost, "/api/v1/statuses/"+escaped+"/unlike", nil).Code)

	assert.Equal(t, []string{"Like", "Announce", "Undo", "Undo"}, f.out.sent())
	assert.Equal(t, http.StatusNotFound, f.api(t, http.MethodPost, "/api/v1/statuses/"+url.PathEscape(bobId+"/statuses/2")+"/like", nil).Code)
}

func TestLocalAPIFollows(t *testing.T) {
	f := newServerFixture(t)

	w := f.api(t, http.MethodPost, "/api/v1/accounts/follow", followRequest{Target: "@bob@r.test"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	doc := decode(t, w)
	assert.Equal(t, string(domain.FollowRequested), doc["status"])
	assert.Equal(t, bobId, doc["target"])

	assert.Equal(t, http.StatusNotFound, f.api(t, http.MethodPost, "/api/v1/accounts/follow", followRequest{Target: "@eve@nowhere.test"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.api(t, http.MethodPost, "/api/v1/accounts/follow", map[string]string{}).Code)
	assert.Equal(t, http.StatusNoContent, f.api(t, http.MethodPost, "/api/v1/accounts/unfollow", followRequest{Target: bobId}).Code)
	assert.Equal(t, []string{"Follow", "Undo"}, f.out.sent())

	assert.Equal(t, http.StatusBadRequest, f.api(t, http.MethodPost, "/api/v1/follows/not-a-uuid/accept", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.api(t, http.MethodPost, "/api/v1/follows/00000000-0000-0000-0000-000000000001/reject", nil).Code)
}

func TestManualFollowApproval(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	follow, err := f.store.CreateFollow(ctx, storage.CreateFollowParams{
		ActorId:       bobId,
		TargetActorId: f.alice.Id,
		Status:        domain.FollowRequested,
		Uri:           "https://r.test/follows/2",
		Inbox:         bobId + "/inbox",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, f.api(t, http.MethodPost, "/api/v1/follows/"+follow.Id.String()+"/accept", nil).Code)
	stored, err := f.store.GetFollowFromID(ctx, follow.Id)
	require.NoError(t, err)
	assert.Equal(t, domain.FollowAccepted, stored.Status)

	assert.Equal(t, http.StatusNoContent, f.api(t, http.MethodPost, "/api/v1/follows/"+follow.Id.String()+"/reject", nil).Code)
	stored, err = f.store.GetFollowFromID(ctx, follow.Id)
	require.NoError(t, err)
	assert.Equal(t, domain.FollowRejected, stored.Status)
	assert.Equal(t, []string{"Accept", "Reject"}, f.out.sent())
}

func upload(t *testing.T, f *serverFixture, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("description", "a dot"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v2/media", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.SetBasicAuth(aliceEmail, alicePass)
	return f.do(t, req)
}

func TestMediaUploadAndServe(t *testing.T) {
	f := newServerFixture(t)

	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 3, 2))))

	w := upload(t, f, "dot.png", img.Bytes())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	doc := decode(t, w)
	assert.Equal(t, "image/png", doc["type"])
	assert.Equal(t, "a dot", doc["description"])
	assert.Equal(t, map[string]any{"width": 3.0, "height": 2.0}, doc["meta"])

	mediaUrl := doc["url"].(string)
	require.True(t, strings.HasPrefix(mediaUrl, "https://l.test/media/"))
	w = f.get(t, strings.TrimPrefix(mediaUrl, "https://l.test"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, img.Bytes(), w.Body.Bytes())

	w = f.api(t, http.MethodPost, "/api/v1/statuses", statusRequest{Status: "look", MediaIds: []string{doc["id"].(string)}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	attachments := decode(t, w)["attachment"].([]any)
	require.Len(t, attachments, 1)
	assert.Equal(t, mediaUrl, attachments[0].(map[string]any)["url"])

	assert.Equal(t, http.StatusUnprocessableEntity, upload(t, f, "notes.txt", []byte("plain text")).Code)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/media/..").Code)
}
