package activitypub

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/metrics"
	"github.com/deemkeen/pubengine/storage"
)

type Result int

const (
	ResultAccepted Result = iota
	ResultNotFound
	ResultBadRequest
	ResultUnauthorized
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultAccepted:
		return "accepted"
	case ResultNotFound:
		return "not_found"
	case ResultBadRequest:
		return "bad_request"
	case ResultUnauthorized:
		return "unauthorized"
	}
	return "failed"
}

// StatusCode maps a result onto the inbox HTTP answer. A failed signature
// is reported as 400.
func (r Result) StatusCode() int {
	switch r {
	case ResultAccepted:
		return http.StatusAccepted
	case ResultNotFound:
		return http.StatusNotFound
	case ResultBadRequest, ResultUnauthorized:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// InboundRequest is what the inbox needs from an HTTP request. Header must
// carry Host.
type InboundRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

type KeyResolver interface {
	ResolveKey(ctx context.Context, keyId string) string
}

// KeyRefresher is implemented by key resolvers that cache remote keys.
// RefreshKey bypasses the cache.
type KeyRefresher interface {
	RefreshKey(ctx context.Context, keyId string) string
}

// FanOut places a stored status on local timelines.
type FanOut interface {
	FanOut(ctx context.Context, status *domain.Status) error
}

// Processor is the inbound state machine.
type Processor struct {
	store     storage.Storage
	keys      KeyResolver
	profiles  ProfileResolver
	fetcher   *Fetcher
	timelines FanOut
	timeout   time.Duration
	log       *log.Logger
	metrics   *metrics.Metrics
}

type ProcessorConfig struct {
	Store        storage.Storage
	Keys         KeyResolver
	Profiles     ProfileResolver
	Fetcher      *Fetcher
	Timelines    FanOut
	FetchTimeout time.Duration
	Logger       *log.Logger
	Metrics      *metrics.Metrics
}

func NewProcessor(c ProcessorConfig) *Processor {
	return &Processor{
		store:     c.Store,
		keys:      c.Keys,
		profiles:  c.Profiles,
		fetcher:   c.Fetcher,
		timelines: c.Timelines,
		timeout:   c.FetchTimeout,
		log:       c.Logger,
		metrics:   c.Metrics,
	}
}

var _ Visitor = (*Processor)(nil)

// Process authenticates, normalizes and applies one inbound activity. The
// parsed activity is returned for every result past parsing.
func (p *Processor) Process(ctx context.Context, req InboundRequest) (Result, Activity) {
	keyId := SignatureKeyId(req.Header)
	if keyId == "" {
		p.log.Warn("Missing HTTP signature", "path", req.Path)
		return p.done("unknown", ResultUnauthorized), nil
	}

	if err := p.verify(ctx, req, keyId); err != nil {
		p.log.Warn("Signature verification failed", "keyId", keyId, "err", err)
		return p.done("unknown", ResultUnauthorized), nil
	}

	doc, err := DecodeDocument(req.Body)
	if err != nil {
		p.log.Warn("Invalid activity body", "keyId", keyId, "err", err)
		return p.done("unknown", ResultBadRequest), nil
	}

	activity, err := Parse(doc)
	switch {
	case errors.Is(err, ErrUnsupportedActivity):
		p.log.Info("Unsupported activity", "type", doc.Type(), "err", err)
		return p.done(doc.Type(), ResultNotFound), nil
	case err != nil:
		p.log.Warn("Malformed activity", "type", doc.Type(), "err", err)
		return p.done(doc.Type(), ResultBadRequest), nil
	}

	env := EnvelopeOf(activity)
	if domain.DomainOf(env.Actor) != domain.DomainOf(keyId) {
		p.log.Warn("Activity actor does not match signer", "actor", env.Actor, "keyId", keyId)
		return p.done(activity.Type(), ResultUnauthorized), activity
	}

	p.log.Info("Received activity", "type", activity.Type(), "id", env.Id, "actor", env.Actor)
	return p.done(activity.Type(), activity.Visit(ctx, p)), activity
}

// verify checks the signature against the resolved key and, once, against a
// freshly fetched key when the first one does not match.
func (p *Processor) verify(ctx context.Context, req InboundRequest, keyId string) error {
	publicKey := p.keys.ResolveKey(ctx, keyId)
	err := VerifyRequest(req.Method, req.Path, req.Header, req.Body, publicKey)
	if err == nil {
		return nil
	}
	refresher, ok := p.keys.(KeyRefresher)
	if !ok {
		return err
	}
	fresh := refresher.RefreshKey(ctx, keyId)
	if fresh == "" || fresh == publicKey {
		return err
	}
	p.log.Debug("Retrying signature with a refreshed key", "keyId", keyId)
	return VerifyRequest(req.Method, req.Path, req.Header, req.Body, fresh)
}

func (p *Processor) done(activityType string, result Result) Result {
	p.metrics.ObserveInbox(activityType, result.String())
	return result
}

func (p *Processor) VisitCreate(ctx context.Context, a *CreateActivity) Result {
	status := statusFromObject(a.Object, &a.Envelope)
	if status.ActorId != a.Actor {
		p.log.Warn("Create for a status of another actor", "actor", a.Actor, "attributedTo", status.ActorId)
		return ResultBadRequest
	}
	return p.ingest(ctx, status)
}

// ingest stores status and fans it out the first time it is seen.
func (p *Processor) ingest(ctx context.Context, status *domain.Status) Result {
	created, err := p.store.CreateStatus(ctx, status)
	if err != nil {
		p.log.Error("Failed to store status", "id", status.Id, "err", err)
		return ResultFailed
	}
	if !created {
		p.log.Debug("Status already known", "id", status.Id)
		return ResultAccepted
	}
	if err := p.timelines.FanOut(ctx, status); err != nil {
		p.log.Error("Fan-out failed", "id", status.Id, "err", err)
	}
	return ResultAccepted
}

func (p *Processor) VisitAnnounce(ctx context.Context, a *AnnounceActivity) Result {
	if _, err := p.store.GetStatus(ctx, a.Id); err == nil {
		return ResultAccepted
	}

	original, err := p.store.GetStatus(ctx, a.ObjectId)
	if errors.Is(err, storage.ErrNotFound) {
		original = p.fetchStatus(ctx, a)
		if original == nil {
			p.log.Info("Announced status unavailable", "object", a.ObjectId)
			return ResultNotFound
		}
		if _, err := p.store.CreateStatus(ctx, original); err != nil {
			p.log.Error("Failed to store announced status", "id", original.Id, "err", err)
			return ResultFailed
		}
	} else if err != nil {
		p.log.Error("Status lookup failed", "id", a.ObjectId, "err", err)
		return ResultFailed
	}
	if original.IsAnnounce() {
		return ResultBadRequest
	}

	return p.ingest(ctx, &domain.Status{
		Id:               a.Id,
		ActorId:          a.Actor,
		Type:             domain.StatusAnnounce,
		OriginalStatusId: original.Id,
		To:               a.To,
		Cc:               a.Cc,
		Visibility:       domain.VisibilityOf(a.To, a.Cc, a.Actor+"/followers"),
		CreatedAt:        publishedOrNow(a.Published),
	})
}

// fetchStatus dereferences the announced object. The embedded copy is only
// trusted when it comes from the announcer's own server.
func (p *Processor) fetchStatus(ctx context.Context, a *AnnounceActivity) *domain.Status {
	if p.fetcher != nil {
		res := p.fetcher.Get(ctx, a.ObjectId, acceptActivity, p.timeout)
		p.metrics.ObserveFetch("object", res.Outcome.String())
		if res.Success() {
			if doc, err := DecodeDocument(res.Body); err == nil && doc.String("id") == a.ObjectId {
				if status := noteStatus(doc); status != nil {
					return status
				}
			}
		}
	}
	if a.Object != nil && domain.DomainOf(a.Object.String("id")) == domain.DomainOf(a.Actor) {
		return noteStatus(a.Object)
	}
	return nil
}

func noteStatus(doc Document) *domain.Status {
	if t := doc.Type(); t != "Note" && t != "Question" {
		return nil
	}
	status := statusFromObject(doc, nil)
	if status.Id == "" || status.ActorId == "" {
		return nil
	}
	return status
}

func (p *Processor) VisitFollow(ctx context.Context, a *FollowActivity) Result {
	target, err := p.store.GetActorFromID(ctx, a.Object)
	if errors.Is(err, storage.ErrNotFound) {
		return ResultNotFound
	}
	if err != nil {
		p.log.Error("Actor lookup failed", "id", a.Object, "err", err)
		return ResultFailed
	}

	follower, err := p.profiles.ResolveProfile(ctx, a.Actor)
	if err != nil || follower == nil {
		p.log.Warn("Cannot resolve follower", "actor", a.Actor, "err", err)
		return ResultNotFound
	}

	follow, err := p.store.CreateFollow(ctx, storage.CreateFollowParams{
		ActorId:       a.Actor,
		TargetActorId: target.Id,
		Status:        domain.FollowRequested,
		Uri:           a.Id,
		Inbox:         follower.Inbox,
		SharedInbox:   follower.SharedInbox,
	})
	if err != nil {
		p.log.Error("Failed to store follow", "actor", a.Actor, "target", target.Id, "err", err)
		return ResultFailed
	}
	p.log.Info("Follow request", "follower", a.Actor, "target", target.Handle(), "status", follow.Status)
	return ResultAccepted
}

// followFor locates the follow an Accept or Reject answers. Only the
// follow's target may answer it.
func (p *Processor) followFor(ctx context.Context, env *Envelope, objectId string, inner *FollowActivity) (*domain.Follow, Result) {
	follow, err := p.store.GetFollowFromURI(ctx, objectId)
	if errors.Is(err, storage.ErrNotFound) && inner != nil && inner.Actor != "" {
		follow, err = p.store.GetAcceptedOrRequestedFollow(ctx, inner.Actor, env.Actor)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ResultNotFound
	}
	if err != nil {
		p.log.Error("Follow lookup failed", "object", objectId, "err", err)
		return nil, ResultFailed
	}
	if follow.TargetActorId != env.Actor {
		p.log.Warn("Follow answered by a third party", "follow", follow.Id, "actor", env.Actor)
		return nil, ResultNotFound
	}
	return follow, ResultAccepted
}

func (p *Processor) VisitAccept(ctx context.Context, a *AcceptActivity) Result {
	follow, result := p.followFor(ctx, &a.Envelope, a.ObjectId, a.Follow)
	if follow == nil {
		return result
	}
	if follow.Status != domain.FollowRequested {
		return ResultAccepted
	}
	if err := p.store.UpdateFollowStatus(ctx, follow.Id, domain.FollowAccepted); err != nil {
		p.log.Error("Failed to accept follow", "follow", follow.Id, "err", err)
		return ResultFailed
	}
	return ResultAccepted
}

func (p *Processor) VisitReject(ctx context.Context, a *RejectActivity) Result {
	follow, result := p.followFor(ctx, &a.Envelope, a.ObjectId, a.Follow)
	if follow == nil {
		return result
	}
	if !follow.Status.IsActive() {
		return ResultAccepted
	}
	if err := p.store.UpdateFollowStatus(ctx, follow.Id, domain.FollowRejected); err != nil {
		p.log.Error("Failed to reject follow", "follow", follow.Id, "err", err)
		return ResultFailed
	}
	p.dropTimeline(ctx, follow)
	return ResultAccepted
}

// dropTimeline removes what a now inactive follow put on a local follower's
// timelines.
func (p *Processor) dropTimeline(ctx context.Context, follow *domain.Follow) {
	if err := p.store.DeleteTimelineStatusesByAuthor(ctx, follow.ActorId, follow.TargetActorId); err != nil {
		p.log.Error("Failed to clean timeline", "actor", follow.ActorId, "author", follow.TargetActorId, "err", err)
	}
}

// VisitLike records likes of known statuses. A like of an unknown status is
// acknowledged and dropped.
func (p *Processor) VisitLike(ctx context.Context, a *LikeActivity) Result {
	_, err := p.store.GetStatus(ctx, a.Object)
	if errors.Is(err, storage.ErrNotFound) {
		p.log.Debug("Like of an unknown status", "status", a.Object, "actor", a.Actor)
		return ResultAccepted
	}
	if err != nil {
		p.log.Error("Status lookup failed", "id", a.Object, "err", err)
		return ResultFailed
	}
	if err := p.store.CreateLike(ctx, a.Actor, a.Object); err != nil {
		p.log.Error("Failed to store like", "status", a.Object, "err", err)
		return ResultFailed
	}
	return ResultAccepted
}

func (p *Processor) VisitDelete(ctx context.Context, a *DeleteActivity) Result {
	status, err := p.store.GetStatus(ctx, a.ObjectId)
	if errors.Is(err, storage.ErrNotFound) {
		return ResultAccepted
	}
	if err != nil {
		p.log.Error("Status lookup failed", "id", a.ObjectId, "err", err)
		return ResultFailed
	}
	if status.ActorId != a.Actor {
		p.log.Warn("Delete by someone else than the author", "status", status.Id, "actor", a.Actor)
		return ResultUnauthorized
	}
	if err := p.store.DeleteStatus(ctx, status.Id); err != nil {
		p.log.Error("Failed to delete status", "id", status.Id, "err", err)
		return ResultFailed
	}
	return ResultAccepted
}

func (p *Processor) VisitUndo(ctx context.Context, a *UndoActivity) Result {
	switch inner := a.Inner.(type) {
	case *FollowActivity:
		return p.undoFollow(ctx, a.Actor, inner.Object)
	case *LikeActivity:
		if err := p.store.DeleteLike(ctx, a.Actor, inner.Object); err != nil {
			p.log.Error("Failed to delete like", "status", inner.Object, "err", err)
			return ResultFailed
		}
		return ResultAccepted
	case *AnnounceActivity:
		return p.undoAnnounce(ctx, a.Actor, inner.Id, inner.ObjectId)
	case nil:
	default:
		return ResultNotFound
	}

	// only a reference was sent
	follow, err := p.store.GetFollowFromURI(ctx, a.ObjectId)
	if err == nil && follow.ActorId == a.Actor {
		return p.undoFollow(ctx, a.Actor, follow.TargetActorId)
	}
	if status, err := p.store.GetStatus(ctx, a.ObjectId); err == nil && status.IsAnnounce() {
		return p.undoAnnounce(ctx, a.Actor, status.Id, status.OriginalStatusId)
	}
	return ResultNotFound
}

func (p *Processor) undoFollow(ctx context.Context, actorId, targetId string) Result {
	follow, err := p.store.GetAcceptedOrRequestedFollow(ctx, actorId, targetId)
	if errors.Is(err, storage.ErrNotFound) {
		return ResultNotFound
	}
	if err != nil {
		p.log.Error("Follow lookup failed", "actor", actorId, "target", targetId, "err", err)
		return ResultFailed
	}
	if err := p.store.UpdateFollowStatus(ctx, follow.Id, domain.FollowUndo); err != nil {
		p.log.Error("Failed to undo follow", "follow", follow.Id, "err", err)
		return ResultFailed
	}
	p.dropTimeline(ctx, follow)
	return ResultAccepted
}

func (p *Processor) undoAnnounce(ctx context.Context, actorId, announceId, originalId string) Result {
	announce, err := p.store.GetStatus(ctx, announceId)
	if err != nil || !announce.IsAnnounce() || announce.ActorId != actorId {
		announce, err = p.store.GetAnnounce(ctx, actorId, originalId)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return ResultAccepted
	}
	if err != nil {
		p.log.Error("Announce lookup failed", "id", announceId, "err", err)
		return ResultFailed
	}
	if err := p.store.DeleteStatus(ctx, announce.Id); err != nil {
		p.log.Error("Failed to delete announce", "id", announce.Id, "err", err)
		return ResultFailed
	}
	return ResultAccepted
}

// statusFromObject maps a Note or Question onto a status. env supplies the
// addressing and author when the object lacks them.
func statusFromObject(object Document, env *Envelope) *domain.Status {
	status := &domain.Status{
		Id:           object.String("id"),
		Url:          object.Id("url"),
		ActorId:      object.Id("attributedTo"),
		Type:         domain.StatusNote,
		Text:         object.String("content"),
		Summary:      object.String("summary"),
		Sensitive:    object.Bool("sensitive"),
		To:           object.Strings("to"),
		Cc:           object.Strings("cc"),
		Reply:        object.Id("inReplyTo"),
		Conversation: object.String("conversation"),
		CreatedAt:    object.Time("published"),
	}
	if env != nil {
		if status.ActorId == "" {
			status.ActorId = env.Actor
		}
		if len(status.To) == 0 && len(status.Cc) == 0 {
			status.To, status.Cc = env.To, env.Cc
		}
		if status.CreatedAt.IsZero() {
			status.CreatedAt = env.Published
		}
	}
	status.CreatedAt = publishedOrNow(status.CreatedAt)
	if status.Url == "" {
		status.Url = status.Id
	}

	if contentMap := object.ContentMap(); len(contentMap) > 0 {
		langs := make([]string, 0, len(contentMap))
		for lang := range contentMap {
			langs = append(langs, lang)
		}
		slices.Sort(langs)
		status.Language = langs[0]
		if status.Text == "" {
			status.Text = contentMap[langs[0]]
		}
	}

	if object.Type() == "Question" {
		status.Type = domain.StatusQuestion
		choices := object.Objects("oneOf")
		if len(choices) == 0 {
			choices = object.Objects("anyOf")
		}
		for _, choice := range choices {
			votes := 0
			if replies, ok := choice.Object("replies"); ok {
				votes = replies.Int("totalItems")
			}
			status.Choices = append(status.Choices, domain.PollChoice{Title: choice.String("name"), Votes: votes})
		}
	}

	for _, attachment := range object.Objects("attachment") {
		status.Attachments = append(status.Attachments, domain.Attachment{
			Url:       attachment.Id("url"),
			MediaType: attachment.String("mediaType"),
			Name:      attachment.String("name"),
			Width:     attachment.Int("width"),
			Height:    attachment.Int("height"),
		})
	}

	status.Visibility = domain.VisibilityOf(status.To, status.Cc, status.ActorId+"/followers")
	return status
}

func publishedOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
