package activitypub

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/metrics"
	"github.com/deemkeen/pubengine/storage"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
)

func envelope(actor *domain.Actor, id, activityType string, to, cc []string, object any) map[string]any {
	activity := map[string]any{
		"@context":  ActivityStreamsContext,
		"id":        id,
		"type":      activityType,
		"actor":     actor.Id,
		"published": time.Now().UTC().Format(time.RFC3339),
		"object":    object,
	}
	if len(to) > 0 {
		activity["to"] = to
	}
	if len(cc) > 0 {
		activity["cc"] = cc
	}
	return activity
}

// NoteObject renders a local Note or Question.
func NoteObject(status *domain.Status) map[string]any {
	note := map[string]any{
		"id":           status.Id,
		"type":         string(status.Type),
		"attributedTo": status.ActorId,
		"content":      status.Text,
		"published":    status.CreatedAt.UTC().Format(time.RFC3339),
		"to":           nonNil(status.To),
		"cc":           nonNil(status.Cc),
		"sensitive":    status.Sensitive,
	}
	if status.Url != "" {
		note["url"] = status.Url
	}
	if status.Summary != "" {
		note["summary"] = status.Summary
	}
	if status.Reply != "" {
		note["inReplyTo"] = status.Reply
	}
	if status.Conversation != "" {
		note["conversation"] = status.Conversation
	}
	if status.Language != "" {
		note["contentMap"] = map[string]string{status.Language: status.Text}
	}

	attachments := make([]map[string]any, 0, len(status.Attachments))
	for _, a := range status.Attachments {
		attachment := map[string]any{"type": "Document", "url": a.Url, "mediaType": a.MediaType}
		if a.Name != "" {
			attachment["name"] = a.Name
		}
		if a.Width > 0 && a.Height > 0 {
			attachment["width"], attachment["height"] = a.Width, a.Height
		}
		attachments = append(attachments, attachment)
	}
	if len(attachments) > 0 {
		note["attachment"] = attachments
	}

	if status.Type == domain.StatusQuestion {
		options := make([]map[string]any, 0, len(status.Choices))
		for _, c := range status.Choices {
			options = append(options, map[string]any{
				"type":    "Note",
				"name":    c.Title,
				"replies": map[string]any{"type": "Collection", "totalItems": c.Votes},
			})
		}
		note["oneOf"] = options
	}
	return note
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// CreateNoteEnvelope wraps a new local status, id <status>/activity.
func CreateNoteEnvelope(actor *domain.Actor, status *domain.Status) map[string]any {
	activity := envelope(actor, status.Id+"/activity", "Create", status.To, status.Cc, NoteObject(status))
	activity["published"] = status.CreatedAt.UTC().Format(time.RFC3339)
	return activity
}

func AnnounceEnvelope(actor *domain.Actor, announce *domain.Status) map[string]any {
	activity := envelope(actor, announce.Id+"/activity", "Announce", announce.To, announce.Cc, announce.OriginalStatusId)
	activity["published"] = announce.CreatedAt.UTC().Format(time.RFC3339)
	return activity
}

func UndoAnnounceEnvelope(actor *domain.Actor, announce *domain.Status) map[string]any {
	return envelope(actor, announce.Id+"#undo", "Undo", announce.To, announce.Cc, AnnounceEnvelope(actor, announce))
}

// DeleteEnvelope federates the deletion of status as a Tombstone.
func DeleteEnvelope(actor *domain.Actor, status *domain.Status) map[string]any {
	tombstone := map[string]any{
		"id":         status.Id,
		"type":       "Tombstone",
		"formerType": string(status.Type),
		"deleted":    time.Now().UTC().Format(time.RFC3339),
	}
	to := status.To
	if len(to) == 0 {
		to = []string{domain.ActivityStreamsPublic}
	}
	return envelope(actor, status.Id+"#delete", "Delete", to, status.Cc, tombstone)
}

// NewFollowUri returns a fresh follow activity id on the actor's domain.
func NewFollowUri(actor *domain.Actor) string {
	return fmt.Sprintf("https://%s/%s", actor.Domain, uuid.New())
}

func FollowEnvelope(actor *domain.Actor, followUri, targetId string) map[string]any {
	return envelope(actor, followUri, "Follow", []string{targetId}, nil, targetId)
}

func UndoFollowEnvelope(actor *domain.Actor, follow *domain.Follow) map[string]any {
	id := fmt.Sprintf("%s#follows/%s/undo", actor.Id, follow.Id)
	return envelope(actor, id, "Undo", []string{follow.TargetActorId}, nil,
		FollowEnvelope(actor, follow.Uri, follow.TargetActorId))
}

func followObject(follow *domain.Follow) map[string]any {
	return map[string]any{
		"id":     follow.Uri,
		"type":   "Follow",
		"actor":  follow.ActorId,
		"object": follow.TargetActorId,
	}
}

func AcceptEnvelope(actor *domain.Actor, follow *domain.Follow) map[string]any {
	return envelope(actor, actor.Id+"#accepts/followers", "Accept", []string{follow.ActorId}, nil, followObject(follow))
}

func RejectEnvelope(actor *domain.Actor, follow *domain.Follow) map[string]any {
	return envelope(actor, actor.Id+"#rejects/followers", "Reject", []string{follow.ActorId}, nil, followObject(follow))
}

// LikeId is stable per (actor, status) so a repeated like keeps its id.
func LikeId(actor *domain.Actor, statusId string) string {
	sum := blake3.Sum256([]byte(statusId))
	return fmt.Sprintf("%s#likes/%s", actor.Id, hex.EncodeToString(sum[:16]))
}

func LikeEnvelope(actor *domain.Actor, status *domain.Status) map[string]any {
	return envelope(actor, LikeId(actor, status.Id), "Like", []string{status.ActorId}, nil, status.Id)
}

func UndoLikeEnvelope(actor *domain.Actor, status *domain.Status) map[string]any {
	return envelope(actor, LikeId(actor, status.Id)+"/undo", "Undo", []string{status.ActorId}, nil,
		LikeEnvelope(actor, status))
}

// Sender signs and posts activities to one inbox at a time.
type Sender struct {
	fetcher *Fetcher
	timeout time.Duration
	log     *log.Logger
	metrics *metrics.Metrics
}

func NewSender(fetcher *Fetcher, timeout time.Duration, logger *log.Logger, m *metrics.Metrics) *Sender {
	return &Sender{fetcher: fetcher, timeout: timeout, log: logger, metrics: m}
}

// Send succeeds on any 2xx answer.
func (s *Sender) Send(ctx context.Context, actor *domain.Actor, inbox string, activity map[string]any) error {
	body, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}
	return s.SendRaw(ctx, actor, inbox, body)
}

func (s *Sender) SendRaw(ctx context.Context, actor *domain.Actor, inbox string, body []byte) error {
	headers, err := Sign(actor, http.MethodPost, inbox, body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header = headers
	req.Header.Set("Accept", ContentTypeActivity)

	start := time.Now()
	res := s.fetcher.Do(ctx, req, s.timeout)
	switch {
	case res.Outcome != FetchOK:
		s.metrics.ObserveDelivery(res.Outcome.String(), time.Since(start))
		return fmt.Errorf("deliver to %s: %s: %w", inbox, res.Outcome, res.Err)
	case !res.Success():
		s.metrics.ObserveDelivery("rejected", time.Since(start))
		return fmt.Errorf("deliver to %s: remote answered %d", inbox, res.StatusCode)
	}
	s.metrics.ObserveDelivery("ok", time.Since(start))
	s.log.Debug("Delivered", "inbox", inbox, "status", res.StatusCode)
	return nil
}

type Deliverer interface {
	SendRaw(ctx context.Context, actor *domain.Actor, inbox string, body []byte) error
}

// Broadcaster fans one activity out to many inboxes.
type Broadcaster struct {
	sender      Deliverer
	store       storage.Storage
	concurrency int
	retry       bool
	log         *log.Logger
}

func NewBroadcaster(sender Deliverer, store storage.Storage, concurrency int, retry bool, logger *log.Logger) *Broadcaster {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Broadcaster{sender: sender, store: store, concurrency: concurrency, retry: retry, log: logger}
}

// Broadcast delivers activity to every distinct inbox and returns the number
// of failed deliveries. A failure never stops the others.
func (b *Broadcaster) Broadcast(ctx context.Context, actor *domain.Actor, inboxes []string, activity map[string]any) (int, error) {
	body, err := json.Marshal(activity)
	if err != nil {
		return 0, fmt.Errorf("marshal activity: %w", err)
	}

	targets := slices.Clone(inboxes)
	slices.Sort(targets)
	targets = slices.Compact(targets)
	targets = slices.DeleteFunc(targets, func(s string) bool { return s == "" })

	var (
		g      errgroup.Group
		failed = make([]bool, len(targets))
	)
	g.SetLimit(b.concurrency)
	for i, inbox := range targets {
		g.Go(func() error {
			if err := b.sender.SendRaw(ctx, actor, inbox, body); err != nil {
				failed[i] = true
				b.log.Warn("Delivery failed", "inbox", inbox, "activity", activity["id"], "err", err)
				b.enqueue(ctx, actor, inbox, body)
			}
			return nil
		})
	}
	_ = g.Wait()

	count := 0
	for _, f := range failed {
		if f {
			count++
		}
	}
	b.log.Info("Broadcast done", "activity", activity["id"], "inboxes", len(targets), "failed", count)
	return count, nil
}

func (b *Broadcaster) enqueue(ctx context.Context, actor *domain.Actor, inbox string, body []byte) {
	if !b.retry {
		return
	}
	now := time.Now().UTC()
	job := domain.DeliveryJob{
		Id:           uuid.New(),
		ActorId:      actor.Id,
		Inbox:        inbox,
		ActivityJSON: string(body),
		Attempts:     1,
		NextRetryAt:  now.Add(retryBackoff[0]),
		CreatedAt:    now,
	}
	if err := b.store.EnqueueDelivery(ctx, job); err != nil {
		b.log.Error("Failed to queue delivery", "inbox", inbox, "err", err)
	}
}
