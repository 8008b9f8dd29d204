package actions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/deemkeen/pubengine/activitypub"
	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
	"github.com/deemkeen/pubengine/util"
	"github.com/google/uuid"
)

const maxNoteLength = 5000

type NoteInput struct {
	Text      string
	ReplyTo   string
	Summary   string
	Sensitive bool
	MediaIds  []string
}

// CreateNote publishes a public note by actor. A reply addresses the
// replied author and joins its conversation.
func (a *Actions) CreateNote(ctx context.Context, actor *domain.Actor, in NoteInput) (*domain.Status, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" && len(in.MediaIds) == 0 {
		return nil, fmt.Errorf("%w: empty note", ErrInvalidInput)
	}
	if len([]rune(text)) > maxNoteLength {
		return nil, fmt.Errorf("%w: note longer than %d characters", ErrInvalidInput, maxNoteLength)
	}

	postId := uuid.New().String()
	now := time.Now().UTC()
	status := &domain.Status{
		Id:         actor.StatusId(postId),
		Url:        actor.StatusUrl(postId),
		ActorId:    actor.Id,
		Type:       domain.StatusNote,
		Text:       util.FormatContent(text),
		Summary:    in.Summary,
		Sensitive:  in.Sensitive,
		Visibility: domain.VisibilityPublic,
		To:         []string{domain.ActivityStreamsPublic},
		Cc:         []string{actor.Followers()},
		MediaIds:   in.MediaIds,
		CreatedAt:  now,
	}

	var replied *domain.Status
	if in.ReplyTo != "" {
		var err error
		replied, err = a.store.GetStatus(ctx, in.ReplyTo)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		status.Reply = in.ReplyTo
	}
	if replied != nil {
		if replied.ActorId != actor.Id && !slices.Contains(status.To, replied.ActorId) {
			status.To = append(status.To, replied.ActorId)
		}
		status.Conversation = replied.Conversation
	}
	if status.Conversation == "" {
		status.Conversation = conversationTag(a.conf.Domain, now)
	}

	if len(in.MediaIds) > 0 {
		if a.media == nil {
			return nil, fmt.Errorf("%w: media uploads are disabled", ErrInvalidInput)
		}
		attachments, err := a.media.Attachments(ctx, actor.Id, in.MediaIds)
		if err != nil {
			return nil, err
		}
		status.Attachments = attachments
	}

	if _, err := a.store.CreateStatus(ctx, status); err != nil {
		return nil, fmt.Errorf("store note: %w", err)
	}
	if err := a.timelines.FanOut(ctx, status); err != nil {
		a.log.Error("Fan-out failed", "status", status.Id, "err", err)
	}

	var extra []string
	if replied != nil && replied.ActorId != actor.Id {
		extra = append(extra, replied.ActorId)
	}
	a.broadcast(ctx, actor, activitypub.CreateNoteEnvelope(actor, status), extra...)

	a.log.Info("Note created", "status", status.Id)
	return status, nil
}

func conversationTag(host string, at time.Time) string {
	return fmt.Sprintf("tag:%s,%s:objectId=%s:objectType=Conversation", host, at.Format(time.DateOnly), uuid.New())
}

// DeleteStatus removes one of actor's statuses everywhere. Deleting an
// announce undoes it.
func (a *Actions) DeleteStatus(ctx context.Context, actor *domain.Actor, statusId string) error {
	status, err := a.ownStatus(ctx, actor, statusId)
	if err != nil {
		return err
	}
	if err := a.store.DeleteStatus(ctx, status.Id); err != nil {
		return fmt.Errorf("delete status: %w", err)
	}

	if status.IsAnnounce() {
		a.broadcast(ctx, actor, activitypub.UndoAnnounceEnvelope(actor, status), a.originalAuthor(ctx, status))
		return nil
	}
	a.broadcast(ctx, actor, activitypub.DeleteEnvelope(actor, status), addressedActors(status)...)
	return nil
}

// addressedActors lists the remote actors a status names directly.
func addressedActors(status *domain.Status) []string {
	var ids []string
	for _, id := range append(slices.Clone(status.To), status.Cc...) {
		if id == domain.ActivityStreamsPublic || id == status.ActorId {
			continue
		}
		if _, ok := domain.FollowersOwner(id); ok {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// UploadMedia stores an image for a later note.
func (a *Actions) UploadMedia(ctx context.Context, actor *domain.Actor, r io.Reader, description string) (*domain.Media, error) {
	if a.media == nil {
		return nil, fmt.Errorf("%w: media uploads are disabled", ErrInvalidInput)
	}
	return a.media.Save(ctx, actor.Id, r, description)
}
