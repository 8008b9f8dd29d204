package web

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/deemkeen/pubengine/activitypub"
	"github.com/deemkeen/pubengine/domain"
	"github.com/gin-gonic/gin"
)

const itemsPerPage = 20

// collection renders the OrderedCollection at id, or page n of it.
type collection struct {
	id    string
	count func(ctx context.Context) (int, error)
	// items returns up to limit entries starting at offset.
	items func(ctx context.Context, limit, offset int) ([]any, error)
}

func (s *Server) renderCollection(c *gin.Context, col collection) {
	ctx := c.Request.Context()
	page := ParsePageParam(c.Query("page"))

	if page == 0 {
		total, err := col.count(ctx)
		if err != nil {
			s.fail(c, err)
			return
		}
		renderActivity(c, http.StatusOK, map[string]any{
			"@context":   activitypub.ActivityStreamsContext,
			"id":         col.id,
			"type":       "OrderedCollection",
			"totalItems": total,
			"first":      fmt.Sprintf("%s?page=1", col.id),
		})
		return
	}

	items, err := col.items(ctx, itemsPerPage+1, (page-1)*itemsPerPage)
	if err != nil {
		s.fail(c, err)
		return
	}
	doc := map[string]any{
		"@context": activitypub.ActivityStreamsContext,
		"id":       fmt.Sprintf("%s?page=%d", col.id, page),
		"type":     "OrderedCollectionPage",
		"partOf":   col.id,
	}
	if len(items) > itemsPerPage {
		items = items[:itemsPerPage]
		doc["next"] = fmt.Sprintf("%s?page=%d", col.id, page+1)
	}
	if page > 1 {
		doc["prev"] = fmt.Sprintf("%s?page=%d", col.id, page-1)
	}
	doc["orderedItems"] = items
	renderActivity(c, http.StatusOK, doc)
}

func (s *Server) followers(c *gin.Context) {
	actor, ok := s.localActor(c)
	if !ok {
		return
	}
	s.renderCollection(c, collection{
		id: actor.Followers(),
		count: func(ctx context.Context) (int, error) {
			return s.store.GetFollowersCount(ctx, actor.Id)
		},
		items: func(ctx context.Context, limit, offset int) ([]any, error) {
			follows, err := s.store.GetFollowers(ctx, actor.Id, domain.FollowAccepted)
			if err != nil {
				return nil, err
			}
			return window(follows, limit, offset, func(f domain.Follow) any { return f.ActorId }), nil
		},
	})
}

func (s *Server) following(c *gin.Context) {
	actor, ok := s.localActor(c)
	if !ok {
		return
	}
	s.renderCollection(c, collection{
		id: actor.Following(),
		count: func(ctx context.Context) (int, error) {
			return s.store.GetFollowingCount(ctx, actor.Id)
		},
		items: func(ctx context.Context, limit, offset int) ([]any, error) {
			follows, err := s.store.GetFollowing(ctx, actor.Id, domain.FollowAccepted)
			if err != nil {
				return nil, err
			}
			return window(follows, limit, offset, func(f domain.Follow) any { return f.TargetActorId }), nil
		},
	})
}

// outbox lists the actor's public activity: Create for notes and Announce
// for boosts. Private and direct statuses are counted but not listed.
func (s *Server) outbox(c *gin.Context) {
	actor, ok := s.localActor(c)
	if !ok {
		return
	}
	s.renderCollection(c, collection{
		id: actor.Outbox(),
		count: func(ctx context.Context) (int, error) {
			return s.store.CountStatus(ctx, actor.Id)
		},
		items: func(ctx context.Context, limit, offset int) ([]any, error) {
			statuses, err := s.store.GetStatuses(ctx, actor.Id, limit, offset)
			if err != nil {
				return nil, err
			}
			items := make([]any, 0, len(statuses))
			for i := range statuses {
				if !listed(&statuses[i]) {
					continue
				}
				items = append(items, outboxActivity(actor, &statuses[i]))
			}
			return items, nil
		},
	})
}

func outboxActivity(actor *domain.Actor, status *domain.Status) map[string]any {
	var activity map[string]any
	if status.Type == domain.StatusAnnounce {
		activity = activitypub.AnnounceEnvelope(actor, status)
	} else {
		activity = activitypub.CreateNoteEnvelope(actor, status)
	}
	activity["published"] = status.CreatedAt.UTC().Format("2006-01-02T15:04:05Z")
	delete(activity, "@context")
	return activity
}

func window[T any](all []T, limit, offset int, pick func(T) any) []any {
	if offset >= len(all) {
		return []any{}
	}
	end := min(offset+limit, len(all))
	out := make([]any, 0, end-offset)
	for _, v := range all[offset:end] {
		out = append(out, pick(v))
	}
	return out
}

// ParsePageParam extracts the page parameter from a query string
func ParsePageParam(pageStr string) int {
	if pageStr == "" {
		return 0
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 {
		return 0
	}
	return page
}
