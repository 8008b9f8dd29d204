package web

import (
	"net/http"
	"time"

	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/util"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/gorilla/feeds"
)

const feedSize = 20

// rssFeed renders the public notes of actor. Boosts and non-public statuses
// are left out.
func rssFeed(actor *domain.Actor, statuses []domain.Status) (string, error) {
	name := actor.Name
	if name == "" {
		name = actor.Username
	}
	feed := &feeds.Feed{
		Title:       name + " (" + actor.Handle() + ")",
		Link:        &feeds.Link{Href: actor.Id},
		Description: util.StripTags(actor.Summary),
		Author:      &feeds.Author{Name: name},
		Created:     actor.CreatedAt,
	}

	for _, status := range statuses {
		if status.Type == domain.StatusAnnounce || status.Visibility != domain.VisibilityPublic {
			continue
		}
		link := status.Url
		if link == "" {
			link = status.Id
		}
		title := status.Summary
		if title == "" {
			title = status.CreatedAt.UTC().Format(time.RFC1123)
		}
		feed.Items = append(feed.Items, &feeds.Item{
			Id:          status.Id,
			Title:       title,
			Link:        &feeds.Link{Href: link},
			Content:     status.Text,
			Description: util.StripTags(status.Text),
			Author:      &feeds.Author{Name: name},
			Created:     status.CreatedAt,
		})
	}
	if len(feed.Items) > 0 {
		feed.Updated = feed.Items[0].Created
	}
	return feed.ToRss()
}

func (s *Server) feed(c *gin.Context) {
	actor, ok := s.localActor(c)
	if !ok {
		return
	}
	statuses, err := s.store.GetStatuses(c.Request.Context(), actor.Id, feedSize, 0)
	if err != nil {
		s.fail(c, err)
		return
	}
	rss, err := rssFeed(actor, statuses)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Render(http.StatusOK, render.Data{ContentType: "application/rss+xml; charset=utf-8", Data: []byte(rss)})
}
