package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/deemkeen/pubengine/activitypub"
	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
	"github.com/gin-gonic/gin"
)

const jrdContentType = "application/jrd+json; charset=utf-8"

type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href"`
}

type webfingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []webfingerLink `json:"links"`
}

func webfingerFor(actor *domain.Actor) webfingerResponse {
	return webfingerResponse{
		Subject: "acct:" + actor.Username + "@" + actor.Domain,
		Aliases: []string{actor.Id},
		Links: []webfingerLink{
			{Rel: "self", Type: activitypub.ContentTypeActivity, Href: actor.Id},
		},
	}
}

// webfingerUsername extracts the local username from an acct: resource or
// an actor id. It returns "" for resources of other domains.
func webfingerUsername(resource, localDomain string) string {
	if acct, ok := strings.CutPrefix(resource, "acct:"); ok {
		username, host, found := strings.Cut(strings.TrimPrefix(acct, "@"), "@")
		if found && !strings.EqualFold(host, localDomain) {
			return ""
		}
		return username
	}
	if prefix := domain.ActorId(localDomain, ""); strings.HasPrefix(resource, prefix) {
		return strings.TrimPrefix(resource, prefix)
	}
	return ""
}

func (s *Server) webfinger(c *gin.Context) {
	c.Header("Content-Type", jrdContentType)

	username := webfingerUsername(c.Query("resource"), s.conf.Conf.Domain)
	if username == "" || strings.Contains(username, "/") {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}

	actor, err := s.store.GetActorFromUsername(c.Request.Context(), strings.ToLower(username), s.conf.Conf.Domain)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, webfingerFor(actor))
}
