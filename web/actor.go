package web

import (
	"net/http"
	"time"

	"github.com/deemkeen/pubengine/activitypub"
	"github.com/deemkeen/pubengine/domain"
	"github.com/gin-gonic/gin"
)

// localActor looks up the :username route parameter on this instance.
func (s *Server) localActor(c *gin.Context) (*domain.Actor, bool) {
	actor, err := s.store.GetActorFromUsername(c.Request.Context(), c.Param("username"), s.conf.Conf.Domain)
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return actor, true
}

func (s *Server) actorDocument(actor *domain.Actor) map[string]any {
	name := actor.Name
	if name == "" {
		name = actor.Username
	}
	doc := map[string]any{
		"@context":                  []any{activitypub.ActivityStreamsContext, activitypub.SecurityContext},
		"id":                        actor.Id,
		"type":                      "Person",
		"preferredUsername":         actor.Username,
		"name":                      name,
		"summary":                   actor.Summary,
		"inbox":                     actor.Inbox(),
		"outbox":                    actor.Outbox(),
		"followers":                 actor.Followers(),
		"following":                 actor.Following(),
		"url":                       actor.Id,
		"published":                 actor.CreatedAt.UTC().Format(time.RFC3339),
		"manuallyApprovesFollowers": !s.conf.Conf.Federation.AutoAcceptFollows,
		"discoverable":              true,
		"endpoints": map[string]any{
			"sharedInbox": actor.SharedInbox(),
		},
		"publicKey": map[string]any{
			"id":           actor.KeyId(),
			"owner":        actor.Id,
			"publicKeyPem": actor.PublicKey,
		},
	}
	if actor.IconUrl != "" {
		doc["icon"] = map[string]any{"type": "Image", "url": actor.IconUrl}
	}
	return doc
}

func (s *Server) actor(c *gin.Context) {
	actor, ok := s.localActor(c)
	if !ok {
		return
	}
	renderActivity(c, http.StatusOK, s.actorDocument(actor))
}

// status serves a public or unlisted status of the actor as its object.
func (s *Server) status(c *gin.Context) {
	actor, ok := s.localActor(c)
	if !ok {
		return
	}
	status, err := s.store.GetStatus(c.Request.Context(), actor.StatusId(c.Param("id")))
	if err != nil {
		s.fail(c, err)
		return
	}
	if status.ActorId != actor.Id || status.Type == domain.StatusAnnounce || !listed(status) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "status not found"})
		return
	}

	note := activitypub.NoteObject(status)
	note["@context"] = activitypub.ActivityStreamsContext
	renderActivity(c, http.StatusOK, note)
}

func listed(status *domain.Status) bool {
	return status.Visibility == domain.VisibilityPublic || status.Visibility == domain.VisibilityUnlisted
}
