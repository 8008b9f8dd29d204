package web

import (
	"errors"
	"net/http"

	"github.com/deemkeen/pubengine/activitypub"
	"github.com/gin-gonic/gin"
)

// inbox serves both the personal and the shared inbox. Routing inside the
// engine follows the activity, the personal path only has to exist.
func (s *Server) inbox(c *gin.Context) {
	if c.Param("username") != "" {
		if _, ok := s.localActor(c); !ok {
			return
		}
	}

	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	// net/http moves Host out of the header map, the signature covers it.
	header := c.Request.Header.Clone()
	header.Set("Host", c.Request.Host)

	ctx := c.Request.Context()
	result, activity := s.processor.Process(ctx, activitypub.InboundRequest{
		Method: c.Request.Method,
		Path:   c.Request.URL.RequestURI(),
		Header: header,
		Body:   body,
	})

	if follow, ok := activity.(*activitypub.FollowActivity); ok && result == activitypub.ResultAccepted &&
		s.conf.Conf.Federation.AutoAcceptFollows {
		if err := s.actions.AnswerFollow(ctx, follow.Actor, follow.Object, follow.Id); err != nil {
			s.log.Error("Auto-accept failed", "follow", follow.Id, "err", err)
		}
	}

	c.Status(result.StatusCode())
}
