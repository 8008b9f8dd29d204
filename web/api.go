package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/deemkeen/pubengine/actions"
	"github.com/deemkeen/pubengine/activitypub"
	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type statusRequest struct {
	Status      string   `json:"status"`
	InReplyToId string   `json:"in_reply_to_id"`
	SpoilerText string   `json:"spoiler_text"`
	Sensitive   bool     `json:"sensitive"`
	MediaIds    []string `json:"media_ids"`
}

type followRequest struct {
	Target string `json:"target" binding:"required"`
}

// apiStatus is the local API view of a status.
func apiStatus(status *domain.Status) map[string]any {
	if status.IsAnnounce() {
		return map[string]any{
			"id":           status.Id,
			"type":         string(domain.StatusAnnounce),
			"attributedTo": status.ActorId,
			"object":       status.OriginalStatusId,
			"published":    status.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return activitypub.NoteObject(status)
}

// statusIdParam accepts a full status IRI (path escaped) or the post id of
// one of actor's statuses.
func statusIdParam(c *gin.Context, actor *domain.Actor) string {
	id := c.Param("id")
	if strings.Contains(id, "://") {
		return id
	}
	return actor.StatusId(id)
}

func (s *Server) postStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, err := s.actions.CreateNote(c.Request.Context(), currentActor(c), actions.NoteInput{
		Text:      req.Status,
		ReplyTo:   req.InReplyToId,
		Summary:   req.SpoilerText,
		Sensitive: req.Sensitive,
		MediaIds:  req.MediaIds,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, apiStatus(status))
}

func (s *Server) deleteStatus(c *gin.Context) {
	actor := currentActor(c)
	if err := s.actions.DeleteStatus(c.Request.Context(), actor, statusIdParam(c, actor)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) like(c *gin.Context) {
	actor := currentActor(c)
	id := statusIdParam(c, actor)
	if err := s.actions.Like(c.Request.Context(), actor, id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "liked": true})
}

func (s *Server) unlike(c *gin.Context) {
	actor := currentActor(c)
	id := statusIdParam(c, actor)
	if err := s.actions.UndoLike(c.Request.Context(), actor, id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "liked": false})
}

func (s *Server) reblog(c *gin.Context) {
	actor := currentActor(c)
	announce, err := s.actions.Announce(c.Request.Context(), actor, statusIdParam(c, actor))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, apiStatus(announce))
}

func (s *Server) unreblog(c *gin.Context) {
	actor := currentActor(c)
	if err := s.actions.UndoAnnounce(c.Request.Context(), actor, statusIdParam(c, actor)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func apiFollow(follow *domain.Follow) gin.H {
	return gin.H{
		"id":     follow.Id.String(),
		"uri":    follow.Uri,
		"actor":  follow.ActorId,
		"target": follow.TargetActorId,
		"status": string(follow.Status),
	}
}

func (s *Server) follow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	follow, err := s.actions.Follow(c.Request.Context(), currentActor(c), req.Target)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, apiFollow(follow))
}

func (s *Server) unfollow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.actions.Unfollow(c.Request.Context(), currentActor(c), req.Target); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func followIdParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid follow id"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) acceptFollow(c *gin.Context) {
	id, ok := followIdParam(c)
	if !ok {
		return
	}
	if err := s.actions.AcceptFollow(c.Request.Context(), currentActor(c), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) rejectFollow(c *gin.Context) {
	id, ok := followIdParam(c)
	if !ok {
		return
	}
	if err := s.actions.RejectFollow(c.Request.Context(), currentActor(c), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) uploadMedia(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer file.Close()

	m, err := s.actions.UploadMedia(c.Request.Context(), currentActor(c), file, c.PostForm("description"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":          m.Id.String(),
		"type":        m.Original.MimeType,
		"url":         s.media.Url(m),
		"description": m.Description,
		"meta": gin.H{
			"width":  m.Original.Width,
			"height": m.Original.Height,
		},
	})
}

func (s *Server) timeline(c *gin.Context) {
	timeline := domain.Timeline(c.Param("timeline"))
	if !timeline.Valid() {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown timeline"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	statuses, err := s.store.GetTimeline(c.Request.Context(), storage.TimelineQuery{
		ActorId:            currentActor(c).Id,
		Timeline:           timeline,
		StartAfterStatusId: c.Query("startAfterStatusId"),
		Limit:              limit,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]map[string]any, 0, len(statuses))
	for i := range statuses {
		out = append(out, apiStatus(&statuses[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) serveMedia(c *gin.Context) {
	path, ok := s.media.Path(c.Param("name"))
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.File(path)
}
