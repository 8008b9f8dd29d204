// Package web exposes the federation endpoints and the local API over gin.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubengine/actions"
	"github.com/deemkeen/pubengine/activitypub"
	"github.com/deemkeen/pubengine/media"
	"github.com/deemkeen/pubengine/metrics"
	"github.com/deemkeen/pubengine/storage"
	"github.com/deemkeen/pubengine/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"golang.org/x/time/rate"
)

const (
	activityContentType = activitypub.ContentTypeActivity + "; charset=utf-8"
	maxActivityBytes    = 1 << 20
)

type Deps struct {
	Store     storage.Storage
	Processor *activitypub.Processor
	Actions   *actions.Actions
	Media     *media.Store
	Metrics   *metrics.Metrics
	Logger    *log.Logger
}

type Server struct {
	conf      *util.AppConfig
	store     storage.Storage
	processor *activitypub.Processor
	actions   *actions.Actions
	media     *media.Store
	metrics   *metrics.Metrics
	log       *log.Logger

	globalLimiter *RateLimiter
	inboxLimiter  *RateLimiter
}

func NewServer(conf *util.AppConfig, d Deps) *Server {
	s := &Server{
		conf:      conf,
		store:     d.Store,
		processor: d.Processor,
		actions:   d.Actions,
		media:     d.Media,
		metrics:   d.Metrics,
		log:       d.Logger,
	}
	if perSecond := conf.Conf.RateLimit.PerSecond; perSecond > 0 {
		burst := max(conf.Conf.RateLimit.Burst, 1)
		s.globalLimiter = NewRateLimiter(rate.Limit(perSecond), burst)
		s.inboxLimiter = NewRateLimiter(rate.Limit(perSecond/2), max(burst/2, 1))
	}
	return s
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() *gin.Engine {
	g := gin.New()
	// status ids may arrive as escaped IRIs in a single path segment
	g.UseRawPath = true
	g.Use(gin.Recovery(), RequestLogger(s.log))
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	inbox := []gin.HandlerFunc{MaxBytesMiddleware(maxActivityBytes)}
	if s.globalLimiter != nil {
		g.Use(RateLimitMiddleware(s.globalLimiter))
		inbox = append([]gin.HandlerFunc{RateLimitMiddleware(s.inboxLimiter)}, inbox...)
	}

	g.GET("/.well-known/webfinger", s.webfinger)
	g.GET("/users/:username", s.actor)
	g.GET("/users/:username/followers", s.followers)
	g.GET("/users/:username/following", s.following)
	g.GET("/users/:username/outbox", s.outbox)
	g.GET("/users/:username/statuses/:id", s.status)
	g.GET("/users/:username/feed", s.feed)
	g.POST("/users/:username/inbox", append(inbox, s.inbox)...)
	g.POST("/inbox", append(inbox, s.inbox)...)
	if s.media != nil {
		g.GET("/media/:name", s.serveMedia)
	}
	g.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := g.Group("/api", BasicAuthMiddleware(s.actions))
	api.POST("/v1/statuses", s.postStatus)
	api.DELETE("/v1/statuses/:id", s.deleteStatus)
	api.POST("/v1/statuses/:id/like", s.like)
	api.POST("/v1/statuses/:id/unlike", s.unlike)
	api.POST("/v1/statuses/:id/reblog", s.reblog)
	api.POST("/v1/statuses/:id/unreblog", s.unreblog)
	api.POST("/v1/accounts/follow", s.follow)
	api.POST("/v1/accounts/unfollow", s.unfollow)
	api.POST("/v1/follows/:id/accept", s.acceptFollow)
	api.POST("/v1/follows/:id/reject", s.rejectFollow)
	api.POST("/v2/media", s.uploadMedia)
	api.GET("/v1/timelines/:timeline", s.timeline)

	return g
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.globalLimiter != nil {
		go s.globalLimiter.Cleanup(ctx)
		go s.inboxLimiter.Cleanup(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", "addr", addr, "domain", s.conf.Conf.Domain)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func renderActivity(c *gin.Context, code int, doc any) {
	body, err := json.Marshal(doc)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Render(code, render.Data{ContentType: activityContentType, Data: body})
}

// fail maps storage and action errors onto HTTP answers.
func (s *Server) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, activitypub.ErrNotResolved):
		code = http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, actions.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, media.ErrUnsupportedMedia):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, media.ErrTooLarge):
		code = http.StatusRequestEntityTooLarge
	}
	if code == http.StatusInternalServerError {
		s.log.Error("Request failed", "path", c.Request.URL.Path, "err", err)
		c.AbortWithStatusJSON(code, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}
