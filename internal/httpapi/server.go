// Package httpapi composes the gin routes the SDKs and operator tooling
// talk to: event capture, identity resolution, monitor check-ins, and the
// query bridge's websocket and admin surfaces.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loom-platform/loom/infrastructure/httputil"
	"github.com/loom-platform/loom/infrastructure/logging"
	"github.com/loom-platform/loom/internal/analytics/identity"
	"github.com/loom-platform/loom/internal/analytics/ingest"
	"github.com/loom-platform/loom/internal/analytics/store"
	"github.com/loom-platform/loom/internal/monitor"
	"github.com/loom-platform/loom/internal/query"
)

// Server holds the dependencies route handlers need. It is not itself an
// http.Handler; Router builds one from it.
type Server struct {
	store    store.Store
	batcher  *ingest.Batcher
	identity *identity.Service
	monitor  *monitor.Service
	bridge   *query.Bridge
	logger   *logging.Logger
	pepper   []byte
}

// Config collects Server's dependencies.
type Config struct {
	Store    store.Store
	Batcher  *ingest.Batcher
	Identity *identity.Service
	Monitor  *monitor.Service
	Bridge   *query.Bridge
	Logger   *logging.Logger

	// Pepper is mixed into every presented API key before hashing for
	// lookup. It must stay stable for the life of the installation:
	// rotating it invalidates every existing key.
	Pepper []byte
}

// NewServer builds a Server from cfg.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("httpapi", "info", "json")
	}
	return &Server{
		store:    cfg.Store,
		batcher:  cfg.Batcher,
		identity: cfg.Identity,
		monitor:  cfg.Monitor,
		bridge:   cfg.Bridge,
		logger:   logger,
		pepper:   cfg.Pepper,
	}
}

// Router builds the gin engine exposing every route this Server backs.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	if s.monitor != nil {
		r.GET("/ping/:ping_key", monitor.PingHandler(s.monitor))
		r.POST("/ping/:ping_key", monitor.PingHandler(s.monitor))
	}

	sdk := r.Group("/")
	sdk.Use(APIKeyAuth(s.store, s.pepper, s.logger))
	{
		sdk.POST("/capture", s.Capture)
		sdk.POST("/capture/batch", s.CaptureBatch)
		sdk.POST("/identify", s.Identify)
		sdk.POST("/alias", s.Alias)
		sdk.POST("/set", s.SetProperties)
		sdk.POST("/set_once", s.SetOnceProperties)
		sdk.POST("/unset", s.UnsetProperties)
	}

	if s.bridge != nil {
		r.GET("/ws/session/:session_id", s.ServeQuerySession)
		adminHandler := http.StripPrefix("/admin/queries", query.AdminRoutes(s.bridge))
		admin := r.Group("/admin/queries")
		admin.Use(requireAdminRole())
		admin.Any("/*rest", gin.WrapH(adminHandler))
	}

	return r
}

// ServeQuerySession upgrades GET /ws/session/:session_id to a websocket
// connection and blocks for the life of the connection.
func (s *Server) ServeQuerySession(c *gin.Context) {
	sessionID := c.Param("session_id")
	if err := query.Serve(s.bridge, sessionID, s.logger, c.Writer, c.Request); err != nil {
		s.logger.WithContext(c.Request.Context()).WithError(err).Warn("query session ended with error")
	}
}

// requireAdminRole gates the operator-facing admin query routes behind the
// X-User-Role header (or role carried on the request's logging context),
// set by whatever sits in front of loomd in the operator's deployment.
func requireAdminRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := httputil.RequireUserID(c.Writer, c.Request); !ok {
			c.Abort()
			return
		}
		if !httputil.RequireAdminRole(c.Writer, c.Request) {
			c.Abort()
			return
		}
		c.Next()
	}
}

func requestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.WithContext(c.Request.Context()).WithFields(map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		}).Info("request handled")
	}
}
