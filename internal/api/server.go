package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sectorsim/tradesim/internal/bus"
	"github.com/sectorsim/tradesim/internal/discussion"
	"github.com/sectorsim/tradesim/internal/discussionstatus"
	"github.com/sectorsim/tradesim/internal/manager"
	"github.com/sectorsim/tradesim/internal/metrics"
	"github.com/sectorsim/tradesim/internal/scheduler"
	"github.com/sectorsim/tradesim/internal/store"
)

// Server is the REST API server: sectors, agents, discussions, plus the
// scheduler pause/resume control surface.
type Server struct {
	router *gin.Engine
	server *http.Server
	addr   string

	store      *store.Store
	discussion *discussion.Engine
	status     *discussionstatus.Service
	manager    *manager.Engine
	scheduler  *scheduler.Scheduler
	hub        *hub

	log zerolog.Logger
}

// Config wires every collaborator the API layer calls into.
type Config struct {
	Host string
	Port int

	Store      *store.Store
	Discussion *discussion.Engine
	Status     *discussionstatus.Service
	Manager    *manager.Engine
	Scheduler  *scheduler.Scheduler

	// Bus, when non-nil, is subscribed so every lifecycle event it carries
	// is rebroadcast to websocket clients on GET /stream.
	Bus *bus.Bus
}

// NewServer creates a ready-to-serve API server.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLoggerMiddleware())
	router.Use(metrics.GinMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		router:     router,
		addr:       fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		store:      cfg.Store,
		discussion: cfg.Discussion,
		status:     cfg.Status,
		manager:    cfg.Manager,
		scheduler:  cfg.Scheduler,
		hub:        newHub(),
		log:        log.With().Str("component", "api").Logger(),
	}
	go s.hub.run()
	s.subscribeStream(cfg.Bus)
	s.setupRoutes()
	return s
}

// subscribeStream rebroadcasts every lifecycle event type the bus carries
// onto the websocket hub, so GET /stream needs no polling of its own.
func (s *Server) subscribeStream(b *bus.Bus) {
	if b == nil {
		return
	}
	eventTypes := []bus.EventType{
		bus.EventSectorTick,
		bus.EventDiscussionStarted,
		bus.EventRoundCompleted,
		bus.EventChecklistFinalized,
		bus.EventManagerDecision,
		bus.EventDiscussionDecided,
		bus.EventDiscussionClosed,
	}
	for _, typ := range eventTypes {
		if _, err := b.Subscribe(typ, s.hub.publish); err != nil {
			s.log.Error().Err(err).Str("eventType", string(typ)).Msg("failed to subscribe stream to bus event")
		}
	}
}

// Start runs the HTTP server until Stop is called, blocking the caller.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", s.addr).Msg("starting API server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.log.Info().Msg("stopping API server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

func requestLoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		evt := log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start))
		if len(c.Errors) > 0 {
			evt = evt.Str("errors", c.Errors.String())
		}
		evt.Msg("api request")
	}
}
