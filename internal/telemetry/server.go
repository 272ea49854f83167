package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"BreakoutSentinel/internal/model"
)

// Server is the read-only HTTP surface over the hub.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	hub        *Hub
	addr       string
	started    time.Time
	log        zerolog.Logger
}

func NewServer(addr string, hub *Hub, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:  router,
		hub:     hub,
		addr:    addr,
		started: time.Now(),
		log:     log.With().Str("component", "http").Logger(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	api := s.router.Group("/api")
	api.GET("/snapshot", s.handleSnapshot)
	api.GET("/positions", s.handlePositions)
	api.GET("/signals", s.handleSignals)
	api.GET("/risk", s.handleRisk)
	s.router.GET("/ws", func(c *gin.Context) { s.hub.ServeWS(c.Writer, c.Request) })
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.log.Info().Str("addr", s.addr).Msg("telemetry listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("telemetry server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	snap, ok := s.hub.Latest()
	body := gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"clients": s.hub.Clients(),
	}
	if !ok {
		body["status"] = "starting"
	} else {
		body["last_cycle"] = snap.Time.Format(time.RFC3339)
		body["cycle_id"] = snap.CycleID
	}
	c.JSON(http.StatusOK, body)
}

// latest writes 503 and returns false when nothing has been published yet.
func (s *Server) latest(c *gin.Context) (model.Snapshot, bool) {
	snap, ok := s.hub.Latest()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": true, "message": "no cycle has completed yet"})
	}
	return snap, ok
}

func (s *Server) handleSnapshot(c *gin.Context) {
	if snap, ok := s.latest(c); ok {
		c.JSON(http.StatusOK, snap)
	}
}

func (s *Server) handlePositions(c *gin.Context) {
	if snap, ok := s.latest(c); ok {
		positions := snap.Positions
		if positions == nil {
			positions = []model.Position{}
		}
		c.JSON(http.StatusOK, positions)
	}
}

func (s *Server) handleSignals(c *gin.Context) {
	if snap, ok := s.latest(c); ok {
		signals := snap.Signals
		if signals == nil {
			signals = []model.ScoredSignal{}
		}
		c.JSON(http.StatusOK, signals)
	}
}

func (s *Server) handleRisk(c *gin.Context) {
	if snap, ok := s.latest(c); ok {
		c.JSON(http.StatusOK, gin.H{
			"ledger":     snap.Ledger,
			"thresholds": snap.Thresholds,
		})
	}
}
