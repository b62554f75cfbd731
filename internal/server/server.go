// Package server is the HTTP control surface. Handlers never touch engine
// internals directly: control operations go through the command queue and
// reads come from the engine's snapshot.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"coinbase-trading-bot/config"
	"coinbase-trading-bot/internal/engine"
	"coinbase-trading-bot/internal/events"
	"coinbase-trading-bot/internal/runtimeconfig"
)

// Server wraps the gin router and the http.Server lifecycle.
type Server struct {
	engine     *engine.Engine
	store      *runtimeconfig.Store
	bus        *events.Bus
	cfg        *config.Settings
	router     *gin.Engine
	httpServer *http.Server
	logger     zerolog.Logger
}

func New(eng *engine.Engine, store *runtimeconfig.Store, bus *events.Bus, cfg *config.Settings, logger zerolog.Logger) *Server {
	if cfg.LogJSON {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		engine: eng,
		store:  store,
		bus:    bus,
		cfg:    cfg,
		router: router,
		logger: logger.With().Str("component", "server").Logger(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/state", s.handleState)
		api.GET("/events", s.handleEvents)
		api.GET("/config", s.handleGetConfig)
		api.POST("/config", s.handleSetConfig)

		control := api.Group("/control")
		{
			control.POST("/pause", s.handlePause)
			control.POST("/resume", s.handleResume)
			control.POST("/close", s.handleClose)
			control.POST("/close-all", s.handleCloseAll)
			control.POST("/kill", s.handleKill)
		}
	}
}

// Start runs ListenAndServe on its own goroutine.
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.ServerPort),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		s.logger.Info().Int("port", s.cfg.ServerPort).Msg("control server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("control server failed")
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
