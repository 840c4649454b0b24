// Package api exposes the engine through a single action endpoint plus a
// websocket event feed.
package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"xau-engine/internal/backtest"
	"xau-engine/internal/bot"
	"xau-engine/internal/events"
	"xau-engine/internal/provider"
	"xau-engine/internal/strategy"
	"xau-engine/pkg/config"
	"xau-engine/pkg/db"
)

// Server wires HTTP endpoints around the engine components.
type Server struct {
	Router   *gin.Engine
	DB       *db.Database
	Market   bot.MarketData
	Provider provider.Provider
	Bot      *bot.Runner
	Backtest *backtest.Engine
	Bus      *events.Bus
	Cfg      *config.Config
	Defaults strategy.Params

	actions map[string]actionHandler
}

// NewServer builds the router and its middleware stack.
func NewServer(cfg *config.Config, database *db.Database, market bot.MarketData,
	prov provider.Provider, runner *bot.Runner, bt *backtest.Engine,
	bus *events.Bus, defaults strategy.Params) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:   r,
		DB:       database,
		Market:   market,
		Provider: prov,
		Bot:      runner,
		Backtest: bt,
		Bus:      bus,
		Cfg:      cfg,
		Defaults: defaults,
	}
	s.registerActions()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	s.Router.POST("/api/actions", s.dispatch)
	s.Router.OPTIONS("/api/actions", func(c *gin.Context) {}) // handled by CORS middleware
}

func (s *Server) health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok", "provider": s.Provider.Name()})
}

// Start runs the HTTP server.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
