package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Options configures the outer surface of the server.
type Options struct {
	// Metrics is mounted at /metrics when set.
	Metrics      http.Handler
	Logger       *zap.Logger
	AllowOrigins []string
}

// New constructs and returns a configured Echo instance.
func New(h *Handlers, opts Options) *echo.Echo {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")
	origins := opts.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "X-Client-Token"},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				log.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			log.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	e.GET("/api/v1/healthz", h.handleHealthz)
	e.POST("/api/v1/agents", h.handleCreateAgent)
	e.GET("/api/v1/agents/:agent_id", h.handleGetAgent)
	e.POST("/api/v1/matches", h.handleCreateMatch)
	e.GET("/api/v1/matches", h.handleListMatches)
	e.GET("/api/v1/matches/:match_id", h.handleGetMatch)
	e.GET("/api/v1/matches/:match_id/moves", h.handleListMoves)
	e.GET("/api/v1/matches/:match_id/events", h.handleEvents)
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}

	return e
}
