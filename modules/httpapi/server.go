// Package httpapi serves health, metrics and the pose editor REST/WebSocket
// surface for one session.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/e7canasta/orion-posematch/modules/resultbus"
	"github.com/e7canasta/orion-posematch/modules/session"
	"github.com/e7canasta/orion-posematch/modules/similarity"
)

// Session is the pose-matching session served over HTTP.
type Session interface {
	Capture(tolerancePct *float64) (string, error)
	Remove(poseID string) error
	UpdateTolerance(poseID string, pct float64) error
	StartTest(poseID string) error
	StopTest()
	Status() session.Status
	Poses() []session.PoseInfo
	Latest() *similarity.Result
	SubscribeLatest(id string) (resultbus.Receiver, error)
	Unsubscribe(id string) error
}

var _ Session = (*session.Session)(nil)

// Check is a named readiness check. A nil error means ready.
type Check struct {
	Name string
	Fn   func() error
}

// Config configures the server.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	Checks          []Check
}

// Server is the HTTP surface.
type Server struct {
	cfg     Config
	sess    Session
	router  *gin.Engine
	started time.Time
}

// New builds the router.
func New(cfg Config, sess Session) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		cfg:     cfg,
		sess:    sess,
		router:  gin.New(),
		started: time.Now(),
	}
	s.router.Use(gin.Recovery(), requestLogger())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.health)
	s.router.GET("/readiness", s.readiness)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")
	{
		v1.GET("/status", s.status)
		v1.GET("/poses", s.listPoses)
		v1.POST("/poses", s.capture)
		v1.DELETE("/poses/:id", s.removePose)
		v1.PUT("/poses/:id/tolerance", s.setTolerance)
		v1.POST("/test", s.startTest)
		v1.DELETE("/test", s.stopTest)
		v1.GET("/result", s.latestResult)
		v1.GET("/results/ws", s.streamResults)
	}
}

// Handler exposes the router (tests, embedding).
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("httpapi: listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpapi: shutdown: %w", err)
	}
	slog.Info("http server stopped")
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
