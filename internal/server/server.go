package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/agentlens/agentlens/internal/api/http"
	"github.com/agentlens/agentlens/internal/api/middleware"
	"github.com/agentlens/agentlens/internal/api/ws"
	"github.com/agentlens/agentlens/internal/infrastructure/config"
	"github.com/agentlens/agentlens/internal/infrastructure/logging"
	"github.com/agentlens/agentlens/internal/infrastructure/monitoring"
	"github.com/agentlens/agentlens/internal/storage"
	"github.com/agentlens/agentlens/query"
)

const (
	pollInterval    = 500 * time.Millisecond
	maxActivityPage = 500
)

// Server is the viewer daemon: a read-only HTTP API over the trace
// store plus a websocket feed of new activity.
type Server struct {
	router  *gin.Engine
	httpSrv *http.Server
	store   *storage.Store
	queries *query.Engine
	hub     *ws.Hub
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics

	pollStop chan struct{}
	pollDone chan struct{}
	stopOnce sync.Once
}

// NewServer creates a viewer over the store at cfg.DBPath. A missing
// database file is initialized empty rather than treated as an error.
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	logger.Info("initializing viewer",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
		zap.String("db", cfg.DBPath),
	)

	metrics := monitoring.NewMetrics()

	store, err := openViewerStore(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}
	queries := query.New(store.DB())
	hub := ws.NewHub(logger, metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.GlobalRateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(queries, hub, logger, cfg.DBPath)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.GET("/api/sessions", handlers.ListSessions)
	router.GET("/api/sessions/:id/stats", handlers.SessionStats)
	router.GET("/api/sessions/:id/export", handlers.ExportSession)
	router.GET("/api/traces", handlers.ListTraces)
	router.GET("/api/traces/:id/tree", handlers.TraceTree)
	router.GET("/api/search", handlers.Search)

	router.GET("/stream", hub.HandleConnection)

	s := &Server{
		router:  router,
		store:   store,
		queries: queries,
		hub:     hub,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
		httpSrv: &http.Server{
			Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
			Handler: router,
		},
		pollStop: make(chan struct{}),
		pollDone: make(chan struct{}),
	}

	go s.pollActivity()

	logger.Info("viewer initialized")
	return s, nil
}

// openViewerStore opens the store read-only, creating an empty database
// first when none exists yet.
func openViewerStore(path string, logger *logging.Logger) (*storage.Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// A writable open initializes the schema; recovery is a no-op
		// on a fresh file.
		rw, err := storage.Open(path, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing database: %w", err)
		}
		if err := rw.Close(); err != nil {
			return nil, fmt.Errorf("initializing database: %w", err)
		}
		logger.Info("created empty trace database", zap.String("path", path))
	}
	return storage.OpenReadOnly(path, logger)
}

// Run serves HTTP until Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("starting viewer", zap.String("addr", s.httpSrv.Addr))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server, the activity poller, and the stream,
// then releases the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down viewer")

	err := s.httpSrv.Shutdown(ctx)

	s.stopOnce.Do(func() { close(s.pollStop) })
	select {
	case <-s.pollDone:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	s.hub.Close()
	if cerr := s.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	s.logger.Sync()
	return err
}

// Router exposes the handler stack for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// pollActivity tails the store and fans new records out to stream
// clients. With no clients connected it only advances its watermark.
func (s *Server) pollActivity() {
	defer close(s.pollDone)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-s.pollStop:
			return
		case <-ticker.C:
			if s.hub.ClientCount() == 0 {
				last = time.Now()
				continue
			}

			acts, err := s.queries.ActivitySince(context.Background(), last, maxActivityPage)
			if err != nil {
				s.logger.Warn("activity poll failed", zap.Error(err))
				continue
			}
			for _, act := range acts {
				s.hub.Publish(act)
			}
			if n := len(acts); n > 0 {
				last = acts[n-1].At
			}
		}
	}
}
