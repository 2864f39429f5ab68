// Package httpserver is the board's HTTP transport: a gin router over the
// services, with request logging, admin token resolution, rate limiting
// and metrics.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/postboard/internal/logging"
	"github.com/dmitrijs2005/postboard/internal/server/config"
	"github.com/dmitrijs2005/postboard/internal/server/monitoring"
)

const (
	jsonBodyLimit     = 1 << 20
	multipartOverhead = 1 << 20
	maxFilesPerUpload = 10
	shutdownTimeout   = 10 * time.Second
)

// Deps groups what the transport needs from the rest of the server.
type Deps struct {
	Posts     PostAPI
	Uploads   UploadAPI
	Downloads DownloadAPI
	Admins    AdminAPI
	Metrics   *monitoring.Metrics
	Health    http.Handler
	Logger    logging.Logger
}

type Server struct {
	address   string
	posts     PostAPI
	uploads   UploadAPI
	downloads DownloadAPI
	admins    AdminAPI
	metrics   *monitoring.Metrics
	health    http.Handler
	logger    logging.Logger
	jwtSecret []byte
	tokenTTL  time.Duration
	limiter   *rateLimiter

	uploadLimit int64
	corsOrigins []string
	engine      *gin.Engine
}

func NewServer(cfg *config.Config, d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = logging.Nop{}
	}
	s := &Server{
		address:   cfg.HTTPAddr,
		posts:     d.Posts,
		uploads:   d.Uploads,
		downloads: d.Downloads,
		admins:    d.Admins,
		metrics:   d.Metrics,
		health:    d.Health,
		logger:    logger.With("module", "http_server"),
		jwtSecret: []byte(cfg.SecretKey),
		tokenTTL:  cfg.AdminTokenTTL,
		limiter: newRateLimiter(RateLimitConfig{
			RequestsPerMinute: cfg.RateLimitPerMinute,
			Burst:             cfg.RateLimitBurst,
		}),
		uploadLimit: cfg.MaxFileBytes*maxFilesPerUpload + multipartOverhead,
		corsOrigins: cfg.CORSAllowedOrigins,
	}
	s.engine = s.routes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) corsConfig() cors.Config {
	cc := cors.DefaultConfig()
	cc.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	cc.AllowHeaders = append(cc.AllowHeaders, "Authorization", "X-Request-ID")
	cc.ExposeHeaders = []string{"Content-Disposition", "X-Request-ID"}
	if len(s.corsOrigins) == 0 || (len(s.corsOrigins) == 1 && s.corsOrigins[0] == "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = s.corsOrigins
	}
	return cc
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(s.requestContext(), s.recovery(), cors.New(s.corsConfig()))
	if s.metrics != nil {
		r.Use(s.metricsMiddleware())
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	if s.health != nil {
		r.GET("/live", gin.WrapH(s.health))
		r.GET("/ready", gin.WrapH(s.health))
	}

	api := r.Group("/api", s.resolveAdmin())
	api.GET("/ping", s.ping)

	limited := s.rateLimit()
	jsonBody := bodyLimit(jsonBodyLimit)
	admin := s.requireAdmin()

	api.POST("/auth/login", limited, jsonBody, s.login)
	api.GET("/auth/me", admin, s.me)

	api.GET("/posts", s.listPosts)
	api.POST("/posts", jsonBody, s.createPost)
	api.GET("/posts/:id", s.getPost)
	api.POST("/posts/:id/verify-password", limited, jsonBody, s.verifyPassword)
	api.PUT("/posts/:id", limited, jsonBody, s.updatePost)
	api.POST("/posts/:id/update", limited, jsonBody, s.updatePost)
	api.POST("/posts/:id/delete", limited, jsonBody, s.deletePost)
	api.PATCH("/posts/:id/deleted", admin, jsonBody, s.setDeleted)
	api.POST("/posts/:id/files/purge", admin, s.purgeAttachments)
	api.POST("/posts/:id/files", bodyLimit(s.uploadLimit), s.uploadFiles)

	api.GET("/files/:id", s.fileStatus)
	api.GET("/files/:id/download", s.downloadFile)
	api.POST("/files/:id/delete", limited, jsonBody, s.deleteFile)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Starting HTTP server", "address", s.address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "Stopping HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
