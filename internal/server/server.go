package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"fieldsync/internal/models"
)

const (
	allowRemoteEnvKey = "FIELDSYNC_ALLOW_REMOTE"
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 5 * time.Minute
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 10 * time.Second
	syncConcurrency   = 4
)

// Engine is the subset of the sync engine the HTTP API exposes.
type Engine interface {
	QueueOperation(ctx context.Context, op models.Operation) (string, bool, error)
	CacheImage(ctx context.Context, name string, data []byte, contentType string, metadata map[string]string) error
	ListCache(ctx context.Context) ([]models.CacheEntry, error)
	EvictCache(ctx context.Context, ratio float64) (int, error)
	GetStatus(ctx context.Context) (models.Status, error)
	Sync(ctx context.Context) (models.PassResult, error)
	SetOnline(online bool)
	IsOnline() bool
	ListFailed(ctx context.Context, limit int) ([]models.FailedOperation, error)
	ClearFailed(ctx context.Context) (int64, error)
}

// Options tune request limits.
type Options struct {
	MaxBlobBytes int64
	Metrics      http.Handler
}

// Server wraps HTTP handlers for the fieldsync daemon API.
type Server struct {
	addr         string
	engine       Engine
	metrics      http.Handler
	maxBlobBytes int64
	logger       *slog.Logger
	syncLimiter  chan struct{}
}

// New creates a new server instance.
func New(addr string, engine Engine, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxBlobBytes <= 0 {
		opts.MaxBlobBytes = defaultBlobMaxBody
	}
	return &Server{
		addr:         addr,
		engine:       engine,
		metrics:      opts.Metrics,
		maxBlobBytes: opts.MaxBlobBytes,
		logger:       logger,
		syncLimiter:  make(chan struct{}, syncConcurrency),
	}
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	return s.withRequestLogging(s.routes())
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.log().Info("starting server", "addr", s.addr)
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAddr converts a base API URL into a listen address.
func ListenAddr(apiURL string) (string, error) {
	if apiURL == "" {
		return "", fmt.Errorf("api url is required")
	}
	if u, err := url.Parse(apiURL); err == nil && u.Host != "" {
		host := u.Hostname()
		if !isAllowedListenHost(host) {
			return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
		}
		return u.Host, nil
	}

	host, _, err := net.SplitHostPort(apiURL)
	if err == nil && !isAllowedListenHost(host) {
		return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
	}

	return apiURL, nil
}

func isAllowedListenHost(host string) bool {
	if host == "" {
		return true
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv(allowRemoteEnvKey)), "true") {
		return true
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) acquireLimiter(limiter chan struct{}, w http.ResponseWriter, r *http.Request, name string) bool {
	if limiter == nil {
		return true
	}
	select {
	case limiter <- struct{}{}:
		return true
	default:
		err := apiError{
			status:  http.StatusTooManyRequests,
			code:    "resource_exhausted",
			errCode: ErrCodeResourceExhausted,
			err:     fmt.Errorf("too many concurrent %s requests", name),
		}
		s.writeErrorReq(w, r, http.StatusTooManyRequests, err)
		return false
	}
}

func (s *Server) releaseLimiter(limiter chan struct{}) {
	if limiter == nil {
		return
	}
	select {
	case <-limiter:
	default:
	}
}

func (s *Server) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}
