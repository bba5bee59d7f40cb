// Package api serves published payloads over HTTP and reports per-market
// health over gRPC.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"limitboard/internal/publish"
)

// PayloadReader is the stored-payload surface the API reads.
type PayloadReader interface {
	Dates(market string) ([]string, error)
	Slots(market, ymd string) ([]string, error)
	Read(market, ymd, slot string) (*publish.Payload, error)
}

// Trigger runs one market's pipeline on demand.
type Trigger func(ctx context.Context, market string) error

// Options configures a Server.
type Options struct {
	Host            string
	Port            int
	GRPCPort        int
	ShutdownTimeout time.Duration
	Markets         []string
	// Gatherer is the prometheus registry exposed on /metrics; nil uses
	// the default one.
	Gatherer prometheus.Gatherer
	Trigger  Trigger
}

// Server hosts the HTTP and gRPC listeners.
type Server struct {
	opts    Options
	reader  PayloadReader
	echo    *echo.Echo
	grpc    *grpc.Server
	health  *Health
	log     *slog.Logger
	markets map[string]bool

	cache sync.Map // market/ymd/slot -> *publish.Payload
}

// NewServer creates a Server; routes are registered immediately.
func NewServer(reader PayloadReader, opts Options, reg prometheus.Registerer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		opts:    opts,
		reader:  reader,
		log:     log.With("component", "api"),
		markets: make(map[string]bool, len(opts.Markets)),
	}
	for _, m := range opts.Markets {
		s.markets[m] = true
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogging(s.log))
	e.Use(requestMetrics(reg))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))
	s.echo = e
	s.registerRoutes()

	s.health = NewHealth(opts.Markets)
	s.grpc = grpc.NewServer()
	s.health.Register(s.grpc)
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Health returns the gRPC health tracker.
func (s *Server) Health() *Health { return s.health }

// Start launches both listeners in the background.
func (s *Server) Start() error {
	httpAddr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	go func() {
		s.log.Info("http server listening", "addr", httpAddr)
		if err := s.echo.Start(httpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", "err", err)
		}
	}()

	if s.opts.GRPCPort > 0 {
		grpcAddr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.GRPCPort)
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			return fmt.Errorf("grpc listen %s: %w", grpcAddr, err)
		}
		go func() {
			s.log.Info("grpc server listening", "addr", grpcAddr)
			if err := s.grpc.Serve(lis); err != nil {
				s.log.Error("grpc server error", "err", err)
			}
		}()
	}
	return nil
}

// Shutdown stops both listeners, waiting up to the configured timeout for
// in-flight HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ShutdownTimeout)
	defer cancel()
	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("api stopped")
	return nil
}

// Name and Publish make the server a publish.Sink: fresh payloads replace
// cached ones without a disk read.
func (s *Server) Name() string { return "api-cache" }

func (s *Server) Publish(_ context.Context, p *publish.Payload) error {
	s.cache.Store(cacheKey(p.Market, p.YmdEffective, p.Slot), p)
	return nil
}

func cacheKey(market, ymd, slot string) string {
	return market + "/" + ymd + "/" + slot
}
