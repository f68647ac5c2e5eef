package runnable

import (
	"change-detector/internal/decode"
	"change-detector/internal/detect"
	diffimage "change-detector/internal/diff/image"
	"change-detector/internal/env"
	"change-detector/internal/myhttp"
	"change-detector/internal/routes"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/net/netutil"
	"golang.org/x/xerrors"
)

const applicationName = "compare-server"

type Server struct {
	address                string
	terminationGracePeriod time.Duration
	lameduck               time.Duration
	keepAlive              bool
	maxConnections         int
	compare                routes.CompareConfig
}

func NewServer() *Server {
	return &Server{
		address:                env.OrDefault("ADDRESS", "0.0.0.0:8383"),
		terminationGracePeriod: env.OrDefault("TERMINATION_GRACE_PERIOD", 10*time.Second),
		lameduck:               env.OrDefault("LAMEDUCK", 1*time.Second),
		keepAlive:              env.OrDefault("HTTP_KEEPALIVE", true),
		maxConnections:         env.OrDefault("MAX_CONNECTIONS", 65532),
		compare: routes.CompareConfig{
			MaxUploadBytes:    env.OrDefault("MAX_UPLOAD_BYTES", int64(decode.MaxBytes)),
			ProcessingTimeout: env.OrDefault("PROCESSING_TIMEOUT", 30*time.Second),
			DefaultThreshold:  env.OrDefault("DEFAULT_THRESHOLD", diffimage.DefaultThreshold),
		},
	}
}

var Debug = false

func (s *Server) Start(ctx context.Context) error {
	if s.compare.MaxUploadBytes <= 0 || s.compare.MaxUploadBytes > decode.MaxBytes {
		return xerrors.Errorf("MAX_UPLOAD_BYTES must be between 1 and %d, got %d", decode.MaxBytes, s.compare.MaxUploadBytes)
	}

	logger, err := NewLogger(Debug)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	t, err := startTelemetry(ctx, applicationName)
	if err != nil {
		return err
	}

	handler, err := s.handler(logger, t.meter(applicationName))
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return xerrors.Errorf("failed to listen on address %s: %w", s.address, err)
	}

	server := &http.Server{
		Handler: handler,
	}
	server.SetKeepAlivesEnabled(s.keepAlive)

	go func() {
		if err := server.Serve(netutil.LimitListener(listener, s.maxConnections)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to serve HTTP", "error", err)
		}
	}()
	logger.Info("compare-server started", "address", s.address, "processingTimeout", s.compare.ProcessingTimeout.String(), "maxUploadBytes", s.compare.MaxUploadBytes)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM)
	select {
	case <-quit:
		time.Sleep(s.lameduck)
	case <-ctx.Done():
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.terminationGracePeriod)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return xerrors.Errorf("failed to shutdown server: %w", err)
	}

	if err := t.shutdown(ctx); err != nil {
		return err
	}

	return nil
}

func (s *Server) handler(logger *slog.Logger, meter metric.Meter) (http.Handler, error) {
	httpRequestsDurationMicroSeconds, err := meter.Int64Histogram("http_requests_duration_micro_seconds")
	if err != nil {
		return nil, xerrors.Errorf("failed to create histogram: %w", err)
	}
	detector, err := detect.NewDetector(meter, diffimage.DefaultHeatmapOptions())
	if err != nil {
		return nil, xerrors.Errorf("failed to create detector: %w", err)
	}

	router := myhttp.NewRouter(logger, httpRequestsDurationMicroSeconds)

	router.HandleFuncWithMiddleware("POST /compare", routes.Compare(detector, s.compare))
	router.HandleHealthz()
	router.HandleMetrics()
	if Debug {
		router.HandlePprof()
	}

	return router, nil
}
