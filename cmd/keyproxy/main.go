package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-zoox/keyproxy"
	"github.com/go-zoox/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

const copyBufferSize = 32 << 10

func main() {
	if err := newRootCommand(os.Getenv).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(getenv func(string) string) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "keyproxy",
		Short:        "Reverse proxy that rotates api keys on rate limits",
		Version:      keyproxy.Version,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd, getenv)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}
	opts.bind(cmd)

	return cmd
}

func run(ctx context.Context, cfg *Config) error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", cfg.Port, err)
	}

	var metricsLn net.Listener
	if cfg.MetricsPort != "" {
		metricsLn, err = net.Listen("tcp", ":"+cfg.MetricsPort)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to listen on metrics port %s: %w", cfg.MetricsPort, err)
		}
	}

	return serve(ctx, cfg, ln, metricsLn)
}

// serve runs the proxy on ln, and the metrics endpoint on metricsLn when it
// is not nil, until ctx is done or a server fails.
func serve(ctx context.Context, cfg *Config, ln, metricsLn net.Listener) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p, err := keyproxy.NewKeyRotation(cfg.Upstream, cfg.Keys, &keyproxy.KeyRotationConfig{
		KeyHeader:           cfg.KeyHeader,
		Transport:           keyproxy.DefaultTransport(cfg.ResponseHeaderTimeout),
		BufferPool:          keyproxy.NewBufferPool(copyBufferSize),
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		Metrics:             keyproxy.NewMetrics(registry),
	})
	if err != nil {
		ln.Close()
		if metricsLn != nil {
			metricsLn.Close()
		}
		return err
	}

	var handler http.Handler = p
	if cfg.RequestLogging {
		handler = loggingMiddleware(handler)
	}

	type listener struct {
		server *http.Server
		ln     net.Listener
	}

	listeners := []listener{{
		server: &http.Server{
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			IdleTimeout:  cfg.IdleTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		ln: ln,
	}}

	if metricsLn != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		listeners = append(listeners, listener{
			server: &http.Server{
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			},
			ln: metricsLn,
		})
	}

	logger.Infof("starting proxy on %s => %s with %d api keys", ln.Addr(), cfg.Upstream, p.KeyCount())

	errc := make(chan error, len(listeners))
	for _, l := range listeners {
		go func(l listener) {
			if err := l.server.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("failed to serve on %s: %w", l.ln.Addr(), err)
			}
		}(l)
	}

	select {
	case err = <-errc:
	case <-ctx.Done():
		logger.Infof("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, l := range listeners {
		if serr := l.server.Shutdown(shutdownCtx); serr != nil {
			logger.Errorf("failed to shut down %s: %v", l.ln.Addr(), serr)
		}
	}

	return err
}
