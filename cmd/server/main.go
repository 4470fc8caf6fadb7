package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andy6609/wifi-ingress/internal/config"
	"github.com/andy6609/wifi-ingress/internal/console"
	"github.com/andy6609/wifi-ingress/internal/ingress"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config file (defaults when empty)")
	host := flag.String("host", "", "override listen host")
	port := flag.Int("port", 0, "override listen port")
	metricsAddr := flag.String("metrics-addr", "", "override metrics listen address")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log config: %v\n", err)
		os.Exit(1)
	}

	srv := ingress.NewServer(ingress.Options{
		PollInterval:   cfg.Server.PollInterval,
		ReadBufferSize: cfg.Server.ReadBufferSize,
		MaxLineBytes:   cfg.Server.MaxLineBytes,
	}, logger)

	if err := srv.Start(cfg.Server.Host, cfg.Server.Port); err != nil {
		var portErr *ingress.InvalidPortError
		if errors.As(err, &portErr) {
			logger.Error("invalid port", "port", portErr.Port)
		} else {
			logger.Error("failed to start server", "error", err)
		}
		os.Exit(1)
	}
	logger.Info("listening", "addr", srv.Addr().String(), "local_ip", localIP())

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics endpoint started", "addr", cfg.Metrics.Addr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	printer := console.NewPrinter(os.Stdout, cfg.Console.Color)
	consoleDone := make(chan struct{})
	go func() {
		defer close(consoleDone)
		console.Run(ctx, srv, printer, cfg.Console.DrainInterval)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	srv.Stop()
	cancel()
	<-consoleDone

	if metricsSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

// localIP returns the address of the interface used for outbound traffic.
// No packet is sent; connecting a UDP socket only selects a route.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "unknown"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "unknown"
}
