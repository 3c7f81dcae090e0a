// esol-partner: browser-facing ESOL speaking practice server
// Serves /ws/session for learners and /ws/monitor for supervisors
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/teslashibe/go-esol/internal/config"
	"github.com/teslashibe/go-esol/internal/log"
	"github.com/teslashibe/go-esol/pkg/events"
	"github.com/teslashibe/go-esol/pkg/export"
	"github.com/teslashibe/go-esol/pkg/metrics"
	"github.com/teslashibe/go-esol/pkg/realtime"
	"github.com/teslashibe/go-esol/pkg/report"
	"github.com/teslashibe/go-esol/pkg/topic"
	"github.com/teslashibe/go-esol/pkg/web"
)

var (
	configPath = flag.String("config", "", "Path to a TOML config file")
	addr       = flag.String("addr", "", "Listen address (overrides ESOL_ADDR)")
	webrtc     = flag.Bool("webrtc", false, "Accept WebRTC offers for session audio")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *webrtc {
		cfg.Server.WebRTC = true
	}
	if *debug {
		cfg.Log.Level = "debug"
	}

	log.Init(cfg.Log.Level)
	logger := log.Component("main")

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	logger := log.Component("main")

	catalog := topic.Default()
	if cfg.TopicsFile != "" {
		var err error
		if catalog, err = topic.LoadFile(cfg.TopicsFile); err != nil {
			return err
		}
	}
	logger.Info("topics loaded", "count", catalog.Len())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	reporter, err := report.New(
		report.WithAPIKey(cfg.Gemini.APIKey),
		report.WithBaseURL(cfg.Gemini.BaseURL),
		report.WithModel(cfg.Gemini.ReportModel),
		report.WithTimeout(cfg.Session.ReportTimeout.Duration),
		report.WithLogger(log.L()),
	)
	if err != nil {
		return err
	}

	rt := realtime.DefaultConfig()
	rt.Apply(
		realtime.WithAPIKey(cfg.Gemini.APIKey),
		realtime.WithModel(cfg.Gemini.LiveModel),
		realtime.WithVoice(cfg.Gemini.Voice),
		realtime.WithLogger(log.L()),
	)
	if cfg.Gemini.LiveURL != "" {
		rt.Apply(realtime.WithURL(cfg.Gemini.LiveURL))
	}

	publisher := events.New(&events.Config{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		ClientID: cfg.Kafka.ClientID,
		Enabled:  cfg.Kafka.Enabled,
	}, m, log.L())
	defer publisher.Close()

	serverCfg := web.Config{
		Catalog:       catalog,
		Reporter:      reporter,
		Realtime:      rt,
		GraceDelay:    cfg.Session.GraceDelay.Duration,
		ReportTimeout: cfg.Session.ReportTimeout.Duration,
		WebRTC:        cfg.Server.WebRTC,
		STUNURL:       cfg.Server.STUNURL,
		Metrics:       m,
		Gatherer:      reg,
		Publisher:     publisher,
		LogHTTP:       cfg.Server.LogHTTP,
		Logger:        log.L(),
	}

	if cfg.Docs.Enabled {
		exporter, err := export.New(export.Config{
			ClientID:     cfg.Docs.ClientID,
			ClientSecret: cfg.Docs.ClientSecret,
			RedirectURL:  cfg.Docs.RedirectURL,
			TokenPath:    cfg.Docs.TokenPath,
			Logger:       log.L(),
		})
		if err != nil {
			return err
		}
		serverCfg.Exporter = exporter
	}

	srv, err := web.NewServer(serverCfg)
	if err != nil {
		return err
	}

	logger.Info("esol-partner starting",
		"version", web.Version,
		"addr", cfg.Server.Addr,
		"webrtc", cfg.Server.WebRTC,
		"kafka", publisher.Enabled(),
		"docs", cfg.Docs.Enabled)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(cfg.Server.Addr)
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
