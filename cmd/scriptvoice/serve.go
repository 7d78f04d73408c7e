package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/scriptvoice/internal/buildinfo"
	"github.com/nugget/scriptvoice/internal/catalog"
	"github.com/nugget/scriptvoice/internal/config"
	"github.com/nugget/scriptvoice/internal/confirm"
	"github.com/nugget/scriptvoice/internal/listener"
	"github.com/nugget/scriptvoice/internal/mqtt"
	"github.com/nugget/scriptvoice/internal/scriptwatch"
)

// runServe listens for voice transcripts until SIGINT or SIGTERM. The
// MQTT exporter and the scripts watcher run alongside the listener when
// configured.
func runServe(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stdout, cfg)
	logger.Info("starting scriptvoice", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)
	logger.Info("config loaded", "path", cfgPath, "scripts_dir", cfg.ScriptsDir, "data_dir", cfg.DataDir)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Under the voice policy the next transcript answers a pending
	// prompt; otherwise prompts are answered on the terminal.
	var prompter confirm.Prompter
	var voice *listener.VoicePrompter
	if cfg.ConfirmPolicy == config.PolicyVoice {
		voice = listener.NewVoicePrompter(0, logger)
		prompter = voice
	} else {
		prompter = confirm.NewLinePrompter(bufio.NewReader(stdin), stderr)
	}

	a, err := newApp(ctx, cfg, logger, prompter)
	if err != nil {
		return err
	}
	defer a.Close()

	// Fallible setup finishes before any goroutine starts.
	var exporter *mqtt.Exporter
	if cfg.MQTT.Configured() {
		clientID, err := mqtt.ClientID(cfg.MQTT, cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt client id: %w", err)
		}
		exporter = mqtt.New(cfg.MQTT, clientID, a.bus, logger)
	}

	g, gctx := errgroup.WithContext(ctx)

	l := listener.New(listener.Config{
		URL:       cfg.Listener.URL,
		Heartbeat: time.Duration(cfg.Listener.HeartbeatSec) * time.Second,
		Reconnect: time.Duration(cfg.Listener.ReconnectSec) * time.Second,
	}, func(ctx context.Context, transcript string) {
		_, _ = a.handle(ctx, transcript)
	}, voice, a.bus, logger)
	g.Go(func() error { return l.Run(gctx) })

	if exporter != nil {
		g.Go(func() error { return exporter.Start(gctx) })
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := exporter.Stop(shutdownCtx); err != nil {
				logger.Warn("mqtt shutdown failed", "error", err)
			}
		}()
		logger.Info("mqtt event export enabled", "broker", cfg.MQTT.Broker, "prefix", cfg.MQTT.TopicPrefix)
	}

	if cfg.Watch.Enabled {
		reloader := &scriptwatch.Reloader{
			Builder:     catalog.NewBuilder(cfg.ScriptsDir, cfg.ScriptExtension, logger),
			CatalogPath: cfg.CatalogPath(),
			Index:       a.index,
			Apply:       a.orch.SetCatalog,
			Events:      a.bus,
			Logger:      logger,
		}
		w := scriptwatch.New(cfg.ScriptsDir, cfg.ScriptExtension,
			time.Duration(cfg.Watch.DebounceMs)*time.Millisecond, reloader.Reload, logger)
		g.Go(func() error { return w.Run(gctx) })
	}

	err = g.Wait()
	logger.Info("scriptvoice stopped", "uptime", buildinfo.Uptime())
	return err
}
