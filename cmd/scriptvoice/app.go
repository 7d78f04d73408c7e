package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nugget/scriptvoice/internal/audit"
	"github.com/nugget/scriptvoice/internal/catalog"
	"github.com/nugget/scriptvoice/internal/config"
	"github.com/nugget/scriptvoice/internal/confirm"
	"github.com/nugget/scriptvoice/internal/dispatch"
	"github.com/nugget/scriptvoice/internal/events"
	"github.com/nugget/scriptvoice/internal/executor"
	"github.com/nugget/scriptvoice/internal/llm"
	"github.com/nugget/scriptvoice/internal/memory"
	"github.com/nugget/scriptvoice/internal/prompts"
	"github.com/nugget/scriptvoice/internal/speech"
	"github.com/nugget/scriptvoice/internal/toolindex"
)

// app holds the components shared by the transcript-handling commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	bus     *events.Bus
	index   *toolindex.Index
	memory  *memory.Store
	journal *audit.Store
	speaker speech.Speaker
	orch    *dispatch.Orchestrator
}

// newApp opens the stores, loads the catalog and index and builds the
// orchestrator. prompter answers confirmation prompts; nil refuses every
// action that needs one.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, prompter confirm.Prompter) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, bus: events.New()}

	cat, err := catalog.Load(cfg.CatalogPath())
	if err != nil {
		return nil, err
	}
	if cat.Len() == 0 {
		logger.Warn("tool catalog is empty; run 'scriptvoice catalog' to generate it", "path", cfg.CatalogPath())
	}

	a.index = toolindex.New(cfg.ScriptsDir, cfg.ScriptExtension, cfg.IndexPath(), logger)
	if err := a.index.BuildOrLoad(); err != nil {
		return nil, fmt.Errorf("semantic index: %w", err)
	}

	a.memory, err = memory.NewStore(cfg.MemoryDir(), memory.DefaultMaxRecent, logger)
	if err != nil {
		return nil, fmt.Errorf("open memory: %w", err)
	}

	var journal dispatch.Journal
	if cfg.Audit.Enabled {
		a.journal, err = audit.Open(cfg.AuditPath())
		if err != nil {
			return nil, err
		}
		journal = a.journal
	}

	client, err := createLLMClient(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	system, err := prompts.LoadSystemPrompt(cfg.SystemPromptFile)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.speaker = speech.New(cfg.Speech, logger)
	gate := confirm.NewGate(cfg.ConfirmPolicy, prompter, a.speaker, a.memory, logger)
	runner := executor.NewRunner(executor.Config{
		Command:        cfg.Executor.Command,
		ScriptFlag:     cfg.Executor.ScriptFlag,
		ParamsFlag:     cfg.Executor.ParamsFlag,
		WorkingDir:     cfg.Executor.WorkingDir,
		Timeout:        cfg.Executor.Timeout(),
		MaxOutputBytes: cfg.Executor.MaxOutputBytes,
	}, logger)

	a.orch = dispatch.New(dispatch.Config{
		Discovery:  cfg.DiscoveryMode,
		MaxMatches: cfg.MaxMatches,
		System:     system,
		Model:      cfg.Reasoner.Model,
	}, cat, dispatch.Deps{
		LLM:      client,
		Index:    a.index,
		Gate:     gate,
		Executor: runner,
		Speaker:  a.speaker,
		Memory:   a.memory,
		Journal:  journal,
		Events:   a.bus,
	}, logger)

	logger.Info("dispatcher ready",
		"provider", client.Name(),
		"model", cfg.Reasoner.Model,
		"tools", cat.Len(),
		"scripts", a.index.Snapshot().Len(),
		"confirm_policy", cfg.ConfirmPolicy,
		"discovery", cfg.DiscoveryMode,
	)
	return a, nil
}

// Close releases the audit journal.
func (a *app) Close() error {
	if a.journal != nil {
		return a.journal.Close()
	}
	return nil
}

// handle runs one transcript and logs the outcome. It returns the
// response text, or errNoResult when there was none.
func (a *app) handle(ctx context.Context, transcript string) (string, error) {
	start := time.Now()
	out, err := a.orch.HandleTranscript(ctx, transcript)
	if err != nil {
		var rerr *dispatch.ReasoningError
		if errors.As(err, &rerr) {
			a.logger.Error("transcript failed", "transcript", transcript, "provider", rerr.Provider, "error", rerr.Err)
		}
		return "", err
	}
	if out.Response == "" {
		a.logger.Warn("transcript produced no result", "transcript", transcript, "request_id", out.RequestID)
		return "", errNoResult
	}
	a.logger.Info("transcript handled",
		"request_id", out.RequestID,
		"kind", out.Kind,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return out.Response, nil
}

// createLLMClient builds the configured reasoning provider.
func createLLMClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	switch cfg.Reasoner.Provider {
	case config.ProviderOllama:
		return llm.NewOllamaClient(cfg.Reasoner.BaseURL, cfg.Reasoner.Model, logger), nil
	default:
		if cfg.Reasoner.APIKey == "" {
			return nil, fmt.Errorf("reasoner.api_key (or %s) is required for the gemini provider", config.EnvGeminiAPIKey)
		}
		client, err := llm.NewGeminiClient(ctx, cfg.Reasoner.APIKey, cfg.Reasoner.Model, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}
