// Package executor launches tool scripts through an external runner
// process and interprets its JSON result envelope.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// DefaultTimeout bounds a single script invocation.
const DefaultTimeout = 60 * time.Second

// Diagnostics reported in Result.Stderr when the runner misbehaves.
const (
	MsgTimedOut    = "Executor timed out"
	MsgInvalidJSON = "Executor returned invalid JSON"
)

// ValidationError rejects a tool id before any process is started.
type ValidationError struct {
	ToolID string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid tool identifier %q: %s", e.ToolID, e.Reason)
}

// Config configures a [Runner].
type Config struct {
	// Command is the runner argv prefix, e.g. pwsh -NoProfile -File run-script.ps1.
	Command        []string
	ScriptFlag     string
	ParamsFlag     string
	WorkingDir     string
	Timeout        time.Duration
	MaxOutputBytes int
}

// Result is the outcome of one invocation. ExitCode is -1 when the
// runner timed out or produced an unusable envelope.
type Result struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// OK reports a zero exit code.
func (r Result) OK() bool { return r.ExitCode == 0 }

// envelope is what the runner prints on stdout.
type envelope struct {
	ExitCode *int   `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Runner executes tool scripts.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// NewRunner creates a runner. Zero timeouts and output limits take
// defaults.
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 100 * 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: logger.With("component", "executor")}
}

// ValidateToolID rejects ids that could address a file outside the
// scripts tree.
func ValidateToolID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return &ValidationError{ToolID: id, Reason: "empty"}
	case strings.ContainsAny(id, `/\`):
		return &ValidationError{ToolID: id, Reason: "contains a path separator"}
	case strings.Contains(id, ".."):
		return &ValidationError{ToolID: id, Reason: "contains a parent reference"}
	}
	return nil
}

// FormatParams renders args as "k=v,k=v" with keys sorted.
func FormatParams(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return strings.Join(parts, ",")
}

// Run executes toolID with args. The only error returned is a
// *ValidationError; process failures, timeouts and malformed output are
// reported in the Result.
func (r *Runner) Run(ctx context.Context, toolID string, args map[string]any) (Result, error) {
	if err := ValidateToolID(toolID); err != nil {
		return Result{}, err
	}
	if len(r.cfg.Command) == 0 {
		return Result{ExitCode: -1, Stderr: "Executor failed: no runner command configured"}, nil
	}

	argv := append([]string{}, r.cfg.Command[1:]...)
	argv = append(argv, r.cfg.ScriptFlag, toolID, r.cfg.ParamsFlag, FormatParams(args))

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.cfg.Command[0], argv...)
	cmd.WaitDelay = time.Second
	if r.cfg.WorkingDir != "" {
		cmd.Dir = r.cfg.WorkingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.logger.Warn("script timed out", "tool", toolID, "timeout", r.cfg.Timeout)
		return Result{ExitCode: -1, Stderr: MsgTimedOut, TimedOut: true}, nil
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			r.logger.Error("runner failed to start", "tool", toolID, "error", err)
			return Result{ExitCode: -1, Stderr: "Executor failed: " + err.Error()}, nil
		}
	}

	res := r.decode(exitCode, stdout.String(), stderr.String())
	r.logger.Debug("script finished",
		"tool", toolID,
		"exit_code", res.ExitCode,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return res, nil
}

func (r *Runner) decode(exitCode int, stdout, stderr string) Result {
	out := strings.TrimSpace(stdout)
	errText := strings.TrimSpace(stderr)

	if out == "" {
		return Result{ExitCode: exitCode, Stderr: r.truncate(errText)}
	}

	var env envelope
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		if errText != "" {
			return Result{ExitCode: -1, Stderr: r.truncate("Executor failed: " + errText)}
		}
		return Result{ExitCode: -1, Stderr: MsgInvalidJSON}
	}

	res := Result{ExitCode: -1, Stdout: r.truncate(env.Stdout), Stderr: r.truncate(env.Stderr)}
	if env.ExitCode != nil {
		res.ExitCode = *env.ExitCode
	}
	return res
}

// truncate caps s at the configured size, marking the cut.
func (r *Runner) truncate(s string) string {
	if len(s) <= r.cfg.MaxOutputBytes {
		return s
	}
	return s[:r.cfg.MaxOutputBytes] + "\n\n[... output truncated ...]"
}
