// Package speech voices dispatcher feedback. The dispatcher never waits
// on a synthesizer longer than the caller's context allows.
package speech

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/nugget/scriptvoice/internal/config"
)

// DefaultTimeout bounds one utterance.
const DefaultTimeout = 30 * time.Second

// Speaker voices a line of text.
type Speaker interface {
	Say(ctx context.Context, text string) error
}

// New returns the speaker described by cfg: [Muted] when speech is
// disabled or no command is set, otherwise a [Command].
func New(cfg config.SpeechConfig, logger *slog.Logger) Speaker {
	if cfg.Disabled || len(cfg.Command) == 0 {
		return NewMuted(logger)
	}
	return NewCommand(cfg.Command, DefaultTimeout, logger)
}

// Muted logs what would have been spoken.
type Muted struct {
	logger *slog.Logger
}

// NewMuted creates a log-only speaker.
func NewMuted(logger *slog.Logger) *Muted {
	if logger == nil {
		logger = slog.Default()
	}
	return &Muted{logger: logger.With("component", "speech")}
}

// Say implements [Speaker].
func (m *Muted) Say(ctx context.Context, text string) error {
	m.logger.Info("speech disabled", "text", text)
	return nil
}

// Command speaks by running an external synthesizer with the text as
// its final argument. No shell is involved.
type Command struct {
	argv    []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewCommand creates a command-backed speaker.
func NewCommand(argv []string, timeout time.Duration, logger *slog.Logger) *Command {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Command{
		argv:    append([]string(nil), argv...),
		timeout: timeout,
		logger:  logger.With("component", "speech"),
	}
}

// Say implements [Speaker].
func (c *Command) Say(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := append(append([]string(nil), c.argv[1:]...), text)
	cmd := exec.CommandContext(ctx, c.argv[0], args...)
	cmd.WaitDelay = time.Second
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("speak: %w: %s", err, strings.TrimSpace(string(out)))
	}
	c.logger.Debug("spoke", "chars", len(text))
	return nil
}
