// Package confirm decides whether a tool invocation may proceed, based
// on the tool's risk level and the configured confirmation policy.
//
//   - low: always proceeds.
//   - medium: announced; proceeds automatically under the auto policy,
//     otherwise only on an explicit "yes".
//   - high: announced; requires the stored passphrase under every policy.
//     Answering "setup" enrolls a new passphrase first.
//
// Anything else, and any failure to obtain an answer, is a refusal.
package confirm

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nugget/scriptvoice/internal/catalog"
	"github.com/nugget/scriptvoice/internal/config"
	"github.com/nugget/scriptvoice/internal/memory"
)

// Prompt texts shown to the operator.
const (
	PromptProceed       = "Proceed? (yes/no): "
	PromptPassphrase    = "Enter passphrase (or 'setup' to create one): "
	PromptNewPassphrase = "Enter new passphrase: "
	PromptConfirmNew    = "Confirm new passphrase: "
)

// Spoken feedback.
const (
	SayMismatch = "Passphrases do not match"
	SayStored   = "Passphrase stored"
)

// SetupToken starts passphrase enrollment when given at the passphrase
// prompt.
const SetupToken = "setup"

// Prompter obtains a free-text answer from the operator.
type Prompter interface {
	Prompt(ctx context.Context, text string) (string, error)
}

// Speaker voices announcements.
type Speaker interface {
	Say(ctx context.Context, text string) error
}

// Secrets stores the passphrase digest.
type Secrets interface {
	PassphraseHash() (string, error)
	SetPassphrase(plain string) error
}

// Gate applies the confirmation policy. It holds no per-request state
// and is safe for concurrent use if its collaborators are.
type Gate struct {
	policy   string
	prompter Prompter
	speaker  Speaker
	secrets  Secrets
	logger   *slog.Logger
}

// NewGate creates a gate. policy is one of the config.Policy* values.
func NewGate(policy string, prompter Prompter, speaker Speaker, secrets Secrets, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		policy:   policy,
		prompter: prompter,
		speaker:  speaker,
		secrets:  secrets,
		logger:   logger.With("component", "confirm"),
	}
}

// Confirm reports whether action (for example "Execute open-calculator")
// may proceed at the given risk level.
func (g *Gate) Confirm(ctx context.Context, action string, level catalog.RiskLevel) bool {
	// Stored levels are already normalized; anything else is refused.
	switch level {
	case catalog.RiskLow:
		return true
	case catalog.RiskMedium:
		return g.confirmMedium(ctx, action)
	case catalog.RiskHigh:
		return g.confirmHigh(ctx, action)
	}
	g.logger.Warn("unrecognized risk level, refusing", "action", action, "risk_level", level)
	return false
}

func (g *Gate) confirmMedium(ctx context.Context, action string) bool {
	g.say(ctx, action+". Proceed?")
	if g.policy == config.PolicyAuto {
		g.logger.Debug("auto-confirmed", "action", action)
		return true
	}

	answer, ok := g.ask(ctx, PromptProceed)
	if !ok {
		return false
	}
	return strings.ToLower(strings.TrimSpace(answer)) == "yes"
}

func (g *Gate) confirmHigh(ctx context.Context, action string) bool {
	g.say(ctx, action+". Confirm with passphrase.")

	passphrase, ok := g.ask(ctx, PromptPassphrase)
	if !ok {
		return false
	}

	if strings.ToLower(strings.TrimSpace(passphrase)) == SetupToken {
		first, ok := g.ask(ctx, PromptNewPassphrase)
		if !ok {
			return false
		}
		second, ok := g.ask(ctx, PromptConfirmNew)
		if !ok {
			return false
		}
		if first != second {
			g.say(ctx, SayMismatch)
			return false
		}
		if err := g.secrets.SetPassphrase(first); err != nil {
			g.logger.Error("storing passphrase failed", "error", err)
			return false
		}
		g.say(ctx, SayStored)
		g.logger.Info("passphrase enrolled")
		passphrase = first
	}

	stored, err := g.secrets.PassphraseHash()
	if err != nil {
		g.logger.Error("reading passphrase failed", "error", err)
		return false
	}
	if stored == "" {
		g.logger.Warn("no passphrase enrolled, refusing", "action", action)
		return false
	}
	if !memory.MatchPassphrase(stored, passphrase) {
		g.logger.Warn("passphrase mismatch", "action", action)
		return false
	}
	return true
}

func (g *Gate) ask(ctx context.Context, text string) (string, bool) {
	if g.prompter == nil {
		g.logger.Warn("no prompter configured, refusing")
		return "", false
	}
	answer, err := g.prompter.Prompt(ctx, text)
	if err != nil {
		g.logger.Warn("prompt failed", "prompt", text, "error", err)
		return "", false
	}
	return answer, true
}

func (g *Gate) say(ctx context.Context, text string) {
	if g.speaker == nil {
		return
	}
	if err := g.speaker.Say(ctx, text); err != nil {
		g.logger.Warn("announcement failed", "text", text, "error", err)
	}
}
