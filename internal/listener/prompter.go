package listener

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultAnswerTimeout bounds how long a voice prompt waits.
const DefaultAnswerTimeout = 30 * time.Second

// ErrNoAnswer is returned when no transcript arrived in time.
var ErrNoAnswer = errors.New("no spoken answer")

// VoicePrompter answers confirmation prompts with the next transcript
// the listener receives instead of dispatching it. Prompts are served
// one at a time.
type VoicePrompter struct {
	timeout time.Duration
	logger  *slog.Logger

	serial  sync.Mutex
	mu      sync.Mutex
	pending chan string
}

// NewVoicePrompter creates a prompter. timeout <= 0 means
// [DefaultAnswerTimeout].
func NewVoicePrompter(timeout time.Duration, logger *slog.Logger) *VoicePrompter {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultAnswerTimeout
	}
	return &VoicePrompter{timeout: timeout, logger: logger.With("component", "voice_prompter")}
}

// Prompt waits for the next delivered transcript.
func (p *VoicePrompter) Prompt(ctx context.Context, text string) (string, error) {
	p.serial.Lock()
	defer p.serial.Unlock()

	ch := make(chan string, 1)
	p.mu.Lock()
	p.pending = ch
	p.mu.Unlock()

	p.logger.Info("waiting for spoken answer", "prompt", text)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case answer := <-ch:
		return answer, nil
	case <-timer.C:
		if answer, ok := p.withdraw(ch); ok {
			return answer, nil
		}
		return "", ErrNoAnswer
	case <-ctx.Done():
		if answer, ok := p.withdraw(ch); ok {
			return answer, nil
		}
		return "", ctx.Err()
	}
}

// withdraw stops ch from accepting deliveries and returns an answer that
// was delivered before it did. Deliver reports true once it has sent, so
// that answer must not be dropped.
func (p *VoicePrompter) withdraw(ch chan string) (string, bool) {
	p.mu.Lock()
	if p.pending == ch {
		p.pending = nil
	}
	p.mu.Unlock()

	select {
	case answer := <-ch:
		return answer, true
	default:
		return "", false
	}
}

// Deliver hands transcript to a waiting prompt. It reports false, and
// keeps nothing, when no prompt is waiting. A nil prompter never
// consumes.
func (p *VoicePrompter) Deliver(transcript string) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return false
	}
	p.pending <- transcript
	p.pending = nil
	return true
}

// Waiting reports whether a prompt is pending.
func (p *VoicePrompter) Waiting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending != nil
}
