package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// LinePrompter asks on a writer and reads one line per answer. It is
// safe for concurrent use; prompts are answered one at a time.
type LinePrompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewLinePrompter creates a prompter over in/out. Passing the same
// *bufio.Reader used elsewhere lets a REPL share stdin with the gate.
func NewLinePrompter(in *bufio.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{in: in, out: out}
}

// Prompt writes text and returns the next input line without its line
// terminator.
func (p *LinePrompter) Prompt(ctx context.Context, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := fmt.Fprint(p.out, text); err != nil {
		return "", fmt.Errorf("write prompt: %w", err)
	}
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
