package dispatch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nugget/scriptvoice/internal/executor"
)

// Step failure reasons carried in [StepResult.Err].
var (
	ErrNotConfirmed = errors.New("not confirmed")
	ErrMissingTool  = errors.New("missing tool identifier")
)

// Observation is the outcome of one executed tool.
type Observation struct {
	Tool     string `json:"tool"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	Summary  string `json:"summary"`
}

func newObservation(tool string, res executor.Result) *Observation {
	return &Observation{
		Tool:     tool,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Summary:  FormatObservation(tool, res),
	}
}

// Spoken is what the speaker reads back after a single call.
func (o *Observation) Spoken() string {
	switch {
	case o.Stdout != "":
		return o.Stdout
	case o.Stderr != "":
		return o.Stderr
	default:
		return strconv.Itoa(o.ExitCode)
	}
}

// FormatObservation renders an execution result as one line.
func FormatObservation(tool string, res executor.Result) string {
	if res.ExitCode == 0 {
		out := strings.TrimSpace(res.Stdout)
		if out == "" {
			out = "succeeded"
		}
		return fmt.Sprintf("Executed %s: %s", tool, out)
	}
	diag := strings.TrimSpace(res.Stderr)
	if diag == "" {
		diag = fmt.Sprintf("exit code %d", res.ExitCode)
	}
	return fmt.Sprintf("Failed %s: %s", tool, diag)
}

// StepResult is the outcome of one plan step: either an Observation of
// a run tool, or an Err explaining why nothing ran.
type StepResult struct {
	Tool        string
	Observation *Observation
	Err         error
}

// Summary renders the step for the plan summary.
func (r StepResult) Summary() string {
	switch {
	case r.Observation != nil:
		return r.Observation.Summary
	case errors.Is(r.Err, ErrMissingTool):
		return "Skipped step: missing tool identifier"
	case errors.Is(r.Err, ErrNotConfirmed):
		return fmt.Sprintf("Skipped %s: not confirmed", r.Tool)
	case r.Err != nil:
		return fmt.Sprintf("Failed %s: %v", r.Tool, r.Err)
	default:
		return fmt.Sprintf("Executed %s: succeeded", r.Tool)
	}
}

// Ran reports whether the tool was actually executed.
func (r StepResult) Ran() bool { return r.Observation != nil }

// ReasoningError is returned when the reasoning service could not be
// consulted. The transcript produced no result.
type ReasoningError struct {
	Transcript string
	Provider   string
	Err        error
}

func (e *ReasoningError) Error() string {
	return fmt.Sprintf("reasoning via %s failed for %q: %v", e.Provider, e.Transcript, e.Err)
}

func (e *ReasoningError) Unwrap() error { return e.Err }
