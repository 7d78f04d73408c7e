package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/scriptvoice/internal/audit"
	"github.com/nugget/scriptvoice/internal/catalog"
	"github.com/nugget/scriptvoice/internal/config"
	"github.com/nugget/scriptvoice/internal/events"
	"github.com/nugget/scriptvoice/internal/executor"
	"github.com/nugget/scriptvoice/internal/llm"
	"github.com/nugget/scriptvoice/internal/memory"
	"github.com/nugget/scriptvoice/internal/speech"
	"github.com/nugget/scriptvoice/internal/toolindex"
)

// DefaultMaxMatches is how many index matches narrow the offered tools.
const DefaultMaxMatches = 5

// Searcher ranks scripts for a transcript and describes indexed scripts
// by id.
type Searcher interface {
	Search(query string, maxResults int) []toolindex.Match
	Descriptor(id string) (toolindex.Descriptor, bool)
}

// Confirmer approves or declines a risky action.
type Confirmer interface {
	Confirm(ctx context.Context, action string, level catalog.RiskLevel) bool
}

// Executor runs one tool.
type Executor interface {
	Run(ctx context.Context, toolID string, args map[string]any) (executor.Result, error)
}

// Recorder remembers executed actions.
type Recorder interface {
	Append(rec memory.ActionRecord) error
}

// Journal records every handled transcript.
type Journal interface {
	Record(ctx context.Context, e audit.Entry) error
}

// Config holds the orchestrator's fixed settings.
type Config struct {
	Discovery  string // config.DiscoveryAuto or config.DiscoveryDirect
	MaxMatches int
	System     string
	Model      string
}

// Deps are the orchestrator's collaborators. Index, Memory, Journal and
// Events may be nil.
type Deps struct {
	LLM      llm.Client
	Index    Searcher
	Gate     Confirmer
	Executor Executor
	Speaker  speech.Speaker
	Memory   Recorder
	Journal  Journal
	Events   *events.Bus
}

// Outcome describes how a transcript was handled. Response is empty
// when the reasoning service produced nothing usable.
type Outcome struct {
	RequestID    string
	Kind         Kind
	Response     string
	Steps        []StepResult
	ToolsOffered []string
}

// Orchestrator handles transcripts end to end. It is safe for
// concurrent use; each transcript's steps run sequentially.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	catalog atomic.Pointer[catalog.Catalog]
	logger  *slog.Logger
}

// New creates an orchestrator over cat. A nil catalog is treated as
// empty.
func New(cfg Config, cat *catalog.Catalog, deps Deps, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Discovery == "" {
		cfg.Discovery = config.DiscoveryAuto
	}
	if cfg.MaxMatches <= 0 {
		cfg.MaxMatches = DefaultMaxMatches
	}
	if deps.Speaker == nil {
		deps.Speaker = speech.NewMuted(logger)
	}
	o := &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "dispatch"),
	}
	o.SetCatalog(cat)
	return o
}

// SetCatalog swaps the tool catalog. In-flight requests keep the
// catalog they started with.
func (o *Orchestrator) SetCatalog(cat *catalog.Catalog) {
	if cat == nil {
		cat = catalog.New()
	}
	o.catalog.Store(cat)
}

// Catalog returns the current catalog.
func (o *Orchestrator) Catalog() *catalog.Catalog {
	return o.catalog.Load()
}

// HandleTranscript selects and runs tools for one transcript. The only
// error is a [*ReasoningError]; every other failure is reported in the
// outcome's observations.
func (o *Orchestrator) HandleTranscript(ctx context.Context, transcript string) (*Outcome, error) {
	start := time.Now()
	cat := o.Catalog()
	out := &Outcome{RequestID: newRequestID()}
	log := o.logger.With("request_id", out.RequestID)

	log.Info("handling transcript", "transcript", transcript, "discovery", o.cfg.Discovery)
	o.emit(events.KindRequestStart, map[string]any{
		"request_id": out.RequestID,
		"transcript": transcript,
		"discovery":  o.cfg.Discovery,
	})

	tools := o.offeredTools(transcript, cat, log)
	for _, t := range tools {
		out.ToolsOffered = append(out.ToolsOffered, t.Name)
	}

	req := &llm.Request{
		Model:  o.cfg.Model,
		System: o.cfg.System,
		Prompt: transcript,
		Tools:  tools,
	}
	o.emit(events.KindLLMCall, map[string]any{
		"request_id": out.RequestID,
		"provider":   o.deps.LLM.Name(),
		"tools":      len(tools),
	})

	llmStart := time.Now()
	resp, err := o.deps.LLM.Decide(ctx, req)
	if err != nil {
		rerr := &ReasoningError{Transcript: transcript, Provider: o.deps.LLM.Name(), Err: err}
		log.Error("reasoning service failed", "error", err)
		o.finish(ctx, transcript, "error", out, nil, rerr, start)
		return nil, rerr
	}

	decision := Classify(resp)
	out.Kind = decision.Kind
	o.emit(events.KindLLMResponse, map[string]any{
		"request_id": out.RequestID,
		"provider":   o.deps.LLM.Name(),
		"response":   string(decision.Kind),
		"tokens_in":  resp.InputTokens,
		"tokens_out": resp.OutputTokens,
		"elapsed_ms": time.Since(llmStart).Milliseconds(),
	})

	switch decision.Kind {
	case KindFunctionCall:
		step := o.runStep(ctx, cat, out.RequestID, Step{Tool: decision.Call.Name, Args: decision.Call.Args})
		out.Steps = []StepResult{step}
		out.Response = step.Summary()
		o.say(ctx, spokenFor(step))

	case KindPlan:
		log.Info("executing plan", "steps", len(decision.Plan))
		out.Steps = o.executePlan(ctx, cat, out.RequestID, decision.Plan)
		ran := 0
		for _, st := range out.Steps {
			if st.Ran() {
				ran++
			}
		}
		log.Info("plan finished", "steps", len(out.Steps), "ran", ran)
		out.Response = planSummary(out.Steps)
		o.say(ctx, out.Response)

	case KindText:
		log.Info("spoken answer", "text", decision.Text)
		out.Response = decision.Text
		o.say(ctx, decision.Text)

	case KindEmpty:
		log.Warn("no function call, plan, or text in reasoning response")
	}

	o.finish(ctx, transcript, string(decision.Kind), out, resp, nil, start)
	return out, nil
}

// ExecutePlan runs steps in order and returns the spoken summary. A
// failed or skipped step never stops the remaining ones.
func (o *Orchestrator) ExecutePlan(ctx context.Context, plan []Step) string {
	steps := o.executePlan(ctx, o.Catalog(), newRequestID(), plan)
	summary := planSummary(steps)
	o.say(ctx, summary)
	return summary
}

func (o *Orchestrator) executePlan(ctx context.Context, cat *catalog.Catalog, requestID string, plan []Step) []StepResult {
	results := make([]StepResult, 0, len(plan))
	for _, step := range plan {
		results = append(results, o.runStep(ctx, cat, requestID, step))
	}
	return results
}

// runStep is the confirm, execute, observe, remember sequence shared by
// single calls and plan steps.
func (o *Orchestrator) runStep(ctx context.Context, cat *catalog.Catalog, requestID string, step Step) StepResult {
	tool := strings.TrimSpace(step.Tool)
	if tool == "" {
		o.logger.Warn("plan step without tool", "request_id", requestID)
		return StepResult{Err: ErrMissingTool}
	}
	args := step.Args
	if args == nil {
		args = map[string]any{}
	}

	level := o.riskLevel(cat, tool)
	o.emit(events.KindToolCall, map[string]any{
		"request_id": requestID,
		"tool":       tool,
		"risk_level": string(level),
	})

	if !o.deps.Gate.Confirm(ctx, "Execute "+tool, level) {
		res := StepResult{Tool: tool, Err: ErrNotConfirmed}
		o.logger.Info(res.Summary(), "request_id", requestID, "risk_level", level)
		o.toolDone(requestID, tool, "skipped", 0, 0)
		return res
	}

	start := time.Now()
	execRes, err := o.deps.Executor.Run(ctx, tool, args)
	elapsed := time.Since(start)
	if err != nil {
		res := StepResult{Tool: tool, Err: err}
		o.logger.Error(res.Summary(), "request_id", requestID)
		o.toolDone(requestID, tool, "rejected", -1, elapsed)
		return res
	}

	obs := newObservation(tool, execRes)
	status := "ok"
	if !execRes.OK() {
		status = "failed"
	}
	o.logger.Info(obs.Summary, "request_id", requestID, "exit_code", execRes.ExitCode,
		"elapsed", elapsed.Round(time.Millisecond))
	o.toolDone(requestID, tool, status, execRes.ExitCode, elapsed)

	if o.deps.Memory != nil {
		if err := o.deps.Memory.Append(memory.ActionRecord{Tool: tool, Args: args, Result: obs.Summary}); err != nil {
			o.logger.Error("failed to record action", "tool", tool, "error", err)
		}
	}
	return StepResult{Tool: tool, Observation: obs}
}

// riskLevel is the stricter of the catalog's and the index's level for
// tool. Scripts the catalog skipped or names differently are still known
// to the index. Unrecognized levels outrank high so the gate refuses
// them. Tools neither source knows are low risk.
func (o *Orchestrator) riskLevel(cat *catalog.Catalog, tool string) catalog.RiskLevel {
	level := catalog.RiskLow
	if l, ok := cat.RiskLevels[tool]; ok && l != "" {
		level = l
	}
	if o.deps.Index != nil {
		if d, ok := o.deps.Index.Descriptor(tool); ok && riskRank(d.RiskLevel) > riskRank(level) {
			level = d.RiskLevel
		}
	}
	return level
}

func riskRank(l catalog.RiskLevel) int {
	switch l {
	case "", catalog.RiskLow:
		return 0
	case catalog.RiskMedium:
		return 1
	case catalog.RiskHigh:
		return 2
	default:
		return 3
	}
}

// FocusedTools narrows the catalog to the index matches for transcript.
// Matches the catalog does not know get a minimal parameterless schema.
// It returns nil when there are no matches.
func FocusedTools(matches []toolindex.Match, cat *catalog.Catalog) []catalog.ToolSchema {
	if len(matches) == 0 {
		return nil
	}
	tools := make([]catalog.ToolSchema, 0, len(matches))
	for _, m := range matches {
		if t, ok := cat.Tool(m.ID); ok {
			tools = append(tools, t)
			continue
		}
		kw := m.Keywords
		if len(kw) > 3 {
			kw = kw[:3]
		}
		tools = append(tools, catalog.ToolSchema{
			Name:        m.ID,
			Description: fmt.Sprintf("%s | User might say: %s", m.Description, strings.Join(kw, ", ")),
			Parameters: catalog.Parameters{
				Type:       "OBJECT",
				Properties: map[string]catalog.Property{},
				Required:   []string{},
			},
		})
	}
	return tools
}

func (o *Orchestrator) offeredTools(transcript string, cat *catalog.Catalog, log *slog.Logger) []catalog.ToolSchema {
	if o.cfg.Discovery != config.DiscoveryAuto || o.deps.Index == nil {
		return cat.Tools
	}
	matches := o.deps.Index.Search(transcript, o.cfg.MaxMatches)
	if len(matches) == 0 {
		log.Debug("no index matches, offering full catalog", "tools", cat.Len())
		return cat.Tools
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	log.Info("narrowed tools from index", "matches", ids)
	return FocusedTools(matches, cat)
}

func (o *Orchestrator) finish(ctx context.Context, transcript, kind string, out *Outcome, resp *llm.Response, rerr error, start time.Time) {
	elapsed := time.Since(start)
	o.emit(events.KindRequestComplete, map[string]any{
		"request_id": out.RequestID,
		"response":   out.Response,
		"ok":         rerr == nil && out.Response != "",
		"elapsed_ms": elapsed.Milliseconds(),
	})

	if o.deps.Journal == nil {
		return
	}
	entry := audit.Entry{
		RequestID:    out.RequestID,
		Transcript:   transcript,
		Kind:         kind,
		ToolsOffered: out.ToolsOffered,
		Result:       out.Response,
		Elapsed:      elapsed,
	}
	if resp != nil {
		entry.InputTokens = resp.InputTokens
		entry.OutputTokens = resp.OutputTokens
	}
	if rerr != nil {
		entry.Error = rerr.Error()
	}
	if err := o.deps.Journal.Record(ctx, entry); err != nil {
		o.logger.Warn("failed to journal dispatch", "request_id", out.RequestID, "error", err)
	}
}

func (o *Orchestrator) toolDone(requestID, tool, status string, exitCode int, elapsed time.Duration) {
	o.emit(events.KindToolDone, map[string]any{
		"request_id": requestID,
		"tool":       tool,
		"status":     status,
		"exit_code":  exitCode,
		"elapsed_ms": elapsed.Milliseconds(),
	})
}

func (o *Orchestrator) emit(kind string, data map[string]any) {
	o.deps.Events.Emit(events.SourceDispatch, kind, data)
}

func (o *Orchestrator) say(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if err := o.deps.Speaker.Say(ctx, text); err != nil {
		o.logger.Warn("speech failed", "error", err)
	}
}

// spokenFor is what a single call reads back: the tool's own output
// when it ran, otherwise the step summary.
func spokenFor(r StepResult) string {
	if r.Observation != nil {
		return r.Observation.Spoken()
	}
	return r.Summary()
}

func planSummary(steps []StepResult) string {
	parts := make([]string, len(steps))
	for i, s := range steps {
		parts[i] = s.Summary()
	}
	return "Completed plan: " + strings.Join(parts, "; ")
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
