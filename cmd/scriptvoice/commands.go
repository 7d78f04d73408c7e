package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nugget/scriptvoice/internal/audit"
	"github.com/nugget/scriptvoice/internal/catalog"
	"github.com/nugget/scriptvoice/internal/confirm"
	"github.com/nugget/scriptvoice/internal/memory"
	"github.com/nugget/scriptvoice/internal/toolindex"
)

const (
	replPrompt      = "Enter transcript (or 'quit' to exit): "
	searchLimit     = toolindex.DefaultMaxResults
	defaultHistoryN = 10
)

// runREPL reads transcripts from stdin until "quit" or end of input.
// Confirmation prompts share the same reader so answers are typed
// inline.
func runREPL(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)
	logger.Info("config loaded", "path", cfgPath)

	in := bufio.NewReader(stdin)
	a, err := newApp(ctx, cfg, logger, confirm.NewLinePrompter(in, stdout))
	if err != nil {
		return err
	}
	defer a.Close()

	for {
		fmt.Fprint(stdout, replPrompt)
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			fmt.Fprintln(stdout)
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("read transcript: %w", err)
		}
		transcript := strings.TrimSpace(line)
		if strings.EqualFold(transcript, "quit") {
			break
		}
		if transcript == "" {
			continue
		}

		resp, err := a.handle(ctx, transcript)
		switch {
		case errors.Is(err, errNoResult):
			fmt.Fprintln(stdout, "(no result)")
		case err != nil:
			fmt.Fprintf(stdout, "error: %v\n", err)
		default:
			fmt.Fprintln(stdout, resp)
		}
		if ctx.Err() != nil {
			break
		}
	}
	logger.Info("repl stopped")
	return nil
}

// runAsk handles one transcript given on the command line.
func runAsk(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	a, err := newApp(ctx, cfg, logger, confirm.NewLinePrompter(bufio.NewReader(stdin), stderr))
	if err != nil {
		return err
	}
	defer a.Close()

	transcript := strings.Join(args, " ")
	resp, err := a.handle(ctx, transcript)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	if outputFmt == "json" {
		return writeJSON(stdout, map[string]string{"transcript": transcript, "response": resp})
	}
	fmt.Fprintln(stdout, resp)
	return nil
}

// runCatalog regenerates the tool catalog from script metadata.
func runCatalog(stdout, stderr io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	cat, err := catalog.NewBuilder(cfg.ScriptsDir, cfg.ScriptExtension, logger).Generate()
	if err != nil {
		return fmt.Errorf("generate catalog: %w", err)
	}
	if err := cat.Save(cfg.CatalogPath()); err != nil {
		return err
	}

	if outputFmt == "json" {
		return writeJSON(stdout, map[string]any{"path": cfg.CatalogPath(), "tools": cat.Len()})
	}
	fmt.Fprintf(stdout, "Generated %d tools in %s\n", cat.Len(), cfg.CatalogPath())
	return nil
}

// runIndex forces a semantic index rebuild.
func runIndex(stdout, stderr io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	idx := toolindex.New(cfg.ScriptsDir, cfg.ScriptExtension, cfg.IndexPath(), logger)
	n, err := idx.Rebuild()
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	categories := idx.Categories()
	if outputFmt == "json" {
		counts := make(map[string]int, len(categories))
		for _, c := range categories {
			counts[c] = len(idx.CategoryScripts(c))
		}
		return writeJSON(stdout, map[string]any{"path": cfg.IndexPath(), "scripts": n, "categories": counts})
	}
	fmt.Fprintf(stdout, "Indexed %d scripts in %s\n", n, cfg.IndexPath())
	for _, c := range categories {
		fmt.Fprintf(stdout, "  %-20s %d\n", c, len(idx.CategoryScripts(c)))
	}
	return nil
}

// runSearch prints ranked index matches for a query.
func runSearch(stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	idx := toolindex.New(cfg.ScriptsDir, cfg.ScriptExtension, cfg.IndexPath(), logger)
	if err := idx.BuildOrLoad(); err != nil {
		return fmt.Errorf("load index: %w", err)
	}

	matches := idx.Search(strings.Join(args, " "), searchLimit)
	if outputFmt == "json" {
		if matches == nil {
			matches = []toolindex.Match{}
		}
		return writeJSON(stdout, matches)
	}
	if len(matches) == 0 {
		fmt.Fprintln(stdout, "No matching scripts.")
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tID\tCATEGORY\tDESCRIPTION")
	for _, m := range matches {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", m.Score, m.ID, m.Category, m.Description)
	}
	return tw.Flush()
}

// history is the JSON shape of the history command.
type history struct {
	Actions    []memory.ActionRecord `json:"actions"`
	Dispatches []dispatchRow         `json:"dispatches,omitempty"`
	Counts     map[string]int        `json:"counts,omitempty"`
}

type dispatchRow struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	Transcript string    `json:"transcript"`
	Kind       string    `json:"kind"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// runHistory shows the most recent remembered actions, newest first,
// and the audit journal when it is enabled.
func runHistory(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	n := defaultHistoryN
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return fmt.Errorf("usage: scriptvoice history [n]")
		}
		n = v
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	store, err := memory.NewStore(cfg.MemoryDir(), memory.DefaultMaxRecent, logger)
	if err != nil {
		return fmt.Errorf("open memory: %w", err)
	}
	actions := store.RecentActions()
	if len(actions) > n {
		actions = actions[len(actions)-n:]
	}
	for i, j := 0, len(actions)-1; i < j; i, j = i+1, j-1 {
		actions[i], actions[j] = actions[j], actions[i]
	}
	h := history{Actions: actions}

	if cfg.Audit.Enabled {
		journal, err := audit.Open(cfg.AuditPath())
		if err != nil {
			return err
		}
		defer journal.Close()
		entries, err := journal.Recent(ctx, n)
		if err != nil {
			return err
		}
		for _, e := range entries {
			h.Dispatches = append(h.Dispatches, dispatchRow{
				Timestamp:  e.Timestamp,
				RequestID:  e.RequestID,
				Transcript: e.Transcript,
				Kind:       e.Kind,
				Result:     e.Result,
				Error:      e.Error,
			})
		}
		if h.Counts, err = journal.CountByKind(ctx); err != nil {
			return err
		}
	}

	if outputFmt == "json" {
		if h.Actions == nil {
			h.Actions = []memory.ActionRecord{}
		}
		return writeJSON(stdout, h)
	}
	return printHistory(stdout, h)
}

func printHistory(w io.Writer, h history) error {
	fmt.Fprintln(w, "Recent actions:")
	if len(h.Actions) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, a := range h.Actions {
		fmt.Fprintf(w, "  %s  %s\n", a.Timestamp.Local().Format(time.DateTime), a.Result)
	}

	if h.Counts == nil {
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Recent dispatches:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, d := range h.Dispatches {
		result := d.Result
		if d.Error != "" {
			result = "error: " + d.Error
		}
		fmt.Fprintf(tw, "  %s\t%s\t%q\t%s\n", d.Timestamp.Local().Format(time.DateTime), d.Kind, d.Transcript, result)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	total := 0
	for _, c := range h.Counts {
		total += c
	}
	fmt.Fprintf(w, "  %d dispatches journaled\n", total)
	return nil
}
