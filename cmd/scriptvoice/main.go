// Scriptvoice maps spoken commands onto a library of automation scripts.
//
// Transcripts arrive from a Serenade-style WebSocket endpoint (serve), a
// terminal (repl) or the command line (ask). Each one is narrowed to a
// few candidate scripts with the semantic index, handed to a reasoning
// service that picks a script or a multi-step plan, and executed behind
// a risk-tiered confirmation gate.
//
// Usage:
//
//	scriptvoice serve               Listen for voice transcripts
//	scriptvoice repl                Type transcripts interactively
//	scriptvoice ask <transcript>    Handle a single transcript
//	scriptvoice init [dir]          Create a working directory with defaults
//	scriptvoice catalog             Regenerate the tool catalog from script metadata
//	scriptvoice index               Rebuild the semantic index
//	scriptvoice search <query>      Show ranked index matches
//	scriptvoice history [n]         Show recent actions and dispatches
//	scriptvoice version             Print version and build information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/nugget/scriptvoice/internal/buildinfo"
	"github.com/nugget/scriptvoice/internal/config"
)

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. All OS-level dependencies are injected
// so the command surface can be driven from tests. Arguments are parsed
// by hand to keep flag.CommandLine globals out of concurrent tests.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command == "" {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
			cmdArgs = append(cmdArgs, args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdin, stdout, stderr, configPath)
	case "repl":
		return runREPL(ctx, stdin, stdout, stderr, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: scriptvoice ask <transcript>")
		}
		return runAsk(ctx, stdin, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "catalog":
		return runCatalog(stdout, stderr, configPath, outputFmt)
	case "index":
		return runIndex(stdout, stderr, configPath, outputFmt)
	case "search":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: scriptvoice search <query>")
		}
		return runSearch(stdout, stderr, configPath, outputFmt, cmdArgs)
	case "history":
		return runHistory(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		return writeJSON(w, info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Scriptvoice - voice commands for your automation scripts")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: scriptvoice [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve            Listen for voice transcripts")
	fmt.Fprintln(w, "  repl             Type transcripts interactively ('quit' to exit)")
	fmt.Fprintln(w, "  ask <text>       Handle a single transcript")
	fmt.Fprintln(w, "  init [dir]       Initialize a working directory (default: .)")
	fmt.Fprintln(w, "  catalog          Regenerate the tool catalog from script metadata")
	fmt.Fprintln(w, "  index            Rebuild the semantic index")
	fmt.Fprintln(w, "  search <query>   Show ranked index matches")
	fmt.Fprintln(w, "  history [n]      Show recent actions and dispatches")
	fmt.Fprintln(w, "  version          Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment overrides:")
	envs := []string{config.EnvConfirmPolicy, config.EnvDiscoveryMode, config.EnvDisableTTS, config.EnvGeminiAPIKey, config.EnvLogLevel}
	sort.Strings(envs)
	for _, e := range envs {
		fmt.Fprintln(w, "  "+e)
	}
	return nil
}

// newLogger creates the process logger. Format must be "text" or
// "json"; anything else falls back to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// configuredLogger builds the logger described by cfg.
func configuredLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	format, _ := config.ParseLogFormat(cfg.LogFormat)
	return newLogger(w, level, format)
}

// loadConfig locates, parses, overlays environment overrides onto and
// validates the configuration. An explicit path must exist; without
// one, a missing config file yields the defaults. The returned path is
// empty when defaults were used.
func loadConfig(explicit string) (*config.Config, string, error) {
	var cfg *config.Config
	cfgPath, err := config.FindConfig(explicit)
	switch {
	case err == nil:
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
		}
	case explicit != "":
		return nil, "", err
	default:
		cfg = config.Default()
		cfgPath = ""
	}

	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, cfgPath, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// errNoResult reports a transcript the reasoning service produced
// nothing for.
var errNoResult = errors.New("no result")
