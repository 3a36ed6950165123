// Command cellpilot drives notebook-style analysis steps against a remote
// execution kernel from the terminal.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/cellpilot/pkg/chat"
	"github.com/ormasoftchile/cellpilot/pkg/config"
	"github.com/ormasoftchile/cellpilot/pkg/kernelclient"
	"github.com/ormasoftchile/cellpilot/pkg/logging"
	"github.com/ormasoftchile/cellpilot/pkg/schema"
	"github.com/ormasoftchile/cellpilot/pkg/session"
	"github.com/ormasoftchile/cellpilot/pkg/trace"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	loadDotEnv(".env")
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errStepsFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// loadDotEnv sets KEY=VALUE pairs from path for variables not already in
// the environment. Blank lines and # comments are skipped.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, val)
		}
	}
}

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	backend    string
	notebook   string
	vars       []string
	logLevel   string
	logFile    string
	traceFile  string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "cellpilot",
		Short:         "Notebook step runner for remote analysis kernels",
		Long:          "cellpilot edits, runs and explains notebook steps executed by a remote kernel backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(g, false)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "Path to the config file (default ./"+config.DefaultFile+" if present)")
	pf.StringVar(&g.backend, "backend", "", "Backend base URL (overrides backend_url)")
	pf.StringVar(&g.notebook, "notebook", "", "Notebook definition YAML (default: built-in workflow)")
	pf.StringArrayVar(&g.vars, "var", nil, "Set a template variable (key=value), repeatable")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&g.logFile, "log-file", "", "Log file for full-screen and MCP modes")
	pf.StringVar(&g.traceFile, "trace", "", "Append a JSONL session trace to this file")

	root.AddCommand(
		newTUICmd(g),
		newREPLCmd(g),
		newMCPCmd(g),
		newRunCmd(g),
		newValidateCmd(),
		newSchemaCmd(),
		newReplayServerCmd(g),
		newVersionCmd(),
	)
	return root
}

// settings resolves the effective configuration: file, then environment,
// then flags.
func (g *globalFlags) settings() (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if g.backend != "" {
		cfg.BackendURL = g.backend
	}
	if g.notebook != "" {
		cfg.Notebook = g.notebook
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.logFile != "" {
		cfg.LogFile = g.logFile
	}
	if g.traceFile != "" {
		cfg.TraceFile = g.traceFile
	}
	vars, err := parseVars(g.vars)
	if err != nil {
		return cfg, err
	}
	if len(vars) > 0 && cfg.Vars == nil {
		cfg.Vars = make(map[string]string, len(vars))
	}
	for k, v := range vars {
		cfg.Vars[k] = v
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// parseVars turns key=value flags into a map.
func parseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q: expected key=value", p)
		}
		vars[k] = v
	}
	return vars, nil
}

// setupLogging routes slog to the log file when the terminal is taken,
// else to stderr. The returned func releases the file.
func setupLogging(cfg config.Config, toFile bool) (func(), error) {
	if !toFile || cfg.LogFile == "" {
		if err := logging.Configure(cfg.LogLevel, os.Stderr); err != nil {
			return nil, err
		}
		return func() {}, nil
	}
	closer, err := logging.ConfigureFile(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	return func() { closer.Close() }, nil
}

// loadNotebook reads and validates the notebook at path; an empty path
// selects the built-in workflow. Warnings go to w.
func loadNotebook(path string, w io.Writer) (*schema.Notebook, error) {
	if path == "" {
		return schema.Default(), nil
	}
	nb, errs := schema.ValidateFile(path)
	printValidation(w, errs)
	if schema.HasErrors(errs) {
		return nil, fmt.Errorf("notebook %s is invalid", path)
	}
	return nb, nil
}

func printValidation(w io.Writer, errs []*schema.ValidationError) {
	n := 0
	for _, e := range errs {
		if e.Severity == "warning" {
			fmt.Fprintf(w, "  ⚠ [%s] %s\n", e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(w, "    at: %s\n", e.Path)
			}
			continue
		}
		n++
		fmt.Fprintf(w, "  %d. [%s] %s\n", n, e.Phase, e.Message)
		if e.Path != "" {
			fmt.Fprintf(w, "     at: %s\n", e.Path)
		}
	}
}

// backend holds the collaborators built from the configuration.
type backend struct {
	deps   session.Deps
	client *kernelclient.Client
	trace  *trace.Writer
}

func (b *backend) Close() {
	if b.trace != nil {
		b.trace.Close()
	}
}

// newBackend wires the kernel client, chat session and trace writer for nb.
// withChat is false for headless runs, which never talk to the assistant.
func newBackend(cfg config.Config, nb *schema.Notebook, withChat bool) (*backend, error) {
	client, err := kernelclient.New(cfg.BackendURL,
		kernelclient.WithTimeout(cfg.RequestTimeout),
		kernelclient.WithLogger(slog.Default().With("component", "kernelclient")),
	)
	if err != nil {
		return nil, err
	}
	b := &backend{client: client}
	b.deps = session.Deps{
		Notebook: nb,
		Vars:     cfg.Vars,
		Executor: client,
		Kernel:   client,
		Logger:   slog.Default().With("component", "session"),
	}

	if withChat {
		url, err := cfg.ResolvedChatURL()
		if err != nil {
			return nil, err
		}
		b.deps.Chat = chat.NewSession(url, chat.WithLogger(slog.Default().With("component", "chat")))
	}

	if cfg.TraceFile != "" {
		tw, err := trace.NewFileWriter(cfg.TraceFile, trace.NewSessionID())
		if err != nil {
			return nil, err
		}
		_ = tw.EmitSessionStart(nb.Meta.Name, cfg.BackendURL)
		b.trace = tw
		b.deps.Trace = tw
	}
	return b, nil
}

// prepare is the shared start-up of the session front ends.
func (g *globalFlags) prepare(toFile, withChat bool) (*backend, func(), error) {
	cfg, err := g.settings()
	if err != nil {
		return nil, nil, err
	}
	closeLog, err := setupLogging(cfg, toFile)
	if err != nil {
		return nil, nil, err
	}
	nb, err := loadNotebook(cfg.Notebook, os.Stderr)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	b, err := newBackend(cfg, nb, withChat)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	slog.Info("Session configured.", "notebook", nb.Meta.Name, "backend", cfg.BackendURL, "steps", len(nb.Steps))
	return b, func() { b.Close(); closeLog() }, nil
}
