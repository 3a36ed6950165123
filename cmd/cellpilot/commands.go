package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/cellpilot/pkg/kernelclient"
	"github.com/ormasoftchile/cellpilot/pkg/mcp"
	"github.com/ormasoftchile/cellpilot/pkg/notebook"
	"github.com/ormasoftchile/cellpilot/pkg/render"
	"github.com/ormasoftchile/cellpilot/pkg/replay"
	"github.com/ormasoftchile/cellpilot/pkg/repl"
	"github.com/ormasoftchile/cellpilot/pkg/schema"
	"github.com/ormasoftchile/cellpilot/pkg/session"
	"github.com/ormasoftchile/cellpilot/pkg/tui"
)

// errStepsFailed is returned by run when a step fails; its outputs were
// already printed.
var errStepsFailed = errors.New("one or more steps failed")

// --- tui ---

func newTUICmd(g *globalFlags) *cobra.Command {
	var compact bool
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Open the full-screen notebook (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(g, compact)
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "Hide the steps column")
	return cmd
}

func runTUI(g *globalFlags, compact bool) error {
	b, cleanup, err := g.prepare(true, true)
	if err != nil {
		return err
	}
	defer cleanup()
	return tui.Run(tui.Config{Deps: b.deps, Compact: compact})
}

// --- repl ---

func newREPLCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive line-oriented shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, cleanup, err := g.prepare(false, true)
			if err != nil {
				return err
			}
			defer cleanup()
			sess, err := session.New(b.deps)
			if err != nil {
				return err
			}
			defer sess.Close()
			return repl.New(sess).Run(cmd.Context())
		},
	}
}

// --- mcp ---

func newMCPCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the notebook as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, cleanup, err := g.prepare(true, true)
			if err != nil {
				return err
			}
			defer cleanup()
			sess, err := session.New(b.deps)
			if err != nil {
				return err
			}
			defer sess.Close()
			return server.ServeStdio(mcp.NewServer(version, sess))
		},
	}
}

// --- run ---

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		savePath string
		wait     bool
	)
	cmd := &cobra.Command{
		Use:   "run [step-id...]",
		Short: "Run steps headless and print their outputs",
		Long:  "Run the named steps in order, or every step when none is named. Stops at the first failure and exits non-zero.",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, cleanup, err := g.prepare(false, false)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if wait {
				if err := b.client.WaitReady(ctx); err != nil {
					return err
				}
			}
			sess, err := session.New(b.deps)
			if err != nil {
				return err
			}
			for _, id := range args {
				if _, ok := sess.Notebook().Step(id); !ok {
					return fmt.Errorf("unknown step %q", id)
				}
			}
			failed := runSteps(ctx, cmd, sess, args)
			if savePath != "" {
				if err := sess.SaveState(savePath); err != nil {
					return err
				}
			}
			if failed {
				return errStepsFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&savePath, "save", "", "Write the final session state as JSON to this file")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the kernel to report running before the first step")
	return cmd
}

// runSteps runs ids, or all steps when ids is empty, and prints each result.
// It reports whether a step failed.
func runSteps(ctx context.Context, cmd *cobra.Command, sess *session.Session, ids []string) bool {
	out := cmd.OutOrStdout()
	var results []notebook.RunResult
	if len(ids) == 0 {
		results = sess.RunAll(ctx)
	} else {
		for _, id := range ids {
			res := sess.Run(ctx, id)
			results = append(results, res)
			if res.Status == notebook.RunFailed {
				break
			}
		}
	}

	failed := false
	for _, res := range results {
		def, _ := sess.Notebook().Step(res.StepID)
		switch res.Status {
		case notebook.RunSkipped:
			fmt.Fprintf(out, "- %s %s: skipped (no code)\n", res.StepID, def.Title)
			continue
		case notebook.RunSucceeded:
			fmt.Fprintf(out, "✓ %s %s (%s)\n", res.StepID, def.Title, res.Duration.Round(time.Millisecond))
		default:
			failed = true
			fmt.Fprintf(out, "✗ %s %s (%s)\n", res.StepID, def.Title, res.Duration.Round(time.Millisecond))
		}
		for _, block := range render.Items(res.Outputs, render.Options{}) {
			fmt.Fprintln(out, block.String())
		}
	}
	done, total := sess.Tracker().Progress()
	fmt.Fprintf(out, "\n%d/%d steps completed\n", done, total)
	return failed
}

// --- validate ---

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <notebook.yaml>",
		Short: "Validate a notebook definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nb, errs := schema.ValidateFile(args[0])
			printValidation(cmd.ErrOrStderr(), errs)
			if schema.HasErrors(errs) {
				n := 0
				for _, e := range errs {
					if e.Severity != "warning" {
						n++
					}
				}
				return fmt.Errorf("validation failed with %d error(s)", n)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid (%d steps)\n", nb.Meta.Name, len(nb.Steps))
			return nil
		},
	}
}

// --- schema ---

func newSchemaCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:       "schema [notebook|execute-response]",
		Short:     "Print a JSON Schema",
		Long:      "Print the JSON Schema for notebook definitions (default) or for backend execute responses.",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"notebook", "execute-response"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := "notebook"
			if len(args) == 1 {
				kind = args[0]
			}
			var (
				data []byte
				err  error
			)
			switch kind {
			case "notebook":
				data, err = schema.GenerateNotebookJSONSchema()
			case "execute-response":
				data, err = kernelclient.ExecuteResponseJSONSchema()
			default:
				return fmt.Errorf("unknown schema %q: use notebook or execute-response", kind)
			}
			if err != nil {
				return err
			}
			if out != "" {
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return fmt.Errorf("write schema: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schema written to %s\n", out)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the schema to a file instead of stdout")
	return cmd
}

// --- replay-server ---

func newReplayServerCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "replay-server <scenario.yaml>",
		Short: "Serve canned backend responses from a scenario file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.settings()
			if err != nil {
				return err
			}
			if _, err := setupLogging(cfg, false); err != nil {
				return err
			}
			sc, err := replay.LoadScenario(args[0])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Fprintf(cmd.OutOrStdout(), "Replaying %s on %s (Ctrl+C to stop)\n", args[0], addr)
			return replay.NewServer(sc).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8000", "Listen address")
	return cmd
}

// --- version ---

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cellpilot %s (commit %s)\n", version, commit)
		},
	}
}
