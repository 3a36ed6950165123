// Package repl implements a line-oriented notebook shell for terminals
// where the full-screen UI is not wanted.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/ormasoftchile/cellpilot/pkg/session"
)

// lineReader is the part of readline the REPL uses.
type lineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// REPL drives a notebook session from typed commands.
type REPL struct {
	sess   *session.Session
	output io.Writer
	rl     lineReader
}

// New creates a REPL for sess writing to stdout.
func New(sess *session.Session) *REPL {
	return &REPL{sess: sess, output: os.Stdout}
}

var commands = []string{"steps", "show", "edit", "revert", "run", "runall",
	"explain", "chat", "restart", "status", "save", "help", "quit"}

// Run starts the interactive loop and returns when the user quits.
func (r *REPL) Run(ctx context.Context) error {
	completer := readline.NewPrefixCompleter()
	for _, cmd := range commands {
		completer.Children = append(completer.Children, readline.PcItem(cmd))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          r.prompt(),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()
	r.rl = rl

	nb := r.sess.Notebook()
	fmt.Fprintf(r.output, "cellpilot: %s, %d steps\n", nb.Meta.Name, len(nb.Steps))
	fmt.Fprintf(r.output, "Type 'help' for available commands.\n\n")
	return r.loop(ctx)
}

func (r *REPL) loop(ctx context.Context) error {
	for {
		r.rl.SetPrompt(r.prompt())
		line, err := r.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if quit := r.Exec(ctx, line); quit {
			return nil
		}
	}
}

// Exec runs one command line and reports whether the REPL should exit.
func (r *REPL) Exec(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	var err error
	switch cmd {
	case "steps", "ls":
		r.handleSteps()
	case "show", "s":
		err = r.handleShow(rest)
	case "edit", "e":
		err = r.handleEdit(rest)
	case "revert", "u":
		err = r.handleRevert(rest)
	case "run", "r":
		err = r.handleRun(ctx, rest)
	case "runall", "a":
		r.handleRunAll(ctx)
	case "explain", "x":
		err = r.handleExplain(ctx, rest)
	case "chat":
		err = r.handleChat(ctx, rest)
	case "restart":
		err = r.handleRestart(ctx)
	case "status":
		r.handleStatus(ctx)
	case "save":
		err = r.handleSave(rest)
	case "help", "?":
		r.handleHelp()
	case "quit", "q", "exit":
		fmt.Fprintf(r.output, "Bye.\n")
		return true
	default:
		fmt.Fprintf(r.output, "Unknown command: %q. Type 'help' for available commands.\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(r.output, "Error: %v\n", err)
	}
	return false
}

// prompt builds the prompt: cellpilot[done/total | step-id]>
func (r *REPL) prompt() string {
	done, total := r.sess.Tracker().Progress()
	if sel := r.sess.Controller().Selected(); sel != "" {
		return fmt.Sprintf("cellpilot[%d/%d | %s]> ", done, total, sel)
	}
	return fmt.Sprintf("cellpilot[%d/%d]> ", done, total)
}
