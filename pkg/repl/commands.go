package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/ormasoftchile/cellpilot/pkg/notebook"
	"github.com/ormasoftchile/cellpilot/pkg/pipeline"
	"github.com/ormasoftchile/cellpilot/pkg/render"
)

// editTerminator ends multi-line code entry.
const editTerminator = "."

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// stepArg resolves the step argument, defaulting to the selected step.
// A named step becomes the selection.
func (r *REPL) stepArg(arg string) (string, error) {
	ctrl := r.sess.Controller()
	if arg == "" {
		if sel := ctrl.Selected(); sel != "" {
			return sel, nil
		}
		return "", errors.New("no step selected; pass a step id")
	}
	if _, ok := r.sess.Notebook().Step(arg); !ok {
		return "", fmt.Errorf("unknown step %q", arg)
	}
	ctrl.Select(arg)
	return arg, nil
}

// handleSteps lists the steps with their pipeline state.
func (r *REPL) handleSteps() {
	ctrl := r.sess.Controller()
	tracker := r.sess.Tracker()
	rows := make([][]string, 0, len(ctrl.Steps()))
	for _, id := range ctrl.Steps() {
		title := ""
		if def, ok := r.sess.Notebook().Step(id); ok {
			title = def.Title
		}
		counter := "[ ]"
		if n := tracker.Execution(id); n > 0 {
			counter = fmt.Sprintf("[%d]", n)
		}
		status := string(tracker.Status(id))
		if status == string(pipeline.Pending) && !r.sess.Ready(id) {
			status = "blocked"
		}
		edited := ""
		if ctrl.IsEdited(id) {
			edited = "edited"
		}
		mark := " "
		if id == ctrl.Selected() {
			mark = ">"
		}
		rows = append(rows, []string{mark, counter, id, title, status, edited})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("", "#", "STEP", "TITLE", "STATUS", "").
		Rows(rows...)
	fmt.Fprintln(r.output, t.Render())
}

// handleShow prints a step's code and its last outputs.
func (r *REPL) handleShow(arg string) error {
	id, err := r.stepArg(arg)
	if err != nil {
		return err
	}
	ctrl := r.sess.Controller()
	def, _ := r.sess.Notebook().Step(id)
	fmt.Fprintf(r.output, "%s  %s\n", id, def.Title)
	if def.Description != "" {
		fmt.Fprintf(r.output, "%s\n", strings.TrimSpace(def.Description))
	}
	code := ctrl.Source(id)
	if ctrl.IsEdited(id) {
		fmt.Fprintln(r.output, "--- code (edited) ---")
	} else {
		fmt.Fprintln(r.output, "--- code ---")
	}
	fmt.Fprintln(r.output, code)
	rec := ctrl.Record(id)
	if rec.Outputs != nil {
		fmt.Fprintln(r.output, "--- output ---")
		r.printOutputs(rec.Outputs, rec.ExecutionTime)
	}
	return nil
}

// handleEdit reads replacement code until a line holding only ".".
func (r *REPL) handleEdit(arg string) error {
	id, err := r.stepArg(arg)
	if err != nil {
		return err
	}
	if r.rl == nil {
		return errors.New("edit needs an interactive terminal")
	}
	fmt.Fprintf(r.output, "Enter code for %s; finish with a line containing only %q.\n", id, editTerminator)
	r.rl.SetPrompt("... ")
	var lines []string
	for {
		line, err := r.rl.Readline()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("edit aborted: %w", err)
		}
		if strings.TrimSpace(line) == editTerminator {
			break
		}
		lines = append(lines, line)
	}
	r.sess.Edit(id, strings.Join(lines, "\n"))
	fmt.Fprintf(r.output, "%s updated (%d lines).\n", id, len(lines))
	return nil
}

func (r *REPL) handleRevert(arg string) error {
	id, err := r.stepArg(arg)
	if err != nil {
		return err
	}
	if !r.sess.Revert(id) {
		fmt.Fprintf(r.output, "%s has no edits.\n", id)
		return nil
	}
	fmt.Fprintf(r.output, "%s reverted to its template.\n", id)
	return nil
}

func (r *REPL) handleRun(ctx context.Context, arg string) error {
	id, err := r.stepArg(arg)
	if err != nil {
		return err
	}
	if !r.sess.Ready(id) {
		fmt.Fprintf(r.output, "Note: %s is waiting on earlier steps.\n", id)
	}
	r.printResult(r.sess.Run(ctx, id))
	return nil
}

func (r *REPL) handleRunAll(ctx context.Context) {
	results := r.sess.RunAll(ctx)
	for _, res := range results {
		r.printResult(res)
	}
	if n := len(results); n > 0 && results[n-1].Status == notebook.RunFailed {
		fmt.Fprintf(r.output, "Halted on failure.\n")
	}
}

func (r *REPL) handleExplain(ctx context.Context, arg string) error {
	id, err := r.stepArg(arg)
	if err != nil {
		return err
	}
	_, err = r.sess.Explain(ctx, id, r.streamChunk)
	fmt.Fprintln(r.output)
	return err
}

func (r *REPL) handleChat(ctx context.Context, text string) error {
	if text == "" {
		return errors.New("usage: chat <message>")
	}
	_, err := r.sess.Ask(ctx, text, r.streamChunk)
	fmt.Fprintln(r.output)
	return err
}

func (r *REPL) streamChunk(chunk string) {
	fmt.Fprint(r.output, chunk)
}

func (r *REPL) handleRestart(ctx context.Context) error {
	if err := r.sess.Restart(ctx); err != nil {
		return err
	}
	fmt.Fprintf(r.output, "Kernel restarted.\n")
	return nil
}

func (r *REPL) handleStatus(ctx context.Context) {
	done, total := r.sess.Tracker().Progress()
	fmt.Fprintf(r.output, "Pipeline: %d/%d steps completed, %d runs\n", done, total, r.sess.Tracker().Counter())
	st, err := r.sess.KernelStatus(ctx)
	if err != nil {
		fmt.Fprintf(r.output, "Kernel: %v\n", err)
		return
	}
	line := "Kernel: " + st.Status
	if st.KernelID != "" {
		line += " (" + st.KernelID + ")"
	}
	if st.Message != "" {
		line += ": " + st.Message
	}
	fmt.Fprintln(r.output, line)
}

func (r *REPL) handleSave(path string) error {
	if path == "" {
		return errors.New("usage: save <path>")
	}
	if err := r.sess.SaveState(path); err != nil {
		return err
	}
	fmt.Fprintf(r.output, "Session state written to %s\n", path)
	return nil
}

func (r *REPL) printResult(res notebook.RunResult) {
	switch res.Status {
	case notebook.RunSkipped:
		fmt.Fprintf(r.output, "  - %s skipped: no code\n", res.StepID)
		return
	case notebook.RunSucceeded:
		fmt.Fprintf(r.output, "  ✓ %s\n", res.StepID)
	default:
		fmt.Fprintf(r.output, "  ✗ %s failed\n", res.StepID)
	}
	if !res.Applied {
		fmt.Fprintf(r.output, "    (superseded by a newer run or edit)\n")
		return
	}
	r.printOutputs(res.Outputs, res.Duration)
}

func (r *REPL) printOutputs(outputs []notebook.OutputItem, elapsed time.Duration) {
	opts := render.Options{CanExplain: r.sess.Controller().CanExplain()}
	for _, block := range render.Items(outputs, opts) {
		fmt.Fprintln(r.output, block.String())
		if block.Explainable {
			fmt.Fprintln(r.output, "    (type 'explain' to ask the assistant)")
		}
	}
	if elapsed > 0 {
		fmt.Fprintf(r.output, "    [%s]\n", elapsed.Round(time.Millisecond))
	}
}

// handleHelp displays available commands.
func (r *REPL) handleHelp() {
	fmt.Fprintln(r.output, "Available commands:")
	fmt.Fprintln(r.output, "  steps (ls)         List steps and their status")
	fmt.Fprintln(r.output, "  show (s) [id]      Show a step's code and last output")
	fmt.Fprintln(r.output, "  edit (e) [id]      Replace a step's code; end with a lone '.'")
	fmt.Fprintln(r.output, "  revert (u) [id]    Drop edits and restore the template")
	fmt.Fprintln(r.output, "  run (r) [id]       Execute a step")
	fmt.Fprintln(r.output, "  runall (a)         Execute every step, stopping on failure")
	fmt.Fprintln(r.output, "  explain (x) [id]   Ask the assistant about the step's last error")
	fmt.Fprintln(r.output, "  chat <message>     Talk to the assistant")
	fmt.Fprintln(r.output, "  restart            Restart the kernel")
	fmt.Fprintln(r.output, "  status             Show kernel and pipeline status")
	fmt.Fprintln(r.output, "  save <path>        Write the session state as JSON")
	fmt.Fprintln(r.output, "  help (?)           Show this help")
	fmt.Fprintln(r.output, "  quit (q)           Exit")
}
