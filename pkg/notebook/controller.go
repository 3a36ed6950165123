// Package notebook implements the cell state and execution core of cellpilot:
// per-step code buffers, per-step execution records, the run orchestrator
// and the bridge that forwards execution errors to the chat assistant.
//
// A single Controller owns all state. Every mutation goes through its mutex,
// so views, the REPL and the MCP server can share one controller safely.
package notebook

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ormasoftchile/cellpilot/pkg/trace"
)

// TransportErrorName is the error name given to synthesized outputs when a
// run could not reach the backend or got an unusable answer.
const TransportErrorName = "ExecutionError"

// RunStatus is the resolution of a single Run call.
type RunStatus string

const (
	RunSkipped   RunStatus = "skipped"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunResult describes what happened to one Run call.
type RunResult struct {
	StepID     string
	Generation uint64
	Status     RunStatus
	// Applied is false when a newer run or an edit superseded this one and
	// its response was discarded.
	Applied  bool
	Outputs  []OutputItem
	Duration time.Duration
}

// Success reports whether the run succeeded.
func (r RunResult) Success() bool { return r.Status == RunSucceeded }

// ChatForwarder accepts natural-language requests for the chat assistant.
type ChatForwarder interface {
	Forward(message string)
}

// Controller owns the code buffers and execution records of a notebook.
type Controller struct {
	mu       sync.Mutex
	buffers  *bufferStore
	states   *stateStore
	order    []string
	selected string

	exec         Executor
	onComplete   func(stepID string, success bool)
	onCodeChange func(source string)
	chat         ChatForwarder
	now          func() time.Time
	trace        *trace.Writer
	log          *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithExecutor sets the remote executor.
func WithExecutor(e Executor) Option {
	return func(c *Controller) { c.exec = e }
}

// WithTemplates sets the source of default step code.
func WithTemplates(t TemplateSource) Option {
	return func(c *Controller) { c.buffers.templates = t }
}

// WithCompletion sets the callback invoked exactly once per run.
func WithCompletion(fn func(stepID string, success bool)) Option {
	return func(c *Controller) { c.onComplete = fn }
}

// WithCodeChange sets the callback invoked when the effective source of the
// selected step changes.
func WithCodeChange(fn func(source string)) Option {
	return func(c *Controller) { c.onCodeChange = fn }
}

// WithChatForwarder enables the error-to-chat bridge.
func WithChatForwarder(f ChatForwarder) Option {
	return func(c *Controller) { c.chat = f }
}

// WithClock overrides time.Now for execution timing.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithTrace records session events to w.
func WithTrace(w *trace.Writer) Option {
	return func(c *Controller) { c.trace = w }
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// New creates a controller for the given steps, in notebook order.
func New(stepIDs []string, opts ...Option) *Controller {
	c := &Controller{
		buffers: newBufferStore(nil),
		states:  newStateStore(),
		order:   append([]string(nil), stepIDs...),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default().With("component", "notebook")
	}
	return c
}

// Steps returns the step IDs in notebook order.
func (c *Controller) Steps() []string {
	return append([]string(nil), c.order...)
}

// Source returns the effective source for stepID: the user's edit, else the
// template, else "".
func (c *Controller) Source(stepID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffers.get(stepID)
}

// IsEdited reports whether the user has touched the step's code.
func (c *Controller) IsEdited(stepID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffers.isEdited(stepID)
}

// Record returns a copy of the step's execution record.
func (c *Controller) Record(stepID string) Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states.get(stepID)
}

// Snapshot returns copies of all records in notebook order.
func (c *Controller) Snapshot() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.states.get(id))
	}
	return out
}

// Selected returns the currently selected step, or "".
func (c *Controller) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Select makes stepID the current step and publishes its source. An empty
// stepID clears the selection.
func (c *Controller) Select(stepID string) {
	c.mu.Lock()
	changed := c.selected != stepID
	c.selected = stepID
	src := c.buffers.get(stepID)
	c.mu.Unlock()

	if changed && stepID != "" {
		c.publish(src)
	}
}

// Edit replaces the step's code and resets its execution record. Any run
// still in flight for the step is superseded.
func (c *Controller) Edit(stepID, text string) {
	c.mu.Lock()
	c.buffers.set(stepID, text)
	c.states.reset(stepID)
	selected := c.selected == stepID
	c.mu.Unlock()

	_ = c.trace.EmitEdited(stepID)
	if selected {
		c.publish(text)
	}
}

// Revert drops the user's edit so the step shows its template again.
// It reports whether there was an edit to drop.
func (c *Controller) Revert(stepID string) bool {
	c.mu.Lock()
	if !c.buffers.revert(stepID) {
		c.mu.Unlock()
		return false
	}
	c.states.reset(stepID)
	src := c.buffers.get(stepID)
	selected := c.selected == stepID
	c.mu.Unlock()

	_ = c.trace.EmitEdited(stepID)
	if selected {
		c.publish(src)
	}
	return true
}

func (c *Controller) publish(src string) {
	if c.onCodeChange != nil {
		c.onCodeChange(src)
	}
}

// Run executes the step's effective source on the backend and records the
// outcome. It blocks until the backend answers; call it from a goroutine to
// run several steps at once.
//
// If a newer run or an edit for the same step happens while this one is in
// flight, this run's response is discarded. The completion callback still
// fires exactly once for every run that was issued.
func (c *Controller) Run(ctx context.Context, stepID string) RunResult {
	c.mu.Lock()
	source, ok := c.buffers.resolve(stepID)
	if !ok || strings.TrimSpace(source) == "" {
		c.mu.Unlock()
		c.log.Warn("No source to execute; run ignored.", "step", stepID)
		return RunResult{StepID: stepID, Status: RunSkipped}
	}
	start := c.now()
	gen := c.states.begin(stepID)
	exec := c.exec
	c.mu.Unlock()

	outputs, success := c.execute(ctx, exec, stepID, source, gen)
	elapsed := c.now().Sub(start)

	c.mu.Lock()
	applied := c.states.apply(stepID, gen, success, outputs, elapsed)
	c.mu.Unlock()

	if applied {
		_ = c.trace.EmitRunComplete(stepID, gen, success, elapsed, kinds(outputs))
	} else {
		c.log.Debug("Discarding stale response.", "step", stepID, "generation", gen)
		_ = c.trace.EmitRunDiscarded(stepID, gen)
	}

	if c.onComplete != nil {
		c.onComplete(stepID, success)
	}

	status := RunFailed
	if success {
		status = RunSucceeded
	}
	return RunResult{
		StepID:     stepID,
		Generation: gen,
		Status:     status,
		Applied:    applied,
		Outputs:    outputs,
		Duration:   elapsed,
	}
}

// execute performs the remote call and classifies its result.
func (c *Controller) execute(ctx context.Context, exec Executor, stepID, source string, gen uint64) ([]OutputItem, bool) {
	cellID, err := CellID(stepID)
	if err != nil {
		c.log.Error("Step cannot be mapped to a cell.", "step", stepID, "error", err)
		return transportFailure(err), false
	}
	_ = c.trace.EmitRunStart(stepID, cellID, gen)

	if exec == nil {
		return transportFailure(errors.New("no executor configured")), false
	}
	resp, err := exec.Execute(ctx, ExecuteRequest{Code: source, CellID: cellID})
	if err != nil {
		c.log.Warn("Execution request failed.", "step", stepID, "error", err)
		return transportFailure(err), false
	}
	if resp == nil {
		return transportFailure(errors.New("empty response from executor")), false
	}

	outputs := resp.Outputs
	if outputs == nil {
		outputs = []OutputItem{}
	}
	return outputs, resp.Status == StatusOK && !HasError(outputs)
}

// RunAll runs every step in notebook order, one at a time, and stops after
// the first failure. Steps without source are skipped.
func (c *Controller) RunAll(ctx context.Context) []RunResult {
	var results []RunResult
	for _, id := range c.Steps() {
		if ctx.Err() != nil {
			break
		}
		res := c.Run(ctx, id)
		results = append(results, res)
		if res.Status == RunFailed {
			break
		}
	}
	return results
}

func transportFailure(err error) []OutputItem {
	msg := err.Error()
	return []OutputItem{ErrorOutput{
		Name:      TransportErrorName,
		Value:     msg,
		Traceback: []string{msg},
	}}
}

func kinds(outputs []OutputItem) []string {
	out := make([]string, len(outputs))
	for i, o := range outputs {
		out[i] = o.Kind()
	}
	return out
}
