// Package pipeline tracks per-step progress of the notebook workflow.
//
// The tracker is advisory: readiness is shown to the user but never blocks
// a run. Each step may carry a `requires` expression evaluated with
// expr-lang against the current pipeline state.
package pipeline

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Status is the pipeline status of a step.
type Status string

const (
	Pending   Status = "pending"
	Running   Status = "running"
	Completed Status = "completed"
	Error     Status = "error"
)

// env is the shape every requires expression is type-checked against.
func env(completed func(string) bool, status map[string]string) map[string]any {
	return map[string]any{
		"completed": completed,
		"status":    status,
	}
}

// Compile type-checks a requires expression. Empty expressions compile to nil.
func Compile(src string) (*vm.Program, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}
	program, err := expr.Compile(src,
		expr.Env(env(func(string) bool { return false }, map[string]string{})),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile requires %q: %w", src, err)
	}
	return program, nil
}

// Tracker holds the pipeline status of every step.
type Tracker struct {
	mu       sync.Mutex
	order    []string
	status   map[string]Status
	runs     map[string]int
	requires map[string]*vm.Program
	counter  int
}

// New creates a tracker for the given steps. requires maps step IDs to
// their readiness expressions; steps without one are always ready.
func New(stepIDs []string, requires map[string]string) (*Tracker, error) {
	t := &Tracker{
		order:    append([]string(nil), stepIDs...),
		status:   make(map[string]Status, len(stepIDs)),
		runs:     make(map[string]int, len(stepIDs)),
		requires: make(map[string]*vm.Program),
	}
	for _, id := range stepIDs {
		t.status[id] = Pending
	}
	for id, src := range requires {
		p, err := Compile(src)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", id, err)
		}
		if p != nil {
			t.requires[id] = p
		}
	}
	return t, nil
}

// Started marks a step as running.
func (t *Tracker) Started(stepID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status[stepID] = Running
}

// Complete records the outcome of a run and advances the execution counter.
// Its signature matches the controller's completion callback.
func (t *Tracker) Complete(stepID string, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counter++
	t.runs[stepID] = t.counter
	if success {
		t.status[stepID] = Completed
	} else {
		t.status[stepID] = Error
	}
}

// Reset returns a step to pending, e.g. after its code was edited.
func (t *Tracker) Reset(stepID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status[stepID] = Pending
}

// ResetAll returns every step to pending. The counter keeps counting,
// as a notebook's does after a kernel restart.
func (t *Tracker) ResetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.status {
		t.status[id] = Pending
	}
}

// Status returns the current status of a step.
func (t *Tracker) Status(stepID string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.status[stepID]; ok {
		return s
	}
	return Pending
}

// Counter returns the number of completed runs so far.
func (t *Tracker) Counter() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counter
}

// Execution returns the counter value of the step's last completed run,
// or 0 if it never completed.
func (t *Tracker) Execution(stepID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs[stepID]
}

// Progress returns how many steps are completed out of the total.
func (t *Tracker) Progress() (done, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.order {
		if t.status[id] == Completed {
			done++
		}
	}
	return done, len(t.order)
}

// Ready evaluates the step's requires expression.
func (t *Tracker) Ready(stepID string) (bool, error) {
	t.mu.Lock()
	program := t.requires[stepID]
	status := make(map[string]string, len(t.status))
	for id, s := range t.status {
		status[id] = string(s)
	}
	t.mu.Unlock()

	if program == nil {
		return true, nil
	}
	completed := func(id string) bool { return status[id] == string(Completed) }
	out, err := expr.Run(program, env(completed, status))
	if err != nil {
		return false, fmt.Errorf("eval requires for %s: %w", stepID, err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("requires for %s did not return bool (got %T)", stepID, out)
	}
	return ok, nil
}
