package notebook

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ormasoftchile/cellpilot/pkg/trace"
)

// fakeClock advances by step on every call.
type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), step: 250 * time.Millisecond}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

type completion struct {
	stepID  string
	success bool
}

type recorder struct {
	mu    sync.Mutex
	calls []completion
}

func (r *recorder) complete(stepID string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, completion{stepID, success})
}

func (r *recorder) all() []completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]completion(nil), r.calls...)
}

func respond(status string, outputs ...OutputItem) Executor {
	return ExecutorFunc(func(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
		return &ExecuteResponse{Status: status, Outputs: outputs}, nil
	})
}

var templates = TemplateMap{
	"step-1": "df = load()\nprint(df.shape)",
	"step-2": "qc(df)",
}

func newTestController(exec Executor, rec *recorder, opts ...Option) *Controller {
	base := []Option{
		WithTemplates(templates),
		WithExecutor(exec),
		WithCompletion(rec.complete),
		WithClock(newFakeClock().Now),
	}
	return New([]string{"step-1", "step-2"}, append(base, opts...)...)
}

// Scenario: template fallback + successful run.
func TestRun_SuccessScenario(t *testing.T) {
	var got ExecuteRequest
	exec := ExecutorFunc(func(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
		got = req
		return &ExecuteResponse{Status: "ok", Outputs: []OutputItem{
			StreamOutput{Content: "Dataset shape: (46070, 33091)", Text: true},
		}}, nil
	})
	rec := &recorder{}
	c := newTestController(exec, rec)

	if src := c.Source("step-1"); src != templates["step-1"] {
		t.Fatalf("Source = %q, want template", src)
	}

	res := c.Run(context.Background(), "step-1")
	if res.Status != RunSucceeded || !res.Applied {
		t.Fatalf("result = %+v", res)
	}
	if got.CellID != 1 || got.Code != templates["step-1"] {
		t.Errorf("request = %+v", got)
	}

	r := c.Record("step-1")
	if !r.Executed || r.Executing {
		t.Errorf("record flags = executed:%v executing:%v", r.Executed, r.Executing)
	}
	if len(r.Outputs) != 1 {
		t.Fatalf("outputs = %d, want 1", len(r.Outputs))
	}
	if r.ExecutionTime <= 0 {
		t.Errorf("ExecutionTime = %v, want > 0", r.ExecutionTime)
	}

	calls := rec.all()
	if len(calls) != 1 || calls[0] != (completion{"step-1", true}) {
		t.Errorf("completions = %+v", calls)
	}
}

// Scenario: error output overrides an "ok" status.
func TestRun_ErrorOutputOverridesStatus(t *testing.T) {
	rec := &recorder{}
	c := newTestController(respond("ok", ErrorOutput{Name: "NameError", Value: "x not defined"}), rec)

	res := c.Run(context.Background(), "step-1")
	if res.Success() {
		t.Fatal("expected failure")
	}
	r := c.Record("step-1")
	if r.Executed || r.Executing {
		t.Errorf("record flags = executed:%v executing:%v", r.Executed, r.Executing)
	}
	calls := rec.all()
	if len(calls) != 1 || calls[0] != (completion{"step-1", false}) {
		t.Errorf("completions = %+v", calls)
	}
}

func TestRun_NonOKStatusFails(t *testing.T) {
	rec := &recorder{}
	c := newTestController(respond("timeout", StreamOutput{Content: "partial"}), rec)

	res := c.Run(context.Background(), "step-1")
	if res.Success() {
		t.Fatal("expected failure for non-ok status")
	}
	if r := c.Record("step-1"); len(r.Outputs) != 1 || r.Executed {
		t.Errorf("record = %+v", r)
	}
}

func TestRun_TransportFailure(t *testing.T) {
	rec := &recorder{}
	exec := ExecutorFunc(func(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
		return nil, errors.New("dial tcp: connection refused")
	})
	c := newTestController(exec, rec)

	c.Run(context.Background(), "step-1")

	r := c.Record("step-1")
	if len(r.Outputs) != 1 {
		t.Fatalf("outputs = %d, want 1", len(r.Outputs))
	}
	e, ok := r.Outputs[0].(ErrorOutput)
	if !ok {
		t.Fatalf("output kind = %s, want error", r.Outputs[0].Kind())
	}
	if e.Name != "ExecutionError" || e.Value != "dial tcp: connection refused" {
		t.Errorf("error = %+v", e)
	}
	if r.Executed || r.Executing || r.ExecutionTime <= 0 {
		t.Errorf("record = %+v", r)
	}
	if calls := rec.all(); len(calls) != 1 || calls[0].success {
		t.Errorf("completions = %+v", calls)
	}
}

func TestRun_InvalidStepIDSurfacesAsFailure(t *testing.T) {
	rec := &recorder{}
	called := false
	exec := ExecutorFunc(func(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
		called = true
		return &ExecuteResponse{Status: "ok"}, nil
	})
	c := New([]string{"load"},
		WithTemplates(TemplateMap{"load": "x = 1"}),
		WithExecutor(exec),
		WithCompletion(rec.complete),
	)

	res := c.Run(context.Background(), "load")
	if called {
		t.Error("executor must not be called for an unparsable step id")
	}
	if res.Success() {
		t.Error("expected failure")
	}
	e, ok := LastError(c.Record("load").Outputs)
	if !ok || e.Name != TransportErrorName || !strings.Contains(e.Value, "invalid step identifier") {
		t.Errorf("error = %+v", e)
	}
	if len(rec.all()) != 1 {
		t.Errorf("completions = %d, want 1", len(rec.all()))
	}
}

func TestRun_NoSourceIsNoop(t *testing.T) {
	rec := &recorder{}
	c := newTestController(respond("ok"), rec)

	res := c.Run(context.Background(), "step-9")
	if res.Status != RunSkipped {
		t.Errorf("status = %s, want skipped", res.Status)
	}
	if len(rec.all()) != 0 {
		t.Error("completion callback must not fire for a skipped run")
	}
	if r := c.Record("step-9"); r.Generation != 0 || r.Executing {
		t.Errorf("record touched: %+v", r)
	}
}

func TestRun_ExecutingWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
		close(entered)
		<-release
		return &ExecuteResponse{Status: "ok"}, nil
	})
	c := newTestController(exec, &recorder{})

	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), "step-1")
		close(done)
	}()
	<-entered

	r := c.Record("step-1")
	if !r.Executing {
		t.Error("expected executing while in flight")
	}
	if r.Outputs == nil || len(r.Outputs) != 0 {
		t.Errorf("outputs = %v, want empty", r.Outputs)
	}
	close(release)
	<-done
	if c.Record("step-1").Executing {
		t.Error("executing must clear after resolution")
	}
}

// Overlapping runs: only the latest generation is applied.
func TestRun_StaleResponseDiscarded(t *testing.T) {
	first := make(chan struct{})
	firstEntered := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	exec := ExecutorFunc(func(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(firstEntered)
			<-first
			return &ExecuteResponse{Status: "ok", Outputs: []OutputItem{StreamOutput{Content: "old"}}}, nil
		}
		return &ExecuteResponse{Status: "ok", Outputs: []OutputItem{StreamOutput{Content: "new"}, StreamOutput{Content: "new-2"}}}, nil
	})
	rec := &recorder{}
	c := newTestController(exec, rec)

	results := make(chan RunResult, 1)
	go func() { results <- c.Run(context.Background(), "step-1") }()
	<-firstEntered

	second := c.Run(context.Background(), "step-1")
	if !second.Applied {
		t.Fatal("second run should be applied")
	}

	close(first)
	stale := <-results
	if stale.Applied {
		t.Error("first run response must be discarded")
	}

	r := c.Record("step-1")
	if len(r.Outputs) != 2 {
		t.Fatalf("outputs = %d, want 2 (no partial merge)", len(r.Outputs))
	}
	if s := r.Outputs[0].(StreamOutput); s.Content != "new" {
		t.Errorf("outputs[0] = %q, want new", s.Content)
	}
	if r.Generation != second.Generation {
		t.Errorf("generation = %d, want %d", r.Generation, second.Generation)
	}
	if n := len(rec.all()); n != 2 {
		t.Errorf("completions = %d, want one per run", n)
	}
}

func TestEdit_ResetsRecord(t *testing.T) {
	c := newTestController(respond("ok", StreamOutput{Content: "hi"}), &recorder{})
	c.Run(context.Background(), "step-1")
	if !c.Record("step-1").Executed {
		t.Fatal("precondition: executed")
	}

	c.Edit("step-1", "print('changed')")

	r := c.Record("step-1")
	if r.Executed || len(r.Outputs) != 0 || r.ExecutionTime != 0 {
		t.Errorf("record after edit = %+v", r)
	}
	if c.Source("step-1") != "print('changed')" {
		t.Errorf("source = %q", c.Source("step-1"))
	}
}

func TestEdit_DiscardsInFlightResponse(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
		close(entered)
		<-release
		return &ExecuteResponse{Status: "ok", Outputs: []OutputItem{StreamOutput{Content: "old code"}}}, nil
	})
	c := newTestController(exec, &recorder{})

	results := make(chan RunResult, 1)
	go func() { results <- c.Run(context.Background(), "step-1") }()
	<-entered
	c.Edit("step-1", "new code")
	close(release)

	if res := <-results; res.Applied {
		t.Error("response for old code must be discarded")
	}
	if r := c.Record("step-1"); len(r.Outputs) != 0 || r.Executed || r.Executing {
		t.Errorf("record = %+v", r)
	}
}

func TestIsEdited_EvenWhenEqualToTemplate(t *testing.T) {
	c := newTestController(respond("ok"), &recorder{})
	if c.IsEdited("step-1") {
		t.Fatal("fresh step must not be edited")
	}
	c.Edit("step-1", templates["step-1"])
	if !c.IsEdited("step-1") {
		t.Error("touched step must report edited")
	}
	if !c.Revert("step-1") || c.IsEdited("step-1") {
		t.Error("revert should drop the override")
	}
	if c.Revert("step-1") {
		t.Error("second revert has nothing to drop")
	}
}

func TestSource_UnknownStepIsEmpty(t *testing.T) {
	c := New(nil)
	if got := c.Source("step-3"); got != "" {
		t.Errorf("Source = %q, want empty", got)
	}
}

func TestCodeChange_SelectionAndEdit(t *testing.T) {
	var published []string
	c := newTestController(respond("ok"), &recorder{}, WithCodeChange(func(src string) {
		published = append(published, src)
	}))

	c.Select("step-1")
	c.Edit("step-2", "not selected")
	c.Edit("step-1", "edited")
	c.Select("step-2")
	c.Revert("step-2")

	want := []string{templates["step-1"], "edited", "not selected", templates["step-2"]}
	if len(published) != len(want) {
		t.Fatalf("published = %q, want %q", published, want)
	}
	for i := range want {
		if published[i] != want[i] {
			t.Errorf("published[%d] = %q, want %q", i, published[i], want[i])
		}
	}
}

func TestRunAll_StopsAtFirstFailure(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
		if req.CellID == 1 {
			return &ExecuteResponse{Status: "error", Outputs: []OutputItem{ErrorOutput{Name: "KeyError", Value: "'x'"}}}, nil
		}
		return &ExecuteResponse{Status: "ok"}, nil
	})
	c := newTestController(exec, &recorder{})

	results := c.RunAll(context.Background())
	if len(results) != 1 || results[0].Status != RunFailed {
		t.Errorf("results = %+v", results)
	}
	if c.Record("step-2").Generation != 0 {
		t.Error("step-2 must not run after step-1 failed")
	}
}

func TestRun_DifferentStepsConcurrently(t *testing.T) {
	gate := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
		<-gate
		return &ExecuteResponse{Status: "ok"}, nil
	})
	rec := &recorder{}
	c := newTestController(exec, rec)

	var wg sync.WaitGroup
	for _, id := range []string{"step-1", "step-2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			c.Run(context.Background(), id)
		}(id)
	}
	close(gate)
	wg.Wait()

	for _, r := range c.Snapshot() {
		if !r.Executed {
			t.Errorf("%s not executed", r.StepID)
		}
	}
	if len(rec.all()) != 2 {
		t.Errorf("completions = %d", len(rec.all()))
	}
}

func TestRecord_ReturnsCopy(t *testing.T) {
	c := newTestController(respond("ok", StreamOutput{Content: "a"}), &recorder{})
	c.Run(context.Background(), "step-1")

	r := c.Record("step-1")
	r.Outputs[0] = StreamOutput{Content: "mutated"}
	if s := c.Record("step-1").Outputs[0].(StreamOutput); s.Content != "a" {
		t.Errorf("controller state mutated through copy: %q", s.Content)
	}
}

func TestRun_WritesTrace(t *testing.T) {
	var buf bytes.Buffer
	tw := trace.NewWriter(&buf, "sess-1")
	c := newTestController(respond("ok"), &recorder{}, WithTrace(tw))

	c.Run(context.Background(), "step-1")

	events, err := trace.ReadEvents(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Type != trace.EventCellRunStart || events[1].Type != trace.EventCellRunComplete {
		t.Errorf("event types = %s, %s", events[0].Type, events[1].Type)
	}
}
