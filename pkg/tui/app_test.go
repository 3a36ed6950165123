package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ormasoftchile/cellpilot/pkg/notebook"
	"github.com/ormasoftchile/cellpilot/pkg/pipeline"
	"github.com/ormasoftchile/cellpilot/pkg/schema"
	"github.com/ormasoftchile/cellpilot/pkg/session"
)

func testNotebook() *schema.Notebook {
	return &schema.Notebook{
		APIVersion: "cellpilot/v1",
		Meta:       schema.Meta{Name: "demo"},
		Steps: []schema.Step{
			{ID: "step-1", Title: "Load data", Description: "Reads the **dataset**.", Code: "print('loaded')"},
			{ID: "step-2", Title: "Analyse", Code: "analyse()", Requires: `completed("step-1")`},
		},
	}
}

// echo answers every request with the code on stdout, except cell 2 which
// raises a ValueError.
var echo = notebook.ExecutorFunc(func(_ context.Context, req notebook.ExecuteRequest) (*notebook.ExecuteResponse, error) {
	if req.CellID == 2 {
		return &notebook.ExecuteResponse{Status: "error", Outputs: []notebook.OutputItem{
			notebook.ErrorOutput{Name: "ValueError", Value: "bad input"},
		}}, nil
	}
	return &notebook.ExecuteResponse{Status: notebook.StatusOK, Outputs: []notebook.OutputItem{
		notebook.StreamOutput{Name: "stdout", Content: req.Code},
	}}, nil
})

func newTestModel(t *testing.T) Model {
	t.Helper()
	feed := &codeFeed{}
	sess, err := session.New(session.Deps{Notebook: testNotebook(), Executor: echo},
		notebook.WithCodeChange(feed.publish))
	if err != nil {
		t.Fatal(err)
	}
	m := newModel(sess, feed)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return next.(Model)
}

func press(t *testing.T, m Model, k tea.KeyMsg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(k)
	return next.(Model), cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// drive executes cmd and feeds its message back into the model.
func drive(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	next, _ := m.Update(cmd())
	return next.(Model)
}

func TestModel_InitSelectsFirstStep(t *testing.T) {
	m := newTestModel(t)
	if m.ctrl.Selected() != "step-1" {
		t.Fatalf("selected = %q", m.ctrl.Selected())
	}
	if m.editor.Value() != "print('loaded')" {
		t.Errorf("editor = %q", m.editor.Value())
	}
	if len(m.steps.rows) != 2 || m.steps.rows[1].Ready {
		t.Errorf("rows = %+v", m.steps.rows)
	}
}

func TestModel_SelectLoadsCode(t *testing.T) {
	m := newTestModel(t)
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	if m.ctrl.Selected() != "step-2" || m.editor.Value() != "analyse()" {
		t.Errorf("selected = %q, editor = %q", m.ctrl.Selected(), m.editor.Value())
	}
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyUp})
	if m.editor.Value() != "print('loaded')" {
		t.Errorf("editor = %q", m.editor.Value())
	}
}

func TestModel_RunRendersOutput(t *testing.T) {
	m := newTestModel(t)
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	if !m.launching["step-1"] {
		t.Fatal("run should be in flight")
	}
	// A second press while in flight is ignored.
	if _, again := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlR}); again != nil {
		t.Error("run key should be disabled while executing")
	}

	m = drive(t, m, cmd)
	if m.launching["step-1"] {
		t.Error("launching should clear on completion")
	}
	if !strings.Contains(m.output.content, "print('loaded')") {
		t.Errorf("output = %q", m.output.content)
	}
	if !strings.Contains(m.output.content, "Executed in") {
		t.Errorf("output should show timing: %q", m.output.content)
	}
	row := m.steps.rows[0]
	if row.Status != pipeline.Completed || row.Execution != 1 {
		t.Errorf("row = %+v", row)
	}
	if !m.steps.rows[1].Ready {
		t.Error("step-2 should be ready after step-1")
	}
}

func TestModel_EditThroughEditor(t *testing.T) {
	m := newTestModel(t)
	m, _ = press(t, m, runes("e"))
	if m.focus != focusEditor || !m.editor.Focused() {
		t.Fatal("e should focus the editor")
	}
	m, _ = press(t, m, runes("x"))
	if !m.ctrl.IsEdited("step-1") {
		t.Fatal("typing should edit the buffer")
	}
	if got := m.ctrl.Source("step-1"); !strings.Contains(got, "x") {
		t.Errorf("source = %q", got)
	}
	if !m.steps.rows[0].Edited {
		t.Error("row should carry the edited marker")
	}

	// q is text while editing
	m, _ = press(t, m, runes("q"))
	if m.focus != focusEditor || !strings.HasSuffix(m.ctrl.Source("step-1"), "xq") {
		t.Errorf("q must be typed while editing: %q", m.ctrl.Source("step-1"))
	}

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.focus != focusSteps {
		t.Fatal("esc should leave the editor")
	}
	m, _ = press(t, m, runes("u"))
	if m.ctrl.IsEdited("step-1") || m.editor.Value() != "print('loaded')" {
		t.Errorf("revert: edited=%v editor=%q", m.ctrl.IsEdited("step-1"), m.editor.Value())
	}
}

func TestModel_ExplainWithoutChat(t *testing.T) {
	m := newTestModel(t)
	m, _ = press(t, m, runes("x"))
	if m.flash != "No chat assistant configured" {
		t.Errorf("flash = %q", m.flash)
	}
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.focus != focusSteps {
		t.Error("tab without chat must not change focus")
	}
}

func TestModel_FailedRunShowsError(t *testing.T) {
	m := newTestModel(t)
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	m = drive(t, m, cmd)
	if !strings.Contains(m.output.content, "ValueError: bad input") {
		t.Errorf("output = %q", m.output.content)
	}
	if m.steps.rows[1].Status != pipeline.Error {
		t.Errorf("row = %+v", m.steps.rows[1])
	}
}

func TestModel_RunAll(t *testing.T) {
	m := newTestModel(t)
	m, cmd := press(t, m, runes("a"))
	if !m.runningAll {
		t.Fatal("run all should be in progress")
	}
	m = drive(t, m, cmd)
	if m.runningAll || !strings.Contains(m.flash, "step-2") {
		t.Errorf("runningAll = %v, flash = %q", m.runningAll, m.flash)
	}
}

func TestModel_KernelStatusOffline(t *testing.T) {
	m := newTestModel(t)
	m = drive(t, m, m.pollStatus())
	if m.kernelState != "offline" {
		t.Errorf("kernel = %q", m.kernelState)
	}
}

func TestModel_StaleChatChunksIgnored(t *testing.T) {
	m := newTestModel(t)
	m.chat.SetSize(40, 20)
	m.chat.Begin()
	m.chatStream = make(chan string, 1)

	old := make(chan string, 1)
	next, _ := m.Update(chatChunkMsg{stream: old, chunk: "stale"})
	m = next.(Model)
	next, _ = m.Update(chatChunkMsg{stream: m.chatStream, chunk: "fresh"})
	m = next.(Model)
	if m.chat.partial != "fresh" {
		t.Errorf("partial = %q", m.chat.partial)
	}
}

func TestModel_ViewRenders(t *testing.T) {
	m := newTestModel(t)
	v := m.View()
	for _, want := range []string{"cellpilot", "demo", "Load data", "Steps", "Output", "kernel:"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestHighlightContent(t *testing.T) {
	_, n := HighlightContent("Error here, error there", "error")
	if n != 2 {
		t.Errorf("matches = %d, want 2", n)
	}
	if out, n := HighlightContent("abc", ""); out != "abc" || n != 0 {
		t.Errorf("empty query = %q, %d", out, n)
	}
}
