package trace

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriter_Emit(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "sess-1")

	err := tw.Emit(EventCellRunStart, map[string]any{
		"step_id": "step-1",
		"cell_id": 1,
	})
	if err != nil {
		t.Fatalf("Emit error: %v", err)
	}

	var evt Event
	if err := json.Unmarshal(buf.Bytes(), &evt); err != nil {
		t.Fatalf("JSON unmarshal: %v (raw: %s)", err, buf.String())
	}
	if evt.Type != EventCellRunStart {
		t.Errorf("type = %q, want cell_run_start", evt.Type)
	}
	if evt.SessionID != "sess-1" {
		t.Errorf("session_id = %q", evt.SessionID)
	}
	if evt.Data["step_id"] != "step-1" {
		t.Errorf("step_id = %v", evt.Data["step_id"])
	}
}

func TestWriter_EmitRunComplete(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "sess-1")

	if err := tw.EmitRunComplete("step-2", 3, false, 1500*time.Millisecond, []string{"stream", "error"}); err != nil {
		t.Fatal(err)
	}

	var evt Event
	json.Unmarshal(buf.Bytes(), &evt)
	if evt.Data["success"] != false {
		t.Errorf("success = %v", evt.Data["success"])
	}
	if evt.Data["duration"] != "1.5s" {
		t.Errorf("duration = %v", evt.Data["duration"])
	}
	if evt.Data["generation"] != float64(3) {
		t.Errorf("generation = %v", evt.Data["generation"])
	}
}

func TestWriter_NilIsNoop(t *testing.T) {
	var tw *Writer
	if err := tw.EmitEdited("step-1"); err != nil {
		t.Errorf("nil writer returned %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Errorf("nil close returned %v", err)
	}
	if tw.SessionID() != "" {
		t.Error("nil writer has no session")
	}
}

func TestReadEvents_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "sess-2")
	tw.EmitSessionStart("builtin", "http://localhost:8000")
	tw.EmitRunStart("step-1", 1, 1)
	tw.EmitRunDiscarded("step-1", 1)
	tw.EmitExplainForwarded("step-1", "NameError")
	tw.EmitKernelRestart("restarted")

	events, err := ReadEvents(&buf)
	if err != nil {
		t.Fatal(err)
	}
	want := []EventType{EventSessionStart, EventCellRunStart, EventCellRunDiscarded, EventExplainForwarded, EventKernelRestart}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, w := range want {
		if events[i].Type != w {
			t.Errorf("events[%d] = %s, want %s", i, events[i].Type, w)
		}
	}
}

func TestReadEvents_BadLine(t *testing.T) {
	_, err := ReadEvents(strings.NewReader("{\"type\":\"cell_edited\"}\nnot json\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("err = %v, want line 2 error", err)
	}
}

func TestNewFileWriter_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	for i := 0; i < 2; i++ {
		tw, err := NewFileWriter(path, NewSessionID())
		if err != nil {
			t.Fatal(err)
		}
		tw.EmitEdited("step-1")
		tw.Close()
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	events, err := ReadEvents(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].SessionID == events[1].SessionID {
		t.Error("each writer should carry its own session id")
	}
}
