// Package trace implements the session's append-only JSONL audit trail.
package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates all session trace event types.
type EventType string

const (
	EventSessionStart     EventType = "session_start"
	EventCellRunStart     EventType = "cell_run_start"
	EventCellRunComplete  EventType = "cell_run_complete"
	EventCellRunDiscarded EventType = "cell_run_discarded"
	EventCellEdited       EventType = "cell_edited"
	EventExplainForwarded EventType = "explain_forwarded"
	EventKernelRestart    EventType = "kernel_restart"
)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// Writer writes trace events to an append-only JSONL stream.
// A nil *Writer is valid and discards every event.
type Writer struct {
	mu        sync.Mutex
	w         io.Writer
	closer    io.Closer
	sessionID string
	enc       *json.Encoder
}

// NewSessionID returns a fresh random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// NewWriter creates a trace writer that writes to the given io.Writer.
func NewWriter(w io.Writer, sessionID string) *Writer {
	return &Writer{
		w:         w,
		sessionID: sessionID,
		enc:       json.NewEncoder(w),
	}
}

// NewFileWriter creates a trace writer that appends to a JSONL file.
func NewFileWriter(path, sessionID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewWriter(f, sessionID)
	tw.closer = f
	return tw, nil
}

// SessionID returns the session the writer stamps on events.
func (tw *Writer) SessionID() string {
	if tw == nil {
		return ""
	}
	return tw.sessionID
}

// Close closes the underlying file, if the writer owns one.
func (tw *Writer) Close() error {
	if tw == nil || tw.closer == nil {
		return nil
	}
	return tw.closer.Close()
}

// Emit writes a single trace event.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	if tw == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()

	evt := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		SessionID: tw.sessionID,
		Data:      data,
	}
	return tw.enc.Encode(evt)
}

// EmitSessionStart emits a session_start event.
func (tw *Writer) EmitSessionStart(notebook, backend string) error {
	return tw.Emit(EventSessionStart, map[string]any{
		"notebook": notebook,
		"backend":  backend,
	})
}

// EmitRunStart emits a cell_run_start event.
func (tw *Writer) EmitRunStart(stepID string, cellID int, generation uint64) error {
	return tw.Emit(EventCellRunStart, map[string]any{
		"step_id":    stepID,
		"cell_id":    cellID,
		"generation": generation,
	})
}

// EmitRunComplete emits a cell_run_complete event.
func (tw *Writer) EmitRunComplete(stepID string, generation uint64, success bool, duration time.Duration, outputKinds []string) error {
	return tw.Emit(EventCellRunComplete, map[string]any{
		"step_id":    stepID,
		"generation": generation,
		"success":    success,
		"duration":   duration.String(),
		"outputs":    outputKinds,
	})
}

// EmitRunDiscarded emits a cell_run_discarded event for a superseded response.
func (tw *Writer) EmitRunDiscarded(stepID string, generation uint64) error {
	return tw.Emit(EventCellRunDiscarded, map[string]any{
		"step_id":    stepID,
		"generation": generation,
	})
}

// EmitEdited emits a cell_edited event.
func (tw *Writer) EmitEdited(stepID string) error {
	return tw.Emit(EventCellEdited, map[string]any{"step_id": stepID})
}

// EmitExplainForwarded emits an explain_forwarded event.
func (tw *Writer) EmitExplainForwarded(stepID, errorName string) error {
	return tw.Emit(EventExplainForwarded, map[string]any{
		"step_id": stepID,
		"ename":   errorName,
	})
}

// EmitKernelRestart emits a kernel_restart event.
func (tw *Writer) EmitKernelRestart(status string) error {
	return tw.Emit(EventKernelRestart, map[string]any{"status": status})
}

// ReadEvents decodes every event of a JSONL trace stream.
func ReadEvents(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	return events, nil
}
