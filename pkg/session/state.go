package session

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ormasoftchile/cellpilot/pkg/notebook"
	"github.com/ormasoftchile/cellpilot/pkg/pipeline"
)

// State is a serializable snapshot of a session.
type State struct {
	SessionID string      `json:"session_id,omitempty"`
	Notebook  string      `json:"notebook"`
	StartedAt time.Time   `json:"started_at"`
	Counter   int         `json:"counter"`
	Steps     []StepState `json:"steps"`
}

// StepState is the snapshot of one step.
type StepState struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Status    pipeline.Status `json:"status"`
	Ready     bool            `json:"ready"`
	Executed  bool            `json:"executed"`
	Executing bool            `json:"executing,omitempty"`
	Execution int             `json:"execution,omitempty"`
	// Code is only recorded for edited steps; the rest come from the notebook.
	Code       string                `json:"code,omitempty"`
	Edited     bool                  `json:"edited,omitempty"`
	DurationMS int64                 `json:"duration_ms,omitempty"`
	Outputs    []notebook.WireOutput `json:"outputs,omitempty"`
}

// State captures the current session state.
func (s *Session) State() *State {
	st := &State{
		SessionID: s.trace.SessionID(),
		Notebook:  s.nb.Meta.Name,
		StartedAt: s.startedAt,
		Counter:   s.tracker.Counter(),
	}
	for _, rec := range s.ctrl.Snapshot() {
		step := StepState{
			ID:         rec.StepID,
			Status:     s.tracker.Status(rec.StepID),
			Ready:      s.Ready(rec.StepID),
			Executed:   rec.Executed,
			Executing:  rec.Executing,
			Execution:  s.tracker.Execution(rec.StepID),
			Edited:     s.ctrl.IsEdited(rec.StepID),
			DurationMS: rec.ExecutionTime.Milliseconds(),
		}
		if def, ok := s.nb.Step(rec.StepID); ok {
			step.Title = def.Title
		}
		if step.Edited {
			step.Code = s.ctrl.Source(rec.StepID)
		}
		for _, o := range rec.Outputs {
			step.Outputs = append(step.Outputs, notebook.EncodeOutput(o))
		}
		st.Steps = append(st.Steps, step)
	}
	return st
}

// SaveState writes the session snapshot to path as indented JSON.
func (s *Session) SaveState(path string) error {
	data, err := json.MarshalIndent(s.State(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	return nil
}
