package notebook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// StatusOK is the response status the backend reports for a clean run.
const StatusOK = "ok"

// ExecuteRequest is the payload sent to the execution backend.
type ExecuteRequest struct {
	Code   string `json:"code"`
	CellID int    `json:"cell_id"`
}

// ExecuteResponse is the backend's answer to an ExecuteRequest.
type ExecuteResponse struct {
	Status  string
	Outputs []OutputItem
}

// Executor runs code remotely. Implementations must be safe for concurrent
// use; the controller issues one call per run and never serializes them.
type Executor interface {
	Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	return f(ctx, req)
}

// ErrInvalidStepID is returned when a step identifier is not of the form step-<N>.
var ErrInvalidStepID = errors.New("invalid step identifier")

// CellID derives the numeric cell identifier from a "step-<N>" step identifier.
func CellID(stepID string) (int, error) {
	suffix, ok := strings.CutPrefix(stepID, "step-")
	if !ok {
		return 0, fmt.Errorf("%w %q: missing step- prefix", ErrInvalidStepID, stepID)
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 1 || strings.HasPrefix(suffix, "+") {
		return 0, fmt.Errorf("%w %q: suffix must be a positive integer", ErrInvalidStepID, stepID)
	}
	return n, nil
}
