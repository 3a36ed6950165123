package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/cellpilot/pkg/kernelclient"
	"github.com/ormasoftchile/cellpilot/pkg/notebook"
	"github.com/ormasoftchile/cellpilot/pkg/render"
	"github.com/ormasoftchile/cellpilot/pkg/schema"
	"github.com/ormasoftchile/cellpilot/pkg/session"
)

// Handlers implements the notebook tools on top of a session.
type Handlers struct {
	sess *session.Session
}

// runReport is the JSON answer of notebook/run.
type runReport struct {
	Step     string   `json:"step"`
	Status   string   `json:"status"`
	Applied  bool     `json:"applied"`
	Duration string   `json:"duration,omitempty"`
	Outputs  []string `json:"outputs,omitempty"`
}

// HandleSteps implements notebook/steps.
func (h *Handlers) HandleSteps(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(h.sess.State(), false), nil
}

// HandleCode implements notebook/code.
func (h *Handlers) HandleCode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res := h.stepArg(req)
	if res != nil {
		return res, nil
	}
	return textResult(h.sess.Controller().Source(id)), nil
}

// HandleEdit implements notebook/edit.
func (h *Handlers) HandleEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res := h.stepArg(req)
	if res != nil {
		return res, nil
	}
	args := req.GetArguments()
	if revert, _ := args["revert"].(bool); revert {
		if !h.sess.Revert(id) {
			return textResult(fmt.Sprintf("%s has no edits", id)), nil
		}
		return textResult(fmt.Sprintf("✓ %s reverted to its template", id)), nil
	}
	code, ok := args["code"].(string)
	if !ok {
		return errorResult("code argument is required unless revert is set"), nil
	}
	h.sess.Edit(id, code)
	return textResult(fmt.Sprintf("✓ %s updated", id)), nil
}

// HandleRun implements notebook/run.
func (h *Handlers) HandleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	if id, _ := args["step"].(string); id != "" {
		if _, ok := h.sess.Notebook().Step(id); !ok {
			return errorResult(fmt.Sprintf("unknown step %q", id)), nil
		}
		rep := h.report(h.sess.Run(ctx, id))
		return jsonResult(rep, rep.Status == string(notebook.RunFailed)), nil
	}

	var reports []runReport
	failed := false
	for _, res := range h.sess.RunAll(ctx) {
		reports = append(reports, h.report(res))
		failed = failed || res.Status == notebook.RunFailed
	}
	return jsonResult(reports, failed), nil
}

// HandleExplain implements notebook/explain.
func (h *Handlers) HandleExplain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res := h.stepArg(req)
	if res != nil {
		return res, nil
	}
	reply, err := h.sess.Explain(ctx, id, nil)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(reply), nil
}

// HandleRestart implements notebook/restart.
func (h *Handlers) HandleRestart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.sess.Restart(ctx); err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult("✓ kernel restarted"), nil
}

// HandleSchema implements notebook/schema.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	schemaType, _ := args["type"].(string)

	var data []byte
	var err error
	switch schemaType {
	case "notebook":
		data, err = schema.GenerateNotebookJSONSchema()
	case "execute-response":
		data, err = kernelclient.ExecuteResponseJSONSchema()
	default:
		return errorResult(fmt.Sprintf("unknown schema type %q; use 'notebook' or 'execute-response'", schemaType)), nil
	}
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

func (h *Handlers) stepArg(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	id, _ := req.GetArguments()["step"].(string)
	if id == "" {
		return "", errorResult("step argument is required")
	}
	if _, ok := h.sess.Notebook().Step(id); !ok {
		return "", errorResult(fmt.Sprintf("unknown step %q", id))
	}
	return id, nil
}

func (h *Handlers) report(res notebook.RunResult) runReport {
	rep := runReport{Step: res.StepID, Status: string(res.Status), Applied: res.Applied}
	if res.Duration > 0 {
		rep.Duration = res.Duration.String()
	}
	opts := render.Options{CanExplain: h.sess.Controller().CanExplain()}
	for _, b := range render.Items(res.Outputs, opts) {
		rep.Outputs = append(rep.Outputs, b.String())
	}
	return rep
}

func jsonResult(v any, isErr bool) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: isErr,
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
