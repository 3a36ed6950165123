// Package mcp exposes a notebook session as Model Context Protocol tools so
// that AI agents can inspect, edit and run steps.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ormasoftchile/cellpilot/pkg/session"
)

// NewServer creates an MCP server with the notebook tools registered.
func NewServer(version string, sess *session.Session) *server.MCPServer {
	s := server.NewMCPServer(
		"cellpilot",
		version,
		server.WithToolCapabilities(true),
	)
	h := &Handlers{sess: sess}

	s.AddTool(
		mcp.NewTool("notebook/steps",
			mcp.WithDescription("List notebook steps with their pipeline status, readiness and last outputs"),
		),
		h.HandleSteps,
	)

	s.AddTool(
		mcp.NewTool("notebook/code",
			mcp.WithDescription("Return the effective code of a step (the user's edit, else its template)"),
			mcp.WithString("step", mcp.Required(), mcp.Description("Step id, e.g. step-1")),
		),
		h.HandleCode,
	)

	s.AddTool(
		mcp.NewTool("notebook/edit",
			mcp.WithDescription("Replace a step's code; its previous outputs are cleared. Pass revert=true to restore the template instead"),
			mcp.WithString("step", mcp.Required(), mcp.Description("Step id, e.g. step-1")),
			mcp.WithString("code", mcp.Description("New code for the step")),
			mcp.WithBoolean("revert", mcp.Description("Drop the edit and restore the template")),
		),
		h.HandleEdit,
	)

	s.AddTool(
		mcp.NewTool("notebook/run",
			mcp.WithDescription("Execute a step on the kernel and return its rendered outputs. Omit step to run every step in order"),
			mcp.WithString("step", mcp.Description("Step id; empty runs all steps, stopping on failure")),
		),
		h.HandleRun,
	)

	s.AddTool(
		mcp.NewTool("notebook/explain",
			mcp.WithDescription("Ask the chat assistant to explain the last error of a step"),
			mcp.WithString("step", mcp.Required(), mcp.Description("Step id, e.g. step-1")),
		),
		h.HandleExplain,
	)

	s.AddTool(
		mcp.NewTool("notebook/restart",
			mcp.WithDescription("Restart the kernel; the pipeline goes back to pending"),
		),
		h.HandleRestart,
	)

	s.AddTool(
		mcp.NewTool("notebook/schema",
			mcp.WithDescription("Export a cellpilot JSON Schema"),
			mcp.WithString("type", mcp.Required(), mcp.Description("Schema type: 'notebook' or 'execute-response'")),
		),
		HandleSchema,
	)

	return s
}
