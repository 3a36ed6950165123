// Package session wires a notebook to its collaborators: the execution
// backend, the pipeline tracker, the chat assistant and the trace stream.
// Every front end (TUI, REPL, MCP) drives the notebook through a Session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ormasoftchile/cellpilot/pkg/chat"
	"github.com/ormasoftchile/cellpilot/pkg/kernelclient"
	"github.com/ormasoftchile/cellpilot/pkg/notebook"
	"github.com/ormasoftchile/cellpilot/pkg/pipeline"
	"github.com/ormasoftchile/cellpilot/pkg/schema"
	"github.com/ormasoftchile/cellpilot/pkg/trace"
)

// forwarderCapacity bounds explanation requests waiting for the chat.
const forwarderCapacity = 16

var (
	ErrNoKernel         = errors.New("no kernel backend configured")
	ErrNoChat           = errors.New("chat assistant is not configured")
	ErrNothingToExplain = errors.New("step has no error to explain")
)

// Kernel is the kernel management surface of the backend.
type Kernel interface {
	Restart(ctx context.Context) error
	Status(ctx context.Context) (kernelclient.KernelStatus, error)
}

// Deps are the collaborators of a Session. Only Notebook is required.
type Deps struct {
	Notebook *schema.Notebook
	// Vars override the notebook's template variables.
	Vars     map[string]string
	Executor notebook.Executor
	Kernel   Kernel
	Chat     *chat.Session
	Trace    *trace.Writer
	Logger   *slog.Logger
}

// Session is one interactive notebook session.
type Session struct {
	nb      *schema.Notebook
	ctrl    *notebook.Controller
	tracker *pipeline.Tracker
	kernel  Kernel
	chat    *chat.Session
	fwd     *chat.Forwarder
	trace   *trace.Writer
	log     *slog.Logger

	startedAt time.Time
}

// New builds a session. Extra controller options are applied after the
// session's own, so callers can observe code changes.
func New(d Deps, opts ...notebook.Option) (*Session, error) {
	if d.Notebook == nil {
		return nil, errors.New("session: notebook is required")
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}

	templates, err := d.Notebook.Templates(d.Vars)
	if err != nil {
		return nil, fmt.Errorf("resolve templates: %w", err)
	}
	requires := make(map[string]string)
	for _, st := range d.Notebook.Steps {
		if st.Requires != "" {
			requires[st.ID] = st.Requires
		}
	}
	tracker, err := pipeline.New(d.Notebook.StepIDs(), requires)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	s := &Session{
		nb:        d.Notebook,
		tracker:   tracker,
		kernel:    d.Kernel,
		chat:      d.Chat,
		trace:     d.Trace,
		log:       log,
		startedAt: time.Now(),
	}

	base := []notebook.Option{
		notebook.WithExecutor(d.Executor),
		notebook.WithTemplates(templates),
		notebook.WithTrace(d.Trace),
		notebook.WithLogger(log),
	}
	if d.Chat != nil {
		s.fwd = chat.NewForwarder(forwarderCapacity)
		base = append(base, notebook.WithChatForwarder(s.fwd))
	}
	s.ctrl = notebook.New(d.Notebook.StepIDs(), append(base, opts...)...)
	return s, nil
}

func (s *Session) Notebook() *schema.Notebook       { return s.nb }
func (s *Session) Controller() *notebook.Controller { return s.ctrl }
func (s *Session) Tracker() *pipeline.Tracker       { return s.tracker }

// Forwarder returns the queue of explanation requests, or nil when no chat
// assistant is configured.
func (s *Session) Forwarder() *chat.Forwarder { return s.fwd }

// HasChat reports whether a chat assistant is configured.
func (s *Session) HasChat() bool { return s.chat != nil }

// Run executes one step and keeps the pipeline tracker in step with it.
// Only the run whose response was applied to the record updates the
// tracker; runs superseded by a newer run or an edit leave it alone.
func (s *Session) Run(ctx context.Context, stepID string) notebook.RunResult {
	if strings.TrimSpace(s.ctrl.Source(stepID)) != "" {
		s.tracker.Started(stepID)
	}
	res := s.ctrl.Run(ctx, stepID)
	if !res.Applied {
		if res.Status != notebook.RunSkipped {
			s.log.Debug("Ignoring completion of a superseded run.", "step", stepID, "generation", res.Generation)
		}
		return res
	}
	s.tracker.Complete(stepID, res.Success())
	return res
}

// Edit replaces the step's code. The step goes back to pending.
func (s *Session) Edit(stepID, text string) {
	s.ctrl.Edit(stepID, text)
	s.tracker.Reset(stepID)
}

// Revert drops the step's edit and reports whether there was one.
func (s *Session) Revert(stepID string) bool {
	if !s.ctrl.Revert(stepID) {
		return false
	}
	s.tracker.Reset(stepID)
	return true
}

// RunAll runs every step in order and stops after the first failure.
func (s *Session) RunAll(ctx context.Context) []notebook.RunResult {
	var results []notebook.RunResult
	for _, id := range s.ctrl.Steps() {
		if ctx.Err() != nil {
			break
		}
		res := s.Run(ctx, id)
		results = append(results, res)
		if res.Status == notebook.RunFailed {
			break
		}
	}
	return results
}

// Ready reports whether the step's requires expression holds. Steps whose
// expression cannot be evaluated count as not ready.
func (s *Session) Ready(stepID string) bool {
	ok, err := s.tracker.Ready(stepID)
	if err != nil {
		s.log.Debug("Readiness check failed.", "step", stepID, "error", err)
		return false
	}
	return ok
}

// Restart restarts the kernel and rewinds the pipeline. Execution records
// are kept.
func (s *Session) Restart(ctx context.Context) error {
	if s.kernel == nil {
		return ErrNoKernel
	}
	if err := s.kernel.Restart(ctx); err != nil {
		_ = s.trace.EmitKernelRestart("error")
		return fmt.Errorf("restart kernel: %w", err)
	}
	s.tracker.ResetAll()
	_ = s.trace.EmitKernelRestart("restarted")
	s.log.Info("Kernel restarted.")
	return nil
}

// KernelStatus asks the backend for the kernel status.
func (s *Session) KernelStatus(ctx context.Context) (kernelclient.KernelStatus, error) {
	if s.kernel == nil {
		return kernelclient.KernelStatus{}, ErrNoKernel
	}
	return s.kernel.Status(ctx)
}

// Ask sends a free-form message to the chat assistant.
func (s *Session) Ask(ctx context.Context, message string, onChunk func(string)) (string, error) {
	if s.chat == nil {
		return "", ErrNoChat
	}
	return s.chat.Send(ctx, message, onChunk)
}

// Explain forwards the step's last error to the chat assistant and waits
// for the reply. Requests queued earlier are answered first; the reply to
// the last one is returned.
func (s *Session) Explain(ctx context.Context, stepID string, onChunk func(string)) (string, error) {
	if s.chat == nil {
		return "", ErrNoChat
	}
	s.ctrl.Select(stepID)
	if !s.ctrl.ExplainLast(stepID) {
		return "", ErrNothingToExplain
	}
	var reply string
	for _, msg := range s.fwd.Pending() {
		r, err := s.chat.Send(ctx, msg, onChunk)
		if err != nil {
			return "", err
		}
		reply = r
	}
	return reply, nil
}

// Close releases the chat connection.
func (s *Session) Close() error {
	if s.chat == nil {
		return nil
	}
	return s.chat.Close()
}
