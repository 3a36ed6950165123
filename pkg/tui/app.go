package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ormasoftchile/cellpilot/pkg/kernelclient"
	"github.com/ormasoftchile/cellpilot/pkg/notebook"
	"github.com/ormasoftchile/cellpilot/pkg/session"
)

// statusInterval is how often the header polls the kernel status.
const statusInterval = 5 * time.Second

// --- Tea messages ---

type runDoneMsg struct{ result notebook.RunResult }

type runAllDoneMsg struct{ results []notebook.RunResult }

type restartDoneMsg struct{ err error }

type kernelStatusMsg struct {
	status kernelclient.KernelStatus
	err    error
}

type statusTickMsg struct{}

type copiedMsg struct {
	stepID string
	err    error
}

// explainMsg carries a request taken off the chat forwarder.
type explainMsg struct{ message string }

type chatChunkMsg struct {
	stream chan string
	chunk  string
}

type chatDoneMsg struct {
	reply string
	err   error
}

// --- Focus ---

type focus int

const (
	focusSteps focus = iota
	focusEditor
	focusChat
)

// codeFeed receives the controller's code-change notifications. The model
// drains it after every controller call and loads the editor from it.
type codeFeed struct {
	mu     sync.Mutex
	src    string
	posted bool
}

func (f *codeFeed) publish(src string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.src, f.posted = src, true
}

func (f *codeFeed) take() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.src, f.posted
	f.posted = false
	return src, ok
}

// Model is the top-level Bubble Tea model for the notebook UI.
type Model struct {
	sess *session.Session
	ctrl *notebook.Controller
	feed *codeFeed

	// Components
	steps   stepsPanel
	editor  editorPanel
	output  outputPanel
	chat    chatPanel
	detail  detailBar
	search  searchBar
	spinner spinner.Model

	focus focus

	// launching holds steps whose run was issued but not yet resolved.
	launching  map[string]bool
	runningAll bool
	restarting bool

	kernelState string
	flash       string

	// ctx is cancelled when the program exits; it bounds chat requests.
	ctx        context.Context
	chatQueue  []string
	chatStream chan string

	compact bool
	width   int
	height  int
}

// Config holds the parameters needed to launch the TUI.
type Config struct {
	Deps session.Deps
	// Compact forces the single-column layout.
	Compact bool
}

// Run builds a session from cfg and runs the Bubble Tea program until the
// user quits.
func Run(cfg Config) error {
	feed := &codeFeed{}
	sess, err := session.New(cfg.Deps, notebook.WithCodeChange(feed.publish))
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := newModel(sess, feed)
	m.ctx = ctx
	m.compact = cfg.Compact
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err = p.Run()
	return err
}

// newModel builds the model for a session whose controller publishes code
// changes to feed. The first step is selected.
func newModel(sess *session.Session, feed *codeFeed) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	m := Model{
		sess:        sess,
		ctx:         context.Background(),
		ctrl:        sess.Controller(),
		feed:        feed,
		steps:       newStepsPanel(),
		editor:      newEditorPanel(),
		output:      newOutputPanel(),
		chat:        newChatPanel(),
		detail:      newDetailBar(),
		search:      newSearchBar(),
		spinner:     sp,
		launching:   make(map[string]bool),
		kernelState: "connecting",
	}
	m.steps.focused = true
	m.refreshSteps()
	if ids := m.ctrl.Steps(); len(ids) > 0 {
		m.ctrl.Select(ids[0])
	}
	m.syncEditor()
	return m
}

// Init starts the spinner, the first kernel status poll and the listener
// for explanation requests.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.pollStatus(),
		m.listenExplain(),
	)
}

// --- Commands ---

func (m Model) runStep(stepID string) tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		return runDoneMsg{result: sess.Run(context.Background(), stepID)}
	}
}

func (m Model) runAll() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		return runAllDoneMsg{results: sess.RunAll(context.Background())}
	}
}

func (m Model) restartKernel() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		return restartDoneMsg{err: sess.Restart(context.Background())}
	}
}

func (m Model) pollStatus() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), statusInterval)
		defer cancel()
		st, err := sess.KernelStatus(ctx)
		return kernelStatusMsg{status: st, err: err}
	}
}

func (m Model) copyCode(stepID string) tea.Cmd {
	src := m.ctrl.Source(stepID)
	return func() tea.Msg {
		return copiedMsg{stepID: stepID, err: clipboard.WriteAll(src)}
	}
}

// listenExplain waits for the next explanation request.
func (m Model) listenExplain() tea.Cmd {
	fwd := m.sess.Forwarder()
	if fwd == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-fwd.Messages()
		if !ok {
			return nil
		}
		return explainMsg{message: msg}
	}
}

// ask sends text to the assistant, streaming chunks into stream.
func (m Model) ask(text string, stream chan string) tea.Cmd {
	sess, ctx := m.sess, m.ctx
	return func() tea.Msg {
		reply, err := sess.Ask(ctx, text, func(c string) {
			select {
			case stream <- c:
			case <-ctx.Done():
			}
		})
		close(stream)
		return chatDoneMsg{reply: reply, err: err}
	}
}

// waitChunk delivers the next streamed chunk.
func waitChunk(stream chan string) tea.Cmd {
	return func() tea.Msg {
		c, ok := <-stream
		if !ok {
			return nil
		}
		return chatChunkMsg{stream: stream, chunk: c}
	}
}

// startChat sends the next queued message unless a reply is streaming.
func (m *Model) startChat() tea.Cmd {
	if m.chatStream != nil || len(m.chatQueue) == 0 {
		return nil
	}
	text := m.chatQueue[0]
	m.chatQueue = m.chatQueue[1:]
	m.chat.AddUser(text)
	m.chat.Begin()
	m.chatStream = make(chan string, 64)
	return tea.Batch(m.ask(text, m.chatStream), waitChunk(m.chatStream))
}

// --- Update ---

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layoutPanels()

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		m.output.Update(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case runDoneMsg:
		delete(m.launching, msg.result.StepID)
		if msg.result.Status == notebook.RunSkipped {
			m.flash = fmt.Sprintf("%s has no code to run", msg.result.StepID)
		}

	case runAllDoneMsg:
		m.runningAll = false
		if n := len(msg.results); n > 0 && msg.results[n-1].Status == notebook.RunFailed {
			m.flash = fmt.Sprintf("Run all stopped at %s", msg.results[n-1].StepID)
		}

	case restartDoneMsg:
		m.restarting = false
		if msg.err != nil {
			m.flash = msg.err.Error()
		} else {
			m.flash = "Kernel restarted"
		}
		cmds = append(cmds, m.pollStatus())

	case kernelStatusMsg:
		switch {
		case errors.Is(msg.err, session.ErrNoKernel):
			m.kernelState = "offline"
		case msg.err != nil:
			m.kernelState = "unreachable"
		default:
			m.kernelState = msg.status.Status
		}
		if !errors.Is(msg.err, session.ErrNoKernel) {
			cmds = append(cmds, tea.Tick(statusInterval, func(time.Time) tea.Msg { return statusTickMsg{} }))
		}

	case statusTickMsg:
		cmds = append(cmds, m.pollStatus())

	case copiedMsg:
		if msg.err != nil {
			m.flash = "Clipboard unavailable: " + msg.err.Error()
		} else {
			m.flash = fmt.Sprintf("Copied %s code to clipboard", msg.stepID)
		}

	case explainMsg:
		m.chatQueue = append(m.chatQueue, msg.message)
		cmds = append(cmds, m.startChat(), m.listenExplain())

	case chatChunkMsg:
		if msg.stream == m.chatStream {
			m.chat.AppendChunk(msg.chunk)
		}
		cmds = append(cmds, waitChunk(msg.stream))

	case chatDoneMsg:
		m.chat.Finish(msg.reply, msg.err)
		m.chatStream = nil
		cmds = append(cmds, m.startChat())
	}

	m.refreshSteps()
	m.refreshOutput()
	return m, tea.Batch(cmds...)
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}
	m.flash = ""

	if m.search.IsActive() {
		closed, cmd := m.search.Update(msg)
		if closed {
			m.output.ClearHighlight()
		} else {
			m.search.SetMatches(m.output.SetHighlight(m.search.Query()))
		}
		return m, cmd
	}

	switch m.focus {
	case focusEditor:
		return m.handleEditorKey(msg)
	case focusChat:
		return m.handleChatKey(msg)
	}

	var cmd tea.Cmd
	sel := m.ctrl.Selected()
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Up):
		if m.steps.CursorUp() {
			m.ctrl.Select(m.steps.SelectedID())
		}
	case key.Matches(msg, keys.Down):
		if m.steps.CursorDown() {
			m.ctrl.Select(m.steps.SelectedID())
		}
	case key.Matches(msg, keys.Edit):
		if sel != "" {
			m.setFocus(focusEditor)
			cmd = m.editor.Focus()
		}
	case key.Matches(msg, keys.Run):
		cmd = m.run(sel)
	case key.Matches(msg, keys.RunAll):
		if !m.runningAll {
			m.runningAll = true
			cmd = m.runAll()
		}
	case key.Matches(msg, keys.Explain):
		switch {
		case !m.ctrl.CanExplain():
			m.flash = "No chat assistant configured"
		case !m.ctrl.ExplainLast(sel):
			m.flash = "No error to explain"
		}
	case key.Matches(msg, keys.Revert):
		if sel != "" && !m.sess.Revert(sel) {
			m.flash = "Nothing to revert"
		}
	case key.Matches(msg, keys.Copy):
		if sel != "" {
			cmd = m.copyCode(sel)
		}
	case key.Matches(msg, keys.Restart):
		if !m.restarting {
			m.restarting = true
			cmd = m.restartKernel()
		}
	case key.Matches(msg, keys.Chat):
		if m.sess.HasChat() {
			m.setFocus(focusChat)
			m.layoutPanels()
			cmd = m.chat.Focus()
		} else {
			m.flash = "No chat assistant configured"
		}
	case key.Matches(msg, keys.Search):
		cmd = m.search.Open()
	case msg.String() == "esc":
		if m.search.HasQuery() {
			m.search.Close()
			m.output.ClearHighlight()
		}
	case key.Matches(msg, keys.PgUp):
		m.output.PageUp()
	case key.Matches(msg, keys.PgDown):
		m.output.PageDown()
	}

	m.syncEditor()
	m.refreshSteps()
	m.refreshOutput()
	return m, cmd
}

func (m Model) handleEditorKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	sel := m.ctrl.Selected()
	switch {
	case key.Matches(msg, keys.Leave):
		m.editor.Blur()
		m.setFocus(focusSteps)
		return m, nil
	case key.Matches(msg, keys.Run):
		cmd := m.run(sel)
		m.refreshSteps()
		m.refreshOutput()
		return m, cmd
	}

	changed, cmd := m.editor.Update(msg)
	if changed && sel != "" {
		// The edit supersedes any run in flight for the step.
		delete(m.launching, sel)
		m.sess.Edit(sel, m.editor.Value())
		m.syncEditor()
	}
	m.refreshSteps()
	m.refreshOutput()
	return m, cmd
}

func (m Model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Chat), key.Matches(msg, keys.Leave):
		m.chat.Blur()
		m.setFocus(focusSteps)
		m.layoutPanels()
		return m, nil
	case key.Matches(msg, keys.Send):
		text := m.chat.Submit()
		if text == "" {
			return m, nil
		}
		m.chatQueue = append(m.chatQueue, text)
		return m, m.startChat()
	}
	return m, m.chat.UpdateInput(msg)
}

// run starts stepID unless it is already executing.
func (m *Model) run(stepID string) tea.Cmd {
	if stepID == "" || !m.runnable(stepID) {
		return nil
	}
	m.launching[stepID] = true
	return m.runStep(stepID)
}

// runnable reports whether the run key is enabled for stepID.
func (m *Model) runnable(stepID string) bool {
	return !m.launching[stepID] && !m.ctrl.Record(stepID).Executing
}

func (m *Model) setFocus(f focus) {
	m.focus = f
	m.steps.focused = f == focusSteps
}

// syncEditor loads the editor from the latest published code.
func (m *Model) syncEditor() {
	if src, ok := m.feed.take(); ok {
		m.editor.Load(m.ctrl.Selected(), src)
	}
}

// refreshSteps rebuilds the step rows from the session.
func (m *Model) refreshSteps() {
	tracker := m.sess.Tracker()
	ids := m.ctrl.Steps()
	rows := make([]stepRow, 0, len(ids))
	for _, id := range ids {
		row := stepRow{
			ID:        id,
			Status:    tracker.Status(id),
			Executing: m.ctrl.Record(id).Executing,
			Edited:    m.ctrl.IsEdited(id),
			Ready:     m.sess.Ready(id),
			Execution: tracker.Execution(id),
		}
		if def, ok := m.sess.Notebook().Step(id); ok {
			row.Title = def.Title
		}
		rows = append(rows, row)
	}
	m.steps.SetRows(rows)
}

func (m *Model) refreshOutput() {
	sel := m.ctrl.Selected()
	if sel == "" {
		return
	}
	m.output.ShowRecord(m.ctrl.Record(sel), m.ctrl.CanExplain())
	if m.search.HasQuery() {
		m.search.SetMatches(m.output.SetHighlight(m.search.Query()))
	}
}

func (m Model) selectedRow() stepRow {
	sel := m.ctrl.Selected()
	for _, r := range m.steps.rows {
		if r.ID == sel {
			return r
		}
	}
	return stepRow{ID: sel, Ready: true}
}

// chatVisible reports whether the chat pane is on screen.
func (m Model) chatVisible() bool {
	return m.sess.HasChat() && (m.width >= 140 || m.focus == focusChat)
}

// layoutPanels recalculates panel dimensions based on terminal size.
func (m *Model) layoutPanels() {
	if m.width == 0 || m.height == 0 {
		return
	}

	headerH := 1
	detailH := 6
	mainH := max(m.height-headerH-detailH, 8)

	stepsW := 0
	if !m.compact && m.width >= 80 {
		// Steps panel: 30% width, minimum 25, maximum 45
		stepsW = min(max(m.width*30/100, 25), 45)
	}
	m.steps.width = stepsW
	m.steps.height = mainH

	rightW := m.width - stepsW
	chatW := 0
	switch {
	case m.chatVisible() && m.width >= 140:
		chatW = rightW * 40 / 100
	case m.chatVisible():
		chatW = rightW
	}
	codeW := rightW - chatW
	if codeW == 0 {
		// chat takes the whole column; keep the editor sized for later
		codeW = rightW
	}

	editorH := mainH * 45 / 100
	m.editor.SetSize(codeW, editorH)
	m.output.SetSize(codeW, mainH-editorH)
	if chatW > 0 {
		m.chat.SetSize(chatW, mainH)
	}
	m.detail.width = m.width
}

// --- View ---

// View renders the complete TUI.
func (m Model) View() string {
	header := m.renderHeader()

	var main string
	if m.width > 0 {
		var cols []string
		if m.steps.width > 0 {
			cols = append(cols, m.steps.View())
		}
		fullChat := m.chatVisible() && m.width < 140
		if !fullChat {
			code := m.editor.View(m.ctrl.IsEdited(m.ctrl.Selected()))
			cols = append(cols, lipgloss.JoinVertical(lipgloss.Left, code, m.output.View()))
		}
		if m.chatVisible() {
			cols = append(cols, m.chat.View(m.focus == focusChat))
		}
		main = lipgloss.JoinHorizontal(lipgloss.Top, cols...)
	}

	sel := m.ctrl.Selected()
	var description string
	if def, ok := m.sess.Notebook().Step(sel); ok {
		description = def.Description
	}
	_, hasError := notebook.LastError(m.ctrl.Record(sel).Outputs)
	bar := keyBarText(m.focus, sel != "" && m.runnable(sel), hasError && m.ctrl.CanExplain())
	detail := m.detail.View(m.selectedRow(), description, m.flash, bar)

	result := header + "\n" + main
	if s := m.search.View(); s != "" {
		result += "\n" + s
	}
	return result + "\n" + detail
}

// renderHeader builds the top header line: notebook name, progress and
// kernel status.
func (m Model) renderHeader() string {
	title := headerStyle.Render("cellpilot")
	name := m.sess.Notebook().Meta.Name

	done, total := m.sess.Tracker().Progress()
	progress := fmt.Sprintf("%d/%d steps", done, total)

	var activity string
	switch {
	case m.restarting:
		activity = m.spinner.View() + " restarting"
	case m.runningAll:
		activity = m.spinner.View() + " running all"
	case len(m.launching) > 0:
		activity = m.spinner.View() + " executing"
	}

	left := title + " " + detailValueStyle.Render(name) + "  " + keyDescStyle.Render(progress)
	right := strings.TrimSpace(activity + "  " + m.kernelBadge())

	padding := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)
	return left + strings.Repeat(" ", padding) + right
}

func (m Model) kernelBadge() string {
	bg := colorDim
	switch m.kernelState {
	case kernelclient.StatusRunning:
		bg = colorGreen
	case kernelclient.StatusError, "unreachable":
		bg = colorRed
	case kernelclient.StatusStopped:
		bg = colorYellow
	}
	return kernelBadgeStyle.Background(bg).Render("kernel: " + m.kernelState)
}
