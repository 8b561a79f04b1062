package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/geolaunch/internal/dispatch"
	"github.com/mpataki/geolaunch/internal/execlog"
	"github.com/mpataki/geolaunch/internal/form"
	"github.com/mpataki/geolaunch/internal/models"
	"github.com/mpataki/geolaunch/internal/storage"
)

type View int

const (
	ViewOperations View = iota
	ViewForm
	ViewFilePicker
	ViewHistory
)

type App struct {
	ctx        context.Context
	dispatcher *dispatch.Dispatcher
	store      *storage.Storage
	ops        []models.OperationDescriptor
	logCh      <-chan models.LogEntry

	view        View
	selectedIdx int

	session  *form.Session
	inputs   []textinput.Model
	focusIdx int // len(inputs) is the run button

	picker      filepicker.Model
	pickerField int

	logView viewport.Model
	spinner spinner.Model
	pending map[string]bool

	stats       []storage.OperationStats
	recent      []*models.InvocationResult
	entryCounts map[models.EntryKind]int

	notice    string
	noticeBad bool

	width  int
	height int
	err    error
}

// NewApp builds the TUI. store may be nil, in which case the history view
// is empty. Invocations run under ctx.
func NewApp(ctx context.Context, d *dispatch.Dispatcher, store *storage.Storage) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &App{
		ctx:        ctx,
		dispatcher: d,
		store:      store,
		ops:        d.Operations(),
		logCh:      d.Log().Subscribe(64),
		view:       ViewOperations,
		logView:    viewport.New(80, 10),
		spinner:    sp,
		pending:    make(map[string]bool),
	}
}

func (a *App) Init() tea.Cmd {
	return a.waitForLog
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.resizeLog()
		if a.view == ViewFilePicker {
			var cmd tea.Cmd
			a.picker, cmd = a.picker.Update(msg)
			return a, cmd
		}
		return a, nil

	case logEntryMsg:
		a.refreshLog()
		return a, a.waitForLog

	case invocationDoneMsg:
		delete(a.pending, msg.operation)
		a.notice = dispatch.Notice(msg.operation, msg.result, msg.err)
		a.noticeBad = msg.err != nil
		return a, a.loadStats

	case statsLoadedMsg:
		a.stats = msg.stats
		a.recent = msg.recent
		a.entryCounts = msg.counts
		a.err = msg.err
		return a, nil

	case spinner.TickMsg:
		if len(a.pending) == 0 {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	// Directory reads and other picker-internal messages.
	if a.view == ViewFilePicker {
		var cmd tea.Cmd
		a.picker, cmd = a.picker.Update(msg)
		return a, cmd
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.view {
	case ViewOperations:
		return a.handleOperationsKey(msg)
	case ViewForm:
		return a.handleFormKey(msg)
	case ViewFilePicker:
		return a.handlePickerKey(msg)
	case ViewHistory:
		return a.handleHistoryKey(msg)
	}
	return a, nil
}

func (a *App) handleOperationsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < len(a.ops)-1 {
			a.selectedIdx++
		}

	case "enter":
		if len(a.ops) > 0 && a.selectedIdx < len(a.ops) {
			return a, a.openForm(a.ops[a.selectedIdx].Name)
		}

	case "h":
		a.view = ViewHistory
		return a, a.loadStats
	}

	return a, nil
}

func (a *App) handleFormKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return a, tea.Quit

	case "esc":
		a.closeForm()
		return a, nil

	case "tab", "down":
		return a, a.moveFocus(1)

	case "shift+tab", "up":
		return a, a.moveFocus(-1)

	case "ctrl+r":
		return a, a.submit()

	case "enter":
		if a.focusIdx == len(a.inputs) {
			return a, a.submit()
		}
		return a, a.moveFocus(1)

	case "ctrl+o":
		if a.focusIdx < len(a.inputs) && a.session.Field(a.focusIdx).Param.Kind == models.KindFile {
			return a, a.openPicker(a.focusIdx)
		}
		return a, nil

	case "ctrl+u":
		// Back to untouched: the placeholder shows again and nothing is submitted.
		if a.focusIdx < len(a.inputs) {
			a.session.Clear(a.focusIdx)
			a.inputs[a.focusIdx].SetValue("")
		}
		return a, nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		a.logView, cmd = a.logView.Update(msg)
		return a, cmd
	}

	if a.focusIdx >= len(a.inputs) {
		return a, nil
	}

	i := a.focusIdx
	before := a.inputs[i].Value()
	var cmd tea.Cmd
	a.inputs[i], cmd = a.inputs[i].Update(msg)
	if after := a.inputs[i].Value(); after != before {
		a.session.Set(i, after)
	}
	return a, cmd
}

func (a *App) handlePickerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return a, tea.Quit
	case "esc":
		a.view = ViewForm
		return a, a.inputs[a.pickerField].Focus()
	}

	var cmd tea.Cmd
	a.picker, cmd = a.picker.Update(msg)
	if selected, path := a.picker.DidSelectFile(msg); selected {
		a.applyPickedFile(path)
		return a, a.inputs[a.pickerField].Focus()
	}
	return a, cmd
}

func (a *App) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc", "h":
		a.view = ViewOperations
	case "ctrl+c":
		return a, tea.Quit
	case "r":
		return a, a.loadStats
	}
	return a, nil
}

// openForm starts a fresh session for the named operation.
func (a *App) openForm(name string) tea.Cmd {
	op, err := a.dispatcher.Lookup(name)
	if err != nil {
		a.notice = err.Error()
		a.noticeBad = true
		return nil
	}

	a.session = form.Render(op)
	a.inputs = make([]textinput.Model, a.session.Len())
	for i, f := range a.session.Fields() {
		ti := textinput.New()
		ti.Placeholder = f.Param.Placeholder
		ti.Prompt = ""
		ti.Width = 40
		ti.CharLimit = 1024
		a.inputs[i] = ti
	}
	a.focusIdx = 0
	a.notice = ""
	a.noticeBad = false
	a.view = ViewForm
	a.refreshLog()

	if len(a.inputs) == 0 {
		return nil
	}
	return a.inputs[0].Focus()
}

func (a *App) closeForm() {
	a.view = ViewOperations
	a.session = nil
	a.inputs = nil
	a.focusIdx = 0
}

func (a *App) moveFocus(delta int) tea.Cmd {
	n := len(a.inputs) + 1
	if a.focusIdx < len(a.inputs) {
		a.inputs[a.focusIdx].Blur()
	}
	a.focusIdx = (a.focusIdx + delta + n) % n
	if a.focusIdx < len(a.inputs) {
		return a.inputs[a.focusIdx].Focus()
	}
	return nil
}

func (a *App) openPicker(field int) tea.Cmd {
	fp := filepicker.New()
	fp.ShowHidden = false
	fp.DirAllowed = false
	fp.FileAllowed = true
	fp.AutoHeight = false
	fp.Height = a.pickerHeight()
	fp.CurrentDirectory = pickerStart(a.session.Field(field).Value())

	a.picker = fp
	a.pickerField = field
	a.inputs[field].Blur()
	a.view = ViewFilePicker
	return a.picker.Init()
}

// applyPickedFile overwrites the field being picked for and returns to
// the form.
func (a *App) applyPickedFile(path string) {
	if err := a.session.SelectFile(a.pickerField, path); err != nil {
		a.notice = err.Error()
		a.noticeBad = true
	}
	a.inputs[a.pickerField].SetValue(path)
	a.view = ViewForm
}

func (a *App) submit() tea.Cmd {
	if a.session == nil {
		return nil
	}
	name := a.session.Operation.Name

	if a.pending[name] || a.dispatcher.Pending(name) {
		a.notice = fmt.Sprintf("%s is still running", name)
		a.noticeBad = true
		return nil
	}

	in := a.session.Submit()
	if _, err := a.dispatcher.Prepare(name, in); err != nil {
		a.notice = "Validation Error: " + err.Error()
		a.noticeBad = true
		return nil
	}

	a.pending[name] = true
	a.notice = fmt.Sprintf("Running %s...", name)
	a.noticeBad = false
	return tea.Batch(a.runOperation(name, in), a.spinner.Tick)
}

func (a *App) resizeLog() {
	w := a.width - 4
	if w < 20 {
		w = 20
	}
	h := a.height / 3
	if h < 5 {
		h = 5
	}
	a.logView.Width = w
	a.logView.Height = h
	a.refreshLog()
}

func (a *App) refreshLog() {
	entries := a.dispatcher.Log().Snapshot()
	if len(entries) == 0 {
		a.logView.SetContent(dimStyle.Render("(nothing run yet)"))
		return
	}
	a.logView.SetContent(execlog.RenderAll(entries))
	a.logView.GotoBottom()
}

func (a *App) pickerHeight() int {
	height := 12
	if a.height > 0 {
		height = min(max(a.height-8, 6), 18)
	}
	return height
}

func pickerStart(current string) string {
	current = strings.TrimSpace(current)
	if current != "" {
		if info, err := os.Stat(current); err == nil && info.IsDir() {
			return current
		}
		if dir := parentDir(current); dir != "" {
			if _, err := os.Stat(dir); err == nil {
				return dir
			}
		}
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

func parentDir(path string) string {
	i := strings.LastIndex(path, string(os.PathSeparator))
	if i <= 0 {
		return ""
	}
	return path[:i]
}

func (a *App) View() string {
	switch a.view {
	case ViewOperations:
		return a.viewOperations()
	case ViewForm:
		return a.viewForm()
	case ViewFilePicker:
		return a.viewPicker()
	case ViewHistory:
		return a.viewHistory()
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	badStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	runStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	kindStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))

	categoryStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("111"))
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Width(28)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	logStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238"))
)

func (a *App) viewOperations() string {
	s := titleStyle.Render("Geospatial Toolkit") + "\n\n"

	if a.notice != "" {
		s += a.renderNotice() + "\n\n"
	}

	if len(a.ops) == 0 {
		s += "No operations registered.\n"
	}

	category := ""
	for i, op := range a.ops {
		if op.Category != "" && op.Category != category {
			if i > 0 {
				s += "\n"
			}
			s += categoryStyle.Render(op.Category) + "\n"
		}
		category = op.Category

		line := op.Name
		if a.pending[op.Name] {
			line += " " + runStyle.Render(a.spinner.View())
		}
		if i == a.selectedIdx {
			line = selectedStyle.Render("▶ " + line)
			if op.Description != "" {
				line += "  " + dimStyle.Render(op.Description)
			}
		} else {
			line = "  " + line
		}
		s += line + "\n"
	}

	s += "\n" + helpStyle.Render("[enter] open  [h] history  [q] quit")
	return s
}

func (a *App) viewForm() string {
	if a.session == nil {
		return "No operation selected"
	}
	op := a.session.Operation
	s := titleStyle.Render("Inputs for "+op.Name) + "\n"
	if op.Description != "" {
		s += dimStyle.Render(op.Description) + "\n"
	}
	s += "\n"

	for i, f := range a.session.Fields() {
		marker := "  "
		if i == a.focusIdx {
			marker = "▶ "
		}
		line := marker + labelStyle.Render(f.Param.Label) + " " + a.inputs[i].View()
		line += " " + kindStyle.Render(kindLabel(f.Param))
		if f.Param.Kind == models.KindFile {
			line += dimStyle.Render(" ctrl+o browse")
		}
		s += line + "\n"
	}

	run := "[ Run ]"
	if a.focusIdx == len(a.inputs) {
		run = selectedStyle.Render(run)
	}
	if a.pending[op.Name] {
		run += " " + runStyle.Render(a.spinner.View()+" running")
	}
	s += "\n  " + run + "\n"

	if a.focusIdx < len(a.inputs) {
		if help := a.session.Field(a.focusIdx).Param.Help; help != "" {
			s += "\n" + dimStyle.Render("ⓘ "+help) + "\n"
		}
	}

	if a.notice != "" {
		s += "\n" + a.renderNotice() + "\n"
	}

	s += "\n" + titleStyle.Render("Execution Log") + "\n"
	s += logStyle.Render(a.logView.View()) + "\n"

	s += helpStyle.Render("[tab] next  [ctrl+r] run  [ctrl+u] reset field  [pgup/pgdn] scroll log  [esc] back")
	return s
}

func (a *App) viewPicker() string {
	label := ""
	if a.session != nil {
		label = a.session.Field(a.pickerField).Param.Label
	}
	s := titleStyle.Render("Select a File for "+label) + "\n\n"
	s += dimStyle.Render(a.picker.CurrentDirectory) + "\n"
	s += a.picker.View() + "\n"
	s += "\n" + helpStyle.Render("[enter] select  [esc] cancel")
	return s
}

func (a *App) viewHistory() string {
	s := titleStyle.Render("Session History") + "\n\n"

	if a.err != nil {
		s += badStyle.Render(fmt.Sprintf("Error: %v", a.err)) + "\n"
	}

	if len(a.stats) == 0 {
		s += "No invocations yet this session.\n"
	} else {
		s += fmt.Sprintf("%-32s %5s %8s %6s  %s\n", "Operation", "Runs", "Failures", "Last", "When")
		s += strings.Repeat("─", 64) + "\n"
		for _, st := range a.stats {
			last := okStyle.Render(fmt.Sprintf("%6d", st.LastExitCode))
			if st.LastExitCode != 0 {
				last = badStyle.Render(fmt.Sprintf("%6d", st.LastExitCode))
			}
			s += fmt.Sprintf("%-32s %5d %8d %s  %s\n",
				truncate(st.Operation, 32), st.Invocations, st.Failures, last, formatAge(st.LastRun))
		}
	}

	if len(a.recent) > 0 {
		s += "\n" + titleStyle.Render("Recent Invocations") + "\n"
		for _, r := range a.recent {
			outcome := okStyle.Render(fmt.Sprintf("exit %d", r.ExitCode))
			switch {
			case r.TimedOut:
				outcome = badStyle.Render("timed out")
			case r.ExitCode != 0:
				outcome = badStyle.Render(fmt.Sprintf("exit %d", r.ExitCode))
			}
			s += fmt.Sprintf("%s  %-32s %s  %s  %s\n",
				dimStyle.Render(r.StartedAt.Format("15:04:05")),
				truncate(r.Operation, 32),
				outcome,
				r.Duration().Round(time.Millisecond),
				dimStyle.Render(truncate(strings.Join(r.Args, " "), 48)))
		}
	}

	if len(a.entryCounts) > 0 {
		s += "\n" + dimStyle.Render(fmt.Sprintf("Log: %d requests, %d results, %d errors",
			a.entryCounts[models.EntryRequest], a.entryCounts[models.EntryResult], a.entryCounts[models.EntryError])) + "\n"
	}

	s += "\n" + helpStyle.Render("[r] refresh  [esc] back")
	return s
}

func (a *App) renderNotice() string {
	if a.noticeBad {
		return badStyle.Render(a.notice)
	}
	return okStyle.Render(a.notice)
}

func kindLabel(p models.ParameterDescriptor) string {
	if p.IsReal() {
		return "number (decimal)"
	}
	return string(p.Kind)
}

// Messages

type logEntryMsg struct {
	entry models.LogEntry
}

type invocationDoneMsg struct {
	operation string
	result    *models.InvocationResult
	err       error
}

type statsLoadedMsg struct {
	stats  []storage.OperationStats
	recent []*models.InvocationResult
	counts map[models.EntryKind]int
	err    error
}

// Commands

func (a *App) waitForLog() tea.Msg {
	return logEntryMsg{entry: <-a.logCh}
}

func (a *App) runOperation(name string, in models.InputValue) tea.Cmd {
	return func() tea.Msg {
		result, err := a.dispatcher.Run(a.ctx, name, in)
		return invocationDoneMsg{operation: name, result: result, err: err}
	}
}

func (a *App) loadStats() tea.Msg {
	if a.store == nil {
		return statsLoadedMsg{}
	}
	msg := statsLoadedMsg{}
	var err error
	if msg.stats, err = a.store.Stats(); err != nil {
		return statsLoadedMsg{err: err}
	}
	if msg.recent, err = a.store.ListInvocations(recentLimit); err != nil {
		return statsLoadedMsg{err: err}
	}
	if msg.counts, err = a.store.CountEntries(); err != nil {
		return statsLoadedMsg{err: err}
	}
	return msg
}

const recentLimit = 10

// truncate shortens s to maxLen runes.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}
