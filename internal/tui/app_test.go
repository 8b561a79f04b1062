package tui

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/mpataki/geolaunch/internal/dispatch"
	"github.com/mpataki/geolaunch/internal/execlog"
	"github.com/mpataki/geolaunch/internal/invoker"
	"github.com/mpataki/geolaunch/internal/models"
	"github.com/mpataki/geolaunch/internal/registry"
	"github.com/mpataki/geolaunch/internal/storage"
	"github.com/mpataki/geolaunch/internal/workspace"
)

func newTestApp(t *testing.T) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "clip.sh"), []byte(`printf '%s\n' "$*"`), 0755); err != nil {
		t.Fatal(err)
	}
	input := filepath.Join(dir, "roads.shp")
	if err := os.WriteFile(input, []byte("shp"), 0600); err != nil {
		t.Fatal(err)
	}

	reg, err := registry.New([]models.OperationDescriptor{
		{
			Name:        "Clip Vector",
			Category:    "Data Preprocessing",
			Executable:  "clip.sh",
			Interpreter: "sh",
			Parameters: []models.ParameterDescriptor{
				{Label: "Input File", Kind: models.KindFile, Placeholder: "input.shp", Help: "Layer to clip"},
				{Label: "Distance", Kind: models.KindNumber, Placeholder: "100"},
			},
		},
		{Name: "Second", Category: "Data Analysis", Executable: "clip.sh", Interpreter: "sh"},
	})
	if err != nil {
		t.Fatal(err)
	}
	ws, err := workspace.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	store, err := storage.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	logger := log.New(io.Discard)
	d := dispatch.New(reg, invoker.New(ws, invoker.Options{}), execlog.New(store, logger), logger)
	return NewApp(context.Background(), d, store), input
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "ctrl+r":
		return tea.KeyMsg{Type: tea.KeyCtrlR}
	case "ctrl+u":
		return tea.KeyMsg{Type: tea.KeyCtrlU}
	case "ctrl+o":
		return tea.KeyMsg{Type: tea.KeyCtrlO}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(a *App, keys ...string) tea.Cmd {
	var cmd tea.Cmd
	for _, k := range keys {
		_, cmd = a.Update(key(k))
	}
	return cmd
}

// drain runs cmd and any batched commands, feeding the invocation result
// back into the app.
func drain(t *testing.T, a *App, cmd tea.Cmd) bool {
	t.Helper()
	if cmd == nil {
		return false
	}
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		done := false
		for _, c := range msg {
			if drain(t, a, c) {
				done = true
			}
		}
		return done
	case invocationDoneMsg:
		a.Update(msg)
		return true
	}
	return false
}

func TestMenuListsOperationsInOrder(t *testing.T) {
	a, _ := newTestApp(t)

	view := a.View()
	if strings.Index(view, "Clip Vector") > strings.Index(view, "Second") {
		t.Errorf("menu out of order:\n%s", view)
	}

	press(a, "j")
	if a.selectedIdx != 1 {
		t.Errorf("selectedIdx = %d", a.selectedIdx)
	}
	press(a, "j")
	if a.selectedIdx != 1 {
		t.Errorf("selection moved past the end: %d", a.selectedIdx)
	}
}

func TestFormShowsPlaceholdersAndHelp(t *testing.T) {
	a, _ := newTestApp(t)
	press(a, "enter")

	if a.view != ViewForm || a.session.Operation.Name != "Clip Vector" {
		t.Fatalf("view = %v", a.view)
	}
	view := a.View()
	for _, want := range []string{"Input File", "Distance", "Layer to clip"} {
		if !strings.Contains(view, want) {
			t.Errorf("form view missing %q", want)
		}
	}
	if a.session.Field(0).Provided() {
		t.Error("untouched field reported as provided")
	}
}

func TestPlaceholdersAreNeverSubmitted(t *testing.T) {
	a, _ := newTestApp(t)
	press(a, "enter")

	cmd := press(a, "ctrl+r")
	if cmd != nil {
		t.Error("submission with untouched fields launched an invocation")
	}
	if !a.noticeBad || !strings.Contains(a.notice, `"Input File" cannot be empty`) {
		t.Errorf("notice = %q", a.notice)
	}
	if a.dispatcher.Log().Len() != 0 {
		t.Error("validation failure reached the execution log")
	}
}

func TestSubmitRunsOperation(t *testing.T) {
	a, input := newTestApp(t)
	press(a, "enter")

	press(a, input, "tab", "2", "5")
	if got := a.session.Submit(); got["Input File"] != input || got["Distance"] != "25" {
		t.Fatalf("session inputs = %v", got)
	}

	cmd := press(a, "ctrl+r")
	if cmd == nil {
		t.Fatalf("no command returned, notice = %q", a.notice)
	}
	if !a.pending["Clip Vector"] {
		t.Error("operation not marked pending")
	}

	// A second submit while pending is refused.
	if again := press(a, "ctrl+r"); again != nil {
		t.Error("resubmitted a pending operation")
	}

	if !drain(t, a, cmd) {
		t.Fatal("invocation never completed")
	}
	if a.pending["Clip Vector"] {
		t.Error("still pending after completion")
	}
	if a.notice != "Finished running Clip Vector. Check the log for details." {
		t.Errorf("notice = %q", a.notice)
	}

	entries := a.dispatcher.Log().Snapshot()
	if len(entries) != 2 || entries[1].Result == nil || entries[1].Result.Stdout != input+" 25\n" {
		t.Errorf("log = %+v", entries)
	}
}

func TestClearFieldRestoresUnset(t *testing.T) {
	a, _ := newTestApp(t)
	press(a, "enter", "x")
	if !a.session.Field(0).Provided() {
		t.Fatal("typed field not provided")
	}
	press(a, "ctrl+u")
	if a.session.Field(0).Provided() || a.inputs[0].Value() != "" {
		t.Error("ctrl+u did not unset the field")
	}
}

func TestFilePickerOnlyForFileFields(t *testing.T) {
	a, input := newTestApp(t)
	press(a, "enter")

	press(a, "ctrl+o")
	if a.view != ViewFilePicker || a.pickerField != 0 {
		t.Fatalf("view = %v", a.view)
	}

	a.applyPickedFile(input)
	if a.view != ViewForm || a.session.Field(0).Value() != input || a.inputs[0].Value() != input {
		t.Errorf("picked file not applied: %q", a.session.Field(0).Value())
	}

	press(a, "tab", "ctrl+o")
	if a.view != ViewForm {
		t.Error("picker opened for a number field")
	}
}

func TestEscReturnsToMenu(t *testing.T) {
	a, _ := newTestApp(t)
	press(a, "enter", "esc")
	if a.view != ViewOperations || a.session != nil {
		t.Errorf("view = %v", a.view)
	}
}

func TestHistoryView(t *testing.T) {
	a, input := newTestApp(t)
	press(a, "enter", input, "tab", "1")
	drain(t, a, press(a, "ctrl+r"))
	press(a, "esc")

	_, cmd := a.Update(key("h"))
	if a.view != ViewHistory {
		t.Fatalf("view = %v", a.view)
	}
	a.Update(cmd())

	if len(a.stats) != 1 || a.stats[0].Operation != "Clip Vector" || a.stats[0].Invocations != 1 {
		t.Errorf("stats = %+v", a.stats)
	}
	if !strings.Contains(a.View(), "Clip Vector") {
		t.Error("history view missing operation")
	}

	if len(a.recent) != 1 || a.recent[0].Args[1] != "1" {
		t.Errorf("recent = %+v", a.recent)
	}
	if a.entryCounts[models.EntryRequest] != 1 || a.entryCounts[models.EntryResult] != 1 {
		t.Errorf("entry counts = %v", a.entryCounts)
	}
	view := a.View()
	if !strings.Contains(view, "Recent Invocations") || !strings.Contains(view, "1 requests") {
		t.Errorf("history view:\n%s", view)
	}
	if strings.Count(view, "Clip Vector") != 2 {
		t.Errorf("expected the operation in both the stats table and the recent list:\n%s", view)
	}
}

func TestHistoryShowsLastRunTime(t *testing.T) {
	a, input := newTestApp(t)
	press(a, "enter", input, "tab", "1")
	drain(t, a, press(a, "ctrl+r"))
	a.Update(a.loadStats())

	if len(a.stats) != 1 || a.stats[0].LastRun.IsZero() {
		t.Fatalf("stats = %+v", a.stats)
	}
	if got := formatAge(a.stats[0].LastRun); got != "now" {
		t.Errorf("formatAge = %q", got)
	}
}

func TestMenuGroupsByCategory(t *testing.T) {
	a, _ := newTestApp(t)

	view := a.View()
	pre := strings.Index(view, "Data Preprocessing")
	analysis := strings.Index(view, "Data Analysis")
	if pre < 0 || analysis < 0 {
		t.Fatalf("category headings missing:\n%s", view)
	}
	if !(pre < strings.Index(view, "Clip Vector") && strings.Index(view, "Clip Vector") < analysis && analysis < strings.Index(view, "Second")) {
		t.Errorf("headings not placed before their operations:\n%s", view)
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	name := "Réprojection des données géographiques"
	got := truncate(name, 12)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate produced invalid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 12 {
		t.Errorf("rune count = %d, want 12 (%q)", n, got)
	}
	if got := truncate("Merge Data", 32); got != "Merge Data" {
		t.Errorf("short name changed: %q", got)
	}
}
