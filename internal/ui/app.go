package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/eargollo/stickscan/internal/history"
	"github.com/eargollo/stickscan/internal/session"
	"github.com/eargollo/stickscan/internal/settings"
)

// Sessions starts scan and update sessions and owns the current view.
type Sessions interface {
	StartScan(ctx context.Context, req session.Request) (session.Snapshot, error)
	StartUpdate(ctx context.Context, trigger string) (session.Snapshot, error)
	Navigate(n session.Navigation)
}

// Drives lists attached removable drives.
type Drives interface {
	Refresh(ctx context.Context) ([]string, error)
}

// Settings reads, changes and stores the user's settings.
type Settings interface {
	Get() settings.Document
	Update(ctx context.Context, mutate func(*settings.Document)) (settings.Document, error)
	Save(ctx context.Context) error
}

// Deps are the services the UI drives.
type Deps struct {
	Sessions Sessions
	Drives   Drives
	Settings Settings
	Version  string
}

// Message types for Bubble Tea
type (
	navigateMsg struct{ nav session.Navigation }
	progressMsg struct {
		id string
		p  session.Progress
	}
	drivesMsg struct {
		drives []string
		err    error
	}
	startedMsg struct {
		snap session.Snapshot
		err  error
	}
	settingsMsg struct {
		doc settings.Document
		err error
	}
)

const visibleMatches = 15

// App is the terminal front end. It never starts a session or changes
// view from Update: both are requested from the coordinator in commands
// and the result arrives as a navigation.
type App struct {
	deps Deps
	keys KeyMap
	help help.Model

	view   session.View
	nav    session.Navigation
	banner string

	drives      []string
	cursor      int
	updateFirst bool

	sessionID string
	progress  session.Progress
	spinner   spinner.Model
	bar       progress.Model

	matchOffset int

	doc         settings.Document
	editingTime bool
	timeInput   textinput.Model

	width  int
	height int
}

// NewApp creates the application model on the entry view.
func NewApp(deps Deps) App {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(ColorPrimary)

	ti := textinput.New()
	ti.Placeholder = "HH:MM"
	ti.CharLimit = 5
	ti.Width = 6

	return App{
		deps:      deps,
		keys:      DefaultKeyMap(),
		help:      help.New(),
		view:      session.ViewEntry,
		nav:       session.Navigation{View: session.ViewEntry},
		spinner:   sp,
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		doc:       deps.Settings.Get(),
		timeInput: ti,
	}
}

// Init implements tea.Model
func (a App) Init() tea.Cmd {
	return a.refreshDrives()
}

// Update implements tea.Model
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)

	case navigateMsg:
		return a.navigate(msg.nav)

	case progressMsg:
		if a.view == session.ViewLoading && (a.sessionID == "" || msg.id == a.sessionID) {
			a.progress = msg.p
		}
		return a, nil

	case drivesMsg:
		if msg.err != nil {
			a.banner = "Cannot list drives: " + errorText(msg.err)
			return a, nil
		}
		a.drives = msg.drives
		if a.cursor >= len(a.drives) {
			a.cursor = max(len(a.drives)-1, 0)
		}
		return a, nil

	case startedMsg:
		if msg.err != nil {
			a.banner = startErrorText(msg.err)
			return a, nil
		}
		a.sessionID = msg.snap.ID
		return a, nil

	case settingsMsg:
		a.doc = msg.doc
		switch {
		case msg.err == nil:
			a.banner = ""
		case errors.Is(msg.err, settings.ErrInvalid):
			a.banner = "Invalid setting: " + msg.err.Error()
		default:
			a.banner = "Settings not saved: " + msg.err.Error()
		}
		return a, nil

	case spinner.TickMsg:
		if a.view != session.ViewLoading {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	return a, nil
}

// navigate switches to the view the coordinator chose.
func (a App) navigate(n session.Navigation) (tea.Model, tea.Cmd) {
	a.nav = n
	a.view = n.View
	a.editingTime = false
	a.timeInput.Blur()

	switch n.View {
	case session.ViewLoading:
		a.sessionID = n.SessionID
		a.progress = session.Progress{}
		a.banner = ""
		return a, a.spinner.Tick
	case session.ViewEntry:
		a.banner = n.ErrorMessage()
		return a, a.refreshDrives()
	case session.ViewSettings:
		a.doc = a.deps.Settings.Get()
		a.banner = n.ErrorMessage()
	case session.ViewClean, session.ViewInfected:
		a.banner = ""
		a.matchOffset = 0
	}
	return a, nil
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return a, tea.Quit
	}
	if a.editingTime {
		return a.handleTimeKey(msg)
	}
	if key.Matches(msg, a.keys.Quit) {
		return a, tea.Quit
	}

	switch a.view {
	case session.ViewEntry:
		return a.handleEntryKey(msg)
	case session.ViewClean, session.ViewInfected:
		switch {
		case key.Matches(msg, a.keys.Back):
			return a.goHome()
		case key.Matches(msg, a.keys.Up):
			if a.matchOffset > 0 {
				a.matchOffset--
			}
		case key.Matches(msg, a.keys.Down):
			if a.matchOffset < len(a.nav.Matches)-visibleMatches {
				a.matchOffset++
			}
		}
	case session.ViewSettings:
		return a.handleSettingsKey(msg)
	}
	return a, nil
}

func (a App) handleEntryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Up):
		if a.cursor > 0 {
			a.cursor--
		}
	case key.Matches(msg, a.keys.Down):
		if a.cursor < len(a.drives)-1 {
			a.cursor++
		}
	case key.Matches(msg, a.keys.UpdateFirst):
		a.updateFirst = !a.updateFirst
	case key.Matches(msg, a.keys.Refresh):
		return a, a.refreshDrives()
	case key.Matches(msg, a.keys.Settings):
		return a, a.show(session.ViewSettings, nil)
	case key.Matches(msg, a.keys.UpdateNow):
		return a, a.startUpdate()
	case key.Matches(msg, a.keys.Scan):
		if len(a.drives) == 0 {
			a.banner = "No drive selected"
			return a, nil
		}
		return a, a.startScan(a.drives[a.cursor])
	}
	return a, nil
}

func (a App) handleSettingsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Back):
		return a.goHome()
	case key.Matches(msg, a.keys.Logging):
		return a, a.updateSettings(func(d *settings.Document) { d.LoggingIsActive = !d.LoggingIsActive })
	case key.Matches(msg, a.keys.Obfuscate):
		return a, a.updateSettings(func(d *settings.Document) { d.ObfuscatedIsActive = !d.ObfuscatedIsActive })
	case key.Matches(msg, a.keys.PrevDay):
		return a, a.updateSettings(func(d *settings.Document) { d.DBUpdateWeekday = stepWeekday(d.DBUpdateWeekday, -1) })
	case key.Matches(msg, a.keys.NextDay):
		return a, a.updateSettings(func(d *settings.Document) { d.DBUpdateWeekday = stepWeekday(d.DBUpdateWeekday, 1) })
	case key.Matches(msg, a.keys.EditTime):
		a.editingTime = true
		a.timeInput.SetValue(a.doc.DBUpdateTime)
		a.timeInput.CursorEnd()
		cmd := a.timeInput.Focus()
		return a, cmd
	case key.Matches(msg, a.keys.UpdateNow):
		return a, a.startUpdate()
	}
	return a, nil
}

func (a App) handleTimeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		a.editingTime = false
		a.timeInput.Blur()
		return a, nil
	case tea.KeyEnter:
		a.editingTime = false
		a.timeInput.Blur()
		value := strings.TrimSpace(a.timeInput.Value())
		return a, a.updateSettings(func(d *settings.Document) { d.DBUpdateTime = value })
	}
	var cmd tea.Cmd
	a.timeInput, cmd = a.timeInput.Update(msg)
	return a, cmd
}

// goHome returns to the entry view. Leaving the settings view stores them
// once the entry view is shown, so a failed save is reported there.
func (a App) goHome() (tea.Model, tea.Cmd) {
	var then tea.Cmd
	if a.view == session.ViewSettings {
		then = a.saveSettings()
	}
	return a, a.show(session.ViewEntry, then)
}

// show asks the coordinator for view v, then runs then, if any. The
// coordinator echoes the navigation back unless a session owns the screen.
func (a App) show(v session.View, then tea.Cmd) tea.Cmd {
	sessions := a.deps.Sessions
	return func() tea.Msg {
		sessions.Navigate(session.Navigation{View: v})
		if then == nil {
			return nil
		}
		return then()
	}
}

func (a App) refreshDrives() tea.Cmd {
	drives := a.deps.Drives
	if drives == nil {
		return nil
	}
	return func() tea.Msg {
		list, err := drives.Refresh(context.Background())
		return drivesMsg{drives: list, err: err}
	}
}

func (a App) startScan(path string) tea.Cmd {
	req := session.Request{
		Path:       path,
		Update:     a.updateFirst,
		Obfuscated: a.deps.Settings.Get().ObfuscatedIsActive,
		Trigger:    session.TriggerManual,
	}
	sessions := a.deps.Sessions
	return func() tea.Msg {
		snap, err := sessions.StartScan(context.Background(), req)
		return startedMsg{snap: snap, err: err}
	}
}

func (a App) startUpdate() tea.Cmd {
	sessions := a.deps.Sessions
	return func() tea.Msg {
		snap, err := sessions.StartUpdate(context.Background(), session.TriggerManual)
		return startedMsg{snap: snap, err: err}
	}
}

func (a App) updateSettings(mutate func(*settings.Document)) tea.Cmd {
	svc := a.deps.Settings
	return func() tea.Msg {
		doc, err := svc.Update(context.Background(), mutate)
		return settingsMsg{doc: doc, err: err}
	}
}

func (a App) saveSettings() tea.Cmd {
	svc := a.deps.Settings
	return func() tea.Msg {
		err := svc.Save(context.Background())
		return settingsMsg{doc: svc.Get(), err: err}
	}
}

// stepWeekday cycles through daily (-1) and Sunday..Saturday (0..6).
func stepWeekday(w, step int) int {
	w += step
	if w > 6 {
		return settings.WeekdayDisabled
	}
	if w < settings.WeekdayDisabled {
		return 6
	}
	return w
}

func weekdayName(w int) string {
	if w == settings.WeekdayDisabled {
		return "Every day"
	}
	return time.Weekday(w).String()
}

func startErrorText(err error) string {
	switch {
	case errors.Is(err, session.ErrAlreadyRunning):
		return "A scan or update is already running"
	case errors.Is(err, session.ErrEngineBusy):
		return "The engine is still finishing the last scan, try again shortly"
	case errors.Is(err, session.ErrEmptyPath):
		return "No drive selected"
	}
	return errorText(err)
}

func errorText(err error) string {
	return session.Navigation{Err: err}.ErrorMessage()
}

// View implements tea.Model
func (a App) View() string {
	var body string
	var bindings []key.Binding
	switch a.view {
	case session.ViewLoading:
		body = a.loadingView()
		bindings = []key.Binding{a.keys.Quit}
	case session.ViewClean:
		body = a.cleanView()
		bindings = a.keys.resultHelp()
	case session.ViewInfected:
		body = a.infectedView()
		bindings = append([]key.Binding{a.keys.Up, a.keys.Down}, a.keys.resultHelp()...)
	case session.ViewSettings:
		body = a.settingsView()
		bindings = a.keys.settingsHelp()
	default:
		body = a.entryView()
		bindings = a.keys.entryHelp()
	}

	parts := []string{a.header()}
	if a.banner != "" {
		parts = append(parts, BannerStyle.Render(a.banner))
	}
	parts = append(parts, PanelStyle.Render(body), a.help.ShortHelpView(bindings))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (a App) header() string {
	name := AppNameStyle.Render("stickscan")
	info := MutedStyle.Render(fmt.Sprintf(" %s │ %s signatures │ updated %s",
		a.deps.Version, humanize.Comma(a.doc.HashesInDB), lastUpdateText(a.doc.LastDBUpdate)))
	return HeaderStyle.Render(name + info)
}

func (a App) entryView() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Select a drive to scan"))
	b.WriteString("\n")
	if len(a.drives) == 0 {
		b.WriteString(MutedStyle.Render("No removable drives found. Plug in a drive or press r."))
	}
	for i, d := range a.drives {
		if i == a.cursor {
			b.WriteString(ItemSelected.Render("▸ " + d))
		} else {
			b.WriteString(ItemStyle.Render("  " + d))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(LabelStyle.Render("Update before scan"))
	b.WriteString(onOff(a.updateFirst))
	return b.String()
}

func (a App) loadingView() string {
	var b strings.Builder
	title := "Scanning " + a.nav.Path
	if a.nav.Kind == history.KindUpdate {
		title = "Updating signature database"
	}
	b.WriteString(a.spinner.View() + " " + TitleStyle.Render(title))
	b.WriteString("\n")
	if a.progress.Percent != nil {
		b.WriteString(a.bar.ViewAs(*a.progress.Percent / 100))
		b.WriteString("\n")
	}
	if a.progress.Text != "" {
		b.WriteString(ValueStyle.Render(a.progress.Text))
		b.WriteString("\n")
	}
	if !a.progress.UpdatedAt.IsZero() {
		b.WriteString(MutedStyle.Render("last update " + humanize.Time(a.progress.UpdatedAt)))
	}
	return b.String()
}

func (a App) cleanView() string {
	return CleanStyle.Render("No threats found") + "\n\n" +
		MutedStyle.Render(a.nav.Path)
}

func (a App) infectedView() string {
	var b strings.Builder
	n := len(a.nav.Matches)
	b.WriteString(InfectedStyle.Render(fmt.Sprintf("%d infected %s found", n, plural(n, "file", "files"))))
	b.WriteString("\n\n")
	if a.nav.Obfuscated {
		b.WriteString(MutedStyle.Render("File names are hidden."))
		return b.String()
	}
	end := min(a.matchOffset+visibleMatches, n)
	for _, m := range a.nav.Matches[a.matchOffset:end] {
		b.WriteString(ValueStyle.Render(m.Path))
		if len(m.Rules) > 0 {
			b.WriteString(MutedStyle.Render("  " + strings.Join(m.Rules, ", ")))
		}
		b.WriteString("\n")
	}
	if end < n {
		b.WriteString(MutedStyle.Render(fmt.Sprintf("… %d more", n-end)))
	}
	return b.String()
}

func (a App) settingsView() string {
	d := a.doc
	row := func(label, value string) string {
		return LabelStyle.Render(label) + value + "\n"
	}
	timeValue := ValueStyle.Render(d.DBUpdateTime)
	if a.editingTime {
		timeValue = a.timeInput.View()
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Settings"))
	b.WriteString("\n")
	b.WriteString(row("Signatures", ValueStyle.Render(humanize.Comma(d.HashesInDB))))
	b.WriteString(row("Last update", ValueStyle.Render(lastUpdateText(d.LastDBUpdate))))
	b.WriteString(row("Logging", onOff(d.LoggingIsActive)))
	b.WriteString(row("Hide file names", onOff(d.ObfuscatedIsActive)))
	b.WriteString(row("Update day", ValueStyle.Render(weekdayName(d.DBUpdateWeekday))))
	b.WriteString(row("Update time", timeValue))
	return b.String()
}

func lastUpdateText(s string) string {
	if s == "" || s == settings.Never {
		return settings.Never
	}
	t, err := time.ParseInLocation(settings.LastUpdateLayout, s, time.Local)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%s (%s)", s, humanize.Time(t))
}

func onOff(v bool) string {
	if v {
		return OnStyle.Render("on")
	}
	return OffStyle.Render("off")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
