package ui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keyboard shortcuts
type KeyMap struct {
	Up          key.Binding
	Down        key.Binding
	Scan        key.Binding
	UpdateFirst key.Binding
	Refresh     key.Binding
	Settings    key.Binding
	UpdateNow   key.Binding
	Back        key.Binding
	Logging     key.Binding
	Obfuscate   key.Binding
	PrevDay     key.Binding
	NextDay     key.Binding
	EditTime    key.Binding
	Quit        key.Binding
}

// DefaultKeyMap returns the default key bindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Scan: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "scan"),
		),
		UpdateFirst: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "update before scan"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh drives"),
		),
		Settings: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "settings"),
		),
		UpdateNow: key.NewBinding(
			key.WithKeys("U"),
			key.WithHelp("U", "update database"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc", "enter"),
			key.WithHelp("esc", "back"),
		),
		Logging: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "logging"),
		),
		Obfuscate: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "hide paths"),
		),
		PrevDay: key.NewBinding(
			key.WithKeys("left", "h"),
			key.WithHelp("←/h", "day"),
		),
		NextDay: key.NewBinding(
			key.WithKeys("right"),
			key.WithHelp("→", "day"),
		),
		EditTime: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "update time"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

func (k KeyMap) entryHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Scan, k.UpdateFirst, k.Refresh, k.Settings, k.Quit}
}

func (k KeyMap) resultHelp() []key.Binding {
	return []key.Binding{k.Back, k.Quit}
}

func (k KeyMap) settingsHelp() []key.Binding {
	return []key.Binding{k.Logging, k.Obfuscate, k.PrevDay, k.NextDay, k.EditTime, k.UpdateNow, k.Back}
}
