package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/samaelod/pglink/config"
	"github.com/samaelod/pglink/metrics"
)

var (
	captureTypes = []string{".pcap", ".pcapng", ".cap"}
	luaTypes     = []string{".lua"}
)

func New(version string, cfg *config.Config, m *metrics.Metrics) Model {
	if cfg == nil {
		cfg = config.Default()
	}
	fb := NewFileBrowser(append(append([]string{}, captureTypes...), luaTypes...))

	return Model{
		screen:      screenSourceSelect,
		cfg:         cfg,
		metrics:     m,
		fileBrowser: fb,
		commands:    newPanelList(),
		profiles:    newPanelList(),
		version:     version,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

// Run starts the TUI and closes the host connection when it exits.
func Run(version string, cfg *config.Config, m *metrics.Metrics) error {
	p := tea.NewProgram(New(version, cfg, m), tea.WithAltScreen())
	final, err := p.Run()
	if fm, ok := final.(Model); ok && fm.engine != nil {
		if cerr := fm.engine.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
