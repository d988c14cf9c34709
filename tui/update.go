package tui

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/samaelod/pglink/engine"
	"github.com/samaelod/pglink/types"
)

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			if m.screen == screenFilePicker && m.fileBrowser.List.FilterState() == list.Filtering {
				break
			}
			m.engine.Stop()
			return m, tea.Quit
		}
	}

	// Messages that apply on every screen
	switch msg := msg.(type) {
	case recordingLoadedMsg:
		m.err = nil
		m.recording = msg.rec
		m.selectedFile = msg.path
		m.setCommands(msg.rec)
		m.screen = screenSession
		m.resize()
		if m.engine == nil {
			m.status = "Connecting to " + m.cfg.SocketPath + "..."
			return m, connectCmd(m.cfg, m.metrics, sessionLogPath(m.cfg, msg.path))
		}
		m.installRecording()
		return m, nil

	case engineReadyMsg:
		m.engine = msg.engine
		m.err = nil
		m.status = "Connected to " + m.cfg.SocketPath
		m.screen = screenSession
		m.resize()
		m.installRecording()
		m.logContent = m.engine.Log.ReadAll()
		m.logViewport.SetContent(m.logContent)
		m.logViewport.GotoBottom()
		return m, waitForLog(m.engine.Log)

	case replayDoneMsg:
		m.replaying = false
		switch {
		case errors.Is(msg.err, engine.ErrSchemaDrift):
			m.err = fmt.Errorf("recording does not match the host schema: %w", msg.err)
		case msg.err != nil:
			m.err = msg.err
		case msg.frames > 0:
			m.status = fmt.Sprintf("Replay finished, %d frames grabbed", msg.frames)
		default:
			m.status = "Replay finished"
		}
		m.refreshProfiles()
		return m, nil

	case commandDoneMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("%s: %w", msg.name, msg.err)
			return m, nil
		}
		m.err = nil
		m.status = fmt.Sprintf("%s ok (success=%d, processed %.3f)", msg.name, msg.res.Success, msg.res.ProcessedTime)
		return m, nil

	case savedMsg:
		m.err = nil
		m.status = "Saved " + msg.path
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil

	case editorFinishedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		return m, loadRecordingCmd(sourceLua, m.selectedFile, false)

	case logMsg:
		if m.engine != nil && m.engine.Log != nil {
			m.logContent = m.engine.Log.ReadAll()
			m.logViewport.SetContent(m.logContent)
			m.logViewport.GotoBottom()
			return m, waitForLog(m.engine.Log)
		}
		return m, nil
	}

	switch m.screen {

	case screenSourceSelect:
		if msg, ok := msg.(tea.KeyMsg); ok {
			switch msg.String() {
			case "up", "k", "left", "h":
				m.menuCursor = (m.menuCursor + len(sourceLabels) - 1) % len(sourceLabels)
			case "down", "j", "right", "l":
				m.menuCursor = (m.menuCursor + 1) % len(sourceLabels)
			case "enter":
				m.source = sourceType(m.menuCursor)
				switch m.source {
				case sourceCapture:
					m.fileBrowser = NewFileBrowser(captureTypes)
				case sourceLua:
					m.fileBrowser = NewFileBrowser(luaTypes)
				case sourceLive:
					m.screen = screenLoading
					return m, connectCmd(m.cfg, m.metrics, sessionLogPath(m.cfg, ""))
				}
				m.resize()
				m.screen = screenFilePicker
				return m, nil
			}
		}
		return m, nil

	case screenFilePicker:
		var cmd tea.Cmd
		m.fileBrowser, cmd = m.fileBrowser.Update(msg)

		if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" {
			fi, ok := m.fileBrowser.List.SelectedItem().(fileItem)
			if !ok || fi.isDir || !hasType(fi.name, m.fileBrowser.AllowedTypes) {
				return m, cmd
			}
			m.screen = screenLoading
			return m, loadRecordingCmd(m.source, fi.path, true)
		}
		if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "esc" &&
			m.fileBrowser.List.FilterState() == list.Unfiltered {
			m.screen = screenSourceSelect
		}
		return m, cmd

	case screenLoading:
		if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "esc" && m.err != nil {
			m.err = nil
			m.screen = screenSourceSelect
		}
		return m, nil

	case screenSession:
		return m.updateSession(msg)
	}

	return m, nil
}

func (m Model) updateSession(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	if msg, ok := msg.(tea.KeyMsg); ok {
		key := msg.String()
		switch key {
		case "tab", "shift+tab":
			m.activeView = (m.activeView + 1) % 2
			m.resize()
			return m, nil
		case "g":
			if m.activeView == viewLogs {
				m.logViewport.GotoTop()
			}
		case "G":
			if m.activeView == viewLogs {
				m.logViewport.GotoBottom()
			}
		case "s":
			if m.replaying {
				m.engine.Stop()
				m.status = "Stopping replay..."
				return m, nil
			}
		case "e":
			if m.activeView == viewLogs {
				return m, openLogsInEditor(m.logContent)
			}
		}

		if m.activeView == viewLists {
			if next, c, handled := m.sessionKey(key); handled {
				return next, c
			}
		}
	}

	if m.activeView == viewLists {
		if m.activePanel == panelCommands {
			m.commands, cmd = m.commands.Update(msg)
		} else {
			m.profiles, cmd = m.profiles.Update(msg)
		}
		cmds = append(cmds, cmd)
	} else {
		m.logViewport, cmd = m.logViewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// sessionKey handles the keys of the list view. Anything that talks to the
// host is refused while a replay holds the connection.
func (m Model) sessionKey(key string) (Model, tea.Cmd, bool) {
	switch key {
	case "left", "h":
		m.activePanel = panelCommands
		return m, nil, true
	case "right", "l":
		m.activePanel = panelProfiles
		return m, nil, true
	case "e":
		if m.source == sourceLua && m.selectedFile != "" {
			return m, editFileCmd(m.selectedFile), true
		}
		return m, nil, true
	case "u":
		if m.source == sourceLua && m.selectedFile != "" {
			return m, loadRecordingCmd(sourceLua, m.selectedFile, false), true
		}
		return m, nil, true
	case "o":
		if m.engine == nil {
			m.status = "Connecting to " + m.cfg.SocketPath + "..."
			return m, connectCmd(m.cfg, m.metrics, sessionLogPath(m.cfg, m.selectedFile)), true
		}
		return m, nil, true
	}

	if !hostKey(key) {
		return m, nil, false
	}
	if m.replaying {
		m.status = "Replay in progress, press s to stop"
		return m, nil, true
	}
	if !m.engine.IsOpen() {
		m.err = engine.ErrNotConnected
		return m, nil, true
	}

	switch key {
	case "r", "R":
		if m.engine.Recorder.Len() == 0 {
			m.status = "Nothing to replay"
			return m, nil, true
		}
		m.replaying = true
		m.err = nil
		m.status = "Replaying..."
		return m, replayCmd(m.engine, key == "R"), true
	case "n":
		return m, pingCmd(m.engine), true
	case "f":
		return m, flushCmd(m.engine), true
	case "c":
		if m.engine.Recorder.Recording() {
			n := m.engine.StopRecording()
			m.recording = m.engine.Recorded()
			m.setCommands(m.recording)
			m.status = fmt.Sprintf("Recorded %d commands", n)
		} else {
			m.engine.StartRecording()
			m.status = "Recording..."
		}
		return m, nil, true
	case "p":
		m.toggleProfile(types.ProfileDropped)
		return m, nil, true
	case "d":
		m.toggleProfile(types.ProfileDetailed)
		return m, nil, true
	case "w":
		return m, saveRecordingCmd(m.engine.Recorded(), m.selectedFile), true
	case "x":
		return m, exportCaptureCmd(m.cfg, m.engine, m.selectedFile), true
	}
	return m, nil, false
}

func hostKey(key string) bool {
	switch key {
	case "r", "R", "n", "f", "c", "p", "d", "w", "x":
		return true
	}
	return false
}

// toggleProfile switches target on, or off when it is already running.
func (m *Model) toggleProfile(target types.ProfileMode) {
	next := target
	if m.engine.Profiler.Mode() == target {
		next = types.ProfileOff
	}
	if err := m.engine.SetProfileMode(next); err != nil {
		m.err = fmt.Errorf("profile %s: %w", next, err)
		return
	}
	m.err = nil
	m.status = "Profiling " + next.String()
	if next == types.ProfileOff {
		m.refreshProfiles()
	}
}

// installRecording hands the loaded recording to a connected engine.
func (m *Model) installRecording() {
	if m.engine == nil || m.recording == nil {
		return
	}
	entries, names, err := m.recording.Log()
	if err == nil {
		err = m.engine.LoadRecording(entries, names)
	}
	if err != nil {
		m.err = fmt.Errorf("load recording: %w", err)
	}
}

func (m *Model) setCommands(rec *types.Recording) {
	items := []list.Item{}
	if rec != nil {
		for i, c := range rec.Commands {
			items = append(items, commandItem{index: i, cmd: c})
		}
	}
	m.commands.SetItems(items)
	m.commands.ResetSelected()
}

func (m *Model) refreshProfiles() {
	items := []list.Item{}
	for _, s := range m.engine.Profiles() {
		items = append(items, profileItem{session: s})
	}
	m.profiles.SetItems(items)
	if len(items) > 0 {
		m.profiles.Select(len(items) - 1)
	}
}

// resize applies the current window size to every sized component.
func (m *Model) resize() {
	if m.width == 0 || m.height == 0 {
		return
	}
	l := computeLayout(m.width, m.height, m.activeView)
	m.fileBrowser.SetSize(m.width/3-4, m.height-7)
	m.commands.SetSize(l.listWidth-4, l.listHeight)
	m.profiles.SetSize(l.listWidth-4, l.listHeight)
	if m.logViewport.Width == 0 && m.logViewport.Height == 0 {
		m.logViewport = viewport.New(l.logWidth, l.logHeight)
		m.logViewport.SetContent(m.logContent)
	}
	m.logViewport.Width = l.logWidth
	m.logViewport.Height = l.logHeight
}
