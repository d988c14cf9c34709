package tui

import (
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"

	"github.com/samaelod/pglink/config"
	"github.com/samaelod/pglink/engine"
	"github.com/samaelod/pglink/metrics"
	"github.com/samaelod/pglink/types"
)

type screen int

const (
	screenSourceSelect screen = iota
	screenFilePicker
	screenLoading
	screenSession
)

type sourceType int

const (
	sourceCapture sourceType = iota
	sourceLua
	sourceLive
)

var sourceLabels = []string{"Capture File", "Lua Recording", "Live Host"}

const (
	panelCommands = iota
	panelProfiles
)

const (
	viewLists = iota
	viewLogs
)

type Model struct {
	screen screen
	source sourceType

	cfg     *config.Config
	metrics *metrics.Metrics
	err     error
	status  string

	// fileBrowser for selecting capture/Lua files
	fileBrowser FileBrowser

	commands    list.Model
	profiles    list.Model
	activePanel int

	width        int
	height       int
	selectedFile string

	menuCursor int
	activeView int

	version string

	engine    *engine.Engine
	recording *types.Recording
	replaying bool

	logViewport viewport.Model
	logContent  string // cached log content for editor
}

const (
	minWindowWidth   = 80
	minWindowHeight  = 20
	defaultListWidth = 34
	minListWidth     = 24
	footerHeight     = 3
)
