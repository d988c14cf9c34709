package tui

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/samaelod/pglink/config"
	"github.com/samaelod/pglink/engine"
	"github.com/samaelod/pglink/lua"
	"github.com/samaelod/pglink/metrics"
	"github.com/samaelod/pglink/pcapio"
	"github.com/samaelod/pglink/types"
)

type recordingLoadedMsg struct {
	rec  *types.Recording
	path string
}

type engineReadyMsg struct{ engine *engine.Engine }

type replayDoneMsg struct {
	frames int
	err    error
}

type commandDoneMsg struct {
	name string
	res  types.CommandResult
	err  error
}

type savedMsg struct{ path string }

type errMsg struct{ err error }
type editorFinishedMsg struct{ err error }
type logMsg string

// loadRecording reads a capture or Lua recording into its saved form.
func loadRecording(source sourceType, path string) (*types.Recording, error) {
	var rec *types.Recording
	switch source {
	case sourceCapture:
		entries, err := pcapio.ReadFile(path)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		rec = types.NewRecording(name, entries, nil)
	case sourceLua:
		r, err := lua.ReadRecording(path)
		if err != nil {
			return nil, err
		}
		rec = r
	default:
		return nil, fmt.Errorf("source %d has no file", source)
	}

	if err := lua.ValidateRecording(rec); err != nil {
		return nil, fmt.Errorf("invalid recording: %w", err)
	}
	return rec, nil
}

func loadRecordingCmd(source sourceType, path string, saveCopy bool) tea.Cmd {
	return func() tea.Msg {
		rec, err := loadRecording(source, path)
		if err != nil {
			return errMsg{err}
		}

		finalPath := path
		if saveCopy {
			src := rec
			if source == sourceLua {
				src = nil
			}
			newPath, err := lua.SaveToRecent(src, path)
			if err != nil {
				return errMsg{err}
			}
			finalPath = newPath
		}

		return recordingLoadedMsg{rec: rec, path: finalPath}
	}
}

// sessionLogPath names the engine log after the loaded file.
func sessionLogPath(cfg *config.Config, loaded string) string {
	if loaded == "" {
		return cfg.LogFile()
	}
	logsDir := cfg.LogsDir
	if logsDir == "" {
		logsDir = "logs"
	}
	base := filepath.Base(loaded)
	return filepath.Join(logsDir, strings.TrimSuffix(base, filepath.Ext(base))+".log")
}

func connectCmd(cfg *config.Config, m *metrics.Metrics, logPath string) tea.Cmd {
	return func() tea.Msg {
		opts, err := engine.OptionsFromConfig(cfg)
		if err != nil {
			return errMsg{err}
		}
		opts.LogPath = logPath
		opts.Metrics = m

		e, err := engine.Open(context.Background(), opts)
		if err != nil {
			return errMsg{fmt.Errorf("connect %s: %w", cfg.SocketPath, err)}
		}
		// the engine logs a failure; profiles then carry an empty screen
		e.RefreshScreen()
		return engineReadyMsg{engine: e}
	}
}

func replayCmd(e *engine.Engine, frameGrab bool) tea.Cmd {
	return func() tea.Msg {
		frames, err := e.Replay(context.Background(), frameGrab)
		return replayDoneMsg{frames: len(frames), err: err}
	}
}

func pingCmd(e *engine.Engine) tea.Cmd {
	return func() tea.Msg {
		res, err := e.Ping()
		return commandDoneMsg{name: types.CmdPing, res: res, err: err}
	}
}

func flushCmd(e *engine.Engine) tea.Cmd {
	return func() tea.Msg {
		res, err := e.Flush()
		return commandDoneMsg{name: types.CmdFlush, res: res, err: err}
	}
}

func saveRecordingCmd(rec *types.Recording, originalPath string) tea.Cmd {
	return func() tea.Msg {
		if originalPath == "" {
			originalPath = rec.ID
		}
		path, err := lua.SaveToRecent(rec, originalPath)
		if err != nil {
			return errMsg{err}
		}
		return savedMsg{path: path}
	}
}

func exportCaptureCmd(cfg *config.Config, e *engine.Engine, name string) tea.Cmd {
	return func() tea.Msg {
		rec := e.Recorded()
		entries, _, err := rec.Log()
		if err != nil {
			return errMsg{err}
		}
		dir := cfg.RecordingsDir
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errMsg{err}
		}
		if name == "" {
			name = rec.ID
		}
		base := filepath.Base(name)
		path := filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+".pcapng")
		if err := pcapio.WriteFile(path, entries); err != nil {
			return errMsg{fmt.Errorf("export capture: %w", err)}
		}
		return savedMsg{path: path}
	}
}

func editFileCmd(path string) tea.Cmd {
	c := exec.Command(editor(), path)
	return tea.ExecProcess(c, func(err error) tea.Msg {
		return editorFinishedMsg{err}
	})
}

func openLogsInEditor(logContent string) tea.Cmd {
	f, err := os.CreateTemp("", "pglink-logs-*.log")
	if err != nil {
		return func() tea.Msg { return errMsg{err} }
	}

	_, err = f.WriteString(logContent)
	f.Close()
	if err != nil {
		return func() tea.Msg { return errMsg{err} }
	}
	tempPath := f.Name()

	c := exec.Command(editor(), tempPath)
	return tea.ExecProcess(c, func(err error) tea.Msg {
		os.Remove(tempPath)
		return nil
	})
}

func editor() string {
	if e := os.Getenv("EDITOR"); e != "" {
		return e
	}
	return "nano"
}

func waitForLog(logger *engine.Logger) tea.Cmd {
	return func() tea.Msg {
		ch := logger.Chan()
		if ch == nil {
			return nil
		}
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return logMsg(msg)
	}
}
