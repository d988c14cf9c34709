package tui

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/samaelod/pglink/config"
	"github.com/samaelod/pglink/engine"
	"github.com/samaelod/pglink/lua"
	"github.com/samaelod/pglink/pcapio"
	"github.com/samaelod/pglink/types"
)

func testEntries() []types.LogEntry {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	code := func(c uint16) []byte { return binary.NativeEndian.AppendUint16(nil, c) }
	return []types.LogEntry{
		{Code: 10, At: at, Chunks: [][]byte{code(10), {1, 2, 3, 4}}},
		{Code: 1, At: at.Add(16 * time.Millisecond), Chunks: [][]byte{code(1)}},
	}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return nm, cmd
}

func TestLoadRecordingSources(t *testing.T) {
	dir := t.TempDir()

	capture := filepath.Join(dir, "session.pcapng")
	if err := pcapio.WriteFile(capture, testEntries()); err != nil {
		t.Fatal(err)
	}

	script := filepath.Join(dir, "session.lua")
	var buf bytes.Buffer
	rec := types.NewRecording("s", testEntries(), []string{"mglSetClearColor", "mglFlush"})
	if err := lua.WriteRecording(&buf, rec); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(script, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		source sourceType
		path   string
		named  bool
	}{
		{"capture", sourceCapture, capture, false},
		{"lua", sourceLua, script, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := loadRecording(tt.source, tt.path)
			if err != nil {
				t.Fatalf("loadRecording: %v", err)
			}
			if len(got.Commands) != 2 || got.Commands[1].Code != 1 {
				t.Fatalf("commands = %+v", got.Commands)
			}
			if (got.Commands[0].Name != "") != tt.named {
				t.Fatalf("name = %q", got.Commands[0].Name)
			}
			entries, _, err := got.Log()
			if err != nil {
				t.Fatal(err)
			}
			if entries[0].Size() != 6 {
				t.Fatalf("first command is %d bytes, want 6", entries[0].Size())
			}
		})
	}

	if _, err := loadRecording(sourceLive, ""); err == nil {
		t.Fatal("live source has no file to load")
	}
}

func TestSessionLogPath(t *testing.T) {
	cfg := &config.Config{LogsDir: "out"}
	if got := sessionLogPath(cfg, "/tmp/recordings/run_3.lua"); got != filepath.Join("out", "run_3.log") {
		t.Fatalf("got %q", got)
	}
}

func TestSourceMenuWraps(t *testing.T) {
	m := New("test", nil, nil)
	m, _ = update(t, m, key("k"))
	if m.menuCursor != len(sourceLabels)-1 {
		t.Fatalf("cursor = %d", m.menuCursor)
	}
	m, _ = update(t, m, key("j"))
	if m.menuCursor != 0 {
		t.Fatalf("cursor = %d", m.menuCursor)
	}
}

func TestRecordingLoadedShowsCommands(t *testing.T) {
	m := New("test", nil, nil)
	rec := types.NewRecording("s", testEntries(), []string{"mglSetClearColor", "mglFlush"})

	m, cmd := update(t, m, recordingLoadedMsg{rec: rec, path: "/tmp/s_1.lua"})
	if m.screen != screenSession {
		t.Fatalf("screen = %d", m.screen)
	}
	if cmd == nil {
		t.Fatal("expected a connect command")
	}
	if n := len(m.commands.Items()); n != 2 {
		t.Fatalf("command items = %d", n)
	}
	item := m.commands.Items()[0].(commandItem)
	if item.Title() != "   0 mglSetClearColor" || item.bytes() != 6 {
		t.Fatalf("item = %q, %d bytes", item.Title(), item.bytes())
	}
}

func TestHostKeysNeedConnection(t *testing.T) {
	m := New("test", nil, nil)
	m.screen = screenSession

	for _, k := range []string{"r", "n", "c", "p"} {
		m.err = nil
		m, _ = update(t, m, key(k))
		if !errors.Is(m.err, engine.ErrNotConnected) {
			t.Fatalf("key %s: err = %v", k, m.err)
		}
	}

	m.replaying = true
	m.err = nil
	m, _ = update(t, m, key("r"))
	if m.err != nil || !strings.Contains(m.status, "Replay in progress") {
		t.Fatalf("status = %q, err = %v", m.status, m.err)
	}
}

func TestReplayDone(t *testing.T) {
	m := New("test", nil, nil)
	m.screen = screenSession
	m.replaying = true

	m, _ = update(t, m, replayDoneMsg{err: engine.ErrSchemaDrift})
	if m.replaying || !errors.Is(m.err, engine.ErrSchemaDrift) {
		t.Fatalf("replaying = %v, err = %v", m.replaying, m.err)
	}

	m.err = nil
	m, _ = update(t, m, replayDoneMsg{frames: 3})
	if m.status != "Replay finished, 3 frames grabbed" {
		t.Fatalf("status = %q", m.status)
	}
}

func TestLayoutFitsWindow(t *testing.T) {
	for _, view := range []int{viewLists, viewLogs} {
		l := computeLayout(120, 40, view)
		if l.listWidth+l.rightWidth != l.windowWidth {
			t.Fatalf("widths %d + %d != %d", l.listWidth, l.rightWidth, l.windowWidth)
		}
		if l.detailsHeight+l.logsHeight != l.windowHeight-1-footerHeight {
			t.Fatalf("heights %d + %d", l.detailsHeight, l.logsHeight)
		}
	}
	if computeLayout(120, 40, viewLogs).logHeight <= computeLayout(120, 40, viewLists).logHeight {
		t.Fatal("focused logs should grow")
	}
}

func TestClipLines(t *testing.T) {
	got := clipLines("a\nb\nc\nd", 3, 10)
	if lines := strings.Split(got, "\n"); len(lines) != 3 || lines[0] != "a" {
		t.Fatalf("clip = %q", got)
	}
	if got := clipLines("a", 3, 10); strings.Count(got, "\n") != 2 {
		t.Fatalf("pad = %q", got)
	}
}
