package tui

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/samaelod/pglink/pcapio"
)

type FileBrowser struct {
	List           list.Model
	CurrentDir     string
	Selected       string
	PreviewContent string
	Height         int
	Width          int
	Err            error
	AllowedTypes   []string
}

type fileItem struct {
	name  string
	path  string
	isDir bool
	info  os.FileInfo
}

func (i fileItem) Title() string {
	if i.isDir {
		return i.name + "/"
	}
	return i.name
}
func (i fileItem) Description() string {
	if i.isDir {
		return "Directory"
	}
	return fmt.Sprintf("File • %d bytes", i.size())
}
func (i fileItem) FilterValue() string { return i.name }

func (i fileItem) size() int64 {
	if i.info == nil {
		return 0
	}
	return i.info.Size()
}

// hasType reports whether name ends in one of exts, ignoring case.
func hasType(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

type browserDelegate struct {
	allowedTypes []string
}

func (d browserDelegate) Height() int                               { return 1 }
func (d browserDelegate) Spacing() int                              { return 0 }
func (d browserDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d browserDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(fileItem)
	if !ok {
		return
	}

	str := i.Title()

	var style lipgloss.Style
	switch {
	case index == m.Index():
		style = styleSelected
		str = "> " + str
	case i.isDir:
		style = lipgloss.NewStyle().Foreground(colorText).Bold(true)
		str = "  " + str
	case hasType(i.name, d.allowedTypes):
		style = lipgloss.NewStyle().Foreground(colorPrimary)
		str = "  " + str
	default:
		style = styleSubtext.Faint(true)
		str = "  " + str
	}

	fmt.Fprint(w, style.Render(str))
}

func NewFileBrowser(allowedTypes []string) FileBrowser {
	cwd, _ := os.Getwd()

	delegate := browserDelegate{allowedTypes: allowedTypes}
	l := list.New([]list.Item{}, delegate, 0, 0)

	l.SetShowTitle(false)
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = styleTitle

	fb := FileBrowser{
		List:         l,
		CurrentDir:   cwd,
		AllowedTypes: allowedTypes,
	}
	fb.refreshDir()
	return fb
}

func (fb *FileBrowser) refreshDir() {
	entries, err := os.ReadDir(fb.CurrentDir)
	if err != nil {
		fb.Err = err
		return
	}

	items := []list.Item{}

	if filepath.Dir(fb.CurrentDir) != fb.CurrentDir {
		items = append(items, fileItem{name: "..", path: filepath.Dir(fb.CurrentDir), isDir: true})
	}

	// Dirs first, then files
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}

		info, _ := e.Info()
		items = append(items, fileItem{
			name:  e.Name(),
			path:  filepath.Join(fb.CurrentDir, e.Name()),
			isDir: e.IsDir(),
			info:  info,
		})
	}

	fb.List.SetItems(items)
	fb.updatePreview()
}

func (fb *FileBrowser) HasValidFilesInDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if hasType(e.Name(), fb.AllowedTypes) {
			return true
		}
	}
	return false
}

func (fb *FileBrowser) SelectedHasValidExtension() bool {
	return fb.Selected != "" && hasType(fb.Selected, fb.AllowedTypes)
}

func (fb *FileBrowser) updatePreview() {
	item := fb.List.SelectedItem()
	if item == nil {
		fb.PreviewContent = ""
		return
	}

	fi := item.(fileItem)
	if fi.isDir {
		fb.PreviewContent = fmt.Sprintf("Directory: %s", fi.name)
		return
	}

	fb.Selected = fi.path

	if !hasType(fi.name, fb.AllowedTypes) {
		fb.PreviewContent = "File type not supported."
		return
	}

	var contentStr string
	switch {
	case hasType(fi.name, luaTypes):
		content, err := os.ReadFile(fi.path)
		if err != nil {
			contentStr = "Error reading file"
		} else {
			contentStr = string(content)
		}
	case hasType(fi.name, captureTypes):
		contentStr = capturePreview(fi)
	default:
		contentStr = "Preview unavailable for this file type."
	}

	lines := strings.Split(contentStr, "\n")
	maxLines := fb.Height
	if maxLines <= 0 {
		maxLines = 10
	}

	if len(lines) > maxLines {
		contentStr = strings.Join(lines[:maxLines], "\n") + "\n... (truncated)"
	}

	fb.PreviewContent = contentStr
}

// capturePreview summarizes the commands stored in a capture file.
func capturePreview(fi fileItem) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Capture file\nSize: %d bytes\n\n", fi.size())

	entries, err := pcapio.ReadFile(fi.path)
	if err != nil {
		fmt.Fprintf(&sb, "Not a command capture: %v", err)
		return sb.String()
	}
	fmt.Fprintf(&sb, "Commands: %d\n", len(entries))
	if len(entries) > 1 {
		fmt.Fprintf(&sb, "Duration: %s\n", entries[len(entries)-1].At.Sub(entries[0].At))
	}
	sb.WriteString("\n")
	for i, e := range entries {
		fmt.Fprintf(&sb, "%4d  code %-5d %d bytes\n", i, e.Code, e.Size())
	}
	return sb.String()
}

func (fb FileBrowser) Update(msg tea.Msg) (FileBrowser, tea.Cmd) {
	var cmd tea.Cmd
	prev := fb.List.Index()
	fb.List, cmd = fb.List.Update(msg)
	if fb.List.Index() != prev {
		fb.updatePreview()
	}

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "enter":
			if fi, ok := fb.List.SelectedItem().(fileItem); ok && fi.isDir {
				fb.CurrentDir = fi.path
				fb.refreshDir()
				fb.List.ResetSelected()
				fb.updatePreview()
			}
			// A file is handled by the parent through fb.Selected
		case "backspace", "left":
			parent := filepath.Dir(fb.CurrentDir)
			if parent != fb.CurrentDir {
				fb.CurrentDir = parent
				fb.refreshDir()
				fb.List.ResetSelected()
				fb.updatePreview()
			}
		}
	}

	return fb, cmd
}

func (fb *FileBrowser) SetSize(width, height int) {
	fb.Width = width
	fb.Height = height
	fb.List.SetSize(width, height)
}

func (fb FileBrowser) View() string {
	return fb.List.View()
}
