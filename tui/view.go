package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/samaelod/pglink/analysis"
	"github.com/samaelod/pglink/types"
)

type commandItem struct {
	index int
	cmd   types.RecordedCommand
}

func (c commandItem) Title() string {
	name := c.cmd.Name
	if name == "" {
		name = fmt.Sprintf("code %d", c.cmd.Code)
	}
	return fmt.Sprintf("%4d %s", c.index, name)
}
func (c commandItem) Description() string { return "" }
func (c commandItem) FilterValue() string { return c.cmd.Name }

// bytes is the command's size on the wire.
func (c commandItem) bytes() int {
	n := 0
	for _, s := range c.cmd.Chunks {
		n += len(s) / 2
	}
	return n
}

type profileItem struct {
	session types.ProfileSession
}

func (p profileItem) Title() string {
	return fmt.Sprintf("%s %s (%d)", p.session.Start.Format("15:04:05"), p.session.Mode, len(p.session.FlushTimes))
}
func (p profileItem) Description() string { return "" }
func (p profileItem) FilterValue() string { return p.session.ID }

type panelDelegate struct{}

func (d panelDelegate) Height() int                               { return 1 }
func (d panelDelegate) Spacing() int                              { return 0 }
func (d panelDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d panelDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(list.DefaultItem)
	if !ok {
		return
	}

	if index == m.Index() {
		fmt.Fprint(w, styleSelected.Render("> "+i.Title()))
		return
	}
	fmt.Fprint(w, lipgloss.NewStyle().Foreground(colorText).Render("  "+i.Title()))
}

func newPanelList() list.Model {
	l := list.New([]list.Item{}, panelDelegate{}, defaultListWidth, 10)
	l.SetShowHelp(false)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	return l
}

// sessionLayout holds the panel sizes of the session screen.
type sessionLayout struct {
	windowWidth   int
	windowHeight  int
	listWidth     int
	listHeight    int
	rightWidth    int
	detailsHeight int
	logsHeight    int
	logWidth      int
	logHeight     int
}

func computeLayout(width, height, activeView int) sessionLayout {
	l := sessionLayout{windowWidth: width - 4, windowHeight: height - 4}

	availWidth := l.windowWidth
	availHeight := l.windowHeight - 1 - footerHeight

	l.listWidth = min(defaultListWidth, availWidth/3)
	l.listWidth = max(l.listWidth, minListWidth)
	l.rightWidth = max(availWidth-l.listWidth, 0)

	if activeView == viewLogs {
		l.logsHeight = availHeight * 70 / 100
	} else {
		l.logsHeight = availHeight * 40 / 100
	}
	l.detailsHeight = availHeight - l.logsHeight
	if l.detailsHeight < 10 {
		l.detailsHeight = 10
		l.logsHeight = availHeight - l.detailsHeight
	}

	l.listHeight = max((availHeight-6)/2, 1)
	l.logHeight = max(l.logsHeight-6, 2)
	l.logWidth = max(l.rightWidth-7, 1)
	return l
}

func renderScrollbar(vp viewport.Model, height int) string {
	total := vp.TotalLineCount()
	visible := vp.VisibleLineCount()

	if total <= visible {
		return ""
	}

	trackHeight := height
	if trackHeight < 1 {
		trackHeight = visible
	}

	thumbPos := int(float64(trackHeight-1) * vp.ScrollPercent())
	thumbPos = min(max(thumbPos, 0), trackHeight-1)

	var sb strings.Builder
	for i := 0; i < trackHeight; i++ {
		if i == thumbPos {
			sb.WriteString(scrollbarThumb.Render("█"))
		} else {
			sb.WriteString(scrollbarTrack.Render("│"))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func (m Model) header(width int) string {
	parts := []string{styleAppTitle.Render("PGLINK " + m.version)}
	if m.engine != nil {
		if m.engine.Recorder.Recording() {
			parts = append(parts, styleRecordingBadge.Render("REC"))
		}
		if mode := m.engine.Profiler.Mode(); mode.Active() {
			parts = append(parts, " ", styleProfileBadge.Render("PROFILE "+mode.String()))
		}
	}
	return lipgloss.PlaceHorizontal(width, lipgloss.Center, lipgloss.JoinHorizontal(lipgloss.Center, parts...))
}

func (m Model) View() string {
	var content string

	windowWidth := m.width - 4
	windowHeight := m.height - 4

	if windowWidth < minWindowWidth || windowHeight < minWindowHeight {
		return styleScreenTooSmall.
			Width(m.width).
			Height(m.height).
			Render("Terminal window is too small.\nPlease resize.")
	}

	appTitle := m.header(windowWidth)

	switch m.screen {

	case screenSourceSelect:
		menuTitle := styleTitle.Render("Select Source")

		cards := make([]string, len(sourceLabels))
		for i, label := range sourceLabels {
			if i == m.menuCursor {
				cards[i] = styleMenuItemSelected.Render(label)
			} else {
				cards[i] = styleMenuItem.Render(label)
			}
		}

		menuContent := lipgloss.JoinVertical(lipgloss.Center,
			menuTitle,
			"\n",
			lipgloss.JoinHorizontal(lipgloss.Center, cards...),
			"\n",
			styleSubtext.Render("host socket: "+m.cfg.SocketPath),
		)

		content = lipgloss.JoinVertical(lipgloss.Top,
			appTitle,
			lipgloss.Place(
				windowWidth, windowHeight-1,
				lipgloss.Center, lipgloss.Center,
				styleMenuContainer.Render(menuContent),
			),
		)

	case screenFilePicker:
		// Browser (1/3) | Preview (2/3)
		listWidth := windowWidth / 3
		previewWidth := windowWidth - listWidth
		panelHeight := windowHeight - 1

		browserColor := colorSecondary
		if m.fileBrowser.HasValidFilesInDir(m.fileBrowser.CurrentDir) {
			browserColor = colorSuccess
		}

		previewColor := colorSecondary
		if fi, ok := m.fileBrowser.List.SelectedItem().(fileItem); ok && !fi.isDir {
			if m.fileBrowser.SelectedHasValidExtension() {
				previewColor = colorSuccess
			} else {
				previewColor = colorError
			}
		}

		browserTitle := styleTitle.MarginBottom(1).Render("Select Recording")
		browserView := stylePanelTitled.
			BorderForeground(browserColor).
			Width(listWidth - 4).
			Height(panelHeight).
			Render(browserTitle + "\n" + m.fileBrowser.View())

		previewTitle := styleTitle.MarginBottom(1).Render("Preview")
		contentHeight := panelHeight - 5 // border, title, margin, dots
		previewView := stylePanelTitled.
			BorderForeground(previewColor).
			Width(previewWidth).
			Height(panelHeight).
			Render(previewTitle + "\n" + clipLines(m.fileBrowser.PreviewContent, contentHeight, previewWidth-4))

		content = lipgloss.Place(
			windowWidth, windowHeight,
			lipgloss.Center, lipgloss.Center,
			lipgloss.JoinVertical(lipgloss.Top,
				appTitle,
				lipgloss.JoinHorizontal(lipgloss.Top, browserView, previewView),
			),
		)

	case screenLoading:
		status := "Loading..."
		if m.source == sourceLive {
			status = "Connecting to " + m.cfg.SocketPath + "..."
		}
		if m.err != nil {
			status = styleError.Render("Error: "+m.err.Error()) + "\n\n" + styleSubtext.Render("esc to go back")
		}

		content = lipgloss.Place(
			windowWidth, windowHeight,
			lipgloss.Center, lipgloss.Center,
			lipgloss.JoinVertical(lipgloss.Center,
				appTitle,
				"\n",
				status,
			),
		)

	case screenSession:
		content = lipgloss.JoinVertical(lipgloss.Top, appTitle, m.sessionView())
	}

	return styleWindow.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m Model) sessionView() string {
	l := computeLayout(m.width, m.height, m.activeView)

	panel := func(title string, body string, focused bool) string {
		color := colorSubtext
		if focused {
			color = colorSecondary
		}
		return stylePanelTitled.
			BorderForeground(color).
			Width(l.listWidth - 4).
			Height(l.listHeight + 2).
			Render(styleTitle.MarginBottom(1).Render(title) + "\n" + body)
	}
	listsFocused := m.activeView == viewLists
	leftColumn := lipgloss.JoinVertical(lipgloss.Top,
		panel(fmt.Sprintf("Commands (%d)", len(m.commands.Items())), m.commands.View(), listsFocused && m.activePanel == panelCommands),
		panel("Profiles", m.profiles.View(), listsFocused && m.activePanel == panelProfiles),
	)

	// Details
	detailsContentHeight := max(l.detailsHeight-3, 4)
	detailsTitle := "Command"
	if m.activePanel == panelProfiles {
		detailsTitle = "Profile"
	}
	details := styleTitle.MarginBottom(1).Render(detailsTitle) + "\n" +
		m.renderDetails(l.rightWidth-4, detailsContentHeight)

	detailsColor := colorSubtext
	switch {
	case m.err != nil:
		detailsColor = colorError
	case m.replaying:
		detailsColor = colorSecondary
	case m.engine.IsOpen():
		detailsColor = colorSuccess
	}
	rightTop := stylePanelTitled.
		BorderForeground(detailsColor).
		Width(l.rightWidth).
		Height(l.detailsHeight).
		Render(details)

	// Logs
	logsColor := colorSubtext
	if m.activeView == viewLogs {
		logsColor = colorSecondary
	}
	scrollbarCol := scrollbarTrack.Width(1).Render(renderScrollbar(m.logViewport, l.logHeight))
	logs := styleTitle.MarginBottom(1).Render("Logs") + "\n" +
		lipgloss.JoinHorizontal(lipgloss.Top, m.logViewport.View(), scrollbarCol)
	rightBottom := stylePanelTitled.
		BorderForeground(logsColor).
		Width(l.rightWidth).
		Height(l.logsHeight - 2).
		Render(logs)

	topArea := lipgloss.JoinHorizontal(lipgloss.Top,
		leftColumn,
		lipgloss.JoinVertical(lipgloss.Top, rightTop, rightBottom),
	)

	footerView := lipgloss.NewStyle().
		Border(lipgloss.ThickBorder()).
		BorderForeground(colorSubtext).
		Padding(0, 1).
		Width(l.windowWidth - 2).
		Render(m.footer())

	return lipgloss.JoinVertical(lipgloss.Top, topArea, footerView)
}

func (m Model) footer() string {
	keyStyle := lipgloss.NewStyle().Foreground(colorSecondary).Bold(true)
	descStyle := styleSubtext
	sep := descStyle.Render(" • ")

	hint := func(key, desc string) string {
		return keyStyle.Render(key) + descStyle.Render(" "+desc)
	}

	var hints []string
	switch {
	case m.activeView == viewLogs:
		hints = []string{hint("<tab>", "focus"), hint("e", "editor"), hint("g", "top"), hint("G", "bottom"), hint("q", "quit")}
	case m.replaying:
		hints = []string{hint("s", "stop replay"), hint("<tab>", "focus"), hint("q", "quit")}
	default:
		hints = []string{
			hint("<tab>", "focus"), hint("←/→", "panel"),
			hint("r", "replay"), hint("R", "replay+grab"),
			hint("c", "record"), hint("p", "drops"), hint("d", "detailed"),
			hint("n", "ping"), hint("f", "flush"),
			hint("w", "save"), hint("x", "pcapng"),
		}
		if m.source == sourceLua {
			hints = append(hints, hint("e", "edit"), hint("u", "reload"))
		}
		if m.engine == nil {
			hints = append(hints, hint("o", "connect"))
		}
		hints = append(hints, hint("q", "quit"))
	}

	line := strings.Join(hints, sep)
	status := m.status
	if m.err != nil {
		return line + "\n" + styleError.Render(m.err.Error())
	}
	return line + "\n" + descStyle.Render(status)
}

func (m Model) renderDetails(width, height int) string {
	if m.activePanel == panelProfiles {
		item, ok := m.profiles.SelectedItem().(profileItem)
		if !ok {
			return clipLines(styleSubtext.Render("No profile sessions yet. Press p or d to start one."), height, width)
		}
		return clipLines(analysis.Render(analysis.Analyze(item.session), width), height, width)
	}

	item, ok := m.commands.SelectedItem().(commandItem)
	if !ok {
		return clipLines(styleSubtext.Render("No commands. Load a recording or press c to record."), height, width)
	}

	valueMaxWidth := max(width-14, 5)
	row := func(label, value string) string {
		if len(value) > valueMaxWidth {
			value = value[:valueMaxWidth-1] + "…"
		}
		return lipgloss.JoinHorizontal(lipgloss.Left,
			styleLabel.Render(label),
			styleValue.Render(value),
		)
	}

	c := item.cmd
	name := c.Name
	if name == "" {
		name = "(unnamed)"
	}
	rows := []string{
		row("Index:", fmt.Sprintf("%d", item.index)),
		row("Name:", name),
		row("Code:", fmt.Sprintf("%d", c.Code)),
		row("Delay:", fmt.Sprintf("+%d ms", c.TDelta)),
		row("Bytes:", fmt.Sprintf("%d in %d writes", item.bytes(), len(c.Chunks))),
	}

	payload := lipgloss.NewStyle().
		MarginTop(1).
		Foreground(colorSecondary).
		Bold(true).
		Render("Writes")
	rows = append(rows, payload)
	for i, chunk := range c.Chunks {
		rows = append(rows, fmt.Sprintf("%3d %s", i, chunk))
	}

	return clipLines(lipgloss.JoinVertical(lipgloss.Left, rows...), height, width)
}

// clipLines cuts s to height lines of at most width cells, padding short
// content so panels keep their size.
func clipLines(s string, height, width int) string {
	lines := strings.Split(s, "\n")
	if height > 0 && len(lines) > height {
		lines = append(lines[:height-1], styleSubtext.Render("..."))
	}
	for i, line := range lines {
		if width > 1 && lipgloss.Width(line) > width {
			lines[i] = ansi.Truncate(line, width, "…")
		}
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}
