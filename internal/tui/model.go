package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/basket/paintbridge/internal/bootstrap"
	"github.com/basket/paintbridge/internal/bridge"
	"github.com/basket/paintbridge/internal/bus"
)

type inboundMsg struct {
	msg bridge.Inbound
}

type ctxDoneMsg struct{}

type closeMsg struct{}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	inkStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	cursorStyle = lipgloss.NewStyle().Reverse(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	frameStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62"))
)

type model struct {
	ctx    context.Context
	out    chan<- bridge.Outbound
	ports  bootstrap.Ports
	board  *board
	logger *slog.Logger

	manifest bridge.Manifest
	user     bridge.UserState

	prompt bool
	input  []rune
	cursor int

	status      string
	statusErr   bool
	confirmQuit bool
	width       int
}

func newModel(ctx context.Context, flags bridge.InitialFlags, ports bootstrap.Ports, b *board, out chan<- bridge.Outbound, logger *slog.Logger) model {
	m := model{
		ctx:      ctx,
		out:      out,
		ports:    ports,
		board:    b,
		logger:   logger,
		manifest: flags.Manifest,
		user:     flags.User,
	}
	switch flags.User.(type) {
	case bridge.Offline:
		m.setError("offline: sign-in and saving may fail")
	case bridge.AllowanceExceeded:
		m.setError("drawing allowance used up; sign in to keep saving")
	default:
		m.setStatus("press : for commands, arrows to move, space to draw")
	}
	return m
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{waitCtxDone(m.ctx)}
	if m.ports.Inbound != nil {
		cmds = append(cmds, waitForInbound(m.ports.Inbound))
	}
	return tea.Batch(cmds...)
}

func waitCtxDone(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return ctxDoneMsg{}
	}
}

// waitForInbound blocks until the next inbound message arrives.
func waitForInbound(sub *bus.Subscription) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub.Ch()
		if !ok {
			return nil // channel closed
		}
		msg, ok := event.Payload.(bridge.Inbound)
		if !ok {
			return nil
		}
		return inboundMsg{msg: msg}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ctxDoneMsg, closeMsg:
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case inboundMsg:
		m = m.handleInbound(msg.msg)
		if m.ports.Inbound == nil {
			return m, nil
		}
		return m, waitForInbound(m.ports.Inbound)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return m.attemptQuit()
		}
		if m.ports.Keys != nil && m.ports.Keys.HandleNative(nativeKey(msg)) {
			// Consumed: it comes back as an inbound key event.
			return m, nil
		}
		if m.prompt {
			return m.updatePrompt(msg)
		}
		return m, nil
	}
	return m, nil
}

func (m model) handleInbound(msg bridge.Inbound) model {
	switch msg := msg.(type) {
	case bridge.KeyEvent:
		return m.handleKey(msg)
	case bridge.LoginSucceeded:
		m.user = bridge.Authenticated{Profile: msg.Profile}
		m.setStatus("signed in as " + displayName(msg.Profile))
	case bridge.LoginFailed:
		m.setError("login failed: " + msg.Reason)
	case bridge.LogoutSucceeded:
		m.user = bridge.Unauthenticated{}
		m.setStatus("signed out")
	case bridge.LogoutFailed:
		m.setError("logout failed: " + msg.Reason)
	case bridge.FileRead:
		m.setStatus(fmt.Sprintf("image received (%d bytes encoded)", len(msg.DataURL)))
	case bridge.FileNotImage:
		m.setError("selected file is not a png or jpeg image")
	case bridge.FileReadFailed:
		m.setError("could not read image: " + msg.Reason)
	case bridge.DrawingSaved:
		m.setStatus("saved as " + msg.ID)
	case bridge.DrawingSaveFailed:
		m.setError("save failed: " + msg.Reason)
	case bridge.DrawingLoaded:
		if err := m.board.load(msg.Drawing); err != nil {
			m.setError(humanError(err))
			break
		}
		m.setStatus("loaded " + msg.ID)
	case bridge.DrawingLoadFailed:
		m.setError(fmt.Sprintf("could not load %s: %s", msg.ID, msg.Reason))
	}
	return m
}

func (m model) handleKey(k bridge.KeyEvent) model {
	if k.Direction != bridge.KeyDown {
		return m
	}
	if m.prompt {
		return m.typeAhead(k)
	}
	switch k.Code {
	case ":":
		m.prompt = true
		m.input, m.cursor = nil, 0
		// Detach here so the next key reaches the prompt directly; the
		// dispatcher's detach on StealFocus is then a no-op.
		if m.ports.Keys != nil {
			m.ports.Keys.Detach()
		}
		m.emit(bridge.StealFocus{})
	case "up", "k":
		m.board.move(0, -1)
	case "down", "j":
		m.board.move(0, 1)
	case "left", "h":
		m.board.move(-1, 0)
	case "right", "l":
		m.board.move(1, 0)
	case "space", "enter":
		m.board.toggle()
	}
	return m
}

// typeAhead types a key that was forwarded before the prompt opened.
func (m model) typeAhead(k bridge.KeyEvent) model {
	if k.Ctrl || k.Meta {
		return m
	}
	r := []rune(k.Code)
	switch {
	case k.Code == "space":
		r = []rune{' '}
	case len(r) != 1:
		return m
	}
	m.input, m.cursor = insertRunes(m.input, m.cursor, printable(r))
	return m
}

func (m model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m.closePrompt(), nil
	case "enter", "ctrl+m", "ctrl+j":
		line := strings.TrimSpace(string(m.input))
		m = m.closePrompt()
		if line == "" {
			return m, nil
		}
		return m.runCommand(line)
	case "backspace":
		m.input, m.cursor = deleteRuneLeft(m.input, m.cursor)
	case "delete":
		m.input, m.cursor = deleteRuneRight(m.input, m.cursor)
	case "left":
		if m.cursor > 0 {
			m.cursor--
		}
	case "right":
		if m.cursor < len(m.input) {
			m.cursor++
		}
	case "ctrl+a", "home":
		m.cursor = 0
	case "ctrl+e", "end":
		m.cursor = len(m.input)
	case "ctrl+u":
		m.input, m.cursor = nil, 0
	case "ctrl+w", "alt+backspace":
		m.input, m.cursor = deleteWordLeft(m.input, m.cursor)
	case " ", "space":
		m.input, m.cursor = insertRunes(m.input, m.cursor, []rune{' '})
	default:
		if msg.Type == tea.KeyRunes {
			m.input, m.cursor = insertRunes(m.input, m.cursor, printable(msg.Runes))
		}
	}
	return m, nil
}

// closePrompt hands keyboard focus back to the board.
func (m model) closePrompt() model {
	m.prompt = false
	m.input, m.cursor = nil, 0
	m.emit(bridge.ReturnFocus{})
	if m.ports.Keys != nil {
		m.ports.Keys.Attach()
	}
	return m
}

func (m model) runCommand(line string) (tea.Model, tea.Cmd) {
	cmd, err := parseCommand(line)
	if err != nil {
		m.setError(humanError(err))
		return m, nil
	}
	switch cmd.local {
	case "quit":
		return m.attemptQuit()
	case "clear":
		m.board.clear()
		m.setStatus("cleared")
		return m, nil
	case "help":
		m.setStatus(promptHelp)
		return m, nil
	case "rename":
		m.board.rename(cmd.arg)
		m.setStatus("renamed to " + m.board.title())
		return m, nil
	}

	out := cmd.out
	switch out.(type) {
	case bridge.Save:
		m.board.rename(cmd.arg)
		body, err := m.board.marshal()
		if err != nil {
			m.setError(humanError(err))
			return m, nil
		}
		out = bridge.Save{Drawing: body}
		m.setStatus("saving...")
	case bridge.AttemptLogin:
		m.setStatus("signing in...")
	case bridge.Logout:
		m.setStatus("signing out...")
	case bridge.LoadDrawing:
		m.setStatus("loading...")
	case bridge.OpenFileUpload:
		m.setStatus("drop a png or jpeg into the uploads folder")
	case bridge.Download:
		m.setStatus("downloading " + out.(bridge.Download).Filename)
	}
	m.emit(out)
	return m, nil
}

// attemptQuit asks for a second press while the unload guard is armed.
func (m model) attemptQuit() (tea.Model, tea.Cmd) {
	if m.confirmQuit || m.ports.Guard == nil || !m.ports.Guard.BeforeUnload() {
		return m, tea.Quit
	}
	m.confirmQuit = true
	m.setError("leave paintbridge? unsaved changes will be lost. press ctrl+c again to quit")
	return m, nil
}

// emit sends one outbound message in order. It only blocks while the
// dispatcher is busy with the previous one.
func (m model) emit(msg bridge.Outbound) {
	select {
	case m.out <- msg:
	case <-m.ctx.Done():
		m.logger.Debug("outbound dropped after shutdown", "tag", msg.Tag())
	}
}

func (m *model) setStatus(s string) {
	m.status, m.statusErr = s, false
	m.confirmQuit = false
}

func (m *model) setError(s string) {
	m.status, m.statusErr = s, true
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("paintbridge"))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %s  build %d  %s", m.board.title(), m.manifest.BuildNumber, userLabel(m.user))))
	b.WriteString("\n")

	cx, cy := m.board.cursor()
	var grid strings.Builder
	for y, row := range m.board.rows() {
		for x, r := range row {
			cell := " "
			if r == '#' {
				cell = "█"
			}
			if x == cx && y == cy && !m.prompt {
				grid.WriteString(cursorStyle.Render(cell))
			} else {
				grid.WriteString(inkStyle.Render(cell))
			}
		}
		if y < len(m.board.rows())-1 {
			grid.WriteString("\n")
		}
	}
	b.WriteString(frameStyle.Render(grid.String()))
	b.WriteString("\n")

	if m.prompt {
		b.WriteString(":" + renderCursor(string(m.input), m.cursor))
	} else if m.statusErr {
		b.WriteString(errStyle.Render(m.status))
	} else {
		b.WriteString(m.status)
	}
	b.WriteString("\n")
	if m.ports.Guard != nil && m.ports.Guard.Armed() {
		b.WriteString(warnStyle.Render("●") + dimStyle.Render(" ctrl+c to quit"))
	} else {
		b.WriteString(dimStyle.Render("ctrl+c to quit"))
	}
	b.WriteString("\n")
	return b.String()
}

func userLabel(u bridge.UserState) string {
	if a, ok := u.(bridge.Authenticated); ok {
		return displayName(a.Profile)
	}
	if u == nil {
		return bridge.Unauthenticated{}.String()
	}
	return u.String()
}

func displayName(p bridge.UserProfile) string {
	for _, key := range []string{"username", "email", "name"} {
		if v := p.Attributes[key]; v != "" {
			return v
		}
	}
	return "signed in"
}
