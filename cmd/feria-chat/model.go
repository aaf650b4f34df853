// Copyright 2026 The Feria Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/feria-market/feria-chat/chat"
)

// focusRegion identifies which pane has keyboard focus.
type focusRegion int

const (
	// focusSidebar means up/down move the conversation cursor.
	focusSidebar focusRegion = iota
	// focusSearch means keystrokes go to the sidebar search input.
	focusSearch
	// focusCompose means keystrokes go to the compose box.
	focusCompose
)

// sessionUpdateMsg is sent each time the session signals a state
// change; the model re-reads the accessors.
type sessionUpdateMsg struct{}

// directoryLoadedMsg carries the result of the initial directory load.
type directoryLoadedMsg struct{ err error }

// activationDoneMsg carries the result of an Activate call.
type activationDoneMsg struct {
	id  chat.ConversationID
	err error
}

// sendDoneMsg carries the result of a Send call. On failure the
// composed text is restored to the compose box.
type sendDoneMsg struct {
	text string
	err  error
}

// statusFadeMsg clears the status line after a delay.
type statusFadeMsg struct{ generation int }

const statusFadeDelay = 5 * time.Second

var (
	sidebarStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderRight(true).PaddingRight(1)
	selectedStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	activeMarkStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	peerNameStyle      = lipgloss.NewStyle().Bold(true)
	ownMessageStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	timestampStyle     = lipgloss.NewStyle().Faint(true)
	typingStyle        = lipgloss.NewStyle().Faint(true).Italic(true)
	statusErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusNoticeStyle  = lipgloss.NewStyle().Faint(true)
	composeBorderStyle = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderTop(true)
)

type modelConfig struct {
	client     *chat.Client
	directory  *chat.Directory
	session    *chat.Session
	dispatcher *chat.Dispatcher
	selfID     chat.UserID
}

// model is the bubbletea model for the chat client. All chat state
// lives in the Directory and Session; the model holds only view state
// (cursor, focus, inputs) and re-reads the accessors on every update
// signal.
type model struct {
	client     *chat.Client
	directory  *chat.Directory
	session    *chat.Session
	dispatcher *chat.Dispatcher
	selfID     chat.UserID

	focus  focusRegion
	cursor int

	search  textinput.Model
	compose textinput.Model
	thread  viewport.Model

	width  int
	height int
	ready  bool

	status           string
	statusIsError    bool
	statusGeneration int

	sending bool
}

func newModel(config modelConfig) model {
	search := textinput.New()
	search.Placeholder = "search"
	search.Prompt = "/ "
	search.CharLimit = 64

	compose := textinput.New()
	compose.Placeholder = "write a message"
	compose.Prompt = "> "
	compose.CharLimit = 2000

	return model{
		client:     config.client,
		directory:  config.directory,
		session:    config.session,
		dispatcher: config.dispatcher,
		selfID:     config.selfID,
		search:     search,
		compose:    compose,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.loadDirectory(),
		m.waitForUpdate(),
	)
}

// loadDirectory fetches the conversation list and resolves any deep
// link target afterward.
func (m model) loadDirectory() tea.Cmd {
	directory, session := m.directory, m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := directory.Load(ctx); err != nil {
			return directoryLoadedMsg{err: err}
		}
		if err := session.ResolveTarget(ctx); err != nil {
			return directoryLoadedMsg{err: err}
		}
		return directoryLoadedMsg{}
	}
}

// waitForUpdate blocks on the session's update channel and re-arms
// itself after each delivery.
func (m model) waitForUpdate() tea.Cmd {
	updates := m.session.Updates()
	return func() tea.Msg {
		<-updates
		return sessionUpdateMsg{}
	}
}

func (m model) activate(id chat.ConversationID) tea.Cmd {
	session := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return activationDoneMsg{id: id, err: session.Activate(ctx, id)}
	}
}

func (m model) send(text string) tea.Cmd {
	dispatcher := m.dispatcher
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_, err := dispatcher.Send(ctx, text)
		return sendDoneMsg{text: text, err: err}
	}
}

func (m *model) setStatus(text string, isError bool) tea.Cmd {
	m.status = text
	m.statusIsError = isError
	m.statusGeneration++
	generation := m.statusGeneration
	return tea.Tick(statusFadeDelay, func(time.Time) tea.Msg {
		return statusFadeMsg{generation: generation}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		threadWidth := m.width - m.sidebarWidth() - 3
		threadHeight := m.height - 5
		if !m.ready {
			m.thread = viewport.New(threadWidth, threadHeight)
			m.ready = true
		} else {
			m.thread.Width = threadWidth
			m.thread.Height = threadHeight
		}
		m.refreshThread()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case sessionUpdateMsg:
		m.refreshThread()
		return m, m.waitForUpdate()

	case directoryLoadedMsg:
		if msg.err != nil {
			return m, m.setStatus(fmt.Sprintf("load failed: %v", msg.err), true)
		}
		m.clampCursor()
		return m, nil

	case activationDoneMsg:
		if msg.err != nil {
			return m, m.setStatus(fmt.Sprintf("cannot open conversation %d: %v", msg.id, msg.err), true)
		}
		m.refreshThread()
		m.thread.GotoBottom()
		return m, nil

	case sendDoneMsg:
		m.sending = false
		if msg.err != nil {
			// The composed text survives the failure so the user can
			// retry without retyping.
			m.compose.SetValue(msg.text)
			return m, m.setStatus(fmt.Sprintf("send failed: %v", msg.err), true)
		}
		return m, nil

	case statusFadeMsg:
		if msg.generation == m.statusGeneration {
			m.status = ""
		}
		return m, nil
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	switch m.focus {
	case focusSearch:
		switch msg.Type {
		case tea.KeyEsc:
			m.focus = focusSidebar
			m.search.Blur()
			m.search.SetValue("")
			m.clampCursor()
			return m, nil
		case tea.KeyEnter:
			m.focus = focusSidebar
			m.search.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.search, cmd = m.search.Update(msg)
		m.clampCursor()
		return m, cmd

	case focusCompose:
		switch msg.Type {
		case tea.KeyEsc:
			m.focus = focusSidebar
			m.compose.Blur()
			return m, nil
		case tea.KeyEnter:
			text := m.compose.Value()
			if strings.TrimSpace(text) == "" {
				return m, nil
			}
			if m.sending {
				return m, m.setStatus("still sending the previous message", false)
			}
			m.sending = true
			m.compose.SetValue("")
			return m, m.send(text)
		}
		var cmd tea.Cmd
		m.compose, cmd = m.compose.Update(msg)
		// Any edit keystroke counts as composing.
		m.dispatcher.Composing()
		return m, cmd
	}

	// Sidebar focus.
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "/":
		m.focus = focusSearch
		return m, m.search.Focus()
	case "i", "tab":
		if _, ok := m.session.Active(); ok {
			m.focus = focusCompose
			return m, m.compose.Focus()
		}
		return m, nil
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "down", "j":
		if m.cursor < len(m.visibleConversations())-1 {
			m.cursor++
		}
		return m, nil
	case "enter":
		conversations := m.visibleConversations()
		if m.cursor < len(conversations) {
			selected := conversations[m.cursor]
			m.focus = focusCompose
			return m, tea.Batch(m.activate(selected.ID), m.compose.Focus())
		}
		return m, nil
	case "pgup":
		m.thread.HalfViewUp()
		return m, nil
	case "pgdown":
		m.thread.HalfViewDown()
		return m, nil
	}
	return m, nil
}

// visibleConversations applies the sidebar search to the directory.
func (m model) visibleConversations() []chat.Conversation {
	return m.directory.Search(m.search.Value())
}

func (m *model) clampCursor() {
	if n := len(m.visibleConversations()); m.cursor >= n && n > 0 {
		m.cursor = n - 1
	} else if n == 0 {
		m.cursor = 0
	}
}

// refreshThread re-renders the active thread into the viewport,
// keeping the view pinned to the bottom when it already was.
func (m *model) refreshThread() {
	if !m.ready {
		return
	}
	atBottom := m.thread.AtBottom()
	m.thread.SetContent(m.renderMessages())
	if atBottom {
		m.thread.GotoBottom()
	}
}

func (m model) renderMessages() string {
	messages := m.session.Messages()
	if len(messages) == 0 {
		if _, ok := m.session.Active(); !ok {
			return statusNoticeStyle.Render("select a conversation")
		}
		return statusNoticeStyle.Render("no messages yet")
	}

	var b strings.Builder
	for _, message := range messages {
		sender := m.senderLabel(message)
		line := fmt.Sprintf("%s %s  %s",
			timestampStyle.Render(message.SentAt.Local().Format("15:04")),
			peerNameStyle.Render(sender+":"),
			message.Content,
		)
		if message.SenderID == m.selfID {
			line = ownMessageStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) senderLabel(message chat.Message) string {
	if message.SenderID == m.selfID {
		return "you"
	}
	if conversation, ok := m.directory.Get(message.ConversationID); ok {
		if peer, err := m.directory.Peer(conversation); err == nil && peer.ID == message.SenderID {
			if name := peer.DisplayName(); name != "" {
				return name
			}
		}
	}
	return fmt.Sprintf("user %d", message.SenderID)
}

// truncateLabel caps label at max runes. Counting runes, not bytes:
// accented names must not be split mid-rune.
func truncateLabel(label string, max int) string {
	runes := []rune(label)
	if max < 0 || len(runes) <= max {
		return label
	}
	return string(runes[:max])
}

func (m model) sidebarWidth() int {
	width := m.width / 3
	if width < 24 {
		width = 24
	}
	if width > 40 {
		width = 40
	}
	return width
}

func (m model) renderSidebar() string {
	width := m.sidebarWidth()
	var b strings.Builder
	b.WriteString(m.search.View())
	b.WriteString("\n\n")

	active, _ := m.session.Active()
	for i, conversation := range m.visibleConversations() {
		label := fmt.Sprintf("conversation %d", conversation.ID)
		if peer, err := m.directory.Peer(conversation); err == nil {
			if name := peer.DisplayName(); name != "" {
				label = name
			} else {
				label = fmt.Sprintf("user %d", peer.ID)
			}
		}
		label = truncateLabel(label, width-4)

		line := "  " + label
		if conversation.ID == active {
			line = activeMarkStyle.Render("* ") + label
		}
		if i == m.cursor && m.focus != focusCompose {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return sidebarStyle.Width(width).Render(b.String())
}

func (m model) renderTypingLine() string {
	peers := m.session.TypingPeers()
	if len(peers) == 0 {
		return ""
	}
	active, ok := m.session.Active()
	if !ok {
		return ""
	}
	label := fmt.Sprintf("user %d", peers[0])
	if conversation, ok := m.directory.Get(active); ok {
		if peer, err := m.directory.Peer(conversation); err == nil && peer.ID == peers[0] {
			if name := peer.DisplayName(); name != "" {
				label = name
			}
		}
	}
	return typingStyle.Render(label + " is typing...")
}

func (m model) renderStatusLine() string {
	switch {
	case m.status != "" && m.statusIsError:
		return statusErrorStyle.Render(m.status)
	case m.status != "":
		return statusNoticeStyle.Render(m.status)
	case m.sending:
		return statusNoticeStyle.Render("sending...")
	case m.session.State() == chat.StateActivating:
		return statusNoticeStyle.Render("loading...")
	default:
		return ""
	}
}

func (m model) View() string {
	if !m.ready {
		return "loading..."
	}

	right := lipgloss.JoinVertical(lipgloss.Left,
		m.thread.View(),
		m.renderTypingLine(),
		composeBorderStyle.Width(m.width-m.sidebarWidth()-3).Render(m.compose.View()),
		m.renderStatusLine(),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), right)
}
