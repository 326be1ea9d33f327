package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"github.com/chase3718/pedalmidi/internal/api"
	"github.com/chase3718/pedalmidi/internal/device"
)

const barWidth = 32

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#555"))
	barStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#5fd7ff"))
	reverseStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff8700")).Bold(true)
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f5f"))
)

// streamMsg is one decoded message from the status stream.
type streamMsg struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type statusMsg device.Status

type streamErrMsg struct{ err error }

type monitorModel struct {
	conn     *websocket.Conn
	url      string
	status   *device.Status
	err      error
	quitting bool
}

func listenForStatus(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		for {
			var m streamMsg
			if err := conn.ReadJSON(&m); err != nil {
				return streamErrMsg{err}
			}
			if m.Type != api.TypeStatus && m.Type != api.TypeStatusInit {
				continue
			}
			var st device.Status
			if err := json.Unmarshal(m.Data, &st); err != nil {
				return streamErrMsg{fmt.Errorf("decode %s: %w", m.Type, err)}
			}
			return statusMsg(st)
		}
	}
}

func (m monitorModel) Init() tea.Cmd {
	if m.conn == nil {
		return nil
	}
	return listenForStatus(m.conn)
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case statusMsg:
		st := device.Status(msg)
		m.status = &st
		return m, listenForStatus(m.conn)

	case streamErrMsg:
		// The stream is gone; there is no reconnect.
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m monitorModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("pedalmidi monitor"))
	b.WriteString(dimStyle.Render("  " + m.url))
	b.WriteString("\n\n")

	if m.status == nil {
		b.WriteString(dimStyle.Render("waiting for status..."))
		b.WriteString("\n")
	} else {
		b.WriteString(renderStatus(*m.status))
	}
	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errStyle.Render("stream closed: " + m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("q: quit"))
	b.WriteString("\n")
	return b.String()
}

func renderStatus(st device.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "channel %2d", st.Channel)
	if st.Reverse {
		b.WriteString("  " + reverseStyle.Render("REVERSED"))
	}
	b.WriteString("\n\n")
	for _, c := range st.Controllers {
		fmt.Fprintf(&b, "%-18s CC%-3d %s %3d\n", c.Name, c.Controller, barStyle.Render(bar(c.Value, barWidth)), c.Value)
	}
	return b.String()
}

// bar draws value (0..127) as a horizontal gauge of the given width.
func bar(value uint8, width int) string {
	filled := int(min(value, device.MaxData)) * width / device.MaxData
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func runMonitor(args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	url := fs.String("url", "ws://127.0.0.1:8340/ws", "status stream URL of a running daemon")
	_ = fs.Parse(args)

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: connect:", err)
		return 1
	}
	defer conn.Close()

	final, err := tea.NewProgram(monitorModel{conn: conn, url: *url}).Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	if m, ok := final.(monitorModel); ok && m.err != nil && !m.quitting {
		fmt.Fprintln(os.Stderr, "stream closed:", m.err)
		return 1
	}
	return 0
}
