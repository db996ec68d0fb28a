package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/SkeLLLa/chrome-pool/pkg/pool"
)

// statsSnapshot mirrors the JSON served by GET /stats.
type statsSnapshot struct {
	pool.Stats
	ActiveRenders int `json:"active_renders"`
	Endpoint      int `json:"endpoint"`
}

// tickMsg is dispatched when the refresh period expires.
type tickMsg time.Time

type statsMsg statsSnapshot

type errMsg struct{ err error }

type monitorModel struct {
	addr     string
	interval time.Duration
	client   *http.Client
	stats    statsSnapshot
	updated  time.Time
	lastErr  error
	polls    int
	quitting bool
}

// newMonitorModel creates a TUI model polling the given render server address.
func newMonitorModel(addr string, interval time.Duration) monitorModel {
	return monitorModel{
		addr:     addr,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (m monitorModel) Init() tea.Cmd {
	return func() tea.Msg {
		return tickMsg(time.Now())
	}
}

// tick schedules the next refresh.
func (m monitorModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchStatsCmd fetches pool statistics from the render server.
func (m monitorModel) fetchStatsCmd() tea.Cmd {
	client, addr := m.client, m.addr

	return func() tea.Msg {
		snapshot, err := fetchStats(client, addr)
		if err != nil {
			return errMsg{err: err}
		}

		return statsMsg(snapshot)
	}
}

func fetchStats(client *http.Client, addr string) (statsSnapshot, error) {
	var snapshot statsSnapshot

	resp, err := client.Get(fmt.Sprintf("http://%s/stats", addr))
	if err != nil {
		return snapshot, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return snapshot, fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return snapshot, fmt.Errorf("decode stats: %w", err)
	}

	return snapshot, nil
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true

			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(m.tick(), m.fetchStatsCmd())
	case statsMsg:
		m.stats = statsSnapshot(msg)
		m.lastErr = nil
		m.updated = time.Now()
		m.polls++
	case errMsg:
		m.lastErr = msg.err
	}

	return m, nil
}

func (m monitorModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString("Chrome Pool Monitor\n")
	b.WriteString(fmt.Sprintf("server: %s\n\n", m.addr))

	if m.lastErr != nil {
		b.WriteString(fmt.Sprintf("error: %v\n\n", m.lastErr))
		b.WriteString("press q to quit\n")

		return b.String()
	}

	if m.updated.IsZero() {
		b.WriteString("waiting for first sample...\n\n")
		b.WriteString("press q to quit\n")

		return b.String()
	}

	s := m.stats
	b.WriteString(fmt.Sprintf("%-16s %d\n", "capacity:", s.Capacity))
	b.WriteString(fmt.Sprintf("%-16s %d %s\n", "busy:", s.Busy, gauge(s.Busy, s.Capacity)))
	b.WriteString(fmt.Sprintf("%-16s %d\n", "free:", s.Free))
	b.WriteString(fmt.Sprintf("%-16s %d\n", "sessions:", s.Sessions))
	b.WriteString(fmt.Sprintf("%-16s %d\n", "waiting:", s.Waiting))
	b.WriteString(fmt.Sprintf("%-16s %d\n", "active renders:", s.ActiveRenders))
	b.WriteString(fmt.Sprintf("%-16s %d\n\n", "debug port:", s.Endpoint))

	b.WriteString(fmt.Sprintf("updated %s (%d samples)\n",
		m.updated.Format("15:04:05"),
		m.polls))
	b.WriteString("press q to quit\n")

	return b.String()
}

// gauge renders a simple occupancy bar. Unbounded pools have no bar.
func gauge(busy, capacity int) string {
	if capacity <= 0 {
		return ""
	}
	if busy > capacity {
		busy = capacity
	}

	return "[" + strings.Repeat("#", busy) + strings.Repeat(".", capacity-busy) + "]"
}
