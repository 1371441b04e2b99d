package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Dicklesworthstone/node_metrics_exporter/internal/exporter"
	"github.com/Dicklesworthstone/node_metrics_exporter/internal/health"
	"github.com/Dicklesworthstone/node_metrics_exporter/internal/model"
)

// Source exposes the most recently published refresh cycle.
type Source interface {
	Latest() *exporter.Published
}

// Model renders the exporter's latest cycle. It only reads what the
// refresh loop published; it never samples on its own.
type Model struct {
	src    Source
	addr   string
	latest *exporter.Published
	width  int
	height int
}

func New(src Source, addr string) *Model {
	return &Model{
		src:    src,
		addr:   addr,
		latest: src.Latest(),
		width:  120,
		height: 40,
	}
}

// Messages
type tickMsg struct{}

func tickCmd() tea.Cmd { return tea.Tick(time.Second/5, func(time.Time) tea.Msg { return tickMsg{} }) }

func (m *Model) Init() tea.Cmd { return tickCmd() }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tickMsg:
		if p := m.src.Latest(); p != nil {
			m.latest = p
		}
		return m, tickCmd()
	}
	return m, nil
}

// Styles
var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Bold(true)
	gaugeFill   = "█"
	gaugeEmpty  = "░"
	cardStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("60")).
			Padding(0, 1).
			MarginRight(1)
)

func (m *Model) View() string {
	if m.latest == nil {
		return titleStyle.Render("Node Metrics Exporter") + "  " +
			subtleStyle.Render("waiting for first refresh…")
	}
	s := m.latest.Snapshot
	h := s.Host

	header := titleStyle.Render("Node Metrics Exporter") + "  " +
		subtleStyle.Render(fmt.Sprintf("%s  serving %s  cycle %s",
			s.Timestamp.Format("Mon Jan 2 15:04:05 MST 2006"),
			m.addr, m.latest.Duration.Round(time.Millisecond)))

	cpuCard := card("CPU",
		fmt.Sprintf("%s  load %.2f", gaugeBar(h.CPUUtilization*100, 28), h.Load1))

	used := h.MemTotalBytes - min(h.MemAvailableBytes, h.MemTotalBytes)
	memCard := card("Memory",
		fmt.Sprintf("%s  %.1f/%.1f GiB",
			gaugeBar(pct(used, h.MemTotalBytes), 28),
			bytesToGiB(used), bytesToGiB(h.MemTotalBytes)))

	psiCard := card("Pressure avg10",
		fmt.Sprintf("cpu %5.1f%%  mem %5.1f%%", h.CPUPressureAvg10, h.MemoryPressureAvg10))

	healthCard := card("Health",
		fmt.Sprintf("%s  %.1f/%.0f",
			gaugeBar(s.HealthScore*100/health.MaxScore, 20), s.HealthScore, health.MaxScore))

	columns := []string{cpuCard, memCard, psiCard, healthCard}
	if len(s.Accelerators) > 0 {
		columns = append(columns, card("GPU", renderAccelerators(s.Accelerators)))
	}

	line1 := lipgloss.JoinHorizontal(lipgloss.Top, columns...)
	topTable := card("Top CPU time", renderTable(s.Processes, max(5, m.height-12)))

	return lipgloss.JoinVertical(lipgloss.Left, header, line1, topTable)
}

func renderAccelerators(accels []model.AcceleratorSnapshot) string {
	lines := make([]string, 0, len(accels))
	for _, a := range accels {
		power := "  n/a"
		if a.PowerWatts != nil {
			power = fmt.Sprintf("%4.0fW", *a.PowerWatts)
		}
		lines = append(lines,
			fmt.Sprintf("#%d %3d%% mem:%5.1f/%-5.1fGiB %3d°C %s procs:%d",
				a.Index, a.UtilizationPercent,
				bytesToGiB(a.MemoryUsedBytes), bytesToGiB(a.MemoryTotalBytes),
				a.TemperatureC, power, len(a.Processes)))
	}
	return strings.Join(lines, "\n")
}

// Helpers
func gaugeBar(pct float64, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int((pct / 100) * float64(width))
	if filled > width {
		filled = width
	}
	return fmt.Sprintf("[%s%s] %5.1f%%",
		strings.Repeat(gaugeFill, filled),
		strings.Repeat(gaugeEmpty, width-filled),
		pct)
}

func card(title, body string) string {
	titleStr := labelStyle.Render(title)
	content := titleStr + "\n" + body
	return cardStyle.Render(content)
}

func renderTable(rows []model.ProcessSample, limit int) string {
	n := min(limit, len(rows))
	var b strings.Builder
	fmt.Fprintf(&b, "%-18s %-7s %10s %9s\n", "cmd", "pid", "cpu s", "rss MiB")
	for i := 0; i < n; i++ {
		r := rows[i]
		fmt.Fprintf(&b, "%-18s %-7d %10.1f %9.1f\n",
			truncate(r.Name, 18), r.PID, r.CPUTimeSeconds, float64(r.RSSBytes)/(1024*1024))
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func pct(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) * 100 / float64(total)
}

func bytesToGiB(b uint64) float64 { return float64(b) / (1024 * 1024 * 1024) }

// RunTUI runs the dashboard until the user quits or ctx is done.
func RunTUI(ctx context.Context, src Source, addr string) error {
	prog := tea.NewProgram(New(src, addr), tea.WithAltScreen())

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			prog.Quit()
		case <-done:
		}
	}()

	_, err := prog.Run()
	return err
}
