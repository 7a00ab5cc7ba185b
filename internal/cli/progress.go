package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/matgraph/internal/client"
	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/spf13/cobra"
)

const pollInterval = time.Second

var (
	colorAccent = lipgloss.Color("#5FAFD7")
	colorOK     = lipgloss.Color("#00D787")
	colorFail   = lipgloss.Color("#FF005F")
	colorMuted  = lipgloss.Color("#6C6C6C")

	statusStyle = lipgloss.NewStyle().Foreground(colorAccent)
	okStyle     = lipgloss.NewStyle().Foreground(colorOK).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(colorFail).Bold(true)
	hintStyle   = lipgloss.NewStyle().Foreground(colorMuted).Italic(true)
)

var watchCmd = &cobra.Command{
	Use:   "watch <process-id>",
	Short: "Follow a process until its current stage settles",
	Long: `Poll the status of a process and show which stage outputs exist.

Exits when the running stage completes, fails or is cancelled. Ctrl+C stops
watching; the stage keeps running on the server.

Examples:
  matgraph watch 6f1c... --user alice`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	user, err := requireUser()
	if err != nil {
		return err
	}
	return watchProcess(cmd.Context(), cmd.OutOrStdout(), getClient(), user, args[0])
}

// watchProcess shows the interactive display on a terminal and plain
// status lines otherwise.
func watchProcess(ctx context.Context, out io.Writer, c *client.Client, user, processID string) error {
	if isTerminal(out) {
		return runProgress(c, user, processID)
	}
	return pollStatus(ctx, out, c, user, processID, pollInterval)
}

// pollStatus prints a line whenever the status or the set of outputs changes.
func pollStatus(ctx context.Context, out io.Writer, c *client.Client, user, processID string, interval time.Duration) error {
	var last string
	for {
		st, err := c.Status(ctx, user, processID)
		if err != nil {
			return fmt.Errorf("get status: %w", err)
		}
		line := fmt.Sprintf("%s [%s] %s", st.ProcessID, st.Status, stageLine(st.Completed))
		if line != last {
			fmt.Fprintln(out, line)
			last = line
		}
		if settled(st) {
			return stageError(st)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// settled reports whether no stage is queued or running.
func settled(st *client.ProcessStatus) bool {
	return !st.Status.IsActive()
}

func stageError(st *client.ProcessStatus) error {
	if st.Status != models.StatusFailed {
		return nil
	}
	if st.Error != nil && *st.Error != "" {
		return fmt.Errorf("stage failed: %s", *st.Error)
	}
	return fmt.Errorf("stage failed with unknown error")
}

// stageLine renders the ingestion stages as done or pending markers.
func stageLine(done []models.StageKey) string {
	have := make(map[models.StageKey]bool, len(done))
	for _, k := range done {
		have[k] = true
	}
	if have[models.KeyMatch] {
		return "match ✓"
	}
	parts := make([]string, 0, len(models.StageKeys))
	for _, k := range models.StageKeys {
		mark := "·"
		if have[k] {
			mark = "✓"
		}
		parts = append(parts, string(k)+" "+mark)
	}
	return strings.Join(parts, "  ")
}

// stageFraction is the share of ingestion outputs already produced.
func stageFraction(done []models.StageKey) float64 {
	n := 0
	for _, k := range done {
		if k == models.KeyMatch {
			return 1
		}
		if k.Index() > 0 {
			n++
		}
	}
	return float64(n) / float64(len(models.StageKeys))
}

// tickMsg triggers polling the process status
type tickMsg time.Time

// statusMsg carries the updated process status
type statusMsg struct {
	status *client.ProcessStatus
	err    error
}

// progressModel is the bubbletea model for process progress.
type progressModel struct {
	client    *client.Client
	userID    string
	processID string
	status    *client.ProcessStatus
	progress  progress.Model
	done      bool
	quitting  bool
	err       error
}

func newProgressModel(c *client.Client, userID, processID string) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		client:    c,
		userID:    userID,
		processID: processID,
		progress:  prog,
	}
}

// Init fetches the status right away.
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.fetchStatus(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchStatus()

	case statusMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch process status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.status = msg.status
		if settled(m.status) {
			m.done = true
			m.err = stageError(m.status)
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.status == nil {
		return "Loading process status...\n"
	}

	status := statusStyle.Render(fmt.Sprintf("[%s]", m.status.Status))
	bar := m.progress.ViewAs(stageFraction(m.status.Completed))
	stages := stageLine(m.status.Completed)
	hint := hintStyle.Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s\n%s\n%s\n", status, bar, stages, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nProcess %s continues in background.\nUse 'matgraph watch %s' to follow it again.\n",
			m.processID, m.processID)
		return hintStyle.Render(msg)
	}

	if m.err != nil {
		return failStyle.Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}

	if m.status != nil && m.status.Status == models.StatusCancelled {
		return hintStyle.Render(fmt.Sprintf("Process %s cancelled\n", m.processID))
	}

	var out strings.Builder
	out.WriteString(okStyle.Render("✓ " + m.status.Status.String()))
	out.WriteString("\n\n  " + stageLine(m.status.Completed) + "\n")
	return out.String()
}

// fetchStatus runs in a command so Update never blocks.
func (m progressModel) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		st, err := m.client.Status(ctx, m.userID, m.processID)
		return statusMsg{status: st, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runProgress runs the interactive progress UI for a process.
// Returns nil on success or Ctrl+C (background), error on stage failure.
func runProgress(c *client.Client, userID, processID string) error {
	p := tea.NewProgram(newProgressModel(c, userID, processID))

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}
	return nil
}
