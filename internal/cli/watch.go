package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"mediafetch/internal/model"
	"mediafetch/internal/registry"
)

type jobEventMsg registry.Event

type batchDoneMsg struct{}

// watchModel renders the jobs of one get batch from registry events. It
// never drives the engine; quitting only hides the view.
type watchModel struct {
	ids      []string
	jobs     map[string]model.Job
	events   <-chan registry.Event
	finished <-chan struct{}

	spinner spinner.Model
	bar     progress.Model
	width   int

	done     bool
	quitting bool
}

func newWatchModel(reg *registry.Registry, ids []string, events <-chan registry.Event, finished <-chan struct{}) watchModel {
	jobs := make(map[string]model.Job, len(ids))
	for _, id := range ids {
		if j, ok := reg.Get(id); ok {
			jobs[id] = j
		}
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = activeStyle
	return watchModel{
		ids:      ids,
		jobs:     jobs,
		events:   events,
		finished: finished,
		spinner:  sp,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		width:    100,
	}
}

func waitForEvent(ch <-chan registry.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return jobEventMsg(ev)
	}
}

func waitForBatch(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return batchDoneMsg{}
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events), waitForBatch(m.finished))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = clampInt(msg.Width-60, 10, 40)
		return m, nil
	case jobEventMsg:
		if _, tracked := m.jobs[msg.Job.ID]; tracked && !msg.Removed {
			m.jobs[msg.Job.ID] = msg.Job
		}
		return m, waitForEvent(m.events)
	case batchDoneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	finished := 0
	for _, id := range m.ids {
		if m.jobs[id].Status.IsTerminal() {
			finished++
		}
	}
	b.WriteString(titleStyle.Render(fmt.Sprintf("mediafetch  %d/%d finished", finished, len(m.ids))))
	b.WriteString("\n\n")

	titleWidth := clampInt(m.width-m.bar.Width-30, 12, 48)
	for _, id := range m.ids {
		j, ok := m.jobs[id]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s %-*s %s %s\n",
			m.statusIcon(j.Status),
			titleWidth, truncateRunes(j.DisplayTitle(), titleWidth),
			m.bar.ViewAs(j.Progress/100),
			statusStyle(j.Status).Render(string(j.Status)),
		)
		if line := jobOutcome(j); line != "" {
			b.WriteString("   " + mutedStyle.Render(truncateRunes(line, clampInt(m.width-4, 20, 120))) + "\n")
		}
	}
	if !m.done {
		b.WriteString("\n" + mutedStyle.Render("q: hide view (downloads keep running)") + "\n")
	}
	return b.String()
}

func (m watchModel) statusIcon(s model.Status) string {
	switch s {
	case model.StatusDone:
		return okStyle.Render("✓")
	case model.StatusFailed:
		return errorStyle.Render("✗")
	case model.StatusQueued:
		return mutedStyle.Render("·")
	default:
		return m.spinner.View()
	}
}

// runWatch runs the batch behind a live view and returns its results. When
// the view is closed early the batch is still awaited.
func runWatch(reg *registry.Registry, ids []string, run func() []model.Job) ([]model.Job, error) {
	events, unsubscribe := reg.Subscribe(256)
	defer unsubscribe()

	var results []model.Job
	finished := make(chan struct{})
	go func() {
		results = run()
		close(finished)
	}()

	_, err := tea.NewProgram(newWatchModel(reg, ids, events, finished)).Run()
	<-finished
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "tty") {
		err = errors.New("--tui requires an interactive terminal (TTY)")
	}
	return results, err
}
