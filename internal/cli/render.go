package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"mediafetch/internal/config"
	"mediafetch/internal/doctor"
	"mediafetch/internal/logs"
	"mediafetch/internal/model"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func statusStyle(s model.Status) lipgloss.Style {
	switch s {
	case model.StatusDone:
		return okStyle
	case model.StatusFailed:
		return errorStyle
	case model.StatusDownloading:
		return activeStyle
	case model.StatusPostProcessing:
		return warnStyle
	default:
		return mutedStyle
	}
}

func levelStyle(l logs.Level) lipgloss.Style {
	switch l {
	case logs.LevelError:
		return errorStyle
	case logs.LevelWarn:
		return warnStyle
	case logs.LevelDebug:
		return mutedStyle
	default:
		return lipgloss.NewStyle()
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func jobOutcome(j model.Job) string {
	switch {
	case j.Status == model.StatusDone && j.OutputPath != "":
		return filepath.Base(j.OutputPath)
	case j.Status == model.StatusDownloading && j.Progress > 0:
		parts := []string{fmt.Sprintf("%.1f%%", j.Progress)}
		if j.Speed != "" {
			parts = append(parts, j.Speed)
		}
		if j.ETA != "" {
			parts = append(parts, "ETA "+j.ETA)
		}
		return strings.Join(parts, " ")
	default:
		return j.StatusDetail
	}
}

func renderJobTable(jobs []model.Job) string {
	if len(jobs) == 0 {
		return mutedStyle.Render("no jobs")
	}
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		fallback := ""
		if j.FallbackUsed {
			fallback = j.FallbackFormat
		}
		rows = append(rows, []string{
			shortID(j.ID),
			string(j.Status),
			truncateRunes(j.DisplayTitle(), 48),
			fallback,
			truncateRunes(jobOutcome(j), 60),
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "STATUS", "TITLE", "FALLBACK", "RESULT").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 1 && row >= 0 && row < len(jobs) {
				return statusStyle(jobs[row].Status).Padding(0, 1)
			}
			return cellStyle
		})
	return t.String()
}

func renderPresetTable(presets []config.Preset) string {
	rows := make([][]string, 0, len(presets))
	for _, p := range presets {
		source := "user"
		if p.BuiltIn {
			source = "built-in"
		}
		rows = append(rows, []string{p.ID, p.Name, source, strings.Join(p.Args, " ")})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "NAME", "SOURCE", "ARGS").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		String()
}

func renderDoctor(res doctor.Result) string {
	var b strings.Builder
	for _, c := range res.Checks {
		mark := okStyle.Render("ok  ")
		switch {
		case !c.OK && c.Optional:
			mark = warnStyle.Render("warn")
		case !c.OK:
			mark = errorStyle.Render("fail")
		}
		fmt.Fprintf(&b, "%s %-22s %s\n", mark, c.Name, mutedStyle.Render(c.Message))
	}
	if res.OK {
		b.WriteString(okStyle.Render("environment ready"))
	} else {
		b.WriteString(errorStyle.Render("environment has problems"))
	}
	return b.String()
}

func renderLogEntry(e logs.Entry) string {
	level := levelStyle(e.Level).Render(fmt.Sprintf("%-5s", strings.ToUpper(string(e.Level))))
	return fmt.Sprintf("%s %s %s", mutedStyle.Render(e.Timestamp.Local().Format("15:04:05")), level, e.Message)
}
