package weights

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	winnerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2CD7C7")).Padding(0, 1)
)

// Summary renders one row per miner with at least one counted Result.
func (r *Ranking) Summary() string {
	headers := []string{"uid", "hotkey", "model", "rev"}
	for _, env := range r.Envs {
		headers = append(headers, env)
	}
	headers = append(headers, "avg", "dom", "weight")

	winnerRow := -1
	rows := make([][]string, 0, len(r.Observed))
	for uid, hk := range r.Hotkeys {
		m, ok := r.Latest[hk]
		if !ok {
			continue
		}
		row := []string{strconv.Itoa(uid), short(hk, 8), m.Model, short(m.Revision, 5)}
		for _, env := range r.Envs {
			row = append(row, fmt.Sprintf("%.2f/%d/%d", r.Accuracy[hk][env], r.Ranks[hk][env], r.Counts[hk][env]))
		}
		weight := "0"
		if hk == r.Winner {
			weight = "1"
			winnerRow = len(rows)
		}
		row = append(row, fmt.Sprintf("%.3f", r.MeanAccuracy(hk)), strconv.Itoa(r.Dominance[hk]), weight)
		rows = append(rows, row)
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row == winnerRow:
				return winnerStyle
			default:
				return cellStyle
			}
		}).
		String()
}

func short(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
