package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/ricesearch/tsrr/internal/evaluation"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	headStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle  = lipgloss.NewStyle().Padding(0, 1)
)

// renderReport formats a run report as a per-query table plus a summary line.
func renderReport(report *evaluation.RunReport) string {
	var sb strings.Builder

	header := fmt.Sprintf("TsRR (%s", report.Variant)
	if report.Variant == evaluation.VariantLogPenalty {
		header += fmt.Sprintf(", alpha=%g", report.Alpha)
	}
	header += ")"
	sb.WriteString(titleStyle.Render(header))
	sb.WriteString("  ")
	sb.WriteString(dimStyle.Render("run " + report.RunID))
	sb.WriteString("\n")

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headStyle
			}
			return cellStyle
		}).
		Headers("QUERY", "TsRR", "RR", "PRR", "ta-RR", "r_pre", "|G|", "k", "tau")

	for _, r := range report.Results {
		b := r.Breakdown
		if b.NoRelevant {
			t.Row(r.QueryID, f4(r.TsRR), f4(r.RR), f4(r.PRR), f4(r.TaRR), "-", "-", "0", "-")
			continue
		}
		t.Row(
			r.QueryID,
			f4(r.TsRR), f4(r.RR), f4(r.PRR), f4(r.TaRR),
			fmt.Sprint(b.RPre), fmt.Sprint(b.GroupSize), fmt.Sprint(b.RelevantInGroup),
			tauCell(b),
		)
	}
	sb.WriteString(t.String())
	sb.WriteString("\n")

	if s := report.Summary; s != nil {
		fmt.Fprintf(&sb, "%s  queries=%d  TsRR=%s  RR=%s  PRR=%s  ta-RR=%s",
			titleStyle.Render("mean"),
			s.QueryCount, f4(s.MeanTsRR), f4(s.MeanRR), f4(s.MeanPRR), f4(s.MeanTaRR))
		if s.NoRelevant > 0 {
			fmt.Fprintf(&sb, "  %s", dimStyle.Render(fmt.Sprintf("(%d without relevant documents)", s.NoRelevant)))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// tauCell shows the combinatorial blend weight; log-penalty shows its penalty.
func tauCell(b evaluation.Breakdown) string {
	if b.Variant == evaluation.VariantLogPenalty {
		return "p=" + f4(b.Penalty)
	}
	return f4(b.Tau)
}

func f4(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

// watchLine is one printed bus event.
type watchLine struct {
	Event     string                     `json:"event"`
	Completed *evaluation.CompletedEvent `json:"completed,omitempty"`
	Failed    *evaluation.FailedEvent    `json:"failed,omitempty"`
}

// lineWriter serializes JSON lines from concurrent bus handlers.
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{enc: json.NewEncoder(w)}
}

func (l *lineWriter) write(v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.enc.Encode(v)
}
