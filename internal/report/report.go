// Package report renders run summaries and journal listings as tables.
package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"nbsync/internal/domain"
	"nbsync/internal/repository"
)

// maxErrWidth caps error text in table cells
const maxErrWidth = 80

// createTable creates a new table with standard styling
func createTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func header(cols ...string) table.Row {
	row := make(table.Row, len(cols))
	for i, c := range cols {
		row[i] = text.FgHiCyan.Sprint(c)
	}
	return row
}

func actionCell(a domain.Action) string {
	switch a {
	case domain.ActionFailed:
		return text.FgRed.Sprint(string(a))
	case domain.ActionCreated:
		return text.FgGreen.Sprint(string(a))
	case domain.ActionUpdated:
		return text.FgYellow.Sprint(string(a))
	case domain.ActionPlanned:
		return text.FgHiBlue.Sprint(string(a))
	case domain.ActionSkipped:
		return text.FgHiBlack.Sprint(string(a))
	default:
		return string(a)
	}
}

// WriteSummary renders every outcome of a pass followed by the totals
func WriteSummary(w io.Writer, s *domain.BatchSummary) {
	if s == nil || len(s.Outcomes) == 0 {
		fmt.Fprintln(w, text.FgYellow.Sprint("No entities processed"))
		return
	}

	t := createTable(w)
	title := s.Name
	if s.DryRun {
		title += " (dry run)"
	}
	t.SetTitle(title)
	t.AppendHeader(header("ENTITY", "KIND", "ACTION", "STAGE", "ERROR"))

	for _, o := range s.Outcomes {
		errText := o.ErrString()
		if errText == "" && len(o.Notes) > 0 {
			errText = strings.Join(o.Notes, "; ")
		}
		t.AppendRow(table.Row{
			o.Entity,
			string(o.Kind),
			actionCell(o.Action),
			string(o.Stage),
			domain.Truncate(errText, maxErrWidth),
		})
	}

	counts := s.Counts()
	t.AppendFooter(table.Row{
		"TOTAL",
		strconv.Itoa(s.Attempted()),
		formatCounts(counts),
		"",
		fmt.Sprintf("%d failed", s.Failed()),
	})
	t.Render()
}

// formatCounts renders per-action counts in a stable order
func formatCounts(counts map[domain.Action]int) string {
	actions := make([]string, 0, len(counts))
	for a := range counts {
		actions = append(actions, string(a))
	}
	sort.Strings(actions)

	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		parts = append(parts, fmt.Sprintf("%s=%d", a, counts[domain.Action(a)]))
	}
	return strings.Join(parts, " ")
}

// WriteRuns renders journal runs, newest first as given
func WriteRuns(w io.Writer, runs []repository.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, text.FgYellow.Sprint("No runs recorded"))
		return
	}

	t := createTable(w)
	t.AppendHeader(header("ID", "KIND", "STARTED", "DURATION", "DRY RUN", "ATTEMPTED", "RECONCILED", "FAILED"))
	for _, r := range runs {
		failed := strconv.Itoa(r.Failed)
		if r.Failed > 0 {
			failed = text.FgRed.Sprint(failed)
		}
		t.AppendRow(table.Row{
			r.ID,
			r.Kind,
			r.StartedAt.Local().Format(time.DateTime),
			r.Duration().Round(time.Millisecond).String(),
			strconv.FormatBool(r.DryRun),
			r.Attempted,
			r.Reconciled,
			failed,
		})
	}
	t.Render()
}

// WriteOutcomes renders the stored outcomes of one run
func WriteOutcomes(w io.Writer, outcomes []repository.OutcomeRecord) {
	if len(outcomes) == 0 {
		fmt.Fprintln(w, text.FgYellow.Sprint("No outcomes recorded"))
		return
	}

	t := createTable(w)
	t.AppendHeader(header("ENTITY", "KIND", "ACTION", "STAGE", "CLASS", "ERROR"))
	for _, o := range outcomes {
		errText := o.Error
		if errText == "" {
			errText = o.Notes
		}
		t.AppendRow(table.Row{
			o.Entity,
			o.Kind,
			actionCell(domain.Action(o.Action)),
			o.Stage,
			o.Class,
			domain.Truncate(errText, maxErrWidth),
		})
	}
	t.Render()
}

// WriteHosts renders discovered hosts and their open ports
func WriteHosts(w io.Writer, hosts []domain.DiscoveredHost) {
	if len(hosts) == 0 {
		fmt.Fprintln(w, text.FgYellow.Sprint("No live hosts found"))
		return
	}

	t := createTable(w)
	t.AppendHeader(header("IP", "HOSTNAME", "OPEN PORTS", "SERVICES"))
	for _, h := range hosts {
		ports := make([]string, len(h.OpenPorts))
		services := make([]string, len(h.OpenPorts))
		for i, p := range h.OpenPorts {
			ports[i] = strconv.Itoa(p)
			services[i] = h.Services[p]
		}
		t.AppendRow(table.Row{
			h.IP,
			h.Hostname,
			strings.Join(ports, ","),
			strings.Join(services, ", "),
		})
	}
	t.AppendFooter(table.Row{"TOTAL", len(hosts), "", ""})
	t.Render()
}
