// Package codec renders pass results in machine-readable formats for
// scripting around nbsync (`--output json|yaml`).
package codec

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"nbsync/internal/domain"
)

// Exporter writes a document in one format
type Exporter interface {
	Export(doc *Document, w io.Writer) error
	Format() string
}

// ForFormat returns the exporter for a format name
func ForFormat(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "json":
		return NewJSONCodec(), nil
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

// Document is the exported shape of a pass or a scan
type Document struct {
	Batches []Batch  `json:"batches,omitempty" yaml:"batches,omitempty"`
	Hosts   []Host   `json:"hosts,omitempty" yaml:"hosts,omitempty"`
	RunIDs  []string `json:"run_ids,omitempty" yaml:"run_ids,omitempty"`
}

// Batch is one exported batch summary
type Batch struct {
	Name       string         `json:"name" yaml:"name"`
	DryRun     bool           `json:"dry_run" yaml:"dry_run"`
	StartedAt  time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time      `json:"finished_at" yaml:"finished_at"`
	Attempted  int            `json:"attempted" yaml:"attempted"`
	Reconciled int            `json:"reconciled" yaml:"reconciled"`
	Failed     int            `json:"failed" yaml:"failed"`
	Counts     map[string]int `json:"counts" yaml:"counts"`
	Outcomes   []Outcome      `json:"outcomes" yaml:"outcomes"`
}

// Outcome is one exported entity outcome
type Outcome struct {
	Entity string   `json:"entity" yaml:"entity"`
	Kind   string   `json:"kind" yaml:"kind"`
	ID     int64    `json:"id,omitempty" yaml:"id,omitempty"`
	Action string   `json:"action" yaml:"action"`
	Stage  string   `json:"stage,omitempty" yaml:"stage,omitempty"`
	Class  string   `json:"class,omitempty" yaml:"class,omitempty"`
	Error  string   `json:"error,omitempty" yaml:"error,omitempty"`
	Notes  []string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Host is one exported discovered host
type Host struct {
	IP        string         `json:"ip" yaml:"ip"`
	Hostname  string         `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	OpenPorts []int          `json:"open_ports" yaml:"open_ports"`
	Services  map[int]string `json:"services,omitempty" yaml:"services,omitempty"`
}

// NewDocument converts batch summaries for export
func NewDocument(batches []*domain.BatchSummary, runIDs []string) *Document {
	doc := &Document{RunIDs: runIDs}
	for _, b := range batches {
		if b == nil {
			continue
		}
		doc.Batches = append(doc.Batches, convertBatch(b))
	}
	return doc
}

// NewHostDocument converts discovered hosts for export
func NewHostDocument(hosts []domain.DiscoveredHost) *Document {
	doc := &Document{Hosts: make([]Host, 0, len(hosts))}
	for _, h := range hosts {
		ports := append([]int{}, h.OpenPorts...)
		sort.Ints(ports)
		doc.Hosts = append(doc.Hosts, Host{
			IP:        h.IP,
			Hostname:  h.Hostname,
			OpenPorts: ports,
			Services:  h.Services,
		})
	}
	return doc
}

func convertBatch(b *domain.BatchSummary) Batch {
	counts := make(map[string]int)
	for action, n := range b.Counts() {
		counts[string(action)] = n
	}
	out := Batch{
		Name:       b.Name,
		DryRun:     b.DryRun,
		StartedAt:  b.StartedAt.UTC(),
		FinishedAt: b.FinishedAt.UTC(),
		Attempted:  b.Attempted(),
		Reconciled: b.Reconciled(),
		Failed:     b.Failed(),
		Counts:     counts,
		Outcomes:   make([]Outcome, 0, len(b.Outcomes)),
	}
	for _, o := range b.Outcomes {
		out.Outcomes = append(out.Outcomes, Outcome{
			Entity: o.Entity,
			Kind:   string(o.Kind),
			ID:     o.ID,
			Action: string(o.Action),
			Stage:  string(o.Stage),
			Class:  string(o.Class),
			Error:  o.ErrString(),
			Notes:  o.Notes,
		})
	}
	return out
}
