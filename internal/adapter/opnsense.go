package adapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"nbsync/internal/domain"
	"nbsync/internal/executor"
)

// ArpTable is a MAC to IP snapshot. Keys are normalized MACs.
type ArpTable map[string]string

// NewArpTable builds a table from entries, skipping rows without a valid MAC or IP
func NewArpTable(entries []domain.ArpEntry) ArpTable {
	t := make(ArpTable, len(entries))
	for _, e := range entries {
		mac, ok := domain.NormalizeMAC(e.MAC)
		if !ok || e.IP == "" {
			continue
		}
		t[mac] = strings.TrimSpace(e.IP)
	}
	return t
}

// Lookup resolves a MAC regardless of case or separator style
func (t ArpTable) Lookup(mac string) (string, bool) {
	if mac == "" || len(t) == 0 {
		return "", false
	}
	norm, _ := domain.NormalizeMAC(mac)
	ip, ok := t[norm]
	return ip, ok
}

// Resolve fills in the IP of every item whose MAC is in the table and
// returns how many were resolved
func (t ArpTable) Resolve(items []domain.InventoryItem) int {
	n := 0
	for i := range items {
		if ip, ok := t.Lookup(items[i].MAC); ok {
			items[i].IP = ip
			n++
		}
	}
	return n
}

// OPNsense reads the ARP table of an OPNsense firewall
type OPNsense struct {
	exec    *executor.Executor
	baseURL string
	key     string
	secret  string
	log     zerolog.Logger

	mu      sync.Mutex
	pending ArpTable
}

// NewOPNsense creates an ARP resolver using API key/secret basic auth
func NewOPNsense(baseURL, key, secret string, exec *executor.Executor, log zerolog.Logger) *OPNsense {
	return &OPNsense{
		exec:    exec,
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		secret:  secret,
		log:     log,
	}
}

// Name returns the adapter identifier
func (o *OPNsense) Name() string {
	return "opnsense"
}

// Ping fetches the ARP table and holds it for the next FetchARP, so a
// preflight followed by a pass costs one snapshot
func (o *OPNsense) Ping(ctx context.Context) error {
	table, err := o.fetch(ctx)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.pending = table
	o.mu.Unlock()
	return nil
}

type arpRow struct {
	IP      string `json:"ip"`
	IPAddr  string `json:"ipaddr"`
	MAC     string `json:"mac"`
	MACAddr string `json:"macaddr"`
}

// FetchARP returns the snapshot taken by Ping if one is held, otherwise it
// takes a new one. A held snapshot is handed out only once.
func (o *OPNsense) FetchARP(ctx context.Context) (ArpTable, error) {
	o.mu.Lock()
	table := o.pending
	o.pending = nil
	o.mu.Unlock()
	if table != nil {
		return table, nil
	}
	return o.fetch(ctx)
}

// fetch reads the firewall's ARP table. The endpoint answers either with a
// bare list or with {"rows": [...]}.
func (o *OPNsense) fetch(ctx context.Context) (ArpTable, error) {
	req, err := executor.NewJSONRequest(http.MethodGet, o.baseURL+"/api/diagnostics/interface/get_arp", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", basicAuth(o.key, o.secret))

	resp, err := o.exec.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(req); err != nil {
		return nil, err
	}

	rows, err := decodeArpRows(resp.Body)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.ArpEntry, 0, len(rows))
	for _, r := range rows {
		e := domain.ArpEntry{IP: r.IP, MAC: r.MAC}
		if e.IP == "" {
			e.IP = r.IPAddr
		}
		if e.MAC == "" {
			e.MAC = r.MACAddr
		}
		entries = append(entries, e)
	}

	table := NewArpTable(entries)
	o.log.Debug().Int("rows", len(rows)).Int("entries", len(table)).Msg("ARP table fetched")
	return table, nil
}

func decodeArpRows(body []byte) ([]arpRow, error) {
	var rows []arpRow
	if err := json.Unmarshal(body, &rows); err == nil {
		return rows, nil
	}

	var wrapped struct {
		Rows []arpRow `json:"rows"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decode ARP table: %w", err)
	}
	return wrapped.Rows, nil
}

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}
