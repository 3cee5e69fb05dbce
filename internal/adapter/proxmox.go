package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"nbsync/internal/domain"
	"nbsync/internal/executor"
)

// diskKeys are the VM disk slots checked, in order, for the system disk size
var diskKeys = []string{"virtio0", "scsi0", "sata0", "ide0", "virtio1", "scsi1"}

// Proxmox collects VMs and containers from a Proxmox VE cluster
type Proxmox struct {
	exec    *executor.Executor
	baseURL string
	auth    string
	log     zerolog.Logger
}

// NewProxmox creates a collector authenticating with an API token
func NewProxmox(host, user, tokenName, tokenSecret string, exec *executor.Executor, log zerolog.Logger) *Proxmox {
	return &Proxmox{
		exec:    exec,
		baseURL: ProxmoxBaseURL(host),
		auth:    fmt.Sprintf("PVEAPIToken=%s!%s=%s", user, tokenName, tokenSecret),
		log:     log,
	}
}

// ProxmoxBaseURL turns "pve", "pve:8006" or "https://pve:8006" into the API root
func ProxmoxBaseURL(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return host + "/api2/json"
	}
	if u.Port() == "" {
		u.Host += ":8006"
	}
	u.Path = strings.TrimSuffix(u.Path, "/api2/json") + "/api2/json"
	return u.String()
}

// Name returns the adapter identifier
func (p *Proxmox) Name() string {
	return "proxmox"
}

// Ping verifies the API is reachable and the token accepted
func (p *Proxmox) Ping(ctx context.Context) error {
	var version map[string]any
	if err := p.get(ctx, "/version", &version); err != nil {
		return &domain.FatalError{Component: "proxmox", Err: err}
	}
	return nil
}

type pveNode struct {
	Node   string `json:"node"`
	Status string `json:"status"`
}

type pveGuest struct {
	VMID   json.Number `json:"vmid"`
	Name   string      `json:"name"`
	Status string      `json:"status"`
}

// Collect walks node, guest and guest config. A node or guest that cannot
// be read is logged and skipped; only failing to list nodes is an error.
func (p *Proxmox) Collect(ctx context.Context) ([]domain.InventoryItem, error) {
	var nodes []pveNode
	if err := p.get(ctx, "/nodes", &nodes); err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}

	p.log.Info().Int("nodes", len(nodes)).Msg("Collecting inventory")

	var items []domain.InventoryItem
	for _, node := range nodes {
		for _, guestType := range []domain.GuestType{domain.GuestVM, domain.GuestContainer} {
			found, err := p.collectGuests(ctx, node.Node, guestType)
			if err != nil {
				p.log.Warn().Err(err).Str("node", node.Node).Str("type", string(guestType)).Msg("Skipping guests")
				continue
			}
			items = append(items, found...)
		}
	}

	p.log.Info().Int("guests", len(items)).Msg("Inventory collected")
	return items, nil
}

func (p *Proxmox) collectGuests(ctx context.Context, node string, guestType domain.GuestType) ([]domain.InventoryItem, error) {
	var guests []pveGuest
	if err := p.get(ctx, fmt.Sprintf("/nodes/%s/%s", url.PathEscape(node), guestType), &guests); err != nil {
		return nil, err
	}

	items := make([]domain.InventoryItem, 0, len(guests))
	for _, g := range guests {
		vmid, err := strconv.Atoi(g.VMID.String())
		if err != nil {
			p.log.Warn().Str("node", node).Str("vmid", g.VMID.String()).Msg("Skipping guest with invalid vmid")
			continue
		}

		var cfg map[string]any
		path := fmt.Sprintf("/nodes/%s/%s/%d/config", url.PathEscape(node), guestType, vmid)
		if err := p.get(ctx, path, &cfg); err != nil {
			p.log.Warn().Err(err).Str("node", node).Int("vmid", vmid).Msg("Skipping guest")
			continue
		}

		item := GuestFromConfig(node, guestType, vmid, g.Name, g.Status, cfg)
		p.log.Info().
			Str("node", node).
			Str("name", item.Name).
			Str("type", item.Type.Label()).
			Int("vcpus", item.VCPUs).
			Int("memory_mb", item.MemoryMB).
			Int("disk_gb", item.DiskGB).
			Str("mac", item.MAC).
			Str("status", item.Status()).
			Msg("Guest found")
		items = append(items, item)
	}
	return items, nil
}

// GuestFromConfig builds an inventory item from a guest's list entry and config
func GuestFromConfig(node string, guestType domain.GuestType, vmid int, name, status string, cfg map[string]any) domain.InventoryItem {
	item := domain.InventoryItem{
		VMID:     vmid,
		Name:     name,
		Node:     node,
		Type:     guestType,
		Running:  status == "running",
		VCPUs:    intOr(cfg["cores"], 1),
		MemoryMB: intOr(cfg["memory"], 512),
	}

	if guestType == domain.GuestContainer {
		item.Name = domain.StringOf(cfg["hostname"])
		if item.Name == "" {
			item.Name = fmt.Sprintf("ct-%d", vmid)
		}
		item.DiskGB = ParseDiskSizeGB(domain.StringOf(cfg["rootfs"]))
	} else {
		if item.Name == "" {
			item.Name = domain.StringOf(cfg["name"])
		}
		if item.Name == "" {
			item.Name = fmt.Sprintf("vm-%d", vmid)
		}
		for _, key := range diskKeys {
			if size := ParseDiskSizeGB(domain.StringOf(cfg[key])); size > 0 {
				item.DiskGB = size
				break
			}
		}
	}

	item.MAC = ParseAdapterMAC(domain.StringOf(cfg["net0"]))
	return item
}

// ParseDiskSizeGB reads the size= option of a disk descriptor such as
// "local-lvm:vm-100-disk-0,size=32G" and returns whole GB. M rounds down,
// T is multiplied out. Zero means unknown.
func ParseDiskSizeGB(desc string) int {
	for _, opt := range strings.Split(desc, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(opt), "=")
		if !ok || key != "size" || len(val) < 2 {
			continue
		}
		n, err := strconv.Atoi(val[:len(val)-1])
		if err != nil {
			return 0
		}
		switch val[len(val)-1] {
		case 'G':
			return n
		case 'M':
			return n / 1024
		case 'T':
			return n * 1024
		default:
			return 0
		}
	}
	return 0
}

// ParseAdapterMAC returns the MAC address of an adapter descriptor such as
// "virtio=BC:24:11:2A:3B:4C,bridge=vmbr0" or "name=eth0,hwaddr=BC:24:...".
func ParseAdapterMAC(desc string) string {
	for _, opt := range strings.Split(desc, ",") {
		_, val, ok := strings.Cut(opt, "=")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		if len(val) == 17 && strings.Count(val, ":") == 5 {
			if mac, valid := domain.NormalizeMAC(val); valid {
				return mac
			}
		}
	}
	return ""
}

func intOr(v any, def int) int {
	if n := domain.IDOf(v); n > 0 {
		return int(n)
	}
	return def
}

func (p *Proxmox) get(ctx context.Context, path string, data any) error {
	req, err := executor.NewJSONRequest(http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", p.auth)

	resp, err := p.exec.Do(ctx, req)
	if err != nil {
		return err
	}
	if err := resp.Err(req); err != nil {
		return err
	}

	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := resp.Decode(&envelope); err != nil {
		return err
	}
	if err := json.Unmarshal(envelope.Data, data); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
