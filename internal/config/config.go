// Package config loads and validates the nbsync configuration file.
//
// Config file locations (priority order):
//  1. $NBSYNC_CONFIG
//  2. ./nbsync.yaml
//  3. $XDG_CONFIG_HOME/nbsync/config.yaml
//  4. ~/.config/nbsync/config.yaml
//  5. /etc/nbsync/config.yaml
package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"nbsync/internal/adapter"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultRetryCount     = 3
	defaultRetryDelay     = 1 * time.Second
	defaultPorts          = "22,80,443"
	minTokenLength        = 20
)

// Load finds and loads the config file
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		return nil, "", fmt.Errorf("no config file found (set %s or create %s)", EnvConfigPath, ConfigFileName)
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Parse decodes YAML and fills in defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// Example returns a config with placeholder credentials for `nbsync init`
func Example() *Config {
	cfg := &Config{
		Proxmox: ProxmoxConfig{
			Host:        "pve.example.com:8006",
			User:        "root@pam",
			TokenName:   "nbsync",
			TokenSecret: "00000000-0000-0000-0000-000000000000",
		},
		NetBox: NetBoxConfig{
			URL:         "https://netbox.example.com",
			Token:       "0123456789abcdef0123456789abcdef01234567",
			ClusterName: "pve-cluster",
		},
		OPNsense: OPNsenseConfig{
			URL: "https://opnsense.example.com",
		},
		PortScanning: PortScanConfig{Enabled: true},
		NetworkScanning: NetworkScanConfig{
			Networks: []string{"192.168.1.0/24"},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	c.NetBox.URL = strings.TrimRight(c.NetBox.URL, "/")
	c.OPNsense.URL = strings.TrimRight(c.OPNsense.URL, "/")

	if c.NetBox.AuthScheme == "" {
		c.NetBox.AuthScheme = "Token"
	}
	if c.NetBox.ClusterType == "" {
		c.NetBox.ClusterType = "proxmox"
	}

	if c.General.RequestTimeout == 0 {
		c.General.RequestTimeout = Duration(defaultRequestTimeout)
	}
	if c.General.RetryCount == 0 {
		c.General.RetryCount = defaultRetryCount
	}
	if c.General.RetryDelay == 0 {
		c.General.RetryDelay = Duration(defaultRetryDelay)
	}

	if c.PortScanning.Ports == "" {
		c.PortScanning.Ports = defaultPorts
	}
	if c.PortScanning.Timeout == 0 {
		c.PortScanning.Timeout = Duration(5 * time.Second)
	}
	if c.PortScanning.MaxConcurrency == 0 {
		c.PortScanning.MaxConcurrency = 20
	}

	ns := &c.NetworkScanning
	if ns.Ports == "" {
		ns.Ports = defaultPorts
	}
	if len(ns.LivenessPorts) == 0 {
		ns.LivenessPorts = []int{22, 80, 443}
	}
	if ns.Timeout == 0 {
		ns.Timeout = Duration(2 * time.Second)
	}
	if ns.MaxConcurrency == 0 {
		ns.MaxConcurrency = 50
	}
	if ns.MaxHosts == 0 {
		ns.MaxHosts = 1024
	}
	if ns.SiteName == "" {
		ns.SiteName = "Discovered"
	}
	if ns.Manufacturer == "" {
		ns.Manufacturer = "Generic"
	}
	if ns.DeviceType == "" {
		ns.DeviceType = "Discovered-Host"
	}
	if ns.DeviceRole == "" {
		ns.DeviceRole = "Discovered"
	}

	if c.Journal.Path == "" {
		c.Journal.Path = "./nbsync.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validation holds the problems found by Validate. Errors block the run,
// warnings only disable optional features.
type Validation struct {
	Errors   []string
	Warnings []string
}

// OK reports whether no blocking errors were found
func (v Validation) OK() bool {
	return len(v.Errors) == 0
}

// Err joins the blocking errors into one error, nil when OK
func (v Validation) Err() error {
	if v.OK() {
		return nil
	}
	return fmt.Errorf("invalid config: %s", strings.Join(v.Errors, "; "))
}

// Validate checks the config once at startup
func (c *Config) Validate() Validation {
	var v Validation

	if !strings.HasPrefix(c.NetBox.URL, "http://") && !strings.HasPrefix(c.NetBox.URL, "https://") {
		v.Errors = append(v.Errors, "netbox.url must start with http:// or https://")
	}
	if len(c.NetBox.Token) < minTokenLength {
		v.Errors = append(v.Errors, "netbox.token looks too short")
	}
	if c.NetBox.ClusterName == "" {
		v.Errors = append(v.Errors, "netbox.cluster_name is empty")
	}
	if c.NetBox.AuthScheme != "Token" && c.NetBox.AuthScheme != "Bearer" {
		v.Errors = append(v.Errors, fmt.Sprintf("netbox.auth_scheme %q must be Token or Bearer", c.NetBox.AuthScheme))
	}
	if c.Proxmox.Host == "" {
		v.Errors = append(v.Errors, "proxmox.host is empty")
	}
	if c.Proxmox.User == "" || c.Proxmox.TokenName == "" || c.Proxmox.TokenSecret == "" {
		v.Errors = append(v.Errors, "proxmox.user, proxmox.token_name and proxmox.token_secret are required")
	}
	if c.OPNsense.URL != "" && !c.OPNsense.Enabled() {
		v.Warnings = append(v.Warnings, "opnsense.url set but key/secret missing; ARP lookup disabled")
	}
	if c.General.RetryCount < 1 {
		v.Errors = append(v.Errors, "general.retry_count must be at least 1")
	}
	if c.NetworkScanning.Enabled && len(c.NetworkScanning.Networks) == 0 {
		v.Warnings = append(v.Warnings, "network_scanning enabled but no networks configured")
	}
	if c.PortScanning.Enabled {
		if _, err := adapter.ParsePorts(c.PortScanning.Ports); err != nil {
			v.Errors = append(v.Errors, "port_scanning.ports: "+err.Error())
		}
	}
	if c.NetworkScanning.Enabled {
		v.Errors = append(v.Errors, c.ValidateScan().Errors...)
		for _, network := range c.NetworkScanning.Networks {
			if !validNetwork(network) {
				v.Errors = append(v.Errors, fmt.Sprintf("network_scanning.networks: %q is not a CIDR block or address", network))
			}
		}
	} else {
		v.Errors = append(v.Errors, c.livenessErrors()...)
	}

	return v
}

// ValidateScan checks only the network_scanning settings an ad-hoc sweep
// uses. It needs no NetBox or Proxmox credentials.
func (c *Config) ValidateScan() Validation {
	var v Validation
	ns := c.NetworkScanning
	if _, err := adapter.ParsePorts(ns.Ports); err != nil {
		v.Errors = append(v.Errors, "network_scanning.ports: "+err.Error())
	}
	v.Errors = append(v.Errors, c.livenessErrors()...)
	if ns.MaxConcurrency < 1 {
		v.Errors = append(v.Errors, "network_scanning.max_concurrency must be at least 1")
	}
	if ns.MaxHosts < 1 {
		v.Errors = append(v.Errors, "network_scanning.max_hosts must be at least 1")
	}
	if ns.Timeout.Duration() <= 0 {
		v.Errors = append(v.Errors, "network_scanning.timeout must be positive")
	}
	return v
}

func (c *Config) livenessErrors() []string {
	var errs []string
	for _, p := range c.NetworkScanning.LivenessPorts {
		if p < 1 || p > 65535 {
			errs = append(errs, fmt.Sprintf("network_scanning.liveness_ports: %d out of range", p))
		}
	}
	return errs
}

func validNetwork(s string) bool {
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}
