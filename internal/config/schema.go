package config

import (
	"time"

	"nbsync/internal/logger"
)

// Config is the complete nbsync configuration file
type Config struct {
	Proxmox         ProxmoxConfig     `yaml:"proxmox"`
	NetBox          NetBoxConfig      `yaml:"netbox"`
	OPNsense        OPNsenseConfig    `yaml:"opnsense"`
	General         GeneralConfig     `yaml:"general"`
	PortScanning    PortScanConfig    `yaml:"port_scanning"`
	NetworkScanning NetworkScanConfig `yaml:"network_scanning"`
	Journal         JournalConfig     `yaml:"journal"`
	Logging         logger.Config     `yaml:"logging"`
}

// ProxmoxConfig holds hypervisor API settings
type ProxmoxConfig struct {
	// Host is "pve.example.com", "pve.example.com:8006" or a full https URL
	Host        string `yaml:"host"`
	User        string `yaml:"user"`
	TokenName   string `yaml:"token_name"`
	TokenSecret string `yaml:"token_secret"`
	VerifyTLS   bool   `yaml:"verify_tls"`
}

// NetBoxConfig holds catalog API settings
type NetBoxConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	// AuthScheme is the Authorization header prefix: "Token" or "Bearer"
	AuthScheme  string `yaml:"auth_scheme"`
	ClusterName string `yaml:"cluster_name"`
	ClusterType string `yaml:"cluster_type"`
	VerifyTLS   bool   `yaml:"verify_tls"`
}

// OPNsenseConfig holds firewall API settings. ARP lookups are off when URL is empty.
type OPNsenseConfig struct {
	URL       string `yaml:"url"`
	Key       string `yaml:"key"`
	Secret    string `yaml:"secret"`
	VerifyTLS bool   `yaml:"verify_tls"`
}

// Enabled reports whether ARP lookups can run
func (o OPNsenseConfig) Enabled() bool {
	return o.URL != "" && o.Key != "" && o.Secret != ""
}

// GeneralConfig holds request executor settings shared by all API clients
type GeneralConfig struct {
	RequestTimeout Duration `yaml:"request_timeout"`
	RetryCount     int      `yaml:"retry_count"`
	RetryDelay     Duration `yaml:"retry_delay"`
}

// PortScanConfig controls targeted scans of inventory guests
type PortScanConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Ports          string   `yaml:"ports"`
	Timeout        Duration `yaml:"timeout"`
	MaxConcurrency int      `yaml:"max_concurrency"`
}

// NetworkScanConfig controls CIDR discovery sweeps
type NetworkScanConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Networks         []string `yaml:"networks"`
	Ports            string   `yaml:"ports"`
	LivenessPorts    []int    `yaml:"liveness_ports"`
	Timeout          Duration `yaml:"timeout"`
	MaxConcurrency   int      `yaml:"max_concurrency"`
	MaxHosts         int      `yaml:"max_hosts"`
	SiteName         string   `yaml:"site_name"`
	Manufacturer     string   `yaml:"manufacturer"`
	DeviceType       string   `yaml:"device_type"`
	DeviceRole       string   `yaml:"device_role"`
	ServiceDetection bool     `yaml:"service_detection"`
}

// JournalConfig controls the local run history database
type JournalConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// Duration wraps time.Duration for YAML unmarshaling.
// Bare integers are read as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var secs int
	if err := unmarshal(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}

	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
