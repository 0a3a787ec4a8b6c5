// Package config holds the configuration surfaces for the tunnel server
// and client, plus the optional YAML file and log-rotation settings that
// sit around the core protocol.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultControlPort is the well-known port clients dial to reach a server's
// control channel, per the wire protocol.
const DefaultControlPort = 7045

// DefaultHeartbeatInterval is how often a server emits a Heartbeat while a
// session is idle. Shared by the server (to pace its own loop) and the
// client (to size its dead-peer timeout off of it).
const DefaultHeartbeatInterval = 500 * time.Millisecond

// ServerConfig configures a tunnel server.
type ServerConfig struct {
	// MinPort is the smallest public port a client may request; 0 is
	// always allowed and means "let the server pick".
	MinPort uint16

	// ControlAddr is the address the control listener binds, e.g. ":7045".
	ControlAddr string

	// MaxBandwidthBytesPerSec caps aggregate data-channel throughput across
	// every session on this server, via a shared limiter. 0 means unlimited.
	MaxBandwidthBytesPerSec int64

	// StatusAddr, if non-empty, starts the read-only status API on this
	// address.
	StatusAddr string
}

// ClientConfig configures a tunnel client.
type ClientConfig struct {
	// LocalPort is the private service's port on localhost.
	LocalPort uint16

	// RemoteHost is the server's address (without the control port).
	RemoteHost string

	// RemotePort is the public port requested from the server; 0 lets the
	// server choose.
	RemotePort uint16

	// MaxBandwidthBytesPerSec caps this client's data-channel throughput.
	// 0 means unlimited.
	MaxBandwidthBytesPerSec int64

	// HeartbeatTimeout is how long the client waits without any server
	// message (a Heartbeat or otherwise) before presuming the server dead
	// and ending the session. 0 means "use 3x DefaultHeartbeatInterval".
	HeartbeatTimeout time.Duration
}

// GlobalLogConfig holds optional log-rotation settings. A zero-value
// Filename means "log to stderr".
type GlobalLogConfig struct {
	Filename   string `yaml:"filename,omitempty"`
	MaxSize    int    `yaml:"maxSize,omitempty"` // megabytes
	MaxBackups int    `yaml:"maxBackups,omitempty"`
	MaxAge     int    `yaml:"maxAge,omitempty"` // days
	Compress   bool   `yaml:"compress,omitempty"`
}

// SetDefaults fills in zero-valued fields with the package's defaults.
func (c *GlobalLogConfig) SetDefaults() {
	if c.MaxSize == 0 {
		c.MaxSize = 20
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 5
	}
	if c.MaxAge == 0 {
		c.MaxAge = 28
	}
}

// DurationString supports YAML values like "10s" or "5m", or a bare integer
// number of seconds.
type DurationString time.Duration

func (d *DurationString) UnmarshalYAML(value *yaml.Node) error {
	s := value.Value
	if value.Tag == "!!int" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*d = DurationString(time.Duration(v) * time.Second)
		return nil
	}
	if !(strings.HasSuffix(s, "s") || strings.HasSuffix(s, "m")) {
		return fmt.Errorf("invalid duration: %s (must end with 's' or 'm')", s)
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = DurationString(dur)
	return nil
}

func (d DurationString) Duration() time.Duration {
	return time.Duration(d)
}

// SizeString supports YAML values like "10K", "10M", "1G" (uppercase only),
// or a bare integer number of bytes.
type SizeString int64

func (s *SizeString) UnmarshalYAML(value *yaml.Node) error {
	raw := value.Value
	if value.Tag == "!!int" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		*s = SizeString(v)
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("empty size string")
	}
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(raw, "K"):
		multiplier = 1 << 10
		raw = strings.TrimSuffix(raw, "K")
	case strings.HasSuffix(raw, "M"):
		multiplier = 1 << 20
		raw = strings.TrimSuffix(raw, "M")
	case strings.HasSuffix(raw, "G"):
		multiplier = 1 << 30
		raw = strings.TrimSuffix(raw, "G")
	default:
		if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
			return fmt.Errorf("invalid size string: %s (must end with 'K','M','G')", value.Value)
		}
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return err
	}
	*s = SizeString(v * multiplier)
	return nil
}

// File is the optional on-disk configuration document. Any section may be
// omitted. ApplyToServer/ApplyToClient overlay the fields that are present
// onto a config, replacing whatever value it already held; the CLI applies
// the file after parsing its flags, so a field set in the file takes
// precedence over the same flag even when that flag is given explicitly.
// The zero value of each field means "unset" and leaves the config alone.
type File struct {
	Server *ServerFile      `yaml:"server,omitempty"`
	Client *ClientFile      `yaml:"client,omitempty"`
	Log    *GlobalLogConfig `yaml:"log,omitempty"`
}

type ServerFile struct {
	MinPort      uint16     `yaml:"minPort,omitempty"`
	ControlAddr  string     `yaml:"controlAddr,omitempty"`
	MaxBandwidth SizeString `yaml:"maxBandwidth,omitempty"`
	StatusAddr   string     `yaml:"statusAddr,omitempty"`
}

type ClientFile struct {
	LocalPort        uint16         `yaml:"localPort,omitempty"`
	RemoteHost       string         `yaml:"remoteHost,omitempty"`
	RemotePort       uint16         `yaml:"remotePort,omitempty"`
	MaxBandwidth     SizeString     `yaml:"maxBandwidth,omitempty"`
	HeartbeatTimeout DurationString `yaml:"heartbeatTimeout,omitempty"`
}

// LoadFile reads and parses an optional YAML configuration file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if f.Log != nil {
		f.Log.SetDefaults()
	}
	return &f, nil
}

// ApplyToServer overlays any fields present in the file onto cfg, leaving
// fields cfg already set untouched only where the file is silent.
func (f *File) ApplyToServer(cfg *ServerConfig) {
	if f == nil || f.Server == nil {
		return
	}
	sf := f.Server
	if sf.MinPort != 0 {
		cfg.MinPort = sf.MinPort
	}
	if sf.ControlAddr != "" {
		cfg.ControlAddr = sf.ControlAddr
	}
	if sf.MaxBandwidth != 0 {
		cfg.MaxBandwidthBytesPerSec = int64(sf.MaxBandwidth)
	}
	if sf.StatusAddr != "" {
		cfg.StatusAddr = sf.StatusAddr
	}
}

// ApplyToClient overlays any fields present in the file onto cfg.
func (f *File) ApplyToClient(cfg *ClientConfig) {
	if f == nil || f.Client == nil {
		return
	}
	cf := f.Client
	if cf.LocalPort != 0 {
		cfg.LocalPort = cf.LocalPort
	}
	if cf.RemoteHost != "" {
		cfg.RemoteHost = cf.RemoteHost
	}
	if cf.RemotePort != 0 {
		cfg.RemotePort = cf.RemotePort
	}
	if cf.MaxBandwidth != 0 {
		cfg.MaxBandwidthBytesPerSec = int64(cf.MaxBandwidth)
	}
	if cf.HeartbeatTimeout != 0 {
		cfg.HeartbeatTimeout = cf.HeartbeatTimeout.Duration()
	}
}
