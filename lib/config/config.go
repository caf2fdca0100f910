// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file for [Load].
const EnvironmentVariable = "MEDIATRANSPORT_CONFIG"

// Preference names read by the media transport through [Prefs].
const (
	PrefICETCP             = "media.peerconnection.ice.tcp"
	PrefNoHost             = "media.peerconnection.ice.no_host"
	PrefDefaultAddressOnly = "media.peerconnection.ice.default_address_only"
	PrefProxyOnly          = "media.peerconnection.ice.proxy_only"
	PrefAllowLoopback      = "media.peerconnection.ice.loopback"
	PrefAllowLinkLocal     = "media.peerconnection.ice.link_local"
	PrefDisableTURN        = "media.peerconnection.turn.disable"
	PrefDisableHTTPProxy   = "media.peerconnection.disable_http_proxy"
)

// Config is the media transport configuration file.
type Config struct {
	// ICE configures candidate gathering and the server list.
	ICE ICEConfig `yaml:"ice"`

	// Discovery configures local address discovery.
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Capture configures the packet-capture tap.
	Capture CaptureConfig `yaml:"capture"`

	// Session holds session-level defaults.
	Session SessionConfig `yaml:"session"`
}

// ICEConfig configures ICE behavior.
type ICEConfig struct {
	// Policy is "all" or "relay".
	Policy string `yaml:"policy"`

	// TCP enables ICE-TCP candidates.
	TCP bool `yaml:"tcp"`

	// NoHost suppresses host candidates under the "all" policy.
	NoHost bool `yaml:"no_host"`

	AllowLoopback  bool `yaml:"allow_loopback"`
	AllowLinkLocal bool `yaml:"allow_link_local"`

	// DefaultAddressOnly restricts host candidates to the address of
	// the default route.
	DefaultAddressOnly bool `yaml:"default_address_only"`

	// ProxyOnly gathers only through the HTTPS proxy. If no proxy is
	// found, gathering completes with no candidates.
	ProxyOnly bool `yaml:"proxy_only"`

	// DisableTURN drops every turn: and turns: server.
	DisableTURN bool `yaml:"disable_turn"`

	// DisableHTTPProxy skips proxy resolution entirely.
	DisableHTTPProxy bool `yaml:"disable_http_proxy"`

	// Servers is the inline server list.
	Servers []ServerConfig `yaml:"servers"`

	// ServersFile is an optional JSONC file with more servers.
	ServersFile string `yaml:"servers_file"`
}

// ServerConfig is one ICE server entry.
type ServerConfig struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

// DiscoveryConfig configures local address discovery.
type DiscoveryConfig struct {
	// Sandboxed marks this process as a sandboxed child that cannot
	// enumerate interfaces itself and must ask its parent over
	// SocketPath.
	Sandboxed bool `yaml:"sandboxed"`

	// SocketPath is the parent's address-discovery socket.
	SocketPath string `yaml:"socket_path"`

	// Timeout bounds each discovery request. Default: 5s.
	Timeout string `yaml:"timeout"`
}

// CaptureConfig configures the packet-capture tap.
type CaptureConfig struct {
	Enabled bool `yaml:"enabled"`

	// Directory receives one capture file per session.
	Directory string `yaml:"directory"`

	// Compression is "none", "zstd", or "lz4".
	Compression string `yaml:"compression"`

	// SnapLength truncates captured packets. Default: 65535.
	SnapLength int `yaml:"snap_length"`
}

// SessionConfig holds session-level defaults.
type SessionConfig struct {
	// PrivacyRequested restricts DTLS ALPN to the confidential token.
	PrivacyRequested bool `yaml:"privacy_requested"`
}

// Default returns a Config with every optional behavior off.
func Default() *Config {
	return &Config{
		ICE: ICEConfig{
			Policy: "all",
		},
		Discovery: DiscoveryConfig{
			SocketPath: "/run/mediatransport/addresses.sock",
			Timeout:    "5s",
		},
		Capture: CaptureConfig{
			Directory:   "${XDG_RUNTIME_DIR:-/tmp}/mediatransport/capture",
			Compression: "none",
			SnapLength:  65535,
		},
	}
}

// Load reads the file named by MEDIATRANSPORT_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile reads the config at path over the defaults and expands
// variables in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.ICE.ServersFile = expandVars(cfg.ICE.ServersFile)
	cfg.Discovery.SocketPath = expandVars(cfg.Discovery.SocketPath)
	cfg.Capture.Directory = expandVars(cfg.Capture.Directory)
	return cfg, nil
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	if c.ICE.Policy != "all" && c.ICE.Policy != "relay" {
		errs = append(errs, fmt.Errorf("ice.policy must be all or relay, got %q", c.ICE.Policy))
	}
	for i, server := range c.ICE.Servers {
		if len(server.URLs) == 0 {
			errs = append(errs, fmt.Errorf("ice.servers[%d] has no urls", i))
		}
	}
	if c.Discovery.Sandboxed && c.Discovery.SocketPath == "" {
		errs = append(errs, errors.New("discovery.socket_path is required when discovery.sandboxed is set"))
	}
	if _, err := c.DiscoveryTimeout(); err != nil {
		errs = append(errs, err)
	}
	if !slices.Contains([]string{"none", "zstd", "lz4"}, c.Capture.Compression) {
		errs = append(errs, fmt.Errorf("capture.compression must be one of none, zstd, lz4, got %q", c.Capture.Compression))
	}
	if c.Capture.Enabled && c.Capture.Directory == "" {
		errs = append(errs, errors.New("capture.directory is required when capture.enabled is set"))
	}
	if c.Capture.SnapLength <= 0 {
		errs = append(errs, fmt.Errorf("capture.snap_length must be positive, got %d", c.Capture.SnapLength))
	}

	return errors.Join(errs...)
}

// DiscoveryTimeout parses discovery.timeout.
func (c *Config) DiscoveryTimeout() (time.Duration, error) {
	timeout, err := time.ParseDuration(c.Discovery.Timeout)
	if err != nil {
		return 0, fmt.Errorf("discovery.timeout: %w", err)
	}
	if timeout <= 0 {
		return 0, fmt.Errorf("discovery.timeout must be positive, got %s", timeout)
	}
	return timeout, nil
}

// TransportPolicy returns ice.policy as a pion transport policy.
func (c *Config) TransportPolicy() webrtc.ICETransportPolicy {
	return webrtc.NewICETransportPolicy(c.ICE.Policy)
}

// Prefs returns the preference view consumed by the media transport.
func (c *Config) Prefs() Prefs {
	return Prefs{
		PrefICETCP:             c.ICE.TCP,
		PrefNoHost:             c.ICE.NoHost,
		PrefDefaultAddressOnly: c.ICE.DefaultAddressOnly,
		PrefProxyOnly:          c.ICE.ProxyOnly,
		PrefAllowLoopback:      c.ICE.AllowLoopback,
		PrefAllowLinkLocal:     c.ICE.AllowLinkLocal,
		PrefDisableTURN:        c.ICE.DisableTURN,
		PrefDisableHTTPProxy:   c.ICE.DisableHTTPProxy,
	}
}

// ICEServers returns the inline servers followed by those in
// ice.servers_file.
func (c *Config) ICEServers() ([]webrtc.ICEServer, error) {
	servers := make([]webrtc.ICEServer, 0, len(c.ICE.Servers))
	for _, server := range c.ICE.Servers {
		entry := webrtc.ICEServer{URLs: server.URLs, Username: server.Username}
		if server.Credential != "" {
			entry.Credential = server.Credential
		}
		servers = append(servers, entry)
	}
	if c.ICE.ServersFile == "" {
		return servers, nil
	}
	fromFile, err := LoadICEServers(c.ICE.ServersFile)
	if err != nil {
		return nil, err
	}
	return append(servers, fromFile...), nil
}

// LoadICEServers reads a JSONC array of ICE server objects, the same
// shape browsers accept in RTCConfiguration.iceServers.
func LoadICEServers(path string) ([]webrtc.ICEServer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ICE servers: %w", err)
	}
	var servers []webrtc.ICEServer
	if err := json.Unmarshal(jsonc.ToJSON(data), &servers); err != nil {
		return nil, fmt.Errorf("parsing ICE servers %s: %w", path, err)
	}
	return servers, nil
}

// Prefs is a boolean preference lookup.
type Prefs map[string]bool

// Bool returns the preference value, or def if it is not set.
func (p Prefs) Bool(key string, def bool) bool {
	if value, ok := p[key]; ok {
		return value
	}
	return def
}
