// Package config loads the relay and peer YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"caravan.ai/internal/protocol"
	"caravan.ai/internal/retry"
)

// LogConfig selects the zap encoder, level and outputs.
type LogConfig struct {
	Level       string         `yaml:"level"`
	Format      string         `yaml:"format"` // console | json
	Outputs     []string       `yaml:"outputs"`
	Development bool           `yaml:"development"`
	Rotation    RotationConfig `yaml:"rotation"`
}

// RotationConfig applies to file outputs.
type RotationConfig struct {
	Enable     bool   `yaml:"enable"`
	Filename   string `yaml:"filename"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type RetryConfig struct {
	DelayMs     int `yaml:"delay_ms"`
	MaxAttempts int `yaml:"max_attempts"`
	JitterMs    int `yaml:"jitter_ms"`
}

func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		Delay:       time.Duration(r.DelayMs) * time.Millisecond,
		MaxAttempts: r.MaxAttempts,
		Jitter:      time.Duration(r.JitterMs) * time.Millisecond,
	}
}

type RelayConfig struct {
	Listen      string `yaml:"listen"`
	MetricsAddr string `yaml:"metrics_addr"`
	DataDir     string `yaml:"data_dir"`
	// AdminToken guards the admin HTTP API; empty disables it.
	AdminToken string `yaml:"admin_token"`

	CatalogPath string `yaml:"catalog_path"`
	// RequireCatalog refuses peers whose catalog digest differs.
	RequireCatalog bool `yaml:"require_catalog"`

	Whitelist    []string `yaml:"whitelist"`
	Banned       []string `yaml:"banned"`
	Admins       []string `yaml:"admins"`
	UseWhitelist bool     `yaml:"use_whitelist"`

	EventCosts map[string]int `yaml:"event_costs"`
	Log        LogConfig      `yaml:"log"`
}

type PeerConfig struct {
	RelayURL string `yaml:"relay_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	CatalogPath string `yaml:"catalog_path"`
	WorldPath   string `yaml:"world_path"`

	AutoDenyTransfers   bool        `yaml:"auto_deny_transfers"`
	LootKeepProbability float64     `yaml:"loot_keep_probability"`
	Recovery            RetryConfig `yaml:"recovery"`
	// ReplyTimeoutMs bounds how long a sent transfer step waits for the
	// other peer. 0 waits forever.
	ReplyTimeoutMs int       `yaml:"reply_timeout_ms"`
	Log            LogConfig `yaml:"log"`
}

// DefaultReplyTimeout is used when peer.yaml leaves reply_timeout_ms unset.
const DefaultReplyTimeout = 2 * time.Minute

func (c PeerConfig) ReplyTimeout() time.Duration {
	return time.Duration(c.ReplyTimeoutMs) * time.Millisecond
}

func defaultLog() LogConfig {
	return LogConfig{
		Level:   "info",
		Format:  "console",
		Outputs: []string{"stderr"},
		Rotation: RotationConfig{
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

func defaultRelay() RelayConfig {
	return RelayConfig{
		Listen:      ":8080",
		MetricsAddr: ":9090",
		DataDir:     "data",
		Log:         defaultLog(),
	}
}

func defaultPeer() PeerConfig {
	return PeerConfig{
		RelayURL:            "ws://127.0.0.1:8080/v1/ws",
		LootKeepProbability: 0.30,
		Recovery:            RetryConfig{DelayMs: int(retry.DefaultDelay / time.Millisecond)},
		ReplyTimeoutMs:      int(DefaultReplyTimeout / time.Millisecond),
		Log:                 defaultLog(),
	}
}

// LoadRelay reads relay.yaml. An empty path yields the defaults.
func LoadRelay(path string) (RelayConfig, error) {
	cfg := defaultRelay()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	if err := load(path, &cfg); err != nil {
		return cfg, fmt.Errorf("relay.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("relay.yaml: %w", err)
	}
	return cfg, nil
}

// LoadPeer reads peer.yaml. An empty path yields the defaults, which still
// need a username and password before Validate passes.
func LoadPeer(path string) (PeerConfig, error) {
	cfg := defaultPeer()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	if err := load(path, &cfg); err != nil {
		return cfg, fmt.Errorf("peer.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("peer.yaml: %w", err)
	}
	return cfg, nil
}

func load(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func (c *RelayConfig) Normalize() {
	c.Whitelist = normalizeNames(c.Whitelist)
	c.Banned = normalizeNames(c.Banned)
	c.Admins = normalizeNames(c.Admins)
	c.Log.normalize()
}

func (c RelayConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	for name, cost := range c.EventCosts {
		if _, ok := protocol.ParseEventKind(name); !ok {
			return fmt.Errorf("event_costs: unknown event %q", name)
		}
		if cost < 0 {
			return fmt.Errorf("event_costs: %s is negative", name)
		}
	}
	return c.Log.validate()
}

func (c *PeerConfig) Normalize() {
	c.Username = strings.TrimSpace(c.Username)
	if c.LootKeepProbability <= 0 || c.LootKeepProbability > 1 {
		c.LootKeepProbability = 0.30
	}
	c.Log.normalize()
}

func (c PeerConfig) Validate() error {
	if c.RelayURL == "" {
		return fmt.Errorf("relay_url is required")
	}
	if err := ValidateUsername(c.Username); err != nil {
		return err
	}
	if c.Password == "" {
		return fmt.Errorf("password is required")
	}
	if err := c.Recovery.Policy().Validate(); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	if c.ReplyTimeoutMs < 0 {
		return fmt.Errorf("reply_timeout_ms must be >= 0")
	}
	return c.Log.validate()
}

// MaxUsernameLen bounds login names.
const MaxUsernameLen = 32

// ValidateUsername applies the relay's login name rules.
func ValidateUsername(name string) error {
	if name == "" {
		return fmt.Errorf("username is required")
	}
	if len(name) > MaxUsernameLen {
		return fmt.Errorf("username longer than %d characters", MaxUsernameLen)
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return fmt.Errorf("username contains whitespace")
	}
	return nil
}

func (l *LogConfig) normalize() {
	l.Level = strings.ToLower(strings.TrimSpace(l.Level))
	if l.Level == "" {
		l.Level = "info"
	}
	l.Format = strings.ToLower(strings.TrimSpace(l.Format))
	if l.Format == "" {
		l.Format = "console"
	}
	if len(l.Outputs) == 0 {
		l.Outputs = []string{"stderr"}
	}
}

func (l LogConfig) validate() error {
	switch l.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", l.Level)
	}
	switch l.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", l.Format)
	}
	return nil
}

func normalizeNames(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, n := range in {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
