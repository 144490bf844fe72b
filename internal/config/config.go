package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the runtime configuration for the terminal adapter daemon.
// It is assembled from an optional YAML override file followed by
// environment variables, which always win.
type Config struct {
	// ProjectRoot is the path below which all execute cwds must lie.
	ProjectRoot string `yaml:"project_root"`
	// PolicyManifest is the path to the signed policy manifest, if any.
	PolicyManifest string `yaml:"policy_manifest"`
	// Env selects relaxed-policy behavior; "dev" relaxes WRITE approval.
	Env string `yaml:"env"`
	// Port is the dispatcher's HTTP listen port.
	Port int `yaml:"port"`
	// AgentID identifies this agent to the approval broker.
	AgentID string `yaml:"agent_id"`
	// TGAURL is the approval broker endpoint for HIGH_RISK escalation.
	TGAURL string `yaml:"tga_url"`
	// AnchorSinkURL is the downstream audit sink endpoint, if any.
	AnchorSinkURL string `yaml:"anchor_sink_url"`
	// WALDir is the directory session WAL files are written under.
	WALDir string `yaml:"wal_dir"`
	// AnchorInterval is the configured minimum time between non-immediate
	// anchors. The Session Manager does not read it; it uses its own fixed
	// session.AnchorInterval.
	AnchorInterval time.Duration `yaml:"-"`
	// AnchorLoopTick is the configured anchor loop wake period. The Session
	// Manager does not read it; it uses its own fixed session.AnchorLoopTick.
	AnchorLoopTick time.Duration `yaml:"-"`
}

const (
	defaultPort           = 8787
	defaultAnchorInterval = 10 * time.Minute
	defaultAnchorLoopTick = time.Minute
)

// Default returns a Config populated with package defaults.
func Default() Config {
	return Config{
		Env:            "production",
		Port:           defaultPort,
		WALDir:         SessionsDir(),
		AnchorInterval: defaultAnchorInterval,
		AnchorLoopTick: defaultAnchorLoopTick,
	}
}

// IsDev reports whether the configured environment relaxes WRITE approval,
// matching the original TALOS_ENV=dev capability bypass.
func (c Config) IsDev() bool {
	return c.Env == "dev"
}

// Load builds a Config from the optional YAML override at
// GlobalConfigPath, then applies environment variable overrides, which
// always take precedence.
func Load() (Config, error) {
	cfg := Default()

	if path := GlobalConfigPath(); fileExists(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.ProjectRoot == "" {
		return cfg, fmt.Errorf("config: PROJECT_ROOT is required")
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PROJECT_ROOT"); v != "" {
		cfg.ProjectRoot = v
	}
	if v := os.Getenv("POLICY_MANIFEST"); v != "" {
		cfg.PolicyManifest = v
	}
	if v := os.Getenv("ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("AGENT_ID"); v != "" {
		cfg.AgentID = v
	}
	if v := os.Getenv("TGA_URL"); v != "" {
		cfg.TGAURL = v
	}
	if v := os.Getenv("ANCHOR_SINK_URL"); v != "" {
		cfg.AnchorSinkURL = v
	}
	if v := os.Getenv("WAL_DIR"); v != "" {
		cfg.WALDir = v
	}
	if v := os.Getenv("ANCHOR_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AnchorInterval = time.Duration(n) * time.Second
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
