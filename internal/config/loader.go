package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// checkConfigFilePermissions returns an error if a config file has overly
// permissive permissions (any group/world bit set). Config files may contain chain
// genesis material and identity key paths.
func checkConfigFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return nil // file access errors are handled by the caller
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("config file %s has overly permissive mode %04o; expected 0600 — fix with: chmod 600 %s", path, mode, path)
	}
	return nil
}

// Load reads and parses lightnetd configuration from a YAML file, applying
// ServiceConfig defaults for zero-valued fields.
func Load(path string) (*Config, error) {
	if err := checkConfigFilePermissions(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.Version > CurrentConfigVersion {
		return nil, fmt.Errorf("%w: version %d is newer than supported version %d; please upgrade lightnetd", ErrConfigVersionTooNew, cfg.Version, CurrentConfigVersion)
	}

	applyServiceDefaults(&cfg.Service)

	return &cfg, nil
}

// applyServiceDefaults fills zero-valued ServiceConfig fields with defaults.
func applyServiceDefaults(sc *ServiceConfig) {
	defaults := DefaultServiceConfig()
	if sc.IdentifyAgentVersion == "" {
		sc.IdentifyAgentVersion = defaults.IdentifyAgentVersion
	}
	if sc.NumEventReceivers == 0 {
		sc.NumEventReceivers = defaults.NumEventReceivers
	}
	if sc.MaxAddressesPerPeer == 0 {
		sc.MaxAddressesPerPeer = defaults.MaxAddressesPerPeer
	}
	if sc.DialRatePerMinute == 0 {
		sc.DialRatePerMinute = defaults.DialRatePerMinute
	}
	if sc.ConnectionSendWarnAfter == 0 {
		sc.ConnectionSendWarnAfter = defaults.ConnectionSendWarnAfter
	}
	if sc.HandshakeTimeout == 0 {
		sc.HandshakeTimeout = defaults.HandshakeTimeout
	}
}

// Validate checks that a loaded Config is sound enough to build a service from.
func Validate(cfg *Config) error {
	if cfg.Identity.KeyFile == "" {
		return fmt.Errorf("identity.key_file is required")
	}
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one entry in chains is required")
	}
	for i, c := range cfg.Chains {
		if c.LogName == "" {
			return fmt.Errorf("chains[%d].log_name is required", i)
		}
		if c.NumOutSlots == 0 {
			return fmt.Errorf("chains[%d].num_out_slots must be > 0", i)
		}
		if c.GenesisBlockHash == "" {
			return fmt.Errorf("chains[%d].genesis_block_hash is required", i)
		}
	}
	if cfg.Service.NumEventReceivers < 1 {
		return fmt.Errorf("service.num_event_receivers must be >= 1")
	}
	return nil
}

// FindConfigFile searches for a lightnetd config file in standard locations.
// Search order: explicitPath (if given), ./lightnetd.yaml,
// ~/.config/lightnetd/config.yaml, /etc/lightnetd/config.yaml.
func FindConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("%w: %s", ErrConfigNotFound, explicitPath)
		}
		return explicitPath, nil
	}

	searchPaths := []string{"lightnetd.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "lightnetd", "config.yaml"))
	}

	searchPaths = append(searchPaths, filepath.Join("/etc", "lightnetd", "config.yaml"))

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w; searched:\n  %s\n\nCreate one, or use --config <path>", ErrConfigNotFound, strings.Join(searchPaths, "\n  "))
}

// DefaultConfigDir returns the default lightnetd config directory
// (~/.config/lightnetd).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "lightnetd"), nil
}
