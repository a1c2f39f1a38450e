// Package config loads and validates lightnetd's on-disk configuration:
// chain registrations, identity, and telemetry toggles for the network
// coordinator service (pkg/netservice).
package config

import "time"

// CurrentConfigVersion is the latest configuration schema version.
// Bump this when adding fields that require migration.
const CurrentConfigVersion = 1

// Config is the top-level lightnetd configuration file shape.
type Config struct {
	Version   int             `yaml:"version,omitempty"`
	Identity  IdentityConfig  `yaml:"identity"`
	Service   ServiceConfig   `yaml:"service"`
	Chains    []ChainConfig   `yaml:"chains"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// IdentityConfig holds identity-related configuration.
type IdentityConfig struct {
	KeyFile string `yaml:"key_file"`
}

// ServiceConfig holds coordinator-wide tuning knobs (spec.md §4.5/§9 open
// questions resolved in SPEC_FULL.md §9).
type ServiceConfig struct {
	IdentifyAgentVersion    string        `yaml:"identify_agent_version"`
	NumEventReceivers       int           `yaml:"num_event_receivers"`
	MaxAddressesPerPeer     int           `yaml:"max_addresses_per_peer,omitempty"`
	DialRatePerMinute       float64       `yaml:"dial_rate_per_minute,omitempty"`
	ConnectionSendWarnAfter time.Duration `yaml:"connection_send_warn_after,omitempty"`
	HandshakeTimeout        time.Duration `yaml:"handshake_timeout,omitempty"`
}

// ChainConfig is one entry of the `chains` list (spec.md §6 Configuration).
type ChainConfig struct {
	LogName                       string `yaml:"log_name"`
	NumOutSlots                   uint32 `yaml:"num_out_slots"`
	GenesisBlockHash              string `yaml:"genesis_block_hash"`
	BestBlockNumber               uint64 `yaml:"best_block_number"`
	BestBlockHash                 string `yaml:"best_block_hash"`
	ForkID                        string `yaml:"fork_id,omitempty"`
	BlockNumberBytes              uint8  `yaml:"block_number_bytes"`
	GrandpaProtocolFinalizedBlock uint64 `yaml:"grandpa_protocol_finalized_block_height,omitempty"`
}

// TelemetryConfig holds observability settings. All features are disabled
// by default (opt-in), matching the teacher's telemetry posture.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// MetricsConfig controls Prometheus metrics exposure.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"` // default: "127.0.0.1:9092"
}

// DefaultServiceConfig returns the defaults applied when a field is left
// zero-valued in the YAML file.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		IdentifyAgentVersion:    "lightnetd/0.1.0",
		NumEventReceivers:       1,
		MaxAddressesPerPeer:     10,
		DialRatePerMinute:       6,
		ConnectionSendWarnAfter: 5 * time.Second,
		HandshakeTimeout:        8 * time.Second,
	}
}
