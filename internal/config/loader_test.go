package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
identity:
  key_file: identity.key
service:
  identify_agent_version: test-client/1.0.0
  num_event_receivers: 2
chains:
  - log_name: westend
    num_out_slots: 4
    genesis_block_hash: "0x00"
    block_number_bytes: 4
`

func writeConfig(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "lightnetd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "test-client/1.0.0", cfg.Service.IdentifyAgentVersion)
	require.Equal(t, 2, cfg.Service.NumEventReceivers)
	require.Equal(t, 10, cfg.Service.MaxAddressesPerPeer) // default
	require.Len(t, cfg.Chains, 1)
	require.Equal(t, "westend", cfg.Chains[0].LogName)
}

func TestLoadRejectsFutureVersion(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "version: 99\n"+sampleYAML)

	_, err := Load(path)
	require.ErrorIs(t, err, ErrConfigVersionTooNew)
}

func TestLoadRejectsWorldReadable(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, sampleYAML)
	require.NoError(t, os.Chmod(path, 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Identity: IdentityConfig{KeyFile: "key"},
		Service:  DefaultServiceConfig(),
		Chains: []ChainConfig{
			{LogName: "relay", NumOutSlots: 4, GenesisBlockHash: "0x00"},
		},
	}
	require.NoError(t, Validate(cfg))

	cfg.Chains = nil
	require.Error(t, Validate(cfg))
}

func TestFindConfigFileExplicitMissing(t *testing.T) {
	_, err := FindConfigFile("/no/such/path.yaml")
	require.ErrorIs(t, err, ErrConfigNotFound)
}

func TestArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, sampleYAML)

	require.False(t, HasArchive(path))
	require.NoError(t, Archive(path))
	require.True(t, HasArchive(path))

	require.NoError(t, os.WriteFile(path, []byte("corrupted"), 0o600))
	require.NoError(t, Rollback(path))

	restored, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, sampleYAML, string(restored))
}

func TestRollbackNoArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lightnetd.yaml")
	err := Rollback(path)
	require.ErrorIs(t, err, ErrNoArchive)
}
