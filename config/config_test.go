package config

import "testing"

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	if !cfg.CheckPermission {
		t.Error("CheckPermission should default to true")
	}
	if !cfg.CheckQuota {
		t.Error("CheckQuota should default to true")
	}
	if cfg.SnapshotChunkSize != 4<<20 {
		t.Errorf("SnapshotChunkSize = %d, want %d", cfg.SnapshotChunkSize, 4<<20)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestValidateRejectsEmptyDataDir(t *testing.T) {
	cfg := Default()
	cfg.DataDir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty datadir")
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestResolvePath(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/cita-node"

	if got, want := cfg.ResolvePath("chaindata"), "/var/lib/cita-node/chaindata"; got != want {
		t.Errorf("ResolvePath(relative) = %q, want %q", got, want)
	}
	if got, want := cfg.ResolvePath("/abs/path"), "/abs/path"; got != want {
		t.Errorf("ResolvePath(absolute) = %q, want %q", got, want)
	}
	if got, want := cfg.ChainDataDir(), "/var/lib/cita-node/chaindata"; got != want {
		t.Errorf("ChainDataDir() = %q, want %q", got, want)
	}
	if got, want := cfg.SnapshotDir(), "/var/lib/cita-node/snapshots"; got != want {
		t.Errorf("SnapshotDir() = %q, want %q", got, want)
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	input := `
# comment line
datadir = "/data/cita-node"
check_permission = false
account_gas_limit = 500000
block_gas_limit = 20000000
snapshot_chunk_size = 1048576
log_level = "debug"
metrics_enabled = true
metrics_addr = "0.0.0.0:9100"
`
	cfg, err := LoadConfig([]byte(input))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DataDir != "/data/cita-node" {
		t.Errorf("DataDir = %q, want /data/cita-node", cfg.DataDir)
	}
	if cfg.CheckPermission {
		t.Error("CheckPermission should be false")
	}
	if !cfg.CheckQuota {
		t.Error("CheckQuota should keep its default of true")
	}
	if cfg.AccountGasLimit != 500000 {
		t.Errorf("AccountGasLimit = %d, want 500000", cfg.AccountGasLimit)
	}
	if cfg.BlockGasLimit != 20_000_000 {
		t.Errorf("BlockGasLimit = %d, want 20000000", cfg.BlockGasLimit)
	}
	if cfg.SnapshotChunkSize != 1<<20 {
		t.Errorf("SnapshotChunkSize = %d, want %d", cfg.SnapshotChunkSize, 1<<20)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if !cfg.MetricsEnabled {
		t.Error("MetricsEnabled should be true")
	}
	if cfg.MetricsAddr != "0.0.0.0:9100" {
		t.Errorf("MetricsAddr = %q, want 0.0.0.0:9100", cfg.MetricsAddr)
	}
}

func TestLoadConfigRejectsSections(t *testing.T) {
	if _, err := LoadConfig([]byte("[p2p]\nport = 30303\n")); err == nil {
		t.Fatal("expected error for section header")
	}
}

func TestLoadConfigRejectsUnknownKey(t *testing.T) {
	if _, err := LoadConfig([]byte("bogus = 1\n")); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadConfigRejectsMalformedLine(t *testing.T) {
	if _, err := LoadConfig([]byte("not-a-key-value-line\n")); err == nil {
		t.Fatal("expected error for malformed line")
	}
}
