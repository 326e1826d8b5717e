// Package config holds the executor/postman/chain process's typed
// configuration: data directory layout, gas schedule toggles,
// permission/quota enforcement flags, and the snapshot chunk size (spec
// §11 ambient stack).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the full set of knobs cmd/cita-node resolves from flags/file
// before wiring the executor, postman, and chain actors together.
type Config struct {
	// DataDir is the root directory for chain data, trie nodes, and
	// snapshots.
	DataDir string

	// CheckPermission enables the sender/contract-creation permission
	// checks Executive.Transact performs (spec §4.3 step 2).
	CheckPermission bool
	// CheckQuota enables the block- and account-level gas pool checks
	// (spec §4.3 step 4).
	CheckQuota bool
	// AccountGasLimit caps any single transaction's gas when CheckQuota is
	// set; zero disables the per-account cap.
	AccountGasLimit uint64
	// BlockGasLimit is loaded and validated here but not read by block
	// processing, which seeds each block's GasPool from the header's
	// QuotaLimit.
	BlockGasLimit uint64

	// SnapshotChunkSize is the pre-compression byte budget per snapshot
	// chunk (spec §4.8 "≤4 MB").
	SnapshotChunkSize int
	// SnapshotBlockLimit is loaded here but not read by snapshot.Take,
	// which packs the full header, body and receipts of every block back
	// to genesis regardless of its distance from the snapshot target.
	SnapshotBlockLimit uint64

	// LogLevel controls log verbosity (debug, info, warn, error).
	LogLevel string

	// MetricsEnabled starts the Prometheus exporter.
	MetricsEnabled bool
	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint.
	MetricsAddr string
}

const defaultSnapshotChunkSize = 4 << 20 // 4 MB, spec §4.8

// defaultDataDir mirrors the teacher's home-directory resolution, falling
// back to a relative directory when the home directory is unknown.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cita-node"
	}
	return filepath.Join(home, ".cita-node")
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		DataDir:            defaultDataDir(),
		CheckPermission:     true,
		CheckQuota:          true,
		AccountGasLimit:     0,
		BlockGasLimit:       1_000_000_000,
		SnapshotChunkSize:   defaultSnapshotChunkSize,
		SnapshotBlockLimit:  1024,
		LogLevel:            "info",
		MetricsEnabled:      false,
		MetricsAddr:         "127.0.0.1:9090",
	}
}

// Validate checks the configuration for correctness before the node wires
// any actor to it.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: datadir must not be empty")
	}
	if c.BlockGasLimit == 0 {
		return errors.New("config: block_gas_limit must be greater than 0")
	}
	if c.SnapshotChunkSize <= 0 {
		return fmt.Errorf("config: invalid snapshot_chunk_size: %d", c.SnapshotChunkSize)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}

// InitDataDir creates the data directory and its standard subdirectories.
func (c *Config) InitDataDir() error {
	if c.DataDir == "" {
		return errors.New("config: datadir must not be empty")
	}
	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return fmt.Errorf("config: create datadir: %w", err)
	}
	for _, sub := range []string{"chaindata", "snapshots"} {
		if err := os.MkdirAll(filepath.Join(c.DataDir, sub), 0700); err != nil {
			return fmt.Errorf("config: create %s: %w", sub, err)
		}
	}
	return nil
}

// ResolvePath resolves a path relative to the data directory.
func (c *Config) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}

// ChainDataDir is the LevelDB directory backing the trie node database and
// the chain's column families.
func (c *Config) ChainDataDir() string { return c.ResolvePath("chaindata") }

// SnapshotDir is where snapshot manifests and chunk files are written.
func (c *Config) SnapshotDir() string { return c.ResolvePath("snapshots") }
