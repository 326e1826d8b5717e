package config

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// LoadConfig parses a small TOML-like configuration file into a Config,
// starting from Default() and overriding only the keys present in data.
// The format mirrors the teacher's hand-rolled node config loader: bare
// "key = value" pairs apply to the top-level Config, nothing nests since
// cita-node's settings are a flat list of scalars.
func LoadConfig(data []byte) (Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			return Config{}, fmt.Errorf("config: line %d: sections are not supported", lineNo)
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return Config{}, fmt.Errorf("config: line %d: expected key = value", lineNo)
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))
		if err := setField(&cfg, key, value); err != nil {
			return Config{}, fmt.Errorf("config: line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, fmt.Errorf("config: scan: %w", err)
	}
	return cfg, nil
}

func setField(cfg *Config, key, value string) error {
	switch key {
	case "datadir":
		cfg.DataDir = value
	case "check_permission":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("check_permission: %w", err)
		}
		cfg.CheckPermission = b
	case "check_quota":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("check_quota: %w", err)
		}
		cfg.CheckQuota = b
	case "account_gas_limit":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("account_gas_limit: %w", err)
		}
		cfg.AccountGasLimit = n
	case "block_gas_limit":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("block_gas_limit: %w", err)
		}
		cfg.BlockGasLimit = n
	case "snapshot_chunk_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("snapshot_chunk_size: %w", err)
		}
		cfg.SnapshotChunkSize = n
	case "snapshot_block_limit":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("snapshot_block_limit: %w", err)
		}
		cfg.SnapshotBlockLimit = n
	case "log_level":
		cfg.LogLevel = value
	case "metrics_enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("metrics_enabled: %w", err)
		}
		cfg.MetricsEnabled = b
	case "metrics_addr":
		cfg.MetricsAddr = value
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return nil
}

// unquote strips a single layer of matching double quotes, the same
// convenience the teacher's config loader offers for quoted string values.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
