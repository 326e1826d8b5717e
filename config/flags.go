package config

import "github.com/urfave/cli/v2"

// Flags returns the urfave/cli flag set cmd/cita-node registers on its App,
// each bound directly into dst so Action callbacks can read the resolved
// Config without re-parsing ctx themselves.
func Flags(dst *Config) []cli.Flag {
	def := Default()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "datadir",
			Usage:       "data directory for chain data and snapshots",
			Value:       def.DataDir,
			Destination: &dst.DataDir,
		},
		&cli.BoolFlag{
			Name:        "check-permission",
			Usage:       "enforce sender/contract-creation permission checks",
			Value:       def.CheckPermission,
			Destination: &dst.CheckPermission,
		},
		&cli.BoolFlag{
			Name:        "check-quota",
			Usage:       "enforce block and account gas quotas",
			Value:       def.CheckQuota,
			Destination: &dst.CheckQuota,
		},
		&cli.Uint64Flag{
			Name:        "account-gas-limit",
			Usage:       "per-account gas cap, 0 disables",
			Value:       def.AccountGasLimit,
			Destination: &dst.AccountGasLimit,
		},
		&cli.Uint64Flag{
			Name:        "block-gas-limit",
			Usage:       "block gas limit (block processing uses each header's quota limit instead)",
			Value:       def.BlockGasLimit,
			Destination: &dst.BlockGasLimit,
		},
		&cli.IntFlag{
			Name:        "snapshot-chunk-size",
			Usage:       "pre-compression byte budget per snapshot chunk",
			Value:       def.SnapshotChunkSize,
			Destination: &dst.SnapshotChunkSize,
		},
		&cli.Uint64Flag{
			Name:        "snapshot-block-limit",
			Usage:       "snapshot block limit (snapshots include full bodies for every block regardless)",
			Value:       def.SnapshotBlockLimit,
			Destination: &dst.SnapshotBlockLimit,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "debug, info, warn, or error",
			Value:       def.LogLevel,
			Destination: &dst.LogLevel,
		},
		&cli.BoolFlag{
			Name:        "metrics",
			Usage:       "start the Prometheus exporter",
			Value:       def.MetricsEnabled,
			Destination: &dst.MetricsEnabled,
		},
		&cli.StringFlag{
			Name:        "metrics-addr",
			Usage:       "listen address for the /metrics endpoint",
			Value:       def.MetricsAddr,
			Destination: &dst.MetricsAddr,
		},
	}
}
