// Package flags holds CLI flag definitions and setup helpers shared by the
// binaries in cmd/.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/Avishek-7/eplq-backend/common"
	"github.com/Avishek-7/eplq-backend/httpserver"
)

// SetupLogger builds the process logger from the log-* flags.
func SetupLogger(cCtx *cli.Context) *slog.Logger {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJSONFlag.Name),
		Service: cCtx.String(LogServiceFlag.Name),
		Version: common.Version,
	})

	if cCtx.Bool(LogUIDFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// ConfigureServer assembles the HTTP server config from flags.
func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics (empty to disable)",
}

var StoreFlag = &cli.StringFlag{
	Name:    "store",
	Value:   "memory://",
	Usage:   "POI store location URI (memory://, file://, postgres://, redis://, s3://)",
	EnvVars: []string{"EPLQ_STORE"},
}

var KeySeedFlag = &cli.StringFlag{
	Name:    "key-seed",
	Usage:   "hex-encoded 32-byte symmetric key seed",
	EnvVars: []string{"EPLQ_KEY_SEED"},
}

var KeyPassphraseFlag = &cli.StringFlag{
	Name:    "key-passphrase",
	Usage:   "derive the symmetric key from a passphrase (argon2id) instead of a seed",
	EnvVars: []string{"EPLQ_KEY_PASSPHRASE"},
}

var VaultAddrFlag = &cli.StringFlag{
	Name:    "vault-addr",
	Usage:   "fetch the symmetric key from this Vault address instead of a seed",
	EnvVars: []string{"VAULT_ADDR"},
}

var VaultTokenFlag = &cli.StringFlag{
	Name:    "vault-token",
	Usage:   "Vault token for the key source",
	EnvVars: []string{"VAULT_TOKEN"},
}

var VaultPathFlag = &cli.StringFlag{
	Name:  "vault-path",
	Value: "eplq/master-key",
	Usage: "Vault KV v2 path under the secret mount holding the master_key field",
}

var IndexPrecisionFlag = &cli.IntFlag{
	Name:  "index-precision",
	Value: 8,
	Usage: "spatial index key length in base-32 characters",
}

var BatchSizeFlag = &cli.IntFlag{
	Name:  "batch-size",
	Value: 500,
	Usage: "records per atomically committed bulk-upload batch",
}

var WorkersFlag = &cli.IntFlag{
	Name:  "query-workers",
	Value: 8,
	Usage: "bounded worker pool size for candidate evaluation",
}

var StoreTimeoutFlag = &cli.DurationFlag{
	Name:  "store-timeout",
	Value: 10 * time.Second,
	Usage: "timeout for each store operation",
}

var MaxConcurrentFlag = &cli.IntFlag{
	Name:  "max-concurrent-queries",
	Value: 4,
	Usage: "max concurrent queries per user",
}

var LogJSONFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}

var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}

var LogUIDFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}

var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
