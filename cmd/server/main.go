// The server command runs the encrypted POI query service.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/Avishek-7/eplq-backend/audit"
	"github.com/Avishek-7/eplq-backend/cmd/flags"
	"github.com/Avishek-7/eplq-backend/cryptoutils"
	"github.com/Avishek-7/eplq-backend/httpserver"
	"github.com/Avishek-7/eplq-backend/interfaces"
	"github.com/Avishek-7/eplq-backend/kms"
	"github.com/Avishek-7/eplq-backend/query"
	"github.com/Avishek-7/eplq-backend/storage"
)

var serverFlags = []cli.Flag{
	flags.ListenAddrFlag,
	flags.MetricsAddrFlag,
	flags.StoreFlag,
	flags.KeySeedFlag,
	flags.KeyPassphraseFlag,
	flags.VaultAddrFlag,
	flags.VaultTokenFlag,
	flags.VaultPathFlag,
	flags.IndexPrecisionFlag,
	flags.BatchSizeFlag,
	flags.WorkersFlag,
	flags.StoreTimeoutFlag,
	flags.MaxConcurrentFlag,
	flags.LogJSONFlag,
	flags.LogDebugFlag,
	flags.LogUIDFlag,
	flags.LogServiceFlag,
	flags.PprofFlag,
	flags.DrainSecondsFlag,
}

func main() {
	// Best effort; the file is optional in production.
	godotenv.Load()

	app := &cli.App{
		Name:   "eplq-server",
		Usage:  "Serve encrypted POI range queries",
		Flags:  serverFlags,
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	masterKey, err := resolveMasterKey(cCtx)
	if err != nil {
		logger.Error("Failed to resolve master key", "err", err)
		return err
	}

	keyService, err := kms.NewSimpleKeyService(masterKey)
	if err != nil {
		return err
	}

	storeURI := interfaces.StorageBackendLocation(cCtx.String(flags.StoreFlag.Name))
	store, err := storage.NewFactory(logger).StorageBackendFor(storeURI)
	if err != nil {
		logger.Error("Failed to create POI store", "err", err)
		return err
	}
	logger.Info("POI store ready", "backend", store.Name())

	engine := query.NewEngine(query.Config{
		IndexPrecision:       cCtx.Int(flags.IndexPrecisionFlag.Name),
		BatchSize:            cCtx.Int(flags.BatchSizeFlag.Name),
		Workers:              cCtx.Int(flags.WorkersFlag.Name),
		StoreTimeout:         cCtx.Duration(flags.StoreTimeoutFlag.Name),
		MaxConcurrentPerUser: cCtx.Int(flags.MaxConcurrentFlag.Name),
	}, store, keyService, audit.NewLog(logger), logger)

	cfg := flags.ConfigureServer(cCtx, logger)
	srv, err := httpserver.New(cfg, httpserver.NewHandler(engine, logger))
	if err != nil {
		return err
	}

	srv.RunInBackground()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down")
	srv.Shutdown()
	return nil
}

// resolveMasterKey picks the key source in priority order: Vault, explicit
// seed, passphrase derivation.
func resolveMasterKey(cCtx *cli.Context) ([]byte, error) {
	if addr := cCtx.String(flags.VaultAddrFlag.Name); addr != "" {
		source, err := kms.NewVaultKeySource(addr,
			cCtx.String(flags.VaultTokenFlag.Name),
			"secret", cCtx.String(flags.VaultPathFlag.Name))
		if err != nil {
			return nil, err
		}
		return source.FetchKey(context.Background())
	}

	if seed := cCtx.String(flags.KeySeedFlag.Name); seed != "" {
		key, err := hex.DecodeString(seed)
		if err != nil || len(key) < interfaces.KeySize {
			return nil, errors.New("key-seed must be at least 32 hex-encoded bytes")
		}
		return key, nil
	}

	if pass := cCtx.String(flags.KeyPassphraseFlag.Name); pass != "" {
		return cryptoutils.KeyFromPassphrase(pass, nil), nil
	}

	return nil, errors.New("one of vault-addr, key-seed or key-passphrase is required")
}
