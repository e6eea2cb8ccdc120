// The poiload command bulk-loads POIs from a CSV extract into the store,
// encrypting and indexing each record client side. The expected format is
// the one produced by the OSM extraction tooling:
//
//	name,category,latitude,longitude,description
package main

import (
	"context"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/Avishek-7/eplq-backend/audit"
	"github.com/Avishek-7/eplq-backend/cmd/flags"
	"github.com/Avishek-7/eplq-backend/cryptoutils"
	"github.com/Avishek-7/eplq-backend/interfaces"
	"github.com/Avishek-7/eplq-backend/kms"
	"github.com/Avishek-7/eplq-backend/query"
	"github.com/Avishek-7/eplq-backend/storage"
)

// knownCategories is the taxonomy the extraction tooling emits. Anything
// else is folded into "other".
var knownCategories = map[string]struct{}{
	"restaurant": {}, "hotel": {}, "hospital": {}, "bank": {},
	"gas_station": {}, "transportation": {}, "education": {},
	"shopping": {}, "emergency": {}, "tourism": {},
	"entertainment": {}, "other": {},
}

var maxPOIsFlag = &cli.IntFlag{
	Name:  "max-pois",
	Value: 1000,
	Usage: "cap on records loaded from the file (0 for unlimited)",
}

var uploadedByFlag = &cli.StringFlag{
	Name:  "uploaded-by",
	Value: "poiload",
	Usage: "identity recorded on each uploaded record",
}

func main() {
	godotenv.Load()

	app := &cli.App{
		Name:      "poiload",
		Usage:     "Encrypt and bulk-load a POI CSV into the store",
		ArgsUsage: "<pois.csv>",
		Flags: []cli.Flag{
			flags.StoreFlag,
			flags.KeySeedFlag,
			flags.KeyPassphraseFlag,
			flags.IndexPrecisionFlag,
			flags.BatchSizeFlag,
			maxPOIsFlag,
			uploadedByFlag,
			flags.LogJSONFlag,
			flags.LogDebugFlag,
			flags.LogUIDFlag,
			flags.LogServiceFlag,
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	if cCtx.NArg() != 1 {
		return errors.New("expected exactly one CSV file argument")
	}
	logger := flags.SetupLogger(cCtx)

	masterKey, err := resolveMasterKey(cCtx)
	if err != nil {
		return err
	}
	keyService, err := kms.NewSimpleKeyService(masterKey)
	if err != nil {
		return err
	}

	storeURI := interfaces.StorageBackendLocation(cCtx.String(flags.StoreFlag.Name))
	store, err := storage.NewFactory(logger).StorageBackendFor(storeURI)
	if err != nil {
		return err
	}

	reqs, skipped, err := readCSV(cCtx.Args().First(), cCtx.Int(maxPOIsFlag.Name))
	if err != nil {
		return err
	}
	if skipped > 0 {
		logger.Warn("Skipped invalid rows", "skipped", skipped)
	}
	if len(reqs) == 0 {
		return errors.New("no valid POI rows in file")
	}

	engine := query.NewEngine(query.Config{
		IndexPrecision: cCtx.Int(flags.IndexPrecisionFlag.Name),
		BatchSize:      cCtx.Int(flags.BatchSizeFlag.Name),
	}, store, keyService, audit.NewLog(logger), logger)

	uploaded, err := engine.UploadBatch(context.Background(),
		cCtx.String(uploadedByFlag.Name), reqs,
		func(p interfaces.BatchProgress) {
			fmt.Printf("batch %d committed: %d/%d records\n", p.Batch, p.Uploaded, p.Total)
		})
	if err != nil {
		return fmt.Errorf("upload failed after %d records: %w", uploaded, err)
	}

	fmt.Printf("uploaded %d POIs to %s\n", uploaded, store.Name())
	return nil
}

// readCSV parses the extract, dropping rows without a name or parsable
// coordinates the same way the extraction tooling does.
func readCSV(path string, maxPOIs int) ([]query.UploadRequest, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open CSV: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read CSV header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"name", "category", "latitude", "longitude"} {
		if _, ok := col[required]; !ok {
			return nil, 0, fmt.Errorf("CSV missing %q column", required)
		}
	}

	var reqs []query.UploadRequest
	skipped := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read CSV row: %w", err)
		}

		req, ok := parseRow(row, col)
		if !ok {
			skipped++
			continue
		}
		reqs = append(reqs, req)
		if maxPOIs > 0 && len(reqs) >= maxPOIs {
			break
		}
	}
	return reqs, skipped, nil
}

func parseRow(row []string, col map[string]int) (query.UploadRequest, bool) {
	field := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	name := field("name")
	if name == "" || name == "null" {
		return query.UploadRequest{}, false
	}

	lat, err1 := strconv.ParseFloat(field("latitude"), 64)
	lng, err2 := strconv.ParseFloat(field("longitude"), 64)
	if err1 != nil || err2 != nil || math.IsNaN(lat) || math.IsNaN(lng) ||
		lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return query.UploadRequest{}, false
	}

	category := strings.ToLower(field("category"))
	if _, ok := knownCategories[category]; !ok {
		category = "other"
	}

	return query.UploadRequest{
		Name:        name,
		Category:    category,
		Location:    interfaces.Coordinates{Lat: lat, Lng: lng},
		Description: field("description"),
	}, true
}

func resolveMasterKey(cCtx *cli.Context) ([]byte, error) {
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
	return nil, errors.New("one of key-seed or key-passphrase is required")
}
