// Package query implements the range query orchestrator: candidate pruning
// via spatial index prefixes, parallel predicate evaluation on a bounded
// worker pool, deterministic aggregation, and audit logging. It also owns
// the operations that must coordinate with queries: batched uploads,
// deletes, and exclusive key rotation.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Avishek-7/eplq-backend/cryptoutils"
	"github.com/Avishek-7/eplq-backend/geoindex"
	"github.com/Avishek-7/eplq-backend/interfaces"
	"github.com/Avishek-7/eplq-backend/metrics"
	"github.com/Avishek-7/eplq-backend/predicate"
)

// Config tunes the engine. Zero values fall back to the defaults below.
type Config struct {
	// IndexPrecision is the spatial index key length in base-32 characters.
	IndexPrecision int

	// BatchSize chunks bulk uploads, clears, and rotation rewrites.
	BatchSize int

	// Workers bounds the per-query evaluation pool.
	Workers int

	// StoreTimeout applies to every store I/O.
	StoreTimeout time.Duration

	// MaxConcurrentPerUser caps simultaneous queries per requester.
	MaxConcurrentPerUser int

	// RatePerUser and RateBurst configure the per-requester token bucket.
	RatePerUser float64
	RateBurst   int

	// DisablePruning forces full scans; used to measure pruning and as an
	// escape hatch if index keys were written at a different precision.
	DisablePruning bool
}

func (c Config) withDefaults() Config {
	if c.IndexPrecision <= 0 {
		c.IndexPrecision = geoindex.DefaultPrecision
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 10 * time.Second
	}
	if c.MaxConcurrentPerUser <= 0 {
		c.MaxConcurrentPerUser = 4
	}
	if c.RatePerUser <= 0 {
		c.RatePerUser = 10
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 20
	}
	return c
}

// matchEvaluator is the subset of predicate.Evaluator the engine drives
// during a scan. Narrowing it to an interface keeps the worker pool
// observable in tests without real crypto in the loop.
type matchEvaluator interface {
	Evaluate(pred interfaces.QueryPredicate, poi interfaces.POIRecord) (match bool, ok bool)
	DecryptCenter(pred interfaces.QueryPredicate) (interfaces.Coordinates, error)
	DecryptRadius(pred interfaces.QueryPredicate) (float64, error)
}

// Engine executes range queries against the POI store.
type Engine struct {
	cfg       Config
	store     interfaces.POIStore
	keys      interfaces.KeyService
	codec     *cryptoutils.Codec
	evaluator matchEvaluator
	auditSink interfaces.AuditSink
	limiter   *userLimiter
	gate      rotationGate
	log       *slog.Logger
}

// NewEngine wires an engine from its dependencies.
func NewEngine(cfg Config, store interfaces.POIStore, keys interfaces.KeyService, auditSink interfaces.AuditSink, log *slog.Logger) *Engine {
	cfg = cfg.withDefaults()
	codec := cryptoutils.NewCodec(keys)

	return &Engine{
		cfg:       cfg,
		store:     store,
		keys:      keys,
		codec:     codec,
		evaluator: predicate.NewEvaluator(codec),
		auditSink: auditSink,
		limiter:   newUserLimiter(cfg.MaxConcurrentPerUser, cfg.RatePerUser, cfg.RateBurst),
		log:       log,
	}
}

// Codec exposes the engine's codec for the predicate builder endpoint.
func (e *Engine) Codec() *cryptoutils.Codec {
	return e.codec
}

// IndexPrecision reports the configured spatial index key length.
func (e *Engine) IndexPrecision() int {
	return e.cfg.IndexPrecision
}

// UploadRequest is one POI to ingest. Coordinates are validated at this
// boundary; past it they exist only transiently, for indexing and sealing.
type UploadRequest struct {
	Name        string
	Category    string
	Location    interfaces.Coordinates
	Description string
}

// Validate checks the request before any crypto or store work.
func (r UploadRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", interfaces.ErrValidation)
	}
	if strings.TrimSpace(r.Category) == "" {
		return fmt.Errorf("%w: category is required", interfaces.ErrValidation)
	}
	return r.Location.Validate()
}

// Upload encrypts, indexes, and stores one POI. Returns the new record id.
func (e *Engine) Upload(ctx context.Context, uploadedBy string, req UploadRequest) (string, error) {
	if err := e.gate.enter(); err != nil {
		return "", err
	}
	defer e.gate.leave()

	rec, err := e.sealRecord(uploadedBy, req)
	if err != nil {
		return "", err
	}

	if err := e.storePut(ctx, rec); err != nil {
		return "", err
	}

	metrics.UploadsTotal.Inc()
	return rec.ID, nil
}

// UploadBatch ingests many POIs in fixed-size atomically committed chunks.
// 1200 records at the default batch size commit as exactly 3 batches. The
// progress callback, if set, runs after each committed chunk.
func (e *Engine) UploadBatch(ctx context.Context, uploadedBy string, reqs []UploadRequest, onProgress func(interfaces.BatchProgress)) (int, error) {
	if err := e.gate.enter(); err != nil {
		return 0, err
	}
	defer e.gate.leave()

	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
	}

	uploaded := 0
	batchNum := 0
	for start := 0; start < len(reqs); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(reqs) {
			end = len(reqs)
		}

		batch := make([]interfaces.POIRecord, 0, end-start)
		for _, req := range reqs[start:end] {
			rec, err := e.sealRecord(uploadedBy, req)
			if err != nil {
				return uploaded, err
			}
			batch = append(batch, rec)
		}

		if err := e.storePutBatch(ctx, batch); err != nil {
			return uploaded, err
		}

		uploaded += len(batch)
		batchNum++
		metrics.UploadsTotal.Add(float64(len(batch)))
		metrics.UploadBatchesTotal.Inc()

		if onProgress != nil {
			onProgress(interfaces.BatchProgress{Batch: batchNum, Uploaded: uploaded, Total: len(reqs)})
		}
	}

	return uploaded, nil
}

// Search executes one range query: validate, prune, evaluate in parallel,
// aggregate, audit. No intermediate state outlives the call.
func (e *Engine) Search(ctx context.Context, requesterID string, pred interfaces.QueryPredicate) (interfaces.QueryResult, error) {
	if err := e.gate.enter(); err != nil {
		metrics.QueriesTotal.WithLabelValues("busy_rotating").Inc()
		return interfaces.QueryResult{}, err
	}
	defer e.gate.leave()

	if err := pred.Validate(); err != nil {
		metrics.QueriesTotal.WithLabelValues("invalid").Inc()
		return interfaces.QueryResult{}, err
	}

	if err := e.limiter.acquire(requesterID); err != nil {
		metrics.ThrottledTotal.Inc()
		metrics.QueriesTotal.WithLabelValues("throttled").Inc()
		return interfaces.QueryResult{}, err
	}
	defer e.limiter.release(requesterID)

	start := time.Now()

	snapshot, err := e.storeSnapshot(ctx)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("store_error").Inc()
		return interfaces.QueryResult{}, err
	}

	candidates := e.prune(pred, snapshot)
	matches, failures := e.evaluate(ctx, pred, candidates)

	// Deterministic output regardless of worker completion order.
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })

	result := interfaces.QueryResult{
		QueryID:         pred.QueryID,
		Matches:         matches,
		TotalScanned:    len(candidates),
		DecryptFailures: failures,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}

	entry := interfaces.AuditEntry{
		QueryID:     pred.QueryID,
		RequesterID: requesterID,
		ResultCount: len(matches),
		Timestamp:   time.Now().UTC(),
	}
	if err := e.auditSink.Record(ctx, entry); err != nil {
		e.log.Warn("Failed to record audit entry", slog.String("queryId", pred.QueryID), "err", err)
	}

	metrics.QueriesTotal.WithLabelValues("ok").Inc()
	metrics.QueryDurationMs.Observe(float64(result.ExecutionTimeMs))
	metrics.CandidatesScanned.Observe(float64(len(candidates)))

	return result, nil
}

// ListPOIs returns stored records, most recent first, without decrypting.
func (e *Engine) ListPOIs(ctx context.Context, limit int) ([]interfaces.POIRecord, error) {
	if err := e.gate.enter(); err != nil {
		return nil, err
	}
	defer e.gate.leave()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	recs, err := e.store.List(ctx, limit)
	if err != nil {
		return nil, e.mapStoreErr(ctx, err)
	}
	return recs, nil
}

// DeletePOI removes one record.
func (e *Engine) DeletePOI(ctx context.Context, id string) error {
	if err := e.gate.enter(); err != nil {
		return err
	}
	defer e.gate.leave()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	if err := e.store.Delete(ctx, id); err != nil {
		return e.mapStoreErr(ctx, err)
	}
	return nil
}

// ClearPOIs removes every record.
func (e *Engine) ClearPOIs(ctx context.Context) error {
	if err := e.gate.enter(); err != nil {
		return err
	}
	defer e.gate.leave()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	if err := e.store.Clear(ctx); err != nil {
		return e.mapStoreErr(ctx, err)
	}
	return nil
}

// sealRecord derives the index key from the transient plaintext
// coordinates, seals the payload, and assembles the stored record. The
// plaintext does not survive this function.
func (e *Engine) sealRecord(uploadedBy string, req UploadRequest) (interfaces.POIRecord, error) {
	if err := req.Validate(); err != nil {
		return interfaces.POIRecord{}, err
	}

	payload, err := sealPayload(e.codec, req.Location, req.Description)
	if err != nil {
		return interfaces.POIRecord{}, err
	}

	return interfaces.POIRecord{
		ID:               uuid.NewString(),
		Name:             req.Name,
		EncryptedPayload: payload,
		SpatialIndexKey:  geoindex.Encode(req.Location.Lat, req.Location.Lng, e.cfg.IndexPrecision),
		Category:         req.Category,
		UploadedBy:       uploadedBy,
		UploadedAt:       time.Now().UTC(),
	}, nil
}

// prune filters the snapshot down to candidates whose spatial index key
// falls inside the cover of the predicate's circle. Decrypting the radius
// and center happens inside the evaluator's trust boundary; on any
// decryption failure pruning degrades to a full scan and the evaluator
// rejects the candidates one by one.
func (e *Engine) prune(pred interfaces.QueryPredicate, snapshot []interfaces.POIRecord) []interfaces.POIRecord {
	candidates := snapshot
	if pred.Category != "" {
		candidates = make([]interfaces.POIRecord, 0, len(snapshot))
		for _, rec := range snapshot {
			if rec.Category == pred.Category {
				candidates = append(candidates, rec)
			}
		}
	}

	if e.cfg.DisablePruning {
		return candidates
	}

	center, err := e.evaluator.DecryptCenter(pred)
	if err != nil {
		return candidates
	}
	radius, err := e.evaluator.DecryptRadius(pred)
	if err != nil || radius <= 0 {
		return candidates
	}

	cover := geoindex.CoverRadius(center.Lat, center.Lng, radius, e.cfg.IndexPrecision)
	if len(cover) == 0 {
		return candidates
	}

	pruned := make([]interfaces.POIRecord, 0, len(candidates))
	for _, rec := range candidates {
		for _, prefix := range cover {
			if strings.HasPrefix(rec.SpatialIndexKey, prefix) {
				pruned = append(pruned, rec)
				break
			}
		}
	}
	metrics.CandidatesPruned.Add(float64(len(candidates) - len(pruned)))
	return pruned
}

// evaluate fans candidates out over the bounded worker pool. Evaluation is
// stateless per candidate; results are collected and ordered by the caller.
func (e *Engine) evaluate(ctx context.Context, pred interfaces.QueryPredicate, candidates []interfaces.POIRecord) ([]interfaces.POIMatch, int) {
	workers := e.cfg.Workers
	if workers > len(candidates) {
		workers = len(candidates)
	}
	if workers == 0 {
		return nil, 0
	}

	jobs := make(chan interfaces.POIRecord)
	type verdict struct {
		match interfaces.POIMatch
		ok    bool
		fail  bool
	}
	verdicts := make(chan verdict)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				matched, clean := e.evaluator.Evaluate(pred, rec)
				verdicts <- verdict{
					match: interfaces.POIMatch{ID: rec.ID, Name: rec.Name, Category: rec.Category},
					ok:    matched,
					fail:  !clean,
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, rec := range candidates {
			select {
			case jobs <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(verdicts)
	}()

	var matches []interfaces.POIMatch
	failures := 0
	for v := range verdicts {
		if v.fail {
			failures++
			metrics.DecryptFailuresTotal.Inc()
			continue
		}
		if v.ok {
			matches = append(matches, v.match)
		}
	}
	return matches, failures
}

func (e *Engine) storeSnapshot(ctx context.Context) ([]interfaces.POIRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	snapshot, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, e.mapStoreErr(ctx, err)
	}
	return snapshot, nil
}

func (e *Engine) storePut(ctx context.Context, rec interfaces.POIRecord) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	if err := e.store.Put(ctx, rec); err != nil {
		return e.mapStoreErr(ctx, err)
	}
	return nil
}

func (e *Engine) storePutBatch(ctx context.Context, recs []interfaces.POIRecord) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	if err := e.store.PutBatch(ctx, recs); err != nil {
		return e.mapStoreErr(ctx, err)
	}
	return nil
}

// mapStoreErr resolves a store failure to the typed outcome the caller
// handles: deadline expiry becomes ErrTimeout, anything else keeps or
// gains ErrStoreUnavailable.
func (e *Engine) mapStoreErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", interfaces.ErrTimeout, err)
	}
	if errors.Is(err, interfaces.ErrStoreUnavailable) || errors.Is(err, interfaces.ErrPOINotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
}

// sealPayload JSON-encodes and encrypts the sensitive POI fields.
func sealPayload(codec *cryptoutils.Codec, loc interfaces.Coordinates, description string) (interfaces.EncryptedToken, error) {
	return encodeAndSeal(codec, interfaces.POIPayload{
		Lat:         loc.Lat,
		Lng:         loc.Lng,
		Description: description,
	})
}
