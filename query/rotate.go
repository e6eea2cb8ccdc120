package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Avishek-7/eplq-backend/cryptoutils"
	"github.com/Avishek-7/eplq-backend/interfaces"
	"github.com/Avishek-7/eplq-backend/metrics"
)

// RotateKeys replaces the symmetric key and re-encrypts the full POI store
// under it. The operation is exclusive: the gate rejects new queries and
// uploads with ErrBusyRotating, in-flight work drains first, and traffic
// resumes only after the rewrite pass completes.
//
// Records whose payload no longer decrypts under the outgoing key are kept
// as-is and counted; their ciphertext was already dead and rotation does
// not resurrect or drop them.
func (e *Engine) RotateKeys(ctx context.Context, newKey []byte) error {
	if err := e.gate.beginRotation(); err != nil {
		return err
	}
	defer e.gate.endRotation()

	start := time.Now()
	e.log.Info("Key rotation started", slog.Uint64("fromVersion", e.keys.KeyVersion()))

	// Read and decrypt everything under the outgoing key before the swap.
	snapCtx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	snapshot, err := e.store.Snapshot(snapCtx)
	cancel()
	if err != nil {
		return e.mapStoreErr(snapCtx, err)
	}

	type opened struct {
		rec     interfaces.POIRecord
		payload interfaces.POIPayload
	}
	reencrypt := make([]opened, 0, len(snapshot))
	undecryptable := 0

	for _, rec := range snapshot {
		raw, err := e.codec.Decrypt(rec.EncryptedPayload)
		if err != nil {
			undecryptable++
			continue
		}
		var payload interfaces.POIPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			undecryptable++
			continue
		}
		reencrypt = append(reencrypt, opened{rec: rec, payload: payload})
	}

	if err := e.keys.SetKey(newKey); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrValidation, err)
	}

	// Rewrite in batches under the new key. The index key is not
	// re-derived: it was fixed at creation and the coordinates have not
	// changed.
	rewritten := 0
	for offset := 0; offset < len(reencrypt); offset += e.cfg.BatchSize {
		end := offset + e.cfg.BatchSize
		if end > len(reencrypt) {
			end = len(reencrypt)
		}

		batch := make([]interfaces.POIRecord, 0, end-offset)
		for _, op := range reencrypt[offset:end] {
			token, err := encodeAndSeal(e.codec, op.payload)
			if err != nil {
				return fmt.Errorf("failed to re-encrypt record %s: %w", op.rec.ID, err)
			}
			rec := op.rec
			rec.EncryptedPayload = token
			batch = append(batch, rec)
		}

		if err := e.storePutBatch(ctx, batch); err != nil {
			return fmt.Errorf("rotation rewrite failed after %d records: %w", rewritten, err)
		}
		rewritten += len(batch)
	}

	metrics.KeyRotationsTotal.Inc()
	e.log.Info("Key rotation completed",
		slog.Uint64("toVersion", e.keys.KeyVersion()),
		slog.Int("rewritten", rewritten),
		slog.Int("undecryptable", undecryptable),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// Rotating reports whether a rotation currently holds the engine.
func (e *Engine) Rotating() bool {
	return e.gate.rotating.Load()
}

func encodeAndSeal(codec *cryptoutils.Codec, payload interfaces.POIPayload) (interfaces.EncryptedToken, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return codec.Encrypt(raw)
}
