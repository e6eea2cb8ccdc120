package httpserver

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Avishek-7/eplq-backend/interfaces"
	"github.com/Avishek-7/eplq-backend/predicate"
	"github.com/Avishek-7/eplq-backend/query"
)

const (
	// RequesterIDHeader carries the caller identity established by the
	// external auth layer. The core uses it for audit logging and
	// throttling only.
	RequesterIDHeader = "X-Requester-ID"

	// RequesterRoleHeader carries the caller's role. Admin routes require
	// the value "admin".
	RequesterRoleHeader = "X-Requester-Role"

	// maxBodySize is the maximum allowed request body size (4MB; bulk
	// uploads carry whole CSV extracts).
	maxBodySize = 4 * 1024 * 1024
)

// Handler processes HTTP requests for the POI query service.
type Handler struct {
	engine  *query.Engine
	builder *predicate.Builder
	log     *slog.Logger
}

// NewHandler creates a handler over the query engine.
func NewHandler(engine *query.Engine, log *slog.Logger) *Handler {
	return &Handler{
		engine:  engine,
		builder: predicate.NewBuilder(engine.Codec()),
		log:     log,
	}
}

type locationBody struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type uploadPOIRequest struct {
	Name        string       `json:"name"`
	Category    string       `json:"category"`
	Location    locationBody `json:"location"`
	Description string       `json:"description,omitempty"`
}

func (r uploadPOIRequest) toEngineRequest() query.UploadRequest {
	return query.UploadRequest{
		Name:        r.Name,
		Category:    r.Category,
		Location:    interfaces.Coordinates{Lat: r.Location.Lat, Lng: r.Location.Lng},
		Description: r.Description,
	}
}

// HandleUploadPOI serves POST /api/admin/upload-poi.
func (h *Handler) HandleUploadPOI(w http.ResponseWriter, r *http.Request) {
	var req uploadPOIRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	id, err := h.engine.Upload(r.Context(), requesterID(r), req.toEngineRequest())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "poiId": id})
}

// HandleUploadBatch serves POST /api/admin/upload-batch.
func (h *Handler) HandleUploadBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		POIs []uploadPOIRequest `json:"pois"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(req.POIs) == 0 {
		h.writeError(w, r, fmt.Errorf("%w: empty batch", interfaces.ErrValidation))
		return
	}

	reqs := make([]query.UploadRequest, len(req.POIs))
	for i, p := range req.POIs {
		reqs[i] = p.toEngineRequest()
	}

	batches := 0
	uploaded, err := h.engine.UploadBatch(r.Context(), requesterID(r), reqs, func(p interfaces.BatchProgress) {
		batches = p.Batch
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "uploaded": uploaded, "batches": batches})
}

// HandleListPOIs serves GET /api/admin/pois. Payloads stay encrypted;
// the listing never triggers a decryption.
func (h *Handler) HandleListPOIs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.writeError(w, r, fmt.Errorf("%w: invalid limit %q", interfaces.ErrValidation, s))
			return
		}
		if n > 200 {
			n = 200
		}
		limit = n
	}

	pois, err := h.engine.ListPOIs(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"pois": pois, "count": len(pois)})
}

// HandleDeletePOI serves DELETE /api/admin/pois/{id}.
func (h *Handler) HandleDeletePOI(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.writeError(w, r, fmt.Errorf("%w: missing poi id", interfaces.ErrValidation))
		return
	}

	if err := h.engine.DeletePOI(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// HandleClearPOIs serves DELETE /api/admin/pois.
func (h *Handler) HandleClearPOIs(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ClearPOIs(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// HandleRotateKeys serves POST /api/admin/rotate-keys.
func (h *Handler) HandleRotateKeys(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewKeyHex string `json:"newKeyHex"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	newKey, err := hex.DecodeString(req.NewKeyHex)
	if err != nil || len(newKey) < interfaces.KeySize {
		h.writeError(w, r, fmt.Errorf("%w: newKeyHex must be at least %d hex-encoded bytes", interfaces.ErrValidation, interfaces.KeySize))
		return
	}

	if err := h.engine.RotateKeys(r.Context(), newKey); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// HandleGenerateQuery serves POST /api/user/generate-query. The predicate
// is built server side here for thin clients; a native client can run the
// same builder locally and never send plaintext at all.
func (h *Handler) HandleGenerateQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserLocation locationBody `json:"userLocation"`
		Radius       float64      `json:"radius"`
		QueryType    string       `json:"queryType,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	center := interfaces.Coordinates{Lat: req.UserLocation.Lat, Lng: req.UserLocation.Lng}
	pred, err := h.builder.Build(requesterID(r), center, req.Radius, req.QueryType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"encryptedQuery": pred, "queryId": pred.QueryID})
}

// HandleSearchPOIs serves POST /api/user/search-pois.
func (h *Handler) HandleSearchPOIs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EncryptedQuery interfaces.QueryPredicate `json:"encryptedQuery"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.engine.Search(r.Context(), requesterID(r), req.EncryptedQuery)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"result":          result.Matches,
		"count":           len(result.Matches),
		"queryId":         result.QueryID,
		"totalScanned":    result.TotalScanned,
		"executionTimeMs": result.ExecutionTimeMs,
	})
}

// writeError maps typed engine failures onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, interfaces.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, interfaces.ErrPOINotFound):
		status = http.StatusNotFound
	case errors.Is(err, interfaces.ErrThrottled):
		status = http.StatusTooManyRequests
	case errors.Is(err, interfaces.ErrBusyRotating):
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "5")
	case errors.Is(err, interfaces.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, interfaces.ErrStoreUnavailable):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", slog.String("path", r.URL.Path), "err", err)
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: failed to read body", interfaces.ErrValidation)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", interfaces.ErrValidation, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func requesterID(r *http.Request) string {
	if id := r.Header.Get(RequesterIDHeader); id != "" {
		return id
	}
	return "anonymous"
}
