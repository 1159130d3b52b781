package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"anchord/internal/batch"
	"anchord/internal/compliance"
	"anchord/internal/merkle"
)

const maxBodyBytes = 1 << 20

// Handler carries the handlers' dependencies.
type Handler struct {
	Service  *Service
	Manager  *batch.Manager
	Verifier *compliance.Verifier
}

// Stats serves GET /api/v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "stats": h.Manager.Stats()})
}

// History serves GET /api/v1/history?limit=.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": h.Manager.History(limit)})
}

// Pending serves GET /api/v1/pending: buffered, not-yet-batched event hashes.
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	hashes := h.Manager.Pending()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(hashes), "hashes": hashes})
}

// Flush serves POST /api/v1/flush: forces a batch from the current buffer.
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	b := h.Manager.Flush(r.Context())
	if b == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "batch": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "batch": b.Summary()})
}

// configUpdate is the body of PUT /api/v1/config.
type configUpdate struct {
	MaxBatchSize  *int  `json:"max_batch_size,omitempty"`
	MinBatchSize  *int  `json:"min_batch_size,omitempty"`
	MaxBatchAgeMs *int  `json:"max_batch_age_ms,omitempty"`
	MaxPending    *int  `json:"max_pending,omitempty"`
	Enabled       *bool `json:"enabled,omitempty"`
}

// UpdateConfig serves PUT /api/v1/config: runtime-tunable accumulator
// thresholds. Absent fields keep their current values.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var upd configUpdate
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&upd); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload("invalid json"))
		return
	}

	acc := h.Manager.Accumulator()
	limits := acc.Limits()
	if upd.MaxBatchSize != nil {
		limits.MaxBatchSize = *upd.MaxBatchSize
	}
	if upd.MinBatchSize != nil {
		limits.MinBatchSize = *upd.MinBatchSize
	}
	if upd.MaxBatchAgeMs != nil {
		limits.MaxBatchAge = time.Duration(*upd.MaxBatchAgeMs) * time.Millisecond
	}
	if upd.MaxPending != nil {
		limits.MaxPending = *upd.MaxPending
	}
	if upd.Enabled != nil {
		limits.Enabled = *upd.Enabled
	}

	if limits.MaxBatchSize <= 0 || limits.MinBatchSize <= 0 || limits.MinBatchSize > limits.MaxBatchSize || limits.MaxBatchAge <= 0 {
		writeJSON(w, http.StatusBadRequest, errorPayload("invalid accumulator limits"))
		return
	}

	acc.SetLimits(limits)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "limits": map[string]any{
		"max_batch_size":   limits.MaxBatchSize,
		"min_batch_size":   limits.MinBatchSize,
		"max_batch_age_ms": limits.MaxBatchAge.Milliseconds(),
		"max_pending":      limits.MaxPending,
		"enabled":          limits.Enabled,
	}})
}

// Ingest serves POST /api/v1/events.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload("invalid json"))
		return
	}

	res, err := h.Service.Ingest(r.Context(), &req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "event": res})
}

// Proof serves GET /api/v1/batches/{id}/proof/{eventID}. The path value
// may be an event ID or a hex event hash; unknown batch or event is 404.
func (h *Handler) Proof(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")
	eventRef := r.PathValue("eventID")

	b, ok := h.Manager.Batch(batchID)
	if !ok || b.Tree == nil {
		writeJSON(w, http.StatusNotFound, errorPayload("unknown batch"))
		return
	}

	index := -1
	for i, id := range b.EventIDs {
		if id == eventRef {
			index = i
			break
		}
	}
	if index < 0 {
		if leaf, err := merkle.DecodeHex(eventRef); err == nil {
			for i, hash := range b.EventHashes {
				if hash == leaf {
					index = i
					break
				}
			}
		}
	}
	if index < 0 {
		writeJSON(w, http.StatusNotFound, errorPayload("event not in batch"))
		return
	}

	proof, err := b.Tree.Proof(index)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorPayload("proof generation failed"))
		return
	}

	siblings := make([]string, len(proof.Siblings))
	for i, s := range proof.Siblings {
		siblings[i] = merkle.EncodeHex(s)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"batch_id":    b.ID,
		"merkle_root": merkle.EncodeHex(b.Tree.Root),
		"event_hash":  merkle.EncodeHex(b.EventHashes[index]),
		"proof":       siblings,
		"index":       proof.Index,
	})
}

// Retry serves POST /api/v1/batches/{id}/retry: re-anchors a FAILED batch.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	if err := h.Manager.Retry(r.Context(), r.PathValue("id")); err != nil {
		writeJSON(w, http.StatusConflict, errorPayload(err.Error()))
		return
	}
	b, _ := h.Manager.Batch(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "batch": b.Summary()})
}

// verifyRequest is the body of POST /api/v1/verify: a claimed anchor to be
// proven, never trusted.
type verifyRequest struct {
	EventHash   string   `json:"event_hash"`
	BatchID     string   `json:"batch_id"`
	MerkleRoot  string   `json:"merkle_root"`
	Proof       []string `json:"proof"`
	Index       int      `json:"index"`
	TxHash      string   `json:"tx_hash,omitempty"`
	BlockNumber uint64   `json:"block_number,omitempty"`
}

// Verify serves POST /api/v1/verify.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload("invalid json"))
		return
	}

	root, err := merkle.DecodeHex(req.MerkleRoot)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload("invalid merkle root"))
		return
	}
	siblings := make([]merkle.Hash, len(req.Proof))
	for i, s := range req.Proof {
		sib, err := merkle.DecodeHex(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorPayload("invalid proof hash"))
			return
		}
		siblings[i] = sib
	}

	valid := h.Verifier.VerifyEventAnchor(req.EventHash, req.BatchID, root, siblings, req.Index, req.TxHash, req.BlockNumber)
	rec, _ := h.Verifier.Record(req.EventHash)

	status := http.StatusOK
	if !valid {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"ok": valid, "record": rec})
}

// Report serves GET /api/v1/report?from=&to=&format=. The window defaults
// to the last 24 hours.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorPayload("invalid from timestamp"))
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorPayload("invalid to timestamp"))
			return
		}
		to = t
	}

	if _, err := h.Verifier.AuditStored(r.Context(), from, to); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorPayload(err.Error()))
		return
	}
	rep := h.Verifier.Report(from, to)

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_ = rep.Write(w, compliance.FormatText)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "report": rep})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func errorPayload(msg string) map[string]any {
	return map[string]any{"ok": false, "error": msg}
}
