// Package compliance turns signed events and anchored batches into audit
// records. A record captures what could be cryptographically proven about an
// event: its signature, its membership in a batch, and that batch's anchor.
// Proof failures are recorded as issues on the record, never raised as errors;
// they are audit findings, not faults.
package compliance

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"anchord/internal/batch"
	"anchord/internal/event"
	"anchord/internal/merkle"
)

// Issue severities.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Issue codes.
const (
	CodeMissingSignature = "missing_signature"
	CodeBadSignature     = "bad_signature"
	CodeMissingSiteID    = "missing_site_id"
	CodeMissingOriginID  = "missing_origin_id"
	CodeZeroTimestamp    = "zero_timestamp"
	CodeFutureTimestamp  = "future_timestamp"
	CodePastRetention    = "past_retention"
	CodeHashMismatch     = "hash_mismatch"
	CodeProofInvalid     = "proof_invalid"
)

// Issue is a single compliance finding on an event.
type Issue struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// AuditRecord joins a signed event to its batch and anchor state.
type AuditRecord struct {
	EventHash         string    `json:"event_hash"`
	EventID           string    `json:"event_id"`
	SiteID            string    `json:"site_id"`
	SourceTimestamp   time.Time `json:"source_timestamp"`
	SignatureVerified bool      `json:"signature_verified"`
	AnchorVerified    bool      `json:"anchor_verified"`
	MerkleProofValid  bool      `json:"merkle_proof_valid"`
	BatchID           string    `json:"batch_id,omitempty"`
	MerkleRoot        string    `json:"merkle_root,omitempty"`
	TxHash            string    `json:"tx_hash,omitempty"`
	BlockNumber       uint64    `json:"block_number,omitempty"`
	Compliant         bool      `json:"compliant"`
	Issues            []Issue   `json:"issues,omitempty"`
	CheckedAt         time.Time `json:"checked_at"`
}

func (r *AuditRecord) addIssue(code string, sev Severity, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{
		Code:     code,
		Severity: sev,
		Message:  fmt.Sprintf(format, args...),
	})
	r.Compliant = false
}

// Reader is the slice of the store the verifier needs. Batches and events are
// read-only inputs here; the verifier never writes them back.
type Reader interface {
	EventsInRange(ctx context.Context, from, to time.Time) ([]*event.SignedEvent, error)
	BatchesByStatus(ctx context.Context, status batch.Status) ([]*batch.StoredBatch, error)
}

// Config tunes the structural checks.
type Config struct {
	// ClockSkew is how far into the future a source timestamp may sit
	// before it is flagged. Gateways with drifting clocks are common.
	ClockSkew time.Duration
	// Retention is the horizon beyond which events are flagged as too old
	// to audit. Zero disables the check.
	Retention time.Duration
}

// DefaultConfig returns the verifier defaults.
func DefaultConfig() Config {
	return Config{
		ClockSkew: 5 * time.Minute,
		Retention: 0,
	}
}

// Verifier owns audit records. It is safe for concurrent use.
type Verifier struct {
	mu       sync.RWMutex
	records  map[string]*AuditRecord
	reader   Reader
	verifier event.Signer
	cfg      Config
	now      func() time.Time
}

// NewVerifier creates a verifier. reader may be nil when only the direct
// CreateAuditRecord/VerifyEventAnchor entry points are used.
func NewVerifier(reader Reader, sigVerifier event.Signer, cfg Config) *Verifier {
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = DefaultConfig().ClockSkew
	}
	return &Verifier{
		records:  make(map[string]*AuditRecord),
		reader:   reader,
		verifier: sigVerifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// CreateAuditRecord runs the structural and signature checks on a signed
// event and registers the resulting record. Calling it again for the same
// event hash replaces the previous record.
func (v *Verifier) CreateAuditRecord(se *event.SignedEvent) *AuditRecord {
	now := v.now()
	rec := &AuditRecord{
		EventHash:       se.Hash,
		EventID:         se.ID,
		SiteID:          se.SiteID,
		SourceTimestamp: se.SourceTimestamp,
		Compliant:       true,
		CheckedAt:       now,
	}

	if se.SiteID == "" {
		rec.addIssue(CodeMissingSiteID, SeverityCritical, "event has no site id")
	}
	if se.OriginID == "" {
		rec.addIssue(CodeMissingOriginID, SeverityCritical, "event has no origin id")
	}
	if se.SourceTimestamp.IsZero() {
		rec.addIssue(CodeZeroTimestamp, SeverityCritical, "source timestamp is zero")
	} else {
		if se.SourceTimestamp.After(now.Add(v.cfg.ClockSkew)) {
			rec.addIssue(CodeFutureTimestamp, SeverityWarning,
				"source timestamp %s is more than %s ahead of audit time",
				se.SourceTimestamp.UTC().Format(time.RFC3339), v.cfg.ClockSkew)
		}
		if v.cfg.Retention > 0 && se.SourceTimestamp.Before(now.Add(-v.cfg.Retention)) {
			rec.addIssue(CodePastRetention, SeverityWarning,
				"source timestamp %s is past the %s retention horizon",
				se.SourceTimestamp.UTC().Format(time.RFC3339), v.cfg.Retention)
		}
	}

	if len(se.Signature) == 0 {
		rec.addIssue(CodeMissingSignature, SeverityCritical, "event has no signature")
	} else {
		// The stored hash is checked against a recomputation first so a
		// valid signature over a tampered hash cannot pass.
		recomputed, err := event.HashEvent(&se.Event)
		digest, derr := event.HashBytes(se.Hash)
		switch {
		case err != nil:
			rec.addIssue(CodeHashMismatch, SeverityCritical, "event hash cannot be recomputed: %v", err)
		case derr != nil:
			rec.addIssue(CodeHashMismatch, SeverityCritical, "stored hash is malformed: %v", derr)
		case recomputed != se.Hash:
			rec.addIssue(CodeHashMismatch, SeverityCritical,
				"stored hash %s does not match recomputed hash %s", se.Hash, recomputed)
		case v.verifier != nil && !v.verifier.Verify(digest, se.Signature):
			rec.addIssue(CodeBadSignature, SeverityCritical, "signature does not verify against event hash")
		default:
			rec.SignatureVerified = true
		}
	}

	v.mu.Lock()
	v.records[se.Hash] = rec
	v.mu.Unlock()
	return rec
}

// VerifyEventAnchor proves an event's membership in an anchored batch. The
// proof is always recomputed from the leaf up; the caller's claim is never
// trusted. Returns whether the proof held. An unknown event hash creates a
// record first so the finding is not lost.
func (v *Verifier) VerifyEventAnchor(eventHash, batchID string, root merkle.Hash, proof []merkle.Hash, index int, txHash string, blockNumber uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, ok := v.records[eventHash]
	if !ok {
		rec = &AuditRecord{EventHash: eventHash, Compliant: true, CheckedAt: v.now()}
		v.records[eventHash] = rec
	}

	rec.BatchID = batchID
	rec.MerkleRoot = merkle.EncodeHex(root)
	rec.TxHash = txHash
	rec.BlockNumber = blockNumber

	leaf, err := merkle.DecodeHex(eventHash)
	if err != nil {
		rec.MerkleProofValid = false
		rec.AnchorVerified = false
		rec.addIssue(CodeProofInvalid, SeverityCritical, "event hash is not a valid leaf hash: %v", err)
		return false
	}

	if !merkle.Verify(leaf, proof, root, index) {
		rec.MerkleProofValid = false
		rec.AnchorVerified = false
		rec.addIssue(CodeProofInvalid, SeverityCritical,
			"inclusion proof for index %d does not reach root %s", index, rec.MerkleRoot)
		return false
	}

	rec.MerkleProofValid = true
	rec.AnchorVerified = txHash != ""
	return true
}

// Record returns the audit record for an event hash.
func (v *Verifier) Record(eventHash string) (*AuditRecord, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, ok := v.records[eventHash]
	if !ok {
		return nil, false
	}
	cp := *rec
	cp.Issues = append([]Issue(nil), rec.Issues...)
	return &cp, true
}

// AuditStored sweeps the store for events in [from, to), creates audit
// records for each, and proves membership for every event found in an
// anchored batch. Events outside any anchored batch keep AnchorVerified
// false, which is a normal state for recent events.
func (v *Verifier) AuditStored(ctx context.Context, from, to time.Time) ([]*AuditRecord, error) {
	if v.reader == nil {
		return nil, fmt.Errorf("compliance: no store reader configured")
	}

	events, err := v.reader.EventsInRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("compliance: query events: %w", err)
	}

	anchored, err := v.reader.BatchesByStatus(ctx, batch.StatusAnchored)
	if err != nil {
		return nil, fmt.Errorf("compliance: query anchored batches: %w", err)
	}

	type membership struct {
		b     *batch.StoredBatch
		index int
	}
	byHash := make(map[string]membership)
	for _, b := range anchored {
		for i, h := range b.EventHashes {
			byHash[hex.EncodeToString(h[:])] = membership{b: b, index: i}
		}
	}

	out := make([]*AuditRecord, 0, len(events))
	for _, se := range events {
		rec := v.CreateAuditRecord(se)
		if m, ok := byHash[se.Hash]; ok && m.b.Tree != nil {
			p, err := m.b.Tree.Proof(m.index)
			if err == nil {
				v.VerifyEventAnchor(se.Hash, m.b.ID, m.b.Tree.Root, p.Siblings, m.index, m.b.TxHash, m.b.BlockNumber)
			}
		}
		if updated, ok := v.Record(se.Hash); ok {
			rec = updated
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].SourceTimestamp.Before(out[j].SourceTimestamp)
	})
	return out, nil
}
