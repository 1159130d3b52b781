package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"anchord/internal/batch"
	"anchord/internal/event"
	"anchord/internal/merkle"
)

// Schema for the anchord audit store.
const schema = `
CREATE TABLE IF NOT EXISTS events (
    hash              TEXT PRIMARY KEY,
    id                TEXT NOT NULL,
    type              TEXT NOT NULL,
    site_id           TEXT NOT NULL,
    asset_id          TEXT,
    source_ts_ns      INTEGER NOT NULL,
    origin_type       TEXT NOT NULL,
    origin_id         TEXT NOT NULL,
    payload           TEXT,
    details           TEXT,
    signature         BLOB NOT NULL,
    scheme            TEXT NOT NULL,
    stored_at_ns      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_id ON events(id);
CREATE INDEX IF NOT EXISTS idx_events_site ON events(site_id, source_ts_ns);
CREATE INDEX IF NOT EXISTS idx_events_source_ts ON events(source_ts_ns);

CREATE TABLE IF NOT EXISTS batches (
    id                TEXT PRIMARY KEY,
    merkle_root       TEXT NOT NULL,
    event_count       INTEGER NOT NULL,
    event_ids         TEXT NOT NULL,
    event_hashes      TEXT NOT NULL,
    created_at_ns     INTEGER NOT NULL,
    status            TEXT NOT NULL,
    tx_hash           TEXT,
    block_number      INTEGER,
    anchored_at_ns    INTEGER,
    error             TEXT,
    retry_count       INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);
CREATE INDEX IF NOT EXISTS idx_batches_created ON batches(created_at_ns);
`

// SQLite is the SQLite-backed audit store.
type SQLite struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and
// applies the schema.
func Open(path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// PersistEvent stores a signed event. Re-inserting the same content hash
// is a no-op; events are immutable.
func (s *SQLite) PersistEvent(ctx context.Context, se *event.SignedEvent) error {
	var payload []byte
	if se.Payload != nil {
		var err error
		payload, err = json.Marshal(se.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO events
		(hash, id, type, site_id, asset_id, source_ts_ns, origin_type, origin_id, payload, details, signature, scheme, stored_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		se.Hash, se.ID, string(se.Type), se.SiteID, se.AssetID,
		se.SourceTimestamp.UnixNano(), string(se.Origin), se.OriginID,
		payload, se.Details, se.Signature, se.Scheme, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// EventByHash returns the signed event with the given hex hash.
func (s *SQLite) EventByHash(ctx context.Context, hash string) (*event.SignedEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hash, id, type, site_id, asset_id, source_ts_ns, origin_type, origin_id, payload, details, signature, scheme
		FROM events WHERE hash = ?`, hash)
	se, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return se, nil
}

// EventsInRange returns events with source timestamps in [from, to).
func (s *SQLite) EventsInRange(ctx context.Context, from, to time.Time) ([]*event.SignedEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, id, type, site_id, asset_id, source_ts_ns, origin_type, origin_id, payload, details, signature, scheme
		FROM events WHERE source_ts_ns >= ? AND source_ts_ns < ?
		ORDER BY source_ts_ns`, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*event.SignedEvent
	for rows.Next() {
		se, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*event.SignedEvent, error) {
	var (
		se       event.SignedEvent
		typ      string
		origin   string
		assetID  sql.NullString
		sourceNs int64
		payload  []byte
		details  sql.NullString
	)
	err := row.Scan(&se.Hash, &se.ID, &typ, &se.SiteID, &assetID, &sourceNs,
		&origin, &se.OriginID, &payload, &details, &se.Signature, &se.Scheme)
	if err != nil {
		return nil, err
	}

	se.Type = event.Type(typ)
	se.Origin = event.Origin(origin)
	se.AssetID = assetID.String
	se.Details = details.String
	se.SourceTimestamp = time.Unix(0, sourceNs).UTC()

	if len(payload) > 0 {
		p, err := event.DecodePayload(se.Type, payload)
		if err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		se.Payload = p
	}
	return &se, nil
}

// PersistBatch stores a newly created batch.
func (s *SQLite) PersistBatch(ctx context.Context, b *batch.StoredBatch) error {
	ids, err := json.Marshal(b.EventIDs)
	if err != nil {
		return fmt.Errorf("encode event ids: %w", err)
	}
	hashes := make([]string, len(b.EventHashes))
	for i, h := range b.EventHashes {
		hashes[i] = merkle.EncodeHex(h)
	}
	hashesJSON, err := json.Marshal(hashes)
	if err != nil {
		return fmt.Errorf("encode event hashes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO batches
		(id, merkle_root, event_count, event_ids, event_hashes, created_at_ns, status, tx_hash, block_number, anchored_at_ns, error, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, merkle.EncodeHex(b.MerkleRoot), b.EventCount, ids, hashesJSON,
		b.CreatedAt.UnixNano(), string(b.Status), b.TxHash, b.BlockNumber,
		anchoredNs(b), b.Error, b.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// UpdateBatchStatus mirrors a batch's mutable fields to storage.
func (s *SQLite) UpdateBatchStatus(ctx context.Context, b *batch.StoredBatch) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE batches
		SET status = ?, tx_hash = ?, block_number = ?, anchored_at_ns = ?, error = ?, retry_count = ?
		WHERE id = ?`,
		string(b.Status), b.TxHash, b.BlockNumber, anchoredNs(b), b.Error, b.RetryCount, b.ID,
	)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	return nil
}

// BatchByID returns a stored batch, with its Merkle tree rebuilt from
// the persisted leaf hashes.
func (s *SQLite) BatchByID(ctx context.Context, id string) (*batch.StoredBatch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, merkle_root, event_count, event_ids, event_hashes, created_at_ns, status, tx_hash, block_number, anchored_at_ns, error, retry_count
		FROM batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// BatchesByStatus returns all batches in the given state, oldest first.
func (s *SQLite) BatchesByStatus(ctx context.Context, status batch.Status) ([]*batch.StoredBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, merkle_root, event_count, event_ids, event_hashes, created_at_ns, status, tx_hash, block_number, anchored_at_ns, error, retry_count
		FROM batches WHERE status = ? ORDER BY created_at_ns`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()
	return collectBatches(rows)
}

// RecentBatches returns up to limit batches, newest first.
func (s *SQLite) RecentBatches(ctx context.Context, limit int) ([]*batch.StoredBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, merkle_root, event_count, event_ids, event_hashes, created_at_ns, status, tx_hash, block_number, anchored_at_ns, error, retry_count
		FROM batches ORDER BY created_at_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()
	return collectBatches(rows)
}

func collectBatches(rows *sql.Rows) ([]*batch.StoredBatch, error) {
	var out []*batch.StoredBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBatch(row rowScanner) (*batch.StoredBatch, error) {
	var (
		b          batch.StoredBatch
		rootHex    string
		idsJSON    []byte
		hashesJSON []byte
		createdNs  int64
		status     string
		txHash     sql.NullString
		blockNum   sql.NullInt64
		anchoredAt sql.NullInt64
		errMsg     sql.NullString
	)
	err := row.Scan(&b.ID, &rootHex, &b.EventCount, &idsJSON, &hashesJSON,
		&createdNs, &status, &txHash, &blockNum, &anchoredAt, &errMsg, &b.RetryCount)
	if err != nil {
		return nil, err
	}

	root, err := merkle.DecodeHex(rootHex)
	if err != nil {
		return nil, err
	}
	b.MerkleRoot = root

	if err := json.Unmarshal(idsJSON, &b.EventIDs); err != nil {
		return nil, fmt.Errorf("decode event ids: %w", err)
	}
	var hashes []string
	if err := json.Unmarshal(hashesJSON, &hashes); err != nil {
		return nil, fmt.Errorf("decode event hashes: %w", err)
	}
	b.EventHashes = make([]merkle.Hash, len(hashes))
	for i, h := range hashes {
		b.EventHashes[i], err = merkle.DecodeHex(h)
		if err != nil {
			return nil, err
		}
	}

	// Rebuild the tree so proofs can be answered from a loaded batch.
	if len(b.EventHashes) > 0 {
		tree, err := merkle.Build(b.EventHashes)
		if err != nil {
			return nil, err
		}
		b.Tree = tree
	}

	b.CreatedAt = time.Unix(0, createdNs).UTC()
	b.Status = batch.Status(status)
	b.TxHash = txHash.String
	b.BlockNumber = uint64(blockNum.Int64)
	if anchoredAt.Valid && anchoredAt.Int64 > 0 {
		b.AnchoredAt = time.Unix(0, anchoredAt.Int64).UTC()
	}
	b.Error = errMsg.String
	return &b, nil
}

func anchoredNs(b *batch.StoredBatch) int64 {
	if b.AnchoredAt.IsZero() {
		return 0
	}
	return b.AnchoredAt.UnixNano()
}
