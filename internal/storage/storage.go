// Package storage defines the archival boundary for dispatched signal
// candidates (spec.md §4.8, §6 "Persisted state: none required by the
// core"). The core signal manager holds a CandidateSink reference and
// defaults to NoopSink, so persistence is a client of messages rather than
// a dependency the pipeline reads back from.
package storage

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/detect/base"
)

// Record is the serializable, signal-logger-compatible archival row
// (spec.md §4.8 "Persisted state"): {timestamp_iso, detector, side, price,
// confidence, metadata_json}.
type Record struct {
	TimestampISO string
	Detector     string
	Side         string
	PriceTicks   int64
	Confidence   float64
	MetadataJSON string
}

// CandidateSink receives accepted signal candidates for archival. Writers
// must not block the signal manager's dispatch path for long; callers are
// expected to run Write from the storage worker, not the hot path.
type CandidateSink interface {
	Write(ctx context.Context, c base.Candidate) error
	Close() error
}

// NoopSink discards every candidate. It is the signal manager's default so
// the core never depends on a live database to run.
type NoopSink struct{}

// Write implements CandidateSink.
func (NoopSink) Write(context.Context, base.Candidate) error { return nil }

// Close implements CandidateSink.
func (NoopSink) Close() error { return nil }

// PostgresSink archives candidates to a `signal_candidates` table.
type PostgresSink struct {
	db *sqlx.DB
}

// NewPostgresSink wraps an already-open *sqlx.DB.
func NewPostgresSink(db *sqlx.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

const insertCandidateSQL = `
INSERT INTO signal_candidates
	(id, detector_id, type, side, price_ticks, confidence, timestamp_ms, correlation_id, metadata_json)
VALUES
	($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// Write inserts one candidate row.
func (s *PostgresSink) Write(ctx context.Context, c base.Candidate) error {
	metadataJSON := encodeMetadata(c.Metadata)
	side := "buy"
	if c.Side != 0 {
		side = "sell"
	}
	_, err := s.db.ExecContext(ctx, insertCandidateSQL,
		c.ID, c.DetectorID, string(c.Type), side, int64(c.PriceTicks),
		c.Confidence, c.TimestampMs, c.CorrelationID, metadataJSON,
	)
	return err
}

// Close releases the underlying connection pool.
func (s *PostgresSink) Close() error { return s.db.Close() }

// encodeMetadata serializes a candidate's metadata with deterministic key
// order (json.Marshal sorts map keys), so the same candidate always
// archives to the same metadata_json (spec.md §8 "byte-identical").
func encodeMetadata(m map[string]float64) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}
