package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"livecheck/internal/submission"
	id "livecheck/pkg/domain"
	"livecheck/pkg/platform/sentinel"
)

const createDecisionsTable = `
CREATE TABLE IF NOT EXISTS verification_decisions (
	session_id      UUID PRIMARY KEY,
	user_id         UUID NOT NULL,
	receipt_id      UUID NOT NULL,
	passed          BOOLEAN NOT NULL,
	liveness_score  DOUBLE PRECISION NOT NULL,
	quality_score   DOUBLE PRECISION NOT NULL,
	accepted        BOOLEAN NOT NULL,
	review_eta      TIMESTAMPTZ,
	decided_at      TIMESTAMPTZ NOT NULL,
	submitted_at    TIMESTAMPTZ NOT NULL,
	evidence_digest TEXT NOT NULL,
	record          JSONB NOT NULL
)`

// PostgresArchive writes one row per submitted session.
type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(db *sql.DB) *PostgresArchive {
	return &PostgresArchive{db: db}
}

// Migrate creates the archive table if needed.
func (a *PostgresArchive) Migrate(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, createDecisionsTable); err != nil {
		return fmt.Errorf("create verification_decisions: %w", err)
	}
	return nil
}

// Archive inserts the record. A session archived before is left untouched.
func (a *PostgresArchive) Archive(ctx context.Context, record *submission.Record, receipt *submission.Receipt) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode decision record: %w", err)
	}
	var reviewETA sql.NullTime
	if !receipt.ReviewETA.IsZero() {
		reviewETA = sql.NullTime{Time: receipt.ReviewETA, Valid: true}
	}
	query := `
		INSERT INTO verification_decisions (
			session_id, user_id, receipt_id, passed, liveness_score, quality_score,
			accepted, review_eta, decided_at, submitted_at, evidence_digest, record
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (session_id) DO NOTHING
	`
	_, err = a.db.ExecContext(ctx, query,
		record.Applicant.SessionID.String(),
		record.Applicant.UserID.String(),
		receipt.ID.String(),
		record.Decision.Passed,
		record.Decision.LivenessScore,
		record.Decision.QualityScore,
		receipt.Accepted,
		reviewETA,
		record.Decision.DecidedAt,
		receipt.SubmittedAt,
		receipt.EvidenceDigest,
		payload,
	)
	if err != nil {
		return fmt.Errorf("insert decision record: %w", err)
	}
	return nil
}

// Find loads an archived record by session.
func (a *PostgresArchive) Find(ctx context.Context, sessionID id.SessionID) (*submission.Record, error) {
	var payload []byte
	err := a.db.QueryRowContext(ctx,
		`SELECT record FROM verification_decisions WHERE session_id = $1`,
		sessionID.String(),
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select decision record: %w", err)
	}
	var rec submission.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("decode decision record: %w", err)
	}
	return &rec, nil
}
