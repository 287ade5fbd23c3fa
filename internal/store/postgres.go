// Package store persists address labels and background job records to
// PostgreSQL. The traversal and KYC engines never import this package
// directly; only the API layer does, keeping the core analysis code free
// of storage concerns.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/utxo-provenance/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a lookup by primary key finds no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps a pgx connection pool with the label and job operations the
// API layer needs.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pooled connection to connStr and verifies it with a ping.
func Connect(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("store: unable to connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping failed: %w", err)
	}
	log.Println("store: connected to PostgreSQL")
	return &Store{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema applies the embedded schema, idempotently.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: applying schema: %w", err)
	}
	return nil
}

// UpsertLabel inserts or updates an address label inside a single
// transaction, committing on exit and rolling back on error.
func (s *Store) UpsertLabel(ctx context.Context, l models.AddressLabel) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const sql = `
		INSERT INTO address_labels (address, label, category, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (address) DO UPDATE
		SET label = EXCLUDED.label, category = EXCLUDED.category, notes = EXCLUDED.notes, updated_at = NOW()
	`
	if _, err := tx.Exec(ctx, sql, l.Address, l.Label, string(l.Category), l.Notes); err != nil {
		return fmt.Errorf("store: upsert label: %w", err)
	}
	return tx.Commit(ctx)
}

// GetLabel fetches one address's label, or ErrNotFound.
func (s *Store) GetLabel(ctx context.Context, address string) (models.AddressLabel, error) {
	const sql = `SELECT address, label, category, notes, created_at, updated_at FROM address_labels WHERE address = $1`
	var l models.AddressLabel
	var category string
	err := s.pool.QueryRow(ctx, sql, address).Scan(&l.Address, &l.Label, &category, &l.Notes, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AddressLabel{}, ErrNotFound
	}
	if err != nil {
		return models.AddressLabel{}, fmt.Errorf("store: get label: %w", err)
	}
	l.Category = models.LabelCategory(category)
	return l, nil
}

// ListLabels returns every stored label, ordered by address.
func (s *Store) ListLabels(ctx context.Context) ([]models.AddressLabel, error) {
	const sql = `SELECT address, label, category, notes, created_at, updated_at FROM address_labels ORDER BY address`
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("store: list labels: %w", err)
	}
	defer rows.Close()

	labels := make([]models.AddressLabel, 0)
	for rows.Next() {
		var l models.AddressLabel
		var category string
		if err := rows.Scan(&l.Address, &l.Label, &category, &l.Notes, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan label: %w", err)
		}
		l.Category = models.LabelCategory(category)
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// DeleteLabel removes an address's label. It is not an error to delete
// something that does not exist.
func (s *Store) DeleteLabel(ctx context.Context, address string) error {
	const sql = `DELETE FROM address_labels WHERE address = $1`
	if _, err := s.pool.Exec(ctx, sql, address); err != nil {
		return fmt.Errorf("store: delete label: %w", err)
	}
	return nil
}

// CreateJob inserts a new job row in the queued state.
func (s *Store) CreateJob(ctx context.Context, job models.AnalysisJob) error {
	const sql = `
		INSERT INTO analysis_jobs (id, kind, status, request, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
	`
	if _, err := s.pool.Exec(ctx, sql, job.ID, job.Kind, string(job.Status), job.Request); err != nil {
		return fmt.Errorf("store: create job: %w", err)
	}
	return nil
}

// UpdateJobStatus transitions a job's status and optionally records its
// result or error, inside a transaction.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, result, jobErr string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const sql = `
		UPDATE analysis_jobs
		SET status = $2, result = $3, error = $4, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, sql, id, string(status), result, jobErr)
	if err != nil {
		return fmt.Errorf("store: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

// CacheCoinjoinScore records a transaction's CoinJoin score, upserting on
// conflict. This is a pure optimisation over internal/coinjoin.Score,
// which is cheap enough to recompute — callers use the cache to avoid
// refetching the raw transaction from the node on repeat lookups.
func (s *Store) CacheCoinjoinScore(ctx context.Context, txid string, score float64, isCoinjoin bool) error {
	const sql = `
		INSERT INTO coinjoin_analysis_cache (txid, score, is_coinjoin, cached_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (txid) DO UPDATE
		SET score = EXCLUDED.score, is_coinjoin = EXCLUDED.is_coinjoin, cached_at = NOW()
	`
	if _, err := s.pool.Exec(ctx, sql, txid, score, isCoinjoin); err != nil {
		return fmt.Errorf("store: cache coinjoin score: %w", err)
	}
	return nil
}

// GetCachedCoinjoinScore returns a previously cached score, or ErrNotFound.
func (s *Store) GetCachedCoinjoinScore(ctx context.Context, txid string) (float64, bool, error) {
	const sql = `SELECT score, is_coinjoin FROM coinjoin_analysis_cache WHERE txid = $1`
	var score float64
	var isCoinjoin bool
	err := s.pool.QueryRow(ctx, sql, txid).Scan(&score, &isCoinjoin)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, ErrNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: get cached coinjoin score: %w", err)
	}
	return score, isCoinjoin, nil
}

// GetJob fetches one job by id, or ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (models.AnalysisJob, error) {
	const sql = `SELECT id, kind, status, request, result, error, created_at, updated_at FROM analysis_jobs WHERE id = $1`
	var j models.AnalysisJob
	var status string
	err := s.pool.QueryRow(ctx, sql, id).Scan(&j.ID, &j.Kind, &status, &j.Request, &j.Result, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AnalysisJob{}, ErrNotFound
	}
	if err != nil {
		return models.AnalysisJob{}, fmt.Errorf("store: get job: %w", err)
	}
	j.Status = models.JobStatus(status)
	return j, nil
}
