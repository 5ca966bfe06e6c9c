package db

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for Coin Selection Engine")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes the schema.sql file
func (s *PostgresStore) InitSchema() error {
	schemaBytes, err := os.ReadFile("internal/db/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %v", err)
	}

	_, err = s.pool.Exec(context.Background(), string(schemaBytes))
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Coin Selection Engine schema initialized")
	return nil
}

// SelectionRun is one recorded solve: its parameters, its outcome, and
// how long it took.
type SelectionRun struct {
	RunID         string `json:"runId"`
	Status        string `json:"status"` // "solved"/"infeasible"/"timeout"/"error"
	TargetSats    int64  `json:"targetSats"`
	FeeRate       string `json:"feeRate"` // decimal sat/vB as submitted
	MinChangeSats int64  `json:"minChangeSats"`
	UTXOCount     int    `json:"utxoCount"`
	FeeSats       int64  `json:"feeSats"`
	ChangeSats    int64  `json:"changeSats"`
	TxVBytes      int64  `json:"txVbytes"`
	DurationMS    int64  `json:"durationMs"`
	Error         string `json:"error,omitempty"`
}

// SaveSelectionRun persists one solve outcome. A missing run id is
// assigned here so callers never have to care.
func (s *PostgresStore) SaveSelectionRun(ctx context.Context, run SelectionRun) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}

	sql := `
		INSERT INTO selection_runs
		(run_id, status, target_sats, fee_rate, min_change_sats, utxo_count,
		 fee_sats, change_sats, tx_vbytes, duration_ms, error_detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
	`
	_, err := s.pool.Exec(ctx, sql,
		run.RunID,
		run.Status,
		run.TargetSats,
		run.FeeRate,
		run.MinChangeSats,
		run.UTXOCount,
		run.FeeSats,
		run.ChangeSats,
		run.TxVBytes,
		run.DurationMS,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert selection run: %v", err)
	}
	return nil
}

// GetRecentRuns returns the most recent selection runs, newest first.
func (s *PostgresStore) GetRecentRuns(ctx context.Context, page int, limit int) ([]SelectionRun, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	// Get total count first
	var totalCount int
	countSQL := `SELECT COUNT(*) FROM selection_runs`
	err := s.pool.QueryRow(ctx, countSQL).Scan(&totalCount)
	if err != nil {
		return nil, 0, err
	}

	dataSQL := `
		SELECT run_id, status, target_sats, fee_rate, min_change_sats, utxo_count,
		       fee_sats, change_sats, tx_vbytes, duration_ms, error_detail
		FROM selection_runs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.pool.Query(ctx, dataSQL, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []SelectionRun
	for rows.Next() {
		var r SelectionRun
		var errDetail *string
		err := rows.Scan(&r.RunID, &r.Status, &r.TargetSats, &r.FeeRate, &r.MinChangeSats,
			&r.UTXOCount, &r.FeeSats, &r.ChangeSats, &r.TxVBytes, &r.DurationMS, &errDetail)
		if err != nil {
			return nil, 0, err
		}
		if errDetail != nil {
			r.Error = *errDetail
		}
		runs = append(runs, r)
	}
	if runs == nil {
		runs = []SelectionRun{}
	}
	return runs, totalCount, nil
}

// GetPool exposes the connection pool for other subsystems
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}
