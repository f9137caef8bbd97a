package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/andresmejia3/facelens/internal/types"
	"github.com/jackc/pgx/v5"
)

// PGStore mirrors the history log into PostgreSQL so several demo instances can share one history.
// It is safe for concurrent use; calls share one connection and run one at a time.
type PGStore struct {
	mu   sync.Mutex
	conn *pgx.Conn
}

// NewPG establishes a connection to the database and ensures the schema is initialized.
func NewPG(ctx context.Context, connString string) (*PGStore, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &PGStore{conn: conn}, nil
}

// initSchema creates the history table if it doesn't exist (Auto-Migration).
// Column names follow the CSV header so exports line up.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS analysis_records (
			id BIGSERIAL PRIMARY KEY,
			analyzed_at TIMESTAMPTZ NOT NULL,
			emotion TEXT NOT NULL,
			emotion_confidence DOUBLE PRECISION NOT NULL,
			age INT,
			gender TEXT,
			race TEXT
		);
		CREATE INDEX IF NOT EXISTS analysis_records_analyzed_at_idx ON analysis_records (analyzed_at);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *PGStore) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close(ctx)
}

// InsertRecords bulk-loads a batch of records with COPY.
func (s *PGStore) InsertRecords(ctx context.Context, records []types.AnalysisRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{r.Time, r.Emotion, r.EmotionConfidence, r.Age, nullable(r.Gender), nullable(r.Race)})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.CopyFrom(ctx,
		pgx.Identifier{"analysis_records"},
		[]string{"analyzed_at", "emotion", "emotion_confidence", "age", "gender", "race"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// ListRecords returns the most recent records, oldest first. limit <= 0 returns everything.
func (s *PGStore) ListRecords(ctx context.Context, limit int) ([]types.AnalysisRecord, error) {
	query := `
		SELECT analyzed_at, emotion, emotion_confidence, age, COALESCE(gender, ''), COALESCE(race, '')
		FROM (
			SELECT * FROM analysis_records ORDER BY id DESC LIMIT NULLIF($1, 0)
		) recent
		ORDER BY id ASC
	`
	if limit < 0 {
		limit = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []types.AnalysisRecord
	for rows.Next() {
		var r types.AnalysisRecord
		if err := rows.Scan(&r.Time, &r.Emotion, &r.EmotionConfidence, &r.Age, &r.Gender, &r.Race); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Reset drops the history table to clear the database state.
func (s *PGStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS analysis_records CASCADE;`)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
