// Package sqlite stores taught question/answer records in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"learnbot/internal/domain"
)

// Store implements domain.KnowledgeStore on a single qa_records table.
// Answers are kept as a JSON array.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS qa_records (
		question TEXT PRIMARY KEY,
		answers_json TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListAll(ctx context.Context) ([]domain.QARecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT question, answers_json FROM qa_records ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var out []domain.QARecord
	for rows.Next() {
		var (
			rec     domain.QARecord
			answers string
		)
		if err := rows.Scan(&rec.Question, &answers); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if err := json.Unmarshal([]byte(answers), &rec.Answers); err != nil {
			return nil, fmt.Errorf("decoding answers of %q: %w", rec.Question, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) FindByQuestion(ctx context.Context, question string) (domain.QARecord, bool, error) {
	rec := domain.QARecord{Question: domain.Normalize(question)}
	var answers string
	err := s.db.QueryRowContext(ctx, `SELECT answers_json FROM qa_records WHERE question = ?`, rec.Question).Scan(&answers)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.QARecord{}, false, nil
	}
	if err != nil {
		return domain.QARecord{}, false, fmt.Errorf("querying record: %w", err)
	}
	if err := json.Unmarshal([]byte(answers), &rec.Answers); err != nil {
		return domain.QARecord{}, false, fmt.Errorf("decoding answers: %w", err)
	}
	return rec, true, nil
}

func (s *Store) Upsert(ctx context.Context, rec domain.QARecord) error {
	question := domain.Normalize(rec.Question)
	if question == "" {
		return domain.ErrEmptyQuestion
	}
	answers := rec.Answers
	if answers == nil {
		answers = []string{}
	}
	data, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("encoding answers: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO qa_records (question, answers_json, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(question) DO UPDATE SET
			answers_json = excluded.answers_json,
			updated_at = excluded.updated_at
	`, question, string(data), now, now)
	if err != nil {
		return fmt.Errorf("upserting record: %w", err)
	}
	return nil
}
