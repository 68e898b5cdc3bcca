// Package store provides storage backends for GuiaIA.
//
// This file implements a PostgreSQL-backed store for prompt history.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/GuiaIA/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 10
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 10
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Persistence.
var _ Persistence = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// SavePromptRecord inserts a record or updates the one with the same id.
func (s *PostgresStore) SavePromptRecord(r models.PromptRecord) error {
	if r.ID == "" {
		return fmt.Errorf("prompt record id cannot be empty")
	}
	answersJSON, scorecardJSON, err := encodePromptRecord(r)
	if err != nil {
		return err
	}
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	_, err = s.db.Exec(`
		INSERT INTO prompt_records (id, answers_json, prompt, scorecard_json, improved_prompt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			answers_json = EXCLUDED.answers_json,
			prompt = EXCLUDED.prompt,
			scorecard_json = EXCLUDED.scorecard_json,
			improved_prompt = EXCLUDED.improved_prompt,
			updated_at = EXCLUDED.updated_at`,
		r.ID, answersJSON, r.Prompt, scorecardJSON, nilIfEmpty(r.ImprovedPrompt), r.CreatedAt, now)
	if err != nil {
		slog.Error("PostgresStore SavePromptRecord failed", "error", err, "id", r.ID)
		return fmt.Errorf("failed to save prompt record %s: %w", r.ID, err)
	}
	slog.Debug("PostgresStore SavePromptRecord succeeded", "id", r.ID)
	return nil
}

func (s *PostgresStore) GetPromptRecord(id string) (*models.PromptRecord, error) {
	row := s.db.QueryRow(`SELECT `+promptRecordColumns+` FROM prompt_records WHERE id = $1`, id)
	r, err := scanPromptRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetPromptRecord failed", "error", err, "id", id)
		return nil, err
	}
	return &r, nil
}

// ListPromptRecords returns the newest records first. A limit <= 0 returns all.
func (s *PostgresStore) ListPromptRecords(limit int) ([]models.PromptRecord, error) {
	query := `SELECT ` + promptRecordColumns + ` FROM prompt_records ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore ListPromptRecords query failed", "error", err)
		return nil, fmt.Errorf("failed to query prompt records: %w", err)
	}
	defer rows.Close()

	var records []models.PromptRecord
	for rows.Next() {
		r, err := scanPromptRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prompt record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prompt records: %w", err)
	}
	return records, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
