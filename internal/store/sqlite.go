// Package store provides storage backends for GuiaIA.
//
// This file implements an SQLite-backed store for prompt history.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/GuiaIA/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Persistence.
var _ Persistence = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	if dsn != ":memory:" {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SavePromptRecord inserts a record or updates the one with the same id.
func (s *SQLiteStore) SavePromptRecord(r models.PromptRecord) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			answers_json = excluded.answers_json,
			prompt = excluded.prompt,
			scorecard_json = excluded.scorecard_json,
			improved_prompt = excluded.improved_prompt,
			updated_at = excluded.updated_at`,
		r.ID, answersJSON, r.Prompt, scorecardJSON, nilIfEmpty(r.ImprovedPrompt), r.CreatedAt, now)
	if err != nil {
		slog.Error("SQLiteStore SavePromptRecord failed", "error", err, "id", r.ID)
		return fmt.Errorf("failed to save prompt record %s: %w", r.ID, err)
	}
	slog.Debug("SQLiteStore SavePromptRecord succeeded", "id", r.ID)
	return nil
}

func (s *SQLiteStore) GetPromptRecord(id string) (*models.PromptRecord, error) {
	row := s.db.QueryRow(`SELECT `+promptRecordColumns+` FROM prompt_records WHERE id = ?`, id)
	r, err := scanPromptRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetPromptRecord failed", "error", err, "id", id)
		return nil, err
	}
	return &r, nil
}

// ListPromptRecords returns the newest records first. A limit <= 0 returns all.
func (s *SQLiteStore) ListPromptRecords(limit int) ([]models.PromptRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+promptRecordColumns+` FROM prompt_records ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		slog.Error("SQLiteStore ListPromptRecords query failed", "error", err)
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
	slog.Debug("SQLiteStore ListPromptRecords succeeded", "count", len(records))
	return records, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
