package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/GuiaIA/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const outboxColumns = `id, device_id, kind, payload_json, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at`

// scanOutboxMessage scans an OutboxMessage from sql.Rows.
func scanOutboxMessage(rows rowScanner) (OutboxMessage, error) {
	var m OutboxMessage
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := rows.Scan(
		&m.ID, &m.DeviceID, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.PayloadJSON = payloadJSON.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}

const promptRecordColumns = `id, answers_json, prompt, scorecard_json, improved_prompt, created_at, updated_at`

// encodePromptRecord returns the JSON columns for r.
func encodePromptRecord(r models.PromptRecord) (answersJSON string, scorecardJSON interface{}, err error) {
	answers := r.Answers
	if answers == nil {
		answers = models.Answers{}
	}
	b, err := json.Marshal(answers)
	if err != nil {
		return "", nil, fmt.Errorf("marshal answers failed: %w", err)
	}
	if r.Scorecard == nil {
		return string(b), nil, nil
	}
	sc, err := json.Marshal(r.Scorecard)
	if err != nil {
		return "", nil, fmt.Errorf("marshal scorecard failed: %w", err)
	}
	return string(b), string(sc), nil
}

// scanPromptRecord scans a PromptRecord and decodes its JSON columns.
func scanPromptRecord(row rowScanner) (models.PromptRecord, error) {
	var r models.PromptRecord
	var answersJSON string
	var scorecardJSON, improved sql.NullString
	if err := row.Scan(&r.ID, &answersJSON, &r.Prompt, &scorecardJSON, &improved, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return r, err
	}
	r.ImprovedPrompt = improved.String
	r.Answers = models.Answers{}
	if answersJSON != "" {
		if err := json.Unmarshal([]byte(answersJSON), &r.Answers); err != nil {
			return r, fmt.Errorf("decode answers for %s: %w", r.ID, err)
		}
	}
	if scorecardJSON.Valid && scorecardJSON.String != "" {
		var sc models.Scorecard
		if err := json.Unmarshal([]byte(scorecardJSON.String), &sc); err != nil {
			return r, fmt.Errorf("decode scorecard for %s: %w", r.ID, err)
		}
		r.Scorecard = &sc
	}
	return r, nil
}
