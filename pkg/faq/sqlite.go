package faq

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver
)

const faqSchema = `
	CREATE TABLE IF NOT EXISTS faq_items (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		keywords_json TEXT NOT NULL DEFAULT '[]',
		tags_json TEXT NOT NULL DEFAULT '[]',
		priority INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		seq INTEGER NOT NULL DEFAULT 0
	)
`

// SQLiteStore persists FAQ entries in a faq_items table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) an FAQ database at dsn.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 10000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, faqSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create faq_items table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Entries implements Source. Only active rows are returned, highest priority
// first, then in import order.
func (s *SQLiteStore) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, answer, category, keywords_json, tags_json, priority
		FROM faq_items
		WHERE active = 1
		ORDER BY priority DESC, seq ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query faq_items: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var keywordsJSON, tagsJSON string
		if err := rows.Scan(&e.ID, &e.Question, &e.Answer, &e.Category, &keywordsJSON, &tagsJSON, &e.Priority); err != nil {
			return nil, fmt.Errorf("failed to scan faq row: %w", err)
		}
		if err := json.Unmarshal([]byte(keywordsJSON), &e.Keywords); err != nil {
			return nil, fmt.Errorf("faq %s: bad keywords: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(tagsJSON), &e.Tags); err != nil {
			return nil, fmt.Errorf("faq %s: bad tags: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Import upserts entries in one transaction, preserving their order.
func (s *SQLiteStore) Import(ctx context.Context, entries []Entry) error {
	if err := validateEntries(entries); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var base int
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM faq_items").Scan(&base); err != nil {
		return fmt.Errorf("failed to read sequence: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO faq_items (id, question, answer, category, keywords_json, tags_json, priority, active, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET
			question = excluded.question,
			answer = excluded.answer,
			category = excluded.category,
			keywords_json = excluded.keywords_json,
			tags_json = excluded.tags_json,
			priority = excluded.priority,
			active = 1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for n, e := range entries {
		keywords, err := json.Marshal(nonNil(e.Keywords))
		if err != nil {
			return err
		}
		tags, err := json.Marshal(nonNil(e.Tags))
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.Question, e.Answer, e.Category, string(keywords), string(tags), e.Priority, base+n+1); err != nil {
			return fmt.Errorf("failed to import faq %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Deactivate hides an entry from future loads without deleting it.
func (s *SQLiteStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE faq_items SET active = 0 WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("faq %s not found", id)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
