package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"voc-insights-go/internal/logger"
	"voc-insights-go/internal/types"
)

const createSnapshotsSQL = `
CREATE TABLE IF NOT EXISTS snapshots (
	key TEXT PRIMARY KEY,
	month TEXT NOT NULL,
	is_japan INTEGER NOT NULL,
	body TEXT NOT NULL
);
`

// SQLiteStore keeps one row per composite key, so a save is an atomic
// per-key upsert instead of a whole-document rewrite.
type SQLiteStore struct {
	db  *sql.DB
	log *logrus.Entry
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}
	if _, err := db.Exec(createSnapshotsSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create tables: %w", err)
	}
	return &SQLiteStore{db: db, log: logger.Component("store.sqlite").WithField("path", path)}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, snap types.Snapshot) (string, error) {
	key, err := KeyFor(snap.Month, snap.Country())
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("store: encode snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE key = ? AND is_japan = ?`, snap.Month, snap.IsJapan)
	if err != nil {
		return "", fmt.Errorf("store: drop legacy key %s: %w", snap.Month, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.WithFields(logrus.Fields{"from": snap.Month, "to": key}).Info("migrated legacy key")
	}
	if err := upsert(ctx, tx, key, snap.Month, snap.IsJapan, body); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: commit %s: %w", key, err)
	}
	s.log.WithField("key", key).Info("snapshot saved")
	return key, nil
}

func (s *SQLiteStore) LoadAll(ctx context.Context) (*types.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, body FROM snapshots`)
	if err != nil {
		return nil, fmt.Errorf("store: list snapshots: %w", err)
	}
	defer rows.Close()

	doc := types.NewDocument()
	for rows.Next() {
		var key, body string
		if err := rows.Scan(&key, &body); err != nil {
			return nil, fmt.Errorf("store: scan snapshot: %w", err)
		}
		var snap types.Snapshot
		if err := json.Unmarshal([]byte(body), &snap); err != nil {
			return nil, fmt.Errorf("%w: row %s: %v", ErrCorrupt, key, err)
		}
		doc.Months[key] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list snapshots: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := ParseKey(key); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	s.log.WithField("key", key).Info("snapshot deleted")
	return nil
}

// Import copies every entry of a JSON document as-is, legacy keys included.
func (s *SQLiteStore) Import(ctx context.Context, doc *types.Document) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	for key, snap := range doc.Months {
		if _, err := ParseKey(key); err != nil {
			return 0, err
		}
		body, err := json.Marshal(snap)
		if err != nil {
			return 0, fmt.Errorf("store: encode snapshot %s: %w", key, err)
		}
		if err := upsert(ctx, tx, key, snap.Month, snap.IsJapan, body); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit import: %w", err)
	}
	s.log.WithField("snapshots", len(doc.Months)).Info("document imported")
	return len(doc.Months), nil
}

func upsert(ctx context.Context, tx *sql.Tx, key, month string, isJapan bool, body []byte) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (key, month, is_japan, body) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET month = excluded.month, is_japan = excluded.is_japan, body = excluded.body`,
		key, month, isJapan, string(body),
	)
	if err != nil {
		return fmt.Errorf("store: upsert %s: %w", key, err)
	}
	return nil
}
