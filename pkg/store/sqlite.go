package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/openresponses/gateway/pkg/protocol"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS responses (
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	payload    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS input_items (
	response_id TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	item_id     TEXT NOT NULL,
	payload     TEXT NOT NULL,
	PRIMARY KEY (response_id, seq)
);
`

// SQLiteStore persists response documents in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store requires a path")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Store(ctx context.Context, response *protocol.Response, inputItems []protocol.InputItem) error {
	payload, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	items := ensureItemIDs(inputItems)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO responses (id, created_at, payload) VALUES (?, ?, ?)`,
		response.ID, response.CreatedAt, string(payload)); err != nil {
		return fmt.Errorf("failed to store response: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM input_items WHERE response_id = ?`, response.ID); err != nil {
		return fmt.Errorf("failed to clear input items: %w", err)
	}

	for seq, item := range items {
		itemPayload, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal input item: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO input_items (response_id, seq, item_id, payload) VALUES (?, ?, ?, ?)`,
			response.ID, seq, item.ID, string(itemPayload)); err != nil {
			return fmt.Errorf("failed to store input item: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*protocol.Response, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM responses WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, protocol.NewError(protocol.ErrNotFound, "response "+id+" not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response protocol.Response
	if err := json.Unmarshal([]byte(payload), &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored response: %w", err)
	}
	return &response, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM responses WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete response: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM input_items WHERE response_id = ?`, id); err != nil {
		return false, fmt.Errorf("failed to delete input items: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *SQLiteStore) ListInputItems(ctx context.Context, id string, opts protocol.ListInputItemsOptions) (*protocol.InputItemList, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM responses WHERE id = ?`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check response: %w", err)
	}
	if exists == 0 {
		return nil, protocol.NewError(protocol.ErrNotFound, "response "+id+" not found")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM input_items WHERE response_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list input items: %w", err)
	}
	defer rows.Close()

	var items []protocol.InputItem
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan input item: %w", err)
		}
		var item protocol.InputItem
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stored input item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate input items: %w", err)
	}

	return pageItems(items, opts), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
