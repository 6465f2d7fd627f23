// Package export writes a client's conversations into a local sqlite file
// for offline review.
package export

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wa-console/types"
	"wa-console/utils"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS chats (
	id           TEXT NOT NULL,
	client_id    TEXT NOT NULL,
	phone_number TEXT NOT NULL,
	jid          TEXT NOT NULL,
	message      TEXT NOT NULL,
	timestamp    TIMESTAMP NOT NULL,
	is_from_ai   BOOLEAN NOT NULL,
	PRIMARY KEY (client_id, id)
);
CREATE TABLE IF NOT EXISTS threads (
	client_id    TEXT NOT NULL,
	phone_number TEXT NOT NULL,
	thread_id    TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL,
	PRIMARY KEY (client_id, phone_number)
);
CREATE INDEX IF NOT EXISTS idx_chats_phone ON chats (client_id, phone_number, timestamp);
`

// Store is an export database
type Store struct {
	db *sql.DB
}

// Result counts the rows written by one export
type Result struct {
	Chats   int
	Threads int
}

// Open opens or creates the sqlite file at path
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("open export db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create export schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Write replaces the client's rows with chats and threads in one transaction.
// Phone numbers are stored normalized, chats also carry the contact JID so
// rows can be matched against a whatsmeow store.
func (s *Store) Write(ctx context.Context, clientID string, chats []types.ChatMessage, threads []types.Thread) (Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE client_id = ?`, clientID); err != nil {
		return Result{}, fmt.Errorf("clear chats: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE client_id = ?`, clientID); err != nil {
		return Result{}, fmt.Errorf("clear threads: %w", err)
	}

	chatStmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO chats (id, client_id, phone_number, jid, message, timestamp, is_from_ai) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Result{}, err
	}
	defer chatStmt.Close()

	var res Result
	for i, m := range chats {
		id := m.ID
		if id == "" {
			id = fmt.Sprintf("%d", i)
		}
		phone := utils.NormalizePhone(m.PhoneNumber)
		jid := ""
		if phone != "" {
			jid = utils.PhoneJID(phone).String()
		}
		if _, err := chatStmt.ExecContext(ctx, id, clientID, phone, jid, m.Message, m.Timestamp.UTC(), m.IsFromAI); err != nil {
			return Result{}, fmt.Errorf("insert chat %s: %w", id, err)
		}
		res.Chats++
	}

	threadStmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO threads (client_id, phone_number, thread_id, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return Result{}, err
	}
	defer threadStmt.Close()

	for _, t := range threads {
		if _, err := threadStmt.ExecContext(ctx, clientID, utils.NormalizePhone(t.PhoneNumber), t.ThreadID, t.CreatedAt.UTC()); err != nil {
			return Result{}, fmt.Errorf("insert thread %s: %w", t.ThreadID, err)
		}
		res.Threads++
	}

	if err := tx.Commit(); err != nil {
		return Result{}, err
	}
	return res, nil
}

// Chats reads back the stored transcript of a client ordered by time
func (s *Store) Chats(ctx context.Context, clientID string) ([]types.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, phone_number, message, timestamp, is_from_ai FROM chats WHERE client_id = ? ORDER BY timestamp, id`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ChatMessage
	for rows.Next() {
		m := types.ChatMessage{ClientID: clientID}
		var ts time.Time
		if err := rows.Scan(&m.ID, &m.PhoneNumber, &m.Message, &ts, &m.IsFromAI); err != nil {
			return nil, err
		}
		m.Timestamp = ts
		out = append(out, m)
	}
	return out, rows.Err()
}

// ThreadCount returns how many threads are stored for a client
func (s *Store) ThreadCount(ctx context.Context, clientID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM threads WHERE client_id = ?`, clientID).Scan(&n)
	return n, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
