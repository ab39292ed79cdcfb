package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const sqliteMessagesSchemaV1 = `
CREATE TABLE IF NOT EXISTS run_messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  message_id TEXT NOT NULL,
  role TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  created_at_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_run_messages_run_id ON run_messages(run_id, id);
`

// SQLiteStore keeps one JSON payload per message row, ordered by insertion.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite message store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases coherent
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(sqliteMessagesSchemaV1)
	return errors.Wrap(err, "could not migrate message store")
}

func (s *SQLiteStore) GetMessages(ctx context.Context, runID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload_json FROM run_messages WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "could not query messages")
	}
	defer func() {
		_ = rows.Close()
	}()

	var ret []Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "could not scan message row")
		}
		var msg Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, errors.Wrapf(err, "could not decode message for run %s", runID)
		}
		ret = append(ret, msg)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, runID string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "could not encode message")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_messages (run_id, message_id, role, payload_json, created_at_ms) VALUES (?, ?, ?, ?, ?)`,
		runID, msg.ID.String(), string(msg.Role), string(payload), msg.Time.UnixMilli())
	return errors.Wrap(err, "could not insert message")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
