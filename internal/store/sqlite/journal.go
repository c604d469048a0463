// Package sqlite persists the outbox journal. Pending actions written
// here survive a process restart and are flushed on the first connect of
// the next session.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

const schema = `
CREATE TABLE IF NOT EXISTS outbox (
	client_temp_id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	event TEXT NOT NULL,
	enqueued_at INTEGER NOT NULL
);
`

// Journal implements core.Journal on a SQLite file.
type Journal struct {
	db *sql.DB
}

// NewJournal opens (and if needed creates) the journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Append records an action. Re-appending the same temp id overwrites,
// keeping one row per live action.
func (j *Journal) Append(a core.Action) error {
	raw, err := json.Marshal(a.Event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	query := `
		INSERT INTO outbox (client_temp_id, conversation_id, event, enqueued_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(client_temp_id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			event = excluded.event,
			enqueued_at = excluded.enqueued_at
	`
	if _, err := j.db.Exec(query, a.ClientTempID, a.ConversationID, string(raw), a.EnqueuedAt.UnixMilli()); err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// Remove drops an acknowledged or failed action.
func (j *Journal) Remove(clientTempID string) error {
	if _, err := j.db.Exec(`DELETE FROM outbox WHERE client_temp_id = ?`, clientTempID); err != nil {
		return fmt.Errorf("delete action: %w", err)
	}
	return nil
}

// Load returns all persisted actions in original submission order.
func (j *Journal) Load() ([]core.Action, error) {
	rows, err := j.db.Query(`
		SELECT client_temp_id, conversation_id, event, enqueued_at
		FROM outbox ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("select actions: %w", err)
	}
	defer rows.Close()

	var actions []core.Action
	for rows.Next() {
		var (
			a          core.Action
			raw        string
			enqueuedAt int64
		)
		if err := rows.Scan(&a.ClientTempID, &a.ConversationID, &raw, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		var ev proto.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event %s: %w", a.ClientTempID, err)
		}
		a.Event = ev
		a.EnqueuedAt = time.UnixMilli(enqueuedAt)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
