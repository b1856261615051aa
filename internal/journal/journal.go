// Package journal keeps a SQLite log of bridge traffic. Each browser tags
// the messages it sends and receives with its id so a session can be
// replayed with the journal CLI command.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/cryguy/jsbridge/internal/ipc"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"
)

// summaryLimit caps the diagnostic text stored per message.
const summaryLimit = 512

const schema = `CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	at         INTEGER NOT NULL,
	browser    TEXT    NOT NULL,
	direction  TEXT    NOT NULL,
	name       TEXT    NOT NULL,
	size       INTEGER NOT NULL,
	summary    TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_browser ON messages (browser, id);`

// Entry is one journaled message.
type Entry struct {
	ID        int64
	Time      time.Time
	BrowserID string
	Direction ipc.Direction
	Name      string
	Size      int
	Summary   string
}

// Journal is a message log backed by SQLite.
type Journal struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens (or creates) the journal at path. ":memory:" gives a
// throwaway journal.
func Open(path string, log *zap.Logger) (*Journal, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("journal: creating directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: opening %q: %w", path, err)
	}
	// one connection: an in-memory database is per connection and SQLite
	// has a single writer anyway
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		_, _ = db.Exec("PRAGMA journal_mode=WAL")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: creating schema: %w", err)
	}
	j := &Journal{db: db, log: log.Named("journal")}
	j.log.Debug("journal opened", zap.String("path", path))
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// For returns a recorder that files messages under browserID.
func (j *Journal) For(browserID string) ipc.Recorder {
	return recorder{j: j, browser: browserID}
}

type recorder struct {
	j       *Journal
	browser string
}

func (r recorder) Record(ctx context.Context, dir ipc.Direction, msg *ipc.Message) error {
	return r.j.Record(ctx, r.browser, dir, msg)
}

// Record stores one message.
func (j *Journal) Record(ctx context.Context, browserID string, dir ipc.Direction, msg *ipc.Message) error {
	_, err := j.db.ExecContext(context.WithoutCancel(ctx),
		"INSERT INTO messages (at, browser, direction, name, size, summary) VALUES (?, ?, ?, ?, ?, ?)",
		time.Now().UnixNano(), browserID, string(dir), msg.Name, len(msg.Args), summarize(msg.Args))
	if err != nil {
		return fmt.Errorf("journal: recording %s: %w", msg.Name, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. An empty browserID
// lists every browser.
func (j *Journal) Recent(ctx context.Context, browserID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT id, at, browser, direction, name, size, summary FROM messages"
	args := []any{}
	if browserID != "" {
		query += " WHERE browser = ?"
		args = append(args, browserID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: querying: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e   Entry
			at  int64
			dir string
		)
		if err := rows.Scan(&e.ID, &at, &e.BrowserID, &dir, &e.Name, &e.Size, &e.Summary); err != nil {
			return nil, fmt.Errorf("journal: scanning: %w", err)
		}
		e.Time = time.Unix(0, at)
		e.Direction = ipc.Direction(dir)
		out = append(out, e)
	}
	return out, rows.Err()
}

// summarize renders a payload in CBOR diagnostic notation, truncated.
func summarize(args []byte) string {
	if len(args) == 0 {
		return ""
	}
	s, err := cbor.Diagnose(args)
	if err != nil {
		return fmt.Sprintf("<undecodable: %v>", err)
	}
	if len(s) > summaryLimit {
		s = s[:summaryLimit] + "..."
	}
	return s
}
