package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/xiaot623/gogo/chatd/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

var actorIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidActorID reports whether id may be used as an actor identifier (and file name).
func ValidActorID(id string) bool {
	return actorIDPattern.MatchString(id)
}

// DSNForActor returns the database location for an actor. dataDir ":memory:"
// yields a private in-memory database.
func DSNForActor(dataDir, actorID string) string {
	if dataDir == ":memory:" {
		return ":memory:"
	}
	path := filepath.Join(dataDir, actorID+".db")
	return "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL&mode=rwc"
}

// NewSQLiteStore opens (creating if absent) the database at dsn and bootstraps
// its schema. Bootstrapping is idempotent.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp)`,
		`CREATE TABLE IF NOT EXISTS notes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS research (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			query TEXT NOT NULL,
			results TEXT NOT NULL,
			summary TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append stores a message and returns it with its assigned id.
func (s *SQLiteStore) Append(ctx context.Context, role domain.Role, content string) (domain.Message, error) {
	if !role.Valid() {
		return domain.Message{}, fmt.Errorf("%w: %q", domain.ErrInvalidRole, role)
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (role, content, timestamp) VALUES (?, ?, ?)`,
		string(role), content, now.UnixMilli())
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to append message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to read message id: %w", err)
	}
	return domain.Message{ID: id, Role: role, Content: content, CreatedAt: time.UnixMilli(now.UnixMilli())}, nil
}

// RecentWindow returns the n most recent messages in chronological order.
func (s *SQLiteStore) RecentWindow(ctx context.Context, n int) ([]domain.Message, error) {
	if n <= 0 {
		return []domain.Message{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, timestamp FROM messages ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var role string
		var ts int64
		if err := rows.Scan(&m.ID, &role, &m.Content, &ts); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		m.CreatedAt = time.UnixMilli(ts)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Fetched newest first; callers want chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CountMessages returns the number of stored messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// DeleteAll removes every stored message. Notes and research are kept.
func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return tx.Commit()
}

// AddNote stores a note.
func (s *SQLiteStore) AddNote(ctx context.Context, content string) (domain.Note, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (content, timestamp) VALUES (?, ?)`, content, now.UnixMilli())
	if err != nil {
		return domain.Note{}, fmt.Errorf("failed to add note: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Note{}, fmt.Errorf("failed to read note id: %w", err)
	}
	return domain.Note{ID: id, Content: content, CreatedAt: time.UnixMilli(now.UnixMilli())}, nil
}

// ListNotes returns all notes, oldest first.
func (s *SQLiteStore) ListNotes(ctx context.Context) ([]domain.Note, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content, timestamp FROM notes ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	notes := []domain.Note{}
	for rows.Next() {
		var n domain.Note
		var ts int64
		if err := rows.Scan(&n.ID, &n.Content, &ts); err != nil {
			return nil, err
		}
		n.CreatedAt = time.UnixMilli(ts)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// AddResearch stores a research record; results are kept as JSON.
func (s *SQLiteStore) AddResearch(ctx context.Context, query string, results []domain.SearchResult, summary string) (domain.ResearchRecord, error) {
	if results == nil {
		results = []domain.SearchResult{}
	}
	raw, err := json.Marshal(results)
	if err != nil {
		return domain.ResearchRecord{}, fmt.Errorf("failed to marshal results: %w", err)
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO research (query, results, summary, timestamp) VALUES (?, ?, ?, ?)`,
		query, string(raw), summary, now.UnixMilli())
	if err != nil {
		return domain.ResearchRecord{}, fmt.Errorf("failed to add research: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.ResearchRecord{}, fmt.Errorf("failed to read research id: %w", err)
	}
	return domain.ResearchRecord{
		ID:        id,
		Query:     query,
		Results:   results,
		Summary:   summary,
		CreatedAt: time.UnixMilli(now.UnixMilli()),
	}, nil
}

// ListResearch returns up to limit most recent research records, newest first.
func (s *SQLiteStore) ListResearch(ctx context.Context, limit int) ([]domain.ResearchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query, results, summary, timestamp FROM research ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query research: %w", err)
	}
	defer rows.Close()

	records := []domain.ResearchRecord{}
	for rows.Next() {
		var r domain.ResearchRecord
		var raw string
		var ts int64
		if err := rows.Scan(&r.ID, &r.Query, &raw, &r.Summary, &ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &r.Results); err != nil {
			return nil, fmt.Errorf("failed to decode research %d results: %w", r.ID, err)
		}
		r.CreatedAt = time.UnixMilli(ts)
		records = append(records, r)
	}
	return records, rows.Err()
}
