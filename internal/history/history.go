// Package history persists the immutable conversation log in a libsql
// database. Entries are the durable source of truth: queue records can be
// rebuilt from here after a lost or corrupted queue file.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/praxis-labs/agent-memory-go/internal/apptype"
	"github.com/praxis-labs/agent-memory-go/internal/metrics"
)

// Config holds the history database configuration.
type Config struct {
	URL       string
	AuthToken string
}

// NewConfig creates a Config from environment variables.
func NewConfig() *Config {
	url := os.Getenv("LIBSQL_URL")
	if url == "" {
		url = "file:./conversation_history.db"
	}
	return &Config{
		URL:       url,
		AuthToken: os.Getenv("LIBSQL_AUTH_TOKEN"),
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS conversation_entries (
	guid TEXT PRIMARY KEY,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	digest_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_entries_created_at ON conversation_entries(created_at);
`

// Store is the conversation log.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore opens the history database and initializes the schema.
func NewStore(cfg *Config, logger zerolog.Logger) (*Store, error) {
	url := cfg.URL
	if cfg.AuthToken != "" {
		sep := "?"
		for _, c := range url {
			if c == '?' {
				sep = "&"
				break
			}
		}
		url = url + sep + "authToken=" + cfg.AuthToken
	}
	db, err := sql.Open("libsql", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "history").Logger(),
	}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendEntry records one conversation turn. The GUID must be unique;
// entries are never updated except to attach a digest.
func (s *Store) AppendEntry(ctx context.Context, e apptype.Entry) error {
	done := metrics.TimeStage("history_append")
	var digestJSON any
	if e.Digest != nil {
		data, err := json.Marshal(e.Digest)
		if err != nil {
			done(false)
			return fmt.Errorf("failed to encode digest: %w", err)
		}
		digestJSON = string(data)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversation_entries (guid, role, content, created_at, digest_json) VALUES (?, ?, ?, ?, ?)",
		e.GUID, string(e.Role), e.Content, e.CreatedAt.UTC().Format(time.RFC3339Nano), digestJSON)
	done(err == nil)
	if err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}
	return nil
}

// AttachDigest stores the digest for an already-recorded entry.
func (s *Store) AttachDigest(ctx context.Context, guid string, d *apptype.Digest) error {
	done := metrics.TimeStage("history_attach_digest")
	data, err := json.Marshal(d)
	if err != nil {
		done(false)
		return fmt.Errorf("failed to encode digest: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE conversation_entries SET digest_json = ? WHERE guid = ?", string(data), guid)
	if err != nil {
		done(false)
		return fmt.Errorf("failed to attach digest: %w", err)
	}
	n, _ := res.RowsAffected()
	done(true)
	if n == 0 {
		return fmt.Errorf("no history entry with guid %s", guid)
	}
	return nil
}

// GetEntry returns one entry by GUID.
func (s *Store) GetEntry(ctx context.Context, guid string) (apptype.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT guid, role, content, created_at, digest_json FROM conversation_entries WHERE guid = ?", guid)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return apptype.Entry{}, fmt.Errorf("no history entry with guid %s", guid)
	}
	if err != nil {
		return apptype.Entry{}, fmt.Errorf("failed to read history entry: %w", err)
	}
	return e, nil
}

// RecentEntries returns the last n entries in chronological order.
func (s *Store) RecentEntries(ctx context.Context, n int) ([]apptype.Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT guid, role, content, created_at, digest_json FROM conversation_entries ORDER BY created_at DESC, guid DESC LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent entries: %w", err)
	}
	defer rows.Close()

	var out []apptype.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recent entries: %w", err)
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ReplayEligible returns, in chronological order, every entry whose digest
// carries at least one segment that passes the pipeline gate. Used to
// rebuild the work queue after it is lost.
func (s *Store) ReplayEligible(ctx context.Context) ([]apptype.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT guid, role, content, created_at, digest_json FROM conversation_entries WHERE digest_json IS NOT NULL ORDER BY created_at ASC, guid ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query history for replay: %w", err)
	}
	defer rows.Close()

	var out []apptype.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if e.Digest == nil {
			continue
		}
		for _, seg := range e.Digest.Segments {
			if seg.Eligible() {
				out = append(out, e)
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history for replay: %w", err)
	}
	return out, nil
}

// Count returns the total number of entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversation_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count history entries: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (apptype.Entry, error) {
	var e apptype.Entry
	var role, createdAt string
	var digestJSON sql.NullString
	if err := row.Scan(&e.GUID, &role, &e.Content, &createdAt, &digestJSON); err != nil {
		return apptype.Entry{}, err
	}
	e.Role = apptype.Role(role)
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		e.CreatedAt = ts
	}
	if digestJSON.Valid && digestJSON.String != "" {
		var d apptype.Digest
		if err := json.Unmarshal([]byte(digestJSON.String), &d); err != nil {
			return apptype.Entry{}, fmt.Errorf("corrupt digest for %s: %w", e.GUID, err)
		}
		e.Digest = &d
	}
	return e, nil
}
