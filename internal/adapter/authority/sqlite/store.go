// Package sqlite is the local authority of record: version log, checkpoint
// log, persisted resume state and the last reported installation status.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"setupwiz/internal/domain"
	"setupwiz/internal/infra/secrets"
)

// Store implements domain.ResumeAuthority, domain.VersionAuthority and
// domain.InstallationStatusSource. The checkpoint log is reached through
// Checkpoints.
type Store struct {
	db     *sql.DB
	sealer *secrets.Sealer
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithSealer seals secret configuration values before they are written.
func WithSealer(s *secrets.Sealer) Option {
	return func(st *Store) { st.sealer = s }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(st *Store) { st.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(st *Store) { st.logger = l }
}

// Open opens (or creates) the database at dbPath and runs the migration.
func Open(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open authority db: %w", err)
	}
	// Undo reads and deletes in one transaction; one connection keeps
	// writers from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate authority db: %w", err)
	}
	s := &Store{db: db, now: time.Now, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS versions (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			profiles    TEXT NOT NULL DEFAULT '[]',
			config      TEXT NOT NULL DEFAULT '{}',
			action      TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS checkpoints (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			stage      TEXT NOT NULL,
			data       TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS resume_state (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			state      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS install_status (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			status     TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveVersion appends a version and returns its fresh id.
func (s *Store) SaveVersion(ctx context.Context, in domain.VersionInput) (string, error) {
	cfg, err := s.sealer.SealConfig(in.Config)
	if err != nil {
		return "", domain.WrapOp("sqlite.SaveVersion", err)
	}
	profJSON, err := json.Marshal(nonNil(in.Profiles))
	if err != nil {
		return "", fmt.Errorf("marshal profiles: %w", err)
	}
	cfgJSON, err := json.Marshal(nonNilMap(cfg))
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	ts := in.Metadata.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	id := ulid.Make().String()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO versions (id, profiles, config, action, description, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, string(profJSON), string(cfgJSON), in.Metadata.Action, in.Metadata.Description,
		ts.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", domain.WrapOp("sqlite.SaveVersion", err)
	}
	return id, nil
}

// Undo removes the newest version and returns the one that is now current.
// A log with fewer than two versions has nothing to go back to and is
// reported with Success=false, leaving the log untouched.
func (s *Store) Undo(ctx context.Context) (domain.UndoResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.UndoResult{}, domain.WrapOp("sqlite.Undo", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM versions").Scan(&n); err != nil {
		return domain.UndoResult{}, domain.WrapOp("sqlite.Undo", err)
	}
	switch n {
	case 0:
		return domain.UndoResult{Message: "no versions to undo"}, nil
	case 1:
		return domain.UndoResult{Message: "no earlier version to return to"}, nil
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, "SELECT seq FROM versions ORDER BY seq DESC LIMIT 1").Scan(&seq); err != nil {
		return domain.UndoResult{}, domain.WrapOp("sqlite.Undo", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM versions WHERE seq = ?", seq); err != nil {
		return domain.UndoResult{}, domain.WrapOp("sqlite.Undo", err)
	}

	row := tx.QueryRowContext(ctx, "SELECT "+versionCols+" FROM versions ORDER BY seq DESC LIMIT 1")
	v, err := s.scanVersion(row)
	if err != nil {
		return domain.UndoResult{}, domain.WrapOp("sqlite.Undo", err)
	}
	res := domain.UndoResult{Success: true, Profiles: v.Profiles, Config: v.Config}
	if err := tx.Commit(); err != nil {
		return domain.UndoResult{}, domain.WrapOp("sqlite.Undo", err)
	}
	return res, nil
}

const versionCols = "id, profiles, config, action, description, created_at"

// ListHistory returns up to limit versions newest first. limit <= 0 means all.
func (s *Store) ListHistory(ctx context.Context, limit int) ([]domain.VersionEntry, error) {
	q := "SELECT " + versionCols + " FROM versions ORDER BY seq DESC"
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, domain.WrapOp("sqlite.ListHistory", err)
	}
	defer rows.Close()

	var out []domain.VersionEntry
	for rows.Next() {
		v, err := s.scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.VersionEntry{Version: v, Current: len(out) == 0})
	}
	return out, rows.Err()
}

// Restore returns the content of version id without touching the log.
// An unknown id is reported with Success=false.
func (s *Store) Restore(ctx context.Context, versionID string) (domain.RestoreResult, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+versionCols+" FROM versions WHERE id = ?", versionID)
	v, err := s.scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RestoreResult{}, nil
	}
	if err != nil {
		return domain.RestoreResult{}, domain.WrapOp("sqlite.Restore", err)
	}
	return domain.RestoreResult{Success: true, Profiles: v.Profiles, Config: v.Config}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanVersion(sc scanner) (domain.Version, error) {
	var (
		v                 domain.Version
		profJSON, cfgJSON string
		created           string
	)
	if err := sc.Scan(&v.ID, &profJSON, &cfgJSON, &v.Metadata.Action, &v.Metadata.Description, &created); err != nil {
		return domain.Version{}, err
	}
	if err := json.Unmarshal([]byte(profJSON), &v.Profiles); err != nil {
		return domain.Version{}, fmt.Errorf("unmarshal profiles of %s: %w", v.ID, err)
	}
	var cfg map[string]any
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		return domain.Version{}, fmt.Errorf("unmarshal config of %s: %w", v.ID, err)
	}
	cfg, err := s.sealer.OpenConfig(cfg)
	if err != nil {
		return domain.Version{}, err
	}
	v.Config = cfg
	v.Metadata.Timestamp, _ = time.Parse(time.RFC3339Nano, created)
	return v, nil
}

func nonNil(p []string) []string {
	if p == nil {
		return []string{}
	}
	return p
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
