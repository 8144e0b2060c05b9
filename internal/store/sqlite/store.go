package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/farmready/farmready/internal/store"
	"github.com/farmready/farmready/pkg/types"
)

// Store is a SQLite-backed store.Store.
type Store struct {
	sqlDB *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// --- devices ---

// ListDevices returns all devices ordered by id.
func (s *Store) ListDevices(ctx context.Context) ([]types.DeviceConfig, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT doc FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []types.DeviceConfig
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		var d types.DeviceConfig
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("decode device: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return out, nil
}

// GetDevice returns the device with the given id.
func (s *Store) GetDevice(ctx context.Context, id string) (types.DeviceConfig, error) {
	var d types.DeviceConfig
	if err := s.ready(ctx); err != nil {
		return d, err
	}
	if err := s.getDoc(ctx, `SELECT doc FROM devices WHERE id = ?`, id, &d); err != nil {
		return types.DeviceConfig{}, fmt.Errorf("get device %q: %w", id, err)
	}
	return d, nil
}

// PutDevice stores or replaces d.
func (s *Store) PutDevice(ctx context.Context, d types.DeviceConfig) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := d.Validate(); err != nil {
		return fmt.Errorf("put device: %w", err)
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode device: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO devices (id, doc, updated_at) VALUES (?, ?, strftime('%s','now') * 1000)
ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at
`, d.DeviceID, string(raw))
	if err != nil {
		return fmt.Errorf("put device %q: %w", d.DeviceID, err)
	}
	return nil
}

// --- progress ---

// GetProgress returns the stored progress for deviceID.
func (s *Store) GetProgress(ctx context.Context, deviceID string) (types.ProgressState, error) {
	var p types.ProgressState
	if err := s.ready(ctx); err != nil {
		return p, err
	}
	if err := s.getDoc(ctx, `SELECT doc FROM progress WHERE id = ?`, deviceID, &p); err != nil {
		return types.ProgressState{}, fmt.Errorf("get progress %q: %w", deviceID, err)
	}
	return p, nil
}

// PutProgress merges p into the stored document.
func (s *Store) PutProgress(ctx context.Context, p types.ProgressState) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("put progress: %w", err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	// json_patch drops keys whose patch value is null and merges nested
	// objects, so goodSince and lastValues are set explicitly afterwards.
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO progress (id, doc, updated_at) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    doc = json_set(
        json_patch(progress.doc, excluded.doc),
        '$.goodSince', json_extract(excluded.doc, '$.goodSince'),
        '$.lastValues', json(json_extract(excluded.doc, '$.lastValues'))
    ),
    updated_at = excluded.updated_at
`, p.DeviceID, string(raw), p.UpdatedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("put progress %q: %w", p.DeviceID, err)
	}
	return nil
}

// ListProgress returns all progress documents ordered by device id.
func (s *Store) ListProgress(ctx context.Context) ([]types.ProgressState, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT doc FROM progress ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()

	var out []types.ProgressState
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		var p types.ProgressState
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode progress: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress: %w", err)
	}
	return out, nil
}

// --- runs ---

// GetRun returns the run summary stored under id.
func (s *Store) GetRun(ctx context.Context, id string) (types.RunSummary, error) {
	var r types.RunSummary
	if err := s.ready(ctx); err != nil {
		return r, err
	}
	if err := s.getDoc(ctx, `SELECT doc FROM runs WHERE id = ?`, id, &r); err != nil {
		return types.RunSummary{}, fmt.Errorf("get run %q: %w", id, err)
	}
	return r, nil
}

// PutRun replaces the run summary stored under id.
func (s *Store) PutRun(ctx context.Context, id string, r types.RunSummary) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("put run: %w", err)
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	updated := r.StartedAt
	if r.FinishedAt != nil {
		updated = *r.FinishedAt
	}
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO runs (id, doc, updated_at) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at
`, id, string(raw), updated.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("put run %q: %w", id, err)
	}
	return nil
}

// getDoc scans a single JSON document into dst, mapping no rows to
// store.ErrNotFound.
func (s *Store) getDoc(ctx context.Context, query, id string, dst any) error {
	var raw string
	err := s.sqlDB.QueryRowContext(ctx, query, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
