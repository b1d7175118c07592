// Package store persists per-endpoint rate limit state, policy snapshots
// and the bulk operation log in libsql, either a local file or a remote
// Turso database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/intunectl/intunectl/internal/config"
)

const driverLibsql = "libsql"

// ErrNotOpen is returned by methods called on a nil or closed Store.
var ErrNotOpen = errors.New("store not open")

type Store struct {
	DB *sql.DB

	driver string
	remote bool
}

// target is a resolved connection string. dir is created before opening
// local files.
type target struct {
	dsn    string
	dir    string
	remote bool
}

// Open connects and pings the database. Local files are switched to WAL
// with a single writer connection.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		driver = driverLibsql
	}
	if driver != driverLibsql {
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	t, err := resolveTarget(cfg)
	if err != nil {
		return nil, err
	}
	if t.dir != "" {
		// #nosec G301 -- the data directory is shared with other local tools
		if err := os.MkdirAll(t.dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open(driverLibsql, t.dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping libsql store: %w", err)
	}
	if strings.HasPrefix(t.dsn, "file:") {
		if err := configureLocal(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &Store{DB: db, driver: driver, remote: t.remote}, nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *Store) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

// Remote reports whether the store is a Turso database rather than a file.
func (s *Store) Remote() bool {
	return s != nil && s.remote
}

// Ping verifies the connection is usable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return ErrNotOpen
	}
	return s.DB.PingContext(ctx)
}

// configureLocal makes concurrent CLI and server processes wait on a local
// file instead of failing with SQLITE_BUSY.
func configureLocal(ctx context.Context, db *sql.DB) error {
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		rows, err := db.QueryContext(ctx, pragma)
		if err != nil {
			return fmt.Errorf("configure local store (%s): %w", pragma, err)
		}
		_ = rows.Close()
	}
	return nil
}

// resolveTarget turns store settings into a libsql DSN. A URL wins over a
// path; bare paths become file: DSNs.
func resolveTarget(cfg config.StoreConfig) (target, error) {
	if raw := strings.TrimSpace(cfg.URL); raw != "" {
		dsn, err := withAuthToken(raw, cfg.AuthToken)
		if err != nil {
			return target{}, err
		}
		return target{dsn: dsn, remote: !strings.HasPrefix(dsn, "file:")}, nil
	}

	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "":
		return target{}, errors.New("store path or url is required")
	case path == ":memory:":
		return target{dsn: path}, nil
	case strings.HasPrefix(path, "libsql:"):
		return target{dsn: path, remote: true}, nil
	case strings.HasPrefix(path, "file:"):
		local, err := filePath(path)
		if err != nil {
			return target{}, err
		}
		return target{dsn: path, dir: parentDir(local)}, nil
	default:
		return target{dsn: "file:" + filepath.Clean(path), dir: parentDir(path)}, nil
	}
}

func withAuthToken(dsn, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}
	query := parsed.Query()
	if query.Get("authToken") == "" {
		query.Set("authToken", token)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func filePath(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store path: %w", err)
	}
	if parsed.Path != "" {
		return strings.TrimPrefix(parsed.Path, "//"), nil
	}
	return strings.TrimPrefix(parsed.Opaque, "//"), nil
}

// parentDir returns the directory to create for path, or "" when there is
// nothing to create.
func parentDir(path string) string {
	if strings.TrimSpace(path) == "" || path == ":memory:" {
		return ""
	}
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return ""
	}
	return dir
}
