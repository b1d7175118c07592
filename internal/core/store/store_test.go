package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intunectl/intunectl/internal/config"
)

func TestResolveTarget(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")

	cases := []struct {
		name string
		cfg  config.StoreConfig
		want target
	}{
		{
			name: "TursoURLGetsToken",
			cfg:  config.StoreConfig{URL: "libsql://tenant.turso.io", AuthToken: "tok"},
			want: target{dsn: "libsql://tenant.turso.io?authToken=tok", remote: true},
		},
		{
			name: "ExistingQuerySorted",
			cfg:  config.StoreConfig{URL: "libsql://tenant.turso.io?tls=1", AuthToken: "tok"},
			want: target{dsn: "libsql://tenant.turso.io?authToken=tok&tls=1", remote: true},
		},
		{
			name: "ExplicitTokenInURLKept",
			cfg:  config.StoreConfig{URL: "libsql://tenant.turso.io?authToken=inline", AuthToken: "tok"},
			want: target{dsn: "libsql://tenant.turso.io?authToken=inline", remote: true},
		},
		{
			name: "URLWinsOverPath",
			cfg:  config.StoreConfig{URL: "libsql://tenant.turso.io", Path: "/tmp/ignored.db"},
			want: target{dsn: "libsql://tenant.turso.io", remote: true},
		},
		{
			name: "FileDSN",
			cfg:  config.StoreConfig{Path: "file:./intunectl.db"},
			want: target{dsn: "file:./intunectl.db"},
		},
		{
			name: "BarePath",
			cfg:  config.StoreConfig{Path: filepath.Join(dataDir, "intunectl.db")},
			want: target{dsn: "file:" + filepath.Join(dataDir, "intunectl.db"), dir: dataDir},
		},
		{
			name: "Memory",
			cfg:  config.StoreConfig{Path: ":memory:"},
			want: target{dsn: ":memory:"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveTarget(tc.cfg)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := resolveTarget(config.StoreConfig{})
	require.Error(t, err)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "postgres", Path: ":memory:"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}

func TestNilStoreIsNotOpen(t *testing.T) {
	var s *Store
	assert.NoError(t, s.Close())
	assert.Empty(t, s.Driver())
	assert.False(t, s.Remote())
	assert.True(t, errors.Is(s.Ping(context.Background()), ErrNotOpen))

	_, err := s.GetRateLimit(context.Background(), "deviceManagement")
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, s.Migrate(context.Background()), ErrNotOpen)
}
