package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@localhost:5432/rentpay?sslmode=disable", "pgx5://u:p@localhost:5432/rentpay?sslmode=disable"},
		{"postgresql://localhost/rentpay", "pgx5://localhost/rentpay"},
		{"pgx5://localhost/rentpay", "pgx5://localhost/rentpay"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, migrateURL(tt.in))
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationFiles, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationFiles, "migrations/*.down.sql")
	require.NoError(t, err)

	require.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}

func TestIdempotencyIndexIsScopedToTenant(t *testing.T) {
	raw, err := fs.ReadFile(migrationFiles, "migrations/0001_init.up.sql")
	require.NoError(t, err)

	var index string
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.Contains(line, "idx_payments_idempotency") {
			index = line
		}
	}
	require.NotEmpty(t, index)
	assert.Contains(t, index, "UNIQUE")
	assert.Contains(t, index, "(tenant_id, idempotency_key)")
	assert.Contains(t, index, "WHERE status <> 'CANCELLED'")
}
