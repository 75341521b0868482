package migrations_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhejian/linkboard/internal/migrations"
	"github.com/zhejian/linkboard/internal/testutil"
)

func TestUp_IsIdempotent(t *testing.T) {
	ctx := context.Background()

	testDB, err := testutil.SetupTestDB(ctx)
	require.NoError(t, err, "failed to setup test database")
	defer testDB.Teardown(ctx)

	// SetupTestDB already applied the schema once
	require.NoError(t, migrations.Up(testDB.ConnString))

	var exists bool
	err = testDB.Pool.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM information_schema.tables WHERE table_name = 'links'
	)`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "links table should exist")

	var indexes int
	err = testDB.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM pg_indexes
		WHERE tablename = 'links' AND indexname IN ('idx_links_code', 'idx_links_created_at')`).Scan(&indexes)
	require.NoError(t, err)
	assert.Equal(t, 2, indexes)
}

func TestDown_DropsSchema(t *testing.T) {
	ctx := context.Background()

	testDB, err := testutil.SetupTestDB(ctx)
	require.NoError(t, err, "failed to setup test database")
	defer testDB.Teardown(ctx)

	require.NoError(t, migrations.Down(testDB.ConnString))

	var exists bool
	err = testDB.Pool.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM information_schema.tables WHERE table_name = 'links'
	)`).Scan(&exists)
	require.NoError(t, err)
	assert.False(t, exists, "links table should be dropped")
}

func TestSchema_RejectsNegativeClicks(t *testing.T) {
	ctx := context.Background()

	testDB, err := testutil.SetupTestDB(ctx)
	require.NoError(t, err, "failed to setup test database")
	defer testDB.Teardown(ctx)

	_, err = testDB.Pool.Exec(ctx,
		`INSERT INTO links (code, original_url, clicks) VALUES ($1, $2, $3)`,
		"neg001", "https://example.com", -1)
	assert.Error(t, err, "clicks check constraint should reject negative values")
}
