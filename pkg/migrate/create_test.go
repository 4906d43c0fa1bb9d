package migrate

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	require.Equal(t, "add_orders_table", slugify("Add Orders Table"))
	require.Equal(t, "fix_fk_cascade", slugify("  fix: FK cascade!  "))
	require.Equal(t, "", slugify("!!!"))
}

func TestCreateSQLMigrationWritesStub(t *testing.T) {
	dir := t.TempDir()

	path, err := CreateSQLMigration(dir, "Add Orders Table")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, "_add_orders_table.sql"))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(content), "-- +goose Up")
	require.Contains(t, string(content), "-- +goose Down")
}

func TestCreateSQLMigrationRejectsEmptyName(t *testing.T) {
	_, err := CreateSQLMigration(t.TempDir(), "???")
	require.Error(t, err)

	_, err = CreateSQLMigration("", "valid")
	require.Error(t, err)
}
