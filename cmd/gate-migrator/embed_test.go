package main

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListEmbeddedMigrationsRealFS(t *testing.T) {
	e := NewEmbeddedMigration(nil)

	files, err := e.ListEmbeddedMigrations()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"001_create_autopkgtest_results.down.sql",
		"001_create_autopkgtest_results.up.sql",
		"002_create_api_keys.down.sql",
		"002_create_api_keys.up.sql",
	}, files)
}

func TestValidateEmbeddedMigrationsRealFS(t *testing.T) {
	e := NewEmbeddedMigration(nil)
	assert.NoError(t, e.ValidateEmbeddedMigrations())
}

func TestValidateEmbeddedMigrationsRejectsUnpairedMigration(t *testing.T) {
	fsys := fstest.MapFS{
		"001_create_foo.up.sql": &fstest.MapFile{Data: []byte("CREATE TABLE foo();")},
	}

	e := NewEmbeddedMigration(fsys)
	err := e.ValidateEmbeddedMigrations()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orphaned up migration")
}

func TestValidateEmbeddedMigrationsRejectsSequenceGap(t *testing.T) {
	fsys := fstest.MapFS{
		"001_create_foo.up.sql":   &fstest.MapFile{Data: []byte("CREATE TABLE foo();")},
		"001_create_foo.down.sql": &fstest.MapFile{Data: []byte("DROP TABLE foo;")},
		"003_create_bar.up.sql":   &fstest.MapFile{Data: []byte("CREATE TABLE bar();")},
		"003_create_bar.down.sql": &fstest.MapFile{Data: []byte("DROP TABLE bar;")},
	}

	e := NewEmbeddedMigration(fsys)
	err := e.ValidateEmbeddedMigrations()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gap in migration sequence")
}

func TestValidateEmbeddedMigrationsRejectsBadFilename(t *testing.T) {
	fsys := fstest.MapFS{
		"not-a-migration.sql": &fstest.MapFile{Data: []byte("CREATE TABLE foo();")},
	}

	e := NewEmbeddedMigration(fsys)
	err := e.ValidateEmbeddedMigrations()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no embedded migration files found")
}

func TestValidateEmbeddedMigrationsDetectsChecksumDrift(t *testing.T) {
	fsys := fstest.MapFS{
		"001_create_foo.up.sql":   &fstest.MapFile{Data: []byte("CREATE TABLE foo();")},
		"001_create_foo.down.sql": &fstest.MapFile{Data: []byte("DROP TABLE foo;")},
	}

	e := NewEmbeddedMigration(fsys)
	require.NoError(t, e.ValidateEmbeddedMigrations())

	fsys["001_create_foo.up.sql"].Data = []byte("CREATE TABLE foo(id INT);")

	err := e.ValidateEmbeddedMigrations()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestParseMigrationFilename(t *testing.T) {
	e := NewEmbeddedMigration(nil)

	info, err := e.parseMigrationFilename("001_create_autopkgtest_results.up.sql")
	require.NoError(t, err)
	assert.Equal(t, 1, info.Sequence)
	assert.Equal(t, "create_autopkgtest_results", info.Name)
	assert.Equal(t, "up", info.Direction)

	_, err = e.parseMigrationFilename("bogus.sql")
	assert.Error(t, err)
}
