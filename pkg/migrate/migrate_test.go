package migrate

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_chunk_checksums.sql": {Data: []byte("-- +migrate Up\nALTER TABLE chunk_records ADD COLUMN checksum TEXT;\n-- +migrate Down\nALTER TABLE chunk_records DROP COLUMN checksum;\n")},
		"migrations/001_upload_sessions.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE upload_sessions (id UUID);\n\n-- +migrate Down\nDROP TABLE upload_sessions;\n")},
		"migrations/README.md":               {Data: []byte("not a migration")},
		"migrations/bogus.sql":               {Data: []byte("SELECT 1;")},
		"migrations/003_empty.sql":           {Data: []byte("-- +migrate Down\nSELECT 1;")},
	}

	migrations, err := Load(fsys, "migrations")
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "upload_sessions", migrations[0].Name)
	assert.Equal(t, "CREATE TABLE upload_sessions (id UUID);", migrations[0].UpSQL)
	assert.Equal(t, "DROP TABLE upload_sessions;", migrations[0].DownSQL)

	assert.Equal(t, 2, migrations[1].Version)
	assert.Equal(t, "chunk_checksums", migrations[1].Name)
}

func TestLoad_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/001_a.sql": {Data: []byte("SELECT 1;")},
		"m/001_b.sql": {Data: []byte("SELECT 2;")},
	}

	_, err := Load(fsys, "m")
	assert.Error(t, err)
}

func TestLoad_MissingDirectory(t *testing.T) {
	_, err := Load(fstest.MapFS{}, "migrations")
	assert.Error(t, err)
}

func TestSplit_NoMarkers(t *testing.T) {
	up, down := split("CREATE TABLE t (id INT);\n")
	assert.Equal(t, "CREATE TABLE t (id INT);", up)
	assert.Empty(t, down)
}

func TestPending(t *testing.T) {
	all := []*Migration{{Version: 1}, {Version: 2}, {Version: 3}}

	pending := Pending(all, []int{1, 3})
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Version)

	assert.Len(t, Pending(all, nil), 3)
	assert.Empty(t, Pending(all, []int{1, 2, 3}))
}
