package kobolibrary

import (
	"database/sql"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// buildKoboDir creates a Kobo.sqlite with the content/content_keys/user
// schema the library queries expect, plus a kepub directory holding one
// DRM-free file, mirroring a real Kobo Desktop Edition install.
func buildKoboDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "Kobo.sqlite")

	db, err := sql.Open(sqliteshim.ShimName, dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE content (ContentID TEXT, Title TEXT, Attribution TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE content_keys (volumeid TEXT, elementid TEXT, elementkey TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE user (UserID TEXT)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO content (ContentID, Title, Attribution) VALUES (?, ?, ?)`,
		"book-drm-1", "Zebra Stripes", "Author A")
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO content (ContentID, Title, Attribution) VALUES (?, ?, ?)`,
		"book-free-1.kepub.epub", "Apple Pie", "Author B")
	require.NoError(t, err)

	key := base64.StdEncoding.EncodeToString([]byte("0123456789ABCDEF"))
	_, err = db.Exec(`INSERT INTO content_keys (volumeid, elementid, elementkey) VALUES (?, ?, ?)`,
		"book-drm-1", "chapter1.xhtml", key)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO user (UserID) VALUES (?)`, "user-aaaa")
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO user (UserID) VALUES (?)`, "user-bbbb")
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "kepub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kepub", "book-free-1.kepub.epub"), []byte("plain book bytes"), 0o644))

	return dir
}

func TestOpenSnapshotsDatabaseWithWALDisabled(t *testing.T) {
	dir := buildKoboDir(t)

	original, err := os.ReadFile(filepath.Join(dir, "Kobo.sqlite"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(original), 20)

	lib, err := Open(dir)
	require.NoError(t, err)
	defer lib.Close()

	snapshot, err := os.ReadFile(lib.tmpPath)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(snapshot), 20)
	assert.Equal(t, byte(0x01), snapshot[18])
	assert.Equal(t, byte(0x01), snapshot[19])
}

func TestOpenRejectsMissingDirectory(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}

func TestOpenRejectsMissingDatabase(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir)
	assert.Error(t, err)
}

func TestBooksReturnsDRMAndFreeBooksSortedByTitle(t *testing.T) {
	dir := buildKoboDir(t)

	lib, err := Open(dir)
	require.NoError(t, err)
	defer lib.Close()

	books, err := lib.Books()
	require.NoError(t, err)
	require.Len(t, books, 2)

	assert.Equal(t, "Apple Pie", books[0].Title)
	assert.False(t, books[0].HasDRM)

	assert.Equal(t, "Zebra Stripes", books[1].Title)
	assert.True(t, books[1].HasDRM)
	require.Contains(t, books[1].EncryptedFiles, "chapter1.xhtml")
	assert.Equal(t, []byte("0123456789ABCDEF"), books[1].EncryptedFiles["chapter1.xhtml"])
}

func TestUserIDsReturnsEveryUser(t *testing.T) {
	dir := buildKoboDir(t)

	lib, err := Open(dir)
	require.NoError(t, err)
	defer lib.Close()

	ids, err := lib.UserIDs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user-aaaa", "user-bbbb"}, ids)
}

func TestCloseRemovesSnapshotFile(t *testing.T) {
	dir := buildKoboDir(t)

	lib, err := Open(dir)
	require.NoError(t, err)
	tmpPath := lib.tmpPath

	require.NoError(t, lib.Close())

	_, statErr := os.Stat(tmpPath)
	assert.True(t, os.IsNotExist(statErr))
}
