// Package kobolibrary reads the Kobo Desktop Edition SQLite library: book
// metadata, per-book wrapped content keys, and the account user IDs the
// key-derivation step needs.
//
// Grounded on original_source's KoboLibrary: the WAL-disabling byte patch
// on a snapshot copy, the content_keys/content/user queries, and the
// DRM-free directory scan are all translated line-for-line from Python's
// sqlite3 to database/sql. SQLite access goes through
// uptrace/bun/driver/sqliteshim the same way the teacher's pkg/database
// does — driven directly with database/sql rather than bun's ORM, since
// the Kobo database is a foreign, read-only schema this program never
// migrates or writes (see DESIGN.md).
package kobolibrary

import (
	"database/sql"
	"encoding/base64"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/go-bookloader/bookloader/pkg/bookerrors"
)

// Book is one entry in the Kobo library, DRM-protected or not.
type Book struct {
	VolumeID       string
	Title          string
	Author         string
	Filename       string
	HasDRM         bool
	EncryptedFiles map[string][]byte // archive member name -> wrapped page key
}

// Library is an open handle onto a Kobo Desktop Edition directory's
// snapshot database. Close must be called to release the snapshot file.
type Library struct {
	kobodir string
	db      *sql.DB
	tmpPath string
}

// Open locates Kobo.sqlite under kobodir, snapshots it with WAL
// interpretation disabled, and opens the snapshot read-only.
func Open(kobodir string) (*Library, error) {
	if _, err := os.Stat(kobodir); err != nil {
		return nil, bookerrors.NewKoboLibraryNotFoundError(
			"Kobo Desktop Edition directory not found: %s\nPlease make sure Kobo Desktop is installed and has been run at least once.", kobodir)
	}

	kobodb := filepath.Join(kobodir, "Kobo.sqlite")
	if _, err := os.Stat(kobodb); err != nil {
		return nil, bookerrors.NewKoboLibraryNotFoundError(
			"Kobo database not found: %s\nPlease make sure Kobo Desktop has synced your library.", kobodb)
	}

	tmpPath, err := snapshotWithWALDisabled(kobodb)
	if err != nil {
		return nil, bookerrors.NewKoboLibraryNotFoundError("snapshot kobo database: %v", err)
	}

	db, err := sql.Open(sqliteshim.ShimName, "file:"+tmpPath+"?mode=ro")
	if err != nil {
		os.Remove(tmpPath)
		return nil, bookerrors.NewKoboLibraryNotFoundError("open kobo database snapshot: %v", err)
	}

	return &Library{kobodir: kobodir, db: db, tmpPath: tmpPath}, nil
}

// snapshotWithWALDisabled copies src to a temp file, patching bytes 18-19
// of the SQLite header from whatever WAL-or-rollback mode the live
// database is in to 0x01 0x01 (rollback journal), so the copy can be
// opened safely while Kobo Desktop still has the original in WAL mode.
func snapshotWithWALDisabled(src string) (string, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return "", err
	}
	if len(data) >= 20 {
		data[18] = 0x01
		data[19] = 0x01
	}

	tmp, err := os.CreateTemp("", "kobo-*.sqlite")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// Close closes the database handle and unlinks the snapshot file.
func (l *Library) Close() error {
	err := l.db.Close()
	if rmErr := os.Remove(l.tmpPath); err == nil {
		err = rmErr
	}
	return err
}

// Books returns every book in the library, DRM-protected and DRM-free,
// sorted by title case-insensitively.
func (l *Library) Books() ([]Book, error) {
	books, err := l.drmBooks()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(books))
	for _, b := range books {
		seen[b.VolumeID] = true
	}

	freeBooks, err := l.drmFreeBooks(seen)
	if err != nil {
		return nil, err
	}
	books = append(books, freeBooks...)

	sort.Slice(books, func(i, j int) bool {
		return strings.ToLower(books[i].Title) < strings.ToLower(books[j].Title)
	})
	return books, nil
}

func (l *Library) drmBooks() ([]Book, error) {
	rows, err := l.db.Query(
		"SELECT DISTINCT volumeid, Title, Attribution FROM content_keys, content WHERE contentid = volumeid")
	if err != nil {
		return nil, bookerrors.NewKoboLibraryNotFoundError("query content_keys: %v", err)
	}
	defer rows.Close()

	var books []Book
	for rows.Next() {
		var volumeID, title, author sql.NullString
		if err := rows.Scan(&volumeID, &title, &author); err != nil {
			return nil, bookerrors.NewKoboLibraryNotFoundError("scan content_keys row: %v", err)
		}

		encFiles, err := l.encryptedFiles(volumeID.String)
		if err != nil {
			return nil, err
		}

		displayTitle := title.String
		if displayTitle == "" {
			displayTitle = volumeID.String
		}

		books = append(books, Book{
			VolumeID:       volumeID.String,
			Title:          displayTitle,
			Author:         author.String,
			Filename:       filepath.Join(l.kobodir, "kepub", volumeID.String),
			HasDRM:         true,
			EncryptedFiles: encFiles,
		})
	}
	return books, rows.Err()
}

func (l *Library) encryptedFiles(volumeID string) (map[string][]byte, error) {
	rows, err := l.db.Query("SELECT elementid, elementkey FROM content_keys WHERE volumeid = ?", volumeID)
	if err != nil {
		return nil, bookerrors.NewKoboLibraryNotFoundError("query per-book keys: %v", err)
	}
	defer rows.Close()

	files := map[string][]byte{}
	for rows.Next() {
		var elementID, elementKeyB64 string
		if err := rows.Scan(&elementID, &elementKeyB64); err != nil {
			return nil, bookerrors.NewKoboLibraryNotFoundError("scan content_keys row: %v", err)
		}
		key, err := base64.StdEncoding.DecodeString(elementKeyB64)
		if err != nil {
			return nil, bookerrors.NewKoboLibraryNotFoundError("decode elementkey for %s: %v", elementID, err)
		}
		files[elementID] = key
	}
	return files, rows.Err()
}

func (l *Library) drmFreeBooks(seen map[string]bool) ([]Book, error) {
	bookdir := filepath.Join(l.kobodir, "kepub")
	entries, err := os.ReadDir(bookdir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, bookerrors.NewKoboLibraryNotFoundError("scan kepub directory: %v", err)
	}

	var books []Book
	for _, entry := range entries {
		if seen[entry.Name()] {
			continue
		}

		var title, author sql.NullString
		row := l.db.QueryRow("SELECT Title, Attribution FROM content WHERE ContentID = ?", entry.Name())
		if err := row.Scan(&title, &author); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, bookerrors.NewKoboLibraryNotFoundError("query content for %s: %v", entry.Name(), err)
		}

		displayTitle := title.String
		if displayTitle == "" {
			displayTitle = entry.Name()
		}

		books = append(books, Book{
			VolumeID: entry.Name(),
			Title:    displayTitle,
			Author:   author.String,
			Filename: filepath.Join(bookdir, entry.Name()),
			HasDRM:   false,
		})
		seen[entry.Name()] = true
	}
	return books, nil
}

// UserIDs returns every UserID in the user table.
func (l *Library) UserIDs() ([]string, error) {
	rows, err := l.db.Query("SELECT UserID FROM user")
	if err != nil {
		return nil, bookerrors.NewKoboLibraryNotFoundError("query user table: %v", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, bookerrors.NewKoboLibraryNotFoundError("scan user row: %v", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
