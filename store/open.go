package store

import (
	"path/filepath"
	"strings"

	"github.com/dhcgn/clientmail/directory"
)

// Open returns the client book store for path. Files ending in .db, .sqlite
// or .sqlite3 are SQLite databases; anything else is a YAML file. The
// returned close function must be called when done.
func Open(path string) (directory.Store, func() error, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		s, err := NewSQLiteStore(path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return directory.NewFileStore(path), func() error { return nil }, nil
	}
}
