// Package state persists the two durable records of a job: the progress
// checkpoint and the last-operation record. Records live behind a Store so
// the pipeline can run against files, SQLite or memory.
//
// Concurrent jobs against the same store are not supported; nothing here
// locks across processes.
package state

import (
	"errors"
	"fmt"
	"path/filepath"
)

// ErrNotFound is returned by Store.Read for a key that was never written
// or has been deleted.
var ErrNotFound = errors.New("state: record not found")

// Store is a whole-record key-value store. Write replaces the record.
type Store interface {
	Read(key string) ([]byte, error)
	Write(key string, data []byte) error
	Exists(key string) (bool, error)
	Delete(key string) error
}

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// SQLiteFileName is the database file used by the sqlite backend.
const SQLiteFileName = "state.db"

// Open returns the store for backend rooted at workDir. Opening never
// touches the filesystem; the first Write does.
func Open(backend, workDir string) (Store, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(workDir), nil
	case BackendSQLite:
		return NewSQLiteStore(filepath.Join(workDir, SQLiteFileName)), nil
	}
	return nil, fmt.Errorf("unknown state backend %q (expected %s or %s)", backend, BackendFile, BackendSQLite)
}

// Close releases resources held by s, if any.
func Close(s Store) error {
	if c, ok := s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
