// Package badgerstore is a DurableStore on an embedded BadgerDB.
//
// Layout:
//
//	session/<id>              JSON session
//	head/<id>                 latest version id, decimal
//	version/<id>/<%020d>      JSON version
//	conflict/<id>/<recordID>  JSON conflict record
//	snapshot/<id>/<%020d>     JSON snapshot keyed by version id
package badgerstore

import (
	"context"
	"encoding/json"
	defError "errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"collaborative-draft-editor/internal/domain"
	"collaborative-draft-editor/internal/store"

	"github.com/dgraph-io/badger/v4"
)

// Config holds the options of the embedded database
type Config struct {
	// Path is the data directory, ignored when InMemory is set
	Path       string
	InMemory   bool
	SyncWrites bool
	// Verbose forwards badger's own logging to the standard logger
	Verbose bool
}

func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig is used by tests
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// stdLogger forwards badger logs to the standard logger
type stdLogger struct{}

func (stdLogger) Errorf(format string, args ...interface{}) {
	log.Printf("[STORE] badger error: "+format, args...)
}

func (stdLogger) Warningf(format string, args ...interface{}) {
	log.Printf("[STORE] badger warning: "+format, args...)
}

func (stdLogger) Infof(format string, args ...interface{}) {}

func (stdLogger) Debugf(format string, args ...interface{}) {}

type Store struct {
	db *badger.DB
}

var _ store.DurableStore = (*Store)(nil)

func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, defError.New("badger path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Verbose {
		opts = opts.WithLogger(stdLogger{})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func sessionKey(id string) []byte { return []byte("session/" + id) }
func headKey(id string) []byte    { return []byte("head/" + id) }
func versionPrefix(id string) []byte {
	return []byte("version/" + id + "/")
}
func versionKey(id string, v int64) []byte {
	return []byte(fmt.Sprintf("version/%s/%020d", id, v))
}
func conflictPrefix(id string) []byte { return []byte("conflict/" + id + "/") }
func snapshotPrefix(id string) []byte { return []byte("snapshot/" + id + "/") }
func snapshotKey(id string, v int64) []byte {
	return []byte(fmt.Sprintf("snapshot/%s/%020d", id, v))
}

// unavailable marks badger faults as transient so the retry wrapper sees them
func unavailable(err error) error {
	if err == nil || store.Permanent(err) {
		return err
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if defError.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func head(txn *badger.Txn, id string) (int64, error) {
	item, err := txn.Get(headKey(id))
	if defError.Is(err, badger.ErrKeyNotFound) {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	var v int64
	err = item.Value(func(val []byte) error {
		v, err = strconv.ParseInt(string(val), 10, 64)
		return err
	})
	return v, err
}

func setHead(txn *badger.Txn, id string, v int64) error {
	return txn.Set(headKey(id), []byte(strconv.FormatInt(v, 10)))
}

func exists(txn *badger.Txn, id string) error {
	_, err := txn.Get(sessionKey(id))
	if defError.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return err
}

func scan[T any](txn *badger.Txn, prefix []byte) ([]T, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	out := []T{}
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var v T
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		}); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Store) Create(_ context.Context, session *domain.Session) error {
	return unavailable(s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(session.ID)); err == nil {
			return fmt.Errorf("session %s: %w", session.ID, store.ErrAlreadyExists)
		} else if !defError.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, sessionKey(session.ID), session)
	}))
}

func (s *Store) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	err := s.db.View(func(txn *badger.Txn) error {
		if err := getJSON(txn, sessionKey(sessionID), &session); err != nil {
			return err
		}
		h, err := head(txn, sessionID)
		if err != nil {
			return err
		}
		session.CurrentVersionID = max(h, 0)
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return &session, nil
}

func (s *Store) UpdateSession(_ context.Context, session *domain.Session) error {
	return unavailable(s.db.Update(func(txn *badger.Txn) error {
		if err := exists(txn, session.ID); err != nil {
			return err
		}
		return setJSON(txn, sessionKey(session.ID), session)
	}))
}

func (s *Store) AppendVersion(_ context.Context, sessionID string, version domain.ContentVersion, expectedPrior int64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := exists(txn, sessionID); err != nil {
			return err
		}
		last, err := head(txn, sessionID)
		if err != nil {
			return err
		}
		if last != expectedPrior || version.ID != expectedPrior+1 {
			return fmt.Errorf("session %s at %d, append %d after %d: %w", sessionID, last, version.ID, expectedPrior, store.ErrVersionMismatch)
		}
		if err := setJSON(txn, versionKey(sessionID, version.ID), version); err != nil {
			return err
		}
		return setHead(txn, sessionID, version.ID)
	})
	if defError.Is(err, badger.ErrConflict) {
		// a concurrent transaction moved the head first
		return fmt.Errorf("session %s: %w", sessionID, store.ErrVersionMismatch)
	}
	return unavailable(err)
}

func (s *Store) ListVersions(_ context.Context, sessionID string) ([]domain.ContentVersion, error) {
	var versions []domain.ContentVersion
	err := s.db.View(func(txn *badger.Txn) error {
		if err := exists(txn, sessionID); err != nil {
			return err
		}
		var err error
		versions, err = scan[domain.ContentVersion](txn, versionPrefix(sessionID))
		return err
	})
	return versions, unavailable(err)
}

func (s *Store) SaveConflict(_ context.Context, record domain.ConflictRecord) error {
	return unavailable(s.db.Update(func(txn *badger.Txn) error {
		if err := exists(txn, record.SessionID); err != nil {
			return err
		}
		key := append(conflictPrefix(record.SessionID), []byte(record.Timestamp.UTC().Format("20060102T150405.000000000")+"/"+record.ID)...)
		return setJSON(txn, key, record)
	}))
}

func (s *Store) ListConflicts(_ context.Context, sessionID string) ([]domain.ConflictRecord, error) {
	var records []domain.ConflictRecord
	err := s.db.View(func(txn *badger.Txn) error {
		if err := exists(txn, sessionID); err != nil {
			return err
		}
		var err error
		records, err = scan[domain.ConflictRecord](txn, conflictPrefix(sessionID))
		return err
	})
	return records, unavailable(err)
}

func (s *Store) SaveSnapshot(_ context.Context, snapshot domain.Snapshot) error {
	return unavailable(s.db.Update(func(txn *badger.Txn) error {
		if err := exists(txn, snapshot.SessionID); err != nil {
			return err
		}
		return setJSON(txn, snapshotKey(snapshot.SessionID, snapshot.VersionID), snapshot)
	}))
}

func (s *Store) LatestSnapshot(_ context.Context, sessionID string) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		if err := exists(txn, sessionID); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := snapshotPrefix(sessionID)
		// reverse iteration starts from the last key carrying the prefix
		seek := append(append([]byte{}, prefix...), 0xFF)
		it.Seek(seek)
		if !it.ValidForPrefix(prefix) {
			return fmt.Errorf("snapshot of %s: %w", sessionID, store.ErrNotFound)
		}
		return it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return &snap, nil
}

func (s *Store) Restore(_ context.Context, snapshot domain.Snapshot) error {
	return unavailable(s.db.Update(func(txn *badger.Txn) error {
		id := snapshot.SessionID
		if err := exists(txn, id); err != nil {
			return err
		}

		prefix := versionPrefix(id)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		var stale [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}

		for _, v := range snapshot.Versions {
			if err := setJSON(txn, versionKey(id, v.ID), v); err != nil {
				return err
			}
		}
		if err := setHead(txn, id, snapshot.VersionID); err != nil {
			return err
		}
		session := snapshot.Session
		session.CurrentVersionID = snapshot.VersionID
		return setJSON(txn, sessionKey(id), &session)
	}))
}

func (s *Store) ListSessions(_ context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte("session/")
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), "session/"))
		}
		return nil
	})
	return ids, unavailable(err)
}
