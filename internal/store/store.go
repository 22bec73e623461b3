// Package store is the local record store: typed collections persisted in
// a single bbolt file, with secondary indexes on the fields queries filter
// by, lazy filter/order queries, one-hop relation prefetch and cascading
// deletes. Each operation runs in exactly one bbolt transaction.
package store

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/alexjbarnes/pantry-sync/internal/errors"
	"github.com/tidwall/gjson"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the directory holding the
	// database file.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the database file.
	stateFilePerm = fs.FileMode(0o600)

	// openTimeout is the maximum time to wait for the bolt file lock.
	openTimeout = 5 * time.Second
)

var recordsBucket = []byte("records")

// Store wraps a bbolt database holding every collection.
type Store struct {
	db      *bolt.DB
	schemas map[string]Schema
}

// Open opens (creating if needed) the database at path and makes sure a
// bucket and its index buckets exist for every schema.
func Open(path string, schemas ...Schema) (*Store, error) {
	all := make(map[string]Schema, len(schemas))
	for _, s := range schemas {
		if _, dup := all[s.Name]; dup {
			return nil, fmt.Errorf("duplicate schema %q", s.Name)
		}

		all[s.Name] = s
	}

	for _, s := range schemas {
		if err := s.validate(all); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, storageErr("opening database", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, s := range schemas {
			b, err := tx.CreateBucketIfNotExists([]byte(s.Name))
			if err != nil {
				return err
			}

			if _, err := b.CreateBucketIfNotExists(recordsBucket); err != nil {
				return err
			}

			for _, field := range s.Indexes {
				if _, err := b.CreateBucketIfNotExists(indexBucket(field)); err != nil {
					return err
				}
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, storageErr("initializing buckets", err)
	}

	return &Store{db: db, schemas: all}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

// Stats returns the number of records per collection.
func (s *Store) Stats() (map[string]int, error) {
	counts := make(map[string]int, len(s.schemas))

	err := s.db.View(func(tx *bolt.Tx) error {
		for name := range s.schemas {
			counts[name] = tx.Bucket([]byte(name)).Bucket(recordsBucket).Stats().KeyN
		}

		return nil
	})
	if err != nil {
		return nil, storageErr("reading stats", err)
	}

	return counts, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", apperrors.ErrStorage, op, err)
}

func notFound(collection, id string) error {
	if id == "" {
		return fmt.Errorf("%s: %w", collection, apperrors.ErrNotFound)
	}

	return fmt.Errorf("%s %s: %w", collection, id, apperrors.ErrNotFound)
}

// putRaw writes a record and keeps its index entries in step. raw must
// not alias memory owned by bbolt.
func (s *Store) putRaw(tx *bolt.Tx, schema Schema, id string, raw []byte) error {
	b := tx.Bucket([]byte(schema.Name))
	recs := b.Bucket(recordsBucket)

	if old := recs.Get([]byte(id)); old != nil {
		old = bytes.Clone(old)
		if err := unindex(b, schema, id, old); err != nil {
			return err
		}
	}

	if err := recs.Put([]byte(id), raw); err != nil {
		return err
	}

	return index(b, schema, id, raw)
}

// deleteRaw removes a record, its index entries and every record that
// cascades from it.
func (s *Store) deleteRaw(tx *bolt.Tx, schema Schema, id string, raw []byte) error {
	b := tx.Bucket([]byte(schema.Name))

	if err := unindex(b, schema, id, raw); err != nil {
		return err
	}

	if err := b.Bucket(recordsBucket).Delete([]byte(id)); err != nil {
		return err
	}

	for _, c := range schema.Cascades {
		target := s.schemas[c.Target]

		children, err := s.scan(tx, target, []filter{{field: c.Field, op: Eq, value: stringValue(id)}})
		if err != nil {
			return err
		}

		for _, child := range children {
			if err := s.deleteRaw(tx, target, child.id, child.raw); err != nil {
				return err
			}
		}
	}

	return nil
}

func index(b *bolt.Bucket, schema Schema, id string, raw []byte) error {
	for _, field := range schema.Indexes {
		key := indexKey(token(gjson.GetBytes(raw, field)), id)
		if err := b.Bucket(indexBucket(field)).Put(key, nil); err != nil {
			return err
		}
	}

	return nil
}

func unindex(b *bolt.Bucket, schema Schema, id string, raw []byte) error {
	for _, field := range schema.Indexes {
		key := indexKey(token(gjson.GetBytes(raw, field)), id)
		if err := b.Bucket(indexBucket(field)).Delete(key); err != nil {
			return err
		}
	}

	return nil
}

// row is a materialized record: its id and a copy of its raw JSON.
type row struct {
	id  string
	raw []byte
}

// scan returns every record of schema matching all filters. At most one
// indexed equality filter scopes a cursor scan; the remaining filters are
// evaluated on the raw JSON. Returned rows are copies and stay valid
// after tx ends.
func (s *Store) scan(tx *bolt.Tx, schema Schema, filters []filter) ([]row, error) {
	b := tx.Bucket([]byte(schema.Name))
	recs := b.Bucket(recordsBucket)

	var rows []row

	collect := func(id, raw []byte) {
		if raw == nil || !matchAll(raw, filters) {
			return
		}

		rows = append(rows, row{id: string(id), raw: bytes.Clone(raw)})
	}

	if idFilter, ok := pickIDFilter(filters); ok {
		id := []byte(idFilter.value.Str)
		collect(id, recs.Get(id))

		return rows, nil
	}

	if scoped, ok := pickIndexFilter(schema, filters); ok {
		prefix := indexPrefix(token(scoped.value))
		c := b.Bucket(indexBucket(scoped.field)).Cursor()

		var ids [][]byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			ids = append(ids, bytes.Clone(k[len(prefix):]))
		}

		for _, id := range ids {
			collect(id, recs.Get(id))
		}

		return rows, nil
	}

	err := recs.ForEach(func(k, v []byte) error {
		collect(k, v)
		return nil
	})

	return rows, err
}

func pickIDFilter(filters []filter) (filter, bool) {
	for _, f := range filters {
		if f.field == IDField && f.op == Eq && f.value.Type == gjson.String {
			return f, true
		}
	}

	return filter{}, false
}

func pickIndexFilter(schema Schema, filters []filter) (filter, bool) {
	for _, f := range filters {
		if f.op == Eq && schema.isIndexed(f.field) {
			return f, true
		}
	}

	return filter{}, false
}

func matchAll(raw []byte, filters []filter) bool {
	for _, f := range filters {
		if !f.matches(raw) {
			return false
		}
	}

	return true
}
