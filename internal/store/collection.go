package store

import (
	"encoding/json"
	"errors"
	"fmt"

	apperrors "github.com/alexjbarnes/pantry-sync/internal/errors"
	"github.com/tidwall/sjson"
	bolt "go.etcd.io/bbolt"
)

// Record is implemented by every type persisted in a collection.
type Record interface {
	RecordID() string
}

// Linker is implemented by records that expose prefetched relations.
// related is the raw JSON of the referenced record, or nil when the
// foreign key is null or dangling.
type Linker interface {
	Link(relation string, related []byte) error
}

// Collection is the typed view of one schema's bucket. T is usually a
// pointer to a struct marshalled with encoding/json.
type Collection[T Record] struct {
	store  *Store
	schema Schema
}

// NewCollection returns the collection registered under name.
func NewCollection[T Record](s *Store, name string) (*Collection[T], error) {
	schema, ok := s.schemas[name]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", name)
	}

	return &Collection[T]{store: s, schema: schema}, nil
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.schema.Name
}

// Get returns the record with the given id. The boolean is false when no
// such record exists.
func (c *Collection[T]) Get(id string) (T, bool, error) {
	var (
		out   T
		found bool
	)

	err := c.store.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(c.schema.Name)).Bucket(recordsBucket).Get([]byte(id))
		if raw == nil {
			return nil
		}

		v, err := c.decode(tx, raw, nil)
		if err != nil {
			return err
		}

		out, found = v, true

		return nil
	})
	if err != nil {
		return out, false, c.wrap("get", err)
	}

	return out, found, nil
}

// Save inserts or replaces a record.
func (c *Collection[T]) Save(rec T) error {
	return c.SaveAll([]T{rec})
}

// SaveAll inserts or replaces several records in one transaction.
func (c *Collection[T]) SaveAll(recs []T) error {
	encoded := make([]row, 0, len(recs))

	for _, rec := range recs {
		id := rec.RecordID()
		if id == "" {
			return fmt.Errorf("%s: record without id", c.schema.Name)
		}

		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding %s %s: %w", c.schema.Name, id, err)
		}

		encoded = append(encoded, row{id: id, raw: raw})
	}

	err := c.store.db.Update(func(tx *bolt.Tx) error {
		for _, r := range encoded {
			if err := c.store.putRaw(tx, c.schema, r.id, r.raw); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return c.wrap("save", err)
	}

	return nil
}

// Delete removes the record with the given id together with the records
// cascading from it. Deleting a missing record is a no-op.
func (c *Collection[T]) Delete(id string) error {
	_, err := c.All().Filter(IDField, Eq, id).Delete()
	return err
}

// Patch sets individual fields on the stored record without touching the
// others. It fails with ErrNotFound when the record does not exist.
func (c *Collection[T]) Patch(id string, fields map[string]any) error {
	n, err := c.All().Filter(IDField, Eq, id).Update(fields)
	if err != nil {
		return err
	}

	if n == 0 {
		return notFound(c.schema.Name, id)
	}

	return nil
}

// Modify reads the record, lets fn change it and writes it back in one
// write transaction, so concurrent Patch calls are never lost. It fails
// with ErrNotFound when the record does not exist. An error from fn
// aborts the write and is returned unchanged.
func (c *Collection[T]) Modify(id string, fn func(T) error) error {
	var fnErr error

	err := c.store.db.Update(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(c.schema.Name)).Bucket(recordsBucket).Get([]byte(id))
		if raw == nil {
			return notFound(c.schema.Name, id)
		}

		v, err := c.decode(tx, raw, nil)
		if err != nil {
			return err
		}

		if fnErr = fn(v); fnErr != nil {
			return fnErr
		}

		if v.RecordID() != id {
			return fmt.Errorf("%s %s: record id changed to %q", c.schema.Name, id, v.RecordID())
		}

		updated, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding %s %s: %w", c.schema.Name, id, err)
		}

		return c.store.putRaw(tx, c.schema, id, updated)
	})

	switch {
	case err == nil:
		return nil
	case fnErr != nil:
		return fnErr
	default:
		return c.wrap("modify", err)
	}
}

// All starts a query over every record of the collection.
func (c *Collection[T]) All() *Query[T] {
	return &Query[T]{c: c}
}

func (c *Collection[T]) decode(tx *bolt.Tx, raw []byte, prefetch []string) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decoding %s record: %w", c.schema.Name, err)
	}

	if len(prefetch) == 0 {
		return v, nil
	}

	linker, ok := any(v).(Linker)
	if !ok {
		return v, fmt.Errorf("%s records do not accept prefetched relations", c.schema.Name)
	}

	for _, name := range prefetch {
		rel := c.schema.Relations[name]

		var related []byte

		if fk := getField(raw, rel.Field); fk.Str != "" {
			target := tx.Bucket([]byte(rel.Target)).Bucket(recordsBucket)
			if r := target.Get([]byte(fk.Str)); r != nil {
				related = append([]byte(nil), r...)
			}
		}

		if err := linker.Link(name, related); err != nil {
			return v, fmt.Errorf("linking %s.%s: %w", c.schema.Name, name, err)
		}
	}

	return v, nil
}

// wrap classifies an error escaping a transaction. Not-found results pass
// through unchanged, everything else is a storage failure.
func (c *Collection[T]) wrap(op string, err error) error {
	if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrStorage) {
		return err
	}

	return storageErr(c.schema.Name+" "+op, err)
}

func setField(raw []byte, field string, value any) ([]byte, error) {
	v, err := encodeValue(value)
	if err != nil {
		return nil, err
	}

	return sjson.SetRawBytes(raw, field, []byte(v.Raw))
}
