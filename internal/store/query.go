package store

import (
	"bytes"
	"fmt"
	"iter"
	"maps"
	"slices"

	"github.com/tidwall/gjson"
	bolt "go.etcd.io/bbolt"
)

// Op is a filter comparison operator.
type Op int

const (
	// Eq matches records whose field equals the value. A nil value matches
	// null and missing fields.
	Eq Op = iota
	// Ne matches records whose field differs from the value.
	Ne
)

func (o Op) String() string {
	if o == Ne {
		return "!="
	}

	return "="
}

// iterBatch is the number of records decoded per read transaction by Iter.
const iterBatch = 64

type filter struct {
	field string
	op    Op
	value gjson.Result
}

func (f filter) matches(raw []byte) bool {
	eq := bytes.Equal(token(getField(raw, f.field)), token(f.value))
	if f.op == Ne {
		return !eq
	}

	return eq
}

type order struct {
	field string
	asc   bool
}

// Query is a lazy, immutable query over one collection. Builder methods
// return a new Query; nothing touches the database until a terminal
// method (List, One, First, Count, Delete, Update, UpdateField, Iter)
// runs. Builder errors such as unknown fields are reported by the
// terminal.
type Query[T Record] struct {
	c        *Collection[T]
	filters  []filter
	orders   []order
	prefetch []string
	err      error
}

func (q *Query[T]) clone() *Query[T] {
	return &Query[T]{
		c:        q.c,
		filters:  slices.Clone(q.filters),
		orders:   slices.Clone(q.orders),
		prefetch: slices.Clone(q.prefetch),
		err:      q.err,
	}
}

// Filter adds a condition. Conditions compose as logical AND.
func (q *Query[T]) Filter(field string, op Op, value any) *Query[T] {
	n := q.clone()
	if n.err != nil {
		return n
	}

	if !q.c.schema.hasField(field) {
		n.err = fmt.Errorf("%s: filter on unknown field %q", q.c.schema.Name, field)
		return n
	}

	v, err := encodeValue(value)
	if err != nil {
		n.err = err
		return n
	}

	n.filters = append(n.filters, filter{field: field, op: op, value: v})

	return n
}

// Order sorts results by field. Later calls break ties of earlier ones.
func (q *Query[T]) Order(field string, asc bool) *Query[T] {
	n := q.clone()
	if n.err != nil {
		return n
	}

	if !q.c.schema.hasField(field) {
		n.err = fmt.Errorf("%s: order on unknown field %q", q.c.schema.Name, field)
		return n
	}

	n.orders = append(n.orders, order{field: field, asc: asc})

	return n
}

// Prefetch resolves the named relation on every returned record.
func (q *Query[T]) Prefetch(relation string) *Query[T] {
	n := q.clone()
	if n.err != nil {
		return n
	}

	if _, ok := q.c.schema.Relations[relation]; !ok {
		n.err = fmt.Errorf("%s: unknown relation %q", q.c.schema.Name, relation)
		return n
	}

	n.prefetch = append(n.prefetch, relation)

	return n
}

// List returns every matching record.
func (q *Query[T]) List() ([]T, error) {
	if q.err != nil {
		return nil, q.err
	}

	var out []T

	err := q.c.store.db.View(func(tx *bolt.Tx) error {
		rows, err := q.rows(tx)
		if err != nil {
			return err
		}

		out = make([]T, 0, len(rows))

		for _, r := range rows {
			v, err := q.c.decode(tx, r.raw, q.prefetch)
			if err != nil {
				return err
			}

			out = append(out, v)
		}

		return nil
	})
	if err != nil {
		return nil, q.c.wrap("list", err)
	}

	return out, nil
}

// First returns the first matching record. The boolean is false when
// nothing matches.
func (q *Query[T]) First() (T, bool, error) {
	var zero T

	if q.err != nil {
		return zero, false, q.err
	}

	var (
		out   T
		found bool
	)

	err := q.c.store.db.View(func(tx *bolt.Tx) error {
		rows, err := q.rows(tx)
		if err != nil || len(rows) == 0 {
			return err
		}

		out, err = q.c.decode(tx, rows[0].raw, q.prefetch)
		found = err == nil

		return err
	})
	if err != nil {
		return zero, false, q.c.wrap("first", err)
	}

	return out, found, nil
}

// One returns the first matching record or an error wrapping
// ErrNotFound.
func (q *Query[T]) One() (T, error) {
	v, ok, err := q.First()
	if err != nil {
		return v, err
	}

	if !ok {
		return v, notFound(q.c.schema.Name, "")
	}

	return v, nil
}

// Count returns the number of matching records.
func (q *Query[T]) Count() (int, error) {
	if q.err != nil {
		return 0, q.err
	}

	var n int

	err := q.c.store.db.View(func(tx *bolt.Tx) error {
		rows, err := q.c.store.scan(tx, q.c.schema, q.filters)
		n = len(rows)

		return err
	})
	if err != nil {
		return 0, q.c.wrap("count", err)
	}

	return n, nil
}

// Delete removes every matching record, cascades included, and returns
// how many records of this collection matched.
func (q *Query[T]) Delete() (int, error) {
	if q.err != nil {
		return 0, q.err
	}

	var n int

	err := q.c.store.db.Update(func(tx *bolt.Tx) error {
		rows, err := q.c.store.scan(tx, q.c.schema, q.filters)
		if err != nil {
			return err
		}

		n = len(rows)

		for _, r := range rows {
			if err := q.c.store.deleteRaw(tx, q.c.schema, r.id, r.raw); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return 0, q.c.wrap("delete", err)
	}

	return n, nil
}

// UpdateField assigns value to field on every matching record.
func (q *Query[T]) UpdateField(field string, value any) (int, error) {
	return q.Update(map[string]any{field: value})
}

// Update assigns every field in fields on every matching record and
// returns the number of records changed. The id field cannot be updated.
func (q *Query[T]) Update(fields map[string]any) (int, error) {
	if q.err != nil {
		return 0, q.err
	}

	names := slices.Sorted(maps.Keys(fields))
	for _, name := range names {
		if name == IDField || !q.c.schema.hasField(name) {
			return 0, fmt.Errorf("%s: cannot update field %q", q.c.schema.Name, name)
		}
	}

	var n int

	err := q.c.store.db.Update(func(tx *bolt.Tx) error {
		rows, err := q.c.store.scan(tx, q.c.schema, q.filters)
		if err != nil {
			return err
		}

		for _, r := range rows {
			raw := r.raw
			for _, name := range names {
				if raw, err = setField(raw, name, fields[name]); err != nil {
					return fmt.Errorf("setting %s: %w", name, err)
				}
			}

			if err := q.c.store.putRaw(tx, q.c.schema, r.id, raw); err != nil {
				return err
			}
		}

		n = len(rows)

		return nil
	})
	if err != nil {
		return 0, q.c.wrap("update", err)
	}

	return n, nil
}

// Iter streams matching records in batches. The matching ids are
// resolved up front, then records are read at most iterBatch per
// read transaction; no transaction is open while the consumer runs.
// Records changed between batches so they no longer match are skipped.
// The sequence can be ranged over more than once and re-runs the query
// each time.
func (q *Query[T]) Iter() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		if q.err != nil {
			yield(zero, q.err)
			return
		}

		var ids []string

		err := q.c.store.db.View(func(tx *bolt.Tx) error {
			rows, err := q.rows(tx)
			for _, r := range rows {
				ids = append(ids, r.id)
			}

			return err
		})
		if err != nil {
			yield(zero, q.c.wrap("iterate", err))
			return
		}

		for batch := range slices.Chunk(ids, iterBatch) {
			var items []T

			err := q.c.store.db.View(func(tx *bolt.Tx) error {
				recs := tx.Bucket([]byte(q.c.schema.Name)).Bucket(recordsBucket)

				for _, id := range batch {
					raw := recs.Get([]byte(id))
					if raw == nil || !matchAll(raw, q.filters) {
						continue
					}

					v, err := q.c.decode(tx, raw, q.prefetch)
					if err != nil {
						return err
					}

					items = append(items, v)
				}

				return nil
			})
			if err != nil {
				yield(zero, q.c.wrap("iterate", err))
				return
			}

			for _, v := range items {
				if !yield(v, nil) {
					return
				}
			}
		}
	}
}

// rows scans and sorts the matching records.
func (q *Query[T]) rows(tx *bolt.Tx) ([]row, error) {
	rows, err := q.c.store.scan(tx, q.c.schema, q.filters)
	if err != nil || len(q.orders) == 0 {
		return rows, err
	}

	slices.SortStableFunc(rows, func(a, b row) int {
		for _, o := range q.orders {
			c := compareValues(q.c.schema.fieldType(o.field), getField(a.raw, o.field), getField(b.raw, o.field))
			if !o.asc {
				c = -c
			}

			if c != 0 {
				return c
			}
		}

		return 0
	})

	return rows, nil
}

func getField(raw []byte, field string) gjson.Result {
	return gjson.GetBytes(raw, field)
}
