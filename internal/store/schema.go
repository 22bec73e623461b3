package store

import (
	"fmt"
	"slices"
)

// FieldType is the storage type of a schema field. It decides how values
// compare when a query is ordered on the field.
type FieldType int

const (
	String FieldType = iota
	Bool
	Int
	Float
	Time
	JSON
)

// IDField is the primary key field every record carries.
const IDField = "id"

// Relation describes a one-hop foreign key that Prefetch can resolve.
type Relation struct {
	// Field is the foreign key field on the owning record.
	Field string
	// Target is the name of the referenced collection.
	Target string
}

// Cascade removes records of Target whose Field references a record
// being deleted from the owning collection.
type Cascade struct {
	Target string
	Field  string
}

// Schema is the static descriptor of one collection. It is consumed by
// Open to create buckets and indexes, and by queries to validate field
// names, resolve relations and run cascades.
type Schema struct {
	Name      string
	Fields    map[string]FieldType
	Indexes   []string
	Relations map[string]Relation
	Cascades  []Cascade
}

func (s Schema) hasField(name string) bool {
	if name == IDField {
		return true
	}

	_, ok := s.Fields[name]

	return ok
}

func (s Schema) isIndexed(name string) bool {
	return slices.Contains(s.Indexes, name)
}

func (s Schema) fieldType(name string) FieldType {
	if name == IDField {
		return String
	}

	return s.Fields[name]
}

func (s Schema) validate(all map[string]Schema) error {
	if s.Name == "" {
		return fmt.Errorf("schema without name")
	}

	for _, idx := range s.Indexes {
		if !s.hasField(idx) {
			return fmt.Errorf("schema %s: index on unknown field %q", s.Name, idx)
		}
	}

	for name, rel := range s.Relations {
		if !s.hasField(rel.Field) {
			return fmt.Errorf("schema %s: relation %q uses unknown field %q", s.Name, name, rel.Field)
		}

		if _, ok := all[rel.Target]; !ok {
			return fmt.Errorf("schema %s: relation %q targets unknown collection %q", s.Name, name, rel.Target)
		}
	}

	for _, c := range s.Cascades {
		target, ok := all[c.Target]
		if !ok {
			return fmt.Errorf("schema %s: cascade targets unknown collection %q", s.Name, c.Target)
		}

		if !target.hasField(c.Field) {
			return fmt.Errorf("schema %s: cascade uses unknown field %s.%s", s.Name, c.Target, c.Field)
		}
	}

	return nil
}

func indexBucket(field string) []byte {
	return []byte("idx:" + field)
}
