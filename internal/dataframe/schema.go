package dataframe

import (
	"fmt"
	"strings"

	"github.com/devrev/framekv/internal/column"
	kverrors "github.com/devrev/framekv/internal/errors"
)

// Schema is the ordered list of column kinds plus the row count.
type Schema struct {
	types  []column.Kind
	length int
}

// NewSchema parses a type string such as "ISDB" into a schema with no rows.
func NewSchema(types string) (*Schema, error) {
	s := &Schema{}
	for i := 0; i < len(types); i++ {
		k, err := column.ParseKind(types[i])
		if err != nil {
			return nil, kverrors.InvalidArgument(fmt.Sprintf("schema %q position %d", types, i), err)
		}
		s.types = append(s.types, k)
	}
	return s, nil
}

// MustSchema is NewSchema for literals known to be valid.
func MustSchema(types string) *Schema {
	s, err := NewSchema(types)
	if err != nil {
		panic(err)
	}
	return s
}

// AddColumn appends a column kind.
func (s *Schema) AddColumn(kind column.Kind) error {
	if _, err := column.ParseKind(byte(kind)); err != nil {
		return err
	}
	s.types = append(s.types, kind)
	return nil
}

// AddRows grows the row count by n. Negative n panics.
func (s *Schema) AddRows(n int) {
	if n < 0 {
		panic(kverrors.InvalidArgument(fmt.Sprintf("cannot add %d rows", n), nil))
	}
	s.length += n
}

func (s *Schema) Width() int  { return len(s.types) }
func (s *Schema) Length() int { return s.length }

// ColType returns the kind of column i.
func (s *Schema) ColType(i int) column.Kind {
	if i < 0 || i >= len(s.types) {
		panic(kverrors.OutOfBounds("schema column", i, len(s.types)))
	}
	return s.types[i]
}

// String returns the type string, e.g. "ISDB".
func (s *Schema) String() string {
	var b strings.Builder
	for _, k := range s.types {
		b.WriteByte(byte(k))
	}
	return b.String()
}

// Clone copies kinds and row count.
func (s *Schema) Clone() *Schema {
	return &Schema{types: append([]column.Kind(nil), s.types...), length: s.length}
}

// template copies the kinds with zero rows.
func (s *Schema) template() *Schema {
	return &Schema{types: append([]column.Kind(nil), s.types...)}
}
