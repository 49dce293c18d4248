package dataframe

import (
	"context"
	"fmt"
	"io"

	"github.com/devrev/framekv/internal/column"
	kverrors "github.com/devrev/framekv/internal/errors"
	"gopkg.in/yaml.v3"
)

// ColumnData is one in-memory column handed over by a parser.
type ColumnData interface {
	Kind() column.Kind
	Len() int
	push(ctx context.Context, st column.Storage) (column.Any, error)
}

type (
	Ints    []int64
	Doubles []float64
	Bools   []bool
	Strings []string
)

func (Ints) Kind() column.Kind    { return column.KindInt }
func (Doubles) Kind() column.Kind { return column.KindDouble }
func (Bools) Kind() column.Kind   { return column.KindBool }
func (Strings) Kind() column.Kind { return column.KindString }

func (c Ints) Len() int    { return len(c) }
func (c Doubles) Len() int { return len(c) }
func (c Bools) Len() int   { return len(c) }
func (c Strings) Len() int { return len(c) }

func (c Ints) push(ctx context.Context, st column.Storage) (column.Any, error) {
	col := column.NewInts(st)
	return col, col.PushAll(ctx, c...)
}

func (c Doubles) push(ctx context.Context, st column.Storage) (column.Any, error) {
	col := column.NewDoubles(st)
	return col, col.PushAll(ctx, c...)
}

func (c Bools) push(ctx context.Context, st column.Storage) (column.Any, error) {
	col := column.NewBools(st)
	return col, col.PushAll(ctx, c...)
}

func (c Strings) push(ctx context.Context, st column.Storage) (column.Any, error) {
	col := column.NewStrings(st)
	return col, col.PushAll(ctx, c...)
}

// ColumnSet is a parsed table: equally long columns in schema order.
type ColumnSet struct {
	Columns []ColumnData
}

// Schema returns the kinds of the set with its row count.
func (cs *ColumnSet) Schema() *Schema {
	s := &Schema{}
	for _, c := range cs.Columns {
		s.types = append(s.types, c.Kind())
	}
	if len(cs.Columns) > 0 {
		s.length = cs.Columns[0].Len()
	}
	return s
}

// Validate checks that every column has the same length.
func (cs *ColumnSet) Validate() error {
	for i, c := range cs.Columns {
		if c.Len() != cs.Columns[0].Len() {
			return kverrors.InvalidArgument(
				fmt.Sprintf("column %d has %d values, column 0 has %d", i, c.Len(), cs.Columns[0].Len()), nil)
		}
	}
	return nil
}

// FromColumnSet copies set into fresh segmented columns on st.
func FromColumnSet(ctx context.Context, st column.Storage, set *ColumnSet) (*DataFrame, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}

	df := &DataFrame{storage: st, schema: &Schema{}}
	for i, data := range set.Columns {
		col, err := data.push(ctx, st)
		if err != nil {
			return nil, fmt.Errorf("store column %d: %w", i, err)
		}
		if err := df.AddColumn(col); err != nil {
			return nil, err
		}
	}
	return df, nil
}

type columnSetFile struct {
	Columns []struct {
		Type   string    `yaml:"type"`
		Values yaml.Node `yaml:"values"`
	} `yaml:"columns"`
}

// LoadColumnSet reads a YAML table of the form
//
//	columns:
//	  - type: I
//	    values: [1, 2, 3]
//	  - type: S
//	    values: [a, b, c]
func LoadColumnSet(r io.Reader) (*ColumnSet, error) {
	var file columnSetFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, kverrors.InvalidArgument("failed to parse column set", err)
	}

	set := &ColumnSet{}
	for i, c := range file.Columns {
		if len(c.Type) != 1 {
			return nil, kverrors.InvalidArgument(fmt.Sprintf("column %d: type %q must be one letter", i, c.Type), nil)
		}
		kind, err := column.ParseKind(c.Type[0])
		if err != nil {
			return nil, err
		}

		var data ColumnData
		switch kind {
		case column.KindInt:
			var v Ints
			err = decodeValues(&c.Values, &v)
			data = v
		case column.KindDouble:
			var v Doubles
			err = decodeValues(&c.Values, &v)
			data = v
		case column.KindBool:
			var v Bools
			err = decodeValues(&c.Values, &v)
			data = v
		case column.KindString:
			var v Strings
			err = decodeValues(&c.Values, &v)
			data = v
		}
		if err != nil {
			return nil, kverrors.InvalidArgument(fmt.Sprintf("column %d (%s)", i, kind), err)
		}
		set.Columns = append(set.Columns, data)
	}

	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

func decodeValues(node *yaml.Node, out interface{}) error {
	if node.Kind == 0 {
		// values omitted: empty column
		return nil
	}
	return node.Decode(out)
}
