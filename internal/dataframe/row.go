package dataframe

import (
	"github.com/devrev/framekv/internal/column"
	kverrors "github.com/devrev/framekv/internal/errors"
)

type slot struct {
	i int64
	d float64
	b bool
	s string
}

// Row is a transient, schema-shaped buffer used to move one row in or out of
// a frame. Accessing a slot with the wrong kind panics.
type Row struct {
	schema *Schema
	slots  []slot
	index  int
}

// NewRow creates an empty row for schema.
func NewRow(schema *Schema) *Row {
	return &Row{schema: schema, slots: make([]slot, schema.Width())}
}

func (r *Row) Width() int                  { return len(r.slots) }
func (r *Row) ColType(col int) column.Kind { return r.schema.ColType(col) }
func (r *Row) Index() int                  { return r.index }
func (r *Row) SetIndex(i int)              { r.index = i }

func (r *Row) at(col int, kind column.Kind) *slot {
	if col < 0 || col >= len(r.slots) {
		panic(kverrors.OutOfBounds("row column", col, len(r.slots)))
	}
	if got := r.schema.ColType(col); got != kind {
		panic(kverrors.TypeMismatch(kind.String(), got.String()))
	}
	return &r.slots[col]
}

func (r *Row) SetInt(col int, v int64)      { r.at(col, column.KindInt).i = v }
func (r *Row) SetDouble(col int, v float64) { r.at(col, column.KindDouble).d = v }
func (r *Row) SetBool(col int, v bool)      { r.at(col, column.KindBool).b = v }
func (r *Row) SetString(col int, v string)  { r.at(col, column.KindString).s = v }

func (r *Row) GetInt(col int) int64      { return r.at(col, column.KindInt).i }
func (r *Row) GetDouble(col int) float64 { return r.at(col, column.KindDouble).d }
func (r *Row) GetBool(col int) bool      { return r.at(col, column.KindBool).b }
func (r *Row) GetString(col int) string  { return r.at(col, column.KindString).s }

// Rower visits rows. PMap gives each worker its own Clone and merges the
// clones back with Join in chunk order.
type Rower interface {
	// Accept is called once per row; returning false stops the visit.
	Accept(r *Row) bool
	Clone() Rower
	Join(other Rower)
}
