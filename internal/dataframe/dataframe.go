// Package dataframe is a columnar table whose columns live in the cluster's
// key-value store as segmented columns.
package dataframe

import (
	"context"
	"fmt"

	"github.com/devrev/framekv/internal/codec"
	"github.com/devrev/framekv/internal/column"
	kverrors "github.com/devrev/framekv/internal/errors"
	"github.com/devrev/framekv/internal/util/workerpool"
)

// DataFrame owns its columns. Its schema length always equals every
// column's size. It is not safe for concurrent mutation.
type DataFrame struct {
	storage column.Storage
	schema  *Schema
	cols    []column.Any
}

// New creates an empty frame with the column kinds of schema and no rows.
func New(st column.Storage, schema *Schema) *DataFrame {
	df := &DataFrame{storage: st, schema: schema.template()}
	for i := 0; i < df.schema.Width(); i++ {
		c, err := column.New(st, df.schema.ColType(i))
		if err != nil {
			// schema kinds were validated on the way in
			panic(err)
		}
		df.cols = append(df.cols, c)
	}
	return df
}

// FromFrame creates an empty frame shaped like other, on the same storage.
func FromFrame(other *DataFrame) *DataFrame {
	return New(other.storage, other.schema)
}

func (df *DataFrame) NCols() int      { return len(df.cols) }
func (df *DataFrame) NRows() int      { return df.schema.Length() }
func (df *DataFrame) Schema() *Schema { return df.schema.Clone() }

// Column returns column i.
func (df *DataFrame) Column(i int) column.Any { return df.column(i) }

func (df *DataFrame) column(i int) column.Any {
	if i < 0 || i >= len(df.cols) {
		panic(kverrors.OutOfBounds("frame column", i, len(df.cols)))
	}
	return df.cols[i]
}

// AddColumn appends col, taking ownership. Its size must equal the row
// count, except that the first column of an empty frame sets the count.
func (df *DataFrame) AddColumn(col column.Any) error {
	if len(df.cols) == 0 && df.schema.Length() == 0 {
		df.schema.AddRows(col.Size())
	} else if col.Size() != df.schema.Length() {
		return kverrors.InvalidArgument(
			fmt.Sprintf("column has %d rows, frame has %d", col.Size(), df.schema.Length()), nil)
	}
	if err := df.schema.AddColumn(col.Kind()); err != nil {
		return err
	}
	df.cols = append(df.cols, col)
	return nil
}

func (df *DataFrame) GetInt(ctx context.Context, col, row int) (int64, error) {
	return column.As[int64](df.column(col)).Get(ctx, row)
}

func (df *DataFrame) GetDouble(ctx context.Context, col, row int) (float64, error) {
	return column.As[float64](df.column(col)).Get(ctx, row)
}

func (df *DataFrame) GetBool(ctx context.Context, col, row int) (bool, error) {
	return column.As[bool](df.column(col)).Get(ctx, row)
}

func (df *DataFrame) GetString(ctx context.Context, col, row int) (string, error) {
	return column.As[string](df.column(col)).Get(ctx, row)
}

func (df *DataFrame) SetInt(ctx context.Context, col, row int, v int64) error {
	return column.As[int64](df.column(col)).Set(ctx, row, v)
}

func (df *DataFrame) SetDouble(ctx context.Context, col, row int, v float64) error {
	return column.As[float64](df.column(col)).Set(ctx, row, v)
}

func (df *DataFrame) SetBool(ctx context.Context, col, row int, v bool) error {
	return column.As[bool](df.column(col)).Set(ctx, row, v)
}

func (df *DataFrame) SetString(ctx context.Context, col, row int, v string) error {
	return column.As[string](df.column(col)).Set(ctx, row, v)
}

// FillRow loads row idx into r.
func (df *DataFrame) FillRow(ctx context.Context, idx int, r *Row) error {
	df.checkRow(r)
	if idx < 0 || idx >= df.NRows() {
		panic(kverrors.OutOfBounds("frame row", idx, df.NRows()))
	}

	for i, c := range df.cols {
		var err error
		switch c.Kind() {
		case column.KindInt:
			var v int64
			if v, err = column.As[int64](c).Get(ctx, idx); err == nil {
				r.SetInt(i, v)
			}
		case column.KindDouble:
			var v float64
			if v, err = column.As[float64](c).Get(ctx, idx); err == nil {
				r.SetDouble(i, v)
			}
		case column.KindBool:
			var v bool
			if v, err = column.As[bool](c).Get(ctx, idx); err == nil {
				r.SetBool(i, v)
			}
		case column.KindString:
			var v string
			if v, err = column.As[string](c).Get(ctx, idx); err == nil {
				r.SetString(i, v)
			}
		}
		if err != nil {
			return fmt.Errorf("fill row %d column %d: %w", idx, i, err)
		}
	}
	r.SetIndex(idx)
	return nil
}

// AddRow appends r's values to every column. If any push fails the columns
// already extended are truncated back, so the frame keeps its row count.
func (df *DataFrame) AddRow(ctx context.Context, r *Row) error {
	df.checkRow(r)

	rows := df.NRows()
	for i, c := range df.cols {
		var err error
		switch c.Kind() {
		case column.KindInt:
			err = column.As[int64](c).Push(ctx, r.GetInt(i))
		case column.KindDouble:
			err = column.As[float64](c).Push(ctx, r.GetDouble(i))
		case column.KindBool:
			err = column.As[bool](c).Push(ctx, r.GetBool(i))
		case column.KindString:
			err = column.As[string](c).Push(ctx, r.GetString(i))
		}
		if err != nil {
			for _, done := range df.cols[:i+1] {
				done.Truncate(rows)
			}
			return fmt.Errorf("add row column %d: %w", i, err)
		}
	}
	df.schema.AddRows(1)
	return nil
}

func (df *DataFrame) checkRow(r *Row) {
	if r.schema.String() != df.schema.String() {
		panic(kverrors.TypeMismatch("row of schema "+df.schema.String(), r.schema.String()))
	}
}

// NewRow returns an empty row shaped for this frame.
func (df *DataFrame) NewRow() *Row {
	return NewRow(df.schema)
}

// Map visits every row in order.
func (df *DataFrame) Map(ctx context.Context, rower Rower) error {
	return df.visit(ctx, rower, 0, df.NRows())
}

func (df *DataFrame) visit(ctx context.Context, rower Rower, from, to int) error {
	r := df.NewRow()
	for i := from; i < to; i++ {
		if err := df.FillRow(ctx, i, r); err != nil {
			return err
		}
		if !rower.Accept(r) {
			return nil
		}
	}
	return nil
}

// PMap splits the rows into one contiguous chunk per worker. The first chunk
// is visited by rower itself, the others by clones, and the clones are
// joined back into rower in chunk order once every chunk is done.
func (df *DataFrame) PMap(ctx context.Context, rower Rower, workers int) error {
	rows := df.NRows()
	if workers <= 1 || rows < 2 {
		return df.Map(ctx, rower)
	}
	if workers > rows {
		workers = rows
	}

	pool := workerpool.New(workerpool.Config{Name: "pmap", Workers: workers})
	defer pool.Stop()

	chunk := (rows + workers - 1) / workers
	rowers := make([]Rower, 0, workers)
	tasks := make([]workerpool.Task, 0, workers)
	for from := 0; from < rows; from += chunk {
		to := min(from+chunk, rows)
		r := rower
		if from > 0 {
			r = rower.Clone()
		}
		rowers = append(rowers, r)
		tasks = append(tasks, workerpool.Task{
			ID: fmt.Sprintf("rows %d-%d", from, to),
			Fn: func(ctx context.Context) error { return df.visit(ctx, r, from, to) },
		})
	}

	if err := pool.Run(ctx, tasks...); err != nil {
		return err
	}
	for _, r := range rowers[1:] {
		rower.Join(r)
	}
	return nil
}

// MarshalBinary encodes the frame's schema and column descriptors. The
// segments themselves stay where they are.
func (df *DataFrame) MarshalBinary() ([]byte, error) {
	s := codec.NewSerializer()
	s.PutString(df.schema.String())
	s.PutInt64(int64(df.schema.Length()))
	s.PutUint64(uint64(len(df.cols)))
	for _, c := range df.cols {
		c.Descriptor().Encode(s)
	}
	return s.Bytes(), nil
}

// Unmarshal reopens a frame encoded by MarshalBinary on st.
func Unmarshal(st column.Storage, data []byte) (*DataFrame, error) {
	d := codec.NewDeserializer(data)
	types := d.GetString()
	length := int(d.GetInt64())
	count := d.GetUint64()
	if err := d.Err(); err != nil {
		return nil, kverrors.ProtocolViolation("truncated frame descriptor", err)
	}

	if length < 0 {
		return nil, kverrors.ProtocolViolation(fmt.Sprintf("frame descriptor has %d rows", length), nil)
	}

	schema, err := NewSchema(types)
	if err != nil {
		return nil, err
	}
	if count != uint64(schema.Width()) {
		return nil, kverrors.ProtocolViolation(
			fmt.Sprintf("frame descriptor lists %d columns for schema %q", count, types), nil)
	}

	df := &DataFrame{storage: st, schema: schema}
	schema.AddRows(length)
	for i := 0; i < schema.Width(); i++ {
		desc := column.DecodeDescriptor(d)
		if err := d.Err(); err != nil {
			return nil, kverrors.ProtocolViolation(fmt.Sprintf("truncated descriptor for column %d", i), err)
		}
		if desc.Kind != schema.ColType(i) || desc.Size != length {
			return nil, kverrors.ProtocolViolation(
				fmt.Sprintf("column %d descriptor %s/%d does not match schema %s/%d",
					i, desc.Kind, desc.Size, schema.ColType(i), length), nil)
		}
		c, err := column.Open(st, desc)
		if err != nil {
			return nil, err
		}
		df.cols = append(df.cols, c)
	}
	if d.Remaining() != 0 {
		return nil, kverrors.ProtocolViolation(
			fmt.Sprintf("%d trailing bytes in frame descriptor", d.Remaining()), nil)
	}
	return df, nil
}
