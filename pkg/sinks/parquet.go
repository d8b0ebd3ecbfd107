/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package sinks

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/table"
)

// columnWriter places values of named columns into a parquet row. Group fields are
// stored in name order, so the position of a column comes from the schema.
type columnWriter struct {
	schema  *parquet.Schema
	indexes map[string]int
}

func newColumnWriter(name string, group parquet.Group) (*columnWriter, error) {
	schema := parquet.NewSchema(name, group)
	cw := &columnWriter{schema: schema, indexes: make(map[string]int, len(group))}
	for field := range group {
		leaf, ok := schema.Lookup(field)
		if !ok {
			return nil, fmt.Errorf("column %q missing from schema %s", field, name)
		}
		cw.indexes[field] = leaf.ColumnIndex
	}
	return cw, nil
}

func (cw *columnWriter) row(values map[string]parquet.Value) parquet.Row {
	row := make(parquet.Row, len(cw.indexes))
	for field, v := range values {
		idx := cw.indexes[field]
		row[idx] = v.Level(0, 0, idx)
	}
	return row
}

func writeRows(path string, schema *parquet.Schema, rows []parquet.Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s, %w", path, err)
	}
	defer f.Close()
	w := parquet.NewWriter(f, schema)
	if _, err := w.WriteRows(rows); err != nil {
		return fmt.Errorf("failed to write rows to %s, %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer of %s, %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s, %w", path, err)
	}
	return nil
}

// WriteFrame writes a frame as one parquet row per (stay, bucket), with the stay
// identifier, the bucket and one double column per frame column.
func WriteFrame(path string, f *table.Frame) error {
	group := parquet.Group{
		dfv1.ColumnStayID: parquet.String(),
		dfv1.ColumnBucket: parquet.Int(64),
	}
	for _, k := range f.Columns() {
		if _, dup := group[k.String()]; dup {
			return fmt.Errorf("%w: column %s clashes with a key column", dfv1.ErrStructural, k)
		}
		group[k.String()] = parquet.Leaf(parquet.DoubleType)
	}
	cw, err := newColumnWriter("grid", group)
	if err != nil {
		return err
	}
	cols := f.Columns()
	rows := make([]parquet.Row, f.Len())
	for i := range rows {
		key := f.Row(i)
		values := make(map[string]parquet.Value, len(cols)+2)
		values[dfv1.ColumnStayID] = parquet.ByteArrayValue([]byte(key.StayID))
		values[dfv1.ColumnBucket] = parquet.Int64Value(int64(key.Bucket))
		for _, k := range cols {
			values[k.String()] = parquet.DoubleValue(f.At(k, i))
		}
		rows[i] = cw.row(values)
	}
	return writeRows(path, cw.schema, rows)
}

// WriteStatic writes a static table as one parquet row per stay, every column a string.
func WriteStatic(path string, s *table.Static) error {
	group := parquet.Group{dfv1.ColumnStayID: parquet.String()}
	for _, c := range s.Columns() {
		if _, dup := group[c]; dup {
			return fmt.Errorf("%w: column %q clashes with a key column", dfv1.ErrStructural, c)
		}
		group[c] = parquet.String()
	}
	cw, err := newColumnWriter("static", group)
	if err != nil {
		return err
	}
	cols := s.Columns()
	rows := make([]parquet.Row, 0, s.Len())
	for _, id := range s.StayIDs() {
		record, _ := s.Values(id)
		values := make(map[string]parquet.Value, len(cols)+1)
		values[dfv1.ColumnStayID] = parquet.ByteArrayValue([]byte(id))
		for i, c := range cols {
			values[c] = parquet.ByteArrayValue([]byte(record[i]))
		}
		rows = append(rows, cw.row(values))
	}
	return writeRows(path, cw.schema, rows)
}
