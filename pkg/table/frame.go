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

// Package table implements the wide, immutable frame every alignment stage consumes and
// produces. Rows are (stay, bucket) keys of a grid skeleton, columns are (channel, statistic)
// composite keys mapped to a flat column index. A missing cell is stored as NaN.
//
// Frames are never mutated once built. A stage derives a new frame with With, Drop, Join,
// Reorder or Concat; column slices that a stage does not touch are shared between the old
// and the new frame, which is safe because nobody writes to them.
package table

import (
	"fmt"
	"math"
	"strings"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
)

// RowKey identifies one bucket of one stay.
type RowKey struct {
	StayID string
	Bucket int
}

// ColumnKey identifies one statistic of one channel.
type ColumnKey struct {
	Channel string
	Stat    dfv1.Statistic
}

func (k ColumnKey) String() string {
	return k.Channel + "/" + string(k.Stat)
}

// ParseColumnKey is the inverse of ColumnKey.String.
func ParseColumnKey(s string) (ColumnKey, error) {
	i := strings.LastIndex(s, "/")
	if i <= 0 || i == len(s)-1 {
		return ColumnKey{}, fmt.Errorf("invalid column key %q", s)
	}
	return ColumnKey{Channel: s[:i], Stat: dfv1.Statistic(s[i+1:])}, nil
}

// Key is a shorthand for building a column key.
func Key(channel string, stat dfv1.Statistic) ColumnKey {
	return ColumnKey{Channel: channel, Stat: stat}
}

// Missing returns the value of a missing cell.
func Missing() float64 {
	return math.NaN()
}

// IsMissing tells whether a cell is missing.
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

// Span is the half open row range [Start, End) occupied by one stay.
type Span struct {
	StayID string
	Start  int
	End    int
}

// Frame is an immutable wide table.
type Frame struct {
	rows  []RowKey
	spans []Span
	cols  []ColumnKey
	index map[ColumnKey]int
	data  [][]float64
}

// New returns a frame without columns over the given rows. Rows of one stay must be
// contiguous.
func New(rows []RowKey) (*Frame, error) {
	spans, err := spansOf(rows)
	if err != nil {
		return nil, err
	}
	r := make([]RowKey, len(rows))
	copy(r, rows)
	return &Frame{
		rows:  r,
		spans: spans,
		index: make(map[ColumnKey]int),
	}, nil
}

func spansOf(rows []RowKey) ([]Span, error) {
	spans := make([]Span, 0)
	seen := make(map[string]bool)
	for i, r := range rows {
		if len(spans) > 0 && spans[len(spans)-1].StayID == r.StayID {
			spans[len(spans)-1].End = i + 1
			continue
		}
		if seen[r.StayID] {
			return nil, fmt.Errorf("%w: rows of stay %q are not contiguous", dfv1.ErrStructural, r.StayID)
		}
		seen[r.StayID] = true
		spans = append(spans, Span{StayID: r.StayID, Start: i, End: i + 1})
	}
	return spans, nil
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.rows)
}

// Rows returns a copy of the row keys.
func (f *Frame) Rows() []RowKey {
	out := make([]RowKey, len(f.rows))
	copy(out, f.rows)
	return out
}

// Row returns the i-th row key.
func (f *Frame) Row(i int) RowKey {
	return f.rows[i]
}

// Spans returns the row range of every stay, in row order.
func (f *Frame) Spans() []Span {
	out := make([]Span, len(f.spans))
	copy(out, f.spans)
	return out
}

// StayIDs returns the stays of the frame in row order.
func (f *Frame) StayIDs() []string {
	out := make([]string, len(f.spans))
	for i, s := range f.spans {
		out[i] = s.StayID
	}
	return out
}

// Columns returns a copy of the column keys, in column order.
func (f *Frame) Columns() []ColumnKey {
	out := make([]ColumnKey, len(f.cols))
	copy(out, f.cols)
	return out
}

// Channels returns the distinct channels in column order.
func (f *Frame) Channels() []string {
	out := make([]string, 0)
	seen := make(map[string]bool)
	for _, c := range f.cols {
		if !seen[c.Channel] {
			seen[c.Channel] = true
			out = append(out, c.Channel)
		}
	}
	return out
}

// Has tells whether the column exists.
func (f *Frame) Has(k ColumnKey) bool {
	_, ok := f.index[k]
	return ok
}

// HasChannel tells whether any statistic of the channel exists.
func (f *Frame) HasChannel(channel string) bool {
	for _, c := range f.cols {
		if c.Channel == channel {
			return true
		}
	}
	return false
}

// Column returns a copy of the column values.
func (f *Frame) Column(k ColumnKey) ([]float64, bool) {
	i, ok := f.index[k]
	if !ok {
		return nil, false
	}
	out := make([]float64, len(f.data[i]))
	copy(out, f.data[i])
	return out, true
}

// At returns one cell. It panics on an unknown column, like an out of range index would.
func (f *Frame) At(k ColumnKey, row int) float64 {
	i, ok := f.index[k]
	if !ok {
		panic(fmt.Sprintf("unknown column %s", k))
	}
	return f.data[i][row]
}

func (f *Frame) derive() *Frame {
	out := &Frame{
		rows:  f.rows,
		spans: f.spans,
		cols:  make([]ColumnKey, len(f.cols)),
		index: make(map[ColumnKey]int, len(f.index)),
		data:  make([][]float64, len(f.data)),
	}
	copy(out.cols, f.cols)
	copy(out.data, f.data)
	for k, v := range f.index {
		out.index[k] = v
	}
	return out
}

// With returns a new frame where column k holds a copy of values. An existing column
// keeps its position, a new one is appended.
func (f *Frame) With(k ColumnKey, values []float64) (*Frame, error) {
	if len(values) != len(f.rows) {
		return nil, fmt.Errorf("%w: column %s has %d values, frame has %d rows", dfv1.ErrStructural, k, len(values), len(f.rows))
	}
	v := make([]float64, len(values))
	copy(v, values)
	out := f.derive()
	if i, ok := out.index[k]; ok {
		out.data[i] = v
		return out, nil
	}
	out.index[k] = len(out.cols)
	out.cols = append(out.cols, k)
	out.data = append(out.data, v)
	return out, nil
}

// Drop returns a new frame without the given columns. Unknown columns are an error.
func (f *Frame) Drop(keys ...ColumnKey) (*Frame, error) {
	drop := make(map[ColumnKey]bool, len(keys))
	for _, k := range keys {
		if !f.Has(k) {
			return nil, fmt.Errorf("%w: cannot drop unknown column %s", dfv1.ErrStructural, k)
		}
		drop[k] = true
	}
	out := &Frame{
		rows:  f.rows,
		spans: f.spans,
		index: make(map[ColumnKey]int),
	}
	for i, c := range f.cols {
		if drop[c] {
			continue
		}
		out.index[c] = len(out.cols)
		out.cols = append(out.cols, c)
		out.data = append(out.data, f.data[i])
	}
	return out, nil
}

// SameRows tells whether both frames are laid out on the same rows.
func (f *Frame) SameRows(other *Frame) bool {
	if len(f.rows) != len(other.rows) {
		return false
	}
	for i := range f.rows {
		if f.rows[i] != other.rows[i] {
			return false
		}
	}
	return true
}

// Join returns a new frame with the columns of f followed by the columns of other. Both
// frames must share the same rows and no column.
func (f *Frame) Join(other *Frame) (*Frame, error) {
	if !f.SameRows(other) {
		return nil, fmt.Errorf("%w: cannot join frames laid out on different rows", dfv1.ErrStructural)
	}
	out := f.derive()
	for i, c := range other.cols {
		if out.Has(c) {
			return nil, fmt.Errorf("%w: column %s present on both sides of a join", dfv1.ErrStructural, c)
		}
		out.index[c] = len(out.cols)
		out.cols = append(out.cols, c)
		out.data = append(out.data, other.data[i])
	}
	return out, nil
}

// Reorder returns a new frame whose columns follow order exactly. A column of order that
// the frame lacks, or a frame column absent from order, is an error.
func (f *Frame) Reorder(order []ColumnKey) (*Frame, error) {
	if len(order) != len(f.cols) {
		return nil, fmt.Errorf("%w: column order lists %d columns, frame has %d", dfv1.ErrStructural, len(order), len(f.cols))
	}
	out := &Frame{
		rows:  f.rows,
		spans: f.spans,
		index: make(map[ColumnKey]int, len(order)),
	}
	for _, k := range order {
		i, ok := f.index[k]
		if !ok {
			return nil, fmt.Errorf("%w: column %s is missing from the frame", dfv1.ErrStructural, k)
		}
		if _, dup := out.index[k]; dup {
			return nil, fmt.Errorf("%w: column %s listed twice in column order", dfv1.ErrStructural, k)
		}
		out.index[k] = len(out.cols)
		out.cols = append(out.cols, k)
		out.data = append(out.data, f.data[i])
	}
	return out, nil
}

// Concat stacks frames vertically. All frames must carry the same columns in the same
// order and disjoint stays.
func Concat(frames ...*Frame) (*Frame, error) {
	if len(frames) == 0 {
		return New(nil)
	}
	cols := frames[0].cols
	rows := make([]RowKey, 0)
	seen := make(map[string]bool)
	for n, fr := range frames {
		for _, s := range fr.spans {
			if seen[s.StayID] {
				return nil, fmt.Errorf("%w: stay %q appears in more than one frame", dfv1.ErrStructural, s.StayID)
			}
			seen[s.StayID] = true
		}
		if len(fr.cols) != len(cols) {
			return nil, fmt.Errorf("%w: frame %d has %d columns, expected %d", dfv1.ErrStructural, n, len(fr.cols), len(cols))
		}
		for i := range cols {
			if fr.cols[i] != cols[i] {
				return nil, fmt.Errorf("%w: frame %d has column %s at position %d, expected %s", dfv1.ErrStructural, n, fr.cols[i], i, cols[i])
			}
		}
		rows = append(rows, fr.rows...)
	}
	out, err := New(rows)
	if err != nil {
		return nil, err
	}
	for i, c := range cols {
		v := make([]float64, 0, len(rows))
		for _, fr := range frames {
			v = append(v, fr.data[i]...)
		}
		out.index[c] = i
		out.cols = append(out.cols, c)
		out.data = append(out.data, v)
	}
	return out, nil
}

// Filter returns a new frame holding only the rows of the given stays, in the original
// row order.
func (f *Frame) Filter(keep func(stayID string) bool) *Frame {
	rows := make([]RowKey, 0)
	picked := make([]int, 0)
	for _, s := range f.spans {
		if !keep(s.StayID) {
			continue
		}
		for i := s.Start; i < s.End; i++ {
			rows = append(rows, f.rows[i])
			picked = append(picked, i)
		}
	}
	// rows of a valid frame are already contiguous per stay
	out, _ := New(rows)
	for c, k := range f.cols {
		v := make([]float64, len(picked))
		for j, i := range picked {
			v[j] = f.data[c][i]
		}
		out.index[k] = len(out.cols)
		out.cols = append(out.cols, k)
		out.data = append(out.data, v)
	}
	return out
}

// CountMissing returns the number of missing cells of column k.
func (f *Frame) CountMissing(k ColumnKey) int {
	i, ok := f.index[k]
	if !ok {
		return 0
	}
	n := 0
	for _, v := range f.data[i] {
		if IsMissing(v) {
			n++
		}
	}
	return n
}

// Complete returns an error naming the first column holding a missing cell.
func (f *Frame) Complete() error {
	for i, c := range f.cols {
		for r, v := range f.data[i] {
			if IsMissing(v) {
				return fmt.Errorf("%w: column %s has a missing cell at stay %q bucket %d", dfv1.ErrStructural, c, f.rows[r].StayID, f.rows[r].Bucket)
			}
		}
	}
	return nil
}
