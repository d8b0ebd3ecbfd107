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

// Package intervention compiles interval tables into per bucket 0/1 indicators.
package intervention

import (
	"context"
	"fmt"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/grid"
	"github.com/numaproj/numagrid/pkg/metrics"
	"github.com/numaproj/numagrid/pkg/shared/logging"
	"github.com/numaproj/numagrid/pkg/sources"
	"github.com/numaproj/numagrid/pkg/table"
)

// Report counts what happened to the intervals of one table.
type Report struct {
	Table    string
	Compiled int
	Dropped  map[string]int
}

// Compiler turns the intervals of one table into indicator columns.
type Compiler struct {
	pipeline string
	table    string
	types    []string
}

// NewCompiler returns a compiler producing one column per type, in the given order.
func NewCompiler(pipeline, table string, types []string) *Compiler {
	return &Compiler{pipeline: pipeline, table: table, types: types}
}

// Key returns the column of an intervention type.
func Key(typ string) table.ColumnKey {
	return table.Key(typ, dfv1.StatActive)
}

// Compile marks every bucket whose window intersects an interval of a declared type.
// Every skeleton row is present in the result and absence is 0, never missing. An
// interval without a stop runs through the last bucket of its stay.
func (c *Compiler) Compile(ctx context.Context, sk *grid.Skeleton, intervals []sources.Interval) (*table.Frame, *Report, error) {
	log := logging.FromContext(ctx).With("table", c.table)
	report := &Report{Table: c.table, Dropped: make(map[string]int)}
	cols := make(map[string][]float64, len(c.types))
	for _, typ := range c.types {
		if _, dup := cols[typ]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate intervention type %q", dfv1.ErrConfiguration, typ)
		}
		cols[typ] = make([]float64, sk.Len())
	}
	drop := func(reason string) {
		report.Dropped[reason]++
		metrics.RowsDroppedCount.WithLabelValues(c.pipeline, c.table, reason).Inc()
	}
	for _, iv := range intervals {
		values, ok := cols[iv.Type]
		if !ok {
			drop(metrics.ReasonUnknownChannel)
			continue
		}
		stay, ok := sk.Stay(iv.StayID)
		if !ok {
			drop(metrics.ReasonUnknownStay)
			continue
		}
		buckets := sk.MaxBuckets(iv.StayID)
		var first, last int
		if iv.OpenEnded() {
			first, last = sk.Windower().BucketOf(stay.Admission, iv.Start), buckets-1
		} else {
			first, last = sk.Windower().Overlapping(stay.Admission, iv.Start, iv.Stop)
		}
		if first < 0 {
			first = 0
		}
		if last > buckets-1 {
			last = buckets - 1
		}
		if first > last {
			drop(metrics.ReasonOutOfWindow)
			log.Debugw("Interval outside the grid", "stay", iv.StayID, "row", iv.Row, "type", iv.Type)
			continue
		}
		for b := first; b <= last; b++ {
			row, _ := sk.RowOf(iv.StayID, b)
			values[row] = 1
		}
		report.Compiled++
	}

	f := sk.NewFrame()
	for _, typ := range c.types {
		var err error
		if f, err = f.With(Key(typ), cols[typ]); err != nil {
			return nil, nil, err
		}
	}
	log.Debugw("Compiled interventions", "intervals", report.Compiled, "dropped", report.Dropped)
	return f, report, nil
}

// Combine unions intervention frames over the skeleton. Rows missing from a frame are 0
// for its columns, and a type present in two frames is an error.
func Combine(sk *grid.Skeleton, frames ...*table.Frame) (*table.Frame, error) {
	out := sk.NewFrame()
	for _, f := range frames {
		for _, k := range f.Columns() {
			if out.Has(k) {
				return nil, fmt.Errorf("%w: intervention column %s produced twice", dfv1.ErrStructural, k)
			}
			values := make([]float64, sk.Len())
			for i := 0; i < f.Len(); i++ {
				r := f.Row(i)
				row, ok := sk.RowOf(r.StayID, r.Bucket)
				if !ok {
					return nil, fmt.Errorf("%w: intervention row (%s, %d) is not on the grid", dfv1.ErrStructural, r.StayID, r.Bucket)
				}
				if v := f.At(k, i); !table.IsMissing(v) {
					values[row] = v
				}
			}
			var err error
			if out, err = out.With(k, values); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
