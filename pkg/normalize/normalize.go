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

package normalize

import (
	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/table"
)

// mapColumns rewrites every column with statistic stat through fn.
func mapColumns(f *table.Frame, stat dfv1.Statistic, fn func(k table.ColumnKey, values []float64)) (*table.Frame, error) {
	out := f
	for _, k := range f.Columns() {
		if k.Stat != stat {
			continue
		}
		values, _ := out.Column(k)
		fn(k, values)
		var err error
		if out, err = out.With(k, values); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Standardize maps present mean cells to (v - mean) / std.
func Standardize(f *table.Frame, s Stats) (*table.Frame, error) {
	if err := s.Covers(f); err != nil {
		return nil, err
	}
	return mapColumns(f, dfv1.StatMean, func(k table.ColumnKey, values []float64) {
		cs := s[k.Channel]
		for i, v := range values {
			if !table.IsMissing(v) {
				values[i] = (v - cs.Mean) / cs.Std
			}
		}
	})
}

// Impute fills missing mean cells stay by stay: forward fill in bucket order, then the
// stay mean of the forward filled values, then zero. Nothing is filled backwards from a
// later observation except through the stay mean.
func Impute(f *table.Frame) (*table.Frame, error) {
	spans := f.Spans()
	return mapColumns(f, dfv1.StatMean, func(_ table.ColumnKey, values []float64) {
		for _, sp := range spans {
			cells := values[sp.Start:sp.End]
			forwardFill(cells)
			fillConstant(cells, stayMean(cells))
		}
	})
}

func forwardFill(cells []float64) {
	prev := table.Missing()
	for i, v := range cells {
		if table.IsMissing(v) {
			cells[i] = prev
		} else {
			prev = v
		}
	}
}

// stayMean is the mean of the present cells, zero when there are none.
func stayMean(cells []float64) float64 {
	sum, n := 0.0, 0
	for _, v := range cells {
		if !table.IsMissing(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func fillConstant(cells []float64, c float64) {
	for i, v := range cells {
		if table.IsMissing(v) {
			cells[i] = c
		}
	}
}

// BinarizeCounts turns counts into an any-occurrence indicator. Missing counts become 0.
func BinarizeCounts(f *table.Frame) (*table.Frame, error) {
	return mapColumns(f, dfv1.StatCount, func(_ table.ColumnKey, values []float64) {
		for i, v := range values {
			if !table.IsMissing(v) && v > 0 {
				values[i] = 1
			} else {
				values[i] = 0
			}
		}
	})
}

// FillResidual sets missing last values to 0 and turns masks into 0/1 indicators.
func FillResidual(f *table.Frame) (*table.Frame, error) {
	out, err := mapColumns(f, dfv1.StatLast, func(_ table.ColumnKey, values []float64) {
		fillConstant(values, 0)
	})
	if err != nil {
		return nil, err
	}
	return mapColumns(out, dfv1.StatMask, func(_ table.ColumnKey, values []float64) {
		for i, v := range values {
			if !table.IsMissing(v) && v != 0 {
				values[i] = 1
			} else {
				values[i] = 0
			}
		}
	})
}

// Apply runs standardization, imputation, count binarization and the residual fill, and
// fails if any cell is still missing afterwards.
func Apply(f *table.Frame, s Stats) (*table.Frame, error) {
	stages := []func(*table.Frame) (*table.Frame, error){
		func(f *table.Frame) (*table.Frame, error) { return Standardize(f, s) },
		Impute,
		BinarizeCounts,
		FillResidual,
	}
	out := f
	for _, stage := range stages {
		var err error
		if out, err = stage(out); err != nil {
			return nil, err
		}
	}
	if err := out.Complete(); err != nil {
		return nil, err
	}
	return out, nil
}
