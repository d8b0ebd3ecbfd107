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

package sources

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/metrics"
	"github.com/numaproj/numagrid/pkg/shared/logging"
)

// csvTable iterates over the records of a CSV file with a header row.
type csvTable struct {
	name    string
	reader  *csv.Reader
	columns map[string]int
	header  []string
	row     int
}

func newCSVTable(name string, r io.Reader, required ...string) (*csvTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of table %q, %w", name, err)
	}
	t := &csvTable{
		name:    name,
		reader:  cr,
		columns: make(map[string]int, len(header)),
		header:  make([]string, len(header)),
	}
	for i, h := range header {
		h = strings.TrimSpace(h)
		t.header[i] = h
		t.columns[h] = i
	}
	for _, c := range required {
		if _, ok := t.columns[c]; !ok {
			return nil, fmt.Errorf("%w: table %q lacks required column %q", dfv1.ErrStructural, name, c)
		}
	}
	return t, nil
}

// next returns the next record, io.EOF at the end. A record shorter than the header is
// returned with ok set to false.
func (t *csvTable) next() ([]string, bool, error) {
	rec, err := t.reader.Read()
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			t.row++
			return nil, false, nil
		}
		return nil, false, err
	}
	t.row++
	return rec, len(rec) >= len(t.header), nil
}

func (t *csvTable) get(rec []string, column string) string {
	i, ok := t.columns[column]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// parseInstant reads a time column. In offset mode the value is a number of minutes
// added to origin.
func parseInstant(raw string, mode dfv1.TimeMode, origin time.Time) (time.Time, error) {
	switch mode {
	case dfv1.TimeModeOffset:
		minutes, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(minutes) || math.IsInf(minutes, 0) {
			return time.Time{}, fmt.Errorf("invalid offset %q", raw)
		}
		return origin.Add(time.Duration(minutes * float64(time.Minute))), nil
	case dfv1.TimeModeTimestamp:
		ts, err := dateparse.ParseIn(raw, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q, %w", raw, err)
		}
		return ts, nil
	default:
		return time.Time{}, fmt.Errorf("%w: unknown time mode %q", dfv1.ErrConfiguration, mode)
	}
}

// drop records a dropped row.
func drop(ctx context.Context, pipeline string, report *Report, reason string, row int, cause interface{}) {
	report.Dropped[reason]++
	metrics.RowsDroppedCount.WithLabelValues(pipeline, report.Table, reason).Inc()
	logging.FromContext(ctx).Debugw("Dropping source row", "table", report.Table, "row", row, "reason", reason, "cause", cause)
}

func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s, %w", path, err)
	}
	return f, nil
}
