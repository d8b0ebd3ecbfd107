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
	"fmt"
	"io"
	"time"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/grid"
	"github.com/numaproj/numagrid/pkg/metrics"
	"github.com/numaproj/numagrid/pkg/table"
)

// Reader reads the input tables of one pipeline run.
type Reader struct {
	pipeline string
}

// NewReader returns a reader labelling its metrics with the pipeline name.
func NewReader(pipeline string) *Reader {
	return &Reader{pipeline: pipeline}
}

// ReadStays reads the cohort table [stay_id, admission, discharge]. In offset mode the
// admission column is optional and defaults to 0 minutes.
func (r *Reader) ReadStays(ctx context.Context, in io.Reader, mode dfv1.TimeMode) ([]grid.Stay, *Report, error) {
	required := []string{dfv1.ColumnStayID, dfv1.ColumnAdmission, dfv1.ColumnDischarge}
	if mode == dfv1.TimeModeOffset {
		required = []string{dfv1.ColumnStayID, dfv1.ColumnDischarge}
	}
	t, err := newCSVTable("stays", in, required...)
	if err != nil {
		return nil, nil, err
	}
	report := newReport("stays")
	stays := make([]grid.Stay, 0)
	seen := make(map[string]bool)
	for {
		rec, ok, err := t.next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, nil, fmt.Errorf("failed to read stays, %w", err)
		}
		report.Read++
		metrics.RowsReadCount.WithLabelValues(r.pipeline, report.Table).Inc()
		if !ok {
			drop(ctx, r.pipeline, report, metrics.ReasonBadValue, t.row, "truncated record")
			continue
		}
		id := t.get(rec, dfv1.ColumnStayID)
		if id == "" {
			drop(ctx, r.pipeline, report, metrics.ReasonBadValue, t.row, "empty stay identifier")
			continue
		}
		if seen[id] {
			return nil, nil, fmt.Errorf("%w: duplicate stay %q in cohort table", dfv1.ErrStructural, id)
		}
		admission := offsetEpoch
		if raw := t.get(rec, dfv1.ColumnAdmission); raw != "" || mode == dfv1.TimeModeTimestamp {
			if admission, err = parseInstant(raw, mode, offsetEpoch); err != nil {
				drop(ctx, r.pipeline, report, metrics.ReasonBadTime, t.row, err)
				continue
			}
		}
		discharge, err := parseInstant(t.get(rec, dfv1.ColumnDischarge), mode, offsetEpoch)
		if err != nil {
			drop(ctx, r.pipeline, report, metrics.ReasonBadTime, t.row, err)
			continue
		}
		seen[id] = true
		stays = append(stays, grid.NewStay(id, admission, discharge))
	}
	return stays, report, nil
}

// Admissions indexes the admission instant of every stay.
func Admissions(stays []grid.Stay) map[string]time.Time {
	out := make(map[string]time.Time, len(stays))
	for _, s := range stays {
		out[s.ID] = s.Admission
	}
	return out
}

// ReadEvents reads an event table [stay_id, time, channel, value, unit?]. In offset mode
// the time column holds minutes since the admission of the stay. Rows of stays absent
// from admissions are dropped.
func (r *Reader) ReadEvents(ctx context.Context, in io.Reader, spec dfv1.EventTable, admissions map[string]time.Time) ([]Event, *Report, error) {
	t, err := newCSVTable(spec.Name, in, dfv1.ColumnStayID, dfv1.ColumnTime, dfv1.ColumnChannel, dfv1.ColumnValue)
	if err != nil {
		return nil, nil, err
	}
	report := newReport(spec.Name)
	events := make([]Event, 0)
	for {
		rec, ok, err := t.next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, nil, fmt.Errorf("failed to read table %q, %w", spec.Name, err)
		}
		report.Read++
		metrics.RowsReadCount.WithLabelValues(r.pipeline, report.Table).Inc()
		if !ok {
			drop(ctx, r.pipeline, report, metrics.ReasonBadValue, t.row, "truncated record")
			continue
		}
		id := t.get(rec, dfv1.ColumnStayID)
		admission, known := admissions[id]
		if !known {
			drop(ctx, r.pipeline, report, metrics.ReasonUnknownStay, t.row, id)
			continue
		}
		at, err := parseInstant(t.get(rec, dfv1.ColumnTime), spec.TimeMode, admission)
		if err != nil {
			drop(ctx, r.pipeline, report, metrics.ReasonBadTime, t.row, err)
			continue
		}
		events = append(events, Event{
			StayID:  id,
			Time:    at,
			Channel: t.get(rec, dfv1.ColumnChannel),
			Value:   t.get(rec, dfv1.ColumnValue),
			Unit:    t.get(rec, dfv1.ColumnUnit),
			Row:     t.row,
		})
	}
	return events, report, nil
}

// ReadIntervals reads an interval table [stay_id, start, stop, intervention]. An empty
// stop means the interval is still open at the end of the stay.
func (r *Reader) ReadIntervals(ctx context.Context, in io.Reader, spec dfv1.IntervalTable, admissions map[string]time.Time) ([]Interval, *Report, error) {
	t, err := newCSVTable(spec.Name, in, dfv1.ColumnStayID, dfv1.ColumnStart, dfv1.ColumnStop, dfv1.ColumnType)
	if err != nil {
		return nil, nil, err
	}
	report := newReport(spec.Name)
	intervals := make([]Interval, 0)
	for {
		rec, ok, err := t.next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, nil, fmt.Errorf("failed to read table %q, %w", spec.Name, err)
		}
		report.Read++
		metrics.RowsReadCount.WithLabelValues(r.pipeline, report.Table).Inc()
		if !ok {
			drop(ctx, r.pipeline, report, metrics.ReasonBadValue, t.row, "truncated record")
			continue
		}
		id := t.get(rec, dfv1.ColumnStayID)
		admission, known := admissions[id]
		if !known {
			drop(ctx, r.pipeline, report, metrics.ReasonUnknownStay, t.row, id)
			continue
		}
		start, err := parseInstant(t.get(rec, dfv1.ColumnStart), spec.TimeMode, admission)
		if err != nil {
			drop(ctx, r.pipeline, report, metrics.ReasonBadTime, t.row, err)
			continue
		}
		var stop time.Time
		if raw := t.get(rec, dfv1.ColumnStop); raw != "" {
			if stop, err = parseInstant(raw, spec.TimeMode, admission); err != nil {
				drop(ctx, r.pipeline, report, metrics.ReasonBadTime, t.row, err)
				continue
			}
		}
		intervals = append(intervals, Interval{
			StayID: id,
			Start:  start,
			Stop:   stop,
			Type:   t.get(rec, dfv1.ColumnType),
			Row:    t.row,
		})
	}
	return intervals, report, nil
}

// ReadStatic reads a static table keyed by stay_id. Every other column is kept as is.
func (r *Reader) ReadStatic(ctx context.Context, in io.Reader, name string) (*table.Static, *Report, error) {
	t, err := newCSVTable(name, in, dfv1.ColumnStayID)
	if err != nil {
		return nil, nil, err
	}
	columns := make([]string, 0, len(t.header))
	for _, h := range t.header {
		if h != dfv1.ColumnStayID {
			columns = append(columns, h)
		}
	}
	report := newReport(name)
	stays := make([]string, 0)
	rows := make([][]string, 0)
	for {
		rec, ok, err := t.next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, nil, fmt.Errorf("failed to read table %q, %w", name, err)
		}
		report.Read++
		metrics.RowsReadCount.WithLabelValues(r.pipeline, report.Table).Inc()
		if !ok {
			drop(ctx, r.pipeline, report, metrics.ReasonBadValue, t.row, "truncated record")
			continue
		}
		row := make([]string, len(columns))
		for i, c := range columns {
			row[i] = t.get(rec, c)
		}
		stays = append(stays, t.get(rec, dfv1.ColumnStayID))
		rows = append(rows, row)
	}
	static, err := table.NewStatic(columns, stays, rows)
	if err != nil {
		return nil, nil, err
	}
	return static, report, nil
}

// ReadStaysFile is ReadStays on a file.
func (r *Reader) ReadStaysFile(ctx context.Context, spec dfv1.StaySource) ([]grid.Stay, *Report, error) {
	f, err := openFile(spec.Path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return r.ReadStays(ctx, f, spec.TimeMode)
}

// ReadEventsFile is ReadEvents on a file.
func (r *Reader) ReadEventsFile(ctx context.Context, spec dfv1.EventTable, admissions map[string]time.Time) ([]Event, *Report, error) {
	f, err := openFile(spec.Path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return r.ReadEvents(ctx, f, spec, admissions)
}

// ReadIntervalsFile is ReadIntervals on a file.
func (r *Reader) ReadIntervalsFile(ctx context.Context, spec dfv1.IntervalTable, admissions map[string]time.Time) ([]Interval, *Report, error) {
	f, err := openFile(spec.Path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return r.ReadIntervals(ctx, f, spec, admissions)
}

// ReadStaticFile is ReadStatic on a file.
func (r *Reader) ReadStaticFile(ctx context.Context, name, path string) (*table.Static, *Report, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return r.ReadStatic(ctx, f, name)
}
