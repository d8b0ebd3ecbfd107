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

// Package aggregate maps raw event rows of one logical table onto the grid skeleton.
//
// Every row is assigned to bucket floor((time - admission) / window) of its stay. Rows
// falling before admission or past the last bucket are dropped, never clamped into the
// nearest bucket. Rows sharing a (stay, channel, bucket) key are reduced according to
// the channel kind:
//   - mean channels produce the arithmetic mean and the number of rows,
//   - last channels produce the value of the latest row (ties go to the row read last)
//     and a presence mask.
//
// The result is laid out on the full skeleton. A cell without any row is missing for
// every statistic, the count included: no events and events summing to zero must stay
// distinguishable until the normalizer fills counts.
package aggregate

import (
	"context"
	"fmt"
	"math"
	"time"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/catalog"
	"github.com/numaproj/numagrid/pkg/grid"
	"github.com/numaproj/numagrid/pkg/metrics"
	"github.com/numaproj/numagrid/pkg/shared/logging"
	"github.com/numaproj/numagrid/pkg/sources"
	"github.com/numaproj/numagrid/pkg/table"
)

// Aggregator reduces the rows of one table.
type Aggregator struct {
	pipeline string
	table    string
	channels []*catalog.Channel
	byName   map[string]*catalog.Channel
}

// New returns an aggregator for the channels read from table.
func New(pipeline, table string, channels []*catalog.Channel) *Aggregator {
	a := &Aggregator{
		pipeline: pipeline,
		table:    table,
		channels: channels,
		byName:   make(map[string]*catalog.Channel, len(channels)),
	}
	for _, ch := range channels {
		a.byName[ch.Name] = ch
	}
	return a
}

// Report counts what happened to the rows of one aggregation.
type Report struct {
	Table          string
	Aggregated     int
	Dropped        map[string]int
	CoercionErrors map[string]int
}

func (r *Report) drop(reason string) {
	r.Dropped[reason]++
}

// accumulator holds the running statistics of one channel over the skeleton rows.
type accumulator struct {
	kind  dfv1.ChannelKind
	sum   []float64
	n     []int
	last  []float64
	at    []time.Time
	order []int
}

func newAccumulator(kind dfv1.ChannelKind, rows int) *accumulator {
	acc := &accumulator{kind: kind, n: make([]int, rows)}
	switch kind {
	case dfv1.MeanChannel:
		acc.sum = make([]float64, rows)
	case dfv1.LastChannel:
		acc.last = make([]float64, rows)
		acc.at = make([]time.Time, rows)
		acc.order = make([]int, rows)
	}
	return acc
}

func (acc *accumulator) add(row int, v float64, at time.Time, order int) {
	switch acc.kind {
	case dfv1.MeanChannel:
		acc.sum[row] += v
	case dfv1.LastChannel:
		if acc.n[row] == 0 || at.After(acc.at[row]) || (at.Equal(acc.at[row]) && order > acc.order[row]) {
			acc.last[row] = v
			acc.at[row] = at
			acc.order[row] = order
		}
	}
	acc.n[row]++
}

func (acc *accumulator) columns() (first, second []float64) {
	rows := len(acc.n)
	first = make([]float64, rows)
	second = make([]float64, rows)
	for i := 0; i < rows; i++ {
		if acc.n[i] == 0 {
			first[i] = table.Missing()
			second[i] = table.Missing()
			continue
		}
		switch acc.kind {
		case dfv1.MeanChannel:
			first[i] = acc.sum[i] / float64(acc.n[i])
			second[i] = float64(acc.n[i])
		case dfv1.LastChannel:
			first[i] = acc.last[i]
			second[i] = 1
		}
	}
	return first, second
}

// Aggregate reduces events onto the skeleton. It never fails on bad data, only on a
// structural inconsistency of its own output.
func (a *Aggregator) Aggregate(ctx context.Context, sk *grid.Skeleton, events []sources.Event) (*table.Frame, *Report, error) {
	log := logging.FromContext(ctx).With("table", a.table)
	report := &Report{
		Table:          a.table,
		Dropped:        make(map[string]int),
		CoercionErrors: make(map[string]int),
	}
	accs := make(map[string]*accumulator, len(a.channels))
	for _, ch := range a.channels {
		accs[ch.Name] = newAccumulator(ch.Kind, sk.Len())
	}
	warned := make(map[string]bool)
	for _, ev := range events {
		ch, ok := a.byName[ev.Channel]
		if !ok {
			report.drop(metrics.ReasonUnknownChannel)
			metrics.RowsDroppedCount.WithLabelValues(a.pipeline, a.table, metrics.ReasonUnknownChannel).Inc()
			if !warned[ev.Channel] {
				warned[ev.Channel] = true
				log.Warnw("Dropping rows of a channel not declared for the table", "channel", ev.Channel)
			}
			continue
		}
		if _, known := sk.Stay(ev.StayID); !known {
			report.drop(metrics.ReasonUnknownStay)
			metrics.RowsDroppedCount.WithLabelValues(a.pipeline, a.table, metrics.ReasonUnknownStay).Inc()
			continue
		}
		bucket, inside := sk.BucketOf(ev.StayID, ev.Time)
		if !inside {
			report.drop(metrics.ReasonOutOfWindow)
			metrics.RowsDroppedCount.WithLabelValues(a.pipeline, a.table, metrics.ReasonOutOfWindow).Inc()
			continue
		}
		v, err := a.value(ch, ev)
		if err != nil {
			report.CoercionErrors[ch.Name]++
			metrics.CoercionErrorCount.WithLabelValues(a.pipeline, a.table, ch.Name).Inc()
			log.Debugw("Treating value as missing", "stay", ev.StayID, "row", ev.Row, "channel", ch.Name, "error", err)
			continue
		}
		row, _ := sk.RowOf(ev.StayID, bucket)
		accs[ch.Name].add(row, v, ev.Time, ev.Row)
		report.Aggregated++
	}

	f := sk.NewFrame()
	for _, ch := range a.channels {
		first, second := accs[ch.Name].columns()
		stats := ch.Kind.Statistics()
		var err error
		if f, err = f.With(table.Key(ch.Name, stats[0]), first); err != nil {
			return nil, nil, err
		}
		if f, err = f.With(table.Key(ch.Name, stats[1]), second); err != nil {
			return nil, nil, err
		}
	}
	log.Debugw("Aggregated table", "rows", report.Aggregated, "dropped", report.Dropped, "coercionErrors", report.CoercionErrors)
	return f, report, nil
}

func (a *Aggregator) value(ch *catalog.Channel, ev sources.Event) (float64, error) {
	var (
		v   float64
		err error
	)
	switch ch.Kind {
	case dfv1.MeanChannel:
		v, err = ch.Numeric(ev.Value, ev.Unit)
	case dfv1.LastChannel:
		v, err = ch.Code(ev.Value, ev.Unit)
	default:
		return 0, fmt.Errorf("channel %q has invalid kind %q", ch.Name, ch.Kind)
	}
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("channel %q: value %q is not finite", ch.Name, ev.Value)
	}
	return v, nil
}
