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

// Package reconcile merges channels that record the same quantity from different sources.
package reconcile

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/multierr"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/metrics"
	"github.com/numaproj/numagrid/pkg/shared/logging"
	"github.com/numaproj/numagrid/pkg/table"
)

// Options tune a reconciliation run.
type Options struct {
	Pipeline string
	// Tolerance enables disagreement flagging when positive. Both means present and
	// further apart than Tolerance is reported, the primary still wins.
	Tolerance float64
}

// Disagreement is one cell where both sources recorded clearly different means.
type Disagreement struct {
	Primary   string  `json:"primary"`
	Secondary string  `json:"secondary"`
	StayID    string  `json:"stayId"`
	Bucket    int     `json:"bucket"`
	Kept      float64 `json:"kept"`
	Discarded float64 `json:"discarded"`
}

// Report lists the disagreements found in one frame.
type Report struct {
	Disagreements []Disagreement
}

// kindOf infers the kind of a channel from the statistics present in the frame.
func kindOf(f *table.Frame, channel string) (dfv1.ChannelKind, bool) {
	for _, kind := range []dfv1.ChannelKind{dfv1.MeanChannel, dfv1.LastChannel} {
		stats := kind.Statistics()
		if f.Has(table.Key(channel, stats[0])) && f.Has(table.Key(channel, stats[1])) {
			return kind, true
		}
	}
	return "", false
}

// CheckPlan validates the order of a merge plan. A primary may absorb several
// secondaries and a secondary may feed several primaries, but a channel that was
// absorbed as a secondary can not be a primary later on, since it is dropped after its
// last use.
func CheckPlan(pairs []dfv1.ReconciliationPair) error {
	var errs error
	absorbed := make(map[string]bool)
	seen := make(map[dfv1.ReconciliationPair]bool)
	for _, p := range pairs {
		if p.Primary == p.Secondary {
			errs = multierr.Append(errs, fmt.Errorf("channel %q is reconciled with itself", p.Primary))
			continue
		}
		if seen[p] {
			errs = multierr.Append(errs, fmt.Errorf("reconciliation pair %q <- %q is listed twice", p.Primary, p.Secondary))
			continue
		}
		seen[p] = true
		if absorbed[p.Primary] {
			errs = multierr.Append(errs, fmt.Errorf("channel %q is a reconciliation primary after it was absorbed as a secondary", p.Primary))
		}
		absorbed[p.Secondary] = true
	}
	if errs != nil {
		return fmt.Errorf("%w: %w", dfv1.ErrConfiguration, errs)
	}
	return nil
}

// lastUses maps every secondary to the index of the last pair reading it.
func lastUses(pairs []dfv1.ReconciliationPair) map[string]int {
	out := make(map[string]int, len(pairs))
	for i, p := range pairs {
		out[p.Secondary] = i
	}
	return out
}

// Check validates pairs against a frame without touching it.
func Check(f *table.Frame, pairs []dfv1.ReconciliationPair) error {
	if err := CheckPlan(pairs); err != nil {
		return err
	}
	var errs error
	for _, p := range pairs {
		pk, pok := kindOf(f, p.Primary)
		sk, sok := kindOf(f, p.Secondary)
		if !pok {
			errs = multierr.Append(errs, fmt.Errorf("reconciliation primary %q is not in the frame", p.Primary))
		}
		if !sok {
			errs = multierr.Append(errs, fmt.Errorf("reconciliation secondary %q is not in the frame", p.Secondary))
		}
		if pok && sok && pk != sk {
			errs = multierr.Append(errs, fmt.Errorf("cannot reconcile %s channel %q with %s channel %q", pk, p.Primary, sk, p.Secondary))
		}
	}
	if errs != nil {
		return fmt.Errorf("%w: %w", dfv1.ErrConfiguration, errs)
	}
	return nil
}

// Reconcile applies pairs in order. The primary channel keeps its name and takes the
// merged values. A secondary channel disappears from the result after the last pair
// reading it.
func Reconcile(ctx context.Context, f *table.Frame, pairs []dfv1.ReconciliationPair, opts Options) (*table.Frame, *Report, error) {
	if err := Check(f, pairs); err != nil {
		return nil, nil, err
	}
	log := logging.FromContext(ctx)
	report := &Report{}
	out := f
	last := lastUses(pairs)
	for i, p := range pairs {
		kind, _ := kindOf(out, p.Primary)
		stats := kind.Statistics()
		pv, _ := out.Column(table.Key(p.Primary, stats[0]))
		pc, _ := out.Column(table.Key(p.Primary, stats[1]))
		sv, _ := out.Column(table.Key(p.Secondary, stats[0]))
		sc, _ := out.Column(table.Key(p.Secondary, stats[1]))

		for r := range pv {
			switch kind {
			case dfv1.MeanChannel:
				if opts.Tolerance > 0 && !table.IsMissing(pv[r]) && !table.IsMissing(sv[r]) && math.Abs(pv[r]-sv[r]) > opts.Tolerance {
					row := out.Row(r)
					d := Disagreement{Primary: p.Primary, Secondary: p.Secondary, StayID: row.StayID, Bucket: row.Bucket, Kept: pv[r], Discarded: sv[r]}
					report.Disagreements = append(report.Disagreements, d)
					metrics.DisagreementCount.WithLabelValues(opts.Pipeline, p.Primary).Inc()
					log.Warnw("Reconciled channels disagree", "primary", p.Primary, "secondary", p.Secondary, "stay", row.StayID, "bucket", row.Bucket, "kept", pv[r], "discarded", sv[r])
				}
				if table.IsMissing(pv[r]) {
					pv[r] = sv[r]
				}
				pc[r] = addCounts(pc[r], sc[r])
			case dfv1.LastChannel:
				if !masked(pc[r]) && masked(sc[r]) {
					pv[r] = sv[r]
				}
				if masked(pc[r]) || masked(sc[r]) {
					pc[r] = 1
				}
			}
		}

		var err error
		if out, err = out.With(table.Key(p.Primary, stats[0]), pv); err != nil {
			return nil, nil, err
		}
		if out, err = out.With(table.Key(p.Primary, stats[1]), pc); err != nil {
			return nil, nil, err
		}
		if last[p.Secondary] != i {
			continue
		}
		if out, err = out.Drop(table.Key(p.Secondary, stats[0]), table.Key(p.Secondary, stats[1])); err != nil {
			return nil, nil, err
		}
	}
	return out, report, nil
}

// addCounts sums the present counts, the result is missing only when both are.
func addCounts(a, b float64) float64 {
	switch {
	case table.IsMissing(a):
		return b
	case table.IsMissing(b):
		return a
	default:
		return a + b
	}
}

func masked(v float64) bool {
	return !table.IsMissing(v) && v != 0
}
