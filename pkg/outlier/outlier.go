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

// Package outlier nulls physiologically implausible mean values.
package outlier

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/metrics"
	"github.com/numaproj/numagrid/pkg/shared/logging"
	"github.com/numaproj/numagrid/pkg/table"
)

// Check validates ranges against a frame.
func Check(f *table.Frame, ranges []dfv1.OutlierRange) error {
	var errs error
	seen := make(map[string]bool)
	for _, r := range ranges {
		if seen[r.Channel] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate outlier range for %q", r.Channel))
		}
		seen[r.Channel] = true
		switch {
		case f.Has(table.Key(r.Channel, dfv1.StatMean)):
		case f.HasChannel(r.Channel):
			errs = multierr.Append(errs, fmt.Errorf("outlier range for %q which is not a mean channel", r.Channel))
		default:
			errs = multierr.Append(errs, fmt.Errorf("outlier range for %q which is not in the frame", r.Channel))
		}
		if r.Low != nil && r.High != nil && *r.Low > *r.High {
			errs = multierr.Append(errs, fmt.Errorf("outlier range for %q has low %v above high %v", r.Channel, *r.Low, *r.High))
		}
	}
	if errs != nil {
		return fmt.Errorf("%w: %w", dfv1.ErrConfiguration, errs)
	}
	return nil
}

// Filter returns a frame where mean cells outside their channel range are missing.
// Counts are kept: the events happened even though their value is discarded.
// Filtering an already filtered frame changes nothing.
func Filter(ctx context.Context, pipeline string, f *table.Frame, ranges []dfv1.OutlierRange) (*table.Frame, error) {
	if err := Check(f, ranges); err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx)
	out := f
	for _, r := range ranges {
		k := table.Key(r.Channel, dfv1.StatMean)
		values, _ := out.Column(k)
		nulled := 0
		for i, v := range values {
			if table.IsMissing(v) {
				continue
			}
			if (r.Low != nil && v < *r.Low) || (r.High != nil && v > *r.High) {
				values[i] = table.Missing()
				nulled++
			}
		}
		if nulled == 0 {
			continue
		}
		metrics.OutlierCellsCount.WithLabelValues(pipeline, r.Channel).Add(float64(nulled))
		log.Debugw("Nulled outliers", "channel", r.Channel, "cells", nulled)
		var err error
		if out, err = out.With(k, values); err != nil {
			return nil, err
		}
	}
	return out, nil
}
