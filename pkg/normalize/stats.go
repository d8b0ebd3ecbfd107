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

// Package normalize standardizes mean channels and fills every missing cell.
//
// Normalization statistics are global: they are computed once over every chunk of the
// cohort, or loaded from a reference cohort, before any chunk is standardized.
package normalize

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"go.uber.org/multierr"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/shared/util"
	"github.com/numaproj/numagrid/pkg/table"
)

// ChannelStats are the global moments of one mean channel.
type ChannelStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	N    int     `json:"n"`
}

// Stats maps a mean channel to its global moments.
type Stats map[string]ChannelStats

// moment is the running (count, mean, sum of squared deviations) of one channel.
type moment struct {
	n    int
	mean float64
	m2   float64
}

// merge combines two partial moments with the pairwise update of Chan et al.
func (a moment) merge(b moment) moment {
	switch {
	case a.n == 0:
		return b
	case b.n == 0:
		return a
	}
	n := a.n + b.n
	delta := b.mean - a.mean
	return moment{
		n:    n,
		mean: a.mean + delta*float64(b.n)/float64(n),
		m2:   a.m2 + b.m2 + delta*delta*float64(a.n)*float64(b.n)/float64(n),
	}
}

// Moments are the partial statistics of one chunk.
type Moments struct {
	channels []string
	byName   map[string]moment
}

// meanChannels lists the channels of f carrying a mean statistic, in column order.
func meanChannels(f *table.Frame) []string {
	var out []string
	for _, k := range f.Columns() {
		if k.Stat == dfv1.StatMean {
			out = append(out, k.Channel)
		}
	}
	return out
}

// ChunkMoments computes the partial moments of every mean channel of one chunk.
func ChunkMoments(f *table.Frame) (*Moments, error) {
	m := &Moments{byName: make(map[string]moment)}
	for _, ch := range meanChannels(f) {
		values, _ := f.Column(table.Key(ch, dfv1.StatMean))
		present := make(stats.Float64Data, 0, len(values))
		for _, v := range values {
			if !table.IsMissing(v) {
				present = append(present, v)
			}
		}
		m.channels = append(m.channels, ch)
		if len(present) == 0 {
			m.byName[ch] = moment{}
			continue
		}
		mean, err := stats.Mean(present)
		if err != nil {
			return nil, fmt.Errorf("mean of channel %q: %w", ch, err)
		}
		pvar, err := stats.PopulationVariance(present)
		if err != nil {
			return nil, fmt.Errorf("variance of channel %q: %w", ch, err)
		}
		m.byName[ch] = moment{n: len(present), mean: mean, m2: pvar * float64(len(present))}
	}
	return m, nil
}

// Merge reduces the chunk moments into global statistics. A channel with fewer than two
// observations or without any spread cannot be standardized and is a configuration error.
func Merge(parts ...*Moments) (Stats, error) {
	total := make(map[string]moment)
	var order []string
	for _, p := range parts {
		for _, ch := range p.channels {
			if _, ok := total[ch]; !ok {
				order = append(order, ch)
			}
			total[ch] = total[ch].merge(p.byName[ch])
		}
	}
	out := make(Stats, len(total))
	var errs error
	for _, ch := range order {
		m := total[ch]
		if m.n < 2 {
			errs = multierr.Append(errs, fmt.Errorf("channel %q has %d observations, at least 2 are needed", ch, m.n))
			continue
		}
		std := math.Sqrt(m.m2 / float64(m.n-1))
		if std == 0 || math.IsNaN(std) {
			errs = multierr.Append(errs, fmt.Errorf("channel %q has zero standard deviation", ch))
			continue
		}
		out[ch] = ChannelStats{Mean: m.mean, Std: std, N: m.n}
	}
	if errs != nil {
		return nil, fmt.Errorf("%w: %w", dfv1.ErrConfiguration, errs)
	}
	return out, nil
}

// ComputeStats computes the global statistics over all chunks.
func ComputeStats(frames ...*table.Frame) (Stats, error) {
	parts := make([]*Moments, 0, len(frames))
	for _, f := range frames {
		m, err := ChunkMoments(f)
		if err != nil {
			return nil, err
		}
		parts = append(parts, m)
	}
	return Merge(parts...)
}

// Covers checks that s holds usable statistics for every mean channel of f.
func (s Stats) Covers(f *table.Frame) error {
	var errs error
	for _, ch := range meanChannels(f) {
		cs, ok := s[ch]
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("no normalization statistics for channel %q", ch))
			continue
		}
		if cs.Std <= 0 || math.IsNaN(cs.Std) || math.IsNaN(cs.Mean) {
			errs = multierr.Append(errs, fmt.Errorf("invalid normalization statistics for channel %q", ch))
		}
	}
	if errs != nil {
		return fmt.Errorf("%w: %w", dfv1.ErrConfiguration, errs)
	}
	return nil
}

// Channels returns the channel names in sorted order.
func (s Stats) Channels() []string {
	out := make([]string, 0, len(s))
	for ch := range s {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Save writes s as JSON.
func (s Stats) Save(path string) error {
	return util.WriteJSONFile(path, s)
}

// Load reads statistics written by Save.
func Load(path string) (Stats, error) {
	var s Stats
	if err := util.ReadJSONFile(path, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", dfv1.ErrConfiguration, err)
	}
	return s, nil
}
