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

// Package grid builds the grid skeleton of an extraction run: for every stay, the
// gapless sequence of buckets 0..MaxBuckets-1 that every aligned table conforms to.
package grid

import (
	"fmt"
	"sort"
	"time"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/table"
)

// Stay is one ICU or hospital encounter.
type Stay struct {
	ID        string
	Admission time.Time
	Discharge time.Time
}

// NewStay returns a stay.
func NewStay(id string, admission, discharge time.Time) Stay {
	return Stay{ID: id, Admission: admission, Discharge: discharge}
}

// MaxBuckets returns floor(max(0, discharge - admission) / window), capped by horizon when
// the horizon is positive.
func (s Stay) MaxBuckets(window time.Duration, horizon int) int {
	d := s.Discharge.Sub(s.Admission)
	if d <= 0 {
		return 0
	}
	n := int(d / window)
	if horizon > 0 && n > horizon {
		n = horizon
	}
	return n
}

// Skeleton is the ordered set of (stay, bucket) pairs of a run. It is read only once built.
type Skeleton struct {
	windower *Fixed
	horizon  int
	stays    []Stay
	index    map[string]int
	buckets  []int
	offsets  []int
	rows     []table.RowKey
}

// Build returns the skeleton of the given stays. Stays are ordered by identifier and
// stays without any bucket are left out.
func Build(stays []Stay, window time.Duration, horizon int) (*Skeleton, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: window width must be positive, got %v", dfv1.ErrConfiguration, window)
	}
	if horizon < 0 {
		return nil, fmt.Errorf("%w: horizon must not be negative, got %d", dfv1.ErrConfiguration, horizon)
	}
	sorted := make([]Stay, len(stays))
	copy(sorted, stays)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].ID == sorted[i-1].ID {
			return nil, fmt.Errorf("%w: duplicate stay %q", dfv1.ErrStructural, sorted[i].ID)
		}
	}
	sk := &Skeleton{
		windower: NewFixed(window),
		horizon:  horizon,
		stays:    make([]Stay, 0, len(sorted)),
		index:    make(map[string]int, len(sorted)),
	}
	for _, s := range sorted {
		n := s.MaxBuckets(window, horizon)
		if n == 0 {
			continue
		}
		sk.index[s.ID] = len(sk.stays)
		sk.stays = append(sk.stays, s)
		sk.buckets = append(sk.buckets, n)
		sk.offsets = append(sk.offsets, len(sk.rows))
		for b := 0; b < n; b++ {
			sk.rows = append(sk.rows, table.RowKey{StayID: s.ID, Bucket: b})
		}
	}
	return sk, nil
}

// Window returns the width of a bucket.
func (sk *Skeleton) Window() time.Duration {
	return sk.windower.Length
}

// Horizon returns the bucket cap the skeleton was built with.
func (sk *Skeleton) Horizon() int {
	return sk.horizon
}

// Windower returns the fixed windower of the skeleton.
func (sk *Skeleton) Windower() *Fixed {
	return sk.windower
}

// Len returns the number of rows.
func (sk *Skeleton) Len() int {
	return len(sk.rows)
}

// Rows returns a copy of the (stay, bucket) keys in order.
func (sk *Skeleton) Rows() []table.RowKey {
	out := make([]table.RowKey, len(sk.rows))
	copy(out, sk.rows)
	return out
}

// Stays returns the stays of the skeleton, ordered by identifier.
func (sk *Skeleton) Stays() []Stay {
	out := make([]Stay, len(sk.stays))
	copy(out, sk.stays)
	return out
}

// StayIDs returns the identifiers of the stays of the skeleton.
func (sk *Skeleton) StayIDs() []string {
	out := make([]string, len(sk.stays))
	for i, s := range sk.stays {
		out[i] = s.ID
	}
	return out
}

// Stay returns the stay with the given identifier.
func (sk *Skeleton) Stay(id string) (Stay, bool) {
	i, ok := sk.index[id]
	if !ok {
		return Stay{}, false
	}
	return sk.stays[i], true
}

// MaxBuckets returns the number of buckets of a stay, 0 for unknown stays.
func (sk *Skeleton) MaxBuckets(id string) int {
	i, ok := sk.index[id]
	if !ok {
		return 0
	}
	return sk.buckets[i]
}

// RowOf returns the row index of (stay, bucket), false when the pair is off the grid.
func (sk *Skeleton) RowOf(id string, bucket int) (int, bool) {
	i, ok := sk.index[id]
	if !ok || bucket < 0 || bucket >= sk.buckets[i] {
		return 0, false
	}
	return sk.offsets[i] + bucket, true
}

// BucketOf returns the bucket the instant falls in for the stay, and whether that bucket
// lies inside [0, MaxBuckets). Out of window instants are never clamped.
func (sk *Skeleton) BucketOf(id string, t time.Time) (int, bool) {
	i, ok := sk.index[id]
	if !ok {
		return 0, false
	}
	b := sk.windower.BucketOf(sk.stays[i].Admission, t)
	return b, b >= 0 && b < sk.buckets[i]
}

// NewFrame returns an empty frame laid out on the skeleton rows.
func (sk *Skeleton) NewFrame() *table.Frame {
	// skeleton rows are contiguous per stay by construction
	f, _ := table.New(sk.rows)
	return f
}

// Subset returns the skeleton restricted to the given stays. Unknown stays are ignored.
func (sk *Skeleton) Subset(ids []string) *Skeleton {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	out := &Skeleton{
		windower: sk.windower,
		horizon:  sk.horizon,
		index:    make(map[string]int),
	}
	for i, s := range sk.stays {
		if !keep[s.ID] {
			continue
		}
		out.index[s.ID] = len(out.stays)
		out.stays = append(out.stays, s)
		out.buckets = append(out.buckets, sk.buckets[i])
		out.offsets = append(out.offsets, len(out.rows))
		start := sk.offsets[i]
		out.rows = append(out.rows, sk.rows[start:start+sk.buckets[i]]...)
	}
	return out
}

// Chunks splits the skeleton into consecutive sub skeletons of at most size stays.
func (sk *Skeleton) Chunks(size int) []*Skeleton {
	if size <= 0 {
		size = len(sk.stays)
	}
	ids := sk.StayIDs()
	out := make([]*Skeleton, 0)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, sk.Subset(ids[start:end]))
	}
	return out
}

// Validate verifies that the frame is laid out on exactly the skeleton rows.
func (sk *Skeleton) Validate(f *table.Frame) error {
	if f.Len() != len(sk.rows) {
		return fmt.Errorf("%w: frame has %d rows, skeleton has %d", dfv1.ErrStructural, f.Len(), len(sk.rows))
	}
	for i, r := range sk.rows {
		if got := f.Row(i); got != r {
			return fmt.Errorf("%w: row %d is (%q, %d), skeleton expects (%q, %d)", dfv1.ErrStructural, i, got.StayID, got.Bucket, r.StayID, r.Bucket)
		}
	}
	return nil
}
