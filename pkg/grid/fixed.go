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

package grid

import (
	"time"
)

// Window is one bucket of a stay, the half open interval [Start, End).
type Window struct {
	Bucket int
	Start  time.Time
	End    time.Time
}

// Fixed assigns instants to fixed windows anchored at an origin, usually the admission
// of a stay. Unlike time.Truncate, which anchors windows at the zero time, the origin is
// arbitrary.
type Fixed struct {
	// Length is the temporal length of the window.
	Length time.Duration
}

// NewFixed returns a Fixed windower.
func NewFixed(length time.Duration) *Fixed {
	return &Fixed{
		Length: length,
	}
}

// BucketOf returns floor((t - origin) / Length). Instants before the origin yield negative
// buckets, never bucket 0.
func (f *Fixed) BucketOf(origin, t time.Time) int {
	return floorDiv(t.Sub(origin), f.Length)
}

// AssignWindow returns the window the instant falls in.
// Assignment of windows follows a left inclusive and right exclusive principle, an
// instant on a boundary falls in to the window to the right of the boundary.
func (f *Fixed) AssignWindow(origin, t time.Time) Window {
	return f.Window(origin, f.BucketOf(origin, t))
}

// Window returns the bounds of a bucket.
func (f *Fixed) Window(origin time.Time, bucket int) Window {
	start := origin.Add(time.Duration(bucket) * f.Length)
	return Window{
		Bucket: bucket,
		Start:  start,
		End:    start.Add(f.Length),
	}
}

// Overlapping returns the first and last bucket whose window intersects [start, stop).
// An empty or inverted interval is treated as an instant at start.
func (f *Fixed) Overlapping(origin, start, stop time.Time) (int, int) {
	first := f.BucketOf(origin, start)
	if !stop.After(start) {
		return first, first
	}
	// the last window is the one holding the last instant before stop
	last := floorDiv(stop.Sub(origin)-1, f.Length)
	return first, last
}

func floorDiv(d, length time.Duration) int {
	q := d / length
	if d%length != 0 && d < 0 {
		q--
	}
	return int(q)
}
