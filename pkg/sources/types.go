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

// Package sources reads the tables handed over by the query layer: the cohort of stays,
// event valued tables, interval valued tables and the static demographic table.
//
// Every reader is lenient towards bad data: a row with an unparseable instant or a
// truncated record is dropped, logged with its row number and counted, and the read
// goes on. A missing required column is fatal.
package sources

import (
	"time"
)

// Event is one raw event row.
type Event struct {
	StayID  string
	Time    time.Time
	Channel string
	Value   string
	Unit    string
	// Row is the position of the row in its table, used to break ties between events
	// recorded at the same instant.
	Row int
}

// Interval is one raw interval row. A zero Stop means the interval is open ended.
type Interval struct {
	StayID string
	Start  time.Time
	Stop   time.Time
	Type   string
	Row    int
}

// OpenEnded tells whether the interval has no recorded stop.
func (iv Interval) OpenEnded() bool {
	return iv.Stop.IsZero()
}

// Report counts what happened to the rows of one table.
type Report struct {
	Table   string
	Read    int
	Dropped map[string]int
}

func newReport(table string) *Report {
	return &Report{Table: table, Dropped: make(map[string]int)}
}

// TotalDropped returns the number of rows dropped for any reason.
func (r *Report) TotalDropped() int {
	n := 0
	for _, v := range r.Dropped {
		n += v
	}
	return n
}

// offsetEpoch is the admission of stays recorded with minute offsets.
var offsetEpoch = time.Unix(0, 0).UTC()
