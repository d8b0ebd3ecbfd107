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

package pipeline

import (
	"sync"

	"github.com/numaproj/numagrid/pkg/aggregate"
	"github.com/numaproj/numagrid/pkg/intervention"
	"github.com/numaproj/numagrid/pkg/sinks"
	"github.com/numaproj/numagrid/pkg/sources"
)

// summaries accumulates the per table accounting of a run.
type summaries struct {
	sync.Mutex
	order  []string
	tables map[string]*sinks.TableSummary
}

func newSummaries(reports []*sources.Report) *summaries {
	s := &summaries{tables: make(map[string]*sinks.TableSummary)}
	for _, r := range reports {
		ts := s.get(r.Table)
		ts.Read += r.Read
		for reason, n := range r.Dropped {
			ts.Dropped[reason] += n
		}
	}
	return s
}

func (s *summaries) get(name string) *sinks.TableSummary {
	ts, ok := s.tables[name]
	if !ok {
		ts = &sinks.TableSummary{
			Name:           name,
			Dropped:        make(map[string]int),
			CoercionErrors: make(map[string]int),
		}
		s.tables[name] = ts
		s.order = append(s.order, name)
	}
	return ts
}

func (s *summaries) drop(table, reason string) {
	s.dropN(table, reason, 1)
}

func (s *summaries) dropN(table, reason string, n int) {
	if n == 0 {
		return
	}
	s.Lock()
	defer s.Unlock()
	s.get(table).Dropped[reason] += n
}

func (s *summaries) use(table string, n int) {
	s.Lock()
	defer s.Unlock()
	s.get(table).Used += n
}

func (s *summaries) addAggregate(r *aggregate.Report) {
	s.Lock()
	defer s.Unlock()
	ts := s.get(r.Table)
	ts.Used += r.Aggregated
	for reason, n := range r.Dropped {
		ts.Dropped[reason] += n
	}
	for ch, n := range r.CoercionErrors {
		ts.CoercionErrors[ch] += n
	}
}

func (s *summaries) addIntervention(r *intervention.Report) {
	s.Lock()
	defer s.Unlock()
	ts := s.get(r.Table)
	ts.Used += r.Compiled
	for reason, n := range r.Dropped {
		ts.Dropped[reason] += n
	}
}

// list returns the summaries in first seen order, without empty maps.
func (s *summaries) list() []sinks.TableSummary {
	s.Lock()
	defer s.Unlock()
	out := make([]sinks.TableSummary, 0, len(s.order))
	for _, name := range s.order {
		ts := *s.tables[name]
		if len(ts.Dropped) == 0 {
			ts.Dropped = nil
		}
		if len(ts.CoercionErrors) == 0 {
			ts.CoercionErrors = nil
		}
		out = append(out, ts)
	}
	return out
}
