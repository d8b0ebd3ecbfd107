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

package table

import (
	"fmt"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
)

// Static is a table with one row per stay and string valued columns, e.g. demographics.
type Static struct {
	columns []string
	stays   []string
	values  map[string][]string
}

// NewStatic builds a static table. Every row must have one value per column and stays
// must be unique.
func NewStatic(columns []string, stays []string, rows [][]string) (*Static, error) {
	if len(stays) != len(rows) {
		return nil, fmt.Errorf("%w: %d stays for %d rows", dfv1.ErrStructural, len(stays), len(rows))
	}
	s := &Static{
		columns: append([]string(nil), columns...),
		stays:   make([]string, 0, len(stays)),
		values:  make(map[string][]string, len(stays)),
	}
	for i, id := range stays {
		if _, dup := s.values[id]; dup {
			return nil, fmt.Errorf("%w: duplicate stay %q in static table", dfv1.ErrStructural, id)
		}
		if len(rows[i]) != len(columns) {
			return nil, fmt.Errorf("%w: stay %q has %d values, expected %d", dfv1.ErrStructural, id, len(rows[i]), len(columns))
		}
		s.stays = append(s.stays, id)
		s.values[id] = append([]string(nil), rows[i]...)
	}
	return s, nil
}

func (s *Static) Columns() []string {
	return append([]string(nil), s.columns...)
}

func (s *Static) StayIDs() []string {
	return append([]string(nil), s.stays...)
}

func (s *Static) Len() int {
	return len(s.stays)
}

// Values returns the row of a stay.
func (s *Static) Values(stayID string) ([]string, bool) {
	v, ok := s.values[stayID]
	if !ok {
		return nil, false
	}
	return append([]string(nil), v...), true
}

// Filter returns the rows of the kept stays, in the original order.
func (s *Static) Filter(keep func(stayID string) bool) *Static {
	out := &Static{
		columns: s.columns,
		stays:   make([]string, 0),
		values:  make(map[string][]string),
	}
	for _, id := range s.stays {
		if keep(id) {
			out.stays = append(out.stays, id)
			out.values[id] = s.values[id]
		}
	}
	return out
}
