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

// Package split partitions stays into train, dev and test pools.
//
// The assignment depends only on the set of stay identifiers and the split spec: stays
// are ordered by a seeded hash of their identifier and cut into contiguous slices. The
// same spec applied to the same identifiers gives the same partition in every run, on
// every table.
package split

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/spaolacci/murmur3"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/shared/util"
	"github.com/numaproj/numagrid/pkg/table"
)

// Pool names one slice of a partition.
type Pool string

const (
	Train Pool = "train"
	Dev   Pool = "dev"
	Test  Pool = "test"
)

// Pools lists the pools in output order.
var Pools = []Pool{Train, Dev, Test}

// Partition assigns every stay to exactly one pool.
type Partition struct {
	Train []string `json:"train"`
	Dev   []string `json:"dev"`
	Test  []string `json:"test"`

	lookup map[string]Pool
}

// Split partitions ids. Duplicated identifiers are counted once and the input order has
// no influence on the result.
func Split(ids []string, spec dfv1.SplitSpec) (*Partition, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	ordered := util.UniqueSorted(ids)
	hashes := make(map[string]uint64, len(ordered))
	for _, id := range ordered {
		hashes[id] = murmur3.Sum64WithSeed([]byte(id), spec.Seed)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		hi, hj := hashes[ordered[i]], hashes[ordered[j]]
		if hi != hj {
			return hi < hj
		}
		return ordered[i] < ordered[j]
	})

	n := len(ordered)
	nTrain := int(math.Floor(spec.Train * float64(n)))
	nDev := int(math.Floor(spec.Dev * float64(n)))
	if nTrain+nDev > n {
		nDev = n - nTrain
	}
	p := &Partition{
		Train: sorted(ordered[:nTrain]),
		Dev:   sorted(ordered[nTrain : nTrain+nDev]),
		Test:  sorted(ordered[nTrain+nDev:]),
	}
	p.index()
	return p, nil
}

func sorted(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}

func (p *Partition) index() {
	p.lookup = make(map[string]Pool, len(p.Train)+len(p.Dev)+len(p.Test))
	for _, pool := range Pools {
		for _, id := range p.Members(pool) {
			p.lookup[id] = pool
		}
	}
}

// Members returns the stays of one pool, sorted.
func (p *Partition) Members(pool Pool) []string {
	switch pool {
	case Train:
		return p.Train
	case Dev:
		return p.Dev
	case Test:
		return p.Test
	default:
		return nil
	}
}

// Of returns the pool of a stay.
func (p *Partition) Of(id string) (Pool, bool) {
	if p.lookup == nil {
		p.index()
	}
	pool, ok := p.lookup[id]
	return pool, ok
}

// Len returns the number of partitioned stays.
func (p *Partition) Len() int {
	return len(p.Train) + len(p.Dev) + len(p.Test)
}

// Apply splits a frame into one frame per pool.
func (p *Partition) Apply(f *table.Frame) map[Pool]*table.Frame {
	out := make(map[Pool]*table.Frame, len(Pools))
	for _, pool := range Pools {
		pool := pool
		out[pool] = f.Filter(func(id string) bool {
			got, ok := p.Of(id)
			return ok && got == pool
		})
	}
	return out
}

// ApplyStatic splits a static table into one table per pool.
func (p *Partition) ApplyStatic(s *table.Static) map[Pool]*table.Static {
	out := make(map[Pool]*table.Static, len(Pools))
	for _, pool := range Pools {
		pool := pool
		out[pool] = s.Filter(func(id string) bool {
			got, ok := p.Of(id)
			return ok && got == pool
		})
	}
	return out
}

// Save writes the partition as JSON.
func (p *Partition) Save(path string) error {
	return util.WriteJSONFile(path, p)
}

// LoadPartition reads a partition written by Save.
func LoadPartition(path string) (*Partition, error) {
	p := &Partition{}
	if err := util.ReadJSONFile(path, p); err != nil {
		return nil, err
	}
	p.index()
	return p, nil
}

// SaveSpec writes the split spec next to the outputs.
func SaveSpec(path string, spec dfv1.SplitSpec) error {
	return util.WriteJSONFile(path, spec)
}

// LoadSpec reads and validates a persisted split spec.
func LoadSpec(path string) (dfv1.SplitSpec, error) {
	var spec dfv1.SplitSpec
	if err := util.ReadJSONFile(path, &spec); err != nil {
		return spec, fmt.Errorf("%w: %w", dfv1.ErrConfiguration, err)
	}
	if err := spec.Validate(); err != nil {
		return spec, err
	}
	return spec, nil
}

// CheckPopulation fails when the tables do not cover the exact same stays.
func CheckPopulation(tables map[string][]string) error {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) < 2 {
		return nil
	}
	ref := util.UniqueSorted(tables[names[0]])
	var problems []string
	for _, name := range names[1:] {
		ids := util.UniqueSorted(tables[name])
		onlyRef := util.Difference(ref, ids)
		onlyThis := util.Difference(ids, ref)
		if len(onlyRef) == 0 && len(onlyThis) == 0 {
			continue
		}
		problems = append(problems, fmt.Sprintf("%s vs %s: %s", names[0], name, describe(names[0], onlyRef, name, onlyThis)))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: stay populations differ, %s", dfv1.ErrStructural, strings.Join(problems, "; "))
	}
	return nil
}

const maxListed = 5

func describe(a string, onlyA []string, b string, onlyB []string) string {
	var parts []string
	if len(onlyA) > 0 {
		parts = append(parts, fmt.Sprintf("%d only in %s %v", len(onlyA), a, first(onlyA)))
	}
	if len(onlyB) > 0 {
		parts = append(parts, fmt.Sprintf("%d only in %s %v", len(onlyB), b, first(onlyB)))
	}
	return strings.Join(parts, ", ")
}

func first(ids []string) []string {
	if len(ids) > maxListed {
		return ids[:maxListed]
	}
	return ids
}
