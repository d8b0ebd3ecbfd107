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

package split

import (
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/table"
)

func stayIDs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("stay-%04d", i)
	}
	return out
}

func TestSplit_SizesAndCoverage(t *testing.T) {
	ids := stayIDs(101)
	p, err := Split(ids, dfv1.DefaultSplitSpec())
	require.NoError(t, err)
	assert.Len(t, p.Train, 70)
	assert.Len(t, p.Dev, 10)
	assert.Len(t, p.Test, 21)
	assert.Equal(t, 101, p.Len())

	seen := make(map[string]Pool)
	for _, pool := range Pools {
		for _, id := range p.Members(pool) {
			_, dup := seen[id]
			assert.False(t, dup, "stay %s in more than one pool", id)
			seen[id] = pool
		}
	}
	for _, id := range ids {
		pool, ok := p.Of(id)
		require.True(t, ok)
		assert.Equal(t, seen[id], pool)
	}
	_, ok := p.Of("unknown")
	assert.False(t, ok)
}

func TestSplit_Deterministic(t *testing.T) {
	ids := stayIDs(200)
	a, err := Split(ids, dfv1.DefaultSplitSpec())
	require.NoError(t, err)

	shuffled := make([]string, len(ids))
	copy(shuffled, ids)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	shuffled = append(shuffled, ids[:10]...)
	b, err := Split(shuffled, dfv1.DefaultSplitSpec())
	require.NoError(t, err)
	assert.Equal(t, a.Train, b.Train)
	assert.Equal(t, a.Dev, b.Dev)
	assert.Equal(t, a.Test, b.Test)

	other := dfv1.DefaultSplitSpec()
	other.Seed = 7
	c, err := Split(ids, other)
	require.NoError(t, err)
	assert.NotEqual(t, a.Train, c.Train)
}

func TestSplit_Small(t *testing.T) {
	p, err := Split(nil, dfv1.DefaultSplitSpec())
	require.NoError(t, err)
	assert.Equal(t, 0, p.Len())

	p, err = Split([]string{"a", "b"}, dfv1.DefaultSplitSpec())
	require.NoError(t, err)
	assert.Len(t, p.Train, 1)
	assert.Len(t, p.Dev, 0)
	assert.Len(t, p.Test, 1)
}

func TestSplit_InvalidSpec(t *testing.T) {
	spec := dfv1.DefaultSplitSpec()
	spec.Test = 0.3
	_, err := Split(stayIDs(3), spec)
	assert.True(t, errors.Is(err, dfv1.ErrConfiguration))
}

func TestPartition_Apply(t *testing.T) {
	p := &Partition{Train: []string{"a", "c"}, Dev: []string{}, Test: []string{"b"}}
	f, err := table.New([]table.RowKey{{StayID: "a", Bucket: 0}, {StayID: "b", Bucket: 0}, {StayID: "b", Bucket: 1}, {StayID: "c", Bucket: 0}})
	require.NoError(t, err)
	pools := p.Apply(f)
	assert.Equal(t, []string{"a", "c"}, pools[Train].StayIDs())
	assert.Equal(t, 0, pools[Dev].Len())
	assert.Equal(t, 2, pools[Test].Len())

	s, err := table.NewStatic([]string{"age"}, []string{"a", "b", "c"}, [][]string{{"1"}, {"2"}, {"3"}})
	require.NoError(t, err)
	statics := p.ApplyStatic(s)
	assert.Equal(t, []string{"b"}, statics[Test].StayIDs())
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	spec := dfv1.DefaultSplitSpec()
	require.NoError(t, SaveSpec(filepath.Join(dir, dfv1.SplitSpecFile), spec))
	loaded, err := LoadSpec(filepath.Join(dir, dfv1.SplitSpecFile))
	require.NoError(t, err)
	assert.Equal(t, spec, loaded)

	p, err := Split(stayIDs(20), loaded)
	require.NoError(t, err)
	require.NoError(t, p.Save(filepath.Join(dir, dfv1.PartitionFile)))
	back, err := LoadPartition(filepath.Join(dir, dfv1.PartitionFile))
	require.NoError(t, err)
	assert.Equal(t, p.Train, back.Train)
	pool, ok := back.Of(p.Test[0])
	assert.True(t, ok)
	assert.Equal(t, Test, pool)
}

func TestCheckPopulation(t *testing.T) {
	assert.NoError(t, CheckPopulation(map[string][]string{
		"features":      {"a", "b"},
		"interventions": {"b", "a"},
		"demographics":  {"a", "b", "a"},
	}))

	err := CheckPopulation(map[string][]string{
		"features":      {"a", "b"},
		"interventions": {"a", "b"},
		"demographics":  {"a", "c"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, dfv1.ErrStructural))
	assert.Contains(t, err.Error(), "demographics vs features")
	assert.Contains(t, err.Error(), "1 only in demographics [c]")
	assert.Contains(t, err.Error(), "1 only in features [b]")
	assert.Contains(t, err.Error(), "demographics vs interventions")
}
