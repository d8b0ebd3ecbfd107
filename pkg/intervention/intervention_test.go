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

package intervention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/grid"
	"github.com/numaproj/numagrid/pkg/sources"
)

var t0 = time.Date(2021, 3, 1, 8, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

func testSkeleton(t *testing.T) *grid.Skeleton {
	t.Helper()
	sk, err := grid.Build([]grid.Stay{
		grid.NewStay("s1", t0, t0.Add(4*time.Hour)),
		grid.NewStay("s2", t0, t0.Add(2*time.Hour)),
	}, time.Hour, 0)
	require.NoError(t, err)
	return sk
}

func column(t *testing.T, c *Compiler, sk *grid.Skeleton, typ string, intervals ...sources.Interval) []float64 {
	t.Helper()
	f, _, err := c.Compile(context.Background(), sk, intervals)
	require.NoError(t, err)
	require.NoError(t, f.Complete())
	values, ok := f.Column(Key(typ))
	require.True(t, ok)
	return values
}

func TestCompile(t *testing.T) {
	sk := testSkeleton(t)
	c := NewCompiler("test", "procedures", []string{"vent", "dialysis"})

	tests := []struct {
		name     string
		interval sources.Interval
		want     []float64
	}{
		{"inside one bucket", sources.Interval{StayID: "s1", Start: at(70), Stop: at(80), Type: "vent"}, []float64{0, 1, 0, 0, 0, 0}},
		{"spanning buckets", sources.Interval{StayID: "s1", Start: at(50), Stop: at(130), Type: "vent"}, []float64{1, 1, 1, 0, 0, 0}},
		{"stop on a boundary", sources.Interval{StayID: "s1", Start: at(0), Stop: at(120), Type: "vent"}, []float64{1, 1, 0, 0, 0, 0}},
		{"open ended", sources.Interval{StayID: "s1", Start: at(130), Type: "vent"}, []float64{0, 0, 1, 1, 0, 0}},
		{"inverted", sources.Interval{StayID: "s2", Start: at(90), Stop: at(30), Type: "vent"}, []float64{0, 0, 0, 0, 0, 1}},
		{"started before admission", sources.Interval{StayID: "s2", Start: at(-300), Stop: at(10), Type: "vent"}, []float64{0, 0, 0, 0, 1, 0}},
		{"past discharge", sources.Interval{StayID: "s2", Start: at(100), Stop: at(1000), Type: "vent"}, []float64{0, 0, 0, 0, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, column(t, c, sk, "vent", tt.interval))
		})
	}
}

func TestCompile_NegativeDefault(t *testing.T) {
	sk := testSkeleton(t)
	c := NewCompiler("test", "procedures", []string{"vent", "dialysis"})
	f, report, err := c.Compile(context.Background(), sk, []sources.Interval{
		{StayID: "s1", Start: at(0), Stop: at(30), Type: "vent"},
		{StayID: "s9", Start: at(0), Stop: at(30), Type: "vent"},
		{StayID: "s1", Start: at(0), Stop: at(30), Type: "ecmo"},
		{StayID: "s2", Start: at(-90), Stop: at(-30), Type: "vent"},
		{StayID: "s2", Start: at(500), Type: "vent"},
	})
	require.NoError(t, err)
	require.NoError(t, f.Complete())
	assert.Equal(t, sk.Len(), f.Len())
	assert.Equal(t, 1, report.Compiled)
	assert.Equal(t, 1, report.Dropped["unknown_stay"])
	assert.Equal(t, 1, report.Dropped["unknown_channel"])
	assert.Equal(t, 2, report.Dropped["out_of_window"])

	dialysis, _ := f.Column(Key("dialysis"))
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0}, dialysis)
}

func TestCombine(t *testing.T) {
	sk := testSkeleton(t)
	a, _, err := NewCompiler("test", "procedures", []string{"vent"}).Compile(context.Background(), sk,
		[]sources.Interval{{StayID: "s2", Start: at(0), Stop: at(60), Type: "vent"}})
	require.NoError(t, err)
	b, _, err := NewCompiler("test", "drugs", []string{"pressors"}).Compile(context.Background(), sk.Subset([]string{"s1"}),
		[]sources.Interval{{StayID: "s1", Start: at(200), Type: "pressors"}})
	require.NoError(t, err)

	out, err := Combine(sk, a, b)
	require.NoError(t, err)
	require.NoError(t, sk.Validate(out))
	require.NoError(t, out.Complete())
	pressors, _ := out.Column(Key("pressors"))
	assert.Equal(t, []float64{0, 0, 0, 1, 0, 0}, pressors)
	vent, _ := out.Column(Key("vent"))
	assert.Equal(t, []float64{0, 0, 0, 0, 1, 0}, vent)

	_, err = Combine(sk, a, a)
	assert.True(t, errors.Is(err, dfv1.ErrStructural))
}

func TestCompile_DuplicateType(t *testing.T) {
	_, _, err := NewCompiler("test", "procedures", []string{"vent", "vent"}).Compile(context.Background(), testSkeleton(t), nil)
	assert.True(t, errors.Is(err, dfv1.ErrConfiguration))
}
