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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/catalog"
	"github.com/numaproj/numagrid/pkg/config"
	"github.com/numaproj/numagrid/pkg/grid"
	"github.com/numaproj/numagrid/pkg/normalize"
	"github.com/numaproj/numagrid/pkg/sources"
	"github.com/numaproj/numagrid/pkg/table"
)

var t0 = time.Date(2021, 3, 1, 8, 0, 0, 0, time.UTC)

func testSpec(t *testing.T) *dfv1.PipelineSpec {
	spec := dfv1.PipelineSpec{
		Name:   "test",
		Tables: []dfv1.EventTable{{Name: "vitals", Path: "vitals.csv"}},
		Interventions: []dfv1.IntervalTable{
			{Name: "procedures", Path: "procedures.csv", Types: []string{"vent"}},
		},
		Output: t.TempDir(),
	}.WithDefaults()
	return &spec
}

func testAssets(t *testing.T) *config.Assets {
	cat, err := catalog.New([]dfv1.Channel{{Name: "hr", Kind: dfv1.MeanChannel, Table: "vitals"}})
	require.NoError(t, err)
	return &config.Assets{Catalog: cat, ColumnOrder: []string{"hr"}}
}

func testInputs(t *testing.T, demographicStays ...string) *Inputs {
	rows := make([][]string, len(demographicStays))
	for i := range rows {
		rows[i] = []string{"F"}
	}
	demographics, err := table.NewStatic([]string{"gender"}, demographicStays, rows)
	require.NoError(t, err)
	return &Inputs{
		Stays: []grid.Stay{
			grid.NewStay("S1", t0, t0.Add(3*time.Hour)),
			grid.NewStay("S2", t0, t0.Add(2*time.Hour)),
		},
		Events: map[string][]sources.Event{
			"vitals": {{StayID: "S1", Time: t0.Add(90 * time.Minute), Channel: "hr", Value: "40", Row: 1}},
		},
		Intervals: map[string][]sources.Interval{
			"procedures": {{StayID: "S2", Start: t0.Add(30 * time.Minute), Stop: t0.Add(40 * time.Minute), Type: "vent", Row: 1}},
		},
		Demographics: demographics,
	}
}

func TestRun_TwoStayScenario(t *testing.T) {
	p, err := New(testSpec(t), testAssets(t), WithReferenceStats(normalize.Stats{"hr": {Mean: 40, Std: 10, N: 100}}))
	require.NoError(t, err)
	res, err := p.Run(context.Background(), testInputs(t, "S1", "S2"))
	require.NoError(t, err)
	assert.True(t, res.ReferenceStats)

	f := res.Features
	require.NoError(t, res.Skeleton.Validate(f))
	require.NoError(t, f.Complete())
	assert.Equal(t, []table.ColumnKey{table.Key("hr", dfv1.StatMean), table.Key("hr", dfv1.StatCount)}, f.Columns())
	mean, _ := f.Column(table.Key("hr", dfv1.StatMean))
	count, _ := f.Column(table.Key("hr", dfv1.StatCount))
	assert.Equal(t, []float64{0, 0, 0, 0, 0}, mean)
	assert.Equal(t, []float64{0, 1, 0, 0, 0}, count)

	vent, _ := res.Interventions.Column(table.Key("vent", dfv1.StatActive))
	assert.Equal(t, []float64{0, 0, 0, 1, 0}, vent)
	assert.Equal(t, 2, res.Partition.Len())
	assert.Equal(t, []string{"S1", "S2"}, res.Demographics.StayIDs())
}

func TestRun_ComputedStatsNeedTwoObservations(t *testing.T) {
	p, err := New(testSpec(t), testAssets(t))
	require.NoError(t, err)
	_, err = p.Run(context.Background(), testInputs(t, "S1", "S2"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, dfv1.ErrConfiguration))
	assert.Contains(t, err.Error(), `channel "hr" has 1 observations`)
}

func TestRun_ReferenceStatsMissingChannel(t *testing.T) {
	spec := testSpec(t)
	spec.ChunkSize = 1
	spec.Workers = 2
	p, err := New(spec, testAssets(t), WithReferenceStats(normalize.Stats{"temperature": {Mean: 37, Std: 1, N: 10}}))
	require.NoError(t, err)
	_, err = p.Run(context.Background(), testInputs(t, "S1", "S2"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, dfv1.ErrConfiguration))
	assert.Contains(t, err.Error(), `no normalization statistics for channel "hr"`)
}

func TestRun_PopulationMismatch(t *testing.T) {
	p, err := New(testSpec(t), testAssets(t), WithReferenceStats(normalize.Stats{"hr": {Mean: 40, Std: 10, N: 100}}))
	require.NoError(t, err)
	_, err = p.Run(context.Background(), testInputs(t, "S1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, dfv1.ErrStructural))
	assert.Contains(t, err.Error(), "only in features [S2]")
}

func TestRun_DemographicsOfStaysOffTheGrid(t *testing.T) {
	p, err := New(testSpec(t), testAssets(t), WithReferenceStats(normalize.Stats{"hr": {Mean: 40, Std: 10, N: 100}}))
	require.NoError(t, err)
	in := testInputs(t, "S1", "S2", "S3")
	in.Stays = append(in.Stays, grid.NewStay("S3", t0, t0.Add(20*time.Minute)))
	res, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{"S1", "S2"}, res.Demographics.StayIDs())
	assert.Equal(t, []string{"S1", "S2"}, res.Features.StayIDs())
}

func TestRun_DemographicsOutsideCohort(t *testing.T) {
	p, err := New(testSpec(t), testAssets(t), WithReferenceStats(normalize.Stats{"hr": {Mean: 40, Std: 10, N: 100}}))
	require.NoError(t, err)
	_, err = p.Run(context.Background(), testInputs(t, "S1", "S2", "ghost"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, dfv1.ErrStructural))
	assert.Contains(t, err.Error(), "demographics list 1 stays that are not in the cohort, e.g. [ghost]")
}

func TestRun_StayListExcludesDemographics(t *testing.T) {
	p, err := New(testSpec(t), testAssets(t), WithReferenceStats(normalize.Stats{"hr": {Mean: 40, Std: 10, N: 100}}))
	require.NoError(t, err)
	in := testInputs(t, "S1", "S2")
	in.StayList = []string{"S1", "S7"}
	res, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{"S1"}, res.Features.StayIDs())
	assert.Equal(t, []string{"S1"}, res.Demographics.StayIDs())
	assert.Equal(t, []string{"S1"}, res.Interventions.StayIDs())
}

func TestRun_EmptyGrid(t *testing.T) {
	p, err := New(testSpec(t), testAssets(t))
	require.NoError(t, err)
	in := testInputs(t)
	in.Stays = []grid.Stay{grid.NewStay("S1", t0, t0.Add(time.Minute))}
	_, err = p.Run(context.Background(), in)
	assert.True(t, errors.Is(err, dfv1.ErrStructural))
}

func TestRun_CanceledContext(t *testing.T) {
	p, err := New(testSpec(t), testAssets(t), WithReferenceStats(normalize.Stats{"hr": {Mean: 40, Std: 10, N: 100}}))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Run(ctx, testInputs(t, "S1", "S2"))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNew_RunID(t *testing.T) {
	p, err := New(testSpec(t), testAssets(t))
	require.NoError(t, err)
	assert.Len(t, p.RunID(), 36)
	p, err = New(testSpec(t), testAssets(t), WithRunID("fixed"))
	require.NoError(t, err)
	assert.Equal(t, "fixed", p.RunID())
}
