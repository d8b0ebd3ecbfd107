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

package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/table"
)

var nan = table.Missing()

func frameOf(t *testing.T, cols map[table.ColumnKey][]float64, order ...table.ColumnKey) *table.Frame {
	t.Helper()
	f, err := table.New([]table.RowKey{{StayID: "s1", Bucket: 0}, {StayID: "s1", Bucket: 1}, {StayID: "s1", Bucket: 2}})
	require.NoError(t, err)
	for _, k := range order {
		f, err = f.With(k, cols[k])
		require.NoError(t, err)
	}
	return f
}

var (
	hrMean    = table.Key("hr_monitor", dfv1.StatMean)
	hrCount   = table.Key("hr_monitor", dfv1.StatCount)
	hrMean2   = table.Key("hr_manual", dfv1.StatMean)
	hrCount2  = table.Key("hr_manual", dfv1.StatCount)
	rhythm    = table.Key("rhythm", dfv1.StatLast)
	rhythmM   = table.Key("rhythm", dfv1.StatMask)
	rhythm2   = table.Key("rhythm_ecg", dfv1.StatLast)
	rhythm2M  = table.Key("rhythm_ecg", dfv1.StatMask)
	meanPair  = dfv1.ReconciliationPair{Primary: "hr_monitor", Secondary: "hr_manual"}
	lastPair  = dfv1.ReconciliationPair{Primary: "rhythm", Secondary: "rhythm_ecg"}
	allColumn = []table.ColumnKey{hrMean, hrCount, hrMean2, hrCount2, rhythm, rhythmM, rhythm2, rhythm2M}
)

func testFrame(t *testing.T) *table.Frame {
	return frameOf(t, map[table.ColumnKey][]float64{
		hrMean:   {5, nan, 7},
		hrCount:  {1, 0, 1},
		hrMean2:  {nan, 3, 9},
		hrCount2: {0, 2, 1},
		rhythm:   {nan, 2, nan},
		rhythmM:  {nan, 1, nan},
		rhythm2:  {4, 3, nan},
		rhythm2M: {1, 1, nan},
	}, allColumn...)
}

func TestReconcile_PreferPrimary(t *testing.T) {
	f := testFrame(t)
	out, report, err := Reconcile(context.Background(), f, []dfv1.ReconciliationPair{meanPair, lastPair}, Options{Pipeline: "test"})
	require.NoError(t, err)
	assert.Empty(t, report.Disagreements)

	mean, _ := out.Column(hrMean)
	count, _ := out.Column(hrCount)
	assert.Equal(t, []float64{5, 3, 7}, mean)
	assert.Equal(t, []float64{1, 2, 2}, count)

	last, _ := out.Column(rhythm)
	mask, _ := out.Column(rhythmM)
	assert.Equal(t, []float64{4, 2}, last[:2])
	assert.True(t, table.IsMissing(last[2]))
	assert.Equal(t, []float64{1, 1}, mask[:2])
	assert.True(t, table.IsMissing(mask[2]))

	assert.Equal(t, []table.ColumnKey{hrMean, hrCount, rhythm, rhythmM}, out.Columns())
	// the input frame is untouched
	assert.Equal(t, allColumn, f.Columns())
	orig, _ := f.Column(hrMean)
	assert.True(t, table.IsMissing(orig[1]))
}

func TestReconcile_MissingCounts(t *testing.T) {
	f := frameOf(t, map[table.ColumnKey][]float64{
		hrMean:   {nan, 4, nan},
		hrCount:  {nan, 1, nan},
		hrMean2:  {nan, nan, 6},
		hrCount2: {nan, nan, 3},
	}, hrMean, hrCount, hrMean2, hrCount2)
	out, _, err := Reconcile(context.Background(), f, []dfv1.ReconciliationPair{meanPair}, Options{})
	require.NoError(t, err)
	count, _ := out.Column(hrCount)
	assert.True(t, table.IsMissing(count[0]))
	assert.Equal(t, []float64{1, 3}, count[1:])
}

func TestReconcile_Disagreement(t *testing.T) {
	f := testFrame(t)
	out, report, err := Reconcile(context.Background(), f, []dfv1.ReconciliationPair{meanPair}, Options{Pipeline: "test", Tolerance: 1})
	require.NoError(t, err)
	require.Len(t, report.Disagreements, 1)
	assert.Equal(t, Disagreement{Primary: "hr_monitor", Secondary: "hr_manual", StayID: "s1", Bucket: 2, Kept: 7, Discarded: 9}, report.Disagreements[0])
	assert.Equal(t, 7.0, out.At(hrMean, 2))

	_, report, err = Reconcile(context.Background(), f, []dfv1.ReconciliationPair{meanPair}, Options{Tolerance: 5})
	require.NoError(t, err)
	assert.Empty(t, report.Disagreements)
}

func TestReconcile_Errors(t *testing.T) {
	f := testFrame(t)
	tests := []struct {
		name  string
		pairs []dfv1.ReconciliationPair
		msg   string
	}{
		{"absent channel", []dfv1.ReconciliationPair{{Primary: "hr_monitor", Secondary: "spo2"}}, `secondary "spo2" is not in the frame`},
		{"mixed kinds", []dfv1.ReconciliationPair{{Primary: "hr_monitor", Secondary: "rhythm"}}, "cannot reconcile mean channel"},
		{"self", []dfv1.ReconciliationPair{{Primary: "rhythm", Secondary: "rhythm"}}, "reconciled with itself"},
		{"primary after absorbed", []dfv1.ReconciliationPair{meanPair, {Primary: "hr_manual", Secondary: "hr_monitor"}}, `"hr_manual" is a reconciliation primary after it was absorbed`},
		{"listed twice", []dfv1.ReconciliationPair{meanPair, meanPair}, "listed twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Reconcile(context.Background(), f, tt.pairs, Options{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, dfv1.ErrConfiguration))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestReconcile_ChainedPrimary(t *testing.T) {
	var (
		gluMean   = table.Key("glucose", dfv1.StatMean)
		gluCount  = table.Key("glucose", dfv1.StatCount)
		chemMean  = table.Key("glucose_chem", dfv1.StatMean)
		chemCount = table.Key("glucose_chem", dfv1.StatCount)
		vitMean   = table.Key("glucose_vital", dfv1.StatMean)
		vitCount  = table.Key("glucose_vital", dfv1.StatCount)
	)
	f := frameOf(t, map[table.ColumnKey][]float64{
		gluMean:   {5, nan, nan},
		gluCount:  {1, nan, nan},
		chemMean:  {nan, 6, nan},
		chemCount: {nan, 1, nan},
		vitMean:   {7, 8, 9},
		vitCount:  {1, 1, 2},
	}, gluMean, gluCount, chemMean, chemCount, vitMean, vitCount)
	pairs := []dfv1.ReconciliationPair{{Primary: "glucose", Secondary: "glucose_chem"}, {Primary: "glucose", Secondary: "glucose_vital"}}
	out, _, err := Reconcile(context.Background(), f, pairs, Options{})
	require.NoError(t, err)
	mean, _ := out.Column(gluMean)
	count, _ := out.Column(gluCount)
	assert.Equal(t, []float64{5, 6, 9}, mean)
	assert.Equal(t, []float64{2, 2, 2}, count)
	assert.Equal(t, []table.ColumnKey{gluMean, gluCount}, out.Columns())
}

func TestReconcile_SharedSecondary(t *testing.T) {
	var (
		dbpMean   = table.Key("dbp", dfv1.StatMean)
		dbpCount  = table.Key("dbp", dfv1.StatCount)
		niMean    = table.Key("dbp_ni", dfv1.StatMean)
		niCount   = table.Key("dbp_ni", dfv1.StatCount)
		chartMean = table.Key("diastolic", dfv1.StatMean)
		chartCnt  = table.Key("diastolic", dfv1.StatCount)
	)
	f := frameOf(t, map[table.ColumnKey][]float64{
		dbpMean:   {nan, 1, nan},
		dbpCount:  {nan, 1, nan},
		niMean:    {2, nan, nan},
		niCount:   {1, nan, nan},
		chartMean: {10, 11, 12},
		chartCnt:  {1, 1, 1},
	}, dbpMean, dbpCount, niMean, niCount, chartMean, chartCnt)
	pairs := []dfv1.ReconciliationPair{{Primary: "dbp", Secondary: "diastolic"}, {Primary: "dbp_ni", Secondary: "diastolic"}}
	out, _, err := Reconcile(context.Background(), f, pairs, Options{})
	require.NoError(t, err)

	mean, _ := out.Column(dbpMean)
	count, _ := out.Column(dbpCount)
	assert.Equal(t, []float64{10, 1, 12}, mean)
	assert.Equal(t, []float64{1, 2, 1}, count)
	mean, _ = out.Column(niMean)
	count, _ = out.Column(niCount)
	assert.Equal(t, []float64{2, 11, 12}, mean)
	assert.Equal(t, []float64{2, 1, 1}, count)
	// the secondary is dropped after its last use only
	assert.Equal(t, []table.ColumnKey{dbpMean, dbpCount, niMean, niCount}, out.Columns())
}

func TestCheckPlan(t *testing.T) {
	assert.NoError(t, CheckPlan(nil))
	// a primary absorbed later by another primary is a chain, not a conflict
	assert.NoError(t, CheckPlan([]dfv1.ReconciliationPair{{Primary: "a", Secondary: "b"}, {Primary: "c", Secondary: "a"}}))
	err := CheckPlan([]dfv1.ReconciliationPair{{Primary: "a", Secondary: "b"}, {Primary: "b", Secondary: "c"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, dfv1.ErrConfiguration))
}
