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

package sources

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/metrics"
	"github.com/numaproj/numagrid/pkg/shared/logging"
)

func testContext() context.Context {
	return logging.WithLogger(context.Background(), logging.NewNopLogger())
}

var adm = time.Date(2130, 5, 1, 10, 0, 0, 0, time.UTC)

func TestReadStays_Timestamp(t *testing.T) {
	in := strings.NewReader(`stay_id,admission,discharge
s1,2130-05-01 10:00:00,2130-05-01 13:00:00
s2,2130-05-02T08:30:00Z,2130-05-02T09:30:00Z
s3,yesterday,2130-05-02 09:30:00
s4
`)
	stays, report, err := NewReader("test-pl").ReadStays(testContext(), in, dfv1.TimeModeTimestamp)
	require.NoError(t, err)
	require.Len(t, stays, 2)
	assert.Equal(t, "s1", stays[0].ID)
	assert.True(t, stays[0].Admission.Equal(adm))
	assert.Equal(t, 3*time.Hour, stays[0].Discharge.Sub(stays[0].Admission))
	assert.Equal(t, time.Hour, stays[1].Discharge.Sub(stays[1].Admission))
	assert.Equal(t, 4, report.Read)
	assert.Equal(t, 1, report.Dropped[metrics.ReasonBadTime])
	assert.Equal(t, 1, report.Dropped[metrics.ReasonBadValue])
	assert.Equal(t, 2, report.TotalDropped())
}

func TestReadStays_Offset(t *testing.T) {
	in := strings.NewReader("stay_id,discharge\n100,180\n101,45.5\n")
	stays, _, err := NewReader("test-pl").ReadStays(testContext(), in, dfv1.TimeModeOffset)
	require.NoError(t, err)
	require.Len(t, stays, 2)
	assert.Equal(t, 3*time.Hour, stays[0].Discharge.Sub(stays[0].Admission))
	assert.Equal(t, 45*time.Minute+30*time.Second, stays[1].Discharge.Sub(stays[1].Admission))
}

func TestReadStays_Errors(t *testing.T) {
	_, _, err := NewReader("test-pl").ReadStays(testContext(), strings.NewReader("stay_id,admission\n"), dfv1.TimeModeTimestamp)
	assert.True(t, errors.Is(err, dfv1.ErrStructural))

	dup := "stay_id,discharge\n1,10\n1,20\n"
	_, _, err = NewReader("test-pl").ReadStays(testContext(), strings.NewReader(dup), dfv1.TimeModeOffset)
	assert.True(t, errors.Is(err, dfv1.ErrStructural))

	_, _, err = NewReader("test-pl").ReadStays(testContext(), strings.NewReader(""), dfv1.TimeModeOffset)
	assert.Error(t, err)
}

func TestReadEvents(t *testing.T) {
	admissions := map[string]time.Time{"s1": adm}
	in := strings.NewReader(`stay_id,time,channel,value,unit
s1,90,heart_rate,88,bpm
s1,-15,heart_rate,90,bpm
s9,10,heart_rate,70,bpm
s1,soon,heart_rate,70,bpm
s1,30,temperature,98.6,F
`)
	spec := dfv1.EventTable{Name: "vitals", TimeMode: dfv1.TimeModeOffset}
	events, report, err := NewReader("test-pl").ReadEvents(testContext(), in, spec, admissions)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, Event{StayID: "s1", Time: adm.Add(90 * time.Minute), Channel: "heart_rate", Value: "88", Unit: "bpm", Row: 1}, events[0])
	assert.True(t, events[1].Time.Before(adm))
	assert.Equal(t, 5, events[2].Row)
	assert.Equal(t, "F", events[2].Unit)
	assert.Equal(t, 5, report.Read)
	assert.Equal(t, 1, report.Dropped[metrics.ReasonUnknownStay])
	assert.Equal(t, 1, report.Dropped[metrics.ReasonBadTime])
}

func TestReadEvents_Timestamp(t *testing.T) {
	admissions := map[string]time.Time{"s1": adm}
	in := strings.NewReader("stay_id,time,channel,value\ns1,2130-05-01 11:30:00,lactate,2.1\n")
	spec := dfv1.EventTable{Name: "labs", TimeMode: dfv1.TimeModeTimestamp}
	events, _, err := NewReader("test-pl").ReadEvents(testContext(), in, spec, admissions)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 90*time.Minute, events[0].Time.Sub(adm))
	assert.Equal(t, "", events[0].Unit)

	_, _, err = NewReader("test-pl").ReadEvents(testContext(), strings.NewReader("stay_id,time,value\n"), spec, admissions)
	assert.True(t, errors.Is(err, dfv1.ErrStructural))
}

func TestReadIntervals(t *testing.T) {
	admissions := map[string]time.Time{"s1": adm}
	in := strings.NewReader(`stay_id,start,stop,intervention
s1,30,150,vent
s1,200,,vaso
s1,x,10,vent
`)
	spec := dfv1.IntervalTable{Name: "vent", TimeMode: dfv1.TimeModeOffset, Types: []string{"vent", "vaso"}}
	intervals, report, err := NewReader("test-pl").ReadIntervals(testContext(), in, spec, admissions)
	require.NoError(t, err)
	require.Len(t, intervals, 2)
	assert.False(t, intervals[0].OpenEnded())
	assert.Equal(t, 2*time.Hour, intervals[0].Stop.Sub(intervals[0].Start))
	assert.True(t, intervals[1].OpenEnded())
	assert.Equal(t, "vaso", intervals[1].Type)
	assert.Equal(t, 1, report.Dropped[metrics.ReasonBadTime])
}

func TestReadStatic(t *testing.T) {
	in := strings.NewReader("gender,stay_id,age\nF,s1,70\nM,s2,55\n")
	static, report, err := NewReader("test-pl").ReadStatic(testContext(), in, "demographics")
	require.NoError(t, err)
	assert.Equal(t, []string{"gender", "age"}, static.Columns())
	assert.Equal(t, []string{"s1", "s2"}, static.StayIDs())
	v, _ := static.Values("s2")
	assert.Equal(t, []string{"M", "55"}, v)
	assert.Equal(t, 2, report.Read)

	_, _, err = NewReader("test-pl").ReadStatic(testContext(), strings.NewReader("gender,stay_id\nF,s1\nM,s1\n"), "demographics")
	assert.True(t, errors.Is(err, dfv1.ErrStructural))
}
