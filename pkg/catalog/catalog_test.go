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

package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/table"
)

func testChannels() []dfv1.Channel {
	return []dfv1.Channel{
		{Name: "temperature", Kind: dfv1.MeanChannel, Table: "vitals", Conversions: []dfv1.UnitConversion{{Unit: "F", Expr: "(value - 32) * 5 / 9"}}},
		{Name: "heart_rate", Kind: dfv1.MeanChannel, Table: "vitals"},
		{Name: "gcs_verbal", Kind: dfv1.LastChannel, Table: "neuro", Categories: map[string]float64{"oriented": 5, "confused": 4}},
	}
}

func TestNew(t *testing.T) {
	c, err := New(testChannels())
	require.NoError(t, err)
	assert.Equal(t, []string{"temperature", "heart_rate", "gcs_verbal"}, c.Names())
	assert.Equal(t, []string{"neuro", "vitals"}, c.Tables())
	assert.Len(t, c.ForTable("vitals"), 2)
	ch, ok := c.Get("gcs_verbal")
	require.True(t, ok)
	assert.Equal(t, dfv1.LastChannel, ch.Kind)
	_, ok = c.Get("absent")
	assert.False(t, ok)
}

func TestNew_Invalid(t *testing.T) {
	_, err := New([]dfv1.Channel{
		{Name: "a", Kind: "median", Table: "t"},
		{Name: "a", Kind: dfv1.MeanChannel, Table: "t"},
		{Name: "b/c", Kind: dfv1.MeanChannel},
		{Name: "d", Kind: dfv1.MeanChannel, Table: "t", Conversions: []dfv1.UnitConversion{{Unit: "x", Expr: "value +"}}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, dfv1.ErrConfiguration))
	assert.Contains(t, err.Error(), `invalid kind "median"`)
	assert.Contains(t, err.Error(), `duplicate channel "a"`)
	assert.Contains(t, err.Error(), `must not contain '/'`)
	assert.Contains(t, err.Error(), `declares no table`)
	assert.Contains(t, err.Error(), "unable to compile expression")
}

func TestChannel_Numeric(t *testing.T) {
	c, err := New(testChannels())
	require.NoError(t, err)
	temp, _ := c.Get("temperature")

	v, err := temp.Numeric(" 98.6 ", "F")
	assert.NoError(t, err)
	assert.InDelta(t, 37.0, v, 1e-9)

	v, err = temp.Numeric("37.5", "C")
	assert.NoError(t, err)
	assert.Equal(t, 37.5, v)

	_, err = temp.Numeric("high", "")
	assert.Error(t, err)
}

func TestChannel_Code(t *testing.T) {
	c, err := New(testChannels())
	require.NoError(t, err)
	gcs, _ := c.Get("gcs_verbal")
	v, err := gcs.Code("confused", "")
	assert.NoError(t, err)
	assert.Equal(t, 4.0, v)
	v, err = gcs.Code("3", "")
	assert.NoError(t, err)
	assert.Equal(t, 3.0, v)
	_, err = gcs.Code("asleep", "")
	assert.Error(t, err)
}

func cultureSites() dfv1.Channel {
	return dfv1.Channel{
		Name:       "culture_site",
		Kind:       dfv1.LastChannel,
		Table:      "cultures",
		Categories: map[string]float64{"urine": 2, "blood": 1, "sputum": 3},
		OneHot:     true,
	}
}

func TestNew_OneHotInvalid(t *testing.T) {
	_, err := New([]dfv1.Channel{
		{Name: "a", Kind: dfv1.MeanChannel, Table: "t", OneHot: true},
		{Name: "b", Kind: dfv1.LastChannel, Table: "t", OneHot: true},
		{Name: "c", Kind: dfv1.LastChannel, Table: "t", OneHot: true, Categories: map[string]float64{"x=y": 1, "z": 2}},
		{Name: "d", Kind: dfv1.LastChannel, Table: "t", OneHot: true, Categories: map[string]float64{"x": 1, "y": 1}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, dfv1.ErrConfiguration))
	assert.Contains(t, err.Error(), `one-hot channel "a" must be a last channel with categories`)
	assert.Contains(t, err.Error(), `one-hot channel "b" must be a last channel with categories`)
	assert.Contains(t, err.Error(), `one-hot channel "c" has invalid category "x=y"`)
	assert.Contains(t, err.Error(), `one-hot channel "d" codes "x" and "y" alike`)
}

func TestChannel_Columns(t *testing.T) {
	c, err := New(append(testChannels(), cultureSites()))
	require.NoError(t, err)
	gcs, _ := c.Get("gcs_verbal")
	assert.Equal(t, []table.ColumnKey{
		table.Key("gcs_verbal", dfv1.StatLast),
		table.Key("gcs_verbal", dfv1.StatMask),
	}, gcs.Columns())
	site, _ := c.Get("culture_site")
	assert.Equal(t, []table.ColumnKey{
		table.Key("culture_site=blood", dfv1.StatOneHot),
		table.Key("culture_site=urine", dfv1.StatOneHot),
		table.Key("culture_site=sputum", dfv1.StatOneHot),
	}, site.Columns())

	_, err = site.Code("7", "")
	assert.Error(t, err, "a one-hot channel only accepts its categories")
}

func TestCatalog_OneHot(t *testing.T) {
	c, err := New(append(testChannels(), cultureSites()))
	require.NoError(t, err)
	nan := table.Missing()
	f, err := table.New([]table.RowKey{{StayID: "s1", Bucket: 0}, {StayID: "s1", Bucket: 1}, {StayID: "s1", Bucket: 2}})
	require.NoError(t, err)
	f, err = f.With(table.Key("culture_site", dfv1.StatLast), []float64{1, nan, 3})
	require.NoError(t, err)
	f, err = f.With(table.Key("culture_site", dfv1.StatMask), []float64{1, nan, 1})
	require.NoError(t, err)
	f, err = f.With(table.Key("gcs_verbal", dfv1.StatLast), []float64{5, 4, nan})
	require.NoError(t, err)

	out, err := c.OneHot(f)
	require.NoError(t, err)
	assert.False(t, out.Has(table.Key("culture_site", dfv1.StatLast)))
	assert.False(t, out.Has(table.Key("culture_site", dfv1.StatMask)))
	assert.True(t, out.Has(table.Key("gcs_verbal", dfv1.StatLast)))
	blood, _ := out.Column(table.Key("culture_site=blood", dfv1.StatOneHot))
	urine, _ := out.Column(table.Key("culture_site=urine", dfv1.StatOneHot))
	sputum, _ := out.Column(table.Key("culture_site=sputum", dfv1.StatOneHot))
	assert.Equal(t, []float64{1, 0, 0}, blood)
	assert.Equal(t, []float64{0, 0, 0}, urine)
	assert.Equal(t, []float64{0, 0, 1}, sputum)
	// the input frame is left untouched
	assert.True(t, f.Has(table.Key("culture_site", dfv1.StatLast)))
}
