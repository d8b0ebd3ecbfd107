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

package v1alpha1

import (
	"fmt"
	"math"
	"time"

	"github.com/imdario/mergo"
	"go.uber.org/multierr"
)

// PipelineSpec describes one extraction run.
type PipelineSpec struct {
	// Name of the run, used in logs and the output manifest.
	Name string `json:"name"`
	// WindowWidth is the width of one bucket.
	WindowWidth time.Duration `json:"windowWidth"`
	// Horizon caps the number of buckets per stay, 0 means no cap.
	Horizon int `json:"horizon,omitempty"`
	// ChunkSize is the number of stays aligned together in one unit of work.
	ChunkSize int `json:"chunkSize"`
	// Workers is the maximum number of chunks aligned concurrently.
	Workers int `json:"workers"`
	// Stays is the cohort table.
	Stays StaySource `json:"stays"`
	// StayList optionally restricts the cohort to the stays listed in a table with a
	// stay_id column.
	StayList string `json:"stayList,omitempty"`
	// Tables are the event-valued source tables.
	Tables []EventTable `json:"tables"`
	// Interventions are the interval-valued source tables.
	Interventions []IntervalTable `json:"interventions,omitempty"`
	// Demographics is the static per-stay table.
	Demographics StaticSource `json:"demographics"`
	// Assets are the static look-up assets.
	Assets AssetPaths `json:"assets"`
	// Split is the cohort split.
	Split SplitSpec `json:"split"`
	// ReferenceStats optionally points to normalization statistics computed on another cohort.
	ReferenceStats string `json:"referenceStats,omitempty"`
	// DisagreementTolerance enables flagging of reconciled cells whose primary and secondary
	// means differ by more than this value. 0 disables the check.
	DisagreementTolerance float64 `json:"disagreementTolerance,omitempty"`
	// SkipOutlierRemoval keeps values outside their plausible range.
	SkipOutlierRemoval bool `json:"skipOutlierRemoval,omitempty"`
	// ExitPoint is the last stage run, defaults to all.
	ExitPoint ExitPoint `json:"exitPoint,omitempty"`
	// Output is the directory the results are written to.
	Output string `json:"output"`
}

type StaySource struct {
	Path     string   `json:"path"`
	TimeMode TimeMode `json:"timeMode"`
}

// EventTable is a logical source of event rows.
type EventTable struct {
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	TimeMode TimeMode `json:"timeMode"`
}

// IntervalTable is a logical source of interval rows, e.g. drug infusions.
type IntervalTable struct {
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	TimeMode TimeMode `json:"timeMode"`
	// Types lists the intervention types compiled from this table. Types without any
	// interval still produce an all-zero indicator column.
	Types []string `json:"types"`
}

type StaticSource struct {
	Path string `json:"path"`
}

// AssetPaths points to the static assets supplied next to the pipeline config.
type AssetPaths struct {
	Channels      string `json:"channels"`
	MergePlan     string `json:"mergePlan,omitempty"`
	OutlierRanges string `json:"outlierRanges,omitempty"`
	ColumnOrder   string `json:"columnOrder"`
}

// Channel declares a measurable quantity and how its rows are aggregated.
type Channel struct {
	Name string      `json:"name"`
	Kind ChannelKind `json:"kind"`
	// Table is the name of the event table the channel is read from.
	Table string `json:"table"`
	// Conversions rewrite values recorded in a non canonical unit.
	Conversions []UnitConversion `json:"conversions,omitempty"`
	// Categories encodes categorical values of a last channel as numbers.
	Categories map[string]float64 `json:"categories,omitempty"`
	// OneHot replaces the coded value of a last channel with one indicator column per
	// category, named channel=category.
	OneHot bool `json:"oneHot,omitempty"`
}

// UnitConversion is an expression over `value` applied to rows recorded in Unit.
type UnitConversion struct {
	Unit string `json:"unit"`
	Expr string `json:"expr"`
}

// ReconciliationPair declares two channels as one quantity, Primary wins on conflict.
type ReconciliationPair struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
}

// OutlierRange is the plausible range of a channel, either bound may be omitted.
type OutlierRange struct {
	Channel string   `json:"channel"`
	Low     *float64 `json:"low,omitempty"`
	High    *float64 `json:"high,omitempty"`
}

// SplitSpec is the versioned description of a cohort split. It is persisted next to
// the outputs so that the same partition can be rebuilt from stay identifiers alone.
type SplitSpec struct {
	Version int     `json:"version"`
	Seed    uint32  `json:"seed"`
	Train   float64 `json:"train"`
	Dev     float64 `json:"dev"`
	Test    float64 `json:"test"`
}

// DefaultSplitSpec returns the split used when none is configured.
func DefaultSplitSpec() SplitSpec {
	return SplitSpec{
		Version: DefaultSplitVersion,
		Seed:    DefaultSplitSeed,
		Train:   DefaultTrainFraction,
		Dev:     DefaultDevFraction,
		Test:    DefaultTestFraction,
	}
}

func (s SplitSpec) Validate() error {
	var errs error
	if s.Version != DefaultSplitVersion {
		errs = multierr.Append(errs, fmt.Errorf("unsupported split version %d", s.Version))
	}
	fractions := []struct {
		name  string
		value float64
	}{{"train", s.Train}, {"dev", s.Dev}, {"test", s.Test}}
	for _, f := range fractions {
		if math.IsNaN(f.value) || f.value < 0 || f.value > 1 {
			errs = multierr.Append(errs, fmt.Errorf("invalid %s fraction %v", f.name, f.value))
		}
	}
	if sum := s.Train + s.Dev + s.Test; math.Abs(sum-1) > FractionTolerance {
		errs = multierr.Append(errs, fmt.Errorf("split fractions sum to %v, expected 1", sum))
	}
	if errs != nil {
		return fmt.Errorf("%w: invalid split spec: %w", ErrConfiguration, errs)
	}
	return nil
}

// WithDefaults fills the zero values of the pipeline spec with defaults.
func (ps PipelineSpec) WithDefaults() PipelineSpec {
	out := ps
	_ = mergo.Merge(&out, PipelineSpec{
		WindowWidth: DefaultWindowWidth,
		ChunkSize:   DefaultChunkSize,
		Workers:     DefaultWorkers,
		Stays:       StaySource{TimeMode: DefaultTimeMode},
		ExitPoint:   DefaultExitPoint,
	})
	// a partial split is kept as is and rejected by Validate
	if out.Split == (SplitSpec{}) {
		out.Split = DefaultSplitSpec()
	}
	out.Tables = make([]EventTable, len(ps.Tables))
	for i, t := range ps.Tables {
		if t.TimeMode == "" {
			t.TimeMode = DefaultTimeMode
		}
		out.Tables[i] = t
	}
	out.Interventions = make([]IntervalTable, len(ps.Interventions))
	for i, t := range ps.Interventions {
		if t.TimeMode == "" {
			t.TimeMode = DefaultTimeMode
		}
		out.Interventions[i] = t
	}
	return out
}

// Names of the input tables that are not declared as event or interval tables.
const (
	reservedStays        = "stays"
	reservedDemographics = "demographics"
)

// Validate reports every problem of the pipeline spec at once.
func (ps PipelineSpec) Validate() error {
	var errs error
	if ps.WindowWidth <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("window width must be positive, got %v", ps.WindowWidth))
	}
	if ps.Horizon < 0 {
		errs = multierr.Append(errs, fmt.Errorf("horizon must not be negative, got %d", ps.Horizon))
	}
	if ps.ChunkSize <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("chunk size must be positive, got %d", ps.ChunkSize))
	}
	if ps.Workers <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("workers must be positive, got %d", ps.Workers))
	}
	if ps.Stays.Path == "" {
		errs = multierr.Append(errs, fmt.Errorf("missing stays path"))
	}
	if !validTimeMode(ps.Stays.TimeMode) {
		errs = multierr.Append(errs, fmt.Errorf("invalid stays time mode %q", ps.Stays.TimeMode))
	}
	// offsets cannot be placed on a timeline without absolute admissions
	offsetStays := ps.Stays.TimeMode == TimeModeOffset
	if len(ps.Tables) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("no event tables defined"))
	}
	names := map[string]bool{reservedStays: true, reservedDemographics: true}
	for _, t := range ps.Tables {
		if t.Name == "" || t.Path == "" {
			errs = multierr.Append(errs, fmt.Errorf("event table requires both name and path, got %q %q", t.Name, t.Path))
		}
		if names[t.Name] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate or reserved table name %q", t.Name))
		}
		names[t.Name] = true
		if !validTimeMode(t.TimeMode) {
			errs = multierr.Append(errs, fmt.Errorf("invalid time mode %q of table %q", t.TimeMode, t.Name))
		}
		if offsetStays && t.TimeMode == TimeModeTimestamp {
			errs = multierr.Append(errs, fmt.Errorf("table %q uses timestamps but the stays are in offset mode", t.Name))
		}
	}
	types := make(map[string]bool)
	for _, t := range ps.Interventions {
		if t.Name == "" || t.Path == "" {
			errs = multierr.Append(errs, fmt.Errorf("intervention table requires both name and path, got %q %q", t.Name, t.Path))
		}
		if !validTimeMode(t.TimeMode) {
			errs = multierr.Append(errs, fmt.Errorf("invalid time mode %q of intervention table %q", t.TimeMode, t.Name))
		}
		if offsetStays && t.TimeMode == TimeModeTimestamp {
			errs = multierr.Append(errs, fmt.Errorf("intervention table %q uses timestamps but the stays are in offset mode", t.Name))
		}
		if names[t.Name] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate or reserved table name %q", t.Name))
		}
		names[t.Name] = true
		if len(t.Types) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("intervention table %q declares no types", t.Name))
		}
		for _, typ := range t.Types {
			if types[typ] {
				errs = multierr.Append(errs, fmt.Errorf("duplicate intervention type %q", typ))
			}
			types[typ] = true
		}
	}
	if ps.Demographics.Path == "" {
		errs = multierr.Append(errs, fmt.Errorf("missing demographics path"))
	}
	if ps.Assets.Channels == "" {
		errs = multierr.Append(errs, fmt.Errorf("missing channels asset"))
	}
	if ps.Assets.ColumnOrder == "" {
		errs = multierr.Append(errs, fmt.Errorf("missing column order asset"))
	}
	switch ps.ExitPoint {
	case ExitPointRaw, ExitPointOutlierRemoval, ExitPointImpute, ExitPointAll:
	default:
		errs = multierr.Append(errs, fmt.Errorf("invalid exit point %q", ps.ExitPoint))
	}
	if ps.DisagreementTolerance < 0 {
		errs = multierr.Append(errs, fmt.Errorf("disagreement tolerance must not be negative"))
	}
	if err := ps.Split.Validate(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		return fmt.Errorf("%w: invalid pipeline spec: %w", ErrConfiguration, errs)
	}
	return nil
}

func validTimeMode(tm TimeMode) bool {
	return tm == TimeModeTimestamp || tm == TimeModeOffset
}
