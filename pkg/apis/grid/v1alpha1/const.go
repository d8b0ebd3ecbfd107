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
	"time"
)

const (
	Project = "numagrid"

	// Environment variables
	EnvDebug     = "NUMAGRID_DEBUG"
	EnvPrefix    = "NUMAGRID"
	EnvOutputDir = "NUMAGRID_OUTPUT_DIR"

	// Input table columns
	ColumnStayID    = "stay_id"
	ColumnAdmission = "admission"
	ColumnDischarge = "discharge"
	ColumnTime      = "time"
	ColumnChannel   = "channel"
	ColumnValue     = "value"
	ColumnUnit      = "unit"
	ColumnStart     = "start"
	ColumnStop      = "stop"
	ColumnType      = "intervention"

	// Output table columns
	ColumnBucket = "bucket"

	// Stays of an unsplit run in the manifest
	CohortStays = "cohort"

	// Output file names
	FeaturesFile      = "features.parquet"
	InterventionsFile = "interventions.parquet"
	DemographicsFile  = "demographics.parquet"
	NormStatsFile     = "norm_stats.json"
	SplitSpecFile     = "split_spec.json"
	PartitionFile     = "partition.json"
	ManifestFile      = "manifest.json"
	MetricsFile       = "metrics.prom"

	// Pipeline defaults
	DefaultWindowWidth = time.Hour
	DefaultChunkSize   = 1000
	DefaultWorkers     = 4
	DefaultTimeMode    = TimeModeTimestamp
	DefaultExitPoint   = ExitPointAll

	// Split defaults
	DefaultSplitVersion  = 1
	DefaultSplitSeed     = 42
	DefaultTrainFraction = 0.7
	DefaultDevFraction   = 0.1
	DefaultTestFraction  = 0.2

	// Tolerance used when checking that split fractions sum to one.
	FractionTolerance = 1e-9
)

// TimeMode tells how the time columns of an input table are encoded.
type TimeMode string

const (
	// TimeModeTimestamp means absolute instants, parsed leniently.
	TimeModeTimestamp TimeMode = "timestamp"
	// TimeModeOffset means minutes elapsed since the stay admission.
	TimeModeOffset TimeMode = "offset"
)

func (tm TimeMode) String() string {
	switch tm {
	case TimeModeTimestamp:
		return string(TimeModeTimestamp)
	case TimeModeOffset:
		return string(TimeModeOffset)
	default:
		return "unknownTimeMode"
	}
}

// ChannelKind is the statistic kind of a channel.
type ChannelKind string

const (
	// MeanChannel is aggregated as mean plus occurrence count.
	MeanChannel ChannelKind = "mean"
	// LastChannel is aggregated as last observed value plus presence mask.
	LastChannel ChannelKind = "last"
)

func (ck ChannelKind) String() string {
	switch ck {
	case MeanChannel:
		return string(MeanChannel)
	case LastChannel:
		return string(LastChannel)
	default:
		return "unknownChannelKind"
	}
}

// Statistic is the second half of a column key.
type Statistic string

const (
	StatMean  Statistic = "mean"
	StatCount Statistic = "count"
	StatLast  Statistic = "last"
	StatMask  Statistic = "mask"
	// StatActive marks an intervention in effect during a bucket.
	StatActive Statistic = "active"
	// StatOneHot marks the category of a one-hot encoded channel observed in a bucket.
	StatOneHot Statistic = "onehot"
)

// OneHotSeparator joins a channel and one of its categories into an indicator column.
const OneHotSeparator = "="

// ExitPoint is the last stage of a run. Runs stopped before the split write their tables
// unsplit.
type ExitPoint string

const (
	// ExitPointRaw writes the aggregated, reconciled tables.
	ExitPointRaw ExitPoint = "raw"
	// ExitPointOutlierRemoval writes the tables once implausible values are removed.
	ExitPointOutlierRemoval ExitPoint = "outlierRemoval"
	// ExitPointImpute writes the standardized, imputed tables.
	ExitPointImpute ExitPoint = "impute"
	// ExitPointAll runs every stage and writes the split tables.
	ExitPointAll ExitPoint = "all"
)

// Splits tells whether a run stopped at the exit point is split.
func (ep ExitPoint) Splits() bool {
	return ep == ExitPointAll
}

// Normalizes tells whether a run stopped at the exit point is standardized and imputed.
func (ep ExitPoint) Normalizes() bool {
	return ep == ExitPointImpute || ep == ExitPointAll
}

// RemovesOutliers tells whether a run stopped at the exit point filters implausible values.
func (ep ExitPoint) RemovesOutliers() bool {
	return ep != ExitPointRaw
}

// Statistics returns the statistics carried by a channel kind, in output order.
func (ck ChannelKind) Statistics() []Statistic {
	switch ck {
	case MeanChannel:
		return []Statistic{StatMean, StatCount}
	case LastChannel:
		return []Statistic{StatLast, StatMask}
	default:
		return nil
	}
}
