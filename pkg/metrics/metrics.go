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

package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelVersion  = "version"
	LabelPlatform = "platform"
	LabelPipeline = "pipeline"
	LabelTable    = "table"
	LabelChannel  = "channel"
	LabelStage    = "stage"
	LabelReason   = "reason"
)

// Reasons a source row is dropped before aggregation.
const (
	ReasonOutOfWindow    = "out_of_window"
	ReasonUnknownStay    = "unknown_stay"
	ReasonExcludedStay   = "excluded_stay"
	ReasonUnknownChannel = "unknown_channel"
	ReasonBadTime        = "bad_time"
	ReasonBadValue       = "bad_value"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "A metric with a constant value '1', labeled by numagrid binary version and platform",
	}, []string{LabelVersion, LabelPlatform})
)

// Source metrics
var (
	// RowsReadCount is used to indicate the number of source rows read
	RowsReadCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "source",
		Name:      "rows_read_total",
		Help:      "Total number of source rows read",
	}, []string{LabelPipeline, LabelTable})

	// RowsDroppedCount is used to indicate the number of source rows that never reach the grid
	RowsDroppedCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "source",
		Name:      "rows_dropped_total",
		Help:      "Total number of source rows dropped before aggregation",
	}, []string{LabelPipeline, LabelTable, LabelReason})
)

// Alignment metrics
var (
	// CoercionErrorCount is used to indicate the number of values that could not be read as numbers
	CoercionErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "aggregate",
		Name:      "coercion_error_total",
		Help:      "Total number of values treated as missing because they are not numeric",
	}, []string{LabelPipeline, LabelTable, LabelChannel})

	// OutlierCellsCount is used to indicate the number of mean cells nulled as implausible
	OutlierCellsCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "outlier",
		Name:      "cells_nulled_total",
		Help:      "Total number of mean cells set to missing by the outlier filter",
	}, []string{LabelPipeline, LabelChannel})

	// DisagreementCount is used to indicate the number of reconciled cells whose sources disagree
	DisagreementCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "reconcile",
		Name:      "disagreement_total",
		Help:      "Total number of reconciled cells whose primary and secondary means disagree",
	}, []string{LabelPipeline, LabelChannel})

	// StageProcessingTime is a histogram to observe the time spent per stage and chunk
	StageProcessingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Subsystem: "pipeline",
		Name:      "stage_processing_time",
		Help:      "Processing times of pipeline stages (1 millisecond to 1 hour)",
		Buckets:   prometheus.ExponentialBucketsRange(1, 3600*1000, 10),
	}, []string{LabelPipeline, LabelStage})

	// StaysCount is used to indicate the number of stays per output pool
	StaysCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "pipeline",
		Name:      "stays",
		Help:      "Number of stays per output pool",
	}, []string{LabelPipeline, "pool"})
)

// WriteTextfile writes every registered metric to path in the Prometheus text format, for
// a node exporter textfile collector to pick up after a batch run.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics to %s, %w", path, err)
	}
	return nil
}
