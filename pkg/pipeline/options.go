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
	"github.com/numaproj/numagrid/pkg/normalize"
)

type options struct {
	// referenceStats replaces the statistics computed on the cohort
	referenceStats normalize.Stats
	// runID identifies the run in the manifest and the staging directory
	runID string
	// version is recorded in the manifest
	version string
}

type Option func(*options) error

func defaultOptions() *options {
	return &options{}
}

// WithReferenceStats standardizes with statistics of another cohort instead of
// computing them.
func WithReferenceStats(s normalize.Stats) Option {
	return func(o *options) error {
		o.referenceStats = s
		return nil
	}
}

// WithRunID sets the run identifier
func WithRunID(id string) Option {
	return func(o *options) error {
		o.runID = id
		return nil
	}
}

// WithVersion sets the version recorded in the manifest
func WithVersion(v string) Option {
	return func(o *options) error {
		o.version = v
		return nil
	}
}
