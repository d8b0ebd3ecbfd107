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

package sinks

import (
	"time"

	"github.com/numaproj/numagrid/pkg/shared/util"
)

// TableSummary records what happened to the rows of one input table.
type TableSummary struct {
	Name           string         `json:"name"`
	Read           int            `json:"read"`
	Used           int            `json:"used"`
	Dropped        map[string]int `json:"dropped,omitempty"`
	CoercionErrors map[string]int `json:"coercionErrors,omitempty"`
}

// Flag is one reconciled cell whose sources disagreed.
type Flag struct {
	Primary   string  `json:"primary"`
	Secondary string  `json:"secondary"`
	StayID    string  `json:"stayId"`
	Bucket    int     `json:"bucket"`
	Kept      float64 `json:"kept"`
	Discarded float64 `json:"discarded"`
}

// Manifest describes a committed run. It is the last file written.
type Manifest struct {
	RunID          string         `json:"runId"`
	Pipeline       string         `json:"pipeline"`
	Version        string         `json:"version"`
	CreatedAt      time.Time      `json:"createdAt"`
	ExitPoint      string         `json:"exitPoint"`
	WindowWidth    string         `json:"windowWidth"`
	Horizon        int            `json:"horizon,omitempty"`
	Stays          map[string]int `json:"stays"`
	Rows           int            `json:"rows"`
	Features       []string       `json:"features"`
	Interventions  []string       `json:"interventions"`
	Demographics   []string       `json:"demographics,omitempty"`
	ReferenceStats bool           `json:"referenceStats"`
	Tables         []TableSummary `json:"tables"`
	Disagreements  []Flag         `json:"disagreements,omitempty"`
	Files          []string       `json:"files"`
}

// WriteManifest writes m as JSON.
func WriteManifest(path string, m *Manifest) error {
	return util.WriteJSONFile(path, m)
}

// ReadManifest reads a manifest written by WriteManifest.
func ReadManifest(path string) (*Manifest, error) {
	m := &Manifest{}
	if err := util.ReadJSONFile(path, m); err != nil {
		return nil, err
	}
	return m, nil
}
