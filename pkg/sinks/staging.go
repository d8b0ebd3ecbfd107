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

// Package sinks writes the results of a run.
//
// Every file of a run is first written into a staging directory next to the output
// directory. Only once all of them are complete is the staging directory renamed into
// place, so a reader never sees a partial output as if it were complete. An existing
// output directory is only replaced when it is empty or holds the manifest of a previous
// run.
package sinks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
)

// Staging is the directory a run writes into before it is committed.
type Staging struct {
	target string
	dir    string
	runID  string
	files  []string
	// leftover is a previous output that could not be removed after a commit
	leftover string
}

// NewStaging creates a staging directory for target, in the same parent so that the
// final rename stays on one file system.
func NewStaging(target, runID string) (*Staging, error) {
	target, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s, %w", target, err)
	}
	parent := filepath.Dir(target)
	if parent == target {
		return nil, fmt.Errorf("%w: cannot write a run to the root directory", dfv1.ErrConfiguration)
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s, %w", parent, err)
	}
	dir := sibling(target, "staging", runID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory %s, %w", dir, err)
	}
	return &Staging{target: target, dir: dir, runID: runID}, nil
}

// sibling is a hidden directory next to target.
func sibling(target, kind, runID string) string {
	return filepath.Join(filepath.Dir(target), fmt.Sprintf(".%s.%s-%s", filepath.Base(target), kind, runID))
}

// targetState is what an output directory holds before a commit.
type targetState int

const (
	targetAbsent targetState = iota
	targetEmpty
	targetPrevious
)

// inspect tells whether target can be replaced by a run.
func inspect(target string) (targetState, error) {
	entries, err := os.ReadDir(target)
	if errors.Is(err, os.ErrNotExist) {
		return targetAbsent, nil
	} else if err != nil {
		return 0, fmt.Errorf("failed to read output directory %s, %w", target, err)
	}
	if len(entries) == 0 {
		return targetEmpty, nil
	}
	if info, err := os.Stat(filepath.Join(target, dfv1.ManifestFile)); err == nil && info.Mode().IsRegular() {
		return targetPrevious, nil
	}
	return 0, fmt.Errorf("%w: refusing to replace %s, it is not empty and holds no %s", dfv1.ErrConfiguration, target, dfv1.ManifestFile)
}

// CheckTarget fails unless target is absent, empty or the output of a previous run.
func CheckTarget(target string) error {
	abs, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("failed to resolve %s, %w", target, err)
	}
	_, err = inspect(abs)
	return err
}

// Dir returns the staging directory.
func (s *Staging) Dir() string {
	return s.dir
}

// Target returns the directory the run is committed to.
func (s *Staging) Target() string {
	return s.target
}

// Path returns the staging path of a file given relative to the output directory, and
// records it as part of the run.
func (s *Staging) Path(rel string) (string, error) {
	p := filepath.Join(s.dir, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s, %w", filepath.Dir(p), err)
	}
	s.files = append(s.files, filepath.ToSlash(rel))
	return p, nil
}

// Files lists the files written so far, relative to the output directory.
func (s *Staging) Files() []string {
	out := make([]string, len(s.files))
	copy(out, s.files)
	return out
}

// Commit moves the staging directory into place. A previous output is moved aside first
// and only deleted once the new one is in place; it is restored if the move fails.
func (s *Staging) Commit() error {
	state, err := inspect(s.target)
	if err != nil {
		return err
	}
	switch state {
	case targetEmpty:
		if err := os.Remove(s.target); err != nil {
			return fmt.Errorf("failed to remove empty output directory %s, %w", s.target, err)
		}
	case targetPrevious:
		previous := sibling(s.target, "previous", s.runID)
		if err := os.Rename(s.target, previous); err != nil {
			return fmt.Errorf("failed to move previous output %s aside, %w", s.target, err)
		}
		if err := os.Rename(s.dir, s.target); err != nil {
			if rerr := os.Rename(previous, s.target); rerr != nil {
				return fmt.Errorf("failed to move %s to %s, %w, and to restore the previous output from %s, %v", s.dir, s.target, err, previous, rerr)
			}
			return fmt.Errorf("failed to move %s to %s, %w", s.dir, s.target, err)
		}
		if err := os.RemoveAll(previous); err != nil {
			s.leftover = previous
		}
		return nil
	}
	if err := os.Rename(s.dir, s.target); err != nil {
		return fmt.Errorf("failed to move %s to %s, %w", s.dir, s.target, err)
	}
	return nil
}

// Leftover returns the previous output kept after a commit because it could not be
// removed, if any.
func (s *Staging) Leftover() string {
	return s.leftover
}

// Abort removes the staging directory and leaves the output directory untouched.
func (s *Staging) Abort() error {
	return os.RemoveAll(s.dir)
}
