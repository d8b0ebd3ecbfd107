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

// Package config loads the pipeline spec of a run and the static assets it points to.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"sigs.k8s.io/yaml"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/catalog"
	"github.com/numaproj/numagrid/pkg/reconcile"
	"github.com/numaproj/numagrid/pkg/table"
)

// LoadPipelineSpec reads the pipeline spec at path. Values can be overridden from the
// environment, e.g. NUMAGRID_WORKERS=8. Relative paths in the pipeline spec are resolved against
// the directory of the config file.
func LoadPipelineSpec(path string) (*dfv1.PipelineSpec, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(dfv1.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration file. %w", err)
	}
	spec := &dfv1.PipelineSpec{}
	if err := v.Unmarshal(spec); err != nil {
		return nil, fmt.Errorf("failed unmarshal configuration file. %w", err)
	}
	resolved := resolvePaths(spec.WithDefaults(), filepath.Dir(path))
	if err := resolved.Validate(); err != nil {
		return nil, err
	}
	return &resolved, nil
}

func resolvePaths(spec dfv1.PipelineSpec, dir string) dfv1.PipelineSpec {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	spec.Stays.Path = abs(spec.Stays.Path)
	spec.StayList = abs(spec.StayList)
	spec.Demographics.Path = abs(spec.Demographics.Path)
	spec.Assets.Channels = abs(spec.Assets.Channels)
	spec.Assets.MergePlan = abs(spec.Assets.MergePlan)
	spec.Assets.OutlierRanges = abs(spec.Assets.OutlierRanges)
	spec.Assets.ColumnOrder = abs(spec.Assets.ColumnOrder)
	spec.ReferenceStats = abs(spec.ReferenceStats)
	spec.Output = abs(spec.Output)
	for i := range spec.Tables {
		spec.Tables[i].Path = abs(spec.Tables[i].Path)
	}
	for i := range spec.Interventions {
		spec.Interventions[i].Path = abs(spec.Interventions[i].Path)
	}
	return spec
}

type channelsAsset struct {
	Channels []dfv1.Channel `json:"channels"`
}

type mergePlanAsset struct {
	Pairs []dfv1.ReconciliationPair `json:"pairs"`
}

type outlierRangesAsset struct {
	Ranges []dfv1.OutlierRange `json:"ranges"`
}

type columnOrderAsset struct {
	Columns []string `json:"columns"`
}

// Assets are the static look-up assets of a run, validated against each other.
type Assets struct {
	Catalog       *catalog.Catalog
	MergePlan     []dfv1.ReconciliationPair
	OutlierRanges []dfv1.OutlierRange
	// ColumnOrder lists the channels of the final feature table in output order.
	ColumnOrder []string
}

// LoadAssets reads and validates the assets of a spec. The merge plan and the outlier
// ranges are optional.
func LoadAssets(spec *dfv1.PipelineSpec) (*Assets, error) {
	var ch channelsAsset
	if err := readYAML(spec.Assets.Channels, &ch); err != nil {
		return nil, err
	}
	cat, err := catalog.New(ch.Channels)
	if err != nil {
		return nil, err
	}
	a := &Assets{Catalog: cat}
	if spec.Assets.MergePlan != "" {
		var mp mergePlanAsset
		if err := readYAML(spec.Assets.MergePlan, &mp); err != nil {
			return nil, err
		}
		a.MergePlan = mp.Pairs
	}
	if spec.Assets.OutlierRanges != "" {
		var or outlierRangesAsset
		if err := readYAML(spec.Assets.OutlierRanges, &or); err != nil {
			return nil, err
		}
		a.OutlierRanges = or.Ranges
	}
	var co columnOrderAsset
	if err := readYAML(spec.Assets.ColumnOrder, &co); err != nil {
		return nil, err
	}
	a.ColumnOrder = co.Columns
	if err := a.Validate(spec); err != nil {
		return nil, err
	}
	return a, nil
}

func readYAML(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read asset %s, %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, v); err != nil {
		return fmt.Errorf("%w: failed to unmarshal asset %s, %v", dfv1.ErrConfiguration, path, err)
	}
	return nil
}

// Validate checks the assets against each other and against the pipeline spec, reporting every
// problem at once.
func (a *Assets) Validate(spec *dfv1.PipelineSpec) error {
	var errs error
	tables := make(map[string]bool)
	for _, t := range spec.Tables {
		tables[t.Name] = true
	}
	for _, name := range a.Catalog.Tables() {
		if !tables[name] {
			errs = multierr.Append(errs, fmt.Errorf("channels reference undefined table %q", name))
		}
	}
	for _, t := range spec.Tables {
		if len(a.Catalog.ForTable(t.Name)) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("table %q has no channel", t.Name))
		}
	}
	if err := reconcile.CheckPlan(a.MergePlan); err != nil {
		errs = multierr.Append(errs, err)
	}
	secondaries := make(map[string]bool)
	for _, p := range a.MergePlan {
		for _, name := range []string{p.Primary, p.Secondary} {
			if _, ok := a.Catalog.Get(name); !ok {
				errs = multierr.Append(errs, fmt.Errorf("merge plan references nonexistent channel %q", name))
			}
		}
		secondaries[p.Secondary] = true
	}
	surviving := make(map[string]bool)
	for _, name := range a.Catalog.Names() {
		if !secondaries[name] {
			surviving[name] = true
		}
	}
	for _, r := range a.OutlierRanges {
		if !surviving[r.Channel] {
			errs = multierr.Append(errs, fmt.Errorf("outlier range references nonexistent or reconciled channel %q", r.Channel))
		}
	}
	listed := make(map[string]bool)
	for _, name := range a.ColumnOrder {
		if listed[name] {
			errs = multierr.Append(errs, fmt.Errorf("column order lists %q twice", name))
		}
		listed[name] = true
		if !surviving[name] {
			errs = multierr.Append(errs, fmt.Errorf("column order lists nonexistent or reconciled channel %q", name))
		}
	}
	for _, name := range a.Catalog.Names() {
		if surviving[name] && !listed[name] {
			errs = multierr.Append(errs, fmt.Errorf("channel %q is missing from the column order", name))
		}
	}
	if errs != nil {
		return fmt.Errorf("%w: invalid assets: %w", dfv1.ErrConfiguration, errs)
	}
	return nil
}

// Columns expands the column order into the composite column keys of the feature table.
func (a *Assets) Columns() []table.ColumnKey {
	out := make([]table.ColumnKey, 0, 2*len(a.ColumnOrder))
	for _, name := range a.ColumnOrder {
		ch, ok := a.Catalog.Get(name)
		if !ok {
			continue
		}
		out = append(out, ch.Columns()...)
	}
	return out
}
