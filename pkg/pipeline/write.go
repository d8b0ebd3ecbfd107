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
	"context"
	"path/filepath"
	"time"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/metrics"
	"github.com/numaproj/numagrid/pkg/shared/logging"
	"github.com/numaproj/numagrid/pkg/sinks"
	"github.com/numaproj/numagrid/pkg/split"
	"github.com/numaproj/numagrid/pkg/table"
)

// Write commits a result to the output directory of the pipeline spec. On any failure the
// previous output, if any, is left in place. A directory that does not hold a previous
// output is never replaced.
func (p *Pipeline) Write(ctx context.Context, res *Result) (*sinks.Manifest, error) {
	log := logging.FromContext(ctx)
	defer p.observe("write", time.Now())
	if err := sinks.CheckTarget(p.spec.Output); err != nil {
		return nil, err
	}
	staging, err := sinks.NewStaging(p.spec.Output, p.opts.runID)
	if err != nil {
		return nil, err
	}
	m, err := p.writeAll(staging, res)
	if err == nil {
		err = staging.Commit()
	}
	if err != nil {
		if aerr := staging.Abort(); aerr != nil {
			log.Warnw("Failed to remove staging directory", "dir", staging.Dir(), "error", aerr)
		}
		return nil, err
	}
	if leftover := staging.Leftover(); leftover != "" {
		log.Warnw("Failed to remove the previous output", "dir", leftover)
	}
	log.Infow("Committed run", "output", staging.Target(), "files", len(m.Files))
	return m, nil
}

func (p *Pipeline) writeAll(staging *sinks.Staging, res *Result) (*sinks.Manifest, error) {
	if res.Partition == nil {
		if err := writeTables(staging, "", res.Features, res.Interventions, res.Demographics); err != nil {
			return nil, err
		}
	} else {
		features := res.Partition.Apply(res.Features)
		interventions := res.Partition.Apply(res.Interventions)
		demographics := res.Partition.ApplyStatic(res.Demographics)
		for _, pool := range split.Pools {
			if err := writeTables(staging, string(pool), features[pool], interventions[pool], demographics[pool]); err != nil {
				return nil, err
			}
		}
	}

	if res.Stats != nil {
		path, err := staging.Path(dfv1.NormStatsFile)
		if err != nil {
			return nil, err
		}
		if err := res.Stats.Save(path); err != nil {
			return nil, err
		}
	}
	if res.Partition != nil {
		path, err := staging.Path(dfv1.SplitSpecFile)
		if err != nil {
			return nil, err
		}
		if err := split.SaveSpec(path, res.Split); err != nil {
			return nil, err
		}
		if path, err = staging.Path(dfv1.PartitionFile); err != nil {
			return nil, err
		}
		if err := res.Partition.Save(path); err != nil {
			return nil, err
		}
	}
	path, err := staging.Path(dfv1.MetricsFile)
	if err != nil {
		return nil, err
	}
	if err := metrics.WriteTextfile(path); err != nil {
		return nil, err
	}
	// the manifest is written last and lists itself
	if path, err = staging.Path(dfv1.ManifestFile); err != nil {
		return nil, err
	}
	m := p.manifest(res)
	m.Files = staging.Files()
	if err := sinks.WriteManifest(path, m); err != nil {
		return nil, err
	}
	return m, nil
}

// writeTables writes the three tables of a run, or of one pool, under dir.
func writeTables(staging *sinks.Staging, dir string, features, interventions *table.Frame, demographics *table.Static) error {
	path, err := staging.Path(filepath.Join(dir, dfv1.FeaturesFile))
	if err != nil {
		return err
	}
	if err := sinks.WriteFrame(path, features); err != nil {
		return err
	}
	if path, err = staging.Path(filepath.Join(dir, dfv1.InterventionsFile)); err != nil {
		return err
	}
	if err := sinks.WriteFrame(path, interventions); err != nil {
		return err
	}
	if path, err = staging.Path(filepath.Join(dir, dfv1.DemographicsFile)); err != nil {
		return err
	}
	return sinks.WriteStatic(path, demographics)
}

func (p *Pipeline) manifest(res *Result) *sinks.Manifest {
	m := &sinks.Manifest{
		RunID:          p.opts.runID,
		Pipeline:       p.spec.Name,
		Version:        p.opts.version,
		CreatedAt:      time.Now().UTC(),
		ExitPoint:      string(res.ExitPoint),
		WindowWidth:    p.spec.WindowWidth.String(),
		Horizon:        res.Skeleton.Horizon(),
		Stays:          make(map[string]int, len(split.Pools)),
		Rows:           res.Features.Len(),
		Demographics:   res.Demographics.Columns(),
		ReferenceStats: res.ReferenceStats,
		Tables:         res.Tables,
	}
	if res.Partition == nil {
		m.Stays[dfv1.CohortStays] = len(res.Features.StayIDs())
	} else {
		for _, pool := range split.Pools {
			m.Stays[string(pool)] = len(res.Partition.Members(pool))
		}
	}
	for _, k := range res.Features.Columns() {
		m.Features = append(m.Features, k.String())
	}
	for _, k := range res.Interventions.Columns() {
		m.Interventions = append(m.Interventions, k.Channel)
	}
	for _, d := range res.Disagreements {
		m.Disagreements = append(m.Disagreements, sinks.Flag(d))
	}
	return m
}
