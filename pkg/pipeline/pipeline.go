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

// Package pipeline aligns a cohort end to end.
//
// Stays are processed in chunks. Every chunk is aggregated, joined, reconciled and
// filtered independently by a bounded pool of workers. Normalization statistics are a
// barrier: they are computed over every chunk, or taken from a reference cohort, before
// any chunk is standardized. Interventions and demographics are compiled on the whole
// cohort, the three tables are checked to cover the same stays and split with a single
// partition.
//
// A run can stop early at an exit point, in which case the tables of the last stage run
// are written unsplit.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/numaproj/numagrid/pkg/aggregate"
	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/config"
	"github.com/numaproj/numagrid/pkg/grid"
	"github.com/numaproj/numagrid/pkg/intervention"
	"github.com/numaproj/numagrid/pkg/metrics"
	"github.com/numaproj/numagrid/pkg/normalize"
	"github.com/numaproj/numagrid/pkg/outlier"
	"github.com/numaproj/numagrid/pkg/reconcile"
	"github.com/numaproj/numagrid/pkg/shared/logging"
	"github.com/numaproj/numagrid/pkg/sinks"
	"github.com/numaproj/numagrid/pkg/sources"
	"github.com/numaproj/numagrid/pkg/split"
	"github.com/numaproj/numagrid/pkg/table"
)

const (
	tableFeatures      = "features"
	tableInterventions = "interventions"
	tableDemographics  = "demographics"
	tableStays         = "stays"
	tableStayList      = "stay_list"
)

// Inputs are the raw tables of a run.
type Inputs struct {
	Stays        []grid.Stay
	Events       map[string][]sources.Event
	Intervals    map[string][]sources.Interval
	Demographics *table.Static
	// StayList restricts the cohort to the listed stays when it is not nil.
	StayList []string
	// Reports are the read reports of the tables, in read order.
	Reports []*sources.Report
}

// Result holds every table of a run, ready to be written.
type Result struct {
	Skeleton      *grid.Skeleton
	ExitPoint     dfv1.ExitPoint
	Features      *table.Frame
	Interventions *table.Frame
	Demographics  *table.Static
	// Stats is nil when the run stopped before normalization.
	Stats          normalize.Stats
	ReferenceStats bool
	Split          dfv1.SplitSpec
	// Partition is nil when the run stopped before the split.
	Partition     *split.Partition
	Tables        []sinks.TableSummary
	Disagreements []reconcile.Disagreement
}

// Pipeline runs one pipeline spec with its assets.
type Pipeline struct {
	spec   *dfv1.PipelineSpec
	assets *config.Assets
	opts   *options
}

// New returns a pipeline. The spec and the assets are expected to be validated.
func New(spec *dfv1.PipelineSpec, assets *config.Assets, opts ...Option) (*Pipeline, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.runID == "" {
		o.runID = uuid.New().String()
	}
	return &Pipeline{spec: spec, assets: assets, opts: o}, nil
}

// RunID returns the identifier of the run.
func (p *Pipeline) RunID() string {
	return p.opts.runID
}

// Load reads every input table of the pipeline spec.
func (p *Pipeline) Load(ctx context.Context) (*Inputs, error) {
	log := logging.FromContext(ctx)
	defer p.observe("load", time.Now())
	r := sources.NewReader(p.spec.Name)
	in := &Inputs{
		Events:    make(map[string][]sources.Event),
		Intervals: make(map[string][]sources.Interval),
	}
	stays, report, err := r.ReadStaysFile(ctx, p.spec.Stays)
	if err != nil {
		return nil, err
	}
	in.Stays = stays
	in.Reports = append(in.Reports, report)
	admissions := sources.Admissions(stays)
	for _, t := range p.spec.Tables {
		events, report, err := r.ReadEventsFile(ctx, t, admissions)
		if err != nil {
			return nil, err
		}
		in.Events[t.Name] = events
		in.Reports = append(in.Reports, report)
	}
	for _, t := range p.spec.Interventions {
		intervals, report, err := r.ReadIntervalsFile(ctx, t, admissions)
		if err != nil {
			return nil, err
		}
		in.Intervals[t.Name] = intervals
		in.Reports = append(in.Reports, report)
	}
	demographics, report, err := r.ReadStaticFile(ctx, tableDemographics, p.spec.Demographics.Path)
	if err != nil {
		return nil, err
	}
	in.Demographics = demographics
	in.Reports = append(in.Reports, report)
	if p.spec.StayList != "" {
		list, report, err := r.ReadStaticFile(ctx, tableStayList, p.spec.StayList)
		if err != nil {
			return nil, err
		}
		in.StayList = list.StayIDs()
		in.Reports = append(in.Reports, report)
	}
	for _, rep := range in.Reports {
		log.Infow("Read table", "table", rep.Table, "rows", rep.Read, "dropped", rep.TotalDropped())
	}
	return in, nil
}

// chunkResult is the outcome of aligning one chunk.
type chunkResult struct {
	frame         *table.Frame
	moments       *normalize.Moments
	aggregated    []*aggregate.Report
	disagreements []reconcile.Disagreement
}

// Run aligns the inputs. Nothing is returned unless every stage up to the exit point
// succeeded.
func (p *Pipeline) Run(ctx context.Context, in *Inputs) (*Result, error) {
	log := logging.FromContext(ctx).With("pipeline", p.spec.Name, "runId", p.opts.runID)
	ctx = logging.WithLogger(ctx, log)

	start := time.Now()
	summaries := newSummaries(in.Reports)
	selected := p.selectStays(ctx, in, summaries)
	sk, err := grid.Build(selected, p.spec.WindowWidth, p.spec.Horizon)
	if err != nil {
		return nil, err
	}
	if sk.Len() == 0 {
		return nil, fmt.Errorf("%w: no stay spans a complete window of %v", dfv1.ErrStructural, p.spec.WindowWidth)
	}
	if excluded := len(selected) - len(sk.Stays()); excluded > 0 {
		log.Infow("Excluded stays shorter than one window", "stays", excluded)
	}
	p.observe("grid", start)

	summaries.use(tableStays, len(sk.Stays()))
	chunks := sk.Chunks(p.spec.ChunkSize)
	routed := p.route(in, selected, chunks, summaries)
	log.Infow("Aligning cohort", "stays", len(sk.Stays()), "rows", sk.Len(), "chunks", len(chunks), "workers", p.spec.Workers, "exitPoint", p.spec.ExitPoint)
	if p.spec.SkipOutlierRemoval && p.spec.ExitPoint.RemovesOutliers() {
		log.Infow("Outlier removal is disabled")
	}

	start = time.Now()
	aligned, err := p.alignChunks(ctx, chunks, routed)
	if err != nil {
		return nil, err
	}
	p.observe("align", start)

	features, stats, err := p.finishFeatures(ctx, aligned)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	interventions, err := p.compileInterventions(ctx, sk, in, summaries)
	if err != nil {
		return nil, err
	}
	p.observe("interventions", start)

	demographics, err := p.demographics(ctx, sk, in, selected, summaries)
	if err != nil {
		return nil, err
	}
	if err := split.CheckPopulation(map[string][]string{
		tableFeatures:      features.StayIDs(),
		tableInterventions: interventions.StayIDs(),
		tableDemographics:  demographics.StayIDs(),
	}); err != nil {
		return nil, err
	}

	res := &Result{
		Skeleton:       sk,
		ExitPoint:      p.spec.ExitPoint,
		Features:       features,
		Interventions:  interventions,
		Demographics:   demographics,
		Stats:          stats,
		ReferenceStats: stats != nil && p.opts.referenceStats != nil,
		Split:          p.spec.Split,
	}
	if p.spec.ExitPoint.Splits() {
		partition, err := split.Split(features.StayIDs(), p.spec.Split)
		if err != nil {
			return nil, err
		}
		for _, pool := range split.Pools {
			metrics.StaysCount.WithLabelValues(p.spec.Name, string(pool)).Set(float64(len(partition.Members(pool))))
		}
		res.Partition = partition
	}
	for _, c := range aligned {
		for _, rep := range c.aggregated {
			summaries.addAggregate(rep)
		}
		res.Disagreements = append(res.Disagreements, c.disagreements...)
	}
	res.Tables = summaries.list()
	if res.Partition == nil {
		log.Infow("Stopped at exit point", "exitPoint", p.spec.ExitPoint, "stays", len(sk.Stays()), "disagreements", len(res.Disagreements))
		return res, nil
	}
	log.Infow("Aligned cohort", "train", len(res.Partition.Train), "dev", len(res.Partition.Dev), "test", len(res.Partition.Test), "disagreements", len(res.Disagreements))
	return res, nil
}

// selectStays applies the stay list to the cohort.
func (p *Pipeline) selectStays(ctx context.Context, in *Inputs, summaries *summaries) []grid.Stay {
	if in.StayList == nil {
		return in.Stays
	}
	listed := make(map[string]bool, len(in.StayList))
	for _, id := range in.StayList {
		listed[id] = true
	}
	out := make([]grid.Stay, 0, len(in.StayList))
	for _, s := range in.Stays {
		if listed[s.ID] {
			out = append(out, s)
		}
	}
	log := logging.FromContext(ctx)
	if unknown := len(listed) - len(out); unknown > 0 {
		log.Warnw("Stay list names stays that are not in the cohort", "stays", unknown)
		summaries.dropN(tableStayList, metrics.ReasonUnknownStay, unknown)
	}
	if excluded := len(in.Stays) - len(out); excluded > 0 {
		log.Infow("Excluded stays absent from the stay list", "stays", excluded)
		summaries.dropN(tableStays, metrics.ReasonExcludedStay, excluded)
	}
	summaries.use(tableStayList, len(out))
	return out
}

// route distributes event rows to the chunk holding their stay. Rows of stays that are
// not on the grid are dropped here, once, rather than in every chunk.
func (p *Pipeline) route(in *Inputs, selected []grid.Stay, chunks []*grid.Skeleton, summaries *summaries) []map[string][]sources.Event {
	cohort := make(map[string]bool, len(in.Stays))
	for _, s := range in.Stays {
		cohort[s.ID] = false
	}
	for _, s := range selected {
		cohort[s.ID] = true
	}
	owner := make(map[string]int)
	out := make([]map[string][]sources.Event, len(chunks))
	for i, c := range chunks {
		out[i] = make(map[string][]sources.Event)
		for _, id := range c.StayIDs() {
			owner[id] = i
		}
	}
	for _, t := range p.spec.Tables {
		for _, ev := range in.Events[t.Name] {
			if i, ok := owner[ev.StayID]; ok {
				out[i][t.Name] = append(out[i][t.Name], ev)
				continue
			}
			reason := metrics.ReasonUnknownStay
			if kept, ok := cohort[ev.StayID]; ok {
				reason = metrics.ReasonExcludedStay
				if kept {
					reason = metrics.ReasonOutOfWindow
				}
			}
			summaries.drop(t.Name, reason)
			metrics.RowsDroppedCount.WithLabelValues(p.spec.Name, t.Name, reason).Inc()
		}
	}
	return out
}

// alignChunks runs aggregation, reconciliation and outlier filtering on every chunk with
// at most Workers chunks in flight. The first error cancels the remaining chunks.
func (p *Pipeline) alignChunks(ctx context.Context, chunks []*grid.Skeleton, routed []map[string][]sources.Event) ([]*chunkResult, error) {
	aggregators := make([]*aggregate.Aggregator, len(p.spec.Tables))
	for i, t := range p.spec.Tables {
		aggregators[i] = aggregate.New(p.spec.Name, t.Name, p.assets.Catalog.ForTable(t.Name))
	}
	results := make([]*chunkResult, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.spec.Workers)
	for i := range chunks {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := p.alignChunk(gctx, chunks[i], aggregators, routed[i])
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Pipeline) alignChunk(ctx context.Context, chunk *grid.Skeleton, aggregators []*aggregate.Aggregator, events map[string][]sources.Event) (*chunkResult, error) {
	res := &chunkResult{}
	joined := chunk.NewFrame()
	for i, t := range p.spec.Tables {
		f, rep, err := aggregators[i].Aggregate(ctx, chunk, events[t.Name])
		if err != nil {
			return nil, err
		}
		res.aggregated = append(res.aggregated, rep)
		if joined, err = joined.Join(f); err != nil {
			return nil, err
		}
	}
	reconciled, rep, err := reconcile.Reconcile(ctx, joined, p.assets.MergePlan, reconcile.Options{
		Pipeline:  p.spec.Name,
		Tolerance: p.spec.DisagreementTolerance,
	})
	if err != nil {
		return nil, err
	}
	res.disagreements = rep.Disagreements
	if res.frame, err = p.assets.Catalog.OneHot(reconciled); err != nil {
		return nil, err
	}
	if p.spec.ExitPoint.RemovesOutliers() && !p.spec.SkipOutlierRemoval {
		if res.frame, err = outlier.Filter(ctx, p.spec.Name, res.frame, p.assets.OutlierRanges); err != nil {
			return nil, err
		}
	}
	if err := chunk.Validate(res.frame); err != nil {
		return nil, err
	}
	if p.spec.ExitPoint.Normalizes() && p.opts.referenceStats == nil {
		if res.moments, err = normalize.ChunkMoments(res.frame); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// finishFeatures stacks the aligned chunks, standardized and imputed when the exit point
// normalizes. The statistics are nil otherwise.
func (p *Pipeline) finishFeatures(ctx context.Context, aligned []*chunkResult) (*table.Frame, normalize.Stats, error) {
	if !p.spec.ExitPoint.Normalizes() {
		frames := make([]*table.Frame, len(aligned))
		for i, c := range aligned {
			frames[i] = c.frame
		}
		features, err := p.stack(frames)
		return features, nil, err
	}
	defer p.observe("normalize", time.Now())
	stats, err := p.normalizationStats(aligned)
	if err != nil {
		return nil, nil, err
	}
	logging.FromContext(ctx).Infow("Normalization statistics ready", "channels", stats.Channels(), "reference", p.opts.referenceStats != nil)
	features, err := p.normalizeChunks(ctx, aligned, stats)
	if err != nil {
		return nil, nil, err
	}
	return features, stats, nil
}

// normalizationStats is the barrier between alignment and normalization.
func (p *Pipeline) normalizationStats(aligned []*chunkResult) (normalize.Stats, error) {
	if p.opts.referenceStats != nil {
		return p.opts.referenceStats, nil
	}
	parts := make([]*normalize.Moments, len(aligned))
	for i, c := range aligned {
		parts[i] = c.moments
	}
	return normalize.Merge(parts...)
}

func (p *Pipeline) normalizeChunks(ctx context.Context, aligned []*chunkResult, stats normalize.Stats) (*table.Frame, error) {
	frames := make([]*table.Frame, len(aligned))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.spec.Workers)
	for i := range aligned {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, err := normalize.Apply(aligned[i].frame, stats)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			frames[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return p.stack(frames)
}

// stack concatenates chunk frames in column order.
func (p *Pipeline) stack(frames []*table.Frame) (*table.Frame, error) {
	features, err := table.Concat(frames...)
	if err != nil {
		return nil, err
	}
	return features.Reorder(p.assets.Columns())
}

func (p *Pipeline) compileInterventions(ctx context.Context, sk *grid.Skeleton, in *Inputs, summaries *summaries) (*table.Frame, error) {
	frames := make([]*table.Frame, 0, len(p.spec.Interventions))
	for _, t := range p.spec.Interventions {
		f, rep, err := intervention.NewCompiler(p.spec.Name, t.Name, t.Types).Compile(ctx, sk, in.Intervals[t.Name])
		if err != nil {
			return nil, err
		}
		summaries.addIntervention(rep)
		frames = append(frames, f)
	}
	return intervention.Combine(sk, frames...)
}

// maxListedStays bounds the stay identifiers quoted in an error.
const maxListedStays = 5

// demographics keeps the rows of the stays on the grid. A row of a stay that is not in
// the cohort at all aborts the run.
func (p *Pipeline) demographics(ctx context.Context, sk *grid.Skeleton, in *Inputs, selected []grid.Stay, summaries *summaries) (*table.Static, error) {
	s := in.Demographics
	if s == nil {
		return table.NewStatic(nil, nil, nil)
	}
	cohort := make(map[string]bool, len(in.Stays))
	for _, st := range in.Stays {
		cohort[st.ID] = true
	}
	var unknown []string
	for _, id := range s.StayIDs() {
		if !cohort[id] {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		n := len(unknown)
		if n > maxListedStays {
			unknown = unknown[:maxListedStays]
		}
		return nil, fmt.Errorf("%w: demographics list %d stays that are not in the cohort, e.g. %v", dfv1.ErrStructural, n, unknown)
	}
	kept := make(map[string]bool, len(selected))
	for _, st := range selected {
		kept[st.ID] = true
	}
	var excluded, offGrid int
	out := s.Filter(func(id string) bool {
		if _, ok := sk.Stay(id); ok {
			return true
		}
		if kept[id] {
			offGrid++
		} else {
			excluded++
		}
		return false
	})
	if offGrid+excluded > 0 {
		logging.FromContext(ctx).Infow("Dropped demographic rows of stays off the grid", "rows", offGrid+excluded)
		summaries.dropN(tableDemographics, metrics.ReasonOutOfWindow, offGrid)
		summaries.dropN(tableDemographics, metrics.ReasonExcludedStay, excluded)
	}
	summaries.use(tableDemographics, out.Len())
	return out, nil
}

func (p *Pipeline) observe(stage string, start time.Time) {
	metrics.StageProcessingTime.WithLabelValues(p.spec.Name, stage).Observe(time.Since(start).Seconds())
}
