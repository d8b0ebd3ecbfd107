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

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/numaproj/numagrid"
	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/config"
	"github.com/numaproj/numagrid/pkg/normalize"
	"github.com/numaproj/numagrid/pkg/pipeline"
	"github.com/numaproj/numagrid/pkg/shared/logging"
	sharedutil "github.com/numaproj/numagrid/pkg/shared/util"
)

func NewAlignCommand() *cobra.Command {

	var (
		configFile     string
		referenceStats string
		output         string
		exitPoint      string
		stayList       string
		skipOutliers   bool
	)

	command := &cobra.Command{
		Use:   "align",
		Short: "Align a cohort and write the feature, intervention and demographic tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger().Named("align")
			ctx := logging.WithLogger(context.Background(), logger)

			spec, err := config.LoadPipelineSpec(configFile)
			if err != nil {
				logger.Errorw("Failed to load pipeline spec", zap.Error(err))
				return err
			}
			if output != "" {
				spec.Output = output
			} else if env := sharedutil.LookupEnvStringOr(dfv1.EnvOutputDir, ""); env != "" {
				spec.Output = env
			}
			if spec.Output == "" {
				return fmt.Errorf("no output directory, set it in the pipeline spec or with --output")
			}
			if referenceStats != "" {
				spec.ReferenceStats = referenceStats
			}
			if exitPoint != "" {
				spec.ExitPoint = dfv1.ExitPoint(exitPoint)
			}
			if stayList != "" {
				spec.StayList = stayList
			}
			if skipOutliers {
				spec.SkipOutlierRemoval = true
			}
			if err := spec.Validate(); err != nil {
				logger.Errorw("Invalid pipeline spec", zap.Error(err))
				return err
			}
			assets, err := config.LoadAssets(spec)
			if err != nil {
				logger.Errorw("Failed to load assets", zap.Error(err))
				return err
			}

			opts := []pipeline.Option{pipeline.WithVersion(numagrid.GetVersion().Version)}
			if spec.ReferenceStats != "" {
				stats, err := normalize.Load(spec.ReferenceStats)
				if err != nil {
					logger.Errorw("Failed to load reference statistics", zap.Error(err))
					return err
				}
				opts = append(opts, pipeline.WithReferenceStats(stats))
			}
			p, err := pipeline.New(spec, assets, opts...)
			if err != nil {
				return err
			}
			ctx = logging.WithLogger(ctx, logger.With("runId", p.RunID()))
			in, err := p.Load(ctx)
			if err != nil {
				logger.Errorw("Failed to read inputs", zap.Error(err))
				return err
			}
			res, err := p.Run(ctx, in)
			if err != nil {
				logger.Errorw("Failed to align cohort", zap.Error(err))
				return err
			}
			m, err := p.Write(ctx, res)
			if err != nil {
				logger.Errorw("Failed to write results", zap.Error(err))
				return err
			}
			if res.Partition == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s: stopped at %s, %d rows of %d stays written to %s\n",
					m.RunID, m.ExitPoint, m.Rows, m.Stays[dfv1.CohortStays], spec.Output)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d rows, %d train / %d dev / %d test stays written to %s\n",
				m.RunID, m.Rows, m.Stays["train"], m.Stays["dev"], m.Stays["test"], spec.Output)
			return nil
		},
	}
	command.Flags().StringVarP(&configFile, "config", "c", "", "Pipeline spec file")
	command.Flags().StringVar(&referenceStats, "reference-stats", "", "Normalization statistics of a reference cohort, overrides the pipeline spec")
	command.Flags().StringVarP(&output, "output", "o", "", "Output directory, overrides the pipeline spec")
	command.Flags().StringVar(&exitPoint, "exit-point", "", "Last stage to run: raw, outlierRemoval, impute or all")
	command.Flags().StringVar(&stayList, "stay-list", "", "Table with a stay_id column restricting the cohort")
	command.Flags().BoolVar(&skipOutliers, "skip-outlier-removal", false, "Keep values outside their plausible range")
	_ = command.MarkFlagRequired("config")
	return command
}
