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

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/shared/logging"
	sharedutil "github.com/numaproj/numagrid/pkg/shared/util"
	"github.com/numaproj/numagrid/pkg/sources"
	"github.com/numaproj/numagrid/pkg/split"
)

func NewSplitCommand() *cobra.Command {

	var (
		staysFile string
		specFile  string
		output    string
	)

	command := &cobra.Command{
		Use:   "split",
		Short: "Rebuild the train/dev/test partition of a stay list from a persisted split spec",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger().Named("split")
			ctx := logging.WithLogger(context.Background(), logger)

			spec, err := split.LoadSpec(specFile)
			if err != nil {
				logger.Errorw("Failed to load split spec", zap.Error(err))
				return err
			}
			stays, _, err := sources.NewReader(dfv1.Project).ReadStaticFile(ctx, "stays", staysFile)
			if err != nil {
				logger.Errorw("Failed to read stay list", zap.Error(err))
				return err
			}
			p, err := split.Split(stays.StayIDs(), spec)
			if err != nil {
				return err
			}
			if output != "" {
				if err := p.Save(output); err != nil {
					return err
				}
				logger.Infow("Wrote partition", "path", output, "train", len(p.Train), "dev", len(p.Dev), "test", len(p.Test))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), sharedutil.MustJSON(p))
			return nil
		},
	}
	command.Flags().StringVar(&staysFile, "stays", "", "CSV file with a stay_id column listing the population of the run")
	command.Flags().StringVar(&specFile, "spec", "", "Persisted split spec, e.g. "+dfv1.SplitSpecFile+" of a previous run")
	command.Flags().StringVarP(&output, "output", "o", "", "Write the partition to this file instead of stdout")
	_ = command.MarkFlagRequired("stays")
	_ = command.MarkFlagRequired("spec")
	return command
}
