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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/numaproj/numagrid/pkg/config"
)

func NewValidateCommand() *cobra.Command {

	var configFile string

	command := &cobra.Command{
		Use:   "validate",
		Short: "Validate a pipeline spec and its assets without reading any table",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := config.LoadPipelineSpec(configFile)
			if err != nil {
				return err
			}
			assets, err := config.LoadAssets(spec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pipeline %q is valid: %d tables, %d channels, %d feature columns\n",
				spec.Name, len(spec.Tables), len(assets.Catalog.Names()), len(assets.Columns()))
			return nil
		},
	}
	command.Flags().StringVarP(&configFile, "config", "c", "", "Pipeline spec file")
	_ = command.MarkFlagRequired("config")
	return command
}
