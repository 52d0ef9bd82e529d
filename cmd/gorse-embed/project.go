// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/gorse-io/latent/model/embed"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newProjectCommand() *cobra.Command {
	projectCommand := &cobra.Command{
		Use:   "project",
		Short: "Train embeddings and project sampled items to 2-D.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sampleSize, _ := cmd.Flags().GetInt("sample-size")
			output, _ := cmd.Flags().GetString("output")
			s, err := train(cmd)
			if err != nil {
				return err
			}
			defer s.model.Dispose()
			result, err := s.model.Project(sampleSize)
			if err != nil {
				return errors.Trace(err)
			}
			if output == "" {
				return s.printProjection(cmd.OutOrStdout(), result)
			}
			file, err := os.Create(output)
			if err != nil {
				return errors.Trace(err)
			}
			if err = s.writeProjection(file, result); err != nil {
				_ = file.Close()
				return err
			}
			return errors.Trace(file.Close())
		},
	}
	projectCommand.Flags().Int("sample-size", 100, "number of sampled items")
	projectCommand.Flags().StringP("output", "o", "", "write tab separated coordinates to a file instead of a table")
	projectCommand.Flags().Bool("no-progress", false, "hide the progress bar")
	return projectCommand
}

func (s *session) printProjection(w io.Writer, result *embed.ProjectionResult) error {
	table := tablewriter.NewWriter(w)
	table.Header("Item", "X", "Y")
	for i, c := range result.Coordinates {
		if err := table.Append([]string{
			s.itemName(result.SampleIndices[i]),
			strconv.FormatFloat(float64(c[0]), 'f', 4, 32),
			strconv.FormatFloat(float64(c[1]), 'f', 4, 32),
		}); err != nil {
			return errors.Trace(err)
		}
	}
	if err := table.Render(); err != nil {
		return errors.Trace(err)
	}
	_, err := fmt.Fprintf(w, "explained variance: %.4f, %.4f\n", result.ExplainedVariance[0], result.ExplainedVariance[1])
	return errors.Trace(err)
}

func (s *session) writeProjection(w io.Writer, result *embed.ProjectionResult) error {
	buf := bufio.NewWriter(w)
	for i, c := range result.Coordinates {
		if _, err := fmt.Fprintf(buf, "%s\t%g\t%g\n", s.itemName(result.SampleIndices[i]), c[0], c[1]); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(buf.Flush())
}
