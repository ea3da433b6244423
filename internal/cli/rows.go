// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bodaay/HuggingFaceDatasets/pkg/hfdatasets"
)

func newRowsCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	var (
		name      string
		split     string
		revision  string
		limit     int
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "rows [REPO]",
		Short: "Stream dataset rows as JSON lines",
		Long: `Streams rows from a dataset to stdout, one JSON object per line,
without materializing whole files. Parquet files are read by byte range
directly from the hub; CSV and JSONL pass through the cache first.

Examples:
  hfdatasets rows stanfordnlp/imdb --split train --limit 20
  hfdatasets rows ./local-dir --batch-size 100`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := baseOptions(cmd, ro)
			if err != nil {
				return err
			}
			opts.Name = name
			opts.Split = split
			opts.Revision = revision
			opts.Streaming = true
			if batchSize > 0 {
				opts.BatchSize = batchSize
			}

			repo, err := repoFromArgs(args, opts)
			if err != nil {
				return err
			}
			ds, err := hfdatasets.Load(ctx, repo, opts)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)

			it := ds.Stream.Iter()
			defer it.Close()
			emitted := 0
			for it.Next(ctx) {
				for _, row := range it.Batch() {
					if err := enc.Encode(row); err != nil {
						return err
					}
					emitted++
					if limit > 0 && emitted >= limit {
						return nil
					}
				}
			}
			if err := it.Err(); err != nil {
				return err
			}
			if emitted == 0 && !ro.Quiet {
				fmt.Fprintln(cmd.ErrOrStderr(), "no rows matched")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Configuration name to select")
	cmd.Flags().StringVarP(&split, "split", "s", "", "Split to select")
	cmd.Flags().StringVarP(&revision, "revision", "b", "", "Revision to read (default main)")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Stop after this many rows (0 = all)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Rows per streamed batch (default 1000)")

	return cmd
}
