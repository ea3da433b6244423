// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bodaay/HuggingFaceDatasets/pkg/hfdatasets"
)

func newInfoCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	var (
		raw         bool
		splitsOnly  bool
		configsOnly bool
	)

	cmd := &cobra.Command{
		Use:   "info REPO",
		Short: "Show dataset metadata (configs, splits, features)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := baseOptions(cmd, ro)
			if err != nil {
				return err
			}
			repoID := args[0]
			out := cmd.OutOrStdout()

			if raw {
				m, err := hfdatasets.GetDatasetInfo(ctx, repoID, opts)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(m)
			}

			if splitsOnly {
				names, err := hfdatasets.GetDatasetSplitNames(ctx, repoID, opts)
				if err != nil {
					return err
				}
				return printNames(out, names, ro.JSONOut)
			}
			if configsOnly {
				names, err := hfdatasets.GetDatasetConfigNames(ctx, repoID, opts)
				if err != nil {
					return err
				}
				return printNames(out, names, ro.JSONOut)
			}

			infos, err := hfdatasets.GetDatasetInfos(ctx, repoID, opts)
			if err != nil {
				return err
			}
			if ro.JSONOut {
				maps := make([]map[string]any, 0, len(infos))
				for _, info := range infos {
					maps = append(maps, info.ToMap())
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(maps)
			}
			if len(infos) == 0 {
				fmt.Fprintln(out, "no dataset_info card data")
				return nil
			}
			for _, info := range infos {
				cfg := info.ConfigName
				if cfg == "" {
					cfg = "default"
				}
				fmt.Fprintf(out, "%s:\n", cfg)
				if info.License != "" {
					fmt.Fprintf(out, "  license:  %s\n", info.License)
				}
				if info.Homepage != "" {
					fmt.Fprintf(out, "  homepage: %s\n", info.Homepage)
				}
				for _, f := range info.Features {
					fmt.Fprintf(out, "  feature:  %s (%s)\n", f.Name, f.DType)
				}
				for _, s := range info.Splits {
					fmt.Fprintf(out, "  split:    %s (%d examples)\n", s.Name, s.NumExamples)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print the raw dataset-info JSON from the hub")
	cmd.Flags().BoolVar(&splitsOnly, "splits", false, "Print only the split names")
	cmd.Flags().BoolVar(&configsOnly, "configs", false, "Print only the configuration names")

	return cmd
}

func printNames(out io.Writer, names []string, jsonOut bool) error {
	if jsonOut {
		return json.NewEncoder(out).Encode(names)
	}
	for _, n := range names {
		fmt.Fprintln(out, n)
	}
	return nil
}
