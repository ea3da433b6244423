// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bodaay/HuggingFaceDatasets/internal/tui"
	"github.com/bodaay/HuggingFaceDatasets/pkg/hfdatasets"
)

func newFetchCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	var (
		name      string
		split     string
		revision  string
		subdir    string
		filters   []string
		jobs      int
		force     bool
		threshold string
		retries   int
		listOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "fetch [REPO]",
		Short: "Fetch a dataset's files into the local cache",
		Long: `Fetches the tabular files of a dataset into the content-addressed cache.

REPO is either an "owner/name" id on the Hugging Face Hub or a local
directory. Files already cached with a matching etag are not fetched again.

Examples:
  hfdatasets fetch stanfordnlp/imdb --split train
  hfdatasets fetch glue --name sst2
  hfdatasets fetch owner/name --revision refs/pr/1 --jobs 4`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := baseOptions(cmd, ro)
			if err != nil {
				return err
			}
			opts.Name = name
			opts.Split = split
			opts.Revision = revision
			opts.Subdir = subdir
			if jobs > 0 {
				opts.NumProc = jobs
			}
			if retries > 0 {
				opts.MaxRetries = retries
			}
			if force {
				opts.DownloadMode = hfdatasets.ForceRedownload
			}
			if threshold != "" {
				n, err := hfdatasets.ParseSize(threshold, hfdatasets.DefaultMultipartThreshold)
				if err != nil {
					return fmt.Errorf("invalid --multipart-threshold: %w", err)
				}
				opts.MultipartThreshold = n
			}

			repo, err := repoFromArgs(args, opts)
			if err != nil {
				return err
			}

			if listOnly {
				return printListing(cmd, ctx, repo, opts, filters, ro.JSONOut)
			}

			// Progress mode selection
			switch {
			case ro.JSONOut:
				opts.Progress = jsonProgress(os.Stdout)
			case ro.Quiet:
				opts.Progress = quietProgress(os.Stdout)
			case tui.Interactive():
				ui := tui.NewLiveRenderer(repo.String(), opts.Revision)
				defer ui.Close()
				opts.Progress = ui.Handler()
			default:
				bar := tui.NewPlainRenderer()
				defer bar.Close()
				opts.Progress = bar.Handler()
			}

			ds, err := hfdatasets.Fetch(ctx, repo, opts)
			if err != nil {
				return err
			}
			if ro.JSONOut {
				return nil // events already carried the result
			}
			if !ro.Quiet {
				fmt.Printf("fetched %d files from %s\n", len(ds.Files), repo)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Configuration name to select (substring match on filenames)")
	cmd.Flags().StringVarP(&split, "split", "s", "", "Split to select (train, test, validation, ...)")
	cmd.Flags().StringVarP(&revision, "revision", "b", "", "Revision to read (branch, tag or commit; default main)")
	cmd.Flags().StringVar(&subdir, "subdir", "", "Restrict to a directory inside the repository")
	cmd.Flags().StringSliceVarP(&filters, "filter", "F", nil, "Only list files matching these globs (or /regex/), with --list")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "Parallel fetches (default 1)")
	cmd.Flags().BoolVar(&force, "force", false, "Redownload even when a cached copy matches")
	cmd.Flags().StringVar(&threshold, "multipart-threshold", "", "Use ranged multipart downloads for files >= this size (e.g. 64MiB)")
	cmd.Flags().IntVar(&retries, "retries", 0, "Max retry attempts per fetch (default 3)")
	cmd.Flags().BoolVar(&listOnly, "list", false, "List matching files without fetching")

	return cmd
}

func printListing(cmd *cobra.Command, ctx context.Context, repo hfdatasets.Repository, opts hfdatasets.Options, filters []string, jsonOut bool) error {
	listing, err := repo.List(ctx)
	if err != nil {
		return err
	}
	listing = listing.FilterConfigSplit(opts.Name, opts.Split).Match(filters)
	return writeListing(cmd.OutOrStdout(), listing, jsonOut)
}
