// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bodaay/HuggingFaceDatasets/pkg/hfdatasets"
)

func newLsCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	var (
		name     string
		split    string
		revision string
		subdir   string
		filters  []string
		asTree   bool
	)

	cmd := &cobra.Command{
		Use:   "ls [REPO]",
		Short: "List a dataset's files with sizes and etags",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := baseOptions(cmd, ro)
			if err != nil {
				return err
			}
			opts.Revision = revision
			opts.Subdir = subdir

			repo, err := repoFromArgs(args, opts)
			if err != nil {
				return err
			}
			listing, err := repo.List(ctx)
			if err != nil {
				return err
			}
			listing = listing.FilterConfigSplit(name, split).Match(filters)
			if asTree && !ro.JSONOut {
				writeTree(cmd.OutOrStdout(), listing)
				return nil
			}
			return writeListing(cmd.OutOrStdout(), listing, ro.JSONOut)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Configuration name to select")
	cmd.Flags().StringVarP(&split, "split", "s", "", "Split to select")
	cmd.Flags().StringVarP(&revision, "revision", "b", "", "Revision to read (default main)")
	cmd.Flags().StringVar(&subdir, "subdir", "", "Restrict to a directory inside the repository")
	cmd.Flags().StringSliceVarP(&filters, "filter", "F", nil, "Only list files matching these globs (or /regex/)")
	cmd.Flags().BoolVar(&asTree, "tree", false, "Render the listing as a file tree")

	return cmd
}

type listedFile struct {
	Name string `json:"name"`
	Size int64  `json:"size,omitempty"`
	Etag string `json:"etag,omitempty"`
}

func writeListing(out io.Writer, listing *hfdatasets.FileListing, jsonOut bool) error {
	if jsonOut {
		files := make([]listedFile, 0, len(listing.Names))
		for _, n := range listing.Names {
			files = append(files, listedFile{Name: n, Size: listing.Sizes[n], Etag: listing.Etags[n]})
		}
		enc := json.NewEncoder(out)
		enc.SetEscapeHTML(false)
		return enc.Encode(files)
	}

	w := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	for _, n := range listing.Names {
		etag := listing.Etags[n]
		if etag == "" {
			etag = "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", n, listing.Sizes[n], etag)
	}
	return w.Flush()
}
