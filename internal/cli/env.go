// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bodaay/HuggingFaceDatasets/pkg/hfdatasets"
)

func newEnvCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show the resolved environment (cache dir, endpoint, offline state)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := baseOptions(cmd, ro)
			if err != nil {
				return err
			}
			norm := hfdatasets.DefaultOptions()
			if opts.CacheDir == "" {
				opts.CacheDir = hfdatasets.DefaultCacheDir()
			}
			if opts.Endpoint == "" {
				opts.Endpoint = norm.Endpoint
			}
			offline := ro.Offline || hfdatasets.IsOfflineEnv()
			hasToken := opts.AuthToken != "" ||
				strings.HasPrefix(strings.TrimSpace(os.Getenv(hfdatasets.EnvToken)), "hf_")

			if ro.JSONOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"cacheDir": opts.CacheDir,
					"endpoint": opts.Endpoint,
					"offline":  offline,
					"token":    hasToken,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cache dir:  %s\n", opts.CacheDir)
			fmt.Fprintf(out, "endpoint:   %s\n", opts.Endpoint)
			fmt.Fprintf(out, "offline:    %t\n", offline)
			if hasToken {
				fmt.Fprintln(out, "token:      set")
			} else {
				fmt.Fprintln(out, "token:      not set")
			}
			return nil
		},
	}
}
