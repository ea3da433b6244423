// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bodaay/HuggingFaceDatasets/internal/server"
	"github.com/bodaay/HuggingFaceDatasets/pkg/hfdatasets"
)

func newServeCmd(ro *RootOpts) *cobra.Command {
	var (
		addr    string
		port    int
		origins []string
		jobs    int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server for web-based dataset access",
		Long: `Start an HTTP server that provides:
  - REST API for fetch jobs, row preview and dataset metadata
  - WebSocket for live progress updates
  - Web UI for browser-based access

The cache directory is configured server-side only (not via API).

Example:
  hfdatasets serve
  hfdatasets serve --port 3000
  hfdatasets serve --cache-dir /data/hf-cache`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Build server config
			cfg := server.Config{
				Addr:           addr,
				Port:           port,
				CacheDir:       ro.CacheDir,
				Endpoint:       ro.Endpoint,
				NumProc:        jobs,
				Offline:        ro.Offline,
				AllowedOrigins: origins,
			}

			// Get token from flag or env
			token := strings.TrimSpace(ro.Token)
			if token == "" {
				token = strings.TrimSpace(os.Getenv(hfdatasets.EnvToken))
			}
			cfg.Token = token

			// Create and start server
			srv := server.New(cfg)

			// Handle shutdown signals
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			fmt.Println()
			fmt.Println("hfdatasets server mode")
			fmt.Println()

			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "0.0.0.0", "Address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().StringSliceVar(&origins, "origins", nil, "Allowed CORS origins (default: any)")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 2, "Parallel fetches per job")

	return cmd
}
