// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bodaay/HuggingFaceDatasets/pkg/hfdatasets"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	Token    string
	Endpoint string
	CacheDir string
	Offline  bool
	JSONOut  bool
	Quiet    bool
	Verbose  bool
	Config   string
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ro := &RootOpts{}
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := &cobra.Command{
		Use:           "hfdatasets",
		Short:         "Fetch, cache and stream tabular datasets from the Hugging Face Hub",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	// Global flags
	root.PersistentFlags().StringVarP(&ro.Token, "token", "t", "", "Hugging Face access token (also reads HF_TOKEN env)")
	root.PersistentFlags().StringVar(&ro.Endpoint, "endpoint", "", "Hub base URL (also reads HF_ENDPOINT env)")
	root.PersistentFlags().StringVar(&ro.CacheDir, "cache-dir", "", "Cache root directory (also reads DATASETS_CACHE_DIR env)")
	root.PersistentFlags().BoolVar(&ro.Offline, "offline", false, "Never touch the network; serve from cache only")
	root.PersistentFlags().BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON events (progress, listings, results)")
	root.PersistentFlags().BoolVarP(&ro.Quiet, "quiet", "q", false, "Quiet mode (minimal output)")
	root.PersistentFlags().BoolVarP(&ro.Verbose, "verbose", "v", false, "Verbose output")
	root.PersistentFlags().StringVar(&ro.Config, "config", "", "Path to config file (JSON or YAML)")

	// Add commands
	fetchCmd := newFetchCmd(ctx, ro)
	root.AddCommand(fetchCmd)
	root.AddCommand(newRowsCmd(ctx, ro))
	root.AddCommand(newInfoCmd(ctx, ro))
	root.AddCommand(newLsCmd(ctx, ro))
	root.AddCommand(newEnvCmd(ro))
	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newServeCmd(ro))
	root.AddCommand(newConfigCmd())

	// Make fetch the default command when no subcommand is given
	root.RunE = fetchCmd.RunE
	root.Flags().AddFlagSet(fetchCmd.Flags())
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// baseOptions turns global flags plus the config file into a library option
// bag. Flag > config file > env > default.
func baseOptions(cmd *cobra.Command, ro *RootOpts) (hfdatasets.Options, error) {
	opts := hfdatasets.Options{}
	if err := applyConfigDefaults(cmd, ro, &opts); err != nil {
		return opts, err
	}

	if tok := strings.TrimSpace(ro.Token); tok != "" {
		opts.AuthToken = tok
	}
	if ro.Endpoint != "" {
		opts.Endpoint = ro.Endpoint
	}
	if ro.CacheDir != "" {
		opts.CacheDir = ro.CacheDir
	}
	if ro.Offline {
		opts.Offline = hfdatasets.OfflineEnabled
	}
	return opts, nil
}

// repoFromArgs resolves the positional repository argument: an existing
// directory or an owner/name id.
func repoFromArgs(args []string, opts hfdatasets.Options) (hfdatasets.Repository, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing REPO: pass a directory or an owner/name id")
	}
	return hfdatasets.NewRepository(args[0], opts)
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) hfdatasets.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev hfdatasets.ProgressEvent) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}

// quietProgress returns a minimal text progress handler.
func quietProgress(w io.Writer) hfdatasets.ProgressFunc {
	return func(ev hfdatasets.ProgressEvent) {
		switch ev.Event {
		case "file_start":
			fmt.Fprintf(w, "fetching: %s (%d bytes)\n", ev.File, ev.Total)
		case "file_done":
			fmt.Fprintf(w, "done: %s\n", ev.File)
		case "retry":
			fmt.Fprintf(w, "retry %s: %s\n", ev.File, ev.Message)
		case "error":
			fmt.Fprintf(w, "error: %s: %s\n", ev.File, ev.Message)
		case "done":
			if ev.Rows > 0 {
				fmt.Fprintf(w, "loaded %d rows\n", ev.Rows)
			}
		}
	}
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
