// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfdatasets_test

import (
	"context"
	"fmt"
	"os"

	"github.com/bodaay/HuggingFaceDatasets/pkg/hfdatasets"
)

func ExampleLoadDataset() {
	ctx := context.Background()

	ds, err := hfdatasets.LoadDataset(ctx, "stanfordnlp/imdb", hfdatasets.Options{
		Split: "train",
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Loaded %d files with %d rows\n", len(ds.Files), ds.NumRows())
	for i, table := range ds.Tables {
		fmt.Printf("  %s: %d rows, columns %v\n", ds.Files[i], table.Len(), table.Columns())
	}
}

func ExampleLoadDataset_streaming() {
	ctx := context.Background()

	// Streaming keeps memory flat: rows arrive in batches and parquet files
	// are read over HTTP without being downloaded whole.
	ds, err := hfdatasets.LoadDataset(ctx, "owner/large-corpus", hfdatasets.Options{
		Streaming: true,
		BatchSize: 1000,
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	it := ds.Stream.Iter()
	defer it.Close()
	for it.Next(ctx) {
		batch := it.Batch()
		fmt.Printf("batch of %d rows\n", len(batch))
	}
	if err := it.Err(); err != nil {
		fmt.Printf("Error: %v\n", err)
	}
}

func ExampleLoad_localDirectory() {
	// A directory of CSV, JSONL or parquet files loads without any network.
	ds, err := hfdatasets.Load(context.Background(), hfdatasets.Local("./data"), hfdatasets.Options{
		Split: "train",
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("%d rows\n", ds.NumRows())
}

func ExampleLoadDataset_withProgress() {
	// Progress callback
	progress := func(e hfdatasets.ProgressEvent) {
		switch e.Event {
		case "plan_item":
			fmt.Printf("Planned: %s\n", e.File)
		case "file_done":
			fmt.Printf("Downloaded: %s\n", e.File)
		case "done":
			fmt.Println("Complete!")
		}
	}

	_, err := hfdatasets.LoadDataset(context.Background(), "owner/dataset", hfdatasets.Options{
		Progress: progress,
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
	}
}

func ExampleGetDatasetSplitNames() {
	names, err := hfdatasets.GetDatasetSplitNames(context.Background(), "stanfordnlp/imdb", hfdatasets.Options{})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	for _, name := range names {
		fmt.Println(name)
	}
}

func ExampleIsValidRepoID() {
	// Valid ids
	fmt.Println(hfdatasets.IsValidRepoID("user/dataset"))    // true
	fmt.Println(hfdatasets.IsValidRepoID("facebook/flores")) // true

	// Invalid ids
	fmt.Println(hfdatasets.IsValidRepoID("dataset")) // false (no owner)
	fmt.Println(hfdatasets.IsValidRepoID(""))        // false (empty)
	fmt.Println(hfdatasets.IsValidRepoID("a/b/c"))   // false (too many parts)

	// Output:
	// true
	// true
	// false
	// false
	// false
}

func ExampleOptions_authentication() {
	// For private or gated repositories
	opts := hfdatasets.Options{
		AuthToken: os.Getenv("HF_TOKEN"), // Use environment variable
	}

	_, err := hfdatasets.LoadDataset(context.Background(), "org/private-dataset", opts)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
	}
}

func ExampleOptions_performance() {
	// High-performance settings for fast networks
	opts := hfdatasets.Options{
		NumProc:            8,        // 8 files fetched and decoded at once
		MultipartThreshold: 16 << 20, // Ranged parts for files >= 16MiB
		MaxRetries:         6,        // More retries for unstable connections
	}

	_ = opts // Use in LoadDataset()
}
