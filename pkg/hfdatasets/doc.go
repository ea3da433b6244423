// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package hfdatasets loads tabular datasets from the Hugging Face Hub and
// from local directories behind one API: list the files of a dataset
// repository, filter them by configuration name and split, fetch them through
// a content-addressed on-disk cache, and materialize them either as in-memory
// tables or as a lazy stream of row batches.
//
// # Loading
//
// The entry point is Load. A repository handle is either Remote ("owner/name"
// on the hub) or Local (a directory of csv/jsonl/parquet files); LoadDataset
// picks one from the shape of its argument:
//
//	ds, err := hfdatasets.LoadDataset(ctx, "user/set",
//		hfdatasets.Options{Split: "train"})
//	for _, tb := range ds.Tables {
//		fmt.Println(tb.Len())
//	}
//
// With Options.Streaming set, Load returns a restartable Stream instead of
// materialized tables. Each iterator pulls batches of Options.BatchSize rows,
// walking the filtered files in order and skipping files that fail to open:
//
//	it := ds.Stream.Iter()
//	for it.Next(ctx) {
//		rows := it.Batch()
//		...
//	}
//	err = it.Err()
//
// Parquet files stream lazily, over HTTP too (ranged reads). CSV and JSONL
// decode incrementally from disk; remote copies are fetched whole into the
// cache first, since only Parquet supports range-based remote reads in
// practice.
//
// # Caching
//
// Remote files land in a content-addressed cache keyed by URL and etag:
// <cache_dir>/huggingface/<scope>/<enc(url)>.json holds {"etag","url"} and
// the payload sits next to it as <enc(url)>.<enc(etag)>. enc is lowercase
// unpadded base32 (of the MD5 for URLs, of the raw bytes for etags). The etag
// comes from a HEAD probe preferring the x-linked-etag header over etag, with
// redirects handled manually so Authorization never leaks to a third-party
// host. Writes are atomic; a failed download rolls the entry back to absent.
//
// Offline mode (the DATASETS_OFFLINE variable, or Options.Offline) serves
// everything from the cache and performs no network I/O at all.
//
// # Authentication
//
// A token is read from Options.AuthToken or the HF_TOKEN variable and sent as
// a bearer header. Tokens not starting with "hf_" are ignored.
//
// # Dataset metadata
//
// GetDatasetInfos, GetDatasetSplitNames and GetDatasetConfigNames query the
// hub's dataset-info endpoint and parse the card's dataset_info section.
package hfdatasets
