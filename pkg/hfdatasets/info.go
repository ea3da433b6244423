// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfdatasets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// DatasetInfo is one configuration's metadata from the dataset card. Missing
// fields stay at their zero values.
type DatasetInfo struct {
	ConfigName  string
	Description string
	Homepage    string
	License     string
	Citation    string
	Features    []Feature
	Splits      []SplitInfo
}

// Feature is a named column with its declared dtype.
type Feature struct {
	Name  string
	DType string
}

// SplitInfo is a split's name and its declared example count.
type SplitInfo struct {
	Name        string
	NumExamples int64
}

// GetDatasetInfo fetches the raw dataset metadata from the hub's dataset
// endpoint. The response flows through the cache like any other download, so
// repeated calls revalidate by etag and offline mode replays the last copy.
func GetDatasetInfo(ctx context.Context, repoID string, opts Options) (map[string]any, error) {
	o, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	if !IsValidRepoID(repoID) {
		return nil, &ArgumentError{
			Field:  "repository",
			Reason: fmt.Sprintf("%q is not an owner/name id", repoID),
			Err:    ErrInvalidRepo,
		}
	}
	cache := NewCache(o.CacheDir, o.HTTPClient)
	p, err := cache.Download(ctx, infoURL(o.Endpoint, repoID), CacheOptions{
		Scope:            CacheScope(repoID),
		Token:            o.AuthToken,
		Etag:             o.Etag,
		Offline:          o.Offline,
		DownloadMode:     o.DownloadMode,
		VerificationMode: o.VerificationMode,
		MaxRetries:       o.MaxRetries,
		Events:           o.Progress,
	})
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ParseError{What: "dataset info", Err: err}
	}
	return m, nil
}

// GetDatasetInfos parses cardData.dataset_info into records. The hub serves
// it as an array for multi-config datasets and as a single object otherwise;
// both shapes are accepted. No card data means no infos, not an error.
func GetDatasetInfos(ctx context.Context, repoID string, opts Options) ([]DatasetInfo, error) {
	m, err := GetDatasetInfo(ctx, repoID, opts)
	if err != nil {
		return nil, err
	}
	return datasetInfosFromAPI(m)
}

// GetDatasetSplitNames flattens the split names across all configurations,
// deduplicated in first-seen order.
func GetDatasetSplitNames(ctx context.Context, repoID string, opts Options) ([]string, error) {
	infos, err := GetDatasetInfos(ctx, repoID, opts)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var names []string
	for _, info := range infos {
		for _, s := range info.Splits {
			if s.Name == "" || seen[s.Name] {
				continue
			}
			seen[s.Name] = true
			names = append(names, s.Name)
		}
	}
	return names, nil
}

// GetDatasetConfigNames lists the configuration names, deduplicated in
// first-seen order.
func GetDatasetConfigNames(ctx context.Context, repoID string, opts Options) ([]string, error) {
	infos, err := GetDatasetInfos(ctx, repoID, opts)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var names []string
	for _, info := range infos {
		if info.ConfigName == "" || seen[info.ConfigName] {
			continue
		}
		seen[info.ConfigName] = true
		names = append(names, info.ConfigName)
	}
	return names, nil
}

func datasetInfosFromAPI(m map[string]any) ([]DatasetInfo, error) {
	card, _ := m["cardData"].(map[string]any)
	if card == nil {
		return nil, nil
	}
	raw, ok := card["dataset_info"]
	if !ok {
		return nil, nil
	}
	switch v := raw.(type) {
	case []any:
		infos := make([]DatasetInfo, 0, len(v))
		for _, e := range v {
			if em, ok := e.(map[string]any); ok {
				infos = append(infos, DatasetInfoFromMap(em))
			}
		}
		return infos, nil
	case map[string]any:
		return []DatasetInfo{DatasetInfoFromMap(v)}, nil
	default:
		return nil, &ParseError{What: "dataset_info card", Err: fmt.Errorf("unexpected type %T", raw)}
	}
}

// DatasetInfoFromMap decodes one dataset_info object. Unknown keys are
// ignored, missing ones stay zero.
func DatasetInfoFromMap(m map[string]any) DatasetInfo {
	info := DatasetInfo{
		ConfigName:  asString(m["config_name"]),
		Description: asString(m["description"]),
		Homepage:    asString(m["homepage"]),
		License:     asString(m["license"]),
		Citation:    asString(m["citation"]),
	}
	if feats, ok := m["features"].([]any); ok {
		for _, f := range feats {
			if fm, ok := f.(map[string]any); ok {
				info.Features = append(info.Features, Feature{
					Name:  asString(fm["name"]),
					DType: asString(fm["dtype"]),
				})
			}
		}
	}
	if splits, ok := m["splits"].([]any); ok {
		for _, s := range splits {
			if sm, ok := s.(map[string]any); ok {
				info.Splits = append(info.Splits, SplitInfo{
					Name:        asString(sm["name"]),
					NumExamples: asInt64(sm["num_examples"]),
				})
			}
		}
	}
	return info
}

// ToMap is the inverse of DatasetInfoFromMap: zero fields are omitted, so
// the two round-trip.
func (d DatasetInfo) ToMap() map[string]any {
	m := make(map[string]any)
	if d.ConfigName != "" {
		m["config_name"] = d.ConfigName
	}
	if d.Description != "" {
		m["description"] = d.Description
	}
	if d.Homepage != "" {
		m["homepage"] = d.Homepage
	}
	if d.License != "" {
		m["license"] = d.License
	}
	if d.Citation != "" {
		m["citation"] = d.Citation
	}
	if len(d.Features) > 0 {
		feats := make([]any, 0, len(d.Features))
		for _, f := range d.Features {
			feats = append(feats, map[string]any{"name": f.Name, "dtype": f.DType})
		}
		m["features"] = feats
	}
	if len(d.Splits) > 0 {
		splits := make([]any, 0, len(d.Splits))
		for _, s := range d.Splits {
			splits = append(splits, map[string]any{"name": s.Name, "num_examples": s.NumExamples})
		}
		m["splits"] = splits
	}
	return m
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}
