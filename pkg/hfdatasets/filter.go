// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfdatasets

import (
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// FilterConfigSplit keeps the files matching a configuration name and a
// split name. The config test is a substring match on the full filename, the
// split test a substring match on the basename with its extension removed.
// Empty arguments keep everything. The two tests compose independently and
// the listing order is preserved.
func (l *FileListing) FilterConfigSplit(name, split string) *FileListing {
	out := newListing(len(l.Names))
	for _, n := range l.Names {
		if name != "" && !strings.Contains(n, name) {
			continue
		}
		if split != "" {
			base := path.Base(n)
			base = strings.TrimSuffix(base, path.Ext(base))
			if !strings.Contains(base, split) {
				continue
			}
		}
		out.keep(l, n)
	}
	return out
}

// Match keeps the files matching any of the given patterns. A pattern
// wrapped in slashes is a regular expression tested against the full name;
// anything else is a glob tried against the basename first, the full name
// second. No patterns keeps everything.
func (l *FileListing) Match(patterns []string) *FileListing {
	if len(patterns) == 0 {
		return l
	}
	var matchers []nameMatcher
	for _, p := range patterns {
		if m := newMatcher(p); m != nil {
			matchers = append(matchers, m)
		}
	}
	out := newListing(len(l.Names))
	for _, n := range l.Names {
		for _, m := range matchers {
			if m.match(n) {
				out.keep(l, n)
				break
			}
		}
	}
	return out
}

func newListing(capacity int) *FileListing {
	return &FileListing{
		Etags: make(map[string]string, capacity),
		Sizes: make(map[string]int64, capacity),
	}
}

func (l *FileListing) keep(from *FileListing, name string) {
	l.Names = append(l.Names, name)
	l.Etags[name] = from.Etags[name]
	l.Sizes[name] = from.Sizes[name]
}

type nameMatcher interface {
	match(name string) bool
}

type globMatcher struct {
	glob string
}

func (g globMatcher) match(name string) bool {
	ok, _ := filepath.Match(g.glob, path.Base(name))
	if !ok {
		ok, _ = filepath.Match(g.glob, name)
	}
	return ok
}

type regexMatcher struct {
	re *regexp.Regexp
}

func (r regexMatcher) match(name string) bool { return r.re.MatchString(name) }

func newMatcher(pattern string) nameMatcher {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil
	}
	if len(pattern) > 1 && strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/") {
		if re, err := regexp.Compile(pattern[1 : len(pattern)-1]); err == nil {
			return regexMatcher{re: re}
		}
		return nil
	}
	// Accept the common regex spellings people type into glob flags.
	pattern = strings.ReplaceAll(pattern, ".*", "*")
	pattern = strings.ReplaceAll(pattern, ".+", "*")
	return globMatcher{glob: pattern}
}
