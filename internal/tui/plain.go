// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"sync"

	"github.com/cheggaaa/pb/v3"

	"github.com/bodaay/HuggingFaceDatasets/pkg/hfdatasets"
)

// PlainRenderer drives a single aggregate progress bar. It is the fallback
// for non-interactive terminals where the live table cannot redraw in place.
type PlainRenderer struct {
	mu     sync.Mutex
	bar    *pb.ProgressBar
	total  int64
	closed bool
}

// NewPlainRenderer creates a renderer whose bar grows as plan items arrive.
func NewPlainRenderer() *PlainRenderer {
	bar := pb.New64(0)
	bar.Set(pb.Bytes, true)
	bar.SetTemplateString(`{{counters . }} {{bar . }} {{percent . }} {{speed . }}`)
	bar.Start()
	return &PlainRenderer{bar: bar}
}

// Handler returns a ProgressFunc that feeds events to the bar.
func (p *PlainRenderer) Handler() hfdatasets.ProgressFunc {
	return func(ev hfdatasets.ProgressEvent) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			return
		}
		switch ev.Event {
		case "plan_item":
			p.total += ev.Total
			p.bar.SetTotal(p.total)
		case "file_progress":
			if ev.Bytes > 0 {
				p.bar.Add64(ev.Bytes)
			}
		}
	}
}

// Close finishes the bar.
func (p *PlainRenderer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.bar.Finish()
}
