// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watcher reloads the graph document when it changes on disk.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/AquitariBrain/services/brain/graph"
	"github.com/fsnotify/fsnotify"
)

// Reloader swaps in a fresh snapshot of the document.
type Reloader interface {
	Reload(ctx context.Context) *graph.Snapshot
}

// Options configures a DocumentWatcher.
type Options struct {
	// DebounceWindow is how long to wait for more events before reloading.
	// Default: 100ms
	DebounceWindow time.Duration

	Logger *slog.Logger
}

// DefaultOptions returns the standard watcher settings.
func DefaultOptions() Options {
	return Options{DebounceWindow: 100 * time.Millisecond}
}

// DocumentWatcher reloads a Store whenever its document file is written,
// created or renamed into place.
//
// # Description
//
// The containing directory is watched, not the file itself: an atomic save
// replaces the file's inode, which would silently end a watch on the file.
// Events for other names in the directory are ignored. Bursts of events are
// debounced into one reload.
//
// # Thread Safety
//
// Run must be called once. Stop is safe from any goroutine.
type DocumentWatcher struct {
	path     string
	reloader Reloader
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	events   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher for the document at path.
//
// # Outputs
//
//   - *DocumentWatcher: Ready to Run.
//   - error: Non-nil if the OS watch could not be created or the directory
//     could not be watched.
func New(path string, reloader Reloader, opts Options) (*DocumentWatcher, error) {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultOptions().DebounceWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve document path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &DocumentWatcher{
		path:     abs,
		reloader: reloader,
		watcher:  w,
		debounce: opts.DebounceWindow,
		logger:   opts.Logger.With(slog.String("component", "watcher")),
		events:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// Run processes events until ctx is cancelled or Stop is called. It always
// returns nil so it can run under an errgroup next to the HTTP server.
func (w *DocumentWatcher) Run(ctx context.Context) error {
	defer w.Stop()
	w.logger.Info("watching graph document", slog.String("path", w.path))

	go w.processEvents(ctx)
	w.debounceLoop(ctx)
	return nil
}

// Stop releases the OS watch.
func (w *DocumentWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

// relevant reports whether event names the document with an op that may
// have changed its content.
func (w *DocumentWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (w *DocumentWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			// One pending signal is enough; the debouncer reloads the whole file.
			select {
			case w.events <- struct{}{}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *DocumentWatcher) debounceLoop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-w.events:
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			snap := w.reloader.Reload(ctx)
			if snap != nil {
				w.logger.Info("graph document reloaded",
					slog.Uint64("revision", uint64(snap.Revision)),
					slog.Int("nodes", snap.Graph.NodeCount()),
					slog.Int("edges", snap.Graph.EdgeCount()),
				)
			}
		}
	}
}
