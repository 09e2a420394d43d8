// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

// Revision is a local, monotonically increasing snapshot counter.
type Revision uint64

// Snapshot is an immutable view of the graph published by Reload.
type Snapshot struct {
	// Graph must not be mutated.
	Graph *Graph

	// Revision increases by one on every successful swap.
	Revision Revision

	// LoadedAt is when the snapshot was built.
	LoadedAt time.Time

	// ModTime is the document modification time observed at load.
	// Zero when the document did not exist.
	ModTime time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger used for load diagnostics.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store loads and persists the graph document and publishes snapshots.
//
// # Description
//
// The document is the only coordination point between processes. Every
// writer performs a blind whole-document read-modify-write: Load, mutate the
// private graph, Save. There is no locking and no version check, so two
// writers racing on the same document lose one update (the later Save wins
// entirely). That trade-off is accepted for this single-user system.
//
// Readers use Current, which is lock-free. Reload builds a fresh graph and
// swaps the pointer, so readers see either the old or the new graph, never a
// mix.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Store struct {
	path   string
	logger *slog.Logger

	current  atomic.Pointer[Snapshot]
	revision atomic.Uint64
	reloads  singleflight.Group

	subMu   sync.Mutex
	subs    map[uint64]chan Revision
	nextSub uint64
}

// NewStore creates a store for the document at path.
//
// The store starts with an empty revision-0 snapshot; call Reload to
// publish the document's contents.
func NewStore(path string, opts ...StoreOption) *Store {
	s := &Store{
		path:   filepath.Clean(path),
		logger: slog.Default(),
		subs:   make(map[uint64]chan Revision),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(&Snapshot{Graph: NewGraph(), LoadedAt: time.Now()})
	return s
}

// Path returns the document path.
func (s *Store) Path() string { return s.path }

// Load reads the document and builds a new graph.
//
// # Description
//
// Never fails. A missing document is created empty and yields an empty
// graph. Malformed content or a read error is logged and yields an empty
// graph; the next Save rewrites the file. Invalid nodes or edges inside an
// otherwise valid document are skipped with a warning.
//
// # Outputs
//
//   - *Graph: A private graph the caller may mutate.
func (s *Store) Load(ctx context.Context) *Graph {
	g, _ := s.load(ctx)
	return g
}

func (s *Store) load(ctx context.Context) (*Graph, time.Time) {
	ctx, span := startStoreSpan(ctx, "Load", s.path)
	defer span.End()
	start := time.Now()

	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		recordLoad(loadMissing, time.Since(start).Seconds())
		s.logger.Info("graph document not found, creating empty one", slog.String("path", s.path))
		g := NewGraph()
		if err := s.Save(ctx, g); err != nil {
			s.logger.Warn("failed to create empty graph document",
				slog.String("path", s.path), slog.String("error", err.Error()))
		}
		return g, time.Time{}
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		recordLoad(loadError, time.Since(start).Seconds())
		span.RecordError(err)
		s.logger.Error("failed to read graph document, using empty graph",
			slog.String("path", s.path), slog.String("error", err.Error()))
		return NewGraph(), time.Time{}
	}

	doc, err := DecodeDocument(data)
	if err != nil {
		recordLoad(loadMalformed, time.Since(start).Seconds())
		span.RecordError(err)
		s.logger.Error("graph document is corrupt, using empty graph",
			slog.String("path", s.path), slog.String("error", err.Error()))
		return NewGraph(), info.ModTime()
	}

	g, skipped := FromDocument(doc)
	for _, e := range skipped {
		s.logger.Warn("skipping invalid graph entry",
			slog.String("path", s.path), slog.String("error", e.Error()))
	}
	recordLoad(loadOK, time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("graph.nodes", g.NodeCount()),
		attribute.Int("graph.edges", g.EdgeCount()),
	)
	s.logger.Debug("graph document loaded",
		slog.String("path", s.path),
		slog.String("system_id", doc.SystemID),
		slog.String("version", doc.Version()),
		slog.Int("nodes", g.NodeCount()),
		slog.Int("edges", g.EdgeCount()),
	)
	return g, info.ModTime()
}

// Save writes the full graph to the document.
//
// # Description
//
// The document is written to a temporary file in the same directory and
// renamed into place, so readers never observe a partially written file.
//
// # Outputs
//
//   - error: Non-nil only for resource-level failures (permissions, disk).
func (s *Store) Save(ctx context.Context, g *Graph) (err error) {
	_, span := startStoreSpan(ctx, "Save", s.path)
	defer func() {
		recordSave(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	data, err := EncodeDocument(g.ToDocument())
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create graph directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp document: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp document: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp document: %w", err)
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp document: %w", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace graph document: %w", err)
	}

	span.SetAttributes(
		attribute.Int("graph.nodes", g.NodeCount()),
		attribute.Int("graph.edges", g.EdgeCount()),
	)
	return nil
}

// Reload loads the document and atomically publishes it as the active
// snapshot.
//
// # Description
//
// Concurrent calls are coalesced. A caller that joined an in-flight reload
// whose snapshot is already older than the document reloads once more, so a
// write that landed during the shared load is not missed.
//
// # Outputs
//
//   - *Snapshot: The snapshot active after the call.
func (s *Store) Reload(ctx context.Context) *Snapshot {
	snap, shared := s.reloadOnce(ctx)
	if shared && s.documentNewerThan(snap) {
		snap, _ = s.reloadOnce(ctx)
	}
	return snap
}

func (s *Store) reloadOnce(ctx context.Context) (*Snapshot, bool) {
	v, _, shared := s.reloads.Do("reload", func() (any, error) {
		g, modTime := s.load(ctx)
		snap := &Snapshot{
			Graph:    g,
			Revision: Revision(s.revision.Add(1)),
			LoadedAt: time.Now(),
			ModTime:  modTime,
		}
		s.current.Store(snap)
		recordSwap(snap)
		s.publish(snap.Revision)
		s.logger.Info("graph snapshot swapped",
			slog.Uint64("revision", uint64(snap.Revision)),
			slog.Int("nodes", g.NodeCount()),
			slog.Int("edges", g.EdgeCount()),
		)
		return snap, nil
	})
	return v.(*Snapshot), shared
}

func (s *Store) documentNewerThan(snap *Snapshot) bool {
	info, err := os.Stat(s.path)
	if err != nil {
		return false
	}
	return info.ModTime().After(snap.ModTime)
}

// Current returns the active snapshot. Never nil.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Graph returns the active snapshot's graph. Callers must not mutate it.
func (s *Store) Graph() *Graph {
	return s.current.Load().Graph
}

// Subscribe returns a stream of revisions published by Reload.
//
// # Description
//
// A slow subscriber never blocks a swap: when its buffer is full the oldest
// pending revision is dropped in favour of the newest. The returned cancel
// function closes the channel and is safe to call more than once.
//
// # Inputs
//
//   - buffer: Channel capacity. Values below 1 are raised to 1.
func (s *Store) Subscribe(buffer int) (<-chan Revision, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Revision, buffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store) publish(rev Revision) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- rev:
			continue
		default:
		}
		// Buffer full: drop the oldest pending revision.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- rev:
		default:
		}
	}
}
