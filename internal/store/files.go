package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/repopilot/internal/beads"
	"github.com/fyrsmithlabs/repopilot/internal/pipeline"
)

// Files stores per-run JSON snapshots on disk. Each run gets two files
// in the runs directory: <run_id>.json (the run record) and
// <run_id>.beads.json (the full bead ledger, rewritten on every bead
// mutation). Snapshots are written atomically via rename.
type Files struct {
	dir string

	mu     sync.Mutex
	ledger map[string][]beads.Bead // run_id -> beads in seq order
}

// NewFiles creates the snapshot store rooted at dir, creating the
// directory if needed.
func NewFiles(dir string) (*Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating runs directory: %w", err)
	}
	return &Files{dir: dir, ledger: map[string][]beads.Bead{}}, nil
}

// Dir returns the snapshot directory path.
func (f *Files) Dir() string {
	return f.dir
}

// UpsertBead records the bead and rewrites the run's ledger snapshot.
// Implements beads.Sink.
func (f *Files) UpsertBead(_ context.Context, b beads.Bead) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	list := f.ledger[b.RunID]
	replaced := false
	for i := range list {
		if list[i].ID == b.ID {
			list[i] = b
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, b)
		sort.Slice(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	}
	f.ledger[b.RunID] = list

	return f.writeJSON(f.beadsPath(b.RunID), list)
}

// WriteRun writes the run record snapshot.
func (f *Files) WriteRun(_ context.Context, r pipeline.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeJSON(f.runPath(r.ID), r)
}

// ReadRun loads a run record snapshot, or ErrNotFound.
func (f *Files) ReadRun(_ context.Context, runID string) (pipeline.Run, error) {
	var r pipeline.Run
	if err := f.readJSON(f.runPath(runID), &r); err != nil {
		return pipeline.Run{}, err
	}
	return r, nil
}

// ReadBeads loads the bead ledger snapshot for a run, or ErrNotFound.
func (f *Files) ReadBeads(_ context.Context, runID string) ([]beads.Bead, error) {
	var list []beads.Bead
	if err := f.readJSON(f.beadsPath(runID), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ListRunIDs returns the IDs of all runs with a record snapshot,
// sorted lexically (which is chronological for timestamped run IDs).
func (f *Files) ListRunIDs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("reading runs directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".beads.json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Forget drops a run's in-memory ledger once the run is terminal.
// On-disk snapshots are kept.
func (f *Files) Forget(runID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ledger, runID)
}

func (f *Files) runPath(runID string) string {
	return filepath.Join(f.dir, runID+".json")
}

func (f *Files) beadsPath(runID string) string {
	return filepath.Join(f.dir, runID+".beads.json")
}

func (f *Files) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming snapshot: %w", err)
	}
	return nil
}

func (f *Files) readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", filepath.Base(path), ErrNotFound)
		}
		return fmt.Errorf("reading snapshot: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshaling snapshot %s: %w", filepath.Base(path), err)
	}
	return nil
}
