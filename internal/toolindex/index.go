// Package toolindex maintains a keyword index over every tool script,
// with or without metadata, and ranks scripts against a transcript.
package toolindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/nugget/scriptvoice/internal/catalog"
)

// SnapshotVersion is written into persisted snapshots.
const SnapshotVersion = "1.0"

// Descriptor is what the index knows about one script.
type Descriptor struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Category    string            `json:"category"`
	Keywords    []string          `json:"keywords"`
	RiskLevel   catalog.RiskLevel `json:"risk_level"`
	HasMetadata bool              `json:"has_metadata"`
}

// Snapshot is an immutable index. Scripts holds every descriptor;
// Categories and Keywords only reference ids present in Scripts. Order
// is the insertion order used to break score ties.
type Snapshot struct {
	Scripts    map[string]Descriptor `json:"scripts"`
	Categories map[string][]string   `json:"categories"`
	Keywords   map[string][]string   `json:"keywords"`
	Order      []string              `json:"order"`
	Version    string                `json:"version"`
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		Scripts:    map[string]Descriptor{},
		Categories: map[string][]string{},
		Keywords:   map[string][]string{},
		Version:    SnapshotVersion,
	}
}

// add inserts d. The first descriptor registered under an id wins.
func (s *Snapshot) add(d Descriptor) bool {
	if _, dup := s.Scripts[d.ID]; dup {
		return false
	}
	s.Scripts[d.ID] = d
	s.Order = append(s.Order, d.ID)
	s.Categories[d.Category] = append(s.Categories[d.Category], d.ID)
	for _, kw := range d.Keywords {
		k := strings.ToLower(kw)
		if !containsString(s.Keywords[k], d.ID) {
			s.Keywords[k] = append(s.Keywords[k], d.ID)
		}
	}
	return true
}

// normalize repairs snapshots written without an order array.
func (s *Snapshot) normalize() {
	if s.Scripts == nil {
		s.Scripts = map[string]Descriptor{}
	}
	if s.Categories == nil {
		s.Categories = map[string][]string{}
	}
	if s.Keywords == nil {
		s.Keywords = map[string][]string{}
	}
	if s.Version == "" {
		s.Version = SnapshotVersion
	}

	seen := make(map[string]bool, len(s.Scripts))
	order := s.Order[:0:0]
	for _, id := range s.Order {
		if _, ok := s.Scripts[id]; ok && !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}
	var missing []string
	for id := range s.Scripts {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	s.Order = append(order, missing...)
}

// Len returns the number of indexed scripts.
func (s *Snapshot) Len() int { return len(s.Scripts) }

// Index is the concurrent-safe handle to the current snapshot. Reads
// never block; Rebuild swaps in a fully built replacement.
type Index struct {
	scriptsDir string
	ext        string
	path       string
	logger     *slog.Logger

	current atomic.Pointer[Snapshot]
}

// New creates an index over scriptsDir persisted at path. The index is
// empty until [Index.BuildOrLoad] or [Index.Rebuild] is called.
func New(scriptsDir, ext, path string, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	if ext == "" {
		ext = catalog.DefaultExtension
	}
	idx := &Index{
		scriptsDir: scriptsDir,
		ext:        ext,
		path:       path,
		logger:     logger.With("component", "toolindex"),
	}
	idx.current.Store(newSnapshot())
	return idx
}

// Snapshot returns the current immutable snapshot.
func (idx *Index) Snapshot() *Snapshot {
	return idx.current.Load()
}

// BuildOrLoad loads the persisted snapshot when one exists, otherwise
// builds from the scripts directory and persists the result. A corrupt
// snapshot is logged and rebuilt.
func (idx *Index) BuildOrLoad() error {
	snap, err := LoadSnapshot(idx.path)
	switch {
	case err == nil:
		idx.current.Store(snap)
		idx.logger.Info("index loaded", "path", idx.path, "scripts", snap.Len())
		return nil
	case errors.Is(err, os.ErrNotExist):
	default:
		idx.logger.Warn("index snapshot unreadable, rebuilding", "path", idx.path, "error", err)
	}
	_, err = idx.Rebuild()
	return err
}

// Rebuild re-scans the scripts directory, persists the snapshot and
// makes it current. It returns the number of indexed scripts.
func (idx *Index) Rebuild() (int, error) {
	snap, err := Build(idx.scriptsDir, idx.ext, idx.logger)
	if err != nil {
		return 0, err
	}
	if idx.path != "" {
		if err := snap.Save(idx.path); err != nil {
			return 0, err
		}
	}
	idx.current.Store(snap)
	idx.logger.Info("index rebuilt", "scripts", snap.Len(), "categories", len(snap.Categories))
	return snap.Len(), nil
}

// Search ranks scripts against query; see [Snapshot.Search].
func (idx *Index) Search(query string, maxResults int) []Match {
	return idx.Snapshot().Search(query, maxResults)
}

// Descriptor returns the indexed descriptor for id.
func (idx *Index) Descriptor(id string) (Descriptor, bool) {
	d, ok := idx.Snapshot().Scripts[id]
	return d, ok
}

// Categories returns every category name, sorted.
func (idx *Index) Categories() []string {
	snap := idx.Snapshot()
	out := make([]string, 0, len(snap.Categories))
	for c := range snap.Categories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// CategoryScripts returns the descriptors in category, in insertion order.
func (idx *Index) CategoryScripts(category string) []Descriptor {
	snap := idx.Snapshot()
	ids := snap.Categories[category]
	out := make([]Descriptor, 0, len(ids))
	for _, id := range ids {
		if d, ok := snap.Scripts[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Build scans dir and describes every script found. Unreadable scripts
// are logged and skipped. A missing dir produces an empty snapshot.
func Build(dir, ext string, logger *slog.Logger) (*Snapshot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	paths, err := catalog.Scan(dir, ext)
	if err != nil {
		return nil, err
	}

	snap := newSnapshot()
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable script", "path", path, "error", err)
			continue
		}
		id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if !snap.add(describe(id, string(data))) {
			logger.Warn("duplicate script id, keeping first", "id", id, "path", path)
		}
	}
	return snap, nil
}

// LoadSnapshot reads a persisted snapshot.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	snap := newSnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("parse index snapshot: %w", err)
	}
	snap.normalize()
	return snap, nil
}

// Save writes the snapshot as indented JSON.
func (s *Snapshot) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return os.Rename(tmp, path)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
