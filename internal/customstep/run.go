// Package customstep schedules and executes user-defined instructions at the
// named phases of a processing run.
//
// A Run carries the state shared by every phase of one pipeline execution:
// the master file cache and the aggregate space estimates. Scheduling and
// execution are strictly sequential, so neither is locked.
package customstep

import (
	"log/slog"
	"sort"

	"starstep/internal/frames"
	"starstep/internal/storage"
	"starstep/internal/transform"

	"github.com/google/uuid"
)

// SpaceCategory is the estimate record all custom operations add to.
const SpaceCategory = "Custom Operations"

// MasterCache maps a group index to the master files produced for it
// during the run. Entries take priority over the group's own masters.
type MasterCache map[int]map[frames.MasterKey]string

// Get returns the cached master of group for key.
func (c MasterCache) Get(group int, key frames.MasterKey) (string, bool) {
	p, ok := c[group][key]
	return p, ok && p != ""
}

// Set records path as the master of group for key.
func (c MasterCache) Set(group int, key frames.MasterKey, path string) {
	if c[group] == nil {
		c[group] = make(map[frames.MasterKey]string)
	}
	c[group][key] = path
}

// Estimates accumulates required bytes per operation category.
type Estimates map[string]int64

// Add increases the estimate of label by n.
func (e Estimates) Add(label string, n int64) {
	e[label] += n
}

// Total sums every category.
func (e Estimates) Total() int64 {
	var total int64
	for _, v := range e {
		total += v
	}
	return total
}

// Labels lists categories in sorted order.
func (e Estimates) Labels() []string {
	labels := make([]string, 0, len(e))
	for k := range e {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	return labels
}

// Run is the context of one pipeline execution.
type Run struct {
	ID        string
	OutputDir string
	Opener    transform.Opener
	Masters   MasterCache
	Estimates Estimates
	Log       *slog.Logger
	Store     *storage.Store
}

// NewRun creates the context for a run writing below outputDir.
func NewRun(outputDir string, opener transform.Opener, logger *slog.Logger, store *storage.Store) *Run {
	if logger == nil {
		logger = slog.Default()
	}
	return &Run{
		ID:        uuid.NewString(),
		OutputDir: outputDir,
		Opener:    opener,
		Masters:   make(MasterCache),
		Estimates: make(Estimates),
		Log:       logger,
		Store:     store,
	}
}

// MasterFile resolves the master of g for key, preferring the run cache.
func (r *Run) MasterFile(g *frames.Group, key frames.MasterKey) string {
	if p, ok := r.Masters.Get(g.Index, key); ok {
		return p
	}
	return g.MasterFile(key)
}

func (r *Run) recordMaster(g *frames.Group, key frames.MasterKey, path string) {
	r.Masters.Set(g.Index, key, path)
	_ = r.Store.RecordMasterFile(r.ID, g.Index, key.String(), path)
	r.Log.Debug("master cached", "group", g.Index, "key", key.String(), "path", path)
}
