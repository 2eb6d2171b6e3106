package graph

import (
	"sort"
	"strings"
	"sync"

	"github.com/mnemo-dev/mnemo/internal/memerr"
	"github.com/mnemo-dev/mnemo/internal/store"
)

// Partition hands out one Graph per group, loading lazily on first use.
// Groups never share state, so writers in different groups never block
// each other.
type Partition struct {
	mu     sync.Mutex
	db     *store.DB
	opts   Options
	graphs map[string]*Graph
}

// NewPartition creates an empty partition over the given store.
func NewPartition(db *store.DB, opts Options) *Partition {
	return &Partition{
		db:     db,
		opts:   opts,
		graphs: make(map[string]*Graph),
	}
}

// Graph returns the graph for a group, loading it from the store on first
// access. Group ids must be non-empty.
func (p *Partition) Graph(group string) (*Graph, error) {
	group = strings.TrimSpace(group)
	if group == "" {
		return nil, memerr.NewValidation("group", "must not be empty")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if g, ok := p.graphs[group]; ok {
		return g, nil
	}
	g, err := Load(p.db, group, p.opts)
	if err != nil {
		return nil, err
	}
	p.graphs[group] = g
	return g, nil
}

// Groups returns every known group id: loaded graphs plus groups that exist
// only as rows.
func (p *Partition) Groups() ([]string, error) {
	stored, err := p.db.ListGroups()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	seen := make(map[string]struct{}, len(stored)+len(p.graphs))
	for _, g := range stored {
		seen[g] = struct{}{}
	}
	for g := range p.graphs {
		seen[g] = struct{}{}
	}
	p.mu.Unlock()

	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out, nil
}
