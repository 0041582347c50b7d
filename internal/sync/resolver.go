package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/njoerd114/raindroprelay/internal/model"
)

// InclusionPolicy selects which collections participate in a sync pass.
type InclusionPolicy struct {
	// Include is one of "top_level", "selected" or "all".
	Include string
	// SelectedIDs lists the participating collection IDs when Include is
	// "selected".
	SelectedIDs []int64
}

// Resolver turns the remote collection listing into the ordered plan a sync
// pass processes: system collections dropped, hierarchy rebuilt, inclusion
// policy applied, sibling groups sorted, flattened parent-before-child.
type Resolver struct {
	remote RemoteSource
	log    *slog.Logger
}

// NewResolver creates a Resolver over the given remote source.
func NewResolver(remote RemoteSource, logger *slog.Logger) *Resolver {
	return &Resolver{remote: remote, log: logger}
}

// collectionNode is a collection with its resolved children.
type collectionNode struct {
	col      *model.Collection
	children []*collectionNode
}

// Resolve fetches and orders the collections to sync. The returned slice is
// flattened depth-first, so a collection's parent (when included) always
// precedes it. A failure fetching child collections degrades to roots only.
func (r *Resolver) Resolve(ctx context.Context, policy InclusionPolicy, sortMode model.CollectionSort) ([]*model.Collection, error) {
	roots, err := r.remote.Collections(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching root collections: %w", err)
	}

	var children []*model.Collection
	if policy.Include != "top_level" {
		children, err = r.remote.ChildCollections(ctx)
		if err != nil {
			r.log.Warn("fetching child collections failed, syncing roots only", "error", err)
			children = nil
		}
	}

	all := make([]*model.Collection, 0, len(roots)+len(children))
	for _, c := range append(roots, children...) {
		if c.IsSystem() {
			continue
		}
		all = append(all, c)
	}

	tree := buildHierarchy(all)
	sortTree(tree, sortMode)
	flat := flatten(tree)
	return applyPolicy(flat, policy), nil
}

// buildHierarchy links collections into parent/child trees. A collection
// whose parent is unknown (deleted, filtered, or self-referential) becomes
// a root.
func buildHierarchy(cols []*model.Collection) []*collectionNode {
	nodes := make(map[int64]*collectionNode, len(cols))
	for _, c := range cols {
		nodes[c.ID] = &collectionNode{col: c}
	}

	var roots []*collectionNode
	for _, c := range cols {
		n := nodes[c.ID]
		if c.Parent == nil || *c.Parent == c.ID {
			roots = append(roots, n)
			continue
		}
		parent, ok := nodes[*c.Parent]
		if !ok {
			roots = append(roots, n)
			continue
		}
		parent.children = append(parent.children, n)
	}
	return roots
}

// sortTree orders every sibling group in place.
func sortTree(nodes []*collectionNode, mode model.CollectionSort) {
	if mode == model.CollectionsNone {
		return
	}
	cols := make([]*model.Collection, len(nodes))
	byID := make(map[int64]*collectionNode, len(nodes))
	for i, n := range nodes {
		cols[i] = n.col
		byID[n.col.ID] = n
	}
	model.SortCollections(cols, mode)
	for i, c := range cols {
		nodes[i] = byID[c.ID]
	}
	for _, n := range nodes {
		sortTree(n.children, mode)
	}
}

// flatten walks the trees depth-first so parents precede their children.
func flatten(nodes []*collectionNode) []*model.Collection {
	var out []*model.Collection
	for _, n := range nodes {
		out = append(out, n.col)
		out = append(out, flatten(n.children)...)
	}
	return out
}

// applyPolicy filters the flattened plan by the inclusion policy. Filtering
// happens after flattening so "selected" can pick a nested collection
// without requiring its ancestors.
func applyPolicy(cols []*model.Collection, policy InclusionPolicy) []*model.Collection {
	switch policy.Include {
	case "selected":
		selected := make(map[int64]bool, len(policy.SelectedIDs))
		for _, id := range policy.SelectedIDs {
			selected[id] = true
		}
		var out []*model.Collection
		for _, c := range cols {
			if selected[c.ID] {
				out = append(out, c)
			}
		}
		return out
	default: // top_level fetched roots only; all keeps everything
		return cols
	}
}
