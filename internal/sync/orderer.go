package sync

import (
	"fmt"
	"log/slog"
)

// Orderer applies a desired sibling order with one move per node.
type Orderer struct {
	nodes NodeStore
	log   *slog.Logger
}

// NewOrderer creates an Orderer over the given node store.
func NewOrderer(nodes NodeStore, logger *slog.Logger) *Orderer {
	return &Orderer{nodes: nodes, log: logger}
}

// Apply moves the nodes in orderedIDs to consecutive indexes starting at
// startIndex, preserving the given order. With startIndex < 0 the block
// starts at the minimum current index of the affected nodes, so reordering
// a contiguous run does not shift it relative to unaffected siblings.
// Exactly len(orderedIDs) moves are issued.
func (o *Orderer) Apply(parentID string, orderedIDs []string, startIndex int) error {
	if len(orderedIDs) == 0 {
		return nil
	}

	if startIndex < 0 {
		children, err := o.nodes.GetChildren(parentID)
		if err != nil {
			return fmt.Errorf("listing folder %q: %w", parentID, err)
		}
		affected := make(map[string]bool, len(orderedIDs))
		for _, id := range orderedIDs {
			affected[id] = true
		}
		startIndex = len(children)
		for _, child := range children {
			if affected[child.ID] && child.Index < startIndex {
				startIndex = child.Index
			}
		}
	}

	for i, id := range orderedIDs {
		if err := o.nodes.Move(id, startIndex+i); err != nil {
			return fmt.Errorf("moving node %q to index %d: %w", id, startIndex+i, err)
		}
	}
	o.log.Debug("applied sibling order",
		"parent", parentID, "nodes", len(orderedIDs), "start", startIndex)
	return nil
}
