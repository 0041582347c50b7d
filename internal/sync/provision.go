package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/njoerd114/raindroprelay/internal/model"
)

// ErrFolderNotProvisioned reports that a collection has no local folder and
// the mode forbids creating one. The engine skips the collection.
var ErrFolderNotProvisioned = errors.New("sync: folder not provisioned")

// Provisioner finds or creates the local folder backing a collection.
type Provisioner struct {
	nodes NodeStore
	store MappingStore
	log   *slog.Logger
}

// NewProvisioner creates a Provisioner over the given stores.
func NewProvisioner(nodes NodeStore, store MappingStore, logger *slog.Logger) *Provisioner {
	return &Provisioner{nodes: nodes, store: store, log: logger}
}

// Provision returns the folder ID for the collection under parentID. It
// tries the persisted mapping first (discarding stale entries), then adopts
// an existing child folder with the collection's exact title, then creates
// one. In upload_only mode nothing is created; ErrFolderNotProvisioned is
// returned instead and the caller skips the collection.
func (p *Provisioner) Provision(ctx context.Context, col *model.Collection, parentID string, mode model.SyncMode) (string, error) {
	folderID, err := p.store.LookupFolder(ctx, col.ID)
	if err != nil {
		return "", err
	}
	if folderID != "" {
		node, err := p.nodes.Get(folderID)
		if err != nil {
			return "", fmt.Errorf("checking mapped folder %q: %w", folderID, err)
		}
		if node != nil && node.IsFolder() {
			return folderID, nil
		}
		p.log.Info("discarding stale folder mapping",
			"collection", col.ID, "folder", folderID)
		if err := p.store.DeleteFolder(ctx, col.ID); err != nil {
			return "", err
		}
	}

	title := model.SanitizeTitle(col.Title)

	// Adopt an existing folder with the same title so re-linking after a
	// lost mapping does not duplicate the folder.
	children, err := p.nodes.GetChildren(parentID)
	if err != nil {
		return "", fmt.Errorf("listing folder %q: %w", parentID, err)
	}
	for _, child := range children {
		if child.IsFolder() && child.Title == title {
			if err := p.store.RecordFolder(ctx, col.ID, child.ID); err != nil {
				return "", err
			}
			p.log.Debug("adopted existing folder",
				"collection", col.ID, "folder", child.ID, "title", title)
			return child.ID, nil
		}
	}

	if mode == model.ModeUploadOnly {
		return "", fmt.Errorf("collection %d (%q): %w", col.ID, col.Title, ErrFolderNotProvisioned)
	}

	node, err := p.nodes.Create(parentID, title, "")
	if err != nil {
		return "", fmt.Errorf("creating folder for collection %d: %w", col.ID, err)
	}
	if err := p.store.RecordFolder(ctx, col.ID, node.ID); err != nil {
		return "", err
	}
	p.log.Info("created folder for collection",
		"collection", col.ID, "folder", node.ID, "title", title)
	return node.ID, nil
}
