// Package sync implements the reconciliation engine for RaindropRelay. It
// resolves remote collections into an ordered plan, provisions a local
// folder per collection, reconciles the raindrops of each collection with
// the folder's bookmarks under the configured policy mode, and applies
// sibling ordering.
//
// The package contains two main components:
//
//   - [Engine] orchestrates full passes and runs the daemon loop.
//   - [Reconciler] performs the per-collection item reconciliation.
package sync

import (
	"context"
	"time"

	"github.com/njoerd114/raindroprelay/internal/model"
	"github.com/njoerd114/raindroprelay/internal/state"
)

// RemoteSource provides access to the Raindrop.io API.
// Implemented by [raindrop.Client].
type RemoteSource interface {
	Ping(ctx context.Context) error
	Collections(ctx context.Context) ([]*model.Collection, error)
	ChildCollections(ctx context.Context) ([]*model.Collection, error)
	Raindrops(ctx context.Context, collectionID int64) ([]*model.Raindrop, error)
	CreateRaindrop(ctx context.Context, title, link string, collectionID int64) (int64, error)
	DeleteRaindrop(ctx context.Context, id int64) error
}

// NodeStore is the subset of the local bookmark tree the engine consumes.
// Implemented by [bookmarks.FileStore], which also carries removal
// operations the engine never issues.
type NodeStore interface {
	Get(id string) (*model.Node, error)
	GetChildren(id string) ([]model.Node, error)
	Create(parentID, title, url string) (*model.Node, error)
	Update(id, title string) error
	Move(id string, index int) error
}

// MappingStore provides access to the persisted identity mapping.
// Implemented by [state.Store].
type MappingStore interface {
	RecordItem(ctx context.Context, m state.ItemMapping) error
	DeleteItem(ctx context.Context, raindropID int64) error
	ItemMappings(ctx context.Context) ([]state.ItemMapping, error)
	PruneItems(ctx context.Context, exists func(nodeID string) (bool, error)) (int, error)
	LookupFolder(ctx context.Context, collectionID int64) (string, error)
	RecordFolder(ctx context.Context, collectionID int64, folderID string) error
	DeleteFolder(ctx context.Context, collectionID int64) error
	PruneFolders(ctx context.Context, exists func(folderID string) (bool, error)) (int, error)
	SetLastSync(ctx context.Context, t time.Time) error
}
