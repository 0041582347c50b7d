package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/njoerd114/raindroprelay/internal/model"
	"github.com/njoerd114/raindroprelay/internal/raindrop"
	"github.com/njoerd114/raindroprelay/internal/state"
)

// Stats tracks the mutations performed in a reconcile pass.
type Stats struct {
	CreatedLocal  int // bookmarks created from remote raindrops
	CreatedRemote int // raindrops created from local bookmarks
	Updated       int // local title updates
	Deleted       int // remote raindrops deleted
	Adopted       int // mappings linked to pre-existing same-URL bookmarks
	Pruned        int // stale mappings dropped
	Errors        int
}

func (s *Stats) add(o Stats) {
	s.CreatedLocal += o.CreatedLocal
	s.CreatedRemote += o.CreatedRemote
	s.Updated += o.Updated
	s.Deleted += o.Deleted
	s.Adopted += o.Adopted
	s.Pruned += o.Pruned
	s.Errors += o.Errors
}

// Options selects the policy for a reconcile pass.
type Options struct {
	Mode model.SyncMode
	// BookmarkSort orders bookmarks within each folder (mirror mode only).
	BookmarkSort model.BookmarkSort
}

// Reconciler reconciles one collection's raindrops with one folder's
// bookmarks. It is stateless between calls — all persistent state lives in
// the [MappingStore].
type Reconciler struct {
	remote  RemoteSource
	nodes   NodeStore
	store   MappingStore
	orderer *Orderer
	log     *slog.Logger
}

// NewReconciler creates a Reconciler wired to the given collaborators.
func NewReconciler(remote RemoteSource, nodes NodeStore, store MappingStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		remote:  remote,
		nodes:   nodes,
		store:   store,
		orderer: NewOrderer(nodes, logger),
		log:     logger,
	}
}

// ReconcileCollection runs the four reconcile steps for one collection and
// its provisioned folder: mirror deletions, remote-to-local import, local-
// to-remote push, sibling ordering. Individual item failures are logged and
// counted; the pass continues and the first error is returned at the end.
// An authentication failure aborts immediately.
func (r *Reconciler) ReconcileCollection(ctx context.Context, col *model.Collection, folderID string, opts Options) (Stats, error) {
	var stats Stats
	var firstErr error

	fail := func(err error) bool {
		stats.Errors++
		if firstErr == nil {
			firstErr = err
		}
		return errors.Is(err, raindrop.ErrAuthRequired)
	}

	drops, err := r.remote.Raindrops(ctx, col.ID)
	if err != nil {
		return stats, fmt.Errorf("fetching raindrops for collection %d: %w", col.ID, err)
	}

	children, err := r.nodes.GetChildren(folderID)
	if err != nil {
		return stats, fmt.Errorf("listing folder %q: %w", folderID, err)
	}

	// Index both sides. Only http(s) bookmarks participate; anything else
	// in the folder is left alone.
	localByURL := make(map[string]model.Node)
	inFolder := make(map[string]bool, len(children))
	for _, child := range children {
		inFolder[child.ID] = true
		if child.IsFolder() || !model.ValidBookmarkURL(child.URL) {
			continue
		}
		if _, seen := localByURL[child.URL]; !seen {
			localByURL[child.URL] = child
		}
	}
	remoteByID := make(map[int64]*model.Raindrop, len(drops))
	remoteByURL := make(map[string]*model.Raindrop, len(drops))
	for _, d := range drops {
		remoteByID[d.ID] = d
		if _, seen := remoteByURL[d.URL()]; !seen {
			remoteByURL[d.URL()] = d
		}
	}

	mappings, err := r.store.ItemMappings(ctx)
	if err != nil {
		return stats, err
	}
	mappingByDrop := make(map[int64]state.ItemMapping)
	mappedNodes := make(map[string]bool)
	for _, m := range mappings {
		if m.CollectionID != col.ID {
			continue
		}
		mappingByDrop[m.RaindropID] = m
		mappedNodes[m.NodeID] = true
	}

	// Step 1 (mirror only): propagate local deletions and drop dead
	// mappings.
	if opts.Mode == model.ModeMirror {
		for dropID, m := range mappingByDrop {
			remote := remoteByID[dropID]
			if remote != nil && remote.CollectionID != 0 && remote.CollectionID != col.ID {
				// Moved to another collection remotely; its new home
				// handles it.
				continue
			}

			if remote == nil {
				// Gone remotely. A bookmark still in the folder stays, and
				// so does its mapping: dropping it would make the push step
				// re-upload the bookmark next pass.
				if !inFolder[m.NodeID] {
					if err := r.store.DeleteItem(ctx, dropID); err != nil {
						if fail(err) {
							return stats, firstErr
						}
						continue
					}
					delete(mappingByDrop, dropID)
					delete(mappedNodes, m.NodeID)
					stats.Pruned++
				}
				continue
			}

			if inFolder[m.NodeID] {
				continue
			}

			// The bookmark left this folder, by deletion or by being dragged
			// elsewhere. Re-point the mapping if an unmapped bookmark with
			// the same URL exists, otherwise mirror the deletion remotely.
			if twin, ok := localByURL[remote.URL()]; ok && !mappedNodes[twin.ID] {
				m.NodeID = twin.ID
				if err := r.store.RecordItem(ctx, m); err != nil {
					if fail(err) {
						return stats, firstErr
					}
					continue
				}
				mappingByDrop[dropID] = m
				mappedNodes[twin.ID] = true
				stats.Adopted++
				continue
			}
			if err := r.remote.DeleteRaindrop(ctx, dropID); err != nil {
				r.log.Error("deleting raindrop failed", "raindrop", dropID, "error", err)
				if fail(err) {
					return stats, firstErr
				}
				continue
			}
			// Drop the raindrop from the indexes so the import step does
			// not resurrect it from the pre-deletion fetch.
			delete(remoteByID, dropID)
			if remoteByURL[remote.URL()] == remote {
				delete(remoteByURL, remote.URL())
			}
			if err := r.store.DeleteItem(ctx, dropID); err != nil {
				if fail(err) {
					return stats, firstErr
				}
				continue
			}
			delete(mappingByDrop, dropID)
			stats.Deleted++
			r.log.Info("deleted raindrop for removed bookmark",
				"raindrop", dropID, "collection", col.ID)
		}
	}

	// Step 2 (skipped in upload_only): bring remote raindrops into the
	// folder.
	if opts.Mode != model.ModeUploadOnly {
		for _, d := range drops {
			if _, alive := remoteByID[d.ID]; !alive {
				// Deleted earlier in this pass.
				continue
			}
			url := d.URL()
			if !model.ValidBookmarkURL(url) {
				r.log.Debug("skipping raindrop with non-http link",
					"raindrop", d.ID, "link", url)
				continue
			}

			if m, ok := mappingByDrop[d.ID]; ok {
				local, err := r.nodes.Get(m.NodeID)
				if err != nil {
					if fail(err) {
						return stats, firstErr
					}
					continue
				}
				if local != nil {
					if opts.Mode == model.ModeMirror {
						if n, err := r.reconcileTitle(d, local); err != nil {
							if fail(err) {
								return stats, firstErr
							}
						} else {
							stats.Updated += n
						}
					}
					continue
				}
				// Mapping points nowhere (non-mirror modes prune these
				// before the pass, but a mid-pass deletion can race us).
				if err := r.store.DeleteItem(ctx, d.ID); err != nil {
					if fail(err) {
						return stats, firstErr
					}
					continue
				}
				delete(mappedNodes, m.NodeID)
				stats.Pruned++
			}

			if local, ok := localByURL[url]; ok && !mappedNodes[local.ID] {
				err := r.store.RecordItem(ctx, state.ItemMapping{
					RaindropID:   d.ID,
					NodeID:       local.ID,
					CollectionID: col.ID,
				})
				if err != nil {
					if fail(err) {
						return stats, firstErr
					}
					continue
				}
				mappedNodes[local.ID] = true
				stats.Adopted++
				r.log.Debug("adopted bookmark for raindrop",
					"raindrop", d.ID, "node", local.ID)
				if opts.Mode == model.ModeMirror {
					if n, err := r.reconcileTitle(d, &local); err != nil {
						if fail(err) {
							return stats, firstErr
						}
					} else {
						stats.Updated += n
					}
				}
				continue
			}

			node, err := r.nodes.Create(folderID, bookmarkTitle(d), url)
			if err != nil {
				r.log.Error("creating bookmark failed", "raindrop", d.ID, "error", err)
				if fail(err) {
					return stats, firstErr
				}
				continue
			}
			err = r.store.RecordItem(ctx, state.ItemMapping{
				RaindropID:   d.ID,
				NodeID:       node.ID,
				CollectionID: col.ID,
			})
			if err != nil {
				if fail(err) {
					return stats, firstErr
				}
				continue
			}
			localByURL[url] = *node
			mappedNodes[node.ID] = true
			stats.CreatedLocal++
		}
	}

	// Step 3 (skipped in off): push local-only bookmarks to the service.
	if opts.Mode != model.ModeOff {
		for _, child := range children {
			if child.IsFolder() || !model.ValidBookmarkURL(child.URL) {
				continue
			}
			if mappedNodes[child.ID] {
				continue
			}
			if _, exists := remoteByURL[child.URL]; exists {
				continue
			}
			title := child.Title
			if title == "" {
				title = child.URL
			}
			id, err := r.remote.CreateRaindrop(ctx, title, child.URL, col.ID)
			if err != nil {
				r.log.Error("pushing bookmark failed",
					"node", child.ID, "url", child.URL, "error", err)
				if fail(err) {
					return stats, firstErr
				}
				continue
			}
			err = r.store.RecordItem(ctx, state.ItemMapping{
				RaindropID:   id,
				NodeID:       child.ID,
				CollectionID: col.ID,
			})
			if err != nil {
				if fail(err) {
					return stats, firstErr
				}
				continue
			}
			mappedNodes[child.ID] = true
			remoteByURL[child.URL] = &model.Raindrop{ID: id, Link: child.URL}
			stats.CreatedRemote++
		}
	}

	// Step 4 (mirror only): order the folder's bookmarks.
	if opts.Mode == model.ModeMirror && opts.BookmarkSort != model.BookmarksNone {
		if err := r.order(folderID, remoteByURL, opts.BookmarkSort); err != nil {
			if fail(err) {
				return stats, firstErr
			}
		}
	}

	return stats, firstErr
}

// reconcileTitle aligns a bookmark's title with its raindrop and returns
// the number of updates made (0 or 1).
func (r *Reconciler) reconcileTitle(d *model.Raindrop, local *model.Node) (int, error) {
	want := bookmarkTitle(d)
	if local.Title == want {
		return 0, nil
	}
	if err := r.nodes.Update(local.ID, want); err != nil {
		return 0, fmt.Errorf("updating title of node %q: %w", local.ID, err)
	}
	r.log.Debug("updated bookmark title", "node", local.ID, "title", want)
	return 1, nil
}

// order re-sorts the folder's bookmarks with one move per bookmark.
func (r *Reconciler) order(folderID string, remoteByURL map[string]*model.Raindrop, sortMode model.BookmarkSort) error {
	children, err := r.nodes.GetChildren(folderID)
	if err != nil {
		return fmt.Errorf("listing folder %q: %w", folderID, err)
	}
	var marks []model.Node
	for _, child := range children {
		if !child.IsFolder() && model.ValidBookmarkURL(child.URL) {
			marks = append(marks, child)
		}
	}
	if len(marks) < 2 {
		return nil
	}

	createdAt := func(url string) time.Time {
		if d, ok := remoteByURL[url]; ok {
			return d.Created
		}
		return time.Time{}
	}
	model.SortBookmarks(marks, sortMode, createdAt)

	ids := make([]string, len(marks))
	for i, m := range marks {
		ids[i] = m.ID
	}
	return r.orderer.Apply(folderID, ids, -1)
}

// bookmarkTitle derives the local title for a raindrop, falling back to the
// URL when the sanitized title is empty.
func bookmarkTitle(d *model.Raindrop) string {
	title := model.SanitizeTitle(d.Title)
	if title == "" {
		title = d.URL()
	}
	return title
}
