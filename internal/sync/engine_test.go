package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/njoerd114/raindroprelay/internal/model"
	"github.com/njoerd114/raindroprelay/internal/raindrop"
	"github.com/njoerd114/raindroprelay/internal/state"
)

func newTestEngine(remote *mockRemote, nodes *mockNodes, store *mockStore, settings Settings) *Engine {
	return NewEngine(remote, nodes, store, settings, time.Minute, "", testLogger())
}

func TestSyncOnce_FullPass(t *testing.T) {
	remote := newMockRemote()
	remote.addCollection(&model.Collection{ID: 100, Title: "Work"})
	remote.addCollection(&model.Collection{ID: 101, Title: "Home"})
	remote.addDrop(100, &model.Raindrop{ID: 1, Title: "Docs", Link: "https://docs.example.com/"})
	nodes := newMockNodes()
	store := newMockStore()

	e := newTestEngine(remote, nodes, store, Settings{
		Mode:            model.ModeOff,
		Policy:          InclusionPolicy{Include: "top_level"},
		CollectionsSort: model.CollectionsAlphaAsc,
	})
	stats, err := e.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if stats.CreatedLocal != 1 {
		t.Errorf("CreatedLocal = %d, want 1", stats.CreatedLocal)
	}
	workFolder := nodes.findChild("1", "Work")
	if workFolder == nil || nodes.findChild("1", "Home") == nil {
		t.Fatal("collection folders not provisioned under the bookmark bar")
	}
	if nodes.findChild(workFolder.ID, "Docs") == nil {
		t.Error("raindrop not imported into its collection folder")
	}
	if store.lastSync.IsZero() {
		t.Error("last sync time not recorded")
	}
}

func TestSyncOnce_RejectsConcurrentPass(t *testing.T) {
	e := newTestEngine(newMockRemote(), newMockNodes(), newMockStore(), Settings{Mode: model.ModeOff})
	e.running.Store(true)

	_, err := e.SyncOnce(context.Background())
	if !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("err = %v, want ErrSyncInProgress", err)
	}
}

func TestSyncOnce_AbortsWhenAuthFails(t *testing.T) {
	remote := newMockRemote()
	remote.pingErr = raindrop.ErrAuthRequired
	store := newMockStore()

	e := newTestEngine(remote, newMockNodes(), store, Settings{Mode: model.ModeMirror})
	_, err := e.SyncOnce(context.Background())
	if !errors.Is(err, raindrop.ErrAuthRequired) {
		t.Fatalf("err = %v, want ErrAuthRequired", err)
	}
	if !store.lastSync.IsZero() {
		t.Error("failed pass recorded a last-sync time")
	}
}

func TestSyncOnce_CreatesAndReusesSubfolder(t *testing.T) {
	remote := newMockRemote()
	remote.addCollection(&model.Collection{ID: 100, Title: "Work"})
	nodes := newMockNodes()
	store := newMockStore()

	e := newTestEngine(remote, nodes, store, Settings{
		Mode:         model.ModeOff,
		Policy:       InclusionPolicy{Include: "top_level"},
		UseSubfolder: true,
	})
	if _, err := e.SyncOnce(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	sub := nodes.findChild("1", "Raindrop.io")
	if sub == nil {
		t.Fatal("subfolder not created")
	}
	if nodes.findChild(sub.ID, "Work") == nil {
		t.Error("collection folder not nested in subfolder")
	}

	if _, err := e.SyncOnce(context.Background()); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	count := 0
	for _, title := range nodes.childTitles("1") {
		if title == "Raindrop.io" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("subfolder duplicated: %d copies", count)
	}
}

func TestSyncOnce_NestedCollectionsUnderParentFolder(t *testing.T) {
	remote := newMockRemote()
	remote.addCollection(&model.Collection{ID: 100, Title: "Work"})
	remote.addCollection(&model.Collection{ID: 200, Title: "Projects", Parent: int64p(100)})
	nodes := newMockNodes()
	store := newMockStore()

	e := newTestEngine(remote, nodes, store, Settings{
		Mode:   model.ModeOff,
		Policy: InclusionPolicy{Include: "all"},
	})
	if _, err := e.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	work := nodes.findChild("1", "Work")
	if work == nil {
		t.Fatal("parent folder missing")
	}
	if nodes.findChild(work.ID, "Projects") == nil {
		t.Error("nested collection not placed under its parent's folder")
	}
}

func TestSyncOnce_MirrorOrdersCollectionFolders(t *testing.T) {
	remote := newMockRemote()
	remote.addCollection(&model.Collection{ID: 100, Title: "Zebra"})
	remote.addCollection(&model.Collection{ID: 101, Title: "Alpha"})
	nodes := newMockNodes()
	// Folders pre-exist in the wrong order.
	nodes.seed("1", "20", "Zebra", "")
	nodes.seed("1", "21", "Alpha", "")
	store := newMockStore()

	e := newTestEngine(remote, nodes, store, Settings{
		Mode:            model.ModeMirror,
		Policy:          InclusionPolicy{Include: "top_level"},
		CollectionsSort: model.CollectionsAlphaAsc,
		BookmarksSort:   model.BookmarksNone,
	})
	if _, err := e.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	order := nodes.childOrder("1")
	if order[0] != "21" || order[1] != "20" {
		t.Errorf("folder order = %v, want Alpha (21) before Zebra (20)", order)
	}
}

func TestSyncOnce_PrunesStaleMappings(t *testing.T) {
	ctx := context.Background()
	remote := newMockRemote()
	remote.addCollection(&model.Collection{ID: 100, Title: "Work"})
	nodes := newMockNodes()
	store := newMockStore()
	// Folder and item mappings referencing nodes that no longer exist.
	_ = store.RecordFolder(ctx, 999, "404")
	_ = store.RecordItem(ctx, state.ItemMapping{RaindropID: 5, NodeID: "404", CollectionID: 999})

	e := newTestEngine(remote, nodes, store, Settings{
		Mode:   model.ModeAdditionsOnly,
		Policy: InclusionPolicy{Include: "top_level"},
	})
	stats, err := e.SyncOnce(ctx)
	if err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if stats.Pruned != 2 {
		t.Errorf("Pruned = %d, want 2", stats.Pruned)
	}
	if store.itemCount() != 0 {
		t.Error("stale item mapping survived")
	}
}
