package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/njoerd114/raindroprelay/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func int64p(v int64) *int64 { return &v }

func collectionIDs(cols []*model.Collection) []int64 {
	ids := make([]int64, len(cols))
	for i, c := range cols {
		ids[i] = c.ID
	}
	return ids
}

func TestResolve_TopLevelFiltersSystemCollections(t *testing.T) {
	remote := newMockRemote()
	remote.addCollection(&model.Collection{ID: -1, Title: "Unsorted"})
	remote.addCollection(&model.Collection{ID: -99, Title: "Trash"})
	remote.addCollection(&model.Collection{ID: 10, Title: "Work"})
	remote.addCollection(&model.Collection{ID: 11, Title: "Home"})

	r := NewResolver(remote, testLogger())
	plan, err := r.Resolve(context.Background(), InclusionPolicy{Include: "top_level"}, model.CollectionsAlphaAsc)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got := collectionIDs(plan)
	want := []int64{11, 10} // Home before Work
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("plan = %v, want %v", got, want)
	}
}

func TestResolve_ParentBeforeChild(t *testing.T) {
	remote := newMockRemote()
	remote.addCollection(&model.Collection{ID: 1, Title: "zeta"})
	remote.addCollection(&model.Collection{ID: 2, Title: "alpha"})
	remote.addCollection(&model.Collection{ID: 3, Title: "child of zeta", Parent: int64p(1)})
	remote.addCollection(&model.Collection{ID: 4, Title: "grandchild", Parent: int64p(3)})

	r := NewResolver(remote, testLogger())
	plan, err := r.Resolve(context.Background(), InclusionPolicy{Include: "all"}, model.CollectionsAlphaAsc)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	pos := make(map[int64]int, len(plan))
	for i, c := range plan {
		pos[c.ID] = i
	}
	if pos[1] > pos[3] || pos[3] > pos[4] {
		t.Errorf("parent must precede child: %v", collectionIDs(plan))
	}
	if pos[2] != 0 {
		t.Errorf("alpha sort should put collection 2 first: %v", collectionIDs(plan))
	}
}

func TestResolve_OrphanBecomesRoot(t *testing.T) {
	remote := newMockRemote()
	remote.addCollection(&model.Collection{ID: 1, Title: "a"})
	remote.addCollection(&model.Collection{ID: 2, Title: "orphan", Parent: int64p(999)})
	remote.addCollection(&model.Collection{ID: 3, Title: "self", Parent: int64p(3)})

	r := NewResolver(remote, testLogger())
	plan, err := r.Resolve(context.Background(), InclusionPolicy{Include: "all"}, model.CollectionsAlphaAsc)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(plan) != 3 {
		t.Errorf("plan = %v, want all three as roots", collectionIDs(plan))
	}
}

func TestResolve_ChildFetchFailureDegradesToRoots(t *testing.T) {
	remote := newMockRemote()
	remote.addCollection(&model.Collection{ID: 1, Title: "a"})
	remote.childrenErr = errors.New("boom")

	r := NewResolver(remote, testLogger())
	plan, err := r.Resolve(context.Background(), InclusionPolicy{Include: "all"}, model.CollectionsAlphaAsc)
	if err != nil {
		t.Fatalf("Resolve should degrade, got error: %v", err)
	}
	if len(plan) != 1 || plan[0].ID != 1 {
		t.Errorf("plan = %v, want roots only", collectionIDs(plan))
	}
}

func TestResolve_SelectedPolicy(t *testing.T) {
	remote := newMockRemote()
	remote.addCollection(&model.Collection{ID: 1, Title: "a"})
	remote.addCollection(&model.Collection{ID: 2, Title: "b"})
	remote.addCollection(&model.Collection{ID: 3, Title: "nested", Parent: int64p(2)})

	r := NewResolver(remote, testLogger())
	plan, err := r.Resolve(context.Background(),
		InclusionPolicy{Include: "selected", SelectedIDs: []int64{3}},
		model.CollectionsAlphaAsc)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// A nested selection does not require its ancestors.
	if len(plan) != 1 || plan[0].ID != 3 {
		t.Errorf("plan = %v, want [3]", collectionIDs(plan))
	}
}

func TestResolve_RaindropSortUsesServiceOrder(t *testing.T) {
	remote := newMockRemote()
	remote.addCollection(&model.Collection{ID: 1, Title: "a", Sort: 3})
	remote.addCollection(&model.Collection{ID: 2, Title: "b", Sort: 1})
	remote.addCollection(&model.Collection{ID: 3, Title: "c", Sort: 2})

	r := NewResolver(remote, testLogger())
	plan, err := r.Resolve(context.Background(), InclusionPolicy{Include: "top_level"}, model.CollectionsRaindrop)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got := collectionIDs(plan)
	want := []int64{2, 3, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("plan = %v, want %v", got, want)
			break
		}
	}
}
