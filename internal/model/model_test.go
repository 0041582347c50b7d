package model

import (
	"encoding/json"
	"testing"
	"time"
)

func int64p(v int64) *int64 { return &v }

func TestCollectionUnmarshal_ParentEncodings(t *testing.T) {
	tests := []struct {
		name string
		json string
		want *int64
	}{
		{"nested dollar id", `{"_id":5,"title":"a","parent":{"$id":10}}`, int64p(10)},
		{"nested id", `{"_id":5,"title":"a","parent":{"id":11}}`, int64p(11)},
		{"nested underscore id", `{"_id":5,"title":"a","parent":{"_id":12}}`, int64p(12)},
		{"flat camel", `{"_id":5,"title":"a","parentId":13}`, int64p(13)},
		{"flat snake", `{"_id":5,"title":"a","parent_id":14}`, int64p(14)},
		{"bare number", `{"_id":5,"title":"a","parent":15}`, int64p(15)},
		{"bare string", `{"_id":5,"title":"a","parent":"16"}`, int64p(16)},
		{"no parent", `{"_id":5,"title":"a"}`, nil},
		{"null parent", `{"_id":5,"title":"a","parent":null}`, nil},
		{"garbage parent", `{"_id":5,"title":"a","parent":"root"}`, nil},
		{"dollar id wins over flat", `{"_id":5,"title":"a","parent":{"$id":1},"parentId":2}`, int64p(1)},
		{"nested id wins over bare object miss", `{"_id":5,"title":"a","parent":{"id":3,"name":"x"}}`, int64p(3)},
		{"flat wins over unparsable object", `{"_id":5,"title":"a","parent":{"name":"x"},"parentId":4}`, int64p(4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Collection
			if err := json.Unmarshal([]byte(tt.json), &c); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			switch {
			case tt.want == nil && c.Parent != nil:
				t.Errorf("Parent = %d, want nil", *c.Parent)
			case tt.want != nil && c.Parent == nil:
				t.Errorf("Parent = nil, want %d", *tt.want)
			case tt.want != nil && *c.Parent != *tt.want:
				t.Errorf("Parent = %d, want %d", *c.Parent, *tt.want)
			}
		})
	}
}

func TestCollectionUnmarshal_SortFallsBackToOrder(t *testing.T) {
	var c Collection
	if err := json.Unmarshal([]byte(`{"_id":1,"title":"a","order":3.5}`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.Sort != 3.5 {
		t.Errorf("Sort = %v, want 3.5", c.Sort)
	}
}

func TestCollectionIsSystem(t *testing.T) {
	for _, tt := range []struct {
		id   int64
		want bool
	}{{-1, true}, {-99, true}, {0, true}, {1, false}, {12345, false}} {
		c := Collection{ID: tt.id}
		if got := c.IsSystem(); got != tt.want {
			t.Errorf("IsSystem(%d) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestRaindropUnmarshal(t *testing.T) {
	data := `{
		"_id": 42,
		"title": "Example",
		"link": "https://example.com/",
		"created": "2024-06-01T10:00:00.000Z",
		"collection": {"$id": 7}
	}`
	var r Raindrop
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.ID != 42 || r.Title != "Example" || r.CollectionID != 7 {
		t.Errorf("got %+v", r)
	}
	if r.URL() != "https://example.com/" {
		t.Errorf("URL() = %q", r.URL())
	}
	if r.Created.IsZero() {
		t.Error("Created not parsed")
	}
}

func TestRaindropURL_LegacyFallback(t *testing.T) {
	var r Raindrop
	if err := json.Unmarshal([]byte(`{"_id":1,"url":"https://old.example.com/"}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.URL() != "https://old.example.com/" {
		t.Errorf("URL() = %q, want legacy url", r.URL())
	}
}

func TestRaindropUnmarshal_BareCollectionID(t *testing.T) {
	var r Raindrop
	if err := json.Unmarshal([]byte(`{"_id":1,"collection":9}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.CollectionID != 9 {
		t.Errorf("CollectionID = %d, want 9", r.CollectionID)
	}
}

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  hello   world  ", "hello world"},
		{"line\r\nbreak\ttab", "line break tab"},
		{"   ", ""},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := SanitizeTitle(tt.in); got != tt.want {
			t.Errorf("SanitizeTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := make([]rune, 300)
	for i := range long {
		long[i] = 'ä'
	}
	got := SanitizeTitle(string(long))
	if n := len([]rune(got)); n != 255 {
		t.Errorf("long title capped to %d runes, want 255", n)
	}
}

func TestValidBookmarkURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/a", true},
		{"http://example.com", true},
		{"ftp://example.com", false},
		{"javascript:void(0)", false},
		{"chrome://settings", false},
		{"https://", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidBookmarkURL(tt.url); got != tt.want {
			t.Errorf("ValidBookmarkURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestDomain(t *testing.T) {
	tests := []struct {
		url, want string
	}{
		{"https://www.example.com/path", "example.com"},
		{"https://sub.example.com", "sub.example.com"},
		{"http://example.com:8080/x", "example.com"},
		{"://broken", ""},
	}
	for _, tt := range tests {
		if got := Domain(tt.url); got != tt.want {
			t.Errorf("Domain(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func titles(cols []*Collection) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Title
	}
	return out
}

func TestSortCollections(t *testing.T) {
	mk := func() []*Collection {
		return []*Collection{
			{ID: 1, Title: "beta", Sort: 2},
			{ID: 2, Title: "Alpha", Sort: 3},
			{ID: 3, Title: "gamma", Sort: 1},
		}
	}

	tests := []struct {
		mode CollectionSort
		want []string
	}{
		{CollectionsAlphaAsc, []string{"Alpha", "beta", "gamma"}},
		{CollectionsAlphaDesc, []string{"gamma", "beta", "Alpha"}},
		{CollectionsRaindrop, []string{"gamma", "beta", "Alpha"}},
		{CollectionsNone, []string{"beta", "Alpha", "gamma"}},
	}
	for _, tt := range tests {
		cols := mk()
		SortCollections(cols, tt.mode)
		got := titles(cols)
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Errorf("%s: got %v, want %v", tt.mode, got, tt.want)
				break
			}
		}
	}
}

func TestSortCollections_StableTies(t *testing.T) {
	cols := []*Collection{
		{ID: 1, Title: "a", Sort: 1},
		{ID: 2, Title: "b", Sort: 1},
		{ID: 3, Title: "c", Sort: 1},
	}
	SortCollections(cols, CollectionsRaindrop)
	if cols[0].ID != 1 || cols[1].ID != 2 || cols[2].ID != 3 {
		t.Errorf("equal sort keys reordered: %v", titles(cols))
	}
}

func TestSortBookmarks(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	created := map[string]time.Time{
		"https://a.example.com/": t0.Add(2 * time.Hour),
		"https://b.example.com/": t0.Add(1 * time.Hour),
		"https://c.example.com/": t0.Add(3 * time.Hour),
	}
	createdAt := func(url string) time.Time { return created[url] }
	mk := func() []Node {
		return []Node{
			{ID: "1", Title: "Bravo", URL: "https://b.example.com/"},
			{ID: "2", Title: "alpha", URL: "https://a.example.com/"},
			{ID: "3", Title: "Charlie", URL: "https://c.example.com/"},
		}
	}

	tests := []struct {
		mode BookmarkSort
		want []string // expected ID order
	}{
		{BookmarksCreatedDesc, []string{"3", "2", "1"}},
		{BookmarksCreatedAsc, []string{"1", "2", "3"}},
		{BookmarksAlphaAsc, []string{"2", "1", "3"}},
		{BookmarksAlphaDesc, []string{"3", "1", "2"}},
		{BookmarksDomainAsc, []string{"2", "1", "3"}},
		{BookmarksNone, []string{"1", "2", "3"}},
	}
	for _, tt := range tests {
		nodes := mk()
		SortBookmarks(nodes, tt.mode, createdAt)
		for i := range tt.want {
			if nodes[i].ID != tt.want[i] {
				t.Errorf("%s: position %d = %s, want %s", tt.mode, i, nodes[i].ID, tt.want[i])
			}
		}
	}
}

func TestSortBookmarks_UnknownCreatedSortsLastDesc(t *testing.T) {
	createdAt := func(url string) time.Time {
		if url == "https://known.example.com/" {
			return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		}
		return time.Time{}
	}
	nodes := []Node{
		{ID: "u", URL: "https://unknown.example.com/"},
		{ID: "k", URL: "https://known.example.com/"},
	}
	SortBookmarks(nodes, BookmarksCreatedDesc, createdAt)
	if nodes[0].ID != "k" || nodes[1].ID != "u" {
		t.Errorf("unknown-created bookmark should sort last, got %s,%s", nodes[0].ID, nodes[1].ID)
	}
}

func TestSyncModeValid(t *testing.T) {
	for _, m := range []SyncMode{ModeOff, ModeAdditionsOnly, ModeMirror, ModeUploadOnly} {
		if !m.Valid() {
			t.Errorf("%s should be valid", m)
		}
	}
	if SyncMode("bidirectional").Valid() {
		t.Error("unknown mode accepted")
	}
}
