// Package model defines the shared types used across the sync engine and
// the Raindrop and bookmark-store adapters.
package model

import (
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// SyncMode selects the relationship a sync pass enforces between the remote
// service and the local bookmark tree.
type SyncMode string

const (
	// ModeOff imports remote items additively. Nothing is ever deleted and
	// local-only bookmarks stay local.
	ModeOff SyncMode = "off"
	// ModeAdditionsOnly is ModeOff plus pushing local-only bookmarks to the
	// service. Still never deletes on either side.
	ModeAdditionsOnly SyncMode = "additions_only"
	// ModeMirror is full two-way reconciliation: creates, title updates,
	// deletions, and sibling ordering.
	ModeMirror SyncMode = "mirror"
	// ModeUploadOnly pushes local bookmarks to the service without letting
	// remote state dictate local structure.
	ModeUploadOnly SyncMode = "upload_only"
)

// Valid reports whether m is one of the four supported modes.
func (m SyncMode) Valid() bool {
	switch m {
	case ModeOff, ModeAdditionsOnly, ModeMirror, ModeUploadOnly:
		return true
	}
	return false
}

// CollectionSort orders sibling collections (and their local folders).
type CollectionSort string

const (
	CollectionsAlphaAsc  CollectionSort = "alpha_asc"
	CollectionsAlphaDesc CollectionSort = "alpha_desc"
	// CollectionsRaindrop uses the service's own sort field, ties broken by
	// arrival order.
	CollectionsRaindrop CollectionSort = "raindrop"
	CollectionsNone     CollectionSort = "none"
)

// Valid reports whether s is a supported collection sort.
func (s CollectionSort) Valid() bool {
	switch s {
	case CollectionsAlphaAsc, CollectionsAlphaDesc, CollectionsRaindrop, CollectionsNone:
		return true
	}
	return false
}

// BookmarkSort orders bookmarks within a folder.
type BookmarkSort string

const (
	BookmarksCreatedDesc BookmarkSort = "created_desc"
	BookmarksCreatedAsc  BookmarkSort = "created_asc"
	BookmarksAlphaAsc    BookmarkSort = "alpha_asc"
	BookmarksAlphaDesc   BookmarkSort = "alpha_desc"
	BookmarksDomainAsc   BookmarkSort = "domain_asc"
	BookmarksNone        BookmarkSort = "none"
)

// Valid reports whether s is a supported bookmark sort.
func (s BookmarkSort) Valid() bool {
	switch s {
	case BookmarksCreatedDesc, BookmarksCreatedAsc, BookmarksAlphaAsc,
		BookmarksAlphaDesc, BookmarksDomainAsc, BookmarksNone:
		return true
	}
	return false
}

// Collection is a remote Raindrop.io collection, normalised from the API's
// JSON representation.
type Collection struct {
	ID    int64
	Title string
	// Parent is the normalised parent collection ID, nil for roots.
	Parent *int64
	// Sort is the service-defined ordering key.
	Sort float64
}

// IsSystem reports whether the collection is one of the service's built-in
// pseudo-collections (Unsorted, Trash, All), which use reserved IDs ≤ 0.
func (c *Collection) IsSystem() bool { return c.ID <= 0 }

type collectionJSON struct {
	ID         int64           `json:"_id"`
	Title      string          `json:"title"`
	Sort       *float64        `json:"sort"`
	Order      *float64        `json:"order"`
	Parent     json.RawMessage `json:"parent"`
	ParentID   json.RawMessage `json:"parentId"`
	ParentSnek json.RawMessage `json:"parent_id"`
}

// UnmarshalJSON decodes a collection, normalising the parent reference via
// the precedence table in normalizeParent.
func (c *Collection) UnmarshalJSON(data []byte) error {
	var raw collectionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.ID = raw.ID
	c.Title = raw.Title
	switch {
	case raw.Sort != nil:
		c.Sort = *raw.Sort
	case raw.Order != nil:
		c.Sort = *raw.Order
	}
	c.Parent = normalizeParent(raw.Parent, raw.ParentID, raw.ParentSnek)
	return nil
}

// parentStrategies is the fixed precedence order for extracting a parent
// collection ID from the shapes the API has been observed to emit: a nested
// object keyed "$id"/"id"/"_id", a flat "parentId"/"parent_id" field, or a
// bare numeric/string "parent" value.
var parentStrategies = []func(parent, parentID, parentSnek json.RawMessage) json.RawMessage{
	func(p, _, _ json.RawMessage) json.RawMessage { return objectField(p, "$id") },
	func(p, _, _ json.RawMessage) json.RawMessage { return objectField(p, "id") },
	func(p, _, _ json.RawMessage) json.RawMessage { return objectField(p, "_id") },
	func(_, pid, _ json.RawMessage) json.RawMessage { return pid },
	func(_, _, pid json.RawMessage) json.RawMessage { return pid },
	func(p, _, _ json.RawMessage) json.RawMessage { return p },
}

// normalizeParent tries each known parent-reference encoding in priority
// order and returns the first value that parses as an integer.
func normalizeParent(parent, parentID, parentSnek json.RawMessage) *int64 {
	for _, strategy := range parentStrategies {
		if id, ok := asInt64(strategy(parent, parentID, parentSnek)); ok {
			return &id
		}
	}
	return nil
}

// objectField returns the named field of a JSON object, or nil when raw is
// not an object or lacks the field.
func objectField(raw json.RawMessage, key string) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj[key]
}

// asInt64 parses a JSON number or numeric string as an integer.
func asInt64(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if id, err := n.Int64(); err == nil {
			return id, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
		return 0, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return id, true
		}
	}
	return 0, false
}

// Raindrop is a single saved link record on the remote service.
type Raindrop struct {
	ID    int64
	Title string
	// Link is the item's address; LegacyURL holds the older "url" field
	// some records still carry. Use [Raindrop.URL] instead of reading
	// either directly.
	Link      string
	LegacyURL string
	Created   time.Time
	// CollectionID is the collection the service last reported the item in,
	// 0 when the record carried no collection reference.
	CollectionID int64
}

// URL returns the raindrop's address, preferring the modern "link" field.
func (r *Raindrop) URL() string {
	if r.Link != "" {
		return r.Link
	}
	return r.LegacyURL
}

// UnmarshalJSON decodes a raindrop, normalising the collection reference
// which arrives as {"$id": n} or {"id": n}.
func (r *Raindrop) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID         int64           `json:"_id"`
		Title      string          `json:"title"`
		Link       string          `json:"link"`
		URL        string          `json:"url"`
		Created    *time.Time      `json:"created"`
		Collection json.RawMessage `json:"collection"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.ID = raw.ID
	r.Title = raw.Title
	r.Link = raw.Link
	r.LegacyURL = raw.URL
	if raw.Created != nil {
		r.Created = *raw.Created
	}
	for _, key := range []string{"$id", "id", "_id"} {
		if id, ok := asInt64(objectField(raw.Collection, key)); ok {
			r.CollectionID = id
			break
		}
	}
	if r.CollectionID == 0 {
		if id, ok := asInt64(raw.Collection); ok {
			r.CollectionID = id
		}
	}
	return nil
}

// Node is a single entry in the local bookmark tree. A Node with an empty
// URL is a folder. Node IDs are opaque and stable only within one browser
// profile.
type Node struct {
	ID       string
	ParentID string
	Title    string
	URL      string
	// Index is the node's current position among its siblings.
	Index int
}

// IsFolder reports whether the node is a folder rather than a bookmark.
func (n *Node) IsFolder() bool { return n.URL == "" }

// SanitizeTitle normalises a title for use as a bookmark or folder name:
// runs of whitespace (including CR/LF/TAB) collapse to single spaces and
// the result is capped at 255 runes. An all-whitespace title becomes "".
func SanitizeTitle(title string) string {
	s := strings.Join(strings.Fields(title), " ")
	if utf8.RuneCountInString(s) > 255 {
		s = string([]rune(s)[:255])
	}
	return s
}

// ValidBookmarkURL reports whether the URL is an http(s) address the local
// bookmark tree will accept.
func ValidBookmarkURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Domain extracts the sort key for domain ordering: the URL's hostname with
// a leading "www." stripped, or "" when the URL does not parse (so broken
// URLs sort first).
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

func titleKey(s string) string { return strings.ToLower(s) }

// CollectionLess reports whether a sorts before b under the given
// preference. Alphabetic compares are case-insensitive.
func CollectionLess(a, b *Collection, mode CollectionSort) bool {
	switch mode {
	case CollectionsAlphaDesc:
		return titleKey(a.Title) > titleKey(b.Title)
	case CollectionsRaindrop:
		return a.Sort < b.Sort
	default:
		return titleKey(a.Title) < titleKey(b.Title)
	}
}

// SortCollections stably orders collections in place. CollectionsNone
// leaves the arrival order untouched.
func SortCollections(cols []*Collection, mode CollectionSort) {
	if mode == CollectionsNone {
		return
	}
	sort.SliceStable(cols, func(i, j int) bool {
		return CollectionLess(cols[i], cols[j], mode)
	})
}

// SortBookmarks stably orders bookmark nodes in place according to the
// configured preference. createdAt resolves a bookmark URL to the remote
// creation time for the created orders; unknown URLs yield the zero time,
// which sorts last in descending order and first in ascending order.
func SortBookmarks(nodes []Node, mode BookmarkSort, createdAt func(url string) time.Time) {
	var less func(a, b *Node) bool
	switch mode {
	case BookmarksCreatedAsc:
		less = func(a, b *Node) bool { return createdAt(a.URL).Before(createdAt(b.URL)) }
	case BookmarksAlphaAsc:
		less = func(a, b *Node) bool { return titleKey(a.Title) < titleKey(b.Title) }
	case BookmarksAlphaDesc:
		less = func(a, b *Node) bool { return titleKey(a.Title) > titleKey(b.Title) }
	case BookmarksDomainAsc:
		less = func(a, b *Node) bool { return Domain(a.URL) < Domain(b.URL) }
	case BookmarksNone:
		return
	default: // created_desc
		less = func(a, b *Node) bool { return createdAt(a.URL).After(createdAt(b.URL)) }
	}
	sort.SliceStable(nodes, func(i, j int) bool { return less(&nodes[i], &nodes[j]) })
}
