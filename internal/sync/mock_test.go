package sync

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/njoerd114/raindroprelay/internal/model"
	"github.com/njoerd114/raindroprelay/internal/state"
)

// --- Mock Remote Source ------------------------------------------------------

type mockRemote struct {
	mu          sync.Mutex
	roots       []*model.Collection
	children    []*model.Collection
	drops       map[int64][]*model.Raindrop // collectionID → raindrops
	nextID      int64
	pingErr     error
	childrenErr error

	creates int
	deletes int
}

func newMockRemote() *mockRemote {
	return &mockRemote{drops: make(map[int64][]*model.Raindrop), nextID: 1000}
}

func (m *mockRemote) addCollection(c *model.Collection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Parent == nil {
		m.roots = append(m.roots, c)
	} else {
		m.children = append(m.children, c)
	}
}

func (m *mockRemote) addDrop(collectionID int64, d *model.Raindrop) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.CollectionID == 0 {
		d.CollectionID = collectionID
	}
	m.drops[collectionID] = append(m.drops[collectionID], d)
}

func (m *mockRemote) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func (m *mockRemote) Collections(context.Context) ([]*model.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*model.Collection, len(m.roots))
	copy(result, m.roots)
	return result, nil
}

func (m *mockRemote) ChildCollections(context.Context) ([]*model.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.childrenErr != nil {
		return nil, m.childrenErr
	}
	result := make([]*model.Collection, len(m.children))
	copy(result, m.children)
	return result, nil
}

func (m *mockRemote) Raindrops(_ context.Context, collectionID int64) ([]*model.Raindrop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*model.Raindrop, len(m.drops[collectionID]))
	copy(result, m.drops[collectionID])
	return result, nil
}

func (m *mockRemote) CreateRaindrop(_ context.Context, title, link string, collectionID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.creates++
	d := &model.Raindrop{
		ID:           m.nextID,
		Title:        title,
		Link:         link,
		Created:      time.Now(),
		CollectionID: collectionID,
	}
	m.drops[collectionID] = append(m.drops[collectionID], d)
	return d.ID, nil
}

func (m *mockRemote) DeleteRaindrop(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	for colID, drops := range m.drops {
		for i, d := range drops {
			if d.ID == id {
				m.drops[colID] = append(drops[:i], drops[i+1:]...)
				return nil
			}
		}
	}
	return nil // already gone
}

func (m *mockRemote) dropCount(collectionID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.drops[collectionID])
}

func (m *mockRemote) findDrop(collectionID int64, url string) *model.Raindrop {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.drops[collectionID] {
		if d.URL() == url {
			return d
		}
	}
	return nil
}

// --- Mock Node Store ---------------------------------------------------------

// mockNode is one tree entry; children keeps sibling order.
type mockNode struct {
	id       string
	parentID string
	title    string
	url      string
	children []string
}

type mockNodes struct {
	mu     sync.Mutex
	nodes  map[string]*mockNode
	nextID int

	moves int
}

// newMockNodes builds a store with a single root folder "1".
func newMockNodes() *mockNodes {
	return &mockNodes{
		nodes:  map[string]*mockNode{"1": {id: "1", title: "Bookmarks bar"}},
		nextID: 1,
	}
}

func (m *mockNodes) Get(id string) (*model.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, nil
	}
	return m.toModel(n), nil
}

func (m *mockNodes) toModel(n *mockNode) *model.Node {
	index := 0
	if parent, ok := m.nodes[n.parentID]; ok {
		for i, childID := range parent.children {
			if childID == n.id {
				index = i
			}
		}
	}
	return &model.Node{ID: n.id, ParentID: n.parentID, Title: n.title, URL: n.url, Index: index}
}

func (m *mockNodes) GetChildren(id string) ([]model.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("folder %q does not exist", id)
	}
	if n.url != "" {
		return nil, fmt.Errorf("node %q is not a folder", id)
	}
	result := make([]model.Node, 0, len(n.children))
	for _, childID := range n.children {
		result = append(result, *m.toModel(m.nodes[childID]))
	}
	return result, nil
}

func (m *mockNodes) Create(parentID, title, url string) (*model.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, ok := m.nodes[parentID]
	if !ok || parent.url != "" {
		return nil, fmt.Errorf("parent %q is not a folder", parentID)
	}
	m.nextID++
	n := &mockNode{id: strconv.Itoa(m.nextID), parentID: parentID, title: title, url: url}
	m.nodes[n.id] = n
	parent.children = append(parent.children, n.id)
	return m.toModel(n), nil
}

func (m *mockNodes) Update(id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return fmt.Errorf("node %q does not exist", id)
	}
	n.title = title
	return nil
}

// Move removes the node from its slot and reinserts it at index, matching
// the file store's shift semantics.
func (m *mockNodes) Move(id string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return fmt.Errorf("node %q does not exist", id)
	}
	m.moves++
	parent := m.nodes[n.parentID]
	for i, childID := range parent.children {
		if childID == id {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}
	if index < 0 {
		index = 0
	}
	if index > len(parent.children) {
		index = len(parent.children)
	}
	parent.children = append(parent.children[:index],
		append([]string{id}, parent.children[index:]...)...)
	return nil
}

// seed adds a node directly, bypassing the public API.
func (m *mockNodes) seed(parentID, id, title, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[id] = &mockNode{id: id, parentID: parentID, title: title, url: url}
	m.nodes[parentID].children = append(m.nodes[parentID].children, id)
	if num, err := strconv.Atoi(id); err == nil && num > m.nextID {
		m.nextID = num
	}
}

func (m *mockNodes) childOrder(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.nodes[id].children...)
}

func (m *mockNodes) childTitles(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var titles []string
	for _, childID := range m.nodes[id].children {
		titles = append(titles, m.nodes[childID].title)
	}
	return titles
}

func (m *mockNodes) findChild(parentID, title string) *model.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, ok := m.nodes[parentID]
	if !ok {
		return nil
	}
	for _, childID := range parent.children {
		if m.nodes[childID].title == title {
			return m.toModel(m.nodes[childID])
		}
	}
	return nil
}

// --- Mock Mapping Store ------------------------------------------------------

type mockStore struct {
	mu       sync.Mutex
	items    map[int64]state.ItemMapping
	folders  map[int64]string
	lastSync time.Time
}

func newMockStore() *mockStore {
	return &mockStore{
		items:   make(map[int64]state.ItemMapping),
		folders: make(map[int64]string),
	}
}

func (m *mockStore) RecordItem(_ context.Context, mapping state.ItemMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[mapping.RaindropID] = mapping
	return nil
}

func (m *mockStore) DeleteItem(_ context.Context, raindropID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, raindropID)
	return nil
}

func (m *mockStore) ItemMappings(context.Context) ([]state.ItemMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]state.ItemMapping, 0, len(m.items))
	for _, mapping := range m.items {
		result = append(result, mapping)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RaindropID < result[j].RaindropID })
	return result, nil
}

func (m *mockStore) PruneItems(ctx context.Context, exists func(string) (bool, error)) (int, error) {
	mappings, _ := m.ItemMappings(ctx)
	pruned := 0
	for _, mapping := range mappings {
		ok, err := exists(mapping.NodeID)
		if err != nil {
			return pruned, err
		}
		if !ok {
			_ = m.DeleteItem(ctx, mapping.RaindropID)
			pruned++
		}
	}
	return pruned, nil
}

func (m *mockStore) LookupFolder(_ context.Context, collectionID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.folders[collectionID], nil
}

func (m *mockStore) RecordFolder(_ context.Context, collectionID int64, folderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.folders[collectionID] = folderID
	return nil
}

func (m *mockStore) DeleteFolder(_ context.Context, collectionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.folders, collectionID)
	return nil
}

func (m *mockStore) PruneFolders(ctx context.Context, exists func(string) (bool, error)) (int, error) {
	m.mu.Lock()
	folders := make(map[int64]string, len(m.folders))
	for id, folderID := range m.folders {
		folders[id] = folderID
	}
	m.mu.Unlock()

	pruned := 0
	for collectionID, folderID := range folders {
		ok, err := exists(folderID)
		if err != nil {
			return pruned, err
		}
		if !ok {
			_ = m.DeleteFolder(ctx, collectionID)
			pruned++
		}
	}
	return pruned, nil
}

func (m *mockStore) SetLastSync(_ context.Context, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSync = t
	return nil
}

func (m *mockStore) itemCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *mockStore) item(raindropID int64) (state.ItemMapping, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mapping, ok := m.items[raindropID]
	return mapping, ok
}
