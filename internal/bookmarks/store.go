// Package bookmarks implements the local bookmark tree over a Chrome-format
// Bookmarks JSON file. The file is reloaded when its modification time
// changes, so edits made by a running browser are picked up between passes.
//
// Only leaf removal and within-parent moves are supported; the sync engine
// never needs cross-parent moves.
package bookmarks

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/njoerd114/raindroprelay/internal/model"
)

const (
	typeFolder = "folder"
	typeURL    = "url"

	// Offset in seconds between the Windows epoch (1601-01-01) Chrome
	// timestamps use and the Unix epoch.
	windowsEpochOffset = 11644473600
)

// fileNode is the on-disk shape of one bookmark entry.
type fileNode struct {
	Children  []*fileNode `json:"children,omitempty"`
	DateAdded string      `json:"date_added"`
	GUID      string      `json:"guid,omitempty"`
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Type      string      `json:"type"`
	URL       string      `json:"url,omitempty"`
}

// bookmarksFile is the on-disk shape of the whole file.
type bookmarksFile struct {
	Roots   map[string]*fileNode `json:"roots"`
	Version int                  `json:"version"`
}

// FileStore is a thread-safe bookmark store backed by one Bookmarks file.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	file   *bookmarksFile
	byID   map[string]*fileNode
	parent map[string]*fileNode
	maxID  int64
	mtime  time.Time
}

// Open loads the Bookmarks file at path.
func Open(path string, logger *slog.Logger) (*FileStore, error) {
	s := &FileStore{path: path, logger: logger}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file's path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading bookmarks file %q: %w", s.path, err)
	}
	var f bookmarksFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing bookmarks file %q: %w", s.path, err)
	}
	if len(f.Roots) == 0 {
		return fmt.Errorf("bookmarks file %q has no roots", s.path)
	}

	s.file = &f
	s.byID = make(map[string]*fileNode)
	s.parent = make(map[string]*fileNode)
	s.maxID = 0
	for _, root := range f.Roots {
		s.index(root, nil)
	}

	if info, err := os.Stat(s.path); err == nil {
		s.mtime = info.ModTime()
	}
	return nil
}

func (s *FileStore) index(n *fileNode, parent *fileNode) {
	s.byID[n.ID] = n
	if parent != nil {
		s.parent[n.ID] = parent
	}
	if id, err := strconv.ParseInt(n.ID, 10, 64); err == nil && id > s.maxID {
		s.maxID = id
	}
	for _, child := range n.Children {
		s.index(child, n)
	}
}

// ensureFresh reloads the file when the browser (or anything else) has
// rewritten it since we last read it.
func (s *FileStore) ensureFresh() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("checking bookmarks file %q: %w", s.path, err)
	}
	if info.ModTime().Equal(s.mtime) {
		return nil
	}
	s.logger.Debug("bookmarks file changed on disk, reloading")
	return s.load()
}

// save writes the tree atomically (temp file + rename) and records the new
// modification time so the write does not look like an external change.
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.file, "", "   ")
	if err != nil {
		return fmt.Errorf("encoding bookmarks: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing bookmarks temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing bookmarks file: %w", err)
	}
	if info, err := os.Stat(s.path); err == nil {
		s.mtime = info.ModTime()
	}
	return nil
}

func (s *FileStore) nextID() string {
	s.maxID++
	return strconv.FormatInt(s.maxID, 10)
}

func toNode(n *fileNode, parentID string, index int) *model.Node {
	return &model.Node{
		ID:       n.ID,
		ParentID: parentID,
		Title:    n.Name,
		URL:      n.URL,
		Index:    index,
	}
}

// locate returns the file node and its parent, or (nil, nil) when absent.
func (s *FileStore) locate(id string) (*fileNode, *fileNode) {
	n, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return n, s.parent[id]
}

func childIndex(parent *fileNode, id string) int {
	for i, c := range parent.Children {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// Get returns the node with the given ID, or (nil, nil) if it does not exist.
func (s *FileStore) Get(id string) (*model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureFresh(); err != nil {
		return nil, err
	}

	n, parent := s.locate(id)
	if n == nil {
		return nil, nil
	}
	parentID, index := "", 0
	if parent != nil {
		parentID = parent.ID
		index = childIndex(parent, id)
	}
	return toNode(n, parentID, index), nil
}

// GetChildren returns the direct children of the given folder in tree order.
// A missing or non-folder node yields an error.
func (s *FileStore) GetChildren(id string) ([]model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureFresh(); err != nil {
		return nil, err
	}

	n, _ := s.locate(id)
	if n == nil {
		return nil, fmt.Errorf("folder %q does not exist", id)
	}
	if n.Type != typeFolder {
		return nil, fmt.Errorf("node %q is not a folder", id)
	}
	children := make([]model.Node, 0, len(n.Children))
	for i, c := range n.Children {
		children = append(children, *toNode(c, id, i))
	}
	return children, nil
}

// Create appends a new bookmark (or folder, when url is empty) to the given
// parent folder and returns the created node.
func (s *FileStore) Create(parentID, title, url string) (*model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureFresh(); err != nil {
		return nil, err
	}

	parent, _ := s.locate(parentID)
	if parent == nil {
		return nil, fmt.Errorf("parent folder %q does not exist", parentID)
	}
	if parent.Type != typeFolder {
		return nil, fmt.Errorf("parent %q is not a folder", parentID)
	}

	n := &fileNode{
		DateAdded: chromeTimestamp(time.Now()),
		ID:        s.nextID(),
		Name:      title,
		Type:      typeURL,
		URL:       url,
	}
	if url == "" {
		n.Type = typeFolder
		n.Children = []*fileNode{}
	}
	parent.Children = append(parent.Children, n)
	s.byID[n.ID] = n
	s.parent[n.ID] = parent

	if err := s.save(); err != nil {
		return nil, err
	}
	return toNode(n, parentID, len(parent.Children)-1), nil
}

// Update renames the given node.
func (s *FileStore) Update(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureFresh(); err != nil {
		return err
	}

	n, _ := s.locate(id)
	if n == nil {
		return fmt.Errorf("node %q does not exist", id)
	}
	if n.Name == title {
		return nil
	}
	n.Name = title
	return s.save()
}

// Move repositions the node among its siblings: it is removed from its
// current slot and reinserted at index (clamped to the sibling count).
func (s *FileStore) Move(id string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureFresh(); err != nil {
		return err
	}

	n, parent := s.locate(id)
	if n == nil {
		return fmt.Errorf("node %q does not exist", id)
	}
	if parent == nil {
		return fmt.Errorf("node %q is a root and cannot be moved", id)
	}

	cur := childIndex(parent, id)
	parent.Children = append(parent.Children[:cur], parent.Children[cur+1:]...)
	if index < 0 {
		index = 0
	}
	if index > len(parent.Children) {
		index = len(parent.Children)
	}
	parent.Children = append(parent.Children[:index],
		append([]*fileNode{n}, parent.Children[index:]...)...)
	return s.save()
}

// Remove deletes a bookmark or an empty folder.
func (s *FileStore) Remove(id string) error {
	return s.remove(id, false)
}

// RemoveTree deletes a node and, for folders, everything beneath it.
func (s *FileStore) RemoveTree(id string) error {
	return s.remove(id, true)
}

func (s *FileStore) remove(id string, recursive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureFresh(); err != nil {
		return err
	}

	n, parent := s.locate(id)
	if n == nil {
		return fmt.Errorf("node %q does not exist", id)
	}
	if parent == nil {
		return fmt.Errorf("node %q is a root and cannot be removed", id)
	}
	if !recursive && n.Type == typeFolder && len(n.Children) > 0 {
		return fmt.Errorf("folder %q is not empty", id)
	}

	cur := childIndex(parent, id)
	parent.Children = append(parent.Children[:cur], parent.Children[cur+1:]...)
	s.unindex(n)
	return s.save()
}

func (s *FileStore) unindex(n *fileNode) {
	delete(s.byID, n.ID)
	delete(s.parent, n.ID)
	for _, c := range n.Children {
		s.unindex(c)
	}
}

// chromeTimestamp formats t as microseconds since 1601-01-01, the encoding
// Chrome uses for date_added.
func chromeTimestamp(t time.Time) string {
	micros := (t.Unix() + windowsEpochOffset) * 1_000_000
	return strconv.FormatInt(micros, 10)
}

// DefaultCandidatePaths returns the Bookmarks file locations of the known
// Chromium-based browsers for this user, existing or not. Used by setup
// discovery.
func DefaultCandidatePaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	bases := []string{
		filepath.Join(home, ".config", "google-chrome"),
		filepath.Join(home, ".config", "chromium"),
		filepath.Join(home, ".config", "BraveSoftware", "Brave-Browser"),
		filepath.Join(home, ".config", "microsoft-edge"),
		filepath.Join(home, ".config", "vivaldi"),
		filepath.Join(home, "Library", "Application Support", "Google", "Chrome"),
		filepath.Join(home, "Library", "Application Support", "Chromium"),
		filepath.Join(home, "Library", "Application Support", "BraveSoftware", "Brave-Browser"),
		filepath.Join(home, "Library", "Application Support", "Microsoft Edge"),
		filepath.Join(home, "Library", "Application Support", "Vivaldi"),
	}
	var paths []string
	for _, base := range bases {
		paths = append(paths, filepath.Join(base, "Default", "Bookmarks"))
		// Numbered profiles.
		matches, _ := filepath.Glob(filepath.Join(base, "Profile *", "Bookmarks"))
		paths = append(paths, matches...)
	}
	return paths
}
