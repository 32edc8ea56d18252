package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Bookmark is a saved server login. The password is never stored.
type Bookmark struct {
	Name     string `yaml:"name"`
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	LastUsed int64  `yaml:"last_used,omitempty"` // unix seconds
}

// BookmarkStore keeps bookmarks in a YAML file.
type BookmarkStore struct {
	path      string
	Bookmarks []Bookmark `yaml:"bookmarks"`
}

// NewBookmarkStore uses servers.yaml next to the executable.
func NewBookmarkStore() *BookmarkStore {
	dir := "."
	if exe, err := os.Executable(); err == nil {
		dir = filepath.Dir(exe)
	}
	return NewBookmarkStoreAt(filepath.Join(dir, "servers.yaml"))
}

// NewBookmarkStoreAt creates a bookmark store backed by path.
func NewBookmarkStoreAt(path string) *BookmarkStore {
	return &BookmarkStore{path: path}
}

// Load replaces the in-memory list with the file contents. A missing file
// yields an empty list.
func (bs *BookmarkStore) Load() error {
	data, err := os.ReadFile(bs.path)
	if errors.Is(err, os.ErrNotExist) {
		bs.Bookmarks = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("client: load bookmarks: %w", err)
	}
	if err := yaml.Unmarshal(data, bs); err != nil {
		return fmt.Errorf("client: parse bookmarks %s: %w", bs.path, err)
	}
	return nil
}

// Save writes the list, most recently used first.
func (bs *BookmarkStore) Save() error {
	sort.SliceStable(bs.Bookmarks, func(i, j int) bool {
		return bs.Bookmarks[i].LastUsed > bs.Bookmarks[j].LastUsed
	})
	data, err := yaml.Marshal(bs)
	if err != nil {
		return fmt.Errorf("client: encode bookmarks: %w", err)
	}
	if err := os.WriteFile(bs.path, data, 0o600); err != nil {
		return fmt.Errorf("client: save bookmarks: %w", err)
	}
	return nil
}

func (bs *BookmarkStore) index(addr, username string) int {
	for i, b := range bs.Bookmarks {
		if b.Addr == addr && b.Username == username {
			return i
		}
	}
	return -1
}

// Add inserts b, or replaces the entry with the same address and username.
// It reports whether b is new.
func (bs *BookmarkStore) Add(b Bookmark) bool {
	if i := bs.index(b.Addr, b.Username); i >= 0 {
		bs.Bookmarks[i] = b
		return false
	}
	bs.Bookmarks = append(bs.Bookmarks, b)
	return true
}

// Find returns the bookmark named name, or nil.
func (bs *BookmarkStore) Find(name string) *Bookmark {
	for i := range bs.Bookmarks {
		if bs.Bookmarks[i].Name == name {
			return &bs.Bookmarks[i]
		}
	}
	return nil
}

// Touch stamps ts on the entry for addr and username, if there is one.
func (bs *BookmarkStore) Touch(addr, username string, ts int64) bool {
	i := bs.index(addr, username)
	if i < 0 {
		return false
	}
	bs.Bookmarks[i].LastUsed = ts
	return true
}
