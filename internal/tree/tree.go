// Package tree holds the concrete file-tree objects and the tree-merge
// capability the rewriter consumes. The rest of the core treats trees as
// opaque ids plus the core.TreeMerger contract, so this package is
// replaceable by any backend with the same semantics.
package tree

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/solenoidlabs/keel/internal/core"
	"github.com/solenoidlabs/keel/internal/object"
)

// Entry is one file in a tree: path, blob id, executable bit.
type Entry struct {
	Path       string      `json:"path"`
	FileID     core.FileID `json:"file_id"`
	Executable bool        `json:"executable,omitempty"`
}

// Tree is a flat, sorted list of file entries. Flat paths keep the codec
// trivially canonical; structural sharing happens at the blob level.
type Tree struct {
	ID core.TreeID `json:"-"`

	V       int     `json:"v"`
	Entries []Entry `json:"entries"`
}

// PathValue returns the entry at path, if any.
func (t *Tree) PathValue(path string) (Entry, bool) {
	i := sort.Search(len(t.Entries), func(i int) bool { return t.Entries[i].Path >= path })
	if i < len(t.Entries) && t.Entries[i].Path == path {
		return t.Entries[i], true
	}
	return Entry{}, false
}

// Store reads and writes trees and file blobs in the tree namespace.
type Store struct {
	objects *object.Store
}

// NewStore wraps the raw tree/blob object namespace.
func NewStore(objects *object.Store) *Store {
	return &Store{objects: objects}
}

// WriteTree stores a tree, sorting its entries first. The tree's ID
// field is filled in.
func (s *Store) WriteTree(t *Tree) (core.TreeID, error) {
	if t.V == 0 {
		t.V = 1
	}
	sort.Slice(t.Entries, func(i, j int) bool { return t.Entries[i].Path < t.Entries[j].Path })
	data, err := object.CanonicalJSON(t)
	if err != nil {
		return core.TreeID{}, fmt.Errorf("serialize tree: %w", err)
	}
	cid, err := s.objects.Put(data)
	if err != nil {
		return core.TreeID{}, fmt.Errorf("store tree: %w", err)
	}
	t.ID = core.NewTreeID(cid)
	return t.ID, nil
}

// GetTree loads a tree by id.
func (s *Store) GetTree(id core.TreeID) (*Tree, error) {
	data, err := s.objects.Get(id.CID())
	if err != nil {
		return nil, object.WithKind(err, "tree")
	}
	var t Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal tree: %w", err)
	}
	t.ID = id
	return &t, nil
}

// WriteEmptyTree stores the canonical empty tree.
func (s *Store) WriteEmptyTree() (core.TreeID, error) {
	return s.WriteTree(&Tree{V: 1, Entries: []Entry{}})
}

// WriteBlob stores raw file content.
func (s *Store) WriteBlob(data []byte) (core.FileID, error) {
	cid, err := s.objects.Put(data)
	if err != nil {
		return core.FileID{}, fmt.Errorf("store blob: %w", err)
	}
	return core.NewFileID(cid), nil
}

// GetBlob reads raw file content.
func (s *Store) GetBlob(id core.FileID) ([]byte, error) {
	data, err := s.objects.Get(id.CID())
	if err != nil {
		return nil, object.WithKind(err, "file")
	}
	return data, nil
}

// Builder accumulates edits on top of a base tree.
type Builder struct {
	entries map[string]*Entry // nil value = removed
}

// NewBuilder starts from the given base tree (may be nil for empty).
func NewBuilder(base *Tree) *Builder {
	b := &Builder{entries: map[string]*Entry{}}
	if base != nil {
		for i := range base.Entries {
			e := base.Entries[i]
			b.entries[e.Path] = &e
		}
	}
	return b
}

// Set adds or replaces a file.
func (b *Builder) Set(path string, fileID core.FileID, executable bool) {
	b.entries[path] = &Entry{Path: path, FileID: fileID, Executable: executable}
}

// Remove deletes a file.
func (b *Builder) Remove(path string) {
	b.entries[path] = nil
}

// Write stores the built tree.
func (b *Builder) Write(s *Store) (core.TreeID, error) {
	t := &Tree{V: 1, Entries: []Entry{}}
	for _, e := range b.entries {
		if e != nil {
			t.Entries = append(t.Entries, *e)
		}
	}
	return s.WriteTree(t)
}
