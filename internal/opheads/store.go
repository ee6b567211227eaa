// Package opheads tracks the leaf set of the operation DAG and folds
// divergent leaves back into one through view merging. The head set is
// the only mutable record in the repository; everything else is
// content-addressed and append-only.
package opheads

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/solenoidlabs/keel/internal/core"
)

// Store persists the op-heads set as a directory with one empty file per
// head, named by operation id. Adding and removing heads are independent
// file operations, so concurrent writers never block each other: a lost
// race simply leaves an extra head file, which is the designed-for
// divergence path.
type Store struct {
	dir string
}

// NewStore creates the op-heads directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create op-heads dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Heads returns the current head set, sorted by operation id.
func (s *Store) Heads() ([]core.OperationID, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list op heads: %w", err)
	}
	heads := make([]core.OperationID, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, err := core.ParseOperationID(e.Name())
		if err != nil {
			continue // stray file
		}
		heads = append(heads, id)
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i].Less(heads[j]) })
	return heads, nil
}

// Add records id as a head. Idempotent.
func (s *Store) Add(id core.OperationID) error {
	path := filepath.Join(s.dir, id.String())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("add op head: %w", err)
	}
	return f.Close()
}

// Remove forgets a head. Removing an absent head is not an error: a
// concurrent writer may have removed it first.
func (s *Store) Remove(id core.OperationID) error {
	err := os.Remove(filepath.Join(s.dir, id.String()))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove op head: %w", err)
	}
	return nil
}

// Update replaces the old heads with the new one. The new head is added
// before the old ones are removed so a crash in between leaves a
// superset, never an empty set.
func (s *Store) Update(old []core.OperationID, newHead core.OperationID) error {
	if err := s.Add(newHead); err != nil {
		return err
	}
	for _, id := range old {
		if id == newHead {
			continue
		}
		if err := s.Remove(id); err != nil {
			return err
		}
	}
	return nil
}
