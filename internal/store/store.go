// Package store gives typed access to the three content-addressed
// namespaces: commits, trees (including file blobs), and the shared
// operation/view namespace. Reads go through small LRU caches of decoded
// objects; writes are idempotent because the underlying object stores
// are content-addressed.
package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/solenoidlabs/keel/internal/core"
	"github.com/solenoidlabs/keel/internal/object"
)

const defaultCacheSize = 1024

// Store is the typed object store for one repository.
type Store struct {
	commits *object.Store
	trees   *object.Store
	ops     *object.Store

	commitCache *lru.Cache[core.CommitID, *core.Commit]
	viewCache   *lru.Cache[core.ViewID, *core.View]
	opCache     *lru.Cache[core.OperationID, *core.Operation]
}

// Open creates or opens the object namespaces under objectsDir.
func Open(objectsDir string, cacheSize int) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	commits, err := object.NewStore(filepath.Join(objectsDir, "commits"))
	if err != nil {
		return nil, err
	}
	trees, err := object.NewStore(filepath.Join(objectsDir, "trees"))
	if err != nil {
		return nil, err
	}
	ops, err := object.NewStore(filepath.Join(objectsDir, "opstore"))
	if err != nil {
		return nil, err
	}
	commitCache, err := lru.New[core.CommitID, *core.Commit](cacheSize)
	if err != nil {
		return nil, err
	}
	viewCache, err := lru.New[core.ViewID, *core.View](cacheSize)
	if err != nil {
		return nil, err
	}
	opCache, err := lru.New[core.OperationID, *core.Operation](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{
		commits:     commits,
		trees:       trees,
		ops:         ops,
		commitCache: commitCache,
		viewCache:   viewCache,
		opCache:     opCache,
	}, nil
}

// TreeStore exposes the raw tree/blob namespace for the tree codec.
func (s *Store) TreeStore() *object.Store { return s.trees }

// WriteCommit serializes and stores a commit, returning its id. The
// commit's ID field is filled in.
func (s *Store) WriteCommit(c *core.Commit) (core.CommitID, error) {
	if c.V == 0 {
		c.V = 1
	}
	data, err := object.CanonicalJSON(c)
	if err != nil {
		return core.CommitID{}, fmt.Errorf("serialize commit: %w", err)
	}
	cid, err := s.commits.Put(data)
	if err != nil {
		return core.CommitID{}, fmt.Errorf("store commit: %w", err)
	}
	c.ID = core.NewCommitID(cid)
	s.commitCache.Add(c.ID, c)
	return c.ID, nil
}

// GetCommit loads a commit by id.
func (s *Store) GetCommit(id core.CommitID) (*core.Commit, error) {
	if c, ok := s.commitCache.Get(id); ok {
		return c, nil
	}
	data, err := s.commits.Get(id.CID())
	if err != nil {
		return nil, object.WithKind(err, "commit")
	}
	var c core.Commit
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal commit %s: %w", id.Short(), err)
	}
	c.ID = id
	s.commitCache.Add(id, &c)
	return &c, nil
}

// WriteView serializes and stores a view, returning its id.
func (s *Store) WriteView(v *core.View) (core.ViewID, error) {
	if v.V == 0 {
		v.V = 1
	}
	data, err := object.CanonicalJSON(v)
	if err != nil {
		return core.ViewID{}, fmt.Errorf("serialize view: %w", err)
	}
	cid, err := s.ops.Put(data)
	if err != nil {
		return core.ViewID{}, fmt.Errorf("store view: %w", err)
	}
	v.ID = core.NewViewID(cid)
	s.viewCache.Add(v.ID, v)
	return v.ID, nil
}

// GetView loads a view by id.
func (s *Store) GetView(id core.ViewID) (*core.View, error) {
	if v, ok := s.viewCache.Get(id); ok {
		return v, nil
	}
	data, err := s.ops.Get(id.CID())
	if err != nil {
		return nil, object.WithKind(err, "view")
	}
	v := core.NewView()
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("unmarshal view: %w", err)
	}
	v.ID = id
	s.viewCache.Add(id, v)
	return v, nil
}

// WriteOperation serializes and stores an operation, returning its id.
func (s *Store) WriteOperation(op *core.Operation) (core.OperationID, error) {
	if op.V == 0 {
		op.V = 1
	}
	data, err := object.CanonicalJSON(op)
	if err != nil {
		return core.OperationID{}, fmt.Errorf("serialize operation: %w", err)
	}
	cid, err := s.ops.Put(data)
	if err != nil {
		return core.OperationID{}, fmt.Errorf("store operation: %w", err)
	}
	op.ID = core.NewOperationID(cid)
	s.opCache.Add(op.ID, op)
	return op.ID, nil
}

// GetOperation loads an operation by id.
func (s *Store) GetOperation(id core.OperationID) (*core.Operation, error) {
	if op, ok := s.opCache.Get(id); ok {
		return op, nil
	}
	data, err := s.ops.Get(id.CID())
	if err != nil {
		return nil, object.WithKind(err, "operation")
	}
	var op core.Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("unmarshal operation %s: %w", id.Short(), err)
	}
	op.ID = id
	s.opCache.Add(id, &op)
	return &op, nil
}

// ListOperations scans the shared operation/view namespace and decodes
// every operation in it. Views share the namespace, so objects are
// sniffed by shape before decoding. Used only for head recovery.
func (s *Store) ListOperations() ([]*core.Operation, error) {
	cids, err := s.ops.List()
	if err != nil {
		return nil, err
	}
	var out []*core.Operation
	for _, c := range cids {
		data, err := s.ops.Get(c)
		if err != nil {
			return nil, err
		}
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(data, &probe); err != nil {
			continue // not one of ours
		}
		if _, isOp := probe["view_id"]; !isOp {
			continue // a view
		}
		var op core.Operation
		if err := json.Unmarshal(data, &op); err != nil {
			return nil, fmt.Errorf("unmarshal operation %s: %w", object.CIDToFilename(c), err)
		}
		op.ID = core.NewOperationID(c)
		out = append(out, &op)
	}
	return out, nil
}
