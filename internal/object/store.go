package object

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// CidUndef is the undefined/zero CID value, exported for use by other packages.
var CidUndef = gocid.Undef

// Store manages one namespace of CID-addressed immutable objects on disk.
// The store is append-only: objects are never updated or deleted, and
// writing the same content twice is a no-op that yields the same CID.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at the given directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create objects dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// ComputeCID computes a CIDv1 (raw codec, SHA2-256) for the given data.
func ComputeCID(data []byte) (gocid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return gocid.Undef, fmt.Errorf("multihash: %w", err)
	}
	return gocid.NewCidV1(gocid.Raw, mh), nil
}

// CIDToFilename returns the base32lower encoding of a CID for use as a filename.
func CIDToFilename(c gocid.Cid) string {
	encoded, _ := multibase.Encode(multibase.Base32, c.Bytes())
	return encoded
}

// ParseCID decodes the base32lower form produced by CIDToFilename.
func ParseCID(s string) (gocid.Cid, error) {
	_, cidBytes, err := multibase.Decode(s)
	if err != nil {
		return gocid.Undef, fmt.Errorf("decode CID %q: %w", s, err)
	}
	return gocid.Cast(cidBytes)
}

// Put writes data to the store, returning the CID.
// If the object already exists, this is a no-op.
func (s *Store) Put(data []byte) (gocid.Cid, error) {
	c, err := ComputeCID(data)
	if err != nil {
		return gocid.Undef, err
	}
	path := filepath.Join(s.dir, CIDToFilename(c))
	if _, err := os.Stat(path); err == nil {
		return c, nil // already exists
	}
	if err := SafeWrite(path, data, 0644); err != nil {
		return gocid.Undef, fmt.Errorf("write object: %w", err)
	}
	return c, nil
}

// Get reads an object by CID. The content hash is verified on every read,
// so a truncated or bit-flipped object surfaces as ErrCorrupt rather than
// as wrong data.
func (s *Store) Get(c gocid.Cid) ([]byte, error) {
	path := filepath.Join(s.dir, CIDToFilename(c))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &LookupError{Kind: "object", ID: c, Err: ErrNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", c, err)
	}
	check, err := ComputeCID(data)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(check.Bytes(), c.Bytes()) {
		return nil, &LookupError{Kind: "object", ID: c, Err: ErrCorrupt}
	}
	return data, nil
}

// Has checks if an object exists. It does not verify content.
func (s *Store) Has(c gocid.Cid) bool {
	path := filepath.Join(s.dir, CIDToFilename(c))
	_, err := os.Stat(path)
	return err == nil
}

// List returns the CIDs of all objects in this namespace.
func (s *Store) List() ([]gocid.Cid, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	cids := make([]gocid.Cid, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		c, err := ParseCID(e.Name())
		if err != nil {
			continue // stray file, not an object
		}
		cids = append(cids, c)
	}
	return cids, nil
}
