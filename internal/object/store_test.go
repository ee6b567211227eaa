package object

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestPutGet_Roundtrip(t *testing.T) {
	s := openTestStore(t)

	id, err := s.Put([]byte("hello"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("Get = %q, want %q", got, "hello")
	}
}

func TestPut_Idempotent(t *testing.T) {
	s := openTestStore(t)

	first, err := s.Put([]byte("same content"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	second, err := s.Put([]byte("same content"))
	if err != nil {
		t.Fatalf("Put (second): %v", err)
	}
	if !first.Equals(second) {
		t.Errorf("second Put returned %s, want %s", second, first)
	}

	ids, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("List returned %d objects, want 1", len(ids))
	}
}

func TestPut_DifferentContentDifferentID(t *testing.T) {
	s := openTestStore(t)

	a, _ := s.Put([]byte("a"))
	b, _ := s.Put([]byte("b"))
	if a.Equals(b) {
		t.Error("distinct contents produced the same id")
	}
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)

	id, err := ComputeCID([]byte("never stored"))
	if err != nil {
		t.Fatalf("ComputeCID: %v", err)
	}
	_, err = s.Get(id)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
	var le *LookupError
	if !errors.As(err, &le) {
		t.Fatalf("error %v is not a LookupError", err)
	}
}

func TestGet_DetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Put([]byte("pristine"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Flip the content under the store's feet.
	path := filepath.Join(dir, CIDToFilename(id))
	if err := os.WriteFile(path, []byte("tampered"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err = s.Get(id)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Get tampered = %v, want ErrCorrupt", err)
	}
}

func TestCIDFilename_Roundtrip(t *testing.T) {
	id, err := ComputeCID([]byte("some data"))
	if err != nil {
		t.Fatal(err)
	}
	name := CIDToFilename(id)
	parsed, err := ParseCID(name)
	if err != nil {
		t.Fatalf("ParseCID(%q): %v", name, err)
	}
	if !parsed.Equals(id) {
		t.Errorf("ParseCID roundtrip = %s, want %s", parsed, id)
	}
}

func TestHas(t *testing.T) {
	s := openTestStore(t)

	id, _ := s.Put([]byte("present"))
	if !s.Has(id) {
		t.Error("Has = false for a stored object")
	}
	missing, _ := ComputeCID([]byte("absent"))
	if s.Has(missing) {
		t.Error("Has = true for a missing object")
	}
}

func TestWithKind_Retags(t *testing.T) {
	s := openTestStore(t)
	id, _ := ComputeCID([]byte("x"))
	_, err := s.Get(id)

	tagged := WithKind(err, "commit")
	var le *LookupError
	if !errors.As(tagged, &le) {
		t.Fatalf("WithKind result %v is not a LookupError", tagged)
	}
	if le.Kind != "commit" {
		t.Errorf("Kind = %q, want %q", le.Kind, "commit")
	}
	if !errors.Is(tagged, ErrNotFound) {
		t.Error("WithKind lost the ErrNotFound sentinel")
	}
}
