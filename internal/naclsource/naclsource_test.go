package naclsource

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/salto-io/workspace-core/internal/elemid"
)

const fooNacl = `type x.Foo {
  string name {}
}
`

const barNacl = `x.Foo bar {
  name = "b"
  depends = x.Foo.other
}
`

func newTestSource() *Source {
	return New("/ws", "x", WithFS(afero.NewMemMapFs()))
}

func TestSetNaclFilesReportsAddedChanges(t *testing.T) {
	s := newTestSource()
	changes, err := s.SetNaclFiles(context.Background(), map[string][]byte{"foo.nacl": []byte(fooNacl)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changes) != 1 || changes[0].Kind != ChangeAdded {
		t.Fatalf("expected one added change, got %v", changes)
	}
	if changes[0].ID.GetFullName() != "x.Foo" {
		t.Errorf("expected x.Foo, got %s", changes[0].ID.GetFullName())
	}
}

func TestSetNaclFilesReportsModifiedOnReparse(t *testing.T) {
	s := newTestSource()
	ctx := context.Background()
	if _, err := s.SetNaclFiles(ctx, map[string][]byte{"foo.nacl": []byte(fooNacl)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	changed := `type x.Foo {
  string name {}
  string other {}
}
`
	changes, err := s.SetNaclFiles(ctx, map[string][]byte{"foo.nacl": []byte(changed)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changes) != 1 || changes[0].Kind != ChangeModified {
		t.Fatalf("expected one modified change, got %v", changes)
	}
}

func TestRemoveNaclFilesReportsRemoved(t *testing.T) {
	s := newTestSource()
	ctx := context.Background()
	if _, err := s.SetNaclFiles(ctx, map[string][]byte{"foo.nacl": []byte(fooNacl)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	changes, err := s.RemoveNaclFiles("foo.nacl")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changes) != 1 || changes[0].Kind != ChangeRemoved {
		t.Fatalf("expected one removed change, got %v", changes)
	}
	if !s.IsEmpty() {
		t.Errorf("expected source to be empty after removing its only file")
	}
}

func TestGetElementNaclFilesIndexesByFragment(t *testing.T) {
	s := newTestSource()
	ctx := context.Background()
	if _, err := s.SetNaclFiles(ctx, map[string][]byte{
		"foo.nacl":  []byte(fooNacl),
		"foo2.nacl": []byte(`type x.Foo { string other {} }` + "\n"),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, err := elemid.FromFullNameAsType("x.Foo")
	if err != nil {
		t.Fatal(err)
	}
	files := s.GetElementNaclFiles(id)
	if len(files) != 2 {
		t.Fatalf("expected x.Foo to be fragmented across 2 files, got %v", files)
	}
}

func TestGetElementReferencesToFiles(t *testing.T) {
	s := newTestSource()
	ctx := context.Background()
	if _, err := s.SetNaclFiles(ctx, map[string][]byte{
		"foo.nacl": []byte(fooNacl),
		"bar.nacl": []byte(barNacl),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, err := elemid.FromFullNameAsType("x.Foo.other")
	if err != nil {
		t.Fatal(err)
	}
	files := s.GetElementReferencesToFiles(id)
	if len(files) != 1 || files[0] != "bar.nacl" {
		t.Fatalf("expected bar.nacl to reference x.Foo.other, got %v", files)
	}
}

func TestListNaclFilesGlob(t *testing.T) {
	s := newTestSource()
	ctx := context.Background()
	if _, err := s.SetNaclFiles(ctx, map[string][]byte{
		"services/a.nacl": []byte(fooNacl),
		"services/b.nacl": []byte(fooNacl),
		"other.nacl":      []byte(fooNacl),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	matched, err := s.ListNaclFiles("services/*.nacl")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 2 {
		t.Fatalf("expected 2 files under services/, got %v", matched)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := newTestSource()
	ctx := context.Background()
	if _, err := s.SetNaclFiles(ctx, map[string][]byte{"foo.nacl": []byte(fooNacl)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clone := s.Clone()
	if _, err := clone.RemoveNaclFiles("foo.nacl"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clone.IsEmpty() == s.IsEmpty() {
		t.Fatalf("expected clone's mutation not to affect the original")
	}
}

func TestRenamePreservesIndexEntries(t *testing.T) {
	s := newTestSource()
	ctx := context.Background()
	if _, err := s.SetNaclFiles(ctx, map[string][]byte{"foo.nacl": []byte(fooNacl)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Rename("foo.nacl", "renamed.nacl"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, err := elemid.FromFullNameAsType("x.Foo")
	if err != nil {
		t.Fatal(err)
	}
	files := s.GetElementNaclFiles(id)
	if len(files) != 1 || files[0] != "renamed.nacl" {
		t.Fatalf("expected renamed.nacl to carry the index entry, got %v", files)
	}
}

func TestCacheRoundTripsParsedFragments(t *testing.T) {
	dir := t.TempDir()
	s := New("/ws", "x", WithFS(afero.NewMemMapFs()), WithCache(filepath.Join(dir, "cache.db")))
	ctx := context.Background()
	if _, err := s.SetNaclFiles(ctx, map[string][]byte{"foo.nacl": []byte(fooNacl)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("unexpected error flushing cache: %v", err)
	}

	before, _ := s.GetParsedNaclFile("foo.nacl")

	cached, ok := s.cache.lookup("foo.nacl", []byte(fooNacl))
	if !ok {
		t.Fatal("expected a cache hit for unchanged content")
	}
	if len(cached.Elements) != len(before.Elements) {
		t.Fatalf("expected cached fragments to match the live parse, got %d vs %d",
			len(cached.Elements), len(before.Elements))
	}
	if cached.Elements[0].ID().GetFullName() != before.Elements[0].ID().GetFullName() {
		t.Errorf("expected cached element id %s, got %s",
			before.Elements[0].ID().GetFullName(), cached.Elements[0].ID().GetFullName())
	}
}
