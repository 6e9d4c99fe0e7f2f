package remote

import (
	"path/filepath"
	"testing"
)

func openTestCache(t *testing.T) *RevCache {
	t.Helper()
	cache, err := OpenRevCache(t.TempDir())
	if err != nil {
		t.Fatalf("OpenRevCache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestRevCacheRoundTrip(t *testing.T) {
	cache := openTestCache(t)

	if err := cache.SetRev("/Photos/Img.JPG", "rev1"); err != nil {
		t.Fatalf("SetRev: %v", err)
	}

	// Keys are case-folded like remote path_lower values.
	rev, err := cache.Rev("/photos/img.jpg")
	if err != nil {
		t.Fatalf("Rev: %v", err)
	}
	if rev != "rev1" {
		t.Errorf("Rev = %q, want %q", rev, "rev1")
	}

	rev, err = cache.Rev("/unknown")
	if err != nil {
		t.Fatalf("Rev: %v", err)
	}
	if rev != "" {
		t.Errorf("Rev(untracked) = %q, want empty", rev)
	}
}

func TestRevCacheEmptyRevDeletes(t *testing.T) {
	cache := openTestCache(t)

	if err := cache.SetRev("/a.txt", "r1"); err != nil {
		t.Fatal(err)
	}
	if err := cache.SetRev("/a.txt", ""); err != nil {
		t.Fatal(err)
	}
	rev, err := cache.Rev("/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if rev != "" {
		t.Errorf("Rev after empty SetRev = %q, want empty", rev)
	}
}

func TestRevCacheFileState(t *testing.T) {
	cache := openTestCache(t)

	if err := cache.SetFileState("/a.txt", "r1", "h1"); err != nil {
		t.Fatalf("SetFileState: %v", err)
	}
	rev, err := cache.Rev("/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	hash, err := cache.Hash("/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if rev != "r1" || hash != "h1" {
		t.Errorf("state = (%q, %q), want (r1, h1)", rev, hash)
	}

	// A plain SetRev keeps the recorded hash.
	if err := cache.SetRev("/a.txt", "r2"); err != nil {
		t.Fatal(err)
	}
	hash, err = cache.Hash("/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if hash != "h1" {
		t.Errorf("hash after SetRev = %q, want h1", hash)
	}

	hash, err = cache.Hash("/unknown")
	if err != nil {
		t.Fatal(err)
	}
	if hash != "" {
		t.Errorf("Hash(untracked) = %q, want empty", hash)
	}
}

func TestRevCacheClearTree(t *testing.T) {
	cache := openTestCache(t)

	seed := map[string]string{
		"/photos":           FolderRev,
		"/photos/a.jpg":     "r1",
		"/photos/sub/b.jpg": "r2",
		"/photos2/c.jpg":    "r3",
	}
	for path, rev := range seed {
		if err := cache.SetRev(path, rev); err != nil {
			t.Fatal(err)
		}
	}

	if err := cache.ClearTree("/photos"); err != nil {
		t.Fatalf("ClearTree: %v", err)
	}

	for _, path := range []string{"/photos", "/photos/a.jpg", "/photos/sub/b.jpg"} {
		rev, err := cache.Rev(path)
		if err != nil {
			t.Fatal(err)
		}
		if rev != "" {
			t.Errorf("Rev(%s) = %q after ClearTree, want empty", path, rev)
		}
	}

	// Sibling with the cleared path as a name prefix survives.
	rev, err := cache.Rev("/photos2/c.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if rev != "r3" {
		t.Errorf("Rev(/photos2/c.jpg) = %q, want %q", rev, "r3")
	}
}

func TestRevCacheClearTreeEscapesWildcards(t *testing.T) {
	cache := openTestCache(t)

	if err := cache.SetRev("/axb/f.txt", "r1"); err != nil {
		t.Fatal(err)
	}
	if err := cache.ClearTree("/a_b"); err != nil {
		t.Fatal(err)
	}

	rev, err := cache.Rev("/axb/f.txt")
	if err != nil {
		t.Fatal(err)
	}
	if rev != "r1" {
		t.Errorf("Rev(/axb/f.txt) = %q after ClearTree(/a_b), want %q", rev, "r1")
	}
}

func TestRevCacheCountSkipsFolders(t *testing.T) {
	cache := openTestCache(t)

	if err := cache.SetRev("/docs", FolderRev); err != nil {
		t.Fatal(err)
	}
	if err := cache.SetRev("/docs/a.txt", "r1"); err != nil {
		t.Fatal(err)
	}
	if err := cache.SetRev("/docs/b.txt", "r2"); err != nil {
		t.Fatal(err)
	}

	n, err := cache.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

func TestRevCachePersistsAcrossReopen(t *testing.T) {
	root := t.TempDir()

	cache, err := OpenRevCache(root)
	if err != nil {
		t.Fatal(err)
	}
	if cache.Path() != filepath.Join(root, RevCacheName) {
		t.Errorf("Path = %q, want it inside the sync root", cache.Path())
	}
	if err := cache.SetRev("/keep.txt", "r9"); err != nil {
		t.Fatal(err)
	}
	if err := cache.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenRevCache(root)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	rev, err := reopened.Rev("/keep.txt")
	if err != nil {
		t.Fatal(err)
	}
	if rev != "r9" {
		t.Errorf("Rev after reopen = %q, want %q", rev, "r9")
	}
}
