package layout

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/rs/zerolog"
)

func listDirs(t *testing.T, root string) []string {
	t.Helper()
	out := []string{}
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && p != root {
			rel, _ := filepath.Rel(root, p)
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(out)
	return out
}

func TestEstablishIsIdempotent(t *testing.T) {
	root := t.TempDir()
	l := Layout{Root: root, Log: zerolog.Nop()}

	rep, err := l.Establish()
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if len(rep.Created) != len(Dirs) {
		t.Fatalf("want %d created, got %v", len(Dirs), rep.Created)
	}
	first := listDirs(t, root)

	rep, err = l.Establish()
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if len(rep.Created) != 0 {
		t.Fatalf("second run created %v", rep.Created)
	}
	second := listDirs(t, root)
	if len(first) != len(second) {
		t.Fatalf("dir set changed: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("dir set changed: %v vs %v", first, second)
		}
	}
	want := []string{"backups", "docker", "media", "media/movies", "media/music", "media/tv", "projects"}
	for i := range want {
		if first[i] != filepath.FromSlash(want[i]) {
			t.Fatalf("want %v got %v", want, first)
		}
	}
}

func TestOwnershipSkipsContainerData(t *testing.T) {
	root := t.TempDir()
	seen := map[string]bool{}
	l := Layout{
		Root:  root,
		Owner: &Owner{Name: "media", UID: 1000, GID: 1000},
		Log:   zerolog.Nop(),
		chown: func(p string, uid, gid int) error {
			if uid != 1000 || gid != 1000 {
				t.Fatalf("unexpected ids %d:%d", uid, gid)
			}
			seen[p] = true
			return nil
		},
	}
	if err := os.MkdirAll(filepath.Join(root, "media", "movies", "film"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Establish(); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"media", "media/movies/film", "media/tv", "backups", "projects"} {
		if !seen[filepath.Join(root, filepath.FromSlash(p))] {
			t.Fatalf("%s not chowned", p)
		}
	}
	if seen[filepath.Join(root, "docker")] {
		t.Fatalf("docker must keep default owner")
	}
}

func TestNoOwnerNoChown(t *testing.T) {
	root := t.TempDir()
	l := Layout{Root: root, Log: zerolog.Nop(), chown: func(string, int, int) error {
		t.Fatalf("chown called without owner")
		return nil
	}}
	rep, err := l.Establish()
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Chowned) != 0 {
		t.Fatalf("chowned: %v", rep.Chowned)
	}
}

func TestLegacyAlias(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "storage")
	legacy := filepath.Join(base, "srv", "media")
	l := Layout{Root: root, LegacyMediaPath: legacy, Log: zerolog.Nop()}

	rep, err := l.Establish()
	if err != nil {
		t.Fatal(err)
	}
	if rep.Alias != AliasCreated {
		t.Fatalf("want created, got %q", rep.Alias)
	}
	dest, err := os.Readlink(legacy)
	if err != nil || dest != filepath.Join(root, "media") {
		t.Fatalf("symlink: %q %v", dest, err)
	}
	rep, err = l.Establish()
	if err != nil || rep.Alias != AliasPresent {
		t.Fatalf("second run: %q %v", rep.Alias, err)
	}
}

func TestLegacyDirectoryNotOverwritten(t *testing.T) {
	base := t.TempDir()
	legacy := filepath.Join(base, "srv", "media")
	if err := os.MkdirAll(legacy, 0o755); err != nil {
		t.Fatal(err)
	}
	marker := filepath.Join(legacy, "keep.txt")
	if err := os.WriteFile(marker, []byte("mine"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := Layout{Root: filepath.Join(base, "storage"), LegacyMediaPath: legacy, Log: zerolog.Nop()}
	rep, err := l.Establish()
	if err != nil {
		t.Fatal(err)
	}
	if rep.Alias != AliasOccupied {
		t.Fatalf("want occupied, got %q", rep.Alias)
	}
	fi, err := os.Lstat(legacy)
	if err != nil || !fi.IsDir() || fi.Mode()&os.ModeSymlink != 0 {
		t.Fatalf("legacy dir replaced: %v %v", fi, err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("operator file lost: %v", err)
	}
}

func TestLookupOwnerRoot(t *testing.T) {
	for _, name := range []string{"", "root"} {
		o, err := LookupOwner(name)
		if err != nil || o != nil {
			t.Fatalf("%q: want nil owner, got %v %v", name, o, err)
		}
	}
}
