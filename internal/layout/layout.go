package layout

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

const (
	MediaDir    = "media"
	BackupsDir  = "backups"
	DockerDir   = "docker"
	ProjectsDir = "projects"
)

// Dirs is the fixed directory set, relative to the storage root, parents first.
var Dirs = []string{
	MediaDir,
	filepath.Join(MediaDir, "movies"),
	filepath.Join(MediaDir, "tv"),
	filepath.Join(MediaDir, "music"),
	BackupsDir,
	DockerDir,
	ProjectsDir,
}

// OwnedDirs are chowned recursively to the operator. Container runtime data
// stays with root.
var OwnedDirs = []string{MediaDir, BackupsDir, ProjectsDir}

// AliasState describes the legacy media path after Establish.
type AliasState string

const (
	AliasNone     AliasState = ""
	AliasCreated  AliasState = "created"
	AliasPresent  AliasState = "present"  // already a symlink to the media dir
	AliasOccupied AliasState = "occupied" // something else lives there; left alone
)

// Layout describes the directory structure on top of a mounted storage root.
type Layout struct {
	Root string
	// LegacyMediaPath gets a symlink to Root/media; empty disables the alias.
	LegacyMediaPath string
	// Owner is the invoking non-privileged operator; nil skips ownership.
	Owner *Owner
	Log   zerolog.Logger

	chown func(path string, uid, gid int) error
}

// Report lists what Establish did.
type Report struct {
	Created []string
	Chowned []string
	Alias   AliasState
}

// Establish creates the directory set (existing directories are left as
// they are), applies ownership when an operator is known and creates the
// legacy alias if nothing occupies that path. Running it twice is a no-op
// apart from re-applying ownership.
func (l Layout) Establish() (Report, error) {
	var rep Report
	if l.Root == "" {
		return rep, errors.New("layout: empty root")
	}
	for _, d := range Dirs {
		p := filepath.Join(l.Root, d)
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			rep.Created = append(rep.Created, p)
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return rep, fmt.Errorf("mkdir %s: %w", p, err)
		}
	}
	if len(rep.Created) > 0 {
		l.Log.Info().Strs("dirs", rep.Created).Msg("created storage layout")
	}

	if l.Owner != nil {
		chown := l.chown
		if chown == nil {
			chown = os.Lchown
		}
		for _, d := range OwnedDirs {
			p := filepath.Join(l.Root, d)
			if err := chownTree(p, l.Owner.UID, l.Owner.GID, chown); err != nil {
				return rep, fmt.Errorf("chown %s: %w", p, err)
			}
			rep.Chowned = append(rep.Chowned, p)
		}
		l.Log.Info().Str("owner", l.Owner.Name).Strs("dirs", rep.Chowned).Msg("applied ownership")
	} else {
		l.Log.Debug().Msg("no operator identity; ownership left unchanged")
	}

	if l.LegacyMediaPath != "" {
		state, err := ensureAlias(l.LegacyMediaPath, filepath.Join(l.Root, MediaDir))
		if err != nil {
			return rep, err
		}
		rep.Alias = state
		ev := l.Log.Info()
		if state == AliasOccupied {
			ev = l.Log.Warn()
		}
		ev.Str("path", l.LegacyMediaPath).Str("state", string(state)).Msg("legacy media alias")
	}
	return rep, nil
}

func chownTree(root string, uid, gid int, chown func(string, int, int) error) error {
	return filepath.WalkDir(root, func(p string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return chown(p, uid, gid)
	})
}

func ensureAlias(alias, target string) (AliasState, error) {
	fi, err := os.Lstat(alias)
	if err == nil {
		if fi.Mode()&fs.ModeSymlink != 0 {
			if dest, rerr := os.Readlink(alias); rerr == nil && filepath.Clean(dest) == filepath.Clean(target) {
				return AliasPresent, nil
			}
		}
		return AliasOccupied, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return AliasNone, fmt.Errorf("stat %s: %w", alias, err)
	}
	if err := os.MkdirAll(filepath.Dir(alias), 0o755); err != nil {
		return AliasNone, fmt.Errorf("mkdir %s: %w", filepath.Dir(alias), err)
	}
	if err := os.Symlink(target, alias); err != nil {
		return AliasNone, fmt.Errorf("symlink %s: %w", alias, err)
	}
	return AliasCreated, nil
}
