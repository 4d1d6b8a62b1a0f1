// Package fstab maintains UUID-keyed entries in the persistent mount table.
package fstab

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gofstab "github.com/deniswernert/go-fstab"

	"homeserver/homeprov/internal/fsatomic"
)

// DefaultOptions mount on demand and never fail the boot sequence when the
// device is absent.
var DefaultOptions = []string{"defaults", "nofail"}

// Entry is one managed line of the table.
type Entry struct {
	UUID      string
	MountPath string
	FSType    string
	Options   []string
	Pass      int
}

// NewEntry builds an entry with the check-order hint for fstype.
func NewEntry(uuid, mountPath, fstype string, options []string) Entry {
	if len(options) == 0 {
		options = DefaultOptions
	}
	return Entry{
		UUID:      uuid,
		MountPath: mountPath,
		FSType:    fstype,
		Options:   options,
		Pass:      PassFor(fstype),
	}
}

// PassFor returns the fs_passno for a filesystem type. Only the ext family
// gets a boot-time fsck; xfs and btrfs checkers are no-ops at boot.
func PassFor(fstype string) int {
	switch strings.ToLower(fstype) {
	case "ext2", "ext3", "ext4":
		return 2
	default:
		return 0
	}
}

// Line renders e in fstab(5) format.
func (e Entry) Line() string {
	return fmt.Sprintf("UUID=%s %s %s %s 0 %d",
		e.UUID, escape(e.MountPath), e.FSType, strings.Join(e.Options, ","), e.Pass)
}

// Result reports what Ensure did.
type Result struct {
	Added bool
	// Conflicts lists existing lines for the same mount path with another source.
	Conflicts []string
}

var ErrNoUUID = errors.New("fstab: entry has no UUID")

// Ensure appends e to the table at path unless a line for the same UUID
// already exists. The read-modify-write runs under an advisory lock on
// path+".lock" and the file is replaced atomically.
func Ensure(path string, e Entry) (Result, error) {
	return EnsureWithLock(path, "", e)
}

// EnsureWithLock is Ensure with the advisory lock taken on lockPath. A
// symlinked table is updated at its target so the link survives.
func EnsureWithLock(path, lockPath string, e Entry) (Result, error) {
	if strings.TrimSpace(e.UUID) == "" {
		return Result{}, ErrNoUUID
	}
	target, err := resolve(path)
	if err != nil {
		return Result{}, err
	}
	if lockPath == "" {
		lockPath = target + ".lock"
	}
	var res Result
	err = fsatomic.WithLockFile(lockPath, func() error {
		data, perm, err := read(target)
		if err != nil {
			return err
		}
		mounts, err := parse(data)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, m := range mounts {
			if specUUID(m.Spec) != "" && strings.EqualFold(specUUID(m.Spec), e.UUID) {
				return nil
			}
			if unescape(m.File) == e.MountPath {
				res.Conflicts = append(res.Conflicts, m.Spec+" "+m.File)
			}
		}
		if len(data) > 0 && !bytes.HasSuffix(data, []byte("\n")) {
			data = append(data, '\n')
		}
		data = append(data, []byte(e.Line()+"\n")...)
		if err := fsatomic.WriteFile(target, data, perm); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		res.Added = true
		return nil
	})
	return res, err
}

// Lookup returns the parsed line for uuid, if any.
func Lookup(path, uuid string) (*gofstab.Mount, error) {
	data, _, err := read(path)
	if err != nil {
		return nil, err
	}
	mounts, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, m := range mounts {
		if strings.EqualFold(specUUID(m.Spec), uuid) {
			return m, nil
		}
	}
	return nil, nil
}

// Count returns how many lines reference uuid.
func Count(path, uuid string) (int, error) {
	data, _, err := read(path)
	if err != nil {
		return 0, err
	}
	mounts, err := parse(data)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range mounts {
		if strings.EqualFold(specUUID(m.Spec), uuid) {
			n++
		}
	}
	return n, nil
}

// optional trailing fields, as mount(8) fills them in
var fieldDefaults = []string{"", "", "auto", "defaults", "0", "0"}

// parse reads a table, completing lines that omit the optional type,
// options, dump or pass fields. Lines with a single field are ignored; mount
// rejects them too.
func parse(data []byte) ([]*gofstab.Mount, error) {
	var b bytes.Buffer
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		switch {
		case len(fields) == 0 || strings.HasPrefix(fields[0], "#"):
			b.WriteString(line)
		case len(fields) == 1:
		case len(fields) < 4:
			fields = append(fields, fieldDefaults[len(fields):4]...)
			b.WriteString(strings.Join(fields, " "))
		default:
			b.WriteString(line)
		}
		b.WriteByte('\n')
	}
	return gofstab.Parse(&b)
}

func resolve(path string) (string, error) {
	target, err := filepath.EvalSymlinks(path)
	if errors.Is(err, os.ErrNotExist) {
		return path, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return target, nil
}

func read(path string) ([]byte, os.FileMode, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0o644, nil
	}
	if err != nil {
		return nil, 0, err
	}
	perm := os.FileMode(0o644)
	if st, err := os.Stat(path); err == nil {
		perm = st.Mode().Perm()
	}
	return data, perm, nil
}

func specUUID(spec string) string {
	if !strings.HasPrefix(strings.ToUpper(spec), "UUID=") {
		return ""
	}
	return strings.Trim(spec[len("UUID="):], `"`)
}

// fstab fields cannot contain blanks; they are written as octal escapes.
func escape(s string) string {
	r := strings.NewReplacer(" ", `\040`, "\t", `\011`)
	return r.Replace(s)
}

func unescape(s string) string {
	r := strings.NewReplacer(`\040`, " ", `\011`, "\t")
	return r.Replace(s)
}
