package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"homeserver/homeprov/internal/config"
	"homeserver/homeprov/internal/storage/blk"
)

type fakeHost struct {
	devs      []blk.Device
	root      string
	mounted   map[string]bool
	uuid      string
	failMount error
	calls     []string
}

func (f *fakeHost) BlockDevices(ctx context.Context) ([]blk.Device, error) {
	f.calls = append(f.calls, "lsblk")
	return f.devs, nil
}

func (f *fakeHost) RootSource(ctx context.Context) (string, error) {
	if f.root == "" {
		return "", errors.New("findmnt: not found")
	}
	return f.root, nil
}

func (f *fakeHost) IsMountPoint(ctx context.Context, path string) (bool, error) {
	return f.mounted[path], nil
}

func (f *fakeHost) Partition(ctx context.Context, disk, fstype string) error {
	f.calls = append(f.calls, "partition "+disk+" "+fstype)
	for i := range f.devs {
		if f.devs[i].Path == disk {
			name := blk.NamingFor(f.devs[i].Name).Partition(f.devs[i].Name, 1)
			f.devs[i].Children = []blk.Device{{
				Name: name, KName: name, Path: "/dev/" + name, Type: blk.TypePart, SizeBytes: f.devs[i].SizeBytes,
			}}
		}
	}
	return nil
}

func (f *fakeHost) Settle(ctx context.Context, partition string) error {
	f.calls = append(f.calls, "settle "+partition)
	return nil
}

func (f *fakeHost) Format(ctx context.Context, partition, fstype string) error {
	f.calls = append(f.calls, "format "+partition+" "+fstype)
	return nil
}

func (f *fakeHost) Mount(ctx context.Context, partition, path string) error {
	f.calls = append(f.calls, "mount "+partition)
	if f.failMount != nil {
		return f.failMount
	}
	if f.mounted == nil {
		f.mounted = map[string]bool{}
	}
	f.mounted[path] = true
	return nil
}

func (f *fakeHost) UUID(ctx context.Context, partition string) (string, error) {
	return f.uuid, nil
}

func (f *fakeHost) Usage(ctx context.Context, path string) (uint64, uint64, error) {
	return 4_000_000_000_000, 3_900_000_000_000, nil
}

// effects lists mutating calls only.
func (f *fakeHost) effects() []string {
	var out []string
	for _, c := range f.calls {
		if c != "lsblk" {
			out = append(out, c)
		}
	}
	return out
}

type scriptedPrompt struct {
	choices  []string
	confirms []bool
	asked    int
	prompts  []string
}

func (s *scriptedPrompt) ChooseDisk(cands []blk.Device) (string, error) {
	if s.asked >= len(s.choices) {
		return "", fmt.Errorf("unexpected disk prompt %d", s.asked+1)
	}
	c := s.choices[s.asked]
	s.asked++
	return c, nil
}

func (s *scriptedPrompt) Confirm(msg string) (bool, error) {
	s.prompts = append(s.prompts, msg)
	if len(s.confirms) == 0 {
		return false, errors.New("unexpected confirmation")
	}
	ok := s.confirms[0]
	s.confirms = s.confirms[1:]
	return ok, nil
}

const testUUID = "0b6c3f1e-3d7a-4c36-9d5e-2f4b1a9c8e77"

func bootDisk() blk.Device {
	return blk.Device{
		Name: "sda", KName: "sda", Path: "/dev/sda", Type: blk.TypeDisk, SizeBytes: 256 << 30,
		Children: []blk.Device{
			{Name: "sda1", KName: "sda1", Path: "/dev/sda1", Type: blk.TypePart, FSType: "vfat", Mountpoint: "/boot/efi"},
			{Name: "sda2", KName: "sda2", Path: "/dev/sda2", Type: blk.TypePart, FSType: "ext4", Mountpoint: "/"},
		},
	}
}

func newDisk(name string, parts ...blk.Device) blk.Device {
	return blk.Device{Name: name, KName: name, Path: "/dev/" + name, Type: blk.TypeDisk, SizeBytes: 4_000_787_030_016, Children: parts}
}

func part(name, fstype string, size uint64) blk.Device {
	return blk.Device{Name: name, KName: name, Path: "/dev/" + name, Type: blk.TypePart, FSType: fstype, SizeBytes: size}
}

const fstabSeed = "UUID=11111111-2222-3333-4444-555555555555 / ext4 errors=remount-ro 0 1\n"

func newTestProvisioner(t *testing.T, host *fakeHost, pr *scriptedPrompt) *Provisioner {
	t.Helper()
	dir := t.TempDir()
	fstabPath := filepath.Join(dir, "fstab")
	if err := os.WriteFile(fstabPath, []byte(fstabSeed), 0o644); err != nil {
		t.Fatal(err)
	}
	if host.uuid == "" {
		host.uuid = testUUID
	}
	return &Provisioner{
		Config: config.Config{
			MountPath:       filepath.Join(dir, "mnt", "storage"),
			LegacyMediaPath: filepath.Join(dir, "srv", "media"),
			FSType:          "ext4",
			MountOptions:    []string{"defaults", "nofail"},
			FstabPath:       fstabPath,
			StatePath:       filepath.Join(dir, "state", "state.json"),
			Distro:          config.Distro{Family: "debian", PackageManager: "apt-get"},
		},
		Host:     host,
		Prompt:   pr,
		Log:      zerolog.Nop(),
		lookPath: func(name string) (string, error) { return "/usr/sbin/" + name, nil },
	}
}
