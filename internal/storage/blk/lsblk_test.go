package blk

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"

	"homeserver/homeprov/pkg/shell"
)

func loadFixture(t *testing.T) []Device {
	t.Helper()
	b, err := os.ReadFile("testdata/lsblk.json")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	devs, err := Parse(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return devs
}

func TestNormalizeSize(t *testing.T) {
	if got := normalizeSize(json.Number("8589934592")); got != 8589934592 {
		t.Fatalf("expected 8GiB, got %d", got)
	}
	if got := normalizeSize("4000787030016"); got != 4000787030016 {
		t.Fatalf("string size: %d", got)
	}
	if got := normalizeSize(nil); got != 0 {
		t.Fatalf("nil size: %d", got)
	}
}

func TestParseFixture(t *testing.T) {
	devs := loadFixture(t)
	if len(devs) != 7 {
		t.Fatalf("want 7 top-level devices, got %d", len(devs))
	}
	sda := devs[0]
	if sda.SizeBytes != 256060514304 || sda.Removable || sda.Rota == nil || *sda.Rota {
		t.Fatalf("sda fields: %+v", sda)
	}
	if len(sda.Children) != 2 || len(sda.Children[1].Children) != 1 {
		t.Fatalf("sda tree not preserved: %+v", sda.Children)
	}
	if !devs[2].Removable {
		t.Fatalf("sdc should be removable")
	}
	if got := len(Flatten(devs)); got != 13 {
		t.Fatalf("flatten: want 13 got %d", got)
	}
}

func TestParseLegacyStringBooleans(t *testing.T) {
	data := []byte(`{"blockdevices":[{"name":"sdb","kname":"sdb","size":"1000","rota":"1","type":"disk","rm":"0","mountpoint":null}]}`)
	devs, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	d := devs[0]
	if d.Path != "/dev/sdb" || d.SizeBytes != 1000 || d.Removable || d.Rota == nil || !*d.Rota {
		t.Fatalf("legacy fields: %+v", d)
	}
}

func TestParseGarbage(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBootDiskFromMountpoint(t *testing.T) {
	devs := loadFixture(t)
	boot, ok := BootDisk(devs, "")
	if !ok || boot != "sda" {
		t.Fatalf("boot via lvm mountpoint: %q %v", boot, ok)
	}
}

func TestBootDiskFromSource(t *testing.T) {
	devs := []Device{
		{Name: "vda", KName: "vda", Path: "/dev/vda", Type: TypeDisk, Children: []Device{
			{Name: "vda1", KName: "vda1", Path: "/dev/vda1", Type: TypePart},
		}},
		{Name: "vdb", KName: "vdb", Path: "/dev/vdb", Type: TypeDisk},
	}
	boot, ok := BootDisk(devs, "/dev/vda1[/@]\n")
	if !ok || boot != "vda" {
		t.Fatalf("boot via findmnt source: %q %v", boot, ok)
	}
	if _, ok := BootDisk(devs, ""); ok {
		t.Fatalf("no mountpoint and no source should not resolve")
	}
}

func TestCandidatesNeverIncludeBootDisk(t *testing.T) {
	devs := loadFixture(t)
	boot, _ := BootDisk(devs, "")
	got := Candidates(devs, boot)
	names := []string{}
	for _, d := range got {
		if d.Name == boot {
			t.Fatalf("boot disk %s in candidates", boot)
		}
		names = append(names, d.Name)
	}
	want := []string{"sdb", "nvme0n1"}
	if len(names) != len(want) {
		t.Fatalf("want %v got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("order: want %v got %v", want, names)
		}
	}
}

func TestCandidatesExcludeBootForEveryChoice(t *testing.T) {
	devs := loadFixture(t)
	for _, d := range devs {
		for _, c := range Candidates(devs, d.Name) {
			if c.Name == d.Name {
				t.Fatalf("boot %s returned as candidate", d.Name)
			}
		}
	}
}

func TestFind(t *testing.T) {
	devs := loadFixture(t)
	for _, id := range []string{"sdb", "/dev/sdb", " sdb "} {
		d, ok := Find(devs, id)
		if !ok || d.Name != "sdb" {
			t.Fatalf("Find(%q): %v %v", id, d.Name, ok)
		}
	}
	if _, ok := Find(devs, "sdz"); ok {
		t.Fatalf("sdz should not resolve")
	}
	if _, ok := Find(devs, ""); ok {
		t.Fatalf("empty should not resolve")
	}
}

func TestLargestPartition(t *testing.T) {
	devs := loadFixture(t)
	nvme, _ := Find(devs, "nvme0n1")
	p, ok := nvme.LargestPartition()
	if !ok || p.Name != "nvme0n1p2" || p.FSType != "xfs" {
		t.Fatalf("largest: %+v %v", p, ok)
	}
	sdb, _ := Find(devs, "sdb")
	if _, ok := sdb.LargestPartition(); ok {
		t.Fatalf("sdb has no partitions")
	}
}

func TestNaming(t *testing.T) {
	cases := []struct {
		disk string
		want string
	}{
		{"/dev/sdb", "/dev/sdb1"},
		{"/dev/vdc", "/dev/vdc1"},
		{"/dev/nvme0n1", "/dev/nvme0n1p1"},
		{"/dev/mmcblk0", "/dev/mmcblk0p1"},
		{"/dev/loop3", "/dev/loop3p1"},
	}
	for _, c := range cases {
		if got := NamingFor(c.disk).Partition(c.disk, 1); got != c.want {
			t.Fatalf("%s: want %s got %s", c.disk, c.want, got)
		}
	}
}

type fakeRunner struct {
	out []byte
	err error
}

func (f fakeRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (shell.Result, error) {
	return shell.Result{Stdout: f.out}, f.err
}

func TestListNotFound(t *testing.T) {
	r := fakeRunner{err: &shell.CommandError{Name: "lsblk", Code: -1, Err: &exec.Error{Name: "lsblk", Err: exec.ErrNotFound}}}
	if _, err := List(context.Background(), r, time.Second); !errors.Is(err, ErrNoLsblk) {
		t.Fatalf("want ErrNoLsblk, got %v", err)
	}
}

func TestListAndRootSource(t *testing.T) {
	b, err := os.ReadFile("testdata/lsblk.json")
	if err != nil {
		t.Fatal(err)
	}
	devs, err := List(context.Background(), fakeRunner{out: b}, time.Second)
	if err != nil || len(devs) != 7 {
		t.Fatalf("list: %v %d", err, len(devs))
	}
	src, err := RootSource(context.Background(), fakeRunner{out: []byte("/dev/nvme0n1p2[/@rootfs]\n")}, time.Second)
	if err != nil || src != "/dev/nvme0n1p2" {
		t.Fatalf("root source: %q %v", src, err)
	}
}
