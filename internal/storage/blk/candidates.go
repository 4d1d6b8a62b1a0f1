package blk

import (
	"context"
	"strings"
	"time"

	"homeserver/homeprov/pkg/shell"
)

// RootSource returns the mount source of "/" as reported by findmnt, with
// any btrfs subvolume suffix ("/dev/sda2[/@]") removed.
func RootSource(ctx context.Context, r shell.Runner, timeout time.Duration) (string, error) {
	res, err := r.Run(ctx, timeout, "findmnt", "-n", "-o", "SOURCE", "/")
	if err != nil {
		return "", err
	}
	return cleanSource(string(res.Stdout)), nil
}

func cleanSource(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '['); i > 0 {
		s = s[:i]
	}
	return s
}

// BootDisk returns the name of the top-level device backing the root
// filesystem. The node mounted at "/" wins; rootSource is used when lsblk
// does not report mountpoints (e.g. inside some containers).
func BootDisk(devs []Device, rootSource string) (string, bool) {
	rootSource = cleanSource(rootSource)
	for _, top := range devs {
		for _, d := range Flatten([]Device{top}) {
			if d.Mountpoint == "/" {
				return top.Name, true
			}
		}
	}
	if rootSource == "" {
		return "", false
	}
	for _, top := range devs {
		for _, d := range Flatten([]Device{top}) {
			if matchesSource(d, rootSource) {
				return top.Name, true
			}
		}
	}
	return "", false
}

func matchesSource(d Device, src string) bool {
	return d.Path == src ||
		"/dev/"+d.KName == src ||
		"/dev/"+d.Name == src ||
		"/dev/mapper/"+d.Name == src
}

// Candidates filters the tree to whole, fixed, non-boot disks, keeping
// enumeration order. RAM-backed disks (zram, ram) are never candidates.
func Candidates(devs []Device, bootDisk string) []Device {
	out := []Device{}
	for _, d := range devs {
		if d.Type != TypeDisk {
			continue
		}
		if d.Removable {
			continue
		}
		if bootDisk != "" && (d.Name == bootDisk || d.KName == bootDisk) {
			continue
		}
		if strings.HasPrefix(d.Name, "zram") || strings.HasPrefix(d.Name, "ram") {
			continue
		}
		out = append(out, d)
	}
	return out
}
