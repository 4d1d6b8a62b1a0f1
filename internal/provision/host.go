package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"homeserver/homeprov/internal/storage/blk"
	"homeserver/homeprov/pkg/shell"
)

// Host is the set of effects the provisioner needs from the machine.
type Host interface {
	BlockDevices(ctx context.Context) ([]blk.Device, error)
	RootSource(ctx context.Context) (string, error)
	IsMountPoint(ctx context.Context, path string) (bool, error)
	Partition(ctx context.Context, disk, fstype string) error
	Settle(ctx context.Context, partition string) error
	Format(ctx context.Context, partition, fstype string) error
	Mount(ctx context.Context, partition, path string) error
	UUID(ctx context.Context, partition string) (string, error)
	Usage(ctx context.Context, path string) (total, free uint64, err error)
}

// SystemHost implements Host with the util-linux/parted tool set.
type SystemHost struct {
	Runner        shell.Runner
	Timeout       time.Duration
	FormatTimeout time.Duration
	// DeviceWait bounds the wait for a new partition node.
	DeviceWait time.Duration
}

func (h SystemHost) runner() shell.Runner {
	if h.Runner == nil {
		return shell.Exec{}
	}
	return h.Runner
}

func (h SystemHost) BlockDevices(ctx context.Context) ([]blk.Device, error) {
	return blk.List(ctx, h.runner(), h.Timeout)
}

func (h SystemHost) RootSource(ctx context.Context) (string, error) {
	return blk.RootSource(ctx, h.runner(), h.Timeout)
}

// IsMountPoint checks the kernel mount table, including pseudo filesystems.
func (h SystemHost) IsMountPoint(ctx context.Context, path string) (bool, error) {
	parts, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return false, fmt.Errorf("list mounts: %w", err)
	}
	want := filepath.Clean(path)
	for _, p := range parts {
		if filepath.Clean(p.Mountpoint) == want {
			return true, nil
		}
	}
	return false, nil
}

func (h SystemHost) Partition(ctx context.Context, diskPath, fstype string) error {
	r := h.runner()
	if _, err := r.Run(ctx, h.Timeout, "parted", "-s", diskPath, "mklabel", "gpt"); err != nil {
		return fmt.Errorf("partition table on %s: %w", diskPath, err)
	}
	if _, err := r.Run(ctx, h.Timeout, "parted", "-s", "-a", "optimal", diskPath, "mkpart", "primary", fstype, "0%", "100%"); err != nil {
		return fmt.Errorf("create partition on %s: %w", diskPath, err)
	}
	return nil
}

// Settle waits for udev and then for the partition node to exist.
func (h SystemHost) Settle(ctx context.Context, partition string) error {
	// best effort; some containers have no udev
	_, _ = h.runner().Run(ctx, h.Timeout, "udevadm", "settle")
	wait := h.DeviceWait
	if wait <= 0 {
		wait = 10 * time.Second
	}
	deadline := time.Now().Add(wait)
	for {
		if _, err := os.Stat(partition); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s did not appear within %s", partition, wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (h SystemHost) Format(ctx context.Context, partition, fstype string) error {
	argv := mkfsCommand(fstype, partition)
	if _, err := h.runner().Run(ctx, h.FormatTimeout, argv[0], argv[1:]...); err != nil {
		return fmt.Errorf("format %s as %s: %w", partition, fstype, err)
	}
	return nil
}

func (h SystemHost) Mount(ctx context.Context, partition, path string) error {
	if _, err := h.runner().Run(ctx, h.Timeout, "mount", partition, path); err != nil {
		return fmt.Errorf("mount %s at %s: %w", partition, path, err)
	}
	return nil
}

var errNoUUID = errors.New("no filesystem UUID")

func (h SystemHost) UUID(ctx context.Context, partition string) (string, error) {
	res, err := h.runner().Run(ctx, h.Timeout, "blkid", "-s", "UUID", "-o", "value", partition)
	if err != nil {
		return "", fmt.Errorf("blkid %s: %w", partition, err)
	}
	uuid := strings.TrimSpace(string(res.Stdout))
	if uuid == "" {
		return "", fmt.Errorf("blkid %s: %w", partition, errNoUUID)
	}
	return uuid, nil
}

func (h SystemHost) Usage(ctx context.Context, path string) (uint64, uint64, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, 0, err
	}
	return u.Total, u.Free, nil
}
