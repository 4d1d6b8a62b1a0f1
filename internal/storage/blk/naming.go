package blk

import (
	"path/filepath"
	"strconv"
)

// Naming is the kernel's partition naming convention for a disk.
type Naming int

const (
	// NamingPlain appends the index directly: sdb -> sdb1.
	NamingPlain Naming = iota
	// NamingSeparated inserts "p" because the disk name ends in a digit:
	// nvme0n1 -> nvme0n1p1, mmcblk0 -> mmcblk0p1.
	NamingSeparated
)

// NamingFor resolves the convention from a disk name or path.
func NamingFor(disk string) Naming {
	base := filepath.Base(disk)
	if base == "" {
		return NamingPlain
	}
	last := base[len(base)-1]
	if last >= '0' && last <= '9' {
		return NamingSeparated
	}
	return NamingPlain
}

// Partition returns the path of partition index on disk.
func (n Naming) Partition(disk string, index int) string {
	if n == NamingSeparated {
		return disk + "p" + strconv.Itoa(index)
	}
	return disk + strconv.Itoa(index)
}

func (n Naming) String() string {
	if n == NamingSeparated {
		return "separated"
	}
	return "plain"
}
