package blk

import (
	"fmt"
	"strconv"
	"strings"
)

// Raw JSON representation from lsblk --bytes --json
type rawTree struct {
	Blockdevices []rawDevice `json:"blockdevices"`
}

type rawDevice struct {
	Name       string      `json:"name"`
	KName      string      `json:"kname"`
	Path       string      `json:"path"`
	Size       any         `json:"size"` // number (bytes) when using --bytes, string on old util-linux
	Rota       *flexBool   `json:"rota,omitempty"`
	Type       string      `json:"type"`
	Tran       string      `json:"tran,omitempty"`
	Model      string      `json:"model,omitempty"`
	Serial     string      `json:"serial,omitempty"`
	Mountpoint *string     `json:"mountpoint,omitempty"`
	FSType     string      `json:"fstype,omitempty"`
	UUID       string      `json:"uuid,omitempty"`
	RM         *flexBool   `json:"rm,omitempty"`
	Children   []rawDevice `json:"children,omitempty"`
}

// flexBool accepts true/false, "0"/"1" and 0/1; util-linux before 2.33
// printed boolean columns as strings.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	switch strings.ToLower(s) {
	case "", "null":
		*b = false
		return nil
	case "true":
		*b = true
		return nil
	case "false":
		*b = false
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("lsblk: invalid boolean %q", s)
	}
	*b = n != 0
	return nil
}

// Device is a normalized block device. Children keep the lsblk hierarchy
// (disk -> part -> lvm/crypt).
type Device struct {
	Name       string
	KName      string
	Path       string
	SizeBytes  uint64
	Model      string
	Serial     string
	Tran       string
	Rota       *bool
	Removable  bool
	Type       string
	FSType     string
	UUID       string
	Mountpoint string
	Children   []Device
}

const (
	TypeDisk = "disk"
	TypePart = "part"
)

// Partitions returns the direct children of type "part".
func (d Device) Partitions() []Device {
	out := []Device{}
	for _, c := range d.Children {
		if c.Type == TypePart {
			out = append(out, c)
		}
	}
	return out
}

// LargestPartition returns the partition with the most bytes. Ties keep
// the first in enumeration order.
func (d Device) LargestPartition() (Device, bool) {
	parts := d.Partitions()
	if len(parts) == 0 {
		return Device{}, false
	}
	best := parts[0]
	for _, p := range parts[1:] {
		if p.SizeBytes > best.SizeBytes {
			best = p
		}
	}
	return best, true
}
