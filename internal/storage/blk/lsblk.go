package blk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"homeserver/homeprov/pkg/shell"
)

var ErrNoLsblk = errors.New("lsblk not found")

var lsblkColumns = "NAME,KNAME,PATH,SIZE,ROTA,TYPE,TRAN,MODEL,SERIAL,MOUNTPOINT,FSTYPE,UUID,RM"

// List runs lsblk and returns the device tree in enumeration order.
func List(ctx context.Context, r shell.Runner, timeout time.Duration) ([]Device, error) {
	res, err := r.Run(ctx, timeout, "lsblk", "--bytes", "--json", "-o", lsblkColumns)
	if errors.Is(err, exec.ErrNotFound) {
		return nil, ErrNoLsblk
	}
	if err != nil {
		return nil, fmt.Errorf("lsblk: %w", err)
	}
	return Parse(res.Stdout)
}

// Parse decodes lsblk --json output.
func Parse(data []byte) ([]Device, error) {
	var tree rawTree
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("lsblk json: %w", err)
	}
	out := make([]Device, 0, len(tree.Blockdevices))
	for _, bd := range tree.Blockdevices {
		out = append(out, normalize(bd))
	}
	return out, nil
}

func normalize(n rawDevice) Device {
	d := Device{
		Name:      n.Name,
		KName:     firstNonEmpty(n.KName, n.Name),
		Path:      firstNonEmpty(n.Path, "/dev/"+n.Name),
		SizeBytes: normalizeSize(n.Size),
		Model:     strings.TrimSpace(n.Model),
		Serial:    strings.TrimSpace(n.Serial),
		Tran:      n.Tran,
		Type:      n.Type,
		FSType:    n.FSType,
		UUID:      n.UUID,
	}
	if n.Rota != nil {
		v := bool(*n.Rota)
		d.Rota = &v
	}
	if n.RM != nil {
		d.Removable = bool(*n.RM)
	}
	if n.Mountpoint != nil {
		d.Mountpoint = *n.Mountpoint
	}
	for _, c := range n.Children {
		d.Children = append(d.Children, normalize(c))
	}
	return d
}

// Flatten walks the tree depth-first, parents before children.
func Flatten(devs []Device) []Device {
	out := []Device{}
	var walk func(Device)
	walk = func(d Device) {
		out = append(out, d)
		for _, c := range d.Children {
			walk(c)
		}
	}
	for _, d := range devs {
		walk(d)
	}
	return out
}

// Find resolves an operator-supplied identifier ("sdb" or "/dev/sdb")
// against the whole tree.
func Find(devs []Device, id string) (Device, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Device{}, false
	}
	for _, d := range Flatten(devs) {
		if d.Path == id || d.Name == id || d.KName == id || "/dev/"+d.KName == id {
			return d, true
		}
	}
	return Device{}, false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func normalizeSize(v any) uint64 {
	switch t := v.(type) {
	case float64:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case json.Number:
		n, err := strconv.ParseUint(t.String(), 10, 64)
		if err != nil {
			return 0
		}
		return n
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
