package provision

import (
	"fmt"
	"strings"

	"homeserver/homeprov/internal/fstab"
	"homeserver/homeprov/internal/storage/blk"
	"homeserver/homeprov/pkg/shell"
)

// SkipChoice aborts the selection without error.
const SkipChoice = "skip"

// containerSignatures are blkid types that hold other volumes or are not
// mountable filesystems.
var containerSignatures = map[string]bool{
	"swap":               true,
	"crypto_luks":        true,
	"lvm2_member":        true,
	"linux_raid_member":  true,
	"zfs_member":         true,
	"bcache":             true,
	"ceph_bluestore":     true,
	"vmfs_volume_member": true,
}

// Mountable reports whether a filesystem signature can be mounted directly.
func Mountable(fstype string) bool {
	return fstype != "" && !containerSignatures[strings.ToLower(fstype)]
}

// SelectTarget resolves an operator choice against the candidate list.
// An empty choice or "skip" returns ErrSkipped.
func SelectTarget(candidates []blk.Device, choice string) (blk.Device, error) {
	choice = strings.TrimSpace(choice)
	if choice == "" || strings.EqualFold(choice, SkipChoice) {
		return blk.Device{}, ErrSkipped
	}
	for _, d := range candidates {
		if d.Path == choice || d.Name == choice || d.KName == choice ||
			"/dev/"+d.Name == choice || "/dev/"+d.KName == choice {
			return d, nil
		}
	}
	return blk.Device{}, fmt.Errorf("%q: %w", choice, ErrInvalidSelection)
}

// ResolvePartition decides what to do with disk. fstype is the type to
// create when formatting is needed.
func ResolvePartition(disk blk.Device, fstype string) Decision {
	d := Decision{Disk: disk, FSType: fstype}
	part, ok := disk.LargestPartition()
	if !ok {
		d.Action = ActionCreateAndFormat
		d.Partition = blk.NamingFor(disk.Path).Partition(disk.Path, 1)
		d.NeedsConfirm = true
		d.Reason = "disk has no partitions"
		return d
	}
	d.Partition = part.Path
	switch {
	case part.FSType == "":
		d.Action = ActionFormatExisting
		d.NeedsConfirm = true
		d.Reason = fmt.Sprintf("%s has no filesystem", part.Path)
	case !Mountable(part.FSType):
		d.Action = ActionReject
		d.FSType = part.FSType
		d.Reason = fmt.Sprintf("%s holds %s, not a mountable filesystem", part.Path, part.FSType)
	default:
		d.Action = ActionUseExisting
		d.FSType = part.FSType
		d.Reason = fmt.Sprintf("%s already has %s", part.Path, part.FSType)
	}
	return d
}

// BuildPlan lists the steps that apply d. A rejected decision has no steps.
func BuildPlan(d Decision, mountPath, fstabPath string, options []string) Plan {
	p := Plan{
		Disk:      d.Disk.Path,
		Action:    d.Action,
		Partition: d.Partition,
		FSType:    d.FSType,
		MountPath: mountPath,
	}
	if d.Action == ActionReject {
		return p
	}
	disk := d.Disk.Path
	if d.Action == ActionCreateAndFormat {
		p.Steps = append(p.Steps,
			Step{
				ID:          "partition",
				Kind:        StepPartition,
				Description: fmt.Sprintf("Create GPT label and one %s partition spanning %s", d.FSType, disk),
				Command: shell.Join("parted", "-s", disk, "mklabel", "gpt") + " && " +
					shell.Join("parted", "-s", "-a", "optimal", disk, "mkpart", "primary", d.FSType, "0%", "100%"),
				Destructive: true,
			},
			Step{
				ID:          "settle",
				Kind:        StepSettle,
				Description: fmt.Sprintf("Wait for %s to appear", d.Partition),
				Command:     "udevadm settle",
			},
		)
	}
	if d.Destructive() {
		mkfs := mkfsCommand(d.FSType, d.Partition)
		p.Steps = append(p.Steps, Step{
			ID:          "format",
			Kind:        StepFormat,
			Description: fmt.Sprintf("Format %s as %s", d.Partition, d.FSType),
			Command:     shell.Join(mkfs[0], mkfs[1:]...),
			Destructive: true,
		})
	}
	opts := options
	if len(opts) == 0 {
		opts = fstab.DefaultOptions
	}
	line := fmt.Sprintf("UUID=$(blkid -s UUID -o value %s) %s %s %s 0 %d",
		shell.Quote(d.Partition), shell.Quote(mountPath), d.FSType, strings.Join(opts, ","), fstab.PassFor(d.FSType))
	p.Steps = append(p.Steps,
		Step{
			ID:          "mkdir",
			Kind:        StepMkdir,
			Description: fmt.Sprintf("Create mount point %s", mountPath),
			Command:     shell.Join("mkdir", "-p", mountPath),
		},
		Step{
			ID:          "mount",
			Kind:        StepMount,
			Description: fmt.Sprintf("Mount %s at %s", d.Partition, mountPath),
			Command:     shell.Join("mount", d.Partition, mountPath),
		},
		Step{
			ID:          "persist",
			Kind:        StepPersist,
			Description: fmt.Sprintf("Add a UUID entry for %s to %s", mountPath, fstabPath),
			Command:     fmt.Sprintf("echo \"%s\" >> %s", line, shell.Quote(fstabPath)),
		},
	)
	return p
}

// mkfsCommand returns argv for creating fstype on part.
func mkfsCommand(fstype, part string) []string {
	force := "-F"
	switch fstype {
	case "xfs", "btrfs":
		force = "-f"
	}
	return []string{"mkfs." + fstype, force, "-L", "storage", part}
}

// RequiredTools lists the commands applying p needs.
func RequiredTools(p Plan) []string {
	var tools []string
	for _, s := range p.Steps {
		switch s.Kind {
		case StepPartition:
			tools = append(tools, "parted")
		case StepFormat:
			tools = append(tools, "mkfs."+p.FSType)
		case StepMount:
			tools = append(tools, "mount")
		case StepPersist:
			tools = append(tools, "blkid")
		}
	}
	return tools
}

// ManualInstructions is printed when no candidate disk exists.
func ManualInstructions(mountPath string) string {
	return strings.Join([]string{
		"No secondary disk was found. To add storage by hand:",
		"  1. Attach a disk and find it with: lsblk -o NAME,SIZE,TYPE,MOUNTPOINT",
		"  2. Partition and format it, e.g.: parted -s /dev/sdX mklabel gpt mkpart primary ext4 0% 100% && mkfs.ext4 /dev/sdX1",
		"  3. Mount it: mkdir -p " + mountPath + " && mount /dev/sdX1 " + mountPath,
		"  4. Persist it: echo \"UUID=$(blkid -s UUID -o value /dev/sdX1) " + mountPath + " ext4 defaults,nofail 0 2\" >> /etc/fstab",
		"  5. Re-run homeprov to create the directory layout.",
	}, "\n")
}
