package config

import (
	"os"
	"strings"

	"github.com/subosito/gotenv"
)

// Distro is the host's distribution family, resolved once at startup and
// passed to whatever needs to name packages or the package manager.
type Distro struct {
	ID             string
	Name           string
	Family         string
	PackageManager string
}

var families = []struct {
	ids     []string
	family  string
	manager string
}{
	{[]string{"debian", "ubuntu", "raspbian", "linuxmint", "pop"}, "debian", "apt-get"},
	{[]string{"fedora"}, "fedora", "dnf"},
	{[]string{"rhel", "centos", "rocky", "almalinux", "ol"}, "rhel", "dnf"},
	{[]string{"arch", "manjaro", "endeavouros"}, "arch", "pacman"},
	{[]string{"opensuse", "opensuse-leap", "opensuse-tumbleweed", "sles", "suse"}, "suse", "zypper"},
	{[]string{"alpine"}, "alpine", "apk"},
}

// DetectDistro reads an os-release file. Unknown or unreadable files give
// Family "unknown".
func DetectDistro(path string) Distro {
	d := Distro{Family: "unknown"}
	f, err := os.Open(path)
	if err != nil {
		return d
	}
	defer f.Close()
	env := gotenv.Parse(f)
	d.ID = strings.ToLower(env["ID"])
	d.Name = env["PRETTY_NAME"]
	if d.Name == "" {
		d.Name = env["NAME"]
	}
	candidates := append([]string{d.ID}, strings.Fields(strings.ToLower(env["ID_LIKE"]))...)
	for _, id := range candidates {
		for _, fam := range families {
			for _, known := range fam.ids {
				if id == known {
					d.Family = fam.family
					d.PackageManager = fam.manager
					return d
				}
			}
		}
	}
	return d
}

// InstallHint returns the command an operator would run to install pkgs.
func (d Distro) InstallHint(pkgs ...string) string {
	list := strings.Join(pkgs, " ")
	switch d.PackageManager {
	case "apt-get":
		return "apt-get install -y " + list
	case "dnf":
		return "dnf install -y " + list
	case "pacman":
		return "pacman -S --noconfirm " + list
	case "zypper":
		return "zypper install -y " + list
	case "apk":
		return "apk add " + list
	default:
		return "install " + list + " with your package manager"
	}
}

// ToolPackage maps a command to the package that ships it on this family.
func (d Distro) ToolPackage(tool string) string {
	switch {
	case tool == "mkfs.xfs":
		return "xfsprogs"
	case tool == "mkfs.btrfs":
		return "btrfs-progs"
	case strings.HasPrefix(tool, "mkfs.ext"):
		return "e2fsprogs"
	case tool == "lsblk", tool == "findmnt", tool == "blkid", tool == "mount":
		return "util-linux"
	case tool == "udevadm":
		switch d.Family {
		case "fedora", "rhel":
			return "systemd-udev"
		case "arch", "suse":
			return "systemd"
		case "alpine":
			return "eudev"
		}
		return "udev"
	default:
		return tool
	}
}
