package layout

import (
	"fmt"
	"os/user"
	"strconv"
)

// Owner is a resolved local account.
type Owner struct {
	Name string
	UID  int
	GID  int
}

// LookupOwner resolves name to uid/gid. Empty name and root yield nil:
// ownership is only applied for a known non-privileged operator.
func LookupOwner(name string) (*Owner, error) {
	if name == "" || name == "root" {
		return nil, nil
	}
	u, err := user.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", name, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, fmt.Errorf("uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, fmt.Errorf("gid %q: %w", u.Gid, err)
	}
	if uid == 0 {
		return nil, nil
	}
	return &Owner{Name: u.Username, UID: uid, GID: gid}, nil
}
