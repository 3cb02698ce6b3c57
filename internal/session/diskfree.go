package session

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// InsufficientSpaceError reports a failed preflight: Need already includes
// the configured headroom.
type InsufficientSpaceError struct {
	Have uint64
	Need uint64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space: have %d bytes, need %d", e.Have, e.Need)
}

// FreeBytes returns the bytes available to unprivileged writers on the
// filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// Require fails with InsufficientSpaceError unless need+headroom bytes are
// free under path.
func Require(path string, need, headroom uint64) error {
	have, err := FreeBytes(path)
	if err != nil {
		return err
	}
	if total := need + headroom; have < total {
		return &InsufficientSpaceError{Have: have, Need: total}
	}
	return nil
}
