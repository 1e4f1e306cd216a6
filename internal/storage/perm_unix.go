//go:build unix

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// CheckPermissions inspects the store file and its directory. It reports
// group or world access and files owned by another user. A missing file
// yields no findings.
func CheckPermissions(path string) ([]Finding, error) {
	var findings []Finding
	for _, target := range []struct {
		path string
		want uint32
	}{
		{filepath.Dir(path), 0700},
		{path, 0600},
	} {
		var st unix.Stat_t
		if err := unix.Stat(target.path, &st); err != nil {
			if errors.Is(err, unix.ENOENT) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", target.path, err)
		}

		mode := st.Mode & 0777
		if mode&0077 != 0 {
			findings = append(findings, Finding{
				Path:    target.path,
				Problem: fmt.Sprintf("mode %04o allows group or world access", mode),
				Fix:     fmt.Sprintf("chmod %04o %s", target.want, target.path),
			})
		}
		if uid := uint32(os.Getuid()); st.Uid != uid {
			findings = append(findings, Finding{
				Path:    target.path,
				Problem: fmt.Sprintf("owned by uid %d, not the current user (uid %d)", st.Uid, uid),
			})
		}
	}
	return findings, nil
}
