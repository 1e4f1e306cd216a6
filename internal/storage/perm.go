package storage

import "fmt"

// Finding is a reportable problem with the store file's filesystem
// permissions. Findings are never enforced in-process.
type Finding struct {
	Path    string
	Problem string
	Fix     string
}

func (f Finding) String() string {
	if f.Fix == "" {
		return fmt.Sprintf("%s: %s", f.Path, f.Problem)
	}
	return fmt.Sprintf("%s: %s (fix: %s)", f.Path, f.Problem, f.Fix)
}
