//go:build !unix

package storage

// CheckPermissions is a no-op on platforms without POSIX permissions;
// the store relies on the per-user profile directory ACLs there.
func CheckPermissions(path string) ([]Finding, error) {
	return nil, nil
}
