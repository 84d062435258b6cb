package export

import "errors"

// ErrStoreLocked is returned when another session already holds the store.
var ErrStoreLocked = errors.New("store is locked by another scrape session")

// LockPath returns the lock file guarding the store at path.
func LockPath(path string) string {
	return path + ".lock"
}
