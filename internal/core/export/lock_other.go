//go:build !unix

package export

import "sync"

var (
	heldMu sync.Mutex
	held   = map[string]bool{}
)

// Lock guards the store at path within this process only.
func Lock(path string) (func() error, error) {
	heldMu.Lock()
	defer heldMu.Unlock()
	if held[path] {
		return nil, ErrStoreLocked
	}
	held[path] = true
	return func() error {
		heldMu.Lock()
		defer heldMu.Unlock()
		delete(held, path)
		return nil
	}, nil
}
