//go:build !unix

package internal

// acquireLock is a no-op where flock is unavailable; the in-process
// mutex in syncservice still serialises passes.
func acquireLock(string) (func(), error) {
	return func() {}, nil
}
