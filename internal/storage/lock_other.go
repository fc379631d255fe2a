//go:build !unix

package storage

import "context"

// lockPath is a no-op where flock is unavailable; the in-process mutex and
// the version compare still apply, but two processes can race the rename.
func lockPath(ctx context.Context, path string) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return func() error { return nil }, nil
}
