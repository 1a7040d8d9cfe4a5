// Package artifact detects and packages the binary packages a build
// produced in the shared binpkg cache.
package artifact

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// binpkgSuffix matches the binary package format emerge writes with
// --buildpkg.
const binpkgSuffix = ".gpkg.tar"

// Snapshot returns the set of binary packages currently present under
// root, keyed by path relative to root. A missing root yields an empty
// snapshot, not an error: the cache does not exist until the first
// build writes to it.
func Snapshot(root string) (map[string]bool, error) {
	set := make(map[string]bool)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return set, nil
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.HasSuffix(d.Name(), binpkgSuffix) {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			set[rel] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}
