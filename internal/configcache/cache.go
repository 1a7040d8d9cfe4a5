// Package configcache stores staged portage configuration trees
// addressed by fingerprint, so clients only upload a configuration once
// per distinct content hash.
package configcache

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ErrBadFingerprint is returned for fingerprints that cannot name a
// cache entry.
var ErrBadFingerprint = errors.New("configcache: invalid fingerprint")

// Cache is a directory of staged configuration trees, one subdirectory
// per fingerprint.
type Cache struct {
	dir string
}

// New returns a cache rooted at dir, creating it if needed.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating config cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Has reports whether a configuration is staged under the fingerprint.
func (c *Cache) Has(fingerprint string) bool {
	if !validFingerprint(fingerprint) {
		return false
	}
	info, err := os.Stat(c.Path(fingerprint))
	return err == nil && info.IsDir()
}

// Path returns the directory a fingerprint's configuration lives in.
func (c *Cache) Path(fingerprint string) string {
	return filepath.Join(c.dir, fingerprint)
}

// Store decodes a tar archive (gzip-compressed or plain) into the cache
// entry for the fingerprint. Entries with absolute names or names
// escaping the entry directory are rejected. On any failure the partial
// entry is removed so Has stays false.
func (c *Cache) Store(fingerprint string, archive []byte) error {
	if !validFingerprint(fingerprint) {
		return fmt.Errorf("%w: %q", ErrBadFingerprint, fingerprint)
	}
	dest := c.Path(fingerprint)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("creating cache entry: %w", err)
	}
	if err := extract(dest, archive); err != nil {
		os.RemoveAll(dest)
		return err
	}
	return nil
}

func validFingerprint(fingerprint string) bool {
	return fingerprint != "" &&
		fingerprint != "." &&
		fingerprint != ".." &&
		!strings.ContainsAny(fingerprint, "/\\")
}

func extract(dest string, archive []byte) error {
	var src io.Reader = bytes.NewReader(archive)
	if gz, err := gzip.NewReader(bytes.NewReader(archive)); err == nil {
		defer gz.Close()
		src = gz
	}

	tr := tar.NewReader(src)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading config tarball: %w", err)
		}
		target, err := entryPath(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, hdr.FileInfo().Mode().Perm()); err != nil {
				return fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
			f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
			if err != nil {
				return fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
		default:
			// Other entry types have no place in a config tree.
		}
	}
}

// entryPath resolves a tarball entry name under dest, rejecting
// absolute names and parent traversal.
func entryPath(dest, name string) (string, error) {
	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("config tarball entry %q escapes the cache entry", name)
	}
	return filepath.Join(dest, clean), nil
}
