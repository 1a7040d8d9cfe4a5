package artifact

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// Packager archives freshly built binary packages into per-job
// tarballs.
type Packager struct {
	binpkgDir   string
	artifactDir string
}

// NewPackager returns a packager reading from binpkgDir and writing
// archives to artifactDir.
func NewPackager(binpkgDir, artifactDir string) *Packager {
	return &Packager{binpkgDir: binpkgDir, artifactDir: artifactDir}
}

// Snapshot returns the current contents of the binpkg cache.
func (p *Packager) Snapshot() (map[string]bool, error) {
	return Snapshot(p.binpkgDir)
}

// Package writes <artifactDir>/<jobID>.tar.gz containing exactly the
// given binpkg-relative paths, each stored under its cache-relative
// name. A path missing by packaging time is an error, not a silent
// omission.
func (p *Packager) Package(jobID string, relPaths []string) (string, int64, error) {
	if err := os.MkdirAll(p.artifactDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("creating artifact dir: %w", err)
	}

	out := filepath.Join(p.artifactDir, jobID+".tar.gz")
	f, err := os.Create(out)
	if err != nil {
		return "", 0, fmt.Errorf("creating %s: %w", out, err)
	}

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, rel := range relPaths {
		if err := p.addBinpkg(tw, rel); err != nil {
			tw.Close()
			gz.Close()
			f.Close()
			os.Remove(out)
			return "", 0, err
		}
	}
	closeErr := tw.Close()
	if closeErr == nil {
		closeErr = gz.Close()
	}
	if closeErr != nil {
		f.Close()
		os.Remove(out)
		return "", 0, fmt.Errorf("finishing %s: %w", out, closeErr)
	}
	if err := f.Close(); err != nil {
		os.Remove(out)
		return "", 0, fmt.Errorf("closing %s: %w", out, err)
	}

	info, err := os.Stat(out)
	if err != nil {
		return "", 0, err
	}
	return out, info.Size(), nil
}

func (p *Packager) addBinpkg(tw *tar.Writer, rel string) error {
	full := filepath.Join(p.binpkgDir, rel)
	info, err := os.Stat(full)
	if err != nil {
		return fmt.Errorf("binpkg %s: %w", rel, err)
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("binpkg %s: %w", rel, err)
	}
	hdr.Name = filepath.ToSlash(rel)
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("binpkg %s: %w", rel, err)
	}
	src, err := os.Open(full)
	if err != nil {
		return fmt.Errorf("binpkg %s: %w", rel, err)
	}
	defer src.Close()
	if _, err := io.Copy(tw, src); err != nil {
		return fmt.Errorf("binpkg %s: %w", rel, err)
	}
	return nil
}
