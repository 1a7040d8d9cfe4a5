// Package portage stages build configuration trees into the live
// /etc/portage root used by emerge.
package portage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Stager replaces the live portage configuration with a staged tree,
// keeping a per-job backup of the previous tree first. Backups are for
// operator recovery; nothing restores them automatically.
type Stager struct {
	root      string
	backupDir string
}

// NewStager returns a stager for the given live config root. Backups
// are written under backupDir, named by job id.
func NewStager(root, backupDir string) *Stager {
	return &Stager{root: root, backupDir: backupDir}
}

// BackupPath returns where the pre-job config tree is preserved for the
// given job.
func (s *Stager) BackupPath(jobID string) string {
	return filepath.Join(s.backupDir, "portage-backup-"+jobID)
}

// Apply stages the tree at configPath into the live root. If the tree
// carries a full etc/portage mirror, the live root is replaced
// wholesale with it; otherwise the tree's top-level entries are merged
// into the root item by item, each replacing any same-named entry.
// Progress is written to log; any failure surfaces to the caller.
func (s *Stager) Apply(jobID, configPath string, log io.Writer) error {
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("staged config %s: %w", configPath, err)
	}

	if _, err := os.Stat(s.root); err == nil {
		backup := s.BackupPath(jobID)
		if err := copyTree(s.root, backup); err != nil {
			return fmt.Errorf("backing up %s: %w", s.root, err)
		}
		fmt.Fprintf(log, "Backed up %s to %s\n", s.root, backup)
	}

	mirror := filepath.Join(configPath, "etc", "portage")
	if info, err := os.Stat(mirror); err == nil && info.IsDir() {
		if err := os.RemoveAll(s.root); err != nil {
			return fmt.Errorf("removing %s: %w", s.root, err)
		}
		if err := copyTree(mirror, s.root); err != nil {
			return fmt.Errorf("replacing %s: %w", s.root, err)
		}
		fmt.Fprintf(log, "Applied config from %s\n", mirror)
		return nil
	}

	// No full mirror: the staged tree holds portage entries directly.
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", s.root, err)
	}
	entries, err := os.ReadDir(configPath)
	if err != nil {
		return fmt.Errorf("reading staged config %s: %w", configPath, err)
	}
	for _, entry := range entries {
		src := filepath.Join(configPath, entry.Name())
		dst := filepath.Join(s.root, entry.Name())
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("removing %s: %w", dst, err)
		}
		if err := copyEntry(src, dst); err != nil {
			return fmt.Errorf("merging %s: %w", entry.Name(), err)
		}
	}
	fmt.Fprintf(log, "Applied config from %s\n", configPath)
	return nil
}

// copyEntry copies a single filesystem entry: symlinks are recreated
// verbatim, directories recursively, regular files with mode and
// modification time preserved.
func copyEntry(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	case info.IsDir():
		return copyTree(src, dst)
	default:
		return copyFile(src, dst, info)
	}
}

func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := copyEntry(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
