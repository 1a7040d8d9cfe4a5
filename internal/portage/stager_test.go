package portage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestApplyFullMirrorReplacesRoot(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "etc", "portage")
	backups := filepath.Join(dir, "backups")

	writeFile(t, filepath.Join(root, "make.conf"), "old")
	writeFile(t, filepath.Join(root, "stale.conf"), "stale")

	staged := filepath.Join(dir, "staged")
	writeFile(t, filepath.Join(staged, "etc", "portage", "make.conf"), "new")
	writeFile(t, filepath.Join(staged, "etc", "portage", "package.use", "foo"), "app-misc/foo flag")

	s := NewStager(root, backups)
	var log bytes.Buffer
	require.NoError(t, s.Apply("job-1", staged, &log))

	assert.Equal(t, "new", readFile(t, filepath.Join(root, "make.conf")))
	assert.Equal(t, "app-misc/foo flag", readFile(t, filepath.Join(root, "package.use", "foo")))

	// Wholesale replacement drops entries absent from the mirror.
	_, err := os.Stat(filepath.Join(root, "stale.conf"))
	assert.True(t, os.IsNotExist(err))

	// The previous tree is preserved under the job's backup path.
	assert.Equal(t, "old", readFile(t, filepath.Join(s.BackupPath("job-1"), "make.conf")))
	assert.Contains(t, log.String(), "Applied config from")
}

func TestApplyMergeLayout(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "etc", "portage")
	writeFile(t, filepath.Join(root, "make.conf"), "old")
	writeFile(t, filepath.Join(root, "package.use", "stale"), "stale")
	writeFile(t, filepath.Join(root, "untouched.conf"), "keep me")

	// No etc/portage subtree: entries are portage content directly.
	staged := filepath.Join(dir, "staged")
	writeFile(t, filepath.Join(staged, "make.conf"), "new")
	writeFile(t, filepath.Join(staged, "package.use", "foo"), "app-misc/foo flag")

	s := NewStager(root, filepath.Join(dir, "backups"))
	var log bytes.Buffer
	require.NoError(t, s.Apply("job-2", staged, &log))

	assert.Equal(t, "new", readFile(t, filepath.Join(root, "make.conf")))
	assert.Equal(t, "app-misc/foo flag", readFile(t, filepath.Join(root, "package.use", "foo")))

	// Same-named entries are replaced wholesale, others untouched.
	_, err := os.Stat(filepath.Join(root, "package.use", "stale"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, "keep me", readFile(t, filepath.Join(root, "untouched.conf")))
}

func TestApplyPreservesSymlinks(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "etc", "portage")
	staged := filepath.Join(dir, "staged")

	writeFile(t, filepath.Join(staged, "make.conf"), "conf")
	require.NoError(t, os.Symlink("make.conf", filepath.Join(staged, "make.conf.link")))

	s := NewStager(root, filepath.Join(dir, "backups"))
	var log bytes.Buffer
	require.NoError(t, s.Apply("job-3", staged, &log))

	target, err := os.Readlink(filepath.Join(root, "make.conf.link"))
	require.NoError(t, err)
	assert.Equal(t, "make.conf", target)
}

func TestApplyMissingSourceFails(t *testing.T) {
	dir := t.TempDir()
	s := NewStager(filepath.Join(dir, "root"), filepath.Join(dir, "backups"))

	var log bytes.Buffer
	err := s.Apply("job-4", filepath.Join(dir, "does-not-exist"), &log)
	require.Error(t, err)
}

func TestApplyMissingRootSkipsBackup(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "etc", "portage") // does not exist yet
	staged := filepath.Join(dir, "staged")
	writeFile(t, filepath.Join(staged, "make.conf"), "conf")

	s := NewStager(root, filepath.Join(dir, "backups"))
	var log bytes.Buffer
	require.NoError(t, s.Apply("job-5", staged, &log))

	assert.Equal(t, "conf", readFile(t, filepath.Join(root, "make.conf")))
	_, err := os.Stat(s.BackupPath("job-5"))
	assert.True(t, os.IsNotExist(err))
}
