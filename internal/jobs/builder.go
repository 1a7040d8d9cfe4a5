package jobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// Runner runs an external command, folding stderr into stdout and
// delivering output to the sink incrementally. A nonzero exit code is
// returned as code with a nil error; only failure to run the command at
// all is an error.
type Runner interface {
	Run(ctx context.Context, sink io.Writer, command string, args ...string) (int, error)
}

// Stager applies a staged configuration tree to the live build
// environment, backing up the previous tree under the job's id first.
type Stager interface {
	Apply(jobID, configPath string, log io.Writer) error
}

// Packager snapshots the binpkg cache and archives freshly produced
// packages into a per-job tarball.
type Packager interface {
	Snapshot() (map[string]bool, error)
	Package(jobID string, relPaths []string) (path string, size int64, err error)
}

// BuilderConfig holds the host-specific knobs of the emerge pipeline.
type BuilderConfig struct {
	// TimestampFile is the portage tree freshness marker; its mtime
	// decides whether a sync runs before the build.
	TimestampFile string
	// SyncMaxAge is how old the tree may be before a sync is forced.
	SyncMaxAge time.Duration
	// EmergeJobs and LoadAverage are passed through to emerge.
	EmergeJobs  int
	LoadAverage float64
}

// EmergeBuilder drives one job through the full pipeline: stage config,
// sync the tree if stale, run emerge, diff the binpkg cache, and
// package whatever the build produced.
type EmergeBuilder struct {
	cfg      BuilderConfig
	runner   Runner
	stager   Stager
	packager Packager
}

// NewEmergeBuilder wires the pipeline collaborators together.
func NewEmergeBuilder(cfg BuilderConfig, runner Runner, stager Stager, packager Packager) *EmergeBuilder {
	if cfg.SyncMaxAge <= 0 {
		cfg.SyncMaxAge = 7 * 24 * time.Hour
	}
	if cfg.EmergeJobs <= 0 {
		cfg.EmergeJobs = 4
	}
	if cfg.LoadAverage <= 0 {
		cfg.LoadAverage = 8
	}
	return &EmergeBuilder{cfg: cfg, runner: runner, stager: stager, packager: packager}
}

// Build implements Builder.
func (b *EmergeBuilder) Build(ctx context.Context, job *Job) error {
	started := time.Now().UTC()
	job.setBuilding(started)

	log := job.Log()
	log.Printf("Starting build at %s\n", started.Format(time.RFC3339))
	log.Printf("Packages: %s\n", strings.Join(job.Packages(), ", "))
	log.Printf("Config hash: %s\n\n", job.ConfigHash())

	log.WriteString("=== Applying portage config ===\n")
	if err := b.stager.Apply(job.ID(), job.ConfigPath(), log); err != nil {
		return fmt.Errorf("%w: %w", ErrStaging, err)
	}

	if err := b.syncTree(ctx, log); err != nil {
		return err
	}

	log.WriteString("\n=== Building packages ===\n")

	before, err := b.packager.Snapshot()
	if err != nil {
		return fmt.Errorf("%w: snapshotting binpkg cache: %w", ErrBuild, err)
	}

	args := []string{
		"--buildpkg",
		"--verbose",
		"--with-bdeps=y",
		fmt.Sprintf("--jobs=%d", b.cfg.EmergeJobs),
		fmt.Sprintf("--load-average=%.1f", b.cfg.LoadAverage),
		// Overrides any --ask in EMERGE_DEFAULT_OPTS so the build
		// never blocks on a prompt.
		"--ask=n",
	}
	args = append(args, job.Packages()...)

	code, err := b.runner.Run(ctx, log, "emerge", args...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBuild, err)
	}
	if code != 0 {
		return fmt.Errorf("%w: emerge failed with exit code %d", ErrBuild, code)
	}

	after, err := b.packager.Snapshot()
	if err != nil {
		return fmt.Errorf("%w: snapshotting binpkg cache: %w", ErrBuild, err)
	}
	produced := diffSnapshots(before, after)

	log.Printf("\n=== Built %d packages ===\n", len(produced))
	for _, rel := range produced {
		log.Printf("  - %s\n", rel)
	}

	if len(produced) > 0 {
		log.WriteString("\n=== Creating artifact tarball ===\n")
		path, size, err := b.packager.Package(job.ID(), produced)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPackaging, err)
		}
		job.setArtifact(path)
		log.Printf("Artifact created: %s (%d bytes)\n", path, size)
	}
	job.setBuilt(produced)

	log.Printf("\nBuild completed at %s\n", time.Now().UTC().Format(time.RFC3339))
	return nil
}

// syncTree runs emerge --sync unless the tree freshness marker is
// younger than SyncMaxAge.
func (b *EmergeBuilder) syncTree(ctx context.Context, log *LogBuffer) error {
	if info, err := os.Stat(b.cfg.TimestampFile); err == nil {
		age := time.Since(info.ModTime())
		if age < b.cfg.SyncMaxAge {
			log.Printf("=== Skipping sync (tree is %.1fh old) ===\n", age.Hours())
			SyncSkippedTotal.Inc()
			return nil
		}
	}

	log.WriteString("=== Syncing portage tree ===\n")
	code, err := b.runner.Run(ctx, log, "emerge", "--sync")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSync, err)
	}
	if code != 0 {
		return fmt.Errorf("%w: emerge --sync failed with exit code %d", ErrSync, code)
	}
	return nil
}

// diffSnapshots returns the paths present in after but not before,
// sorted. This directory diff, not emerge's own reporting, is the
// authoritative record of what a build produced.
func diffSnapshots(before, after map[string]bool) []string {
	var produced []string
	for rel := range after {
		if !before[rel] {
			produced = append(produced, rel)
		}
	}
	sort.Strings(produced)
	return produced
}
