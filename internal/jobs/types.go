package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a build job. A job moves from
// StatusQueued to StatusBuilding to exactly one of StatusComplete or
// StatusFailed, and never leaves a terminal state.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusBuilding Status = "building"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Terminal reports whether s is one of the two terminal states.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Job is one build request. The worker that dequeued a job is the only
// writer of its mutable fields; observers read through Snapshot.
type Job struct {
	mu sync.RWMutex

	id         string
	packages   []string
	configHash string
	configPath string
	webhookURL string

	status        Status
	packagesBuilt []string
	artifactPath  string
	err           string
	createdAt     time.Time
	startedAt     *time.Time
	completedAt   *time.Time

	log *LogBuffer
}

// NewJob creates a job in StatusQueued for the given package set. The
// config hash must already be resolvable to a staged configuration tree
// at configPath before the job is submitted.
func NewJob(packages []string, configHash, configPath, webhookURL string) *Job {
	return &Job{
		id:         uuid.NewString(),
		packages:   append([]string(nil), packages...),
		configHash: configHash,
		configPath: configPath,
		webhookURL: webhookURL,
		status:     StatusQueued,
		createdAt:  time.Now().UTC(),
		log:        NewLogBuffer(),
	}
}

// ID returns the job's unique identifier.
func (j *Job) ID() string { return j.id }

// Packages returns a copy of the requested package set.
func (j *Job) Packages() []string { return append([]string(nil), j.packages...) }

// ConfigHash returns the fingerprint of the configuration set the job
// was submitted with.
func (j *Job) ConfigHash() string { return j.configHash }

// ConfigPath returns the staged configuration tree location.
func (j *Job) ConfigPath() string { return j.configPath }

// WebhookURL returns the optional notification target.
func (j *Job) WebhookURL() string { return j.webhookURL }

// Log returns the job's append-only log buffer. The buffer is safe for
// concurrent tail reads while the worker appends to it.
func (j *Job) Log() *LogBuffer { return j.log }

func (j *Job) setBuilding(at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	j.status = StatusBuilding
	if j.startedAt == nil {
		t := at
		j.startedAt = &t
	}
}

func (j *Job) setBuilt(relPaths []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.packagesBuilt = append([]string(nil), relPaths...)
}

func (j *Job) setArtifact(path string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.artifactPath = path
}

// finalize stamps the completion time and moves the job to its terminal
// state. Once terminal, later calls are no-ops.
func (j *Job) finalize(buildErr error, at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.completedAt == nil {
		t := at
		j.completedAt = &t
	}
	if j.status.Terminal() {
		return
	}
	if buildErr != nil {
		j.status = StatusFailed
		j.err = buildErr.Error()
	} else {
		j.status = StatusComplete
	}
}

// View is a consistent copy of a job's mutable state, safe to hold and
// serialize while the worker keeps mutating the job.
type View struct {
	ID            string     `json:"build_id"`
	Status        Status     `json:"status"`
	Packages      []string   `json:"packages"`
	PackagesBuilt []string   `json:"packages_built"`
	ConfigHash    string     `json:"config_hash"`
	ArtifactPath  string     `json:"artifact_path,omitempty"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Snapshot returns a point-in-time copy of the job.
func (j *Job) Snapshot() View {
	j.mu.RLock()
	defer j.mu.RUnlock()
	v := View{
		ID:            j.id,
		Status:        j.status,
		Packages:      append([]string(nil), j.packages...),
		PackagesBuilt: append([]string(nil), j.packagesBuilt...),
		ConfigHash:    j.configHash,
		ArtifactPath:  j.artifactPath,
		Error:         j.err,
		CreatedAt:     j.createdAt,
	}
	if j.startedAt != nil {
		t := *j.startedAt
		v.StartedAt = &t
	}
	if j.completedAt != nil {
		t := *j.completedAt
		v.CompletedAt = &t
	}
	return v
}
