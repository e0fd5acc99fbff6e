package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/softcane/vortex-core/internal/queue"
)

// JobStatus is the aggregate outcome of one plan execution.
type JobStatus string

const (
	JobRunning         JobStatus = "running"
	JobCompleted       JobStatus = "completed"
	JobPartiallyFailed JobStatus = "partially_failed"
	JobFailed          JobStatus = "failed"
)

// Outcome records the terminal result of one action within a job.
type Outcome struct {
	ActionType string
	Resource   string
	Succeeded  bool
	Reason     string
	At         time.Time
}

// Job tracks the execution of one action plan. A job with any failed action
// finishes partially_failed, never completed; a job where nothing succeeded
// finishes failed.
type Job struct {
	ID        string
	Tenant    string
	CreatedAt time.Time
	Status    JobStatus
	Expected  int
	Outcomes  []Outcome
}

// Jobs tracks in-flight and recently finished jobs in memory. It implements
// queue.ExpiryNotifier so swept delegated actions count as failures on the
// owning job.
type Jobs struct {
	mu     sync.Mutex
	byID   map[string]*Job
	logger *slog.Logger
	now    func() time.Time
}

// NewJobs creates an empty tracker.
func NewJobs(logger *slog.Logger) *Jobs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Jobs{
		byID:   make(map[string]*Job),
		logger: logger,
		now:    time.Now,
	}
}

// Start registers a job expecting the given number of action outcomes.
func (j *Jobs) Start(id, tenant string, expected int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.byID[id] = &Job{
		ID:        id,
		Tenant:    tenant,
		CreatedAt: j.now(),
		Status:    JobRunning,
		Expected:  expected,
	}
}

// Record adds one action outcome and finalizes the job when all expected
// outcomes have arrived.
func (j *Jobs) Record(jobID, actionType, resource string, succeeded bool, reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.byID[jobID]
	if !ok {
		j.logger.Warn("outcome for unknown job", "job_id", jobID, "action", actionType)
		return
	}
	job.Outcomes = append(job.Outcomes, Outcome{
		ActionType: actionType,
		Resource:   resource,
		Succeeded:  succeeded,
		Reason:     reason,
		At:         j.now(),
	})
	if len(job.Outcomes) >= job.Expected {
		job.Status = finalStatus(job.Outcomes)
		j.logger.Info("job finished",
			"job_id", job.ID,
			"tenant", job.Tenant,
			"status", string(job.Status),
			"actions", len(job.Outcomes),
		)
	}
}

// ActionExpired implements queue.ExpiryNotifier. An expired delegated action
// is indistinguishable from an explicit failure to the owning job.
func (j *Jobs) ActionExpired(rec queue.AgentActionRecord) {
	j.Record(rec.JobID, string(rec.ActionType), rec.Resource, false, "expired before pickup")
}

// Get returns a snapshot of the job, if tracked.
func (j *Jobs) Get(id string) (Job, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.byID[id]
	if !ok {
		return Job{}, false
	}
	cp := *job
	cp.Outcomes = append([]Outcome(nil), job.Outcomes...)
	return cp, true
}

func finalStatus(outcomes []Outcome) JobStatus {
	succeeded := 0
	for _, o := range outcomes {
		if o.Succeeded {
			succeeded++
		}
	}
	switch {
	case succeeded == len(outcomes):
		return JobCompleted
	case succeeded == 0:
		return JobFailed
	default:
		return JobPartiallyFailed
	}
}
