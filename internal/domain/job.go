package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the processing state of a job
type JobStatus string

// Possible job status values
const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// ResultKeyPrefix is prepended to a job ID to form its result cache key.
const ResultKeyPrefix = "processed:"

// Common validation errors for ProcessingJob
var (
	ErrEmptyJobID        = errors.New("job ID cannot be empty")
	ErrEmptyJobDatasetID = errors.New("job dataset ID cannot be empty")
	ErrEmptyResultKey    = errors.New("result key cannot be empty")
	ErrEmptyErrorMessage = errors.New("error message cannot be empty")
	ErrJobInvariant      = errors.New("job fields inconsistent with status")
)

// IsValid reports whether s is a known status.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusSuccess, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no transition can leave s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}

// CanTransition reports whether a job may move from one status to another.
// Only PENDING->RUNNING and RUNNING->{SUCCESS,FAILED} are allowed.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusRunning
	case JobStatusRunning:
		return to == JobStatusSuccess || to == JobStatusFailed
	default:
		return false
	}
}

// ResultKeyFor returns the cache key under which a job's result is stored.
func ResultKeyFor(jobID uuid.UUID) string {
	return ResultKeyPrefix + jobID.String()
}

// ProcessingJob is one preprocessing attempt over one dataset.
type ProcessingJob struct {
	ID           uuid.UUID  `json:"id"`
	DatasetID    uuid.UUID  `json:"datasetId"`
	Status       JobStatus  `json:"status"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	ResultKey    *string    `json:"resultKey,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// NewProcessingJob creates a PENDING job for the given dataset.
func NewProcessingJob(datasetID uuid.UUID) (*ProcessingJob, error) {
	now := time.Now().UTC()
	job := &ProcessingJob{
		ID:        uuid.New(),
		DatasetID: datasetID,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// Validate checks identity fields and the status invariants:
// StartedAt is set iff the job has left PENDING, CompletedAt iff it is terminal,
// ResultKey iff it succeeded.
func (j *ProcessingJob) Validate() error {
	if j.ID == uuid.Nil {
		return ErrEmptyJobID
	}
	if j.DatasetID == uuid.Nil {
		return ErrEmptyJobDatasetID
	}
	if !j.Status.IsValid() {
		return ErrInvalidJobStatus
	}

	started := j.Status != JobStatusPending
	if (j.StartedAt != nil) != started {
		return fmt.Errorf("%w: started_at with status %s", ErrJobInvariant, j.Status)
	}
	if (j.CompletedAt != nil) != j.Status.IsTerminal() {
		return fmt.Errorf("%w: completed_at with status %s", ErrJobInvariant, j.Status)
	}
	if (j.ResultKey != nil) != (j.Status == JobStatusSuccess) {
		return fmt.Errorf("%w: result_key with status %s", ErrJobInvariant, j.Status)
	}
	if j.ErrorMessage != nil && j.Status != JobStatusFailed {
		return fmt.Errorf("%w: error_message with status %s", ErrJobInvariant, j.Status)
	}

	return nil
}

// Start moves the job from PENDING to RUNNING and stamps StartedAt.
func (j *ProcessingJob) Start(now time.Time) error {
	if err := j.transition(JobStatusRunning); err != nil {
		return err
	}
	t := now.UTC()
	j.StartedAt = &t
	j.UpdatedAt = t
	return nil
}

// Succeed moves the job from RUNNING to SUCCESS, stamping CompletedAt and ResultKey together.
func (j *ProcessingJob) Succeed(resultKey string, now time.Time) error {
	if resultKey == "" {
		return ErrEmptyResultKey
	}
	if err := j.transition(JobStatusSuccess); err != nil {
		return err
	}
	t := now.UTC()
	j.ResultKey = &resultKey
	j.CompletedAt = &t
	j.UpdatedAt = t
	return nil
}

// Fail moves the job from RUNNING to FAILED, stamping CompletedAt and ErrorMessage together.
func (j *ProcessingJob) Fail(message string, now time.Time) error {
	if message == "" {
		return ErrEmptyErrorMessage
	}
	if err := j.transition(JobStatusFailed); err != nil {
		return err
	}
	t := now.UTC()
	j.ErrorMessage = &message
	j.CompletedAt = &t
	j.UpdatedAt = t
	return nil
}

func (j *ProcessingJob) transition(to JobStatus) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	return nil
}
