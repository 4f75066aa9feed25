package domain

// JobStatus is the lifecycle state of a job record
type JobStatus string

// Job status constants
const (
	JobStatusPending JobStatus = "pending"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
)

// IsTerminal reports whether no further transition may leave s
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}

// Staged flag values
const (
	StagedNo  = "no"
	StagedYes = "yes"
)

// JobIDAttribute is the message attribute carrying the job id on the profiling queue
const JobIDAttribute = "jobid"
