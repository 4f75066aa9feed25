package domain

import "time"

// Job is the persisted job record. Field names in the db and json tags are
// read by downstream status reporting and must not change.
type Job struct {
	ID              string     `db:"id" json:"id"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updatedAt"`
	StartTS         time.Time  `db:"start_ts" json:"start_ts"`
	EndTS           *time.Time `db:"end_ts" json:"end_ts,omitempty"`
	Filename        string     `db:"filename" json:"filename"`
	FilenameVersion string     `db:"filename_version" json:"filename_version"`
	Status          JobStatus  `db:"status" json:"status"`
	Warnings        int        `db:"warnings" json:"warnings"`
	Errors          int        `db:"errors" json:"errors"`
	ResultURI       *string    `db:"result_uri" json:"result_uri,omitempty"`
	Staged          string     `db:"staged" json:"staged"`
	ProfileURI      *string    `db:"profile_uri" json:"profile_uri,omitempty"`
	ProfileStartTS  *time.Time `db:"profile_start_ts" json:"profile_start_ts,omitempty"`
	ProfileEndTS    *time.Time `db:"profile_end_ts" json:"profile_end_ts,omitempty"`
}

// NewPendingJob builds the initial record written at ingestion time
func NewPendingJob(id, filename, version string, now time.Time) *Job {
	now = now.UTC()
	return &Job{
		ID:              id,
		CreatedAt:       now,
		UpdatedAt:       now,
		StartTS:         now,
		Filename:        filename,
		FilenameVersion: version,
		Status:          JobStatusPending,
		Staged:          StagedNo,
	}
}

// JobUpdate is a partial update. Nil fields are left untouched by the store.
type JobUpdate struct {
	Status         *JobStatus
	Warnings       *int
	Errors         *int
	ResultURI      *string
	EndTS          *time.Time
	Staged         *string
	ProfileURI     *string
	ProfileStartTS *time.Time
	ProfileEndTS   *time.Time

	// RequirePending makes the update apply only while the job is still
	// pending; otherwise the store returns ErrTerminalState.
	RequirePending bool
}

// TerminalUpdate builds the single transition out of pending
func TerminalUpdate(status JobStatus, warnings, errors int, resultURI string, end time.Time) JobUpdate {
	end = end.UTC()
	u := JobUpdate{
		Status:         &status,
		Warnings:       &warnings,
		Errors:         &errors,
		EndTS:          &end,
		RequirePending: true,
	}
	if resultURI != "" {
		u.ResultURI = &resultURI
	}
	return u
}

// ProfileUpdate touches only the profiling fields
func ProfileUpdate(uri string, start, end time.Time) JobUpdate {
	start, end = start.UTC(), end.UTC()
	return JobUpdate{
		ProfileURI:     &uri,
		ProfileStartTS: &start,
		ProfileEndTS:   &end,
	}
}

// Apply copies the non-nil fields of u onto j and stamps UpdatedAt
func (u JobUpdate) Apply(j *Job, now time.Time) {
	if u.Status != nil {
		j.Status = *u.Status
	}
	if u.Warnings != nil {
		j.Warnings = *u.Warnings
	}
	if u.Errors != nil {
		j.Errors = *u.Errors
	}
	if u.ResultURI != nil {
		v := *u.ResultURI
		j.ResultURI = &v
	}
	if u.EndTS != nil {
		v := *u.EndTS
		j.EndTS = &v
	}
	if u.Staged != nil {
		j.Staged = *u.Staged
	}
	if u.ProfileURI != nil {
		v := *u.ProfileURI
		j.ProfileURI = &v
	}
	if u.ProfileStartTS != nil {
		v := *u.ProfileStartTS
		j.ProfileStartTS = &v
	}
	if u.ProfileEndTS != nil {
		v := *u.ProfileEndTS
		j.ProfileEndTS = &v
	}
	j.UpdatedAt = now.UTC()
}
