package dto

// ErrorResponse is returned with every non-2xx status
type ErrorResponse struct {
	Error string `json:"error"`
}

// IngestResult reports what happened to one notification
type IngestResult struct {
	Bucket  string `json:"bucket,omitempty"`
	Key     string `json:"key"`
	Version string `json:"version"`
	JobID   string `json:"job_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EventResponse is returned by POST /api/v1/events
type EventResponse struct {
	Results []IngestResult `json:"results"`
}

// UploadResponse is returned by PUT /api/v1/objects/*key
type UploadResponse struct {
	Key     string `json:"key"`
	Version string `json:"version"`
	JobID   string `json:"job_id"`
}

// StageRequest is the body of POST /api/v1/stage
type StageRequest struct {
	SourceObject  string `json:"source_object" binding:"required"`
	SourceVersion string `json:"source_version" binding:"required"`
	JobID         string `json:"job_id"`
}

// StageResponse is returned by POST /api/v1/stage
type StageResponse struct {
	SourceObject  string `json:"source_object"`
	StagedVersion string `json:"staged_version"`
}
