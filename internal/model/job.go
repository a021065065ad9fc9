package model

type JobType string

const (
	JobTypeParse    JobType = "parse"
	JobTypeChunk    JobType = "chunk"
	JobTypeEmbed    JobType = "embed"
	JobTypeFinalize JobType = "finalize"
)

func (t JobType) Valid() bool {
	switch t {
	case JobTypeParse, JobTypeChunk, JobTypeEmbed, JobTypeFinalize:
		return true
	}
	return false
}

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusRetrying  JobStatus = "retrying"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobPayload rides along in the job row. For parse jobs it carries the
// correlation id handed out by the parsing service plus whatever the
// completion webhook reported before a worker picked the job back up.
type JobPayload struct {
	ExternalJobID string `json:"external_job_id,omitempty"`
	ResultURL     string `json:"result_url,omitempty"`
	ExternalError string `json:"external_error,omitempty"`
	ExternalDone  bool   `json:"external_done,omitempty"`
}

type Job struct {
	ID           string
	DocumentID   string
	Type         JobType
	Status       JobStatus
	Priority     int
	RetryCount   int
	MaxRetries   int
	ScheduledAt  int64
	StartedAt    int64
	CompletedAt  int64
	ErrorMessage string
	Payload      JobPayload
	Ctime        int64
	Mtime        int64
}
