// Package server provides the HTTP surface that turns submitted video
// URLs into Jobs and reports their progress. Handlers, middleware, routes
// and DTOs are kept separate from the domain types they wrap.
package server

// SubmitJobRequest is the HTTP request body for submitting a single
// video_url for conversion.
type SubmitJobRequest struct {
	// VideoURL is the source video to convert to MP3.
	VideoURL string `json:"video_url" validate:"required,url"`
}

// SubmitBatchRequest is the HTTP request body for submitting a list of
// video_urls as a single batch.
type SubmitBatchRequest struct {
	// VideoURLs is the list of source videos to convert.
	VideoURLs []string `json:"video_urls" validate:"required,min=1,dive,required,url"`
}

// SubmitJobResponse is returned for each job a submission creates, per
// spec §6's "{job_id, status_url}" Submit API contract.
type SubmitJobResponse struct {
	// JobID is the unique identifier for the created job.
	JobID string `json:"job_id"`
	// StatusURL is the path clients poll for job status.
	StatusURL string `json:"status_url"`
}

// SubmitBatchResponse is returned for a batch submission: the batch id
// plus one SubmitJobResponse per member job.
type SubmitBatchResponse struct {
	// BatchID is the unique identifier for the created batch.
	BatchID string `json:"batch_id"`
	// Jobs lists the per-job submission results, in submission order.
	Jobs []SubmitJobResponse `json:"jobs"`
}

// JobStatusResponse is the HTTP response for the job status endpoint,
// per spec §6's "{job_id, status, mp3_url?, error_message?, progress}"
// status contract.
type JobStatusResponse struct {
	// JobID is the unique identifier for the job.
	JobID string `json:"job_id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Mp3URL is the resulting MP3's object-store URL, set once Completed.
	Mp3URL string `json:"mp3_url,omitempty"`
	// ErrorMessage is set once the job has Failed.
	ErrorMessage string `json:"error_message,omitempty"`
	// Progress is the derived 0/25/50/75/100 completion percentage.
	Progress int `json:"progress"`
}

// BatchStatusResponse is the HTTP response for the batch status endpoint:
// the derived aggregate status plus every member job's own status.
type BatchStatusResponse struct {
	// BatchID is the unique identifier for the batch.
	BatchID string `json:"batch_id"`
	// Status is the derived aggregate status across member jobs.
	Status string `json:"status"`
	// Jobs lists every member job's own status.
	Jobs []JobStatusResponse `json:"jobs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
