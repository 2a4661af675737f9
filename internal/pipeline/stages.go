package pipeline

import "mp3pipeline/internal/domain"

// Stages bundles the four named pipeline queues spec's C3 PipelineQueues
// describes. Capacities default per spec.md: Download 100, Youtube 100,
// Convert max(1, cpuCount-1), Upload 10 — callers (the Orchestrator)
// resolve the Convert default from config.ConvertQueueDepth.
type Stages struct {
	Download *Queue[domain.DownloadPayload]
	Youtube  *Queue[domain.DownloadPayload]
	Convert  *Queue[domain.ConvertPayload]
	Upload   *Queue[domain.UploadPayload]
}

// NewStages constructs the four bounded queues with the given capacities.
func NewStages(downloadCap, youtubeCap, convertCap, uploadCap int) *Stages {
	return &Stages{
		Download: New[domain.DownloadPayload](downloadCap),
		Youtube:  New[domain.DownloadPayload](youtubeCap),
		Convert:  New[domain.ConvertPayload](convertCap),
		Upload:   New[domain.UploadPayload](uploadCap),
	}
}

// CloseAll closes every queue, the sole shutdown gesture: no further
// producers are admitted, but in-flight items remain drainable.
func (s *Stages) CloseAll() {
	s.Download.Close()
	s.Youtube.Close()
	s.Convert.Close()
	s.Upload.Close()
}
