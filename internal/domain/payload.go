package domain

// DownloadPayload flows from the Dispatcher into the Download or Youtube
// queue. The owning worker holds no temp files yet at this stage.
type DownloadPayload struct {
	JobID    string
	VideoURL string
}

// ConvertPayload flows from a Download worker into the Convert queue. The
// receiving Convert worker takes ownership of VideoPath.
type ConvertPayload struct {
	JobID     string
	VideoPath string
	VideoHash string
}

// UploadPayload flows from a Convert (or Youtube) worker into the Upload
// queue. The receiving Upload worker takes ownership of both paths, though
// VideoPath may be empty (the Youtube worker never downloads a video file).
type UploadPayload struct {
	JobID     string
	Mp3Path   string
	VideoPath string
	VideoHash string
}
