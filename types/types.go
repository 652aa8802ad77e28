package types

// UploadResponse is the JSON envelope returned by /upload when the caller asks for JSON.
type UploadResponse struct {
	Status        string `json:"status"`
	Transcription string `json:"transcription"`
	Response      string `json:"response"`
	AudioPath     string `json:"audioPath"`
	Audio         string `json:"audio,omitempty"` // base64
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
