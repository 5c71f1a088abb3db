package api

import "github.com/samcharles93/sumi/pkg/scf"

// RecognizeRequest is the JSON body of POST /v1/recognize. Image
// carries the base64-encoded file (bare or as a data URL). Multipart
// requests use the "image" file field instead, with "model" and
// "max_steps" as ordinary form values.
type RecognizeRequest struct {
	Image    string `json:"image,omitempty"`
	Model    string `json:"model,omitempty"`
	MaxSteps int    `json:"max_steps,omitempty"`
}

// RecognizeResponse is the outcome of one recognition run.
type RecognizeResponse struct {
	ID         string  `json:"id"`
	Object     string  `json:"object"`
	Model      string  `json:"model,omitempty"`
	Text       string  `json:"text"`
	Tokens     []int64 `json:"tokens,omitempty"`
	Steps      int     `json:"steps"`
	Truncated  bool    `json:"truncated,omitempty"`
	DurationMS float64 `json:"duration_ms"`
}

// ModelData describes one model visible to the service. Image and
// Decode are populated once the model has been loaded.
type ModelData struct {
	ID        string          `json:"id"`
	Object    string          `json:"object"`
	Name      string          `json:"name,omitempty"`
	Container bool            `json:"container,omitempty"`
	VocabSize int             `json:"vocab_size,omitempty"`
	Image     *scf.ImageInfo  `json:"image,omitempty"`
	Decode    *scf.DecodeInfo `json:"decode,omitempty"`
	Loaded    bool            `json:"loaded"`
}

// ModelList is the GET /v1/models payload.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelData `json:"data"`
}

// ErrorBody is the error envelope returned by every failing endpoint.
type ErrorBody struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
}
