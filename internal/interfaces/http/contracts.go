package http

import (
	"time"

	"github.com/quantlab/walkforward/internal/registry"
)

// ErrorResponse is the standardized error envelope
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ArtifactResponse carries one artifact's metadata, optionally with the
// serialized model blob when the caller asked for it
type ArtifactResponse struct {
	Meta registry.Metadata `json:"meta"`
	Blob string            `json:"blob,omitempty"` // base64 when ?blob=true
}

// ArtifactListResponse lists a family's artifact metadata in version order
type ArtifactListResponse struct {
	Family    string              `json:"family"`
	Count     int                 `json:"count"`
	Artifacts []registry.Metadata `json:"artifacts"`
}

// HealthResponse reports service liveness
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
