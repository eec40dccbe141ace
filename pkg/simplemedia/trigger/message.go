// Package trigger delivers ingestion jobs to the pipeline, either in process
// or through Kafka, and retries runs that failed with a retryable kind.
package trigger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// ErrInvalidMessage is returned for messages that cannot describe a job.
var ErrInvalidMessage = errors.New("trigger: invalid job message")

// Message is the wire form of an ingestion job.
type Message struct {
	SourceURL    string `json:"source_url"`
	OwnerID      string `json:"owner_id"`
	Role         string `json:"role"`
	SubmissionID string `json:"submission_id,omitempty"`
}

// Encode serializes job.
func Encode(job simplemedia.Job) ([]byte, error) {
	return json.Marshal(Message{
		SourceURL:    job.SourceURL,
		OwnerID:      job.Ref.OwnerID,
		Role:         string(job.Ref.Role),
		SubmissionID: job.Ref.SubmissionID,
	})
}

// Decode parses a message produced by Encode. Short role names are accepted.
func Decode(data []byte) (simplemedia.Job, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return simplemedia.Job{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if m.SourceURL == "" || m.OwnerID == "" {
		return simplemedia.Job{}, fmt.Errorf("%w: source_url and owner_id are required", ErrInvalidMessage)
	}
	role, err := simplemedia.ParseRole(m.Role)
	if err != nil {
		return simplemedia.Job{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return simplemedia.Job{
		SourceURL: m.SourceURL,
		Ref: simplemedia.AssetRef{
			OwnerID:      m.OwnerID,
			Role:         role,
			SubmissionID: m.SubmissionID,
		},
	}, nil
}
