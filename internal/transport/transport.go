// Package transport submits a video to the analysis service and reports upload progress.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
)

// StatusSuccess is the discriminator value the service uses for a processed video.
const StatusSuccess = "success"

var (
	// ErrEmptyFile is returned when the file to submit has no content.
	ErrEmptyFile = errors.New("file is empty")
	// ErrMissingStatus is wrapped in a TransportError when the response envelope lacks the discriminator.
	ErrMissingStatus = errors.New("response has no status field")
)

// File is the binary payload handed to the transport. Open is called once per submission.
type File struct {
	Name        string
	ContentType string // advisory; passed through untouched
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// ProgressFunc receives upload progress in percent (0-100), non-decreasing.
// It runs on the uploading goroutine and must not block.
type ProgressFunc func(percent int)

// Result is the service response. Intervals are left raw for the caller to validate.
type Result struct {
	Status      string            `json:"status"`
	OutputVideo string            `json:"output_video"`
	Intervals   []json.RawMessage `json:"intervals"`
	Message     string            `json:"message,omitempty"`
}

// Succeeded reports whether the service processed the video.
func (r *Result) Succeeded() bool { return r != nil && r.Status == StatusSuccess }

// Submitter performs one submission. Implementations never retry.
type Submitter interface {
	Submit(ctx context.Context, file File, onProgress ProgressFunc) (*Result, error)
}

// TransportError covers network failures, timeouts, bad HTTP status and malformed envelopes.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return "transport " + e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }
