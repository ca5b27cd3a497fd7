package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gaslight/leakview/internal/interval"
)

// State is the lifecycle position of a session's current attempt.
type State int

const (
	Idle State = iota
	Uploading
	Processing
	Completed
	Failed
)

var stateNames = [...]string{"idle", "uploading", "processing", "completed", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Busy reports whether an attempt is in flight.
func (s State) Busy() bool { return s == Uploading || s == Processing }

// FailureKind classifies why an attempt ended in Failed.
type FailureKind string

const (
	FailureTransport FailureKind = "transport_error"
	FailureService   FailureKind = "service_error"
	FailureMalformed FailureKind = "result_malformed"
	FailureCancelled FailureKind = "cancelled"
)

// Failure is the payload of the Failed state.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func (f *Failure) Error() string { return string(f.Kind) + ": " + f.Message }

// FileInfo describes the selected file without exposing its content.
type FileInfo struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`
}

// status is the tagged state value. Each constructor sets only the payload
// valid for its state, so a progress value can never coexist with a result.
type status struct {
	state     State
	progress  int
	video     string
	intervals []interval.Interval
	failure   *Failure
}

func idle() status { return status{state: Idle} }
func uploading(pct int) status { return status{state: Uploading, progress: pct} }
func processing() status { return status{state: Processing} }
func failed(f *Failure) status { return status{state: Failed, failure: f} }
func completed(video string, ivs []interval.Interval) status {
	return status{state: Completed, video: video, intervals: ivs}
}

// Snapshot is a read-only copy of a session at one instant.
type Snapshot struct {
	ID          uuid.UUID           `json:"session_id"`
	AttemptID   *uuid.UUID          `json:"attempt_id,omitempty"`
	State       State               `json:"state"`
	File        *FileInfo           `json:"file,omitempty"`
	Progress    int                 `json:"progress"`
	ResultVideo string              `json:"result_video,omitempty"`
	Intervals   []interval.Interval `json:"intervals,omitempty"`
	Failure     *Failure            `json:"failure,omitempty"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	FinishedAt  *time.Time          `json:"finished_at,omitempty"`
}

// Terminal reports whether the snapshot is the end of an attempt.
func (s Snapshot) Terminal() bool { return s.State == Completed || s.State == Failed }
