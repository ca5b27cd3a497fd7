// Package playback drives the page's video element. Commands are best effort.
package playback

import (
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// EventSeek moves the player to SeekCommand.Seconds.
	EventSeek = "seek"
	// EventPlay resumes playback.
	EventPlay = "play"
)

// Controller is the playback surface showing the result video.
// Both calls are fire-and-forget; failures are swallowed.
type Controller interface {
	SeekTo(seconds float64)
	Play()
}

// SeekCommand is the payload of EventSeek.
type SeekCommand struct {
	Seconds float64 `json:"seconds"`
}

// Commander delivers a command to every page attached to a session and
// reports how many received it.
type Commander interface {
	BroadcastToSession(sessionID uuid.UUID, event string, payload interface{}) int
}

// Remote sends playback commands to the pages watching one session.
type Remote struct {
	sessionID uuid.UUID
	out       Commander
	logger    *zap.Logger
}

// NewRemote creates a controller for sessionID.
func NewRemote(sessionID uuid.UUID, out Commander, logger *zap.Logger) *Remote {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Remote{sessionID: sessionID, out: out, logger: logger}
}

// SeekTo asks the player to jump to seconds. Negative or non-finite positions are dropped.
func (r *Remote) SeekTo(seconds float64) {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		r.logger.Debug("seek dropped", zap.Float64("seconds", seconds), zap.String("session_id", r.sessionID.String()))
		return
	}
	r.send(EventSeek, SeekCommand{Seconds: seconds})
}

// Play asks the player to resume.
func (r *Remote) Play() {
	r.send(EventPlay, struct{}{})
}

func (r *Remote) send(event string, payload interface{}) {
	if r.out == nil {
		return
	}
	if n := r.out.BroadcastToSession(r.sessionID, event, payload); n == 0 {
		r.logger.Debug("no player attached", zap.String("event", event), zap.String("session_id", r.sessionID.String()))
	}
}

// Nop discards every command.
type Nop struct{}

func (Nop) SeekTo(float64) {}
func (Nop) Play() {}
