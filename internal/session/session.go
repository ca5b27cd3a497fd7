// Package session owns the upload/process/result lifecycle of one user's video submission.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gaslight/leakview/internal/interval"
	"github.com/gaslight/leakview/internal/transport"
)

// File is a selected payload. The session owns it from SelectFile until it is
// replaced or the session is closed, at which point Release is called.
type File struct {
	transport.File
	Release func()
}

func (f *File) info() *FileInfo {
	return &FileInfo{Name: f.Name, ContentType: f.ContentType, Size: f.Size}
}

func (f *File) release() {
	if f != nil && f.Release != nil {
		f.Release()
	}
}

// Config wires a session to its collaborators.
type Config struct {
	Transport transport.Submitter
	// Origin resolves relative result locations returned by the service.
	Origin    *url.URL
	Observers []Observer
	Logger    *zap.Logger
}

type attempt struct {
	id         uuid.UUID
	file       transport.File
	startedAt  time.Time
	finishedAt time.Time
}

// Session is one user's submit-and-view lifecycle. Only one attempt may be in flight.
type Session struct {
	id        uuid.UUID
	transport transport.Submitter
	origin    *url.URL
	observers []Observer
	logger    *zap.Logger

	mu      sync.Mutex
	file    *File
	status  status
	attempt *attempt
	closed  bool
}

// New creates an idle session.
func New(id uuid.UUID, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		id:        id,
		transport: cfg.Transport,
		origin:    cfg.Origin,
		observers: append([]Observer(nil), cfg.Observers...),
		logger:    logger.With(zap.String("session_id", id.String())),
		status:    idle(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:       s.id,
		State:    s.status.state,
		Progress: s.status.progress,
		Failure:  s.status.failure,
	}
	if s.file != nil {
		snap.File = s.file.info()
	}
	if s.status.state == Completed {
		snap.ResultVideo = s.status.video
		snap.Intervals = append([]interval.Interval(nil), s.status.intervals...)
	}
	if a := s.attempt; a != nil {
		id, started := a.id, a.startedAt
		snap.AttemptID = &id
		snap.StartedAt = &started
		if !a.finishedAt.IsZero() {
			finished := a.finishedAt
			snap.FinishedAt = &finished
		}
	}
	return snap
}

// SelectFile replaces the selected file and clears any stale result.
// While an attempt is in flight it fails with ErrAlreadyInProgress and the
// caller keeps ownership of f.
func (s *Session) SelectFile(f File) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.status.state.Busy() {
		s.mu.Unlock()
		s.notify(NoticeError, "A submission is already in progress")
		return ErrAlreadyInProgress
	}
	old := s.file
	s.file = &f
	s.status = idle()
	s.attempt = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()

	old.release()
	s.logger.Info("file selected", zap.String("file", f.Name), zap.Int64("size", f.Size))
	s.emit(Event{Kind: EventState, Session: s.id, Snapshot: snap})
	return nil
}

// Submit runs one attempt and blocks until it settles. The returned error is
// non-nil only when the action is rejected; attempt failures end up in the
// snapshot's Failure.
func (s *Session) Submit(ctx context.Context) (Snapshot, error) {
	a, err := s.begin()
	if err != nil {
		return s.Snapshot(), err
	}
	s.run(ctx, a)
	return s.Snapshot(), nil
}

// Start enters Uploading synchronously and settles the attempt in the
// background. The returned channel is closed once the attempt is terminal.
func (s *Session) Start(ctx context.Context) (<-chan struct{}, error) {
	a, err := s.begin()
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.run(ctx, a)
	}()
	return done, nil
}

func (s *Session) begin() (*attempt, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.status.state.Busy() {
		s.mu.Unlock()
		s.notify(NoticeError, "A submission is already in progress")
		return nil, ErrAlreadyInProgress
	}
	if s.file == nil {
		s.mu.Unlock()
		s.notify(NoticeError, "Select a video file first")
		return nil, ErrNoFileSelected
	}
	a := &attempt{id: uuid.New(), file: s.file.File, startedAt: time.Now()}
	s.attempt = a
	s.status = uploading(0)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("submission started", zap.String("attempt_id", a.id.String()), zap.String("file", a.file.Name))
	s.emit(Event{Kind: EventState, Session: s.id, Snapshot: snap})
	return a, nil
}

func (s *Session) run(ctx context.Context, a *attempt) {
	if s.transport == nil {
		s.fail(a, FailureTransport, "no transport configured")
		return
	}
	res, err := s.transport.Submit(ctx, a.file, func(pct int) { s.progress(a, pct) })
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			s.fail(a, FailureCancelled, ErrCancelled.Error())
			return
		}
		s.fail(a, FailureTransport, err.Error())
		return
	}
	// The response is in hand; if the transfer never reported 100 the upload
	// phase ends here.
	s.enterProcessing(a)

	if !res.Succeeded() {
		msg := res.Message
		if msg == "" {
			msg = fmt.Sprintf("service reported status %q", res.Status)
		}
		s.fail(a, FailureService, msg)
		return
	}
	intervals, err := interval.ParseList(res.Intervals)
	if err != nil {
		s.fail(a, FailureMalformed, err.Error())
		return
	}
	video, err := ResolveLocation(s.origin, res.OutputVideo)
	if err != nil {
		s.fail(a, FailureMalformed, err.Error())
		return
	}
	s.complete(a, video, intervals)
}

func (s *Session) progress(a *attempt, pct int) {
	s.mu.Lock()
	if s.attempt != a || s.status.state != Uploading || pct < s.status.progress {
		s.mu.Unlock()
		return
	}
	if pct > 100 {
		pct = 100
	}
	if pct < 100 {
		s.status = uploading(pct)
		s.mu.Unlock()
		s.emit(Event{Kind: EventProgress, Session: s.id, Progress: pct})
		return
	}
	s.status = processing()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(Event{Kind: EventProgress, Session: s.id, Progress: 100})
	s.logger.Debug("upload finished, awaiting analysis", zap.String("attempt_id", a.id.String()))
	s.emit(Event{Kind: EventState, Session: s.id, Snapshot: snap})
}

func (s *Session) enterProcessing(a *attempt) {
	s.mu.Lock()
	if s.attempt != a || s.status.state != Uploading {
		s.mu.Unlock()
		return
	}
	s.status = processing()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(Event{Kind: EventState, Session: s.id, Snapshot: snap})
}

func (s *Session) fail(a *attempt, kind FailureKind, msg string) {
	s.mu.Lock()
	if s.attempt != a || !s.status.state.Busy() {
		s.mu.Unlock()
		return
	}
	a.finishedAt = time.Now()
	s.status = failed(&Failure{Kind: kind, Message: msg})
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Warn("submission failed",
		zap.String("attempt_id", a.id.String()),
		zap.String("kind", string(kind)),
		zap.String("reason", msg),
	)
	s.emit(Event{Kind: EventState, Session: s.id, Snapshot: snap})
	s.notify(NoticeError, failureNotice(kind))
}

func (s *Session) complete(a *attempt, video string, intervals []interval.Interval) {
	s.mu.Lock()
	if s.attempt != a || s.status.state != Processing {
		s.mu.Unlock()
		return
	}
	a.finishedAt = time.Now()
	s.status = completed(video, intervals)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("submission completed",
		zap.String("attempt_id", a.id.String()),
		zap.String("result_video", video),
		zap.Int("intervals", len(intervals)),
	)
	s.emit(Event{Kind: EventState, Session: s.id, Snapshot: snap})
	s.notify(NoticeSuccess, "Video processed successfully")
}

// Close releases the selected file. An attempt still in flight finishes but
// its outcome is discarded.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	f := s.file
	s.file = nil
	s.attempt = nil
	s.status = idle()
	s.mu.Unlock()
	f.release()
}

func (s *Session) notify(level NoticeLevel, msg string) {
	s.emit(Event{Kind: EventNotice, Session: s.id, Notice: &Notice{Level: level, Message: msg}})
}

func (s *Session) emit(ev Event) {
	for _, o := range s.observers {
		o(ev)
	}
}

func failureNotice(kind FailureKind) string {
	switch kind {
	case FailureService:
		return "Video processing failed"
	case FailureMalformed:
		return "The analysis result could not be read"
	case FailureCancelled:
		return "Submission cancelled"
	default:
		return "Request to the analysis service failed"
	}
}
