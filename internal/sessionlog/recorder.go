package sessionlog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gaslight/leakview/internal/models"
	"github.com/gaslight/leakview/internal/session"
	"github.com/gaslight/leakview/pkg/queue"
)

const writeTimeout = 10 * time.Second

// Store persists finished attempts.
type Store interface {
	Record(ctx context.Context, a *models.Attempt) error
}

// Archiver schedules result videos for archiving.
type Archiver interface {
	EnqueueArchive(ctx context.Context, payload queue.ArchivePayload) error
}

// Recorder turns terminal session snapshots into history rows and archive jobs.
// Either collaborator may be nil. Work runs off the session goroutine and never
// feeds back into session state.
type Recorder struct {
	store    Store
	archiver Archiver
	logger   *zap.Logger
	pending  chan session.Snapshot
}

// NewRecorder creates a recorder; call Run to start writing.
func NewRecorder(store Store, archiver Archiver, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, archiver: archiver, logger: logger, pending: make(chan session.Snapshot, 64)}
}

// Observer returns the session observer feeding this recorder.
func (r *Recorder) Observer() session.Observer {
	return func(ev session.Event) {
		if ev.Kind != session.EventState || !ev.Snapshot.Terminal() || ev.Snapshot.AttemptID == nil {
			return
		}
		if r.store == nil && r.archiver == nil {
			return
		}
		select {
		case r.pending <- ev.Snapshot:
		default:
			r.logger.Warn("attempt recorder backlog full, dropping", zap.String("attempt_id", ev.Snapshot.AttemptID.String()))
		}
	}
}

// Run writes pending attempts until ctx is done, then drains what is already queued.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case snap := <-r.pending:
			r.handle(snap)
		case <-ctx.Done():
			for {
				select {
				case snap := <-r.pending:
					r.handle(snap)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) handle(snap session.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	a := FromSnapshot(snap)
	if r.store != nil {
		if err := r.store.Record(ctx, a); err != nil {
			r.logger.Error("record attempt failed", zap.Error(err), zap.String("attempt_id", a.ID.String()))
		}
	}
	if r.archiver != nil && snap.State == session.Completed && snap.ResultVideo != "" {
		err := r.archiver.EnqueueArchive(ctx, queue.ArchivePayload{
			AttemptID: a.ID,
			SessionID: a.SessionID,
			VideoURL:  snap.ResultVideo,
		})
		if err != nil {
			r.logger.Error("enqueue archive failed", zap.Error(err), zap.String("attempt_id", a.ID.String()))
		}
	}
}

// FromSnapshot builds the history row for a terminal snapshot.
func FromSnapshot(snap session.Snapshot) *models.Attempt {
	a := &models.Attempt{
		SessionID:     snap.ID,
		State:         snap.State.String(),
		IntervalCount: len(snap.Intervals),
	}
	if snap.AttemptID != nil {
		a.ID = *snap.AttemptID
	} else {
		a.ID = uuid.New()
	}
	if snap.File != nil {
		a.FileName = snap.File.Name
		a.FileSize = snap.File.Size
	}
	if snap.Failure != nil {
		kind, msg := string(snap.Failure.Kind), snap.Failure.Message
		a.FailureKind = &kind
		a.FailureMessage = &msg
	}
	if snap.ResultVideo != "" {
		v := snap.ResultVideo
		a.ResultURL = &v
	}
	if snap.StartedAt != nil {
		a.StartedAt = *snap.StartedAt
	}
	if snap.FinishedAt != nil {
		a.FinishedAt = *snap.FinishedAt
	} else {
		a.FinishedAt = time.Now()
	}
	return a
}
