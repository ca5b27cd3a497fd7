// Package viewer exposes sessions over HTTP and serves the viewing page.
package viewer

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gaslight/leakview/internal/auth"
	"github.com/gaslight/leakview/internal/middleware"
	"github.com/gaslight/leakview/internal/playback"
	"github.com/gaslight/leakview/internal/presenter"
	"github.com/gaslight/leakview/internal/realtime"
	"github.com/gaslight/leakview/internal/session"
	"github.com/gaslight/leakview/pkg/response"
)

var (
	// ErrNoResult is returned when rows are activated before a result exists.
	ErrNoResult = errors.New("session has no result")
	// ErrRowNotFound is returned for an index outside the leak table.
	ErrRowNotFound = errors.New("row not found")
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
)

// formSlack covers multipart framing around the file part.
const formSlack = 1 << 20

type flight struct {
	cancel context.CancelFunc
}

// Handler serves the session routes.
type Handler struct {
	sessions *session.Registry
	jwt      *auth.JWTService
	hub      *realtime.Hub
	spool    *Spool
	logger   *zap.Logger
	// attempts run under baseCtx, not the request that started them
	baseCtx context.Context
	// uploadTimeout replaces the server deadlines on file selection; 0 keeps them
	uploadTimeout time.Duration

	mu       sync.Mutex
	inflight map[uuid.UUID]*flight
}

// NewHandler creates the session handler.
func NewHandler(baseCtx context.Context, sessions *session.Registry, jwt *auth.JWTService, hub *realtime.Hub, spool *Spool, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions: sessions,
		jwt:      jwt,
		hub:      hub,
		spool:    spool,
		logger:   logger,
		baseCtx:  baseCtx,
		inflight: make(map[uuid.UUID]*flight),
	}
}

// SetUploadTimeout sets the read/write deadline applied to file selection requests.
func (h *Handler) SetUploadTimeout(d time.Duration) { h.uploadTimeout = d }

// Create handles POST /sessions.
func (h *Handler) Create(c *gin.Context) {
	s := h.sessions.Create()
	token, err := h.jwt.Generate(s.ID())
	if err != nil {
		h.sessions.Remove(s.ID())
		_ = c.Error(err)
		response.Internal(c, "failed to issue session token")
		return
	}
	h.logger.Info("session created", zap.String("session_id", s.ID().String()))
	response.Created(c, gin.H{"session_id": s.ID(), "token": token, "session": s.Snapshot()})
}

// Get handles GET /sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	response.OK(c, s.Snapshot())
}

// SelectFile handles PUT /sessions/:id/file.
func (h *Handler) SelectFile(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if h.uploadTimeout > 0 {
		deadline := time.Now().Add(h.uploadTimeout)
		rc := http.NewResponseController(c.Writer)
		if err := rc.SetReadDeadline(deadline); err != nil {
			h.logger.Debug("upload read deadline not applied", zap.Error(err))
		}
		if err := rc.SetWriteDeadline(deadline); err != nil {
			h.logger.Debug("upload write deadline not applied", zap.Error(err))
		}
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.spool.MaxBytes()+formSlack)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			response.TooLarge(c, ErrUploadTooLarge.Error())
			return
		}
		response.BadRequest(c, "multipart field \"file\" is required")
		return
	}
	f, err := h.spool.Save(fh)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyUpload):
			response.BadRequest(c, err.Error())
		case errors.Is(err, ErrUploadTooLarge):
			response.TooLarge(c, err.Error())
		default:
			_ = c.Error(err)
			response.Internal(c, "failed to store file")
		}
		return
	}
	if err := s.SelectFile(f); err != nil {
		f.Release()
		h.fail(c, err)
		return
	}
	response.OK(c, s.Snapshot())
}

// Submit handles POST /sessions/:id/submit. The attempt continues after the response.
func (h *Handler) Submit(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(h.baseCtx)
	done, err := s.Start(ctx)
	if err != nil {
		cancel()
		h.fail(c, err)
		return
	}
	h.track(s.ID(), cancel, done)
	response.Accepted(c, s.Snapshot())
}

// Cancel handles POST /sessions/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if !h.cancel(s.ID()) {
		response.Fail(c, http.StatusConflict, "not_in_progress", "no submission in progress")
		return
	}
	response.Accepted(c, s.Snapshot())
}

// Rows handles GET /sessions/:id/rows.
func (h *Handler) Rows(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	snap := s.Snapshot()
	rows := presenter.Project(snap, nil)
	if rows == nil {
		rows = []presenter.Row{}
	}
	response.OK(c, gin.H{"state": snap.State, "result_video": snap.ResultVideo, "rows": rows})
}

// ActivateRow handles POST /sessions/:id/rows/:index/activate.
func (h *Handler) ActivateRow(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		response.BadRequest(c, "invalid row index")
		return
	}
	row, err := h.activate(middleware.SessionID(c), index)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrNoResult):
		response.Fail(c, http.StatusConflict, "no_result", err.Error())
	case errors.Is(err, ErrRowNotFound):
		response.NotFound(c, err.Error())
	case err != nil:
		response.Internal(c, err.Error())
	default:
		response.OK(c, gin.H{"row": row, "listeners": h.hub.ListenerCount(row.sessionID)})
	}
}

// Delete handles DELETE /sessions/:id.
func (h *Handler) Delete(c *gin.Context) {
	id := middleware.SessionID(c)
	h.cancel(id)
	if !h.sessions.Remove(id) {
		response.NotFound(c, ErrSessionNotFound.Error())
		return
	}
	h.hub.CloseSession(id)
	h.logger.Info("session closed", zap.String("session_id", id.String()))
	response.NoContent(c)
}

// PageHooks connects websocket pages to sessions.
func (h *Handler) PageHooks() realtime.PageHooks {
	return realtime.PageHooks{
		Validate: h.jwt.SessionOf,
		Exists: func(id uuid.UUID) bool {
			_, ok := h.sessions.Get(id)
			return ok
		},
		Initial: func(id uuid.UUID) (interface{}, bool) {
			s, ok := h.sessions.Get(id)
			if !ok {
				return nil, false
			}
			return s.Snapshot(), true
		},
		ActivateRow: func(id uuid.UUID, index int) error {
			_, err := h.activate(id, index)
			return err
		},
	}
}

// Shutdown cancels every in-flight attempt.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, f := range h.inflight {
		f.cancel()
		delete(h.inflight, id)
	}
}

type activated struct {
	presenter.Row
	sessionID uuid.UUID
}

func (h *Handler) activate(id uuid.UUID, index int) (activated, error) {
	s, ok := h.sessions.Get(id)
	if !ok {
		return activated{}, ErrSessionNotFound
	}
	snap := s.Snapshot()
	if snap.State != session.Completed {
		return activated{}, ErrNoResult
	}
	rows := presenter.Project(snap, playback.NewRemote(id, h.hub, h.logger))
	if index < 0 || index >= len(rows) {
		return activated{}, ErrRowNotFound
	}
	rows[index].Activate()
	return activated{Row: rows[index], sessionID: id}, nil
}

func (h *Handler) session(c *gin.Context) (*session.Session, bool) {
	s, ok := h.sessions.Get(middleware.SessionID(c))
	if !ok {
		response.NotFound(c, ErrSessionNotFound.Error())
		return nil, false
	}
	return s, true
}

func (h *Handler) track(id uuid.UUID, cancel context.CancelFunc, done <-chan struct{}) {
	f := &flight{cancel: cancel}
	h.mu.Lock()
	h.inflight[id] = f
	h.mu.Unlock()
	go func() {
		<-done
		cancel()
		h.mu.Lock()
		if h.inflight[id] == f {
			delete(h.inflight, id)
		}
		h.mu.Unlock()
	}()
}

func (h *Handler) cancel(id uuid.UUID) bool {
	h.mu.Lock()
	f, ok := h.inflight[id]
	delete(h.inflight, id)
	h.mu.Unlock()
	if ok {
		f.cancel()
	}
	return ok
}

func (h *Handler) fail(c *gin.Context, err error) {
	var ue *session.UserError
	switch {
	case errors.As(err, &ue) && ue.Kind == session.AlreadyInProgress:
		response.Fail(c, http.StatusConflict, string(ue.Kind), ue.Error())
	case errors.As(err, &ue):
		response.Fail(c, http.StatusBadRequest, string(ue.Kind), ue.Error())
	case errors.Is(err, session.ErrClosed):
		response.NotFound(c, ErrSessionNotFound.Error())
	default:
		_ = c.Error(err)
		response.Internal(c, err.Error())
	}
}
