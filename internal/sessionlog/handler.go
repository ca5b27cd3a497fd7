package sessionlog

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gaslight/leakview/internal/models"
	"github.com/gaslight/leakview/pkg/response"
)

// Lister reads attempt history.
type Lister interface {
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Attempt, error)
}

// Presigner turns an archive key into a time-limited download link.
type Presigner interface {
	PresignDownload(ctx context.Context, key string) (string, error)
}

// AttemptView is an attempt plus a download link for its archived result.
type AttemptView struct {
	models.Attempt
	ArchiveDownloadURL string `json:"archive_download_url,omitempty"`
}

// Handler handles GET /sessions/:id/attempts.
type Handler struct {
	repo    Lister
	presign Presigner
}

// NewHandler creates an attempt history handler. A nil repo reports history as
// disabled; presign may be nil when archiving is off.
func NewHandler(repo Lister, presign Presigner) *Handler {
	return &Handler{repo: repo, presign: presign}
}

// List handles GET /sessions/:id/attempts.
func (h *Handler) List(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if h.repo == nil {
		response.ServiceUnavailable(c, "attempt history is not configured")
		return
	}
	list, err := h.repo.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		_ = c.Error(err)
		response.Internal(c, "failed to list attempts")
		return
	}
	views := make([]AttemptView, 0, len(list))
	for _, a := range list {
		v := AttemptView{Attempt: a}
		if h.presign != nil && a.ArchiveKey != nil {
			if u, err := h.presign.PresignDownload(c.Request.Context(), *a.ArchiveKey); err == nil {
				v.ArchiveDownloadURL = u
			}
		}
		views = append(views, v)
	}
	response.OK(c, gin.H{"attempts": views})
}
