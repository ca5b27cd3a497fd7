package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gaslight/leakview/pkg/queue"
	"github.com/gaslight/leakview/pkg/storage"
)

// Archive is where result videos are copied to.
type Archive interface {
	Exists(ctx context.Context, key string) (bool, error)
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
	ObjectURL(key string) string
}

// AttemptStore records where an attempt's result was archived. May be nil.
type AttemptStore interface {
	UpdateArchive(ctx context.Context, attemptID uuid.UUID, url, key string) error
}

// JobQueue is the archive job source.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job, cause error) error
}

// ArchiveProcessor copies result videos from the analysis service into S3.
type ArchiveProcessor struct {
	archive  Archive
	attempts AttemptStore
	queue    JobQueue
	client   *http.Client
	logger   *zap.Logger
	backoff  time.Duration
}

// NewArchiveProcessor creates a result archive processor. attempts may be nil.
func NewArchiveProcessor(archive Archive, attempts AttemptStore, q JobQueue, client *http.Client, logger *zap.Logger) *ArchiveProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &ArchiveProcessor{archive: archive, attempts: attempts, queue: q, client: client, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one archive job.
func (p *ArchiveProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeArchiveResult {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload.VideoURL == "" {
		return fmt.Errorf("job %s has no video url", job.ID)
	}

	// Download from the analysis service (streaming)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.VideoURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status: %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	key := storage.ResultKey(payload.SessionID.String(), payload.AttemptID.String(), contentType)

	// a retry after a failed DB update should not upload twice
	exists, err := p.archive.Exists(ctx, key)
	if err != nil {
		return err
	}
	url := p.archive.ObjectURL(key)
	if !exists {
		url, err = p.archive.Upload(ctx, key, contentType, resp.Body, resp.ContentLength)
		if err != nil {
			return fmt.Errorf("s3 upload: %w", err)
		}
	}

	if p.attempts != nil {
		if err := p.attempts.UpdateArchive(ctx, payload.AttemptID, url, key); err != nil {
			p.logger.Error("update attempt archive failed", zap.Error(err), zap.String("attempt_id", payload.AttemptID.String()))
			return fmt.Errorf("update db: %w", err)
		}
	}

	p.logger.Info("result archived", zap.String("attempt_id", payload.AttemptID.String()), zap.String("s3_key", key), zap.Bool("already_present", exists))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ArchiveProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("archive worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(context.WithoutCancel(ctx), job, err); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *ArchiveProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
