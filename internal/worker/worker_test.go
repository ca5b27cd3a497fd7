package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaslight/leakview/pkg/queue"
)

type fakeArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	uploads int
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (f *fakeArchive) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeArchive) Upload(_ context.Context, key, contentType string, body io.Reader, _ int64) (string, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = b
	f.types[key] = contentType
	f.uploads++
	return f.ObjectURL(key), nil
}

func (f *fakeArchive) ObjectURL(key string) string { return "https://bucket/" + key }

type fakeAttempts struct {
	mu   sync.Mutex
	urls map[uuid.UUID]string
	err  error
}

func (f *fakeAttempts) UpdateArchive(_ context.Context, id uuid.UUID, url, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.urls == nil {
		f.urls = make(map[uuid.UUID]string)
	}
	f.urls[id] = url
	return nil
}

func videoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/outputs/result.mp4" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("mp4-bytes"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func archiveJob(t *testing.T, url string) (*queue.Job, queue.ArchivePayload) {
	t.Helper()
	p := queue.ArchivePayload{AttemptID: uuid.New(), SessionID: uuid.New(), VideoURL: url}
	job, err := queue.NewJob(queue.JobTypeArchiveResult, p)
	require.NoError(t, err)
	return job, p
}

func TestProcessArchivesResult(t *testing.T) {
	srv := videoServer(t)
	archive, attempts := newFakeArchive(), &fakeAttempts{}
	p := NewArchiveProcessor(archive, attempts, nil, srv.Client(), nil)

	job, payload := archiveJob(t, srv.URL+"/outputs/result.mp4")
	require.NoError(t, p.Process(context.Background(), job))

	key := "results/" + payload.SessionID.String() + "/" + payload.AttemptID.String() + ".mp4"
	assert.Equal(t, []byte("mp4-bytes"), archive.objects[key])
	assert.Equal(t, "video/mp4", archive.types[key])
	assert.Equal(t, "https://bucket/"+key, attempts.urls[payload.AttemptID])
}

func TestProcessSkipsUploadWhenAlreadyArchived(t *testing.T) {
	srv := videoServer(t)
	archive, attempts := newFakeArchive(), &fakeAttempts{err: errors.New("db down")}
	p := NewArchiveProcessor(archive, attempts, nil, srv.Client(), nil)
	job, payload := archiveJob(t, srv.URL+"/outputs/result.mp4")

	require.Error(t, p.Process(context.Background(), job))
	attempts.err = nil
	require.NoError(t, p.Process(context.Background(), job))
	assert.Equal(t, 1, archive.uploads)
	assert.Contains(t, attempts.urls[payload.AttemptID], payload.AttemptID.String())
}

func TestProcessErrors(t *testing.T) {
	srv := videoServer(t)
	p := NewArchiveProcessor(newFakeArchive(), nil, nil, srv.Client(), nil)

	job, _ := archiveJob(t, srv.URL+"/missing.mp4")
	assert.ErrorContains(t, p.Process(context.Background(), job), "download status: 404")

	job, _ = archiveJob(t, "")
	assert.Error(t, p.Process(context.Background(), job))

	job.Type = "email"
	assert.ErrorContains(t, p.Process(context.Background(), job), "unknown job type")
}

type scriptedQueue struct {
	mu      sync.Mutex
	jobs    []*queue.Job
	retried []*queue.Job
}

func (q *scriptedQueue) Dequeue(context.Context) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		time.Sleep(time.Millisecond)
		return nil, nil
	}
	j := q.jobs[0]
	q.jobs = q.jobs[1:]
	return j, nil
}

func (q *scriptedQueue) Retry(_ context.Context, job *queue.Job, _ error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Attempt++
	q.retried = append(q.retried, job)
	return nil
}

func TestRunRetriesFailedJobs(t *testing.T) {
	srv := videoServer(t)
	good, _ := archiveJob(t, srv.URL+"/outputs/result.mp4")
	bad, _ := archiveJob(t, srv.URL+"/gone.mp4")
	q := &scriptedQueue{jobs: []*queue.Job{good, bad}}
	archive := newFakeArchive()
	p := NewArchiveProcessor(archive, nil, q, srv.Client(), nil)
	p.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	assert.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.retried) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, bad.ID, q.retried[0].ID)
	assert.Equal(t, 1, archive.uploads)
	assert.True(t, bytes.Equal([]byte("mp4-bytes"), archive.objects[storageKey(good)]))
}

func storageKey(job *queue.Job) string {
	var p queue.ArchivePayload
	_ = json.Unmarshal(job.Payload, &p)
	return "results/" + p.SessionID.String() + "/" + p.AttemptID.String() + ".mp4"
}
