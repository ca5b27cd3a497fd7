package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaslight/leakview/internal/auth"
	"github.com/gaslight/leakview/internal/realtime"
	"github.com/gaslight/leakview/internal/session"
	"github.com/gaslight/leakview/internal/transport"
)

type stubTransport struct {
	gate   chan struct{}
	result *transport.Result
	got    chan []byte
}

func (s *stubTransport) Submit(ctx context.Context, f transport.File, onProgress transport.ProgressFunc) (*transport.Result, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return nil, err
	}
	if s.got != nil {
		s.got <- body
	}
	onProgress(50)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, &transport.TransportError{Op: "post", Err: ctx.Err()}
		}
	}
	onProgress(100)
	return s.result, nil
}

type env struct {
	r     *gin.Engine
	h     *Handler
	reg   *session.Registry
	tr    *stubTransport
	spool string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tr := &stubTransport{result: &transport.Result{
		Status:      transport.StatusSuccess,
		OutputVideo: "/outputs/leak.mp4",
		Intervals: []json.RawMessage{
			json.RawMessage(`{"start":1.5,"end":3,"duration":1.5}`),
			json.RawMessage(`{"start":62,"end":64.5,"duration":2.5}`),
		},
	}}
	origin, err := url.Parse("http://analysis:8000")
	require.NoError(t, err)
	hub := realtime.NewHub(nil, nil, nil)
	reg := session.NewRegistry(session.Config{Transport: tr, Origin: origin, Observers: []session.Observer{hub.SessionObserver()}})
	dir := t.TempDir()
	spool, err := NewSpool(dir, 1024)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := NewHandler(ctx, reg, auth.NewJWTService("test-secret", 1), hub, spool, nil)
	r := gin.New()
	h.Mount(r, nil)
	return &env{r: r, h: h, reg: reg, tr: tr, spool: dir}
}

func (e *env) do(method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func (e *env) create(t *testing.T) (uuid.UUID, string) {
	t.Helper()
	w := e.do(http.MethodPost, "/sessions", "", nil, "")
	require.Equal(t, http.StatusCreated, w.Code)
	var body struct {
		Data struct {
			SessionID uuid.UUID `json:"session_id"`
			Token     string    `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Data.SessionID, body.Data.Token
}

func (e *env) upload(t *testing.T, id uuid.UUID, token, field string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "leak.mp4")
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return e.do(http.MethodPut, "/sessions/"+id.String()+"/file", token, &buf, mw.FormDataContentType())
}

func (e *env) waitState(t *testing.T, id uuid.UUID, want session.State) session.Snapshot {
	t.Helper()
	s, ok := e.reg.Get(id)
	require.True(t, ok)
	require.Eventually(t, func() bool { return s.Snapshot().State == want }, 2*time.Second, 5*time.Millisecond)
	return s.Snapshot()
}

func code(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Code
}

func TestSubmitAndViewResult(t *testing.T) {
	e := newEnv(t)
	e.tr.got = make(chan []byte, 1)
	id, token := e.create(t)
	base := "/sessions/" + id.String()

	w := e.do(http.MethodPost, base+"/submit", token, nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "no_file_selected", code(t, w))

	w = e.upload(t, id, token, "file", []byte("video-bytes"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"idle"`)
	assert.Contains(t, w.Body.String(), `"name":"leak.mp4"`)

	w = e.do(http.MethodPost, base+"/submit", token, nil, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []byte("video-bytes"), <-e.tr.got)

	snap := e.waitState(t, id, session.Completed)
	assert.Equal(t, "http://analysis:8000/outputs/leak.mp4", snap.ResultVideo)

	w = e.do(http.MethodGet, base+"/rows", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var rows struct {
		Data struct {
			State string `json:"state"`
			Rows  []struct {
				Index int     `json:"index"`
				Start float64 `json:"start"`
				Label string  `json:"label"`
			} `json:"rows"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	assert.Equal(t, "completed", rows.Data.State)
	require.Len(t, rows.Data.Rows, 2)
	assert.Equal(t, 62.0, rows.Data.Rows[1].Start)
	assert.Equal(t, "01:02.0 - 01:04.5", rows.Data.Rows[1].Label)

	w = e.do(http.MethodPost, base+"/rows/1/activate", token, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, base+"/rows/7/activate", token, nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, base+"/rows/x/activate", token, nil, "").Code)

	w = e.do(http.MethodGet, base, token, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"completed"`)
}

func TestBusySessionRejectsAndCancels(t *testing.T) {
	e := newEnv(t)
	e.tr.gate = make(chan struct{})
	id, token := e.create(t)
	base := "/sessions/" + id.String()

	require.Equal(t, http.StatusOK, e.upload(t, id, token, "file", []byte("abc")).Code)
	require.Equal(t, http.StatusAccepted, e.do(http.MethodPost, base+"/submit", token, nil, "").Code)

	w := e.do(http.MethodPost, base+"/submit", token, nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_in_progress", code(t, w))

	w = e.upload(t, id, token, "file", []byte("other"))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(http.MethodPost, base+"/rows/0/activate", token, nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "no_result", code(t, w))

	require.Equal(t, http.StatusAccepted, e.do(http.MethodPost, base+"/cancel", token, nil, "").Code)
	snap := e.waitState(t, id, session.Failed)
	require.NotNil(t, snap.Failure)
	assert.Equal(t, session.FailureCancelled, snap.Failure.Kind)

	w = e.do(http.MethodPost, base+"/cancel", token, nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "not_in_progress", code(t, w))

	w = e.do(http.MethodGet, base+"/rows", token, nil, "")
	assert.Contains(t, w.Body.String(), `"rows":[]`)
}

func TestUploadValidation(t *testing.T) {
	e := newEnv(t)
	id, token := e.create(t)

	assert.Equal(t, http.StatusBadRequest, e.upload(t, id, token, "file", nil).Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, e.upload(t, id, token, "file", bytes.Repeat([]byte("x"), 2048)).Code)
	assert.Equal(t, http.StatusBadRequest, e.upload(t, id, token, "video", []byte("abc")).Code)

	entries, err := os.ReadDir(e.spool)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSlowUploadOutlivesServerTimeouts(t *testing.T) {
	e := newEnv(t)
	e.h.SetUploadTimeout(5 * time.Second)
	srv := httptest.NewUnstartedServer(e.r)
	srv.Config.ReadTimeout = 300 * time.Millisecond
	srv.Config.WriteTimeout = 300 * time.Millisecond
	srv.Start()
	defer srv.Close()
	id, token := e.create(t)

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		fw, err := mw.CreateFormFile("file", "leak.mp4")
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		_, _ = fw.Write([]byte("first-half-"))
		time.Sleep(700 * time.Millisecond)
		_, _ = fw.Write([]byte("second-half"))
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/sessions/"+id.String()+"/file", pr)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"name":"leak.mp4"`)
}

func TestTokenScopedToSession(t *testing.T) {
	e := newEnv(t)
	a, tokenA := e.create(t)
	b, _ := e.create(t)

	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/sessions/"+a.String(), tokenA, nil, "").Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/sessions/"+b.String(), tokenA, nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/sessions/"+a.String(), "", nil, "").Code)
}

func TestDeleteReleasesFile(t *testing.T) {
	e := newEnv(t)
	id, token := e.create(t)
	require.Equal(t, http.StatusOK, e.upload(t, id, token, "file", []byte("abc")).Code)
	entries, err := os.ReadDir(e.spool)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// reselecting replaces the spooled file
	require.Equal(t, http.StatusOK, e.upload(t, id, token, "file", []byte("abcd")).Code)
	entries, err = os.ReadDir(e.spool)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.Equal(t, http.StatusNoContent, e.do(http.MethodDelete, "/sessions/"+id.String(), token, nil, "").Code)
	entries, err = os.ReadDir(e.spool)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/sessions/"+id.String(), token, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodDelete, "/sessions/"+id.String(), token, nil, "").Code)
}

func TestPage(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "activate_row"))
	assert.Contains(t, w.Body.String(), "URL.createObjectURL")
	assert.Contains(t, w.Body.String(), `id="preview"`)
}
