package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultUploadPath is the analysis service route accepting the multipart upload.
	DefaultUploadPath = "/upload/"
	// FormField is the multipart field carrying the video.
	FormField = "file"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// HTTPSubmitter posts the file as multipart/form-data to the analysis service.
type HTTPSubmitter struct {
	base   *url.URL
	path   string
	client *http.Client
	logger *zap.Logger
}

// NewHTTPSubmitter creates a submitter for the service at baseURL (e.g. http://localhost:8000).
// timeout bounds the whole round trip, upload and analysis; zero means no limit.
func NewHTTPSubmitter(baseURL string, timeout time.Duration, logger *zap.Logger) (*HTTPSubmitter, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse service url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("service url %q must be absolute", baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSubmitter{
		base:   base,
		path:   DefaultUploadPath,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

// Origin returns the service base URL that relative result locations resolve against.
func (s *HTTPSubmitter) Origin() *url.URL {
	u := *s.base
	return &u
}

// Submit streams the file to the service and decodes the response envelope.
func (s *HTTPSubmitter) Submit(ctx context.Context, file File, onProgress ProgressFunc) (*Result, error) {
	if file.Size <= 0 {
		return nil, ErrEmptyFile
	}
	head, tail, contentType, err := multipartFrame(file)
	if err != nil {
		return nil, &TransportError{Op: "encode", Err: err}
	}
	rc, err := file.Open()
	if err != nil {
		return nil, &TransportError{Op: "open", Err: err}
	}
	defer rc.Close()

	total := int64(len(head)) + file.Size + int64(len(tail))
	body := io.MultiReader(bytes.NewReader(head), io.LimitReader(rc, file.Size), bytes.NewReader(tail))
	progress := newProgressReader(body, total, onProgress)
	defer progress.settle()

	endpoint := s.base.ResolveReference(&url.URL{Path: s.path})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), io.NopCloser(progress))
	if err != nil {
		return nil, &TransportError{Op: "request", Err: err}
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	progress.settle()
	if err != nil {
		return nil, &TransportError{Op: "post", Err: err}
	}
	defer resp.Body.Close()

	s.logger.Debug("analysis service responded",
		zap.Int("status", resp.StatusCode),
		zap.String("file", file.Name),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &TransportError{Op: "status", Err: fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))}
	}
	return decodeResult(resp.Body)
}

func decodeResult(r io.Reader) (*Result, error) {
	var env struct {
		Status      *string           `json:"status"`
		OutputVideo string            `json:"output_video"`
		Intervals   []json.RawMessage `json:"intervals"`
		Message     string            `json:"message"`
	}
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, &TransportError{Op: "decode", Err: err}
	}
	if env.Status == nil {
		return nil, &TransportError{Op: "decode", Err: ErrMissingStatus}
	}
	return &Result{
		Status:      *env.Status,
		OutputVideo: env.OutputVideo,
		Intervals:   env.Intervals,
		Message:     env.Message,
	}, nil
}

// multipartFrame renders everything around the file bytes so the body length is known up front.
func multipartFrame(file File) (head, tail []byte, contentType string, err error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FormField, quoteEscaper.Replace(file.Name)))
	ct := file.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	if _, err = mw.CreatePart(h); err != nil {
		return nil, nil, "", err
	}
	n := buf.Len()
	if err = mw.Close(); err != nil {
		return nil, nil, "", err
	}
	all := buf.Bytes()
	return all[:n:n], all[n:], mw.FormDataContentType(), nil
}
