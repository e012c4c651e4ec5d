// Package httpexec is the net/http implementation of remote.Executor.
package httpexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"time"

	"blogsync/internal/domain"
	"blogsync/internal/remote"
)

// Config holds HTTP client configuration.
type Config struct {
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Executor performs each request on its own goroutine. Only GET requests
// are retried; writes and uploads are sent once.
type Executor struct {
	httpClient     *http.Client
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Executor {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Executor{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		maxAttempts:    maxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("component", "httpexec"),
	}
}

// Do starts the request and returns a channel that receives its outcome.
func (e *Executor) Do(ctx context.Context, req *remote.Request) <-chan remote.Response {
	ch := make(chan remote.Response, 1)
	go func() {
		ch <- e.execute(ctx, req)
	}()
	return ch
}

func (e *Executor) execute(ctx context.Context, req *remote.Request) remote.Response {
	if req.Upload != nil {
		return e.upload(ctx, req)
	}

	attempts := 1
	if req.Method == http.MethodGet {
		attempts = e.maxAttempts
	}

	var resp remote.Response
	for attempt := 1; attempt <= attempts; attempt++ {
		resp = e.doRequest(ctx, req.Method, req.URL, req.Header, bytes.NewReader(req.Body), int64(len(req.Body)))
		if !retryable(resp) || attempt == attempts || ctx.Err() != nil {
			break
		}

		backoff := e.calculateBackoff(attempt)
		e.logger.Warn("request failed, retrying",
			"url", req.URL,
			"attempt", attempt,
			"status", resp.StatusCode,
			"backoff", backoff,
			"error", resp.Err,
		)

		select {
		case <-ctx.Done():
			return remote.Response{Err: ctx.Err()}
		case <-time.After(backoff):
		}
	}

	if resp.Err != nil && attempts > 1 {
		resp.Err = fmt.Errorf("after %d attempts: %w", attempts, resp.Err)
	}
	return resp
}

// upload streams a multipart body: form fields, then the file part. The
// content length is exact so the server sees a non-chunked request.
func (e *Executor) upload(ctx context.Context, req *remote.Request) remote.Response {
	up := req.Upload

	var head bytes.Buffer
	mw := multipart.NewWriter(&head)

	keys := make([]string, 0, len(up.Fields))
	for k := range up.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, up.Fields[k]); err != nil {
			return remote.Response{Err: fmt.Errorf("write field %s: %w", k, err)}
		}
	}

	partHeader := textproto.MIMEHeader{}
	partHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, up.FieldName, up.FileName))
	partHeader.Set("Content-Type", up.ContentType)
	if _, err := mw.CreatePart(partHeader); err != nil {
		return remote.Response{Err: fmt.Errorf("create file part: %w", err)}
	}
	headBytes := bytes.Clone(head.Bytes())

	head.Reset()
	if err := mw.Close(); err != nil {
		return remote.Response{Err: fmt.Errorf("close multipart: %w", err)}
	}
	tailBytes := bytes.Clone(head.Bytes())

	total := int64(len(headBytes)) + up.Size + int64(len(tailBytes))
	body := &progressReader{
		r:     io.MultiReader(bytes.NewReader(headBytes), io.LimitReader(up.Content, up.Size), bytes.NewReader(tailBytes)),
		total: total,
		fn:    up.Progress,
	}

	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", mw.FormDataContentType())

	resp := e.doRequest(ctx, req.Method, req.URL, header, body, total)

	e.logger.Debug("upload finished",
		"url", req.URL,
		"file", up.FileName,
		"bytes", total,
		"status", resp.StatusCode,
	)
	return resp
}

func (e *Executor) doRequest(ctx context.Context, method, url string, header http.Header, body io.Reader, length int64) remote.Response {
	if length == 0 {
		body = nil
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return remote.Response{Err: fmt.Errorf("create request: %w", err)}
	}
	for k, v := range header {
		httpReq.Header[k] = v
	}
	httpReq.ContentLength = length

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return remote.Response{Err: fmt.Errorf("execute request: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return remote.Response{Err: fmt.Errorf("read response: %w", err)}
	}

	return remote.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}
}

func retryable(resp remote.Response) bool {
	if resp.Err != nil {
		return true
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
}

func (e *Executor) calculateBackoff(attempt int) time.Duration {
	backoff := e.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if e.maxBackoff > 0 && backoff > e.maxBackoff {
		backoff = e.maxBackoff
	}
	return backoff
}

type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    func(domain.Progress)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.fn != nil {
			p.fn(domain.Progress{Sent: p.sent, Total: p.total})
		}
	}
	return n, err
}
