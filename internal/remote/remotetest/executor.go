// Package remotetest provides an in-memory remote.Executor for tests.
package remotetest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"blogsync/internal/domain"
	"blogsync/internal/remote"
)

// Handler answers a request. Returning a Response with Err set simulates a
// transport failure.
type Handler func(req *remote.Request) remote.Response

// Executor replies from registered handlers keyed by "METHOD path" where
// path excludes the base URL and query string, e.g. "POST posts/42".
type Executor struct {
	mu       sync.Mutex
	base     string
	handlers map[string]Handler
	requests []*remote.Request
}

func NewExecutor(baseURL string) *Executor {
	return &Executor{
		base:     remote.NormalizeBaseURL(baseURL),
		handlers: make(map[string]Handler),
	}
}

func (e *Executor) Handle(method, path string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[method+" "+path] = h
}

// JSON registers a fixed status and body.
func (e *Executor) JSON(method, path string, status int, body string) {
	e.Handle(method, path, func(*remote.Request) remote.Response {
		return remote.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       []byte(body),
		}
	})
}

func (e *Executor) Fail(method, path string, err error) {
	e.Handle(method, path, func(*remote.Request) remote.Response {
		return remote.Response{Err: err}
	})
}

func (e *Executor) Do(ctx context.Context, req *remote.Request) <-chan remote.Response {
	ch := make(chan remote.Response, 1)

	e.mu.Lock()
	e.requests = append(e.requests, req)
	h, ok := e.handlers[req.Method+" "+e.path(req.URL)]
	e.mu.Unlock()

	if req.Upload != nil && req.Upload.Content != nil {
		// Drain like a real client would so progress callbacks fire.
		n, _ := io.Copy(io.Discard, req.Upload.Content)
		if req.Upload.Progress != nil {
			req.Upload.Progress(domain.Progress{Sent: n, Total: req.Upload.Size})
		}
	}

	switch {
	case ctx.Err() != nil:
		ch <- remote.Response{Err: ctx.Err()}
	case !ok:
		ch <- remote.Response{Err: fmt.Errorf("remotetest: no handler for %s %s", req.Method, req.URL)}
	default:
		ch <- h(req)
	}
	return ch
}

// Requests returns every request seen so far.
func (e *Executor) Requests() []*remote.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*remote.Request, len(e.requests))
	copy(out, e.requests)
	return out
}

func (e *Executor) Last() *remote.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.requests) == 0 {
		return nil
	}
	return e.requests[len(e.requests)-1]
}

func (e *Executor) path(u string) string {
	p := strings.TrimPrefix(u, e.base)
	if i := strings.IndexByte(p, '?'); i >= 0 {
		return p[:i]
	}
	return p
}
