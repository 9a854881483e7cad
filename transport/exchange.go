// Package transport provides the panel HTTP client and the asynchronous
// exchange the request queue samples on every tick.
package transport

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Exchange is one outbound HTTP request in flight. It never blocks the caller:
// Done, Status and Body sample the current state.
type Exchange interface {
	// Done reports whether the exchange has finished (successfully or not).
	Done() bool
	// Status is the HTTP status code, or 0 while pending / on transport error.
	Status() int
	// Body is the full response body once Done.
	Body() string
	// Abort cancels the exchange. Safe to call more than once.
	Abort()
}

// Timed is implemented by exchanges that record when they finished.
type Timed interface {
	FinishedAt() time.Time
}

// Transport opens exchanges.
type Transport interface {
	Open(ctx context.Context, method, url, body string) Exchange
}

// HTTPTransport opens exchanges on an http.Client.
type HTTPTransport struct {
	Client    *http.Client
	UserAgent string
	Referer   string
}

// NewHTTPTransport wraps client. A nil client uses BuildHTTPClient defaults.
func NewHTTPTransport(client *http.Client, userAgent, referer string) *HTTPTransport {
	if client == nil {
		client, _ = BuildHTTPClient(Options{})
	}
	return &HTTPTransport{Client: client, UserAgent: userAgent, Referer: referer}
}

// Open starts the request on its own goroutine and returns immediately.
// GET is used when body is empty, POST with a urlencoded body otherwise.
func (t *HTTPTransport) Open(ctx context.Context, method, url, body string) Exchange {
	ctx, cancel := context.WithCancel(ctx)
	ex := &httpExchange{cancel: cancel}

	if method == "" {
		method = http.MethodGet
		if body != "" {
			method = http.MethodPost
		}
	}

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		ex.finish(0, "", err)
		return ex
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if t.UserAgent != "" {
		req.Header.Set("User-Agent", t.UserAgent)
	}
	if t.Referer != "" {
		req.Header.Set("Referer", t.Referer)
	}

	go ex.run(t.Client, req)
	return ex
}

type httpExchange struct {
	cancel context.CancelFunc

	mu         sync.Mutex
	done       bool
	status     int
	body       string
	err        error
	finishedAt time.Time
}

func (e *httpExchange) run(client *http.Client, req *http.Request) {
	resp, err := client.Do(req)
	if err != nil {
		// A failed connection finishes with status 0, which the queue treats
		// as still pending until the request deadline passes.
		e.finish(0, "", err)
		return
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		e.finish(0, "", err)
		return
	}
	e.finish(resp.StatusCode, string(data), nil)
}

func (e *httpExchange) finish(status int, body string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	e.done = true
	e.finishedAt = time.Now()
	e.status = status
	e.body = body
	e.err = err
}

func (e *httpExchange) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

func (e *httpExchange) Status() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *httpExchange) Body() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.body
}

// Err returns the transport error, if any.
func (e *httpExchange) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// FinishedAt returns when the exchange finished, zero while pending.
func (e *httpExchange) FinishedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finishedAt
}

func (e *httpExchange) Abort() {
	e.cancel()
}
