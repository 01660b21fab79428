// Package worker runs rule analysis in an isolated goroutine that shares no
// memory with its callers. All communication happens through correlated
// request/response messages; the document is transferred by structural copy
// when set and never referenced across the boundary afterwards.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rtcstack/rtc-triage/internal/models"
	"github.com/rtcstack/rtc-triage/internal/rules"
	"github.com/rtcstack/rtc-triage/internal/store"
)

// MessageType discriminates worker operations.
type MessageType string

const (
	// MessageParseJSON parses raw capture text into a document.
	MessageParseJSON MessageType = "parse_json"
	// MessageSetLogData installs a document copy as the worker's analysis input.
	MessageSetLogData MessageType = "set_log_data"
	// MessageAnalyzeSelection runs the rule engine over the selected keys.
	MessageAnalyzeSelection MessageType = "analyze_selection"
)

// Request is one correlated message to the worker. Exactly one payload
// field is meaningful per Type.
type Request struct {
	ID        uint64
	Type      MessageType
	Text      []byte
	Logs      *models.LogDocument
	Selection store.Selection
}

// Response carries the correlated result. Err is a transportable message
// string, not a wrapped error, since the boundary is value-only.
type Response struct {
	ID       uint64
	OK       bool
	Document *models.LogDocument
	Issues   []models.Issue
	Err      string
}

// ErrClosed reports a transport-level failure: the worker is gone and will
// not answer.
var ErrClosed = errors.New("analysis worker is closed")

type envelope struct {
	req   Request
	reply chan<- Response
}

// Worker is the isolated analysis context.
type Worker struct {
	logger    *slog.Logger
	registry  []rules.Rule
	requests  chan envelope
	done      chan struct{}
	closeOnce sync.Once
}

// New starts a worker goroutine using the given rule registry.
func New(logger *slog.Logger, registry []rules.Rule) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		logger:   logger,
		registry: registry,
		requests: make(chan envelope, 8),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// Send enqueues a request and returns the channel its response will arrive
// on. A closed worker returns ErrClosed, which callers treat as a
// transport failure.
func (w *Worker) Send(ctx context.Context, req Request) (<-chan Response, error) {
	select {
	case <-w.done:
		return nil, ErrClosed
	default:
	}
	reply := make(chan Response, 1)
	select {
	case <-w.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case w.requests <- envelope{req: req, reply: reply}:
		return reply, nil
	}
}

// Close stops the worker. In-flight work completes; queued requests are
// answered with a transport error.
func (w *Worker) Close() {
	w.closeOnce.Do(func() { close(w.done) })
}

func (w *Worker) loop() {
	var doc *models.LogDocument
	for {
		select {
		case <-w.done:
			w.drain()
			return
		case env := <-w.requests:
			env.reply <- w.handle(&doc, env.req)
		}
	}
}

func (w *Worker) drain() {
	for {
		select {
		case env := <-w.requests:
			env.reply <- Response{ID: env.req.ID, Err: ErrClosed.Error()}
		default:
			return
		}
	}
}

func (w *Worker) handle(doc **models.LogDocument, req Request) Response {
	resp := Response{ID: req.ID}
	switch req.Type {
	case MessageParseJSON:
		parsed, err := models.ParseDocument(req.Text)
		if err != nil {
			resp.Err = err.Error()
			return resp
		}
		resp.OK = true
		resp.Document = parsed

	case MessageSetLogData:
		if req.Logs == nil {
			resp.Err = "set_log_data: no document in payload"
			return resp
		}
		copied, err := req.Logs.Clone()
		if err != nil {
			resp.Err = fmt.Sprintf("set_log_data: %v", err)
			return resp
		}
		*doc = copied
		resp.OK = true

	case MessageAnalyzeSelection:
		if *doc == nil {
			resp.Err = "analyze_selection: no document set"
			return resp
		}
		filtered := store.Filter(*doc, req.Selection)
		resp.Issues = rules.Run(w.logger, filtered, w.registry)
		resp.OK = true

	default:
		resp.Err = fmt.Sprintf("unknown message type %q", req.Type)
	}
	return resp
}
