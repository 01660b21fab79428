package analysis

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/rtcstack/rtc-triage/internal/metrics"
	"github.com/rtcstack/rtc-triage/internal/models"
	"github.com/rtcstack/rtc-triage/internal/rules"
	"github.com/rtcstack/rtc-triage/internal/store"
	"github.com/rtcstack/rtc-triage/internal/worker"
)

// ErrTransport marks the executor's transport as unusable. The coordinator
// reacts by permanently downgrading to local execution.
var ErrTransport = errors.New("analysis transport unavailable")

// Result is one correlated analysis answer.
type Result struct {
	ID     uint64
	Issues []models.Issue
	Err    error
}

// Executor abstracts where analysis runs: the message-passing worker
// context or a synchronous in-process path. Implementations correlate every
// answer with the request id they were handed.
type Executor interface {
	Parse(ctx context.Context, id uint64, text []byte) (*models.LogDocument, error)
	SetDocument(ctx context.Context, id uint64, doc *models.LogDocument) error
	Analyze(ctx context.Context, id uint64, sel store.Selection) (<-chan Result, error)
	Mode() string
}

// RemoteExecutor dispatches analysis to a worker over its message channel.
type RemoteExecutor struct {
	w *worker.Worker
}

// NewRemoteExecutor wraps a running worker.
func NewRemoteExecutor(w *worker.Worker) *RemoteExecutor {
	return &RemoteExecutor{w: w}
}

func (r *RemoteExecutor) Mode() string { return metrics.ModeWorker }

// Parse sends a parse_json request and waits for the correlated answer.
func (r *RemoteExecutor) Parse(ctx context.Context, id uint64, text []byte) (*models.LogDocument, error) {
	resp, err := r.roundTrip(ctx, worker.Request{ID: id, Type: worker.MessageParseJSON, Text: text})
	if err != nil {
		return nil, err
	}
	return resp.Document, nil
}

// SetDocument transfers the document to the worker by value.
func (r *RemoteExecutor) SetDocument(ctx context.Context, id uint64, doc *models.LogDocument) error {
	_, err := r.roundTrip(ctx, worker.Request{ID: id, Type: worker.MessageSetLogData, Logs: doc})
	return err
}

// Analyze sends an analyze_selection request. Only the key sets travel; the
// worker analyzes its own document copy.
func (r *RemoteExecutor) Analyze(ctx context.Context, id uint64, sel store.Selection) (<-chan Result, error) {
	replies, err := r.w.Send(ctx, worker.Request{ID: id, Type: worker.MessageAnalyzeSelection, Selection: sel})
	if err != nil {
		return nil, transportErr(err)
	}
	results := make(chan Result, 1)
	go func() {
		defer close(results)
		resp, ok := <-replies
		if !ok {
			results <- Result{ID: id, Err: ErrTransport}
			return
		}
		results <- Result{ID: resp.ID, Issues: resp.Issues, Err: responseErr(resp)}
	}()
	return results, nil
}

func (r *RemoteExecutor) roundTrip(ctx context.Context, req worker.Request) (worker.Response, error) {
	replies, err := r.w.Send(ctx, req)
	if err != nil {
		return worker.Response{}, transportErr(err)
	}
	select {
	case <-ctx.Done():
		return worker.Response{}, ctx.Err()
	case resp, ok := <-replies:
		if !ok {
			return worker.Response{}, ErrTransport
		}
		if err := responseErr(resp); err != nil {
			return worker.Response{}, err
		}
		return resp, nil
	}
}

func transportErr(err error) error {
	if errors.Is(err, worker.ErrClosed) {
		return ErrTransport
	}
	return err
}

func responseErr(resp worker.Response) error {
	if resp.Err == "" {
		return nil
	}
	if resp.Err == worker.ErrClosed.Error() {
		return ErrTransport
	}
	return errors.New(resp.Err)
}

// LocalExecutor runs the rule engine synchronously in-process. It is the
// permanent fallback once the worker transport fails.
type LocalExecutor struct {
	mu       sync.Mutex
	logger   *slog.Logger
	registry []rules.Rule
	doc      *models.LogDocument
}

// NewLocalExecutor constructs the synchronous executor.
func NewLocalExecutor(logger *slog.Logger, registry []rules.Rule) *LocalExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalExecutor{logger: logger, registry: registry}
}

func (l *LocalExecutor) Mode() string { return metrics.ModeLocal }

// Parse decodes capture text directly.
func (l *LocalExecutor) Parse(_ context.Context, _ uint64, text []byte) (*models.LogDocument, error) {
	return models.ParseDocument(text)
}

// SetDocument installs the analysis input. No copy is needed: the document
// is immutable and the executor runs in the caller's context.
func (l *LocalExecutor) SetDocument(_ context.Context, _ uint64, doc *models.LogDocument) error {
	l.mu.Lock()
	l.doc = doc
	l.mu.Unlock()
	return nil
}

// Analyze filters and runs the registry before returning; the result
// channel is already populated.
func (l *LocalExecutor) Analyze(_ context.Context, id uint64, sel store.Selection) (<-chan Result, error) {
	l.mu.Lock()
	doc := l.doc
	l.mu.Unlock()

	results := make(chan Result, 1)
	if doc == nil {
		results <- Result{ID: id, Err: errors.New("analyze_selection: no document set")}
	} else {
		filtered := store.Filter(doc, sel)
		results <- Result{ID: id, Issues: rules.Run(l.logger, filtered, l.registry)}
	}
	close(results)
	return results, nil
}
