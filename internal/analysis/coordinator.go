// Package analysis coordinates rule-engine runs across two execution
// contexts: an isolated worker reached by correlated messages, and a
// synchronous in-process fallback. Only the most recently issued request's
// response is ever applied; earlier answers are discarded by id comparison,
// which is the sole ordering and cancellation mechanism.
package analysis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rtcstack/rtc-triage/internal/metrics"
	"github.com/rtcstack/rtc-triage/internal/models"
	"github.com/rtcstack/rtc-triage/internal/store"
	"github.com/rtcstack/rtc-triage/internal/utils"
)

// Coordinator owns the monotonically increasing request id and the latest
// applied issue list.
type Coordinator struct {
	mu        sync.Mutex
	logger    *slog.Logger
	remote    Executor
	local     Executor
	degraded  bool
	requestID uint64
	doc       *models.LogDocument
	issues    []models.Issue
	onResult  func(requestID uint64, issues []models.Issue)

	latencies *utils.LatencyTracker
	inflight  sync.WaitGroup
}

// NewCoordinator builds a coordinator. remote may be nil, in which case
// every dispatch runs on the local executor from the start.
func NewCoordinator(logger *slog.Logger, remote Executor, local *LocalExecutor) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		logger:    logger,
		remote:    remote,
		local:     local,
		latencies: utils.NewLatencyTracker(256),
	}
	if remote == nil {
		c.degraded = true
	}
	return c
}

// OnResult registers the consumer notified when a current (non-stale)
// analysis result is applied.
func (c *Coordinator) OnResult(fn func(requestID uint64, issues []models.Issue)) {
	c.mu.Lock()
	c.onResult = fn
	c.mu.Unlock()
}

// Issues returns the most recently applied result.
func (c *Coordinator) Issues() []models.Issue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.issues
}

// Degraded reports whether the coordinator has permanently fallen back to
// synchronous execution.
func (c *Coordinator) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Wait blocks until every dispatched analysis has been applied or
// discarded. Intended for batch callers and tests.
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}

// ParseDocument decodes capture text on the current executor.
func (c *Coordinator) ParseDocument(ctx context.Context, text []byte) (*models.LogDocument, error) {
	id := c.nextID()
	doc, err := c.executor().Parse(ctx, id, text)
	if err != nil && errors.Is(err, ErrTransport) {
		c.degrade(ctx, err)
		return c.local.Parse(ctx, id, text)
	}
	return doc, err
}

// SetDocument installs a newly loaded document on both executors. The
// worker receives its own structural copy; selection-only changes after
// this call are cheap.
func (c *Coordinator) SetDocument(ctx context.Context, doc *models.LogDocument) error {
	id := c.nextID()

	c.mu.Lock()
	c.doc = doc
	c.issues = nil
	degraded := c.degraded
	c.mu.Unlock()

	if err := c.local.SetDocument(ctx, id, doc); err != nil {
		return err
	}
	if degraded || c.remote == nil {
		return nil
	}
	if err := c.remote.SetDocument(ctx, id, doc); err != nil {
		if errors.Is(err, ErrTransport) {
			c.degrade(ctx, err)
			return nil
		}
		return err
	}
	return nil
}

// Analyze dispatches an analysis of the given selection and returns the
// request id. The result is applied asynchronously; a response superseded
// by a later request is discarded silently.
func (c *Coordinator) Analyze(ctx context.Context, sel store.Selection) uint64 {
	id := c.nextID()
	exec := c.executor()
	start := time.Now()

	results, err := exec.Analyze(ctx, id, sel)
	if err != nil {
		if errors.Is(err, ErrTransport) {
			c.degrade(ctx, err)
			exec = c.local
			results, err = exec.Analyze(ctx, id, sel)
		}
		if err != nil {
			c.logger.Error("analysis dispatch failed", slog.Uint64("request_id", id), slog.Any("error", err))
			metrics.ObserveAnalysis(time.Since(start), metrics.OutcomeError, exec.Mode())
			return id
		}
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		res, ok := <-results
		if !ok {
			res = Result{ID: id, Err: ErrTransport}
		}
		c.apply(ctx, res, sel, exec.Mode(), start)
	}()
	return id
}

func (c *Coordinator) apply(ctx context.Context, res Result, sel store.Selection, mode string, start time.Time) {
	if res.Err != nil && errors.Is(res.Err, ErrTransport) {
		c.degrade(ctx, res.Err)
		if c.currentID() == res.ID {
			if rerun, err := c.local.Analyze(ctx, res.ID, sel); err == nil {
				if r, ok := <-rerun; ok {
					res = r
					mode = c.local.Mode()
				}
			}
		}
	}

	duration := time.Since(start)

	c.mu.Lock()
	if res.ID != c.requestID {
		c.mu.Unlock()
		// A later request superseded this one; its answer is stale.
		metrics.ObserveAnalysis(duration, metrics.OutcomeStale, mode)
		return
	}
	if res.Err != nil {
		c.mu.Unlock()
		c.logger.Error("analysis failed", slog.Uint64("request_id", res.ID), slog.Any("error", res.Err))
		metrics.ObserveAnalysis(duration, metrics.OutcomeError, mode)
		return
	}
	c.issues = res.Issues
	fn := c.onResult
	c.mu.Unlock()

	c.latencies.Observe(duration)
	metrics.ObserveAnalysis(duration, metrics.OutcomeSuccess, mode)
	severities := make([]string, len(res.Issues))
	for i, issue := range res.Issues {
		severities[i] = string(issue.Type)
	}
	metrics.CountIssues(severities)
	if count := c.latencies.Count(); count >= 20 && count%20 == 0 {
		c.logger.Info("analysis latency",
			slog.Duration("p95", c.latencies.Percentile(95)),
			slog.Int("samples", count))
	}

	if fn != nil {
		fn(res.ID, res.Issues)
	}
}

// degrade switches permanently to the synchronous in-process path. The
// stored document is replayed onto the local executor so the next analysis
// has input to work with. There is no recovery back to the worker.
func (c *Coordinator) degrade(ctx context.Context, cause error) {
	c.mu.Lock()
	if c.degraded {
		c.mu.Unlock()
		return
	}
	c.degraded = true
	doc := c.doc
	c.mu.Unlock()

	c.logger.Warn("analysis worker unavailable, falling back to synchronous execution",
		slog.Any("error", cause))
	if doc != nil {
		if err := c.local.SetDocument(ctx, 0, doc); err != nil {
			c.logger.Error("local executor rejected document", slog.Any("error", err))
		}
	}
}

func (c *Coordinator) nextID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestID++
	return c.requestID
}

func (c *Coordinator) currentID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestID
}

func (c *Coordinator) executor() Executor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.degraded || c.remote == nil {
		return c.local
	}
	return c.remote
}
