package analysis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rtcstack/rtc-triage/internal/models"
	"github.com/rtcstack/rtc-triage/internal/rules"
	"github.com/rtcstack/rtc-triage/internal/store"
)

// fakeExecutor hands out result channels keyed by request id so tests
// control delivery order.
type fakeExecutor struct {
	mu       sync.Mutex
	channels map[uint64]chan Result
	setErr   error
	dispatch error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{channels: make(map[uint64]chan Result)}
}

func (f *fakeExecutor) Mode() string { return "worker" }

func (f *fakeExecutor) Parse(_ context.Context, _ uint64, text []byte) (*models.LogDocument, error) {
	return models.ParseDocument(text)
}

func (f *fakeExecutor) SetDocument(context.Context, uint64, *models.LogDocument) error {
	return f.setErr
}

func (f *fakeExecutor) Analyze(_ context.Context, id uint64, _ store.Selection) (<-chan Result, error) {
	if f.dispatch != nil {
		return nil, f.dispatch
	}
	ch := make(chan Result, 1)
	f.mu.Lock()
	f.channels[id] = ch
	f.mu.Unlock()
	return ch, nil
}

func (f *fakeExecutor) deliver(t *testing.T, id uint64, res Result) {
	t.Helper()
	f.mu.Lock()
	ch, ok := f.channels[id]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no dispatch recorded for request %d", id)
	}
	ch <- res
	close(ch)
}

func testRegistry() []rules.Rule {
	return rules.DefaultRegistry(rules.DefaultThresholds())
}

func fallbackDoc(t *testing.T) *models.LogDocument {
	t.Helper()
	doc, err := models.ParseDocument([]byte(`{
		"snapshots": {"2024-03-01T09:05:00Z": {"fallback": true}}
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestCoordinatorDiscardsStaleResult(t *testing.T) {
	remote := newFakeExecutor()
	coord := NewCoordinator(nil, remote, NewLocalExecutor(nil, nil))

	ctx := context.Background()
	idA := coord.Analyze(ctx, store.Selection{})
	idB := coord.Analyze(ctx, store.Selection{})
	if idB <= idA {
		t.Fatalf("request ids must increase: %d then %d", idA, idB)
	}

	issuesB := []models.Issue{{ID: "b", Title: "current"}}
	remote.deliver(t, idB, Result{ID: idB, Issues: issuesB})

	// The older answer arrives after the newer one and must be dropped.
	issuesA := []models.Issue{{ID: "a", Title: "stale"}}
	remote.deliver(t, idA, Result{ID: idA, Issues: issuesA})
	coord.Wait()

	got := coord.Issues()
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("stale result applied: %+v", got)
	}
}

func TestCoordinatorOnResultSkipsStale(t *testing.T) {
	remote := newFakeExecutor()
	coord := NewCoordinator(nil, remote, NewLocalExecutor(nil, nil))

	var mu sync.Mutex
	var notified []uint64
	coord.OnResult(func(id uint64, _ []models.Issue) {
		mu.Lock()
		notified = append(notified, id)
		mu.Unlock()
	})

	ctx := context.Background()
	idA := coord.Analyze(ctx, store.Selection{})
	idB := coord.Analyze(ctx, store.Selection{})
	remote.deliver(t, idB, Result{ID: idB})
	remote.deliver(t, idA, Result{ID: idA})
	coord.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 1 || notified[0] != idB {
		t.Fatalf("consumer notified for stale results: %v", notified)
	}
}

func TestCoordinatorDegradesOnDispatchFailure(t *testing.T) {
	remote := newFakeExecutor()
	remote.dispatch = ErrTransport
	local := NewLocalExecutor(nil, testRegistry())
	coord := NewCoordinator(nil, remote, local)

	ctx := context.Background()
	if err := coord.SetDocument(ctx, fallbackDoc(t)); err != nil {
		t.Fatalf("set document: %v", err)
	}
	coord.Analyze(ctx, store.Selection{})
	coord.Wait()

	if !coord.Degraded() {
		t.Fatal("transport failure must degrade the coordinator")
	}
	issues := coord.Issues()
	if len(issues) == 0 || issues[0].RuleID != "fallback_mode" {
		t.Fatalf("local fallback did not produce issues: %+v", issues)
	}
}

func TestCoordinatorDegradesOnResponseTransportError(t *testing.T) {
	remote := newFakeExecutor()
	local := NewLocalExecutor(nil, testRegistry())
	coord := NewCoordinator(nil, remote, local)

	ctx := context.Background()
	if err := coord.SetDocument(ctx, fallbackDoc(t)); err != nil {
		t.Fatalf("set document: %v", err)
	}
	id := coord.Analyze(ctx, store.Selection{})
	remote.deliver(t, id, Result{ID: id, Err: ErrTransport})
	coord.Wait()

	if !coord.Degraded() {
		t.Fatal("transport error in response must degrade the coordinator")
	}
	issues := coord.Issues()
	if len(issues) == 0 || issues[0].RuleID != "fallback_mode" {
		t.Fatalf("rerun on local executor missing: %+v", issues)
	}
}

func TestCoordinatorDegradationIsPermanent(t *testing.T) {
	remote := newFakeExecutor()
	remote.dispatch = ErrTransport
	local := NewLocalExecutor(nil, testRegistry())
	coord := NewCoordinator(nil, remote, local)

	ctx := context.Background()
	if err := coord.SetDocument(ctx, fallbackDoc(t)); err != nil {
		t.Fatalf("set document: %v", err)
	}
	coord.Analyze(ctx, store.Selection{})
	coord.Wait()

	// The transport is healthy again, but the coordinator must not go back.
	remote.dispatch = nil
	coord.Analyze(ctx, store.Selection{})
	coord.Wait()

	remote.mu.Lock()
	dispatched := len(remote.channels)
	remote.mu.Unlock()
	if dispatched != 0 {
		t.Fatalf("degraded coordinator dispatched %d requests to the worker", dispatched)
	}
	if len(coord.Issues()) == 0 {
		t.Fatal("second analysis should still run locally")
	}
}

func TestCoordinatorNilRemoteStartsDegraded(t *testing.T) {
	local := NewLocalExecutor(nil, testRegistry())
	coord := NewCoordinator(nil, nil, local)
	if !coord.Degraded() {
		t.Fatal("nil remote must start degraded")
	}

	ctx := context.Background()
	if err := coord.SetDocument(ctx, fallbackDoc(t)); err != nil {
		t.Fatalf("set document: %v", err)
	}
	coord.Analyze(ctx, store.Selection{})
	coord.Wait()
	if len(coord.Issues()) == 0 {
		t.Fatal("local-only coordinator produced no issues")
	}
}

func TestCoordinatorSetDocumentResetsIssues(t *testing.T) {
	remote := newFakeExecutor()
	coord := NewCoordinator(nil, remote, NewLocalExecutor(nil, nil))

	ctx := context.Background()
	id := coord.Analyze(ctx, store.Selection{})
	remote.deliver(t, id, Result{ID: id, Issues: []models.Issue{{ID: "x"}}})
	coord.Wait()
	if len(coord.Issues()) != 1 {
		t.Fatal("setup analysis not applied")
	}

	if err := coord.SetDocument(ctx, fallbackDoc(t)); err != nil {
		t.Fatalf("set document: %v", err)
	}
	if len(coord.Issues()) != 0 {
		t.Fatal("loading a new document must clear stale issues")
	}
}

func TestLocalExecutorAnalyzeWithoutDocument(t *testing.T) {
	local := NewLocalExecutor(nil, testRegistry())
	results, err := local.Analyze(context.Background(), 1, store.Selection{})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	select {
	case res := <-results:
		if res.Err == nil {
			t.Fatal("expected error analyzing before any document is set")
		}
	case <-time.After(time.Second):
		t.Fatal("local executor did not answer")
	}
}
