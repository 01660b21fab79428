package worker

import (
	"context"
	"testing"
	"time"

	"github.com/rtcstack/rtc-triage/internal/models"
	"github.com/rtcstack/rtc-triage/internal/rules"
	"github.com/rtcstack/rtc-triage/internal/store"
)

func await(t *testing.T, ch <-chan Response) Response {
	t.Helper()
	select {
	case resp := <-ch:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not answer")
		return Response{}
	}
}

func send(t *testing.T, w *Worker, req Request) Response {
	t.Helper()
	ch, err := w.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	return await(t, ch)
}

func TestWorkerParseJSON(t *testing.T) {
	w := New(nil, nil)
	defer w.Close()

	resp := send(t, w, Request{ID: 1, Type: MessageParseJSON, Text: []byte(`{"timelines": {}}`)})
	if !resp.OK || resp.ID != 1 || resp.Document == nil {
		t.Fatalf("unexpected response: %+v", resp)
	}

	resp = send(t, w, Request{ID: 2, Type: MessageParseJSON, Text: []byte(`[1,2]`)})
	if resp.OK || resp.Err == "" {
		t.Fatalf("non-object payload must fail: %+v", resp)
	}
}

func TestWorkerAnalyzeRequiresDocument(t *testing.T) {
	w := New(nil, nil)
	defer w.Close()

	resp := send(t, w, Request{ID: 1, Type: MessageAnalyzeSelection})
	if resp.OK || resp.Err != "analyze_selection: no document set" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestWorkerSetAndAnalyze(t *testing.T) {
	registry := rules.DefaultRegistry(rules.DefaultThresholds())
	w := New(nil, registry)
	defer w.Close()

	doc, err := models.ParseDocument([]byte(`{
		"snapshots": {"2024-03-01T09:05:00Z": {"fallback": true}}
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	resp := send(t, w, Request{ID: 1, Type: MessageSetLogData, Logs: doc})
	if !resp.OK {
		t.Fatalf("set_log_data failed: %s", resp.Err)
	}

	resp = send(t, w, Request{ID: 2, Type: MessageAnalyzeSelection})
	if !resp.OK || len(resp.Issues) == 0 {
		t.Fatalf("expected fallback issue: %+v", resp)
	}
	if resp.Issues[0].RuleID != "fallback_mode" {
		t.Fatalf("unexpected rule: %s", resp.Issues[0].RuleID)
	}

	// An empty non-nil selection excludes every key.
	resp = send(t, w, Request{ID: 3, Type: MessageAnalyzeSelection, Selection: store.Selection{
		Timelines: []string{},
		Snapshots: []string{},
	}})
	if !resp.OK || len(resp.Issues) != 0 {
		t.Fatalf("empty selection should yield no issues: %+v", resp)
	}
}

func TestWorkerDocumentIsCopied(t *testing.T) {
	registry := rules.DefaultRegistry(rules.DefaultThresholds())
	w := New(nil, registry)
	defer w.Close()

	doc, err := models.ParseDocument([]byte(`{
		"snapshots": {"2024-03-01T09:05:00Z": {"fallback": true}}
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp := send(t, w, Request{ID: 1, Type: MessageSetLogData, Logs: doc}); !resp.OK {
		t.Fatalf("set_log_data failed: %s", resp.Err)
	}

	// Mutating the caller's document after the handoff must not leak into
	// the worker's copy.
	delete(doc.Snapshots, "2024-03-01T09:05:00Z")

	resp := send(t, w, Request{ID: 2, Type: MessageAnalyzeSelection})
	if !resp.OK || len(resp.Issues) == 0 {
		t.Fatalf("worker lost its copied document: %+v", resp)
	}
}

func TestWorkerClosed(t *testing.T) {
	w := New(nil, nil)
	w.Close()

	if _, err := w.Send(context.Background(), Request{ID: 1, Type: MessageParseJSON}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestWorkerUnknownMessage(t *testing.T) {
	w := New(nil, nil)
	defer w.Close()

	resp := send(t, w, Request{ID: 9, Type: MessageType("bogus")})
	if resp.OK || resp.Err == "" {
		t.Fatalf("unknown type must error: %+v", resp)
	}
}
