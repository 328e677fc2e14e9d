// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/cybersafe/services/knowledge/datatypes"
	"github.com/AleutianAI/cybersafe/services/knowledge/ingest"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Fakes
// =============================================================================

type fakeEngine struct {
	answer    datatypes.Answer
	fragments []string

	mu       sync.Mutex
	requests []datatypes.QueryRequest
	pulled   int
}

func (f *fakeEngine) record(req datatypes.QueryRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
}

func (f *fakeEngine) Answer(_ context.Context, req datatypes.QueryRequest) datatypes.Answer {
	f.record(req)
	return f.answer
}

func (f *fakeEngine) Stream(_ context.Context, req datatypes.QueryRequest) iter.Seq[string] {
	return func(yield func(string) bool) {
		f.record(req)
		for _, frag := range f.fragments {
			f.mu.Lock()
			f.pulled++
			f.mu.Unlock()
			if !yield(frag) {
				return
			}
		}
	}
}

type fakeHealth struct{ health Health }

func (f fakeHealth) Health(context.Context) Health { return f.health }

func newRouter(engine *fakeEngine, articles ArticleSource) *gin.Engine {
	return NewRouter("cybersafe-test", Deps{
		Engine:   engine,
		Health:   fakeHealth{health: Health{Status: "healthy", RAGAvailable: true, VectorStore: "ok", Generator: "ollama"}},
		Articles: articles,
		Gatherer: prometheus.NewRegistry(),
	})
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type sseEvent struct {
	name    string
	payload StreamEvent
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.payload))
		case line == "":
			if current.name != "" {
				events = append(events, current)
			}
			current = sseEvent{}
		}
	}
	return events
}

// =============================================================================
// Query
// =============================================================================

func TestHandleQuery_Answer(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{answer: datatypes.Answer{
		Text: "Report it to Action Fraud.",
		Sources: []datatypes.Source{
			{Title: "Action Fraud", URL: "https://actionfraud.police.uk", Type: "html"},
		},
		Outcome: "answered",
	}}
	w := do(newRouter(engine, nil), http.MethodPost, "/api/query", `{"query":"I was scammed","region":"UK"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"answer":"Report it to Action Fraud.","sources":[{"title":"Action Fraud","url":"https://actionfraud.police.uk","type":"html"}]}`, w.Body.String())
	require.Len(t, engine.requests, 1)
	assert.Equal(t, "I was scammed", engine.requests[0].Query)
}

func TestHandleQuery_EmptySourcesAreArray(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{answer: datatypes.Answer{Text: "Hello!", Outcome: "greeting"}}
	w := do(newRouter(engine, nil), http.MethodPost, "/api/query", `{"query":"hello"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"answer":"Hello!","sources":[]}`, w.Body.String())
	assert.Equal(t, "UK", engine.requests[0].Region, "region defaults to UK")
}

func TestHandleQuery_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `query=hello`},
		{name: "missing query", body: `{"region":"UK"}`},
		{name: "empty query", body: `{"query":""}`},
		{name: "too long", body: `{"query":"` + strings.Repeat("a", MaxQueryBytes+1) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			engine := &fakeEngine{}
			router := newRouter(engine, nil)
			for _, path := range []string{"/api/query", "/api/query/stream"} {
				w := do(router, http.MethodPost, path, tt.body)
				assert.Equal(t, http.StatusBadRequest, w.Code, path)
				assert.Contains(t, w.Body.String(), `"error"`)
			}
			assert.Empty(t, engine.requests)
		})
	}
}

// =============================================================================
// Streaming
// =============================================================================

func TestHandleQueryStream_Events(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{fragments: []string{"Forward ", "scam texts ", "to 7726."}}
	w := do(newRouter(engine, nil), http.MethodPost, "/api/query/stream", `{"query":"scam text"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	events := parseSSE(t, w.Body.String())
	require.Len(t, events, 4)
	var text strings.Builder
	for _, e := range events[:3] {
		assert.Equal(t, EventMessage, e.name)
		assert.Equal(t, EventMessage, e.payload.Type)
		assert.NotEmpty(t, e.payload.ID)
		text.WriteString(e.payload.Content)
	}
	assert.Equal(t, "Forward scam texts to 7726.", text.String())
	assert.Equal(t, EventDone, events[3].name)
}

func TestHandleQueryStream_ClientGone(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{fragments: []string{"a", "b", "c"}}
	router := newRouter(engine, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/query/stream", strings.NewReader(`{"query":"q"}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.NotContains(t, w.Body.String(), "event: done")
	assert.LessOrEqual(t, engine.pulled, 1)
}

// =============================================================================
// Health, articles, root, metrics
// =============================================================================

func TestHandleHealth(t *testing.T) {
	t.Parallel()
	w := do(newRouter(&fakeEngine{}, nil), http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","rag_available":true,"vector_store":"ok","generator":"ollama"}`, w.Body.String())
}

func TestHandleArticles(t *testing.T) {
	t.Parallel()
	var gotLimit int
	source := func(limit int) []ingest.Article {
		gotLimit = limit
		return []ingest.Article{{URL: "https://ncsc.gov.uk/a", Title: "A", Category: "Malware", Type: "html"}}
	}
	router := newRouter(&fakeEngine{}, source)

	w := do(router, http.MethodGet, "/api/articles", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultArticleLimit, gotLimit)
	assert.Contains(t, w.Body.String(), `"articles":[`)
	assert.Contains(t, w.Body.String(), `"category":"Malware"`)

	do(router, http.MethodGet, "/api/articles?limit=500", "")
	assert.Equal(t, maxArticleLimit, gotLimit)

	w = do(router, http.MethodGet, "/api/articles?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleArticles_NilBecomesEmptyArray(t *testing.T) {
	t.Parallel()
	router := newRouter(&fakeEngine{}, func(int) []ingest.Article { return nil })
	w := do(router, http.MethodGet, "/api/articles", "")
	assert.JSONEq(t, `{"articles":[]}`, w.Body.String())
}

func TestArticlesRouteOptional(t *testing.T) {
	t.Parallel()
	w := do(newRouter(&fakeEngine{}, nil), http.MethodGet, "/api/articles", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRootAndMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "cybersafe_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()
	router := NewRouter("cybersafe-test", Deps{Engine: &fakeEngine{}, Health: fakeHealth{}, Gatherer: reg})

	w := do(router, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"online"`)

	w = do(router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cybersafe_test_total 1")
}
