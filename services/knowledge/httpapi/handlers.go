// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package httpapi exposes the knowledge pipeline over HTTP with gin.
package httpapi

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/cybersafe/services/knowledge/datatypes"
	"github.com/AleutianAI/cybersafe/services/knowledge/ingest"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("cybersafe.knowledge.httpapi")

const (
	// MaxQueryBytes bounds the question accepted by the query routes.
	MaxQueryBytes = 4096

	defaultArticleLimit = 10
	maxArticleLimit     = 100
	healthTimeout       = 3 * time.Second
	defaultRegion       = "UK"
)

// QueryEngine answers questions. *pipeline.Pipeline satisfies it.
type QueryEngine interface {
	Answer(ctx context.Context, req datatypes.QueryRequest) datatypes.Answer
	Stream(ctx context.Context, req datatypes.QueryRequest) iter.Seq[string]
}

// Health is the body of GET /api/health.
type Health struct {
	Status       string `json:"status"`
	RAGAvailable bool   `json:"rag_available"`
	VectorStore  string `json:"vector_store"`
	Generator    string `json:"generator"`
}

// HealthReporter probes the backends.
type HealthReporter interface {
	Health(ctx context.Context) Health
}

// ArticleSource returns up to limit article previews.
type ArticleSource func(limit int) []ingest.Article

// errorBody is the JSON body of 4xx responses.
type errorBody struct {
	Error string `json:"error"`
}

// bindQuery decodes and checks a query request, writing a 400 on failure.
func bindQuery(c *gin.Context) (datatypes.QueryRequest, bool) {
	var req datatypes.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Warn("Rejected query request", "error", err)
		c.JSON(http.StatusBadRequest, errorBody{Error: "request body must be JSON with a non-empty \"query\""})
		return req, false
	}
	if len(req.Query) > MaxQueryBytes {
		c.JSON(http.StatusBadRequest, errorBody{Error: "query is too long"})
		return req, false
	}
	if strings.TrimSpace(req.Region) == "" {
		req.Region = defaultRegion
	}
	return req, true
}

// HandleQuery serves POST /api/query.
//
// # Description
//
// Every accepted request gets a 200 with {answer, sources}. Backend faults
// surface as advisory answers with empty sources, never as 5xx.
func HandleQuery(engine QueryEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleQuery")
		defer span.End()

		req, ok := bindQuery(c)
		if !ok {
			span.SetStatus(codes.Error, "invalid request")
			return
		}
		ans := engine.Answer(ctx, req)
		span.SetAttributes(
			attribute.String("query.outcome", ans.Outcome),
			attribute.Int("response.sources_count", len(ans.Sources)),
		)
		c.JSON(http.StatusOK, ans)
	}
}

// HandleQueryStream serves POST /api/query/stream as server-sent events:
// one "message" event per fragment, then a single "done" event. A client
// that disconnects stops generation.
func HandleQueryStream(engine QueryEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleQueryStream")
		defer span.End()

		req, ok := bindQuery(c)
		if !ok {
			span.SetStatus(codes.Error, "invalid request")
			return
		}
		writer, err := newSSEWriter(c.Writer)
		if err != nil {
			span.RecordError(err)
			c.JSON(http.StatusInternalServerError, errorBody{Error: "streaming not supported"})
			return
		}
		setSSEHeaders(c.Writer)
		c.Status(http.StatusOK)

		fragments := 0
		for fragment := range engine.Stream(ctx, req) {
			if ctx.Err() != nil {
				break
			}
			if err := writer.write(EventMessage, fragment); err != nil {
				slog.Warn("Stream client went away", "error", err, "fragments", fragments)
				span.RecordError(err)
				return
			}
			fragments++
		}
		span.SetAttributes(attribute.Int("stream.fragments", fragments))
		if ctx.Err() != nil {
			return
		}
		if err := writer.write(EventDone, ""); err != nil {
			span.RecordError(err)
		}
	}
}

// HandleHealth serves GET /api/health. It answers 200 even when degraded so
// that a frontend can show which backend is missing.
func HandleHealth(reporter HealthReporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		c.JSON(http.StatusOK, reporter.Health(ctx))
	}
}

// HandleArticles serves GET /api/articles?limit=N.
func HandleArticles(source ArticleSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultArticleLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
				return
			}
			limit = min(n, maxArticleLimit)
		}
		articles := source(limit)
		if articles == nil {
			articles = []ingest.Article{}
		}
		c.JSON(http.StatusOK, gin.H{"articles": articles})
	}
}

// HandleRoot serves GET / with a service banner.
func HandleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "CyberSafe UK Cybersecurity API",
		"endpoints": []string{
			"/api/query", "/api/query/stream", "/api/articles", "/api/health", "/metrics",
		},
	})
}
