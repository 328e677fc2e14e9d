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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Deps are the collaborators behind the routes. Articles and Gatherer are
// optional; their routes are not registered when nil.
type Deps struct {
	Engine   QueryEngine
	Health   HealthReporter
	Articles ArticleSource
	Gatherer prometheus.Gatherer
}

// NewRouter returns a gin engine with recovery, tracing and all routes.
func NewRouter(serviceName string, deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(serviceName))
	SetupRoutes(router, deps)
	return router
}

// SetupRoutes registers the API on router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/", HandleRoot)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	{
		api.POST("/query", HandleQuery(deps.Engine))
		api.POST("/query/stream", HandleQueryStream(deps.Engine))
		api.GET("/health", HandleHealth(deps.Health))
		if deps.Articles != nil {
			api.GET("/articles", HandleArticles(deps.Articles))
		}
	}
}
