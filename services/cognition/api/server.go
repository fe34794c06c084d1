// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package api exposes the cognition engine over HTTP: event intake,
// health, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/johanlb/scapin-sub006/services/cognition/datatypes"
	"github.com/johanlb/scapin-sub006/services/cognition/engine"
)

// Config configures the HTTP server.
type Config struct {
	// Addr is the listen address, e.g. ":8085".
	Addr string

	// ShutdownGrace bounds how long in-flight requests get to finish
	// once shutdown starts. Default: 10s.
	ShutdownGrace time.Duration
}

// Server serves the event intake API.
type Server struct {
	engine *engine.Engine
	cfg    Config
	logger *slog.Logger
	http   *http.Server
}

// NewServer wires routes and returns a server ready to Run.
func NewServer(eng *engine.Engine, cfg Config, logger *slog.Logger) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("api: engine is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8085"
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{engine: eng, cfg: cfg, logger: logger}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("scapin-cognition"))

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	v1 := router.Group("/v1")
	{
		v1.POST("/events", s.handleEvent)
		v1.POST("/events/batch", s.handleBatch)
	}

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Run serves until ctx is cancelled, then drains in-flight requests
// within the shutdown grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleEvent processes a single perceived event synchronously and
// returns the terminal analysis result.
func (s *Server) handleEvent(c *gin.Context) {
	var event datatypes.PerceivedEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("malformed event: %v", err)})
		return
	}

	result, err := s.engine.Process(c.Request.Context(), &event)
	if err != nil {
		if errors.Is(err, datatypes.ErrInvalidEvent) {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		s.logger.Error("event processing failed", "event_id", event.ID, "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal processing error"})
		return
	}
	c.JSON(http.StatusOK, result)
}

type batchRequest struct {
	Events []*datatypes.PerceivedEvent `json:"events" binding:"required"`
}

type batchItem struct {
	EventID string                    `json:"event_id"`
	Result  *datatypes.AnalysisResult `json:"result,omitempty"`
	Error   string                    `json:"error,omitempty"`
}

type batchResponse struct {
	Results []batchItem `json:"results"`
}

// handleBatch processes a set of events concurrently. Per-event
// failures are reported inline; the batch itself always returns 200
// once accepted.
func (s *Server) handleBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("malformed batch: %v", err)})
		return
	}
	if len(req.Events) == 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "batch must contain at least one event"})
		return
	}

	results := s.engine.ProcessBatch(c.Request.Context(), req.Events)
	resp := batchResponse{Results: make([]batchItem, len(results))}
	for i, r := range results {
		item := batchItem{EventID: r.EventID, Result: r.Result}
		if r.Err != nil {
			item.Error = r.Err.Error()
		}
		resp.Results[i] = item
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
