package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"frostanchor.ai/internal/sim/anchors"
)

type censusSource interface {
	RequestCensus(ctx context.Context) (anchors.Census, error)
}

type routes struct {
	census    censusSource
	metrics   http.Handler
	observe   http.HandlerFunc
	bootstrap http.HandlerFunc
	control   http.HandlerFunc
}

func newRouter(rt routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	if rt.metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.metrics)
	}
	r.Get("/v1/anchors", censusHandler(rt.census))
	if rt.observe != nil {
		r.Get("/v1/observe", rt.observe)
		r.Get("/v1/observe/bootstrap", rt.bootstrap)
	}
	if rt.control != nil {
		r.Get("/v1/control", rt.control)
	}
	return r
}

func censusHandler(src censusSource) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		c, err := src.RequestCensus(ctx)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(c)
	}
}
