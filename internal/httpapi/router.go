// Package httpapi exposes the fleet to operators: device listing, last
// known state, and the action dispatch endpoint, plus a Prometheus
// /metrics endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spken/mower-fleet/internal/dispatch"
	"github.com/spken/mower-fleet/internal/registry"
	"github.com/spken/mower-fleet/internal/telemetry"
)

// Router holds the dependencies every handler closes over.
type Router struct {
	provider registry.Provider
	cache    telemetry.Cache
	facade   *dispatch.Facade
	logger   *slog.Logger
}

// New builds the gorilla/mux router for the operator API.
func New(provider registry.Provider, cache telemetry.Cache, facade *dispatch.Facade, logger *slog.Logger, apiKeyHash string) http.Handler {
	rt := &Router{provider: provider, cache: cache, facade: facade, logger: logger}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())

	api := r.PathPrefix("/api/v1").Subrouter()
	if apiKeyHash != "" {
		api.Use(bearerAuth(apiKeyHash))
	}
	api.HandleFunc("/devices", rt.listDevices).Methods("GET")
	api.HandleFunc("/devices/{id}/state", rt.deviceState).Methods("GET")
	api.HandleFunc("/devices/{id}/actions/{action}", rt.dispatchAction).Methods("POST")

	r.Use(loggingMiddleware(logger))
	return r
}

func (rt *Router) listDevices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	devices, err := rt.provider.ListProvisioned(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (rt *Router) deviceState(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	device, err := rt.provider.Get(ctx, deviceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if device == nil {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}

	state, err := rt.cache.GetState(ctx, deviceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if state == "" {
		state = "Unknown"
	}
	writeJSON(w, http.StatusOK, map[string]string{"device_id": deviceID, "state": state})
}

func (rt *Router) dispatchAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	deviceID, action := vars["id"], vars["action"]

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	result, err := rt.facade.DispatchAction(ctx, deviceID, action)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, dispatch.ErrDeviceNotProvisioned):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			rt.logger.Error("action dispatch failed", "device_id", deviceID, "action", action, "error", err)
			http.Error(w, err.Error(), http.StatusBadGateway)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":      result.DeviceID,
		"action":         result.Action,
		"previous_state": result.PreviousState,
		"new_state":      result.NewState,
		"ts":             result.Timestamp,
		"protocol_reply": map[string]any{
			"command": result.ProtocolReply.Command,
			"body":    result.ProtocolReply.Body,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.New().String()
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("http request", "request_id", requestID, "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
		})
	}
}
