package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"predictd/internal/manager"
	"predictd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Submit(payload map[string]any, prio types.Priority, timeout time.Duration) (string, error)
	StatusOf(id string) (types.RequestStatus, error)
	Cancel(id string) bool
	Stats() types.StatsResponse
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/requests", submitHandler(svc))
	r.Get("/requests/{id}", statusHandler(svc))
	r.Delete("/requests/{id}", cancelHandler(svc))
	r.Get("/stats", statsHandler(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("draining"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// submitHandler enqueues a prediction request.
//
//	@Summary	Submit a prediction request
//	@Accept		json
//	@Produce	json
//	@Param		request	body		types.SubmitRequest	true	"submission"
//	@Success	202		{object}	types.SubmitResponse
//	@Failure	400		{object}	types.ErrorResponse
//	@Failure	503		{object}	types.ErrorResponse
//	@Router		/requests [post]
func submitHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(req.Payload) == 0 {
			writeJSONError(w, http.StatusBadRequest, "payload is required")
			return
		}
		prio := types.PriorityNormal
		if req.Priority != "" {
			p, err := types.ParsePriority(req.Priority)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			prio = p
		}
		if req.TimeoutSeconds < 0 {
			writeJSONError(w, http.StatusBadRequest, "timeout_seconds must not be negative")
			return
		}

		start := time.Now()
		id, err := svc.Submit(req.Payload, prio, time.Duration(req.TimeoutSeconds)*time.Second)
		if err != nil {
			writeServiceError(w, r, err, start)
			return
		}
		if lvl := requestLogLevel(r); lvl >= LevelInfo && zlog != nil {
			z := zlog.Info().Str("request_id", id).Stringer("priority", prio)
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("http_request_id", rid)
			}
			z.Msg("request accepted")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(types.SubmitResponse{RequestID: id})
	}
}

// statusHandler reports the current snapshot of one request.
//
//	@Summary	Request status
//	@Produce	json
//	@Param		id	path		string	true	"request id"
//	@Success	200	{object}	types.RequestStatus
//	@Failure	404	{object}	types.ErrorResponse
//	@Router		/requests/{id} [get]
func statusHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		st, err := svc.StatusOf(id)
		if err != nil {
			writeServiceError(w, r, err, time.Now())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(st); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	}
}

// cancelHandler withdraws a still-pending request.
//
//	@Summary	Cancel a pending request
//	@Produce	json
//	@Param		id	path		string	true	"request id"
//	@Success	200	{object}	types.CancelResponse
//	@Failure	404	{object}	types.ErrorResponse
//	@Router		/requests/{id} [delete]
func cancelHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		canceled := svc.Cancel(id)
		if !canceled {
			// Distinguish "no such request" from "too late to cancel".
			if _, err := svc.StatusOf(id); err != nil {
				writeServiceError(w, r, err, time.Now())
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.CancelResponse{Canceled: canceled})
	}
}

// statsHandler reports combined queue and pool statistics.
//
//	@Summary	Serving statistics
//	@Produce	json
//	@Success	200	{object}	types.StatsResponse
//	@Router		/stats [get]
func statsHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Stats()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	}
}

// writeServiceError maps well-known manager errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, start time.Time) {
	status := http.StatusInternalServerError
	switch {
	case manager.IsRequestNotFound(err):
		status = http.StatusNotFound
	case manager.IsInvalidPayload(err):
		status = http.StatusBadRequest
	case manager.IsShuttingDown(err):
		status = http.StatusServiceUnavailable
	default:
		if he, ok := err.(HTTPError); ok {
			status = he.StatusCode()
		}
	}
	writeJSONError(w, status, err.Error())
	if lvl := requestLogLevel(r); lvl >= LevelError && zlog != nil {
		z := zlog.Error().Int("status", status).Dur("dur", time.Since(start))
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			z = z.Str("http_request_id", rid)
		}
		z.Err(err).Msg("request failed")
	}
}
