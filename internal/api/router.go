package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/CanopyNet/canopy-core/internal/logger"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type contextKey string

const countryKey contextKey = "country"

func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()

	r.Use(corsMiddleware, loggingMiddleware)

	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Handle("/upload/init", h.geoMiddleware(http.HandlerFunc(h.handleInit))).Methods(http.MethodPost)
	api.HandleFunc("/sessions", h.handleSessions).Methods(http.MethodGet)
	api.HandleFunc("/history", h.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/metrics", h.handleMetrics).Methods(http.MethodGet)
	api.HandleFunc("/download/{id}/{path:.*}", h.handleDownload).Methods(http.MethodGet)
	api.HandleFunc("/archive/{id}", h.handleArchive).Methods(http.MethodGet)
	api.HandleFunc("/ws/{id}", h.handleWS).Methods(http.MethodGet)

	upload := api.PathPrefix("/upload/{id}").Subrouter()
	upload.Use(h.authMiddleware)
	upload.HandleFunc("/chunk", h.handleChunk).Methods(http.MethodPost)
	upload.HandleFunc("/complete", h.handleComplete).Methods(http.MethodPost)
	upload.HandleFunc("/pause", h.handlePause).Methods(http.MethodPost)
	upload.HandleFunc("/resume", h.handleResume).Methods(http.MethodPost)
	upload.HandleFunc("/cancel", h.handleCancel).Methods(http.MethodPost)
	upload.HandleFunc("/status", h.handleStatus).Methods(http.MethodGet)

	// Preflight requests match none of the method-scoped routes above;
	// this gives the CORS middleware a route to run on.
	r.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-File-Path, X-Chunk-Index, X-Last-Chunk")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info("request received",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
		)
		next.ServeHTTP(w, r)
	})
}

// authMiddleware requires the bearer token issued at init, scoped to
// the session in the path. Runs open when no redis client is wired.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.redis == nil {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, "Missing bearer token", http.StatusUnauthorized)
			return
		}

		sessionID, err := h.redis.Get(r.Context(), tokenKeyPrefix+token).Result()
		if err == redis.Nil {
			writeError(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}
		if err != nil {
			h.logger.Error("Token lookup failed", zap.Error(err))
			writeError(w, "Token lookup failed", http.StatusServiceUnavailable)
			return
		}
		if sessionID != mux.Vars(r)["id"] {
			writeError(w, "Token does not match session", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// geoMiddleware tags the request context with the caller's country so
// init can stamp it onto the session.
func (h *Handler) geoMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.geo != nil && h.geo.Enabled() {
			addr := r.Header.Get("X-Forwarded-For")
			if addr == "" {
				addr = r.RemoteAddr
			} else if i := strings.Index(addr, ","); i >= 0 {
				addr = strings.TrimSpace(addr[:i])
			}
			if country := h.geo.Country(addr); country != "" {
				r = r.WithContext(context.WithValue(r.Context(), countryKey, country))
			}
		}
		next.ServeHTTP(w, r)
	})
}
