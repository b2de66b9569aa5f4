package server

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/valyala/fastjson"

	"palaver/internal/auth"
	"palaver/internal/models"
)

type ctxKey int

const identityKey ctxKey = iota

// identityFrom returns the verified identity requireAuth stored on the
// request context.
func identityFrom(r *http.Request) models.Identity {
	id, _ := r.Context().Value(identityKey).(models.Identity)
	return id
}

// requireAuth verifies the request's bearer token and attaches the identity
// to the context. No identity, no handler.
func requireAuth(secret []byte, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := auth.Verify(secret, auth.FromRequest(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}

// requireJSON rejects bodies that are not well-formed JSON before the
// handler attempts a typed decode.
func requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if contentType := r.Header.Get("Content-Type"); contentType != "" {
			mt, _, err := mime.ParseMediaType(contentType)
			if err != nil {
				http.Error(w, "Malformed Content-Type header", http.StatusBadRequest)
				return
			}
			if mt != "application/json" {
				http.Error(w, "Content-Type header must be application/json", http.StatusUnsupportedMediaType)
				return
			}
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "Can not read request body", http.StatusBadRequest)
			return
		}
		if len(body) == 0 {
			http.Error(w, "No body provided", http.StatusBadRequest)
			return
		}
		if err := fastjson.ValidateBytes(body); err != nil {
			http.Error(w, "Malformed JSON", http.StatusBadRequest)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// logRequests logs one line per request with method, path and duration.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("[API] Request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
