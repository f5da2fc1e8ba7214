package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"civicdesk/api/internal/identity"
	"civicdesk/api/internal/photos"
	"civicdesk/api/internal/search"
	"civicdesk/api/internal/store"
)

// feedSource hands out change-feed subscriptions for SSE connections.
type feedSource interface {
	Subscribe() (<-chan struct{}, func())
}

type HTTPServer struct {
	service        *Service
	feed           feedSource
	photos         *photos.Service
	identitySecret []byte
	corsOrigin     string
	logger         *zap.Logger
}

// NewHTTPServer builds the HTTP edge. photoService may be nil when photo
// uploads are not configured.
func NewHTTPServer(service *Service, feed feedSource, photoService *photos.Service, identitySecret, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{
		service:        service,
		feed:           feed,
		photos:         photoService,
		identitySecret: []byte(identitySecret),
		corsOrigin:     corsOrigin,
		logger:         logger,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	caller, ok := s.callerIdentity(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/photos/upload-url" {
		s.handlePhotoUploadURL(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/requests/feed" {
		s.handleFeed(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/requests/search" {
		s.handleSearch(w, r, caller)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/requests" {
		var input SubmitInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		record, err := s.service.Submit(r.Context(), caller, input)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, requestJSON(record))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/requests" {
		items, err := s.service.List(r.Context(), caller)
		if err != nil {
			respondError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(items))
		for _, item := range items {
			payload = append(payload, requestJSON(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"requests": payload})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "requests" {
		requestID := parts[2]

		if len(parts) == 3 {
			switch r.Method {
			case http.MethodGet:
				record, err := s.service.Get(r.Context(), caller, requestID)
				if err != nil {
					respondError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, requestJSON(record))
				return
			case http.MethodDelete:
				if err := s.service.Delete(r.Context(), caller, requestID); err != nil {
					respondError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"ok": true})
				return
			}
		}

		if len(parts) == 4 && r.Method == http.MethodPatch {
			switch parts[3] {
			case "status":
				var body struct {
					Status string `json:"status"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				record, err := s.service.UpdateStatus(r.Context(), caller, requestID, body.Status)
				if err != nil {
					respondError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, requestJSON(record))
				return
			case "priority":
				var body struct {
					Priority string `json:"priority"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				record, err := s.service.UpdatePriority(r.Context(), caller, requestID, body.Priority)
				if err != nil {
					respondError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, requestJSON(record))
				return
			case "notes":
				var body struct {
					Notes string `json:"notes"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				record, err := s.service.UpdateNotes(r.Context(), caller, requestID, body.Notes)
				if err != nil {
					respondError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, requestJSON(record))
				return
			}
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// callerIdentity resolves the per-call identity. A missing bearer token means
// an anonymous caller; a present but invalid one is rejected.
func (s *HTTPServer) callerIdentity(w http.ResponseWriter, r *http.Request) (identity.Identity, bool) {
	token := bearerToken(r)
	if token == "" {
		return identity.Anonymous(), true
	}
	caller, err := identity.FromToken(s.identitySecret, token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return identity.Identity{}, false
	}
	return caller, true
}

// handleFeed streams payload-free refresh signals over SSE. One signal is
// sent immediately so the client primes its projection without racing the
// subscription.
func (s *HTTPServer) handleFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Streaming unsupported", nil)
		return
	}

	signals, cancel := s.feed.Subscribe()
	defer cancel()

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeRefreshEvent(w)
	flusher.Flush()

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-signals:
			writeRefreshEvent(w)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeRefreshEvent(w http.ResponseWriter) {
	fmt.Fprint(w, "event: refresh\ndata: {}\n\n")
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, caller identity.Identity) {
	query := search.Query{
		Text:     strings.TrimSpace(r.URL.Query().Get("q")),
		Status:   strings.TrimSpace(r.URL.Query().Get("status")),
		Category: strings.TrimSpace(r.URL.Query().Get("category")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		query.Limit = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		query.Offset = parsed
	}
	response, err := s.service.Search(r.Context(), caller, query)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handlePhotoUploadURL(w http.ResponseWriter, r *http.Request) {
	if s.photos == nil {
		writeError(w, http.StatusServiceUnavailable, "PHOTOS_UNAVAILABLE", "Photo uploads not configured", nil)
		return
	}
	key, uploadURL, err := s.photos.UploadURL(r.Context())
	if err != nil {
		s.logger.Error("photos: presign failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not create upload URL", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"photoRef":  key,
		"uploadUrl": uploadURL,
	})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming working through the middleware wrapper.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func requestJSON(item store.Request) map[string]any {
	payload := map[string]any{
		"id":          item.ID,
		"title":       item.Title,
		"description": item.Description,
		"category":    item.Category,
		"location":    item.Location,
		"contactInfo": item.ContactInfo,
		"photoRef":    item.PhotoRef,
		"respondent":  item.Respondent,
		"status":      item.Status,
		"priority":    item.Priority,
		"adminNotes":  item.AdminNotes,
		"displayName": item.DisplayName,
		"submittedAt": item.SubmittedAt.UTC().Format(time.RFC3339Nano),
		"updatedAt":   item.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if item.OwnerID != "" {
		payload["ownerId"] = item.OwnerID
	}
	return payload
}

func respondError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, identity.ErrInvalidToken) || errors.Is(err, identity.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
