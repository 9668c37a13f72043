package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docstore/api/internal/logger"
	"docstore/api/internal/policy"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
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

	if strings.HasPrefix(r.URL.Path, "/v2/document/") {
		s.handleV2(w, r)
		return
	}

	query := r.URL.Query()
	caller := s.service.Identify(r.Context(), bearerToken(r), query.Get("runKey"))

	if r.Method == http.MethodGet && r.URL.Path == "/user/info" {
		s.handleUserInfo(w, r, caller)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/document/all" {
		items, err := s.service.All(r.Context(), caller)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/document/open" {
		result, err := s.service.Open(r.Context(), caller, addressingFromQuery(query))
		if err != nil {
			writeError(w, err)
			return
		}
		if result.WillOverwrite {
			w.Header().Set("X-Document-Will-Overwrite", "true")
		}
		if result.SeededCopy {
			w.Header().Set("X-Document-Seeded-Copy", "true")
		}
		writeContent(w, http.StatusOK, result.Content)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/document/open_original" {
		content, err := s.service.OpenOriginal(r.Context(), caller, addressingFromQuery(query))
		if err != nil {
			writeError(w, err)
			return
		}
		writeContent(w, http.StatusOK, content)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/document/save" {
		body, err := readBody(r)
		if err != nil {
			writeError(w, err)
			return
		}
		result, err := s.service.Save(r.Context(), caller, titleFromQuery(query), body)
		if err != nil {
			writeError(w, err)
			return
		}
		status := http.StatusOK
		if result.Created {
			status = http.StatusCreated
		}
		writeJSON(w, status, result)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodPost) && r.URL.Path == "/document/rename" {
		err := s.service.Rename(r.Context(), caller, addressingFromQuery(query), query.Get("newRecordname"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/document/delete" {
		if err := s.service.Delete(r.Context(), caller, addressingFromQuery(query)); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	writeError(w, errNotFound())
}

// userInfoResponse matches the legacy login-status contract the client polls.
type userInfoResponse struct {
	Valid         bool   `json:"valid"`
	SessionToken  string `json:"sessionToken,omitempty"`
	EnableLogging bool   `json:"enableLogging"`
	Privileges    int    `json:"privileges"`
	UseCookie     bool   `json:"useCookie"`
	EnableSave    bool   `json:"enableSave"`
	Username      string `json:"username,omitempty"`
	Name          string `json:"name,omitempty"`
}

func (s *HTTPServer) handleUserInfo(w http.ResponseWriter, r *http.Request, caller policy.Caller) {
	if !caller.Authenticated() {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"valid":      false,
			"enableSave": caller.CanSave(),
		})
		return
	}
	writeJSON(w, http.StatusOK, userInfoResponse{
		Valid:        true,
		SessionToken: bearerToken(r),
		EnableSave:   true,
		Username:     caller.User.Username,
		Name:         caller.User.Name,
	})
}

func addressingFromQuery(query url.Values) Addressing {
	addr := Addressing{
		Owner:  query.Get("owner"),
		Title:  titleFromQuery(query),
		RunKey: query.Get("runKey"),
	}
	if raw := query.Get("recordid"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			addr.RecordID = id
		}
	}
	return addr
}

// titleFromQuery accepts both spellings the clients have used over the years.
func titleFromQuery(query url.Values) string {
	if name := query.Get("recordname"); name != "" {
		return name
	}
	return query.Get("doc")
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errWriteFailed("Could not read request body")
	}
	return body, nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeContent emits a raw document payload.
func writeContent(w http.ResponseWriter, status int, content json.RawMessage) {
	if content == nil {
		content = json.RawMessage("null")
	}
	w.WriteHeader(status)
	_, _ = w.Write(content)
}

func writeError(w http.ResponseWriter, err error) {
	derr := mapError(err)
	payload := map[string]any{
		"valid":   false,
		"message": derr.Message,
	}
	if len(derr.Errors) > 0 {
		payload["errors"] = derr.Errors
		if derr.Message == msgWriteFailed {
			payload["status"] = "Error"
		}
	}
	writeJSON(w, derr.Status, payload)
}

func mapError(err error) *DomainError {
	var derr *DomainError
	if errors.As(err, &derr) {
		return derr
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound()
	}
	logger.Log.Error("unhandled service error", zap.Error(err))
	return &DomainError{Status: http.StatusInternalServerError, Message: msgWriteFailed}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		logger.Log.Info("request",
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

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}
