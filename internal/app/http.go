package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cord/platform/internal/auth"
	"cord/platform/internal/rbac"
	"cord/platform/internal/store"
)

const maxBodyBytes = 8 << 20

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
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		ready, checks := s.service.Readiness(ctx)
		status, statusCode := "ready", http.StatusOK
		if !ready {
			status, statusCode = "not_ready", http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     ready,
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "not_found", "Not found", nil)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	switch parts[1] {
	case "client":
		s.handleClient(w, r, parts[2:])
	case "projects":
		s.handleProjects(w, r, parts[2:])
	case "console":
		s.handleConsole(w, r, parts[2:])
	case "providers":
		s.handleProviders(w, r, parts[2:])
	default:
		s.handleREST(w, r, parts[1:])
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("app: %v", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) unauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid bearer token", nil)
}

// require writes 403 unless the caller may perform action.
func (s *HTTPServer) require(w http.ResponseWriter, caller Caller, action rbac.Action) bool {
	if caller.Can(action) {
		return true
	}
	writeError(w, http.StatusForbidden, "forbidden", "Forbidden", nil)
	return false
}

func (s *HTTPServer) serverCaller(w http.ResponseWriter, r *http.Request) (Caller, bool) {
	token := bearerToken(r)
	if token == "" {
		s.unauthorized(w)
		return Caller{}, false
	}
	caller, err := s.service.ServerCaller(r.Context(), token)
	if err != nil {
		s.fail(w, err)
		return Caller{}, false
	}
	return caller, true
}

func (s *HTTPServer) clientCaller(w http.ResponseWriter, r *http.Request) (Caller, bool) {
	token := bearerToken(r)
	if token == "" {
		// Browsers cannot set headers on websocket handshakes.
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		s.unauthorized(w)
		return Caller{}, false
	}
	caller, err := s.service.ClientCaller(r.Context(), token)
	if err != nil {
		s.fail(w, err)
		return Caller{}, false
	}
	return caller, true
}

func (s *HTTPServer) projectCaller(w http.ResponseWriter, r *http.Request) (Caller, bool) {
	token := bearerToken(r)
	if token == "" {
		s.unauthorized(w)
		return Caller{}, false
	}
	caller, err := s.service.ProjectCaller(r.Context(), token)
	if err != nil {
		s.fail(w, err)
		return Caller{}, false
	}
	return caller, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
}

func notFoundRoute(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not_found", "Not found", nil)
}

// threadQuery reads the JSON filter parameter and paging of a thread list.
func threadQuery(r *http.Request) (ThreadQuery, error) {
	var q ThreadQuery
	if raw := r.URL.Query().Get("filter"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return ThreadQuery{}, invalidField("filter", "filter must be a JSON object")
		}
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return ThreadQuery{}, err
	}
	q.Limit = limit
	q.Token = r.URL.Query().Get("token")
	return q, nil
}

func notificationQuery(r *http.Request) (NotificationQuery, error) {
	var q NotificationQuery
	if raw := r.URL.Query().Get("filter"); raw != "" {
		var filter struct {
			Metadata store.Metadata `json:"metadata"`
			ThreadID string         `json:"threadID"`
		}
		if err := json.Unmarshal([]byte(raw), &filter); err != nil {
			return NotificationQuery{}, invalidField("filter", "filter must be a JSON object")
		}
		q.Metadata = filter.Metadata
		q.ThreadID = filter.ThreadID
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return NotificationQuery{}, err
	}
	q.Limit = limit
	q.Token = r.URL.Query().Get("token")
	return q, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, invalidField(key, key+" must be a non-negative integer")
	}
	return value, nil
}

func queryBool(r *http.Request, key string) bool {
	value, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return value
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

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
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

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
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

func writeSuccess(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": message})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "not_found", "Not found", nil
	}
	if errors.Is(err, store.ErrConflict) {
		return http.StatusConflict, "conflict", "Resource already exists", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "unauthorized", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "server_error", "Server error", nil
}
