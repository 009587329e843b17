package app

import (
	"net/http"

	"cord/platform/internal/rbac"
)

// handleClient serves the browser-facing API. parts starts after
// "v1/client".
func (s *HTTPServer) handleClient(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 0 {
		notFoundRoute(w)
		return
	}
	if parts[0] == "session" && len(parts) == 1 && r.Method == http.MethodPost {
		s.handleClientSession(w, r)
		return
	}

	caller, ok := s.clientCaller(w, r)
	if !ok {
		return
	}

	switch parts[0] {
	case "session":
		if len(parts) != 1 || r.Method != http.MethodDelete {
			notFoundRoute(w)
			return
		}
		if err := s.service.RevokeClientSession(r.Context(), caller); err != nil {
			s.fail(w, err)
			return
		}
		writeSuccess(w, "Session revoked")
	case "viewer":
		viewer, err := s.service.ClientViewer(r.Context(), caller)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewer)
	case "threads":
		s.handleThreads(w, r, caller, parts[1:])
	case "thread-counts":
		q, err := threadQuery(r)
		if err != nil {
			s.fail(w, err)
			return
		}
		counts, err := s.service.ThreadCounts(r.Context(), caller, q)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, counts)
	case "messages":
		s.handleClientReactions(w, r, caller, parts[1:])
	case "notifications":
		s.handleClientNotifications(w, r, caller, parts[1:])
	case "search":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		limit, err := queryInt(r, "limit")
		if err != nil {
			s.fail(w, err)
			return
		}
		query := r.URL.Query()
		resp, err := s.service.SearchMessages(r.Context(), caller, SearchQuery{
			Text:     query.Get("q"),
			ThreadID: query.Get("threadID"),
			AuthorID: query.Get("authorID"),
			Limit:    limit,
		})
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case "files":
		s.handleClientFiles(w, r, caller, parts[1:])
	case "threadview":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body ThreadViewRequest
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		resp, err := s.service.PlanThreadView(r.Context(), caller, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case "pins":
		s.handlePins(w, r, parts[1:])
	case "events":
		if err := s.service.StreamEvents(w, r, caller); err != nil {
			s.fail(w, err)
		}
	default:
		notFoundRoute(w)
	}
}

// handleClientSession exchanges a client token for a session. The token
// comes in the body or as the bearer token.
func (s *HTTPServer) handleClientSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClientAuthToken string `json:"clientAuthToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}
	token := body.ClientAuthToken
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		s.unauthorized(w)
		return
	}
	session, err := s.service.CreateClientSession(r.Context(), token)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleClientReactions(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) {
	if len(parts) < 2 || parts[1] != "reactions" {
		notFoundRoute(w)
		return
	}
	if !s.require(w, caller, rbac.ActionComment) {
		return
	}
	messageID := parts[0]
	switch {
	case len(parts) == 2 && r.Method == http.MethodPost:
		var body struct {
			Reaction string `json:"reaction"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		msg, err := s.service.AddReaction(r.Context(), caller, messageID, body.Reaction)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	case len(parts) == 3 && r.Method == http.MethodDelete:
		msg, err := s.service.RemoveReaction(r.Context(), caller, messageID, parts[2])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	default:
		notFoundRoute(w)
	}
}

func (s *HTTPServer) handleClientNotifications(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		q, err := notificationQuery(r)
		if err != nil {
			s.fail(w, err)
			return
		}
		page, err := s.service.ListNotifications(r.Context(), caller, q)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	case len(parts) == 1 && parts[0] == "summary" && r.Method == http.MethodGet:
		summary, err := s.service.NotificationSummary(r.Context(), caller)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	case len(parts) == 1 && parts[0] == "mark-read" && r.Method == http.MethodPost:
		var body MarkReadInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		updated, err := s.service.MarkNotificationsRead(r.Context(), caller, "", body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "updated": updated})
	default:
		notFoundRoute(w)
	}
}

func (s *HTTPServer) handleClientFiles(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		var body FileInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		file, err := s.service.CreateFile(r.Context(), caller, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, file)
	case len(parts) == 1 && r.Method == http.MethodGet:
		file, err := s.service.GetFile(r.Context(), caller, parts[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, file)
	case len(parts) == 2 && parts[1] == "complete" && r.Method == http.MethodPost:
		file, err := s.service.CompleteFile(r.Context(), caller, parts[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, file)
	default:
		notFoundRoute(w)
	}
}

func (s *HTTPServer) handlePins(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 1 || r.Method != http.MethodPost {
		notFoundRoute(w)
		return
	}
	switch parts[0] {
	case "group":
		var body PinGroupRequest
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"groups": GroupPins(body)})
	case "zoom":
		var body PinZoomRequest
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		stage, err := ZoomPins(body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stage": stage})
	default:
		notFoundRoute(w)
	}
}
