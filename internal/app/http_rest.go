package app

import (
	"net/http"
	"strconv"

	"cord/platform/internal/rbac"
)

// handleREST serves the server-token API. parts starts after "v1".
func (s *HTTPServer) handleREST(w http.ResponseWriter, r *http.Request, parts []string) {
	caller, ok := s.serverCaller(w, r)
	if !ok {
		return
	}

	switch parts[0] {
	case "users":
		s.handleUsers(w, r, caller, parts[1:])
	case "groups":
		s.handleGroups(w, r, caller, parts[1:])
	case "threads":
		s.handleThreads(w, r, caller, parts[1:])
	case "notifications":
		s.handleNotifications(w, r, caller, parts[1:])
	case "webhooks":
		s.handleWebhooks(w, r, caller, parts[1:])
	case "batch":
		if len(parts) != 1 || r.Method != http.MethodPost {
			notFoundRoute(w)
			return
		}
		if !s.require(w, caller, rbac.ActionWrite) {
			return
		}
		var body BatchInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		counts, err := s.service.Batch(r.Context(), caller, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "counts": counts})
	default:
		notFoundRoute(w)
	}
}

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) {
	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		limit, err := queryInt(r, "limit")
		if err != nil {
			s.fail(w, err)
			return
		}
		page, err := s.service.ListUsers(r.Context(), caller, limit, r.URL.Query().Get("token"))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
		return
	}

	userID := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			user, err := s.service.GetUser(r.Context(), caller, userID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, user)
		case http.MethodPut:
			if !s.require(w, caller, rbac.ActionWrite) {
				return
			}
			var body UserInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
				return
			}
			if _, err := s.service.UpsertUser(r.Context(), caller, userID, body); err != nil {
				s.fail(w, err)
				return
			}
			writeSuccess(w, "User "+userID+" updated")
		case http.MethodDelete:
			if !s.require(w, caller, rbac.ActionAdmin) {
				return
			}
			if err := s.service.DeleteUser(r.Context(), caller, userID); err != nil {
				s.fail(w, err)
				return
			}
			writeSuccess(w, "User "+userID+" deleted")
		default:
			methodNotAllowed(w)
		}
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "notifications" && r.Method == http.MethodGet:
		q, err := notificationQuery(r)
		if err != nil {
			s.fail(w, err)
			return
		}
		q.UserID = userID
		page, err := s.service.ListNotifications(r.Context(), caller, q)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	case len(parts) == 3 && parts[1] == "notifications" && parts[2] == "mark-read" && r.Method == http.MethodPost:
		var body MarkReadInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		updated, err := s.service.MarkNotificationsRead(r.Context(), caller, userID, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "updated": updated})
	case len(parts) == 2 && parts[1] == "connections" && r.Method == http.MethodGet:
		connections, err := s.service.ListConnections(r.Context(), caller, userID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, connections)
	case len(parts) == 2 && parts[1] == "connections" && r.Method == http.MethodPut:
		if !s.require(w, caller, rbac.ActionWrite) {
			return
		}
		var body ConnectionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		if err := s.service.SetConnection(r.Context(), caller, userID, body); err != nil {
			s.fail(w, err)
			return
		}
		writeSuccess(w, "Connection updated")
	default:
		notFoundRoute(w)
	}
}

func (s *HTTPServer) handleGroups(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) {
	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		groups, err := s.service.ListGroups(r.Context(), caller)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, groups)
		return
	}

	groupID := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			group, err := s.service.GetGroup(r.Context(), caller, groupID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, group)
		case http.MethodPut:
			if !s.require(w, caller, rbac.ActionWrite) {
				return
			}
			var body GroupInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
				return
			}
			if _, err := s.service.UpsertGroup(r.Context(), caller, groupID, body); err != nil {
				s.fail(w, err)
				return
			}
			writeSuccess(w, "Group "+groupID+" updated")
		case http.MethodDelete:
			if !s.require(w, caller, rbac.ActionAdmin) {
				return
			}
			if err := s.service.DeleteGroup(r.Context(), caller, groupID); err != nil {
				s.fail(w, err)
				return
			}
			writeSuccess(w, "Group "+groupID+" deleted")
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(parts) != 2 || parts[1] != "members" {
		notFoundRoute(w)
		return
	}
	switch r.Method {
	case http.MethodGet:
		members, err := s.service.ListGroupMembers(r.Context(), caller, groupID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, members)
	case http.MethodPost:
		if !s.require(w, caller, rbac.ActionWrite) {
			return
		}
		var body MembersInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		if err := s.service.UpdateGroupMembers(r.Context(), caller, groupID, body); err != nil {
			s.fail(w, err)
			return
		}
		writeSuccess(w, "Group "+groupID+" members updated")
	default:
		methodNotAllowed(w)
	}
}

// handleThreads serves threads and their messages for both server and
// client callers.
func (s *HTTPServer) handleThreads(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) {
	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		q, err := threadQuery(r)
		if err != nil {
			s.fail(w, err)
			return
		}
		page, err := s.service.ListThreads(r.Context(), caller, q)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
		return
	}

	threadID := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			thread, err := s.service.GetThread(r.Context(), caller, threadID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, thread)
		case http.MethodPut:
			if caller.Role == rbac.RoleClient {
				var body ClientThreadUpdate
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
					return
				}
				thread, err := s.service.UpdateClientThread(r.Context(), caller, threadID, body)
				if err != nil {
					s.fail(w, err)
					return
				}
				writeJSON(w, http.StatusOK, thread)
				return
			}
			if !s.require(w, caller, rbac.ActionWrite) {
				return
			}
			var body ThreadUpdate
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
				return
			}
			if _, err := s.service.UpdateThread(r.Context(), caller, threadID, body); err != nil {
				s.fail(w, err)
				return
			}
			writeSuccess(w, "Thread "+threadID+" updated")
		case http.MethodDelete:
			if !s.require(w, caller, rbac.ActionAdmin) {
				return
			}
			if err := s.service.DeleteThread(r.Context(), caller, threadID); err != nil {
				s.fail(w, err)
				return
			}
			writeSuccess(w, "Thread "+threadID+" deleted")
		default:
			methodNotAllowed(w)
		}
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "export" && r.Method == http.MethodGet:
		result, err := s.service.ExportThread(r.Context(), caller, threadID, r.URL.Query().Get("format"))
		if err != nil {
			s.fail(w, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
	case len(parts) == 2 && parts[1] == "messages":
		s.handleThreadMessages(w, r, caller, threadID)
	case len(parts) == 3 && parts[1] == "messages":
		s.handleThreadMessage(w, r, caller, threadID, parts[2])
	default:
		notFoundRoute(w)
	}
}

func (s *HTTPServer) handleThreadMessages(w http.ResponseWriter, r *http.Request, caller Caller, threadID string) {
	switch r.Method {
	case http.MethodGet:
		messages, err := s.service.ListMessages(r.Context(), caller, threadID, queryBool(r, "includeDeleted"))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, messages)
	case http.MethodPost:
		if !s.require(w, caller, rbac.ActionComment) {
			return
		}
		var body MessageInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		msg, err := s.service.CreateMessage(r.Context(), caller, threadID, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Message " + msg.ID + " created", "messageID": msg.ID, "threadID": threadID})
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleThreadMessage(w http.ResponseWriter, r *http.Request, caller Caller, threadID, messageID string) {
	switch r.Method {
	case http.MethodGet:
		msg, err := s.service.GetMessage(r.Context(), caller, threadID, messageID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	case http.MethodPut:
		if !s.require(w, caller, rbac.ActionComment) {
			return
		}
		var body MessageUpdate
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		msg, err := s.service.UpdateMessage(r.Context(), caller, threadID, messageID, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	case http.MethodDelete:
		if !s.require(w, caller, rbac.ActionComment) {
			return
		}
		if err := s.service.DeleteMessage(r.Context(), caller, threadID, messageID); err != nil {
			s.fail(w, err)
			return
		}
		writeSuccess(w, "Message "+messageID+" deleted")
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		if !s.require(w, caller, rbac.ActionWrite) {
			return
		}
		var body ExternalNotificationInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		n, err := s.service.CreateExternalNotification(r.Context(), caller, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Notification created", "id": n.ID})
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if !s.require(w, caller, rbac.ActionWrite) {
			return
		}
		if err := s.service.DeleteNotification(r.Context(), caller, parts[0]); err != nil {
			s.fail(w, err)
			return
		}
		writeSuccess(w, "Notification "+parts[0]+" deleted")
	default:
		notFoundRoute(w)
	}
}

func (s *HTTPServer) handleWebhooks(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) {
	if !s.require(w, caller, rbac.ActionAdmin) {
		return
	}
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		hooks, err := s.service.ListWebhooks(r.Context(), caller)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, hooks)
	case len(parts) == 0 && r.Method == http.MethodPost:
		var body WebhookInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		hook, err := s.service.AddWebhook(r.Context(), caller, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, hook)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteWebhook(r.Context(), caller, parts[0]); err != nil {
			s.fail(w, err)
			return
		}
		writeSuccess(w, "Webhook deleted")
	default:
		notFoundRoute(w)
	}
}
