package app

import (
	"net/http"

	"cord/platform/internal/providers"
	"cord/platform/internal/rbac"
)

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, parts []string) {
	caller, ok := s.projectCaller(w, r)
	if !ok || !s.require(w, caller, rbac.ActionManage) {
		return
	}

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			projects, err := s.service.ListProjects(r.Context(), caller)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, projects)
		case http.MethodPost:
			var body ProjectInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
				return
			}
			project, err := s.service.CreateProject(r.Context(), caller, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, project)
		default:
			methodNotAllowed(w)
		}
		return
	}
	if len(parts) != 1 {
		notFoundRoute(w)
		return
	}

	projectID := parts[0]
	switch r.Method {
	case http.MethodGet:
		project, err := s.service.GetProject(r.Context(), caller, projectID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
	case http.MethodPut:
		var body ProjectInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		project, err := s.service.UpdateProject(r.Context(), caller, projectID, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
	case http.MethodDelete:
		if err := s.service.DeleteProject(r.Context(), caller, projectID); err != nil {
			s.fail(w, err)
			return
		}
		writeSuccess(w, "Project "+projectID+" deleted")
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleConsole(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 1 || r.Method != http.MethodPost {
		notFoundRoute(w)
		return
	}
	switch parts[0] {
	case "signup":
		var body ConsoleSignUpInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		user, err := s.service.ConsoleSignUp(r.Context(), body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, user)
	case "signin":
		var body ConsoleSignInInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		session, err := s.service.ConsoleSignIn(r.Context(), body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	case "password":
		var body ConsolePasswordInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		if err := s.service.ConsoleChangePassword(r.Context(), body); err != nil {
			s.fail(w, err)
			return
		}
		writeSuccess(w, "Password changed")
	case "signout":
		caller, ok := s.projectCaller(w, r)
		if !ok {
			return
		}
		if err := s.service.ConsoleSignOut(r.Context(), caller, bearerToken(r)); err != nil {
			s.fail(w, err)
			return
		}
		writeSuccess(w, "Signed out")
	default:
		notFoundRoute(w)
	}
}

func (s *HTTPServer) handleProviders(w http.ResponseWriter, r *http.Request, parts []string) {
	caller, ok := s.serverCaller(w, r)
	if !ok || !s.require(w, caller, rbac.ActionAdmin) {
		return
	}
	if len(parts) == 0 {
		notFoundRoute(w)
		return
	}

	if parts[0] == "match" && len(parts) == 1 {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body ProviderMatchInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		match, err := s.service.MatchProviders(r.Context(), caller, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, match)
		return
	}

	providerID := parts[0]
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		provider, err := s.service.GetProvider(r.Context(), caller, providerID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, provider)
	case len(parts) == 1 && r.Method == http.MethodPut:
		var body providers.Provider
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		provider, err := s.service.PutProvider(r.Context(), caller, providerID, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, provider)
	case len(parts) == 2 && parts[1] == "publish" && r.Method == http.MethodPost:
		var body PublishProviderInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		result, err := s.service.PublishProvider(r.Context(), caller, providerID, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case len(parts) == 2 && parts[1] == "history" && r.Method == http.MethodGet:
		limit, err := queryInt(r, "limit")
		if err != nil {
			s.fail(w, err)
			return
		}
		commits, err := s.service.ProviderHistory(r.Context(), caller, providerID, limit)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, commits)
	default:
		notFoundRoute(w)
	}
}
