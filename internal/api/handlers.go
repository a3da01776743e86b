package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/crucibleproj/crucible/internal/auth"
	"github.com/crucibleproj/crucible/internal/scope"
	"github.com/crucibleproj/crucible/internal/task"
)

type tokenRequest struct {
	Identity string `json:"identity"`
	Key      string `json:"key"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	scopes, err := s.svc.Authenticate(r.Context(), req.Identity, req.Key)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredential) {
			writeError(w, http.StatusUnauthorized, "invalid identity or key")
			return
		}
		writeServiceError(w, err)
		return
	}

	token, err := s.auth.CreateToken(req.Identity, scopes)
	if err != nil {
		s.log.Error("token signing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(s.auth.Expiry().Seconds()),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "crucible compute api",
		"version": Version,
	})
}

func (s *Server) handleIdentityScopes(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	claims := requestClaims(r)
	// Identities can only inspect their own grants.
	if claims.Subject != identity {
		writeError(w, http.StatusForbidden, "cannot query scopes of another identity")
		return
	}

	scopes, err := s.svc.IdentityScopes(r.Context(), identity)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]string, len(scopes))
	for i, sc := range scopes {
		out[i] = sc.String()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleQueryTaskHubs(w http.ResponseWriter, r *http.Request) {
	pattern, err := scope.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope pattern")
		return
	}

	hubs, err := s.svc.QueryTaskHubs(r.Context(), pattern)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// Results are filtered to the caller's grants rather than rejected
	// outright: a wildcard query should return what the caller may see.
	claims := requestClaims(r)
	visible := hubs[:0]
	for _, h := range hubs {
		if authorizedScope(claims, h.Key.Scope) {
			visible = append(visible, h)
		}
	}

	if r.URL.Query().Get("return") == "full" {
		writeJSON(w, http.StatusOK, visible)
		return
	}
	keys := make([]string, len(visible))
	for i, h := range visible {
		keys[i] = h.Key.String()
	}
	writeJSON(w, http.StatusOK, keys)
}

type claimRequest struct {
	ComputeServiceID string `json:"compute_service_id"`
	Count            int    `json:"count"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	hubKey, err := scope.Parse(r.PathValue("taskhub"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid taskhub key")
		return
	}
	if !authorizedScope(requestClaims(r), hubKey.Scope) {
		writeError(w, http.StatusForbidden, "scope not covered by token grants")
		return
	}

	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	claimed, err := s.svc.ClaimTasks(r.Context(), hubKey, req.ComputeServiceID, req.Count)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	keys := make([]string, len(claimed))
	for i, k := range claimed {
		keys[i] = k.String()
	}
	writeJSON(w, http.StatusOK, keys)
}

// taskFromPath parses and authorizes the task key in the path. Returns a
// zero key after writing the response on failure.
func (s *Server) taskFromPath(w http.ResponseWriter, r *http.Request) (scope.ScopedKey, bool) {
	key, err := scope.Parse(r.PathValue("task"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task key")
		return scope.ScopedKey{}, false
	}
	if !authorizedScope(requestClaims(r), key.Scope) {
		writeError(w, http.StatusForbidden, "scope not covered by token grants")
		return scope.ScopedKey{}, false
	}
	return key, true
}

type statusResponse struct {
	Status  task.Status `json:"status"`
	Applied *bool       `json:"applied,omitempty"`
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	key, ok := s.taskFromPath(w, r)
	if !ok {
		return
	}
	status, err := s.svc.GetTaskStatus(r.Context(), key)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: status})
}

type setStatusRequest struct {
	Status     task.Status `json:"status"`
	RaiseError bool        `json:"raise_error"`
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	key, ok := s.taskFromPath(w, r)
	if !ok {
		return
	}
	var req setStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	applied, err := s.svc.SetTaskStatus(r.Context(), key, req.Status, req.RaiseError)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status, err := s.svc.GetTaskStatus(r.Context(), key)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: status, Applied: &applied})
}

func (s *Server) handleTransformation(w http.ResponseWriter, r *http.Request) {
	key, ok := s.taskFromPath(w, r)
	if !ok {
		return
	}
	work, err := s.svc.GetTaskTransformation(r.Context(), key)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, work)
}

type resultRequest struct {
	Result string `json:"result"`
}

type resultResponse struct {
	Result string `json:"result"`
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	key, ok := s.taskFromPath(w, r)
	if !ok {
		return
	}
	var req resultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	result, err := s.svc.SetTaskResult(r.Context(), key, req.Result)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Result: result.String()})
}
