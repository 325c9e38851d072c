/*
Copyright 2026 Warpgate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package webproxy

import (
	"encoding/json"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/warpgate-bastion/warpgate/lib/auth"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

// registerGatewayRoutes wires the `/@warpgate/api/...` HTTP API surface of
// spec.md section 6. SSO, profile-management, and the full admin REST tree
// are out of scope for this pass; see DESIGN.md.
func (s *Server) registerGatewayRoutes() {
	s.router.POST(gatewayPrefix+"/api/auth/login", s.handleLogin)
	s.router.POST(gatewayPrefix+"/api/auth/otp", s.handleOTP)
	s.router.POST(gatewayPrefix+"/api/auth/logout", s.handleLogout)
	s.router.GET(gatewayPrefix+"/api/auth/state/:id", s.handleGetAuthState)
	s.router.POST(gatewayPrefix+"/api/auth/state/:id/approve", s.handleApprove)
	s.router.POST(gatewayPrefix+"/api/auth/state/:id/reject", s.handleReject)
	s.router.GET(gatewayPrefix+"/api/info", s.handleInfo)
	s.router.GET(gatewayPrefix+"/api/targets", s.handleListTargets)
	s.router.GET(gatewayPrefix+"/api/sessions/:id/tail", s.handleTailSession)
}

type apiAuthState string

// Mirrors spec.md section 8 scenario 2's `{state: "OtpNeeded"}` body shape.
const (
	apiAuthStateOTPNeeded     apiAuthState = "OtpNeeded"
	apiAuthStateApprovalNeeded apiAuthState = "WebApprovalNeeded"
	apiAuthStateFailed        apiAuthState = "Failed"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type otpRequest struct {
	OTP string `json:"otp"`
}

type authStateResponse struct {
	State apiAuthState `json:"state"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func needMoreState(needMore []types.CredentialKind) apiAuthState {
	for _, k := range needMore {
		if k == types.CredentialOTP {
			return apiAuthStateOTPNeeded
		}
		if k == types.CredentialWebApproval {
			return apiAuthStateApprovalNeeded
		}
	}
	return apiAuthStateFailed
}

// handleLogin implements `POST /api/auth/login` (spec.md section 6): on
// success it sets the session cookie and returns 201; on an incomplete or
// failed attempt it returns 401 with the ApiAuthState.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, authStateResponse{State: apiAuthStateFailed})
		return
	}
	ctx := r.Context()
	clientIP := clientIPFromRequest(r)

	begun, err := s.cfg.Auth.Begin(ctx, req.Username, types.ProtocolHTTP, clientIP)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, authStateResponse{State: apiAuthStateFailed})
		return
	}
	result, err := s.cfg.Auth.SubmitPassword(ctx, begun.Attempt, req.Password)
	s.respondToAuthResult(w, result, err)
}

// handleOTP implements `POST /api/auth/otp`, continuing the attempt parked
// by the pending-attempt cookie handleLogin set.
func (s *Server) handleOTP(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	attemptID, err := s.pendingAttemptID(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, authStateResponse{State: apiAuthStateFailed})
		return
	}
	var req otpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, authStateResponse{State: apiAuthStateFailed})
		return
	}
	ctx := r.Context()
	attempt, err := s.cfg.Services.GetAuthAttempt(ctx, attemptID)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, authStateResponse{State: apiAuthStateFailed})
		return
	}
	result, err := s.cfg.Auth.SubmitOTP(ctx, attempt, req.OTP)
	s.respondToAuthResult(w, result, err)
}

func (s *Server) respondToAuthResult(w http.ResponseWriter, result *auth.Result, err error) {
	if err != nil || result == nil {
		writeJSON(w, http.StatusUnauthorized, authStateResponse{State: apiAuthStateFailed})
		return
	}
	if result.Success {
		s.issueSessionCookie(w, result.User.ID)
		w.WriteHeader(http.StatusCreated)
		return
	}
	if len(result.NeedMore) > 0 {
		s.issuePendingCookie(w, result.Attempt.ID)
		writeJSON(w, http.StatusUnauthorized, authStateResponse{State: needMoreState(result.NeedMore)})
		return
	}
	writeJSON(w, http.StatusUnauthorized, authStateResponse{State: apiAuthStateFailed})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	clearCookie(w, sessionCookieName)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetAuthState(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	attempt, err := s.cfg.Services.GetAuthAttempt(r.Context(), ps.ByName("id"))
	if err != nil {
		writeJSON(w, errorStatus(err), map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

// handleApprove and handleReject implement the admin side of the
// web-approval flow (spec.md section 8 scenario 5), delivering a decision
// through the Authentication Pipeline's shared ApprovalRegistry.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.resolveApproval(w, r, ps.ByName("id"), auth.ApprovalApproved)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.resolveApproval(w, r, ps.ByName("id"), auth.ApprovalRejected)
}

func (s *Server) resolveApproval(w http.ResponseWriter, r *http.Request, attemptID string, decision auth.ApprovalDecision) {
	if _, err := s.requireAdmin(r); err != nil {
		writeJSON(w, errorStatus(err), map[string]string{"error": "unauthorized"})
		return
	}
	if err := s.cfg.Auth.Approvals().Resolve(attemptID, decision); err != nil {
		writeJSON(w, errorStatus(err), map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	username := ""
	if userID, err := s.verifySessionCookie(r); err == nil {
		if user, err := s.cfg.Services.GetUser(r.Context(), userID); err == nil {
			username = user.Name
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"username": username,
		"ports":    s.cfg.ProtocolPorts,
	})
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID, err := s.verifySessionCookie(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	user, err := s.cfg.Services.GetUser(r.Context(), userID)
	if err != nil {
		writeJSON(w, errorStatus(err), map[string]string{"error": "not authenticated"})
		return
	}
	targets, err := s.cfg.Services.ListTargetsForRoles(r.Context(), user.Roles)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

// requireAdmin is the gate spec.md section 6 places on `/admin/api/...`
// (and, here, on approving web-approval requests): the session's user must
// carry the admin role.
func (s *Server) requireAdmin(r *http.Request) (*types.User, error) {
	userID, err := s.verifySessionCookie(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	user, err := s.cfg.Services.GetUser(r.Context(), userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !user.IsAdmin() {
		return nil, trace.AccessDenied("admin role required")
	}
	return user, nil
}
