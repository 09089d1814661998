package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/server/services"
)

const maxBodyBytes = 1 << 20

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type resetConfirmRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

type exportRequest struct {
	Since time.Time `json:"since"`
}

type ackResponse struct {
	Message string `json:"message"`
}

const resetAck = "if the account exists, a reset code has been sent"

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_request", "invalid json", RequestID(r.Context()))
		return false
	}
	return true
}

func (h *Handlers) meta(r *http.Request) services.RequestMeta {
	m := services.RequestMeta{
		IP:        ClientIP(r, h.cfg.TrustProxy),
		UserAgent: r.UserAgent(),
	}
	if a, ok := ActorFrom(r.Context()); ok {
		m.Actor = &a
	}
	return m
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		WriteError(w, http.StatusBadRequest, "bad_request", "email and password are required", RequestID(r.Context()))
		return
	}

	res, err := h.deps.Login.Initiate(r.Context(), h.meta(r), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (h *Handlers) LoginVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Code == "" {
		WriteError(w, http.StatusBadRequest, "bad_request", "email and code are required", RequestID(r.Context()))
		return
	}

	res, err := h.deps.Login.Verify(r.Context(), h.meta(r), req.Email, req.Code)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     common.SessionCookieName,
		Value:    res.Token,
		Path:     "/",
		MaxAge:   int(h.cfg.SessionTokenValidityDuration.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	WriteJSON(w, http.StatusOK, res)
}

func (h *Handlers) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		WriteError(w, http.StatusBadRequest, "bad_request", "email is required", RequestID(r.Context()))
		return
	}

	err := h.deps.Reset.RequestReset(r.Context(), h.meta(r), req.Email)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) || h.cfg.RevealUnknownResetEmail {
			writeServiceError(w, r, err)
			return
		}
	}
	WriteJSON(w, http.StatusOK, ackResponse{Message: resetAck})
}

func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Code == "" || req.NewPassword == "" {
		WriteError(w, http.StatusBadRequest, "bad_request", "email, code and newPassword are required", RequestID(r.Context()))
		return
	}

	if err := h.deps.Reset.ConfirmReset(r.Context(), h.meta(r), req.Email, req.Code, req.NewPassword); err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, ackResponse{Message: "password updated"})
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	a, _ := ActorFrom(r.Context())
	p, err := h.deps.Profiles.Profile(r.Context(), a.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}

func (h *Handlers) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	page, err := h.deps.Audit.List(r.Context(), h.meta(r), queryInt(r, "page"), queryInt(r, "limit"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

func (h *Handlers) ExportAuditLogs(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Since.IsZero() {
		WriteError(w, http.StatusBadRequest, "bad_request", "since is required", RequestID(r.Context()))
		return
	}

	res, err := h.deps.Archive.Export(r.Context(), h.meta(r), req.Since)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}
