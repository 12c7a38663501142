package handler

import (
	"errors"
	"net/http"

	"github.com/ecolens-api/internal/application/auth"
	"github.com/ecolens-api/internal/domain"
	"github.com/ecolens-api/internal/infrastructure/logging"
	"github.com/ecolens-api/internal/transport/http/cookies"
)

// AuthHandler handles registration, password login and OTP verification.
type AuthHandler struct {
	svc     auth.Service
	cookies *cookies.Manager
	logger  *logging.Service
}

func NewAuthHandler(svc auth.Service, cm *cookies.Manager, logger *logging.Service) *AuthHandler {
	return &AuthHandler{svc: svc, cookies: cm, logger: logger}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := decodeJSON(w, r, &req, maxAuthBody); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	h.cookies.SetVerification(w, res.VerificationToken)
	writeJSON(w, http.StatusCreated, MessageEnvelope{
		Message: "Account created. Verification code sent to " + res.Email,
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(w, r, &req, maxAuthBody); err != nil {
		// Non-string credentials fail the same way as wrong ones.
		if errors.Is(err, errFieldType) {
			writeDomainError(w, h.logger, auth.ErrInvalidCredentials)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.Login(r.Context(), req)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	switch res.Status {
	case auth.LoginPendingVerification:
		writeJSON(w, http.StatusOK, MessageEnvelope{
			Message: "Please verify your email",
			Reason:  string(res.Status),
		})
	case auth.LoginOTPSent:
		h.cookies.SetVerification(w, res.VerificationToken)
		writeJSON(w, http.StatusOK, MessageEnvelope{
			Message: "Verification code sent to your email",
			Reason:  string(res.Status),
		})
	default:
		h.cookies.SetSession(w, res.AccessToken, res.RefreshToken)
		h.cookies.ClearVerification(w)
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "Login successful"})
	}
}

func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyRequest
	if err := decodeJSON(w, r, &req, maxAuthBody); err != nil {
		writeJSON(w, http.StatusBadRequest, MessageEnvelope{Error: err.Error(), Reason: "invalid_json"})
		return
	}
	res, err := h.svc.Verify(r.Context(), auth.VerifyInput{
		OTP:               req.OTP,
		Email:             req.Email,
		VerificationToken: cookies.VerificationToken(r),
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	h.cookies.SetSession(w, res.AccessToken, res.RefreshToken)
	h.cookies.ClearVerification(w)
	writeJSON(w, http.StatusOK, UserEnvelope{
		Message: "Account verified and logged in",
		User:    toSafeUser(res.User),
	})
}
