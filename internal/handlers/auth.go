package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/vigil/internal/models"
	"github.com/BradenHooton/vigil/internal/services"
	pkghttp "github.com/BradenHooton/vigil/pkg/http"
)

// AuthServiceInterface defines the interface for the credential state machine
type AuthServiceInterface interface {
	Authenticate(ctx context.Context, loginKey, password string, meta models.RequestMeta) (*services.AuthResult, error)
	CompleteSecondFactor(ctx context.Context, continuationToken, code, method string, meta models.RequestMeta) (*services.AuthResult, error)
	IssueSession(principal *models.Principal) (string, error)
}

// ResetServiceInterface defines the interface for the password reset flow
type ResetServiceInterface interface {
	RequestPasswordReset(ctx context.Context, loginKey string, meta models.RequestMeta) error
	CompletePasswordReset(ctx context.Context, token, newPassword string, meta models.RequestMeta) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	reset    ResetServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, reset ResetServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		reset:    reset,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// GeoPointRequest is a declared client location
type GeoPointRequest struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" validate:"gte=-180,lte=180"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	LoginKey          string           `json:"login_key" validate:"required,email"`
	Password          string           `json:"password" validate:"required"`
	DeviceFingerprint string           `json:"device_fingerprint,omitempty"`
	Location          *GeoPointRequest `json:"location,omitempty"`
}

// VerifySecondFactorRequest completes a pending login
type VerifySecondFactorRequest struct {
	ContinuationToken string           `json:"continuation_token" validate:"required"`
	Code              string           `json:"code" validate:"required"`
	Method            string           `json:"method,omitempty" validate:"omitempty,oneof=totp backup_code"`
	DeviceFingerprint string           `json:"device_fingerprint,omitempty"`
	Location          *GeoPointRequest `json:"location,omitempty"`
}

// RequestResetRequest asks for a password reset email
type RequestResetRequest struct {
	LoginKey string `json:"login_key" validate:"required,email"`
}

// CompleteResetRequest sets a new password with a reset token
type CompleteResetRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// Response DTOs

// PrincipalResponse represents a principal in HTTP responses
type PrincipalResponse struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	Kind                string     `json:"kind"`
	SecondFactorEnabled bool       `json:"second_factor_enabled"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
}

// LoginResponse represents the outcome of a login attempt
type LoginResponse struct {
	State             string             `json:"state"`
	AccessToken       string             `json:"access_token,omitempty"`
	ContinuationToken string             `json:"continuation_token,omitempty"`
	Principal         *PrincipalResponse `json:"principal,omitempty"`
}

// requestMeta assembles the per-request context the services and the risk
// engine consume.
func (h *AuthHandler) requestMeta(r *http.Request, fingerprint string, location *GeoPointRequest) models.RequestMeta {
	meta := models.RequestMeta{
		IPAddress:         pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:         r.Header.Get("User-Agent"),
		DeviceFingerprint: fingerprint,
		CorrelationID:     r.Header.Get("X-Correlation-ID"),
	}
	if meta.CorrelationID == "" {
		meta.CorrelationID = uuid.New().String()
	}
	if location != nil {
		meta.Location = &models.GeoPoint{Lat: location.Lat, Lon: location.Lon}
	}
	return meta
}

// Login handles the password step of authentication
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	meta := h.requestMeta(r, req.DeviceFingerprint, req.Location)

	result, err := h.service.Authenticate(r.Context(), req.LoginKey, req.Password, meta)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	resp := LoginResponse{State: string(result.State)}
	switch result.State {
	case services.StateSecondFactorPending:
		resp.ContinuationToken = result.ContinuationToken
	case services.StateAuthenticated:
		token, err := h.service.IssueSession(result.Principal)
		if err != nil {
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}
		resp.AccessToken = token
		resp.Principal = principalToResponse(result.Principal)
	}

	writeJSON(w, http.StatusOK, resp)
}

// VerifySecondFactor handles the second step of a pending login
func (h *AuthHandler) VerifySecondFactor(w http.ResponseWriter, r *http.Request) {
	var req VerifySecondFactorRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if req.Method == "" {
		req.Method = services.MethodTOTP
	}

	meta := h.requestMeta(r, req.DeviceFingerprint, req.Location)

	result, err := h.service.CompleteSecondFactor(r.Context(), req.ContinuationToken, req.Code, req.Method, meta)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	token, err := h.service.IssueSession(result.Principal)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		State:       string(result.State),
		AccessToken: token,
		Principal:   principalToResponse(result.Principal),
	})
}

// RequestPasswordReset handles reset requests; the response never reveals
// whether the login key exists
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req RequestResetRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.reset.RequestPasswordReset(r.Context(), req.LoginKey, h.requestMeta(r, "", nil)); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "If the login key is registered, a reset email has been sent.",
	})
}

// CompletePasswordReset handles reset completion
func (h *AuthHandler) CompletePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req CompleteResetRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.reset.CompletePasswordReset(r.Context(), req.Token, req.NewPassword, h.requestMeta(r, "", nil)); err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Invalid or expired reset token")
		case errors.Is(err, models.ErrInternalServer):
			pkghttp.WriteInternalError(w, "Internal server error")
		default:
			// password validation failures carry a generic message already
			pkghttp.WriteBadRequest(w, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated."})
}

func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrAccountLocked):
		pkghttp.WriteTooManyRequests(w, "Too many failed attempts. Please try again later.")
	case errors.Is(err, models.ErrInvalidCredential),
		errors.Is(err, models.ErrUnauthorized),
		errors.Is(err, models.ErrInvalidSecondFactor),
		errors.Is(err, models.ErrSecondFactorNotEnabled):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func principalToResponse(p *models.Principal) *PrincipalResponse {
	return &PrincipalResponse{
		ID:                  p.ID,
		Email:               p.Email,
		Kind:                string(p.Kind),
		SecondFactorEnabled: p.SecondFactorEnabled,
		LastLoginAt:         p.LastLoginAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
