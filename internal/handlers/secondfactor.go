package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BradenHooton/vigil/internal/auth"
	"github.com/BradenHooton/vigil/internal/models"
	pkghttp "github.com/BradenHooton/vigil/pkg/http"
)

// SecondFactorServiceInterface defines the interface for second factor management
type SecondFactorServiceInterface interface {
	InitiateEnrollment(ctx context.Context, principalID string) (*auth.Enrollment, error)
	EnableSecondFactor(ctx context.Context, principalID, secret, candidateCode string, meta models.RequestMeta) ([]string, error)
	DisableSecondFactor(ctx context.Context, principalID, password, code string, meta models.RequestMeta) error
}

// SecondFactorHandler handles second factor lifecycle requests for the
// authenticated principal
type SecondFactorHandler struct {
	service  SecondFactorServiceInterface
	ipConfig *pkghttp.IPConfig
}

func NewSecondFactorHandler(service SecondFactorServiceInterface, ipConfig *pkghttp.IPConfig) *SecondFactorHandler {
	return &SecondFactorHandler{service: service, ipConfig: ipConfig}
}

// ConfirmEnrollmentRequest proves possession of the candidate secret
type ConfirmEnrollmentRequest struct {
	Secret string `json:"secret" validate:"required"`
	Code   string `json:"code" validate:"required,len=6,numeric"`
}

// DisableSecondFactorRequest carries both proofs required to turn 2FA off
type DisableSecondFactorRequest struct {
	Password string `json:"password" validate:"required"`
	Code     string `json:"code" validate:"required,len=6,numeric"`
}

// EnrollmentResponse carries the provisioning material for an authenticator app
type EnrollmentResponse struct {
	Secret    string `json:"secret"`
	URL       string `json:"url"`
	QRDataURL string `json:"qr_data_url"`
}

// ConfirmEnrollmentResponse returns the backup codes exactly once
type ConfirmEnrollmentResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

func (h *SecondFactorHandler) meta(r *http.Request) models.RequestMeta {
	return models.RequestMeta{
		IPAddress:     pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:     r.Header.Get("User-Agent"),
		CorrelationID: r.Header.Get("X-Correlation-ID"),
	}
}

// Enroll starts second factor enrollment for the session principal
func (h *SecondFactorHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	enrollment, err := h.service.InitiateEnrollment(r.Context(), claims.PrincipalID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Second factor is already enabled")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteUnauthorized(w, "Authentication required")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, EnrollmentResponse{
		Secret:    enrollment.Secret,
		URL:       enrollment.URL,
		QRDataURL: enrollment.QRDataURL,
	})
}

// Confirm completes enrollment with a code from the candidate secret
func (h *SecondFactorHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ConfirmEnrollmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	codes, err := h.service.EnableSecondFactor(r.Context(), claims.PrincipalID, req.Secret, req.Code, h.meta(r))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidSecondFactor):
			pkghttp.WriteBadRequest(w, "Code verification failed")
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Second factor is already enabled")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteUnauthorized(w, "Authentication required")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, ConfirmEnrollmentResponse{BackupCodes: codes})
}

// Disable turns the second factor off
func (h *SecondFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req DisableSecondFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	err := h.service.DisableSecondFactor(r.Context(), claims.PrincipalID, req.Password, req.Code, h.meta(r))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidCredential),
			errors.Is(err, models.ErrInvalidSecondFactor):
			pkghttp.WriteUnauthorized(w, "Verification failed")
		case errors.Is(err, models.ErrSecondFactorNotEnabled):
			pkghttp.WriteBadRequest(w, "Second factor is not enabled")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteUnauthorized(w, "Authentication required")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
