package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Authentication state errors. ErrNotFound from a principal lookup is
	// always collapsed into ErrInvalidCredential before it leaves the
	// service layer so callers cannot enumerate accounts.
	ErrInvalidCredential    = errors.New("invalid credentials")
	ErrAccountLocked        = errors.New("account is temporarily locked")
	ErrAccountInactive      = errors.New("account is inactive")
	ErrSecondFactorRequired = errors.New("second factor verification required")

	// Second-factor errors. ErrBackupCodeUsed stays internal to the
	// repository/service boundary; handlers surface ErrInvalidSecondFactor
	// for both so a caller cannot tell which check failed.
	ErrInvalidSecondFactor    = errors.New("invalid second factor code")
	ErrBackupCodeUsed         = errors.New("backup code already used")
	ErrSecondFactorNotEnabled = errors.New("second factor not enabled")

	// Risk engine internals
	ErrSignalUnavailable = errors.New("risk signal unavailable")
)
