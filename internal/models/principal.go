package models

import "time"

// PrincipalKind distinguishes the three identity populations on the platform.
type PrincipalKind string

const (
	KindCustomer      PrincipalKind = "customer"
	KindBusinessOwner PrincipalKind = "business_owner"
	KindOperator      PrincipalKind = "operator"
)

// Principal is any authenticated identity (customer, business owner, operator).
type Principal struct {
	ID                  string
	Email               string
	PasswordHash        string
	Kind                PrincipalKind
	Active              bool
	FailedAttempts      int
	LockedUntil         *time.Time // set iff the failed-attempt threshold was crossed
	SecondFactorSecret  *string    // base32 TOTP secret, nil when 2FA is off
	SecondFactorEnabled bool
	LastLoginAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Locked reports whether the principal is inside an active lockout window.
func (p *Principal) Locked(now time.Time) bool {
	return p.LockedUntil != nil && now.Before(*p.LockedUntil)
}

// BackupCode is a single-use second-factor recovery secret. Only the bcrypt
// hash is stored; consumption is atomic on used_at.
type BackupCode struct {
	ID          string
	PrincipalID string
	CodeHash    string
	UsedAt      *time.Time
	CreatedAt   time.Time
}

// GeoPoint is a declared latitude/longitude pair.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// RequestMeta carries the per-request context that authentication and risk
// scoring evaluate: network address, client signature, optional device
// fingerprint and declared geolocation, plus a correlation id linking the
// causal chain of resulting events.
type RequestMeta struct {
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	Location          *GeoPoint
	CorrelationID     string
}
