package services

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/vigil/internal/auth"
	"github.com/BradenHooton/vigil/internal/ledger"
	"github.com/BradenHooton/vigil/internal/models"
)

const testTOTPSecret = "JBSWY3DPEHPK3PXP"

func newTestSecondFactorService(store PrincipalRepository) (*SecondFactorService, *ledger.Ledger) {
	log := discardLogger()
	events := ledger.New(50, log)
	svc := NewSecondFactorService(store, auth.NewTOTPManager("vigil", 2), events, 10, log)
	return svc, events
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	return code
}

func staleCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now().Add(-1*time.Hour))
	require.NoError(t, err)
	return code
}

func enrolledPrincipal(t *testing.T) *models.Principal {
	p := activePrincipal(t)
	secret := testTOTPSecret
	p.SecondFactorSecret = &secret
	p.SecondFactorEnabled = true
	return p
}

func TestVerifyTimeBasedCode(t *testing.T) {
	p := enrolledPrincipal(t)
	store := &fakePrincipalStore{p: p}
	svc, events := newTestSecondFactorService(store)

	err := svc.VerifyTimeBasedCode(context.Background(), p, currentCode(t, testTOTPSecret), models.RequestMeta{})
	require.NoError(t, err)

	err = svc.VerifyTimeBasedCode(context.Background(), p, staleCode(t, testTOTPSecret), models.RequestMeta{})
	assert.ErrorIs(t, err, models.ErrInvalidSecondFactor)
	assert.Equal(t, 1, countEvents(events, "p-1", models.EventSecondFactorFailed))
}

func TestVerifyTimeBasedCodeNotEnabled(t *testing.T) {
	p := activePrincipal(t)
	store := &fakePrincipalStore{p: p}
	svc, _ := newTestSecondFactorService(store)

	err := svc.VerifyTimeBasedCode(context.Background(), p, "123456", models.RequestMeta{})

	assert.ErrorIs(t, err, models.ErrSecondFactorNotEnabled)
}

func seedBackupCodes(t *testing.T, store *fakePrincipalStore, plaintext ...string) {
	t.Helper()
	hashes := make([]string, len(plaintext))
	for i, code := range plaintext {
		hashes[i] = quickHash(t, auth.NormalizeBackupCode(code))
	}
	secret := testTOTPSecret
	require.NoError(t, store.SetSecondFactor(context.Background(), store.p.ID, &secret, true, hashes))
}

func TestVerifyBackupCodeSingleUse(t *testing.T) {
	p := enrolledPrincipal(t)
	store := &fakePrincipalStore{p: p}
	seedBackupCodes(t, store, "ABCD2345", "WXYZ6789")
	svc, events := newTestSecondFactorService(store)

	require.NoError(t, svc.VerifyBackupCode(context.Background(), p, "ABCD2345", models.RequestMeta{}))

	// the same code must never work twice
	err := svc.VerifyBackupCode(context.Background(), p, "ABCD2345", models.RequestMeta{})
	assert.ErrorIs(t, err, models.ErrInvalidSecondFactor)
	assert.Equal(t, 1, countEvents(events, "p-1", models.EventSecondFactorFailed))

	// other codes are unaffected
	require.NoError(t, svc.VerifyBackupCode(context.Background(), p, "WXYZ6789", models.RequestMeta{}))
}

func TestVerifyBackupCodeCaseInsensitive(t *testing.T) {
	p := enrolledPrincipal(t)
	store := &fakePrincipalStore{p: p}
	seedBackupCodes(t, store, "ABCD2345")
	svc, _ := newTestSecondFactorService(store)

	err := svc.VerifyBackupCode(context.Background(), p, "  abcd2345 ", models.RequestMeta{})

	assert.NoError(t, err)
}

func TestVerifyBackupCodeWrongCode(t *testing.T) {
	p := enrolledPrincipal(t)
	store := &fakePrincipalStore{p: p}
	seedBackupCodes(t, store, "ABCD2345")
	svc, _ := newTestSecondFactorService(store)

	err := svc.VerifyBackupCode(context.Background(), p, "NOPE9999", models.RequestMeta{})

	assert.ErrorIs(t, err, models.ErrInvalidSecondFactor)
}

func TestInitiateEnrollment(t *testing.T) {
	store := &fakePrincipalStore{p: activePrincipal(t)}
	svc, _ := newTestSecondFactorService(store)

	enrollment, err := svc.InitiateEnrollment(context.Background(), "p-1")

	require.NoError(t, err)
	assert.NotEmpty(t, enrollment.Secret)
	assert.Contains(t, enrollment.URL, "otpauth://totp/")
	assert.Contains(t, enrollment.QRDataURL, "data:image/png;base64,")
	// nothing persists until the candidate code is proven
	assert.Zero(t, store.setCalls)
}

func TestInitiateEnrollmentAlreadyEnabled(t *testing.T) {
	store := &fakePrincipalStore{p: enrolledPrincipal(t)}
	svc, _ := newTestSecondFactorService(store)

	_, err := svc.InitiateEnrollment(context.Background(), "p-1")

	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestEnableSecondFactorBadCandidatePersistsNothing(t *testing.T) {
	store := &fakePrincipalStore{p: activePrincipal(t)}
	svc, _ := newTestSecondFactorService(store)

	_, err := svc.EnableSecondFactor(context.Background(), "p-1", testTOTPSecret, staleCode(t, testTOTPSecret), models.RequestMeta{})

	assert.ErrorIs(t, err, models.ErrInvalidSecondFactor)
	assert.Zero(t, store.setCalls)
	assert.False(t, store.p.SecondFactorEnabled)
	assert.Nil(t, store.p.SecondFactorSecret)
}

func TestEnableSecondFactorSuccess(t *testing.T) {
	store := &fakePrincipalStore{p: activePrincipal(t)}
	svc, events := newTestSecondFactorService(store)

	codes, err := svc.EnableSecondFactor(context.Background(), "p-1", testTOTPSecret, currentCode(t, testTOTPSecret), models.RequestMeta{})

	require.NoError(t, err)
	assert.Len(t, codes, 10)

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.Len(t, code, 8)
		assert.False(t, seen[code], "backup codes must be unique")
		seen[code] = true
	}

	assert.Equal(t, 1, store.setCalls)
	assert.True(t, store.p.SecondFactorEnabled)
	require.NotNil(t, store.p.SecondFactorSecret)
	assert.Equal(t, testTOTPSecret, *store.p.SecondFactorSecret)
	assert.Len(t, store.savedHashes, 10)
	assert.Equal(t, 1, countEvents(events, "p-1", models.EventSecondFactorEnabled))
}

func TestDisableSecondFactorRequiresBothProofs(t *testing.T) {
	store := &fakePrincipalStore{p: enrolledPrincipal(t)}
	svc, events := newTestSecondFactorService(store)

	err := svc.DisableSecondFactor(context.Background(), "p-1", "Wrong#Horse9", currentCode(t, testTOTPSecret), models.RequestMeta{})
	assert.ErrorIs(t, err, models.ErrInvalidCredential)

	err = svc.DisableSecondFactor(context.Background(), "p-1", testPassword, staleCode(t, testTOTPSecret), models.RequestMeta{})
	assert.ErrorIs(t, err, models.ErrInvalidSecondFactor)
	assert.True(t, store.p.SecondFactorEnabled)

	err = svc.DisableSecondFactor(context.Background(), "p-1", testPassword, currentCode(t, testTOTPSecret), models.RequestMeta{})
	require.NoError(t, err)
	assert.False(t, store.p.SecondFactorEnabled)
	assert.Nil(t, store.p.SecondFactorSecret)
	assert.Equal(t, 1, countEvents(events, "p-1", models.EventSecondFactorDisabled))
}
