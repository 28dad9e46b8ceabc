package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/vigil/internal/models"
)

type loginResponse struct {
	State             string `json:"state"`
	AccessToken       string `json:"access_token"`
	ContinuationToken string `json:"continuation_token"`
	Principal         *struct {
		ID                  string `json:"id"`
		Email               string `json:"email"`
		Kind                string `json:"kind"`
		SecondFactorEnabled bool   `json:"second_factor_enabled"`
	} `json:"principal"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func loginRequest(email, password string) map[string]interface{} {
	return map[string]interface{}{
		"login_key": email,
		"password":  password,
	}
}

// fromIP gives each caller its own rate-limit bucket
func fromIP(ip string) map[string]string {
	return map[string]string{"X-Forwarded-For": ip}
}

func TestLoginIssuesSessionToken(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	require.NoError(t, db.CleanupTables(ctx))

	ts := NewTestServer(db.DB)
	defer ts.Close()

	email, password := TestCredentials("login")
	_, err := SeedPrincipal(ctx, db.Pool, email, password, models.KindCustomer)
	require.NoError(t, err)

	resp, err := ts.Request(http.MethodPost, "/auth/login", loginRequest(email, password), fromIP("10.1.0.1"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body loginResponse
	require.NoError(t, ParseJSONResponse(resp, &body))
	assert.Equal(t, "authenticated", body.State)
	assert.NotEmpty(t, body.AccessToken)
	assert.Empty(t, body.ContinuationToken)
	require.NotNil(t, body.Principal)
	assert.Equal(t, email, body.Principal.Email)

	claims, err := ts.TokenManager.Validate(body.AccessToken, "session")
	require.NoError(t, err)
	assert.Equal(t, body.Principal.ID, claims.PrincipalID)
}

func TestLoginWrongPasswordLocksAccount(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	require.NoError(t, db.CleanupTables(ctx))

	ts := NewTestServer(db.DB)
	defer ts.Close()

	email, password := TestCredentials("lockout")
	_, err := SeedPrincipal(ctx, db.Pool, email, password, models.KindCustomer)
	require.NoError(t, err)

	// Five wrong passwords exhaust the lockout threshold
	for i := 0; i < 5; i++ {
		resp, err := ts.Request(http.MethodPost, "/auth/login", loginRequest(email, "WrongPassword1!"), fromIP("10.1.0.2"))
		require.NoError(t, err)
		var body errorResponse
		require.NoError(t, ParseJSONResponse(resp, &body))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "Authentication failed", body.Message)
	}

	// Even the correct password is refused while the lock holds. A second
	// source address keeps the per-IP limiter out of the picture.
	resp, err := ts.Request(http.MethodPost, "/auth/login", loginRequest(email, password), fromIP("10.1.0.3"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	var body errorResponse
	require.NoError(t, ParseJSONResponse(resp, &body))
	assert.Contains(t, body.Message, "Too many failed attempts")
}

func TestSecondFactorEnrollmentAndLogin(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	require.NoError(t, db.CleanupTables(ctx))

	ts := NewTestServer(db.DB)
	defer ts.Close()

	email, password := TestCredentials("enroll")
	_, err := SeedPrincipal(ctx, db.Pool, email, password, models.KindCustomer)
	require.NoError(t, err)

	resp, err := ts.Request(http.MethodPost, "/auth/login", loginRequest(email, password), fromIP("10.1.0.4"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var login loginResponse
	require.NoError(t, ParseJSONResponse(resp, &login))

	// Enroll: server proposes a secret
	resp, err = ts.RequestWithAuth(http.MethodPost, "/auth/2fa/enroll", login.AccessToken, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var enrollment struct {
		Secret string `json:"secret"`
		URL    string `json:"url"`
	}
	require.NoError(t, ParseJSONResponse(resp, &enrollment))
	require.NotEmpty(t, enrollment.Secret)

	// Confirm with a live code; backup codes come back exactly once
	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)

	resp, err = ts.RequestWithAuth(http.MethodPost, "/auth/2fa/confirm", login.AccessToken, map[string]string{
		"secret": enrollment.Secret,
		"code":   code,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var confirmed struct {
		BackupCodes []string `json:"backup_codes"`
	}
	require.NoError(t, ParseJSONResponse(resp, &confirmed))
	assert.Len(t, confirmed.BackupCodes, ts.Config.Auth.BackupCodeCount)

	// Subsequent login stops at the continuation step
	resp, err = ts.Request(http.MethodPost, "/auth/login", loginRequest(email, password), fromIP("10.1.0.5"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pending loginResponse
	require.NoError(t, ParseJSONResponse(resp, &pending))
	assert.Equal(t, "second_factor_pending", pending.State)
	assert.Empty(t, pending.AccessToken)
	require.NotEmpty(t, pending.ContinuationToken)

	// Completing the second factor yields a session
	code, err = totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)

	resp, err = ts.Request(http.MethodPost, "/auth/2fa/verify", map[string]string{
		"continuation_token": pending.ContinuationToken,
		"code":               code,
		"method":             "totp",
	}, fromIP("10.1.0.5"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var completed loginResponse
	require.NoError(t, ParseJSONResponse(resp, &completed))
	assert.Equal(t, "authenticated", completed.State)
	assert.NotEmpty(t, completed.AccessToken)
}

func TestPasswordResetFlow(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	require.NoError(t, db.CleanupTables(ctx))

	ts := NewTestServer(db.DB)
	defer ts.Close()

	email, password := TestCredentials("pwreset")
	_, err := SeedPrincipal(ctx, db.Pool, email, password, models.KindCustomer)
	require.NoError(t, err)

	resp, err := ts.Request(http.MethodPost, "/auth/password-reset/request", map[string]string{
		"login_key": email,
	}, fromIP("10.1.0.6"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// The notifier goroutine runs off the request path
	var token string
	require.Eventually(t, func() bool {
		if sent := ts.Notifier.GetLastNotification(); sent != nil {
			token = ExtractResetToken(sent.Body)
			return token != ""
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	newPassword := "Brand-New-Passw0rd!"
	resp, err = ts.Request(http.MethodPost, "/auth/password-reset/complete", map[string]string{
		"token":        token,
		"new_password": newPassword,
	}, fromIP("10.1.0.6"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Old password no longer works, new one does
	resp, err = ts.Request(http.MethodPost, "/auth/login", loginRequest(email, password), fromIP("10.1.0.7"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = ts.Request(http.MethodPost, "/auth/login", loginRequest(email, newPassword), fromIP("10.1.0.8"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRiskAssessRequiresOperator(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	require.NoError(t, db.CleanupTables(ctx))

	ts := NewTestServer(db.DB)
	defer ts.Close()

	custEmail, custPassword := TestCredentials("customer")
	customer, err := SeedPrincipal(ctx, db.Pool, custEmail, custPassword, models.KindCustomer)
	require.NoError(t, err)

	opEmail, opPassword := TestCredentials("operator")
	_, err = SeedPrincipal(ctx, db.Pool, opEmail, opPassword, models.KindOperator)
	require.NoError(t, err)

	resp, err := ts.Request(http.MethodPost, "/auth/login", loginRequest(custEmail, custPassword), fromIP("10.1.0.9"))
	require.NoError(t, err)
	var custLogin loginResponse
	require.NoError(t, ParseJSONResponse(resp, &custLogin))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = ts.Request(http.MethodPost, "/auth/login", loginRequest(opEmail, opPassword), fromIP("10.1.0.10"))
	require.NoError(t, err)
	var opLogin loginResponse
	require.NoError(t, ParseJSONResponse(resp, &opLogin))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assessReq := map[string]interface{}{
		"principal_id": customer.ID,
		"action":       "payment",
		"amount":       250.0,
		"ip_address":   "203.0.113.10",
	}

	// Customers cannot reach the scoring surface
	resp, err = ts.RequestWithAuth(http.MethodPost, "/risk/assess", custLogin.AccessToken, assessReq)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Operators can
	resp, err = ts.RequestWithAuth(http.MethodPost, "/risk/assess", opLogin.AccessToken, assessReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var assessment struct {
		PrincipalID       string `json:"principal_id"`
		Score             int    `json:"score"`
		Level             string `json:"level"`
		RecommendedAction string `json:"recommended_action"`
	}
	require.NoError(t, ParseJSONResponse(resp, &assessment))
	assert.Equal(t, customer.ID, assessment.PrincipalID)
	assert.NotEmpty(t, assessment.Level)
	assert.NotEmpty(t, assessment.RecommendedAction)

	// The event ledger is visible to operators as well
	resp, err = ts.RequestWithAuth(http.MethodGet, "/principals/"+customer.ID+"/events", opLogin.AccessToken, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
