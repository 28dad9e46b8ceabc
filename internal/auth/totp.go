package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

// TOTPManager handles time-based one-time code generation and validation.
type TOTPManager struct {
	issuer    string
	skewSteps uint // tolerance window in 30s steps on each side
}

func NewTOTPManager(issuer string, skewSteps uint) *TOTPManager {
	return &TOTPManager{
		issuer:    issuer,
		skewSteps: skewSteps,
	}
}

// Enrollment holds the material a principal needs to register an
// authenticator app. The secret is only ever returned here; after enrollment
// is confirmed it lives on the principal record.
type Enrollment struct {
	Secret    string // base32
	URL       string // otpauth:// provisioning URL
	QRDataURL string // data:image/png;base64 rendering of the URL
}

// GenerateEnrollment creates a new candidate secret with its provisioning QR
// code. Nothing is persisted; the caller must confirm a code against this
// secret before it becomes active.
func (tm *TOTPManager) GenerateEnrollment(accountName string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		SecretSize:  32,
		Period:      30,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Highest)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}

	qrImage, err := qr.PNG(200)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &Enrollment{
		Secret:    key.Secret(),
		URL:       key.URL(),
		QRDataURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage),
	}, nil
}

// Validate checks a code against a base32 secret within the configured skew
// window (±skewSteps 30-second steps, accommodating clock drift).
func (tm *TOTPManager) Validate(secret, code string) (bool, error) {
	valid, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      tm.skewSteps,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate TOTP: %w", err)
	}
	return valid, nil
}

// backupCodeCharset excludes ambiguous characters (0/O, 1/I/L)
const backupCodeCharset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const backupCodeLength = 8

// GenerateBackupCodes generates count high-entropy single-use codes.
func (tm *TOTPManager) GenerateBackupCodes(count int) ([]string, error) {
	codes := make([]string, count)
	for i := 0; i < count; i++ {
		code := make([]byte, backupCodeLength)
		randomBytes := make([]byte, backupCodeLength)
		if _, err := rand.Read(randomBytes); err != nil {
			return nil, fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for j := 0; j < backupCodeLength; j++ {
			code[j] = backupCodeCharset[randomBytes[j]%byte(len(backupCodeCharset))]
		}
		codes[i] = string(code)
	}
	return codes, nil
}

// NormalizeBackupCode upper-cases a submitted code so comparison is
// case-insensitive against the generation charset.
func NormalizeBackupCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
