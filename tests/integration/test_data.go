package integration

import (
	"fmt"
	"strings"
	"time"
)

// TestCredentials generates unique test principal credentials using a timestamp
func TestCredentials(suffix string) (email, password string) {
	ts := time.Now().UnixNano()
	email = fmt.Sprintf("test-%d-%s@example.com", ts, suffix)
	password = "TestPassword123!"
	return
}

// ExtractResetToken extracts the reset token from a notification body.
// Body format: "Reset token: {token}"
func ExtractResetToken(body string) string {
	const prefix = "Reset token: "
	if idx := strings.Index(body, prefix); idx >= 0 {
		return body[idx+len(prefix):]
	}
	return ""
}
