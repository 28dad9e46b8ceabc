package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndComparePassword(t *testing.T) {
	hash, err := HashPassword("Str0ng!Passw0rd")
	require.NoError(t, err)
	assert.NotEqual(t, "Str0ng!Passw0rd", hash)

	assert.NoError(t, ComparePassword(hash, "Str0ng!Passw0rd"))
	assert.Error(t, ComparePassword(hash, "wrong-password"))
}

func TestHashPassword_EmptyRejected(t *testing.T) {
	_, err := HashPassword("")
	assert.Error(t, err)
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid", "Str0ng!Passw0rd", false},
		{"too short", "S1!a", true},
		{"no uppercase", "str0ng!passw0rd", true},
		{"no lowercase", "STR0NG!PASSW0RD", true},
		{"no digit", "Strong!Password", true},
		{"no special", "Str0ngPassw0rd", true},
		{"common password", "password123!", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePassword_GenericErrorMessage(t *testing.T) {
	err := ValidatePassword("weak")
	require.Error(t, err)
	// The message must not leak which requirement failed
	assert.Equal(t, "invalid password", err.Error())
}

func TestDummyCompare(t *testing.T) {
	// Must not panic; exists to equalize timing on unknown-principal lookups
	DummyCompare()
}
