package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ============================================================================
// Strength Policy Tests
// ============================================================================

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		wantFailed []string
	}{
		{name: "valid strong password", password: "SecureP@ss123"},
		{name: "registration example", password: "Passw0rd!"},
		{name: "exactly minimum length", password: "Ab1!efgh"},
		{name: "unicode letters count", password: "Ünïcødé1!"},
		{name: "too short", password: "Pa@1", wantFailed: []string{"min_length"}},
		{name: "multibyte too short", password: "ÄÖü1!", wantFailed: []string{"min_length"}},
		{name: "multibyte at maximum", password: "Ä1!" + strings.Repeat("ü", MaxPasswordLen-3)},
		{name: "multibyte over maximum", password: "Ä1!" + strings.Repeat("ü", MaxPasswordLen-2), wantFailed: []string{"max_length"}},
		{name: "missing uppercase", password: "securepass@123", wantFailed: []string{"uppercase"}},
		{name: "missing lowercase", password: "SECUREPASS@123", wantFailed: []string{"lowercase"}},
		{name: "missing digit", password: "SecurePass@xyz", wantFailed: []string{"digit"}},
		{name: "missing symbol", password: "SecurePass123", wantFailed: []string{"symbol"}},
		{name: "common password any case", password: "PASSword1!", wantFailed: []string{"not_common"}},
		{name: "too long", password: "Aa1@" + strings.Repeat("x", MaxPasswordLen), wantFailed: []string{"max_length"}},
		{name: "several failures reported together", password: "abc", wantFailed: []string{"min_length", "uppercase", "digit", "symbol"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)

			if tt.wantFailed == nil {
				assert.NoError(t, err)
				return
			}

			var weak *WeakPasswordError
			require.ErrorAs(t, err, &weak)
			assert.Equal(t, tt.wantFailed, weak.Failed)
			assert.Equal(t, "invalid password", err.Error())
		})
	}
}

// ============================================================================
// Hashing Tests
// ============================================================================

func TestHashAndVerifyPassword(t *testing.T) {
	password := "SecureP@ss123"

	hash, err := HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	assert.True(t, VerifyPassword(hash, password))
	assert.False(t, VerifyPassword(hash, "WrongPassword123!"))
	assert.False(t, VerifyPassword("not-a-bcrypt-hash", password))
}

func TestHashPassword_OutOfRangeCostUsesDefault(t *testing.T) {
	hash, err := HashPassword("SecureP@ss123", 100)
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, DefaultBcryptCost, cost)
}

func TestHashPassword_LongPasswordsUseEveryByte(t *testing.T) {
	prefix := "Aa1@" + strings.Repeat("x", 90)

	hash, err := HashPassword(prefix+"1", bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, VerifyPassword(hash, prefix+"1"))
	assert.False(t, VerifyPassword(hash, prefix+"2"))
}

func TestHashPassword_SaltsEachHash(t *testing.T) {
	first, err := HashPassword("SecureP@ss123", bcrypt.MinCost)
	require.NoError(t, err)
	second, err := HashPassword("SecureP@ss123", bcrypt.MinCost)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestHashPassword_Empty(t *testing.T) {
	_, err := HashPassword("", bcrypt.MinCost)
	assert.ErrorIs(t, err, ErrEmptyPassword)
}
