package connection

import (
	"encoding/base64"
	"testing"
	"time"

	"go-insights/internal/vault"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStateVault(t *testing.T) (*vault.Vault, []byte) {
	t.Helper()
	cfg := testConfig()
	v, err := vault.NewVault(cfg)
	require.NoError(t, err)
	return v, []byte(cfg.JWTSecret)
}

func TestStateRoundTrip(t *testing.T) {
	v, secret := newStateVault(t)

	state, err := encodeState(v, secret, &stateClaims{
		UserID:       "user-1",
		Provider:     "quickbooks",
		CodeVerifier: "verifier-1",
		Extra:        map[string]string{"shop": "acme.myshopify.com"},
	})
	require.NoError(t, err)

	claims, err := decodeState(v, secret, state)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "quickbooks", claims.Provider)
	assert.Equal(t, "verifier-1", claims.CodeVerifier)
	assert.Equal(t, "acme.myshopify.com", claims.Extra["shop"])
	assert.NotEmpty(t, claims.Nonce)
}

func TestDecodeStateRejectsMissingNonce(t *testing.T) {
	v, secret := newStateVault(t)

	// A correctly signed and encrypted state that skipped encodeState
	now := time.Now()
	claims := &stateClaims{
		UserID:   "user-1",
		Provider: "square",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	sealed, err := v.Encrypt([]byte(signed))
	require.NoError(t, err)
	state := base64.RawURLEncoding.EncodeToString([]byte(sealed))

	_, err = decodeState(v, secret, state)
	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Contains(t, stateErr.Reason, "nonce")
}

func TestDecodeStateRejectsExpired(t *testing.T) {
	v, secret := newStateVault(t)

	now := time.Now()
	claims := &stateClaims{
		UserID:   "user-1",
		Provider: "square",
		Nonce:    "n-1",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	sealed, err := v.Encrypt([]byte(signed))
	require.NoError(t, err)
	state := base64.RawURLEncoding.EncodeToString([]byte(sealed))

	_, err = decodeState(v, secret, state)
	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
}
