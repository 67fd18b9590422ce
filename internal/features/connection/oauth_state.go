package connection

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"time"

	"go-insights/internal/vault"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// stateTTL bounds one authorize->callback round trip
const stateTTL = 10 * time.Minute

// InvalidStateError is a failed state validation on the OAuth callback.
// Terminal: the user restarts the flow. Logged as a potential attack.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string {
	return "invalid oauth state: " + e.Reason
}

// stateClaims is the transient OAuth state. Instead of server-side session
// storage it travels inside the state parameter itself: signed so it cannot
// be forged, vault-encrypted so the PKCE verifier never rides in clear, and
// time-boxed so it cannot outlive one callback round trip. Any instance can
// validate the callback.
type stateClaims struct {
	UserID   string `json:"uid"`
	Provider string `json:"prv"`

	// Nonce makes every issued state unique; decodeState rejects states
	// without one, so only values minted by encodeState are accepted.
	Nonce string `json:"nnc"`

	CodeVerifier string            `json:"cv,omitempty"`
	Extra        map[string]string `json:"ext,omitempty"`
	jwt.RegisteredClaims
}

func encodeState(v *vault.Vault, secret []byte, claims *stateClaims) (string, error) {
	claims.Nonce = uuid.NewString()
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(stateTTL))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", err
	}

	sealed, err := v.Encrypt([]byte(signed))
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString([]byte(sealed)), nil
}

func decodeState(v *vault.Vault, secret []byte, state string) (*stateClaims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(state)
	if err != nil {
		return nil, &InvalidStateError{Reason: "not base64"}
	}

	signed, err := v.Decrypt(string(raw))
	if err != nil {
		return nil, &InvalidStateError{Reason: "undecryptable"}
	}

	var claims stateClaims
	token, err := jwt.ParseWithClaims(string(signed), &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, &InvalidStateError{Reason: "signature or expiry check failed"}
	}
	if claims.Nonce == "" {
		return nil, &InvalidStateError{Reason: "missing nonce"}
	}
	return &claims, nil
}

// newPKCEPair returns (verifier, S256 challenge)
func newPKCEPair() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	verifier := base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}
