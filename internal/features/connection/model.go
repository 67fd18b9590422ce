package connection

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Connection statuses. A connection is never hard-deleted; it only moves
// between statuses so the audit trail survives disconnects.
const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
)

const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
	HealthUnknown   = "unknown"
)

// Connection is one user's credential relationship with one provider.
// At most one active connection exists per (user, provider) pair.
type Connection struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	UserID        string             `json:"user_id" bson:"user_id"`
	Provider      string             `json:"provider" bson:"provider"`
	AccountLabel  string             `json:"account_label" bson:"account_label"`
	ScopesGranted []string           `json:"scopes_granted" bson:"scopes_granted"`

	// Credential is the vault-encrypted token blob; never serialized out
	Credential string `json:"-" bson:"credential"`

	// ExpiresAt nil means the access token never expires (e.g. Stripe Connect)
	ExpiresAt *time.Time `json:"expires_at,omitempty" bson:"expires_at,omitempty"`

	Status          string     `json:"status" bson:"status"`
	HealthStatus    string     `json:"health_status" bson:"health_status"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty" bson:"last_health_check,omitempty"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty" bson:"revoked_at,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// credentialBlob is the plaintext shape stored encrypted in Connection.Credential
type credentialBlob struct {
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	AccountID    string            `json:"account_id,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}
