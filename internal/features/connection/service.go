package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go-insights/internal/config"
	"go-insights/internal/providers"
	"go-insights/internal/vault"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// refreshMargin: tokens expiring within this window are refreshed before use
const refreshMargin = 2 * time.Minute

// DataSourceProvisioner creates/rotates the data source paired with a
// connection. Implemented by the datasource feature; declared here to keep
// the dependency one-way.
type DataSourceProvisioner interface {
	ProvisionForConnection(ctx context.Context, conn *Connection, push bool) error
	DeactivateForConnection(ctx context.Context, conn *Connection) error
}

type ConnectionService interface {
	StartAuthorization(ctx context.Context, userID, provider string, extra map[string]string) (string, error)
	CompleteAuthorization(ctx context.Context, provider, code, state string, query map[string]string) (*Connection, error)
	EnsureValidToken(ctx context.Context, connectionID string) (*providers.TokenSet, error)
	Revoke(ctx context.Context, userID, provider string) error
	List(ctx context.Context, userID string) ([]Connection, error)
}

type ConnectionServiceImpl struct {
	Repo        ConnectionRepository
	Registry    *providers.Registry
	Vault       *vault.Vault
	Provisioner DataSourceProvisioner
	Logger      *zap.Logger

	stateSecret []byte
}

func NewConnectionService(repo ConnectionRepository, registry *providers.Registry, v *vault.Vault, provisioner DataSourceProvisioner, cfg *config.Config, logger *zap.Logger) ConnectionService {
	return &ConnectionServiceImpl{
		Repo:        repo,
		Registry:    registry,
		Vault:       v,
		Provisioner: provisioner,
		Logger:      logger,
		stateSecret: []byte(cfg.JWTSecret),
	}
}

// StartAuthorization builds the provider authorize URL. Re-invoking before a
// prior flow completes simply issues a fresh state token; only the newest one
// matters and the old one expires on its own.
func (s *ConnectionServiceImpl) StartAuthorization(ctx context.Context, userID, provider string, extra map[string]string) (string, error) {
	adapter, err := s.Registry.Get(provider)
	if err != nil {
		return "", err
	}

	if provider == providers.ProviderShopify {
		if shop := extra["shop"]; !providers.ValidShopDomain(shop) {
			return "", fmt.Errorf("invalid shop domain %q, expected <store>.myshopify.com", shop)
		}
	}

	claims := &stateClaims{
		UserID:   userID,
		Provider: provider,
		Extra:    extra,
	}

	var challenge string
	if adapter.SupportsPKCE() {
		verifier, ch, err := newPKCEPair()
		if err != nil {
			return "", err
		}
		claims.CodeVerifier = verifier
		challenge = ch
	}

	state, err := encodeState(s.Vault, s.stateSecret, claims)
	if err != nil {
		return "", err
	}

	return adapter.BuildAuthorizeURL(state, challenge, extra), nil
}

// CompleteAuthorization validates state, exchanges the code, stores the
// encrypted token set and upserts the connection for the user+provider pair.
func (s *ConnectionServiceImpl) CompleteAuthorization(ctx context.Context, provider, code, state string, query map[string]string) (*Connection, error) {
	claims, err := decodeState(s.Vault, s.stateSecret, state)
	if err != nil {
		s.Logger.Warn("oauth state validation failed",
			zap.String("provider", provider), zap.Bool("security", true), zap.Error(err))
		return nil, err
	}
	if claims.Provider != provider {
		s.Logger.Warn("oauth state provider mismatch",
			zap.String("provider", provider), zap.Bool("security", true))
		return nil, &InvalidStateError{Reason: "provider mismatch"}
	}

	adapter, err := s.Registry.Get(provider)
	if err != nil {
		return nil, err
	}

	extra := map[string]string{}
	for k, v := range claims.Extra {
		extra[k] = v
	}
	for k, v := range query {
		extra[k] = v
	}

	ts, err := adapter.ExchangeCode(ctx, code, claims.CodeVerifier, extra)
	if err != nil {
		return nil, err
	}

	credential, err := s.encryptTokenSet(ts)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	existing, err := s.Repo.GetByUserProvider(ctx, claims.UserID, provider)
	var conn *Connection
	switch {
	case err == nil:
		// Reconnect: update in place, at most one connection per pair
		updates := map[string]interface{}{
			"account_label":     ts.AccountLabel,
			"scopes_granted":    ts.Scopes,
			"credential":        credential,
			"expires_at":        ts.ExpiresAt,
			"status":            StatusActive,
			"health_status":     HealthHealthy,
			"last_health_check": now,
			"revoked_at":        nil,
		}
		if err := s.Repo.Update(ctx, existing.ID.Hex(), updates); err != nil {
			return nil, err
		}
		conn, err = s.Repo.Get(ctx, existing.ID.Hex())
		if err != nil {
			return nil, err
		}
	case errors.Is(err, mongo.ErrNoDocuments):
		conn = &Connection{
			UserID:          claims.UserID,
			Provider:        provider,
			AccountLabel:    ts.AccountLabel,
			ScopesGranted:   ts.Scopes,
			Credential:      credential,
			ExpiresAt:       ts.ExpiresAt,
			Status:          StatusActive,
			HealthStatus:    HealthHealthy,
			LastHealthCheck: &now,
		}
		if err := s.Repo.Create(ctx, conn); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if err := s.Provisioner.ProvisionForConnection(ctx, conn, adapter.PushCapable()); err != nil {
		s.Logger.Error("data source provisioning failed",
			zap.String("provider", provider), zap.String("user_id", claims.UserID), zap.Error(err))
		return nil, err
	}

	s.Logger.Info("connection established",
		zap.String("provider", provider), zap.String("user_id", claims.UserID))
	return conn, nil
}

// EnsureValidToken is the read path before every provider call. Refreshes
// when the expiry is inside the safety margin. Safe to call concurrently:
// refresh-then-write, last write wins, both issued tokens stay valid at the
// provider until their own expiry.
func (s *ConnectionServiceImpl) EnsureValidToken(ctx context.Context, connectionID string) (*providers.TokenSet, error) {
	conn, err := s.Repo.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.Status != StatusActive {
		return nil, fmt.Errorf("connection %s is %s, reconnect required", connectionID, conn.Status)
	}

	blob, err := s.decryptCredential(ctx, conn)
	if err != nil {
		return nil, err
	}

	if conn.ExpiresAt == nil || time.Until(*conn.ExpiresAt) > refreshMargin {
		return tokenSetFromBlob(blob, conn), nil
	}

	adapter, err := s.Registry.Get(conn.Provider)
	if err != nil {
		return nil, err
	}

	fresh, err := adapter.Refresh(ctx, blob.RefreshToken)
	if err != nil {
		var re *providers.RefreshError
		if errors.As(err, &re) && re.Terminal {
			now := time.Now()
			_ = s.Repo.Update(ctx, connectionID, map[string]interface{}{
				"status":            StatusRevoked,
				"health_status":     HealthUnhealthy,
				"last_health_check": now,
				"revoked_at":        now,
			})
			s.Logger.Warn("refresh token revoked by provider, connection disabled",
				zap.String("provider", conn.Provider), zap.String("user_id", conn.UserID))
		}
		return nil, err
	}

	// Carry provider identifiers forward: refresh responses usually omit them
	if fresh.ProviderAccountID == "" {
		fresh.ProviderAccountID = blob.AccountID
	}
	if fresh.Extra == nil {
		fresh.Extra = blob.Extra
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = blob.RefreshToken
	}

	credential, err := s.encryptTokenSet(fresh)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	// Single all-fields update: the persisted pair always reflects one
	// successful refresh, never a half-written mix.
	if err := s.Repo.Update(ctx, connectionID, map[string]interface{}{
		"credential":        credential,
		"expires_at":        fresh.ExpiresAt,
		"health_status":     HealthHealthy,
		"last_health_check": now,
	}); err != nil {
		return nil, err
	}

	return fresh, nil
}

// Revoke clears tokens and disables the connection. Irreversible through
// this API; reconnecting starts a fresh OAuth flow.
func (s *ConnectionServiceImpl) Revoke(ctx context.Context, userID, provider string) error {
	conn, err := s.Repo.GetByUserProvider(ctx, userID, provider)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := s.Repo.Update(ctx, conn.ID.Hex(), map[string]interface{}{
		"credential":    "",
		"status":        StatusRevoked,
		"health_status": HealthUnknown,
		"revoked_at":    now,
	}); err != nil {
		return err
	}

	if err := s.Provisioner.DeactivateForConnection(ctx, conn); err != nil {
		s.Logger.Error("deactivating data source failed",
			zap.String("provider", provider), zap.String("user_id", userID), zap.Error(err))
	}

	s.Logger.Info("connection revoked",
		zap.String("provider", provider), zap.String("user_id", userID))
	return nil
}

func (s *ConnectionServiceImpl) List(ctx context.Context, userID string) ([]Connection, error) {
	return s.Repo.List(ctx, userID)
}

func (s *ConnectionServiceImpl) encryptTokenSet(ts *providers.TokenSet) (string, error) {
	blob := credentialBlob{
		AccessToken:  ts.AccessToken,
		RefreshToken: ts.RefreshToken,
		AccountID:    ts.ProviderAccountID,
		Extra:        ts.Extra,
	}
	raw, err := json.Marshal(blob)
	if err != nil {
		return "", err
	}
	return s.Vault.Encrypt(raw)
}

// decryptCredential treats decryption failure as fatal for the credential:
// the connection is marked unhealthy, never silently skipped.
func (s *ConnectionServiceImpl) decryptCredential(ctx context.Context, conn *Connection) (*credentialBlob, error) {
	raw, err := s.Vault.Decrypt(conn.Credential)
	if err != nil {
		var de *vault.DecryptionError
		if errors.As(err, &de) {
			now := time.Now()
			_ = s.Repo.Update(ctx, conn.ID.Hex(), map[string]interface{}{
				"health_status":     HealthUnhealthy,
				"last_health_check": now,
			})
			s.Logger.Error("stored credential is undecryptable",
				zap.String("provider", conn.Provider), zap.String("user_id", conn.UserID), zap.Error(err))
		}
		return nil, err
	}

	var blob credentialBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("credential blob is not valid JSON: %w", err)
	}
	return &blob, nil
}

func tokenSetFromBlob(blob *credentialBlob, conn *Connection) *providers.TokenSet {
	return &providers.TokenSet{
		AccessToken:       blob.AccessToken,
		RefreshToken:      blob.RefreshToken,
		ExpiresAt:         conn.ExpiresAt,
		ProviderAccountID: blob.AccountID,
		AccountLabel:      conn.AccountLabel,
		Scopes:            conn.ScopesGranted,
		Extra:             blob.Extra,
	}
}
