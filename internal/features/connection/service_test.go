package connection

import (
	"context"
	"sync"
	"testing"
	"time"

	"go-insights/internal/config"
	"go-insights/internal/providers"
	"go-insights/internal/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type fakeAdapter struct {
	name         string
	pkce         bool
	push         bool
	lastState    string
	exchangeSet  *providers.TokenSet
	exchangeErr  error
	exchangeHits int
	refreshSet   *providers.TokenSet
	refreshErr   error
	refreshHits  int
	mu           sync.Mutex
}

func (f *fakeAdapter) Name() string            { return f.name }
func (f *fakeAdapter) SupportsPKCE() bool      { return f.pkce }
func (f *fakeAdapter) PushCapable() bool       { return f.push }
func (f *fakeAdapter) SignatureHeader() string { return "X-Test-Signature" }

func (f *fakeAdapter) BuildAuthorizeURL(state, codeChallenge string, extra map[string]string) string {
	f.lastState = state
	return "https://provider.example/authorize?state=" + state
}

func (f *fakeAdapter) ExchangeCode(ctx context.Context, code, codeVerifier string, extra map[string]string) (*providers.TokenSet, error) {
	f.mu.Lock()
	f.exchangeHits++
	f.mu.Unlock()
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.exchangeSet, nil
}

func (f *fakeAdapter) Refresh(ctx context.Context, refreshToken string) (*providers.TokenSet, error) {
	f.mu.Lock()
	f.refreshHits++
	f.mu.Unlock()
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	// Fresh copy per call, like a decoded provider response
	ts := *f.refreshSet
	return &ts, nil
}

func (f *fakeAdapter) VerifyWebhookSignature(rawBody []byte, signatureHeader, secret string) bool {
	return false
}

func (f *fakeAdapter) ParseWebhookPayload(rawBody []byte) ([]providers.CanonicalEvent, error) {
	return nil, nil
}

func (f *fakeAdapter) FetchRows(ctx context.Context, ts *providers.TokenSet, cfg map[string]string) ([]map[string]interface{}, error) {
	return nil, nil
}

type memConnRepo struct {
	mu    sync.Mutex
	conns map[string]*Connection
}

func newMemConnRepo() *memConnRepo {
	return &memConnRepo{conns: map[string]*Connection{}}
}

func (r *memConnRepo) Create(ctx context.Context, conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn.ID.IsZero() {
		conn.ID = primitive.NewObjectID()
	}
	conn.CreatedAt = time.Now()
	conn.UpdatedAt = time.Now()
	clone := *conn
	r.conns[conn.ID.Hex()] = &clone
	return nil
}

func (r *memConnRepo) Get(ctx context.Context, id string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	clone := *conn
	return &clone, nil
}

func (r *memConnRepo) GetByUserProvider(ctx context.Context, userID, provider string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.conns {
		if conn.UserID == userID && conn.Provider == provider {
			clone := *conn
			return &clone, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (r *memConnRepo) List(ctx context.Context, userID string) ([]Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Connection
	for _, conn := range r.conns {
		if conn.UserID == userID {
			out = append(out, *conn)
		}
	}
	return out, nil
}

func (r *memConnRepo) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return mongo.ErrNoDocuments
	}
	for k, v := range updates {
		switch k {
		case "credential":
			conn.Credential = v.(string)
		case "status":
			conn.Status = v.(string)
		case "health_status":
			conn.HealthStatus = v.(string)
		case "account_label":
			conn.AccountLabel = v.(string)
		case "scopes_granted":
			conn.ScopesGranted = v.([]string)
		case "expires_at":
			switch t := v.(type) {
			case *time.Time:
				conn.ExpiresAt = t
			case time.Time:
				conn.ExpiresAt = &t
			case nil:
				conn.ExpiresAt = nil
			}
		case "last_health_check":
			t := v.(time.Time)
			conn.LastHealthCheck = &t
		case "revoked_at":
			switch t := v.(type) {
			case time.Time:
				conn.RevokedAt = &t
			case nil:
				conn.RevokedAt = nil
			}
		}
	}
	conn.UpdatedAt = time.Now()
	return nil
}

func (r *memConnRepo) EnsureIndexes(ctx context.Context) error { return nil }

type fakeProvisioner struct {
	mu          sync.Mutex
	provisioned int
	deactivated int
	lastPush    bool
}

func (p *fakeProvisioner) ProvisionForConnection(ctx context.Context, conn *Connection, push bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.provisioned++
	p.lastPush = push
	return nil
}

func (p *fakeProvisioner) DeactivateForConnection(ctx context.Context, conn *Connection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deactivated++
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:     "test-state-secret",
		EncryptionKey: "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
	}
}

func newTestService(t *testing.T, adapters ...providers.Adapter) (*ConnectionServiceImpl, *memConnRepo, *fakeProvisioner) {
	t.Helper()
	cfg := testConfig()
	v, err := vault.NewVault(cfg)
	require.NoError(t, err)

	repo := newMemConnRepo()
	prov := &fakeProvisioner{}
	svc := NewConnectionService(repo, providers.NewRegistryOf(adapters...), v, prov, cfg, zap.NewNop()).(*ConnectionServiceImpl)
	return svc, repo, prov
}

func futureTime(d time.Duration) *time.Time {
	t := time.Now().Add(d)
	return &t
}

func TestAuthorizationRoundTrip(t *testing.T) {
	adapter := &fakeAdapter{
		name: "square",
		push: true,
		exchangeSet: &providers.TokenSet{
			AccessToken:       "access-1",
			RefreshToken:      "refresh-1",
			ExpiresAt:         futureTime(time.Hour),
			ProviderAccountID: "merchant-1",
			AccountLabel:      "Acme POS",
			Scopes:            []string{"PAYMENTS_READ"},
		},
	}
	svc, _, prov := newTestService(t, adapter)
	ctx := context.Background()

	_, err := svc.StartAuthorization(ctx, "user-1", "square", nil)
	require.NoError(t, err)
	require.NotEmpty(t, adapter.lastState)

	conn, err := svc.CompleteAuthorization(ctx, "square", "code-1", adapter.lastState, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusActive, conn.Status)
	assert.Equal(t, HealthHealthy, conn.HealthStatus)
	assert.Equal(t, "Acme POS", conn.AccountLabel)
	assert.Equal(t, 1, prov.provisioned)
	assert.True(t, prov.lastPush)

	// Stored credential round-trips through the vault
	blob, err := svc.decryptCredential(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, "access-1", blob.AccessToken)
	assert.Equal(t, "refresh-1", blob.RefreshToken)
	assert.Equal(t, "merchant-1", blob.AccountID)
}

func TestCompleteAuthorizationRejectsTamperedState(t *testing.T) {
	adapter := &fakeAdapter{name: "square", exchangeSet: &providers.TokenSet{AccessToken: "a"}}
	svc, repo, _ := newTestService(t, adapter)
	ctx := context.Background()

	_, err := svc.StartAuthorization(ctx, "user-1", "square", nil)
	require.NoError(t, err)

	tampered := adapter.lastState[:len(adapter.lastState)-4] + "AAAA"
	_, err = svc.CompleteAuthorization(ctx, "square", "code-1", tampered, nil)

	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Zero(t, adapter.exchangeHits, "code must not be exchanged on bad state")

	conns, _ := repo.List(ctx, "user-1")
	assert.Empty(t, conns)
}

func TestCompleteAuthorizationRejectsProviderMismatch(t *testing.T) {
	square := &fakeAdapter{name: "square", exchangeSet: &providers.TokenSet{AccessToken: "a"}}
	stripe := &fakeAdapter{name: "stripe", exchangeSet: &providers.TokenSet{AccessToken: "b"}}
	svc, _, _ := newTestService(t, square, stripe)
	ctx := context.Background()

	_, err := svc.StartAuthorization(ctx, "user-1", "square", nil)
	require.NoError(t, err)

	_, err = svc.CompleteAuthorization(ctx, "stripe", "code-1", square.lastState, nil)
	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
}

func TestReconnectUpdatesInPlace(t *testing.T) {
	adapter := &fakeAdapter{
		name:        "square",
		exchangeSet: &providers.TokenSet{AccessToken: "first", ExpiresAt: futureTime(time.Hour)},
	}
	svc, repo, _ := newTestService(t, adapter)
	ctx := context.Background()

	_, err := svc.StartAuthorization(ctx, "user-1", "square", nil)
	require.NoError(t, err)
	first, err := svc.CompleteAuthorization(ctx, "square", "code-1", adapter.lastState, nil)
	require.NoError(t, err)

	adapter.exchangeSet = &providers.TokenSet{AccessToken: "second", ExpiresAt: futureTime(time.Hour)}
	_, err = svc.StartAuthorization(ctx, "user-1", "square", nil)
	require.NoError(t, err)
	second, err := svc.CompleteAuthorization(ctx, "square", "code-2", adapter.lastState, nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "reconnect must reuse the connection")

	conns, _ := repo.List(ctx, "user-1")
	assert.Len(t, conns, 1)
	blob, err := svc.decryptCredential(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "second", blob.AccessToken)
}

func TestEnsureValidTokenSkipsFreshToken(t *testing.T) {
	adapter := &fakeAdapter{
		name:        "square",
		exchangeSet: &providers.TokenSet{AccessToken: "access-1", RefreshToken: "rt", ExpiresAt: futureTime(time.Hour)},
	}
	svc, _, _ := newTestService(t, adapter)
	ctx := context.Background()

	_, err := svc.StartAuthorization(ctx, "user-1", "square", nil)
	require.NoError(t, err)
	conn, err := svc.CompleteAuthorization(ctx, "square", "code-1", adapter.lastState, nil)
	require.NoError(t, err)

	ts, err := svc.EnsureValidToken(ctx, conn.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, "access-1", ts.AccessToken)
	assert.Zero(t, adapter.refreshHits, "a token outside the margin must not refresh")
}

func TestEnsureValidTokenRefreshesNearExpiry(t *testing.T) {
	adapter := &fakeAdapter{
		name:        "square",
		exchangeSet: &providers.TokenSet{AccessToken: "old", RefreshToken: "rt-old", ExpiresAt: futureTime(30 * time.Second)},
		refreshSet:  &providers.TokenSet{AccessToken: "new", RefreshToken: "rt-new", ExpiresAt: futureTime(time.Hour)},
	}
	svc, _, _ := newTestService(t, adapter)
	ctx := context.Background()

	_, err := svc.StartAuthorization(ctx, "user-1", "square", nil)
	require.NoError(t, err)
	conn, err := svc.CompleteAuthorization(ctx, "square", "code-1", adapter.lastState, nil)
	require.NoError(t, err)

	ts, err := svc.EnsureValidToken(ctx, conn.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, "new", ts.AccessToken)
	assert.Equal(t, 1, adapter.refreshHits)

	// The refreshed credential is what got persisted
	updated, err := svc.Repo.Get(ctx, conn.ID.Hex())
	require.NoError(t, err)
	blob, err := svc.decryptCredential(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, "new", blob.AccessToken)
	assert.Equal(t, "rt-new", blob.RefreshToken)
}

func TestEnsureValidTokenConcurrentCallers(t *testing.T) {
	adapter := &fakeAdapter{
		name:        "square",
		exchangeSet: &providers.TokenSet{AccessToken: "old", RefreshToken: "rt-old", ExpiresAt: futureTime(30 * time.Second)},
		refreshSet:  &providers.TokenSet{AccessToken: "new", RefreshToken: "rt-new", ExpiresAt: futureTime(time.Hour)},
	}
	svc, _, _ := newTestService(t, adapter)
	ctx := context.Background()

	_, err := svc.StartAuthorization(ctx, "user-1", "square", nil)
	require.NoError(t, err)
	conn, err := svc.CompleteAuthorization(ctx, "square", "code-1", adapter.lastState, nil)
	require.NoError(t, err)

	// Many callers hit the same near-expiry connection at once. Every call
	// must come back with a valid token; last write wins on the stored pair.
	const callers = 10
	var wg sync.WaitGroup
	tokens := make(chan string, callers)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts, err := svc.EnsureValidToken(ctx, conn.ID.Hex())
			if err != nil {
				errs <- err
				return
			}
			tokens <- ts.AccessToken
		}()
	}
	wg.Wait()
	close(errs)
	close(tokens)

	for err := range errs {
		t.Errorf("concurrent EnsureValidToken failed: %v", err)
	}
	for token := range tokens {
		assert.Equal(t, "new", token)
	}
	assert.GreaterOrEqual(t, adapter.refreshHits, 1)

	// Whatever interleaving won, the persisted credential is a usable pair
	stored, err := svc.Repo.Get(ctx, conn.ID.Hex())
	require.NoError(t, err)
	blob, err := svc.decryptCredential(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, "new", blob.AccessToken)
	assert.Equal(t, "rt-new", blob.RefreshToken)
}

func TestEnsureValidTokenTerminalRefreshRevokes(t *testing.T) {
	adapter := &fakeAdapter{
		name:        "square",
		exchangeSet: &providers.TokenSet{AccessToken: "old", RefreshToken: "rt", ExpiresAt: futureTime(time.Minute)},
		refreshErr:  &providers.RefreshError{Provider: "square", StatusCode: 400, Terminal: true},
	}
	svc, repo, _ := newTestService(t, adapter)
	ctx := context.Background()

	_, err := svc.StartAuthorization(ctx, "user-1", "square", nil)
	require.NoError(t, err)
	conn, err := svc.CompleteAuthorization(ctx, "square", "code-1", adapter.lastState, nil)
	require.NoError(t, err)

	_, err = svc.EnsureValidToken(ctx, conn.ID.Hex())
	require.Error(t, err)

	stored, err := repo.Get(ctx, conn.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, stored.Status)
	assert.Equal(t, HealthUnhealthy, stored.HealthStatus)
	assert.NotNil(t, stored.RevokedAt)

	// Later calls fail fast without touching the provider again
	_, err = svc.EnsureValidToken(ctx, conn.ID.Hex())
	require.Error(t, err)
	assert.Equal(t, 1, adapter.refreshHits)
}

func TestRevoke(t *testing.T) {
	adapter := &fakeAdapter{
		name:        "square",
		exchangeSet: &providers.TokenSet{AccessToken: "a", ExpiresAt: futureTime(time.Hour)},
	}
	svc, repo, prov := newTestService(t, adapter)
	ctx := context.Background()

	_, err := svc.StartAuthorization(ctx, "user-1", "square", nil)
	require.NoError(t, err)
	conn, err := svc.CompleteAuthorization(ctx, "square", "code-1", adapter.lastState, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, "user-1", "square"))

	stored, err := repo.Get(ctx, conn.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, stored.Status)
	assert.Empty(t, stored.Credential)
	assert.Equal(t, 1, prov.deactivated)

	assert.Error(t, svc.Revoke(ctx, "user-1", "stripe"))
}

func TestStartAuthorizationValidatesShopDomain(t *testing.T) {
	adapter := &fakeAdapter{name: providers.ProviderShopify}
	svc, _, _ := newTestService(t, adapter)
	ctx := context.Background()

	_, err := svc.StartAuthorization(ctx, "user-1", providers.ProviderShopify, map[string]string{"shop": "evil.example.com"})
	assert.Error(t, err)

	_, err = svc.StartAuthorization(ctx, "user-1", providers.ProviderShopify, map[string]string{"shop": "acme.myshopify.com"})
	assert.NoError(t, err)
}
