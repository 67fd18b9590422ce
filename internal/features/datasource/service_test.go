package datasource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go-insights/internal/config"
	"go-insights/internal/features/connection"
	"go-insights/internal/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type memDataSourceRepo struct {
	mu      sync.Mutex
	sources map[string]*DataSource
}

func newMemDataSourceRepo() *memDataSourceRepo {
	return &memDataSourceRepo{sources: map[string]*DataSource{}}
}

func (r *memDataSourceRepo) Create(ctx context.Context, ds *DataSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ds.ID.IsZero() {
		ds.ID = primitive.NewObjectID()
	}
	clone := *ds
	r.sources[ds.ID.Hex()] = &clone
	return nil
}

func (r *memDataSourceRepo) GetByID(ctx context.Context, id string) (*DataSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ds, ok := r.sources[id]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	clone := *ds
	return &clone, nil
}

func (r *memDataSourceRepo) GetByWebhookToken(ctx context.Context, token string) (*DataSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ds := range r.sources {
		if ds.WebhookToken == token && ds.IsActive {
			clone := *ds
			return &clone, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (r *memDataSourceRepo) GetByConnectionID(ctx context.Context, connectionID primitive.ObjectID) (*DataSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ds := range r.sources {
		if ds.ConnectionID == connectionID {
			clone := *ds
			return &clone, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (r *memDataSourceRepo) List(ctx context.Context, userID string) ([]DataSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []DataSource
	for _, ds := range r.sources {
		if ds.UserID == userID {
			out = append(out, *ds)
		}
	}
	return out, nil
}

func (r *memDataSourceRepo) ListStale(ctx context.Context, olderThan time.Time) ([]DataSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []DataSource
	for _, ds := range r.sources {
		if !ds.IsActive || ds.ConnectionType != TypeLive {
			continue
		}
		if ds.LastSyncAt == nil || ds.LastSyncAt.Before(olderThan) {
			out = append(out, *ds)
		}
	}
	return out, nil
}

func (r *memDataSourceRepo) Update(ctx context.Context, id primitive.ObjectID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ds, ok := r.sources[id.Hex()]
	if !ok {
		return mongo.ErrNoDocuments
	}
	for k, v := range updates {
		switch k {
		case "generation":
			ds.Generation = v.(string)
		case "row_count":
			ds.RowCount = v.(int64)
		case "schema":
			ds.Schema = v.(map[string]string)
		case "is_active":
			ds.IsActive = v.(bool)
		case "connection_type":
			ds.ConnectionType = v.(string)
		case "webhook_token":
			ds.WebhookToken = v.(string)
		case "webhook_secret":
			ds.WebhookSecret = v.(string)
		case "webhook_url":
			ds.WebhookURL = v.(string)
		case "last_sync_at":
			t := v.(time.Time)
			ds.LastSyncAt = &t
		}
	}
	return nil
}

func (r *memDataSourceRepo) IncrementRowCount(ctx context.Context, id primitive.ObjectID, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ds, ok := r.sources[id.Hex()]
	if !ok {
		return mongo.ErrNoDocuments
	}
	ds.RowCount += delta
	return nil
}

func (r *memDataSourceRepo) EnsureIndexes(ctx context.Context) error { return nil }

// memRowRepo stores rows and can be armed to fail the nth InsertBatch call
type memRowRepo struct {
	mu          sync.Mutex
	rows        []DataRow
	insertCalls int
	failOnCall  int
}

func (r *memRowRepo) InsertBatch(ctx context.Context, rows []DataRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertCalls++
	if r.failOnCall > 0 && r.insertCalls == r.failOnCall {
		return errors.New("write failed")
	}
	r.rows = append(r.rows, rows...)
	return nil
}

func (r *memRowRepo) DeleteGeneration(ctx context.Context, dataSourceID primitive.ObjectID, generation string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rows[:0]
	for _, row := range r.rows {
		if row.DataSourceID != dataSourceID || row.Generation != generation {
			kept = append(kept, row)
		}
	}
	r.rows = kept
	return nil
}

func (r *memRowRepo) DeleteOtherGenerations(ctx context.Context, dataSourceID primitive.ObjectID, keep string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rows[:0]
	for _, row := range r.rows {
		if row.DataSourceID != dataSourceID || row.Generation == keep {
			kept = append(kept, row)
		}
	}
	r.rows = kept
	return nil
}

func (r *memRowRepo) Count(ctx context.Context, dataSourceID primitive.ObjectID, generation string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.rows {
		if row.DataSourceID == dataSourceID && row.Generation == generation {
			n++
		}
	}
	return n, nil
}

func (r *memRowRepo) List(ctx context.Context, dataSourceID primitive.ObjectID, generation string, limit, offset int64) ([]DataRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []DataRow
	for _, row := range r.rows {
		if row.DataSourceID == dataSourceID && row.Generation == generation {
			out = append(out, row)
		}
	}
	if offset >= int64(len(out)) {
		return nil, nil
	}
	out = out[offset:]
	if limit < int64(len(out)) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRowRepo) EnsureIndexes(ctx context.Context) error { return nil }

func newTestService(t *testing.T, rowRepo *memRowRepo) (*DataSourceServiceImpl, *memDataSourceRepo) {
	t.Helper()
	cfg := &config.Config{
		EncryptionKey: "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
		PublicBaseURL: "https://insights.example.com",
	}
	v, err := vault.NewVault(cfg)
	require.NoError(t, err)

	repo := newMemDataSourceRepo()
	svc := NewDataSourceService(repo, rowRepo, v, cfg, zap.NewNop()).(*DataSourceServiceImpl)
	return svc, repo
}

func seedSource(t *testing.T, repo *memDataSourceRepo) *DataSource {
	t.Helper()
	ds := &DataSource{
		ID:             primitive.NewObjectID(),
		UserID:         "user-1",
		Provider:       "google_sheets",
		ConnectionType: TypeLive,
		Generation:     "gen-0",
		Schema:         map[string]string{},
		IsActive:       true,
	}
	require.NoError(t, repo.Create(context.Background(), ds))
	return ds
}

func rowsOf(n int) []map[string]interface{} {
	rows := make([]map[string]interface{}, n)
	for i := range rows {
		rows[i] = map[string]interface{}{"n": float64(i), "name": fmt.Sprintf("row-%d", i)}
	}
	return rows
}

func TestProvisionForConnection(t *testing.T) {
	rowRepo := &memRowRepo{}
	svc, repo := newTestService(t, rowRepo)
	ctx := context.Background()

	conn := &connection.Connection{
		ID:           primitive.NewObjectID(),
		UserID:       "user-1",
		Provider:     "stripe",
		AccountLabel: "acct_123",
	}

	t.Run("push source gets webhook credentials", func(t *testing.T) {
		require.NoError(t, svc.ProvisionForConnection(ctx, conn, true))

		ds, err := repo.GetByConnectionID(ctx, conn.ID)
		require.NoError(t, err)
		assert.Equal(t, TypePush, ds.ConnectionType)
		assert.True(t, ds.IsActive)
		assert.NotEmpty(t, ds.WebhookToken)
		assert.Equal(t, "https://insights.example.com/webhooks/stripe/"+ds.WebhookToken, ds.WebhookURL)

		secret, err := svc.DecryptWebhookSecret(ds)
		require.NoError(t, err)
		assert.Len(t, secret, 64)
	})

	t.Run("reconnect rotates the webhook token", func(t *testing.T) {
		before, err := repo.GetByConnectionID(ctx, conn.ID)
		require.NoError(t, err)

		require.NoError(t, svc.ProvisionForConnection(ctx, conn, true))

		after, err := repo.GetByConnectionID(ctx, conn.ID)
		require.NoError(t, err)
		assert.Equal(t, before.ID, after.ID, "same source survives reconnect")
		assert.NotEqual(t, before.WebhookToken, after.WebhookToken)
	})

	t.Run("deactivate keeps rows but kills the url", func(t *testing.T) {
		require.NoError(t, svc.DeactivateForConnection(ctx, conn))

		ds, err := repo.GetByConnectionID(ctx, conn.ID)
		require.NoError(t, err)
		assert.False(t, ds.IsActive)
		assert.Empty(t, ds.WebhookURL)

		_, err = svc.GetByWebhookToken(ctx, ds.WebhookToken)
		assert.ErrorIs(t, err, mongo.ErrNoDocuments)
	})
}

func TestIngestRows(t *testing.T) {
	rowRepo := &memRowRepo{}
	svc, repo := newTestService(t, rowRepo)
	ctx := context.Background()
	ds := seedSource(t, repo)

	rows := []map[string]interface{}{
		{"event_type": "payment", "external_id": "ch_1", "amount": 1500.00},
		{"event_type": "payment", "external_id": "ch_2", "amount": 12.50},
	}
	require.NoError(t, svc.IngestRows(ctx, ds, rows))

	stored, err := repo.GetByID(ctx, ds.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.RowCount)
	assert.NotNil(t, stored.LastSyncAt)
	assert.Equal(t, "number", stored.Schema["amount"])
	assert.Equal(t, "string", stored.Schema["event_type"])

	count, err := rowRepo.Count(ctx, ds.ID, ds.Generation)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestReplaceRowsSwapsGenerations(t *testing.T) {
	rowRepo := &memRowRepo{}
	svc, repo := newTestService(t, rowRepo)
	ctx := context.Background()
	ds := seedSource(t, repo)

	require.NoError(t, svc.IngestRows(ctx, ds, rowsOf(3)))

	require.NoError(t, svc.ReplaceRows(ctx, ds, rowsOf(250)))

	stored, err := repo.GetByID(ctx, ds.ID.Hex())
	require.NoError(t, err)
	assert.NotEqual(t, "gen-0", stored.Generation)
	assert.Equal(t, int64(250), stored.RowCount)

	count, err := rowRepo.Count(ctx, ds.ID, stored.Generation)
	require.NoError(t, err)
	assert.Equal(t, int64(250), count)

	// Old generation rows are gone
	old, err := rowRepo.Count(ctx, ds.ID, "gen-0")
	require.NoError(t, err)
	assert.Zero(t, old)
}

func TestReplaceRowsFailureKeepsOldData(t *testing.T) {
	rowRepo := &memRowRepo{}
	svc, repo := newTestService(t, rowRepo)
	ctx := context.Background()
	ds := seedSource(t, repo)

	require.NoError(t, svc.ReplaceRows(ctx, ds, rowsOf(5)))
	stored, err := repo.GetByID(ctx, ds.ID.Hex())
	require.NoError(t, err)
	goodGen := stored.Generation

	// 250 rows = 3 batches; arm the second to fail
	rowRepo.mu.Lock()
	rowRepo.failOnCall = rowRepo.insertCalls + 2
	rowRepo.mu.Unlock()

	err = svc.ReplaceRows(ctx, stored, rowsOf(250))
	require.Error(t, err)

	after, err := repo.GetByID(ctx, ds.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, goodGen, after.Generation, "visible generation must not change")
	assert.Equal(t, int64(5), after.RowCount)

	count, err := rowRepo.Count(ctx, ds.ID, goodGen)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count, "previous rows intact")

	// No rows from the aborted generation linger anywhere
	rowRepo.mu.Lock()
	total := len(rowRepo.rows)
	rowRepo.mu.Unlock()
	assert.Equal(t, 5, total)
}

func TestInferSchema(t *testing.T) {
	rows := []map[string]interface{}{
		{"name": "Ada", "total": 12.5, "active": true, "when": "2026-01-02T15:04:05Z"},
		{"name": "Bob", "total": 7.0, "active": false, "note": "x"},
	}

	schema := inferSchema(rows)
	assert.Equal(t, "string", schema["name"])
	assert.Equal(t, "number", schema["total"])
	assert.Equal(t, "boolean", schema["active"])
	assert.Equal(t, "datetime", schema["when"])
	assert.Equal(t, "string", schema["note"])
}

func TestRowsEnforcesOwnership(t *testing.T) {
	rowRepo := &memRowRepo{}
	svc, repo := newTestService(t, rowRepo)
	ctx := context.Background()
	ds := seedSource(t, repo)

	require.NoError(t, svc.IngestRows(ctx, ds, rowsOf(2)))

	rows, err := svc.Rows(ctx, "user-1", ds.ID.Hex(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = svc.Rows(ctx, "someone-else", ds.ID.Hex(), 10, 0)
	assert.Error(t, err)
}
