package datasource

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go-insights/internal/config"
	"go-insights/internal/features/connection"
	"go-insights/internal/vault"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// batchSize bounds one InsertMany during a full replace
const batchSize = 100

type DataSourceService interface {
	// ProvisionForConnection and DeactivateForConnection satisfy
	// connection.DataSourceProvisioner.
	ProvisionForConnection(ctx context.Context, conn *connection.Connection, push bool) error
	DeactivateForConnection(ctx context.Context, conn *connection.Connection) error

	List(ctx context.Context, userID string) ([]DataSource, error)
	Rows(ctx context.Context, userID, dataSourceID string, limit, offset int64) ([]DataRow, error)

	GetByWebhookToken(ctx context.Context, token string) (*DataSource, error)
	DecryptWebhookSecret(ds *DataSource) (string, error)
	IngestRows(ctx context.Context, ds *DataSource, rows []map[string]interface{}) error
	ReplaceRows(ctx context.Context, ds *DataSource, rows []map[string]interface{}) error
}

type DataSourceServiceImpl struct {
	Repo    DataSourceRepository
	RowRepo DataRowRepository
	Vault   *vault.Vault
	Config  *config.Config
	Logger  *zap.Logger
}

func NewDataSourceService(repo DataSourceRepository, rowRepo DataRowRepository, v *vault.Vault, cfg *config.Config, logger *zap.Logger) DataSourceService {
	return &DataSourceServiceImpl{
		Repo:    repo,
		RowRepo: rowRepo,
		Vault:   v,
		Config:  cfg,
		Logger:  logger,
	}
}

// ProvisionForConnection pairs a connection with its data source. Reconnects
// reactivate the existing source and rotate the webhook credentials, so data
// and schema survive a disconnect/reconnect cycle but stale URLs go dead.
func (s *DataSourceServiceImpl) ProvisionForConnection(ctx context.Context, conn *connection.Connection, push bool) error {
	connType := TypeLive
	if push {
		connType = TypePush
	}

	updates := map[string]interface{}{
		"is_active":       true,
		"connection_type": connType,
	}
	if push {
		token, secretBlob, webhookURL, err := s.newWebhookCredentials(conn.Provider)
		if err != nil {
			return err
		}
		updates["webhook_token"] = token
		updates["webhook_secret"] = secretBlob
		updates["webhook_url"] = webhookURL
	}

	existing, err := s.Repo.GetByConnectionID(ctx, conn.ID)
	switch {
	case err == nil:
		if err := s.Repo.Update(ctx, existing.ID, updates); err != nil {
			return err
		}
		s.Logger.Info("data source reactivated",
			zap.String("provider", conn.Provider), zap.String("user_id", conn.UserID))
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		ds := &DataSource{
			UserID:         conn.UserID,
			ConnectionID:   conn.ID,
			Provider:       conn.Provider,
			Name:           sourceName(conn),
			ConnectionType: connType,
			Schema:         map[string]string{},
			Generation:     uuid.NewString(),
			Config:         map[string]string{},
			IsActive:       true,
		}
		if push {
			ds.WebhookToken = updates["webhook_token"].(string)
			ds.WebhookSecret = updates["webhook_secret"].(string)
			ds.WebhookURL = updates["webhook_url"].(string)
		}
		if err := s.Repo.Create(ctx, ds); err != nil {
			return err
		}
		s.Logger.Info("data source provisioned",
			zap.String("provider", conn.Provider), zap.String("user_id", conn.UserID))
		return nil
	default:
		return err
	}
}

// DeactivateForConnection pauses the source and kills its webhook URL.
// Rows are kept so a later reconnect resumes with history intact.
func (s *DataSourceServiceImpl) DeactivateForConnection(ctx context.Context, conn *connection.Connection) error {
	existing, err := s.Repo.GetByConnectionID(ctx, conn.ID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil
		}
		return err
	}

	return s.Repo.Update(ctx, existing.ID, map[string]interface{}{
		"is_active":   false,
		"webhook_url": "",
	})
}

func (s *DataSourceServiceImpl) List(ctx context.Context, userID string) ([]DataSource, error) {
	return s.Repo.List(ctx, userID)
}

// Rows pages through the visible generation only
func (s *DataSourceServiceImpl) Rows(ctx context.Context, userID, dataSourceID string, limit, offset int64) ([]DataRow, error) {
	ds, err := s.Repo.GetByID(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	if ds.UserID != userID {
		return nil, mongo.ErrNoDocuments
	}

	return s.RowRepo.List(ctx, ds.ID, ds.Generation, limit, offset)
}

func (s *DataSourceServiceImpl) GetByWebhookToken(ctx context.Context, token string) (*DataSource, error) {
	return s.Repo.GetByWebhookToken(ctx, token)
}

func (s *DataSourceServiceImpl) DecryptWebhookSecret(ds *DataSource) (string, error) {
	raw, err := s.Vault.Decrypt(ds.WebhookSecret)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// IngestRows appends rows into the current generation (push path). The row
// count is maintained incrementally and the schema widened as new columns show up.
func (s *DataSourceServiceImpl) IngestRows(ctx context.Context, ds *DataSource, rows []map[string]interface{}) error {
	if len(rows) == 0 {
		return nil
	}

	batch := make([]DataRow, 0, len(rows))
	for _, row := range rows {
		batch = append(batch, DataRow{
			DataSourceID: ds.ID,
			Generation:   ds.Generation,
			RowData:      row,
		})
	}

	if err := s.RowRepo.InsertBatch(ctx, batch); err != nil {
		return err
	}

	now := time.Now()
	updates := map[string]interface{}{
		"last_sync_at": now,
	}
	if widened := widenSchema(ds.Schema, rows); widened != nil {
		updates["schema"] = widened
	}
	if err := s.Repo.Update(ctx, ds.ID, updates); err != nil {
		return err
	}
	return s.Repo.IncrementRowCount(ctx, ds.ID, int64(len(rows)))
}

// ReplaceRows swaps the full row set atomically from the reader's point of
// view. New rows land under a fresh generation; only once every batch is in
// do we flip the source's generation pointer. A failure mid-way deletes the
// orphaned new rows and leaves the old generation untouched.
func (s *DataSourceServiceImpl) ReplaceRows(ctx context.Context, ds *DataSource, rows []map[string]interface{}) error {
	newGen := uuid.NewString()

	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}

		batch := make([]DataRow, 0, end-start)
		for _, row := range rows[start:end] {
			batch = append(batch, DataRow{
				DataSourceID: ds.ID,
				Generation:   newGen,
				RowData:      row,
			})
		}

		if err := s.RowRepo.InsertBatch(ctx, batch); err != nil {
			if cleanupErr := s.RowRepo.DeleteGeneration(ctx, ds.ID, newGen); cleanupErr != nil {
				s.Logger.Error("orphaned generation cleanup failed",
					zap.String("provider", ds.Provider), zap.Error(cleanupErr))
			}
			return fmt.Errorf("replace aborted, previous data kept: %w", err)
		}
	}

	now := time.Now()
	updates := map[string]interface{}{
		"generation":   newGen,
		"row_count":    int64(len(rows)),
		"last_sync_at": now,
	}
	if len(rows) > 0 {
		updates["schema"] = inferSchema(rows)
	}
	if err := s.Repo.Update(ctx, ds.ID, updates); err != nil {
		return err
	}

	if err := s.RowRepo.DeleteOtherGenerations(ctx, ds.ID, newGen); err != nil {
		// Non-fatal: readers already see the new generation, the old rows are just garbage
		s.Logger.Warn("old generation cleanup failed",
			zap.String("provider", ds.Provider), zap.Error(err))
	}
	return nil
}

func (s *DataSourceServiceImpl) newWebhookCredentials(provider string) (token, secretBlob, webhookURL string, err error) {
	token = uuid.NewString()

	raw := make([]byte, 32)
	if _, err = rand.Read(raw); err != nil {
		return "", "", "", err
	}
	secretBlob, err = s.Vault.Encrypt([]byte(hex.EncodeToString(raw)))
	if err != nil {
		return "", "", "", err
	}

	webhookURL = s.Config.PublicBaseURL + "/webhooks/" + provider + "/" + token
	return token, secretBlob, webhookURL, nil
}

func sourceName(conn *connection.Connection) string {
	if conn.AccountLabel != "" {
		return conn.Provider + " (" + conn.AccountLabel + ")"
	}
	return conn.Provider
}

// inferSchema derives column types from the rows themselves
func inferSchema(rows []map[string]interface{}) map[string]string {
	schema := map[string]string{}
	for _, row := range rows {
		for col, val := range row {
			t := inferType(val)
			if existing, ok := schema[col]; ok && existing != t {
				schema[col] = "string"
				continue
			}
			schema[col] = t
		}
	}
	return schema
}

// widenSchema adds newly seen columns to an existing schema without
// narrowing anything. Returns nil when no change is needed.
func widenSchema(schema map[string]string, rows []map[string]interface{}) map[string]string {
	var widened map[string]string
	for _, row := range rows {
		for col, val := range row {
			if _, ok := schema[col]; ok {
				continue
			}
			if widened == nil {
				widened = make(map[string]string, len(schema)+1)
				for k, v := range schema {
					widened[k] = v
				}
			}
			if _, ok := widened[col]; !ok {
				widened[col] = inferType(val)
			}
		}
	}
	return widened
}

func inferType(val interface{}) string {
	switch v := val.(type) {
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64:
		return "number"
	case time.Time:
		return "datetime"
	case string:
		if _, err := time.Parse(time.RFC3339, v); err == nil {
			return "datetime"
		}
		return "string"
	default:
		return "string"
	}
}
