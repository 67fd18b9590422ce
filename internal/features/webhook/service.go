package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go-insights/internal/features/connection"
	"go-insights/internal/features/datasource"
	"go-insights/internal/providers"
	"go-insights/internal/vault"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var (
	// ErrUnknownToken: no active source owns the token, surfaces as 404
	ErrUnknownToken = errors.New("unknown webhook token")
	// ErrBadSignature: payload failed verification, surfaces as 401
	ErrBadSignature = errors.New("webhook signature verification failed")
)

type WebhookService interface {
	// Ingest verifies, parses and stores one inbound delivery. Returns the
	// number of rows actually written (0 when every event was a redelivery).
	Ingest(ctx context.Context, provider, token string, rawBody []byte, signature string) (int, error)
}

type WebhookServiceImpl struct {
	Registry    *providers.Registry
	Sources     datasource.DataSourceService
	Events      WebhookEventRepository
	Connections connection.ConnectionRepository
	Logger      *zap.Logger
}

func NewWebhookService(registry *providers.Registry, sources datasource.DataSourceService, events WebhookEventRepository, connections connection.ConnectionRepository, logger *zap.Logger) WebhookService {
	return &WebhookServiceImpl{
		Registry:    registry,
		Sources:     sources,
		Events:      events,
		Connections: connections,
		Logger:      logger,
	}
}

// Ingest order matters: token resolution before signature so probes against
// dead URLs learn nothing, signature before parsing so unauthenticated bodies
// are never interpreted.
func (s *WebhookServiceImpl) Ingest(ctx context.Context, provider, token string, rawBody []byte, signature string) (int, error) {
	adapter, err := s.Registry.Get(provider)
	if err != nil {
		return 0, ErrUnknownToken
	}

	ds, err := s.Sources.GetByWebhookToken(ctx, token)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ErrUnknownToken
		}
		return 0, err
	}
	if ds.Provider != provider {
		return 0, ErrUnknownToken
	}

	secret, err := s.Sources.DecryptWebhookSecret(ds)
	if err != nil {
		// Same contract as the credential path: an undecryptable secret is
		// fatal for this credential, never silently skipped
		var de *vault.DecryptionError
		if errors.As(err, &de) && !ds.ConnectionID.IsZero() {
			_ = s.Connections.Update(ctx, ds.ConnectionID.Hex(), map[string]interface{}{
				"health_status":     connection.HealthUnhealthy,
				"last_health_check": time.Now(),
			})
			s.Logger.Error("stored webhook secret is undecryptable",
				zap.String("provider", provider), zap.String("user_id", ds.UserID), zap.Error(err))
		}
		return 0, err
	}

	if !adapter.VerifyWebhookSignature(rawBody, signature, secret) {
		s.Logger.Warn("webhook rejected, bad signature",
			zap.String("provider", provider), zap.String("user_id", ds.UserID), zap.Bool("security", true))
		return 0, ErrBadSignature
	}

	events, err := adapter.ParseWebhookPayload(rawBody)
	if err != nil {
		return 0, fmt.Errorf("unparseable %s payload: %w", provider, err)
	}

	bodyDigest := ""
	written := 0
	for i, ev := range events {
		eventID := ev.EventID
		if eventID == "" {
			// Providers without delivery ids get a content-derived one so
			// exact redeliveries still dedupe
			if bodyDigest == "" {
				sum := sha256.Sum256(rawBody)
				bodyDigest = hex.EncodeToString(sum[:])
			}
			eventID = fmt.Sprintf("%s-%d", bodyDigest, i)
		}

		inserted, err := s.Events.Record(ctx, &WebhookEvent{
			Provider:     provider,
			EventID:      eventID,
			DataSourceID: ds.ID,
			DataType:     ev.DataType,
			EntityID:     ev.EntityID,
		})
		if err != nil {
			return written, err
		}
		if !inserted {
			continue
		}

		row := map[string]interface{}{
			"event_type":  ev.DataType,
			"external_id": ev.EntityID,
		}
		for k, v := range ev.Attributes {
			row[k] = v
		}

		if err := s.Sources.IngestRows(ctx, ds, []map[string]interface{}{row}); err != nil {
			return written, err
		}
		written++
	}

	s.Logger.Info("webhook ingested",
		zap.String("provider", provider), zap.String("user_id", ds.UserID),
		zap.Int("events", len(events)), zap.Int("rows_written", written))
	return written, nil
}
