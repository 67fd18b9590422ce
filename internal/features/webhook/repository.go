package webhook

import (
	"context"
	"time"

	"go-insights/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type WebhookEventRepository interface {
	// Record inserts the event and reports whether it was first seen.
	// A duplicate (provider, event_id) insert returns false, nil.
	Record(ctx context.Context, event *WebhookEvent) (bool, error)
	EnsureIndexes(ctx context.Context) error
}

type WebhookEventRepositoryImpl struct {
	collection *mongo.Collection
}

func NewWebhookEventRepository(db *database.MongodbDB) WebhookEventRepository {
	return &WebhookEventRepositoryImpl{
		collection: db.DB.Collection("webhook_events"),
	}
}

func (r *WebhookEventRepositoryImpl) Record(ctx context.Context, event *WebhookEvent) (bool, error) {
	if event.ID.IsZero() {
		event.ID = primitive.NewObjectID()
	}
	event.ReceivedAt = time.Now()

	_, err := r.collection.InsertOne(ctx, event)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *WebhookEventRepositoryImpl) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "event_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}
