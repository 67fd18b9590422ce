package webhook

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// WebhookEvent records one accepted provider event. The unique
// (provider, event_id) pair makes redeliveries no-ops.
type WebhookEvent struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Provider     string             `json:"provider" bson:"provider"`
	EventID      string             `json:"event_id" bson:"event_id"`
	DataSourceID primitive.ObjectID `json:"data_source_id" bson:"data_source_id"`
	DataType     string             `json:"data_type" bson:"data_type"`
	EntityID     string             `json:"entity_id" bson:"entity_id"`
	ReceivedAt   time.Time          `json:"received_at" bson:"received_at"`
}
