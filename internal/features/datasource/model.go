package datasource

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	TypeLive = "live"
	TypePush = "push"
)

// DataSource is the analytics-facing view over one connection's data.
// Live sources are pulled on a schedule; push sources receive webhooks.
type DataSource struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	UserID       string             `json:"user_id" bson:"user_id"`
	ConnectionID primitive.ObjectID `json:"connection_id,omitempty" bson:"connection_id,omitempty"`
	Provider     string             `json:"provider" bson:"provider"`
	Name         string             `json:"name" bson:"name"`

	ConnectionType string `json:"connection_type" bson:"connection_type"`

	// Schema maps column name to inferred type (string/number/boolean/datetime)
	Schema map[string]string `json:"schema" bson:"schema"`

	RowCount   int64      `json:"row_count" bson:"row_count"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty" bson:"last_sync_at,omitempty"`

	// Generation tags the currently visible row set; replaced atomically on full sync
	Generation string `json:"-" bson:"generation"`

	// WebhookToken is the unguessable path segment of the ingestion URL.
	// WebhookSecret is vault-encrypted and only ever used server-side.
	WebhookToken  string `json:"-" bson:"webhook_token,omitempty"`
	WebhookSecret string `json:"-" bson:"webhook_secret,omitempty"`
	WebhookURL    string `json:"webhook_url,omitempty" bson:"webhook_url,omitempty"`

	// Config holds provider-specific sync settings (spreadsheet_id, range, ...)
	Config map[string]string `json:"config" bson:"config"`

	IsActive  bool      `json:"is_active" bson:"is_active"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// DataRow is one canonical record belonging to a data source generation
type DataRow struct {
	ID           primitive.ObjectID     `json:"id" bson:"_id,omitempty"`
	DataSourceID primitive.ObjectID     `json:"data_source_id" bson:"data_source_id"`
	Generation   string                 `json:"-" bson:"generation"`
	RowData      map[string]interface{} `json:"row_data" bson:"row_data"`
	CreatedAt    time.Time              `json:"created_at" bson:"created_at"`
}
