package models

import "time"

// Log is the persisted shape of a single log entry written by the async DB writer
type Log struct {
	Message      string    `bson:"message"`
	Provider     string    `bson:"provider,omitempty"`
	UserId       string    `bson:"user_id,omitempty"`
	Security     bool      `bson:"security,omitempty"` // signature/state failures are flagged for review
	LogLevelId   int       `bson:"log_level_id"`
	Caller       string    `bson:"caller,omitempty"`
	CreatedOnUtc time.Time `bson:"created_on_utc"`
}
