package testutils

import (
	"github.com/google/uuid"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// RecordID returns a record id in table with a random key.
func RecordID(table string) *surrealmodels.RecordID {
	id := surrealmodels.NewRecordID(table, uuid.NewString())
	return &id
}

// ConversationID returns a unique conversation id of the given kind, e.g.
// "group:3f0c...". Suite tests use it so rows from parallel runs never collide.
func ConversationID(kind string) string {
	return kind + ":" + uuid.NewString()
}

// UserID returns a unique "user:<uuid>" id.
func UserID() string {
	return "user:" + uuid.NewString()
}
