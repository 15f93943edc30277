package collectible

import (
	"time"

	"gorm.io/datatypes"
)

// Token is a minted collectible. RequestID makes a redelivered mint task a
// no-op.
type Token struct {
	ID        string         `gorm:"column:id;primaryKey;size:32" json:"-"`
	TokenID   string         `gorm:"column:token_id;uniqueIndex;size:64" json:"token_id"`
	OwnerID   string         `gorm:"column:owner_id;index;size:64" json:"owner_id"`
	RequestID string         `gorm:"column:request_id;uniqueIndex;size:32" json:"-"`
	Metadata  datatypes.JSON `gorm:"column:metadata" json:"metadata"`
	Reference string         `gorm:"column:reference;size:255" json:"reference,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (Token) TableName() string { return "collectible_tokens" }

func Models() []any {
	return []any{&Token{}}
}
