package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConnectionStatus is the lifecycle state of a Xero connection
type ConnectionStatus string

const (
	ConnectionStatusConnected    ConnectionStatus = "CONNECTED"
	ConnectionStatusDisconnected ConnectionStatus = "DISCONNECTED"
)

// XeroConnection stores the OAuth tokens for one user and tenant pair.
// Token columns only ever hold ciphertext.
type XeroConnection struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_xero_connections_user_tenant"`
	TenantID   string    `json:"tenant_id" gorm:"not null;uniqueIndex:idx_xero_connections_user_tenant;index"`
	TenantName string    `json:"tenant_name"`

	AccessToken  string    `json:"-" gorm:"type:text;not null"`
	RefreshToken string    `json:"-" gorm:"type:text;not null"`
	ExpiresAt    time.Time `json:"expires_at" gorm:"not null"`

	ConnectionStatus ConnectionStatus `json:"connection_status" gorm:"type:varchar(20);not null;default:'CONNECTED';index"`
	DisconnectReason string           `json:"disconnect_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (XeroConnection) TableName() string {
	return "xero_connections"
}

// BeforeCreate assigns a primary key when the caller has not
func (c *XeroConnection) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// IsConnected reports whether the connection may be used and refreshed
func (c *XeroConnection) IsConnected() bool {
	return c.ConnectionStatus == ConnectionStatusConnected
}

// NeedsRefresh reports whether the access token expires within margin of now
func (c *XeroConnection) NeedsRefresh(now time.Time, margin time.Duration) bool {
	return !now.Add(margin).Before(c.ExpiresAt)
}
