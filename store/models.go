package store

import (
	"time"
)

// AuthState holds one in-flight OAuth authorization request, keyed by the
// opaque state token minted at login initiation. The payload is the
// JSON-serialized request data owned by the atproto OAuth client; this layer
// never parses it.
type AuthState struct {
	Key   string `gorm:"primarykey;column:key;size:255"`
	State string `gorm:"column:state;not null"`
}

func (AuthState) TableName() string {
	return "auth_state"
}

// AuthSession holds the established OAuth session for one account, keyed by
// DID. There is at most one row per account; saves are upserts. The payload is
// opaque here, same as AuthState.
type AuthSession struct {
	Key     string `gorm:"primarykey;column:key;size:255"`
	Session string `gorm:"column:session;not null"`
}

func (AuthSession) TableName() string {
	return "auth_session"
}

// App is a registered third-party application. The API secret is only ever
// stored as a bcrypt hash; the plaintext is returned once at registration.
type App struct {
	ID            uint      `gorm:"primarykey" json:"-"`
	AppID         string    `gorm:"uniqueIndex;size:64" json:"app_id"`
	Name          string    `json:"name"`
	Domain        string    `gorm:"uniqueIndex;size:255" json:"domain"`
	CreatorDID    string    `json:"creator_did"`
	APIKey        string    `gorm:"uniqueIndex;size:128" json:"-"`
	APISecretHash string    `json:"-"`
	Status        string    `gorm:"default:active" json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}
