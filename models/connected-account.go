package models

import (
	"time"
)

// Platform identifies an external social network.
type Platform string

const (
	PlatformLinkedin  Platform = "linkedin"
	PlatformTwitter   Platform = "twitter"
	PlatformYoutube   Platform = "youtube"
	PlatformTelegram  Platform = "telegram"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
)

// KnownPlatforms lists every platform value a request may name.
var KnownPlatforms = map[Platform]bool{
	PlatformLinkedin:  true,
	PlatformTwitter:   true,
	PlatformYoutube:   true,
	PlatformTelegram:  true,
	PlatformFacebook:  true,
	PlatformInstagram: true,
}

// ConnectedAccount links one user to one platform. (UserID, Platform) is
// the natural key; a repeated connect overwrites the row.
//
// An empty AccessToken means the connection is pending or disconnected;
// Telegram rows never carry one because the bot credential is process-wide.
type ConnectedAccount struct {
	ID             uint              `gorm:"primaryKey;autoIncrement"`
	UserID         string            `gorm:"column:user_id;not null;size:255;uniqueIndex:idx_user_platform"`
	Platform       Platform          `gorm:"column:platform;not null;size:64;uniqueIndex:idx_user_platform"`
	PlatformUserID string            `gorm:"column:platform_user_id;size:255"`
	DisplayName    string            `gorm:"column:display_name;size:255"`
	AccessToken    string            `gorm:"column:access_token;size:2048"`
	RefreshToken   string            `gorm:"column:refresh_token;size:2048"`
	TokenExpiresAt *time.Time        `gorm:"column:token_expires_at"`
	Metadata       map[string]string `gorm:"column:metadata;serializer:json;type:text"`
	CreatedAt      time.Time         `gorm:"autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"autoCreateTime;autoUpdateTime"`
}

func (ConnectedAccount) TableName() string {
	return "connected_accounts"
}

// Usable reports whether the account can serve publish/fetch calls.
func (a *ConnectedAccount) Usable() bool {
	return a.AccessToken != "" || a.Platform == PlatformTelegram
}

// TokenExpired reports whether the stored expiry has already passed. A
// missing expiry is treated as not expired; the provider will tell us.
func (a *ConnectedAccount) TokenExpired(now time.Time) bool {
	return a.TokenExpiresAt != nil && now.After(*a.TokenExpiresAt)
}

// PendingAuthorization is one in-flight OAuth attempt, kept in redis under
// its state value until the callback consumes it or the TTL fires.
type PendingAuthorization struct {
	State        string    `json:"state"`
	CodeVerifier string    `json:"code_verifier,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	Platform     Platform  `json:"platform"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}
