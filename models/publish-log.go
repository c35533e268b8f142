package models

import (
	"time"
)

const (
	PostStatusPublished = "published"
	PostStatusFailed    = "failed"
)

// PublishLog records one publish attempt and its outcome. Telegram's
// recent feed is served from these rows because the Bot API cannot list
// past channel posts.
type PublishLog struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	UserID          string    `gorm:"column:user_id;not null;size:255;index"`
	Platform        Platform  `gorm:"column:platform;not null;size:64;index"`
	PlatformUserID  string    `gorm:"column:platform_user_id;size:255"`
	Content         string    `gorm:"column:content;type:text"`
	MediaCount      int       `gorm:"column:media_count"`
	Target          string    `gorm:"column:target;size:255"`
	Status          string    `gorm:"column:status;not null;size:64"`
	PublishedPostID string    `gorm:"column:published_post_id;size:255"`
	Logs            string    `gorm:"column:logs;type:text"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoCreateTime;autoUpdateTime"`
}

func (PublishLog) TableName() string {
	return "publish_logs"
}
