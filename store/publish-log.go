package store

import (
	"context"

	"gorm.io/gorm"

	"social-gateway/models"
)

// PublishLogStore records publish attempts and serves the recent-posts
// feed for platforms whose API cannot list past posts.
type PublishLogStore struct {
	db *gorm.DB
}

func NewPublishLogStore(db *gorm.DB) *PublishLogStore {
	return &PublishLogStore{db: db}
}

func (s *PublishLogStore) Append(ctx context.Context, entry *models.PublishLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return &StoreError{Op: "publish log append", Err: err}
	}
	return nil
}

// RecentPublished returns the newest successfully published entries for
// (userID, platform), newest first.
func (s *PublishLogStore) RecentPublished(ctx context.Context, userID string, platform models.Platform, limit int) ([]models.PublishLog, error) {
	var entries []models.PublishLog
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND platform = ? AND status = ?", userID, platform, models.PostStatusPublished).
		Order("created_at desc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, &StoreError{Op: "publish log recent", Err: err}
	}
	return entries, nil
}
