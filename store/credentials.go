package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"social-gateway/models"
)

// ErrNotFound is returned by Get when no account exists for the key.
var ErrNotFound = errors.New("connected account not found")

// StoreError wraps persistence-layer failures so callers can tell them
// apart from provider errors.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// CredentialStore is the single source of truth for connected accounts.
type CredentialStore struct {
	db *gorm.DB
}

func NewCredentialStore(db *gorm.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// Upsert inserts or replaces the account for (UserID, Platform). All
// fields are overwritten by the incoming record except metadata, which is
// merged key-by-key with incoming values winning. The write itself is a
// single on-conflict statement so concurrent attempts serialize on the
// unique index.
func (s *CredentialStore) Upsert(ctx context.Context, account *models.ConnectedAccount) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.ConnectedAccount
		err := tx.Where("user_id = ? AND platform = ?", account.UserID, account.Platform).
			First(&existing).Error
		switch {
		case err == nil:
			if len(existing.Metadata) > 0 {
				merged := make(map[string]string, len(existing.Metadata)+len(account.Metadata))
				for k, v := range existing.Metadata {
					merged[k] = v
				}
				for k, v := range account.Metadata {
					merged[k] = v
				}
				account.Metadata = merged
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// first connect for this key
		default:
			return err
		}

		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "platform"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"platform_user_id", "display_name", "access_token",
				"refresh_token", "token_expires_at", "metadata", "updated_at",
			}),
		}).Create(account).Error
	})
	if err != nil {
		return &StoreError{Op: "upsert", Err: err}
	}
	return nil
}

// Get returns the account for (userID, platform) or ErrNotFound.
func (s *CredentialStore) Get(ctx context.Context, userID string, platform models.Platform) (*models.ConnectedAccount, error) {
	var account models.ConnectedAccount
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND platform = ?", userID, platform).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StoreError{Op: "get", Err: err}
	}
	return &account, nil
}

// Delete removes the account and reports how many rows went away. Zero is
// not an error; disconnect is idempotent.
func (s *CredentialStore) Delete(ctx context.Context, userID string, platform models.Platform) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND platform = ?", userID, platform).
		Delete(&models.ConnectedAccount{})
	if res.Error != nil {
		return 0, &StoreError{Op: "delete", Err: res.Error}
	}
	return res.RowsAffected, nil
}

// List returns every account the user has connected.
func (s *CredentialStore) List(ctx context.Context, userID string) ([]models.ConnectedAccount, error) {
	var accounts []models.ConnectedAccount
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("platform asc").
		Find(&accounts).Error
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	return accounts, nil
}
