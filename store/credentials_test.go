package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"social-gateway/models"
	"social-gateway/store"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ConnectedAccount{}, &models.PublishLog{}))
	return db
}

func TestUpsertThenGet(t *testing.T) {
	ctx := context.Background()
	accounts := store.NewCredentialStore(testDB(t))

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	err := accounts.Upsert(ctx, &models.ConnectedAccount{
		UserID:         "u1",
		Platform:       models.PlatformLinkedin,
		PlatformUserID: "urn:li:person:abc",
		DisplayName:    "Ada",
		AccessToken:    "tok-1",
		RefreshToken:   "ref-1",
		TokenExpiresAt: &expiry,
		Metadata:       map[string]string{"locale": "en"},
	})
	require.NoError(t, err)

	got, err := accounts.Get(ctx, "u1", models.PlatformLinkedin)
	require.NoError(t, err)
	assert.Equal(t, "urn:li:person:abc", got.PlatformUserID)
	assert.Equal(t, "tok-1", got.AccessToken)
	assert.Equal(t, "ref-1", got.RefreshToken)
	require.NotNil(t, got.TokenExpiresAt)
	assert.True(t, expiry.Equal(got.TokenExpiresAt.UTC()))
	assert.Equal(t, "en", got.Metadata["locale"])
}

func TestGetNotConnected(t *testing.T) {
	accounts := store.NewCredentialStore(testDB(t))

	_, err := accounts.Get(context.Background(), "u1", models.PlatformTwitter)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpsertReplacesTokensAndMergesMetadata(t *testing.T) {
	ctx := context.Background()
	accounts := store.NewCredentialStore(testDB(t))

	require.NoError(t, accounts.Upsert(ctx, &models.ConnectedAccount{
		UserID:      "u1",
		Platform:    models.PlatformFacebook,
		AccessToken: "old-token",
		Metadata:    map[string]string{"page_id": "p1", "page_name": "Old Page"},
	}))
	require.NoError(t, accounts.Upsert(ctx, &models.ConnectedAccount{
		UserID:      "u1",
		Platform:    models.PlatformFacebook,
		AccessToken: "new-token",
		Metadata:    map[string]string{"page_name": "New Page"},
	}))

	got, err := accounts.Get(ctx, "u1", models.PlatformFacebook)
	require.NoError(t, err)
	assert.Equal(t, "new-token", got.AccessToken)
	assert.Equal(t, "New Page", got.Metadata["page_name"])
	assert.Equal(t, "p1", got.Metadata["page_id"], "untouched metadata keys survive a reconnect")

	require.NoError(t, accounts.Upsert(ctx, &models.ConnectedAccount{
		UserID:      "u1",
		Platform:    models.PlatformFacebook,
		AccessToken: "third-token",
	}))
	all, err := accounts.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 1, "reconnecting never duplicates the row")
}

func TestSamePlatformDifferentUsers(t *testing.T) {
	ctx := context.Background()
	accounts := store.NewCredentialStore(testDB(t))

	require.NoError(t, accounts.Upsert(ctx, &models.ConnectedAccount{
		UserID: "u1", Platform: models.PlatformTwitter, AccessToken: "t1",
	}))
	require.NoError(t, accounts.Upsert(ctx, &models.ConnectedAccount{
		UserID: "u2", Platform: models.PlatformTwitter, AccessToken: "t2",
	}))

	a, err := accounts.Get(ctx, "u1", models.PlatformTwitter)
	require.NoError(t, err)
	b, err := accounts.Get(ctx, "u2", models.PlatformTwitter)
	require.NoError(t, err)
	assert.Equal(t, "t1", a.AccessToken)
	assert.Equal(t, "t2", b.AccessToken)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	accounts := store.NewCredentialStore(testDB(t))

	require.NoError(t, accounts.Upsert(ctx, &models.ConnectedAccount{
		UserID: "u1", Platform: models.PlatformYoutube, AccessToken: "tok",
	}))

	removed, err := accounts.Delete(ctx, "u1", models.PlatformYoutube)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = accounts.Delete(ctx, "u1", models.PlatformYoutube)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)

	_, err = accounts.Get(ctx, "u1", models.PlatformYoutube)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListOnlyOwnConnections(t *testing.T) {
	ctx := context.Background()
	accounts := store.NewCredentialStore(testDB(t))

	require.NoError(t, accounts.Upsert(ctx, &models.ConnectedAccount{
		UserID: "u1", Platform: models.PlatformLinkedin, AccessToken: "a",
	}))
	require.NoError(t, accounts.Upsert(ctx, &models.ConnectedAccount{
		UserID: "u1", Platform: models.PlatformTwitter, AccessToken: "b",
	}))
	require.NoError(t, accounts.Upsert(ctx, &models.ConnectedAccount{
		UserID: "u2", Platform: models.PlatformTwitter, AccessToken: "c",
	}))

	got, err := accounts.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.PlatformLinkedin, got[0].Platform)
	assert.Equal(t, models.PlatformTwitter, got[1].Platform)
}

func TestConcurrentUpsertsKeepOneRow(t *testing.T) {
	ctx := context.Background()
	accounts := store.NewCredentialStore(testDB(t))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = accounts.Upsert(ctx, &models.ConnectedAccount{
				UserID:      "u1",
				Platform:    models.PlatformLinkedin,
				AccessToken: "tok",
			})
		}(i)
	}
	wg.Wait()

	got, err := accounts.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
