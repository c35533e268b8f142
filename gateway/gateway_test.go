package gateway_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"social-gateway/gateway"
	"social-gateway/models"
	"social-gateway/platforms"
	"social-gateway/store"
)

// scriptedAdapter lets each test decide how publish and refresh behave.
type scriptedAdapter struct {
	name models.Platform

	publishErrs  []error
	publishCalls int
	refreshErr   error
	refreshCalls int
	lastToken    string
}

func (s *scriptedAdapter) Name() models.Platform { return s.name }
func (s *scriptedAdapter) UsesPKCE() bool        { return false }
func (s *scriptedAdapter) IdentityInState() bool { return false }

func (s *scriptedAdapter) BuildAuthURL(pending *models.PendingAuthorization) string { return "" }

func (s *scriptedAdapter) ExchangeCode(ctx context.Context, code string, pending *models.PendingAuthorization) (*platforms.TokenResult, error) {
	return nil, errors.New("not used")
}

func (s *scriptedAdapter) FetchProfile(ctx context.Context, accessToken string) (*platforms.Profile, error) {
	return nil, errors.New("not used")
}

func (s *scriptedAdapter) Refresh(ctx context.Context, account *models.ConnectedAccount) (*platforms.TokenResult, error) {
	s.refreshCalls++
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	return &platforms.TokenResult{AccessToken: "refreshed-token", ExpiresIn: 3600}, nil
}

func (s *scriptedAdapter) Publish(ctx context.Context, account *models.ConnectedAccount, content *platforms.Content) (*platforms.PublishResult, error) {
	s.publishCalls++
	s.lastToken = account.AccessToken
	if len(s.publishErrs) > 0 {
		err := s.publishErrs[0]
		s.publishErrs = s.publishErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &platforms.PublishResult{PostID: "post-1"}, nil
}

func (s *scriptedAdapter) FetchRecent(ctx context.Context, account *models.ConnectedAccount, limit int) ([]platforms.Item, error) {
	s.lastToken = account.AccessToken
	return []platforms.Item{{ID: "item-1", Text: "hello"}}, nil
}

type fixture struct {
	gw       *gateway.Gateway
	adapter  *scriptedAdapter
	accounts *store.CredentialStore
	logs     *store.PublishLogStore
}

func newFixture(t *testing.T, adapter *scriptedAdapter) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ConnectedAccount{}, &models.PublishLog{}))

	accounts := store.NewCredentialStore(db)
	logs := store.NewPublishLogStore(db)
	gw := gateway.New(accounts, logs, platforms.Registry{adapter.name: adapter},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &fixture{gw: gw, adapter: adapter, accounts: accounts, logs: logs}
}

func (fx *fixture) connect(t *testing.T, account *models.ConnectedAccount) {
	t.Helper()
	require.NoError(t, fx.accounts.Upsert(context.Background(), account))
}

func authFailure(platform models.Platform) error {
	return &platforms.PublishError{Platform: platform, Kind: platforms.KindAuth, Err: errors.New("401 unauthorized")}
}

func TestPublishNotConnected(t *testing.T) {
	adapter := &scriptedAdapter{name: models.PlatformLinkedin}
	fx := newFixture(t, adapter)

	_, err := fx.gw.Publish(context.Background(), "u1", models.PlatformLinkedin,
		&platforms.Content{Text: "hi"})
	assert.ErrorIs(t, err, gateway.ErrNotConnected)
	assert.Zero(t, adapter.publishCalls, "no provider traffic without a credential")
}

func TestPublishHappyPath(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedAdapter{name: models.PlatformLinkedin}
	fx := newFixture(t, adapter)
	fx.connect(t, &models.ConnectedAccount{
		UserID: "u1", Platform: models.PlatformLinkedin, AccessToken: "tok",
	})

	result, err := fx.gw.Publish(ctx, "u1", models.PlatformLinkedin, &platforms.Content{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "post-1", result.PostID)
	assert.Equal(t, 1, adapter.publishCalls)
	assert.Zero(t, adapter.refreshCalls, "an unexpired token is used as-is")

	entries, err := fx.logs.RecentPublished(ctx, "u1", models.PlatformLinkedin, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "post-1", entries[0].PublishedPostID)
	assert.Equal(t, models.PostStatusPublished, entries[0].Status)
}

func TestPublishProactiveRefreshOnExpiredToken(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedAdapter{name: models.PlatformLinkedin}
	fx := newFixture(t, adapter)
	expired := time.Now().Add(-time.Hour)
	fx.connect(t, &models.ConnectedAccount{
		UserID: "u1", Platform: models.PlatformLinkedin,
		AccessToken: "stale-tok", RefreshToken: "ref", TokenExpiresAt: &expired,
	})

	_, err := fx.gw.Publish(ctx, "u1", models.PlatformLinkedin, &platforms.Content{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, adapter.refreshCalls)
	assert.Equal(t, "refreshed-token", adapter.lastToken, "publish must use the refreshed token")

	stored, err := fx.accounts.Get(ctx, "u1", models.PlatformLinkedin)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-token", stored.AccessToken, "new tokens are persisted")
}

func TestPublishReactiveRefreshThenRetry(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedAdapter{
		name:        models.PlatformLinkedin,
		publishErrs: []error{authFailure(models.PlatformLinkedin)},
	}
	fx := newFixture(t, adapter)
	fx.connect(t, &models.ConnectedAccount{
		UserID: "u1", Platform: models.PlatformLinkedin,
		AccessToken: "rejected-tok", RefreshToken: "ref",
	})

	result, err := fx.gw.Publish(ctx, "u1", models.PlatformLinkedin, &platforms.Content{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "post-1", result.PostID)
	assert.Equal(t, 2, adapter.publishCalls)
	assert.Equal(t, 1, adapter.refreshCalls)
}

func TestPublishReconnectRequiredWhenRefreshFails(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedAdapter{
		name:        models.PlatformLinkedin,
		publishErrs: []error{authFailure(models.PlatformLinkedin)},
		refreshErr:  platforms.ErrNoRefresh,
	}
	fx := newFixture(t, adapter)
	fx.connect(t, &models.ConnectedAccount{
		UserID: "u1", Platform: models.PlatformLinkedin, AccessToken: "rejected-tok",
	})

	_, err := fx.gw.Publish(ctx, "u1", models.PlatformLinkedin, &platforms.Content{Text: "hi"})
	assert.ErrorIs(t, err, gateway.ErrReconnectRequired)
	assert.Equal(t, 1, adapter.publishCalls, "no retry without a fresh token")
}

func TestPublishReconnectRequiredAfterRetryAlsoRejected(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedAdapter{
		name: models.PlatformLinkedin,
		publishErrs: []error{
			authFailure(models.PlatformLinkedin),
			authFailure(models.PlatformLinkedin),
		},
	}
	fx := newFixture(t, adapter)
	fx.connect(t, &models.ConnectedAccount{
		UserID: "u1", Platform: models.PlatformLinkedin,
		AccessToken: "tok", RefreshToken: "ref",
	})

	_, err := fx.gw.Publish(ctx, "u1", models.PlatformLinkedin, &platforms.Content{Text: "hi"})
	assert.ErrorIs(t, err, gateway.ErrReconnectRequired)
	assert.Equal(t, 2, adapter.publishCalls)
	assert.Equal(t, 1, adapter.refreshCalls, "exactly one reactive refresh, never a loop")
}

func TestPublishValidationErrorPassesThrough(t *testing.T) {
	ctx := context.Background()
	valErr := &platforms.PublishError{
		Platform: models.PlatformLinkedin,
		Kind:     platforms.KindValidation,
		Err:      errors.New("text too long"),
	}
	adapter := &scriptedAdapter{name: models.PlatformLinkedin, publishErrs: []error{valErr}}
	fx := newFixture(t, adapter)
	fx.connect(t, &models.ConnectedAccount{
		UserID: "u1", Platform: models.PlatformLinkedin, AccessToken: "tok",
	})

	_, err := fx.gw.Publish(ctx, "u1", models.PlatformLinkedin, &platforms.Content{Text: "hi"})
	var pubErr *platforms.PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, platforms.KindValidation, pubErr.Kind)
	assert.Zero(t, adapter.refreshCalls, "validation failures never trigger a refresh")
}

func TestPublishFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedAdapter{
		name: models.PlatformLinkedin,
		publishErrs: []error{&platforms.PublishError{
			Platform: models.PlatformLinkedin,
			Kind:     platforms.KindTransient,
			Err:      errors.New("503"),
		}},
	}
	fx := newFixture(t, adapter)
	fx.connect(t, &models.ConnectedAccount{
		UserID: "u1", Platform: models.PlatformLinkedin, AccessToken: "tok",
	})

	_, err := fx.gw.Publish(ctx, "u1", models.PlatformLinkedin, &platforms.Content{Text: "hi"})
	require.Error(t, err)

	published, err := fx.logs.RecentPublished(ctx, "u1", models.PlatformLinkedin, 10)
	require.NoError(t, err)
	assert.Empty(t, published, "failed attempts never show up as published")
}

func TestFetchRecentNotConnected(t *testing.T) {
	fx := newFixture(t, &scriptedAdapter{name: models.PlatformTwitter})

	_, err := fx.gw.FetchRecent(context.Background(), "u1", models.PlatformTwitter, 10)
	assert.ErrorIs(t, err, gateway.ErrNotConnected)
}

func TestFetchRecent(t *testing.T) {
	ctx := context.Background()
	adapter := &scriptedAdapter{name: models.PlatformTwitter}
	fx := newFixture(t, adapter)
	fx.connect(t, &models.ConnectedAccount{
		UserID: "u1", Platform: models.PlatformTwitter, AccessToken: "tok",
	})

	items, err := fx.gw.FetchRecent(ctx, "u1", models.PlatformTwitter, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "item-1", items[0].ID)
}

func TestDisconnectIdempotent(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, &scriptedAdapter{name: models.PlatformLinkedin})
	fx.connect(t, &models.ConnectedAccount{
		UserID: "u1", Platform: models.PlatformLinkedin, AccessToken: "tok",
	})

	removed, err := fx.gw.Disconnect(ctx, "u1", models.PlatformLinkedin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = fx.gw.Disconnect(ctx, "u1", models.PlatformLinkedin)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}
