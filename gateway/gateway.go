// Package gateway is the single entry point for posting and reading
// through a connected account. It resolves credentials, delegates to the
// matching platform adapter, and translates adapter failures into the
// caller-facing error taxonomy.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"social-gateway/models"
	"social-gateway/platforms"
	"social-gateway/store"
)

var (
	// ErrNotConnected means no usable credential exists for the caller
	// and platform; no provider call is made.
	ErrNotConnected = errors.New("platform not connected")
	// ErrReconnectRequired means the stored token is invalid and refresh
	// was impossible or also failed; the caller must re-run the connect
	// flow. Never auto-retried.
	ErrReconnectRequired = errors.New("token invalid, reconnect required")
)

// ChatRegistrar is the non-OAuth connect surface a bot-token adapter
// offers instead of an authorization flow.
type ChatRegistrar interface {
	VerifyChat(ctx context.Context, chatID string) (*platforms.Profile, error)
}

type Gateway struct {
	accounts *store.CredentialStore
	logs     *store.PublishLogStore
	adapters platforms.Registry
	logger   *slog.Logger
}

func New(accounts *store.CredentialStore, logs *store.PublishLogStore, adapters platforms.Registry, logger *slog.Logger) *Gateway {
	return &Gateway{accounts: accounts, logs: logs, adapters: adapters, logger: logger}
}

// resolve returns the adapter and a usable account, or ErrNotConnected
// before any network traffic happens.
func (g *Gateway) resolve(ctx context.Context, userID string, platform models.Platform) (platforms.Adapter, *models.ConnectedAccount, error) {
	adapter, ok := g.adapters.Get(platform)
	if !ok {
		return nil, nil, platforms.ErrUnknownPlatform
	}

	account, err := g.accounts.Get(ctx, userID, platform)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrNotConnected
	}
	if err != nil {
		return nil, nil, err
	}
	if !account.Usable() {
		return nil, nil, ErrNotConnected
	}
	return adapter, account, nil
}

// refresh obtains new tokens and persists them on the account in place.
func (g *Gateway) refresh(ctx context.Context, adapter platforms.Adapter, account *models.ConnectedAccount) error {
	token, err := adapter.Refresh(ctx, account)
	if err != nil {
		return err
	}
	account.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		account.RefreshToken = token.RefreshToken
	}
	account.TokenExpiresAt = token.ExpiryTime(time.Now())
	if err := g.accounts.Upsert(ctx, account); err != nil {
		return err
	}
	g.logger.Info("token refreshed", "platform", account.Platform, "user", account.UserID)
	return nil
}

// Publish posts content as the caller's connected account. Refresh policy:
// proactive only when the stored expiry has already passed, plus at most
// one reactive refresh-and-retry when the provider rejects the token.
// Provider calls run on a cancel-detached context: once a post may have
// been submitted, a dropped client must not abort it halfway.
func (g *Gateway) Publish(ctx context.Context, userID string, platform models.Platform, content *platforms.Content) (*platforms.PublishResult, error) {
	adapter, account, err := g.resolve(ctx, userID, platform)
	if err != nil {
		return nil, err
	}

	pctx := context.WithoutCancel(ctx)

	if account.TokenExpired(time.Now()) {
		if err := g.refresh(pctx, adapter, account); err != nil {
			g.logger.Warn("proactive refresh failed", "platform", platform, "user", userID, "error", err.Error())
			g.recordAttempt(pctx, userID, account, content, nil, ErrReconnectRequired)
			return nil, ErrReconnectRequired
		}
	}

	result, err := adapter.Publish(pctx, account, content)
	if err != nil && platforms.IsAuthError(err) {
		if rerr := g.refresh(pctx, adapter, account); rerr != nil {
			g.recordAttempt(pctx, userID, account, content, nil, ErrReconnectRequired)
			return nil, ErrReconnectRequired
		}
		result, err = adapter.Publish(pctx, account, content)
		if err != nil && platforms.IsAuthError(err) {
			err = ErrReconnectRequired
		}
	}

	g.recordAttempt(pctx, userID, account, content, result, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// recordAttempt appends the outcome to the publish log. Log failures are
// reported but never fail a publish that already happened.
func (g *Gateway) recordAttempt(ctx context.Context, userID string, account *models.ConnectedAccount, content *platforms.Content, result *platforms.PublishResult, pubErr error) {
	entry := &models.PublishLog{
		UserID:         userID,
		Platform:       account.Platform,
		PlatformUserID: account.PlatformUserID,
		Content:        content.Text,
		MediaCount:     len(content.Media),
		Target:         content.Target,
	}
	if pubErr != nil {
		entry.Status = models.PostStatusFailed
		entry.Logs = pubErr.Error()
	} else {
		entry.Status = models.PostStatusPublished
		if result != nil {
			entry.PublishedPostID = result.PostID
		}
	}
	if err := g.logs.Append(ctx, entry); err != nil {
		g.logger.Error("publish log append failed", "platform", account.Platform, "error", err.Error())
	}
}

// FetchRecent returns the connected account's recent items, with the same
// credential resolution and refresh handling as Publish.
func (g *Gateway) FetchRecent(ctx context.Context, userID string, platform models.Platform, limit int) ([]platforms.Item, error) {
	adapter, account, err := g.resolve(ctx, userID, platform)
	if err != nil {
		return nil, err
	}

	if account.TokenExpired(time.Now()) {
		if err := g.refresh(ctx, adapter, account); err != nil {
			return nil, ErrReconnectRequired
		}
	}

	items, err := adapter.FetchRecent(ctx, account, limit)
	if err != nil && platforms.IsAuthError(err) {
		if rerr := g.refresh(ctx, adapter, account); rerr != nil {
			return nil, ErrReconnectRequired
		}
		items, err = adapter.FetchRecent(ctx, account, limit)
		if err != nil && platforms.IsAuthError(err) {
			err = ErrReconnectRequired
		}
	}
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Disconnect removes the stored credential. Idempotent: zero affected
// rows is success.
func (g *Gateway) Disconnect(ctx context.Context, userID string, platform models.Platform) (int64, error) {
	return g.accounts.Delete(ctx, userID, platform)
}

// ListConnections returns the caller's connected accounts.
func (g *Gateway) ListConnections(ctx context.Context, userID string) ([]models.ConnectedAccount, error) {
	return g.accounts.List(ctx, userID)
}

// RegisterChat connects a bot-token platform by verifying and storing a
// destination chat id. The platform's adapter must support registration.
func (g *Gateway) RegisterChat(ctx context.Context, userID string, platform models.Platform, chatID string) (*models.ConnectedAccount, error) {
	adapter, ok := g.adapters.Get(platform)
	if !ok {
		return nil, platforms.ErrUnknownPlatform
	}
	registrar, ok := adapter.(ChatRegistrar)
	if !ok {
		return nil, platforms.ErrNoOAuth
	}

	profile, err := registrar.VerifyChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	account := &models.ConnectedAccount{
		UserID:         userID,
		Platform:       platform,
		PlatformUserID: profile.PlatformUserID,
		DisplayName:    profile.DisplayName,
		Metadata:       profile.Metadata,
	}
	if err := g.accounts.Upsert(ctx, account); err != nil {
		return nil, err
	}

	g.logger.Info("chat registered", "platform", platform, "user", userID, "chat", profile.PlatformUserID)
	return account, nil
}
