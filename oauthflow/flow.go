// Package oauthflow drives the authorization-code state machine for every
// OAuth-based platform: state generation, pending-attempt persistence,
// callback validation, code exchange and the final account upsert.
package oauthflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"social-gateway/models"
	"social-gateway/platforms"
	"social-gateway/store"
)

var (
	// ErrInvalidState rejects a callback whose state is missing, expired,
	// already consumed, or bound to a different flow.
	ErrInvalidState = errors.New("invalid or expired oauth state")
	// ErrProviderDenied means the provider sent an error parameter instead
	// of a code.
	ErrProviderDenied = errors.New("provider denied authorization")
	// ErrTokenExchangeFailed wraps any failure trading the code for tokens.
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	// ErrUnauthenticatedCallback means no user identity could be resolved
	// at completion time; tokens are never stored against a guess.
	ErrUnauthenticatedCallback = errors.New("no authenticated user for oauth callback")
)

// Callback carries everything a provider redirect delivered.
type Callback struct {
	Platform models.Platform
	Code     string
	State    string
	// ErrorParam is the provider's error query value, when present.
	ErrorParam string
	// SessionUserID is the caller identity the HTTP layer resolved from
	// the live session, empty when none survived the redirect.
	SessionUserID string
}

// Orchestrator owns the PendingAuthorization lifecycle. Adapters never
// touch the pending store.
type Orchestrator struct {
	pending     *store.PendingAuthStore
	accounts    *store.CredentialStore
	adapters    platforms.Registry
	stateSecret []byte
	logger      *slog.Logger
}

func NewOrchestrator(
	pending *store.PendingAuthStore,
	accounts *store.CredentialStore,
	adapters platforms.Registry,
	stateSecret []byte,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		pending:     pending,
		accounts:    accounts,
		adapters:    adapters,
		stateSecret: stateSecret,
		logger:      logger,
	}
}

// Begin starts a connect attempt for userID and returns the provider
// authorization URL to redirect to.
func (o *Orchestrator) Begin(ctx context.Context, userID string, platform models.Platform) (string, error) {
	adapter, ok := o.adapters.Get(platform)
	if !ok {
		return "", platforms.ErrUnknownPlatform
	}
	if adapter.BuildAuthURL(&models.PendingAuthorization{}) == "" {
		// bot-token platforms register a chat instead
		return "", platforms.ErrNoOAuth
	}

	var (
		state string
		err   error
	)
	if adapter.IdentityInState() {
		state, err = SignIdentityState(o.stateSecret, userID, store.PendingAuthTTL)
	} else {
		state, err = NewState()
	}
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}

	now := time.Now()
	pending := &models.PendingAuthorization{
		State:     state,
		UserID:    userID,
		Platform:  platform,
		CreatedAt: now,
		ExpiresAt: now.Add(store.PendingAuthTTL),
	}
	if adapter.UsesPKCE() {
		if pending.CodeVerifier, err = NewCodeVerifier(); err != nil {
			return "", fmt.Errorf("generate code verifier: %w", err)
		}
	}

	if err := o.pending.Put(ctx, pending); err != nil {
		return "", err
	}

	o.logger.Info("oauth flow started", "platform", platform, "user", userID)
	return adapter.BuildAuthURL(pending), nil
}

// Complete finishes a connect attempt from the provider callback. On
// success the connected account has been upserted; identity enrichment is
// best-effort and its failure does not fail the connect.
func (o *Orchestrator) Complete(ctx context.Context, cb *Callback) (*models.ConnectedAccount, error) {
	adapter, ok := o.adapters.Get(cb.Platform)
	if !ok {
		return nil, platforms.ErrUnknownPlatform
	}

	if cb.ErrorParam != "" {
		// the provider said no; burn the state and stop before any
		// token-endpoint traffic
		_, _ = o.pending.Consume(ctx, cb.State)
		return nil, fmt.Errorf("%w: %s", ErrProviderDenied, cb.ErrorParam)
	}

	pending, err := o.pending.Consume(ctx, cb.State)
	if err != nil {
		if errors.Is(err, store.ErrPendingNotFound) {
			return nil, ErrInvalidState
		}
		return nil, err
	}
	if pending.Platform != cb.Platform {
		return nil, ErrInvalidState
	}

	userID, err := o.resolveIdentity(adapter, pending, cb)
	if err != nil {
		return nil, err
	}

	token, err := adapter.ExchangeCode(ctx, cb.Code, pending)
	if err != nil {
		o.logger.Error("token exchange failed", "platform", cb.Platform, "error", err.Error())
		return nil, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}

	account := &models.ConnectedAccount{
		UserID:         userID,
		Platform:       cb.Platform,
		AccessToken:    token.AccessToken,
		RefreshToken:   token.RefreshToken,
		TokenExpiresAt: token.ExpiryTime(time.Now()),
		Metadata:       map[string]string{},
	}
	for k, v := range token.Metadata {
		account.Metadata[k] = v
	}

	// connectivity and identity enrichment are independent: a profile
	// fetch failure still leaves a usable connection
	profile, err := adapter.FetchProfile(ctx, token.AccessToken)
	if err != nil {
		o.logger.Warn("profile fetch failed, storing connection without identity",
			"platform", cb.Platform, "error", err.Error())
	} else {
		account.PlatformUserID = profile.PlatformUserID
		account.DisplayName = profile.DisplayName
		if profile.Username != "" {
			account.Metadata["username"] = profile.Username
		}
		if profile.AvatarURL != "" {
			account.Metadata["avatar_url"] = profile.AvatarURL
		}
		for k, v := range profile.Metadata {
			account.Metadata[k] = v
		}
	}

	if err := o.accounts.Upsert(ctx, account); err != nil {
		return nil, err
	}

	o.logger.Info("oauth flow completed", "platform", cb.Platform, "user", userID)
	return account, nil
}

// resolveIdentity picks the user the new credential belongs to. Flows
// whose callback cannot carry a session read it from the signed state;
// everyone else requires the live session resolved by the HTTP layer.
func (o *Orchestrator) resolveIdentity(adapter platforms.Adapter, pending *models.PendingAuthorization, cb *Callback) (string, error) {
	if adapter.IdentityInState() {
		userID, err := VerifyIdentityState(o.stateSecret, cb.State)
		if err != nil {
			return "", ErrInvalidState
		}
		return userID, nil
	}

	if cb.SessionUserID == "" {
		return "", ErrUnauthenticatedCallback
	}
	// the session user must be the one who started the flow
	if pending.UserID != "" && pending.UserID != cb.SessionUserID {
		return "", ErrInvalidState
	}
	return cb.SessionUserID, nil
}
