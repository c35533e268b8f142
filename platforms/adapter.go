// Package platforms holds one adapter per social network. Every adapter
// speaks its provider's wire protocol behind the same capability set so
// nothing above this package special-cases a platform.
package platforms

import (
	"context"
	"errors"
	"time"

	"social-gateway/models"
)

// Media is one attachment taken from the publish request: either raw
// bytes from a multipart upload, or a publicly reachable URL for
// providers that fetch media themselves (Instagram containers).
type Media struct {
	Filename string
	MimeType string
	Data     []byte
	URL      string
}

// Content is what the caller wants posted.
type Content struct {
	Text  string
	Title string
	Link  string
	// Target optionally routes the post, e.g. a LinkedIn organization URN
	// or a Facebook page id other than the connected one.
	Target string
	Media  []Media
}

// TokenResult is the outcome of a code exchange or refresh.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the provider-reported lifetime in seconds, 0 when the
	// provider did not report one.
	ExpiresIn int64
	// Metadata carries provider extras learned during the exchange, e.g.
	// the managed-pages list; merged into account metadata on upsert.
	Metadata map[string]string
}

// ExpiryTime converts ExpiresIn to an absolute timestamp, nil when the
// provider reported no lifetime.
func (t *TokenResult) ExpiryTime(now time.Time) *time.Time {
	if t.ExpiresIn <= 0 {
		return nil
	}
	exp := now.Add(time.Duration(t.ExpiresIn) * time.Second)
	return &exp
}

// Profile is the remote identity behind an access token.
type Profile struct {
	PlatformUserID string
	DisplayName    string
	Username       string
	AvatarURL      string
	Metadata       map[string]string
}

// PublishResult is the provider's answer to a create-post call, passed
// through to the caller unreinterpreted.
type PublishResult struct {
	PostID string
	Raw    map[string]interface{}
}

// Item is one entry of a recent-posts feed, normalized across providers.
type Item struct {
	ID        string
	Text      string
	URL       string
	CreatedAt time.Time
}

// ErrNoRefresh is returned by Refresh when the provider has no refresh
// concept or the account holds no refresh token.
var ErrNoRefresh = errors.New("refresh not supported for this account")

// ErrUnknownPlatform means a request named a platform with no registered
// adapter.
var ErrUnknownPlatform = errors.New("unknown platform")

// Adapter is the per-provider capability set.
type Adapter interface {
	Name() models.Platform

	// UsesPKCE tells the orchestrator to generate a code verifier at
	// flow start.
	UsesPKCE() bool

	// IdentityInState tells the orchestrator the callback arrives without
	// a usable session, so the initiating user must ride in the signed
	// state payload.
	IdentityInState() bool

	// BuildAuthURL returns the provider authorization URL embedding the
	// pending attempt's state and, for PKCE flows, the derived challenge.
	BuildAuthURL(pending *models.PendingAuthorization) string

	// ExchangeCode trades the callback code for tokens. It must not touch
	// the credential store.
	ExchangeCode(ctx context.Context, code string, pending *models.PendingAuthorization) (*TokenResult, error)

	// FetchProfile resolves the remote identity behind a fresh token.
	// Failures here are non-fatal to the connect flow.
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)

	// Refresh obtains a new token pair, or ErrNoRefresh.
	Refresh(ctx context.Context, account *models.ConnectedAccount) (*TokenResult, error)

	Publish(ctx context.Context, account *models.ConnectedAccount, content *Content) (*PublishResult, error)

	FetchRecent(ctx context.Context, account *models.ConnectedAccount, limit int) ([]Item, error)
}

// Registry maps platform names to their adapters.
type Registry map[models.Platform]Adapter

func (r Registry) Get(platform models.Platform) (Adapter, bool) {
	a, ok := r[platform]
	return a, ok
}
