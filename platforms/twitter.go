package platforms

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/tweet/managetweet"
	"github.com/michimani/gotwi/tweet/managetweet/types"

	"social-gateway/helpers"
	"social-gateway/models"
)

const (
	twitterAuthURL    = "https://twitter.com/i/oauth2/authorize"
	twitterTokenURL   = "https://api.twitter.com/2/oauth2/token"
	twitterUsersMeURL = "https://api.twitter.com/2/users/me"
	twitterTweetsURL  = "https://api.twitter.com/2/users/%s/tweets"
	twitterUploadURL  = "https://upload.twitter.com/1.1/media/upload.json?media_category=tweet_image"
)

var twitterScopes = []string{"tweet.read", "tweet.write", "users.read", "offline.access"}

// PKCEChallengeS256 derives the code challenge from a verifier:
// base64url(SHA-256(verifier)), no padding.
func PKCEChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// TwitterAdapter runs authorization-code + PKCE. The token endpoint wants
// Basic client credentials alongside the code verifier, so the exchange is
// done by hand rather than through oauth2.Config.
//
// Endpoint fields default to the production API and stay overridable for
// tests; httpClient is handed to gotwi so tweet creation goes through the
// same transport.
type TwitterAdapter struct {
	clientID     string
	clientSecret string
	redirectURL  string

	authURL    string
	tokenURL   string
	usersMeURL string
	tweetsURL  string
	uploadURL  string
	httpClient *http.Client
}

func NewTwitterAdapter(clientID, clientSecret, redirectURL string) *TwitterAdapter {
	return &TwitterAdapter{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  redirectURL,
		authURL:      twitterAuthURL,
		tokenURL:     twitterTokenURL,
		usersMeURL:   twitterUsersMeURL,
		tweetsURL:    twitterTweetsURL,
		uploadURL:    twitterUploadURL,
	}
}

func (a *TwitterAdapter) Name() models.Platform { return models.PlatformTwitter }
func (a *TwitterAdapter) UsesPKCE() bool        { return true }
func (a *TwitterAdapter) IdentityInState() bool { return false }

func (a *TwitterAdapter) basicAuth() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(a.clientID+":"+a.clientSecret))
}

func (a *TwitterAdapter) BuildAuthURL(pending *models.PendingAuthorization) string {
	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {a.clientID},
		"redirect_uri":          {a.redirectURL},
		"scope":                 {strings.Join(twitterScopes, " ")},
		"state":                 {pending.State},
		"code_challenge":        {PKCEChallengeS256(pending.CodeVerifier)},
		"code_challenge_method": {"S256"},
	}
	return a.authURL + "?" + q.Encode()
}

type twitterTokenResponse struct {
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	AccessToken  string `json:"access_token"`
	Scope        string `json:"scope"`
	RefreshToken string `json:"refresh_token"`
}

func (a *TwitterAdapter) ExchangeCode(ctx context.Context, code string, pending *models.PendingAuthorization) (*TokenResult, error) {
	if pending.CodeVerifier == "" {
		// never hit the network without the verifier from INITIATED
		return nil, fmt.Errorf("missing code verifier for twitter exchange")
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {a.redirectURL},
		"client_id":     {a.clientID},
		"code_verifier": {pending.CodeVerifier},
	}
	resp, err := helpers.MakeHTTPRequest[twitterTokenResponse](ctx, http.MethodPost, a.tokenURL,
		map[string]string{
			"Content-Type":  "application/x-www-form-urlencoded",
			"Authorization": a.basicAuth(),
		}, nil, form)
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("twitter token response missing access_token")
	}
	return &TokenResult{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
	}, nil
}

type twitterUserResponse struct {
	Data struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		Username        string `json:"username"`
		ProfileImageURL string `json:"profile_image_url"`
	} `json:"data"`
}

func (a *TwitterAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	resp, err := helpers.MakeHTTPRequest[twitterUserResponse](ctx, http.MethodGet, a.usersMeURL,
		map[string]string{"Authorization": "Bearer " + accessToken},
		url.Values{"user.fields": {"profile_image_url"}}, nil)
	if err != nil {
		return nil, err
	}
	if resp.Data.ID == "" {
		return nil, fmt.Errorf("twitter users/me returned no id")
	}
	return &Profile{
		PlatformUserID: resp.Data.ID,
		DisplayName:    resp.Data.Name,
		Username:       resp.Data.Username,
		AvatarURL:      resp.Data.ProfileImageURL,
		Metadata:       map[string]string{"username": resp.Data.Username},
	}, nil
}

func (a *TwitterAdapter) Refresh(ctx context.Context, account *models.ConnectedAccount) (*TokenResult, error) {
	if account.RefreshToken == "" {
		return nil, ErrNoRefresh
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {account.RefreshToken},
		"client_id":     {a.clientID},
	}
	resp, err := helpers.MakeHTTPRequest[twitterTokenResponse](ctx, http.MethodPost, a.tokenURL,
		map[string]string{
			"Content-Type":  "application/x-www-form-urlencoded",
			"Authorization": a.basicAuth(),
		}, nil, form)
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("twitter refresh returned no access token")
	}
	return &TokenResult{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
	}, nil
}

type twitterMediaUpload struct {
	MediaID       int64  `json:"media_id"`
	MediaIDString string `json:"media_id_string"`
}

// Publish uploads every attachment first, then creates exactly one tweet
// referencing all the returned media ids. Text-only posts skip the upload
// step entirely.
func (a *TwitterAdapter) Publish(ctx context.Context, account *models.ConnectedAccount, content *Content) (*PublishResult, error) {
	if content.Text == "" && len(content.Media) == 0 {
		return nil, newValidationError(a.Name(), "tweet needs text or media")
	}

	var mediaIDs []string
	for _, media := range content.Media {
		mediaID, err := a.uploadMedia(ctx, account.AccessToken, media)
		if err != nil {
			return nil, classifyError(a.Name(), err)
		}
		mediaIDs = append(mediaIDs, mediaID)
	}

	client, err := gotwi.NewClientWithAccessToken(&gotwi.NewClientWithAccessTokenInput{
		AccessToken: account.AccessToken,
		HTTPClient:  a.httpClient,
	})
	if err != nil {
		return nil, classifyError(a.Name(), err)
	}

	var post types.CreateInput
	post.Text = gotwi.String(content.Text)
	if len(mediaIDs) > 0 {
		post.Media = &types.CreateInputMedia{MediaIDs: mediaIDs}
	}

	res, err := managetweet.Create(ctx, client, &post)
	if err != nil {
		return nil, a.classifyTweetError(err)
	}

	tweetID := gotwi.StringValue(res.Data.ID)
	return &PublishResult{
		PostID: tweetID,
		Raw:    map[string]interface{}{"id": tweetID, "text": gotwi.StringValue(res.Data.Text)},
	}, nil
}

func (a *TwitterAdapter) classifyTweetError(err error) *PublishError {
	var ge *gotwi.GotwiError
	if errors.As(err, &ge) {
		switch {
		case ge.StatusCode == http.StatusUnauthorized || ge.StatusCode == http.StatusForbidden:
			return &PublishError{Platform: a.Name(), Kind: KindAuth, Err: err}
		case ge.StatusCode == http.StatusTooManyRequests || ge.StatusCode >= 500:
			return &PublishError{Platform: a.Name(), Kind: KindTransient, Err: err}
		case ge.StatusCode >= 400:
			return &PublishError{Platform: a.Name(), Kind: KindValidation, Err: err}
		}
	}
	return classifyError(a.Name(), err)
}

func (a *TwitterAdapter) uploadMedia(ctx context.Context, accessToken string, media Media) (string, error) {
	resp, err := helpers.MakeMultipartRequest[twitterMediaUpload](ctx, a.uploadURL,
		map[string]string{"Authorization": "Bearer " + accessToken},
		[]helpers.MultipartField{{Name: "media", Filename: media.Filename, Value: media.Data}})
	if err != nil {
		return "", err
	}
	if resp.MediaIDString != "" {
		return resp.MediaIDString, nil
	}
	if resp.MediaID == 0 {
		return "", fmt.Errorf("twitter media upload returned no media id")
	}
	return strconv.FormatInt(resp.MediaID, 10), nil
}

type twitterTimelineResponse struct {
	Data []struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		CreatedAt string `json:"created_at"`
	} `json:"data"`
}

func (a *TwitterAdapter) FetchRecent(ctx context.Context, account *models.ConnectedAccount, limit int) ([]Item, error) {
	requested := limit
	if limit < 5 {
		// the v2 timeline endpoint rejects max_results below 5
		limit = 5
	}
	endpoint := fmt.Sprintf(a.tweetsURL, account.PlatformUserID)
	resp, err := helpers.MakeHTTPRequest[twitterTimelineResponse](ctx, http.MethodGet, endpoint,
		map[string]string{"Authorization": "Bearer " + account.AccessToken},
		url.Values{
			"max_results":  {strconv.Itoa(limit)},
			"tweet.fields": {"created_at"},
		}, nil)
	if err != nil {
		return nil, classifyError(a.Name(), err)
	}

	items := make([]Item, 0, len(resp.Data))
	for _, tweet := range resp.Data {
		item := Item{
			ID:   tweet.ID,
			Text: tweet.Text,
			URL:  "https://twitter.com/i/web/status/" + tweet.ID,
		}
		if ts, err := time.Parse(time.RFC3339, tweet.CreatedAt); err == nil {
			item.CreatedAt = ts
		}
		items = append(items, item)
	}
	if len(items) > requested {
		items = items[:requested]
	}
	return items, nil
}
