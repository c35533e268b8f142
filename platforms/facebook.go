package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"social-gateway/helpers"
	"social-gateway/models"
)

const graphAPIBase = "https://graph.facebook.com/v19.0"

// FacebookAdapter connects a page through the user's auth-code grant: the
// exchange trades the user token for the first managed page's token, which
// becomes the stored credential.
type FacebookAdapter struct {
	oauth *oauth2.Config
}

func NewFacebookAdapter(clientID, clientSecret, redirectURL string) *FacebookAdapter {
	return &FacebookAdapter{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes: []string{
				"pages_manage_posts", "pages_show_list",
				"pages_read_engagement", "read_insights",
			},
			Endpoint: endpoints.Facebook,
		},
	}
}

func (a *FacebookAdapter) Name() models.Platform { return models.PlatformFacebook }
func (a *FacebookAdapter) UsesPKCE() bool        { return false }
func (a *FacebookAdapter) IdentityInState() bool { return false }

func (a *FacebookAdapter) BuildAuthURL(pending *models.PendingAuthorization) string {
	return a.oauth.AuthCodeURL(pending.State)
}

type facebookPage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
	Picture     struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

type facebookPagesResponse struct {
	Data []facebookPage `json:"data"`
}

func (a *FacebookAdapter) ExchangeCode(ctx context.Context, code string, pending *models.PendingAuthorization) (*TokenResult, error) {
	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	pages, err := a.fetchPages(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}
	if len(pages.Data) == 0 {
		return nil, fmt.Errorf("facebook account manages no pages")
	}

	// first page becomes the connected identity; the rest stay
	// selectable through account metadata
	pagesJSON, _ := json.Marshal(pages.Data)
	return &TokenResult{
		AccessToken: pages.Data[0].AccessToken,
		ExpiresIn:   token.ExpiresIn,
		Metadata:    map[string]string{"pages": string(pagesJSON)},
	}, nil
}

func (a *FacebookAdapter) fetchPages(ctx context.Context, userToken string) (facebookPagesResponse, error) {
	return helpers.MakeHTTPRequest[facebookPagesResponse](ctx, http.MethodGet, graphAPIBase+"/me/accounts",
		nil, url.Values{
			"fields":       {"picture,name,access_token"},
			"access_token": {userToken},
		}, nil)
}

type facebookProfile struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Picture struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

func (a *FacebookAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	profile, err := helpers.MakeHTTPRequest[facebookProfile](ctx, http.MethodGet, graphAPIBase+"/me",
		nil, url.Values{
			"fields":       {"id,name,picture"},
			"access_token": {accessToken},
		}, nil)
	if err != nil {
		return nil, err
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("facebook profile missing id")
	}
	return &Profile{
		PlatformUserID: profile.ID,
		DisplayName:    profile.Name,
		AvatarURL:      profile.Picture.Data.URL,
	}, nil
}

// Page tokens from never-expiring user grants do not refresh; reconnect is
// the recovery path.
func (a *FacebookAdapter) Refresh(ctx context.Context, account *models.ConnectedAccount) (*TokenResult, error) {
	return nil, ErrNoRefresh
}

type facebookPhotoResponse struct {
	ID string `json:"id"`
}

type facebookPostResponse struct {
	ID string `json:"id"`
}

func (a *FacebookAdapter) Publish(ctx context.Context, account *models.ConnectedAccount, content *Content) (*PublishResult, error) {
	if content.Text == "" && len(content.Media) == 0 && content.Link == "" {
		return nil, newValidationError(a.Name(), "post needs text, a link or media")
	}

	pageID := account.PlatformUserID
	if content.Target != "" {
		pageID = content.Target
	}

	form := url.Values{
		"message":      {content.Text},
		"access_token": {account.AccessToken},
		"published":    {"true"},
	}
	if content.Link != "" {
		form.Set("link", content.Link)
	}

	// photos are uploaded unpublished, then attached to the feed post
	for i, media := range content.Media {
		photoID, err := a.uploadPhoto(ctx, pageID, account.AccessToken, media)
		if err != nil {
			return nil, classifyError(a.Name(), err)
		}
		form.Set(fmt.Sprintf("attached_media[%d]", i), fmt.Sprintf(`{"media_fbid":"%s"}`, photoID))
	}

	resp, err := helpers.MakeHTTPRequest[facebookPostResponse](ctx, http.MethodPost,
		graphAPIBase+"/"+pageID+"/feed",
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"}, nil, form)
	if err != nil {
		return nil, classifyError(a.Name(), err)
	}
	if resp.ID == "" {
		return nil, classifyError(a.Name(), fmt.Errorf("facebook feed post returned no id"))
	}

	return &PublishResult{PostID: resp.ID, Raw: map[string]interface{}{"id": resp.ID}}, nil
}

func (a *FacebookAdapter) uploadPhoto(ctx context.Context, pageID, accessToken string, media Media) (string, error) {
	resp, err := helpers.MakeMultipartRequest[facebookPhotoResponse](ctx,
		graphAPIBase+"/"+pageID+"/photos", nil,
		[]helpers.MultipartField{
			{Name: "access_token", Value: []byte(accessToken)},
			{Name: "published", Value: []byte("false")},
			{Name: "source", Filename: media.Filename, Value: media.Data},
		})
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("facebook photo upload returned no id")
	}
	return resp.ID, nil
}

type facebookFeedResponse struct {
	Data []struct {
		ID           string `json:"id"`
		Message      string `json:"message"`
		CreatedTime  string `json:"created_time"`
		PermalinkURL string `json:"permalink_url"`
	} `json:"data"`
}

func (a *FacebookAdapter) FetchRecent(ctx context.Context, account *models.ConnectedAccount, limit int) ([]Item, error) {
	resp, err := helpers.MakeHTTPRequest[facebookFeedResponse](ctx, http.MethodGet,
		graphAPIBase+"/"+account.PlatformUserID+"/posts",
		nil, url.Values{
			"fields":       {"id,message,created_time,permalink_url"},
			"limit":        {strconv.Itoa(limit)},
			"access_token": {account.AccessToken},
		}, nil)
	if err != nil {
		return nil, classifyError(a.Name(), err)
	}

	items := make([]Item, 0, len(resp.Data))
	for _, post := range resp.Data {
		item := Item{ID: post.ID, Text: post.Message, URL: post.PermalinkURL}
		if ts, err := time.Parse("2006-01-02T15:04:05-0700", post.CreatedTime); err == nil {
			item.CreatedAt = ts
		}
		items = append(items, item)
	}
	return items, nil
}
