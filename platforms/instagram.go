package platforms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"social-gateway/helpers"
	"social-gateway/models"
)

// InstagramAdapter publishes through the Graph API's container flow: every
// image becomes a media container first, then one publish call makes the
// post live. Media must be publicly reachable URLs; the Graph side fetches
// them itself.
type InstagramAdapter struct {
	oauth *oauth2.Config
}

func NewInstagramAdapter(clientID, clientSecret, redirectURL string) *InstagramAdapter {
	return &InstagramAdapter{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes: []string{
				"instagram_basic", "instagram_content_publish",
				"pages_show_list", "business_management",
			},
			Endpoint: endpoints.Facebook,
		},
	}
}

func (a *InstagramAdapter) Name() models.Platform { return models.PlatformInstagram }
func (a *InstagramAdapter) UsesPKCE() bool        { return false }
func (a *InstagramAdapter) IdentityInState() bool { return false }

func (a *InstagramAdapter) BuildAuthURL(pending *models.PendingAuthorization) string {
	return a.oauth.AuthCodeURL(pending.State)
}

type instagramBusinessAccount struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Username          string `json:"username"`
	ProfilePictureURL string `json:"profile_picture_url"`
}

type instagramPagesResponse struct {
	Data []struct {
		ID                       string                    `json:"id"`
		Name                     string                    `json:"name"`
		AccessToken              string                    `json:"access_token"`
		InstagramBusinessAccount *instagramBusinessAccount `json:"instagram_business_account,omitempty"`
	} `json:"data"`
}

func (a *InstagramAdapter) ExchangeCode(ctx context.Context, code string, pending *models.PendingAuthorization) (*TokenResult, error) {
	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	pages, err := helpers.MakeHTTPRequest[instagramPagesResponse](ctx, http.MethodGet, graphAPIBase+"/me/accounts",
		nil, url.Values{
			"fields":       {"name,access_token,instagram_business_account{id,name,username,profile_picture_url}"},
			"access_token": {token.AccessToken},
		}, nil)
	if err != nil {
		return nil, err
	}

	for _, page := range pages.Data {
		if page.InstagramBusinessAccount == nil {
			continue
		}
		return &TokenResult{
			AccessToken: page.AccessToken,
			ExpiresIn:   token.ExpiresIn,
			Metadata: map[string]string{
				"page_id":   page.ID,
				"page_name": page.Name,
			},
		}, nil
	}
	return nil, fmt.Errorf("no instagram business account linked to any managed page")
}

type instagramMeResponse struct {
	InstagramBusinessAccount *instagramBusinessAccount `json:"instagram_business_account"`
}

func (a *InstagramAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	me, err := helpers.MakeHTTPRequest[instagramMeResponse](ctx, http.MethodGet, graphAPIBase+"/me",
		nil, url.Values{
			"fields":       {"instagram_business_account{id,name,username,profile_picture_url}"},
			"access_token": {accessToken},
		}, nil)
	if err != nil {
		return nil, err
	}
	ig := me.InstagramBusinessAccount
	if ig == nil || ig.ID == "" {
		return nil, fmt.Errorf("page token resolves to no instagram business account")
	}
	return &Profile{
		PlatformUserID: ig.ID,
		DisplayName:    ig.Name,
		Username:       ig.Username,
		AvatarURL:      ig.ProfilePictureURL,
	}, nil
}

func (a *InstagramAdapter) Refresh(ctx context.Context, account *models.ConnectedAccount) (*TokenResult, error) {
	return nil, ErrNoRefresh
}

type instagramContainerResponse struct {
	ID string `json:"id"`
}

func (a *InstagramAdapter) Publish(ctx context.Context, account *models.ConnectedAccount, content *Content) (*PublishResult, error) {
	var urls []string
	for _, media := range content.Media {
		if media.URL == "" {
			return nil, newValidationError(a.Name(), "instagram media must be public urls, uploaded bytes are not supported")
		}
		urls = append(urls, media.URL)
	}
	if len(urls) == 0 {
		return nil, newValidationError(a.Name(), "instagram posts need at least one image")
	}
	if len(urls) > 10 {
		return nil, newValidationError(a.Name(), "carousel posts allow at most 10 images, got %d", len(urls))
	}

	igID := account.PlatformUserID

	var creationID string
	if len(urls) == 1 {
		container, err := a.createContainer(ctx, igID, account.AccessToken, url.Values{
			"image_url": {urls[0]},
			"caption":   {content.Text},
		})
		if err != nil {
			return nil, classifyError(a.Name(), err)
		}
		creationID = container
	} else {
		// carousel: one child container per image, then the parent
		var children []string
		for _, u := range urls {
			child, err := a.createContainer(ctx, igID, account.AccessToken, url.Values{
				"image_url":        {u},
				"is_carousel_item": {"true"},
			})
			if err != nil {
				return nil, classifyError(a.Name(), err)
			}
			children = append(children, child)
		}
		parent, err := a.createContainer(ctx, igID, account.AccessToken, url.Values{
			"media_type": {"CAROUSEL"},
			"children":   {strings.Join(children, ",")},
			"caption":    {content.Text},
		})
		if err != nil {
			return nil, classifyError(a.Name(), err)
		}
		creationID = parent
	}

	published, err := helpers.MakeHTTPRequest[instagramContainerResponse](ctx, http.MethodPost,
		graphAPIBase+"/"+igID+"/media_publish", nil, url.Values{
			"creation_id":  {creationID},
			"access_token": {account.AccessToken},
		}, nil)
	if err != nil {
		return nil, classifyError(a.Name(), err)
	}
	if published.ID == "" {
		return nil, classifyError(a.Name(), fmt.Errorf("media_publish returned no id"))
	}

	return &PublishResult{PostID: published.ID, Raw: map[string]interface{}{"id": published.ID}}, nil
}

func (a *InstagramAdapter) createContainer(ctx context.Context, igID, accessToken string, params url.Values) (string, error) {
	params.Set("access_token", accessToken)
	resp, err := helpers.MakeHTTPRequest[instagramContainerResponse](ctx, http.MethodPost,
		graphAPIBase+"/"+igID+"/media", nil, params, nil)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("media container returned no id")
	}
	return resp.ID, nil
}

type instagramMediaResponse struct {
	Data []struct {
		ID        string `json:"id"`
		Caption   string `json:"caption"`
		Permalink string `json:"permalink"`
		Timestamp string `json:"timestamp"`
	} `json:"data"`
}

func (a *InstagramAdapter) FetchRecent(ctx context.Context, account *models.ConnectedAccount, limit int) ([]Item, error) {
	resp, err := helpers.MakeHTTPRequest[instagramMediaResponse](ctx, http.MethodGet,
		graphAPIBase+"/"+account.PlatformUserID+"/media",
		nil, url.Values{
			"fields":       {"id,caption,permalink,timestamp"},
			"limit":        {strconv.Itoa(limit)},
			"access_token": {account.AccessToken},
		}, nil)
	if err != nil {
		return nil, classifyError(a.Name(), err)
	}

	items := make([]Item, 0, len(resp.Data))
	for _, media := range resp.Data {
		item := Item{ID: media.ID, Text: media.Caption, URL: media.Permalink}
		if ts, err := time.Parse("2006-01-02T15:04:05-0700", media.Timestamp); err == nil {
			item.CreatedAt = ts
		}
		items = append(items, item)
	}
	return items, nil
}
