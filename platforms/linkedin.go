package platforms

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/linkedin"

	"social-gateway/helpers"
	"social-gateway/models"
)

const (
	linkedinUserinfoURL = "https://api.linkedin.com/v2/userinfo"
	linkedinUGCPostsURL = "https://api.linkedin.com/v2/ugcPosts"
	linkedinAssetsURL   = "https://api.linkedin.com/v2/assets?action=registerUpload"
)

// LinkedinAdapter runs the plain authorization-code flow; the callback
// identity comes from the caller's existing session.
type LinkedinAdapter struct {
	oauth *oauth2.Config
}

func NewLinkedinAdapter(clientID, clientSecret, redirectURL string) *LinkedinAdapter {
	return &LinkedinAdapter{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"w_member_social", "profile", "openid", "email"},
			Endpoint:     linkedin.Endpoint,
		},
	}
}

func (a *LinkedinAdapter) Name() models.Platform { return models.PlatformLinkedin }
func (a *LinkedinAdapter) UsesPKCE() bool        { return false }
func (a *LinkedinAdapter) IdentityInState() bool { return false }

func (a *LinkedinAdapter) BuildAuthURL(pending *models.PendingAuthorization) string {
	return a.oauth.AuthCodeURL(pending.State)
}

func (a *LinkedinAdapter) ExchangeCode(ctx context.Context, code string, pending *models.PendingAuthorization) (*TokenResult, error) {
	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	return &TokenResult{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    token.ExpiresIn,
	}, nil
}

// linkedinUser matches the userinfo JSON response.
type linkedinUser struct {
	Sub           string `json:"sub"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Email         string `json:"email"`
	Picture       string `json:"picture"`
}

func (a *LinkedinAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	user, err := helpers.MakeHTTPRequest[linkedinUser](ctx, http.MethodGet, linkedinUserinfoURL,
		map[string]string{"Authorization": "Bearer " + accessToken}, nil, nil)
	if err != nil {
		return nil, err
	}
	if user.Sub == "" {
		return nil, fmt.Errorf("linkedin userinfo missing sub")
	}
	return &Profile{
		PlatformUserID: user.Sub,
		DisplayName:    user.Name,
		Username:       user.Sub,
		AvatarURL:      user.Picture,
		Metadata:       map[string]string{"email": user.Email},
	}, nil
}

type linkedinTokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

func (a *LinkedinAdapter) Refresh(ctx context.Context, account *models.ConnectedAccount) (*TokenResult, error) {
	if account.RefreshToken == "" {
		return nil, ErrNoRefresh
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {account.RefreshToken},
		"client_id":     {a.oauth.ClientID},
		"client_secret": {a.oauth.ClientSecret},
	}
	resp, err := helpers.MakeHTTPRequest[linkedinTokenResponse](ctx, http.MethodPost, a.oauth.Endpoint.TokenURL,
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"}, nil, form)
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("linkedin refresh returned no access token")
	}
	refresh := resp.RefreshToken
	if refresh == "" {
		refresh = account.RefreshToken
	}
	return &TokenResult{AccessToken: resp.AccessToken, RefreshToken: refresh, ExpiresIn: resp.ExpiresIn}, nil
}

// UGC post payload, spelled out instead of string templates so required
// fields are visible to the compiler.
type linkedinShareText struct {
	Text string `json:"text"`
}

type linkedinShareMedia struct {
	Status      string             `json:"status"`
	Description *linkedinShareText `json:"description,omitempty"`
	Media       string             `json:"media"`
	Title       *linkedinShareText `json:"title,omitempty"`
}

type linkedinShareContent struct {
	ShareCommentary    linkedinShareText    `json:"shareCommentary"`
	ShareMediaCategory string               `json:"shareMediaCategory"`
	Media              []linkedinShareMedia `json:"media,omitempty"`
}

type linkedinUGCPost struct {
	Author          string                          `json:"author"`
	LifecycleState  string                          `json:"lifecycleState"`
	SpecificContent map[string]linkedinShareContent `json:"specificContent"`
	Visibility      map[string]string               `json:"visibility"`
}

type linkedinUGCResponse struct {
	ID string `json:"id"`
}

func (a *LinkedinAdapter) Publish(ctx context.Context, account *models.ConnectedAccount, content *Content) (*PublishResult, error) {
	if content.Text == "" && len(content.Media) == 0 {
		return nil, newValidationError(a.Name(), "post needs text or media")
	}

	author := "urn:li:person:" + account.PlatformUserID
	if content.Target != "" {
		// organization URN routing
		author = content.Target
	}

	share := linkedinShareContent{
		ShareCommentary:    linkedinShareText{Text: content.Text},
		ShareMediaCategory: "NONE",
	}

	for _, media := range content.Media {
		asset, err := a.uploadMedia(ctx, author, account.AccessToken, media)
		if err != nil {
			return nil, classifyError(a.Name(), err)
		}
		share.Media = append(share.Media, linkedinShareMedia{
			Status: "READY",
			Media:  asset,
			Title:  &linkedinShareText{Text: media.Filename},
		})
	}
	if len(share.Media) > 0 {
		share.ShareMediaCategory = "IMAGE"
	}

	post := linkedinUGCPost{
		Author:         author,
		LifecycleState: "PUBLISHED",
		SpecificContent: map[string]linkedinShareContent{
			"com.linkedin.ugc.ShareContent": share,
		},
		Visibility: map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	resp, err := helpers.MakeHTTPRequest[linkedinUGCResponse](ctx, http.MethodPost, linkedinUGCPostsURL,
		map[string]string{
			"Authorization":             "Bearer " + account.AccessToken,
			"X-Restli-Protocol-Version": "2.0.0",
		}, nil, post)
	if err != nil {
		return nil, classifyError(a.Name(), err)
	}
	if resp.ID == "" {
		return nil, classifyError(a.Name(), fmt.Errorf("linkedin ugcPosts returned no id"))
	}

	return &PublishResult{PostID: resp.ID, Raw: map[string]interface{}{"id": resp.ID}}, nil
}

type linkedinRegisterUploadRequest struct {
	RegisterUploadRequest struct {
		Recipes              []string `json:"recipes"`
		Owner                string   `json:"owner"`
		ServiceRelationships []struct {
			RelationshipType string `json:"relationshipType"`
			Identifier       string `json:"identifier"`
		} `json:"serviceRelationships"`
	} `json:"registerUploadRequest"`
}

type linkedinRegisterUploadResponse struct {
	Value struct {
		UploadMechanism struct {
			MediaUploadHTTPRequest struct {
				Headers   map[string]interface{} `json:"headers"`
				UploadURL string                 `json:"uploadUrl"`
			} `json:"com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest"`
		} `json:"uploadMechanism"`
		Asset string `json:"asset"`
	} `json:"value"`
}

// uploadMedia registers an upload slot, then sends the raw bytes to the
// returned URL. Returns the asset URN to reference from the post.
func (a *LinkedinAdapter) uploadMedia(ctx context.Context, owner, accessToken string, media Media) (string, error) {
	var reg linkedinRegisterUploadRequest
	reg.RegisterUploadRequest.Recipes = []string{"urn:li:digitalmediaRecipe:feedshare-image"}
	reg.RegisterUploadRequest.Owner = owner
	reg.RegisterUploadRequest.ServiceRelationships = []struct {
		RelationshipType string `json:"relationshipType"`
		Identifier       string `json:"identifier"`
	}{{RelationshipType: "OWNER", Identifier: "urn:li:userGeneratedContent"}}

	resp, err := helpers.MakeHTTPRequest[linkedinRegisterUploadResponse](ctx, http.MethodPost, linkedinAssetsURL,
		map[string]string{"Authorization": "Bearer " + accessToken}, nil, reg)
	if err != nil {
		return "", err
	}

	uploadURL := resp.Value.UploadMechanism.MediaUploadHTTPRequest.UploadURL
	if uploadURL == "" {
		return "", fmt.Errorf("linkedin registerUpload returned empty upload url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(media.Data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	client := &http.Client{Timeout: helpers.UploadTimeout}
	uploadResp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer uploadResp.Body.Close()
	body, _ := io.ReadAll(uploadResp.Body)
	if uploadResp.StatusCode < 200 || uploadResp.StatusCode >= 300 {
		return "", &helpers.HTTPError{StatusCode: uploadResp.StatusCode, Status: uploadResp.Status, Body: string(body)}
	}

	return resp.Value.Asset, nil
}

type linkedinFeedResponse struct {
	Elements []struct {
		ID      string `json:"id"`
		Created struct {
			Time int64 `json:"time"`
		} `json:"created"`
		SpecificContent map[string]struct {
			ShareCommentary linkedinShareText `json:"shareCommentary"`
		} `json:"specificContent"`
	} `json:"elements"`
}

func (a *LinkedinAdapter) FetchRecent(ctx context.Context, account *models.ConnectedAccount, limit int) ([]Item, error) {
	author := "urn:li:person:" + account.PlatformUserID
	params := url.Values{
		"q":       {"authors"},
		"authors": {"List(" + author + ")"},
		"count":   {strconv.Itoa(limit)},
	}
	resp, err := helpers.MakeHTTPRequest[linkedinFeedResponse](ctx, http.MethodGet, linkedinUGCPostsURL,
		map[string]string{
			"Authorization":             "Bearer " + account.AccessToken,
			"X-Restli-Protocol-Version": "2.0.0",
		}, params, nil)
	if err != nil {
		return nil, classifyError(a.Name(), err)
	}

	items := make([]Item, 0, len(resp.Elements))
	for _, el := range resp.Elements {
		item := Item{ID: el.ID, CreatedAt: time.UnixMilli(el.Created.Time)}
		if sc, ok := el.SpecificContent["com.linkedin.ugc.ShareContent"]; ok {
			item.Text = sc.ShareCommentary.Text
		}
		items = append(items, item)
	}
	return items, nil
}
