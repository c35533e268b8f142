package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"social-gateway/helpers"
	"social-gateway/models"
)

const (
	googleUserinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	youtubeUploadURL  = "https://www.googleapis.com/upload/youtube/v3/videos?uploadType=multipart&part=snippet,status"
	youtubeSearchURL  = "https://www.googleapis.com/youtube/v3/search"
)

// YoutubeAdapter runs the Google authorization-code flow. The callback
// crosses domains and may arrive without the session cookie, so the
// initiating user's identity travels inside the signed state token.
type YoutubeAdapter struct {
	oauth *oauth2.Config
}

func NewYoutubeAdapter(clientID, clientSecret, redirectURL string) *YoutubeAdapter {
	return &YoutubeAdapter{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/youtube.upload",
				"https://www.googleapis.com/auth/youtube.readonly",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: endpoints.Google,
		},
	}
}

func (a *YoutubeAdapter) Name() models.Platform { return models.PlatformYoutube }
func (a *YoutubeAdapter) UsesPKCE() bool        { return false }
func (a *YoutubeAdapter) IdentityInState() bool { return true }

func (a *YoutubeAdapter) BuildAuthURL(pending *models.PendingAuthorization) string {
	// offline access + forced consent so a refresh token comes back on
	// every reconnect, not only the first one
	return a.oauth.AuthCodeURL(pending.State,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
}

func (a *YoutubeAdapter) ExchangeCode(ctx context.Context, code string, pending *models.PendingAuthorization) (*TokenResult, error) {
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

type googleUser struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (a *YoutubeAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	user, err := helpers.MakeHTTPRequest[googleUser](ctx, http.MethodGet, googleUserinfoURL,
		map[string]string{"Authorization": "Bearer " + accessToken}, nil, nil)
	if err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, fmt.Errorf("google userinfo missing id")
	}
	return &Profile{
		PlatformUserID: user.ID,
		DisplayName:    user.Name,
		AvatarURL:      user.Picture,
	}, nil
}

func (a *YoutubeAdapter) Refresh(ctx context.Context, account *models.ConnectedAccount) (*TokenResult, error) {
	if account.RefreshToken == "" {
		return nil, ErrNoRefresh
	}
	source := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: account.RefreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, err
	}
	refresh := token.RefreshToken
	if refresh == "" {
		refresh = account.RefreshToken
	}
	result := &TokenResult{AccessToken: token.AccessToken, RefreshToken: refresh}
	if !token.Expiry.IsZero() {
		result.ExpiresIn = int64(time.Until(token.Expiry) / time.Second)
	}
	return result, nil
}

type youtubeVideoMeta struct {
	Snippet struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"snippet"`
	Status struct {
		PrivacyStatus string `json:"privacyStatus"`
	} `json:"status"`
}

type youtubeVideoResponse struct {
	ID string `json:"id"`
}

// Publish uploads exactly one video as a multipart/related body: JSON
// metadata part first, raw bytes second.
func (a *YoutubeAdapter) Publish(ctx context.Context, account *models.ConnectedAccount, content *Content) (*PublishResult, error) {
	if len(content.Media) != 1 {
		return nil, newValidationError(a.Name(), "youtube publish needs exactly one video attachment, got %d", len(content.Media))
	}

	var meta youtubeVideoMeta
	meta.Snippet.Title = content.Title
	if meta.Snippet.Title == "" {
		meta.Snippet.Title = content.Text
	}
	meta.Snippet.Description = content.Text
	meta.Status.PrivacyStatus = "public"
	if meta.Snippet.Title == "" {
		return nil, newValidationError(a.Name(), "youtube video needs a title or text")
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, classifyError(a.Name(), err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	jsonHeader := textproto.MIMEHeader{}
	jsonHeader.Set("Content-Type", "application/json; charset=UTF-8")
	part, err := writer.CreatePart(jsonHeader)
	if err != nil {
		return nil, classifyError(a.Name(), err)
	}
	if _, err = part.Write(metaBytes); err != nil {
		return nil, classifyError(a.Name(), err)
	}

	media := content.Media[0]
	videoHeader := textproto.MIMEHeader{}
	mimeType := media.MimeType
	if mimeType == "" {
		mimeType = "video/*"
	}
	videoHeader.Set("Content-Type", mimeType)
	part, err = writer.CreatePart(videoHeader)
	if err != nil {
		return nil, classifyError(a.Name(), err)
	}
	if _, err = part.Write(media.Data); err != nil {
		return nil, classifyError(a.Name(), err)
	}
	if err = writer.Close(); err != nil {
		return nil, classifyError(a.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, youtubeUploadURL, bytes.NewReader(body.Bytes()))
	if err != nil {
		return nil, classifyError(a.Name(), err)
	}
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)
	req.Header.Set("Content-Type", "multipart/related; boundary="+writer.Boundary())

	client := &http.Client{Timeout: helpers.UploadTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyError(a.Name(), err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyError(a.Name(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyError(a.Name(), &helpers.HTTPError{
			StatusCode: resp.StatusCode, Status: resp.Status, Body: string(respBytes),
		})
	}

	var video youtubeVideoResponse
	if err := json.Unmarshal(respBytes, &video); err != nil {
		return nil, classifyError(a.Name(), err)
	}
	if video.ID == "" {
		return nil, classifyError(a.Name(), fmt.Errorf("youtube videos.insert returned no id"))
	}

	return &PublishResult{
		PostID: video.ID,
		Raw:    map[string]interface{}{"id": video.ID, "url": "https://www.youtube.com/watch?v=" + video.ID},
	}, nil
}

type youtubeSearchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title       string `json:"title"`
			PublishedAt string `json:"publishedAt"`
		} `json:"snippet"`
	} `json:"items"`
}

func (a *YoutubeAdapter) FetchRecent(ctx context.Context, account *models.ConnectedAccount, limit int) ([]Item, error) {
	params := url.Values{
		"part":       {"snippet"},
		"forMine":    {"true"},
		"type":       {"video"},
		"order":      {"date"},
		"maxResults": {strconv.Itoa(limit)},
	}
	resp, err := helpers.MakeHTTPRequest[youtubeSearchResponse](ctx, http.MethodGet, youtubeSearchURL,
		map[string]string{"Authorization": "Bearer " + account.AccessToken}, params, nil)
	if err != nil {
		return nil, classifyError(a.Name(), err)
	}

	items := make([]Item, 0, len(resp.Items))
	for _, entry := range resp.Items {
		item := Item{
			ID:   entry.ID.VideoID,
			Text: entry.Snippet.Title,
			URL:  "https://www.youtube.com/watch?v=" + entry.ID.VideoID,
		}
		if ts, err := time.Parse(time.RFC3339, entry.Snippet.PublishedAt); err == nil {
			item.CreatedAt = ts
		}
		items = append(items, item)
	}
	return items, nil
}
