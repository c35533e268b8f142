package platforms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"social-gateway/helpers"
	"social-gateway/models"
)

const telegramAPIBase = "https://api.telegram.org/bot"

// ErrNoOAuth marks adapter operations that a bot-token platform does not
// have. The connect surface for Telegram is RegisterChat instead.
var ErrNoOAuth = errors.New("platform does not use an oauth flow")

// RecentSource serves a recent-posts feed for platforms whose API cannot
// list past posts. The publish log store satisfies it.
type RecentSource interface {
	RecentPublished(ctx context.Context, userID string, platform models.Platform, limit int) ([]models.PublishLog, error)
}

// TelegramAdapter posts through a single process-wide bot credential.
// Connecting means registering a chat/channel id; there are no per-user
// tokens and nothing to refresh. apiBase defaults to the production Bot
// API and stays overridable for tests.
type TelegramAdapter struct {
	botToken string
	recent   RecentSource
	apiBase  string
}

func NewTelegramAdapter(botToken string, recent RecentSource) *TelegramAdapter {
	return &TelegramAdapter{botToken: botToken, recent: recent, apiBase: telegramAPIBase}
}

func (a *TelegramAdapter) Name() models.Platform { return models.PlatformTelegram }
func (a *TelegramAdapter) UsesPKCE() bool        { return false }
func (a *TelegramAdapter) IdentityInState() bool { return false }

func (a *TelegramAdapter) apiURL(method string) string {
	return a.apiBase + a.botToken + "/" + method
}

func (a *TelegramAdapter) BuildAuthURL(pending *models.PendingAuthorization) string {
	return ""
}

func (a *TelegramAdapter) ExchangeCode(ctx context.Context, code string, pending *models.PendingAuthorization) (*TokenResult, error) {
	return nil, ErrNoOAuth
}

func (a *TelegramAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	return nil, ErrNoOAuth
}

func (a *TelegramAdapter) Refresh(ctx context.Context, account *models.ConnectedAccount) (*TokenResult, error) {
	return nil, ErrNoRefresh
}

type telegramChat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Username string `json:"username"`
}

type telegramChatResponse struct {
	OK          bool         `json:"ok"`
	Description string       `json:"description"`
	Result      telegramChat `json:"result"`
}

// VerifyChat checks the bot can see the chat before the registration is
// persisted, and returns the chat's display identity.
func (a *TelegramAdapter) VerifyChat(ctx context.Context, chatID string) (*Profile, error) {
	// chat_id rides in the query: GET bodies do not survive every proxy
	resp, err := helpers.MakeHTTPRequest[telegramChatResponse](ctx, http.MethodGet, a.apiURL("getChat"),
		nil, url.Values{"chat_id": {chatID}}, nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("telegram getChat failed: %s", resp.Description)
	}

	name := resp.Result.Title
	if name == "" {
		name = resp.Result.Username
	}
	return &Profile{
		PlatformUserID: strconv.FormatInt(resp.Result.ID, 10),
		DisplayName:    name,
		Username:       resp.Result.Username,
		Metadata:       map[string]string{"chat_type": resp.Result.Type},
	}, nil
}

type telegramMessage struct {
	MessageID int64 `json:"message_id"`
}

type telegramSendResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (a *TelegramAdapter) Publish(ctx context.Context, account *models.ConnectedAccount, content *Content) (*PublishResult, error) {
	if content.Text == "" && len(content.Media) == 0 {
		return nil, newValidationError(a.Name(), "message needs text or media")
	}

	chatID := account.PlatformUserID

	var (
		resp telegramSendResponse
		err  error
	)
	switch {
	case len(content.Media) == 0:
		resp, err = helpers.MakeHTTPRequest[telegramSendResponse](ctx, http.MethodPost, a.apiURL("sendMessage"),
			nil, nil, map[string]string{"chat_id": chatID, "text": content.Text})
	case len(content.Media) == 1:
		media := content.Media[0]
		resp, err = helpers.MakeMultipartRequest[telegramSendResponse](ctx, a.apiURL("sendPhoto"), nil,
			[]helpers.MultipartField{
				{Name: "chat_id", Value: []byte(chatID)},
				{Name: "caption", Value: []byte(content.Text)},
				{Name: "photo", Filename: media.Filename, Value: media.Data},
			})
	default:
		resp, err = a.sendMediaGroup(ctx, chatID, content)
	}
	if err != nil {
		return nil, classifyError(a.Name(), err)
	}
	if !resp.OK {
		return nil, newValidationError(a.Name(), "telegram send failed: %s", resp.Description)
	}

	messageID, raw := parseTelegramResult(resp.Result)
	return &PublishResult{PostID: messageID, Raw: raw}, nil
}

// sendMediaGroup batches 2+ photos into one album message; the caption
// rides on the first item.
func (a *TelegramAdapter) sendMediaGroup(ctx context.Context, chatID string, content *Content) (telegramSendResponse, error) {
	type inputMedia struct {
		Type    string `json:"type"`
		Media   string `json:"media"`
		Caption string `json:"caption,omitempty"`
	}

	group := make([]inputMedia, 0, len(content.Media))
	fields := []helpers.MultipartField{{Name: "chat_id", Value: []byte(chatID)}}
	for i, media := range content.Media {
		attachName := fmt.Sprintf("file%d", i)
		entry := inputMedia{Type: "photo", Media: "attach://" + attachName}
		if i == 0 {
			entry.Caption = content.Text
		}
		group = append(group, entry)
		fields = append(fields, helpers.MultipartField{Name: attachName, Filename: media.Filename, Value: media.Data})
	}

	groupJSON, err := json.Marshal(group)
	if err != nil {
		return telegramSendResponse{}, err
	}
	fields = append(fields, helpers.MultipartField{Name: "media", Value: groupJSON})

	return helpers.MakeMultipartRequest[telegramSendResponse](ctx, a.apiURL("sendMediaGroup"), nil, fields)
}

// parseTelegramResult handles both shapes the Bot API returns: a single
// message object, or an array of them for media groups.
func parseTelegramResult(raw json.RawMessage) (string, map[string]interface{}) {
	var single telegramMessage
	if err := json.Unmarshal(raw, &single); err == nil && single.MessageID != 0 {
		return strconv.FormatInt(single.MessageID, 10), map[string]interface{}{"message_id": single.MessageID}
	}

	var batch []telegramMessage
	if err := json.Unmarshal(raw, &batch); err == nil && len(batch) > 0 {
		ids := make([]int64, 0, len(batch))
		for _, m := range batch {
			ids = append(ids, m.MessageID)
		}
		return strconv.FormatInt(batch[0].MessageID, 10), map[string]interface{}{"message_ids": ids}
	}

	return "", map[string]interface{}{}
}

// FetchRecent reads from the publish log: bots cannot enumerate past
// channel posts through the Bot API.
func (a *TelegramAdapter) FetchRecent(ctx context.Context, account *models.ConnectedAccount, limit int) ([]Item, error) {
	entries, err := a.recent.RecentPublished(ctx, account.UserID, a.Name(), limit)
	if err != nil {
		return nil, classifyError(a.Name(), err)
	}

	items := make([]Item, 0, len(entries))
	for _, entry := range entries {
		items = append(items, Item{
			ID:        entry.PublishedPostID,
			Text:      entry.Content,
			CreatedAt: entry.CreatedAt,
		})
	}
	return items, nil
}
