package controllers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"

	"social-gateway/gateway"
	"social-gateway/models"
	"social-gateway/oauthflow"
	"social-gateway/platforms"
)

const maxUploadBytes = 64 << 20

// SetupSocialRoutes registers the connect, publish and feed surface.
// Every route is platform-parameterized; unknown platforms fail in the
// flow layer, not here.
func SetupSocialRoutes(se *core.ServeEvent, app *pocketbase.PocketBase, flow *oauthflow.Orchestrator, gw *gateway.Gateway) {
	se.Router.GET("/ping", func(e *core.RequestEvent) error {
		Ping(e)
		return nil
	})
	se.Router.GET("/api/v1/auth/{platform}/start", func(e *core.RequestEvent) error {
		BeginAuth(e, flow)
		return nil
	})
	se.Router.GET("/api/v1/auth/{platform}/callback", func(e *core.RequestEvent) error {
		AuthCallback(e, app, flow)
		return nil
	})
	se.Router.POST("/api/v1/auth/telegram/register", func(e *core.RequestEvent) error {
		RegisterTelegram(e, gw)
		return nil
	})
	se.Router.GET("/api/v1/connections", func(e *core.RequestEvent) error {
		ListConnections(e, gw)
		return nil
	})
	se.Router.DELETE("/api/v1/connections/{platform}", func(e *core.RequestEvent) error {
		Disconnect(e, gw)
		return nil
	})
	se.Router.POST("/api/v1/publish/{platform}", func(e *core.RequestEvent) error {
		Publish(e, gw)
		return nil
	})
	se.Router.GET("/api/v1/feed/{platform}", func(e *core.RequestEvent) error {
		Feed(e, gw)
		return nil
	})
}

func pathPlatform(e *core.RequestEvent) models.Platform {
	return models.Platform(e.Request.PathValue("platform"))
}

// BeginAuth starts the connect flow and redirects the browser to the
// provider's consent page.
func BeginAuth(e *core.RequestEvent, flow *oauthflow.Orchestrator) {
	userID, err := ResolveUserID(e.Request)
	if err != nil {
		Error(e, http.StatusUnauthorized, "Login required")
		return
	}

	authURL, err := flow.Begin(e.Request.Context(), userID, pathPlatform(e))
	if err != nil {
		if errors.Is(err, platforms.ErrUnknownPlatform) || errors.Is(err, platforms.ErrNoOAuth) {
			Error(e, http.StatusBadRequest, err.Error())
			return
		}
		e.App.Logger().Error("auth start failed", "platform", pathPlatform(e), "error", err.Error())
		Error(e, http.StatusInternalServerError, "Could not start authorization")
		return
	}

	e.Redirect(http.StatusTemporaryRedirect, authURL)
}

// AuthCallback finishes the connect flow. The browser lands here from the
// provider, so outcomes are reported by redirecting to the frontend; the
// redirect never carries tokens.
func AuthCallback(e *core.RequestEvent, app *pocketbase.PocketBase, flow *oauthflow.Orchestrator) {
	platform := pathPlatform(e)
	query := e.Request.URL.Query()

	sessionUserID, _ := ResolveUserID(e.Request)
	cb := &oauthflow.Callback{
		Platform:      platform,
		Code:          query.Get("code"),
		State:         query.Get("state"),
		ErrorParam:    query.Get("error"),
		SessionUserID: sessionUserID,
	}

	_, err := flow.Complete(e.Request.Context(), cb)
	if err != nil {
		app.Logger().Warn("oauth callback failed", "platform", platform, "error", err.Error())
		redirectConnect(e, platform, "error", callbackReason(err))
		return
	}

	redirectConnect(e, platform, "connected", "")
}

func callbackReason(err error) string {
	switch {
	case errors.Is(err, oauthflow.ErrProviderDenied):
		return "denied"
	case errors.Is(err, oauthflow.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, oauthflow.ErrUnauthenticatedCallback):
		return "login_required"
	case errors.Is(err, oauthflow.ErrTokenExchangeFailed):
		return "exchange_failed"
	default:
		return "internal"
	}
}

func redirectConnect(e *core.RequestEvent, platform models.Platform, status, reason string) {
	values := url.Values{}
	values.Set("status", status)
	if reason != "" {
		values.Set("reason", reason)
	}
	target := fmt.Sprintf("%s/connect/%s?%s", os.Getenv("REDIRECT_HOST"), platform, values.Encode())
	e.Redirect(http.StatusTemporaryRedirect, target)
}

// RegisterTelegram connects a chat without an OAuth dance: the bot must
// already be a member of the chat the caller names.
func RegisterTelegram(e *core.RequestEvent, gw *gateway.Gateway) {
	userID, err := ResolveUserID(e.Request)
	if err != nil {
		Error(e, http.StatusUnauthorized, "Login required")
		return
	}

	chatID := e.Request.FormValue("chat_id")
	if chatID == "" {
		Error(e, http.StatusBadRequest, "chat_id is required")
		return
	}

	account, err := gw.RegisterChat(e.Request.Context(), userID, models.PlatformTelegram, chatID)
	if err != nil {
		e.App.Logger().Warn("telegram register failed", "chat", chatID, "error", err.Error())
		Error(e, http.StatusBadRequest, "Could not verify the chat, is the bot a member?")
		return
	}

	Success(e, "Telegram chat connected", connectionView(account))
}

// ListConnections returns the caller's connected platforms. Tokens never
// leave the server.
func ListConnections(e *core.RequestEvent, gw *gateway.Gateway) {
	userID, err := ResolveUserID(e.Request)
	if err != nil {
		Error(e, http.StatusUnauthorized, "Login required")
		return
	}

	accounts, err := gw.ListConnections(e.Request.Context(), userID)
	if err != nil {
		e.App.Logger().Error("list connections failed", "error", err.Error())
		Error(e, http.StatusInternalServerError, "Could not list connections")
		return
	}

	views := make([]map[string]interface{}, 0, len(accounts))
	for i := range accounts {
		views = append(views, connectionView(&accounts[i]))
	}
	Success(e, "Connections fetched", views)
}

func connectionView(account *models.ConnectedAccount) map[string]interface{} {
	view := map[string]interface{}{
		"platform":         account.Platform,
		"platform_user_id": account.PlatformUserID,
		"display_name":     account.DisplayName,
		"connected_at":     account.CreatedAt,
	}
	if account.TokenExpiresAt != nil {
		view["token_expires_at"] = account.TokenExpiresAt
	}
	return view
}

// Disconnect removes a stored connection. Deleting a platform that was
// never connected still succeeds.
func Disconnect(e *core.RequestEvent, gw *gateway.Gateway) {
	userID, err := ResolveUserID(e.Request)
	if err != nil {
		Error(e, http.StatusUnauthorized, "Login required")
		return
	}

	removed, err := gw.Disconnect(e.Request.Context(), userID, pathPlatform(e))
	if err != nil {
		e.App.Logger().Error("disconnect failed", "platform", pathPlatform(e), "error", err.Error())
		Error(e, http.StatusInternalServerError, "Could not disconnect")
		return
	}

	message := "Connection removed"
	if removed == 0 {
		message = "Nothing to remove"
	}
	Success(e, message, nil)
}

// Publish posts the multipart form body to the platform. Fields: text,
// optional title, link, target, media_url, plus any number of media file
// parts.
func Publish(e *core.RequestEvent, gw *gateway.Gateway) {
	userID, err := ResolveUserID(e.Request)
	if err != nil {
		Error(e, http.StatusUnauthorized, "Login required")
		return
	}

	content, err := parsePublishForm(e.Request)
	if err != nil {
		Error(e, http.StatusBadRequest, err.Error())
		return
	}

	result, err := gw.Publish(e.Request.Context(), userID, pathPlatform(e), content)
	if err != nil {
		publishErrorResponse(e, err)
		return
	}

	Success(e, "Published", map[string]interface{}{"post_id": result.PostID})
}

func parsePublishForm(r *http.Request) (*platforms.Content, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("invalid multipart body: %w", err)
	}

	content := &platforms.Content{
		Text:   r.FormValue("text"),
		Title:  r.FormValue("title"),
		Link:   r.FormValue("link"),
		Target: r.FormValue("target"),
	}

	if mediaURL := r.FormValue("media_url"); mediaURL != "" {
		content.Media = append(content.Media, platforms.Media{URL: mediaURL})
	}

	if r.MultipartForm != nil {
		for _, header := range r.MultipartForm.File["media"] {
			file, err := header.Open()
			if err != nil {
				return nil, fmt.Errorf("could not read upload %s: %w", header.Filename, err)
			}
			data, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				return nil, fmt.Errorf("could not read upload %s: %w", header.Filename, err)
			}
			content.Media = append(content.Media, platforms.Media{
				Filename: header.Filename,
				MimeType: header.Header.Get("Content-Type"),
				Data:     data,
			})
		}
	}

	if content.Text == "" && len(content.Media) == 0 && content.Link == "" {
		return nil, errors.New("nothing to publish, provide text, a link or media")
	}
	return content, nil
}

func publishErrorResponse(e *core.RequestEvent, err error) {
	var pubErr *platforms.PublishError
	switch {
	case errors.Is(err, gateway.ErrNotConnected), errors.Is(err, platforms.ErrUnknownPlatform):
		Error(e, http.StatusNotFound, "Platform not connected")
	case errors.Is(err, gateway.ErrReconnectRequired):
		Error(e, http.StatusUnauthorized, "Token expired, reconnect the platform")
	case errors.As(err, &pubErr) && pubErr.Kind == platforms.KindValidation:
		Error(e, http.StatusUnprocessableEntity, pubErr.Error())
	case errors.As(err, &pubErr) && pubErr.Kind == platforms.KindTransient:
		e.App.Logger().Warn("publish transient failure", "platform", pubErr.Platform, "error", err.Error())
		Error(e, http.StatusBadGateway, "Platform is temporarily unavailable, try again")
	default:
		e.App.Logger().Error("publish failed", "error", err.Error())
		Error(e, http.StatusInternalServerError, "Publish failed")
	}
}

// Feed returns the connected account's most recent posts, newest first.
func Feed(e *core.RequestEvent, gw *gateway.Gateway) {
	userID, err := ResolveUserID(e.Request)
	if err != nil {
		Error(e, http.StatusUnauthorized, "Login required")
		return
	}

	limit := 10
	if raw := e.Request.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			Error(e, http.StatusBadRequest, "limit must be a positive number")
			return
		}
		limit = parsed
	}
	if limit > 50 {
		limit = 50
	}

	items, err := gw.FetchRecent(e.Request.Context(), userID, pathPlatform(e), limit)
	if err != nil {
		publishErrorResponse(e, err)
		return
	}

	Success(e, "Feed fetched", items)
}
