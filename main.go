package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"

	"social-gateway/controllers"
	"social-gateway/gateway"
	"social-gateway/models"
	"social-gateway/oauthflow"
	"social-gateway/platforms"
	"social-gateway/store"
)

var app *pocketbase.PocketBase

func main() {
	app = controllers.CreateApp()

	godotenv.Load()

	env := os.Getenv("ENV")
	if err := models.ConnectDatabase(os.Getenv("DATABASE_URL"), env); err != nil {
		log.Fatal(err)
	}
	if err := models.ConnectRedis(
		os.Getenv("REDIS_HOST"),
		os.Getenv("REDIS_PORT"),
		os.Getenv("REDIS_USER"),
		os.Getenv("REDIS_PASSWORD"),
		os.Getenv("REDIS_DB"),
		env,
	); err != nil {
		log.Fatal(err)
	}

	accounts := store.NewCredentialStore(models.DB)
	logs := store.NewPublishLogStore(models.DB)
	pending := store.NewPendingAuthStore(models.Redis)

	adapters := buildRegistry(logs)

	stateSecret := os.Getenv("AUTH_JWT_SECRET")
	if stateSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is not set")
	}

	flow := oauthflow.NewOrchestrator(pending, accounts, adapters, []byte(stateSecret), app.Logger())
	gw := gateway.New(accounts, logs, adapters, app.Logger())

	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		controllers.SetupSocialRoutes(se, app, flow, gw)
		return se.Next()
	})

	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
}

// buildRegistry wires an adapter for every platform whose credentials are
// present in the environment. Missing credentials just leave the platform
// unregistered.
func buildRegistry(logs *store.PublishLogStore) platforms.Registry {
	registry := platforms.Registry{}
	apiHost := os.Getenv("API_HOST")
	callback := func(platform models.Platform) string {
		return apiHost + "/api/v1/auth/" + string(platform) + "/callback"
	}

	if id, secret := os.Getenv("LINKEDIN_APP_ID"), os.Getenv("LINKEDIN_SECRET"); id != "" && secret != "" {
		registry[models.PlatformLinkedin] = platforms.NewLinkedinAdapter(id, secret, callback(models.PlatformLinkedin))
	}
	if id, secret := os.Getenv("TWITTER_CLIENT_ID"), os.Getenv("TWITTER_CLIENT_SECRET"); id != "" && secret != "" {
		registry[models.PlatformTwitter] = platforms.NewTwitterAdapter(id, secret, callback(models.PlatformTwitter))
	}
	if id, secret := os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"); id != "" && secret != "" {
		registry[models.PlatformYoutube] = platforms.NewYoutubeAdapter(id, secret, callback(models.PlatformYoutube))
	}
	if id, secret := os.Getenv("FACEBOOK_APP_ID"), os.Getenv("FACEBOOK_APP_SECRET"); id != "" && secret != "" {
		registry[models.PlatformFacebook] = platforms.NewFacebookAdapter(id, secret, callback(models.PlatformFacebook))
		registry[models.PlatformInstagram] = platforms.NewInstagramAdapter(id, secret, callback(models.PlatformInstagram))
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		registry[models.PlatformTelegram] = platforms.NewTelegramAdapter(token, logs)
	}

	return registry
}
