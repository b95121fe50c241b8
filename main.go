package main

import (
	"flag"
	"time"

	"dentibot/auth"
	"dentibot/crud"
	"dentibot/http"
	"dentibot/oauth"
)

// main is the app's entry point.
func main() {
	// Check if the flag "-prod" has been provided. It means that we're running in production.
	productionBool := flag.Bool("prod", false, "Provide this flag in production to ensure that a .config.json file is provided before the application starts.")
	flag.Parse()

	// Load configuration. This panics if a required secret is missing:
	// refusing to start beats serving requests that fail unpredictably.
	config := LoadConfig(*productionBool)

	// Open a database connection and execute migrations.
	db := NewDB(config.Database.ConnectionInfo())
	err := Open(db, config.IsProd())
	must(err)
	defer Close(db)
	err = AutoMigrate(db)
	must(err)

	accessTTL := time.Duration(config.AccessTTLMinutes) * time.Minute
	refreshTTL := time.Duration(config.RefreshTTLDays) * 24 * time.Hour

	// Start the crud services.
	services, err := crud.NewServices(
		db.Gorm,
		crud.WithUser(),
		crud.WithOAuth(),
		crud.WithRefresh(refreshTTL),
	)
	must(err)

	// The access-credential codec holds the only copy of the signing secret.
	codec, err := auth.NewCodec(config.JWTSecret, accessTTL)
	must(err)

	// Construct the identity-provider clients. They are plain injected
	// values; nothing else in the app holds provider state.
	google := oauth.NewGoogleProvider(config.Google.ID, config.Google.Secret, config.Google.RedirectURL)
	apple := oauth.NewAppleProvider(
		config.Apple.ClientID,
		config.Apple.TeamID,
		config.Apple.KeyID,
		config.Apple.PrivateKey,
		config.Apple.RedirectURL,
	)

	// Set up a webserver.
	server := http.NewServer(http.ServerConfig{
		Prod:              config.IsProd(),
		ClientURL:         config.ClientURL,
		CSRFKey:           config.CSRFKey,
		CSRFExemptRefresh: config.CSRFExemptRefresh,
		Codec:             codec,
		Cookies: auth.CookiePolicy{
			Prod:       config.IsProd(),
			Domain:     config.CookieDomain,
			AccessTTL:  accessTTL,
			RefreshTTL: refreshTTL,
		},
		Google:  google,
		Apple:   apple,
		Users:   services.User,
		OAuths:  services.OAuth,
		Refresh: services.Refresh,
		// Payments stays nil until a billing gateway is wired in; account
		// erasure then skips the subscription cleanup.
	})

	// Serve the app.
	server.Run(config.Port)
}

// must is a little helper for shortening the panic instruction.
func must(err error) {
	if err != nil {
		panic(err)
	}
}
