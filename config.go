package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      int    `json:"port"`
	Env       string `json:"env"`
	ClientURL string `json:"client_url"`

	// JWTSecret signs access credentials. Mandatory; the process refuses
	// to start without it.
	JWTSecret string `json:"jwt_secret"`

	AccessTTLMinutes int `json:"access_ttl_minutes"`
	RefreshTTLDays   int `json:"refresh_ttl_days"`

	// CSRFKey authenticates the double-submit cookie. 32 bytes.
	CSRFKey string `json:"csrf_key"`

	// CookieDomain scopes credential cookies to a shared parent domain.
	// Only applied in production.
	CookieDomain string `json:"cookie_domain"`

	// CSRFExemptRefresh skips the CSRF check on the refresh endpoint.
	CSRFExemptRefresh bool `json:"csrf_exempt_refresh"`

	Database PostgresConfig `json:"database"`
	Google   GoogleConfig   `json:"google"`
	Apple    AppleConfig    `json:"apple"`
}

type GoogleConfig struct {
	ID          string `json:"id"`
	Secret      string `json:"secret"`
	RedirectURL string `json:"redirect_url"`
}

type AppleConfig struct {
	ClientID    string `json:"client_id"`
	TeamID      string `json:"team_id"`
	KeyID       string `json:"key_id"`
	PrivateKey  string `json:"private_key"`
	RedirectURL string `json:"redirect_url"`
}

type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (pc PostgresConfig) ConnectionInfo() string {
	if pc.Password == "" {
		return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=disable", pc.Host, pc.Port, pc.User, pc.Name)
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable", pc.Host, pc.Port, pc.User, pc.Password, pc.Name)
}

func (c Config) IsProd() bool {
	return c.Env == "prod"
}

func DefaultConfig() Config {
	return Config{
		Port:             1111,
		Env:              "dev",
		ClientURL:        "http://localhost:3000",
		JWTSecret:        "dev-only-signing-secret",
		AccessTTLMinutes: 15,
		RefreshTTLDays:   30,
		CSRFKey:          "32-byte-long-auth-key-for-dev-00",
		Database:         DefaultPostgresConfig(),
	}
}

func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Host: "localhost",
		Port: 5432,
		User: "postgres",
		Name: "dentibot",
	}
}

// LoadConfig loads configuration from a .config.json file if present,
// otherwise falls back to the dev defaults. In production the file is
// required. Secrets can additionally come from the environment (a .env
// file is honored), which overrides whatever the file says. A missing
// signing secret is a startup failure, never a per-request one.
func LoadConfig(prod bool) Config {
	_ = godotenv.Load()

	c := DefaultConfig()
	f, err := os.Open(".config.json")
	if err != nil {
		if prod {
			panic("a .config.json file is required in production")
		}
	} else {
		defer f.Close()
		c = Config{}
		if err := json.NewDecoder(f).Decode(&c); err != nil {
			panic(err)
		}
		fmt.Println("Successfully loaded .config.json")
	}

	applyEnvOverrides(&c)

	if c.JWTSecret == "" {
		panic("config: jwt_secret is required")
	}
	if c.CSRFKey == "" {
		panic("config: csrf_key is required")
	}
	return c
}

// applyEnvOverrides lets secrets live in the environment instead of the
// config file.
func applyEnvOverrides(c *Config) {
	setIfPresent(&c.JWTSecret, "JWT_SECRET")
	setIfPresent(&c.CSRFKey, "CSRF_KEY")
	setIfPresent(&c.Google.ID, "GOOGLE_CLIENT_ID")
	setIfPresent(&c.Google.Secret, "GOOGLE_CLIENT_SECRET")
	setIfPresent(&c.Apple.ClientID, "APPLE_CLIENT_ID")
	setIfPresent(&c.Apple.TeamID, "APPLE_TEAM_ID")
	setIfPresent(&c.Apple.KeyID, "APPLE_KEY_ID")
	setIfPresent(&c.Apple.PrivateKey, "APPLE_PRIVATE_KEY")
	setIfPresent(&c.Database.Password, "DB_PASSWORD")
}

func setIfPresent(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}
