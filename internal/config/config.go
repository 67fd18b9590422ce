package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// ProviderCredentials holds one provider's OAuth app settings
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

type Config struct {
	Port          string
	JWTSecret     string
	MongoURI      string
	DBName        string
	SkipAuth      bool
	Environment   string
	AppId         string
	EncryptionKey string // 64 hex chars = 256-bit AES key
	PublicBaseURL string // external base URL used to build webhook endpoints
	SyncCron      string
	WarehouseDSN  string // optional postgres mirror, empty disables it
	Providers     map[string]ProviderCredentials
}

// providerNames lists every provider we load credentials for.
// The env prefix is the upper-cased provider name: GOOGLE_SHEETS_CLIENT_ID etc.
var providerNames = []string{
	"google_sheets",
	"quickbooks",
	"lightspeed",
	"stripe",
	"square",
	"paypal",
	"shopify",
}

// devEncryptionKey is a fixed development key so local data survives restarts.
// Production must set ENCRYPTION_KEY explicitly; LoadConfig refuses to start otherwise.
const devEncryptionKey = "6368616e676520746869732064657620656e6372797074696f6e206b65792121"

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	} else {
		log.Println("Loaded .env file successfully")
	}

	env := getEnv("ENVIRONMENT", "development")

	if env == "production" {
		if _, ok := os.LookupEnv("ENCRYPTION_KEY"); !ok {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be set in production; an ephemeral key would make persisted credentials unreadable after restart")
		}
	}

	providers := make(map[string]ProviderCredentials, len(providerNames))
	for _, name := range providerNames {
		prefix := strings.ToUpper(name)
		providers[name] = ProviderCredentials{
			ClientID:     getEnv(prefix+"_CLIENT_ID", ""),
			ClientSecret: getEnv(prefix+"_CLIENT_SECRET", ""),
			RedirectURI:  getEnv(prefix+"_REDIRECT_URI", ""),
		}
	}

	return &Config{
		Port:          getEnv("PORT", "8080"),
		JWTSecret:     getEnv("JWT_SECRET", "secret"),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DBName:        getEnv("DB_NAME", "go-insights"),
		SkipAuth:      getEnv("SKIP_AUTH", "false") == "true",
		Environment:   env,
		AppId:         getEnv("APP_ID", "go-insights"),
		EncryptionKey: getEnv("ENCRYPTION_KEY", devEncryptionKey),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		SyncCron:      getEnv("SYNC_CRON", "0 * * * *"),
		WarehouseDSN:  getEnv("WAREHOUSE_DSN", ""),
		Providers:     providers,
	}, nil
}

// Provider returns the credentials configured for a provider name
func (c *Config) Provider(name string) ProviderCredentials {
	return c.Providers[name]
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
