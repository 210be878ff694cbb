package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr       string
	CORSOrigin string
	// Database
	DatabaseURL       string
	DatabaseAuthToken string
	// Admin bearer token for dashboard routes
	AdminToken string
	// External sync
	GitHubToken        string
	GitHubOwner        string
	GitHubRepo         string
	GitHubAPIURL       string
	FeaturebaseOrg     string
	FeaturebaseBaseURL string
	SyncCron           string
	// Cloudflare R2 analytics
	CloudflareAPIToken  string
	CloudflareAccountID string
	CloudflareR2Bucket  string
	CloudflareAPIURL    string
	// Redis backs rate limiting and dedup when set; in-memory otherwise
	RedisURL string
	// Search
	MeiliURL       string
	MeiliMasterKey string
	// Screenshot object storage (S3 compatible, e.g. R2)
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
}

func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env not loaded: %v", err)
	}
	return Config{
		Addr:               getenv("API_ADDR", ":8787"),
		CORSOrigin:         getenv("CORS_ORIGIN", "*"),
		DatabaseURL:        getenv("TURSO_DATABASE_URL", "file:./data/feedback.db"),
		DatabaseAuthToken:  getenv("TURSO_AUTH_TOKEN", ""),
		AdminToken:         getenv("ADMIN_API_TOKEN", ""),
		GitHubToken:        getenv("GITHUB_TOKEN", ""),
		GitHubOwner:        getenv("FEEDBACK_SYNC_GITHUB_OWNER", ""),
		GitHubRepo:         getenv("FEEDBACK_SYNC_GITHUB_REPO", ""),
		GitHubAPIURL:       getenv("GITHUB_API_URL", "https://api.github.com"),
		FeaturebaseOrg:     getenv("FEATUREBASE_ORGANIZATION", ""),
		FeaturebaseBaseURL: getenv("FEATUREBASE_BASE_URL", ""),
		SyncCron:           getenv("FEEDBACK_SYNC_CRON", ""),
		// Cloudflare - analytics endpoint disabled unless all three are set
		CloudflareAPIToken:  getenv("CLOUDFLARE_ANALYTICS_API_TOKEN", ""),
		CloudflareAccountID: getenv("CLOUDFLARE_ACCOUNT_ID", ""),
		CloudflareR2Bucket:  getenv("CLOUDFLARE_R2_ANALYTICS_BUCKET", ""),
		CloudflareAPIURL:    getenv("CLOUDFLARE_API_URL", "https://api.cloudflare.com/client/v4/graphql"),
		RedisURL:            getenv("REDIS_URL", ""),
		MeiliURL:            getenv("MEILI_URL", ""),
		MeiliMasterKey:      getenv("MEILI_MASTER_KEY", ""),
		S3Endpoint:          getenv("SCREENSHOT_S3_ENDPOINT", ""),
		S3AccessKey:         getenv("SCREENSHOT_S3_ACCESS_KEY", ""),
		S3SecretKey:         getenv("SCREENSHOT_S3_SECRET_KEY", ""),
		S3Bucket:            getenv("SCREENSHOT_S3_BUCKET", "feedback-screenshots"),
		S3UseSSL:            getenvBool("SCREENSHOT_S3_USE_SSL", true),
	}
}

// FeaturebaseURL returns the public board URL, derived from the organization
// when no explicit base URL is configured.
func (c Config) FeaturebaseURL() string {
	if base := strings.TrimRight(strings.TrimSpace(c.FeaturebaseBaseURL), "/"); base != "" {
		return base
	}
	org := strings.TrimSpace(c.FeaturebaseOrg)
	if org == "" {
		return ""
	}
	return "https://" + org + ".featurebase.app"
}

func (c Config) GitHubConfigured() bool {
	return strings.TrimSpace(c.GitHubOwner) != "" && strings.TrimSpace(c.GitHubRepo) != ""
}

func (c Config) CloudflareConfigured() bool {
	return c.CloudflareAPIToken != "" && c.CloudflareAccountID != "" && c.CloudflareR2Bucket != ""
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
