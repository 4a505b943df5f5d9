// Package config builds the single immutable Config used across the
// orchestrator, reconciler, and webhook router. There are no
// process-wide mutable globals; every component that needs
// configuration receives a *Config explicitly.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is built once at startup and never mutated afterward.
type Config struct {
	ZDriveRoot string
	S3Bucket   string

	S3RootPrefix  string
	OrgMarker     string
	OrgFolderName string
	RootFolderID  int

	RequireResolved    bool
	EnableOriginUpload bool

	ProjectMapPath string
	ProjectMapDSN  string
	ProjectAllowlist []int

	APIKey     string
	APISecret  string
	UserID     string
	OrgID      string
	SessionURL string
	OriginBaseURL string

	WebhookURL string

	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string

	PollInterval time.Duration
	SettleDelay  time.Duration
	SkewGuard    time.Duration

	RetryBase     time.Duration
	RetryCap      time.Duration
	RetryAttempts int

	HTTPTimeout time.Duration

	WebhookAddr string
	StatusAddr  string
}

// Load reads an optional .env file (key=value, "#" comments, optional
// double-quoted values), then env vars, then flag overrides for the two
// positional/named CLI options the orchestrator takes. args should be
// os.Args[1:].
func Load(args []string) (*Config, error) {
	if path := envOrDefault("VAULTSYNC_ENV_FILE", ".env"); path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				log.Printf("failed to load env file %s: %v", path, err)
			}
		}
	}

	fs := flag.NewFlagSet("vaultsync", flag.ContinueOnError)
	zdriveRoot := fs.String("zdrive-root", envOrDefault("ZDRIVE_ROOT", ""), "local mirror root directory")
	s3Path := fs.String("s3-path", envOrDefault("S3_PATH", ""), "s3://<bucket> target")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	bucket := strings.TrimPrefix(strings.TrimSpace(*s3Path), "s3://")
	bucket = strings.TrimSuffix(bucket, "/")

	allowlist, err := intsEnv("PROJECT_ALLOWLIST_JSON")
	if err != nil {
		log.Printf("invalid PROJECT_ALLOWLIST_JSON: %v", err)
	}

	cfg := &Config{
		ZDriveRoot: strings.TrimSpace(*zdriveRoot),
		S3Bucket:   bucket,

		S3RootPrefix:  envOrDefault("S3_ROOT_PREFIX", "vaultsync"),
		OrgMarker:     envOrDefault("ORG_MARKER", "org"),
		OrgFolderName: envOrDefault("ORG_FOLDER_NAME", "Organization"),
		RootFolderID:  intEnv("ROOT_FOLDER_ID", 0),

		RequireResolved:    boolEnv("REQUIRE_RESOLVED", false),
		EnableOriginUpload: boolEnv("ENABLE_ORIGIN_UPLOAD", false),

		ProjectMapPath:   envOrDefault("PROJECT_MAP_PATH", "project_map.json"),
		ProjectMapDSN:    strings.TrimSpace(os.Getenv("VAULTSYNC_PROJECTMAP_DSN")),
		ProjectAllowlist: allowlist,

		APIKey:        os.Getenv("API_KEY"),
		APISecret:     os.Getenv("API_SECRET"),
		UserID:        os.Getenv("USER_ID"),
		OrgID:         os.Getenv("ORG_ID"),
		SessionURL:    os.Getenv("SESSION_URL"),
		OriginBaseURL: envOrDefault("ORIGIN_BASE_URL", "https://api.origin.example.com"),

		WebhookURL: os.Getenv("FILEVINE_TO_S3_WEBHOOK"),

		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3Region:    envOrDefault("S3_REGION", "us-east-1"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),

		PollInterval: durationEnv("VAULTSYNC_POLL_INTERVAL", 300*time.Second),
		SettleDelay:  durationEnv("VAULTSYNC_SETTLE_DELAY", 4*time.Second),
		SkewGuard:    durationEnv("VAULTSYNC_SKEW_GUARD", 2*time.Second),

		RetryBase:     durationEnv("VAULTSYNC_RETRY_BASE", time.Second),
		RetryCap:      durationEnv("VAULTSYNC_RETRY_CAP", 30*time.Second),
		RetryAttempts: intEnv("VAULTSYNC_RETRY_ATTEMPTS", 5),

		HTTPTimeout: durationEnv("VAULTSYNC_HTTP_TIMEOUT", 60*time.Second),

		WebhookAddr: envOrDefault("VAULTSYNC_WEBHOOK_ADDR", ":8080"),
		StatusAddr:  envOrDefault("VAULTSYNC_STATUS_ADDR", ":8081"),
	}

	if cfg.ZDriveRoot == "" {
		return nil, fmt.Errorf("zdrive-root is required (--zdrive-root or ZDRIVE_ROOT)")
	}
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3-path is required (--s3-path or S3_PATH, form s3://<bucket>)")
	}

	return cfg, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %v", name, raw, fallback)
		return fallback
	}
	return value
}

func intsEnv(name string) ([]int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	var vals []int
	if err := json.Unmarshal([]byte(raw), &vals); err != nil {
		return nil, err
	}
	return vals, nil
}
