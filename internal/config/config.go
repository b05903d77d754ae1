package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the art booth relay.
type Config struct {
	BindAddr         string
	PublicBaseURL    string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	// KioskMode makes a camera photo mandatory for generation; text-only
	// renders are refused instead of silently falling back.
	KioskMode bool

	Instructions     string
	InstructionsFile string
	StyleSuffix      string
	SafePrompt       string

	RealtimeAPIKey  string
	RealtimeBaseURL string
	RealtimeWSURL   string
	RealtimeModel   string
	RealtimeVoice   string

	ImageProvider string
	ImageAPIKey   string
	ImageBaseURL  string
	ImageModel    string
	ImageSize     string

	RetryStrategy string
	StaggerDelay  time.Duration

	GalleryMode         string
	HostedImagesBaseURL string
	HostedImagesToken   string

	DatabaseURL string

	SessionTimeout time.Duration
	PollInterval   time.Duration
	PollBackoffCap time.Duration
}

const (
	defaultStyleSuffix = " - A precise blend of flat illustration and technical drawing, " +
		"with clean lines and vibrant flat colors in isometric perspective. Bold colors with " +
		"minimal gradients, thin black outlines, and organized grid-based structure. Depth " +
		"through overlapping layers."
	defaultSafePrompt = "A serene coastal landscape at golden hour, gentle waves, soft " +
		"clouds, warm sunlight over the bay, painted in a vibrant flat illustration style."
	defaultInstructions = "You are the booth's visual artist. Listen to the visitor and, " +
		"when they ask for their poster, call the generateImage tool exactly once with a " +
		"short vivid prompt describing the scene they want."
)

// Load reads environment variables and applies safe defaults. A local .env
// file is merged in first when present so kiosk units can ship credentials
// on disk.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		PublicBaseURL:    envOrDefault("APP_PUBLIC_BASE_URL", "http://localhost:8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "artbooth"),
		KioskMode:        true,
		Instructions:     os.Getenv("APP_INSTRUCTIONS"),
		InstructionsFile: stringsTrimSpace("APP_INSTRUCTIONS_FILE"),
		StyleSuffix:      envOrDefault("APP_STYLE_SUFFIX", defaultStyleSuffix),
		SafePrompt:       envOrDefault("APP_SAFE_PROMPT", defaultSafePrompt),
		RealtimeAPIKey:   stringsTrimSpace("REALTIME_API_KEY"),
		RealtimeBaseURL:  envOrDefault("REALTIME_BASE_URL", "https://api.openai.com/v1/realtime"),
		RealtimeWSURL:    envOrDefault("REALTIME_WS_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeModel:    envOrDefault("REALTIME_MODEL", "gpt-4o-realtime-preview-2024-12-17"),
		RealtimeVoice:    envOrDefault("REALTIME_VOICE", "ash"),
		ImageProvider:    envOrDefault("IMAGE_PROVIDER", "auto"),
		ImageAPIKey:      stringsTrimSpace("IMAGE_API_KEY"),
		ImageBaseURL:     envOrDefault("IMAGE_BASE_URL", "https://api.openai.com/v1"),
		ImageModel:       envOrDefault("IMAGE_MODEL", "gpt-image-1"),
		// Tall poster ratio; not user-configurable per call.
		ImageSize:           envOrDefault("IMAGE_SIZE", "1024x1536"),
		RetryStrategy:       envOrDefault("IMAGE_RETRY_STRATEGY", "sequential"),
		StaggerDelay:        15 * time.Second,
		GalleryMode:         envOrDefault("GALLERY_MODE", "auto"),
		HostedImagesBaseURL: stringsTrimSpace("HOSTED_IMAGES_BASE_URL"),
		HostedImagesToken:   stringsTrimSpace("HOSTED_IMAGES_TOKEN"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:     15 * time.Second,
		SessionTimeout:      5 * time.Minute,
		PollInterval:        5 * time.Second,
		PollBackoffCap:      40 * time.Second,
	}

	var err error
	cfg.KioskMode, err = boolFromEnv("APP_KIOSK_MODE", cfg.KioskMode)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTimeout, err = durationFromEnv("APP_SESSION_TIMEOUT", cfg.SessionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.PollInterval, err = durationFromEnv("APP_POLL_INTERVAL", cfg.PollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.PollBackoffCap, err = durationFromEnv("APP_POLL_BACKOFF_CAP", cfg.PollBackoffCap)
	if err != nil {
		return Config{}, err
	}
	cfg.StaggerDelay, err = durationFromEnv("IMAGE_STAGGER_DELAY", cfg.StaggerDelay)
	if err != nil {
		return Config{}, err
	}

	if cfg.InstructionsFile != "" {
		data, err := os.ReadFile(cfg.InstructionsFile)
		if err != nil {
			return Config{}, fmt.Errorf("read APP_INSTRUCTIONS_FILE: %w", err)
		}
		cfg.Instructions = string(data)
	}
	if strings.TrimSpace(cfg.Instructions) == "" {
		cfg.Instructions = defaultInstructions
	}

	if cfg.SessionTimeout < 10*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_TIMEOUT must be at least 10s")
	}
	if cfg.PollInterval <= 0 {
		return Config{}, fmt.Errorf("APP_POLL_INTERVAL must be positive")
	}
	if cfg.PollBackoffCap < cfg.PollInterval {
		return Config{}, fmt.Errorf("APP_POLL_BACKOFF_CAP must be >= APP_POLL_INTERVAL")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.RetryStrategy)) {
	case "sequential", "staggered":
	default:
		return Config{}, fmt.Errorf("invalid IMAGE_RETRY_STRATEGY: %q (expected sequential|staggered)", cfg.RetryStrategy)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.GalleryMode)) {
	case "auto", "postgres", "hosted", "memory":
	default:
		return Config{}, fmt.Errorf("invalid GALLERY_MODE: %q (expected auto|postgres|hosted|memory)", cfg.GalleryMode)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
