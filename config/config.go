// Package config loads process settings from the environment (with an
// optional .env file) and render profiles from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/wudi/pdfmark/store/azure"
	"github.com/wudi/pdfmark/store/s3"
)

// Artifact backends.
const (
	BackendFS    = "fs"
	BackendS3    = "s3"
	BackendAzure = "azure"
)

type Config struct {
	Env      string
	LogLevel string
	// DatabaseURL enables the Postgres template store and audit sink.
	DatabaseURL       string
	Artifact          ArtifactConfig
	TemplateCacheSize int
	RenderConcurrency int
	// ProfilePath names a YAML render profile; empty uses the defaults.
	ProfilePath string
}

type ArtifactConfig struct {
	Backend string
	// Dir is the root of the fs backend.
	Dir   string
	S3    s3.Config
	Azure azure.Config
}

// Load reads .env if present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the process environment only.
func FromEnv() (*Config, error) {
	env := firstNonEmpty(strings.TrimSpace(os.Getenv("PDFMARK_ENV")), "local")
	cacheSize, err := intEnv("PDFMARK_TEMPLATE_CACHE_SIZE", 256)
	if err != nil {
		return nil, err
	}
	concurrency, err := intEnv("PDFMARK_RENDER_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		Env:               env,
		LogLevel:          firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), "info"),
		DatabaseURL:       strings.TrimSpace(os.Getenv("PDFMARK_DATABASE_URL")),
		Artifact:          loadArtifactConfig(env),
		TemplateCacheSize: cacheSize,
		RenderConcurrency: concurrency,
		ProfilePath:       strings.TrimSpace(os.Getenv("PDFMARK_PROFILE")),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Artifact.Backend {
	case BackendFS:
		if c.Artifact.Dir == "" {
			return fmt.Errorf("PDFMARK_ARTIFACT_DIR is required for the fs backend")
		}
	case BackendS3:
		if c.Artifact.S3.Endpoint == "" || c.Artifact.S3.Bucket == "" {
			return fmt.Errorf("ARTIFACT_S3_ENDPOINT and ARTIFACT_S3_BUCKET are required for the s3 backend")
		}
	case BackendAzure:
		if c.Artifact.Azure.Account == "" || c.Artifact.Azure.Container == "" {
			return fmt.Errorf("AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_CONTAINER are required for the azure backend")
		}
	default:
		return fmt.Errorf("unknown artifact backend %q (want fs, s3 or azure)", c.Artifact.Backend)
	}
	if c.TemplateCacheSize <= 0 {
		return fmt.Errorf("PDFMARK_TEMPLATE_CACHE_SIZE must be positive, got %d", c.TemplateCacheSize)
	}
	if c.RenderConcurrency <= 0 {
		return fmt.Errorf("PDFMARK_RENDER_CONCURRENCY must be positive, got %d", c.RenderConcurrency)
	}
	return nil
}

func loadArtifactConfig(env string) ArtifactConfig {
	return ArtifactConfig{
		Backend: strings.ToLower(firstNonEmpty(strings.TrimSpace(os.Getenv("PDFMARK_ARTIFACT_BACKEND")), BackendFS)),
		Dir:     firstNonEmpty(strings.TrimSpace(os.Getenv("PDFMARK_ARTIFACT_DIR")), "pdfmark-data"),
		S3: s3.Config{
			Endpoint:  resolveS3Endpoint(env),
			Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_REGION")), "us-east-1"),
			AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
			SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
			Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_BUCKET")), "pdfmark-artifacts"),
			UseSSL:    resolveS3UseSSL(env),
		},
		Azure: azure.Config{
			Account:    strings.TrimSpace(os.Getenv("AZURE_STORAGE_ACCOUNT")),
			Key:        strings.TrimSpace(os.Getenv("AZURE_STORAGE_KEY")),
			Container:  firstNonEmpty(strings.TrimSpace(os.Getenv("AZURE_STORAGE_CONTAINER")), "pdfmark-artifacts"),
			ServiceURL: strings.TrimSpace(os.Getenv("AZURE_STORAGE_URL")),
		},
	}
}

func resolveS3Endpoint(env string) string {
	if strings.EqualFold(env, "local") {
		return firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_ENDPOINT")), "localhost:9000")
	}
	return strings.TrimSpace(os.Getenv("ARTIFACT_S3_ENDPOINT"))
}

func resolveS3UseSSL(env string) bool {
	raw := strings.TrimSpace(os.Getenv("ARTIFACT_S3_USE_SSL"))
	if raw == "" {
		return !strings.EqualFold(env, "local")
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func intEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
