// Package config assembles the single startup configuration object from
// the process environment, using a getEnv/getEnvAsInt/getEnvAsBool
// pattern for defaulting.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every recognized runtime option plus the ambient
// connection settings (DB DSN pieces, listen port).
type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	MaxConcurrent           int
	MaxAbsoluteAttempts     int
	DefaultMaxRetries       int
	PythonPipelineTimeoutMs int
	DatabaseSaveIntervalMs  int

	GitBaseBranch   string
	GitBranchPrefix string
	GitDryRun       bool
	GitRemoteName   string
	GitOwner        string
	GitRepo         string
	GitToken        string
	GitAuthorName   string
	GitAuthorEmail  string
	GitRepoPath     string

	APIPort      string
	APIKey       string
	CronTimezone string

	JWTSecret   string
	JWTIssuer   string
	AuthEnabled bool

	TracingEnabled  bool
	TracingEndpoint string

	DopplerCachePath string

	LogLevel    string
	LogEncoding string
}

// Load assembles Config from the process environment, falling back to
// documented defaults for anything unset.
func Load() *Config {
	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "pipectl"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "pipectl"),

		MaxConcurrent:           getEnvAsInt("MAX_CONCURRENT", 5),
		MaxAbsoluteAttempts:     getEnvAsInt("MAX_ABSOLUTE_ATTEMPTS", 5),
		DefaultMaxRetries:       getEnvAsInt("DEFAULT_MAX_RETRIES", 3),
		PythonPipelineTimeoutMs: getEnvAsInt("PYTHON_PIPELINE_TIMEOUT_MS", 600000),
		DatabaseSaveIntervalMs:  getEnvAsInt("DATABASE_SAVE_INTERVAL_MS", 30000),

		GitBaseBranch:   getEnv("GIT_BASE_BRANCH", "main"),
		GitBranchPrefix: getEnv("GIT_BRANCH_PREFIX", "pipectl"),
		GitDryRun:       getEnvAsBool("GIT_DRY_RUN", true),
		GitRemoteName:   getEnv("GIT_REMOTE_NAME", "origin"),
		GitOwner:        getEnv("GIT_OWNER", ""),
		GitRepo:         getEnv("GIT_REPO", ""),
		GitToken:        getEnv("GIT_TOKEN", ""),
		GitAuthorName:   getEnv("GIT_AUTHOR_NAME", "pipectl"),
		GitAuthorEmail:  getEnv("GIT_AUTHOR_EMAIL", "pipectl@localhost"),
		GitRepoPath:     getEnv("GIT_REPO_PATH", "."),

		APIPort:      getEnv("API_PORT", "8080"),
		APIKey:       getEnv("API_KEY", ""),
		CronTimezone: getEnv("CRON_TIMEZONE", "UTC"),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", "pipectl"),
		AuthEnabled: getEnvAsBool("AUTH_ENABLED", false),

		TracingEnabled:  getEnvAsBool("TRACING_ENABLED", false),
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),

		DopplerCachePath: getEnv("DOPPLER_CACHE_PATH", ""),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogEncoding: getEnv("LOG_ENCODING", "json"),
	}
}

// Location resolves CronTimezone to a *time.Location, falling back to
// UTC if the name is unrecognized.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.CronTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}
