package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Settings holds process-level configuration read from the environment.
type Settings struct {
	// LogLevel is debug, info, warn or error
	LogLevel string
	// LogFormat is text or json
	LogFormat string

	// HTTPAddr is the listen address of the API server
	HTTPAddr string
	// ShutdownTimeout bounds graceful server shutdown
	ShutdownTimeout time.Duration
	// MaxRuns caps the runs the API server keeps in memory
	MaxRuns int
	// DataDir is the only directory plans submitted to the API server may
	// read local files from. Empty refuses local files.
	DataDir string

	// Export destinations applied when a plan has none
	ExportS3 S3Settings
}

// S3Settings configures the S3 exporter.
type S3Settings struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// LoadSettings reads the given .env files, if present, then the process
// environment. Variables already set in the environment win over .env
// values. A missing .env file is not an error.
func LoadSettings(envFiles ...string) (*Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return &Settings{
		LogLevel:        getEnv("VOLLEY_LOG_LEVEL", "info"),
		LogFormat:       getEnv("VOLLEY_LOG_FORMAT", "text"),
		HTTPAddr:        getEnv("VOLLEY_HTTP_ADDR", "127.0.0.1:8080"),
		ShutdownTimeout: getEnvDuration("VOLLEY_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxRuns:         getEnvInt("VOLLEY_MAX_RUNS", 100),
		DataDir:         getEnv("VOLLEY_DATA_DIR", ""),
		ExportS3: S3Settings{
			Bucket:          getEnv("VOLLEY_EXPORT_S3_BUCKET", ""),
			Prefix:          getEnv("VOLLEY_EXPORT_S3_PREFIX", "volley/"),
			Region:          getEnv("VOLLEY_EXPORT_S3_REGION", "us-east-1"),
			Endpoint:        getEnv("VOLLEY_EXPORT_S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("VOLLEY_EXPORT_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("VOLLEY_EXPORT_S3_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    getEnvBool("VOLLEY_EXPORT_S3_PATH_STYLE", false),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := ParseDurationString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
