package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/unalkalkan/epub2md-web/pkg/types"
	"gopkg.in/yaml.v3"
)

// Load reads and parses the configuration file on top of GetDefault.
// It also supports environment variable overrides with the E2M_ prefix.
// An empty configPath loads defaults plus environment overrides only.
func Load(configPath string) (*types.Config, error) {
	cfg := GetDefault()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid and fills zero values with defaults
func Validate(cfg *types.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Server.MaxUploadMB <= 0 {
		cfg.Server.MaxUploadMB = 100
	}

	if cfg.Workspace.UploadsDir == "" {
		return fmt.Errorf("workspace uploads_dir is required")
	}
	if cfg.Workspace.OutputsDir == "" {
		return fmt.Errorf("workspace outputs_dir is required")
	}
	if cfg.Workspace.UploadsDir == cfg.Workspace.OutputsDir {
		return fmt.Errorf("workspace uploads_dir and outputs_dir must differ")
	}
	if cfg.Workspace.RetentionMinutes <= 0 {
		cfg.Workspace.RetentionMinutes = 60
	}
	if cfg.Workspace.SweepIntervalMinutes <= 0 {
		cfg.Workspace.SweepIntervalMinutes = 30
	}
	if cfg.Workspace.CleanupDelaySeconds < 0 {
		cfg.Workspace.CleanupDelaySeconds = 2
	}

	if cfg.Converter.Command == "" {
		return fmt.Errorf("converter command is required")
	}
	if cfg.Converter.TimeoutSeconds <= 0 {
		cfg.Converter.TimeoutSeconds = 300
	}
	if cfg.Converter.MaxOutputBytes <= 0 {
		cfg.Converter.MaxOutputBytes = 10 << 20
	}

	if cfg.Cover.CanonicalName == "" {
		cfg.Cover.CanonicalName = "cover.jpg"
	}
	if strings.ContainsAny(cfg.Cover.CanonicalName, `/\`) {
		return fmt.Errorf("cover canonical_name must be a bare file name: %s", cfg.Cover.CanonicalName)
	}
	if cfg.Cover.JPEGQuality < 1 || cfg.Cover.JPEGQuality > 100 {
		cfg.Cover.JPEGQuality = 90
	}

	if cfg.Storage.Adapter != "local" && cfg.Storage.Adapter != "s3" {
		return fmt.Errorf("invalid storage adapter: %s (must be 'local' or 's3')", cfg.Storage.Adapter)
	}
	if cfg.Storage.Adapter == "local" && cfg.Storage.Local.BasePath == "" {
		return fmt.Errorf("local storage base_path is required")
	}
	if cfg.Storage.Adapter == "s3" {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3 bucket is required")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("s3 region is required")
		}
	}

	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be 'text' or 'json')", cfg.Log.Format)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides
// Environment variables should be prefixed with E2M_
func applyEnvOverrides(cfg *types.Config) {
	// Server overrides
	if val := os.Getenv("E2M_SERVER_HOST"); val != "" {
		cfg.Server.Host = val
	}
	setInt("E2M_SERVER_PORT", &cfg.Server.Port)
	setInt("E2M_SERVER_MAX_UPLOAD_MB", &cfg.Server.MaxUploadMB)
	if val := os.Getenv("E2M_SERVER_STATIC_DIR"); val != "" {
		cfg.Server.StaticDir = val
	}

	// Workspace overrides
	if val := os.Getenv("E2M_WORKSPACE_UPLOADS_DIR"); val != "" {
		cfg.Workspace.UploadsDir = val
	}
	if val := os.Getenv("E2M_WORKSPACE_OUTPUTS_DIR"); val != "" {
		cfg.Workspace.OutputsDir = val
	}
	setInt("E2M_WORKSPACE_RETENTION_MINUTES", &cfg.Workspace.RetentionMinutes)

	// Converter overrides
	if val := os.Getenv("E2M_CONVERTER_COMMAND"); val != "" {
		cfg.Converter.Command = val
	}
	if val := os.Getenv("E2M_CONVERTER_ARGS"); val != "" {
		cfg.Converter.Args = strings.Fields(val)
	}
	setInt("E2M_CONVERTER_TIMEOUT_SECONDS", &cfg.Converter.TimeoutSeconds)

	// Storage overrides
	if val := os.Getenv("E2M_STORAGE_ADAPTER"); val != "" {
		cfg.Storage.Adapter = val
	}
	if val := os.Getenv("E2M_STORAGE_LOCAL_BASE_PATH"); val != "" {
		cfg.Storage.Local.BasePath = val
	}
	if val := os.Getenv("E2M_STORAGE_S3_BUCKET"); val != "" {
		cfg.Storage.S3.Bucket = val
	}
	if val := os.Getenv("E2M_STORAGE_S3_REGION"); val != "" {
		cfg.Storage.S3.Region = val
	}
	if val := os.Getenv("E2M_STORAGE_S3_ENDPOINT"); val != "" {
		cfg.Storage.S3.Endpoint = val
	}
	if val := os.Getenv("E2M_STORAGE_S3_ACCESS_KEY_ID"); val != "" {
		cfg.Storage.S3.AccessKeyID = val
	}
	if val := os.Getenv("E2M_STORAGE_S3_SECRET_ACCESS_KEY"); val != "" {
		cfg.Storage.S3.SecretAccessKey = val
	}

	// Log overrides
	if val := os.Getenv("E2M_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("E2M_LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
}

// setInt overwrites dst when the variable holds a valid integer
func setInt(key string, dst *int) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	if n, err := strconv.Atoi(val); err == nil {
		*dst = n
	}
}

// GetDefault returns a default configuration
func GetDefault() *types.Config {
	return &types.Config{
		Server: types.ServerConfig{
			Host:         "127.0.0.1",
			Port:         3737,
			ReadTimeout:  60,
			WriteTimeout: 0,
			MaxUploadMB:  100,
		},
		Workspace: types.WorkspaceConfig{
			UploadsDir:           "data/uploads",
			OutputsDir:           "data/outputs",
			RetentionMinutes:     60,
			SweepIntervalMinutes: 30,
			CleanupDelaySeconds:  2,
		},
		Converter: types.ConverterConfig{
			Command:        "epub2md",
			TimeoutSeconds: 300,
			MaxOutputBytes: 10 << 20,
		},
		Cover: types.CoverConfig{
			CanonicalName: "cover.jpg",
			JPEGQuality:   90,
		},
		Storage: types.StorageConfig{
			Adapter: "local",
			Local: types.LocalStorageOpts{
				BasePath: "data/artifacts",
			},
		},
		EPUB: types.EPUBConfig{
			HighlightStyle: "github",
		},
		Log: types.LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
