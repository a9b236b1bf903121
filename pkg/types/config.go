package types

// Config represents the overall application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Workspace WorkspaceConfig `yaml:"workspace" json:"workspace"`
	Converter ConverterConfig `yaml:"converter" json:"converter"`
	Cover     CoverConfig     `yaml:"cover" json:"cover"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	EPUB      EPUBConfig      `yaml:"epub" json:"epub"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	ReadTimeout  int    `yaml:"read_timeout" json:"read_timeout"`   // seconds
	WriteTimeout int    `yaml:"write_timeout" json:"write_timeout"` // seconds, 0 disables (long conversions)
	MaxUploadMB  int    `yaml:"max_upload_mb" json:"max_upload_mb"`
	StaticDir    string `yaml:"static_dir" json:"static_dir"` // optional browser UI
}

// WorkspaceConfig locates the ephemeral upload and output directories
type WorkspaceConfig struct {
	UploadsDir           string `yaml:"uploads_dir" json:"uploads_dir"`
	OutputsDir           string `yaml:"outputs_dir" json:"outputs_dir"`
	RetentionMinutes     int    `yaml:"retention_minutes" json:"retention_minutes"`
	SweepIntervalMinutes int    `yaml:"sweep_interval_minutes" json:"sweep_interval_minutes"`
	CleanupDelaySeconds  int    `yaml:"cleanup_delay_seconds" json:"cleanup_delay_seconds"`
}

// ConverterConfig describes how the external EPUB-to-Markdown tool is invoked
type ConverterConfig struct {
	Command        string   `yaml:"command" json:"command"`
	Args           []string `yaml:"args" json:"args"` // prepended before the derived arguments
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds"`
	MaxOutputBytes int      `yaml:"max_output_bytes" json:"max_output_bytes"`
}

// CoverConfig controls cover normalization
type CoverConfig struct {
	CanonicalName string `yaml:"canonical_name" json:"canonical_name"`
	JPEGQuality   int    `yaml:"jpeg_quality" json:"jpeg_quality"`
}

// StorageConfig defines the artifact store used for generated EPUBs
type StorageConfig struct {
	Adapter string           `yaml:"adapter" json:"adapter"` // "local" or "s3"
	Local   LocalStorageOpts `yaml:"local" json:"local"`
	S3      S3StorageOpts    `yaml:"s3" json:"s3"`
}

// LocalStorageOpts configures the local filesystem adapter
type LocalStorageOpts struct {
	BasePath string `yaml:"base_path" json:"base_path"`
}

// S3StorageOpts configures the S3-compatible adapter
type S3StorageOpts struct {
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	Region          string `yaml:"region" json:"region"`
	Bucket          string `yaml:"bucket" json:"bucket"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl" json:"use_ssl"`
}

// EPUBConfig holds reverse conversion settings
type EPUBConfig struct {
	HighlightStyle string `yaml:"highlight_style" json:"highlight_style"` // chroma style name
	DefaultAuthor  string `yaml:"default_author" json:"default_author"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`   // "debug", "info", "warn", "error"
	Format string `yaml:"format" json:"format"` // "text" or "json"
}
