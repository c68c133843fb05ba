package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultQuota is the space given to owners without an explicit total (10 GiB).
	DefaultQuota int64 = 10 << 30
	// DefaultChunkSize is the chunk size used by "drive upload" (4 MiB).
	DefaultChunkSize int64 = 4 << 20
	// DefaultPresignTTL is how long download URLs stay valid, in seconds.
	DefaultPresignTTL = 3600
)

// Config represents the main configuration for drive.
type Config struct {
	BaseDir    string           `toml:"base_dir" validate:"required"`
	LogDir     string           `toml:"log_dir" validate:"required"`
	Owner      int64            `toml:"owner" validate:"gte=0"` // used when --owner and DRIVE_OWNER are absent
	Database   DatabaseConfig   `toml:"database"`
	BlobStore  BlobStoreConfig  `toml:"blob_store"`
	Search     SearchConfig     `toml:"search"`
	Encryption EncryptionConfig `toml:"encryption"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Quota      QuotaConfig      `toml:"quota"`
	Upload     UploadConfig     `toml:"upload"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// DatabaseConfig configures the metadata catalog.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" validate:"required,oneof=sqlite memory"`
	DataDir string `toml:"data_dir,omitempty" validate:"required_if=Type sqlite"`
}

// BlobStoreConfig configures where file bytes live.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type BlobStoreConfig struct {
	Type string `toml:"type" validate:"required,oneof=memory filesystem s3"`

	// Filesystem-specific fields (only used when Type == "filesystem")
	Root       string `toml:"root,omitempty" validate:"required_if=Type filesystem"`
	BaseURL    string `toml:"base_url,omitempty"`
	SigningKey string `toml:"signing_key,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty" validate:"required_if=Type s3"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`
	S3PathStyle bool   `toml:"s3_path_style,omitempty"`
}

// SearchConfig configures the name index.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type SearchConfig struct {
	Type      string `toml:"type" validate:"required,oneof=none memory badger"`
	Dir       string `toml:"dir,omitempty" validate:"required_if=Type badger"`
	QueueSize int    `toml:"queue_size,omitempty" validate:"gte=0"`
}

// EncryptionConfig holds paths to the age key pair used for catalog snapshots.
type EncryptionConfig struct {
	Type           string `toml:"type" validate:"omitempty,oneof=age test"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// MetricsConfig controls the Prometheus registry.
type MetricsConfig struct {
	Enabled      bool   `toml:"enabled"`
	TextfilePath string `toml:"textfile_path,omitempty"` // written on exit when set
}

// QuotaConfig holds quota defaults.
type QuotaConfig struct {
	DefaultTotal int64 `toml:"default_total" validate:"gt=0"`
}

// UploadConfig tunes uploads and cascades.
type UploadConfig struct {
	ChunkSize  int64 `toml:"chunk_size" validate:"gt=0"`
	BatchSize  int   `toml:"batch_size" validate:"gte=0"`
	PresignTTL int   `toml:"presign_ttl_seconds" validate:"gt=0"`
}

// FilesystemConfig holds settings for reading local trees on upload.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// NewConfig creates a Config rooted at baseDir with local defaults.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Owner:   1,
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		BlobStore: BlobStoreConfig{
			Type: "filesystem",
			Root: filepath.Join(baseDir, "blobs"),
		},
		Search: SearchConfig{
			Type: "badger",
			Dir:  filepath.Join(baseDir, "index"),
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "drive.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "drive.key"),
		},
		Quota:  QuotaConfig{DefaultTotal: DefaultQuota},
		Upload: UploadConfig{ChunkSize: DefaultChunkSize, PresignTTL: DefaultPresignTTL},
		Filesystem: FilesystemConfig{
			Ignore: []string{".git", ".DS_Store"},
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes and validates a Config.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Write encodes a Config.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}

// applyDefaults fills fields older config files may lack.
func applyDefaults(cfg *Config) {
	if cfg.Search.Type == "" {
		cfg.Search.Type = "none"
	}
	if cfg.Encryption.Type == "" {
		cfg.Encryption.Type = "age"
	}
	if cfg.Quota.DefaultTotal == 0 {
		cfg.Quota.DefaultTotal = DefaultQuota
	}
	if cfg.Upload.ChunkSize == 0 {
		cfg.Upload.ChunkSize = DefaultChunkSize
	}
	if cfg.Upload.PresignTTL == 0 {
		cfg.Upload.PresignTTL = DefaultPresignTTL
	}
}

// ReadFromFile reads a Config from path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	cfg, err := (&Manager{}).Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	if err := (&Manager{}).Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path after validating it. An existing file is never overwritten.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
