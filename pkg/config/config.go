package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/peatdb/peat/pkg/codec"
)

const (
	DefaultManifestFileName = "MANIFEST"
	CurrentManifestVersion  = 1

	// WALFileName is the fixed name of the write-ahead log inside a data
	// directory.
	WALFileName = "wal.log"

	// SSTableFileFormat is the printf format for SSTable file names. The
	// argument is a monotonically increasing sequence number.
	SSTableFileFormat = "%06d.sst"
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrManifestNotFound = errors.New("manifest not found")
	ErrInvalidManifest  = errors.New("invalid manifest")
)

// SyncMode controls when WAL appends are fsynced.
type SyncMode int

const (
	SyncNone SyncMode = iota
	SyncBatch
	SyncImmediate
)

// Config holds the tunables recognized by the storage engine. The zero
// value is not usable; start from NewDefaultConfig.
type Config struct {
	Version int `json:"version"`

	// WAL configuration
	WALSyncMode  SyncMode `json:"wal_sync_mode"`
	WALSyncBytes int64    `json:"wal_sync_bytes"`

	// MemTable configuration
	MemtableFlushThresholdBytes int64 `json:"memtable_flush_threshold_bytes"`

	// SSTable configuration. The index interval is baked into each file at
	// write time; readers infer it from the file contents, never from here.
	SSTableIndexInterval int `json:"sstable_index_interval"`

	// Size caps applied on the write path.
	MaxKeyBytes   int `json:"max_key_bytes"`
	MaxValueBytes int `json:"max_value_bytes"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentManifestVersion,

		WALSyncMode:  SyncImmediate,
		WALSyncBytes: 1024 * 1024, // 1MB

		MemtableFlushThresholdBytes: 4 * 1024 * 1024, // 4MB

		SSTableIndexInterval: 16,

		MaxKeyBytes:   codec.MaxKeySize,
		MaxValueBytes: codec.MaxValueSize,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.MemtableFlushThresholdBytes <= 0 {
		return fmt.Errorf("%w: memtable flush threshold must be positive", ErrInvalidConfig)
	}

	if c.SSTableIndexInterval <= 0 {
		return fmt.Errorf("%w: SSTable index interval must be positive", ErrInvalidConfig)
	}

	if c.MaxKeyBytes <= 0 || c.MaxKeyBytes > codec.MaxKeySize {
		return fmt.Errorf("%w: max key bytes must be in (0, %d]", ErrInvalidConfig, codec.MaxKeySize)
	}

	if c.MaxValueBytes <= 0 || c.MaxValueBytes > codec.MaxValueSize {
		return fmt.Errorf("%w: max value bytes must be in (0, %d]", ErrInvalidConfig, codec.MaxValueSize)
	}

	if c.WALSyncMode == SyncBatch && c.WALSyncBytes <= 0 {
		return fmt.Errorf("%w: WAL sync bytes must be positive in batch mode", ErrInvalidConfig)
	}

	return nil
}

// LoadManifest loads the configuration from the manifest file in dbPath
func LoadManifest(dbPath string) (*Config, error) {
	manifestPath := filepath.Join(dbPath, DefaultManifestFileName)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SaveManifest saves the configuration to the manifest file in dbPath.
// The manifest is written to a temporary file and renamed into place.
func (c *Config) SaveManifest(dbPath string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	manifestPath := filepath.Join(dbPath, DefaultManifestFileName)
	tempPath := manifestPath + ".tmp"

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := os.Rename(tempPath, manifestPath); err != nil {
		return fmt.Errorf("failed to rename manifest: %w", err)
	}

	return nil
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}
