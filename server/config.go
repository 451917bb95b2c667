package server

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cyclopcam/dbh"
	"github.com/dustin/go-humanize"
)

// SYNC-LABELSTORE-CONFIG
type Config struct {
	DB              dbh.DBConfig  `json:"db"`
	Storage         StorageConfig `json:"storage"`
	ExportCache     string        `json:"exportCache"`     // Path to the export cache directory
	ExportCacheSize string        `json:"exportCacheSize"` // eg "256 MB"
	MaxUploadSize   string        `json:"maxUploadSize"`   // Largest accepted frame or annotation upload, eg "64 MB"
	Listen          string        `json:"listen"`          // eg ":8080"
	AdminPassword   string        `json:"adminPassword"`   // Password of the initial admin user. If empty, a random password is generated and logged.
}

// One of the storage options must be configured (i.e. either 'filesystem' or 'gcs')
type StorageConfig struct {
	Filesystem *StorageConfigFS  `json:"filesystem"`
	GCS        *StorageConfigGCS `json:"gcs"`
}

type StorageConfigFS struct {
	Root string `json:"root"` // Path to the root of the filesystem
}

type StorageConfigGCS struct {
	Bucket string `json:"bucket"` // Name of the GCS bucket
	Public bool   `json:"public"` // Whether the bucket is public
}

const (
	DefaultExportCacheSize = "256 MB"
	DefaultMaxUploadSize   = "64 MB"
	DefaultListen          = ":8080"
)

func LoadConfig(configFile string) (*Config, error) {
	cfg := Config{}
	if cfgB, err := os.ReadFile(configFile); err != nil {
		return nil, err
	} else {
		if err := json.Unmarshal(cfgB, &cfg); err != nil {
			return nil, fmt.Errorf("Error parsing config file %v: %w", configFile, err)
		}
	}
	return &cfg, nil
}

func parseSize(name, value, dflt string) (int64, error) {
	if value == "" {
		value = dflt
	}
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("Invalid %v '%v': %w", name, value, err)
	}
	return int64(n), nil
}

func (c *Config) exportCacheBytes() (int64, error) {
	return parseSize("exportCacheSize", c.ExportCacheSize, DefaultExportCacheSize)
}

func (c *Config) maxUploadBytes() (int64, error) {
	return parseSize("maxUploadSize", c.MaxUploadSize, DefaultMaxUploadSize)
}

func (c *Config) listenAddr() string {
	if c.Listen == "" {
		return DefaultListen
	}
	return c.Listen
}
