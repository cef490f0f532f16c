/*
	Timelinize
	Copyright (c) 2013 Matthew Holt

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package photocmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/timelinize/photocatalog/geocode"
	"github.com/timelinize/photocatalog/objstore"
)

// Config describes how the command line tool opens and operates on a catalog.
type Config struct {
	// Folder of the catalog repository.
	Repo string `json:"repo,omitempty"`

	// Used when an import does not specify them.
	DefaultLibrary string `json:"default_library,omitempty"`
	DefaultOwner   string `json:"default_owner,omitempty"`

	Geocoder geocode.NominatimOptions `json:"geocoder,omitempty"`

	// Where imported media bytes are stored. If empty, media
	// files are referenced in place.
	Storage objstore.Config `json:"storage,omitempty"`

	// Number of items per progress batch, per task.
	ImportBatchSize  int `json:"import_batch_size,omitempty"`
	GeocodeBatchSize int `json:"geocode_batch_size,omitempty"`
	SummaryBatchSize int `json:"summary_batch_size,omitempty"`
}

// LoadConfig reads the config file at filename, then applies overrides
// from the environment. A missing file at the default path is not an error.
// A .env file in the current directory, if present, is loaded into the
// environment first.
func LoadConfig(filename string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	cfg := new(Config)
	cfgBytes, err := os.ReadFile(filename)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || filename != DefaultConfigFilePath() {
			return nil, err
		}
	} else if err := json.Unmarshal(cfgBytes, cfg); err != nil {
		return nil, fmt.Errorf("decoding config file %s: %w", filename, err)
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return cfg, nil
}

// Environment variables that override config values.
const (
	envRepo          = "PHOTOCATALOG_REPO"
	envLibrary       = "PHOTOCATALOG_LIBRARY"
	envOwner         = "PHOTOCATALOG_OWNER"
	envGeocoderURL   = "PHOTOCATALOG_GEOCODER_URL"
	envUserAgent     = "PHOTOCATALOG_GEOCODER_USER_AGENT"
	envGeocoderRate  = "PHOTOCATALOG_GEOCODER_REQUESTS_PER_HOUR"
	envGeocoderBurst = "PHOTOCATALOG_GEOCODER_BURST"
	envStorageType   = "PHOTOCATALOG_STORAGE_TYPE"
	envStorageDir    = "PHOTOCATALOG_STORAGE_DIR"
	envMinIOEndpoint = "PHOTOCATALOG_MINIO_ENDPOINT"
	envMinIOBucket   = "PHOTOCATALOG_MINIO_BUCKET"
	envMinIOAccess   = "PHOTOCATALOG_MINIO_ACCESS_KEY"
	envMinIOSecret   = "PHOTOCATALOG_MINIO_SECRET_KEY"
	envMinIOSSL      = "PHOTOCATALOG_MINIO_USE_SSL"
)

func (cfg *Config) applyEnv(getenv func(string) string) error {
	str := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str(&cfg.Repo, envRepo)
	str(&cfg.DefaultLibrary, envLibrary)
	str(&cfg.DefaultOwner, envOwner)
	str(&cfg.Geocoder.BaseURL, envGeocoderURL)
	str(&cfg.Geocoder.UserAgent, envUserAgent)
	str(&cfg.Storage.Type, envStorageType)
	str(&cfg.Storage.Dir, envStorageDir)
	str(&cfg.Storage.Endpoint, envMinIOEndpoint)
	str(&cfg.Storage.Bucket, envMinIOBucket)
	str(&cfg.Storage.AccessKey, envMinIOAccess)
	str(&cfg.Storage.SecretKey, envMinIOSecret)

	for key, dst := range map[string]*int{
		envGeocoderRate:  &cfg.Geocoder.RateLimit.RequestsPerHour,
		envGeocoderBurst: &cfg.Geocoder.RateLimit.BurstSize,
	} {
		v := getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}

	if v := getenv(envMinIOSSL); v != "" {
		useSSL, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envMinIOSSL, err)
		}
		cfg.Storage.UseSSL = useSSL
	}

	return nil
}

func (cfg *Config) fillDefaults() {
	if cfg.Repo == "" {
		cfg.Repo = DefaultRepoDir()
	}
	if cfg.Geocoder.UserAgent == "" {
		cfg.Geocoder.UserAgent = "photocatalog"
	}
	// the public service allows one request per second
	if cfg.Geocoder.RateLimit.RequestsPerHour == 0 {
		cfg.Geocoder.RateLimit.RequestsPerHour = 3600
	}
	if cfg.Geocoder.RateLimit.BurstSize == 0 {
		cfg.Geocoder.RateLimit.BurstSize = 1
	}
}

// storageConfigured reports whether an object store was configured.
func (cfg *Config) storageConfigured() bool {
	return cfg.Storage.Type != "" || cfg.Storage.Dir != "" || cfg.Storage.Endpoint != ""
}

// DefaultConfigFilePath returns the file path where
// configuration is persisted.
func DefaultConfigFilePath() string {
	cfgDir, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(cfgDir, "photocatalog", "config.json")
	}
	cfgDir, err = os.UserHomeDir()
	if err == nil {
		return filepath.Join(cfgDir, ".photocatalog", "config.json")
	}
	return filepath.Join(".photocatalog", "config.json")
}

// DefaultRepoDir returns the folder of the catalog repository
// used when none is configured.
func DefaultRepoDir() string {
	dataDir, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(dataDir, "photocatalog")
	}
	return "photocatalog"
}
