// Package config loads the pagestore YAML configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sushant-115/pagestore/core/write_engine/memtable"
	"github.com/sushant-115/pagestore/pkg/logger"
	"github.com/sushant-115/pagestore/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file.
type Config struct {
	Storage   memtable.Config  `yaml:"storage"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the configuration used for keys missing from the file.
func Default() Config {
	return Config{
		Storage: memtable.Config{
			PoolSize:   64,
			DBFilePath: "pagestore.db",
			Workers:    4,
			Replacer:   "lru",
			SyncWrites: true,
		},
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
		},
		Telemetry: telemetry.Config{
			Enabled:          false,
			ServiceName:      logger.ServiceName,
			TraceSampleRatio: 1.0,
		},
	}
}

// Load reads the file at path on top of Default. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default. Unknown keys are rejected.
func Parse(raw []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings that can never work.
func (c Config) Validate() error {
	if c.Storage.PoolSize <= 0 {
		return fmt.Errorf("storage.pool_size must be positive, got %d", c.Storage.PoolSize)
	}
	if c.Storage.DBFilePath == "" {
		return errors.New("storage.db_file_path is required")
	}
	if c.Storage.Workers < 0 {
		return fmt.Errorf("storage.workers must not be negative, got %d", c.Storage.Workers)
	}
	if r := c.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry.trace_sample_ratio must be within [0, 1], got %v", r)
	}
	return nil
}
