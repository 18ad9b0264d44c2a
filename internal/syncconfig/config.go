// Package syncconfig loads the on-disk YAML configuration for a sync-core
// instance: data directory, default remote, HTTP bind address and TUS chunk
// threshold. It generalizes the path-validation discipline of
// internal/keyValStore.StoreConfig.checkConfig to the sync domain, adding a
// free-space check on top via gopsutil's portable disk.Usage.
package syncconfig

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/disk"
	"gopkg.in/yaml.v2"
)

// Config is the top-level sync-core configuration document.
type Config struct {
	// DataPath is the directory backing LayerStore and RepoMetadata.
	DataPath string `yaml:"data_path"`
	// MinimumFreeGB is a free-space threshold checked before accepting a
	// clone/fetch destination path.
	MinimumFreeGB int `yaml:"minimum_free_gb"`
	// DefaultRemoteURL seeds the "origin" remote on clone when the caller
	// does not specify one explicitly.
	DefaultRemoteURL string `yaml:"default_remote_url,omitempty"`
	// HTTPBindAddress is the address the Orchestrator's HTTP surface binds.
	HTTPBindAddress string `yaml:"http_bind_address,omitempty"`
	// DirectTransferThresholdBytes is the size above which push/fetch
	// SHOULD prefer chunked resumable transfer over a single-shot POST.
	DirectTransferThresholdBytes int64 `yaml:"direct_transfer_threshold_bytes,omitempty"`
}

const defaultDirectTransferThreshold = 100 * 1024 * 1024 // 100 MB, per spec.md §5 Backpressure

// Load reads and validates a YAML configuration file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("syncconfig: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("syncconfig: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DirectTransferThresholdBytes == 0 {
		c.DirectTransferThresholdBytes = defaultDirectTransferThreshold
	}
	if c.HTTPBindAddress == "" {
		c.HTTPBindAddress = ":8080"
	}
}

// Validate checks the data path exists and is a directory, the way
// internal/keyValStore.StoreConfig.checkConfig does, then additionally
// checks for enough free space.
func (c *Config) Validate() error {
	if c.DataPath == "" {
		return fmt.Errorf("syncconfig: data_path is required")
	}

	info, err := os.Stat(c.DataPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("syncconfig: data_path %q does not exist", c.DataPath)
	}
	if err != nil {
		return fmt.Errorf("syncconfig: stat data_path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("syncconfig: data_path %q is not a directory", c.DataPath)
	}

	if c.MinimumFreeGB <= 0 {
		return nil
	}

	usage, err := disk.Usage(c.DataPath)
	if err != nil {
		// Disk usage probes can fail in sandboxed/containerized environments;
		// treat that as "can't verify" rather than a hard configuration error.
		return nil
	}
	freeGB := usage.Free / (1024 * 1024 * 1024)
	if int(freeGB) < c.MinimumFreeGB {
		return fmt.Errorf("syncconfig: only %dGB free at %q, need %dGB", freeGB, c.DataPath, c.MinimumFreeGB)
	}
	return nil
}
