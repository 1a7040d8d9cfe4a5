// Package config loads the deployment configuration: where the live
// portage tree, binpkg cache, and e4e's own storage live on this host,
// and how emerge is invoked.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type PortageConfig struct {
	Root            string  `yaml:"root"`
	BackupDir       string  `yaml:"backupDir"`
	TimestampFile   string  `yaml:"timestampFile"`
	SyncMaxAgeHours int     `yaml:"syncMaxAgeHours"`
	BinpkgDir       string  `yaml:"binpkgDir"`
	EmergeJobs      int     `yaml:"emergeJobs"`
	LoadAverage     float64 `yaml:"loadAverage"`
}

type StorageConfig struct {
	ConfigCacheDir string `yaml:"configCacheDir"`
	ArtifactDir    string `yaml:"artifactDir"`
}

type QueueConfig struct {
	Size int `yaml:"size"`
}

type WebhookConfig struct {
	TimeoutSec int `yaml:"timeoutSec"`
	MaxRetries int `yaml:"maxRetries"`
}

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Portage PortageConfig `yaml:"portage"`
	Storage StorageConfig `yaml:"storage"`
	Queue   QueueConfig   `yaml:"queue"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// Default returns the stock Gentoo host layout.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Portage: PortageConfig{
			Root:            "/etc/portage",
			BackupDir:       "/tmp",
			TimestampFile:   "/var/db/repos/gentoo/metadata/timestamp.chk",
			SyncMaxAgeHours: 168,
			BinpkgDir:       "/var/cache/binpkgs",
			EmergeJobs:      4,
			LoadAverage:     8,
		},
		Storage: StorageConfig{
			ConfigCacheDir: "/var/cache/e4e/configs",
			ArtifactDir:    "/var/cache/e4e/artifacts",
		},
		Queue:   QueueConfig{Size: 128},
		Webhook: WebhookConfig{TimeoutSec: 10, MaxRetries: 5},
	}
}

// Load reads a YAML config file over the defaults. A missing file is
// not an error: the defaults describe a standard Gentoo host.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		slog.Info("config file not found, using defaults", "path", path)
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
