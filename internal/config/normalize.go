package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDrive()
	c.normalizeTranscode()
	c.normalizeMetadata()
	if err := c.normalizeDestination(); err != nil {
		return err
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "warning" {
		c.Logging.Level = "warn"
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDrive() {
	c.Drive.Device = strings.TrimSpace(c.Drive.Device)
	if strings.TrimSpace(c.Drive.MountRoot) == "" {
		c.Drive.MountRoot = os.TempDir()
	}
	c.Drive.MountRoot = filepath.Clean(c.Drive.MountRoot)
	if strings.TrimSpace(c.MakeMKV.Binary) == "" {
		c.MakeMKV.Binary = "makemkvcon"
	}
}

func (c *Config) normalizeTranscode() {
	c.Transcode.Engine = strings.ToLower(strings.TrimSpace(c.Transcode.Engine))
	c.Transcode.Container = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.Transcode.Container)), ".")
	if strings.TrimSpace(c.Transcode.Binary) == "" {
		c.Transcode.Binary = "ffmpeg"
	}
}

func (c *Config) normalizeMetadata() {
	providers := make([]string, 0, len(c.Metadata.Providers))
	seen := map[string]struct{}{}
	for _, p := range c.Metadata.Providers {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		providers = append(providers, p)
	}
	c.Metadata.Providers = providers
	c.Metadata.TMDBAPIKey = strings.TrimSpace(c.Metadata.TMDBAPIKey)
	c.Metadata.OMDBAPIKey = strings.TrimSpace(c.Metadata.OMDBAPIKey)
	if c.Metadata.TMDBBaseURL == "" {
		c.Metadata.TMDBBaseURL = defaultTMDBBaseURL
	}
	if c.Metadata.OMDBBaseURL == "" {
		c.Metadata.OMDBBaseURL = defaultOMDBBaseURL
	}
	c.Metadata.TMDBBaseURL = strings.TrimRight(c.Metadata.TMDBBaseURL, "/")
	c.Metadata.OMDBBaseURL = strings.TrimRight(c.Metadata.OMDBBaseURL, "/")
}

func (c *Config) normalizeDestination() error {
	c.Destination.Type = strings.ToLower(strings.TrimSpace(c.Destination.Type))
	var err error
	if c.Destination.Local.Path, err = expandPath(c.Destination.Local.Path); err != nil {
		return fmt.Errorf("destination.local.path: %w", err)
	}
	if c.Destination.SSH.KeyPath, err = expandPath(c.Destination.SSH.KeyPath); err != nil {
		return fmt.Errorf("destination.ssh.key_path: %w", err)
	}
	if c.Destination.SSH.KnownHosts, err = expandPath(c.Destination.SSH.KnownHosts); err != nil {
		return fmt.Errorf("destination.ssh.known_hosts: %w", err)
	}
	c.Destination.SSH.Host = strings.TrimSpace(c.Destination.SSH.Host)
	c.Destination.SSH.User = strings.TrimSpace(c.Destination.SSH.User)
	if c.Destination.SSH.RemotePath == "" {
		c.Destination.SSH.RemotePath = "/archive"
	}
	return nil
}
