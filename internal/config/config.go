package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir" yaml:"staging_dir" env:"DISCARCHIVE_STAGING_DIR"`
	StateDir   string `toml:"state_dir" yaml:"state_dir" env:"DISCARCHIVE_STATE_DIR"`
	LogDir     string `toml:"log_dir" yaml:"log_dir" env:"DISCARCHIVE_LOG_DIR"`
}

// Drive configures the optical drive and its monitor.
type Drive struct {
	Device              string `toml:"device" yaml:"device" env:"DISCARCHIVE_DEVICE" validate:"required"`
	PollIntervalSeconds int    `toml:"poll_interval" yaml:"poll_interval" validate:"min=1"`
	SettleDelaySeconds  int    `toml:"settle_delay" yaml:"settle_delay" validate:"min=0"`
	UnmountGraceSeconds int    `toml:"unmount_grace" yaml:"unmount_grace" validate:"min=0"`
	ReadyTimeoutSeconds int    `toml:"ready_timeout" yaml:"ready_timeout" validate:"min=0"`
	UseUdev             bool   `toml:"use_udev" yaml:"use_udev" env:"DISCARCHIVE_USE_UDEV"`
	MountRoot           string `toml:"mount_root" yaml:"mount_root"`
}

// MakeMKV configures the extraction tool.
type MakeMKV struct {
	Binary             string `toml:"binary" yaml:"binary"`
	InfoTimeoutSeconds int    `toml:"info_timeout" yaml:"info_timeout" validate:"min=1"`
	MinLengthSeconds   int    `toml:"min_length" yaml:"min_length" validate:"min=0"`
}

// Transcode configures the transcoding backend.
type Transcode struct {
	Engine       string `toml:"engine" yaml:"engine" env:"DISCARCHIVE_TRANSCODE_ENGINE" validate:"oneof=ffmpeg drapto"`
	Binary       string `toml:"binary" yaml:"binary"`
	VideoCodec   string `toml:"video_codec" yaml:"video_codec" validate:"required"`
	AudioCodec   string `toml:"audio_codec" yaml:"audio_codec" validate:"required"`
	AudioBitrate string `toml:"audio_bitrate" yaml:"audio_bitrate"`
	Container    string `toml:"container" yaml:"container" validate:"oneof=mp4 mkv"`
	CRF          int    `toml:"crf" yaml:"crf" validate:"min=0,max=51"`
	Preset       string `toml:"preset" yaml:"preset" validate:"required"`
}

// Metadata configures the metadata providers.
type Metadata struct {
	Providers             []string `toml:"providers" yaml:"providers" validate:"dive,oneof=tmdb omdb"`
	TMDBAPIKey            string   `toml:"tmdb_api_key" yaml:"tmdb_api_key" env:"DISCARCHIVE_TMDB_API_KEY"`
	TMDBBaseURL           string   `toml:"tmdb_base_url" yaml:"tmdb_base_url"`
	TMDBLanguage          string   `toml:"tmdb_language" yaml:"tmdb_language"`
	OMDBAPIKey            string   `toml:"omdb_api_key" yaml:"omdb_api_key" env:"DISCARCHIVE_OMDB_API_KEY"`
	OMDBBaseURL           string   `toml:"omdb_base_url" yaml:"omdb_base_url"`
	RequestTimeoutSeconds int      `toml:"request_timeout" yaml:"request_timeout" validate:"min=1"`
	MaxCandidates         int      `toml:"max_candidates" yaml:"max_candidates" validate:"min=1"`
}

// LocalDestination is a directory on this host.
type LocalDestination struct {
	Path string `toml:"path" yaml:"path" env:"DISCARCHIVE_ARCHIVE_PATH"`
}

// SSHDestination is a directory on a remote host reached over SFTP.
type SSHDestination struct {
	Host                  string `toml:"host" yaml:"host" env:"DISCARCHIVE_SSH_HOST"`
	Port                  int    `toml:"port" yaml:"port" validate:"min=1,max=65535"`
	User                  string `toml:"user" yaml:"user" env:"DISCARCHIVE_SSH_USER"`
	KeyPath               string `toml:"key_path" yaml:"key_path" env:"DISCARCHIVE_SSH_KEY_PATH"`
	RemotePath            string `toml:"remote_path" yaml:"remote_path"`
	KnownHosts            string `toml:"known_hosts" yaml:"known_hosts"`
	ConnectTimeoutSeconds int    `toml:"connect_timeout" yaml:"connect_timeout" validate:"min=1"`
}

// Destination selects where finished files are archived.
type Destination struct {
	Type  string           `toml:"type" yaml:"type" env:"DISCARCHIVE_DESTINATION" validate:"oneof=local ssh"`
	Local LocalDestination `toml:"local" yaml:"local"`
	SSH   SSHDestination   `toml:"ssh" yaml:"ssh"`
}

// Jobs configures job execution and retention.
type Jobs struct {
	MaxAttempts              int  `toml:"max_attempts" yaml:"max_attempts" validate:"min=1"`
	RetryDelaySeconds        int  `toml:"retry_delay" yaml:"retry_delay" validate:"min=0"`
	JobTimeoutSeconds        int  `toml:"job_timeout" yaml:"job_timeout" validate:"min=1"`
	Workers                  int  `toml:"workers" yaml:"workers" validate:"min=1"`
	EjectOnSuccess           bool `toml:"eject_on_success" yaml:"eject_on_success"`
	RetentionDays            int  `toml:"retention_days" yaml:"retention_days" validate:"min=0"`
	PollIntervalSeconds      int  `toml:"poll_interval" yaml:"poll_interval" validate:"min=1"`
	HeartbeatIntervalSeconds int  `toml:"heartbeat_interval" yaml:"heartbeat_interval" validate:"min=1"`
	HeartbeatTimeoutSeconds  int  `toml:"heartbeat_timeout" yaml:"heartbeat_timeout" validate:"min=1"`
}

// Logging configures log output.
type Logging struct {
	Format string `toml:"format" yaml:"format" env:"DISCARCHIVE_LOG_FORMAT" validate:"oneof=console json"`
	Level  string `toml:"level" yaml:"level" env:"DISCARCHIVE_LOG_LEVEL" validate:"oneof=debug info warn error"`
}

// Config encapsulates all configuration values.
//
// Configuration sections by subsystem:
//   - Paths: staging, state (database, lock), and log directories
//   - Drive: optical device and monitor timings
//   - MakeMKV: title extraction
//   - Transcode: ffmpeg or drapto encoding settings
//   - Metadata: TMDB and OMDb lookups
//   - Destination: local directory or SSH host
//   - Jobs: retry budget, timeouts, workers, retention
//   - Logging: log format and level
type Config struct {
	Paths       Paths       `toml:"paths" yaml:"paths"`
	Drive       Drive       `toml:"drive" yaml:"drive"`
	MakeMKV     MakeMKV     `toml:"makemkv" yaml:"makemkv"`
	Transcode   Transcode   `toml:"transcode" yaml:"transcode"`
	Metadata    Metadata    `toml:"metadata" yaml:"metadata"`
	Destination Destination `toml:"destination" yaml:"destination"`
	Jobs        Jobs        `toml:"jobs" yaml:"jobs"`
	Logging     Logging     `toml:"logging" yaml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. Environment
// variables override file values. The returned config has all path fields
// expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		if err := decodeFile(resolvedPath, &cfg); err != nil {
			return nil, "", false, err
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, "", false, fmt.Errorf("read environment overrides: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func decodeFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(file).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parse config: %w", err)
		}
	default:
		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return fmt.Errorf("parse config: %s", strict.String())
			}
			return fmt.Errorf("parse config: %w", err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		path = defaultConfigPath
	}
	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %q is a directory", expanded)
	}
	return expanded, true, nil
}

// EnsureDirectories creates required directories for daemon operation. A
// local archive directory is created on a best-effort basis so the daemon can
// start while external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Destination.Type == DestinationLocal && c.Destination.Local.Path != "" {
		_ = os.MkdirAll(c.Destination.Local.Path, 0o755)
	}
	return nil
}

// EnabledProviders returns the configured metadata providers that have an
// API key. Providers without credentials are skipped rather than rejected.
func (c *Config) EnabledProviders() []string {
	enabled := make([]string, 0, len(c.Metadata.Providers))
	for _, provider := range c.Metadata.Providers {
		switch {
		case provider == "tmdb" && c.Metadata.TMDBAPIKey != "":
			enabled = append(enabled, provider)
		case provider == "omdb" && c.Metadata.OMDBAPIKey != "":
			enabled = append(enabled, provider)
		}
	}
	return enabled
}

// DatabasePath is the SQLite file holding jobs and archived items.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "discarchive.db")
}

// LockPath is the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "discarchive.lock")
}

func (d Drive) PollInterval() time.Duration { return seconds(d.PollIntervalSeconds) }
func (d Drive) SettleDelay() time.Duration  { return seconds(d.SettleDelaySeconds) }
func (d Drive) UnmountGrace() time.Duration { return seconds(d.UnmountGraceSeconds) }
func (d Drive) ReadyTimeout() time.Duration { return seconds(d.ReadyTimeoutSeconds) }

func (m MakeMKV) InfoTimeout() time.Duration { return seconds(m.InfoTimeoutSeconds) }

func (m Metadata) RequestTimeout() time.Duration { return seconds(m.RequestTimeoutSeconds) }

func (s SSHDestination) ConnectTimeout() time.Duration { return seconds(s.ConnectTimeoutSeconds) }

func (j Jobs) RetryDelay() time.Duration        { return seconds(j.RetryDelaySeconds) }
func (j Jobs) JobTimeout() time.Duration        { return seconds(j.JobTimeoutSeconds) }
func (j Jobs) PollInterval() time.Duration      { return seconds(j.PollIntervalSeconds) }
func (j Jobs) HeartbeatInterval() time.Duration { return seconds(j.HeartbeatIntervalSeconds) }
func (j Jobs) HeartbeatTimeout() time.Duration  { return seconds(j.HeartbeatTimeoutSeconds) }

func seconds(v int) time.Duration { return time.Duration(v) * time.Second }

func expandPath(pathValue string) (string, error) {
	if strings.TrimSpace(pathValue) == "" {
		return "", nil
	}
	expanded, err := homedir.Expand(pathValue)
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	absolute, err := filepath.Abs(filepath.Clean(expanded))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", expanded, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
