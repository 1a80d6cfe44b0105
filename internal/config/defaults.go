package config

const (
	defaultConfigPath = "~/.config/discarchive/config.toml"

	DestinationLocal = "local"
	DestinationSSH   = "ssh"

	EngineFFmpeg = "ffmpeg"
	EngineDrapto = "drapto"

	defaultTMDBBaseURL = "https://api.themoviedb.org/3"
	defaultOMDBBaseURL = "https://www.omdbapi.com"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: "~/.local/share/discarchive/staging",
			StateDir:   "~/.local/share/discarchive",
			LogDir:     "~/.local/share/discarchive/logs",
		},
		Drive: Drive{
			Device:              "/dev/sr0",
			PollIntervalSeconds: 2,
			SettleDelaySeconds:  2,
			UnmountGraceSeconds: 1,
			ReadyTimeoutSeconds: 30,
			UseUdev:             true,
		},
		MakeMKV: MakeMKV{
			Binary:             "makemkvcon",
			InfoTimeoutSeconds: 300,
			MinLengthSeconds:   600,
		},
		Transcode: Transcode{
			Engine:       EngineFFmpeg,
			Binary:       "ffmpeg",
			VideoCodec:   "libx265",
			AudioCodec:   "aac",
			AudioBitrate: "192k",
			Container:    "mp4",
			CRF:          23,
			Preset:       "medium",
		},
		Metadata: Metadata{
			Providers:             []string{"tmdb", "omdb"},
			TMDBBaseURL:           defaultTMDBBaseURL,
			TMDBLanguage:          "en-US",
			OMDBBaseURL:           defaultOMDBBaseURL,
			RequestTimeoutSeconds: 10,
			MaxCandidates:         10,
		},
		Destination: Destination{
			Type:  DestinationLocal,
			Local: LocalDestination{Path: "/archive"},
			SSH: SSHDestination{
				Port:                  22,
				RemotePath:            "/archive",
				ConnectTimeoutSeconds: 30,
			},
		},
		Jobs: Jobs{
			MaxAttempts:              3,
			RetryDelaySeconds:        60,
			JobTimeoutSeconds:        4 * 60 * 60,
			Workers:                  1,
			EjectOnSuccess:           true,
			RetentionDays:            30,
			PollIntervalSeconds:      2,
			HeartbeatIntervalSeconds: 15,
			HeartbeatTimeoutSeconds:  120,
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
	}
}
