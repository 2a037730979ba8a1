package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// SupportedExtensions lists the output extensions a recorder engine exists for.
var SupportedExtensions = []string{"wav", "m4a", "mp3", "ogg", "opus", "flac"}

type Config struct {
	Output    OutputConfig    `mapstructure:"output" yaml:"output" toml:"output"`
	Protected ProtectedConfig `mapstructure:"protected" yaml:"protected" toml:"protected"`
	Schedule  ScheduleConfig  `mapstructure:"schedule" yaml:"schedule" toml:"schedule"`
	Record    RecordConfig    `mapstructure:"record" yaml:"record" toml:"record"`
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio" toml:"audio"`
	State     StateConfig     `mapstructure:"state" yaml:"state" toml:"state"`
	Host      HostConfig      `mapstructure:"host" yaml:"host" toml:"host"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server" toml:"server"`
}

type OutputConfig struct {
	Directory      string `mapstructure:"directory" yaml:"directory" toml:"directory"`
	Extension      string `mapstructure:"extension" yaml:"extension" toml:"extension"`
	ManagedHandles bool   `mapstructure:"managed_handles" yaml:"managed_handles" toml:"managed_handles"` // open the file and hand the descriptor to the engine
	MinFreeMB      int    `mapstructure:"min_free_mb" yaml:"min_free_mb" toml:"min_free_mb"`
}

type ProtectedConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory" toml:"directory"`
}

type ScheduleConfig struct {
	Time          string        `mapstructure:"time" yaml:"time" toml:"time"` // local "HH:MM"
	Exact         bool          `mapstructure:"exact" yaml:"exact" toml:"exact"`
	InexactWindow time.Duration `mapstructure:"inexact_window" yaml:"inexact_window" toml:"inexact_window"`
	ExactRecheck  time.Duration `mapstructure:"exact_recheck" yaml:"exact_recheck" toml:"exact_recheck"`
}

type RecordConfig struct {
	MaxDuration time.Duration `mapstructure:"max_duration" yaml:"max_duration" toml:"max_duration"`
}

type AudioConfig struct {
	InputFormat string `mapstructure:"input_format" yaml:"input_format" toml:"input_format"` // ffmpeg -f value: "pulse", "alsa"
	Device      string `mapstructure:"device" yaml:"device" toml:"device"`
	SampleRate  int    `mapstructure:"sample_rate" yaml:"sample_rate" toml:"sample_rate"`
	Channels    int    `mapstructure:"channels" yaml:"channels" toml:"channels"`
	Bitrate     string `mapstructure:"bitrate" yaml:"bitrate" toml:"bitrate"`
}

type StateConfig struct {
	DSN     string `mapstructure:"dsn" yaml:"dsn" toml:"dsn"` // empty keeps marks in a yaml file under data_dir
	DataDir string `mapstructure:"data_dir" yaml:"data_dir" toml:"data_dir"`
}

type HostConfig struct {
	LockIndicator   string        `mapstructure:"lock_indicator" yaml:"lock_indicator" toml:"lock_indicator"`
	UnlockIndicator string        `mapstructure:"unlock_indicator" yaml:"unlock_indicator" toml:"unlock_indicator"`
	Notify          bool          `mapstructure:"notify" yaml:"notify" toml:"notify"`
	BootGrace       time.Duration `mapstructure:"boot_grace" yaml:"boot_grace" toml:"boot_grace"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen" toml:"listen"`
}

// DataDir returns the dailycapture XDG data directory.
func DataDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "dailycapture")
}

func setDefaults(v *viper.Viper) {
	dataDir := DataDir()

	v.SetDefault("output.directory", filepath.Join(os.Getenv("HOME"), "Audio", "DailyCapture"))
	v.SetDefault("output.extension", "m4a")
	v.SetDefault("output.managed_handles", false)
	v.SetDefault("output.min_free_mb", 64)
	v.SetDefault("protected.directory", filepath.Join(dataDir, "recordings"))
	v.SetDefault("schedule.time", "06:00")
	v.SetDefault("schedule.exact", true)
	v.SetDefault("schedule.inexact_window", 15*time.Minute)
	v.SetDefault("schedule.exact_recheck", time.Minute)
	v.SetDefault("record.max_duration", time.Duration(0))
	v.SetDefault("audio.input_format", "pulse")
	v.SetDefault("audio.device", "default")
	v.SetDefault("audio.sample_rate", 48000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.bitrate", "128k")
	v.SetDefault("state.dsn", "")
	v.SetDefault("state.data_dir", dataDir)
	v.SetDefault("host.lock_indicator", "")
	v.SetDefault("host.unlock_indicator", "")
	v.SetDefault("host.notify", true)
	v.SetDefault("host.boot_grace", 10*time.Minute)
	v.SetDefault("server.listen", "127.0.0.1:7606")
}

// Provider serves the current configuration and swaps it when the file changes.
// A recording session reads it once at start, so edits only affect later sessions.
type Provider struct {
	v       *viper.Viper
	file    string
	loaded  bool
	current atomic.Pointer[Config]
}

// Load reads configFile (if it exists) on top of defaults and DAILYCAPTURE_* env vars.
func Load(configFile string) (*Provider, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DAILYCAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	p := &Provider{v: v, file: configFile}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
			slog.Debug("Config file not found, using defaults", "file", configFile)
		} else {
			p.loaded = true
		}
	}

	cfg, err := p.decode()
	if err != nil {
		return nil, err
	}
	p.current.Store(cfg)
	return p, nil
}

// Static wraps an already built configuration, mostly for tests.
func Static(cfg *Config) *Provider {
	p := &Provider{}
	p.current.Store(cfg)
	return p
}

func (p *Provider) decode() (*Config, error) {
	var cfg Config
	if err := p.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Output.Directory = expandPath(cfg.Output.Directory)
	cfg.Protected.Directory = expandPath(cfg.Protected.Directory)
	cfg.State.DataDir = expandPath(cfg.State.DataDir)
	cfg.Output.Extension = strings.ToLower(strings.TrimPrefix(cfg.Output.Extension, "."))

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Current returns the active configuration snapshot.
func (p *Provider) Current() *Config {
	return p.current.Load()
}

// File returns the config file path, loaded or not.
func (p *Provider) File() string {
	return p.file
}

// Watch reloads the configuration whenever the file changes. Invalid edits
// are logged and the previous snapshot stays active.
func (p *Provider) Watch(onChange func(*Config)) {
	if p.v == nil || !p.loaded {
		return
	}
	p.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := p.decode()
		if err != nil {
			slog.Warn("Ignoring config change", "file", e.Name, "error", err)
			return
		}
		p.current.Store(cfg)
		slog.Info("Configuration reloaded", "file", e.Name, "op", e.Op.String())
		if onChange != nil {
			onChange(cfg)
		}
	})
	p.v.WatchConfig()
}

func (p *Provider) DestinationDir() string { return p.Current().Output.Directory }
func (p *Provider) ProtectedDir() string   { return p.Current().Protected.Directory }
func (p *Provider) Extension() string      { return p.Current().Output.Extension }
func (p *Provider) ManagedHandles() bool   { return p.Current().Output.ManagedHandles }

// MinFreeBytes is the free space the destination volume must keep before a
// Standard-mode recording starts there.
func (p *Provider) MinFreeBytes() uint64 {
	mb := p.Current().Output.MinFreeMB
	if mb <= 0 {
		return 0
	}
	return uint64(mb) * 1024 * 1024
}

func (p *Provider) MaxDuration() time.Duration { return p.Current().Record.MaxDuration }
func (p *Provider) Audio() AudioConfig         { return p.Current().Audio }

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
