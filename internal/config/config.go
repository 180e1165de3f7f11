package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultSampleRate       = 16000
	defaultChannels         = 1
	defaultFrameMs          = 20
	defaultHTTPTimeout      = 30 * time.Second
	defaultFeedbackInterval = time.Second
	defaultIdleWindow       = 5 * time.Minute
	defaultDataChannel      = "oai-events"
)

// Config stores runtime configuration for a voice client.
type Config struct {
	Backend  BackendConfig  `yaml:"backend" json:"backend"`
	Audio    AudioConfig    `yaml:"audio" json:"audio"`
	Playback PlaybackConfig `yaml:"playback" json:"playback"`
	Realtime RealtimeConfig `yaml:"realtime" json:"realtime"`
	Session  SessionConfig  `yaml:"session" json:"session"`
	Log      LogConfig      `yaml:"log" json:"log"`

	// Path is the config file that was read, empty when none was found.
	Path string `yaml:"-" json:"path,omitempty"`
}

type BackendConfig struct {
	BaseURL string        `yaml:"base_url" json:"baseUrl"`
	Token   string        `yaml:"token" json:"token,omitempty"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"recorder_command" json:"recorderCommand"`
	InputFormat     string `yaml:"input_format" json:"inputFormat"`
	InputDevice     string `yaml:"input_device" json:"inputDevice"`
	SampleRate      int    `yaml:"sample_rate" json:"sampleRate"`
	Channels        int    `yaml:"channels" json:"channels"`
	FrameMs         int    `yaml:"frame_ms" json:"frameMs"`
}

type PlaybackConfig struct {
	Command  string `yaml:"command" json:"command"`
	Disabled bool   `yaml:"disabled" json:"disabled"`
}

type RealtimeConfig struct {
	ICEServers       []string `yaml:"ice_servers" json:"iceServers"`
	DataChannelLabel string   `yaml:"data_channel" json:"dataChannel"`
	OpusBitrate      int      `yaml:"opus_bitrate" json:"opusBitrate"`
}

type SessionConfig struct {
	FeedbackInterval time.Duration `yaml:"feedback_interval" json:"feedbackInterval"`
	IdleWindow       time.Duration `yaml:"idle_window" json:"idleWindow"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Defaults returns the configuration used when neither a file nor the
// environment says otherwise.
func Defaults() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000/api",
			Timeout: defaultHTTPTimeout,
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      defaultSampleRate,
			Channels:        defaultChannels,
			FrameMs:         defaultFrameMs,
		},
		Playback: PlaybackConfig{Command: "ffplay"},
		Realtime: RealtimeConfig{
			ICEServers:       []string{"stun:stun.l.google.com:19302"},
			DataChannelLabel: defaultDataChannel,
		},
		Session: SessionConfig{
			FeedbackInterval: defaultFeedbackInterval,
			IdleWindow:       defaultIdleWindow,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load resolves configuration from defaults, an optional YAML file and then
// environment variables, in that order of precedence.
func Load() (Config, error) {
	cfg := Defaults()

	path, err := configPath()
	if err != nil {
		return Config{}, err
	}
	if path != "" {
		if err := readFile(path, &cfg); err != nil {
			return Config{}, err
		}
		cfg.Path = path
	}

	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Backend.Token != "" {
		c.Backend.Token = "redacted"
	}
	c.Realtime.ICEServers = append([]string(nil), c.Realtime.ICEServers...)
	return c
}

func configPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("COACHVOICE_CONFIG")); explicit != "" {
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine home directory")
	}
	return firstExisting(filepath.Join(home, ".config", "coachvoice", "config.yaml")), nil
}

func readFile(path string, cfg *Config) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Backend.BaseURL = envOrDefault("COACHVOICE_BACKEND_URL", cfg.Backend.BaseURL)
	cfg.Backend.Token = envOrDefault("COACHVOICE_TOKEN", cfg.Backend.Token)
	cfg.Backend.Timeout = envOrDefaultMs("COACHVOICE_HTTP_TIMEOUT_MS", cfg.Backend.Timeout)

	cfg.Audio.RecorderCommand = envOrDefault("COACHVOICE_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("COACHVOICE_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(
		os.Getenv("COACHVOICE_AUDIO_INPUT_DEVICE"),
		os.Getenv("PULSE_SOURCE"),
		cfg.Audio.InputDevice,
	)
	cfg.Audio.SampleRate = envOrDefaultInt("COACHVOICE_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("COACHVOICE_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.FrameMs = envOrDefaultInt("COACHVOICE_FRAME_MS", cfg.Audio.FrameMs)

	cfg.Playback.Command = envOrDefault("COACHVOICE_FFPLAY_COMMAND", cfg.Playback.Command)
	cfg.Playback.Disabled = envOrDefaultBool("COACHVOICE_PLAYBACK_DISABLED", cfg.Playback.Disabled)

	if servers := strings.TrimSpace(os.Getenv("COACHVOICE_ICE_SERVERS")); servers != "" {
		cfg.Realtime.ICEServers = splitList(servers)
	}
	cfg.Realtime.DataChannelLabel = envOrDefault("COACHVOICE_DATA_CHANNEL", cfg.Realtime.DataChannelLabel)
	cfg.Realtime.OpusBitrate = envOrDefaultInt("COACHVOICE_OPUS_BITRATE", cfg.Realtime.OpusBitrate)

	cfg.Session.FeedbackInterval = envOrDefaultMs("COACHVOICE_FEEDBACK_INTERVAL_MS", cfg.Session.FeedbackInterval)
	cfg.Session.IdleWindow = envOrDefaultMs("COACHVOICE_IDLE_WINDOW_MS", cfg.Session.IdleWindow)

	cfg.Log.Level = envOrDefault("COACHVOICE_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOrDefault("COACHVOICE_LOG_FORMAT", cfg.Log.Format)
}

// normalize replaces invalid values with defaults.
func normalize(cfg *Config) {
	def := Defaults()

	cfg.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Backend.BaseURL), "/")
	if cfg.Backend.Timeout <= 0 {
		cfg.Backend.Timeout = def.Backend.Timeout
	}

	switch cfg.Audio.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		cfg.Audio.SampleRate = defaultSampleRate
	}
	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		cfg.Audio.Channels = defaultChannels
	}
	switch cfg.Audio.FrameMs {
	case 10, 20, 40, 60:
	default:
		cfg.Audio.FrameMs = defaultFrameMs
	}
	if strings.TrimSpace(cfg.Audio.RecorderCommand) == "" {
		cfg.Audio.RecorderCommand = def.Audio.RecorderCommand
	}
	if strings.TrimSpace(cfg.Playback.Command) == "" {
		cfg.Playback.Command = def.Playback.Command
	}

	if strings.TrimSpace(cfg.Realtime.DataChannelLabel) == "" {
		cfg.Realtime.DataChannelLabel = defaultDataChannel
	}
	if cfg.Realtime.OpusBitrate < 0 {
		cfg.Realtime.OpusBitrate = 0
	}

	if cfg.Session.FeedbackInterval <= 0 {
		cfg.Session.FeedbackInterval = defaultFeedbackInterval
	}
	if cfg.Session.IdleWindow <= 0 {
		cfg.Session.IdleWindow = defaultIdleWindow
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		cfg.Log.Level = def.Log.Level
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if cfg.Log.Format != "json" {
		cfg.Log.Format = def.Log.Format
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envOrDefaultMs(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
