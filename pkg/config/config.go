package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qieqieplus/cef-audio-bridge/pkg/audio"
)

// Resampler names accepted by AudioConfig.Resampler.
const (
	ResamplerLinear = "linear"
	ResamplerSWR    = "swr"
)

// WebSocketConfig holds WebSocket-specific configuration
type WebSocketConfig struct {
	WriteTimeout       time.Duration `yaml:"write_timeout"`        // Timeout for writing messages to WebSocket
	ReadTimeout        time.Duration `yaml:"read_timeout"`         // Timeout for reading messages from WebSocket (keepalive)
	PingInterval       time.Duration `yaml:"ping_interval"`        // Interval for sending ping messages
	AudioFlushInterval time.Duration `yaml:"audio_flush_interval"` // Interval for flushing aggregated audio chunks
	QueueSize          int           `yaml:"queue_size"`           // Per-client chunk queue
}

// AudioConfig holds capture settings. The output format is fixed and not
// configurable.
type AudioConfig struct {
	Sources       []string      `yaml:"sources"`
	Volume        float32       `yaml:"volume"`
	Muted         bool          `yaml:"muted"`
	Resampler     string        `yaml:"resampler"`
	PumpInterval  time.Duration `yaml:"pump_interval"`
	MaxChunkBytes int           `yaml:"max_chunk_bytes"`
}

// ToneConfig describes the simulated browser stream.
type ToneConfig struct {
	SampleRate      int     `yaml:"sample_rate"`
	Channels        int     `yaml:"channels"`
	FramesPerBuffer int     `yaml:"frames_per_buffer"`
	Frequency       float64 `yaml:"frequency"`
	Amplitude       float32 `yaml:"amplitude"`
}

type Config struct {
	// Server configuration
	HTTPAddr string `yaml:"http_addr"`
	LogLevel string `yaml:"log_level"`

	Audio     AudioConfig     `yaml:"audio"`
	Tone      ToneConfig      `yaml:"tone"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr: ":8080",
		LogLevel: "info",

		Audio: AudioConfig{
			Sources:      []string{"main"},
			Volume:       1.0,
			Resampler:    ResamplerLinear,
			PumpInterval: 10 * time.Millisecond,
		},

		Tone: ToneConfig{
			SampleRate:      44100,
			Channels:        2,
			FramesPerBuffer: 441,
			Frequency:       440,
			Amplitude:       0.5,
		},

		// WebSocket defaults
		WebSocket: WebSocketConfig{
			WriteTimeout:       5 * time.Second,
			ReadTimeout:        3 * time.Minute,
			PingInterval:       60 * time.Second,
			AudioFlushInterval: 100 * time.Millisecond,
			QueueSize:          100,
		},
	}
}

// Load builds the configuration from the process environment and command line.
func Load() (*Config, error) {
	return LoadFrom(flag.CommandLine, os.Args[1:], os.Getenv)
}

// LoadFrom layers defaults, an optional YAML file, environment variables and
// flags, in that order, then validates the result.
func LoadFrom(fs *flag.FlagSet, args []string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	// The config file path has to be known before the other flags are bound.
	path := getenv("CONFIG_FILE")
	for i, arg := range args {
		switch {
		case arg == "-config" || arg == "--config":
			if i+1 < len(args) {
				path = args[i+1]
			}
		case strings.HasPrefix(arg, "-config="), strings.HasPrefix(arg, "--config="):
			path = arg[strings.Index(arg, "=")+1:]
		}
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(getenv); err != nil {
		return nil, err
	}

	var sources string
	fs.String("config", path, "Path to YAML config file")
	fs.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "HTTP server address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.Audio.Resampler, "resampler", cfg.Audio.Resampler, "Resampler (linear, swr)")
	fs.StringVar(&sources, "sources", strings.Join(cfg.Audio.Sources, ","), "Comma-separated browser source IDs")
	fs.BoolVar(&cfg.Audio.Muted, "muted", cfg.Audio.Muted, "Start muted")
	volume := fs.Float64("volume", float64(cfg.Audio.Volume), "Initial volume (0..1)")
	fs.IntVar(&cfg.Tone.SampleRate, "tone-rate", cfg.Tone.SampleRate, "Simulated browser sample rate")
	fs.IntVar(&cfg.Tone.Channels, "tone-channels", cfg.Tone.Channels, "Simulated browser channel count")
	fs.Float64Var(&cfg.Tone.Frequency, "tone-frequency", cfg.Tone.Frequency, "Tone frequency in Hz")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Audio.Volume = float32(*volume)
	cfg.Audio.Sources = splitList(sources)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv(getenv func(string) string) error {
	if addr := getenv("HTTP_ADDR"); addr != "" {
		c.HTTPAddr = addr
	}
	if level := getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}

	// Audio configuration
	if sources := getenv("AUDIO_SOURCES"); sources != "" {
		c.Audio.Sources = splitList(sources)
	}
	if volume := getenv("AUDIO_VOLUME"); volume != "" {
		v, err := strconv.ParseFloat(volume, 32)
		if err != nil {
			return fmt.Errorf("AUDIO_VOLUME: %w", err)
		}
		c.Audio.Volume = float32(v)
	}
	if muted := getenv("AUDIO_MUTED"); muted != "" {
		m, err := strconv.ParseBool(muted)
		if err != nil {
			return fmt.Errorf("AUDIO_MUTED: %w", err)
		}
		c.Audio.Muted = m
	}
	if resampler := getenv("RESAMPLER"); resampler != "" {
		c.Audio.Resampler = resampler
	}
	if interval := getenv("PUMP_INTERVAL"); interval != "" {
		if ms, err := strconv.Atoi(interval); err == nil {
			c.Audio.PumpInterval = time.Duration(ms) * time.Millisecond
		}
	}

	// Simulated browser
	if rate := getenv("TONE_SAMPLE_RATE"); rate != "" {
		if v, err := strconv.Atoi(rate); err == nil {
			c.Tone.SampleRate = v
		}
	}
	if channels := getenv("TONE_CHANNELS"); channels != "" {
		if v, err := strconv.Atoi(channels); err == nil {
			c.Tone.Channels = v
		}
	}
	if frames := getenv("TONE_FRAMES"); frames != "" {
		if v, err := strconv.Atoi(frames); err == nil {
			c.Tone.FramesPerBuffer = v
		}
	}
	if freq := getenv("TONE_FREQUENCY"); freq != "" {
		if v, err := strconv.ParseFloat(freq, 64); err == nil {
			c.Tone.Frequency = v
		}
	}

	// WebSocket configuration from environment variables (timeout values in seconds)
	if timeout := getenv("WEBSOCKET_WRITE_TIMEOUT"); timeout != "" {
		if seconds, err := strconv.Atoi(timeout); err == nil {
			c.WebSocket.WriteTimeout = time.Duration(seconds) * time.Second
		}
	}
	if timeout := getenv("WEBSOCKET_READ_TIMEOUT"); timeout != "" {
		if seconds, err := strconv.Atoi(timeout); err == nil {
			c.WebSocket.ReadTimeout = time.Duration(seconds) * time.Second
		}
	}
	if interval := getenv("WEBSOCKET_PING_INTERVAL"); interval != "" {
		if seconds, err := strconv.Atoi(interval); err == nil {
			c.WebSocket.PingInterval = time.Duration(seconds) * time.Second
		}
	}
	if interval := getenv("WEBSOCKET_AUDIO_FLUSH_INTERVAL"); interval != "" {
		if ms, err := strconv.Atoi(interval); err == nil {
			c.WebSocket.AudioFlushInterval = time.Duration(ms) * time.Millisecond
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return ErrMissingHTTPAddr
	}
	if c.Audio.Volume != c.Audio.Volume || c.Audio.Volume < 0 || c.Audio.Volume > 1 {
		return ErrInvalidVolume
	}
	switch c.Audio.Resampler {
	case ResamplerLinear, ResamplerSWR:
	default:
		return fmt.Errorf("%w: got %q", ErrUnknownResampler, c.Audio.Resampler)
	}
	if len(c.Audio.Sources) == 0 {
		return ErrNoSources
	}
	if c.Audio.PumpInterval <= 0 {
		return ErrInvalidInterval
	}
	out := audio.OutputFormat()
	if frame := audio.FrameByteSize(out.Channels, out.Encoding.Packed()); c.Audio.MaxChunkBytes < 0 ||
		(c.Audio.MaxChunkBytes > 0 && c.Audio.MaxChunkBytes < frame) {
		return fmt.Errorf("%w: got %d, frames are %d bytes", ErrInvalidChunkSize, c.Audio.MaxChunkBytes, frame)
	}
	if c.Tone.SampleRate <= 0 || c.Tone.Channels <= 0 || c.Tone.FramesPerBuffer <= 0 {
		return ErrInvalidTone
	}
	if c.WebSocket.AudioFlushInterval <= 0 {
		return ErrInvalidFlushInterval
	}
	return nil
}
