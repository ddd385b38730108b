package main

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

type Config struct {
	// Discord Bot Configuration
	BotToken       string `env:"BOT_TOKEN"`
	CommandPrefix  string `env:"COMMAND_PREFIX" envDefault:"|"`
	CommandGuildID string `env:"COMMAND_GUILD_ID"` // register slash commands in one guild only

	// Playback
	IdleTimeout   time.Duration `env:"IDLE_TIMEOUT" envDefault:"300s"`
	DefaultVolume int           `env:"DEFAULT_VOLUME" envDefault:"50"` // percent

	// External Service Configuration
	CookiesPath         string  `env:"COOKIES_PATH"`
	YtDlpProxy          string  `env:"YT_DLP_PROXY"`
	YtDlpAutoUpdate     bool    `env:"YT_DLP_AUTO_UPDATE" envDefault:"false"`
	ResolveRate         float64 `env:"RESOLVE_RATE" envDefault:"2"` // yt-dlp invocations per second
	ResolveBurst        int     `env:"RESOLVE_BURST" envDefault:"4"`
	SpotifyClientID     string  `env:"SPOTIFY_CLIENT_ID"`
	SpotifyClientSecret string  `env:"SPOTIFY_CLIENT_SECRET"`
	GeminiAPIKey        string  `env:"GEMINI_API_KEY"`
	GeminiModel         string  `env:"GEMINI_MODEL" envDefault:"gemini-2.5-pro"`
	DJPromptFilePath    string  `env:"DJ_PROMPT_FILE_PATH" envDefault:"djprompt.txt"`

	// Opus Encoder Settings
	OpusBitrate        int  `env:"OPUS_BITRATE" envDefault:"128000"` // Discord's max
	OpusComplexity     int  `env:"OPUS_COMPLEXITY" envDefault:"10"`
	OpusInBandFEC      bool `env:"OPUS_INBAND_FEC" envDefault:"true"`
	OpusPacketLossPerc int  `env:"OPUS_PACKET_LOSS_PERC" envDefault:"5"`
	OpusDTX            bool `env:"OPUS_DTX" envDefault:"false"` // off for music

	// Audio Processing Settings
	AudioVolume        float64 `env:"AUDIO_VOLUME" envDefault:"1.0"` // ffmpeg gain, separate from player volume
	AudioNormalization bool    `env:"AUDIO_NORMALIZATION" envDefault:"true"`

	// Advanced Audio Processing
	AudioCompressor     bool    `env:"AUDIO_COMPRESSOR" envDefault:"true"`
	CompressorThreshold float64 `env:"COMPRESSOR_THRESHOLD" envDefault:"-20.0"` // dB
	CompressorRatio     float64 `env:"COMPRESSOR_RATIO" envDefault:"4.0"`
	CompressorAttack    int     `env:"COMPRESSOR_ATTACK" envDefault:"5"`   // ms
	CompressorRelease   int     `env:"COMPRESSOR_RELEASE" envDefault:"50"` // ms

	// Resampling Settings
	EnableResampling  bool `env:"ENABLE_RESAMPLING" envDefault:"true"`
	ResamplingQuality int  `env:"RESAMPLING_QUALITY" envDefault:"28"` // SoX precision (16-33)

	// FFmpeg Input Settings
	FFmpegThreadQueueSize int `env:"FFMPEG_THREAD_QUEUE_SIZE" envDefault:"512"`
	FFmpegProbeSize       int `env:"FFMPEG_PROBE_SIZE" envDefault:"32"`
	FFmpegAnalyzeDuration int `env:"FFMPEG_ANALYZE_DURATION" envDefault:"0"` // microseconds, 0 = ffmpeg default
	FFmpegReconnectDelay  int `env:"FFMPEG_RECONNECT_DELAY" envDefault:"5"`  // seconds

	// Quality Preset: "performance", "balanced", "quality"
	QualityPreset string `env:"QUALITY_PRESET" envDefault:"balanced"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`
}

// LoadConfig reads envFile (or .env) into the process environment and
// parses the configuration from it.
func LoadConfig(envFile string, logger *log.Logger) (*Config, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	if err := godotenv.Load(files...); err != nil {
		logger.Info(".env file not found, falling back to environment variables")
	}

	config, err := parseConfig(env.ToMap(os.Environ()), logger)
	if err != nil {
		return nil, err
	}
	if config.BotToken == "" {
		return nil, errors.New("bot token not found, set BOT_TOKEN")
	}
	return config, nil
}

func parseConfig(environ map[string]string, logger *log.Logger) (*Config, error) {
	var config Config
	if err := env.ParseWithOptions(&config, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	config.applyPreset(func(key string) bool {
		_, ok := environ[key]
		return ok
	})
	config.Validate(logger)

	return &config, nil
}

// applyPreset applies the quality preset to every setting the environment
// did not set explicitly.
func (c *Config) applyPreset(isSet func(key string) bool) {
	switch c.QualityPreset {
	case "performance":
		// Optimize for low CPU usage
		if !isSet("OPUS_COMPLEXITY") {
			c.OpusComplexity = 6
		}
		if !isSet("ENABLE_RESAMPLING") {
			c.EnableResampling = false
		}
		if !isSet("AUDIO_COMPRESSOR") {
			c.AudioCompressor = false
		}

	case "quality":
		if !isSet("RESAMPLING_QUALITY") {
			c.ResamplingQuality = 33
		}
		if !isSet("FFMPEG_THREAD_QUEUE_SIZE") {
			c.FFmpegThreadQueueSize = 1024
		}

	case "balanced":
		// defaults already are balanced
	}
}

// Validate resets out-of-range values to safe defaults, warning about each.
func (c *Config) Validate(logger *log.Logger) {
	if c.CommandPrefix == "" {
		logger.Warn("empty command prefix, using |")
		c.CommandPrefix = "|"
	}

	if c.IdleTimeout <= 0 {
		logger.Warn("IdleTimeout must be positive, using 300s", "value", c.IdleTimeout)
		c.IdleTimeout = 300 * time.Second
	}

	if c.DefaultVolume < 1 || c.DefaultVolume > 100 {
		logger.Warn("DefaultVolume is outside valid range (1-100), using 50", "value", c.DefaultVolume)
		c.DefaultVolume = 50
	}

	if c.ResolveRate <= 0 || math.IsInf(c.ResolveRate, 0) || math.IsNaN(c.ResolveRate) {
		logger.Warn("ResolveRate must be positive, using 2", "value", c.ResolveRate)
		c.ResolveRate = 2
	}
	if c.ResolveBurst < 1 {
		logger.Warn("ResolveBurst must be at least 1, using 1", "value", c.ResolveBurst)
		c.ResolveBurst = 1
	}

	if c.OpusComplexity < 0 || c.OpusComplexity > 10 {
		logger.Warn("OpusComplexity is outside valid range (0-10), using 9", "value", c.OpusComplexity)
		c.OpusComplexity = 9
	}

	if c.OpusBitrate < 12000 || c.OpusBitrate > 128000 {
		logger.Warn("OpusBitrate is outside Discord range (12000-128000), using 128000", "value", c.OpusBitrate)
		c.OpusBitrate = 128000
	}

	if c.OpusPacketLossPerc < 0 || c.OpusPacketLossPerc > 100 {
		logger.Warn("OpusPacketLossPerc is outside valid range (0-100), using 5", "value", c.OpusPacketLossPerc)
		c.OpusPacketLossPerc = 5
	}

	if c.AudioVolume < 0.0 || c.AudioVolume > 10.0 {
		logger.Warn("AudioVolume is outside safe range (0.0-10.0), using 1.0", "value", c.AudioVolume)
		c.AudioVolume = 1.0
	}

	if c.CompressorThreshold > 0 {
		logger.Warn("CompressorThreshold should be negative (in dB), using -20.0", "value", c.CompressorThreshold)
		c.CompressorThreshold = -20.0
	}

	if c.CompressorRatio < 1.0 || c.CompressorRatio > 20.0 {
		logger.Warn("CompressorRatio is outside typical range (1.0-20.0), using 4.0", "value", c.CompressorRatio)
		c.CompressorRatio = 4.0
	}

	if c.ResamplingQuality < 16 || c.ResamplingQuality > 33 {
		logger.Warn("ResamplingQuality is outside SoX range (16-33), using 28", "value", c.ResamplingQuality)
		c.ResamplingQuality = 28
	}

	if c.FFmpegThreadQueueSize < 128 || c.FFmpegThreadQueueSize > 2048 {
		logger.Warn("FFmpegThreadQueueSize is outside recommended range (128-2048), using 512", "value", c.FFmpegThreadQueueSize)
		c.FFmpegThreadQueueSize = 512
	}

	if c.FFmpegProbeSize < 32 {
		logger.Warn("FFmpegProbeSize is below ffmpeg's minimum of 32, using 32", "value", c.FFmpegProbeSize)
		c.FFmpegProbeSize = 32
	}

	if c.FFmpegReconnectDelay < 1 || c.FFmpegReconnectDelay > 60 {
		logger.Warn("FFmpegReconnectDelay is outside reasonable range (1-60), using 5", "value", c.FFmpegReconnectDelay)
		c.FFmpegReconnectDelay = 5
	}
}

// DefaultVolumeFraction is the starting player volume in (0, 1].
func (c *Config) DefaultVolumeFraction() float64 {
	return float64(c.DefaultVolume) / 100
}

// FFmpegInputArgs are the options placed before -i.
func (c *Config) FFmpegInputArgs() []string {
	args := []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", fmt.Sprintf("%d", c.FFmpegReconnectDelay),
		"-thread_queue_size", fmt.Sprintf("%d", c.FFmpegThreadQueueSize),
		"-probesize", fmt.Sprintf("%d", c.FFmpegProbeSize),
	}
	if c.FFmpegAnalyzeDuration > 0 {
		args = append(args, "-analyzeduration", fmt.Sprintf("%d", c.FFmpegAnalyzeDuration))
	}
	return append(args, "-nostdin")
}

// BuildAudioFilter constructs the FFmpeg audio filter chain based on config
func (c *Config) BuildAudioFilter() string {
	filters := []string{}

	// Resampling (first in chain for efficiency)
	if c.EnableResampling {
		filters = append(filters, fmt.Sprintf(
			"aresample=resampler=soxr:precision=%d:dither_method=triangular",
			c.ResamplingQuality,
		))
	}

	if c.AudioCompressor {
		// acompressor takes a linear threshold
		thresholdLinear := fmt.Sprintf("%.6f", math.Pow(10, c.CompressorThreshold/20.0))
		filters = append(filters, fmt.Sprintf(
			"acompressor=threshold=%s:ratio=%.1f:attack=%d:release=%d",
			thresholdLinear,
			c.CompressorRatio,
			c.CompressorAttack,
			c.CompressorRelease,
		))
	}

	// Loudness normalization (EBU R128)
	if c.AudioNormalization {
		filters = append(filters, "loudnorm=I=-16:TP=-1.5:LRA=11")
	}

	// Volume adjustment (last in chain)
	if c.AudioVolume != 1.0 {
		filters = append(filters, fmt.Sprintf("volume=%.2f", c.AudioVolume))
	}

	if len(filters) == 0 {
		return ""
	}

	return strings.Join(filters, ",")
}

// parseLogLevel maps a configured level name to a log.Level, defaulting to
// info for anything unrecognised.
func parseLogLevel(s string) log.Level {
	level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return log.InfoLevel
	}
	return level
}
