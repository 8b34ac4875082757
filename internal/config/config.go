// Package config provides configuration management for the NikoClip server.
// Configuration is loaded from environment variables (and an optional YAML
// file) with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nikoclip/nikoclip/internal/imageresult"
	"github.com/nikoclip/nikoclip/internal/smile"
)

const (
	// Default values
	DefaultHost                = "127.0.0.1"
	DefaultPort                = 8000
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultDataDir             = ".nikoclip"
	DefaultStore               = StoreRedis
	DefaultRedisURL            = "redis://localhost:6379/0"
	DefaultTaskTTLSeconds      = 86400
	DefaultConfidenceThreshold = smile.DefaultConfidenceThreshold
	DefaultSmileThreshold      = smile.DefaultSmileThreshold
	DefaultDiversityWindow     = smile.DefaultDiversityWindow
	DefaultSampleInterval      = 0.0
	DefaultMaxBase64ImageMB    = imageresult.DefaultMaxMB
	DefaultMaxConcurrentTasks  = 2
	DefaultMaxUploadMB         = 512
	DefaultAllowedOrigins      = "http://localhost:3000,http://127.0.0.1:3000"
	DefaultFFmpegPath          = "ffmpeg"
	DefaultFFprobePath         = "ffprobe"
	DefaultOracleModule        = "nikoclip_oracle"
	DefaultOracleDevice        = "CPU"

	// Store backends
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"

	// EnvPrefix is prepended to every key, e.g. NIKOCLIP_PORT.
	EnvPrefix = "NIKOCLIP"
	// EnvConfigFile names an optional YAML file read before env overrides.
	EnvConfigFile = "NIKOCLIP_CONFIG"

	// Database filename
	DBFilename = "nikoclip.db"
)

// Keys, also the lowercase suffix of the env variable name.
const (
	KeyHost                = "host"
	KeyPort                = "port"
	KeyLogLevel            = "log_level"
	KeyLogFormat           = "log_format"
	KeyDataDir             = "data_dir"
	KeyUploadsDir          = "uploads_dir"
	KeyScratchDir          = "scratch_dir"
	KeyStore               = "store"
	KeyRedisURL            = "redis_url"
	KeyTaskTTLSeconds      = "task_ttl_seconds"
	KeyConfidenceThreshold = "confidence_threshold"
	KeySmileThreshold      = "smile_threshold"
	KeyDiversityWindow     = "diversity_window_seconds"
	KeySampleInterval      = "sample_interval_seconds"
	KeyMaxBase64ImageMB    = "max_base64_image_size_mb"
	KeyMaxConcurrentTasks  = "max_concurrent_tasks"
	KeyMaxUploadMB         = "max_upload_mb"
	KeyAllowedOrigins      = "allowed_origins"
	KeyFFmpegPath          = "ffmpeg_path"
	KeyFFprobePath         = "ffprobe_path"
	KeyOraclePython        = "oracle_python"
	KeyOracleModule        = "oracle_module"
	KeyOracleDevice        = "oracle_device"
)

// Config defines the application configuration interface
type Config interface {
	Host() string
	Port() int
	LogLevel() string
	LogFormat() string
	DataDir() string
	DBPath() string
	UploadsDir() string
	ScratchDir() string
	Store() string
	RedisURL() string
	TaskTTL() time.Duration
	ConfidenceThreshold() float64
	SmileThreshold() float64
	DiversityWindow() float64
	SampleInterval() float64
	MaxBase64ImageMB() float64
	MaxConcurrentTasks() int
	MaxUploadBytes() int64
	AllowedOrigins() []string
	FFmpegPath() string
	FFprobePath() string
	OraclePython() string
	OracleModule() string
	OracleDevice() string
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	host       string
	port       int
	logLevel   string
	logFormat  string
	dataDir    string
	uploadsDir string
	scratchDir string
	store      string
	redisURL   string
	taskTTL    time.Duration

	confidenceThreshold float64
	smileThreshold      float64
	diversityWindow     float64
	sampleInterval      float64
	maxBase64ImageMB    float64

	maxConcurrentTasks int
	maxUploadMB        int
	allowedOrigins     []string

	ffmpegPath   string
	ffprobePath  string
	oraclePython string
	oracleModule string
	oracleDevice string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	if path := os.Getenv(EnvConfigFile); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyHost, DefaultHost)
	v.SetDefault(KeyPort, DefaultPort)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyLogFormat, DefaultLogFormat)
	v.SetDefault(KeyDataDir, defaultDataDir())
	v.SetDefault(KeyUploadsDir, "")
	v.SetDefault(KeyScratchDir, "")
	v.SetDefault(KeyStore, DefaultStore)
	v.SetDefault(KeyRedisURL, DefaultRedisURL)
	v.SetDefault(KeyTaskTTLSeconds, DefaultTaskTTLSeconds)
	v.SetDefault(KeyConfidenceThreshold, DefaultConfidenceThreshold)
	v.SetDefault(KeySmileThreshold, DefaultSmileThreshold)
	v.SetDefault(KeyDiversityWindow, DefaultDiversityWindow)
	v.SetDefault(KeySampleInterval, DefaultSampleInterval)
	v.SetDefault(KeyMaxBase64ImageMB, DefaultMaxBase64ImageMB)
	v.SetDefault(KeyMaxConcurrentTasks, DefaultMaxConcurrentTasks)
	v.SetDefault(KeyMaxUploadMB, DefaultMaxUploadMB)
	v.SetDefault(KeyAllowedOrigins, DefaultAllowedOrigins)
	v.SetDefault(KeyFFmpegPath, DefaultFFmpegPath)
	v.SetDefault(KeyFFprobePath, DefaultFFprobePath)
	v.SetDefault(KeyOraclePython, "")
	v.SetDefault(KeyOracleModule, DefaultOracleModule)
	v.SetDefault(KeyOracleDevice, DefaultOracleDevice)
}

func fromViper(v *viper.Viper) (*EnvConfig, error) {
	cfg := &EnvConfig{
		host:         v.GetString(KeyHost),
		logLevel:     v.GetString(KeyLogLevel),
		logFormat:    strings.ToLower(v.GetString(KeyLogFormat)),
		dataDir:      v.GetString(KeyDataDir),
		uploadsDir:   v.GetString(KeyUploadsDir),
		scratchDir:   v.GetString(KeyScratchDir),
		store:        strings.ToLower(v.GetString(KeyStore)),
		redisURL:     v.GetString(KeyRedisURL),
		ffmpegPath:   v.GetString(KeyFFmpegPath),
		ffprobePath:  v.GetString(KeyFFprobePath),
		oraclePython: v.GetString(KeyOraclePython),
		oracleModule: v.GetString(KeyOracleModule),
		oracleDevice: v.GetString(KeyOracleDevice),
	}

	var err error
	if cfg.port, err = intValue(v, KeyPort); err != nil {
		return nil, err
	}
	if cfg.port < 1 || cfg.port > 65535 {
		return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", envName(KeyPort))
	}

	ttl, err := intValue(v, KeyTaskTTLSeconds)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("invalid %s: must be positive", envName(KeyTaskTTLSeconds))
	}
	cfg.taskTTL = time.Duration(ttl) * time.Second

	if cfg.confidenceThreshold, err = unitValue(v, KeyConfidenceThreshold); err != nil {
		return nil, err
	}
	if cfg.smileThreshold, err = unitValue(v, KeySmileThreshold); err != nil {
		return nil, err
	}
	if cfg.diversityWindow, err = nonNegativeValue(v, KeyDiversityWindow); err != nil {
		return nil, err
	}
	if cfg.sampleInterval, err = nonNegativeValue(v, KeySampleInterval); err != nil {
		return nil, err
	}
	if cfg.maxBase64ImageMB, err = floatValue(v, KeyMaxBase64ImageMB); err != nil {
		return nil, err
	}
	if cfg.maxBase64ImageMB <= 0 {
		return nil, fmt.Errorf("invalid %s: must be positive", envName(KeyMaxBase64ImageMB))
	}

	if cfg.maxConcurrentTasks, err = intValue(v, KeyMaxConcurrentTasks); err != nil {
		return nil, err
	}
	if cfg.maxConcurrentTasks < 1 {
		return nil, fmt.Errorf("invalid %s: must be at least 1", envName(KeyMaxConcurrentTasks))
	}
	if cfg.maxUploadMB, err = intValue(v, KeyMaxUploadMB); err != nil {
		return nil, err
	}
	if cfg.maxUploadMB < 1 {
		return nil, fmt.Errorf("invalid %s: must be at least 1", envName(KeyMaxUploadMB))
	}

	switch cfg.logFormat {
	case "json", "text":
	default:
		return nil, fmt.Errorf("invalid %s: must be json or text", envName(KeyLogFormat))
	}

	switch cfg.store {
	case StoreRedis, StoreSQLite:
	default:
		return nil, fmt.Errorf("invalid %s: unknown store %q", envName(KeyStore), cfg.store)
	}

	for _, origin := range strings.Split(v.GetString(KeyAllowedOrigins), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.allowedOrigins = append(cfg.allowedOrigins, origin)
		}
	}

	return cfg, nil
}

// Host returns the interface the HTTP server binds to
func (c *EnvConfig) Host() string {
	return c.host
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// LogFormat returns json or text
func (c *EnvConfig) LogFormat() string {
	return c.logFormat
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// UploadsDir returns where uploaded videos are staged until processed
func (c *EnvConfig) UploadsDir() string {
	if c.uploadsDir != "" {
		return c.uploadsDir
	}
	return filepath.Join(c.dataDir, "uploads")
}

// ScratchDir returns where scene frames are staged for encoding
func (c *EnvConfig) ScratchDir() string {
	if c.scratchDir != "" {
		return c.scratchDir
	}
	return filepath.Join(c.dataDir, "scratch")
}

func (c *EnvConfig) Store() string {
	return c.store
}

func (c *EnvConfig) RedisURL() string {
	return c.redisURL
}

// TaskTTL is the absolute lifetime of a task record from creation
func (c *EnvConfig) TaskTTL() time.Duration {
	return c.taskTTL
}

func (c *EnvConfig) ConfidenceThreshold() float64 {
	return c.confidenceThreshold
}

func (c *EnvConfig) SmileThreshold() float64 {
	return c.smileThreshold
}

// DiversityWindow returns the minimum separation in seconds between two selected scenes
func (c *EnvConfig) DiversityWindow() float64 {
	return c.diversityWindow
}

// SampleInterval returns the minimum seconds between analyzed frames; 0 analyzes every frame
func (c *EnvConfig) SampleInterval() float64 {
	return c.sampleInterval
}

func (c *EnvConfig) MaxBase64ImageMB() float64 {
	return c.maxBase64ImageMB
}

func (c *EnvConfig) MaxConcurrentTasks() int {
	return c.maxConcurrentTasks
}

// MaxUploadBytes returns the upload size cap in bytes
func (c *EnvConfig) MaxUploadBytes() int64 {
	return int64(c.maxUploadMB) * 1024 * 1024
}

func (c *EnvConfig) AllowedOrigins() []string {
	return c.allowedOrigins
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

// OraclePython returns the configured python binary; empty means auto-detect
func (c *EnvConfig) OraclePython() string {
	return c.oraclePython
}

func (c *EnvConfig) OracleModule() string {
	if c.oracleModule != "" {
		return c.oracleModule
	}
	return DefaultOracleModule
}

func (c *EnvConfig) OracleDevice() string {
	return c.oracleDevice
}

func intValue(v *viper.Viper, key string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", envName(key), err)
	}
	return n, nil
}

func floatValue(v *viper.Viper, key string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v.GetString(key)), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", envName(key), err)
	}
	return f, nil
}

func unitValue(v *viper.Viper, key string) (float64, error) {
	f, err := floatValue(v, key)
	if err != nil {
		return 0, err
	}
	if f < 0 || f > 1 {
		return 0, fmt.Errorf("invalid %s: must be between 0 and 1", envName(key))
	}
	return f, nil
}

func nonNegativeValue(v *viper.Viper, key string) (float64, error) {
	f, err := floatValue(v, key)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", envName(key))
	}
	return f, nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(key)
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
