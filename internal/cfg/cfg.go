package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gender-classifier/internal/common"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxUploadMB    int
	MaxImagePixels int
	CORSOrigin     string

	ModelPath        string
	BackbonePath     string
	BackboneMetadata string
	ONNXLibraryPath  string
	CreateIfMissing  bool
	LearningRate     float64
	ImageSize        int

	StatsFile     string
	LedgerBackend string

	CheckpointEvery int
	KeepBackups     int
	SaveOnShutdown  bool
	HistoryFile     string

	StatsBroadcastInterval time.Duration

	LogLevel   string
	LogConsole bool
}

type ConfigFile struct {
	Server struct {
		Port           int    `yaml:"port"`
		ReadTimeout    string `yaml:"readTimeout"`
		WriteTimeout   string `yaml:"writeTimeout"`
		MaxUploadMB    int    `yaml:"maxUploadMB"`
		MaxImagePixels int    `yaml:"maxImagePixels"`
		CORSOrigin     string `yaml:"corsOrigin"`
	} `yaml:"server"`

	Model struct {
		Path             string  `yaml:"path"`
		BackbonePath     string  `yaml:"backbonePath"`
		BackboneMetadata string  `yaml:"backboneMetadata"`
		ONNXLibraryPath  string  `yaml:"onnxLibraryPath"`
		CreateIfMissing  bool    `yaml:"createIfMissing"`
		LearningRate     float64 `yaml:"learningRate"`
		ImageSize        int     `yaml:"imageSize"`
	} `yaml:"model"`

	Ledger struct {
		Path    string `yaml:"path"`
		Backend string `yaml:"backend"`
	} `yaml:"ledger"`

	Checkpoint struct {
		Every          int    `yaml:"every"`
		KeepBackups    int    `yaml:"keepBackups"`
		SaveOnShutdown *bool  `yaml:"saveOnShutdown"`
		HistoryFile    string `yaml:"historyFile"`
	} `yaml:"checkpoint"`

	UI struct {
		StatsBroadcastInterval string `yaml:"statsBroadcastInterval"`
	} `yaml:"ui"`

	Log struct {
		Level   string `yaml:"level"`
		Console bool   `yaml:"console"`
	} `yaml:"log"`
}

func Load() (Settings, error) {
	// .env is optional
	_ = godotenv.Load()

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	readTimeout, err := time.ParseDuration(config.Server.ReadTimeout)
	if err != nil {
		readTimeout = 30 * time.Second
	}

	writeTimeout, err := time.ParseDuration(config.Server.WriteTimeout)
	if err != nil {
		writeTimeout = 30 * time.Second
	}

	broadcast, err := time.ParseDuration(config.UI.StatsBroadcastInterval)
	if err != nil {
		broadcast = 5 * time.Second
	}

	saveOnShutdown := true
	if config.Checkpoint.SaveOnShutdown != nil {
		saveOnShutdown = *config.Checkpoint.SaveOnShutdown
	}

	settings := Settings{
		Port:                   getIntFromEnvOrConfig(common.EnvPort, config.Server.Port, common.DefaultPort),
		ReadTimeout:            getDurationOrDefault(common.EnvReadTimeout, readTimeout),
		WriteTimeout:           getDurationOrDefault(common.EnvWriteTimeout, writeTimeout),
		MaxUploadMB:            getIntFromEnvOrConfig(common.EnvMaxUploadMB, config.Server.MaxUploadMB, common.DefaultMaxUploadMB),
		MaxImagePixels:         getIntFromEnvOrConfig(common.EnvMaxImagePixels, config.Server.MaxImagePixels, common.DefaultMaxImagePixels),
		CORSOrigin:             getEnvOrDefault(common.EnvCORSOrigin, orDefault(config.Server.CORSOrigin, common.DefaultCORSOrigin)),
		ModelPath:              getEnvOrDefault(common.EnvModelPath, orDefault(config.Model.Path, common.DefaultModelPath)),
		BackbonePath:           getEnvOrDefault(common.EnvBackbonePath, config.Model.BackbonePath),
		BackboneMetadata:       getEnvOrDefault(common.EnvBackboneMetadata, config.Model.BackboneMetadata),
		ONNXLibraryPath:        getEnvOrDefault(common.EnvONNXLibraryPath, config.Model.ONNXLibraryPath),
		CreateIfMissing:        getBoolFromEnvOrConfig(common.EnvCreateIfMissing, config.Model.CreateIfMissing),
		LearningRate:           getFloatFromEnvOrConfig(common.EnvLearningRate, config.Model.LearningRate, common.DefaultLearningRate),
		ImageSize:              getIntFromEnvOrConfig(common.EnvImageSize, config.Model.ImageSize, common.DefaultImageSize),
		StatsFile:              getEnvOrDefault(common.EnvStatsFile, orDefault(config.Ledger.Path, common.DefaultStatsFile)),
		LedgerBackend:          strings.ToLower(getEnvOrDefault(common.EnvLedgerBackend, orDefault(config.Ledger.Backend, common.DefaultLedgerBackend))),
		CheckpointEvery:        getIntFromEnvOrConfig(common.EnvCheckpointEvery, config.Checkpoint.Every, common.DefaultCheckpointEvery),
		KeepBackups:            getIntFromEnvOrConfig(common.EnvKeepBackups, config.Checkpoint.KeepBackups, 0),
		SaveOnShutdown:         getBoolFromEnvOrConfig(common.EnvSaveOnShutdown, saveOnShutdown),
		HistoryFile:            getEnvOrDefault(common.EnvHistoryFile, config.Checkpoint.HistoryFile),
		StatsBroadcastInterval: getDurationOrDefault(common.EnvStatsBroadcastTick, broadcast),
		LogLevel:               getEnvOrDefault(common.EnvLogLevel, orDefault(config.Log.Level, common.DefaultLogLevel)),
		LogConsole:             getBoolFromEnvOrConfig(common.EnvLogConsole, config.Log.Console),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		Port:                   getIntOrDefault(common.EnvPort, common.DefaultPort),
		ReadTimeout:            getDurationOrDefault(common.EnvReadTimeout, 30*time.Second),
		WriteTimeout:           getDurationOrDefault(common.EnvWriteTimeout, 30*time.Second),
		MaxUploadMB:            getIntOrDefault(common.EnvMaxUploadMB, common.DefaultMaxUploadMB),
		MaxImagePixels:         getIntOrDefault(common.EnvMaxImagePixels, common.DefaultMaxImagePixels),
		CORSOrigin:             getEnvOrDefault(common.EnvCORSOrigin, common.DefaultCORSOrigin),
		ModelPath:              getEnvOrDefault(common.EnvModelPath, common.DefaultModelPath),
		BackbonePath:           os.Getenv(common.EnvBackbonePath), // optional
		BackboneMetadata:       os.Getenv(common.EnvBackboneMetadata),
		ONNXLibraryPath:        os.Getenv(common.EnvONNXLibraryPath),
		CreateIfMissing:        getBoolOrDefault(common.EnvCreateIfMissing, false),
		LearningRate:           getFloatOrDefault(common.EnvLearningRate, common.DefaultLearningRate),
		ImageSize:              getIntOrDefault(common.EnvImageSize, common.DefaultImageSize),
		StatsFile:              getEnvOrDefault(common.EnvStatsFile, common.DefaultStatsFile),
		LedgerBackend:          strings.ToLower(getEnvOrDefault(common.EnvLedgerBackend, common.DefaultLedgerBackend)),
		CheckpointEvery:        getIntOrDefault(common.EnvCheckpointEvery, common.DefaultCheckpointEvery),
		KeepBackups:            getIntOrDefault(common.EnvKeepBackups, 0), // 0 keeps every backup
		SaveOnShutdown:         getBoolOrDefault(common.EnvSaveOnShutdown, true),
		HistoryFile:            os.Getenv(common.EnvHistoryFile),
		StatsBroadcastInterval: getDurationOrDefault(common.EnvStatsBroadcastTick, 5*time.Second),
		LogLevel:               getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		LogConsole:             getBoolOrDefault(common.EnvLogConsole, false),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	return configValue
}

// validateSettings performs range validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.Port < common.MinPort || settings.Port > common.MaxPort {
		return fmt.Errorf("port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.Port)
	}
	if settings.ReadTimeout < time.Second || settings.ReadTimeout > 5*time.Minute {
		return fmt.Errorf("read timeout must be between 1s and 5m, got %v", settings.ReadTimeout)
	}
	if settings.WriteTimeout < time.Second || settings.WriteTimeout > 5*time.Minute {
		return fmt.Errorf("write timeout must be between 1s and 5m, got %v", settings.WriteTimeout)
	}
	if settings.MaxUploadMB <= 0 || settings.MaxUploadMB > common.MaxUploadMBLimit {
		return fmt.Errorf("max upload size must be between 1 and %d MB, got %d", common.MaxUploadMBLimit, settings.MaxUploadMB)
	}
	if settings.MaxImagePixels < common.MinImagePixels {
		return fmt.Errorf("max image pixels must be at least %d, got %d", common.MinImagePixels, settings.MaxImagePixels)
	}

	if settings.ModelPath == "" {
		return fmt.Errorf("model path cannot be empty")
	}
	if settings.BackboneMetadata != "" && settings.BackbonePath == "" {
		return fmt.Errorf("backbone metadata given without a backbone model path")
	}
	if settings.LearningRate < common.MinLearningRate || settings.LearningRate > common.MaxLearningRate {
		return fmt.Errorf("learning rate must be between %g and %g, got %g", common.MinLearningRate, common.MaxLearningRate, settings.LearningRate)
	}
	if settings.ImageSize < common.MinImageSize || settings.ImageSize > common.MaxImageSize {
		return fmt.Errorf("image size must be between %d and %d, got %d", common.MinImageSize, common.MaxImageSize, settings.ImageSize)
	}

	if settings.StatsFile == "" {
		return fmt.Errorf("stats file path cannot be empty")
	}
	switch settings.LedgerBackend {
	case common.LedgerBackendJSON, common.LedgerBackendBolt:
	default:
		return fmt.Errorf("ledger backend must be %q or %q, got %q", common.LedgerBackendJSON, common.LedgerBackendBolt, settings.LedgerBackend)
	}

	if settings.CheckpointEvery <= 0 || settings.CheckpointEvery > common.MaxCheckpointEvery {
		return fmt.Errorf("checkpoint interval must be between 1 and %d updates, got %d", common.MaxCheckpointEvery, settings.CheckpointEvery)
	}
	if settings.KeepBackups < 0 {
		return fmt.Errorf("keep backups cannot be negative, got %d", settings.KeepBackups)
	}
	if settings.StatsBroadcastInterval < 100*time.Millisecond || settings.StatsBroadcastInterval > time.Hour {
		return fmt.Errorf("stats broadcast interval must be between 100ms and 1h, got %v", settings.StatsBroadcastInterval)
	}

	return nil
}
