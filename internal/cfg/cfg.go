package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"credit-risk-api/internal/common"
	"credit-risk-api/internal/ml"
	"credit-risk-api/internal/model"
)

type Settings struct {
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ModelDir           string
	RegistryFile       string
	DataPath           string
	IDColumn           string
	LabelColumn        string
	CostFN             float64
	CostFP             float64
	DatasetURL         string
	TestFraction       float64
	Seed               int64
	LearningRate       float64
	Iterations         int
	L2                 float64
	FetchTimeout       time.Duration
	SerializeInference bool
	FallbackThreshold  float64
	ONNXLibraryPath    string
	Occlusion          bool
	LogLevel           string
	LogPretty          bool
	ReferenceLimit     int
	MaxBodyBytes       int64
}

type ConfigFile struct {
	Server struct {
		Port         int    `yaml:"port"`
		ReadTimeout  string `yaml:"readTimeout"`
		WriteTimeout string `yaml:"writeTimeout"`
		MaxBodyBytes int64  `yaml:"maxBodyBytes"`
	} `yaml:"server"`

	Model struct {
		Dir                string  `yaml:"dir"`
		RegistryFile       string  `yaml:"registryFile"`
		FallbackThreshold  float64 `yaml:"fallbackThreshold"`
		SerializeInference bool    `yaml:"serializeInference"`
		ONNXLibraryPath    string  `yaml:"onnxLibraryPath"`
		Occlusion          bool    `yaml:"occlusion"`
	} `yaml:"model"`

	Data struct {
		Path           string `yaml:"path"`
		IDColumn       string `yaml:"idColumn"`
		LabelColumn    string `yaml:"labelColumn"`
		ReferenceLimit int    `yaml:"referenceLimit"`
	} `yaml:"data"`

	Cost ml.CostModel `yaml:"cost"`

	Training struct {
		DatasetURL   string  `yaml:"datasetURL"`
		TestFraction float64 `yaml:"testFraction"`
		Seed         int64   `yaml:"seed"`
		LearningRate float64 `yaml:"learningRate"`
		Iterations   int     `yaml:"iterations"`
		L2           float64 `yaml:"l2"`
		FetchTimeout string  `yaml:"fetchTimeout"`
	} `yaml:"training"`

	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// Load reads a .env file when present, then the YAML file named by
// CONFIG_FILE (if any), then applies environment overrides.
func Load() (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env file")
	}

	settings := Defaults()
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		var err error
		if settings, err = loadFromYAML(configPath); err != nil {
			return Settings{}, err
		}
	}

	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// Defaults returns the settings used when neither file nor environment set a key.
func Defaults() Settings {
	return Settings{
		Port:              common.DefaultPort,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		ModelDir:          common.DefaultModelDir,
		RegistryFile:      model.RegistryFile,
		DataPath:          common.DefaultDataPath,
		IDColumn:          ml.DefaultIDColumn,
		LabelColumn:       ml.DefaultLabelColumn,
		CostFN:            common.DefaultCostFN,
		CostFP:            common.DefaultCostFP,
		DatasetURL:        common.DefaultDatasetURL,
		TestFraction:      common.DefaultTestFraction,
		Seed:              common.DefaultSeed,
		LearningRate:      common.DefaultLearningRate,
		Iterations:        common.DefaultIterations,
		L2:                common.DefaultL2,
		FetchTimeout:      60 * time.Second,
		FallbackThreshold: common.DefaultFallbackThreshold,
		LogLevel:          common.DefaultLogLevel,
		ReferenceLimit:    common.DefaultReferenceLimit,
		MaxBodyBytes:      common.DefaultMaxBodyBytes,
	}
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Keys missing from the file keep their defaults.
	config := defaultConfigFile()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	def := Defaults()
	settings := Settings{
		Port:               config.Server.Port,
		ReadTimeout:        parseDurationOr(config.Server.ReadTimeout, def.ReadTimeout),
		WriteTimeout:       parseDurationOr(config.Server.WriteTimeout, def.WriteTimeout),
		MaxBodyBytes:       config.Server.MaxBodyBytes,
		ModelDir:           config.Model.Dir,
		RegistryFile:       config.Model.RegistryFile,
		FallbackThreshold:  config.Model.FallbackThreshold,
		SerializeInference: config.Model.SerializeInference,
		ONNXLibraryPath:    config.Model.ONNXLibraryPath,
		Occlusion:          config.Model.Occlusion,
		DataPath:           config.Data.Path,
		IDColumn:           config.Data.IDColumn,
		LabelColumn:        config.Data.LabelColumn,
		ReferenceLimit:     config.Data.ReferenceLimit,
		CostFN:             config.Cost.FalseNegative,
		CostFP:             config.Cost.FalsePositive,
		DatasetURL:         config.Training.DatasetURL,
		TestFraction:       config.Training.TestFraction,
		Seed:               config.Training.Seed,
		LearningRate:       config.Training.LearningRate,
		Iterations:         config.Training.Iterations,
		L2:                 config.Training.L2,
		FetchTimeout:       parseDurationOr(config.Training.FetchTimeout, def.FetchTimeout),
		LogLevel:           config.Log.Level,
		LogPretty:          config.Log.Pretty,
	}

	return settings, nil
}

func defaultConfigFile() ConfigFile {
	def := Defaults()
	var c ConfigFile
	c.Server.Port = def.Port
	c.Server.ReadTimeout = def.ReadTimeout.String()
	c.Server.WriteTimeout = def.WriteTimeout.String()
	c.Server.MaxBodyBytes = def.MaxBodyBytes
	c.Model.Dir = def.ModelDir
	c.Model.RegistryFile = def.RegistryFile
	c.Model.FallbackThreshold = def.FallbackThreshold
	c.Data.Path = def.DataPath
	c.Data.IDColumn = def.IDColumn
	c.Data.LabelColumn = def.LabelColumn
	c.Data.ReferenceLimit = def.ReferenceLimit
	c.Cost = ml.CostModel{FalseNegative: def.CostFN, FalsePositive: def.CostFP}
	c.Training.DatasetURL = def.DatasetURL
	c.Training.TestFraction = def.TestFraction
	c.Training.Seed = def.Seed
	c.Training.LearningRate = def.LearningRate
	c.Training.Iterations = def.Iterations
	c.Training.L2 = def.L2
	c.Training.FetchTimeout = def.FetchTimeout.String()
	c.Log.Level = def.LogLevel
	return c
}

// applyEnv overrides settings with every environment variable that is set.
// Malformed values are errors rather than silently ignored.
func applyEnv(s *Settings) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = i
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	integer(common.EnvPort, &s.Port)
	duration(common.EnvReadTimeout, &s.ReadTimeout)
	duration(common.EnvWriteTimeout, &s.WriteTimeout)
	str(common.EnvModelDir, &s.ModelDir)
	str(common.EnvRegistryFile, &s.RegistryFile)
	str(common.EnvDataPath, &s.DataPath)
	str(common.EnvIDColumn, &s.IDColumn)
	str(common.EnvLabelColumn, &s.LabelColumn)
	float(common.EnvCostFN, &s.CostFN)
	float(common.EnvCostFP, &s.CostFP)
	str(common.EnvDatasetURL, &s.DatasetURL)
	float(common.EnvTestFraction, &s.TestFraction)
	if v := os.Getenv(common.EnvSeed); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", common.EnvSeed, err))
		} else {
			s.Seed = seed
		}
	}
	float(common.EnvLearningRate, &s.LearningRate)
	integer(common.EnvIterations, &s.Iterations)
	float(common.EnvL2, &s.L2)
	duration(common.EnvFetchTimeout, &s.FetchTimeout)
	boolean(common.EnvSerializeInference, &s.SerializeInference)
	float(common.EnvFallbackThreshold, &s.FallbackThreshold)
	str(common.EnvONNXLibraryPath, &s.ONNXLibraryPath)
	boolean(common.EnvOcclusion, &s.Occlusion)
	str(common.EnvLogLevel, &s.LogLevel)
	boolean(common.EnvLogPretty, &s.LogPretty)
	integer(common.EnvReferenceLimit, &s.ReferenceLimit)
	if v := os.Getenv(common.EnvMaxBodyBytes); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", common.EnvMaxBodyBytes, err))
		} else {
			s.MaxBodyBytes = n
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(errs...))
	}
	return nil
}

func parseDurationOr(v string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

// Costs returns the business cost model.
func (s *Settings) Costs() ml.CostModel {
	return ml.CostModel{FalseNegative: s.CostFN, FalsePositive: s.CostFP}
}

// RegistryPath returns the registry file location; relative names live in
// the model directory.
func (s *Settings) RegistryPath() string {
	if filepath.IsAbs(s.RegistryFile) {
		return s.RegistryFile
	}
	return filepath.Join(s.ModelDir, s.RegistryFile)
}

func (s *Settings) TrainOptions() model.TrainOptions {
	opts := model.DefaultTrainOptions()
	opts.LearningRate = s.LearningRate
	opts.Iterations = s.Iterations
	opts.L2 = s.L2
	return opts
}

func (s *Settings) LoadOptions() model.LoadOptions {
	return model.LoadOptions{
		FallbackThreshold: s.FallbackThreshold,
		ONNXLibraryPath:   s.ONNXLibraryPath,
		Occlusion:         s.Occlusion,
	}
}

func (s *Settings) ContextOptions(metrics ml.MetricsInterface) ml.ContextOptions {
	return ml.ContextOptions{
		IDColumn:           s.IDColumn,
		LabelColumn:        s.LabelColumn,
		SerializeInference: s.SerializeInference,
		Metrics:            metrics,
	}
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.Port < common.MinPort || settings.Port > common.MaxPort {
		return fmt.Errorf("port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.Port)
	}
	if settings.ReadTimeout < time.Second || settings.ReadTimeout > 10*time.Minute {
		return fmt.Errorf("read timeout must be between 1s and 10m, got %v", settings.ReadTimeout)
	}
	if settings.WriteTimeout < time.Second || settings.WriteTimeout > 10*time.Minute {
		return fmt.Errorf("write timeout must be between 1s and 10m, got %v", settings.WriteTimeout)
	}
	if settings.FetchTimeout < time.Second || settings.FetchTimeout > time.Hour {
		return fmt.Errorf("fetch timeout must be between 1s and 1h, got %v", settings.FetchTimeout)
	}
	if settings.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive, got %d", settings.MaxBodyBytes)
	}

	if settings.ModelDir == "" {
		return fmt.Errorf("model directory cannot be empty")
	}
	if settings.RegistryFile == "" {
		return fmt.Errorf("registry file cannot be empty")
	}
	if settings.DataPath == "" {
		return fmt.Errorf("data path cannot be empty")
	}
	if settings.IDColumn == "" || settings.LabelColumn == "" {
		return fmt.Errorf("identifier and label columns are required")
	}
	if settings.IDColumn == settings.LabelColumn {
		return fmt.Errorf("identifier and label columns must differ, both are %q", settings.IDColumn)
	}

	if err := settings.Costs().Validate(); err != nil {
		return fmt.Errorf("cost model: %w", err)
	}

	if settings.TestFraction <= 0 || settings.TestFraction >= 1 {
		return fmt.Errorf("test fraction must be in (0, 1), got %f", settings.TestFraction)
	}
	if settings.LearningRate <= 0 || settings.LearningRate > 10 {
		return fmt.Errorf("learning rate must be in (0, 10], got %f", settings.LearningRate)
	}
	if settings.Iterations <= 0 || settings.Iterations > common.MaxIterations {
		return fmt.Errorf("iterations must be between 1 and %d, got %d", common.MaxIterations, settings.Iterations)
	}
	if settings.L2 < 0 {
		return fmt.Errorf("L2 penalty cannot be negative, got %f", settings.L2)
	}

	// Negative disables the fallback.
	if settings.FallbackThreshold > 1 {
		return fmt.Errorf("fallback threshold must be at most 1, got %f", settings.FallbackThreshold)
	}

	if settings.ReferenceLimit <= 0 || settings.ReferenceLimit > common.MaxReferenceRows {
		return fmt.Errorf("reference limit must be between 1 and %d, got %d", common.MaxReferenceRows, settings.ReferenceLimit)
	}

	switch settings.LogLevel {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("unknown log level %q", settings.LogLevel)
	}

	return nil
}
