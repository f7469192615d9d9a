package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/crimson-sun/medexpand/internal/engine/embedder"
)

// Config holds all medexpand configuration.
type Config struct {
	Model ModelConfig `yaml:"model"`
	Files FileConfig  `yaml:"files"`
	Data  DataConfig  `yaml:"data"`
	Train TrainConfig `yaml:"train"`
	Serve ServeConfig `yaml:"serve"`
	Log   LogConfig   `yaml:"log"`
}

// ModelConfig describes the encoder, the head and where checkpoints live.
type ModelConfig struct {
	EncoderPath  string  `yaml:"encoder_path"`
	VocabPath    string  `yaml:"vocab_path"`
	LibPath      string  `yaml:"lib_path"`
	TokenizerLib string  `yaml:"tokenizer_lib"` // native library for tokenizer.json vocabularies
	Lowercase    bool    `yaml:"lowercase"`
	MaxSeqLen    int     `yaml:"max_seq_len"` // 0 selects the encoder default
	Hidden       int     `yaml:"hidden"`
	Dropout      float64 `yaml:"dropout"`
	Aggregation  string  `yaml:"aggregation"` // "mean", "sum", "none"
	CacheBytes   int     `yaml:"cache_bytes"`
	Dir          string  `yaml:"dir"`
	Version      string  `yaml:"version"` // checkpoint file name inside Dir
}

// FileConfig locates the mapping and dataset snapshots.
type FileConfig struct {
	Processed     string `yaml:"processed"` // searched for the latest snapshots
	MappingSuffix string `yaml:"mapping_suffix"`
	DataSuffix    string `yaml:"data_suffix"`
	Sep           string `yaml:"sep"`
	TestFile      string `yaml:"test_file"`
}

// DataConfig names dataset columns and controls splitting and batching.
type DataConfig struct {
	TextCol      string  `yaml:"text_col"`
	LabelCol     string  `yaml:"label_col"`
	TestTextCol  string  `yaml:"test_text_col"`
	TestLabelCol string  `yaml:"test_label_col"`
	TrainFrac    float64 `yaml:"train_frac"`
	BatchSize    int     `yaml:"batch_size"`
	Seed         uint64  `yaml:"seed"`
}

// TrainConfig holds optimisation settings.
type TrainConfig struct {
	Epochs       int     `yaml:"epochs"`
	TrainSteps   int     `yaml:"train_steps"`
	EvalSteps    int     `yaml:"eval_steps"`
	LearningRate float64 `yaml:"learning_rate"`
	WeightDecay  float64 `yaml:"weight_decay"`
	Patience     int     `yaml:"patience"`
	Factor       float64 `yaml:"factor"`
	LogDir       string  `yaml:"log_dir"`

	ScalarLogMaxBytes    int `yaml:"scalar_log_max_bytes"` // 0 disables rotation
	ScalarLogBufferBytes int `yaml:"scalar_log_buffer_bytes"`
	SinkBuffer           int `yaml:"sink_buffer"` // records queued ahead of the scalar log
}

// ServeConfig holds HTTP settings.
type ServeConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Model: ModelConfig{
			EncoderPath: "models/encoder.onnx",
			VocabPath:   "models/vocab.txt",
			MaxSeqLen:   128,
			Hidden:      128,
			Dropout:     0.1,
			Aggregation: string(embedder.AggMean),
			CacheBytes:  32 << 20,
			Dir:         "models/trained",
		},
		Files: FileConfig{
			Processed:     "assets/processed",
			MappingSuffix: ".json",
			DataSuffix:    ".csv",
			Sep:           "|",
			TestFile:      "assets/raw/test_set.csv",
		},
		Data: DataConfig{
			TextCol:      "txt",
			LabelCol:     "label",
			TestTextCol:  "sample",
			TestLabelCol: "expansion",
			TrainFrac:    0.8,
			BatchSize:    32,
			Seed:         42,
		},
		Train: TrainConfig{
			Epochs:       10,
			TrainSteps:   10,
			EvalSteps:    10,
			LearningRate: 1e-3,
			WeightDecay:  1e-5,
			Patience:     10,
			Factor:       0.9,
			LogDir:       "logs",

			ScalarLogMaxBytes:    64 << 20,
			ScalarLogBufferBytes: 64 << 10,
			SinkBuffer:           256,
		},
		Serve: ServeConfig{Addr: ":8000"},
		Log:   LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then MEDEXPAND_* environment variables, and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	c.Model.EncoderPath = getenv("MEDEXPAND_ENCODER_PATH", c.Model.EncoderPath)
	c.Model.VocabPath = getenv("MEDEXPAND_VOCAB_PATH", c.Model.VocabPath)
	c.Model.LibPath = getenv("MEDEXPAND_ORT_LIB", c.Model.LibPath)
	c.Model.TokenizerLib = getenv("MEDEXPAND_TOKENIZER_LIB", c.Model.TokenizerLib)
	c.Model.MaxSeqLen = getenvInt("MEDEXPAND_MAX_SEQ_LEN", c.Model.MaxSeqLen)
	c.Model.Lowercase = getenvBool("MEDEXPAND_LOWERCASE", c.Model.Lowercase)
	c.Model.Hidden = getenvInt("MEDEXPAND_HIDDEN", c.Model.Hidden)
	c.Model.Aggregation = getenv("MEDEXPAND_AGGREGATION", c.Model.Aggregation)
	c.Model.Dir = getenv("MEDEXPAND_MODEL_DIR", c.Model.Dir)
	c.Model.Version = getenv("MEDEXPAND_MODEL_VERSION", c.Model.Version)

	c.Files.Processed = getenv("MEDEXPAND_PROCESSED_DIR", c.Files.Processed)
	c.Files.Sep = getenv("MEDEXPAND_SEP", c.Files.Sep)
	c.Files.TestFile = getenv("MEDEXPAND_TEST_FILE", c.Files.TestFile)

	c.Data.BatchSize = getenvInt("MEDEXPAND_BATCH_SIZE", c.Data.BatchSize)
	c.Data.TrainFrac = getenvFloat("MEDEXPAND_TRAIN_FRAC", c.Data.TrainFrac)

	c.Train.Epochs = getenvInt("MEDEXPAND_EPOCHS", c.Train.Epochs)
	c.Train.LearningRate = getenvFloat("MEDEXPAND_LEARNING_RATE", c.Train.LearningRate)
	c.Train.LogDir = getenv("MEDEXPAND_LOG_DIR", c.Train.LogDir)
	c.Train.ScalarLogMaxBytes = getenvInt("MEDEXPAND_SCALAR_LOG_MAX_BYTES", c.Train.ScalarLogMaxBytes)
	c.Train.ScalarLogBufferBytes = getenvInt("MEDEXPAND_SCALAR_LOG_BUFFER_BYTES", c.Train.ScalarLogBufferBytes)
	c.Train.SinkBuffer = getenvInt("MEDEXPAND_SINK_BUFFER", c.Train.SinkBuffer)

	c.Serve.Addr = getenv("MEDEXPAND_ADDR", c.Serve.Addr)

	c.Log.Level = getenv("MEDEXPAND_LOG_LEVEL", c.Log.Level)
	c.Log.JSON = getenvBool("MEDEXPAND_LOG_JSON", c.Log.JSON)
}

// Validate checks ranges and enumerations. All problems are reported
// together.
func (c Config) Validate() error {
	var errs []error
	if _, err := embedder.ParseAggregation(c.Model.Aggregation); err != nil {
		errs = append(errs, err)
	}
	if c.Model.MaxSeqLen < 0 || (c.Model.MaxSeqLen > 0 && c.Model.MaxSeqLen < embedder.MinSeqLen) {
		errs = append(errs, fmt.Errorf("model.max_seq_len must be 0 or at least %d, got %d", embedder.MinSeqLen, c.Model.MaxSeqLen))
	}
	if c.Model.Hidden <= 0 {
		errs = append(errs, fmt.Errorf("model.hidden must be positive, got %d", c.Model.Hidden))
	}
	if c.Model.Dropout < 0 || c.Model.Dropout >= 1 {
		errs = append(errs, fmt.Errorf("model.dropout must be in [0, 1), got %v", c.Model.Dropout))
	}
	if c.Data.TrainFrac <= 0 || c.Data.TrainFrac >= 1 {
		errs = append(errs, fmt.Errorf("data.train_frac must be in (0, 1), got %v", c.Data.TrainFrac))
	}
	if c.Data.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("data.batch_size must be positive, got %d", c.Data.BatchSize))
	}
	if c.Train.Epochs < 1 || c.Train.TrainSteps < 1 || c.Train.EvalSteps < 1 {
		errs = append(errs, fmt.Errorf("train.epochs, train.train_steps and train.eval_steps must be positive"))
	}
	if c.Train.LearningRate <= 0 {
		errs = append(errs, fmt.Errorf("train.learning_rate must be positive, got %v", c.Train.LearningRate))
	}
	if c.Train.Factor <= 0 || c.Train.Factor >= 1 {
		errs = append(errs, fmt.Errorf("train.factor must be in (0, 1), got %v", c.Train.Factor))
	}
	if c.Train.ScalarLogMaxBytes < 0 {
		errs = append(errs, fmt.Errorf("train.scalar_log_max_bytes must not be negative, got %d", c.Train.ScalarLogMaxBytes))
	}
	if c.Train.ScalarLogBufferBytes < 1 || c.Train.SinkBuffer < 1 {
		errs = append(errs, fmt.Errorf("train.scalar_log_buffer_bytes and train.sink_buffer must be positive"))
	}
	if len([]rune(c.Files.Sep)) > 1 && c.Files.Sep != `\t` {
		errs = append(errs, fmt.Errorf("files.sep must be a single character, got %q", c.Files.Sep))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
