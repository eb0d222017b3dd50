package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel    = "info"
	DefaultMaxPages    = 50
	DefaultRenderPages = 2
	DefaultRenderDPI   = 150

	// Directory permissions
	DefaultDirPerm = 0o750
)

// Config holds all configuration for the contract extraction engine.
type Config struct {
	// Input/output
	InputDirectory string // directory tree of PDF contracts (read-only)
	DataDirectory  string // registry, fingerprint cache, strategy store, checkpoints
	LogLevel       string

	// Document access
	MaxPages    int // page cap for text extraction
	RenderPages int // first N pages rendered for the visual hash
	RenderDPI   int

	// External binaries (optional capabilities)
	PdftoppmBin  string
	TesseractBin string

	// Layout clustering
	SimilarityThreshold float64 // overall similarity required to reuse a model
	HammingBuckets      [3]int  // visual-similarity distance buckets
	VisualWeight        float64
	StructuralWeight    float64

	// Extraction
	RequiredFields  []string
	ImportantFields []string
	MinFieldsForLLM int     // escalate to the AI collaborator below this
	MathTolerance   float64 // relative tolerance for monetary arithmetic
	MinCodeDigits   int     // multi-installation candidate length bounds
	MaxCodeDigits   int
	ReviewThreshold int // confidence below this routes to manual review
	OCRPageTimeout  time.Duration
	EnableOCR       bool
	EnableLLM       bool

	// AI collaborator
	LLMModel             string
	LLMMaxTokens         int
	LLMRequestsPerMinute int
	LLMRequestsPerDay    int

	// Batch processing
	Workers        int // 0 = derive from memory budget
	MemoryBudgetGB float64
	ReservedGB     float64
	TextTaskGB     float64
	OCRTaskGB      float64
	BatchSize      int // checkpoint interval in completed documents
	Deadline       time.Duration

	// Confidence scoring weights
	RequiredPenalty  int
	ImportantPenalty int
	AlertPenalty     int
	AlertPenaltyCap  int
}

// DefaultConfig returns a configuration with the engine's tuned defaults.
// Similarity thresholds and scoring weights are empirically chosen; they are
// configuration, not protocol.
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		currentDir = "."
	}

	return &Config{
		InputDirectory: currentDir,
		DataDirectory:  filepath.Join(currentDir, "data"),
		LogLevel:       DefaultLogLevel,

		MaxPages:    DefaultMaxPages,
		RenderPages: DefaultRenderPages,
		RenderDPI:   DefaultRenderDPI,

		PdftoppmBin:  "pdftoppm",
		TesseractBin: "tesseract",

		SimilarityThreshold: 0.85,
		HammingBuckets:      [3]int{5, 10, 15},
		VisualWeight:        0.70,
		StructuralWeight:    0.30,

		RequiredFields:  []string{"numero_instalacao", "cnpj_cliente"},
		ImportantFields: []string{"valor_mensal", "data_inicio", "data_fim", "potencia_contratada"},
		MinFieldsForLLM: 3,
		MathTolerance:   0.05,
		MinCodeDigits:   5,
		MaxCodeDigits:   12,
		ReviewThreshold: 70,
		OCRPageTimeout:  40 * time.Second,
		EnableOCR:       true,
		EnableLLM:       false,

		LLMModel:             "claude-sonnet-4-20250514",
		LLMMaxTokens:         2048,
		LLMRequestsPerMinute: 20,
		LLMRequestsPerDay:    2000,

		Workers:        0,
		MemoryBudgetGB: 0, // 0 = detect from the host
		ReservedGB:     1.0,
		TextTaskGB:     0.25,
		OCRTaskGB:      1.5,
		BatchSize:      50,
		Deadline:       0,

		RequiredPenalty:  30,
		ImportantPenalty: 10,
		AlertPenalty:     5,
		AlertPenaltyCap:  50,
	}
}

// LoadFromFlags parses command line flags and environment and returns a configuration.
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()

	pflag.Parse()

	populateConfigFromViper(cfg)

	if cfg.InputDirectory != "" {
		if expandedPath, err := filepath.Abs(cfg.InputDirectory); err == nil {
			cfg.InputDirectory = expandedPath
		}
	}
	if cfg.DataDirectory != "" {
		if expandedPath, err := filepath.Abs(cfg.DataDirectory); err == nil {
			cfg.DataDirectory = expandedPath
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setupViperEnvironment(cfg *Config) {
	viper.SetEnvPrefix("CONTRATTA")
	viper.AutomaticEnv()

	viper.SetDefault("input", cfg.InputDirectory)
	viper.SetDefault("data", cfg.DataDirectory)
	viper.SetDefault("loglevel", cfg.LogLevel)
	viper.SetDefault("maxpages", cfg.MaxPages)
	viper.SetDefault("workers", cfg.Workers)
	viper.SetDefault("batchsize", cfg.BatchSize)
	viper.SetDefault("deadline", cfg.Deadline)
	viper.SetDefault("similarity", cfg.SimilarityThreshold)
	viper.SetDefault("ocr", cfg.EnableOCR)
	viper.SetDefault("llm", cfg.EnableLLM)
	viper.SetDefault("llmmodel", cfg.LLMModel)
}

func defineCommandLineFlags(cfg *Config) {
	pflag.String("input", cfg.InputDirectory, "Directory tree containing PDF contracts")
	pflag.String("data", cfg.DataDirectory, "Directory for layout registry, caches and checkpoints")
	pflag.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	pflag.Int("maxpages", cfg.MaxPages, "Maximum pages of text extracted per document")
	pflag.Int("workers", cfg.Workers, "Worker count (0 derives it from the memory budget)")
	pflag.Int("batchsize", cfg.BatchSize, "Checkpoint interval in completed documents")
	pflag.Duration("deadline", cfg.Deadline, "Wall-clock budget for the whole batch (0 = none)")
	pflag.Float64("similarity", cfg.SimilarityThreshold, "Layout similarity threshold for model reuse")
	pflag.Bool("ocr", cfg.EnableOCR, "Enable the optical-recognition fallback")
	pflag.Bool("llm", cfg.EnableLLM, "Enable the AI-completion fallback")
	pflag.String("llmmodel", cfg.LLMModel, "AI-completion model name")
}

func bindFlagsToViper() {
	_ = viper.BindPFlag("input", pflag.Lookup("input"))
	_ = viper.BindPFlag("data", pflag.Lookup("data"))
	_ = viper.BindPFlag("loglevel", pflag.Lookup("loglevel"))
	_ = viper.BindPFlag("maxpages", pflag.Lookup("maxpages"))
	_ = viper.BindPFlag("workers", pflag.Lookup("workers"))
	_ = viper.BindPFlag("batchsize", pflag.Lookup("batchsize"))
	_ = viper.BindPFlag("deadline", pflag.Lookup("deadline"))
	_ = viper.BindPFlag("similarity", pflag.Lookup("similarity"))
	_ = viper.BindPFlag("ocr", pflag.Lookup("ocr"))
	_ = viper.BindPFlag("llm", pflag.Lookup("llm"))
	_ = viper.BindPFlag("llmmodel", pflag.Lookup("llmmodel"))
}

func populateConfigFromViper(cfg *Config) {
	cfg.InputDirectory = viper.GetString("input")
	cfg.DataDirectory = viper.GetString("data")
	cfg.LogLevel = viper.GetString("loglevel")
	cfg.MaxPages = viper.GetInt("maxpages")
	cfg.Workers = viper.GetInt("workers")
	cfg.BatchSize = viper.GetInt("batchsize")
	cfg.Deadline = viper.GetDuration("deadline")
	cfg.SimilarityThreshold = viper.GetFloat64("similarity")
	cfg.EnableOCR = viper.GetBool("ocr")
	cfg.EnableLLM = viper.GetBool("llm")
	cfg.LLMModel = viper.GetString("llmmodel")
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.InputDirectory == "" {
		return errors.New("input directory cannot be empty")
	}
	if _, err := os.Stat(c.InputDirectory); err != nil {
		return fmt.Errorf("cannot access input directory %s: %w", c.InputDirectory, err)
	}

	if c.DataDirectory == "" {
		return errors.New("data directory cannot be empty")
	}
	if _, err := os.Stat(c.DataDirectory); os.IsNotExist(err) {
		if err := os.MkdirAll(c.DataDirectory, DefaultDirPerm); err != nil {
			return fmt.Errorf("cannot create data directory %s: %w", c.DataDirectory, err)
		}
	}

	if c.MaxPages <= 0 {
		return errors.New("maxpages must be positive")
	}
	if c.RenderPages <= 0 {
		return errors.New("renderpages must be positive")
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return errors.New("similarity threshold must be in (0, 1]")
	}
	if c.HammingBuckets[0] >= c.HammingBuckets[1] || c.HammingBuckets[1] >= c.HammingBuckets[2] {
		return errors.New("hamming buckets must be strictly increasing")
	}
	if c.BatchSize <= 0 {
		return errors.New("batchsize must be positive")
	}
	if c.MinCodeDigits < 1 || c.MaxCodeDigits < c.MinCodeDigits {
		return errors.New("code digit bounds are inconsistent")
	}
	if c.MathTolerance <= 0 || c.MathTolerance >= 1 {
		return errors.New("math tolerance must be in (0, 1)")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

// IsDebug returns true if debug logging is enabled.
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Input: %s, Data: %s, Workers: %d, BatchSize: %d, LogLevel: %s}",
		c.InputDirectory, c.DataDirectory, c.Workers, c.BatchSize, c.LogLevel)
}
