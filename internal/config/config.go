// Configuration loaded from a .env file and the environment
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultFile is the configuration file looked up in the working directory
const DefaultFile = ".env"

const (
	GeneratorOpenAI = "openai"
	GeneratorMock   = "mock"
)

// Config holds the application settings. The environment overrides values
// from the file, matching how dotenv loaders behave.
type Config struct {
	// Storage
	OutputDir   string
	UpscaledDir string
	BackupDir   string
	HistoryFile string
	MaskFile    string

	// Generation
	Token            string
	Generator        string
	GeneratorModel   string
	GeneratorBaseURL string
	ImagesPerPrompt  int

	// Upscaling
	UpscalerScale   float64
	UpscaleModel    string
	UpscaleModelURL string
	UpscalerDevice  string

	// Runtime
	BackupDelay     time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string

	// Persisted UI state
	Prepend string
	Prompt  string

	path string
}

// Default returns the configuration used when no key is set
func Default() *Config {
	return &Config{
		OutputDir:       "output",
		UpscaledDir:     "output/upscaled",
		BackupDir:       "backup",
		HistoryFile:     "history.txt",
		Generator:       GeneratorOpenAI,
		ImagesPerPrompt: 4,
		UpscalerScale:   4,
		UpscalerDevice:  "auto",
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		path:            DefaultFile,
	}
}

// Load reads path, which may be missing, and applies environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	values, err := readFile(path)
	if err != nil {
		return nil, err
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	}

	strs := map[string]*string{
		"OUTPUT_DIR":         &cfg.OutputDir,
		"UPSCALED_DIR":       &cfg.UpscaledDir,
		"BACKUP_DIR":         &cfg.BackupDir,
		"HISTORY_FILE":       &cfg.HistoryFile,
		"MASK_FILE":          &cfg.MaskFile,
		"TOKEN":              &cfg.Token,
		"GENERATOR":          &cfg.Generator,
		"GENERATOR_MODEL":    &cfg.GeneratorModel,
		"GENERATOR_BASE_URL": &cfg.GeneratorBaseURL,
		"UPSCALE_MODEL":      &cfg.UpscaleModel,
		"UPSCALE_MODEL_URL":  &cfg.UpscaleModelURL,
		"UPSCALER_DEVICE":    &cfg.UpscalerDevice,
		"LOG_LEVEL":          &cfg.LogLevel,
		"PREPEND":            &cfg.Prepend,
		"PROMPT":             &cfg.Prompt,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup("IMAGES_PER_PROMPT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid IMAGES_PER_PROMPT: %w", err)
		}
		cfg.ImagesPerPrompt = n
	}

	if v, ok := lookup("UPSCALER_SCALE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid UPSCALER_SCALE: %w", err)
		}
		cfg.UpscalerScale = f
	}

	if v, ok := lookup("BACKUP_DELAY"); ok && v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BACKUP_DELAY: %w", err)
		}
		cfg.BackupDelay = d
	}

	if v, ok := lookup("SHUTDOWN_TIMEOUT"); ok && v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownTimeout = d
	}

	cfg.Generator = strings.ToLower(strings.TrimSpace(cfg.Generator))
	cfg.UpscalerDevice = strings.ToLower(strings.TrimSpace(cfg.UpscalerDevice))

	return cfg, nil
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR is required")
	}
	if c.UpscaledDir == "" {
		return fmt.Errorf("UPSCALED_DIR is required")
	}
	if c.HistoryFile == "" {
		return fmt.Errorf("HISTORY_FILE is required")
	}
	switch c.Generator {
	case GeneratorOpenAI:
		if c.Token == "" {
			return fmt.Errorf("TOKEN is required for the %s generator", GeneratorOpenAI)
		}
	case GeneratorMock:
	default:
		return fmt.Errorf("unknown GENERATOR %q", c.Generator)
	}
	if c.ImagesPerPrompt <= 0 || c.ImagesPerPrompt > 10 {
		return fmt.Errorf("IMAGES_PER_PROMPT must be between 1 and 10")
	}
	if c.UpscalerScale < 1 || c.UpscalerScale > 8 {
		return fmt.Errorf("UPSCALER_SCALE must be between 1 and 8")
	}
	if c.BackupDelay < 0 {
		return fmt.Errorf("BACKUP_DELAY must not be negative")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

// Path is the file the configuration was loaded from
func (c *Config) Path() string {
	return c.path
}

// SaveState stores the prompt fields back into the configuration file,
// keeping every other key as it is.
func (c *Config) SaveState(prepend, prompt string) error {
	values, err := readFile(c.path)
	if err != nil {
		return err
	}
	if values == nil {
		values = make(map[string]string)
	}
	values["PREPEND"] = prepend
	values["PROMPT"] = prompt

	if err := godotenv.Write(values, c.path); err != nil {
		return fmt.Errorf("failed to write %s: %w", c.path, err)
	}

	c.Prepend = prepend
	c.Prompt = prompt
	return nil
}

func readFile(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return values, nil
}

// parseDuration accepts Go durations ("5s") and plain seconds ("5")
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}
