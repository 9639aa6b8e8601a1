package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

var (
	once   sync.Once
	config *Config
)

type Config struct {
	Ollama    OllamaConfig    `yaml:"ollama"`
	Tesseract TesseractConfig `yaml:"tesseract"`
	Raster    RasterConfig    `yaml:"raster"`
	Normalize NormalizeConfig `yaml:"normalize"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`

	// TempRoot is the parent directory for per-file workspaces.
	TempRoot string `yaml:"temp_root"`
}

type OllamaConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
}

type TesseractConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Languages   []string `yaml:"languages"`
	PageSegMode int      `yaml:"page_seg_mode"`
	Grayscale   bool     `yaml:"grayscale"`
	Contrast    float64  `yaml:"contrast"`
	Sharpen     float64  `yaml:"sharpen"`
}

type RasterConfig struct {
	DPI          int    `yaml:"dpi"`
	Workers      int    `yaml:"workers"`
	PdftoppmPath string `yaml:"pdftoppm_path"`
}

type NormalizeConfig struct {
	MaxDimension int `yaml:"max_dimension"`
	JPEGQuality  int `yaml:"jpeg_quality"`
}

type LogConfig struct {
	Level       string   `yaml:"level"`
	Encoding    string   `yaml:"encoding"`
	OutputPaths []string `yaml:"output_paths"`
	Development bool     `yaml:"development"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	MaxUploadSize  int64         `yaml:"max_upload_size"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Ollama: OllamaConfig{
			Enabled:  true,
			Endpoint: "http://localhost:11434",
			Model:    "llama3.2-vision",
			Timeout:  300 * time.Second,
		},
		Tesseract: TesseractConfig{
			Enabled:     true,
			Languages:   []string{"eng"},
			PageSegMode: 3,
		},
		Raster: RasterConfig{
			DPI:          300,
			Workers:      4,
			PdftoppmPath: "pdftoppm",
		},
		Normalize: NormalizeConfig{
			MaxDimension: 2048,
			JPEGQuality:  85,
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
		Server: ServerConfig{
			Addr:           ":8080",
			MaxUploadSize:  50 << 20,
			RequestTimeout: 10 * time.Minute,
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load builds a Config from defaults, then the YAML file at path (skipped
// when empty), then the first readable env file (default ".env"), then the
// process environment. The process environment wins over env files.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	dotenv, err := readEnvFiles(envFiles)
	if err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(newLookup(dotenv)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get returns the process-wide configuration, loaded once from the file named
// by VISIONOCR_CONFIG and the environment. An invalid configuration falls
// back to defaults plus a warning.
func Get() *Config {
	once.Do(func() {
		cfg, err := Load(os.Getenv("VISIONOCR_CONFIG"))
		if err != nil {
			log.Printf("Warning: %v, falling back to default configuration", err)
			cfg = Default()
		}
		config = cfg
	})
	return config
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	var errs []error

	if c.Ollama.Enabled {
		u, err := url.Parse(c.Ollama.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("ollama.endpoint must be an http(s) URL, got %q", c.Ollama.Endpoint))
		}
		if strings.TrimSpace(c.Ollama.Model) == "" {
			errs = append(errs, errors.New("ollama.model is required"))
		}
		if c.Ollama.Timeout <= 0 {
			errs = append(errs, errors.New("ollama.timeout must be positive"))
		}
	}
	if c.Tesseract.Enabled && len(c.Tesseract.Languages) == 0 {
		errs = append(errs, errors.New("tesseract.languages must not be empty"))
	}
	if c.Tesseract.PageSegMode < 0 || c.Tesseract.PageSegMode > 13 {
		errs = append(errs, fmt.Errorf("tesseract.page_seg_mode out of range: %d", c.Tesseract.PageSegMode))
	}
	if c.Raster.DPI < 1 || c.Raster.DPI > 1200 {
		errs = append(errs, fmt.Errorf("raster.dpi out of range: %d", c.Raster.DPI))
	}
	if c.Raster.Workers < 1 || c.Raster.Workers > 64 {
		errs = append(errs, fmt.Errorf("raster.workers out of range: %d", c.Raster.Workers))
	}
	if c.Normalize.MaxDimension < 1 {
		errs = append(errs, fmt.Errorf("normalize.max_dimension must be positive: %d", c.Normalize.MaxDimension))
	}
	if c.Normalize.JPEGQuality < 1 || c.Normalize.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("normalize.jpeg_quality out of range: %d", c.Normalize.JPEGQuality))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Encoding != "json" && c.Log.Encoding != "console" {
		errs = append(errs, fmt.Errorf("log.encoding must be json or console, got %q", c.Log.Encoding))
	}
	if c.Server.MaxUploadSize <= 0 {
		errs = append(errs, errors.New("server.max_upload_size must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func readEnvFiles(files []string) (map[string]string, error) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		values, err := godotenv.Read(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read env file %s: %w", f, err)
		}
		return values, nil
	}
	return nil, nil
}

type lookupFunc func(key string) (string, bool)

func newLookup(dotenv map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
}

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}

	boolean("OLLAMA_ENABLED", &c.Ollama.Enabled)
	str("OLLAMA_ENDPOINT", &c.Ollama.Endpoint)
	str("OLLAMA_MODEL", &c.Ollama.Model)
	duration("OLLAMA_TIMEOUT", &c.Ollama.Timeout)
	integer("OLLAMA_MAX_TOKENS", &c.Ollama.MaxTokens)

	boolean("TESSERACT_ENABLED", &c.Tesseract.Enabled)
	list("TESSERACT_LANGUAGES", &c.Tesseract.Languages)
	integer("TESSERACT_PSM", &c.Tesseract.PageSegMode)

	integer("OCR_DPI", &c.Raster.DPI)
	integer("OCR_RASTER_WORKERS", &c.Raster.Workers)
	str("PDFTOPPM_PATH", &c.Raster.PdftoppmPath)
	integer("OCR_MAX_DIMENSION", &c.Normalize.MaxDimension)
	integer("OCR_JPEG_QUALITY", &c.Normalize.JPEGQuality)
	str("OCR_TEMP_ROOT", &c.TempRoot)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_ENCODING", &c.Log.Encoding)
	list("LOG_OUTPUT_PATHS", &c.Log.OutputPaths)

	str("SERVER_ADDR", &c.Server.Addr)
	list("SERVER_ALLOWED_ORIGINS", &c.Server.AllowedOrigins)
	if v, ok := lookup("SERVER_MAX_UPLOAD_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("SERVER_MAX_UPLOAD_SIZE: %w", err))
		} else {
			c.Server.MaxUploadSize = n
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(errs...))
	}
	return nil
}

// parseDuration accepts Go durations ("90s") and bare seconds ("300").
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '+' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
