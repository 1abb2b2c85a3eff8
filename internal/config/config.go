package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port string `yaml:"port"`

	// Auth
	APIKey string `yaml:"api_key"`

	// Job defaults
	OutputDir string `yaml:"output_dir"`
	Language  string `yaml:"language"`
	Strategy  string `yaml:"strategy"`

	// PDF rasterization
	PDFDPI             int    `yaml:"pdf_dpi"`
	PdftoppmPath       string `yaml:"pdftoppm_path"`
	PdfinfoPath        string `yaml:"pdfinfo_path"`
	PDFFallbackPdfinfo bool   `yaml:"pdf_fallback_pdfinfo"`

	// OCR
	TessdataPrefix string `yaml:"tessdata_prefix"`

	// Preprocessing
	Contrast     float64 `yaml:"preprocess_contrast"`
	TargetWidth  int     `yaml:"preprocess_target_width"`
	Threshold    int     `yaml:"preprocess_threshold"`
	MedianKernel int     `yaml:"preprocess_median_kernel"`
	OpenKernel   int     `yaml:"preprocess_open_kernel"`

	// Worker pool
	WorkerCount        int `yaml:"worker_count"`
	MaxQueueSize       int `yaml:"max_queue_size"`
	PageWorkers        int `yaml:"page_workers"`
	MaxTranscriptPages int `yaml:"max_transcript_pages"`

	// Run state
	JobTTL      time.Duration `yaml:"job_ttl"`
	HistoryPath string        `yaml:"history_path"` // SQLite run history; empty disables it
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Port:               "8090",
		Language:           "deu",
		Strategy:           "none",
		PDFDPI:             300,
		PdftoppmPath:       "pdftoppm",
		PdfinfoPath:        "pdfinfo",
		PDFFallbackPdfinfo: true,
		Contrast:           2.0,
		TargetWidth:        2000,
		Threshold:          128,
		MedianKernel:       3,
		OpenKernel:         1,
		WorkerCount:        2,
		MaxQueueSize:       100,
		PageWorkers:        1,
		MaxTranscriptPages: 20,
		JobTTL:             1 * time.Hour,
	}
}

// Load applies, in order, the defaults, the YAML file named by DOCSCAN_CONFIG
// (if any) and the environment. Out-of-range values fall back to defaults.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv("DOCSCAN_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg = Config{
		Port: envOr("PORT", cfg.Port),

		APIKey: envOr("DOCSCAN_API_KEY", cfg.APIKey),

		OutputDir: envOr("DOCSCAN_OUTPUT_DIR", cfg.OutputDir),
		Language:  envOr("DOCSCAN_LANGUAGE", cfg.Language),
		Strategy:  envOr("DOCSCAN_STRATEGY", cfg.Strategy),

		PDFDPI:             envInt("PDF_DPI", cfg.PDFDPI),
		PdftoppmPath:       envOr("PDFTOPPM_PATH", cfg.PdftoppmPath),
		PdfinfoPath:        envOr("PDFINFO_PATH", cfg.PdfinfoPath),
		PDFFallbackPdfinfo: envBool("PDF_FALLBACK_PDFINFO", cfg.PDFFallbackPdfinfo),

		TessdataPrefix: envOr("TESSDATA_PREFIX", cfg.TessdataPrefix),

		Contrast:     envFloat("PREPROCESS_CONTRAST", cfg.Contrast),
		TargetWidth:  envInt("PREPROCESS_TARGET_WIDTH", cfg.TargetWidth),
		Threshold:    envInt("PREPROCESS_THRESHOLD", cfg.Threshold),
		MedianKernel: envInt("PREPROCESS_MEDIAN_KERNEL", cfg.MedianKernel),
		OpenKernel:   envInt("PREPROCESS_OPEN_KERNEL", cfg.OpenKernel),

		WorkerCount:        envInt("WORKER_COUNT", cfg.WorkerCount),
		MaxQueueSize:       envInt("MAX_QUEUE_SIZE", cfg.MaxQueueSize),
		PageWorkers:        envInt("PAGE_WORKERS", cfg.PageWorkers),
		MaxTranscriptPages: envInt("MAX_TRANSCRIPT_PAGES", cfg.MaxTranscriptPages),

		JobTTL:      envDuration("JOB_TTL", cfg.JobTTL),
		HistoryPath: envOr("DOCSCAN_HISTORY_DB", cfg.HistoryPath),
	}

	cfg.applyFloors()
	return cfg, nil
}

func (c *Config) applyFloors() {
	d := Defaults()
	if c.Language == "" {
		c.Language = d.Language
	}
	if c.PDFDPI <= 0 {
		c.PDFDPI = d.PDFDPI
	}
	if c.Contrast <= 0 {
		c.Contrast = d.Contrast
	}
	if c.TargetWidth <= 0 {
		c.TargetWidth = d.TargetWidth
	}
	if c.Threshold < 0 || c.Threshold > 255 {
		c.Threshold = d.Threshold
	}
	if c.MedianKernel <= 0 || c.MedianKernel%2 == 0 {
		c.MedianKernel = d.MedianKernel
	}
	if c.OpenKernel <= 0 {
		c.OpenKernel = d.OpenKernel
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = d.WorkerCount
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	if c.PageWorkers <= 0 {
		c.PageWorkers = d.PageWorkers
	}
	if c.MaxTranscriptPages < 0 {
		c.MaxTranscriptPages = d.MaxTranscriptPages
	}
	if c.JobTTL <= 0 {
		c.JobTTL = d.JobTTL
	}
}

// Validate checks the settings the HTTP server cannot run without.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("DOCSCAN_API_KEY is required")
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
