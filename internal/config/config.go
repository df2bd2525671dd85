package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Imaging    ImagingConfig    `yaml:"imaging" mapstructure:"imaging"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Reconcile  ReconcileConfig  `yaml:"reconcile" mapstructure:"reconcile"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	FTP        FTPConfig        `yaml:"ftp" mapstructure:"ftp"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// IngestConfig bounds what the ingestion surfaces accept.
type IngestConfig struct {
	MaxSizeMB      int `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxConcurrent  int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	WatchdogSecs   int `yaml:"watchdog_secs" mapstructure:"watchdog_secs"`
	StuckAfterSecs int `yaml:"stuck_after_secs" mapstructure:"stuck_after_secs"`
}

// ImagingConfig configures preprocessing of raw uploads.
type ImagingConfig struct {
	MinHeight       int     `yaml:"min_height" mapstructure:"min_height"`
	MaxDeskewDeg    float64 `yaml:"max_deskew_deg" mapstructure:"max_deskew_deg"`
	HeaderBandRatio float64 `yaml:"header_band_ratio" mapstructure:"header_band_ratio"`
	SheetWidthRatio float64 `yaml:"sheet_width_ratio" mapstructure:"sheet_width_ratio"`
}

// OCRConfig selects and tunes the OCR engine.
type OCRConfig struct {
	Engine            string  `yaml:"engine" mapstructure:"engine"`
	TesseractPath     string  `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	AnthropicKey      string  `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	VisionModel       string  `yaml:"vision_model" mapstructure:"vision_model"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// ExtractConfig configures the field extractors.
type ExtractConfig struct {
	TemplatePath       string  `yaml:"template_path" mapstructure:"template_path"`
	TemplateMatchFloor float64 `yaml:"template_match_floor" mapstructure:"template_match_floor"`
	SheetCeiling       float64 `yaml:"sheet_ceiling" mapstructure:"sheet_ceiling"`
}

// ReconcileConfig holds the review-policy thresholds. These are policy
// values owned by operations, so they are configurable rather than
// compiled in.
type ReconcileConfig struct {
	ConfidenceFloor    float64 `yaml:"confidence_floor" mapstructure:"confidence_floor"`
	MileageToleranceKM int     `yaml:"mileage_tolerance_km" mapstructure:"mileage_tolerance_km"`
	ScoreTolerance     float64 `yaml:"score_tolerance" mapstructure:"score_tolerance"`
}

// PipelineConfig bounds per-stage execution.
type PipelineConfig struct {
	PreprocessTimeoutSecs int `yaml:"preprocess_timeout_secs" mapstructure:"preprocess_timeout_secs"`
	HeaderTimeoutSecs     int `yaml:"header_timeout_secs" mapstructure:"header_timeout_secs"`
	SheetTimeoutSecs      int `yaml:"sheet_timeout_secs" mapstructure:"sheet_timeout_secs"`
}

// FTPConfig configures the image drop directory fetcher.
type FTPConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	User        string `yaml:"user" mapstructure:"user"`
	Password    string `yaml:"password" mapstructure:"password"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig tunes the background alert checker.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ReviewDepthThreshold int     `yaml:"review_depth_threshold" mapstructure:"review_depth_threshold"`
	AutoPassFloor        float64 `yaml:"auto_pass_floor" mapstructure:"auto_pass_floor"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StageTimeout converts a seconds field to a duration, with a fallback.
func StageTimeout(secs int, fallback time.Duration) time.Duration {
	if secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("AUCTIONOCR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "auction-ocr.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("ingest.max_size_mb", 15)
	v.SetDefault("ingest.max_concurrent", 4)
	v.SetDefault("ingest.watchdog_secs", 60)
	v.SetDefault("ingest.stuck_after_secs", 600)
	v.SetDefault("imaging.min_height", 1500)
	v.SetDefault("imaging.max_deskew_deg", 3.0)
	v.SetDefault("imaging.header_band_ratio", 0.22)
	v.SetDefault("imaging.sheet_width_ratio", 0.62)
	v.SetDefault("ocr.engine", "tesseract")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.vision_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("ocr.requests_per_second", 2.0)
	v.SetDefault("extract.template_match_floor", 0.4)
	v.SetDefault("extract.sheet_ceiling", 0.85)
	v.SetDefault("reconcile.confidence_floor", 0.9)
	v.SetDefault("reconcile.mileage_tolerance_km", 1000)
	v.SetDefault("reconcile.score_tolerance", 0.5)
	v.SetDefault("pipeline.preprocess_timeout_secs", 30)
	v.SetDefault("pipeline.header_timeout_secs", 60)
	v.SetDefault("pipeline.sheet_timeout_secs", 60)
	v.SetDefault("ftp.timeout_secs", 30)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.review_depth_threshold", 200)
	v.SetDefault("monitoring.auto_pass_floor", 0.3)
	v.SetDefault("monitoring.check_interval_secs", 300)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
